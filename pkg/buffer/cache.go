package buffer

import (
	"sync"

	"volstore/pkg/errs"
	"volstore/pkg/logging"
	"volstore/pkg/primitives"
	"volstore/pkg/storage"
)

// StatsRecorder receives per-volume cache accounting. The volume's
// statistics object implements it; the cache never learns about volumes
// beyond this interface and the page store.
type StatsRecorder interface {
	RecordHit()
	RecordMiss()
	RecordRead()
	RecordWrite()
}

// nopStats is used when a volume registers without a recorder.
type nopStats struct{}

func (nopStats) RecordHit()   {}
func (nopStats) RecordMiss()  {}
func (nopStats) RecordRead()  {}
func (nopStats) RecordWrite() {}

// bufferKey identifies a cached page across all volumes sharing the cache.
type bufferKey struct {
	volumeID primitives.VolumeID
	pageNo   primitives.PageNumber
}

// lruNode is a doubly-linked-list entry; most recently used buffers sit at
// the head end.
type lruNode struct {
	key  bufferKey
	buf  *Buffer
	prev *lruNode
	next *lruNode
}

// registration ties a volume identifier to its backing store and statistics
// for the time the volume is open.
type registration struct {
	store storage.PageStore
	stats StatsRecorder
}

// BufferCache is the process-wide pool of fixed-size page buffers shared by
// all open volumes. It is sized by total byte capacity divided by page size
// and hands out claimed buffers via Fetch.
//
// Invariants:
//   - a buffer is never evicted while any claim is held on it;
//   - Invalidate evicts all of a volume's buffers or none of them.
//
// The cache mutex guards the index, the recency list, the free list, and
// the registration table. Individual claim state is synchronized per buffer,
// and the cache only ever takes claims with TryClaim while holding its own
// mutex, so it cannot deadlock against claim holders.
type BufferCache struct {
	pageSize int
	capacity int

	mu      sync.Mutex
	index   map[bufferKey]*lruNode
	head    *lruNode // dummy head, most recently used end
	tail    *lruNode // dummy tail, least recently used end
	free    []*Buffer
	volumes map[primitives.VolumeID]registration
}

// minimumSlots is the smallest usable cache: fewer slots than this and a
// single busy volume can wedge unrelated traffic.
const minimumSlots = 4

// NewBufferCache creates a cache holding totalBytes/pageSize slots.
func NewBufferCache(totalBytes int64, pageSize int) (*BufferCache, error) {
	if pageSize <= 0 {
		return nil, errs.IllegalState("page size must be positive, got %d", pageSize)
	}
	capacity := int(totalBytes / int64(pageSize))
	if capacity < minimumSlots {
		return nil, errs.IllegalState(
			"cache of %d bytes holds %d pages of %d bytes; at least %d required",
			totalBytes, capacity, pageSize, minimumSlots)
	}

	head := &lruNode{}
	tail := &lruNode{}
	head.next = tail
	tail.prev = head

	c := &BufferCache{
		pageSize: pageSize,
		capacity: capacity,
		index:    make(map[bufferKey]*lruNode),
		head:     head,
		tail:     tail,
		free:     make([]*Buffer, 0, capacity),
		volumes:  make(map[primitives.VolumeID]registration),
	}
	for slot := 0; slot < capacity; slot++ {
		c.free = append(c.free, newBuffer(slot, pageSize))
	}
	return c, nil
}

// PageSize returns the fixed page size all volumes on this cache must use.
func (c *BufferCache) PageSize() int {
	return c.pageSize
}

// Capacity returns the number of buffer slots.
func (c *BufferCache) Capacity() int {
	return c.capacity
}

// Size returns the number of slots currently mapping a page.
func (c *BufferCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// VolumeBufferCount returns how many slots currently hold pages of the
// given volume.
func (c *BufferCache) VolumeBufferCount(volumeID primitives.VolumeID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key := range c.index {
		if key.volumeID == volumeID {
			count++
		}
	}
	return count
}

// Register associates a volume identifier with its backing store and
// statistics recorder for the duration of the volume's open lifetime.
// The store's page size must match the cache's.
func (c *BufferCache) Register(volumeID primitives.VolumeID, store storage.PageStore, stats StatsRecorder) error {
	if !volumeID.IsValid() {
		return errs.IllegalState("cannot register a volume without an identifier")
	}
	if store.PageSize() != c.pageSize {
		return errs.IllegalState("store page size %d does not match cache page size %d",
			store.PageSize(), c.pageSize)
	}
	if stats == nil {
		stats = nopStats{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.volumes[volumeID]; exists {
		return errs.IllegalState("volume %s is already registered with the buffer cache", volumeID)
	}
	c.volumes[volumeID] = registration{store: store, stats: stats}
	return nil
}

// Deregister removes a volume's registration. Callers must have invalidated
// the volume's buffers first.
func (c *BufferCache) Deregister(volumeID primitives.VolumeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.volumes, volumeID)
}

// Fetch returns the buffer caching the given page, claimed per mode. On a
// miss the page is loaded from the owning volume's backing store, evicting
// an unclaimed buffer by recency when the cache is full.
//
// Fetch fails with a NoAvailableBuffer error when every slot is claimed;
// callers back off and retry. It blocks only while waiting for a conflicting
// claim on the requested page itself or while loading from the store.
func (c *BufferCache) Fetch(volumeID primitives.VolumeID, pageNo primitives.PageNumber, mode ClaimMode) (*Buffer, error) {
	key := bufferKey{volumeID: volumeID, pageNo: pageNo}

	for {
		c.mu.Lock()

		if node, ok := c.index[key]; ok {
			buf := node.buf
			c.moveToFront(node)
			stats := c.statsFor(volumeID)
			c.mu.Unlock()

			// Claim without holding the cache mutex; the slot may be evicted
			// and reused while we wait, so revalidate afterward.
			buf.Claim(mode)
			if buf.holds(volumeID, pageNo) {
				stats.RecordHit()
				return buf, nil
			}
			buf.Release()
			continue
		}

		reg, ok := c.volumes[volumeID]
		if !ok {
			c.mu.Unlock()
			return nil, errs.IllegalState("volume %s is not registered with the buffer cache", volumeID).
				WithOperation("Fetch")
		}

		buf, err := c.allocateLocked(key)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		c.mu.Unlock()

		// The buffer is exclusively claimed and already in the index, so a
		// concurrent Fetch of the same page blocks on the claim until the
		// load completes.
		data, err := reg.store.ReadPage(pageNo)
		if err != nil {
			c.discard(key, buf)
			return nil, err
		}
		copy(buf.data, data)

		reg.stats.RecordMiss()
		reg.stats.RecordRead()

		if mode == SharedClaim {
			buf.Downgrade()
		}
		return buf, nil
	}
}

// Release releases one claim on the buffer. When the last claim on a dirty
// buffer is released the buffer stays cached and becomes eligible for
// write-back and eviction.
func (c *BufferCache) Release(buf *Buffer) {
	buf.Release()
}

// Invalidate scans all buffers owned by volumeID. If every one of them is
// unclaimed and clean it evicts them all and reports true; if any is claimed
// or dirty it evicts none and reports false, leaving the caller to retry.
// Refusing dirty buffers matters: a page dirtied and released after the
// caller's last flush would otherwise be discarded silently. The caller's
// flush/invalidate loop picks it up on the next pass instead.
//
// This all-or-nothing contract is what lets close and truncate never observe
// a partially-evicted volume.
func (c *BufferCache) Invalidate(volumeID primitives.VolumeID) bool {
	return c.invalidate(volumeID, false)
}

// Discard is Invalidate for callers that are destroying the volume's content
// anyway: dirty buffers are dropped rather than refused. Claimed buffers
// still cause an all-or-nothing refusal.
func (c *BufferCache) Discard(volumeID primitives.VolumeID) bool {
	return c.invalidate(volumeID, true)
}

func (c *BufferCache) invalidate(volumeID primitives.VolumeID, discardDirty bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	var nodes []*lruNode
	for key, node := range c.index {
		if key.volumeID == volumeID {
			nodes = append(nodes, node)
		}
	}

	claimed := make([]*Buffer, 0, len(nodes))
	refuse := func() bool {
		for _, buf := range claimed {
			buf.Release()
		}
		return false
	}
	for _, node := range nodes {
		if !node.buf.TryClaim(ExclusiveClaim) {
			return refuse()
		}
		claimed = append(claimed, node.buf)
		if !discardDirty && node.buf.IsDirty() {
			return refuse()
		}
	}

	for _, node := range nodes {
		c.removeLocked(node)
		node.buf.setPage(primitives.InvalidVolumeID, primitives.InvalidPageNumber)
		c.free = append(c.free, node.buf)
		node.buf.Release()
	}
	return true
}

// FlushVolume writes back every dirty buffer of the volume that is not
// exclusively claimed. Buffers under an exclusive claim are skipped; the
// caller's invalidate/retry loop will come back for them.
func (c *BufferCache) FlushVolume(volumeID primitives.VolumeID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	reg, ok := c.volumes[volumeID]
	if !ok {
		return errs.IllegalState("volume %s is not registered with the buffer cache", volumeID).
			WithOperation("FlushVolume")
	}

	for key, node := range c.index {
		if key.volumeID != volumeID || !node.buf.IsDirty() {
			continue
		}
		if !node.buf.TryClaim(SharedClaim) {
			continue
		}
		err := reg.store.WritePage(key.pageNo, node.buf.data)
		if err == nil {
			node.buf.markClean()
			reg.stats.RecordWrite()
		}
		node.buf.Release()
		if err != nil {
			return err
		}
	}
	return nil
}

// statsFor returns the registered recorder for a volume, or a no-op one.
// Caller must hold c.mu.
func (c *BufferCache) statsFor(volumeID primitives.VolumeID) StatsRecorder {
	if reg, ok := c.volumes[volumeID]; ok {
		return reg.stats
	}
	return nopStats{}
}

// allocateLocked returns an exclusively-claimed buffer mapped to key,
// taking a free slot or evicting the least recently used unclaimed buffer.
// Caller must hold c.mu.
func (c *BufferCache) allocateLocked(key bufferKey) (*Buffer, error) {
	var buf *Buffer

	if n := len(c.free); n > 0 {
		buf = c.free[n-1]
		c.free = c.free[:n-1]
		// A stale fetch waiter may transiently claim a freed buffer before
		// noticing it was re-targeted; it releases immediately, so a
		// blocking claim here resolves in bounded time.
		buf.Claim(ExclusiveClaim)
	} else {
		victim, err := c.evictLocked()
		if err != nil {
			return nil, err
		}
		buf = victim
	}

	buf.setPage(key.volumeID, key.pageNo)
	node := &lruNode{key: key, buf: buf}
	c.index[key] = node
	c.addToFront(node)
	return buf, nil
}

// evictLocked scans from the least recently used end for a buffer with no
// outstanding claims, writes it back if dirty, and detaches it from the
// index. The returned buffer is exclusively claimed. Caller must hold c.mu.
func (c *BufferCache) evictLocked() (*Buffer, error) {
	for node := c.tail.prev; node != c.head; node = node.prev {
		if !node.buf.TryClaim(ExclusiveClaim) {
			continue
		}

		if node.buf.IsDirty() {
			if err := c.writeBackLocked(node); err != nil {
				logging.WithPage(int64(node.key.volumeID), int64(node.key.pageNo)).
					Warn("write-back failed, skipping victim", "error", err)
				node.buf.Release()
				continue
			}
		}

		c.removeLocked(node)
		return node.buf, nil
	}

	return nil, errs.NoAvailableBuffer("all slots claimed").WithOperation("Fetch")
}

// writeBackLocked persists a dirty victim through its volume's store. Pages
// of deregistered volumes have nowhere to go and are dropped; a volume is
// only deregistered after its buffers were invalidated or discarded.
func (c *BufferCache) writeBackLocked(node *lruNode) error {
	reg, ok := c.volumes[node.key.volumeID]
	if !ok {
		return nil
	}
	if err := reg.store.WritePage(node.key.pageNo, node.buf.data); err != nil {
		return err
	}
	node.buf.markClean()
	reg.stats.RecordWrite()
	return nil
}

// discard detaches a buffer whose load failed, releases the caller's
// exclusive claim, and returns the slot to the free list. The release
// happens under the cache mutex so no allocation can pop a still-claimed
// buffer from the free list.
func (c *BufferCache) discard(key bufferKey, buf *Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.index[key]; ok && node.buf == buf {
		c.removeLocked(node)
		buf.setPage(primitives.InvalidVolumeID, primitives.InvalidPageNumber)
	}
	buf.Release()
	c.free = append(c.free, buf)
}

// addToFront inserts a node right after the head (most recently used).
func (c *BufferCache) addToFront(node *lruNode) {
	node.prev = c.head
	node.next = c.head.next
	c.head.next.prev = node
	c.head.next = node
}

// removeLocked detaches a node from both the list and the index.
func (c *BufferCache) removeLocked(node *lruNode) {
	node.prev.next = node.next
	node.next.prev = node.prev
	delete(c.index, node.key)
}

// moveToFront marks a node as most recently used.
func (c *BufferCache) moveToFront(node *lruNode) {
	node.prev.next = node.next
	node.next.prev = node.prev
	c.addToFront(node)
}
