package buffer

import (
	"sync"
	"testing"
	"time"

	"volstore/pkg/errs"
	"volstore/pkg/primitives"
)

const cachePageSize = 1024

// newTestCache returns a cache with the given number of slots and one
// registered volume backed by a fresh mock store.
func newTestCache(t *testing.T, slots int, volumeID primitives.VolumeID) (*BufferCache, *mockStore, *countingStats) {
	t.Helper()

	cache, err := NewBufferCache(int64(slots)*cachePageSize, cachePageSize)
	if err != nil {
		t.Fatalf("NewBufferCache failed: %v", err)
	}

	store := newMockStore(cachePageSize)
	stats := &countingStats{}
	if err := cache.Register(volumeID, store, stats); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return cache, store, stats
}

func TestNewBufferCache_TooSmall(t *testing.T) {
	_, err := NewBufferCache(2*cachePageSize, cachePageSize)
	if !errs.IsIllegalState(err) {
		t.Errorf("Expected IllegalState for undersized cache, got %v", err)
	}
}

func TestBufferCache_Register_Duplicate(t *testing.T) {
	cache, _, _ := newTestCache(t, 8, 1)

	err := cache.Register(1, newMockStore(cachePageSize), nil)
	if !errs.IsIllegalState(err) {
		t.Errorf("Expected IllegalState for duplicate registration, got %v", err)
	}
}

func TestBufferCache_Register_PageSizeMismatch(t *testing.T) {
	cache, _, _ := newTestCache(t, 8, 1)

	err := cache.Register(2, newMockStore(cachePageSize*2), nil)
	if !errs.IsIllegalState(err) {
		t.Errorf("Expected IllegalState for page size mismatch, got %v", err)
	}
}

func TestBufferCache_Fetch_UnregisteredVolume(t *testing.T) {
	cache, _, _ := newTestCache(t, 8, 1)

	_, err := cache.Fetch(99, 1, SharedClaim)
	if !errs.IsIllegalState(err) {
		t.Errorf("Expected IllegalState for unregistered volume, got %v", err)
	}
}

func TestBufferCache_Fetch_MissThenHit(t *testing.T) {
	cache, _, stats := newTestCache(t, 8, 1)

	buf, err := cache.Fetch(1, 5, SharedClaim)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if buf.VolumeID() != 1 || buf.PageNumber() != 5 {
		t.Errorf("Buffer maps wrong page: volume %s page %d", buf.VolumeID(), buf.PageNumber())
	}
	cache.Release(buf)

	buf2, err := cache.Fetch(1, 5, SharedClaim)
	if err != nil {
		t.Fatalf("second Fetch failed: %v", err)
	}
	if buf2 != buf {
		t.Error("hit returned a different buffer")
	}
	cache.Release(buf2)

	if stats.misses.Load() != 1 {
		t.Errorf("Expected 1 miss, got %d", stats.misses.Load())
	}
	if stats.hits.Load() != 1 {
		t.Errorf("Expected 1 hit, got %d", stats.hits.Load())
	}
	if stats.reads.Load() != 1 {
		t.Errorf("Expected 1 store read, got %d", stats.reads.Load())
	}
}

func TestBufferCache_Fetch_LoadFailure(t *testing.T) {
	cache, store, _ := newTestCache(t, 8, 1)
	store.failReads = true

	_, err := cache.Fetch(1, 3, SharedClaim)
	if err == nil {
		t.Fatal("Fetch should surface the load failure")
	}

	// The slot must be free again and the page not cached.
	if cache.Size() != 0 {
		t.Errorf("Expected empty cache after failed load, got size %d", cache.Size())
	}

	store.failReads = false
	buf, err := cache.Fetch(1, 3, SharedClaim)
	if err != nil {
		t.Fatalf("Fetch after recovery failed: %v", err)
	}
	cache.Release(buf)
}

func TestBufferCache_ConcurrentReaders(t *testing.T) {
	cache, _, _ := newTestCache(t, 8, 1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf, err := cache.Fetch(1, 1, SharedClaim)
			if err != nil {
				t.Errorf("Fetch failed: %v", err)
				return
			}
			time.Sleep(time.Millisecond)
			cache.Release(buf)
		}()
	}
	wg.Wait()

	if cache.VolumeBufferCount(1) != 1 {
		t.Errorf("Expected 1 cached buffer, got %d", cache.VolumeBufferCount(1))
	}
}

func TestBufferCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache, _, stats := newTestCache(t, 4, 1)

	for pageNo := primitives.PageNumber(1); pageNo <= 4; pageNo++ {
		buf, err := cache.Fetch(1, pageNo, SharedClaim)
		if err != nil {
			t.Fatalf("Fetch(%d) failed: %v", pageNo, err)
		}
		cache.Release(buf)
	}

	// Touch page 1; then one more page evicts page 2.
	buf, _ := cache.Fetch(1, 1, SharedClaim)
	cache.Release(buf)
	buf, _ = cache.Fetch(1, 5, SharedClaim)
	cache.Release(buf)

	missesBefore := stats.misses.Load()

	buf, err := cache.Fetch(1, 1, SharedClaim)
	if err != nil {
		t.Fatalf("Fetch(1) failed: %v", err)
	}
	cache.Release(buf)
	if stats.misses.Load() != missesBefore {
		t.Error("page 1 should still have been cached")
	}

	buf, err = cache.Fetch(1, 2, SharedClaim)
	if err != nil {
		t.Fatalf("Fetch(2) failed: %v", err)
	}
	cache.Release(buf)
	if stats.misses.Load() != missesBefore+1 {
		t.Error("page 2 should have been evicted and reloaded")
	}
}

func TestBufferCache_NeverEvictsClaimed(t *testing.T) {
	cache, _, _ := newTestCache(t, 4, 1)

	claimed := make([]*Buffer, 0, 4)
	for pageNo := primitives.PageNumber(1); pageNo <= 4; pageNo++ {
		buf, err := cache.Fetch(1, pageNo, SharedClaim)
		if err != nil {
			t.Fatalf("Fetch(%d) failed: %v", pageNo, err)
		}
		claimed = append(claimed, buf)
	}

	// Every slot is claimed: a new page has nowhere to go.
	_, err := cache.Fetch(1, 5, SharedClaim)
	if !errs.IsNoAvailableBuffer(err) {
		t.Errorf("Expected NoAvailableBuffer, got %v", err)
	}

	// Releasing one claim makes room.
	cache.Release(claimed[0])
	buf, err := cache.Fetch(1, 5, SharedClaim)
	if err != nil {
		t.Fatalf("Fetch after release failed: %v", err)
	}
	cache.Release(buf)

	for _, b := range claimed[1:] {
		cache.Release(b)
	}
}

func TestBufferCache_DirtyWriteBackOnEviction(t *testing.T) {
	cache, store, stats := newTestCache(t, 4, 1)

	buf, err := cache.Fetch(1, 1, ExclusiveClaim)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	buf.Data()[0] = 0xAB
	buf.MarkDirty()
	cache.Release(buf)

	// Force page 1 out of the cache.
	for pageNo := primitives.PageNumber(2); pageNo <= 5; pageNo++ {
		b, err := cache.Fetch(1, pageNo, SharedClaim)
		if err != nil {
			t.Fatalf("Fetch(%d) failed: %v", pageNo, err)
		}
		cache.Release(b)
	}

	if store.writeCount() != 1 {
		t.Fatalf("Expected one write-back, got %d", store.writeCount())
	}
	if got := store.pageContent(1); got == nil || got[0] != 0xAB {
		t.Error("written-back page content is wrong")
	}
	if stats.writes.Load() != 1 {
		t.Errorf("Expected 1 recorded write, got %d", stats.writes.Load())
	}
}

func TestBufferCache_Invalidate_AllOrNothing(t *testing.T) {
	cache, _, _ := newTestCache(t, 8, 1)

	var bufs []*Buffer
	for pageNo := primitives.PageNumber(1); pageNo <= 3; pageNo++ {
		buf, err := cache.Fetch(1, pageNo, SharedClaim)
		if err != nil {
			t.Fatalf("Fetch(%d) failed: %v", pageNo, err)
		}
		bufs = append(bufs, buf)
	}

	// Release all but one; invalidation must evict none while any claim is
	// outstanding.
	cache.Release(bufs[0])
	cache.Release(bufs[1])

	if cache.Invalidate(1) {
		t.Fatal("Invalidate succeeded with an outstanding claim")
	}
	if cache.VolumeBufferCount(1) != 3 {
		t.Errorf("Partial eviction: expected 3 buffers, got %d", cache.VolumeBufferCount(1))
	}

	cache.Release(bufs[2])

	if !cache.Invalidate(1) {
		t.Fatal("Invalidate failed with no outstanding claims")
	}
	if cache.VolumeBufferCount(1) != 0 {
		t.Errorf("Expected 0 buffers after invalidation, got %d", cache.VolumeBufferCount(1))
	}
}

func TestBufferCache_Invalidate_RefusesDirty(t *testing.T) {
	cache, store, _ := newTestCache(t, 8, 1)

	buf, err := cache.Fetch(1, 1, ExclusiveClaim)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	buf.Data()[0] = 0x5A
	buf.MarkDirty()
	cache.Release(buf)

	// Unclaimed but dirty: invalidation must refuse rather than discard.
	if cache.Invalidate(1) {
		t.Fatal("Invalidate discarded a dirty buffer")
	}
	if cache.VolumeBufferCount(1) != 1 {
		t.Errorf("Expected the dirty buffer to stay cached, got %d", cache.VolumeBufferCount(1))
	}

	if err := cache.FlushVolume(1); err != nil {
		t.Fatalf("FlushVolume failed: %v", err)
	}
	if !cache.Invalidate(1) {
		t.Fatal("Invalidate failed after flush")
	}
	if got := store.pageContent(1); got == nil || got[0] != 0x5A {
		t.Error("flushed page content is wrong")
	}
}

func TestBufferCache_Discard_DropsDirty(t *testing.T) {
	cache, store, _ := newTestCache(t, 8, 1)

	buf, err := cache.Fetch(1, 1, ExclusiveClaim)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	buf.MarkDirty()

	// Discard is still all-or-nothing over claims.
	if cache.Discard(1) {
		t.Fatal("Discard succeeded with an outstanding claim")
	}
	cache.Release(buf)

	if !cache.Discard(1) {
		t.Fatal("Discard refused an unclaimed dirty buffer")
	}
	if cache.VolumeBufferCount(1) != 0 {
		t.Errorf("Expected 0 buffers after discard, got %d", cache.VolumeBufferCount(1))
	}
	if store.writeCount() != 0 {
		t.Errorf("Discard wrote back dirty content: %d writes", store.writeCount())
	}
}

func TestBufferCache_Invalidate_IgnoresOtherVolumes(t *testing.T) {
	cache, _, _ := newTestCache(t, 8, 1)
	if err := cache.Register(2, newMockStore(cachePageSize), nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	buf1, _ := cache.Fetch(1, 1, SharedClaim)
	cache.Release(buf1)
	buf2, _ := cache.Fetch(2, 1, SharedClaim)
	defer cache.Release(buf2)

	// Volume 2 holds a claim; invalidating volume 1 must still succeed.
	if !cache.Invalidate(1) {
		t.Error("Invalidate of volume 1 blocked by unrelated volume's claim")
	}
	if cache.VolumeBufferCount(2) != 1 {
		t.Error("Invalidate of volume 1 touched volume 2's buffers")
	}
}

func TestBufferCache_FlushVolume(t *testing.T) {
	cache, store, _ := newTestCache(t, 8, 1)

	buf, err := cache.Fetch(1, 2, ExclusiveClaim)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	copy(buf.Data(), []byte{1, 2, 3})
	buf.MarkDirty()
	cache.Release(buf)

	if err := cache.FlushVolume(1); err != nil {
		t.Fatalf("FlushVolume failed: %v", err)
	}

	if store.writeCount() != 1 {
		t.Errorf("Expected one write, got %d", store.writeCount())
	}
	if buf.IsDirty() {
		t.Error("buffer should be clean after flush")
	}

	// Flushing again writes nothing.
	if err := cache.FlushVolume(1); err != nil {
		t.Fatalf("second FlushVolume failed: %v", err)
	}
	if store.writeCount() != 1 {
		t.Errorf("Clean buffer re-written: %d writes", store.writeCount())
	}
}

func TestBufferCache_FlushVolume_SkipsExclusivelyClaimed(t *testing.T) {
	cache, store, _ := newTestCache(t, 8, 1)

	buf, _ := cache.Fetch(1, 2, ExclusiveClaim)
	buf.MarkDirty()

	if err := cache.FlushVolume(1); err != nil {
		t.Fatalf("FlushVolume failed: %v", err)
	}
	if store.writeCount() != 0 {
		t.Error("flush wrote a page that was exclusively claimed")
	}
	cache.Release(buf)
}

func TestBufferCache_SlotReuseRevalidation(t *testing.T) {
	cache, _, _ := newTestCache(t, 4, 1)

	// Hammer a cache that is constantly evicting; every fetched buffer must
	// map the requested page.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				pageNo := primitives.PageNumber((seed+j)%10 + 1)
				buf, err := cache.Fetch(1, pageNo, SharedClaim)
				if err != nil {
					if errs.IsNoAvailableBuffer(err) {
						continue
					}
					t.Errorf("Fetch failed: %v", err)
					return
				}
				if buf.VolumeID() != 1 || buf.PageNumber() != pageNo {
					t.Errorf("Fetch returned wrong page: wanted %d, got %d", pageNo, buf.PageNumber())
				}
				cache.Release(buf)
			}
		}(i)
	}
	wg.Wait()
}
