// Package volume implements the lifecycle and coordination layer of the
// storage engine: volume identity, the tree directory, per-volume
// statistics, and the close/truncate protocol that cooperates with the
// shared buffer cache.
package volume

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"volstore/pkg/buffer"
	"volstore/pkg/errs"
	"volstore/pkg/logging"
	"volstore/pkg/primitives"
	"volstore/pkg/storage"
)

// appCacheBox wraps the application cache payload so atomic.Value accepts
// payloads of differing concrete types across stores.
type appCacheBox struct {
	value any
}

// Volume is the composition root for one backing store: it owns the store,
// the tree directory, and the statistics, and it orchestrates open, close,
// truncate, and delete against the shared buffer cache.
//
// Identifier and handle are one-shot: once non-zero they never change.
// The closing flag is monotonic: once set, every page-affecting operation
// fails fast, and in-flight claim holders drain naturally, which is what
// lets the close retry loop terminate.
type Volume struct {
	name     string
	id       primitives.OnceValue
	handle   primitives.OnceValue
	registry *Registry
	config   Config

	closing atomic.Bool
	opened  atomic.Bool
	closed  atomic.Bool

	appCache atomic.Value

	// coordMu serializes close/truncate attempts against new claim
	// acquisition on this volume. It never serializes other volumes'
	// traffic; buffer-level synchronization lives in the cache.
	coordMu sync.RWMutex

	// mu guards the open/close transitions and the owned references below.
	mu        sync.Mutex
	spec      *VolumeSpecification
	store     storage.PageStore
	structure *VolumeStructure
	stats     *Statistics
}

// NewVolume builds an unopened volume from its specification. The volume
// registers itself with registry when Open succeeds.
func NewVolume(spec *VolumeSpecification, registry *Registry, config Config) *Volume {
	v := &Volume{
		name:     spec.Name(),
		registry: registry,
		config:   config.withDefaults(),
		spec:     spec,
	}
	if spec.ID().IsValid() {
		v.id.Assign(int64(spec.ID()))
	}
	return v
}

// NewHollowVolume builds a volume carrying only identity, the form the
// journal reconstructs during recovery before the backing store is opened.
// SetSpecification must be called before Open.
func NewHollowVolume(name string, id primitives.VolumeID, registry *Registry, config Config) *Volume {
	v := &Volume{
		name:     name,
		registry: registry,
		config:   config.withDefaults(),
	}
	if id.IsValid() {
		v.id.Assign(int64(id))
	}
	return v
}

// SetSpecification attaches creation parameters to a hollow volume. The
// specification's name and identifier must agree with the volume's.
func (v *Volume) SetSpecification(spec *VolumeSpecification) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.spec != nil {
		return errs.IllegalState("volume %q already has a specification", v.name)
	}
	if spec.Name() != v.name {
		return errs.WrongVolume("specification names %q, volume is %q", spec.Name(), v.name)
	}
	if spec.ID().IsValid() && !v.id.Assign(int64(spec.ID())) {
		return errs.WrongVolume("specification carries id %s, volume has %s",
			spec.ID(), v.ID())
	}
	v.spec = spec
	return nil
}

// Open attaches the volume to its backing store, creating it when the
// specification asks for that, and registers the volume with the shared
// cache and the registry. The registration sequence is atomic with respect
// to duplicate opens of the same identity.
func (v *Volume) Open() error {
	if v.closing.Load() {
		return errs.AlreadyClosing(v.name).WithOperation("Open")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.opened.Load() {
		return errs.IllegalState("volume %q is already open", v.name)
	}
	if v.spec == nil {
		return errs.IllegalState("volume %q has no specification", v.name)
	}
	spec := v.spec

	store, created, err := v.openStore(spec)
	if err != nil {
		return err
	}

	if err := v.assignIdentifier(spec, created); err != nil {
		store.Close()
		return err
	}
	id := v.ID()

	stats := NewStatistics()
	cache := v.registry.Cache()
	if err := cache.Register(id, store, stats); err != nil {
		store.Close()
		return err
	}

	v.store = store
	v.structure = NewVolumeStructure(id, store, cache, stats)
	v.stats = stats

	if err := v.registry.add(v); err != nil {
		cache.Deregister(id)
		v.store = nil
		v.structure = nil
		v.stats = nil
		store.Close()
		return err
	}

	v.opened.Store(true)
	logging.WithVolume(v.name).Info("volume opened",
		"id", int64(id), "path", spec.Path(), "pageSize", spec.PageSize(),
		"created", created, "temporary", spec.IsTemporary())
	return nil
}

// openStore builds and attaches the backing store per the specification's
// open-versus-create policy. It reports whether the store was created fresh.
func (v *Volume) openStore(spec *VolumeSpecification) (storage.PageStore, bool, error) {
	if spec.IsTemporary() {
		store, err := storage.NewTempStore(spec.Path(), spec.PageSize())
		if err != nil {
			return nil, false, err
		}
		if err := store.Create(); err != nil {
			return nil, false, err
		}
		return store, true, nil
	}

	store, err := storage.NewFileStore(spec.Path(), spec.PageSize(), spec.IsReadOnly())
	if err != nil {
		return nil, false, err
	}

	exists := storage.Exists(spec.Path())
	switch {
	case exists && spec.IsCreateOnly():
		return nil, false, errs.VolumeExists(spec.Path()).WithOperation("Open")
	case !exists && !spec.IsCreate():
		return nil, false, errs.VolumeNotFound(spec.Path()).WithOperation("Open")
	case exists:
		if err := store.Open(); err != nil {
			return nil, false, err
		}
		return store, false, nil
	default:
		if err := store.Create(); err != nil {
			return nil, false, err
		}
		return store, true, nil
	}
}

// assignIdentifier settles the durable identifier at open time: the
// specification's if it carries one, a generated one for fresh stores, and
// a path-derived one when attaching to an existing store whose identifier
// the journal has not told us yet.
func (v *Volume) assignIdentifier(spec *VolumeSpecification, created bool) error {
	if v.id.IsAssigned() {
		return nil
	}
	var id primitives.VolumeID
	switch {
	case spec.ID().IsValid():
		id = spec.ID()
	case created:
		id = generateVolumeID()
	default:
		id = deriveVolumeID(spec.Path())
	}
	if !v.id.Assign(int64(id)) {
		return errs.IllegalState("volume %q identifier changed during open", v.name)
	}
	return nil
}

// Close sets the closing flag, then drains the volume from the shared
// cache: flush dirty pages, attempt all-or-nothing invalidation under the
// coordination lock, and back off and retry while other goroutines still
// hold claims. Invalidate refuses buffers that are claimed or still dirty,
// so a write that lands between the flush and the invalidation is never
// discarded; the next attempt flushes it. The loop always releases the lock
// between attempts, so claim holders can finish and release. Close runs to
// completion once started.
//
// Close is idempotent; a second call returns nil immediately.
func (v *Volume) Close() error {
	if !v.closing.CompareAndSwap(false, true) {
		return nil
	}
	if !v.opened.Load() {
		v.closed.Store(true)
		return nil
	}

	id := v.ID()
	cache := v.registry.Cache()
	log := logging.WithVolume(v.name)

	for attempt := 1; ; attempt++ {
		v.coordMu.Lock()

		if err := cache.FlushVolume(id); err != nil {
			v.coordMu.Unlock()
			return errs.Wrap(err, "Close")
		}

		if cache.Invalidate(id) {
			v.mu.Lock()
			v.structure.Close()
			err := v.store.Close()
			v.stats.Reset()
			cache.Deregister(id)
			v.registry.remove(v)
			v.opened.Store(false)
			v.closed.Store(true)
			v.mu.Unlock()
			v.coordMu.Unlock()

			if err != nil {
				return errs.Wrap(err, "Close")
			}
			log.Info("volume closed", "id", int64(id), "attempts", attempt)
			return nil
		}

		v.coordMu.Unlock()
		if attempt == 1 {
			log.Debug("close waiting for outstanding claims", "id", int64(id))
		}
		time.Sleep(v.config.RetryInterval)
	}
}

// Truncate discards all content of a volume whose content is reproducible:
// temporary volumes and volumes opened with create or create-only
// semantics. It uses the same all-or-nothing retry protocol as Close but
// leaves the volume open and usable, and it discards dirty buffers instead
// of refusing them; truncation makes their content moot.
func (v *Volume) Truncate() error {
	if v.closing.Load() {
		return errs.AlreadyClosing(v.name).WithOperation("Truncate")
	}
	if !v.opened.Load() {
		return errs.IllegalState("volume %q is not open", v.name).WithOperation("Truncate")
	}
	if v.store.IsReadOnly() {
		return errs.ReadOnly(v.name).WithOperation("Truncate")
	}
	if !(v.spec.IsTemporary() || v.spec.IsCreate()) {
		return errs.TruncateNotAllowed(v.name).WithOperation("Truncate")
	}

	id := v.ID()
	cache := v.registry.Cache()

	for {
		v.coordMu.Lock()

		if cache.Discard(id) {
			err := v.store.Truncate()
			if err == nil {
				v.structure.Truncate()
				v.stats.Reset()
			}
			v.coordMu.Unlock()
			if err != nil {
				return errs.Wrap(err, "Truncate")
			}
			logging.WithVolume(v.name).Info("volume truncated", "id", int64(id))
			return nil
		}

		v.coordMu.Unlock()
		time.Sleep(v.config.RetryInterval)
	}
}

// Delete physically removes the backing store. The volume must have been
// closed first. Reports whether anything was removed.
func (v *Volume) Delete() (bool, error) {
	if !v.closed.Load() {
		return false, errs.IllegalState("volume %q must be closed before delete", v.name).
			WithOperation("Delete")
	}
	v.mu.Lock()
	store := v.store
	v.mu.Unlock()
	if store == nil {
		return false, nil
	}
	return store.Delete()
}

// Page fetches the given page through the shared cache, claimed per mode.
// The claim is acquired under the coordination read lock so no new claim
// can start once a close or truncate holds the lock.
func (v *Volume) Page(pageNo primitives.PageNumber, mode buffer.ClaimMode) (*buffer.Buffer, error) {
	if v.closing.Load() {
		return nil, errs.AlreadyClosing(v.name).WithOperation("Page")
	}

	v.coordMu.RLock()
	defer v.coordMu.RUnlock()

	// Re-check after acquiring the lock: a close may have slipped in
	// between the fast-path check and the lock.
	if v.closing.Load() {
		return nil, errs.AlreadyClosing(v.name).WithOperation("Page")
	}
	if !v.opened.Load() {
		return nil, errs.IllegalState("volume %q is not open", v.name).WithOperation("Page")
	}
	return v.registry.Cache().Fetch(v.ID(), pageNo, mode)
}

// ReleasePage releases one claim on a fetched buffer. Release carries no
// closing check: in-flight holders must always be able to let go, or the
// close retry loop could never succeed.
func (v *Volume) ReleasePage(buf *buffer.Buffer) {
	v.registry.Cache().Release(buf)
}

// GetTree returns the named tree, creating it when createIfMissing is set.
func (v *Volume) GetTree(name string, createIfMissing bool) (*Tree, error) {
	if v.closing.Load() {
		return nil, errs.AlreadyClosing(v.name).WithOperation("GetTree")
	}

	v.coordMu.RLock()
	defer v.coordMu.RUnlock()

	if v.closing.Load() {
		return nil, errs.AlreadyClosing(v.name).WithOperation("GetTree")
	}
	if !v.opened.Load() {
		return nil, errs.IllegalState("volume %q is not open", v.name).WithOperation("GetTree")
	}
	return v.structure.GetTree(name, createIfMissing)
}

// TreeNames returns the names of the volume's trees in sorted order.
func (v *Volume) TreeNames() ([]string, error) {
	if v.closing.Load() {
		return nil, errs.AlreadyClosing(v.name).WithOperation("TreeNames")
	}
	v.coordMu.RLock()
	defer v.coordMu.RUnlock()
	if !v.opened.Load() {
		return nil, errs.IllegalState("volume %q is not open", v.name).WithOperation("TreeNames")
	}
	return v.structure.TreeNames(), nil
}

// SetID assigns the volume's durable identifier. First non-zero assignment
// wins; re-assigning the same value is a no-op, a conflicting value fails.
func (v *Volume) SetID(id primitives.VolumeID) error {
	if !v.id.Assign(int64(id)) {
		return errs.IllegalState("volume %q already has id %s, cannot assign %s",
			v.name, v.ID(), id)
	}
	return nil
}

// ID returns the volume's identifier, or primitives.InvalidVolumeID if it
// has not been assigned yet.
func (v *Volume) ID() primitives.VolumeID {
	return primitives.VolumeID(v.id.Get())
}

// VerifyID checks a journal-recorded identifier against the volume's. Both
// must be assigned for a mismatch to be an error.
func (v *Volume) VerifyID(expected primitives.VolumeID) error {
	actual := v.ID()
	if expected.IsValid() && actual.IsValid() && expected != actual {
		return errs.WrongVolume("volume %q has id %s, journal expects %s",
			v.name, actual, expected)
	}
	return nil
}

// SetHandle assigns the volume's journal handle with the same one-shot
// discipline as SetID.
func (v *Volume) SetHandle(h primitives.Handle) error {
	if !v.handle.Assign(int64(h)) {
		return errs.IllegalState("volume %q already has handle %d, cannot assign %d",
			v.name, v.Handle(), h)
	}
	return nil
}

// Handle returns the volume's journal handle, or primitives.InvalidHandle.
func (v *Volume) Handle() primitives.Handle {
	return primitives.Handle(v.handle.Get())
}

// SetAppCache stores an opaque application-level object on the volume.
func (v *Volume) SetAppCache(value any) {
	v.appCache.Store(appCacheBox{value: value})
}

// AppCache returns the object stored by SetAppCache, or nil.
func (v *Volume) AppCache() any {
	boxed := v.appCache.Load()
	if boxed == nil {
		return nil
	}
	return boxed.(appCacheBox).value
}

// Name returns the volume's immutable name.
func (v *Volume) Name() string { return v.name }

// IsOpened reports whether the volume is attached to its backing store.
func (v *Volume) IsOpened() bool { return v.opened.Load() }

// IsClosed reports whether Close has completed.
func (v *Volume) IsClosed() bool { return v.closed.Load() }

// IsClosing reports whether Close has started.
func (v *Volume) IsClosing() bool { return v.closing.Load() }

// IsReadOnly reports whether the backing store prohibits updates.
func (v *Volume) IsReadOnly() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.store != nil && v.store.IsReadOnly()
}

// IsTemporary reports whether the volume is ephemeral.
func (v *Volume) IsTemporary() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.spec != nil && v.spec.IsTemporary()
}

// PageSize returns the volume's page size, or 0 before a specification is
// attached.
func (v *Volume) PageSize() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.spec == nil {
		return 0
	}
	return v.spec.PageSize()
}

// Path returns the backing-store path, or "" before a specification is
// attached.
func (v *Volume) Path() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.spec == nil {
		return ""
	}
	return v.spec.Path()
}

// NextAvailablePage returns the page number the next allocation will use.
func (v *Volume) NextAvailablePage() primitives.PageNumber {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.store == nil {
		return primitives.InvalidPageNumber
	}
	return v.store.NextAvailablePage()
}

// ExtendedPageCount returns the number of pages physically present in the
// backing store's extent.
func (v *Volume) ExtendedPageCount() primitives.PageNumber {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.store == nil {
		return 0
	}
	return v.store.ExtendedPageCount()
}

// Statistics returns the volume's counters, or nil before Open.
func (v *Volume) Statistics() *Statistics {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}

// Equals reports identity equality: two volume handles denote the same
// volume iff both name and identifier match. The registry relies on this
// to detect duplicate opens.
func (v *Volume) Equals(other *Volume) bool {
	if other == nil {
		return false
	}
	return v.name == other.name && v.ID() == other.ID()
}

// String implements fmt.Stringer.
func (v *Volume) String() string {
	state := "unopened"
	switch {
	case v.closed.Load():
		state = "closed"
	case v.closing.Load():
		state = "closing"
	case v.opened.Load():
		state = "open"
	}
	return fmt.Sprintf("Volume(%s id=%d %s)", v.name, int64(v.ID()), state)
}
