package volume

import (
	"sort"
	"sync"

	"volstore/pkg/buffer"
	"volstore/pkg/errs"
	"volstore/pkg/logging"
	"volstore/pkg/primitives"
	"volstore/pkg/storage"
)

// VolumeStructure owns the directory of trees inside an open volume along
// with the page-size geometry and the reference to the process-wide buffer
// cache. Its lifetime equals the volume's open lifetime; close and truncate
// both empty the directory.
type VolumeStructure struct {
	volumeID primitives.VolumeID
	pageSize int
	cache    *buffer.BufferCache
	store    storage.PageStore
	stats    *Statistics

	mu             sync.RWMutex
	treesByName    map[string]*Tree
	treesByHandle  map[primitives.Handle]*Tree
	nextTreeHandle primitives.Handle
}

// NewVolumeStructure wires a structure to the volume's store, the shared
// cache, and the volume's statistics.
func NewVolumeStructure(volumeID primitives.VolumeID, store storage.PageStore, cache *buffer.BufferCache, stats *Statistics) *VolumeStructure {
	return &VolumeStructure{
		volumeID:      volumeID,
		pageSize:      store.PageSize(),
		cache:         cache,
		store:         store,
		stats:         stats,
		treesByName:   make(map[string]*Tree),
		treesByHandle: make(map[primitives.Handle]*Tree),
	}
}

// PageSize returns the volume's fixed page size in bytes.
func (vs *VolumeStructure) PageSize() int {
	return vs.pageSize
}

// Cache returns the shared buffer cache the structure fetches through.
func (vs *VolumeStructure) Cache() *buffer.BufferCache {
	return vs.cache
}

// GetTree returns the tree named name. With createIfMissing it allocates a
// root page through the store and registers a new tree under a fresh handle;
// without it a missing name is an error.
func (vs *VolumeStructure) GetTree(name string, createIfMissing bool) (*Tree, error) {
	vs.mu.RLock()
	tree, ok := vs.treesByName[name]
	vs.mu.RUnlock()
	if ok {
		return tree, nil
	}
	if !createIfMissing {
		return nil, errs.TreeNotFound(name)
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()

	// Another goroutine may have created it between the two locks.
	if tree, ok := vs.treesByName[name]; ok {
		return tree, nil
	}

	rootPage, err := vs.store.AllocatePage()
	if err != nil {
		return nil, errs.Wrap(err, "GetTree")
	}
	vs.stats.RecordAllocation()

	tree = NewTree(name, vs.volumeID, rootPage)
	vs.nextTreeHandle++
	handle := vs.nextTreeHandle
	if err := tree.SetHandle(handle); err != nil {
		return nil, err
	}

	vs.treesByName[name] = tree
	vs.treesByHandle[handle] = tree

	logging.WithComponent("structure").Debug("created tree",
		"volumeID", int64(vs.volumeID), "name", name,
		"rootPage", int64(rootPage), "handle", int32(handle))
	return tree, nil
}

// TreeByHandle returns the tree registered under handle, if any.
func (vs *VolumeStructure) TreeByHandle(handle primitives.Handle) (*Tree, bool) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	tree, ok := vs.treesByHandle[handle]
	return tree, ok
}

// TreeNames returns the names of all registered trees in sorted order.
func (vs *VolumeStructure) TreeNames() []string {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	names := make([]string, 0, len(vs.treesByName))
	for name := range vs.treesByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TreeCount returns the number of registered trees.
func (vs *VolumeStructure) TreeCount() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return len(vs.treesByName)
}

// Truncate empties the tree directory. The caller has already invalidated
// the volume's buffers and truncated the store.
func (vs *VolumeStructure) Truncate() {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.treesByName = make(map[string]*Tree)
	vs.treesByHandle = make(map[primitives.Handle]*Tree)
	vs.nextTreeHandle = 0
}

// Close releases the directory. The structure is unusable afterward.
func (vs *VolumeStructure) Close() {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.treesByName = nil
	vs.treesByHandle = nil
}
