package volume

import (
	"sort"
	"sync"

	"volstore/pkg/buffer"
	"volstore/pkg/errs"
)

// Registry is the process-wide directory of open volumes. It owns the shared
// buffer cache reference every volume coordinates through and detects
// duplicate opens by volume identity (name plus identifier).
//
// Volumes register themselves during Open and deregister as Close completes.
type Registry struct {
	cache *buffer.BufferCache

	mu     sync.RWMutex
	byName map[string]*Volume
}

// NewRegistry builds a registry around the shared cache.
func NewRegistry(cache *buffer.BufferCache) *Registry {
	return &Registry{
		cache:  cache,
		byName: make(map[string]*Volume),
	}
}

// Cache returns the shared buffer cache.
func (r *Registry) Cache() *buffer.BufferCache {
	return r.cache
}

// Open builds a volume from spec, opens it, and returns it registered.
func (r *Registry) Open(spec *VolumeSpecification, config Config) (*Volume, error) {
	v := NewVolume(spec, r, config)
	if err := v.Open(); err != nil {
		return nil, err
	}
	return v, nil
}

// OpenTemporary creates and opens an ephemeral volume. Its content never
// reaches disk and is discarded on close.
func (r *Registry) OpenTemporary(name string, pageSize int, config Config) (*Volume, error) {
	spec, err := NewTemporaryVolumeSpecification(name, pageSize)
	if err != nil {
		return nil, err
	}
	return r.Open(spec, config)
}

// Volume returns the open volume registered under name, if any.
func (r *Registry) Volume(name string) (*Volume, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byName[name]
	return v, ok
}

// Volumes returns all open volumes ordered by name.
func (r *Registry) Volumes() []*Volume {
	r.mu.RLock()
	defer r.mu.RUnlock()

	volumes := make([]*Volume, 0, len(r.byName))
	for _, v := range r.byName {
		volumes = append(volumes, v)
	}
	sort.Slice(volumes, func(i, j int) bool {
		return volumes[i].Name() < volumes[j].Name()
	})
	return volumes
}

// add registers an opening volume. A second open of the same identity, or a
// name collision between distinct identities, is rejected.
func (r *Registry) add(v *Volume) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[v.Name()]; ok {
		if existing.Equals(v) {
			return errs.IllegalState("volume %q is already open", v.Name())
		}
		return errs.IllegalState("a different volume named %q is already open", v.Name())
	}
	r.byName[v.Name()] = v
	return nil
}

// remove deregisters a closing volume. Removing an unregistered volume is
// a no-op.
func (r *Registry) remove(v *Volume) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[v.Name()]; ok && existing == v {
		delete(r.byName, v.Name())
	}
}
