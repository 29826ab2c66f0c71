package volume

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"path/filepath"

	"github.com/google/uuid"

	"volstore/pkg/errs"
	"volstore/pkg/primitives"
)

// IsValidPageSize reports whether pageSize is a power of two between 1024
// and 16384 inclusive.
func IsValidPageSize(pageSize int) bool {
	for b := 1024; b <= 16384; b *= 2 {
		if b == pageSize {
			return true
		}
	}
	return false
}

// VolumeSpecification holds the immutable creation/open parameters of a
// volume. It is never mutated after construction.
type VolumeSpecification struct {
	path       string
	name       string
	pageSize   int
	create     bool
	createOnly bool
	readOnly   bool
	temporary  bool
	id         primitives.VolumeID
}

// NewVolumeSpecification builds a specification for a persistent volume.
// The volume name is the path's base name with its extension removed. The
// durable identifier is left unassigned; it is supplied by the journal at
// creation time or derived from the backing store on open.
func NewVolumeSpecification(path string, pageSize int, create, createOnly, readOnly bool) (*VolumeSpecification, error) {
	if path == "" {
		return nil, errs.IllegalState("volume path cannot be empty")
	}
	if !IsValidPageSize(pageSize) {
		return nil, errs.IllegalState(
			"page size must be a power of two between 1024 and 16384, got %d", pageSize)
	}
	if readOnly && (create || createOnly) {
		return nil, errs.IllegalState("readOnly cannot be combined with create or createOnly")
	}

	base := filepath.Base(path)
	if ext := filepath.Ext(base); ext != "" {
		base = base[:len(base)-len(ext)]
	}

	return &VolumeSpecification{
		path:       path,
		name:       base,
		pageSize:   pageSize,
		create:     create || createOnly,
		createOnly: createOnly,
		readOnly:   readOnly,
	}, nil
}

// NewTemporaryVolumeSpecification builds a specification for a temporary
// volume. Temporary volumes always start empty, are never read-only, and
// receive a locally generated identifier since the journal never sees them.
func NewTemporaryVolumeSpecification(name string, pageSize int) (*VolumeSpecification, error) {
	if name == "" {
		return nil, errs.IllegalState("temporary volume name cannot be empty")
	}
	if !IsValidPageSize(pageSize) {
		return nil, errs.IllegalState(
			"page size must be a power of two between 1024 and 16384, got %d", pageSize)
	}

	return &VolumeSpecification{
		path:      "temp:" + name,
		name:      name,
		pageSize:  pageSize,
		create:    true,
		temporary: true,
		id:        generateVolumeID(),
	}, nil
}

// generateVolumeID derives a random non-zero volume identifier from a UUID.
// Only temporary volumes use this path; persistent identifiers come from
// the journal or the backing store.
func generateVolumeID() primitives.VolumeID {
	for {
		u := uuid.New()
		id := primitives.VolumeID(binary.BigEndian.Uint64(u[:8]) &^ (1 << 63))
		if id.IsValid() {
			return id
		}
	}
}

// deriveVolumeID produces a stable non-zero identifier from a backing-store
// path, used when an existing store is opened without a journal-assigned
// identifier.
func deriveVolumeID(path string) primitives.VolumeID {
	h := fnv.New64a()
	h.Write([]byte(path))
	id := primitives.VolumeID(h.Sum64() &^ (1 << 63))
	if !id.IsValid() {
		return 1
	}
	return id
}

// Path returns the backing-store path.
func (s *VolumeSpecification) Path() string {
	return s.path
}

// Name returns the volume name.
func (s *VolumeSpecification) Name() string {
	return s.name
}

// PageSize returns the page size in bytes.
func (s *VolumeSpecification) PageSize() int {
	return s.pageSize
}

// IsCreate reports whether opening may create a missing backing store.
func (s *VolumeSpecification) IsCreate() bool {
	return s.create
}

// IsCreateOnly reports whether opening must create the backing store and
// fail if one already exists.
func (s *VolumeSpecification) IsCreateOnly() bool {
	return s.createOnly
}

// IsReadOnly reports whether the volume should be opened without update
// permission.
func (s *VolumeSpecification) IsReadOnly() bool {
	return s.readOnly
}

// IsTemporary reports whether the volume is ephemeral.
func (s *VolumeSpecification) IsTemporary() bool {
	return s.temporary
}

// ID returns the durable volume identifier, or 0 if not yet assigned.
func (s *VolumeSpecification) ID() primitives.VolumeID {
	return s.id
}

// Summary returns a one-line human-readable description.
func (s *VolumeSpecification) Summary() string {
	kind := "persistent"
	if s.temporary {
		kind = "temporary"
	}
	return fmt.Sprintf("%s(%s, pageSize=%d, path=%s)", s.name, kind, s.pageSize, s.path)
}

// String implements fmt.Stringer.
func (s *VolumeSpecification) String() string {
	return s.Summary()
}
