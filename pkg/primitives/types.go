package primitives

import "fmt"

// VolumeID is the durable identifier of a volume. It is assigned exactly once,
// either by the journal when a persistent volume is first created or generated
// locally for temporary volumes, and is recorded in journal records that refer
// to the volume.
//
// A VolumeID of 0 means "not yet assigned".
type VolumeID int64

// PageNumber is the zero-based index of a page within a volume's backing
// store. Page 0 is reserved for the volume head page.
type PageNumber int64

// Handle is a small one-shot-assigned integer that identifies a Volume or
// Tree compactly in journal records. A Handle of 0 means "not yet assigned".
type Handle int32

// Sentinel values for invalid/unset identifiers.
const (
	// InvalidVolumeID represents an unassigned volume identifier.
	InvalidVolumeID VolumeID = 0

	// InvalidPageNumber represents an invalid or unset page number.
	// Used for: no root page, uninitialized references.
	InvalidPageNumber PageNumber = 0

	// InvalidHandle represents an unassigned journal handle.
	InvalidHandle Handle = 0
)

// IsValid checks if the VolumeID is a valid non-zero identifier.
func (v VolumeID) IsValid() bool {
	return v != InvalidVolumeID
}

// String returns a string representation of the VolumeID.
func (v VolumeID) String() string {
	return fmt.Sprintf("VolumeID(%d)", int64(v))
}

// IsValid checks if the Handle is a valid non-zero identifier.
func (h Handle) IsValid() bool {
	return h != InvalidHandle
}

// Offset returns the byte offset of the page within its backing store for
// the given page size.
func (p PageNumber) Offset(pageSize int) int64 {
	return int64(p) * int64(pageSize)
}
