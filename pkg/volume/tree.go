package volume

import (
	"fmt"
	"sync/atomic"

	"volstore/pkg/errs"
	"volstore/pkg/primitives"
)

// Tree is a named index directory entry inside a volume. It carries the
// root page of the index and a journal handle that is assigned at most
// once for the life of the tree.
type Tree struct {
	name     string
	volumeID primitives.VolumeID
	rootPage atomic.Int64
	handle   primitives.OnceValue
}

// NewTree creates a tree rooted at rootPage inside the volume identified
// by volumeID.
func NewTree(name string, volumeID primitives.VolumeID, rootPage primitives.PageNumber) *Tree {
	t := &Tree{name: name, volumeID: volumeID}
	t.rootPage.Store(int64(rootPage))
	return t
}

// Name returns the tree's name.
func (t *Tree) Name() string { return t.name }

// VolumeID returns the identifier of the volume that owns the tree.
func (t *Tree) VolumeID() primitives.VolumeID { return t.volumeID }

// RootPage returns the current root page of the tree.
func (t *Tree) RootPage() primitives.PageNumber {
	return primitives.PageNumber(t.rootPage.Load())
}

// SetRootPage moves the tree's root to page. The root changes when the
// index grows or shrinks a level.
func (t *Tree) SetRootPage(page primitives.PageNumber) {
	t.rootPage.Store(int64(page))
}

// Handle returns the tree's journal handle, or primitives.InvalidHandle
// if none has been assigned yet.
func (t *Tree) Handle() primitives.Handle {
	return primitives.Handle(t.handle.Get())
}

// SetHandle assigns the tree's journal handle. The first caller wins;
// assigning the same value again is a no-op, while a conflicting value
// returns an illegal-state error. Assigning zero resets the handle.
func (t *Tree) SetHandle(h primitives.Handle) error {
	if !t.handle.Assign(int64(h)) {
		return errs.IllegalState("tree %q already has handle %d, cannot assign %d",
			t.name, t.Handle(), h)
	}
	return nil
}

// String implements fmt.Stringer.
func (t *Tree) String() string {
	return fmt.Sprintf("Tree(%s root=%d)", t.name, t.RootPage())
}
