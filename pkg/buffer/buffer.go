// Package buffer provides the shared, capacity-bounded page cache used by
// every open volume in the process.
//
// The cache hands out claimed buffers: a claim is a shared or exclusive
// latch on one buffer that prevents eviction and conflicting access while
// held. Coarse lifecycle coordination (close/truncate) is built on top of
// the all-or-nothing Invalidate operation.
package buffer

import (
	"sync"

	"volstore/pkg/primitives"
)

// ClaimMode selects shared or exclusive access to a buffer.
type ClaimMode int

const (
	// SharedClaim permits concurrent readers and excludes writers.
	SharedClaim ClaimMode = iota

	// ExclusiveClaim permits a single writer and excludes everyone else.
	// Required before mutating page content.
	ExclusiveClaim
)

// String returns a readable name for the claim mode.
func (m ClaimMode) String() string {
	if m == ExclusiveClaim {
		return "exclusive"
	}
	return "shared"
}

// Buffer is one fixed-size page slot in the shared cache. It records which
// volume and page currently occupy the slot, the dirty flag, and the claim
// state: unclaimed, shared-claimed (N readers), or exclusively-claimed
// (1 writer).
//
// Buffers are indexed by slot number and reference their owning volume by
// identifier only; the cache never assumes the volume object is still alive.
//
// Claim state is synchronized per buffer so unrelated buffers never contend.
type Buffer struct {
	slot int

	mu      sync.Mutex
	cond    *sync.Cond
	readers int  // count of shared claims
	writer  bool // true while an exclusive claim is held

	volumeID primitives.VolumeID
	pageNo   primitives.PageNumber
	dirty    bool
	data     []byte
}

func newBuffer(slot, pageSize int) *Buffer {
	b := &Buffer{
		slot: slot,
		data: make([]byte, pageSize),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// grantable reports whether a claim of the given mode can be granted now.
// Shared claims coexist with other shared claims; an exclusive claim
// excludes everything. Caller must hold b.mu.
func (b *Buffer) grantable(mode ClaimMode) bool {
	if b.writer {
		return false
	}
	if mode == ExclusiveClaim {
		return b.readers == 0
	}
	return true
}

// grant records a granted claim. Caller must hold b.mu.
func (b *Buffer) grant(mode ClaimMode) {
	if mode == ExclusiveClaim {
		b.writer = true
	} else {
		b.readers++
	}
}

// Claim blocks until a claim of the given mode can be granted, then grants
// it. The claim must be released on every exit path of the operation that
// acquired it.
func (b *Buffer) Claim(mode ClaimMode) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for !b.grantable(mode) {
		b.cond.Wait()
	}
	b.grant(mode)
}

// TryClaim grants a claim of the given mode if it can be granted without
// waiting. Reports whether the claim was granted.
func (b *Buffer) TryClaim(mode ClaimMode) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.grantable(mode) {
		return false
	}
	b.grant(mode)
	return true
}

// Release releases one claim. Releasing an unclaimed buffer is a programming
// error and panics, mirroring sync.Mutex misuse.
func (b *Buffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.writer:
		b.writer = false
	case b.readers > 0:
		b.readers--
	default:
		panic("buffer: Release of unclaimed buffer")
	}
	b.cond.Broadcast()
}

// Downgrade converts the caller's exclusive claim into a shared claim,
// letting blocked readers proceed while the caller retains access.
func (b *Buffer) Downgrade() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.writer {
		panic("buffer: Downgrade without exclusive claim")
	}
	b.writer = false
	b.readers = 1
	b.cond.Broadcast()
}

// IsClaimed reports whether any claim is currently held.
func (b *Buffer) IsClaimed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writer || b.readers > 0
}

// Slot returns the buffer's slot number within the cache.
func (b *Buffer) Slot() int {
	return b.slot
}

// VolumeID returns the identifier of the volume that owns the cached page.
func (b *Buffer) VolumeID() primitives.VolumeID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.volumeID
}

// PageNumber returns the cached page's number within its volume.
func (b *Buffer) PageNumber() primitives.PageNumber {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pageNo
}

// IsDirty reports whether the buffer holds modifications not yet written
// back to the backing store.
func (b *Buffer) IsDirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty
}

// MarkDirty flags the buffer as modified. The caller must hold an exclusive
// claim.
func (b *Buffer) MarkDirty() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.writer {
		panic("buffer: MarkDirty without exclusive claim")
	}
	b.dirty = true
}

// Data returns the page content. The caller must hold a claim: shared for
// reading, exclusive for writing.
func (b *Buffer) Data() []byte {
	return b.data
}

// holds reports whether the buffer currently maps the given page. Used by
// fetch to revalidate after blocking on a claim, since the slot may have
// been evicted and reused while waiting.
func (b *Buffer) holds(volumeID primitives.VolumeID, pageNo primitives.PageNumber) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.volumeID == volumeID && b.pageNo == pageNo
}

// setPage re-targets the slot at a new page. Caller must hold an exclusive
// claim (it is the only claimant, so nobody can observe a torn update).
func (b *Buffer) setPage(volumeID primitives.VolumeID, pageNo primitives.PageNumber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.volumeID = volumeID
	b.pageNo = pageNo
	b.dirty = false
}

// markClean clears the dirty flag after a successful write-back. Caller must
// hold at least a shared claim, which excludes concurrent writers.
func (b *Buffer) markClean() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dirty = false
}
