package primitives

import "sync/atomic"

// OnceValue is an atomic cell that permits a single zero→non-zero transition.
// It backs the identifier and handle fields of volumes and trees, which are
// shared with the journal and therefore must never change once assigned.
//
// The zero value is ready to use.
//
// Assignment rules:
//   - Assigning 0 resets the cell to unassigned.
//   - Assigning the already-stored value is an idempotent no-op.
//   - The first non-zero assignment wins; any later assignment of a
//     different non-zero value is rejected.
//
// Concurrent first assignments race through a compare-and-set, so exactly
// one caller wins and every other caller observes a rejection.
type OnceValue struct {
	v atomic.Int64
}

// Get returns the currently stored value, or 0 if unassigned.
func (o *OnceValue) Get() int64 {
	return o.v.Load()
}

// Assign attempts to store val. It reports whether the cell holds val (or 0,
// for a reset) when it returns. A false return means the cell was already
// assigned a different non-zero value.
func (o *OnceValue) Assign(val int64) bool {
	if val == 0 {
		o.v.Store(0)
		return true
	}
	if o.v.CompareAndSwap(0, val) {
		return true
	}
	return o.v.Load() == val
}

// IsAssigned reports whether a non-zero value has been stored.
func (o *OnceValue) IsAssigned() bool {
	return o.v.Load() != 0
}
