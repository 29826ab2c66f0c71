package volume

import (
	"fmt"
	"sync/atomic"
)

// Statistics accumulates per-volume cache and allocation counters. The
// buffer cache records through the StatsRecorder interface; the volume
// resets the counters on close and truncate.
//
// All counters are atomic so recording never contends with page traffic.
type Statistics struct {
	reads       atomic.Int64
	writes      atomic.Int64
	hits        atomic.Int64
	misses      atomic.Int64
	allocations atomic.Int64
}

// NewStatistics returns zeroed counters.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// RecordHit counts a buffer-cache hit.
func (s *Statistics) RecordHit() { s.hits.Add(1) }

// RecordMiss counts a buffer-cache miss.
func (s *Statistics) RecordMiss() { s.misses.Add(1) }

// RecordRead counts a page read from the backing store.
func (s *Statistics) RecordRead() { s.reads.Add(1) }

// RecordWrite counts a page written back to the backing store.
func (s *Statistics) RecordWrite() { s.writes.Add(1) }

// RecordAllocation counts a page allocation.
func (s *Statistics) RecordAllocation() { s.allocations.Add(1) }

// Reads returns the number of pages read from the backing store.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Writes returns the number of pages written to the backing store.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Hits returns the number of buffer-cache hits.
func (s *Statistics) Hits() int64 { return s.hits.Load() }

// Misses returns the number of buffer-cache misses.
func (s *Statistics) Misses() int64 { return s.misses.Load() }

// Allocations returns the number of pages allocated.
func (s *Statistics) Allocations() int64 { return s.allocations.Load() }

// Reset zeroes every counter.
func (s *Statistics) Reset() {
	s.reads.Store(0)
	s.writes.Store(0)
	s.hits.Store(0)
	s.misses.Store(0)
	s.allocations.Store(0)
}

// String implements fmt.Stringer.
func (s *Statistics) String() string {
	return fmt.Sprintf("reads=%d writes=%d hits=%d misses=%d allocations=%d",
		s.Reads(), s.Writes(), s.Hits(), s.Misses(), s.Allocations())
}
