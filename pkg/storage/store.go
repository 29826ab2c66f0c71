// Package storage provides the raw page-granular backing stores for volumes.
//
// A PageStore owns one volume's worth of fixed-size pages and knows nothing
// about trees, buffers, or lifecycle coordination: those live above it. Two
// implementations exist, a persistent file-backed store and an ephemeral
// in-memory store for temporary volumes, selected by the volume at open time.
package storage

import (
	"os"

	"volstore/pkg/primitives"
)

// PageStore is the raw backing-store contract consumed by a volume. All
// implementations are safe for concurrent use.
//
// Page 0 is reserved for the volume head page; AllocatePage never returns it.
type PageStore interface {
	// Open attaches to an existing backing store. Fails if none exists.
	Open() error

	// Create initializes a brand-new backing store, reserving the head page.
	// Fails if a store already exists at the path.
	Create() error

	// Close flushes and detaches from the backing store. Idempotent.
	Close() error

	// Truncate discards all content, leaving only a fresh head page.
	// The store remains open and usable afterward.
	Truncate() error

	// Delete physically removes the backing store. The store must be closed.
	// Reports whether anything was removed.
	Delete() (bool, error)

	// Flush forces buffered writes to durable storage.
	Flush() error

	// ReadPage returns the pageSize bytes at the given page number. Reading
	// past the current extent yields a zero-filled page.
	ReadPage(pageNo primitives.PageNumber) ([]byte, error)

	// WritePage persists exactly pageSize bytes at the given page number.
	WritePage(pageNo primitives.PageNumber, data []byte) error

	// AllocatePage reserves and returns the next available page number,
	// extending the store as needed. The allocation counter is monotonic.
	AllocatePage() (primitives.PageNumber, error)

	// NextAvailablePage returns the page number the next allocation will use.
	NextAvailablePage() primitives.PageNumber

	// ExtendedPageCount returns the number of pages physically present in
	// the backing store's extent.
	ExtendedPageCount() primitives.PageNumber

	// IsOpened reports whether Open or Create has succeeded and Close has
	// not yet been called.
	IsOpened() bool

	// IsReadOnly reports whether the backing store prohibits updates.
	IsReadOnly() bool

	// IsTemporary reports whether the store is ephemeral.
	IsTemporary() bool

	// Path returns the path the store was opened or created with.
	Path() string

	// PageSize returns the fixed page size in bytes.
	PageSize() int
}

// Exists reports whether a backing store is already present at path.
// Used by the volume open sequence to decide between Open and Create.
func Exists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
