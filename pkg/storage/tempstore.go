package storage

import (
	"sync"

	"volstore/pkg/errs"
	"volstore/pkg/primitives"
)

// TempStore is the ephemeral PageStore used by temporary volumes. Pages live
// in process memory and vanish when the store is closed or deleted, so a
// temporary volume's content is always reproducible.
//
// A TempStore is never read-only and never survives the process.
type TempStore struct {
	path     string // advisory only; nothing exists on disk
	pageSize int

	mutex    sync.RWMutex
	opened   bool
	pages    map[primitives.PageNumber][]byte
	nextPage primitives.PageNumber
	extended primitives.PageNumber
}

// NewTempStore creates an unopened temporary store. The path is advisory,
// used only for identification in logs and registry lookups.
func NewTempStore(path string, pageSize int) (*TempStore, error) {
	if pageSize <= 0 {
		return nil, errs.IllegalState("page size must be positive, got %d", pageSize)
	}
	return &TempStore{
		path:     path,
		pageSize: pageSize,
	}, nil
}

// Open always fails: a temporary store has no pre-existing content to attach
// to. Use Create.
func (t *TempStore) Open() error {
	return errs.IllegalState("temporary store %q cannot be reopened", t.path)
}

// Create initializes the in-memory page map with a head page.
func (t *TempStore) Create() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.opened {
		return errs.IllegalState("temporary store %q is already open", t.path)
	}

	t.pages = map[primitives.PageNumber][]byte{
		0: make([]byte, t.pageSize),
	}
	t.nextPage = 1
	t.extended = 1
	t.opened = true
	return nil
}

// ReadPage returns a copy of the page at pageNo, or a zero-filled page for
// pages that were never written.
func (t *TempStore) ReadPage(pageNo primitives.PageNumber) ([]byte, error) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if !t.opened {
		return nil, errs.IllegalState("temporary store %q is not open", t.path)
	}
	if pageNo < 0 {
		return nil, errs.IllegalState("negative page number %d", pageNo)
	}

	data := make([]byte, t.pageSize)
	if stored, ok := t.pages[pageNo]; ok {
		copy(data, stored)
	}
	return data, nil
}

// WritePage stores a copy of data at pageNo.
func (t *TempStore) WritePage(pageNo primitives.PageNumber, data []byte) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.opened {
		return errs.IllegalState("temporary store %q is not open", t.path)
	}
	if len(data) != t.pageSize {
		return errs.IllegalState("invalid page data size: expected %d, got %d", t.pageSize, len(data))
	}
	if pageNo < 0 {
		return errs.IllegalState("negative page number %d", pageNo)
	}

	stored := make([]byte, t.pageSize)
	copy(stored, data)
	t.pages[pageNo] = stored

	if pageNo >= t.extended {
		t.extended = pageNo + 1
	}
	return nil
}

// AllocatePage reserves the next available page number.
func (t *TempStore) AllocatePage() (primitives.PageNumber, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.opened {
		return 0, errs.IllegalState("temporary store %q is not open", t.path)
	}

	pageNo := t.nextPage
	t.nextPage++
	t.pages[pageNo] = make([]byte, t.pageSize)
	if pageNo >= t.extended {
		t.extended = pageNo + 1
	}
	return pageNo, nil
}

// Truncate discards everything but a fresh head page.
func (t *TempStore) Truncate() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.opened {
		return errs.IllegalState("temporary store %q is not open", t.path)
	}

	t.pages = map[primitives.PageNumber][]byte{
		0: make([]byte, t.pageSize),
	}
	t.nextPage = 1
	t.extended = 1
	return nil
}

// Flush is a no-op for in-memory content.
func (t *TempStore) Flush() error {
	return nil
}

// Close marks the store closed. The page map is retained until Delete so
// that a closed-then-deleted sequence can report what it removed.
func (t *TempStore) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.opened = false
	return nil
}

// Delete releases the page map. Reports whether content existed.
func (t *TempStore) Delete() (bool, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.opened {
		return false, errs.IllegalState("temporary store %q must be closed before deletion", t.path)
	}

	existed := t.pages != nil
	t.pages = nil
	return existed, nil
}

// IsOpened reports whether Create has succeeded and Close has not been called.
func (t *TempStore) IsOpened() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.opened
}

// IsReadOnly always reports false for a temporary store.
func (t *TempStore) IsReadOnly() bool {
	return false
}

// IsTemporary always reports true.
func (t *TempStore) IsTemporary() bool {
	return true
}

// Path returns the advisory path of this store.
func (t *TempStore) Path() string {
	return t.path
}

// PageSize returns the fixed page size in bytes.
func (t *TempStore) PageSize() int {
	return t.pageSize
}

// NextAvailablePage returns the monotonic allocation counter.
func (t *TempStore) NextAvailablePage() primitives.PageNumber {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.nextPage
}

// ExtendedPageCount returns the number of pages currently held in memory.
func (t *TempStore) ExtendedPageCount() primitives.PageNumber {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.extended
}
