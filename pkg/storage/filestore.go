package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"volstore/pkg/errs"
	"volstore/pkg/primitives"
)

// FileStore is the persistent, file-backed PageStore implementation.
//
// Pages are numbered sequentially from 0 and stored at offset
// pageNo * pageSize. Every write is followed by a Sync so a page that has
// been written back is durable.
//
// Thread-safety: all public methods use a read-write mutex; reads may run
// concurrently, writes and allocation are exclusive.
type FileStore struct {
	path     string
	pageSize int

	mutex         sync.RWMutex
	file          *os.File // nil until opened, nil again after Close
	readOnly      bool
	nextPage      primitives.PageNumber // monotonic allocation counter
	extendedPages primitives.PageNumber // pages physically present in the file
}

// NewFileStore creates an unopened file store for the given path and page
// size. With readOnly the backing file is opened without write permission
// and every update path fails with a ReadOnly error. No I/O happens until
// Open or Create.
func NewFileStore(path string, pageSize int, readOnly bool) (*FileStore, error) {
	if path == "" {
		return nil, errs.IllegalState("backing store path cannot be empty")
	}
	if pageSize <= 0 {
		return nil, errs.IllegalState("page size must be positive, got %d", pageSize)
	}
	return &FileStore{
		path:     path,
		pageSize: pageSize,
		readOnly: readOnly,
	}, nil
}

// Open attaches to an existing backing file. If read-only mode was requested,
// or the file cannot be opened for writing, the store opens read-only.
func (f *FileStore) Open() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file != nil {
		return errs.IllegalState("store for %q is already open", f.path)
	}

	file, readOnly, err := openBackingFile(f.path, f.readOnly)
	if err != nil {
		return errs.Wrap(err, "Open")
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return errs.Wrap(err, "Open")
	}

	f.file = file
	f.readOnly = readOnly
	f.extendedPages = primitives.PageNumber(info.Size() / int64(f.pageSize))
	if info.Size()%int64(f.pageSize) != 0 {
		f.extendedPages++
	}
	f.nextPage = f.extendedPages
	if f.nextPage < 1 {
		f.nextPage = 1
	}
	return nil
}

// Create initializes a new backing file and reserves the head page.
// Fails if the file already exists.
func (f *FileStore) Create() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file != nil {
		return errs.IllegalState("store for %q is already open", f.path)
	}
	if f.readOnly {
		return errs.ReadOnly(f.path).WithOperation("Create")
	}

	file, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return errs.VolumeExists(f.path)
		}
		return errs.Wrap(err, "Create")
	}

	headPage := make([]byte, f.pageSize)
	if _, err := file.WriteAt(headPage, 0); err != nil {
		file.Close()
		os.Remove(f.path)
		return errs.Wrap(err, "Create")
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(f.path)
		return errs.Wrap(err, "Create")
	}

	f.file = file
	f.readOnly = false
	f.nextPage = 1
	f.extendedPages = 1
	return nil
}

// ReadPage reads the page at pageNo. Reading past the current extent returns
// a zero-filled page rather than an error, so callers can treat unwritten
// pages uniformly.
func (f *FileStore) ReadPage(pageNo primitives.PageNumber) ([]byte, error) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	if f.file == nil {
		return nil, errs.IllegalState("store for %q is not open", f.path)
	}
	if pageNo < 0 {
		return nil, errs.IllegalState("negative page number %d", pageNo)
	}

	data := make([]byte, f.pageSize)
	_, err := f.file.ReadAt(data, pageNo.Offset(f.pageSize))
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return data, nil
		}
		return nil, errs.Wrap(fmt.Errorf("read page %d of %q: %w", pageNo, f.path, err), "ReadPage")
	}
	return data, nil
}

// WritePage writes exactly one page at pageNo and syncs the file.
func (f *FileStore) WritePage(pageNo primitives.PageNumber, data []byte) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file == nil {
		return errs.IllegalState("store for %q is not open", f.path)
	}
	if f.readOnly {
		return errs.ReadOnly(f.path)
	}
	if len(data) != f.pageSize {
		return errs.IllegalState("invalid page data size: expected %d, got %d", f.pageSize, len(data))
	}
	if pageNo < 0 {
		return errs.IllegalState("negative page number %d", pageNo)
	}

	if _, err := f.file.WriteAt(data, pageNo.Offset(f.pageSize)); err != nil {
		return errs.Wrap(fmt.Errorf("write page %d of %q: %w", pageNo, f.path, err), "WritePage")
	}
	if err := f.file.Sync(); err != nil {
		return errs.Wrap(err, "WritePage")
	}

	if pageNo >= f.extendedPages {
		f.extendedPages = pageNo + 1
	}
	return nil
}

// AllocatePage atomically reserves the next available page number and
// extends the file with a zero-filled page so the extent grows immediately.
// Concurrent allocations each receive a unique page number.
func (f *FileStore) AllocatePage() (primitives.PageNumber, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file == nil {
		return 0, errs.IllegalState("store for %q is not open", f.path)
	}
	if f.readOnly {
		return 0, errs.ReadOnly(f.path)
	}

	pageNo := f.nextPage

	// Reserve the space now so the file size reflects the allocation before
	// the caller writes real content.
	zeroPage := make([]byte, f.pageSize)
	if _, err := f.file.WriteAt(zeroPage, pageNo.Offset(f.pageSize)); err != nil {
		return 0, errs.Wrap(fmt.Errorf("extend %q to page %d: %w", f.path, pageNo, err), "AllocatePage")
	}
	if err := f.file.Sync(); err != nil {
		return 0, errs.Wrap(err, "AllocatePage")
	}

	f.nextPage++
	if pageNo >= f.extendedPages {
		f.extendedPages = pageNo + 1
	}
	return pageNo, nil
}

// Truncate discards all pages beyond a fresh head page. The allocation
// counter restarts at 1.
func (f *FileStore) Truncate() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file == nil {
		return errs.IllegalState("store for %q is not open", f.path)
	}
	if f.readOnly {
		return errs.ReadOnly(f.path)
	}

	if err := f.file.Truncate(int64(f.pageSize)); err != nil {
		return errs.Wrap(err, "Truncate")
	}
	headPage := make([]byte, f.pageSize)
	if _, err := f.file.WriteAt(headPage, 0); err != nil {
		return errs.Wrap(err, "Truncate")
	}
	if err := f.file.Sync(); err != nil {
		return errs.Wrap(err, "Truncate")
	}

	f.nextPage = 1
	f.extendedPages = 1
	return nil
}

// Flush forces buffered writes to disk.
func (f *FileStore) Flush() error {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	if f.file == nil {
		return nil
	}
	if err := f.file.Sync(); err != nil {
		return errs.Wrap(err, "Flush")
	}
	return nil
}

// Close flushes and releases the file handle. Safe to call more than once.
func (f *FileStore) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file == nil {
		return nil
	}

	var err error
	if !f.readOnly {
		err = f.file.Sync()
	}
	if cerr := f.file.Close(); err == nil {
		err = cerr
	}
	f.file = nil
	if err != nil {
		return errs.Wrap(err, "Close")
	}
	return nil
}

// Delete removes the backing file. The store must be closed first. Reports
// whether a file was actually removed.
func (f *FileStore) Delete() (bool, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file != nil {
		return false, errs.IllegalState("store for %q must be closed before deletion", f.path)
	}

	err := os.Remove(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errs.Wrap(err, "Delete")
	}
	return true, nil
}

// IsOpened reports whether the store currently holds an open file handle.
func (f *FileStore) IsOpened() bool {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.file != nil
}

// IsReadOnly reports whether the store prohibits updates, either because
// read-only mode was requested or because the backing file could not be
// opened for writing.
func (f *FileStore) IsReadOnly() bool {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.readOnly
}

// IsTemporary always reports false for a file store.
func (f *FileStore) IsTemporary() bool {
	return false
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return f.path
}

// PageSize returns the fixed page size in bytes.
func (f *FileStore) PageSize() int {
	return f.pageSize
}

// NextAvailablePage returns the monotonic allocation counter.
func (f *FileStore) NextAvailablePage() primitives.PageNumber {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.nextPage
}

// ExtendedPageCount returns the number of pages physically present in the
// backing file.
func (f *FileStore) ExtendedPageCount() primitives.PageNumber {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.extendedPages
}

// openBackingFile opens path read-write, or read-only when requested or when
// the process lacks write permission. Reports which mode was used.
func openBackingFile(path string, readOnly bool) (*os.File, bool, error) {
	if readOnly {
		file, err := os.OpenFile(path, os.O_RDONLY, 0o644)
		if err != nil {
			return nil, false, err
		}
		return file, true, nil
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err == nil {
		return file, false, nil
	}
	if !errors.Is(err, fs.ErrPermission) {
		return nil, false, err
	}

	file, roErr := os.OpenFile(path, os.O_RDONLY, 0o644)
	if roErr != nil {
		return nil, false, err
	}
	return file, true, nil
}
