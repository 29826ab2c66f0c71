package buffer

import (
	"fmt"
	"sync"
	"sync/atomic"

	"volstore/pkg/primitives"
)

// mockStore is an in-memory storage.PageStore with failure injection for
// cache tests.
type mockStore struct {
	pageSize int

	mu        sync.Mutex
	pages     map[primitives.PageNumber][]byte
	failReads bool
	reads     int
	writes    int
}

func newMockStore(pageSize int) *mockStore {
	return &mockStore{
		pageSize: pageSize,
		pages:    make(map[primitives.PageNumber][]byte),
	}
}

func (m *mockStore) ReadPage(pageNo primitives.PageNumber) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failReads {
		return nil, fmt.Errorf("injected read failure for page %d", pageNo)
	}
	m.reads++
	data := make([]byte, m.pageSize)
	if stored, ok := m.pages[pageNo]; ok {
		copy(data, stored)
	}
	return data, nil
}

func (m *mockStore) WritePage(pageNo primitives.PageNumber, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writes++
	stored := make([]byte, m.pageSize)
	copy(stored, data)
	m.pages[pageNo] = stored
	return nil
}

func (m *mockStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *mockStore) pageContent(pageNo primitives.PageNumber) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pages[pageNo]
}

func (m *mockStore) Open() error   { return nil }
func (m *mockStore) Create() error { return nil }
func (m *mockStore) Close() error  { return nil }
func (m *mockStore) Truncate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages = make(map[primitives.PageNumber][]byte)
	return nil
}
func (m *mockStore) Delete() (bool, error) { return true, nil }
func (m *mockStore) Flush() error          { return nil }
func (m *mockStore) AllocatePage() (primitives.PageNumber, error) {
	return 0, fmt.Errorf("not supported")
}
func (m *mockStore) NextAvailablePage() primitives.PageNumber  { return 1 }
func (m *mockStore) ExtendedPageCount() primitives.PageNumber  { return 1 }
func (m *mockStore) IsOpened() bool                            { return true }
func (m *mockStore) IsReadOnly() bool                          { return false }
func (m *mockStore) IsTemporary() bool                         { return true }
func (m *mockStore) Path() string                              { return "mock" }
func (m *mockStore) PageSize() int                             { return m.pageSize }

// countingStats records cache accounting for assertions.
type countingStats struct {
	hits, misses, reads, writes atomic.Int64
}

func (s *countingStats) RecordHit()   { s.hits.Add(1) }
func (s *countingStats) RecordMiss()  { s.misses.Add(1) }
func (s *countingStats) RecordRead()  { s.reads.Add(1) }
func (s *countingStats) RecordWrite() { s.writes.Add(1) }
