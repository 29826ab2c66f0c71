package volume

import (
	"bytes"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"volstore/pkg/buffer"
	"volstore/pkg/errs"
	"volstore/pkg/primitives"
	"volstore/pkg/storage"
)

const testPageSize = 4096

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	cache, err := buffer.NewBufferCache(32*testPageSize, testPageSize)
	if err != nil {
		t.Fatalf("failed to build buffer cache: %v", err)
	}
	return NewRegistry(cache)
}

func testConfig() Config {
	return Config{RetryInterval: 5 * time.Millisecond}
}

func createTestVolume(t *testing.T, r *Registry, path string) *Volume {
	t.Helper()
	spec, err := NewVolumeSpecification(path, testPageSize, true, false, false)
	if err != nil {
		t.Fatalf("failed to build specification: %v", err)
	}
	v, err := r.Open(spec, testConfig())
	if err != nil {
		t.Fatalf("failed to open volume: %v", err)
	}
	return v
}

func TestVolume_OpenCreate(t *testing.T) {
	r := newTestRegistry(t)
	path := filepath.Join(t.TempDir(), "data.vol")

	v := createTestVolume(t, r, path)
	defer v.Close()

	if !v.IsOpened() {
		t.Error("expected the volume to be open")
	}
	if v.IsClosed() || v.IsClosing() {
		t.Error("a freshly opened volume must not be closing or closed")
	}
	if !v.ID().IsValid() {
		t.Error("open must settle the volume identifier")
	}
	if v.PageSize() != testPageSize {
		t.Errorf("expected page size %d, got %d", testPageSize, v.PageSize())
	}
	if got, ok := r.Volume("data"); !ok || got != v {
		t.Error("open must register the volume under its name")
	}
	if v.Statistics() == nil {
		t.Error("open must wire statistics")
	}
}

func TestVolume_OpenPolicyErrors(t *testing.T) {
	r := newTestRegistry(t)
	dir := t.TempDir()

	// A create-only open must reject an existing backing store.
	path := filepath.Join(dir, "existing.vol")
	v := createTestVolume(t, r, path)
	if err := v.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	spec, err := NewVolumeSpecification(path, testPageSize, false, true, false)
	if err != nil {
		t.Fatalf("failed to build specification: %v", err)
	}
	if _, err := r.Open(spec, testConfig()); !errs.IsVolumeExists(err) {
		t.Errorf("expected a volume-exists error, got %v", err)
	}

	// An open without create must reject a missing backing store.
	missing := filepath.Join(dir, "missing.vol")
	spec, err = NewVolumeSpecification(missing, testPageSize, false, false, false)
	if err != nil {
		t.Fatalf("failed to build specification: %v", err)
	}
	if _, err := r.Open(spec, testConfig()); !errs.IsVolumeNotFound(err) {
		t.Errorf("expected a volume-not-found error, got %v", err)
	}
}

func TestVolume_DoubleOpen(t *testing.T) {
	r := newTestRegistry(t)
	path := filepath.Join(t.TempDir(), "dup.vol")

	v := createTestVolume(t, r, path)
	defer v.Close()

	if err := v.Open(); !errs.IsIllegalState(err) {
		t.Errorf("expected an illegal-state error on double open, got %v", err)
	}

	spec, err := NewVolumeSpecification(path, testPageSize, false, false, false)
	if err != nil {
		t.Fatalf("failed to build specification: %v", err)
	}
	if _, err := r.Open(spec, testConfig()); !errs.IsIllegalState(err) {
		t.Errorf("expected an illegal-state error on duplicate open, got %v", err)
	}
}

func TestVolume_CloseWaitsForOutstandingClaim(t *testing.T) {
	r := newTestRegistry(t)
	v := createTestVolume(t, r, filepath.Join(t.TempDir(), "busy.vol"))

	buf, err := v.Page(1, buffer.ExclusiveClaim)
	if err != nil {
		t.Fatalf("failed to claim page: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- v.Close()
	}()

	// Close must keep retrying while the claim is held.
	select {
	case err := <-done:
		t.Fatalf("close returned while a claim was outstanding: %v", err)
	case <-time.After(5 * testConfig().RetryInterval):
	}
	if v.IsClosed() {
		t.Fatal("volume reported closed while a claim was outstanding")
	}
	if !v.IsClosing() {
		t.Fatal("close must set the closing flag immediately")
	}

	v.ReleasePage(buf)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("close failed after claim release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("close did not complete after the claim was released")
	}

	if !v.IsClosed() || v.IsOpened() {
		t.Error("expected closed state after close returns")
	}
}

func TestVolume_OperationsAfterClose(t *testing.T) {
	r := newTestRegistry(t)
	v := createTestVolume(t, r, filepath.Join(t.TempDir(), "done.vol"))

	if err := v.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if _, err := v.Page(1, buffer.SharedClaim); !errs.IsAlreadyClosing(err) {
		t.Errorf("expected an already-closing error from Page, got %v", err)
	}
	if _, err := v.GetTree("t", true); !errs.IsAlreadyClosing(err) {
		t.Errorf("expected an already-closing error from GetTree, got %v", err)
	}
	if _, err := v.TreeNames(); !errs.IsAlreadyClosing(err) {
		t.Errorf("expected an already-closing error from TreeNames, got %v", err)
	}
	if err := v.Truncate(); !errs.IsAlreadyClosing(err) {
		t.Errorf("expected an already-closing error from Truncate, got %v", err)
	}
	if err := v.Open(); !errs.IsAlreadyClosing(err) {
		t.Errorf("expected an already-closing error from Open, got %v", err)
	}
	if err := v.Close(); err != nil {
		t.Errorf("a repeated close must be a no-op, got %v", err)
	}
	if _, ok := r.Volume("done"); ok {
		t.Error("close must deregister the volume")
	}
}

func TestVolume_CloseFlushesDirtyPages(t *testing.T) {
	r := newTestRegistry(t)
	path := filepath.Join(t.TempDir(), "durable.vol")
	v := createTestVolume(t, r, path)

	buf, err := v.Page(2, buffer.ExclusiveClaim)
	if err != nil {
		t.Fatalf("failed to claim page: %v", err)
	}
	payload := bytes.Repeat([]byte{0xAB}, 16)
	copy(buf.Data(), payload)
	buf.MarkDirty()
	v.ReleasePage(buf)

	if err := v.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	spec, err := NewVolumeSpecification(path, testPageSize, false, false, false)
	if err != nil {
		t.Fatalf("failed to build specification: %v", err)
	}
	reopened, err := r.Open(spec, testConfig())
	if err != nil {
		t.Fatalf("failed to reopen volume: %v", err)
	}
	defer reopened.Close()

	buf, err = reopened.Page(2, buffer.SharedClaim)
	if err != nil {
		t.Fatalf("failed to fetch page after reopen: %v", err)
	}
	if !bytes.Equal(buf.Data()[:len(payload)], payload) {
		t.Error("dirty page content was not flushed by close")
	}
	reopened.ReleasePage(buf)
}

func TestVolume_CloseKeepsWriteLandedDuringRetry(t *testing.T) {
	r := newTestRegistry(t)
	path := filepath.Join(t.TempDir(), "race.vol")
	v := createTestVolume(t, r, path)

	// Hold an exclusive claim so close enters its retry loop; the flush pass
	// skips an exclusively claimed page.
	buf, err := v.Page(1, buffer.ExclusiveClaim)
	if err != nil {
		t.Fatalf("failed to claim page: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- v.Close()
	}()

	// Let close cycle through a few flush/invalidate attempts, then land the
	// write and release. The dirty page must survive the close.
	time.Sleep(3 * testConfig().RetryInterval)
	payload := bytes.Repeat([]byte{0xC4}, 16)
	copy(buf.Data(), payload)
	buf.MarkDirty()
	v.ReleasePage(buf)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("close failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("close did not complete after the claim was released")
	}

	spec, err := NewVolumeSpecification(path, testPageSize, false, false, false)
	if err != nil {
		t.Fatalf("failed to build specification: %v", err)
	}
	reopened, err := r.Open(spec, testConfig())
	if err != nil {
		t.Fatalf("failed to reopen volume: %v", err)
	}
	defer reopened.Close()

	buf, err = reopened.Page(1, buffer.SharedClaim)
	if err != nil {
		t.Fatalf("failed to fetch page after reopen: %v", err)
	}
	if !bytes.Equal(buf.Data()[:len(payload)], payload) {
		t.Error("a write landed during close was lost")
	}
	reopened.ReleasePage(buf)
}

func TestVolume_OpenReadOnly(t *testing.T) {
	r := newTestRegistry(t)
	path := filepath.Join(t.TempDir(), "frozen.vol")

	v := createTestVolume(t, r, path)
	if _, err := v.GetTree("index", true); err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}
	buf, err := v.Page(1, buffer.ExclusiveClaim)
	if err != nil {
		t.Fatalf("failed to claim page: %v", err)
	}
	buf.Data()[0] = 0x7E
	buf.MarkDirty()
	v.ReleasePage(buf)
	if err := v.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	spec, err := NewVolumeSpecification(path, testPageSize, false, false, true)
	if err != nil {
		t.Fatalf("failed to build specification: %v", err)
	}
	v, err = r.Open(spec, testConfig())
	if err != nil {
		t.Fatalf("failed to reopen volume read-only: %v", err)
	}
	defer v.Close()

	if !v.IsReadOnly() {
		t.Fatal("volume must honor the read-only request")
	}

	// Reads still work.
	buf, err = v.Page(1, buffer.SharedClaim)
	if err != nil {
		t.Fatalf("failed to fetch page on read-only volume: %v", err)
	}
	if buf.Data()[0] != 0x7E {
		t.Error("read-only volume returned wrong page content")
	}
	v.ReleasePage(buf)

	// Every update path fails with a read-only error.
	if _, err := v.GetTree("new-tree", true); !errs.IsReadOnly(err) {
		t.Errorf("expected a read-only error from tree creation, got %v", err)
	}
	if err := v.Truncate(); !errs.IsReadOnly(err) {
		t.Errorf("expected a read-only error from Truncate, got %v", err)
	}
}

func TestVolume_TruncateNotAllowedOnAttachedOpen(t *testing.T) {
	r := newTestRegistry(t)
	path := filepath.Join(t.TempDir(), "attach.vol")

	v := createTestVolume(t, r, path)
	if err := v.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	spec, err := NewVolumeSpecification(path, testPageSize, false, false, false)
	if err != nil {
		t.Fatalf("failed to build specification: %v", err)
	}
	v, err = r.Open(spec, testConfig())
	if err != nil {
		t.Fatalf("failed to reopen volume: %v", err)
	}
	defer v.Close()

	if err := v.Truncate(); !errs.IsTruncateNotAllowed(err) {
		t.Fatalf("expected a truncate-not-allowed error, got %v", err)
	}

	// The failed truncate must leave the volume fully usable.
	if !v.IsOpened() {
		t.Error("volume must remain open after a rejected truncate")
	}
	if _, err := v.GetTree("still-works", true); err != nil {
		t.Errorf("volume must remain usable after a rejected truncate: %v", err)
	}
}

func TestVolume_TruncateResetsContent(t *testing.T) {
	r := newTestRegistry(t)
	v := createTestVolume(t, r, filepath.Join(t.TempDir(), "reset.vol"))
	defer v.Close()

	if _, err := v.GetTree("a", true); err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}
	if _, err := v.GetTree("b", true); err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}

	buf, err := v.Page(1, buffer.ExclusiveClaim)
	if err != nil {
		t.Fatalf("failed to claim page: %v", err)
	}
	buf.Data()[0] = 0xFF
	buf.MarkDirty()
	v.ReleasePage(buf)

	if err := v.Truncate(); err != nil {
		t.Fatalf("truncate failed: %v", err)
	}

	names, err := v.TreeNames()
	if err != nil {
		t.Fatalf("tree names failed: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected an empty tree directory, got %v", names)
	}
	if v.Statistics().Allocations() != 0 {
		t.Error("truncate must reset statistics")
	}
	if !v.IsOpened() {
		t.Error("volume must remain open after truncate")
	}
	if next := v.NextAvailablePage(); next != 1 {
		t.Errorf("expected allocation counter reset to 1, got %d", next)
	}

	// The volume stays usable: trees can be created again.
	if _, err := v.GetTree("fresh", true); err != nil {
		t.Errorf("volume must remain usable after truncate: %v", err)
	}
}

func TestVolume_TruncateWaitsForOutstandingClaim(t *testing.T) {
	r := newTestRegistry(t)
	v := createTestVolume(t, r, filepath.Join(t.TempDir(), "trunc.vol"))
	defer v.Close()

	buf, err := v.Page(1, buffer.SharedClaim)
	if err != nil {
		t.Fatalf("failed to claim page: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- v.Truncate()
	}()

	select {
	case err := <-done:
		t.Fatalf("truncate returned while a claim was outstanding: %v", err)
	case <-time.After(5 * testConfig().RetryInterval):
	}

	v.ReleasePage(buf)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("truncate failed after claim release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("truncate did not complete after the claim was released")
	}
}

func TestVolume_ConcurrentSetHandle(t *testing.T) {
	r := newTestRegistry(t)
	v := createTestVolume(t, r, filepath.Join(t.TempDir(), "handles.vol"))
	defer v.Close()

	var wg sync.WaitGroup
	errors := make([]error, 2)
	start := make(chan struct{})
	for i, h := range []int32{7, 9} {
		wg.Add(1)
		go func(idx int, handle int32) {
			defer wg.Done()
			<-start
			errors[idx] = v.SetHandle(primitives.Handle(handle))
		}(i, h)
	}
	close(start)
	wg.Wait()

	failures := 0
	for _, err := range errors {
		if err != nil {
			if !errs.IsIllegalState(err) {
				t.Errorf("expected an illegal-state error, got %v", err)
			}
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("expected exactly one losing assignment, got %d failures", failures)
	}

	won := v.Handle()
	if won != 7 && won != 9 {
		t.Fatalf("expected the stored handle to be one of the contenders, got %d", won)
	}
	if errors[0] == nil && won != 7 || errors[1] == nil && won != 9 {
		t.Errorf("stored handle %d does not match the winning assignment", won)
	}
}

func TestVolume_SetIDDiscipline(t *testing.T) {
	r := newTestRegistry(t)
	v := NewHollowVolume("ids", 0, r, testConfig())

	if err := v.SetID(100); err != nil {
		t.Fatalf("first assignment failed: %v", err)
	}
	if err := v.SetID(100); err != nil {
		t.Errorf("idempotent re-assignment failed: %v", err)
	}
	if err := v.SetID(200); !errs.IsIllegalState(err) {
		t.Errorf("expected an illegal-state error on conflicting assignment, got %v", err)
	}
	if v.ID() != 100 {
		t.Errorf("expected the first identifier to stick, got %s", v.ID())
	}
}

func TestVolume_VerifyID(t *testing.T) {
	r := newTestRegistry(t)
	v := NewHollowVolume("verify", 100, r, testConfig())

	if err := v.VerifyID(100); err != nil {
		t.Errorf("matching identifiers must verify: %v", err)
	}
	if err := v.VerifyID(0); err != nil {
		t.Errorf("an unassigned expectation must verify: %v", err)
	}
	if err := v.VerifyID(200); !errs.IsWrongVolume(err) {
		t.Errorf("expected a wrong-volume error, got %v", err)
	}
}

func TestVolume_DeleteRequiresClose(t *testing.T) {
	r := newTestRegistry(t)
	path := filepath.Join(t.TempDir(), "gone.vol")
	v := createTestVolume(t, r, path)

	if _, err := v.Delete(); !errs.IsIllegalState(err) {
		t.Fatalf("expected an illegal-state error deleting an open volume, got %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	removed, err := v.Delete()
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !removed {
		t.Error("expected delete to remove the backing store")
	}
	if storage.Exists(path) {
		t.Error("backing store still present after delete")
	}
}

func TestVolume_Temporary(t *testing.T) {
	r := newTestRegistry(t)
	v, err := r.OpenTemporary("scratch", testPageSize, testConfig())
	if err != nil {
		t.Fatalf("failed to open temporary volume: %v", err)
	}

	if !v.IsTemporary() {
		t.Error("expected a temporary volume")
	}

	buf, err := v.Page(1, buffer.ExclusiveClaim)
	if err != nil {
		t.Fatalf("failed to claim page: %v", err)
	}
	buf.Data()[0] = 0x42
	buf.MarkDirty()
	v.ReleasePage(buf)

	// Temporary content is always reproducible, so truncate is allowed.
	if err := v.Truncate(); err != nil {
		t.Fatalf("truncate of a temporary volume failed: %v", err)
	}

	if err := v.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if removed, err := v.Delete(); err != nil || !removed {
		t.Errorf("expected delete to discard temporary content, got removed=%v err=%v", removed, err)
	}
}

func TestVolume_HollowVolume(t *testing.T) {
	r := newTestRegistry(t)
	v := NewHollowVolume("recovered", 77, r, testConfig())

	if err := v.Open(); !errs.IsIllegalState(err) {
		t.Fatalf("expected an illegal-state error opening without a specification, got %v", err)
	}

	wrong, err := NewVolumeSpecification(filepath.Join(t.TempDir(), "other.vol"), testPageSize, true, false, false)
	if err != nil {
		t.Fatalf("failed to build specification: %v", err)
	}
	if err := v.SetSpecification(wrong); !errs.IsWrongVolume(err) {
		t.Fatalf("expected a wrong-volume error for a mismatched name, got %v", err)
	}

	spec, err := NewVolumeSpecification(filepath.Join(t.TempDir(), "recovered.vol"), testPageSize, true, false, false)
	if err != nil {
		t.Fatalf("failed to build specification: %v", err)
	}
	if err := v.SetSpecification(spec); err != nil {
		t.Fatalf("failed to attach specification: %v", err)
	}
	if err := v.SetSpecification(spec); !errs.IsIllegalState(err) {
		t.Errorf("expected an illegal-state error re-attaching a specification, got %v", err)
	}

	if err := v.Open(); err != nil {
		t.Fatalf("failed to open hollow volume: %v", err)
	}
	defer v.Close()

	if v.ID() != 77 {
		t.Errorf("open must preserve the recovered identifier, got %s", v.ID())
	}
}

func TestVolume_AppCache(t *testing.T) {
	r := newTestRegistry(t)
	v := NewHollowVolume("cacheable", 0, r, testConfig())

	if v.AppCache() != nil {
		t.Error("expected an empty application cache initially")
	}
	v.SetAppCache(42)
	if got := v.AppCache(); got != 42 {
		t.Errorf("expected 42, got %v", got)
	}
	v.SetAppCache("replaced")
	if got := v.AppCache(); got != "replaced" {
		t.Errorf("expected %q, got %v", "replaced", got)
	}
}

func TestVolume_Equals(t *testing.T) {
	r := newTestRegistry(t)
	a := NewHollowVolume("same", 1, r, testConfig())
	b := NewHollowVolume("same", 1, r, testConfig())
	c := NewHollowVolume("same", 2, r, testConfig())
	d := NewHollowVolume("other", 1, r, testConfig())

	if !a.Equals(b) {
		t.Error("volumes with equal name and id must be equal")
	}
	if a.Equals(c) {
		t.Error("volumes with differing ids must not be equal")
	}
	if a.Equals(d) {
		t.Error("volumes with differing names must not be equal")
	}
	if a.Equals(nil) {
		t.Error("a volume never equals nil")
	}
}

func TestVolume_StatisticsTrackCacheTraffic(t *testing.T) {
	r := newTestRegistry(t)
	v := createTestVolume(t, r, filepath.Join(t.TempDir(), "stats.vol"))
	defer v.Close()

	buf, err := v.Page(3, buffer.SharedClaim)
	if err != nil {
		t.Fatalf("failed to fetch page: %v", err)
	}
	v.ReleasePage(buf)

	buf, err = v.Page(3, buffer.SharedClaim)
	if err != nil {
		t.Fatalf("failed to fetch page: %v", err)
	}
	v.ReleasePage(buf)

	stats := v.Statistics()
	if stats.Misses() != 1 {
		t.Errorf("expected one miss, got %d", stats.Misses())
	}
	if stats.Hits() != 1 {
		t.Errorf("expected one hit, got %d", stats.Hits())
	}
	if stats.Reads() != 1 {
		t.Errorf("expected one backing-store read, got %d", stats.Reads())
	}
}

func TestRegistry_Volumes(t *testing.T) {
	r := newTestRegistry(t)
	dir := t.TempDir()

	b := createTestVolume(t, r, filepath.Join(dir, "bravo.vol"))
	defer b.Close()
	a := createTestVolume(t, r, filepath.Join(dir, "alpha.vol"))
	defer a.Close()

	volumes := r.Volumes()
	if len(volumes) != 2 {
		t.Fatalf("expected two registered volumes, got %d", len(volumes))
	}
	if volumes[0].Name() != "alpha" || volumes[1].Name() != "bravo" {
		t.Errorf("expected name ordering, got %s, %s", volumes[0].Name(), volumes[1].Name())
	}
}
