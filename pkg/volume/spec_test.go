package volume

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestIsValidPageSize(t *testing.T) {
	valid := []int{1024, 2048, 4096, 8192, 16384}
	for _, size := range valid {
		if !IsValidPageSize(size) {
			t.Errorf("expected page size %d to be valid", size)
		}
	}

	invalid := []int{0, 512, 1000, 3000, 4095, 32768, -4096}
	for _, size := range invalid {
		if IsValidPageSize(size) {
			t.Errorf("expected page size %d to be invalid", size)
		}
	}
}

func TestNewVolumeSpecification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.vol")
	spec, err := NewVolumeSpecification(path, 4096, true, false, false)
	if err != nil {
		t.Fatalf("failed to build specification: %v", err)
	}

	if spec.Name() != "orders" {
		t.Errorf("expected name %q, got %q", "orders", spec.Name())
	}
	if spec.Path() != path {
		t.Errorf("expected path %q, got %q", path, spec.Path())
	}
	if spec.PageSize() != 4096 {
		t.Errorf("expected page size 4096, got %d", spec.PageSize())
	}
	if !spec.IsCreate() || spec.IsCreateOnly() || spec.IsReadOnly() || spec.IsTemporary() {
		t.Errorf("unexpected flags: %s", spec)
	}
}

func TestNewVolumeSpecification_CreateOnlyImpliesCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.vol")
	spec, err := NewVolumeSpecification(path, 4096, false, true, false)
	if err != nil {
		t.Fatalf("failed to build specification: %v", err)
	}
	if !spec.IsCreate() {
		t.Error("createOnly should imply create")
	}
	if !spec.IsCreateOnly() {
		t.Error("expected createOnly to be set")
	}
}

func TestNewVolumeSpecification_Rejections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.vol")

	if _, err := NewVolumeSpecification(path, 1000, false, false, false); err == nil {
		t.Error("expected an error for a non-power-of-two page size")
	}
	if _, err := NewVolumeSpecification(path, 4096, false, true, true); err == nil {
		t.Error("expected an error for createOnly combined with readOnly")
	}
	if _, err := NewVolumeSpecification(path, 4096, true, false, true); err == nil {
		t.Error("expected an error for create combined with readOnly")
	}
	if _, err := NewVolumeSpecification("", 4096, false, false, false); err == nil {
		t.Error("expected an error for an empty path")
	}
}

func TestNewTemporaryVolumeSpecification(t *testing.T) {
	spec, err := NewTemporaryVolumeSpecification("scratch", 2048)
	if err != nil {
		t.Fatalf("failed to build temporary specification: %v", err)
	}

	if !spec.IsTemporary() {
		t.Error("expected temporary flag")
	}
	if !spec.IsCreate() {
		t.Error("temporary volumes are always created")
	}
	if !strings.HasPrefix(spec.Path(), "temp:") {
		t.Errorf("expected a temp: path, got %q", spec.Path())
	}
	if !spec.ID().IsValid() {
		t.Error("temporary volumes must carry a generated identifier")
	}

	other, err := NewTemporaryVolumeSpecification("scratch2", 2048)
	if err != nil {
		t.Fatalf("failed to build second temporary specification: %v", err)
	}
	if other.ID() == spec.ID() {
		t.Error("generated identifiers should be distinct")
	}
}
