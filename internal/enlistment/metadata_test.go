package enlistment

import (
	"path/filepath"
	"testing"
)

func TestMetadata_SetGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "RepoMetadata.dat")
	m, err := OpenMetadata(path)
	if err != nil {
		t.Fatalf("OpenMetadata failed: %v", err)
	}

	if _, ok := m.Get("missing"); ok {
		t.Error("Get found a key that was never set")
	}

	if err := m.Set("enlistment-id", "abc-123"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, ok := m.Get("enlistment-id")
	if !ok || v != "abc-123" {
		t.Errorf("Get = (%q, %v), want (abc-123, true)", v, ok)
	}
}

func TestMetadata_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "RepoMetadata.dat")
	m1, err := OpenMetadata(path)
	if err != nil {
		t.Fatalf("OpenMetadata failed: %v", err)
	}
	if err := m1.Set("mount-id", "mount-1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	m2, err := OpenMetadata(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	v, ok := m2.Get("mount-id")
	if !ok || v != "mount-1" {
		t.Errorf("reopened Get = (%q, %v), want (mount-1, true)", v, ok)
	}
}

func TestMetadata_Delete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "RepoMetadata.dat")
	m, err := OpenMetadata(path)
	if err != nil {
		t.Fatalf("OpenMetadata failed: %v", err)
	}
	if err := m.Set("k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := m.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := m.Get("k"); ok {
		t.Error("key still present after Delete")
	}
}
