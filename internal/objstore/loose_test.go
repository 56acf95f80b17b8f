package objstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLooseStore_WriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewLooseStore(dir)

	payload := []byte("hello world blob contents")
	oid, err := s.Write(TypeBlob, payload)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if !s.Has(oid) {
		t.Fatal("Has() false after Write")
	}

	typ, got, err := s.Read(oid)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if typ != TypeBlob {
		t.Errorf("type = %q, want %q", typ, TypeBlob)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
}

func TestLooseStore_WriteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := NewLooseStore(dir)

	payload := []byte("same content twice")
	oid1, err := s.Write(TypeBlob, payload)
	if err != nil {
		t.Fatalf("first Write failed: %v", err)
	}
	oid2, err := s.Write(TypeBlob, payload)
	if err != nil {
		t.Fatalf("second Write failed: %v", err)
	}
	if oid1 != oid2 {
		t.Errorf("OIDs differ across writes of identical content: %s vs %s", oid1, oid2)
	}
}

func TestLooseStore_HasMissing(t *testing.T) {
	dir := t.TempDir()
	s := NewLooseStore(dir)
	missing, _ := ParseOID("000000000000000000000000000000000000000a")
	if s.Has(missing) {
		t.Error("Has() true for object never written")
	}
}

func TestLooseStore_ReadMissing(t *testing.T) {
	dir := t.TempDir()
	s := NewLooseStore(dir)
	missing, _ := ParseOID("000000000000000000000000000000000000000a")
	if _, _, err := s.Read(missing); err == nil {
		t.Error("Read() expected error for missing object")
	}
}

func TestLooseStore_Path(t *testing.T) {
	dir := t.TempDir()
	s := NewLooseStore(dir)
	oid, _ := ParseOID("94a59f9e0e48d6d7cf9a8b5c1a9c2a6c3f1b8d7e")
	want := filepath.Join(dir, "94", "a59f9e0e48d6d7cf9a8b5c1a9c2a6c3f1b8d7e")
	if got := s.Path(oid); got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}

func TestParseLooseHeader_SizeMismatch(t *testing.T) {
	raw := []byte("blob 100\x00short")
	if _, _, err := parseLooseHeader(raw); err == nil {
		t.Error("expected error on declared/actual size mismatch")
	}
}

func TestParseLooseHeader_MissingTerminator(t *testing.T) {
	raw := []byte("blob 4 nodata")
	if _, _, err := parseLooseHeader(raw); err == nil {
		t.Error("expected error for missing NUL terminator")
	}
}

func TestLooseStore_WriteRaw_RoundTripsThroughRead(t *testing.T) {
	dir := t.TempDir()
	writer := NewLooseStore(dir)
	payload := []byte("fetched from the remote object service")
	oid, err := writer.Write(TypeBlob, payload)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	deflated, err := os.ReadFile(writer.Path(oid))
	if err != nil {
		t.Fatalf("read back deflated bytes: %v", err)
	}

	dest := NewLooseStore(t.TempDir())
	if err := dest.WriteRaw(oid, deflated); err != nil {
		t.Fatalf("WriteRaw failed: %v", err)
	}
	typ, got, err := dest.Read(oid)
	if err != nil {
		t.Fatalf("Read after WriteRaw failed: %v", err)
	}
	if typ != TypeBlob || string(got) != string(payload) {
		t.Errorf("Read = (%q, %q), want (%q, %q)", typ, got, TypeBlob, payload)
	}
}

func TestLooseStore_WriteRaw_IsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := NewLooseStore(dir)
	oid, _ := ParseOID("94a59f9e0e48d6d7cf9a8b5c1a9c2a6c3f1b8d7e")
	if err := s.WriteRaw(oid, []byte("not real zlib data")); err != nil {
		t.Fatalf("first WriteRaw failed: %v", err)
	}
	if err := s.WriteRaw(oid, []byte("different bytes, same oid")); err != nil {
		t.Fatalf("second WriteRaw (should be a no-op) failed: %v", err)
	}
	if !s.Has(oid) {
		t.Fatal("Has() false after WriteRaw")
	}
}
