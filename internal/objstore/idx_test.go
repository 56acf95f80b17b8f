package objstore

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// buildV2Idx hand-assembles a minimal valid v2 .idx file for two objects,
// skipping the trailing pack/idx SHA-1 checksums since ReadPackIndex
// never reads past the offset table.
func buildV2Idx(t *testing.T, oids []OID, offsets []uint64) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(idxMagic[:])
	binary.Write(&buf, binary.BigEndian, uint32(2))

	var fanout [256]uint32
	for _, o := range oids {
		for b := int(o[0]); b < 256; b++ {
			fanout[b]++
		}
	}
	binary.Write(&buf, binary.BigEndian, fanout)

	for _, o := range oids {
		buf.Write(o[:])
	}
	for range oids {
		binary.Write(&buf, binary.BigEndian, uint32(0)) // crc placeholder
	}
	for _, off := range offsets {
		binary.Write(&buf, binary.BigEndian, uint32(off))
	}
	return buf.Bytes()
}

func TestReadPackIndex_FindOffset(t *testing.T) {
	oid1, _ := ParseOID("01" + "0000000000000000000000000000000000000000"[:38])
	oid2, _ := ParseOID("02" + "0000000000000000000000000000000000000000"[:38])

	data := buildV2Idx(t, []OID{oid1, oid2}, []uint64{12, 500})

	dir := t.TempDir()
	path := filepath.Join(dir, "pack.idx")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	idx, err := ReadPackIndex(path)
	if err != nil {
		t.Fatalf("ReadPackIndex failed: %v", err)
	}
	if idx.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", idx.Len())
	}

	off, ok := idx.FindOffset(oid1)
	if !ok || off != 12 {
		t.Errorf("FindOffset(oid1) = (%d, %v), want (12, true)", off, ok)
	}
	off, ok = idx.FindOffset(oid2)
	if !ok || off != 500 {
		t.Errorf("FindOffset(oid2) = (%d, %v), want (500, true)", off, ok)
	}

	missing, _ := ParseOID("ff" + "0000000000000000000000000000000000000000"[:38])
	if idx.Has(missing) {
		t.Error("Has() true for object not in index")
	}
}

func TestReadPackIndex_BadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.idx")
	if err := os.WriteFile(path, []byte("nope not an idx file at all"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := ReadPackIndex(path); err == nil {
		t.Error("expected error for bad magic")
	}
}
