package objstore

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// writePackFixture builds a minimal, non-delta one-object pack (a "PACK"
// header followed by a single deflated blob) plus its sibling v2 .idx,
// and returns the blob's OID.
func writePackFixture(t *testing.T, dir string, payload []byte) OID {
	t.Helper()

	header := []byte("blob " + strconv.Itoa(len(payload)) + "\x00")
	full := append(append([]byte{}, header...), payload...)
	oid := OID(sha1.Sum(full))

	var pack bytes.Buffer
	pack.WriteString("PACK")
	binary.Write(&pack, binary.BigEndian, uint32(2))
	binary.Write(&pack, binary.BigEndian, uint32(1))

	objStart := pack.Len()

	// Object header: type=3 (blob), size in low 4 bits + continuation.
	size := len(payload)
	first := byte(3<<4) | byte(size&0x0f)
	size >>= 4
	if size > 0 {
		first |= 0x80
	}
	pack.WriteByte(first)
	for size > 0 {
		b := byte(size & 0x7f)
		size >>= 7
		if size > 0 {
			b |= 0x80
		}
		pack.WriteByte(b)
	}

	zw := zlib.NewWriter(&pack)
	zw.Write(payload)
	zw.Close()

	pack.Write(make([]byte, 20)) // trailer checksum, unchecked by our reader

	packPath := filepath.Join(dir, "pack-test.pack")
	if err := os.WriteFile(packPath, pack.Bytes(), 0644); err != nil {
		t.Fatalf("write pack fixture: %v", err)
	}

	idxData := buildV2Idx(t, []OID{oid}, []uint64{uint64(objStart)})
	idxPath := filepath.Join(dir, "pack-test.idx")
	if err := os.WriteFile(idxPath, idxData, 0644); err != nil {
		t.Fatalf("write idx fixture: %v", err)
	}

	return oid
}

func TestPack_ReadNonDeltaObject(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("the quick brown fox jumps over the lazy dog")
	oid := writePackFixture(t, dir, payload)

	p, err := OpenPack(filepath.Join(dir, "pack-test.pack"))
	if err != nil {
		t.Fatalf("OpenPack failed: %v", err)
	}
	defer p.Close()

	if !p.Has(oid) {
		t.Fatal("Has() false for object in fixture pack")
	}

	typ, got, err := p.Read(oid)
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

func TestPack_ReadMissingObject(t *testing.T) {
	dir := t.TempDir()
	writePackFixture(t, dir, []byte("content"))

	p, err := OpenPack(filepath.Join(dir, "pack-test.pack"))
	if err != nil {
		t.Fatalf("OpenPack failed: %v", err)
	}
	defer p.Close()

	missing, _ := ParseOID("ab" + "0000000000000000000000000000000000000000"[:38])
	if _, _, err := p.Read(missing); err == nil {
		t.Error("expected error reading object absent from pack")
	}
}

func TestReadObjectHeader_MultiByteSize(t *testing.T) {
	// type=blob(3), size=300: low 4 bits of 300 = 0b1100 = 0xc, remaining
	// 300>>4 = 18, continuation set on first byte.
	buf := []byte{0x80 | (3 << 4) | 0x0c, 18}
	typ, size, n, err := readObjectHeader(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("readObjectHeader failed: %v", err)
	}
	if typ != packBlob {
		t.Errorf("type = %d, want %d", typ, packBlob)
	}
	if size != 300 {
		t.Errorf("size = %d, want 300", size)
	}
	if n != 2 {
		t.Errorf("headerLen = %d, want 2", n)
	}
}
