package projection

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/gitvfs/gitvfs/internal/objstore"
)

type fixtureEntry struct {
	path string
	mode uint32
	oid  objstore.OID
	size uint32
}

// writeVarint encodes n using the same "add 1, shift 7" varint git uses
// for the index v4 name-prefix length.
func writeVarint(buf *bytes.Buffer, n int64) {
	var stack []byte
	stack = append(stack, byte(n&0x7f))
	n >>= 7
	for n > 0 {
		n--
		stack = append(stack, byte(n&0x7f)|0x80)
		n >>= 7
	}
	for i := len(stack) - 1; i >= 0; i-- {
		buf.WriteByte(stack[i])
	}
}

// buildV4Index hand-assembles a minimal version-4 index file. Each entry
// drops the previous name's entire length (simplest valid prefix
// compression: base = "", suffix = full new path), which is sufficient
// to exercise the drop-length varint and NUL-terminated suffix decode.
func buildV4Index(t *testing.T, entries []fixtureEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("DIRC")
	binary.Write(&buf, binary.BigEndian, uint32(4))
	binary.Write(&buf, binary.BigEndian, uint32(len(entries)))

	lastLen := 0
	for _, e := range entries {
		var stat [40]byte
		binary.BigEndian.PutUint32(stat[16:20], e.mode)
		binary.BigEndian.PutUint32(stat[36:40], e.size)
		buf.Write(stat[:])
		buf.Write(e.oid[:])
		binary.Write(&buf, binary.BigEndian, uint16(0)) // flags, no extended bit

		writeVarint(&buf, int64(lastLen))
		buf.WriteString(e.path)
		buf.WriteByte(0)

		lastLen = len(e.path)
	}

	buf.Write(make([]byte, checksumSize)) // trailing checksum, unchecked here
	return buf.Bytes()
}

func oidFor(b byte) objstore.OID {
	var o objstore.OID
	o[0] = b
	return o
}

func TestReadIndex_ParsesEntries(t *testing.T) {
	entries := []fixtureEntry{
		{path: "README.md", mode: uint32(ModeRegular), oid: oidFor(1), size: 100},
		{path: "src/main.go", mode: uint32(ModeRegular), oid: oidFor(2), size: 200},
		{path: "src/util.go", mode: uint32(ModeExecutable), oid: oidFor(3), size: 50},
	}
	data := buildV4Index(t, entries)

	path := filepath.Join(t.TempDir(), "index")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	got, err := ReadIndex(path)
	if err != nil {
		t.Fatalf("ReadIndex failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	if got[0].Path != "README.md" || got[0].Size != 100 {
		t.Errorf("entry 0 = %+v, unexpected", got[0])
	}
	if got[2].Path != "src/util.go" || got[2].Mode.Kind() != KindExecutable {
		t.Errorf("entry 2 = %+v, want executable src/util.go", got[2])
	}
}

func TestReadIndex_BadSignature(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index")
	if err := os.WriteFile(path, []byte("not an index"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := ReadIndex(path); err == nil {
		t.Error("expected error for bad signature")
	}
}

func TestReadIndex_UnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("DIRC")
	binary.Write(&buf, binary.BigEndian, uint32(2))
	binary.Write(&buf, binary.BigEndian, uint32(0))
	buf.Write(make([]byte, checksumSize))

	path := filepath.Join(t.TempDir(), "index")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := ReadIndex(path); err == nil {
		t.Error("expected error for unsupported index version")
	}
}
