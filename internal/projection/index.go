package projection

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/gitvfs/gitvfs/internal/objstore"
)

var indexSignature = [4]byte{'D', 'I', 'R', 'C'}

const (
	entryExtendedFlag = 0x4000
	nameLengthMask    = 0x0fff
	skipWorktreeBit   = 1 << 14
	checksumSize      = objstore.Size
)

// ReadIndex parses a version-4 Git index file at path into a flat list of
// entries. Only version 4 is accepted: it's the version the Config
// maintenance step guarantees is set, and it's the only one whose name
// encoding (path-prefix compression) this reader implements.
func ReadIndex(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("projection: open index: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("projection: read index signature: %w", err)
	}
	if magic != indexSignature {
		return nil, fmt.Errorf("projection: not a Git index file (bad signature)")
	}

	var version uint32
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("projection: read index version: %w", err)
	}
	if version != 4 {
		return nil, fmt.Errorf("projection: unsupported index version %d (only v4 is supported)", version)
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("projection: read entry count: %w", err)
	}

	entries := make([]Entry, 0, count)
	var lastName string
	for i := uint32(0); i < count; i++ {
		e, name, err := readEntryV4(r, lastName)
		if err != nil {
			return nil, fmt.Errorf("projection: read entry %d: %w", i, err)
		}
		lastName = name
		entries = append(entries, e)
	}

	if err := skipExtensions(r); err != nil {
		return nil, fmt.Errorf("projection: skip extensions: %w", err)
	}

	return entries, nil
}

// readEntryV4 decodes one index entry in version-4 encoding: fixed stat
// fields, a 20-byte OID, a 16-bit flags word (with an extended flags word
// when the extended bit is set), then a prefix-compressed name with no
// trailing padding.
func readEntryV4(r *bufio.Reader, lastName string) (Entry, string, error) {
	// ctime(8) + mtime(8) + dev(4) + ino(4) + mode(4) + uid(4) + gid(4) + size(4)
	var stat [40]byte
	if _, err := io.ReadFull(r, stat[:]); err != nil {
		return Entry{}, "", err
	}
	mode := binary.BigEndian.Uint32(stat[16:20])
	size := binary.BigEndian.Uint32(stat[36:40])

	var rawOID [objstore.Size]byte
	if _, err := io.ReadFull(r, rawOID[:]); err != nil {
		return Entry{}, "", err
	}

	var flags uint16
	if err := binary.Read(r, binary.BigEndian, &flags); err != nil {
		return Entry{}, "", err
	}

	var skipWorktree bool
	if flags&entryExtendedFlag != 0 {
		var extFlags uint16
		if err := binary.Read(r, binary.BigEndian, &extFlags); err != nil {
			return Entry{}, "", err
		}
		skipWorktree = extFlags&skipWorktreeBit != 0
	}

	dropLen, err := readVarint(r)
	if err != nil {
		return Entry{}, "", err
	}
	if dropLen > int64(len(lastName)) {
		return Entry{}, "", fmt.Errorf("name prefix length %d exceeds previous name length %d", dropLen, len(lastName))
	}
	base := lastName[:len(lastName)-int(dropLen)]

	suffix, err := r.ReadBytes(0)
	if err != nil {
		return Entry{}, "", err
	}
	suffix = suffix[:len(suffix)-1] // drop the NUL terminator
	name := base + string(suffix)

	e := Entry{
		Path:         name,
		Mode:         Mode(mode),
		OID:          objstore.OID(rawOID),
		SkipWorktree: skipWorktree,
		Size:         int64(size),
	}
	return e, name, nil
}

// readVarint decodes Git's index path-prefix-length varint: base-128,
// each continuation byte adds 1 and shifts before ORing in the low 7
// bits (the same encoding as the OFS_DELTA negative-offset varint in
// objstore's pack reader).
func readVarint(r *bufio.Reader) (int64, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	val := int64(b & 0x7f)
	for b&0x80 != 0 {
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		val++
		val <<= 7
		val |= int64(b & 0x7f)
	}
	return val, nil
}

// skipExtensions discards TREE/REUC/EOIE/link/etc. extension blocks: the
// projector only needs the flat entry list, not the cached tree or
// resolve-undo state, so each optional extension is skipped wholesale by
// its declared length rather than decoded field-by-field.
func skipExtensions(r *bufio.Reader) error {
	for {
		peeked, err := r.Peek(4 + 4 + checksumSize)
		if len(peeked) < 4+4+checksumSize {
			break
		}
		if err != nil {
			return err
		}

		var header [4]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return err
		}
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return err
		}
		if header[0] < 'A' || header[0] > 'Z' {
			return fmt.Errorf("mandatory extension %q not supported", header)
		}
		if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
			return err
		}
	}

	var trailer [checksumSize]byte
	if _, err := io.ReadFull(r, trailer[:]); err != nil {
		return fmt.Errorf("read trailing checksum: %w", err)
	}
	return nil
}
