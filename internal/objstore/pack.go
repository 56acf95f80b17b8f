package objstore

import (
	"compress/zlib"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// packObjType is the type tag in a pack object's header (distinct from the
// loose-object ObjectType string; OFS_DELTA/REF_DELTA are pack-only).
type packObjType byte

const (
	packCommit   packObjType = 1
	packTree     packObjType = 2
	packBlob     packObjType = 3
	packTag      packObjType = 4
	packOfsDelta packObjType = 6
	packRefDelta packObjType = 7
)

func (t packObjType) objectType() (ObjectType, bool) {
	switch t {
	case packCommit:
		return TypeCommit, true
	case packTree:
		return TypeTree, true
	case packBlob:
		return TypeBlob, true
	case packTag:
		return TypeTag, true
	default:
		return "", false
	}
}

// Pack is an opened .pack file paired with its .idx, read via ReadAt so
// concurrent readers don't contend on a shared file cursor.
type Pack struct {
	path string
	idx  *PackIndex
	file *os.File
}

// OpenPack opens packPath (expects a sibling .idx with the same basename).
func OpenPack(packPath string) (*Pack, error) {
	idxPath := strings.TrimSuffix(packPath, filepath.Ext(packPath)) + ".idx"
	idx, err := ReadPackIndex(idxPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(packPath)
	if err != nil {
		return nil, fmt.Errorf("objstore: open pack %s: %w", packPath, err)
	}
	return &Pack{path: packPath, idx: idx, file: f}, nil
}

func (p *Pack) Close() error { return p.file.Close() }

// Has reports whether oid is present in this pack's index.
func (p *Pack) Has(oid OID) bool { return p.idx.Has(oid) }

// Read resolves and returns the object for oid, following OFS_DELTA/
// REF_DELTA chains to a base and applying them in turn.
func (p *Pack) Read(oid OID) (ObjectType, []byte, error) {
	offset, ok := p.idx.FindOffset(oid)
	if !ok {
		return "", nil, fmt.Errorf("objstore: %s not in pack %s", oid, p.path)
	}
	return p.readAt(offset, 0)
}

// readAt decodes the object at offset, recursing through delta bases.
// depth guards against pathological chains (a corrupt pack looping on
// itself) without imposing a real limit on legitimate long chains.
func (p *Pack) readAt(offset uint64, depth int) (ObjectType, []byte, error) {
	if depth > 200 {
		return "", nil, fmt.Errorf("objstore: delta chain too deep at offset %d", offset)
	}

	r := io.NewSectionReader(p.file, int64(offset), int64(fileSizeOrMax(p.file))-int64(offset))
	typ, size, headerLen, err := readObjectHeader(r)
	if err != nil {
		return "", nil, fmt.Errorf("objstore: read header at %d: %w", offset, err)
	}

	switch typ {
	case packOfsDelta:
		negOffset, n, err := readOfsDeltaOffset(r)
		if err != nil {
			return "", nil, fmt.Errorf("objstore: read ofs-delta offset: %w", err)
		}
		baseOffset := offset - negOffset
		baseType, baseBytes, err := p.readAt(baseOffset, depth+1)
		if err != nil {
			return "", nil, err
		}
		deltaBytes, err := inflateAt(p.file, int64(offset)+int64(headerLen)+int64(n), size)
		if err != nil {
			return "", nil, err
		}
		result, err := applyDelta(baseBytes, deltaBytes)
		if err != nil {
			return "", nil, fmt.Errorf("objstore: apply ofs-delta at %d: %w", offset, err)
		}
		return baseType, result, nil

	case packRefDelta:
		var baseOID OID
		if _, err := io.ReadFull(r, baseOID[:]); err != nil {
			return "", nil, fmt.Errorf("objstore: read ref-delta base: %w", err)
		}
		baseType, baseBytes, err := p.Read(baseOID)
		if err != nil {
			return "", nil, fmt.Errorf("objstore: resolve ref-delta base %s: %w", baseOID, err)
		}
		deltaBytes, err := inflateAt(p.file, int64(offset)+int64(headerLen)+Size, size)
		if err != nil {
			return "", nil, err
		}
		result, err := applyDelta(baseBytes, deltaBytes)
		if err != nil {
			return "", nil, fmt.Errorf("objstore: apply ref-delta at %d: %w", offset, err)
		}
		return baseType, result, nil

	default:
		ot, ok := typ.objectType()
		if !ok {
			return "", nil, fmt.Errorf("objstore: unknown pack object type %d at %d", typ, offset)
		}
		payload, err := inflateAt(p.file, int64(offset)+int64(headerLen), size)
		if err != nil {
			return "", nil, err
		}
		if uint64(len(payload)) != size {
			return "", nil, fmt.Errorf("objstore: size mismatch at %d: header %d, inflated %d", offset, size, len(payload))
		}
		return ot, payload, nil
	}
}

// readObjectHeader decodes the pack object header: a type (3 bits) and a
// size (variable length, base-128 little endian, continuation in the high
// bit of each byte, first byte carries only 4 size bits).
func readObjectHeader(r io.Reader) (packObjType, uint64, int, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, 0, 0, err
	}
	n := 1
	typ := packObjType((b[0] >> 4) & 0x7)
	size := uint64(b[0] & 0x0f)
	shift := uint(4)
	for b[0]&0x80 != 0 {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, 0, 0, err
		}
		n++
		size |= uint64(b[0]&0x7f) << shift
		shift += 7
	}
	return typ, size, n, nil
}

// readOfsDeltaOffset decodes the OFS_DELTA negative-offset varint (a
// different, "add a constant at each byte" base-128 encoding than the
// object-header size varint above — matches Git's encoding in
// builtin/pack-objects.c).
func readOfsDeltaOffset(r io.Reader) (uint64, int, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, 0, err
	}
	n := 1
	offset := uint64(b[0] & 0x7f)
	for b[0]&0x80 != 0 {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, 0, err
		}
		n++
		offset = ((offset + 1) << 7) | uint64(b[0]&0x7f)
	}
	return offset, n, nil
}

// inflateAt zlib-inflates exactly uncompressedSize bytes starting at
// absolute file offset off.
func inflateAt(f *os.File, off int64, uncompressedSize uint64) ([]byte, error) {
	sr := io.NewSectionReader(f, off, fileSizeOrMax(f)-off)
	zr, err := zlib.NewReader(sr)
	if err != nil {
		return nil, fmt.Errorf("objstore: corrupt zlib stream at %d: %w", off, err)
	}
	defer zr.Close()

	buf := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(zr, buf); err != nil {
		return nil, fmt.Errorf("objstore: corrupt compressed object at %d: %w", off, err)
	}
	return buf, nil
}

func fileSizeOrMax(f *os.File) int64 {
	fi, err := f.Stat()
	if err != nil {
		return 1 << 40
	}
	return fi.Size()
}
