package objstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// midxMagic is the multi-pack-index signature ("MIDX").
var midxMagic = [4]byte{'M', 'I', 'D', 'X'}

const (
	midxChunkPackNames   = 0x504e414d // "PNAM"
	midxChunkOIDFanout   = 0x4f494446 // "OIDF"
	midxChunkOIDLookup   = 0x4f49444c // "OIDL"
	midxChunkObjOffsets  = 0x4f4f4646 // "OOFF"
	midxChunkObjLargeOff = 0x4c4f4646 // "LOFF"
)

// MultiPackIndex is a decoded multi-pack-index file: a single fanout/OID
// lookup over the union of several packs' objects, each entry carrying
// which pack (by name) and offset holds it. Pack index selection prefers
// the multi-pack-index when available, since it avoids probing N
// per-pack indexes one at a time.
type MultiPackIndex struct {
	packNames []string
	oids      []OID
	packIdx   []uint32 // index into packNames, per oid position
	offsets   []uint64
	fanout    [256]uint32
}

// ReadMultiPackIndex parses a multi-pack-index file, grounded on go-git's
// idxfile chunked-format reading approach generalized to MIDX's chunk
// table (core chunks only: PNAM, OIDF, OIDL, OOFF, optionally LOFF).
func ReadMultiPackIndex(path string) (*MultiPackIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("objstore: open midx %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("objstore: read midx magic: %w", err)
	}
	if magic != midxMagic {
		return nil, fmt.Errorf("objstore: %s is not a multi-pack-index file", path)
	}

	var version, oidVersion uint8
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &oidVersion); err != nil {
		return nil, err
	}
	if version != 1 {
		return nil, fmt.Errorf("objstore: unsupported midx version %d", version)
	}
	if oidVersion != 1 {
		return nil, fmt.Errorf("objstore: unsupported midx oid version %d (only sha1 supported)", oidVersion)
	}

	var numChunks, numBaseFiles uint8
	if err := binary.Read(r, binary.BigEndian, &numChunks); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &numBaseFiles); err != nil {
		return nil, err
	}

	var numPacks uint32
	if err := binary.Read(r, binary.BigEndian, &numPacks); err != nil {
		return nil, err
	}

	// Chunk lookup table: (numChunks+1) entries of {id uint32, offset
	// uint64}, the trailing sentinel entry marking end-of-data.
	type chunkEntry struct {
		id     uint32
		offset uint64
	}
	entries := make([]chunkEntry, numChunks+1)
	for i := range entries {
		if err := binary.Read(r, binary.BigEndian, &entries[i].id); err != nil {
			return nil, fmt.Errorf("objstore: read midx chunk table: %w", err)
		}
		if err := binary.Read(r, binary.BigEndian, &entries[i].offset); err != nil {
			return nil, fmt.Errorf("objstore: read midx chunk table: %w", err)
		}
	}

	// The remainder of the file must be read by absolute offset, so
	// read the whole file into memory and index into it by offset.
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("objstore: reread midx: %w", err)
	}

	m := &MultiPackIndex{}

	chunkBounds := func(id uint32) (int64, int64, bool) {
		for i := 0; i < len(entries)-1; i++ {
			if entries[i].id == id {
				return int64(entries[i].offset), int64(entries[i+1].offset), true
			}
		}
		return 0, 0, false
	}

	off, end, ok := chunkBounds(midxChunkPackNames)
	if !ok {
		return nil, fmt.Errorf("objstore: midx missing PNAM chunk")
	}
	names := splitNulTerminated(raw[off:end])
	if uint32(len(names)) != numPacks {
		return nil, fmt.Errorf("objstore: midx PNAM count %d != header count %d", len(names), numPacks)
	}
	m.packNames = names

	off, _, ok = chunkBounds(midxChunkOIDFanout)
	if !ok {
		return nil, fmt.Errorf("objstore: midx missing OIDF chunk")
	}
	for i := 0; i < 256; i++ {
		m.fanout[i] = binary.BigEndian.Uint32(raw[off+int64(i)*4:])
	}
	count := int(m.fanout[255])

	off, end, ok = chunkBounds(midxChunkOIDLookup)
	if !ok {
		return nil, fmt.Errorf("objstore: midx missing OIDL chunk")
	}
	if end-off != int64(count*Size) {
		return nil, fmt.Errorf("objstore: midx OIDL chunk size mismatch")
	}
	m.oids = make([]OID, count)
	for i := 0; i < count; i++ {
		copy(m.oids[i][:], raw[off+int64(i*Size):])
	}

	off, _, ok = chunkBounds(midxChunkObjOffsets)
	if !ok {
		return nil, fmt.Errorf("objstore: midx missing OOFF chunk")
	}
	m.packIdx = make([]uint32, count)
	m.offsets = make([]uint64, count)
	largeOff, _, hasLarge := chunkBounds(midxChunkObjLargeOff)
	for i := 0; i < count; i++ {
		entryOff := off + int64(i*8)
		m.packIdx[i] = binary.BigEndian.Uint32(raw[entryOff:])
		o32 := binary.BigEndian.Uint32(raw[entryOff+4:])
		if o32&0x80000000 != 0 && hasLarge {
			idx := int64(o32 &^ 0x80000000)
			m.offsets[i] = binary.BigEndian.Uint64(raw[largeOff+idx*8:])
		} else {
			m.offsets[i] = uint64(o32)
		}
	}

	return m, nil
}

func splitNulTerminated(b []byte) []string {
	var names []string
	start := 0
	for i, c := range b {
		if c == 0 {
			if i > start {
				names = append(names, string(b[start:i]))
			}
			start = i + 1
		}
	}
	return names
}

// FindPack returns the pack filename and offset for oid, or false if oid
// isn't covered by this multi-pack-index.
func (m *MultiPackIndex) FindPack(oid OID) (packName string, offset uint64, ok bool) {
	lo := 0
	if oid[0] > 0 {
		lo = int(m.fanout[oid[0]-1])
	}
	hi := int(m.fanout[oid[0]])

	pos := sort.Search(hi-lo, func(i int) bool {
		return m.oids[lo+i].Compare(oid) >= 0
	})
	pos += lo
	if pos >= hi || m.oids[pos] != oid {
		return "", 0, false
	}
	return m.packNames[m.packIdx[pos]], m.offsets[pos], true
}

// Has reports whether oid is covered by this multi-pack-index.
func (m *MultiPackIndex) Has(oid OID) bool {
	_, _, ok := m.FindPack(oid)
	return ok
}

// PackNames returns the pack basenames referenced by this index, in the
// order they're numbered internally.
func (m *MultiPackIndex) PackNames() []string {
	out := make([]string, len(m.packNames))
	copy(out, m.packNames)
	return out
}

// midxPath returns the conventional multi-pack-index path under a
// packDir (<packDir>/multi-pack-index).
func midxPath(packDir string) string {
	return filepath.Join(packDir, "multi-pack-index")
}
