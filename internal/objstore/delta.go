package objstore

import "fmt"

// applyDelta applies a Git delta instruction stream to base and returns the
// reconstructed target, following the copy/insert opcode format documented
// in Git's delta.h (ported from the algorithm in go-git's
// plumbing/format/packfile/patch_delta.go, re-expressed without its
// pipe/goroutine streaming since enlistment deltas are read whole).
func applyDelta(base, delta []byte) ([]byte, error) {
	srcSize, delta, err := decodeDeltaSize(delta)
	if err != nil {
		return nil, err
	}
	if srcSize != uint64(len(base)) {
		return nil, fmt.Errorf("objstore: delta base size mismatch: want %d, have %d", srcSize, len(base))
	}

	targetSize, delta, err := decodeDeltaSize(delta)
	if err != nil {
		return nil, err
	}

	target := make([]byte, 0, targetSize)

	for len(delta) > 0 {
		cmd := delta[0]
		delta = delta[1:]

		if cmd&0x80 != 0 {
			// Copy from base: up to 4 offset bytes then up to 3 size bytes,
			// each present only if its bit in cmd is set.
			var offset, size uint32
			for i, bit := range []byte{0x01, 0x02, 0x04, 0x08} {
				if cmd&bit != 0 {
					if len(delta) == 0 {
						return nil, fmt.Errorf("objstore: truncated delta copy offset")
					}
					offset |= uint32(delta[0]) << (8 * i)
					delta = delta[1:]
				}
			}
			for i, bit := range []byte{0x10, 0x20, 0x40} {
				if cmd&bit != 0 {
					if len(delta) == 0 {
						return nil, fmt.Errorf("objstore: truncated delta copy size")
					}
					size |= uint32(delta[0]) << (8 * i)
					delta = delta[1:]
				}
			}
			if size == 0 {
				size = 0x10000
			}
			if uint64(offset)+uint64(size) > uint64(len(base)) {
				return nil, fmt.Errorf("objstore: delta copy out of range")
			}
			target = append(target, base[offset:offset+size]...)
		} else if cmd != 0 {
			// Insert cmd literal bytes from the delta stream itself.
			n := int(cmd)
			if len(delta) < n {
				return nil, fmt.Errorf("objstore: truncated delta insert")
			}
			target = append(target, delta[:n]...)
			delta = delta[n:]
		} else {
			return nil, fmt.Errorf("objstore: reserved delta opcode 0")
		}
	}

	if uint64(len(target)) != targetSize {
		return nil, fmt.Errorf("objstore: delta result size mismatch: want %d, got %d", targetSize, len(target))
	}
	return target, nil
}

// decodeDeltaSize reads a little-endian base-128 varint (Git's delta size
// encoding, distinct from the pack object header's varint below).
func decodeDeltaSize(b []byte) (uint64, []byte, error) {
	var size uint64
	var shift uint
	for {
		if len(b) == 0 {
			return 0, nil, fmt.Errorf("objstore: truncated delta size")
		}
		c := b[0]
		b = b[1:]
		size |= uint64(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			break
		}
	}
	return size, b, nil
}
