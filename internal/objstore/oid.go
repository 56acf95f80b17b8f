// Package objstore implements the object store and pack reader:
// loose-object and packfile I/O, SHA-1 addressing, and the alternates
// file that lets an enlistment's .git/objects delegate to a shared
// cache.
package objstore

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
)

// Size is the raw byte length of a SHA-1 object id.
const Size = 20

// OID is a 40-hex SHA-1 object id in raw 20-byte form. The zero value is
// the null OID. Equality and ordering are byte-wise on the raw form.
type OID [Size]byte

func (o OID) String() string {
	return hex.EncodeToString(o[:])
}

// IsZero reports whether o is the null OID.
func (o OID) IsZero() bool {
	return o == OID{}
}

// Compare orders two OIDs byte-wise on the 20-byte binary form.
func (o OID) Compare(other OID) int {
	return bytes.Compare(o[:], other[:])
}

// ParseOID decodes a 40-hex string into an OID.
func ParseOID(s string) (OID, error) {
	var o OID
	if len(s) != Size*2 {
		return o, fmt.Errorf("objstore: invalid oid %q: want %d hex chars, got %d", s, Size*2, len(s))
	}
	n, err := hex.Decode(o[:], []byte(s))
	if err != nil || n != Size {
		return o, fmt.Errorf("objstore: invalid oid %q: %w", s, err)
	}
	return o, nil
}

// ByOID sorts a slice of OIDs in byte-wise order.
type ByOID []OID

func (p ByOID) Len() int           { return len(p) }
func (p ByOID) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p ByOID) Less(i, j int) bool { return p[i].Compare(p[j]) < 0 }

var _ sort.Interface = ByOID(nil)

// LooseDir returns the fanout directory name ("xx") and remaining
// filename ("yyy...") for a loose object path, per Git's xx/yyy... layout.
func (o OID) LooseDir() (dir, file string) {
	full := o.String()
	return full[:2], full[2:]
}
