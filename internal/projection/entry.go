// Package projection parses the Git index into directory-listing
// snapshots the virtualization callback surface can answer enumerate/
// get-placeholder-info requests from without touching the working tree.
//
// The index is decoded into a flat entry list (version-4 layout, with
// its path-prefix compression and extension blocks), then folded into a
// sorted trie of directory listings so a lookup doesn't re-scan the
// whole entry slice on every call.
package projection

import "github.com/gitvfs/gitvfs/internal/objstore"

// Mode mirrors the Git index mode bits relevant to projection; the
// low bits beyond what distinguishes these kinds are not retained.
type Mode uint32

const (
	ModeRegular    Mode = 0o100644
	ModeExecutable Mode = 0o100755
	ModeSymlink    Mode = 0o120000
	ModeSubmodule  Mode = 0o160000
	ModeSubtree    Mode = 0o040000
)

// Kind classifies a Mode for callers that don't want to reason about
// raw octal values.
type Kind int

const (
	KindRegular Kind = iota
	KindExecutable
	KindSymlink
	KindSubmodule
	KindSubtree
)

func (m Mode) Kind() Kind {
	switch m {
	case ModeExecutable:
		return KindExecutable
	case ModeSymlink:
		return KindSymlink
	case ModeSubmodule:
		return KindSubmodule
	case ModeSubtree:
		return KindSubtree
	default:
		return KindRegular
	}
}

// Entry is one line of the parsed index: a full slash-separated path,
// its mode and target OID, plus the skip-worktree bit that marks a
// phantom (not materialized) entry.
type Entry struct {
	Path         string
	Mode         Mode
	OID          objstore.OID
	SkipWorktree bool
	Size         int64
}
