package projection

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// JournalView is the subset of the modified-paths journal the projector
// needs to merge into list_directory/entry_for results. Declared here,
// rather than importing the journal package, to keep this package
// decoupled from the journal's own persistence concerns.
type JournalView interface {
	IsModified(path string) bool
	IsTombstoned(path string) bool
}

// fileIdentity is the (mtime, size, inode) triple the projector rebuilds
// on a change to, avoiding a full content re-parse on every
// stat-unchanged poll.
type fileIdentity struct {
	mtimeSec  int64
	mtimeNsec int64
	size      int64
	inode     uint64
}

func statIdentity(path string) (fileIdentity, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return fileIdentity{}, fmt.Errorf("projection: stat index: %w", err)
	}
	return fileIdentity{
		mtimeSec:  int64(st.Mtim.Sec),
		mtimeNsec: int64(st.Mtim.Nsec),
		size:      st.Size,
		inode:     st.Ino,
	}, nil
}

// Projector owns the current projection snapshot and rebuilds it from
// the on-disk index when its (mtime, size, inode) identity changes or an
// explicit invalidation arrives from the IPC router. The snapshot
// pointer is swapped atomically: a reader that loaded a snapshot keeps
// seeing it even if a rebuild completes concurrently, so projection
// lookups stay non-blocking.
type Projector struct {
	indexPath string

	rebuildMu sync.Mutex // serializes concurrent rebuilders
	lastID    fileIdentity

	snapshot atomic.Pointer[Tree]
}

// NewProjector returns a Projector that has not yet loaded any snapshot;
// call Refresh once before serving requests.
func NewProjector(indexPath string) *Projector {
	return &Projector{indexPath: indexPath}
}

// Refresh rebuilds the snapshot if the index file's identity changed
// since the last build, or force is true (used for an explicit
// PostIndexChanged invalidation). Returns whether a rebuild happened.
func (p *Projector) Refresh(force bool) (bool, error) {
	p.rebuildMu.Lock()
	defer p.rebuildMu.Unlock()

	id, err := statIdentity(p.indexPath)
	if err != nil {
		return false, err
	}
	if !force && id == p.lastID && p.snapshot.Load() != nil {
		return false, nil
	}

	entries, err := ReadIndex(p.indexPath)
	if err != nil {
		return false, fmt.Errorf("projection: rebuild: %w", err)
	}

	tree := BuildTree(entries)
	p.snapshot.Store(tree)
	p.lastID = id
	return true, nil
}

// Snapshot returns the most recently published tree, or nil if Refresh
// has never successfully run.
func (p *Projector) Snapshot() *Tree {
	return p.snapshot.Load()
}

// DirEntry is what list_directory/entry_for hand back to the
// virtualization callback surface: a projection Entry, annotated with
// whether the modified-paths journal says it's tombstoned (and so
// should be hidden) or modified (and so should be answered from disk
// instead of the index).
type DirEntry struct {
	Entry
	Modified bool
}

// ListDirectory returns dir's projected children, with tombstoned
// entries removed and modified entries flagged so the caller re-stats
// them from disk rather than trusting the index's cached size/mode.
func (p *Projector) ListDirectory(dir string, journal JournalView) ([]DirEntry, error) {
	tree := p.Snapshot()
	if tree == nil {
		return nil, fmt.Errorf("projection: no snapshot loaded")
	}

	children := tree.ListDirectory(dir)
	out := make([]DirEntry, 0, len(children))
	for _, e := range children {
		full := e.Path
		if dir != "" {
			full = dir + "/" + e.Path
		}
		if journal != nil && journal.IsTombstoned(full) {
			continue
		}
		de := DirEntry{Entry: e}
		if journal != nil && journal.IsModified(full) {
			de.Modified = true
		}
		out = append(out, de)
	}
	return out, nil
}

// EntryFor looks up a single path, honoring the same tombstone/modified
// merge ListDirectory applies. Used to answer a placeholder-info lookup
// for one path without walking its whole parent directory.
func (p *Projector) EntryFor(path string, journal JournalView) (DirEntry, bool, error) {
	tree := p.Snapshot()
	if tree == nil {
		return DirEntry{}, false, fmt.Errorf("projection: no snapshot loaded")
	}
	if journal != nil && journal.IsTombstoned(path) {
		return DirEntry{}, false, nil
	}
	e, ok := tree.EntryFor(path)
	if !ok {
		return DirEntry{}, false, nil
	}
	de := DirEntry{Entry: e}
	if journal != nil && journal.IsModified(path) {
		de.Modified = true
	}
	return de, true, nil
}
