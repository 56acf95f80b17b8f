// Package journal implements the modified-paths journal: a flat,
// append-only, fsync-on-every-write log recording which enlistment paths
// have been locally modified or deleted, so the projector can exclude
// them from the Git index view and the filter driver can skip
// re-hydrating them.
//
// A crash mid-append leaves at most one truncated record at EOF; the
// parser tolerates that by simply stopping there instead of erroring.
package journal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/gitvfs/gitvfs/internal/projection"
)

// Journal satisfies projection.JournalView directly, so a mounted
// enlistment's Projector can be handed its Journal with no adapter.
var _ projection.JournalView = (*Journal)(nil)

// Record sigils: one byte identifying what kind of event follows. §4.E
// names three: a modified file, a modified folder (created/renamed as a
// directory rather than a leaf — tracked separately so a later reader
// can tell a projected subtree was locally created without re-stat'ing
// every descendant), and a tombstone.
const (
	sigilModified       byte = 'M'
	sigilModifiedFolder byte = 'D'
	sigilTombstone      byte = 'T'
)

// Journal is the modified-paths log for one enlistment. Reads consult an
// in-memory set built once at Open time and kept current on every
// append; writers never need to re-scan the file.
type Journal struct {
	mu sync.Mutex

	path string
	f    *os.File

	modified       map[string]bool
	modifiedFolder map[string]bool
	tombstoned     map[string]bool
}

// Open loads path's existing records (if any) into memory and opens it
// for append. A missing file is not an error — a fresh enlistment starts
// with an empty journal.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create parent dir: %w", err)
	}

	j := &Journal{
		path:           path,
		modified:       make(map[string]bool),
		modifiedFolder: make(map[string]bool),
		tombstoned:     make(map[string]bool),
	}

	if existing, err := os.Open(path); err == nil {
		err := j.loadLocked(existing)
		existing.Close()
		if err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open for append: %w", err)
	}
	j.f = f
	return j, nil
}

// loadLocked replays every complete record in r into the in-memory set.
// A truncated trailing record (crash mid-append, no sigil byte or no NUL
// terminator before EOF) is silently discarded rather than treated as
// corruption.
func (j *Journal) loadLocked(r io.Reader) error {
	br := bufio.NewReader(r)
	for {
		sigil, err := br.ReadByte()
		if err != nil {
			return nil // clean EOF between records
		}
		raw, err := br.ReadBytes(0)
		if err != nil {
			return nil // truncated trailing record: tolerate it
		}
		path := string(raw[:len(raw)-1])
		switch sigil {
		case sigilModified:
			j.modified[path] = true
		case sigilModifiedFolder:
			j.modifiedFolder[path] = true
		case sigilTombstone:
			j.tombstoned[path] = true
		default:
			// An unrecognized sigil means the rest of the file is
			// garbage we can't resynchronize from; stop here rather
			// than risk misreading binary noise as paths.
			return nil
		}
	}
}

// Close releases the underlying file handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// Normalize applies the journal's path normalization rule: backslashes
// become forward slashes everywhere, and on Windows the path is
// lower-cased to match that platform's case-insensitive filesystem;
// POSIX paths are kept byte-exact.
func Normalize(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	if runtime.GOOS == "windows" {
		path = strings.ToLower(path)
	}
	return path
}

// RecordModified appends a modified-path record. Duplicate appends are
// allowed — the in-memory set already de-dups for readers, so there's no
// need to check before writing.
func (j *Journal) RecordModified(path string) error {
	return j.append(sigilModified, path, j.modified)
}

// RecordModifiedFolder appends a modified-folder record for path, used
// for a directory created or renamed in through the virtualized view
// rather than a leaf file.
func (j *Journal) RecordModifiedFolder(path string) error {
	return j.append(sigilModifiedFolder, path, j.modifiedFolder)
}

// RecordTombstone appends a tombstone record for path.
func (j *Journal) RecordTombstone(path string) error {
	return j.append(sigilTombstone, path, j.tombstoned)
}

func (j *Journal) append(sigil byte, path string, set map[string]bool) error {
	norm := Normalize(path)

	j.mu.Lock()
	defer j.mu.Unlock()

	record := make([]byte, 0, len(norm)+2)
	record = append(record, sigil)
	record = append(record, norm...)
	record = append(record, 0)

	if _, err := j.f.Write(record); err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("journal: fsync: %w", err)
	}

	set[norm] = true
	return nil
}

// IsModified reports whether path has a modified-file or modified-folder
// record: the projector's merge (§4.B) treats both the same way — trust
// the on-disk stat over the index projection — so callers that only
// care about that distinction don't need to check both sigils.
func (j *Journal) IsModified(path string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	norm := Normalize(path)
	return j.modified[norm] || j.modifiedFolder[norm]
}

// IsModifiedFolder reports whether path has a modified-folder record.
func (j *Journal) IsModifiedFolder(path string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.modifiedFolder[Normalize(path)]
}

// IsTombstoned reports whether path has a tombstone record.
func (j *Journal) IsTombstoned(path string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.tombstoned[Normalize(path)]
}

// Enumerate returns every distinct path recorded as modified (file or
// folder) or tombstoned, sorted, for the ModifiedPaths IPC verb.
func (j *Journal) Enumerate() []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	seen := make(map[string]bool, len(j.modified)+len(j.modifiedFolder)+len(j.tombstoned))
	for p := range j.modified {
		seen[p] = true
	}
	for p := range j.modifiedFolder {
		seen[p] = true
	}
	for p := range j.tombstoned {
		seen[p] = true
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
