package virtfs

import (
	"context"
	"errors"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/gitvfs/gitvfs/internal/objstore"
	"github.com/gitvfs/gitvfs/internal/projection"
)

// fakeProjector is a ProjectorView driven entirely from an in-memory map,
// so Node's Lookup/Readdir/Getattr logic can be exercised without a real
// parsed index.
type fakeProjector struct {
	entries map[string]projection.Entry // full path -> entry, files only
}

func (f *fakeProjector) EntryFor(path string, journal projection.JournalView) (projection.DirEntry, bool, error) {
	// Like projection.Projector.EntryFor, hide tombstoned paths.
	if journal != nil && journal.IsTombstoned(path) {
		return projection.DirEntry{}, false, nil
	}
	e, ok := f.entries[path]
	if !ok {
		return projection.DirEntry{}, false, nil
	}
	return projection.DirEntry{Entry: e}, true, nil
}

func (f *fakeProjector) ListDirectory(dir string, journal projection.JournalView) ([]projection.DirEntry, error) {
	var out []projection.DirEntry
	seen := make(map[string]bool)
	for p, e := range f.entries {
		parent, name := splitForTest(p)
		if parent != dir {
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		child := e
		child.Path = name
		out = append(out, projection.DirEntry{Entry: child})
	}
	return out, nil
}

func splitForTest(p string) (parent, name string) {
	i := -1
	for j := 0; j < len(p); j++ {
		if p[j] == '/' {
			i = j
		}
	}
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

type fakeJournal struct {
	modified   map[string]bool
	tombstoned map[string]bool
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{modified: map[string]bool{}, tombstoned: map[string]bool{}}
}

func (f *fakeJournal) IsModified(path string) bool  { return f.modified[path] }
func (f *fakeJournal) IsTombstoned(path string) bool { return f.tombstoned[path] }
func (f *fakeJournal) RecordModified(path string) error {
	f.modified[path] = true
	return nil
}
func (f *fakeJournal) RecordModifiedFolder(path string) error {
	f.modified[path] = true
	return nil
}
func (f *fakeJournal) RecordTombstone(path string) error {
	f.tombstoned[path] = true
	return nil
}

type fakeEnsurer struct {
	content map[objstore.OID][]byte
	failFor map[objstore.OID]bool
}

func (f *fakeEnsurer) Ensure(ctx context.Context, oid objstore.OID) (objstore.ObjectType, []byte, error) {
	if f.failFor[oid] {
		return "", nil, errors.New("fakeEnsurer: forced failure")
	}
	return objstore.TypeBlob, f.content[oid], nil
}

func newTestFS() (*FS, *fakeProjector, *fakeJournal, *fakeEnsurer) {
	proj := &fakeProjector{entries: map[string]projection.Entry{
		"README.md":    {Path: "README.md", Mode: projection.ModeRegular, Size: 11},
		"src/main.go":  {Path: "src/main.go", Mode: projection.ModeRegular, Size: 42},
		"src/util.go":  {Path: "src/util.go", Mode: projection.ModeRegular, Size: 7},
		"link":         {Path: "link", Mode: projection.ModeSymlink},
	}}
	journal := newFakeJournal()
	ensurer := &fakeEnsurer{content: map[objstore.OID][]byte{}, failFor: map[objstore.OID]bool{}}
	fsys := New(proj, journal, ensurer)
	return fsys, proj, journal, ensurer
}

func TestModeFor(t *testing.T) {
	if got := modeFor(projection.KindSubtree); got != fuse.S_IFDIR {
		t.Errorf("modeFor(KindSubtree) = %#o, want S_IFDIR", got)
	}
	if got := modeFor(projection.KindSymlink); got != fuse.S_IFLNK {
		t.Errorf("modeFor(KindSymlink) = %#o, want S_IFLNK", got)
	}
	if got := modeFor(projection.KindRegular); got != fuse.S_IFREG {
		t.Errorf("modeFor(KindRegular) = %#o, want S_IFREG", got)
	}
}

func TestIsUnderGitDir(t *testing.T) {
	cases := map[string]bool{
		".git":              true,
		".git/HEAD":         true,
		".git/objects/ab":   true,
		"gitignore":         false,
		"src/.gitkeep":      false,
		"":                  false,
	}
	for path, want := range cases {
		if got := isUnderGitDir(path); got != want {
			t.Errorf("isUnderGitDir(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestJoinPath(t *testing.T) {
	if got := joinPath("", "a"); got != "a" {
		t.Errorf("joinPath(\"\", a) = %q, want a", got)
	}
	if got := joinPath("a", "b"); got != "a/b" {
		t.Errorf("joinPath(a, b) = %q, want a/b", got)
	}
	if got := joinPath("a/b", "c"); got != "a/b/c" {
		t.Errorf("joinPath(a/b, c) = %q, want a/b/c", got)
	}
}

func TestNodeResolve_ExplicitFile(t *testing.T) {
	fsys, _, _, _ := newTestFS()
	n := &Node{fsys: fsys, path: "src/main.go"}
	de, isDir, found, err := n.resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !found || isDir {
		t.Fatalf("resolve(src/main.go) found=%v isDir=%v, want found=true isDir=false", found, isDir)
	}
	if de.Size != 42 {
		t.Errorf("resolve(src/main.go).Size = %d, want 42", de.Size)
	}
}

func TestNodeResolve_ImplicitDirectory(t *testing.T) {
	fsys, _, _, _ := newTestFS()
	n := &Node{fsys: fsys, path: "src"}
	_, isDir, found, err := n.resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !found || !isDir {
		t.Fatalf("resolve(src) found=%v isDir=%v, want found=true isDir=true (implicit directory)", found, isDir)
	}
}

func TestNodeResolve_MissingPath(t *testing.T) {
	fsys, _, _, _ := newTestFS()
	n := &Node{fsys: fsys, path: "does/not/exist"}
	_, _, found, err := n.resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if found {
		t.Error("resolve(does/not/exist) found=true, want false")
	}
}

func TestNodeResolve_TombstonedPathIsHidden(t *testing.T) {
	fsys, _, journal, _ := newTestFS()
	journal.RecordTombstone("README.md")
	n := &Node{fsys: fsys, path: "README.md"}
	_, _, found, err := n.resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if found {
		t.Error("a tombstoned path should resolve as not found")
	}
}

func TestStateTable_DefaultsToVirtual(t *testing.T) {
	st := newStateTable()
	if got := st.get("never/touched"); got != StateVirtual {
		t.Errorf("get on untouched path = %v, want Virtual", got)
	}
}

func TestStateTable_PlaceholderInfoMovesVirtualToPartial(t *testing.T) {
	st := newStateTable()
	st.onPlaceholderInfo("p")
	if got := st.get("p"); got != StatePartial {
		t.Errorf("after onPlaceholderInfo = %v, want Partial", got)
	}
}

func TestStateTable_PlaceholderInfoDoesNotRegressFull(t *testing.T) {
	st := newStateTable()
	st.onHydrated("p")
	st.onPlaceholderInfo("p")
	if got := st.get("p"); got != StateFull {
		t.Errorf("onPlaceholderInfo regressed Full to %v", got)
	}
}

func TestStateTable_HydrationFailureStaysPartial(t *testing.T) {
	st := newStateTable()
	st.onPlaceholderInfo("p")
	st.onHydrationFailed("p")
	if got := st.get("p"); got != StatePartial {
		t.Errorf("after failed hydration = %v, want Partial", got)
	}
}

func TestStateTable_HydrationSuccessMovesToFull(t *testing.T) {
	st := newStateTable()
	st.onPlaceholderInfo("p")
	st.onHydrated("p")
	if got := st.get("p"); got != StateFull {
		t.Errorf("after hydration = %v, want Full", got)
	}
}

func TestStateTable_ModifiedFromFull(t *testing.T) {
	st := newStateTable()
	st.onHydrated("p")
	st.onModified("p")
	if got := st.get("p"); got != StateModified {
		t.Errorf("after modify = %v, want Modified", got)
	}
}

func TestStateTable_DeletedFromAnyState(t *testing.T) {
	st := newStateTable()
	st.onHydrated("p")
	st.onDeleted("p")
	if got := st.get("p"); got != StateTombstone {
		t.Errorf("after delete = %v, want Tombstone", got)
	}
}

func TestNode_Unlink_DeniesGitDir(t *testing.T) {
	fsys, _, _, _ := newTestFS()
	root := &Node{fsys: fsys, path: ""}
	if errno := root.Unlink(context.Background(), ".git"); errno == 0 {
		t.Error("Unlink(.git) should be denied")
	}
}

func TestNode_Unlink_RecordsTombstone(t *testing.T) {
	fsys, _, journal, _ := newTestFS()
	root := &Node{fsys: fsys, path: ""}
	if errno := root.Unlink(context.Background(), "README.md"); errno != 0 {
		t.Fatalf("Unlink(README.md) errno = %v, want 0", errno)
	}
	if !journal.IsTombstoned("README.md") {
		t.Error("Unlink should have recorded a tombstone")
	}
	if got := fsys.states.get("README.md"); got != StateTombstone {
		t.Errorf("state after Unlink = %v, want Tombstone", got)
	}
}

func TestNode_Rename_TombstonesOldRecordsNew(t *testing.T) {
	fsys, _, journal, _ := newTestFS()
	root := &Node{fsys: fsys, path: ""}
	dest := &Node{fsys: fsys, path: "src"}
	if errno := root.Rename(context.Background(), "README.md", dest, "README2.md", 0); errno != 0 {
		t.Fatalf("Rename errno = %v, want 0", errno)
	}
	if !journal.IsTombstoned("README.md") {
		t.Error("Rename should tombstone the old path")
	}
	if !journal.IsModified("src/README2.md") {
		t.Error("Rename should record the new path as modified")
	}
}
