// Package virtfs is the virtualization callback surface the kernel
// filter drives: EnumerateDirectory, GetPlaceholderInfo, GetFileStream,
// and the Notify* family, plus the placeholder hydration state machine
// each path moves through.
//
// Built on go-fuse's fs.Inode embedding (NewInode + fs.StableAttr,
// fs.NewListDirStream), with a full recursive tree driven by
// internal/projection's snapshot instead of a flat listing.
package virtfs

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/gitvfs/gitvfs/internal/objstore"
	"github.com/gitvfs/gitvfs/internal/projection"
)

// Ensurer is the subset of objcache.Coordinator the hydration path
// needs. Declared locally so this package doesn't import objcache's
// SQLite/HTTP dependency chain just to compile.
type Ensurer interface {
	Ensure(ctx context.Context, oid objstore.OID) (objstore.ObjectType, []byte, error)
}

// ProjectorView is the subset of projection.Projector Lookup/Readdir need.
type ProjectorView interface {
	ListDirectory(dir string, journal projection.JournalView) ([]projection.DirEntry, error)
	EntryFor(path string, journal projection.JournalView) (projection.DirEntry, bool, error)
}

// JournalStore is the subset of journal.Journal the Notify* handlers and
// the projector merge need: read (JournalView) plus the three record ops.
type JournalStore interface {
	projection.JournalView
	RecordModified(path string) error
	RecordModifiedFolder(path string) error
	RecordTombstone(path string) error
}

// FS bundles every service a Node needs to answer a callback: the
// projected index, the modified-paths journal, and the object-fetch
// coordinator that hydrates a file's content on first read.
type FS struct {
	projector ProjectorView
	journal   JournalStore
	ensurer   Ensurer

	states *stateTable
}

// New returns an FS ready to be mounted.
func New(projector ProjectorView, journal JournalStore, ensurer Ensurer) *FS {
	return &FS{
		projector: projector,
		journal:   journal,
		ensurer:   ensurer,
		states:    newStateTable(),
	}
}

// Mount mounts fsys at mountpoint via fs.Mount with
// fuse.MountOptions{Name, FsName, Debug}.
func (fsys *FS) Mount(mountpoint string, debug bool) (*fuse.Server, error) {
	root := &Node{fsys: fsys, path: ""}
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:   "gitvfs",
			FsName: "gitvfs",
			Debug:  debug,
		},
	}
	server, err := fs.Mount(mountpoint, root, opts)
	if err != nil {
		return nil, fmt.Errorf("virtfs: mount failed: %w", err)
	}
	return server, nil
}

// joinPath joins a parent (relative, "" for root) and a child name into
// a slash-separated relative path, matching projection.Entry.Path's shape.
func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return path.Join(parent, name)
}

// isUnderGitDir reports whether rel (relative to the enlistment root) is
// the `.git` directory or something inside it.
func isUnderGitDir(rel string) bool {
	return rel == ".git" || strings.HasPrefix(rel, ".git/")
}

// modeFor maps a projection.Kind to the FUSE S_IFxxx bits NewInode needs.
func modeFor(k projection.Kind) uint32 {
	switch k {
	case projection.KindSubtree:
		return fuse.S_IFDIR
	case projection.KindSymlink:
		return fuse.S_IFLNK
	default:
		return fuse.S_IFREG
	}
}
