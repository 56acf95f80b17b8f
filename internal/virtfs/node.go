package virtfs

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/gitvfs/gitvfs/internal/projection"
)

// Node is one path in the projected tree. Every Node embeds fs.Inode
// directly rather than carrying a pointer back to it, since virtfs has
// only one node shape to represent every path.
type Node struct {
	fs.Inode

	fsys *FS
	path string // "" for the enlistment root, slash-separated otherwise
}

var _ fs.NodeLookuper = (*Node)(nil)
var _ fs.NodeReaddirer = (*Node)(nil)
var _ fs.NodeGetattrer = (*Node)(nil)

// resolve answers what dirEntry (if any) fsys's projector has for n's
// own path, distinguishing an explicit index entry from an implicit
// directory (a path with projected children but no blob entry of its
// own, since Git's index never lists directories directly).
func (n *Node) resolve() (de projection.DirEntry, isDir bool, found bool, err error) {
	if n.path == "" {
		return projection.DirEntry{}, true, true, nil
	}
	de, ok, err := n.fsys.projector.EntryFor(n.path, n.fsys.journal)
	if err != nil {
		return projection.DirEntry{}, false, false, err
	}
	if ok {
		return de, de.Mode.Kind() == projection.KindSubtree, true, nil
	}
	children, err := n.fsys.projector.ListDirectory(n.path, n.fsys.journal)
	if err != nil {
		return projection.DirEntry{}, false, false, err
	}
	if len(children) > 0 {
		return projection.DirEntry{}, true, true, nil
	}
	return projection.DirEntry{}, false, false, nil
}

// Lookup implements EnumerateDirectory's per-child half: the kernel asks
// for one name at a time and gets back a stable inode.
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := joinPath(n.path, name)
	if isUnderGitDir(childPath) {
		return nil, syscall.ENOENT
	}

	child := &Node{fsys: n.fsys, path: childPath}
	de, isDir, found, err := child.resolve()
	if err != nil {
		return nil, syscall.EIO
	}
	if !found {
		return nil, syscall.ENOENT
	}

	fillAttr(&out.Attr, de, isDir)
	mode := fuse.S_IFDIR
	if !isDir {
		mode = int(modeFor(de.Mode.Kind()))
	}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: uint32(mode)}), 0
}

// Readdir implements EnumerateDirectory's listing half.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	children, err := n.fsys.projector.ListDirectory(n.path, n.fsys.journal)
	if err != nil {
		return nil, syscall.EIO
	}

	seen := make(map[string]bool, len(children))
	entries := make([]fuse.DirEntry, 0, len(children))
	for _, c := range children {
		name := c.Path
		if seen[name] {
			continue
		}
		seen[name] = true
		entries = append(entries, fuse.DirEntry{
			Name: name,
			Mode: modeFor(c.Mode.Kind()),
		})
	}
	return fs.NewListDirStream(entries), 0
}

// Getattr implements GetPlaceholderInfo's stat half: size and mode come
// from the index projection without ever reading the blob's content, so
// a `ls` over an unhydrated tree stays cheap.
func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	de, isDir, found, err := n.resolve()
	if err != nil {
		return syscall.EIO
	}
	if !found {
		return syscall.ENOENT
	}
	fillAttr(&out.Attr, de, isDir)
	if n.path != "" {
		n.fsys.states.onPlaceholderInfo(n.path)
	}
	return 0
}

func fillAttr(out *fuse.Attr, de projection.DirEntry, isDir bool) {
	now := time.Now()
	if isDir {
		out.Mode = 0o755 | fuse.S_IFDIR
	} else {
		// de.Mode already carries the S_IFxxx type bits alongside the
		// permission bits (e.g. ModeRegular == S_IFREG|0644).
		out.Mode = uint32(de.Mode)
		out.Size = uint64(de.Size)
	}
	out.SetTimes(&now, &now, &now)
}
