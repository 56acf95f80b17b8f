package virtfs

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

var _ fs.NodeCreater = (*Node)(nil)
var _ fs.NodeMkdirer = (*Node)(nil)
var _ fs.NodeUnlinker = (*Node)(nil)
var _ fs.NodeRenamer = (*Node)(nil)
var _ fs.NodeSetattrer = (*Node)(nil)
var _ fs.NodeLinker = (*Node)(nil)

// Create implements NotifyNewFile: a new path springs into existence
// fully materialized (no placeholder, no hydration needed) and is
// immediately recorded as modified so the projector's merge hides it
// from the stale index view once one is rebuilt.
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	childPath := joinPath(n.path, name)
	if isUnderGitDir(childPath) {
		return nil, nil, 0, syscall.EPERM
	}

	if err := n.fsys.journal.RecordModified(childPath); err != nil {
		return nil, nil, 0, syscall.EIO
	}
	n.fsys.states.onModified(childPath)

	child := &Node{fsys: n.fsys, path: childPath}
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFREG})
	return inode, &fileHandle{}, fuse.FOPEN_DIRECT_IO, 0
}

// Mkdir implements NotifyNewFile's directory half: a locally created
// directory is journaled with the modified-folder sigil rather than the
// plain modified-file one, distinguishing it from a leaf write (§4.E).
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := joinPath(n.path, name)
	if isUnderGitDir(childPath) {
		return nil, syscall.EPERM
	}

	if err := n.fsys.journal.RecordModifiedFolder(childPath); err != nil {
		return nil, syscall.EIO
	}
	n.fsys.states.onModified(childPath)

	child := &Node{fsys: n.fsys, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFDIR}), 0
}

// canDelete enforces the NotifyPreDelete denial policy: the enlistment
// root and anything under .git can never be removed through the
// virtualized view, regardless of what deleted rel is.
func canDelete(rel string) bool {
	return rel != "" && !isUnderGitDir(rel)
}

// Unlink implements NotifyFileDeleted / NotifyPreDelete's denial check.
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	childPath := joinPath(n.path, name)
	if !canDelete(childPath) {
		return syscall.EPERM
	}
	if err := n.fsys.journal.RecordTombstone(childPath); err != nil {
		return syscall.EIO
	}
	n.fsys.states.onDeleted(childPath)
	return 0
}

// Rmdir applies the same denial policy as Unlink; a directory removed
// through the virtualized view tombstones its path the same way a file
// does (subtree membership is reconstructed from the journal-filtered
// projection, not from a separate directory record).
func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.Unlink(ctx, name)
}

var _ fs.NodeRmdirer = (*Node)(nil)

// Rename implements NotifyRename: the old path is tombstoned and the
// new one recorded modified, covering both NotifyFileRenamed and
// NotifyHardLink's "old name gone, new name present" bookkeeping.
func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	oldPath := joinPath(n.path, name)
	if isUnderGitDir(oldPath) {
		return syscall.EPERM
	}

	destDir, ok := newParent.(*Node)
	if !ok {
		return syscall.EINVAL
	}
	newPath := joinPath(destDir.path, newName)
	if isUnderGitDir(newPath) {
		return syscall.EPERM
	}

	if err := n.fsys.journal.RecordTombstone(oldPath); err != nil {
		return syscall.EIO
	}
	if err := n.fsys.journal.RecordModified(newPath); err != nil {
		return syscall.EIO
	}
	n.fsys.states.onDeleted(oldPath)
	n.fsys.states.onModified(newPath)
	return 0
}

// Link implements NotifyHardLink: a second name for an existing path is
// recorded as its own modified entry, since the journal tracks paths
// rather than inode identity.
func (n *Node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := joinPath(n.path, name)
	if isUnderGitDir(childPath) {
		return nil, syscall.EPERM
	}
	if err := n.fsys.journal.RecordModified(childPath); err != nil {
		return nil, syscall.EIO
	}
	n.fsys.states.onModified(childPath)

	child := &Node{fsys: n.fsys, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFREG}), 0
}

// Setattr implements NotifyFileModified for in-place edits (truncate,
// chmod, a write through an already-open handle): any attribute change
// to a path still backed by the index flips it to Modified so the
// projector's merge stops trusting the cached size/mode for it.
func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if n.path == "" {
		return 0
	}
	if err := n.fsys.journal.RecordModified(n.path); err != nil {
		return syscall.EIO
	}
	n.fsys.states.onModified(n.path)

	de, isDir, found, err := n.resolve()
	if err == nil && found {
		fillAttr(&out.Attr, de, isDir)
	}
	return 0
}
