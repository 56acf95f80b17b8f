// Package enlistment locates and describes a virtualized working copy: the
// directory tree containing the mounted working directory, the ".gvfs"
// control directory inside it, and the small set of identity values
// (enlistment id, mount id) persisted across mounts.
//
package enlistment

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	// ControlDirName is the per-enlistment control directory, kept inside
	// the root of the virtualized working directory.
	ControlDirName = ".gvfs"

	metadataFileName = "RepoMetadata.dat"
)

// Enlistment describes one virtualized working copy on disk.
type Enlistment struct {
	// WorkingDir is the root of the virtualized working directory.
	WorkingDir string
	// ControlDir is the ".gvfs" directory inside WorkingDir.
	ControlDir string
	// GitDir is the real .git directory backing WorkingDir.
	GitDir string
}

// Discover walks upward from startDir looking for a ".gvfs" control
// directory, returning the enlistment it describes. This mirrors how Git
// itself walks upward from cwd looking for ".git".
func Discover(startDir string) (*Enlistment, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, fmt.Errorf("enlistment: resolve %s: %w", startDir, err)
	}

	for {
		control := filepath.Join(dir, ControlDirName)
		if fi, err := os.Stat(control); err == nil && fi.IsDir() {
			return &Enlistment{
				WorkingDir: dir,
				ControlDir: control,
				GitDir:     filepath.Join(dir, ".git"),
			}, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return nil, fmt.Errorf("enlistment: no %s found above %s", ControlDirName, startDir)
}

// Init lays out a fresh enlistment's control directory structure (the
// caller is responsible for having already cloned or initialized GitDir).
func Init(workingDir string) (*Enlistment, error) {
	workingDir, err := filepath.Abs(workingDir)
	if err != nil {
		return nil, fmt.Errorf("enlistment: resolve %s: %w", workingDir, err)
	}
	e := &Enlistment{
		WorkingDir: workingDir,
		ControlDir: filepath.Join(workingDir, ControlDirName),
		GitDir:     filepath.Join(workingDir, ".git"),
	}
	if err := os.MkdirAll(e.ControlDir, 0755); err != nil {
		return nil, fmt.Errorf("enlistment: create control dir: %w", err)
	}
	return e, nil
}

// MetadataPath returns the path to this enlistment's RepoMetadata.dat.
func (e *Enlistment) MetadataPath() string {
	return filepath.Join(e.ControlDir, metadataFileName)
}

// SocketPath returns the path to the enlistment's IPC named pipe / Unix
// domain socket, kept inside the control directory alongside
// RepoMetadata.dat so a stray socket file never pollutes the working
// directory.
func (e *Enlistment) SocketPath() string {
	return filepath.Join(e.ControlDir, "gitvfs.sock")
}

// ObjectsDir returns the real .git/objects directory this enlistment's
// object store reads from and writes into.
func (e *Enlistment) ObjectsDir() string {
	return filepath.Join(e.GitDir, "objects")
}

// PackDir returns the .git/objects/pack directory the maintenance
// scheduler compacts.
func (e *Enlistment) PackDir() string {
	return filepath.Join(e.ObjectsDir(), "pack")
}

// IndexPath returns the .git/index file the projector watches.
func (e *Enlistment) IndexPath() string {
	return filepath.Join(e.GitDir, "index")
}

// JournalPath returns the modified-paths journal's on-disk path.
func (e *Enlistment) JournalPath() string {
	return filepath.Join(e.ControlDir, "modifiedpaths.dat")
}

// BlobSizesPath returns the persistent blob-size lookup database's path.
func (e *Enlistment) BlobSizesPath() string {
	return filepath.Join(e.ControlDir, "blobsizes.db")
}

// GateDir returns the directory the maintenance scheduler's `<step>.time`
// gate files live under.
func (e *Enlistment) GateDir() string {
	return filepath.Join(e.ControlDir, "gates")
}

// LogDir returns the directory the trace sink writes its rolling log
// files into.
func (e *Enlistment) LogDir() string {
	return filepath.Join(e.ControlDir, "logs")
}

// EnlistmentID returns this enlistment's persisted identity, minting and
// saving a new one on first use. Distinct from MountID: the enlistment id
// survives across unmount/remount cycles, the mount id is assigned fresh
// each time the filesystem is mounted.
func (e *Enlistment) EnlistmentID() (string, error) {
	return e.persistentID("enlistment-id")
}

// NewMountID mints and persists a fresh mount identity, overwriting any
// previous value, so stale IPC handles from a prior mount can be
// detected.
func (e *Enlistment) NewMountID() (string, error) {
	id := uuid.NewString()
	meta, err := OpenMetadata(e.MetadataPath())
	if err != nil {
		return "", err
	}
	if err := meta.Set("mount-id", id); err != nil {
		return "", err
	}
	return id, nil
}

// MountID returns the currently persisted mount id, if any.
func (e *Enlistment) MountID() (string, bool, error) {
	meta, err := OpenMetadata(e.MetadataPath())
	if err != nil {
		return "", false, err
	}
	v, ok := meta.Get("mount-id")
	return v, ok, nil
}

func (e *Enlistment) persistentID(key string) (string, error) {
	meta, err := OpenMetadata(e.MetadataPath())
	if err != nil {
		return "", err
	}
	if v, ok := meta.Get(key); ok {
		return v, nil
	}
	id := uuid.NewString()
	if err := meta.Set(key, id); err != nil {
		return "", err
	}
	return id, nil
}
