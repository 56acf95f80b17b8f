package lockfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MountGuard is a real OS-level exclusive lock over a sentinel file in
// the enlistment's .gvfs directory, preventing two mount processes from
// attaching to the same enlistment at once. This is the one piece of the
// cross-process lock that can't be arbitrated purely in-process, since
// the two competing holders here are two separate mount daemons rather
// than two requests arriving over one daemon's IPC pipe.
type MountGuard struct {
	f *os.File
}

// AcquireMountGuard opens (creating if needed) path and takes a
// non-blocking exclusive flock on it. A second process racing for the
// same enlistment gets syscall.EWOULDBLOCK back immediately rather than
// blocking, since a mount process should fail fast rather than hang
// waiting for another mount's lifetime.
func AcquireMountGuard(path string) (*MountGuard, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open mount guard %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("lockfile: enlistment already mounted: %w", err)
	}
	return &MountGuard{f: f}, nil
}

// Release drops the flock and closes the underlying file.
func (g *MountGuard) Release() error {
	if err := unix.Flock(int(g.f.Fd()), unix.LOCK_UN); err != nil {
		g.f.Close()
		return fmt.Errorf("lockfile: unlock mount guard: %w", err)
	}
	return g.f.Close()
}
