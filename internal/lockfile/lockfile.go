// Package lockfile implements the cross-process exclusive lock the IPC
// router exposes to external collaborators (hooks, `git` sub-processes)
// so they can serialize against the mount process's own working-tree
// writes.
//
// The internal, cooperative half is a bool guarded by a mutex standing
// in for "is anyone holding this"; the external holder is tracked in
// process as well, since requests reach Lock only through the IPC
// router. Only MountGuard (flock.go) takes an OS-level lock, over
// golang.org/x/sys/unix.Flock, to keep two mount processes off one
// enlistment.
package lockfile

import (
	"fmt"
	"sync"
)

// Holder identifies the external process currently granted the lock.
type Holder struct {
	PID  int
	Name string
	Args []string
}

// DeferredAction is queued by Release for the virtualization layer to
// drain once the external holder gives the lock back — e.g. re-reading
// the index after an external `git checkout` changed it out from under
// the projector.
type DeferredAction int

const (
	// ActionReprojectIndex asks the projector to force-refresh its
	// snapshot, since the external holder may have rewritten the index.
	ActionReprojectIndex DeferredAction = iota
)

// Reasons a lock request can be denied.
const (
	ReasonGVFSHeld          = "GVFS-held"
	ReasonAlreadyHeld       = "AlreadyHeld"
	ReasonUnmountInProgress = "UnmountInProgress"
)

// Lock is the single cross-process exclusive lock for one enlistment.
// At most one external Holder may be granted at a time; an internal
// write (e.g. an index rebuild) short-circuits any external request
// with ReasonGVFSHeld rather than actually blocking, since the internal
// engine never calls Acquire/Release itself.
type Lock struct {
	mu sync.Mutex

	holder   *Holder
	internal bool // true while the engine holds an implicit write
	deferred []DeferredAction

	// unmounting gates every request with ReasonUnmountInProgress once
	// the mount has begun tearing down.
	unmounting bool
}

// New returns an unheld Lock.
func New() *Lock {
	return &Lock{}
}

// Acquire grants the lock to holder unless it is already held (by the
// internal engine or another external holder) or the mount is
// unmounting. checkAvailabilityOnly performs the same checks but never
// actually grants the lock, for QueryAvailability-style probes issued
// through Acquire's own request shape.
func (l *Lock) Acquire(holder Holder, checkAvailabilityOnly bool) (granted bool, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.unmounting {
		return false, ReasonUnmountInProgress
	}
	if l.internal {
		return false, ReasonGVFSHeld
	}
	if l.holder != nil {
		return false, ReasonAlreadyHeld
	}
	if checkAvailabilityOnly {
		return true, ""
	}

	h := holder
	l.holder = &h
	return true, ""
}

// QueryAvailability reports whether Acquire would currently succeed,
// without taking the lock.
func (l *Lock) QueryAvailability() (available bool, reason string) {
	return l.Acquire(Holder{}, true)
}

// Release gives up pid's hold on the lock and returns the deferred
// action queue the projector must drain. Releasing a lock not held by
// pid returns an error rather than panicking — no panic may ever cross
// an IPC boundary.
func (l *Lock) Release(pid int) ([]DeferredAction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holder == nil || l.holder.PID != pid {
		return nil, fmt.Errorf("lockfile: pid %d does not hold the lock", pid)
	}
	l.holder = nil
	deferred := l.deferred
	l.deferred = nil
	return deferred, nil
}

// EnqueueDeferred records an action to be returned by the next Release.
// Lock never enqueues actions on its own, and none of the IPC router's
// handlers call EnqueueDeferred.
func (l *Lock) EnqueueDeferred(action DeferredAction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deferred = append(l.deferred, action)
}

// BeginInternal marks the engine as holding an implicit write (e.g.
// during an index rebuild). Internal holders short-circuit: they never
// go through Acquire/Release, and their presence denies every external
// Acquire with ReasonGVFSHeld until EndInternal runs.
func (l *Lock) BeginInternal() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.internal = true
}

// EndInternal releases the engine's implicit write.
func (l *Lock) EndInternal() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.internal = false
}

// BeginUnmount marks the lock as refusing every new Acquire with
// ReasonUnmountInProgress, regardless of who currently holds it.
func (l *Lock) BeginUnmount() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unmounting = true
}

// Current reports the current external holder, if any.
func (l *Lock) Current() (Holder, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder == nil {
		return Holder{}, false
	}
	return *l.holder, true
}
