package ipcpipe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gitvfs/gitvfs/internal/lockfile"
	"github.com/gitvfs/gitvfs/internal/objstore"
)

// LockRequester is the subset of lockfile.Lock the AcquireLock/
// ReleaseLock handlers need. Declared locally, matching the decoupled
// local-interface pattern used across every component boundary in this
// module.
type LockRequester interface {
	Acquire(holder lockfile.Holder, checkAvailabilityOnly bool) (granted bool, reason string)
	Release(pid int) ([]lockfile.DeferredAction, error)
}

// ObjectEnsurer is the subset of objcache.Coordinator the DownloadObject
// verb needs: the same Ensure call the virtfs hydration path uses, so a
// DownloadObject request and a FUSE read miss share one fetch/cache path
// rather than two.
type ObjectEnsurer interface {
	Ensure(ctx context.Context, oid objstore.OID) (objstore.ObjectType, []byte, error)
}

// PathEnumerator is the subset of journal.Journal ModifiedPaths needs.
type PathEnumerator interface {
	Enumerate() []string
}

// Invalidator is the subset of projection.Projector PostIndexChanged
// needs.
type Invalidator interface {
	Refresh(force bool) (bool, error)
}

// JobRunner is the subset of maintenance.Scheduler RunPostFetchJob needs.
type JobRunner interface {
	RunDue(ctx context.Context, forceRun bool) ([]string, error)
}

// StatusReporter supplies the fields GetStatus answers with; gitvfs's
// mount command implements it directly since those fields live on the
// running mount's own state, not any one component.
type StatusReporter interface {
	Status() StatusInfo
}

// StatusInfo is GetStatus's JSON response body.
type StatusInfo struct {
	EnlistmentRoot           string `json:"EnlistmentRoot"`
	LocalCacheRoot           string `json:"LocalCacheRoot"`
	RepoUrl                  string `json:"RepoUrl"`
	CacheServer              string `json:"CacheServer"`
	LockStatus               string `json:"LockStatus"`
	DiskLayoutVersion        int    `json:"DiskLayoutVersion"`
	MountStatus              string `json:"MountStatus"`
	BackgroundOperationCount int    `json:"BackgroundOperationCount"`
}

// lockRequestBody is AcquireLock/ReleaseLock's request body shape: a
// NUL-joined PID, process name, and command-line argv.
type lockRequestBody struct {
	PID  int
	Name string
	Args []string
}

func parseLockRequest(body []byte) (lockRequestBody, error) {
	fields := strings.Split(string(body), "\x00")
	if len(fields) < 2 {
		return lockRequestBody{}, fmt.Errorf("ipcpipe: malformed lock request: %q", body)
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return lockRequestBody{}, fmt.Errorf("ipcpipe: malformed pid %q: %w", fields[0], err)
	}
	req := lockRequestBody{PID: pid, Name: fields[1]}
	if len(fields) > 2 {
		req.Args = fields[2:]
	}
	return req, nil
}

// RegisterAcquireLock wires the AcquireLock verb to lock.
func RegisterAcquireLock(r *Router, lock LockRequester) {
	r.Register(string(HeaderAcquireLock), func(body []byte) (string, []byte) {
		req, err := parseLockRequest(body)
		if err != nil {
			return RespFailure, []byte(err.Error())
		}
		granted, reason := lock.Acquire(lockfile.Holder{PID: req.PID, Name: req.Name, Args: req.Args}, false)
		if !granted {
			return reason, nil
		}
		return RespAccept, nil
	})
}

// RegisterReleaseLock wires the ReleaseLock verb to lock.
func RegisterReleaseLock(r *Router, lock LockRequester) {
	r.Register(string(HeaderReleaseLock), func(body []byte) (string, []byte) {
		pid, err := strconv.Atoi(strings.TrimSpace(strings.SplitN(string(body), "\x00", 2)[0]))
		if err != nil {
			return RespFailure, []byte(err.Error())
		}
		deferred, err := lock.Release(pid)
		if err != nil {
			return RespFailure, []byte(err.Error())
		}
		_ = deferred // nothing in the router acts on deferred actions; they are dropped here
		return RespSuccess, nil
	})
}

// RegisterDownloadObject wires the DownloadObject verb to ensurer,
// validating the 40-hex OID before dispatch: an invalid SHA answers
// InvalidSHA without touching the network.
func RegisterDownloadObject(r *Router, ensurer ObjectEnsurer) {
	r.Register(string(HeaderDownloadObject), func(body []byte) (string, []byte) {
		oid, err := objstore.ParseOID(strings.TrimSpace(string(body)))
		if err != nil {
			return RespInvalidSHA, nil
		}
		if _, _, err := ensurer.Ensure(context.Background(), oid); err != nil {
			return RespDownloadFailed, []byte(err.Error())
		}
		return RespSuccess, nil
	})
}

// RegisterGetStatus wires the GetStatus verb to reporter. Like Unmount,
// GetStatus answers regardless of mount state; its response body is the
// JSON-serialized status rather than an Accept/Deny literal.
func RegisterGetStatus(r *Router, reporter StatusReporter) {
	r.Register(string(HeaderGetStatus), func(body []byte) (string, []byte) {
		raw, err := json.Marshal(reporter.Status())
		if err != nil {
			return RespFailure, []byte(err.Error())
		}
		return RespSuccess, raw
	})
}

// RegisterModifiedPaths wires the ModifiedPaths verb to paths, gating on
// the request body's protocol version: a mismatch answers InvalidVersion.
func RegisterModifiedPaths(r *Router, paths PathEnumerator, supportedVersion string) {
	r.Register(string(HeaderModifiedPaths), func(body []byte) (string, []byte) {
		version := strings.TrimSpace(string(body))
		if version != supportedVersion {
			return RespInvalidVersion, nil
		}
		return RespSuccess, []byte(strings.Join(paths.Enumerate(), "\x00"))
	})
}

// RegisterPostIndexChanged wires the PostIndexChanged verb to inv,
// forcing a projector rebuild regardless of the index's on-disk identity.
func RegisterPostIndexChanged(r *Router, inv Invalidator) {
	r.Register(string(HeaderPostIndexChanged), func(body []byte) (string, []byte) {
		if _, err := inv.Refresh(true); err != nil {
			return RespFailure, []byte(err.Error())
		}
		return RespSuccess, nil
	})
}

// RegisterRunPostFetchJob wires the RunPostFetchJob verb to scheduler.
// The request body is a JSON array of new pack names; this module's
// scheduler re-derives what needs doing from the pack directory itself
// rather than trusting the caller's list, so the body is parsed only to
// validate the request shape.
func RegisterRunPostFetchJob(r *Router, scheduler JobRunner) {
	r.Register(string(HeaderRunPostFetchJob), func(body []byte) (string, []byte) {
		var packs []string
		if len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, &packs); err != nil {
				return RespFailure, []byte(err.Error())
			}
		}
		if _, err := scheduler.RunDue(context.Background(), true); err != nil {
			return RespFailure, []byte(err.Error())
		}
		return RespSuccess, nil
	})
}

// RegisterUnmount wires the Unmount verb: it marks lock as unmounting,
// moves the router to StateUnmounting, then calls onUnmount (if non-nil)
// to begin tearing down the FUSE session.
func RegisterUnmount(r *Router, lock *lockfile.Lock, onUnmount func()) {
	r.Register(string(HeaderUnmount), func(body []byte) (string, []byte) {
		lock.BeginUnmount()
		r.SetState(StateUnmounting)
		if onUnmount != nil {
			onUnmount()
		}
		return RespSuccess, nil
	})
}
