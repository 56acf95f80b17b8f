package ipcpipe

import "sync"

// MountState is the lifecycle state the router gates requests on.
type MountState int

const (
	// StateNotReady covers everything before the projector has loaded
	// its first snapshot and the hydration path is wired up.
	StateNotReady MountState = iota
	StateReady
	StateUnmounting
)

func (s MountState) String() string {
	switch s {
	case StateReady:
		return "Ready"
	case StateUnmounting:
		return "Unmounting"
	default:
		return "NotReady"
	}
}

// HandlerFunc answers one request body for a registered header and
// returns the literal response header plus any response body.
type HandlerFunc func(body []byte) (respHeader string, respBody []byte)

// Router dispatches an incoming request's Header to its registered
// HandlerFunc, gating every verb but GetStatus and Unmount on the mount
// being Ready. Unregistered headers answer UnknownRequest.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	state    MountState
}

// NewRouter returns a Router with no handlers registered and state
// NotReady.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Register binds header to fn. A second Register for the same header
// replaces the first, which lets tests substitute fakes freely.
func (r *Router) Register(header string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[header] = fn
}

// SetState updates the mount state every subsequent Dispatch gates on.
func (r *Router) SetState(s MountState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

// State reports the current mount state.
func (r *Router) State() MountState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Dispatch resolves header to a handler and runs it, applying the
// MountNotReady gate first: any header other than GetStatus and Unmount
// is denied with MountNotReady unless the router is Ready. While the
// router is Unmounting, AcquireLock and ReleaseLock are denied with
// UnmountInProgress instead, matching §6's AcquireLock response set. An
// unregistered header answers UnknownRequest regardless of state.
func (r *Router) Dispatch(header string, body []byte) (respHeader string, respBody []byte) {
	r.mu.RLock()
	fn, ok := r.handlers[header]
	state := r.state
	r.mu.RUnlock()

	if !ok {
		return RespUnknownRequest, nil
	}
	if requiresReadyMount(Header(header)) && state != StateReady {
		if state == StateUnmounting && answersUnmountInProgress(Header(header)) {
			return RespUnmountInProgress, nil
		}
		return RespMountNotReady, nil
	}
	return fn(body)
}
