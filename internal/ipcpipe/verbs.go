// Package ipcpipe implements the named-pipe request router hook
// processes and the CLI use to reach the mounted core: length-prefixed,
// NUL-delimited `Header\0Body` framing, a header-keyed handler table, and
// the MountNotReady gate every verb but GetStatus and Unmount is subject
// to. Connections are accepted and dispatched one request per connection,
// one goroutine per connection.
package ipcpipe

// Header is a verb name, the first NUL-delimited field of a request.
type Header string

// The verb table, alphabetized.
const (
	HeaderAcquireLock      Header = "AcquireLock"
	HeaderDownloadObject   Header = "DownloadObject"
	HeaderGetStatus        Header = "GetStatus"
	HeaderModifiedPaths    Header = "ModifiedPaths"
	HeaderPostIndexChanged Header = "PostIndexChanged"
	HeaderReleaseLock      Header = "ReleaseLock"
	HeaderRunPostFetchJob  Header = "RunPostFetchJob"
	HeaderUnmount          Header = "Unmount"
)

// Response literals the verb table names.
const (
	RespAccept            = "Accept"
	RespDenyGVFS          = "Deny(GVFS)"
	RespDenyGit           = "Deny(Git)"
	RespMountNotReady     = "MountNotReady"
	RespUnmountInProgress = "UnmountInProgress"
	RespSuccess           = "Success"
	RespFailure           = "Failure"
	RespInvalidSHA        = "InvalidSHA"
	RespDownloadFailed    = "DownloadFailed"
	RespInvalidVersion    = "InvalidVersion"
	RespUnknownRequest    = "UnknownRequest"
)

// requiresReadyMount reports true for every header except GetStatus and
// Unmount, which must answer regardless of mount state.
func requiresReadyMount(h Header) bool {
	return h != HeaderGetStatus && h != HeaderUnmount
}

// answersUnmountInProgress is the subset of gated verbs §6 documents a
// dedicated UnmountInProgress response for, rather than the generic
// MountNotReady every other gated verb collapses to while tearing down.
func answersUnmountInProgress(h Header) bool {
	return h == HeaderAcquireLock || h == HeaderReleaseLock
}
