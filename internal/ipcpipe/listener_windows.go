//go:build windows

package ipcpipe

import (
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

// Listen opens the per-enlistment named pipe at path (e.g.
// `\\.\pipe\gitvfs-<enlistment-id>`), mirroring the Unix domain socket
// half's shape so the rest of the router is platform-agnostic.
func Listen(path string) (net.Listener, error) {
	l, err := winio.ListenPipe(path, nil)
	if err != nil {
		return nil, fmt.Errorf("ipcpipe: listen on pipe %s: %w", path, err)
	}
	return l, nil
}
