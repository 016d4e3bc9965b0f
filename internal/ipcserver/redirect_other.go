//go:build !unix

package ipcserver

import (
	"errors"
	"net"
)

// On non-POSIX hosts there is no process-wide fd 1 to dup2 over; per
// spec §9 Design Notes this would need a per-thread output sink plus a
// cooperation contract with entry points, which is out of scope here.
var errRedirectUnsupported = errors.New("ipcserver: stdout redirection requires a POSIX host")

func (s *Server) attachOutputPeer(conn *net.UnixConn) error {
	return errRedirectUnsupported
}

func (s *Server) closeRedirection() {}
