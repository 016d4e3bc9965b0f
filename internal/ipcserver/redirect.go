//go:build unix

package ipcserver

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// redirection is the output-redirection record from spec §3: at most one
// is alive per server at any instant; while alive, fd 1 is a duplicate of
// peer's socket descriptor.
type redirection struct {
	savedFD int
	peer    *net.UnixConn
	peerFD  *os.File
}

// attachOutputPeer implements the output-channel state machine from
// spec §4.D: evict any previous peer, save the current fd 1, dup2 the new
// peer's descriptor over it, and spawn a reader goroutine that restores fd
// 1 the instant the peer disconnects. This is a POSIX-only capability
// (spec §9 Design Notes); the build tag above keeps it off non-unix
// targets, where a per-thread output sink would be needed instead.
func (s *Server) attachOutputPeer(conn *net.UnixConn) error {
	s.closeRedirection()

	peerFile, err := conn.File()
	if err != nil {
		return fmt.Errorf("ipcserver: dup peer socket fd: %w", err)
	}

	savedFD, err := unix.Dup(1)
	if err != nil {
		peerFile.Close()
		return fmt.Errorf("ipcserver: save fd 1: %w", err)
	}

	if err := unix.Dup2(int(peerFile.Fd()), 1); err != nil {
		unix.Close(savedFD)
		peerFile.Close()
		return fmt.Errorf("ipcserver: redirect fd 1: %w", err)
	}

	r := &redirection{
		savedFD: savedFD,
		peer:    conn,
		peerFD:  peerFile,
	}

	s.redirMu.Lock()
	s.redir = r
	s.redirMu.Unlock()

	go s.watchOutputPeer(r)
	return nil
}

// watchOutputPeer blocks reading from the peer (detecting it going away)
// and restores fd 1 on EOF or any read error, unless this redirection has
// already been superseded by a newer one.
func (s *Server) watchOutputPeer(r *redirection) {
	buf := make([]byte, 256)
	for {
		if _, err := r.peer.Read(buf); err != nil {
			break
		}
	}
	s.retireRedirection(r)
}

// retireRedirection restores fd 1 from r's saved descriptor, but only if r
// is still the active redirection (an eviction may have already retired
// it).
func (s *Server) retireRedirection(r *redirection) {
	s.redirMu.Lock()
	defer s.redirMu.Unlock()
	if s.redir != r {
		return
	}
	s.restoreLocked(r)
	s.redir = nil
}

// closeRedirection evicts the currently active peer, if any, restoring
// fd 1 before returning. Called both when a new output peer connects and
// on server shutdown.
func (s *Server) closeRedirection() {
	s.redirMu.Lock()
	r := s.redir
	s.redir = nil
	s.redirMu.Unlock()
	if r == nil {
		return
	}
	r.peer.Close()
	s.redirMu.Lock()
	s.restoreLocked(r)
	s.redirMu.Unlock()
}

// restoreLocked performs the actual dup2-back-and-close; callers must
// hold redirMu.
func (s *Server) restoreLocked(r *redirection) {
	unix.Dup2(r.savedFD, 1)
	unix.Close(r.savedFD)
	r.peerFD.Close()
}
