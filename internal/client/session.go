// Package client implements the attach client side of the protocol: a
// Session that dials a target's two sockets, a line editor with
// completion, and the small built-in vocabulary (attach/detach/exit).
package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/ehrlich-b/inshell/internal/ipcserver"
	"github.com/ehrlich-b/inshell/internal/proto"
)

var (
	ErrNotAttached     = errors.New("client: not attached")
	ErrAmbiguousTarget = errors.New("client: ambiguous target")
	ErrNoSuchTarget    = errors.New("client: no such target")
)

// Session is a live attachment to one target: the two dialed sockets plus
// the background copier draining the output channel. All fields are
// either all present (attached) or all absent (detached), mirroring the
// invariant on the client-session data model.
type Session struct {
	PID        int
	Name       string
	Tag        string // uuid, distinguishes this attachment in logs
	AttachedAt time.Time

	cmdConn net.Conn
	outConn net.Conn

	names []string

	mu      sync.Mutex
	copyErr error
	done    chan struct{}
}

// Attach dials both of pid's sockets, reads the command-name banner, and
// starts a background copier writing the output channel to w until the
// session is closed or the connection drops.
func Attach(pid int, w io.Writer) (*Session, error) {
	cmdPath, outPath := ipcserver.SocketPaths(pid)

	cmdConn, err := net.Dial("unix", cmdPath)
	if err != nil {
		return nil, fmt.Errorf("client: dial command socket: %w", err)
	}

	outConn, err := net.Dial("unix", outPath)
	if err != nil {
		cmdConn.Close()
		return nil, fmt.Errorf("client: dial output socket: %w", err)
	}

	banner, err := proto.ReadLine(bufio.NewReader(cmdConn))
	if err != nil {
		cmdConn.Close()
		outConn.Close()
		return nil, fmt.Errorf("client: read command-name banner: %w", err)
	}

	s := &Session{
		PID:        pid,
		Tag:        uuid.NewString(),
		AttachedAt: time.Now(),
		cmdConn:    cmdConn,
		outConn:    outConn,
		names:      strings.Fields(banner),
		done:       make(chan struct{}),
	}

	slog.Default().Info("client: attached", "pid", pid, "session", s.Tag)
	go s.copyOutput(w)
	return s, nil
}

// AttachedAgo returns a human-readable relative duration since attach,
// e.g. "3 seconds ago".
func (s *Session) AttachedAgo() string {
	return humanize.Time(s.AttachedAt)
}

// copyOutput drains the output channel into w until it errors or EOFs,
// then records the error and closes s.done so callers waiting on Done can
// notice the peer going away (spec §4.D's "client B begins receiving" and
// "A's output copier observes EOF" scenarios, from the other side).
func (s *Session) copyOutput(w io.Writer) {
	_, err := io.Copy(w, s.outConn)
	s.mu.Lock()
	s.copyErr = err
	s.mu.Unlock()
	close(s.done)
}

// Done is closed when the output copier stops (peer evicted the session,
// or the target went away).
func (s *Session) Done() <-chan struct{} { return s.done }

// CopyErr returns the error observed by the output copier, if any. Only
// meaningful after Done is closed.
func (s *Session) CopyErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyErr
}

// Names returns the target's registered command names, as advertised in
// the command-channel banner at attach time.
func (s *Session) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Send forwards one command line to the target's command channel.
func (s *Session) Send(line string) error {
	if err := proto.WriteLine(s.cmdConn, line); err != nil {
		return fmt.Errorf("client: send: %w", err)
	}
	return nil
}

// Detach closes both sockets. Safe to call more than once.
func (s *Session) Detach() error {
	cmdErr := s.cmdConn.Close()
	outErr := s.outConn.Close()
	if cmdErr != nil {
		return cmdErr
	}
	return outErr
}
