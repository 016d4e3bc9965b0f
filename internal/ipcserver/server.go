// Package ipcserver implements the dual-channel IPC server from spec §4.D:
// one UNIX-domain listener for command frames, one for the target's
// redirected stdout, and the per-connection dispatch workers that tie them
// to an internal/registry.Registry.
package ipcserver

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ehrlich-b/inshell/internal/audit"
	"github.com/ehrlich-b/inshell/internal/proto"
	"github.com/ehrlich-b/inshell/internal/registry"
)

// Server owns the two listening sockets for one target process.
type Server struct {
	registry   *registry.Registry
	cmdPath    string
	outputPath string
	pid        int
	log        *slog.Logger
	audit      *audit.Log // nil disables invocation auditing

	limiter *rate.Limiter

	redirMu sync.Mutex
	redir   *redirection // nil when the output channel is IDLE
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger overrides the default slog logger (os.Stderr, text handler).
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithAudit attaches a sqlite-backed invocation log; every dispatch is
// recorded for later inspection via `dshell history <pid>`.
func WithAudit(a *audit.Log) Option {
	return func(s *Server) { s.audit = a }
}

// WithAcceptRate bounds how fast new command-channel connections are
// accepted, pacing a looping or misbehaving client rather than
// authenticating it (spec's Non-goals exclude authn/authz entirely).
func WithAcceptRate(r rate.Limit, burst int) Option {
	return func(s *Server) { s.limiter = rate.NewLimiter(r, burst) }
}

// New constructs a quiescent Server bound to no sockets yet. pid derives
// the socket paths per spec §6.
func New(reg *registry.Registry, pid int, opts ...Option) *Server {
	cmdPath, outputPath := SocketPaths(pid)
	s := &Server{
		registry:   reg,
		cmdPath:    cmdPath,
		outputPath: outputPath,
		pid:        pid,
		log:        slog.Default(),
		limiter:    rate.NewLimiter(rate.Limit(50), 10),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CmdPath returns the bound command-socket path.
func (s *Server) CmdPath() string { return s.cmdPath }

// OutputPath returns the bound output-socket path.
func (s *Server) OutputPath() string { return s.outputPath }

// Run binds both sockets and serves until ctx is cancelled or a listener
// fails fatally. On return, both socket paths are unlinked (best-effort —
// a missing file is not an error), satisfying the server-destruction
// invariant in spec §3.
func (s *Server) Run(ctx context.Context) error {
	os.Remove(s.cmdPath)
	os.Remove(s.outputPath)
	defer os.Remove(s.cmdPath)
	defer os.Remove(s.outputPath)

	cmdLn, err := net.Listen("unix", s.cmdPath)
	if err != nil {
		return fmt.Errorf("ipcserver: listen cmd socket: %w", err)
	}
	defer cmdLn.Close()

	outLn, err := net.Listen("unix", s.outputPath)
	if err != nil {
		return fmt.Errorf("ipcserver: listen output socket: %w", err)
	}
	defer outLn.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.serveCmd(ctx, cmdLn) })
	g.Go(func() error { return s.serveOutput(ctx, outLn) })
	g.Go(func() error {
		<-ctx.Done()
		cmdLn.Close()
		outLn.Close()
		s.closeRedirection()
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// serveCmd accepts command-channel peers and spawns one worker per
// connection; a read error or EOF on one peer only terminates that
// worker (spec §4.D, §5 "across command peers interleaving is
// unordered").
func (s *Server) serveCmd(ctx context.Context, ln net.Listener) error {
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ipcserver: accept cmd: %w", err)
		}
		go s.serveCmdWorker(conn)
	}
}

func (s *Server) serveCmdWorker(conn net.Conn) {
	defer conn.Close()

	if err := proto.WriteLine(conn, strings.Join(s.registry.Names(), " ")); err != nil {
		s.log.Debug("ipcserver: failed writing command-name banner", "err", err)
		return
	}

	r := bufio.NewReader(conn)
	for {
		line, err := proto.ReadLine(r)
		if err != nil {
			return
		}
		start := time.Now()
		dispatchErr := s.registry.Dispatch(os.Stdout, line)
		if s.audit != nil {
			s.audit.Record(s.pid, line, dispatchErr, time.Since(start))
		}
	}
}

// serveOutput services one output peer at a time: each new acceptance
// evicts whatever peer is currently attached, redirects fd 1 to the new
// peer, and spawns a reader goroutine whose only job is noticing the peer
// going away.
func (s *Server) serveOutput(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ipcserver: accept output: %w", err)
		}
		unixConn, ok := conn.(*net.UnixConn)
		if !ok {
			conn.Close()
			continue
		}
		if err := s.attachOutputPeer(unixConn); err != nil {
			s.log.Warn("ipcserver: output redirection failed", "err", err)
			conn.Close()
		}
	}
}
