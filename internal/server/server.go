// Package server implements the Session / Server Listener (C4): the
// long-lived background process that owns the channel registry and
// output bus, accepts client connections on a Unix socket, and routes
// requests to them. Grounded on the teacher's daemon.go accept loop
// and signal handling, restructured around persistent per-session
// streaming (rather than one-shot JSON lines) and enriched with the
// context-driven Serve/shutdown shape from
// bureau-foundation-bureau/lib/service/socket.go.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/justin4957/nexus/internal/bus"
	"github.com/justin4957/nexus/internal/registry"
	"github.com/justin4957/nexus/internal/wire"
)

// idleTimeout is how long the server waits with no sessions and no
// live channels before shutting itself down (§4.4 auto-spawn contract).
const idleTimeout = 60 * time.Second

// shutdownGrace bounds how long Run waits for sessions to disconnect
// and channels to reap after a shutdown signal before hard-exiting
// (§5 Cancellation).
const shutdownGrace = 5 * time.Second

// Server owns one session's socket, registry, and bus for its
// lifetime (§4.4, §9: "encapsulate behind a server context passed to
// each task rather than a module-level singleton").
type Server struct {
	sessionName string
	socketPath  string
	logger      *slog.Logger

	registry *registry.Registry
	bus      *bus.Bus

	mu        sync.Mutex
	sessions  map[*session]bool
	idleSince time.Time
}

// New constructs a server for the named session (the `<session>` in
// `nexus <session>`; "default" when unspecified).
func New(sessionName string, logger *slog.Logger) *Server {
	b := bus.New()
	return &Server{
		sessionName: sessionName,
		socketPath:  SocketPath(sessionName),
		logger:      logger,
		registry:    registry.New(b),
		bus:         b,
		sessions:    make(map[*session]bool),
		idleSince:   time.Now(),
	}
}

// SocketPath returns the socket this server will bind (or has bound).
func (s *Server) SocketPath() string { return s.socketPath }

// Run acquires the singleton lock, binds the socket, and serves
// connections until ctx is cancelled or a shutdown signal arrives. It
// returns nil if another server already owns this session (clean
// auto-spawn-contract exit), or an error on unrecoverable bind
// failure (§7: "Fatal server errors ... the server exits with code 1").
func (s *Server) Run(ctx context.Context) error {
	if err := ensureRuntimeDir(s.socketPath); err != nil {
		return err
	}

	lockPath := LockPath(s.sessionName)
	lock, err := acquireSingleton(lockPath)
	if err != nil {
		if errors.Is(err, errAlreadyListening) {
			s.logger.Info("another server already owns this session, exiting")
			return nil
		}
		return err
	}
	defer lock.release()

	ln, err := bindListener(s.socketPath)
	if err != nil {
		if errors.Is(err, errAlreadyListening) {
			s.logger.Info("another server already listening on socket", "path", s.socketPath)
			return nil
		}
		return err
	}
	defer func() {
		ln.Close()
		os.Remove(s.socketPath)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				// SIGHUP is ignored at the server (§7).
				continue
			}
			s.logger.Info("received shutdown signal", "signal", sig.String())
			cancel()
			return
		}
	}()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	go s.idleWatcher(ctx, cancel)

	s.logger.Info("listening", "path", s.socketPath, "pid", pidString(os.Getpid()))

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, conn)
		}()
	}

	s.shutdown(&wg)
	return nil
}

// shutdown broadcasts SIGHUP to every live channel and waits, within a
// bounded grace period, for sessions to disconnect and channels to
// reap (§5: "broadcasts to all sessions, sends SIGHUP to all child
// processes, awaits reaping with a 5-second budget, then hard-exits").
func (s *Server) shutdown(sessionWg *sync.WaitGroup) {
	infos := s.registry.List()
	var channelWg sync.WaitGroup
	for _, info := range infos {
		if info.HasExited {
			continue
		}
		c, ok := s.registry.Get(info.Name)
		if !ok {
			continue
		}
		channelWg.Add(1)
		go func() {
			defer channelWg.Done()
			c.Kill(syscall.SIGHUP)
			c.Wait()
		}()
	}

	done := make(chan struct{})
	go func() {
		sessionWg.Wait()
		channelWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("shutdown complete")
	case <-time.After(shutdownGrace):
		s.logger.Warn("shutdown grace period elapsed with work still outstanding")
	}
}

// idleWatcher cancels ctx once the server has had zero sessions and
// zero live channels for idleTimeout continuously (§4.4 idle shutdown).
func (s *Server) idleWatcher(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		hasSessions := len(s.sessions) > 0
		idleSince := s.idleSince
		s.mu.Unlock()

		if hasSessions {
			continue
		}
		if s.hasLiveChannels() {
			s.mu.Lock()
			s.idleSince = time.Now()
			s.mu.Unlock()
			continue
		}

		if !idleSince.IsZero() && time.Since(idleSince) >= idleTimeout {
			s.logger.Info("idle timeout reached, shutting down", "idle_for", time.Since(idleSince))
			cancel()
			return
		}
	}
}

func (s *Server) hasLiveChannels() bool {
	for _, info := range s.registry.List() {
		if !info.HasExited {
			return true
		}
	}
	return false
}

// handleConn performs the handshake and, on success, runs the
// session's request loop and event pump until disconnect.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	kind, body, err := wire.ReadFrame(conn)
	if err != nil {
		s.logger.Warn("handshake read failed", "error", err)
		return
	}
	if kind != wire.KindHello {
		_ = wire.WriteFrame(conn, wire.KindErr, wire.Err{Kind: wire.ErrUnknownRequest, Message: "expected Hello"})
		return
	}

	var hello wire.Hello
	if err := wire.Unmarshal(body, &hello); err != nil {
		_ = wire.WriteFrame(conn, wire.KindErr, wire.Err{Kind: wire.ErrInternal, Message: "malformed Hello"})
		return
	}
	if hello.ProtocolVersion != wire.ProtocolVersion {
		_ = wire.WriteFrame(conn, wire.KindErr, wire.Err{
			Kind:    wire.ErrVersionMismatch,
			Message: fmt.Sprintf("server speaks protocol %d, client speaks %d", wire.ProtocolVersion, hello.ProtocolVersion),
		})
		return
	}

	sessID := newSessionID()
	sess := &session{
		id:     sessID,
		conn:   conn,
		server: s,
		sub:    bus.NewSubscriber(),
		logger: s.logger.With("session", sessID),
		rows:   hello.Rows,
		cols:   hello.Cols,
	}
	s.bus.Register(sess.sub)
	defer s.bus.Unregister(sess.sub)

	if err := sess.sendFrame(wire.KindWelcome, wire.Welcome{SessionID: sess.id, ProtocolVersion: wire.ProtocolVersion}); err != nil {
		return
	}

	s.mu.Lock()
	s.sessions[sess] = true
	s.idleSince = time.Time{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		if len(s.sessions) == 0 {
			s.idleSince = time.Now()
		}
		s.mu.Unlock()
	}()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go sess.pumpEvents(connCtx)
	sess.requestLoop(connCtx)
}

// broadcast sends an unsolicited event to every connected session
// (§4.4 "Broadcast events").
func (s *Server) broadcast(kind wire.Kind, body any) {
	s.mu.Lock()
	targets := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		targets = append(targets, sess)
	}
	s.mu.Unlock()

	for _, sess := range targets {
		_ = sess.sendFrame(kind, body)
	}
}
