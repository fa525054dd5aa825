package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/justin4957/nexus/internal/bus"
	"github.com/justin4957/nexus/internal/channel"
	"github.com/justin4957/nexus/internal/wire"
)

// session is one connected client (§3 Session, §4.4). It owns its
// socket exclusively and is destroyed on disconnect; its subscription
// queue lives in the bus and is discarded with it, never affecting
// other sessions (§5 Cancellation).
type session struct {
	id     string
	conn   net.Conn
	server *Server
	sub    *bus.Subscriber
	logger *slog.Logger

	writeMu sync.Mutex

	mu   sync.Mutex
	rows uint16
	cols uint16
}

// sendFrame serializes writes to the socket: the request loop and the
// event pump both write frames, and interleaving two writers on one
// net.Conn without a lock would corrupt frames (grounded on the
// teacher's Client.Send mutex in pty-daemon/daemon.go).
func (s *session) sendFrame(kind wire.Kind, body any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wire.WriteFrame(s.conn, kind, body)
}

// pumpEvents drains the session's bus subscriber and forwards Output
// and DropNotice events until ctx is cancelled (§4.4 broadcast events,
// §4.3 backpressure policy).
func (s *session) pumpEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.sub.Ready():
		}

		chunks, dropped := s.sub.Drain()
		for _, c := range chunks {
			if err := s.sendFrame(wire.KindOutput, wire.Output{Name: c.Channel, Seq: c.Seq, Bytes: c.Bytes}); err != nil {
				return
			}
		}
		for channelName, bytes := range dropped {
			if err := s.sendFrame(wire.KindDropNotice, wire.DropNotice{Name: channelName, BytesDropped: bytes}); err != nil {
				return
			}
		}
	}
}

// requestLoop reads frames from the socket and dispatches them until
// the connection closes, a protocol error forces it closed, or ctx is
// cancelled.
func (s *session) requestLoop(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	for {
		kind, body, err := wire.ReadFrame(s.conn)
		if err != nil {
			var protoErr *wire.Error
			if errors.As(err, &protoErr) && protoErr.Kind == wire.ErrFrameTooLarge {
				_ = s.sendFrame(wire.KindErr, wire.Err{Kind: wire.ErrFrameTooLarge, Message: protoErr.Error()})
			}
			return
		}

		if kind == wire.KindDetach {
			var req wire.Detach
			_ = wire.Unmarshal(body, &req)
			_ = s.sendFrame(wire.KindOk, wire.Ok{Corr: req.Corr})
			s.logger.Info("session detached")
			return
		}

		s.dispatch(kind, body)
	}
}

func (s *session) dispatch(kind wire.Kind, body []byte) {
	switch kind {
	case wire.KindCreateChannel:
		s.handleCreateChannel(body)
	case wire.KindKillChannel:
		s.handleKillChannel(body)
	case wire.KindListChannels:
		s.handleListChannels(body)
	case wire.KindChannelStatus:
		s.handleChannelStatus(body)
	case wire.KindSubscribe:
		s.handleSubscribe(body)
	case wire.KindUnsubscribe:
		s.handleUnsubscribe(body)
	case wire.KindWriteInput:
		s.handleWriteInput(body)
	case wire.KindResize:
		s.handleResize(body)
	case wire.KindPing:
		s.handlePing(body)
	default:
		s.handleUnknown(kind, body)
	}
}

// corrOnly extracts just the correlation id, common to every request
// message's first field, so an unrecognized kind can still be answered
// with Err(UnknownRequest) carrying the right corr (§4.4).
type corrOnly struct {
	Corr uint64 `cbor:"corr"`
}

func (s *session) handleUnknown(kind wire.Kind, body []byte) {
	s.logger.Warn("unknown request kind", "kind", int(kind))
	var req corrOnly
	_ = wire.Unmarshal(body, &req)
	s.replyErr(req.Corr, wire.UnknownRequest("request kind %d is not recognized", int(kind)))
}

func (s *session) replyOk(corr uint64, payload any) {
	var encoded []byte
	if payload != nil {
		b, err := wire.Marshal(payload)
		if err != nil {
			s.replyErr(corr, wire.Internal("encode response payload: %v", err))
			return
		}
		encoded = b
	}
	_ = s.sendFrame(wire.KindOk, wire.Ok{Corr: corr, Payload: encoded})
}

func (s *session) replyErr(corr uint64, err error) {
	var wireErr *wire.Error
	if !errors.As(err, &wireErr) {
		wireErr = wire.Internal("%v", err)
	}
	_ = s.sendFrame(wire.KindErr, wire.Err{Corr: corr, Kind: wireErr.Kind, Message: wireErr.Error()})
}

func (s *session) handleCreateChannel(body []byte) {
	var req wire.CreateChannel
	if err := wire.Unmarshal(body, &req); err != nil {
		s.replyErr(0, wire.Internal("malformed CreateChannel: %v", err))
		return
	}

	_, err := s.server.registry.Create(channel.Options{
		Name: req.Name,
		Argv: req.Argv,
		Cwd:  req.Cwd,
		Env:  req.Env,
		Rows: req.Rows,
		Cols: req.Cols,
		OnExit: func(code int) {
			s.server.broadcast(wire.KindChannelExited, wire.ChannelExited{Name: req.Name, Code: code})
		},
	})
	if err != nil {
		s.replyErr(req.Corr, err)
		return
	}

	s.replyOk(req.Corr, nil)
	s.server.broadcast(wire.KindChannelCreated, wire.ChannelCreated{Name: req.Name, Command: commandString(req.Argv)})
}

// handleKillChannel signals the channel's process group and blocks until
// its reader goroutine has observed exit, then removes it from the
// registry so its name can be reused and its subscribers are pruned,
// and only then acknowledges the request. Blocking here (rather than
// replying immediately and pruning in the background) is what makes
// §3 invariant (iii) hold on the wire: once Ok returns for a
// KillChannel, no session — wildcard or explicit subscriber — can see
// another Output for this name, since the channel's own reader has
// already stopped emitting before we get here (§4.2, §8's testable
// property).
//
// A channel already in StateExited is never re-signalled: its pid has
// already been reaped and the kernel is free to recycle it for an
// unrelated process, so sending to its process group again would risk
// hitting that unrelated process instead. Killing an already-exited
// (but not yet removed) channel is just how a tombstone gets cleared.
func (s *session) handleKillChannel(body []byte) {
	var req wire.KillChannel
	if err := wire.Unmarshal(body, &req); err != nil {
		s.replyErr(0, wire.Internal("malformed KillChannel: %v", err))
		return
	}

	c, ok := s.server.registry.Get(req.Name)
	if !ok {
		s.replyErr(req.Corr, wire.NotFound("channel %q not found", req.Name))
		return
	}

	if c.Snapshot().State != channel.StateExited {
		sig := syscall.SIGTERM
		if req.Signal != 0 {
			sig = syscall.Signal(req.Signal)
		}
		c.Kill(sig)
		c.Wait()
	}

	if err := s.server.registry.Remove(req.Name); err != nil {
		s.logger.Warn("remove killed channel", "name", req.Name, "error", err)
	}
	s.replyOk(req.Corr, nil)
}

func (s *session) handleListChannels(body []byte) {
	var req wire.ListChannels
	if err := wire.Unmarshal(body, &req); err != nil {
		s.replyErr(0, wire.Internal("malformed ListChannels: %v", err))
		return
	}

	infos := s.server.registry.List()
	list := wire.ChannelList{Channels: make([]wire.ChannelInfo, 0, len(infos))}
	for _, info := range infos {
		list.Channels = append(list.Channels, wire.ChannelInfo{
			Name:      info.Name,
			State:     info.State.String(),
			Command:   info.Command,
			CreatedAt: info.CreatedAt.Unix(),
		})
	}
	s.replyOk(req.Corr, list)
}

func (s *session) handleChannelStatus(body []byte) {
	var req wire.ChannelStatus
	if err := wire.Unmarshal(body, &req); err != nil {
		s.replyErr(0, wire.Internal("malformed ChannelStatus: %v", err))
		return
	}

	var infos []channel.Info
	if req.Name != "" {
		c, ok := s.server.registry.Get(req.Name)
		if !ok {
			s.replyErr(req.Corr, wire.NotFound("channel %q not found", req.Name))
			return
		}
		infos = []channel.Info{c.Snapshot()}
	} else {
		infos = s.server.registry.List()
	}

	detail := wire.ChannelStatusList{Channels: make([]wire.ChannelDetail, 0, len(infos))}
	for _, info := range infos {
		var lastExit int64
		if !info.LastExitAt.IsZero() {
			lastExit = info.LastExitAt.Unix()
		}
		detail.Channels = append(detail.Channels, wire.ChannelDetail{
			Name:       info.Name,
			Pid:        info.Pid,
			State:      info.State.String(),
			ExitCode:   info.ExitCode,
			HasExited:  info.HasExited,
			Command:    info.Command,
			Cwd:        info.Cwd,
			CreatedAt:  info.CreatedAt.Unix(),
			LastExitAt: lastExit,
		})
	}
	s.replyOk(req.Corr, detail)
}

func (s *session) handleSubscribe(body []byte) {
	var req wire.Subscribe
	if err := wire.Unmarshal(body, &req); err != nil {
		s.replyErr(0, wire.Internal("malformed Subscribe: %v", err))
		return
	}
	s.server.bus.Subscribe(s.sub, req.Names, req.Wildcard)
	s.replyOk(req.Corr, nil)
}

func (s *session) handleUnsubscribe(body []byte) {
	var req wire.Unsubscribe
	if err := wire.Unmarshal(body, &req); err != nil {
		s.replyErr(0, wire.Internal("malformed Unsubscribe: %v", err))
		return
	}
	s.server.bus.Unsubscribe(s.sub, req.Names, req.Wildcard)
	s.replyOk(req.Corr, nil)
}

func (s *session) handleWriteInput(body []byte) {
	var req wire.WriteInput
	if err := wire.Unmarshal(body, &req); err != nil {
		s.replyErr(0, wire.Internal("malformed WriteInput: %v", err))
		return
	}
	c, ok := s.server.registry.Get(req.Name)
	if !ok {
		s.replyErr(req.Corr, wire.NotFound("channel %q not found", req.Name))
		return
	}
	if err := c.Write(req.Bytes); err != nil {
		s.replyErr(req.Corr, err)
		return
	}
	s.replyOk(req.Corr, nil)
}

func (s *session) handleResize(body []byte) {
	var req wire.Resize
	if err := wire.Unmarshal(body, &req); err != nil {
		s.replyErr(0, wire.Internal("malformed Resize: %v", err))
		return
	}

	if req.Name == "" {
		for _, info := range s.server.registry.List() {
			if c, ok := s.server.registry.Get(info.Name); ok {
				_ = c.Resize(req.Rows, req.Cols)
			}
		}
		s.mu.Lock()
		s.rows, s.cols = req.Rows, req.Cols
		s.mu.Unlock()
		s.replyOk(req.Corr, nil)
		return
	}

	c, ok := s.server.registry.Get(req.Name)
	if !ok {
		s.replyErr(req.Corr, wire.NotFound("channel %q not found", req.Name))
		return
	}
	if err := c.Resize(req.Rows, req.Cols); err != nil {
		s.replyErr(req.Corr, err)
		return
	}
	s.replyOk(req.Corr, nil)
}

func (s *session) handlePing(body []byte) {
	var req wire.Ping
	if err := wire.Unmarshal(body, &req); err != nil {
		s.replyErr(0, wire.Internal("malformed Ping: %v", err))
		return
	}
	s.replyOk(req.Corr, wire.Ping{Nonce: req.Nonce})
}

func newSessionID() string { return uuid.NewString() }

func commandString(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	s := argv[0]
	for _, a := range argv[1:] {
		s += " " + a
	}
	return s
}
