package server

import (
	"context"
	"errors"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/panjf2000/gnet/v2"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/VoolFI71/respkv/internal/command"
	"github.com/VoolFI71/respkv/internal/metrics"
	"github.com/VoolFI71/respkv/internal/resp"
)

type eventSession struct {
	id  string
	out *bytebufferpool.ByteBuffer
}

// EventServer serves every connection from one gnet event loop. Commands
// from different connections never run concurrently, and a connection's
// commands run in arrival order.
type EventServer struct {
	gnet.BuiltinEventEngine

	addr    string
	reg     *command.Registry
	log     *zap.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	eng    gnet.Engine
	booted bool
	ready  chan struct{}
}

func NewEventServer(addr string, reg *command.Registry, log *zap.Logger, m *metrics.Metrics) *EventServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventServer{
		addr:    addr,
		reg:     reg,
		log:     log,
		metrics: m,
		ready:   make(chan struct{}),
	}
}

// ListenAndServe runs the event loop until Shutdown is called or ctx is
// done.
func (s *EventServer) ListenAndServe(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Shutdown(context.Background()) })
	defer stop()

	return gnet.Run(s, "tcp://"+s.addr,
		gnet.WithMulticore(false),
		gnet.WithReuseAddr(true),
		gnet.WithLogger(s.log.Sugar()),
	)
}

// Shutdown stops the event loop. It is a no-op before the loop has booted.
func (s *EventServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	booted, eng := s.booted, s.eng
	s.booted = false
	s.mu.Unlock()
	if !booted {
		return nil
	}
	return eng.Stop(ctx)
}

// Ready is closed once the event loop accepts connections.
func (s *EventServer) Ready() <-chan struct{} {
	return s.ready
}

func (s *EventServer) OnBoot(eng gnet.Engine) gnet.Action {
	s.mu.Lock()
	s.eng = eng
	s.booted = true
	s.mu.Unlock()
	close(s.ready)
	s.log.Info("event loop started", zap.String("addr", s.addr))
	return gnet.None
}

func (s *EventServer) OnShutdown(eng gnet.Engine) {
	s.log.Info("event loop stopped")
}

func (s *EventServer) OnOpen(c gnet.Conn) (out []byte, action gnet.Action) {
	sess := &eventSession{id: ulid.Make().String(), out: bytebufferpool.Get()}
	c.SetContext(sess)
	s.metrics.ConnOpened()
	s.log.Debug("connection opened", zap.String("conn", sess.id), zap.Stringer("remote", c.RemoteAddr()))
	return nil, gnet.None
}

func (s *EventServer) OnClose(c gnet.Conn, err error) gnet.Action {
	if sess, ok := c.Context().(*eventSession); ok {
		bytebufferpool.Put(sess.out)
		s.log.Debug("connection closed", zap.String("conn", sess.id), zap.Error(err))
	}
	s.metrics.ConnClosed()
	return gnet.None
}

func (s *EventServer) OnTraffic(c gnet.Conn) gnet.Action {
	sess := c.Context().(*eventSession)

	n := c.InboundBuffered()
	if n == 0 {
		return gnet.None
	}
	buf, err := c.Peek(n)
	if err != nil {
		return gnet.None
	}

	consumed, closeConn := s.process(sess, buf)
	_, _ = c.Discard(consumed)

	if len(sess.out.B) > 0 {
		_, _ = c.Write(sess.out.B)
		sess.out.Reset()
	}
	if closeConn {
		return gnet.Close
	}
	return gnet.None
}

// process runs every complete command in buf, appending replies to the
// session's output buffer. It returns the bytes consumed and whether the
// connection must be closed. A trailing partial command is left for the
// next call.
func (s *EventServer) process(sess *eventSession, buf []byte) (int, bool) {
	consumed := 0
	for consumed < len(buf) {
		msg, n, err := resp.Parse(buf[consumed:])
		if errors.Is(err, resp.ErrIncomplete) {
			break
		}
		if err != nil {
			s.metrics.ProtocolError()
			s.log.Warn("closing connection on protocol violation", zap.String("conn", sess.id), zap.Error(err))
			if s.reg.Strict() {
				sess.out.B = resp.ProtocolError(err).AppendReply(sess.out.B)
			}
			return len(buf), true
		}
		consumed += n

		if reply := s.reg.Dispatch(msg); reply != nil {
			sess.out.B = reply.AppendReply(sess.out.B)
		}
	}
	return consumed, false
}
