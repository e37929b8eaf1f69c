// Package server accepts TCP connections and hands each one to the command
// loop. Two transports are provided: Server runs every connection on its
// own goroutine from a bounded pool, EventServer multiplexes all
// connections on a single gnet event loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/VoolFI71/respkv/internal/handler"
	"github.com/VoolFI71/respkv/internal/resp"
)

// Runner is implemented by both transports.
type Runner interface {
	ListenAndServe(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

type Server struct {
	addr    string
	handler *handler.Handler
	log     *zap.Logger
	pool    *ants.Pool

	mu      sync.Mutex
	ln      net.Listener
	conns   map[net.Conn]struct{}
	running atomic.Bool
	wg      sync.WaitGroup
	ready   chan struct{}
}

// New returns a server that listens on addr and serves at most maxClients
// connections at once. Connections beyond the limit are closed on accept.
func New(addr string, h *handler.Handler, log *zap.Logger, maxClients int) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := ants.NewPool(maxClients, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &Server{
		addr:    addr,
		handler: h,
		log:     log,
		pool:    pool,
		conns:   make(map[net.Conn]struct{}),
		ready:   make(chan struct{}),
	}, nil
}

// ListenAndServe binds the listen address with SO_REUSEADDR and serves
// until Shutdown is called or ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lc := net.ListenConfig{Control: reuseAddr}
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln. It returns nil once the server is shut
// down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.running.Store(true)
	s.mu.Unlock()
	close(s.ready)
	s.log.Info("server started", zap.Stringer("addr", ln.Addr()))

	stop := context.AfterFunc(ctx, func() { _ = s.Shutdown(context.Background()) })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}
		err = s.pool.Submit(func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.serve(conn)
		})
		if err != nil {
			s.wg.Done()
			s.untrack(conn)
			s.log.Warn("rejecting connection", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
			_ = conn.Close()
		}
	}
}

func (s *Server) serve(conn net.Conn) {
	err := s.handler.ServeConn(conn)
	switch {
	case err == nil, errors.Is(err, resp.ErrProtocol):
		// logged by the handler
	case errors.Is(err, net.ErrClosed) && !s.running.Load():
	default:
		s.log.Debug("connection ended", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
	}
}

// track registers conn with the running server. Registration and the
// Shutdown flip share s.mu, so every tracked conn is counted in s.wg before
// Shutdown waits on it.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// Addr returns the bound address once the server is accepting.
func (s *Server) Addr() net.Addr {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ln.Addr()
}

// Shutdown closes the listener and every open connection, then waits for
// the connection goroutines to exit or ctx to be done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running.CompareAndSwap(true, false) {
		s.mu.Unlock()
		return nil
	}

	var err error
	if s.ln != nil {
		err = multierr.Append(err, ignoreClosed(s.ln.Close()))
	}
	for conn := range s.conns {
		err = multierr.Append(err, ignoreClosed(conn.Close()))
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return multierr.Append(err, ctx.Err())
	}

	s.pool.Release()
	s.log.Info("server stopped")
	return err
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
