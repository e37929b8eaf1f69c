package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap/zaptest"

	"github.com/VoolFI71/respkv/internal/command"
	"github.com/VoolFI71/respkv/internal/config"
	"github.com/VoolFI71/respkv/internal/storage"
)

func newEventServer(t *testing.T, addr string, opts ...command.Option) *EventServer {
	log := zaptest.NewLogger(t)
	reg := command.New(storage.New(), config.Params{DBFilename: "dump.rdb"}, opts...)
	return NewEventServer(addr, reg, log, nil)
}

func newEventSession() *eventSession {
	return &eventSession{id: "test", out: bytebufferpool.Get()}
}

func TestEventServer_Process(t *testing.T) {
	s := newEventServer(t, "")
	sess := newEventSession()

	in := []byte("*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n*1\r\n$4\r\nPI")
	consumed, closeConn := s.process(sess, in)
	assert.False(t, closeConn)
	assert.Equal(t, len(in)-len("*1\r\n$4\r\nPI"), consumed, "partial command stays buffered")
	assert.Equal(t, "+OK\r\n$3\r\nbar\r\n", string(sess.out.B))

	sess.out.Reset()
	rest := append(in[consumed:], "NG\r\n"...)
	consumed, closeConn = s.process(sess, rest)
	assert.False(t, closeConn)
	assert.Equal(t, len(rest), consumed)
	assert.Equal(t, "+PONG\r\n", string(sess.out.B))
}

func TestEventServer_ProcessDropsRejected(t *testing.T) {
	s := newEventServer(t, "")
	sess := newEventSession()

	in := []byte("*1\r\n$3\r\nGET\r\n*1\r\n$4\r\nNOPE\r\n*3\r\n$6\r\nCONFIG\r\n$3\r\nGET\r\n$10\r\ndbfilename\r\n")
	consumed, closeConn := s.process(sess, in)
	assert.False(t, closeConn)
	assert.Equal(t, len(in), consumed)
	assert.Equal(t, "*2\r\n$10\r\ndbfilename\r\n$8\r\ndump.rdb\r\n", string(sess.out.B))
}

func TestEventServer_ProcessProtocolViolation(t *testing.T) {
	s := newEventServer(t, "")
	sess := newEventSession()

	in := []byte("*1\r\n$4\r\nPING\r\n$3\r\nabcXY")
	consumed, closeConn := s.process(sess, in)
	assert.True(t, closeConn)
	assert.Equal(t, len(in), consumed)
	assert.Equal(t, "+PONG\r\n", string(sess.out.B), "replies before the violation are still sent")

	strict := newEventServer(t, "", command.WithStrictErrors(true))
	sess = newEventSession()
	_, closeConn = strict.process(sess, []byte("%1\r\n"))
	assert.True(t, closeConn)
	assert.Equal(t, "-ERR Protocol error: unsupported type tag '%'\r\n", string(sess.out.B))
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestEventServer_Run(t *testing.T) {
	addr := freeAddr(t)
	s := newEventServer(t, addr)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx) }()

	select {
	case <-s.Ready():
	case err := <-errCh:
		t.Fatalf("event loop failed to start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("event loop did not start")
	}

	a := dial(t, addr)
	b := dial(t, addr)
	require.NoError(t, a.Ping())
	require.NoError(t, a.Set("k", "v"))
	v, ok, err := b.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	r, err := b.Do("ECHO", "hello", "world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", r.Str)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("event loop did not stop")
	}
}
