// Package handler runs the per-connection command loop.
package handler

import (
	"bufio"
	"errors"
	"io"
	"net"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/VoolFI71/respkv/internal/command"
	"github.com/VoolFI71/respkv/internal/metrics"
	"github.com/VoolFI71/respkv/internal/resp"
)

// Max replies to buffer before forcing a flush. Keep it >= a typical
// pipeline batch so one batch is not split across flushes.
const maxResponsesBeforeFlush = 128

type Handler struct {
	reg     *command.Registry
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(reg *command.Registry, log *zap.Logger, m *metrics.Metrics) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{reg: reg, log: log, metrics: m}
}

// ServeConn reads commands from conn and answers them in order until the
// peer closes the connection (nil error) or sends malformed input (an error
// wrapping resp.ErrProtocol). conn is closed on return.
func (h *Handler) ServeConn(conn net.Conn) error {
	defer conn.Close()
	h.metrics.ConnOpened()
	defer h.metrics.ConnClosed()

	log := h.log.With(zap.String("conn", ulid.Make().String()), zap.Stringer("remote", conn.RemoteAddr()))
	log.Debug("connection opened")

	// Larger buffers matter for pipelining: a batch of replies can exceed 4KB.
	dec := resp.NewDecoderSize(conn, 64*1024)
	writer := bufio.NewWriterSize(conn, 64*1024)
	out := make([]byte, 0, 4096)
	pending := 0

	for {
		msg, err := dec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Debug("connection closed by peer")
				return writer.Flush()
			}
			if errors.Is(err, resp.ErrProtocol) {
				h.metrics.ProtocolError()
				log.Warn("closing connection on protocol violation", zap.Error(err))
				if h.reg.Strict() {
					out = resp.ProtocolError(err).AppendReply(out[:0])
					_, _ = writer.Write(out)
				}
				_ = writer.Flush()
			}
			return err
		}

		if reply := h.reg.Dispatch(msg); reply != nil {
			out = reply.AppendReply(out[:0])
			if _, err := writer.Write(out); err != nil {
				return err
			}
			pending++
		}

		// Once the input buffer is drained the current batch is done and the
		// accumulated replies can go out.
		if pending > 0 && (dec.Buffered() == 0 || pending >= maxResponsesBeforeFlush) {
			if err := writer.Flush(); err != nil {
				return err
			}
			pending = 0
		}
	}
}
