// Package command maps decoded RESP messages to command handlers.
package command

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/VoolFI71/respkv/internal/metrics"
	"github.com/VoolFI71/respkv/internal/resp"
)

var (
	ErrMissingArguments = errors.New("wrong number of arguments")
	ErrUnknownCommand   = errors.New("unknown command")
)

// Handler runs one command. args excludes the command name. A handler that
// returns an error sends no reply unless strict errors are enabled.
type Handler func(args []string) (resp.Reply, error)

// Registry dispatches commands by upper-case name.
type Registry struct {
	handlers map[string]Handler
	strict   bool
	log      *zap.Logger
	metrics  *metrics.Metrics
}

type Option func(*Registry)

// WithStrictErrors makes rejected commands answer with a RESP error instead
// of no reply at all.
func WithStrictErrors(strict bool) Option {
	return func(r *Registry) {
		r.strict = strict
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) {
		r.log = log
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		handlers: make(map[string]Handler),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[strings.ToUpper(name)] = h
}

// Strict reports whether rejected commands get an error reply.
func (r *Registry) Strict() bool {
	return r.strict
}

// Dispatch runs the command in msg. An array is read as name followed by
// arguments; any other message is a command without arguments. Dispatch
// returns nil when nothing should be sent back.
func (r *Registry) Dispatch(msg resp.Value) resp.Reply {
	args := msg.Strings()
	if len(args) == 0 {
		return nil
	}

	name := strings.ToUpper(args[0])
	h, ok := r.handlers[name]
	if !ok {
		r.metrics.CommandProcessed("unknown", metrics.ResultUnknown)
		return r.reject(name, fmt.Errorf("%w '%s'", ErrUnknownCommand, args[0]))
	}

	reply, err := h(args[1:])
	if err != nil {
		result := metrics.ResultUnknown
		if errors.Is(err, ErrMissingArguments) {
			result = metrics.ResultMissingArgs
		}
		r.metrics.CommandProcessed(name, result)
		return r.reject(name, err)
	}
	r.metrics.CommandProcessed(name, metrics.ResultOK)
	return reply
}

func (r *Registry) reject(name string, err error) resp.Reply {
	r.log.Debug("command rejected", zap.String("command", name), zap.Error(err))
	if !r.strict {
		return nil
	}
	return resp.Error("ERR " + err.Error())
}

func wrongArity(name string) error {
	return fmt.Errorf("%w for '%s' command", ErrMissingArguments, strings.ToLower(name))
}
