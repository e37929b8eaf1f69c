package command

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/VoolFI71/respkv/internal/config"
	"github.com/VoolFI71/respkv/internal/resp"
	"github.com/VoolFI71/respkv/internal/storage"
)

// New returns a registry serving PING, ECHO, SET, GET and CONFIG GET
// against st and params.
func New(st *storage.Store, params config.Params, opts ...Option) *Registry {
	r := NewRegistry(opts...)
	b := &builtins{store: st, params: params}

	r.Register("PING", b.ping)
	r.Register("ECHO", b.echo)
	r.Register("SET", b.set)
	r.Register("GET", b.get)
	r.Register("CONFIG", b.config)
	return r
}

type builtins struct {
	store  *storage.Store
	params config.Params
}

func (b *builtins) ping(args []string) (resp.Reply, error) {
	return resp.Pong, nil
}

func (b *builtins) echo(args []string) (resp.Reply, error) {
	if len(args) < 1 {
		return nil, wrongArity("ECHO")
	}
	return resp.BulkString(strings.Join(args, " ")), nil
}

// set handles SET key value [PX milliseconds]. A PX option with a missing
// or non-integer value is ignored and the key is stored without expiry.
func (b *builtins) set(args []string) (resp.Reply, error) {
	if len(args) < 2 {
		return nil, wrongArity("SET")
	}
	key, value := args[0], args[1]

	if ttl, ok := parsePX(args[2:]); ok {
		b.store.SetWithTTL(key, value, ttl)
	} else {
		b.store.Set(key, value)
	}
	return resp.OK, nil
}

func parsePX(opts []string) (time.Duration, bool) {
	for i := 0; i+1 < len(opts); i++ {
		if !strings.EqualFold(opts[i], "PX") {
			continue
		}
		ms, err := strconv.ParseInt(opts[i+1], 10, 64)
		if err != nil || ms > math.MaxInt64/int64(time.Millisecond) || ms < math.MinInt64/int64(time.Millisecond) {
			return 0, false
		}
		return time.Duration(ms) * time.Millisecond, true
	}
	return 0, false
}

func (b *builtins) get(args []string) (resp.Reply, error) {
	if len(args) < 1 {
		return nil, wrongArity("GET")
	}
	v, ok := b.store.Lookup(args[0])
	if !ok {
		return resp.Null, nil
	}
	return resp.BulkString(v), nil
}

// config handles CONFIG GET name.
func (b *builtins) config(args []string) (resp.Reply, error) {
	if len(args) < 2 {
		return nil, wrongArity("CONFIG")
	}
	if !strings.EqualFold(args[0], "GET") {
		return nil, fmt.Errorf("%w 'CONFIG %s'", ErrUnknownCommand, args[0])
	}
	return resp.BulkStringArray{args[1], b.params.Get(args[1])}, nil
}
