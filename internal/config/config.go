// Package config holds the server's startup configuration.
//
// Values are layered, later sources overriding earlier ones:
//
//  1. Default()
//  2. YAML file (optional)
//  3. RESPKV_ environment variables
//  4. command-line flags that were set explicitly
//
// The resulting Config is never modified after startup.
package config

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

const (
	EngineNet  = "net"
	EngineGnet = "gnet"
)

type Config struct {
	// Addr is the TCP listen address.
	Addr string `koanf:"addr"`
	// Engine selects the transport: "net" runs a goroutine per connection,
	// "gnet" runs every connection on a single event loop.
	Engine string `koanf:"engine"`
	// Dir and DBFilename are labels reported by CONFIG GET. No file is read
	// or written.
	Dir        string `koanf:"dir"`
	DBFilename string `koanf:"dbfilename"`
	// Strict enables error replies for unknown commands, missing arguments
	// and protocol violations.
	Strict bool `koanf:"strict"`
	// MaxClients bounds the number of concurrently served connections.
	MaxClients int           `koanf:"maxclients"`
	Log        LogConfig     `koanf:"log"`
	Metrics    MetricsConfig `koanf:"metrics"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	// File enables rotated file output instead of stderr.
	File string `koanf:"file"`
}

type MetricsConfig struct {
	// Addr of the /metrics HTTP listener; empty disables it.
	Addr string `koanf:"addr"`
}

func Default() *Config {
	return &Config{
		Addr:       "127.0.0.1:6379",
		Engine:     EngineNet,
		MaxClients: 10000,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Verify checks the configuration for values the server cannot run with.
func (c *Config) Verify() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	switch c.Engine {
	case EngineNet, EngineGnet:
	default:
		errs = append(errs, fmt.Errorf("unknown engine %q (want %q or %q)", c.Engine, EngineNet, EngineGnet))
	}
	if c.MaxClients <= 0 {
		errs = append(errs, fmt.Errorf("maxclients must be positive, got %d", c.MaxClients))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Params returns the values CONFIG GET can report.
func (c *Config) Params() Params {
	return Params{Dir: c.Dir, DBFilename: c.DBFilename}
}
