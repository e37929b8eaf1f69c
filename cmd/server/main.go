// Command respkv-server serves an in-memory key-value store over a subset of
// the Redis wire protocol.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/VoolFI71/respkv/internal/command"
	"github.com/VoolFI71/respkv/internal/config"
	"github.com/VoolFI71/respkv/internal/handler"
	"github.com/VoolFI71/respkv/internal/logging"
	"github.com/VoolFI71/respkv/internal/metrics"
	"github.com/VoolFI71/respkv/internal/server"
	"github.com/VoolFI71/respkv/internal/storage"
)

// Build information, set via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "respkv-server",
		Usage:   "in-memory key-value server speaking a subset of RESP",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a YAML configuration file"},
			&cli.StringFlag{Name: "dir", Usage: "data directory reported by CONFIG GET dir"},
			&cli.StringFlag{Name: "dbfilename", Usage: "database file name reported by CONFIG GET dbfilename"},
			&cli.StringFlag{Name: "addr", Usage: "listen address (default 127.0.0.1:6379)"},
			&cli.StringFlag{Name: "engine", Usage: "transport: net or gnet"},
			&cli.BoolFlag{Name: "strict", Usage: "reply with errors to unknown commands, bad arity and protocol violations"},
			&cli.IntFlag{Name: "maxclients", Usage: "maximum number of concurrent connections"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "log-format", Usage: "console or json"},
			&cli.StringFlag{Name: "log-file", Usage: "write logs to a rotated file instead of stderr"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "serve Prometheus metrics on this address"},
		},
		Action: run,
	}
}

// loadConfig layers explicitly set flags over the file and environment.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("dir") {
		cfg.Dir = c.String("dir")
	}
	if c.IsSet("dbfilename") {
		cfg.DBFilename = c.String("dbfilename")
	}
	if c.IsSet("addr") {
		cfg.Addr = c.String("addr")
	}
	if c.IsSet("engine") {
		cfg.Engine = c.String("engine")
	}
	if c.IsSet("strict") {
		cfg.Strict = c.Bool("strict")
	}
	if c.IsSet("maxclients") {
		cfg.MaxClients = c.Int("maxclients")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
	if c.IsSet("log-file") {
		cfg.Log.File = c.String("log-file")
	}
	if c.IsSet("metrics-addr") {
		cfg.Metrics.Addr = c.String("metrics-addr")
	}

	if err := cfg.Verify(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	st := storage.New()
	m.ObserveKeys(st.Len)

	cmds := command.New(st, cfg.Params(),
		command.WithStrictErrors(cfg.Strict),
		command.WithLogger(log),
		command.WithMetrics(m),
	)

	runner, err := newRunner(cfg, cmds, log, m)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	log.Info("starting respkv-server",
		zap.String("version", version),
		zap.String("addr", cfg.Addr),
		zap.String("engine", cfg.Engine),
		zap.Bool("strict", cfg.Strict))

	g.Go(func() error {
		return runner.ListenAndServe(ctx)
	})

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		httpSrv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("server exited", zap.Error(err))
		return err
	}
	log.Info("server stopped")
	return nil
}

func newRunner(cfg *config.Config, cmds *command.Registry, log *zap.Logger, m *metrics.Metrics) (server.Runner, error) {
	if cfg.Engine == config.EngineGnet {
		return server.NewEventServer(cfg.Addr, cmds, log, m), nil
	}
	return server.New(cfg.Addr, handler.New(cmds, log, m), log, cfg.MaxClients)
}
