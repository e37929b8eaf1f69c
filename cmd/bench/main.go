// Command respkv-bench is a pipelined SET/GET load generator for respkv-server.
package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/VoolFI71/respkv/internal/respclient"
)

type Results struct {
	Name         string
	TotalOps     int64
	Errors       int64
	Duration     time.Duration
	OpsPerSecond float64
	AvgLatency   time.Duration
	MinLatency   time.Duration
	MaxLatency   time.Duration
	P50Latency   time.Duration
	P95Latency   time.Duration
	P99Latency   time.Duration
}

type options struct {
	addr      string
	ops       int
	clients   int
	pipeline  int
	valueSize int
	timeout   time.Duration
}

// batchOp queues one command for operation i on c.
type batchOp func(c *respclient.Client, i int) error

func main() {
	app := &cli.App{
		Name:  "respkv-bench",
		Usage: "pipelined SET/GET load generator",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "127.0.0.1:6379", Usage: "server address"},
			&cli.IntFlag{Name: "ops", Value: 100000, Usage: "operations per phase"},
			&cli.IntFlag{Name: "clients", Value: 50, Usage: "concurrent connections"},
			&cli.IntFlag{Name: "pipeline", Value: 100, Usage: "commands per round trip"},
			&cli.IntFlag{Name: "value-size", Value: 64, Usage: "SET payload size in bytes"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Usage: "dial timeout"},
		},
		Action: func(c *cli.Context) error {
			opts := options{
				addr:      c.String("addr"),
				ops:       c.Int("ops"),
				clients:   c.Int("clients"),
				pipeline:  c.Int("pipeline"),
				valueSize: c.Int("value-size"),
				timeout:   c.Duration("timeout"),
			}
			if opts.clients <= 0 || opts.pipeline <= 0 || opts.ops <= 0 {
				return fmt.Errorf("ops, clients and pipeline must be positive")
			}
			return run(c.Context, opts)
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	value := strings.Repeat("x", opts.valueSize)
	phases := []struct {
		name string
		op   batchOp
	}{
		{"SET", func(c *respclient.Client, i int) error {
			return c.Send("SET", "key:"+strconv.Itoa(i), value)
		}},
		{"GET", func(c *respclient.Client, i int) error {
			return c.Send("GET", "key:"+strconv.Itoa(i))
		}},
	}

	for _, ph := range phases {
		res, err := runPhase(ctx, ph.name, opts, ph.op)
		if err != nil {
			return err
		}
		printResults(res)
	}
	return nil
}

func runPhase(ctx context.Context, name string, opts options, op batchOp) (Results, error) {
	var (
		totalOps  atomic.Int64
		errs      atomic.Int64
		mu        sync.Mutex
		latencies []time.Duration
	)

	perClient := max(opts.ops/opts.clients, 1)
	g, ctx := errgroup.WithContext(ctx)
	start := time.Now()

	for id := 0; id < opts.clients; id++ {
		id := id // per-iteration copy; go.mod targets go1.21 loop semantics
		g.Go(func() error {
			client, err := respclient.Dial(opts.addr, opts.timeout)
			if err != nil {
				return fmt.Errorf("client %d: %w", id, err)
			}
			defer client.Close()

			local := make([]time.Duration, 0, perClient/opts.pipeline+1)
			next := id * perClient
			for remaining := perClient; remaining > 0 && ctx.Err() == nil; {
				n := min(opts.pipeline, remaining)
				batchStart := time.Now()
				if err := sendBatch(client, op, next, n); err != nil {
					return fmt.Errorf("client %d: %w", id, err)
				}
				failed, err := receiveBatch(client, n)
				if err != nil {
					return fmt.Errorf("client %d: %w", id, err)
				}
				local = append(local, time.Since(batchStart))
				totalOps.Add(int64(n - failed))
				errs.Add(int64(failed))
				next += n
				remaining -= n
			}

			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Results{}, err
	}
	return summarize(name, totalOps.Load(), errs.Load(), time.Since(start), latencies), nil
}

func sendBatch(c *respclient.Client, op batchOp, first, n int) error {
	for i := 0; i < n; i++ {
		if err := op(c, first+i); err != nil {
			return err
		}
	}
	return c.Flush()
}

// receiveBatch reads n replies and counts the error replies among them.
func receiveBatch(c *respclient.Client, n int) (int, error) {
	failed := 0
	for i := 0; i < n; i++ {
		r, err := c.Receive()
		if err != nil {
			return failed, err
		}
		if r.Err() != nil {
			failed++
		}
	}
	return failed, nil
}

func summarize(name string, ops, errs int64, elapsed time.Duration, latencies []time.Duration) Results {
	res := Results{Name: name, TotalOps: ops, Errors: errs, Duration: elapsed}
	if elapsed > 0 {
		res.OpsPerSecond = float64(ops) / elapsed.Seconds()
	}
	if len(latencies) == 0 {
		return res
	}

	slices.Sort(latencies)
	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	res.AvgLatency = sum / time.Duration(len(latencies))
	res.MinLatency = latencies[0]
	res.MaxLatency = latencies[len(latencies)-1]
	res.P50Latency = percentile(latencies, 50)
	res.P95Latency = percentile(latencies, 95)
	res.P99Latency = percentile(latencies, 99)
	return res
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p int) time.Duration {
	return sorted[min(len(sorted)*p/100, len(sorted)-1)]
}

func printResults(r Results) {
	fmt.Printf("\n=== %s ===\n", r.Name)
	fmt.Printf("ops:         %d (errors: %d)\n", r.TotalOps, r.Errors)
	fmt.Printf("duration:    %v\n", r.Duration)
	fmt.Printf("throughput:  %.0f ops/sec\n", r.OpsPerSecond)
	fmt.Printf("batch latency avg=%v min=%v max=%v\n", r.AvgLatency, r.MinLatency, r.MaxLatency)
	fmt.Printf("              p50=%v p95=%v p99=%v\n", r.P50Latency, r.P95Latency, r.P99Latency)
}
