// Command edgeclient sends lambda requests to an edge router and follows its
// utilization stream.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	apihttp "edgemesh/internal/http"
	"edgemesh/pkg/callback"
	"edgemesh/pkg/cluster"
	"edgemesh/pkg/fabricerr"
	"edgemesh/pkg/queue"
	"edgemesh/pkg/rpc"
	"edgemesh/pkg/telemetry"

	"github.com/google/uuid"
)

type options struct {
	endpoint string
	mode     string
	lambda   string
	input    string
	count    int
	callback string
	timeout  time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.endpoint, "server-endpoint", "localhost:6473", "lambda endpoint, or telemetry endpoint with -mode util")
	flag.StringVar(&opts.mode, "mode", "sync", "one of: sync, async, util")
	flag.StringVar(&opts.lambda, "lambda", "clambda0", "function to invoke")
	flag.StringVar(&opts.input, "input", "", "function input")
	flag.IntVar(&opts.count, "count", 1, "number of requests")
	flag.StringVar(&opts.callback, "callback", "127.0.0.1:6490", "listen address for asynchronous results")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout, or how long to follow the stream with -mode util")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		slog.Error("edgeclient failed", "mode", opts.mode, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	switch opts.mode {
	case "sync":
		return runSync(ctx, opts, out)
	case "async":
		return runAsync(ctx, opts, out)
	case "util":
		return runUtil(ctx, opts, out)
	default:
		return fmt.Errorf("%w: unknown mode %q", fabricerr.ErrConfiguration, opts.mode)
	}
}

func runSync(ctx context.Context, opts options, out io.Writer) error {
	client := cluster.NewHTTPClient(opts.timeout)
	enc := json.NewEncoder(out)
	for i := 0; i < opts.count; i++ {
		resp, err := client.Invoke(ctx, opts.endpoint, cluster.Request{ID: uuid.New(), Name: opts.lambda, Input: opts.input})
		if err != nil {
			return err
		}
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return nil
}

// runAsync serves a callback endpoint, submits every request with it and
// prints results as they arrive.
func runAsync(ctx context.Context, opts options, out io.Writer) error {
	results := callback.NewService(slog.Default())
	defer results.Close()

	srv := apihttp.NewServer(opts.callback, (&apihttp.API{Callbacks: results}).Router())
	if err := srv.Start(); err != nil {
		return fmt.Errorf("listen on %s: %w", opts.callback, err)
	}
	defer srv.Stop()

	client := cluster.NewHTTPClient(opts.timeout)
	pending := make(map[uuid.UUID]struct{}, opts.count)
	for i := 0; i < opts.count; i++ {
		req := cluster.Request{Name: opts.lambda, Input: opts.input}
		id, err := cluster.Submit(ctx, client, opts.endpoint, opts.callback, req)
		if err != nil {
			return err
		}
		pending[id] = struct{}{}
	}

	enc := json.NewEncoder(out)
	for len(pending) > 0 {
		res, err := popResult(ctx, results.Queue(), opts.timeout)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%d results still missing after %s", len(pending), opts.timeout)
		}
		if err != nil {
			return err
		}
		if _, ok := pending[res.ID]; !ok {
			slog.Warn("unexpected result", "id", res.ID)
			continue
		}
		delete(pending, res.ID)
		if err := enc.Encode(res); err != nil {
			return err
		}
	}
	return nil
}

func popResult(ctx context.Context, q *queue.Queue[callback.Result], timeout time.Duration) (callback.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return q.Pop(ctx)
}

func runUtil(ctx context.Context, opts options, out io.Writer) error {
	client, err := rpc.NewTelemetryClient(opts.endpoint)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	enc := json.NewEncoder(out)
	return client.Stream(ctx, func(snap telemetry.Snapshot) error {
		return enc.Encode(snap)
	})
}
