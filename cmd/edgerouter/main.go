package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	apihttp "edgemesh/internal/http"
	"edgemesh/pkg/callback"
	"edgemesh/pkg/cluster"
	"edgemesh/pkg/config"
	"edgemesh/pkg/metrics"
	"edgemesh/pkg/queue"
	"edgemesh/pkg/routing"
	"edgemesh/pkg/rpc"
	"edgemesh/pkg/sharding"
	"edgemesh/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "edgerouter.yaml", "path to the YAML configuration")
	flag.Parse()

	cfg, err := initConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if err := config.Validate(&cfg); err != nil {
		slog.Error("Invalid config", "error", err)
		os.Exit(1)
	}
	initLogger(&cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("edgerouter stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("edgerouter stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	policy, err := routing.ParsePolicy(cfg.Node.Policy)
	if err != nil {
		return err
	}

	numTables := 1
	if cfg.Node.DualTables {
		numTables = 2
	}
	tables := make([]*sharding.Set, numTables)
	for i := range tables {
		if tables[i], err = sharding.New(cfg.Node.Shards, policy); err != nil {
			return err
		}
	}

	reg := metrics.NewRegistry()
	lambdaClient := cluster.NewHTTPClient(cfg.Node.ForwardTimeout)
	callbacks := callback.NewService(slog.Default())
	defer callbacks.Close()

	disp, err := cluster.NewDispatcher(cluster.Options{
		Tables:   tables,
		Remote:   lambdaClient,
		Executor: lambdaClient,
		Senders: func(endpoint string) (cluster.ResultSender, error) {
			return rpc.NewCallbackClient(endpoint, cfg.Callback.CompressThreshold)
		},
		QueueSize: cfg.Node.QueueSize,
		Metrics:   reg,
	})
	if err != nil {
		return err
	}
	disp.Start(ctx)
	defer disp.Stop()

	telem := telemetry.NewService(slog.Default())
	sampler := telemetry.NewSampler(disp, telem, cfg.Telemetry.Interval)
	sampler.Start(ctx)
	defer sampler.Stop()

	// components sharing an address share a listener
	apis := make(map[string]*apihttp.API)
	api := func(addr string) *apihttp.API {
		a, ok := apis[addr]
		if !ok {
			a = &apihttp.API{Metrics: reg}
			apis[addr] = a
		}
		return a
	}
	api(cfg.Endpoints.Lambda).Dispatcher = disp
	api(cfg.Endpoints.Control).Tables = tables
	if cfg.Endpoints.Callback != "" {
		api(cfg.Endpoints.Callback).Callbacks = callbacks
	}
	if cfg.Endpoints.Telemetry != "" {
		api(cfg.Endpoints.Telemetry).Telemetry = telem
	}

	var servers []*apihttp.Server
	defer func() {
		for _, s := range servers {
			if err := s.Stop(); err != nil {
				slog.Warn("Error stopping server", "addr", s.URL, "error", err)
			}
		}
	}()
	for addr, a := range apis {
		s := apihttp.NewServer(addr, a.Router())
		if err := s.Start(); err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		servers = append(servers, s)
	}

	if len(cfg.Membership.ZKServers) > 0 {
		membership, err := cluster.NewZKMembership(cfg.Membership.ZKServers, cfg.Membership.RootPath, cfg.Endpoints.Control)
		if err != nil {
			return err
		}
		defer membership.Close()
		if err := membership.RegisterSelf(); err != nil {
			return fmt.Errorf("register in zookeeper: %w", err)
		}
	}

	slog.Info("edgerouter running",
		"lambda", cfg.Endpoints.Lambda,
		"control", cfg.Endpoints.Control,
		"callback", cfg.Endpoints.Callback,
		"telemetry", cfg.Endpoints.Telemetry,
		"shards", cfg.Node.Shards,
		"tables", numTables,
		"policy", policy)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return drainResults(gctx, callbacks.Queue())
	})
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Telemetry.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				reg.SetGauge("telemetry_subscribers", nil, float64(telem.Subscribers()))
				reg.SetGauge("callback_queue_length", nil, float64(callbacks.Queue().Len()))
			}
		}
	})
	return g.Wait()
}

// drainResults logs the results of requests this node submitted
// asynchronously.
func drainResults(ctx context.Context, q *queue.Queue[callback.Result]) error {
	for {
		res, err := q.Pop(ctx)
		switch {
		case errors.Is(err, queue.ErrClosed), ctx.Err() != nil:
			return nil
		case err != nil:
			return err
		}
		slog.Info("asynchronous result",
			"id", res.ID,
			"ret_code", res.RetCode,
			"responder", res.Responder,
			"hops", res.Hops,
			"processing_time_ms", res.ProcessingTimeMs)
	}
}
