package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gabapcia/rpcparity/internal/backend"
	"github.com/gabapcia/rpcparity/internal/config"
	"github.com/gabapcia/rpcparity/internal/handlers/cli"
	httphandler "github.com/gabapcia/rpcparity/internal/handlers/http"
	"github.com/gabapcia/rpcparity/internal/infra/backend/ethereum"
	"github.com/gabapcia/rpcparity/internal/infra/metrics/prometheus"
	"github.com/gabapcia/rpcparity/internal/infra/storage/ndjson"
	"github.com/gabapcia/rpcparity/internal/infra/storage/redis"
	"github.com/gabapcia/rpcparity/internal/pkg/logger"
	"github.com/gabapcia/rpcparity/internal/pkg/memprobe"
	"github.com/gabapcia/rpcparity/internal/pkg/telemetry"
	httptransport "github.com/gabapcia/rpcparity/internal/pkg/transport/http"
	"github.com/gabapcia/rpcparity/internal/pkg/transport/jsonrpc"
	"github.com/gabapcia/rpcparity/internal/record"
	"github.com/gabapcia/rpcparity/internal/recovery"
	"github.com/gabapcia/rpcparity/internal/sampler"
	"github.com/gabapcia/rpcparity/internal/stats"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
)

const serviceName = "rpcparity"

type recordStore interface {
	Append(ctx context.Context, r record.Record) error
	ReadAll(ctx context.Context) (record.Streams, error)
	Close() error
}

func openStore(ctx context.Context, cfg config.Config) (recordStore, error) {
	if cfg.Storage == config.StorageRedis {
		client, err := redis.NewClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisDB,
			redis.WithKeyPrefix(cfg.RedisKeyPrefix),
		)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	store, err := ndjson.New(afero.NewOsFs(), cfg.DataDir)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func newBackend(url string, cfg config.Config) backend.Client {
	conn := jsonrpc.NewClient(url,
		httptransport.WithTimeout(cfg.CallTimeout),
		httptransport.WithRetryMax(cfg.RetryMax),
		httptransport.WithRetryWaitMin(cfg.RetryWaitMin),
		httptransport.WithRetryWaitMax(cfg.RetryWaitMax),
		httptransport.WithMaxIdleConnsPerHost(cfg.MaxIdleConns),
	)

	return ethereum.NewClient(conn, ethereum.WithCallTimeout(cfg.CallTimeout))
}

func run(ctx context.Context) error {
	cfg, err := config.Load(afero.NewOsFs())
	if err != nil {
		return err
	}

	if cfg.TelemetryEnabled {
		shutdown, err := telemetry.Init(ctx, serviceName)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()
	}

	if err := logger.Init(cfg.LogLevel); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("record store: %w", err)
	}
	defer store.Close()

	var (
		primary   = newBackend(cfg.PrimaryURL, cfg)
		reference = newBackend(cfg.ReferenceURL, cfg)
		registry  = prom.NewRegistry()
	)

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var recoverySvc recovery.Service
	observer := prometheus.NewObserver(registry, func() int { return len(recoverySvc.Pending()) })

	recoverySvc = recovery.New(reference, store,
		recovery.WithDelay(cfg.RecheckDelay),
		recovery.WithMaxPending(cfg.MaxPendingRechecks),
		recovery.WithAttempts(cfg.RecheckAttempts),
		recovery.WithRecoveryHandler(observer.ObserveRecovery),
	)

	samplerSvc := sampler.New(primary, reference, store, recoverySvc, cfg.Plan,
		sampler.WithObserver(observer),
		sampler.WithMemoryProbe(memprobe.New(), cfg.MemoryEvery),
		sampler.WithInterval(cfg.Interval),
		sampler.WithErrorBackoff(cfg.ErrorBackoff),
		sampler.WithDrainTimeout(cfg.DrainTimeout),
		sampler.WithStrictLogs(cfg.StrictLogs),
	)

	statsSvc := stats.New(store,
		stats.WithSampleWindow(cfg.SampleWindow),
		stats.WithRecentLimit(cfg.RecentLimit),
	)

	server := httphandler.NewServer(statsSvc,
		httphandler.WithAddr(cfg.HTTPAddr),
		httphandler.WithMetricsHandler(observer.Handler()),
		httphandler.WithRunID(samplerSvc.RunID()),
		httphandler.WithPending(func() int { return len(recoverySvc.Pending()) }),
	)

	ctx = logger.Derive(ctx, "run.id", samplerSvc.RunID())
	return cli.Run(ctx, samplerSvc, server, statsSvc)
}

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)

		if errors.Is(err, config.ErrInvalidConfig) || errors.Is(err, config.ErrInvalidProbes) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
