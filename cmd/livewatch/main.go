// livewatch subscribes to the live queries listed in its config file and
// prints every update as a JSON line. Updates can also be recorded to
// PostgreSQL.
//
// Usage: go run ./cmd/livewatch --config configs/livewatch.example.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/livequery/internal/api"
	"github.com/rickgao/livequery/internal/buffer"
	"github.com/rickgao/livequery/internal/client"
	"github.com/rickgao/livequery/internal/config"
	"github.com/rickgao/livequery/internal/database"
	"github.com/rickgao/livequery/internal/livequery"
	"github.com/rickgao/livequery/internal/model"
	"github.com/rickgao/livequery/internal/recorder"
	"github.com/rickgao/livequery/internal/telemetry"
	"github.com/rickgao/livequery/internal/version"
)

const statsInterval = 30 * time.Second

func main() {
	configPath := flag.String("config", "configs/livewatch.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("livewatch failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Updates go to stdout, so logs go to stderr.
	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	logger.Info("starting livewatch",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
		"address", cfg.Server.Address,
		"watches", len(cfg.Watches),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.Service)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	// Optional recorder
	var queue *buffer.Queue[model.Update]
	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		pool, err := connectRecorderDB(ctx, cfg.Recorder.Database, logger)
		if err != nil {
			return err
		}
		defer pool.Close()

		queue = buffer.New[model.Update](cfg.Recorder.BufferSize)
		rec = recorder.New(recorder.Config{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
		}, queue, pool, logger.With("component", "recorder"))
		if err := rec.Start(ctx); err != nil {
			return fmt.Errorf("start recorder: %w", err)
		}
		defer func() {
			queue.Close()
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()
			rec.Stop(stopCtx)
		}()
	}

	c, err := client.New(cfg.Server.Address,
		client.WithLogger(logger),
		client.WithLiveConfig(liveConfig(cfg)),
		client.WithAPIOptions(
			api.WithTimeout(cfg.Server.Timeout),
			api.WithRetries(cfg.Server.MaxRetries, time.Second),
			api.WithUserAgent(version.UserAgent("livewatch")),
		),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	out := newPrinter(os.Stdout)
	sink := func(u model.Update) {
		if err := out.print(u); err != nil {
			logger.Error("write update failed", "watch", u.Watch, "error", err)
		}
		if queue != nil {
			queue.Send(u)
		}
	}

	disposers := make([]livequery.DisposeFunc, 0, len(cfg.Watches))
	for _, w := range cfg.Watches {
		disposers = append(disposers, startWatch(c, w, sink, logger))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				logStats(logger, c.Stats(), rec)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		for _, dispose := range disposers {
			dispose()
		}
		return c.Close()
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logStats(logger, c.Stats(), rec)
	logger.Info("livewatch stopped")
	return nil
}

func connectRecorderDB(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	logger.Info("connecting to database",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Name,
	)

	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	logger.Info("database connected")
	return pool, nil
}

// liveConfig maps the file config onto the subscription manager's.
func liveConfig(cfg *config.Config) livequery.Config {
	live := livequery.DefaultConfig()
	live.Backoff.Initial = cfg.Backoff.Initial
	live.Backoff.Max = cfg.Backoff.Max
	live.Channel.PingInterval = cfg.Channel.PingInterval
	live.Channel.PingTimeout = cfg.Channel.PingTimeout
	live.Channel.WriteTimeout = cfg.Channel.WriteTimeout
	live.Channel.BufferSize = cfg.Channel.BufferSize
	return live
}

func logStats(logger *slog.Logger, s livequery.Stats, rec *recorder.Recorder) {
	attrs := []any{
		"state", s.State,
		"subscriptions", s.Subscriptions,
		"tokens", s.Registered,
		"deliveries", s.Deliveries,
		"invalidations", s.Invalidations,
		"fetch_errors", s.FetchErrors,
		"reconnects", s.Reconnects,
	}
	if rec != nil {
		m := rec.Stats()
		attrs = append(attrs,
			"recorded", m.Inserts,
			"record_errors", m.Errors,
		)
	}
	logger.Info("stats", attrs...)
}
