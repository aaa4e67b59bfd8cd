package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/pilot-net/hamon/engine/internal/analyzer"
	"github.com/pilot-net/hamon/engine/internal/buffer"
	"github.com/pilot-net/hamon/engine/internal/cache"
	"github.com/pilot-net/hamon/engine/internal/collector"
	"github.com/pilot-net/hamon/engine/internal/config"
	"github.com/pilot-net/hamon/engine/internal/dispatch"
	"github.com/pilot-net/hamon/engine/internal/healthcheck"
	"github.com/pilot-net/hamon/engine/internal/logging"
	"github.com/pilot-net/hamon/engine/internal/metrics"
	"github.com/pilot-net/hamon/engine/internal/metricstore"
	"github.com/pilot-net/hamon/engine/internal/notify"
	"github.com/pilot-net/hamon/engine/internal/secrets"
	"github.com/pilot-net/hamon/engine/internal/store"
	"github.com/pilot-net/hamon/pkg/types"
)

// metricBackend is a metric store that can be written and queried.
type metricBackend interface {
	metricstore.Writer
	metricstore.Reader
}

// app holds the wired engine components shared by every command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db      *store.Store
	metrics metricBackend
	buffer  *buffer.MetricBuffer
	flusher *buffer.Flusher
	health  *metrics.Collector

	collector  *collector.Collector
	analyzer   *analyzer.Analyzer
	dispatcher *dispatch.Dispatcher
	prober     *healthcheck.Prober

	closers []func()
}

// loadConfig reads the config file, resolves secret references and
// validates the result.
func loadConfig(ctx context.Context, flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.debug {
		cfg.Logging.Debug = true
	}
	cfg.Logging.Release = version

	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, nil))
	resolver := secrets.NewResolver(cfg.Secrets.OnePassword, bootstrap)
	if err := cfg.ResolveSecrets(ctx, resolver); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newApp connects every backing service named by the config. The caller
// must call Close.
func newApp(ctx context.Context, flags *rootFlags) (*app, error) {
	cfg, err := loadConfig(ctx, flags)
	if err != nil {
		return nil, err
	}

	logger, flush, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, flush)
	metrics.Init()

	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) connect(ctx context.Context) error {
	cfg := a.cfg

	connectCtx, cancel := context.WithTimeout(ctx, config.DatabaseConnectTimeout)
	defer cancel()

	db, err := store.NewStoreFromURL(connectCtx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)
	if err := db.Ping(connectCtx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	a.logger.Info("connected to database")

	switch cfg.MetricStore.Backend {
	case config.MetricStoreClickHouse:
		ch, err := metricstore.OpenClickHouse(connectCtx, cfg.MetricStore.ClickHouse)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { ch.Close() })
		if err := ch.EnsureSchema(connectCtx); err != nil {
			return err
		}
		a.metrics = ch
	case config.MetricStoreMemory:
		a.metrics = metricstore.NewMemoryStore(nil)
	default:
		a.metrics = metricstore.NewTimescaleStore(db.Pool())
	}
	a.logger.Info("metric store ready", "backend", cfg.MetricStore.Backend)

	var writer metricstore.Writer = a.metrics
	if cfg.Redis.URL != "" {
		buf, err := buffer.NewMetricBuffer(cfg.Redis.URL, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { buf.Close() })
		if err := buf.Ping(connectCtx); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		a.buffer = buf
		a.flusher = buffer.NewFlusher(buf, a.metrics, cfg.Redis.FlushInterval, cfg.Redis.FlushBatch, a.logger)
		writer = buf
		a.logger.Info("metric buffer enabled")
	}

	if a.buffer != nil {
		a.health = metrics.NewCollector(db, a.buffer)
	} else {
		a.health = metrics.NewCollector(db, nil)
	}

	configs, err := a.configurationStore()
	if err != nil {
		return err
	}

	a.collector = collector.New(configs, writer, a.logger)
	if a.buffer != nil {
		a.collector = a.collector.WithPingWriter(a.metrics)
	}
	a.analyzer = analyzer.New(configs, a.metrics, analyzer.Config{
		Lookback: cfg.Analyzer.Lookback,
		Table:    metricstore.Table,
	}, a.logger)

	a.dispatcher = dispatch.New(db, a.notifier(), dispatch.Config{
		From:      cfg.Notify.SMTP.From,
		BatchSize: cfg.Notify.BatchSize,
	}, a.logger)

	hc := healthcheck.DefaultConfig()
	hc.Timeout = cfg.HealthCheck.Timeout
	if cfg.HealthCheck.ContentMarker != "" {
		hc.ContentMarker = cfg.HealthCheck.ContentMarker
	}
	a.prober = healthcheck.NewProber(hc, a.logger)
	return nil
}

// configurationStore returns alarm configuration access, cached unless the
// cache is disabled.
func (a *app) configurationStore() (cache.ConfigurationStore, error) {
	var backend cache.Backend
	switch a.cfg.Cache.Backend {
	case config.CacheNone:
		return a.db, nil
	case config.CacheRedis:
		rb, err := cache.NewRedisBackend(a.cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { rb.Close() })
		backend = rb
	default:
		backend = cache.NewMemoryBackend(a.cfg.Cache.TTL, 2*a.cfg.Cache.TTL)
	}
	c := cache.New(backend, a.logger)
	return cache.NewCachedConfigurations(a.db, c, a.cfg.Cache.TTL, a.logger), nil
}

func (a *app) notifier() notify.Notifier {
	if a.cfg.Notify.Backend != config.NotifySMTP {
		return notify.NewLogNotifier(a.logger)
	}
	smtp := notify.NewSMTPNotifier(a.cfg.Notify.SMTP, a.logger)
	return notify.NewRateLimited(smtp, a.cfg.Notify.SMTP.RatePerMinute)
}

// installations returns the named installations, or every verified one
// when ids is empty.
func (a *app) installations(ctx context.Context, ids []string) ([]types.Installation, error) {
	if len(ids) == 0 {
		return a.db.ListVerifiedInstallations(ctx)
	}
	var out []types.Installation
	var errs []error
	for _, id := range ids {
		inst, err := a.db.GetInstallation(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("installation %s: %w", id, err))
			continue
		}
		if inst == nil {
			errs = append(errs, fmt.Errorf("installation %s not found", id))
			continue
		}
		out = append(out, *inst)
	}
	return out, errors.Join(errs...)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
