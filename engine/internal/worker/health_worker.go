package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pilot-net/hamon/engine/internal/analyzer"
	"github.com/pilot-net/hamon/engine/internal/metrics"
	"github.com/pilot-net/hamon/pkg/types"
)

// HealthStore defines the storage interface for the health worker.
type HealthStore interface {
	ListVerifiedInstallations(ctx context.Context) ([]types.Installation, error)
	AppendHealthStatus(ctx context.Context, installationID string, status types.HealthStatus) error
}

// Prober checks an installation frontend.
type Prober interface {
	Probe(ctx context.Context, inst *types.Installation) *types.InstallationPing
}

// PingCollector records a probe result as metrics.
type PingCollector interface {
	CollectPing(ctx context.Context, ping *types.InstallationPing) (int, error)
}

// InstallationAnalyzer evaluates the alarms of one installation.
type InstallationAnalyzer interface {
	AnalyzeInstallation(ctx context.Context, installationID string) (analyzer.Summary, error)
}

// HealthWorkerConfig holds configuration for the health worker.
type HealthWorkerConfig struct {
	// Interval between health check runs.
	Interval time.Duration

	// ChunkSize is how many installations are probed concurrently.
	ChunkSize int

	// AnalyzeAfterPing runs the analyzer for an installation once its ping
	// is recorded.
	AnalyzeAfterPing bool
}

// DefaultHealthWorkerConfig returns sensible defaults.
func DefaultHealthWorkerConfig() HealthWorkerConfig {
	return HealthWorkerConfig{
		Interval:         time.Minute,
		ChunkSize:        DefaultChunkSize,
		AnalyzeAfterPing: true,
	}
}

// HealthWorker probes every verified installation.
type HealthWorker struct {
	store     HealthStore
	prober    Prober
	collector PingCollector
	analyzer  InstallationAnalyzer
	config    HealthWorkerConfig
	logger    *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewHealthWorker creates a health worker. analyzer may be nil.
func NewHealthWorker(store HealthStore, prober Prober, collector PingCollector, analyzer InstallationAnalyzer,
	config HealthWorkerConfig, logger *slog.Logger) *HealthWorker {
	return &HealthWorker{
		store:     store,
		prober:    prober,
		collector: collector,
		analyzer:  analyzer,
		config:    config,
		logger:    logger.With("component", "health_worker"),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the health worker in a goroutine.
func (w *HealthWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it.
func (w *HealthWorker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *HealthWorker) run(ctx context.Context) {
	defer w.wg.Done()
	w.logger.Info("health worker started", "interval", w.config.Interval, "chunk_size", w.config.ChunkSize)

	w.RunOnce(ctx)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("health worker stopping (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("health worker stopping (stop signal)")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce probes every verified installation once.
func (w *HealthWorker) RunOnce(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.ObserveJob("healthcheck", time.Since(start)) }()

	installations, err := w.store.ListVerifiedInstallations(ctx)
	if err != nil {
		w.logger.Error("failed to list installations", "error", err)
		return fmt.Errorf("listing installations: %w", err)
	}

	err = RunChunked(ctx, installations, w.config.ChunkSize, func(ctx context.Context, inst types.Installation) error {
		return w.check(ctx, &inst)
	})

	w.logger.Info("health check cycle complete",
		"duration", time.Since(start),
		"installations", len(installations),
	)
	return err
}

func (w *HealthWorker) check(ctx context.Context, inst *types.Installation) error {
	ping := w.prober.Probe(ctx, inst)

	if err := w.store.AppendHealthStatus(ctx, inst.ID, ping.Status()); err != nil {
		w.logger.Error("failed to append health status", "installation_id", inst.ID, "error", err)
		return fmt.Errorf("installation %s: appending health status: %w", inst.ID, err)
	}

	if _, err := w.collector.CollectPing(ctx, ping); err != nil {
		w.logger.Error("failed to collect ping", "installation_id", inst.ID, "error", err)
		return fmt.Errorf("installation %s: collecting ping: %w", inst.ID, err)
	}

	if w.config.AnalyzeAfterPing && w.analyzer != nil {
		if _, err := w.analyzer.AnalyzeInstallation(ctx, inst.ID); err != nil {
			w.logger.Error("failed to analyze installation", "installation_id", inst.ID, "error", err)
			return fmt.Errorf("installation %s: analyzing: %w", inst.ID, err)
		}
	}
	return nil
}
