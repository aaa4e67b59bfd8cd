package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pilot-net/hamon/engine/internal/metrics"
	"github.com/pilot-net/hamon/pkg/types"
)

// InstallationLister lists the installations a job covers.
type InstallationLister interface {
	ListVerifiedInstallations(ctx context.Context) ([]types.Installation, error)
}

// AnalyzeWorkerConfig holds configuration for the analyze worker.
type AnalyzeWorkerConfig struct {
	Interval  time.Duration
	ChunkSize int
}

// DefaultAnalyzeWorkerConfig returns sensible defaults.
func DefaultAnalyzeWorkerConfig() AnalyzeWorkerConfig {
	return AnalyzeWorkerConfig{
		Interval:  5 * time.Minute,
		ChunkSize: DefaultChunkSize,
	}
}

// AnalyzeWorker evaluates the alarms of every verified installation.
type AnalyzeWorker struct {
	installations InstallationLister
	analyzer      InstallationAnalyzer
	config        AnalyzeWorkerConfig
	logger        *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewAnalyzeWorker creates an analyze worker.
func NewAnalyzeWorker(installations InstallationLister, analyzer InstallationAnalyzer, config AnalyzeWorkerConfig, logger *slog.Logger) *AnalyzeWorker {
	return &AnalyzeWorker{
		installations: installations,
		analyzer:      analyzer,
		config:        config,
		logger:        logger.With("component", "analyze_worker"),
		stopCh:        make(chan struct{}),
	}
}

// Start begins the analyze worker in a goroutine.
func (w *AnalyzeWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it.
func (w *AnalyzeWorker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *AnalyzeWorker) run(ctx context.Context) {
	defer w.wg.Done()
	w.logger.Info("analyze worker started", "interval", w.config.Interval)

	w.RunOnce(ctx)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("analyze worker stopping (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("analyze worker stopping (stop signal)")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce analyzes every verified installation once.
func (w *AnalyzeWorker) RunOnce(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.ObserveJob("analyze", time.Since(start)) }()

	installations, err := w.installations.ListVerifiedInstallations(ctx)
	if err != nil {
		w.logger.Error("failed to list installations", "error", err)
		return fmt.Errorf("listing installations: %w", err)
	}

	var triggers, failed atomic.Int64
	err = RunChunked(ctx, installations, w.config.ChunkSize, func(ctx context.Context, inst types.Installation) error {
		sum, err := w.analyzer.AnalyzeInstallation(ctx, inst.ID)
		triggers.Add(int64(sum.Triggers))
		failed.Add(int64(sum.Failed))
		if err != nil {
			w.logger.Error("failed to analyze installation", "installation_id", inst.ID, "error", err)
			return fmt.Errorf("installation %s: %w", inst.ID, err)
		}
		return nil
	})

	w.logger.Info("analyze cycle complete",
		"duration", time.Since(start),
		"installations", len(installations),
		"triggers", triggers.Load(),
		"failed_configurations", failed.Load(),
	)
	return err
}
