package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pilot-net/hamon/engine/internal/dispatch"
	"github.com/pilot-net/hamon/engine/internal/metrics"
)

// Dispatcher drains unprocessed triggers.
type Dispatcher interface {
	DispatchPending(ctx context.Context) (dispatch.Summary, error)
}

// DispatchWorker periodically sends pending notifications.
type DispatchWorker struct {
	dispatcher Dispatcher
	interval   time.Duration
	logger     *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewDispatchWorker creates a dispatch worker.
func NewDispatchWorker(dispatcher Dispatcher, interval time.Duration, logger *slog.Logger) *DispatchWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &DispatchWorker{
		dispatcher: dispatcher,
		interval:   interval,
		logger:     logger.With("component", "dispatch_worker"),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the dispatch worker in a goroutine.
func (w *DispatchWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it.
func (w *DispatchWorker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *DispatchWorker) run(ctx context.Context) {
	defer w.wg.Done()
	w.logger.Info("dispatch worker started", "interval", w.interval)

	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce dispatches pending triggers once.
func (w *DispatchWorker) RunOnce(ctx context.Context) (dispatch.Summary, error) {
	start := time.Now()
	defer func() { metrics.ObserveJob("dispatch", time.Since(start)) }()

	sum, err := w.dispatcher.DispatchPending(ctx)
	if err != nil {
		w.logger.Error("dispatch failed", "error", err)
	}
	return sum, err
}
