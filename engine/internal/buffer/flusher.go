package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pilot-net/hamon/engine/internal/metrics"
	"github.com/pilot-net/hamon/engine/internal/metricstore"
	"github.com/pilot-net/hamon/pkg/types"
)

// Queue is the consuming side of the buffer.
type Queue interface {
	Pop(ctx context.Context, maxRecords int) ([]types.MetricRecord, error)
	Requeue(ctx context.Context, records []types.MetricRecord) error
	Len(ctx context.Context) (int64, error)
}

// Flusher drains the buffer into the metric store.
type Flusher struct {
	queue    Queue
	store    metricstore.Writer
	logger   *slog.Logger
	interval time.Duration
	batch    int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewFlusher creates a flusher. Non-positive values use the defaults.
func NewFlusher(queue Queue, store metricstore.Writer, interval time.Duration, batch int, logger *slog.Logger) *Flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &Flusher{
		queue:    queue,
		store:    store,
		logger:   logger.With("component", "buffer_flusher"),
		interval: interval,
		batch:    batch,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background flushing loop.
func (f *Flusher) Start() {
	f.wg.Add(1)
	go f.run()
	f.logger.Info("buffer flusher started", "interval", f.interval, "batch_size", f.batch)
}

// Stop stops the flusher after a final flush.
func (f *Flusher) Stop() {
	close(f.stopCh)
	f.wg.Wait()
	f.logger.Info("buffer flusher stopped")
}

func (f *Flusher) run() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			f.FlushOnce(context.Background())
			return
		case <-ticker.C:
			f.FlushOnce(context.Background())
		}
	}
}

// FlushOnce writes one batch. A failed write puts the batch back.
func (f *Flusher) FlushOnce(ctx context.Context) (int, error) {
	size, err := f.queue.Len(ctx)
	if err != nil {
		f.logger.Error("failed to get buffer size", "error", err)
		return 0, err
	}
	metrics.SetBufferDepth(size)
	if size == 0 {
		return 0, nil
	}

	records, err := f.queue.Pop(ctx, f.batch)
	if err != nil {
		f.logger.Error("failed to pop from buffer", "error", err)
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	start := time.Now()
	if err := f.store.StoreMetrics(ctx, records); err != nil {
		f.logger.Error("failed to write records to metric store", "error", err, "count", len(records))
		if rqErr := f.queue.Requeue(ctx, records); rqErr != nil {
			f.logger.Error("failed to requeue records, batch lost", "error", rqErr, "count", len(records))
			return 0, fmt.Errorf("storing batch: %w; requeue: %v", err, rqErr)
		}
		return 0, fmt.Errorf("storing batch: %w", err)
	}

	f.logger.Debug("flushed records to metric store",
		"count", len(records),
		"remaining", size-int64(len(records)),
		"duration", time.Since(start),
	)
	return len(records), nil
}

// Drain flushes until the buffer is empty or a write fails.
func (f *Flusher) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := f.FlushOnce(ctx)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
}
