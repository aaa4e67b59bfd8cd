// Package buffer provides a Redis-backed write-ahead buffer for metric
// records. Ingest pushes to the buffer; a flusher drains it into the
// durable metric store so a slow store never blocks ingest.
package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pilot-net/hamon/pkg/types"
)

const (
	keyMetricRecords = "hamon:metric_records"

	// DefaultBatchSize is the number of records flushed per store write.
	DefaultBatchSize = 5000

	// DefaultFlushInterval is how often the flusher drains the buffer.
	DefaultFlushInterval = 2 * time.Second
)

// MetricBuffer buffers metric records in a Redis list. It satisfies
// metricstore.Writer so the collector can write through it.
type MetricBuffer struct {
	client *redis.Client
	logger *slog.Logger
}

// NewMetricBuffer connects to redisURL and verifies the connection.
func NewMetricBuffer(redisURL string, logger *slog.Logger) (*MetricBuffer, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewMetricBufferFromClient(client, logger), nil
}

// NewMetricBufferFromClient wraps an existing client.
func NewMetricBufferFromClient(client *redis.Client, logger *slog.Logger) *MetricBuffer {
	return &MetricBuffer{
		client: client,
		logger: logger.With("component", "metric_buffer"),
	}
}

// StoreMetrics pushes records onto the buffer in one command, so the batch
// is either fully buffered or not at all.
func (b *MetricBuffer) StoreMetrics(ctx context.Context, records []types.MetricRecord) error {
	if len(records) == 0 {
		return nil
	}
	values, err := encode(records)
	if err != nil {
		return err
	}
	if err := b.client.LPush(ctx, keyMetricRecords, values...).Err(); err != nil {
		return fmt.Errorf("failed to push records to redis: %w", err)
	}
	return nil
}

// Pop removes up to maxRecords records, oldest first.
func (b *MetricBuffer) Pop(ctx context.Context, maxRecords int) ([]types.MetricRecord, error) {
	pipe := b.client.Pipeline()
	cmds := make([]*redis.StringCmd, maxRecords)
	for i := 0; i < maxRecords; i++ {
		cmds[i] = pipe.RPop(ctx, keyMetricRecords)
	}

	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to pop records from redis: %w", err)
	}

	records := make([]types.MetricRecord, 0, maxRecords)
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var r types.MetricRecord
		if err := json.Unmarshal(data, &r); err != nil {
			b.logger.Warn("dropping undecodable metric record", "error", err)
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

// Requeue returns records to the consuming end of the buffer so they are
// popped again before anything newer.
func (b *MetricBuffer) Requeue(ctx context.Context, records []types.MetricRecord) error {
	if len(records) == 0 {
		return nil
	}
	values, err := encode(records)
	if err != nil {
		return err
	}
	for i, j := 0, len(values)-1; i < j; i, j = i+1, j-1 {
		values[i], values[j] = values[j], values[i]
	}
	if err := b.client.RPush(ctx, keyMetricRecords, values...).Err(); err != nil {
		return fmt.Errorf("failed to requeue records: %w", err)
	}
	return nil
}

// Len returns the number of buffered records.
func (b *MetricBuffer) Len(ctx context.Context) (int64, error) {
	return b.client.LLen(ctx, keyMetricRecords).Result()
}

// Ping checks the Redis connection.
func (b *MetricBuffer) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (b *MetricBuffer) Close() error {
	return b.client.Close()
}

func encode(records []types.MetricRecord) ([]any, error) {
	values := make([]any, len(records))
	for i, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal record: %w", err)
		}
		values[i] = data
	}
	return values, nil
}
