// Package metricstore persists and queries metric records.
//
// # Backends
//
// Three backends implement Store:
//   - TimescaleStore: TimescaleDB hypertable via pgx (production default)
//   - ClickHouseStore: ClickHouse MergeTree table via clickhouse-go
//   - MemoryStore: in-process store for development and tests
//
// Every backend writes a StoreMetrics batch atomically: either all records
// become visible or none do.
package metricstore

import (
	"context"
	"time"

	"github.com/pilot-net/hamon/engine/internal/query"
	"github.com/pilot-net/hamon/pkg/types"
)

// Table is the metric table name used by every backend.
const Table = "metrics"

// Row is one result row of a metric query.
type Row struct {
	Time time.Time

	// DoubleValue is the numeric value or the group count. Nil for text
	// measures in raw projections.
	DoubleValue *float64

	TextValue string
}

// Writer appends metric records.
type Writer interface {
	StoreMetrics(ctx context.Context, records []types.MetricRecord) error
}

// Reader runs metric queries.
type Reader interface {
	QueryMetrics(ctx context.Context, q *query.Query) ([]Row, error)
}

// Store is a Writer and a Reader.
type Store interface {
	Writer
	Reader
}

func dimensionMap(dims []types.Dimension) map[string]string {
	m := make(map[string]string, len(dims))
	for _, d := range dims {
		m[d.Name] = d.Value
	}
	return m
}
