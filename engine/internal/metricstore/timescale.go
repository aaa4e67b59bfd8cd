package metricstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pilot-net/hamon/engine/internal/query"
	"github.com/pilot-net/hamon/pkg/types"
)

// TimescaleStore stores metrics in a TimescaleDB hypertable.
type TimescaleStore struct {
	pool *pgxpool.Pool
}

// NewTimescaleStore creates a store on an existing pool.
func NewTimescaleStore(pool *pgxpool.Pool) *TimescaleStore {
	return &TimescaleStore{pool: pool}
}

// StoreMetrics copies records into a staging table and moves them into the
// hypertable in one transaction.
func (s *TimescaleStore) StoreMetrics(ctx context.Context, records []types.MetricRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning metrics tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		CREATE TEMP TABLE metrics_staging (
			time TIMESTAMPTZ NOT NULL,
			installation_id TEXT NOT NULL,
			measure_name TEXT NOT NULL,
			measure_value TEXT NOT NULL,
			measure_type TEXT NOT NULL,
			dimensions JSONB NOT NULL
		) ON COMMIT DROP
	`)
	if err != nil {
		return fmt.Errorf("creating staging table: %w", err)
	}

	rows := make([][]any, len(records))
	for i, r := range records {
		dims, err := json.Marshal(dimensionMap(r.Dimensions))
		if err != nil {
			return fmt.Errorf("encoding dimensions: %w", err)
		}
		rows[i] = []any{r.Time(), r.InstallationID, r.MeasureName, r.MeasureValue, string(r.MeasureType), dims}
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"metrics_staging"},
		[]string{"time", "installation_id", "measure_name", "measure_value", "measure_type", "dimensions"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copying metrics: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO metrics (time, installation_id, measure_name, measure_value, measure_type, dimensions)
		SELECT time, installation_id, measure_name, measure_value, measure_type, dimensions
		FROM metrics_staging
	`)
	if err != nil {
		return fmt.Errorf("inserting metrics: %w", err)
	}

	return tx.Commit(ctx)
}

// QueryMetrics runs q against the hypertable.
func (s *TimescaleStore) QueryMetrics(ctx context.Context, q *query.Query) ([]Row, error) {
	sql, args := q.SQL(query.Postgres)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying metrics: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Time, &r.DoubleValue, &r.TextValue); err != nil {
			return nil, fmt.Errorf("scanning metric row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
