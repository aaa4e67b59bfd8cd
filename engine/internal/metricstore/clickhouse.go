package metricstore

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/pilot-net/hamon/engine/internal/query"
	"github.com/pilot-net/hamon/pkg/types"
)

// ClickHouseConfig holds connection settings for ClickHouseStore.
type ClickHouseConfig struct {
	Addr     []string `yaml:"addr"`
	Database string   `yaml:"database"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	TLS      bool     `yaml:"tls"`
}

// ClickHouseStore stores metrics in a ClickHouse table with a
// Map(String, String) dimensions column.
type ClickHouseStore struct {
	conn driver.Conn
}

// NewClickHouseStore wraps an open connection.
func NewClickHouseStore(conn driver.Conn) *ClickHouseStore {
	return &ClickHouseStore{conn: conn}
}

// OpenClickHouse connects and pings the server.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseStore, error) {
	options := &clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     10,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	}
	if cfg.TLS {
		options.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("connecting to clickhouse: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging clickhouse: %w", err)
	}

	return &ClickHouseStore{conn: conn}, nil
}

// EnsureSchema creates the metrics table if it does not exist.
func (s *ClickHouseStore) EnsureSchema(ctx context.Context) error {
	return s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS metrics (
			time DateTime64(3, 'UTC'),
			installation_id String,
			measure_name String,
			measure_value String,
			measure_type LowCardinality(String),
			dimensions Map(String, String)
		)
		ENGINE = MergeTree
		PARTITION BY toYYYYMM(time)
		ORDER BY (installation_id, measure_name, time)
		TTL toDateTime(time) + INTERVAL 30 DAY
	`)
}

// StoreMetrics sends records as a single insert block.
func (s *ClickHouseStore) StoreMetrics(ctx context.Context, records []types.MetricRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO metrics")
	if err != nil {
		return fmt.Errorf("preparing metrics batch: %w", err)
	}

	for _, r := range records {
		if err := batch.Append(
			r.Time(), r.InstallationID, r.MeasureName, r.MeasureValue,
			string(r.MeasureType), dimensionMap(r.Dimensions),
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("appending metric: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("sending metrics batch: %w", err)
	}
	return nil
}

// QueryMetrics runs q against the metrics table.
func (s *ClickHouseStore) QueryMetrics(ctx context.Context, q *query.Query) ([]Row, error) {
	sql, args := q.SQL(query.ClickHouse)
	rows, err := s.conn.Query(ctx, sql, args...)
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

// Close closes the connection.
func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}
