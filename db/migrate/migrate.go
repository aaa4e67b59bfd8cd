// Package migrate applies the embedded SQL migrations of the engine.
//
// Migration files live in db/migrate/migrations and are named
//
//	NNN_descriptive_name.sql
//
// They are applied in version order, each in its own transaction. Engine
// jobs are short-lived and may start concurrently, so Up serializes on a
// Postgres advisory lock before reading the applied set.
//
// Applied migrations are tracked with a content checksum:
//
//	CREATE TABLE schema_migrations (
//	    version INTEGER PRIMARY KEY,
//	    name TEXT NOT NULL,
//	    checksum TEXT NOT NULL,
//	    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//
// A migration file edited after it was applied is reported by Status as
// drifted and makes Up fail.
package migrate

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// lockKey is the advisory lock id held while migrating.
const lockKey int64 = 0x68616d6f6e

// ErrChecksumMismatch is returned when an applied migration file changed.
var ErrChecksumMismatch = errors.New("migration checksum mismatch")

// Record is an applied migration.
type Record struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	Checksum  string    `json:"checksum"`
	AppliedAt time.Time `json:"applied_at"`
}

// Status describes the migration state of a database.
type Status struct {
	Applied []Record `json:"applied"`
	Pending []string `json:"pending"`
	Drifted []string `json:"drifted,omitempty"`
}

type migration struct {
	version  int
	name     string
	sql      string
	checksum string
}

func (m migration) label() string {
	return fmt.Sprintf("%03d_%s", m.version, m.name)
}

// Migrator applies migrations to one database.
type Migrator struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a migrator.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Migrator {
	return &Migrator{pool: pool, logger: logger.With("component", "migrate")}
}

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) error {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("taking migration lock: %w", err)
	}
	defer conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, lockKey)

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			checksum TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err := appliedMigrations(ctx, conn.Conn())
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}
	available, err := availableMigrations()
	if err != nil {
		return fmt.Errorf("reading migration files: %w", err)
	}

	pending, drifted := diff(applied, available)
	if len(drifted) > 0 {
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, strings.Join(drifted, ", "))
	}

	for _, mig := range pending {
		m.logger.Info("applying migration", "version", mig.version, "name", mig.name)
		if err := apply(ctx, conn.Conn(), mig); err != nil {
			return fmt.Errorf("applying migration %s: %w", mig.label(), err)
		}
	}

	if len(pending) == 0 {
		m.logger.Info("database schema is up to date", "version", len(applied))
	} else {
		m.logger.Info("migrations complete", "applied", len(pending), "total", len(applied)+len(pending))
	}
	return nil
}

// Status reports applied, pending and drifted migrations.
func (m *Migrator) Status(ctx context.Context) (*Status, error) {
	var exists bool
	err := m.pool.QueryRow(ctx, `SELECT to_regclass('public.schema_migrations') IS NOT NULL`).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking migrations table: %w", err)
	}

	status := &Status{}
	var applied map[int]Record
	if exists {
		conn, err := m.pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquiring connection: %w", err)
		}
		defer conn.Release()
		applied, err = appliedMigrations(ctx, conn.Conn())
		if err != nil {
			return nil, err
		}
	}
	for _, r := range applied {
		status.Applied = append(status.Applied, r)
	}
	sort.Slice(status.Applied, func(i, j int) bool { return status.Applied[i].Version < status.Applied[j].Version })

	available, err := availableMigrations()
	if err != nil {
		return nil, err
	}
	pending, drifted := diff(applied, available)
	for _, p := range pending {
		status.Pending = append(status.Pending, p.label())
	}
	status.Drifted = drifted
	return status, nil
}

// Rollback forgets the last applied migration without reverting its SQL.
func (m *Migrator) Rollback(ctx context.Context) error {
	var version int
	var name string
	err := m.pool.QueryRow(ctx, `
		DELETE FROM schema_migrations
		WHERE version = (SELECT MAX(version) FROM schema_migrations)
		RETURNING version, name
	`).Scan(&version, &name)
	if errors.Is(err, pgx.ErrNoRows) {
		m.logger.Info("no migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("removing migration record: %w", err)
	}
	m.logger.Info("migration record removed (SQL not reverted)", "version", version, "name", name)
	return nil
}

func appliedMigrations(ctx context.Context, conn *pgx.Conn) (map[int]Record, error) {
	rows, err := conn.Query(ctx, `SELECT version, name, checksum, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int]Record{}
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Version, &r.Name, &r.Checksum, &r.AppliedAt); err != nil {
			return nil, err
		}
		out[r.Version] = r
	}
	return out, rows.Err()
}

// diff returns the migrations not yet applied and the labels of applied
// migrations whose file content changed. Records without a checksum are
// not checked.
func diff(applied map[int]Record, available []migration) (pending []migration, drifted []string) {
	for _, mig := range available {
		r, ok := applied[mig.version]
		if !ok {
			pending = append(pending, mig)
			continue
		}
		if r.Checksum != "" && r.Checksum != mig.checksum {
			drifted = append(drifted, mig.label())
		}
	}
	return pending, drifted
}

func availableMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, name, err := parseFilename(entry.Name())
		if err != nil {
			return nil, err
		}
		content, err := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		out = append(out, migration{
			version:  version,
			name:     name,
			sql:      string(content),
			checksum: strconv.FormatUint(xxhash.Sum64(content), 16),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	for i := 1; i < len(out); i++ {
		if out[i].version == out[i-1].version {
			return nil, fmt.Errorf("duplicate migration version %03d", out[i].version)
		}
	}
	return out, nil
}

// parseFilename splits "NNN_name.sql" into its version and name.
func parseFilename(filename string) (int, string, error) {
	base := strings.TrimSuffix(filename, ".sql")
	version, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("invalid migration filename %s (expected NNN_name.sql)", filename)
	}
	v, err := strconv.Atoi(version)
	if err != nil {
		return 0, "", fmt.Errorf("invalid version number in %s: %w", filename, err)
	}
	return v, name, nil
}

func apply(ctx context.Context, conn *pgx.Conn, mig migration) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, mig.sql); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
		mig.version, mig.name, mig.checksum,
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit(ctx)
}
