package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pilot-net/hamon/pkg/types"
)

// ErrInstallationNotFound is returned when appending health to a missing installation.
var ErrInstallationNotFound = errors.New("installation not found")

const installationColumns = `id, owner_id, name, instance_url, verified, health_history, created_at`

func scanInstallation(row pgx.Row) (*types.Installation, error) {
	var inst types.Installation
	var history []byte
	if err := row.Scan(&inst.ID, &inst.OwnerID, &inst.Name, &inst.InstanceURL, &inst.Verified, &history, &inst.CreatedAt); err != nil {
		return nil, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &inst.HealthHistory); err != nil {
			return nil, fmt.Errorf("decoding health history of %s: %w", inst.ID, err)
		}
	}
	return &inst, nil
}

// ListVerifiedInstallations returns every verified installation.
func (s *Store) ListVerifiedInstallations(ctx context.Context) ([]types.Installation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+installationColumns+`
		FROM installations
		WHERE verified
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Installation
	for rows.Next() {
		inst, err := scanInstallation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

// GetInstallation retrieves an installation by id.
func (s *Store) GetInstallation(ctx context.Context, id string) (*types.Installation, error) {
	inst, err := scanInstallation(s.pool.QueryRow(ctx, `
		SELECT `+installationColumns+` FROM installations WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return inst, err
}

// AppendHealthStatus adds a status to the installation's health history,
// evicting the oldest entry when the history is full. The row is locked for
// the read-modify-write.
func (s *Store) AppendHealthStatus(ctx context.Context, installationID string, status types.HealthStatus) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx, `
		SELECT health_history FROM installations WHERE id = $1 FOR UPDATE
	`, installationID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrInstallationNotFound, installationID)
	}
	if err != nil {
		return err
	}

	var history types.HealthHistory
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &history); err != nil {
			return fmt.Errorf("decoding health history: %w", err)
		}
	}
	history.Append(status)

	encoded, err := json.Marshal(history)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE installations SET health_history = $2 WHERE id = $1
	`, installationID, encoded); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetUser retrieves a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	var u types.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
