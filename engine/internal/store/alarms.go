package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pilot-net/hamon/pkg/types"
)

// =============================================================================
// ALARM CONFIGURATIONS
// =============================================================================

const alarmColumns = `id, type, category, user_id, installation_id, name, enabled,
	created_at, state, state_changed_at, configuration`

func scanAlarm(row pgx.Row) (*types.AlarmConfiguration, error) {
	var cfg types.AlarmConfiguration
	var body []byte
	err := row.Scan(&cfg.ID, &cfg.Type, &cfg.Category, &cfg.UserID, &cfg.InstallationID, &cfg.Name, &cfg.Enabled,
		&cfg.CreatedAt, &cfg.State, &cfg.StateChangedAt, &body)
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &cfg.Configuration); err != nil {
			return nil, fmt.Errorf("decoding configuration of %s: %w", cfg.ID, err)
		}
	}
	return &cfg, nil
}

// ListAlarmConfigurations returns every configuration of an installation.
func (s *Store) ListAlarmConfigurations(ctx context.Context, installationID string) ([]types.AlarmConfiguration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+alarmColumns+`
		FROM alarm_configurations
		WHERE installation_id = $1
		ORDER BY created_at, id
	`, installationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.AlarmConfiguration
	for rows.Next() {
		cfg, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	return out, rows.Err()
}

// GetAlarmConfiguration retrieves a configuration by id.
func (s *Store) GetAlarmConfiguration(ctx context.Context, id string) (*types.AlarmConfiguration, error) {
	cfg, err := scanAlarm(s.pool.QueryRow(ctx, `
		SELECT `+alarmColumns+` FROM alarm_configurations WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return cfg, err
}

// CreateAlarmConfiguration inserts a configuration.
func (s *Store) CreateAlarmConfiguration(ctx context.Context, cfg *types.AlarmConfiguration) error {
	body, err := json.Marshal(cfg.Configuration)
	if err != nil {
		return err
	}
	if cfg.State == "" {
		cfg.State = types.StateNoData
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO alarm_configurations (id, type, category, user_id, installation_id, name, enabled,
			state, state_changed_at, configuration)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), $9)
	`, cfg.ID, cfg.Type, cfg.Category, cfg.UserID, cfg.InstallationID, cfg.Name, cfg.Enabled, cfg.State, body)
	return err
}

// TransitionAlarmState moves a configuration from one state to another and
// inserts trigger, when not nil, in the same transaction. The update only
// applies while the stored state is still from; otherwise nothing is written
// and false is returned.
func (s *Store) TransitionAlarmState(ctx context.Context, id string, from, to types.AlarmState, changedAt time.Time, trigger *types.AlarmTrigger) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE alarm_configurations SET state = $2, state_changed_at = $3
		WHERE id = $1 AND state = $4
	`, id, to, changedAt, from)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if trigger != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO alarm_triggers (id, installation_id, alarm_configuration_id, state,
				previous_state, previous_state_since, triggered_at, processed)
			VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
		`, trigger.ID, trigger.InstallationID, trigger.AlarmConfigurationID, trigger.State,
			trigger.PreviousState, trigger.PreviousStateSince, trigger.TriggeredAt); err != nil {
			return false, fmt.Errorf("inserting trigger: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// =============================================================================
// ALARM TRIGGERS
// =============================================================================

// ListUnprocessedTriggers returns up to limit unprocessed triggers, oldest first.
func (s *Store) ListUnprocessedTriggers(ctx context.Context, limit int) ([]types.AlarmTrigger, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, installation_id, alarm_configuration_id, state, previous_state,
			previous_state_since, triggered_at, processed
		FROM alarm_triggers
		WHERE NOT processed
		ORDER BY triggered_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.AlarmTrigger
	for rows.Next() {
		var t types.AlarmTrigger
		if err := rows.Scan(&t.ID, &t.InstallationID, &t.AlarmConfigurationID, &t.State, &t.PreviousState,
			&t.PreviousStateSince, &t.TriggeredAt, &t.Processed); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkTriggerProcessed flags a trigger as notified. Marking twice is a no-op.
func (s *Store) MarkTriggerProcessed(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE alarm_triggers SET processed = TRUE WHERE id = $1`, id)
	return err
}
