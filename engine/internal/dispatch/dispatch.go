// Package dispatch turns unprocessed alarm triggers into notifications.
//
// Each trigger is handled on its own: resolve configuration and owner,
// render, send, mark processed. A trigger whose configuration or owner is
// missing, or whose send fails, stays unprocessed and is retried next run.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pilot-net/hamon/engine/internal/metrics"
	"github.com/pilot-net/hamon/engine/internal/notify"
	"github.com/pilot-net/hamon/pkg/types"
)

// Store defines the storage interface for the dispatcher.
type Store interface {
	ListUnprocessedTriggers(ctx context.Context, limit int) ([]types.AlarmTrigger, error)
	GetAlarmConfiguration(ctx context.Context, id string) (*types.AlarmConfiguration, error)
	GetUser(ctx context.Context, id string) (*types.User, error)
	MarkTriggerProcessed(ctx context.Context, id string) error
}

// Config holds dispatcher settings.
type Config struct {
	// From is the sender address of every message.
	From string

	// BatchSize caps the triggers handled per run.
	BatchSize int
}

// DefaultConfig returns the default dispatcher settings.
func DefaultConfig() Config {
	return Config{
		From:      "alarms@hamon.local",
		BatchSize: 500,
	}
}

// Dispatcher sends notifications for pending triggers.
type Dispatcher struct {
	store    Store
	notifier notify.Notifier
	config   Config
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a dispatcher.
func New(store Store, notifier notify.Notifier, config Config, logger *slog.Logger) *Dispatcher {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	return &Dispatcher{
		store:    store,
		notifier: notifier,
		config:   config,
		logger:   logger.With("component", "dispatcher"),
		now:      time.Now,
	}
}

// Summary counts the outcomes of one run.
type Summary struct {
	Sent        int
	Unsupported int
	Skipped     int
	Failed      int
}

// DispatchPending handles every unprocessed trigger. Only a failure to list
// triggers is returned; per-trigger problems are logged and counted.
func (d *Dispatcher) DispatchPending(ctx context.Context) (Summary, error) {
	var sum Summary

	triggers, err := d.store.ListUnprocessedTriggers(ctx, d.config.BatchSize)
	if err != nil {
		return sum, fmt.Errorf("listing unprocessed triggers: %w", err)
	}

	for _, t := range triggers {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		result := d.dispatch(ctx, t)
		metrics.ObserveNotification(result)
		switch result {
		case resultSent:
			sum.Sent++
		case resultUnsupported:
			sum.Unsupported++
		case resultSkipped:
			sum.Skipped++
		default:
			sum.Failed++
		}
	}

	if len(triggers) > 0 {
		d.logger.Info("triggers dispatched",
			"pending", len(triggers),
			"sent", sum.Sent,
			"skipped", sum.Skipped,
			"failed", sum.Failed,
		)
	}
	return sum, nil
}

const (
	resultSent        = "sent"
	resultUnsupported = "unsupported"
	resultSkipped     = "skipped"
	resultFailed      = "failed"
)

func (d *Dispatcher) dispatch(ctx context.Context, t types.AlarmTrigger) string {
	log := d.logger.With("trigger_id", t.ID, "configuration_id", t.AlarmConfigurationID)

	cfg, err := d.store.GetAlarmConfiguration(ctx, t.AlarmConfigurationID)
	if err != nil {
		log.Error("failed to load alarm configuration", "error", err)
		return resultFailed
	}
	if cfg == nil {
		log.Warn("alarm configuration not found, leaving trigger unprocessed")
		return resultSkipped
	}

	user, err := d.store.GetUser(ctx, cfg.UserID)
	if err != nil {
		log.Error("failed to load user", "user_id", cfg.UserID, "error", err)
		return resultFailed
	}
	if user == nil {
		log.Warn("user not found, leaving trigger unprocessed", "user_id", cfg.UserID)
		return resultSkipped
	}

	result := resultSent
	switch cfg.Configuration.NotificationMethod {
	case types.NotifyEmail, "":
		msg := Render(t, cfg, user, d.now())
		msg.From = d.config.From
		if err := d.notifier.Send(ctx, msg); err != nil {
			log.Error("failed to send notification", "to", user.Email, "error", err)
			return resultFailed
		}
	default:
		// Nothing can deliver it; marking it keeps it from being retried forever.
		log.Warn("unsupported notification method", "method", cfg.Configuration.NotificationMethod)
		result = resultUnsupported
	}

	if err := d.store.MarkTriggerProcessed(ctx, t.ID); err != nil {
		// Sent but not marked: the next run sends it again.
		log.Error("failed to mark trigger processed", "error", err)
		return resultFailed
	}
	return result
}
