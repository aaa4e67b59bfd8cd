// Package analyzer evaluates alarm configurations against stored metrics
// and drives the alarm state machine.
//
// # State Machine
//
//	NO_DATA ──(not triggered)──► OK       no trigger row
//	NO_DATA ──(triggered)──────► IN_ALARM trigger row
//	OK ──────(triggered)───────► IN_ALARM trigger row
//	IN_ALARM ─(not triggered)──► OK       trigger row
//
// NO_DATA is only the initial state. A skipped evaluation (too few
// datapoints) never changes state.
//
// A transition is a compare-and-set on the stored state, committed together
// with its trigger row. When several evaluations of one configuration race,
// only the first one applies; the others write nothing.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pilot-net/hamon/engine/internal/metrics"
	"github.com/pilot-net/hamon/engine/internal/metricstore"
	"github.com/pilot-net/hamon/pkg/types"
)

// Store defines the storage interface for the analyzer.
type Store interface {
	// ListAlarmConfigurations returns every configuration of the installation.
	ListAlarmConfigurations(ctx context.Context, installationID string) ([]types.AlarmConfiguration, error)

	// TransitionAlarmState moves a configuration from one state to another
	// and persists trigger, when not nil, atomically with the change. It
	// reports false and writes nothing when the stored state is no longer
	// from, which happens when another evaluation got there first.
	TransitionAlarmState(ctx context.Context, configurationID string, from, to types.AlarmState, changedAt time.Time, trigger *types.AlarmTrigger) (bool, error)
}

// Config holds analyzer settings.
type Config struct {
	// Lookback is the query window for every evaluation.
	Lookback time.Duration

	// Table is the metric table name.
	Table string
}

// DefaultConfig returns the default analyzer settings.
func DefaultConfig() Config {
	return Config{
		Lookback: 8 * time.Hour,
		Table:    metricstore.Table,
	}
}

// Analyzer evaluates alarm configurations.
type Analyzer struct {
	store   Store
	metrics metricstore.Reader
	config  Config
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an analyzer.
func New(store Store, reader metricstore.Reader, config Config, logger *slog.Logger) *Analyzer {
	if config.Lookback <= 0 {
		config.Lookback = DefaultConfig().Lookback
	}
	if config.Table == "" {
		config.Table = metricstore.Table
	}
	return &Analyzer{
		store:   store,
		metrics: reader,
		config:  config,
		logger:  logger.With("component", "analyzer"),
		now:     time.Now,
	}
}

// Summary counts the outcomes of one installation run.
type Summary struct {
	Evaluated   int
	Skipped     int
	Transitions int
	Triggers    int
	Failed      int
}

// AnalyzeInstallation evaluates every enabled configuration of an
// installation. A failing configuration is logged and counted; it does not
// stop the others. The error is only set when configurations cannot be listed.
func (a *Analyzer) AnalyzeInstallation(ctx context.Context, installationID string) (Summary, error) {
	var sum Summary

	configs, err := a.store.ListAlarmConfigurations(ctx, installationID)
	if err != nil {
		return sum, fmt.Errorf("listing alarm configurations: %w", err)
	}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		changed, triggered, skipped, err := a.process(ctx, cfg)
		switch {
		case err != nil:
			sum.Failed++
			a.logger.Error("alarm evaluation failed",
				"installation_id", installationID,
				"configuration_id", cfg.ID,
				"type", cfg.Type,
				"error", err,
			)
		case skipped:
			sum.Skipped++
		default:
			sum.Evaluated++
		}
		if changed {
			sum.Transitions++
		}
		if triggered {
			sum.Triggers++
		}
	}

	a.logger.Debug("installation analyzed",
		"installation_id", installationID,
		"evaluated", sum.Evaluated,
		"skipped", sum.Skipped,
		"transitions", sum.Transitions,
		"failed", sum.Failed,
	)
	return sum, nil
}

// process evaluates one configuration and applies the state change.
func (a *Analyzer) process(ctx context.Context, cfg types.AlarmConfiguration) (changed, wroteTrigger, skipped bool, err error) {
	entry, err := types.LookupAlarmType(cfg.Type)
	if err != nil {
		metrics.ObserveEvaluation("unknown", "error")
		return false, false, false, err
	}
	family := string(entry.Family)

	outcome, err := a.Evaluate(ctx, cfg)
	if err != nil {
		metrics.ObserveEvaluation(family, "error")
		return false, false, false, err
	}
	if outcome.Skipped {
		metrics.ObserveEvaluation(family, "skipped")
		return false, false, true, nil
	}
	if outcome.Triggered {
		metrics.ObserveEvaluation(family, "triggered")
	} else {
		metrics.ObserveEvaluation(family, "ok")
	}

	next, changed := NextState(cfg.State, outcome.Triggered)
	if !changed {
		return false, false, false, nil
	}

	now := a.now()
	var trigger *types.AlarmTrigger
	if NeedsTrigger(cfg.State, next) {
		trigger = &types.AlarmTrigger{
			ID:                   uuid.New().String(),
			InstallationID:       cfg.InstallationID,
			AlarmConfigurationID: cfg.ID,
			TriggeredAt:          now,
			State:                next,
			PreviousState:        cfg.State,
			PreviousStateSince:   cfg.StateChangedAt,
		}
	}

	applied, err := a.store.TransitionAlarmState(ctx, cfg.ID, cfg.State, next, now, trigger)
	if err != nil {
		return false, false, false, fmt.Errorf("applying state change: %w", err)
	}
	if !applied {
		a.logger.Debug("alarm state already changed",
			"installation_id", cfg.InstallationID,
			"configuration_id", cfg.ID,
			"from", cfg.State,
			"to", next,
		)
		return false, false, false, nil
	}
	if trigger != nil {
		metrics.ObserveTrigger(string(next))
	}
	metrics.ObserveTransition(string(cfg.State), string(next))

	a.logger.Info("alarm state changed",
		"installation_id", cfg.InstallationID,
		"configuration_id", cfg.ID,
		"from", cfg.State,
		"to", next,
		"rows", outcome.Rows,
	)
	return true, trigger != nil, false, nil
}

// NextState returns the state after an evaluation and whether it differs
// from current.
func NextState(current types.AlarmState, triggered bool) (types.AlarmState, bool) {
	switch {
	case current == types.StateNoData,
		current == types.StateInAlarm && !triggered,
		current == types.StateOK && triggered:
		if triggered {
			return types.StateInAlarm, true
		}
		return types.StateOK, true
	case current != types.StateOK && current != types.StateInAlarm:
		// Unrecognized stored state: treat like NO_DATA.
		if triggered {
			return types.StateInAlarm, true
		}
		return types.StateOK, true
	default:
		return current, false
	}
}

// NeedsTrigger reports whether a transition is recorded as a trigger. Every
// transition except NO_DATA to OK is.
func NeedsTrigger(from, to types.AlarmState) bool {
	return !(from == types.StateNoData && to == types.StateOK)
}
