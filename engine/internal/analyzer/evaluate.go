package analyzer

import (
	"context"
	"errors"
	"fmt"

	"github.com/montanaflynn/stats"

	"github.com/pilot-net/hamon/engine/internal/metricstore"
	"github.com/pilot-net/hamon/engine/internal/query"
	"github.com/pilot-net/hamon/pkg/types"
)

var (
	ErrUnknownFamily       = errors.New("unknown metric family")
	ErrUnknownComparator   = errors.New("unknown comparator")
	ErrUnknownStatFunction = errors.New("unknown stat function")
	ErrMissingThreshold    = errors.New("numeric alarm has no threshold")
)

// Outcome is the result of evaluating one configuration.
type Outcome struct {
	Triggered bool

	// Skipped is set when there were fewer rows than the configured
	// datapoint count. The state must not change.
	Skipped bool

	// Value is the reduced numeric value, when one was computed.
	Value *float64

	Rows int
}

// Evaluate runs the family evaluator for cfg.
func (a *Analyzer) Evaluate(ctx context.Context, cfg types.AlarmConfiguration) (Outcome, error) {
	entry, err := types.LookupAlarmType(cfg.Type)
	if err != nil {
		return Outcome{}, err
	}

	switch entry.Family {
	case types.FamilyNumeric:
		return a.evaluateNumeric(ctx, cfg, entry)
	case types.FamilyPing:
		if entry.Presence == nil {
			return a.evaluateNumeric(ctx, cfg, entry)
		}
		return a.evaluatePresence(ctx, cfg, entry)
	case types.FamilyLog:
		return a.evaluateLog(ctx, cfg, entry)
	case types.FamilyAge, types.FamilyExistence:
		// Not implemented: these families never trigger.
		return Outcome{}, nil
	default:
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownFamily, entry.Family)
	}
}

func (a *Analyzer) evaluateNumeric(ctx context.Context, cfg types.AlarmConfiguration, entry types.CatalogEntry) (Outcome, error) {
	th := cfg.Configuration.Threshold
	if th == nil {
		return Outcome{}, ErrMissingThreshold
	}

	rows, err := a.run(ctx, a.selectFor(cfg, entry, query.ProjectionRaw).OrderByTimeDesc())
	if err != nil {
		return Outcome{}, err
	}

	values := make([]float64, 0, len(rows))
	for _, r := range rows {
		if r.DoubleValue != nil {
			values = append(values, *r.DoubleValue)
		}
	}
	if len(values) < minDatapoints(cfg) {
		return Outcome{Skipped: true, Rows: len(values)}, nil
	}

	v := values[0]
	if len(values) > 1 {
		v, err = Reduce(values, th.StatFunction)
		if err != nil {
			return Outcome{}, err
		}
	}

	triggered, err := Compare(v, th.Comparator, th.Value)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Triggered: triggered, Value: &v, Rows: len(values)}, nil
}

// evaluatePresence triggers when any record matches the presence condition.
func (a *Analyzer) evaluatePresence(ctx context.Context, cfg types.AlarmConfiguration, entry types.CatalogEntry) (Outcome, error) {
	b := a.selectFor(cfg, entry, query.ProjectionGroupedCount).
		AndCondition(entry.Presence.Name, entry.Presence.Value)
	rows, err := a.run(ctx, b)
	if err != nil {
		return Outcome{}, err
	}

	var count float64
	for _, r := range rows {
		if r.DoubleValue != nil {
			count += *r.DoubleValue
		}
	}
	return Outcome{Triggered: len(rows) > 0 && count > 0, Value: &count, Rows: len(rows)}, nil
}

// evaluateLog triggers when at least datapointCount matching hashes exist.
func (a *Analyzer) evaluateLog(ctx context.Context, cfg types.AlarmConfiguration, entry types.CatalogEntry) (Outcome, error) {
	rows, err := a.run(ctx, a.selectFor(cfg, entry, query.ProjectionRaw).OrderByTimeDesc())
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Triggered: len(rows) >= minDatapoints(cfg), Rows: len(rows)}, nil
}

// selectFor starts the query for cfg with its metric, scope and window.
func (a *Analyzer) selectFor(cfg types.AlarmConfiguration, entry types.CatalogEntry, p query.Projection) *query.Builder {
	b := query.SelectFrom(a.config.Table, p).WhereInstallationID(cfg.InstallationID)

	s := cfg.Configuration
	switch entry.Scope {
	case types.ScopeAddons:
		b.ConstrainToAddons(s.AddonSlugs())
	case types.ScopeZigbee:
		b.ConstrainToZigbeeDevices(s.ZigbeeIEEEs())
	case types.ScopeScripts:
		b.ConstrainToScripts(types.EntityIDs(s.Scripts))
	case types.ScopeScenes:
		b.ConstrainToScenes(types.EntityIDs(s.Scenes))
	case types.ScopeAutomations:
		b.ConstrainToAutomations(types.EntityIDs(s.Automations))
	case types.ScopeStorages:
		b.ConstrainToStorages(s.StorageNames())
	case types.ScopeLogConfiguration:
		b.ConstrainToLogConfiguration(cfg.ID)
	}

	if entry.Prefix {
		b.WhereMetricNamePrefix(entry.MetricName)
	} else {
		b.WhereMetricName(entry.MetricName)
	}

	return b.BetweenTime(a.config.Lookback).Limit(s.DatapointCount)
}

func (a *Analyzer) run(ctx context.Context, b *query.Builder) ([]metricstore.Row, error) {
	q, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	rows, err := a.metrics.QueryMetrics(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying metrics: %w", err)
	}
	return rows, nil
}

// minDatapoints is the configured datapoint count, or 1 when unset.
func minDatapoints(cfg types.AlarmConfiguration) int {
	if n := cfg.Configuration.DatapointCount; n > 0 {
		return n
	}
	return 1
}

// Reduce applies fn to values. An empty fn averages.
func Reduce(values []float64, fn types.StatFunction) (float64, error) {
	data := stats.Float64Data(values)
	switch fn {
	case types.StatAvg, "":
		return stats.Mean(data)
	case types.StatMin:
		return stats.Min(data)
	case types.StatMax:
		return stats.Max(data)
	case types.StatMedian:
		return stats.Median(data)
	case types.StatP90:
		return stats.Percentile(data, 90)
	case types.StatSum:
		return stats.Sum(data)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStatFunction, fn)
	}
}

// Compare applies the comparator as "value <op> threshold".
func Compare(value float64, c types.Comparator, threshold float64) (bool, error) {
	switch c {
	case types.ComparatorGT:
		return value > threshold, nil
	case types.ComparatorLT:
		return value < threshold, nil
	case types.ComparatorGTE:
		return value >= threshold, nil
	case types.ComparatorLTE:
		return value <= threshold, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownComparator, c)
	}
}
