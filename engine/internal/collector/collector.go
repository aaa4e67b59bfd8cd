// Package collector converts installation telemetry into metric records.
//
// Only signals referenced by at least one enabled alarm configuration are
// recorded: an installation without a ZIGBEE alarm produces no zigbee
// records, and an addon alarm scoped to "core_mosquitto" produces records
// for that addon only.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pilot-net/hamon/engine/internal/metrics"
	"github.com/pilot-net/hamon/engine/internal/metricstore"
	"github.com/pilot-net/hamon/pkg/types"
)

// ConfigurationSource lists the alarm configurations of an installation.
type ConfigurationSource interface {
	ListAlarmConfigurations(ctx context.Context, installationID string) ([]types.AlarmConfiguration, error)
}

// Collector derives and writes metric records.
type Collector struct {
	configs ConfigurationSource
	metrics metricstore.Writer
	pings   metricstore.Writer
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a collector.
func New(configs ConfigurationSource, w metricstore.Writer, logger *slog.Logger) *Collector {
	return &Collector{
		configs: configs,
		metrics: w,
		pings:   w,
		logger:  logger.With("component", "collector"),
		now:     time.Now,
	}
}

// WithPingWriter returns a copy of the collector whose CollectPing writes to
// w. With a write buffer in front of the metric store, pings go straight to
// the store the analyzer reads, since the health job analyzes right after
// collecting them.
func (c *Collector) WithPingWriter(w metricstore.Writer) *Collector {
	cp := *c
	cp.pings = w
	return &cp
}

// CollectObservation records host, core, zigbee, automation, script and
// scene signals from an observation. It returns the number of records written.
func (c *Collector) CollectObservation(ctx context.Context, installationID string, obs *types.Observation) (int, error) {
	configs, err := c.load(ctx, installationID)
	if err != nil {
		return 0, err
	}
	ts := c.timestamp(obs.Timestamp)
	records := ObservationRecords(installationID, obs, ts, configs, c.logger)
	return c.write(ctx, c.metrics, "observation", records)
}

// CollectAddons records addon signals.
func (c *Collector) CollectAddons(ctx context.Context, installationID string, list *types.AddonList) (int, error) {
	configs, err := c.load(ctx, installationID)
	if err != nil {
		return 0, err
	}
	records := AddonRecords(installationID, list, c.timestamp(list.Timestamp), configs)
	return c.write(ctx, c.metrics, "addons", records)
}

// CollectLogs records the hashes of log lines matching a LOGS alarm.
func (c *Collector) CollectLogs(ctx context.Context, installationID string, update *types.LogUpdate) (int, error) {
	configs, err := c.load(ctx, installationID)
	if err != nil {
		return 0, err
	}
	records := LogRecords(installationID, update, c.timestamp(update.Timestamp), configs, c.logger)
	return c.write(ctx, c.metrics, "logs", records)
}

// CollectPing records a frontend probe when the installation has a PING alarm.
func (c *Collector) CollectPing(ctx context.Context, ping *types.InstallationPing) (int, error) {
	configs, err := c.load(ctx, ping.InstallationID)
	if err != nil {
		return 0, err
	}
	records := PingRecords(ping, c.timestamp(ping.StartTimestamp), configs)
	return c.write(ctx, c.pings, "ping", records)
}

func (c *Collector) load(ctx context.Context, installationID string) ([]types.AlarmConfiguration, error) {
	configs, err := c.configs.ListAlarmConfigurations(ctx, installationID)
	if err != nil {
		return nil, fmt.Errorf("loading alarm configurations: %w", err)
	}
	return configs, nil
}

func (c *Collector) write(ctx context.Context, w metricstore.Writer, kind string, records []types.MetricRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := w.StoreMetrics(ctx, records); err != nil {
		return 0, fmt.Errorf("storing %s metrics: %w", kind, err)
	}
	metrics.ObserveRecords(kind, len(records))
	c.logger.Debug("stored metrics", "kind", kind, "count", len(records))
	return len(records), nil
}

func (c *Collector) timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return c.now()
	}
	return t
}
