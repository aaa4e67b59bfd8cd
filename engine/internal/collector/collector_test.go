package collector

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilot-net/hamon/engine/internal/metricstore"
	"github.com/pilot-net/hamon/engine/internal/testutil"
	"github.com/pilot-net/hamon/pkg/types"
)

type staticConfigs struct {
	configs []types.AlarmConfiguration
	err     error
}

func (s staticConfigs) ListAlarmConfigurations(context.Context, string) ([]types.AlarmConfiguration, error) {
	return s.configs, s.err
}

var ts = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func alarm(t types.AlarmType, overrides ...func(*types.AlarmConfiguration)) types.AlarmConfiguration {
	return *testutil.FixtureAlarmConfiguration(append([]func(*types.AlarmConfiguration){
		func(c *types.AlarmConfiguration) { c.Type = t },
	}, overrides...)...)
}

func byName(records []types.MetricRecord) map[string][]types.MetricRecord {
	out := map[string][]types.MetricRecord{}
	for _, r := range records {
		out[r.MeasureName] = append(out[r.MeasureName], r)
	}
	return out
}

func TestObservationRecords_OnlyConfiguredSignals(t *testing.T) {
	obs := &types.Observation{
		HAVersion: "2024.1.0",
		Host: types.HostStats{
			CPUPercent: testutil.Float(42.5),
			Memory:     &types.MemoryStats{Total: 1000, Free: 250},
			Network:    &types.NetworkStats{RxBytesPerSecond: 10, TxBytesPerSecond: 20},
		},
		Core: &types.CoreStats{CPUPercent: 3, MemoryPercent: 4},
	}
	configs := []types.AlarmConfiguration{
		alarm(types.AlarmHostCPUUsage),
		alarm(types.AlarmHostMemoryUsage),
		alarm(types.AlarmHAVersion),
		alarm(types.AlarmCoreCPUUsage, func(c *types.AlarmConfiguration) { c.Enabled = false }),
	}

	got := byName(ObservationRecords("inst-1", obs, ts, configs, testutil.NewTestLogger()))

	require.Len(t, got, 3)
	assert.Equal(t, "42.50", got["host_cpu_usage"][0].MeasureValue)
	assert.Equal(t, "25", got["host_memory_usage"][0].MeasureValue)
	assert.Equal(t, "202410", got["ha_version"][0].MeasureValue)
	assert.Equal(t, ts.UnixMilli(), got["host_cpu_usage"][0].TimestampMillis)
	assert.NotContains(t, got, "core_cpu_usage")
	assert.NotContains(t, got, "host_network_in")
}

func TestObservationRecords_NoConfigsNoRecords(t *testing.T) {
	obs := &types.Observation{Host: types.HostStats{CPUPercent: testutil.Float(10)}}
	assert.Empty(t, ObservationRecords("inst-1", obs, ts, nil, testutil.NewTestLogger()))
}

func TestObservationRecords_DiskDedupAndScope(t *testing.T) {
	obs := &types.Observation{
		Host: types.HostStats{
			Storages: []types.StorageStats{
				{Name: "data", TotalBytes: 200, UsedBytes: 50},
				{Name: "data", TotalBytes: 200, UsedBytes: 199},
				{Name: "boot", TotalBytes: 100, UsedBytes: 10},
				{Name: "", TotalBytes: 100, UsedBytes: 10},
			},
		},
	}

	t.Run("empty scope records every storage", func(t *testing.T) {
		records := ObservationRecords("inst-1", obs, ts, []types.AlarmConfiguration{alarm(types.AlarmHostDiskUsage)}, testutil.NewTestLogger())
		require.Len(t, records, 2)
		name, _ := records[0].Dimension(types.DimStorageName)
		assert.Equal(t, "data", name)
		assert.Equal(t, "25.00", records[0].MeasureValue)
	})

	t.Run("scoped", func(t *testing.T) {
		cfg := alarm(types.AlarmHostDiskUsage, func(c *types.AlarmConfiguration) {
			c.Configuration.Storages = []types.StorageRef{{Name: "boot"}}
		})
		records := ObservationRecords("inst-1", obs, ts, []types.AlarmConfiguration{cfg}, testutil.NewTestLogger())
		require.Len(t, records, 1)
		name, _ := records[0].Dimension(types.DimStorageName)
		assert.Equal(t, "boot", name)
	})
}

func TestObservationRecords_ScopedEntities(t *testing.T) {
	seen := ts.Add(-time.Hour)
	obs := &types.Observation{
		ZigbeeDevices: []types.ZigbeeDevice{
			{IEEE: "00:11", LinkQuality: testutil.Float(120), LastSeen: &seen},
			{IEEE: "00:22", LinkQuality: testutil.Float(30)},
			{IEEE: "", LinkQuality: testutil.Float(1)},
		},
		Scripts: []types.Script{
			{UniqueID: "s1", LastTriggered: &seen},
			{UniqueID: "s2"},
		},
		Automations: []types.Automation{{ID: "a1", LastTriggered: &seen}},
	}
	configs := []types.AlarmConfiguration{
		alarm(types.AlarmZigbeeLinkQuality, func(c *types.AlarmConfiguration) {
			c.Configuration.ZigbeeDevices = []types.ZigbeeRef{{IEEE: "00:22"}}
		}),
		alarm(types.AlarmScriptLastTriggered, func(c *types.AlarmConfiguration) {
			c.Configuration.Scripts = []types.EntityRef{{ID: "s1"}, {ID: "s2"}}
		}),
		alarm(types.AlarmAutomationLastTriggered),
	}

	got := byName(ObservationRecords("inst-1", obs, ts, configs, testutil.NewTestLogger()))

	require.Len(t, got["zigbee_link_quality"], 1)
	ieee, _ := got["zigbee_link_quality"][0].Dimension(types.DimIEEE)
	assert.Equal(t, "00:22", ieee)

	require.Len(t, got["script_last_triggered"], 1)
	assert.Equal(t, "1772362800", got["script_last_triggered"][0].MeasureValue)

	assert.NotContains(t, got, "automation_last_triggered")
	assert.NotContains(t, got, "zigbee_last_seen")
}

func TestAddonRecords(t *testing.T) {
	list := &types.AddonList{Addons: []types.Addon{
		{Slug: "a", State: "started", CPUPercent: testutil.Float(1.234), MemoryPercent: testutil.Float(5)},
		{Slug: "b", State: "stopped", CPUPercent: testutil.Float(2)},
		{Slug: "a", CPUPercent: testutil.Float(99)},
	}}
	configs := []types.AlarmConfiguration{
		alarm(types.AlarmAddonCPUUsage, func(c *types.AlarmConfiguration) {
			c.Configuration.Addons = []types.AddonRef{{Slug: "a"}, {Slug: "b"}}
		}),
		alarm(types.AlarmAddonRunning, func(c *types.AlarmConfiguration) {
			c.Configuration.Addons = []types.AddonRef{{Slug: "b"}}
		}),
	}

	got := byName(AddonRecords("inst-1", list, ts, configs))

	require.Len(t, got["addon_cpu_usage"], 2)
	assert.Equal(t, "1.23", got["addon_cpu_usage"][0].MeasureValue)
	assert.NotContains(t, got, "addon_memory_usage")
	require.Len(t, got["addon_running"], 1)
	assert.Equal(t, "0", got["addon_running"][0].MeasureValue)
}

func TestLogRecords_HashesOnly(t *testing.T) {
	cfg := *testutil.FixtureLogAlarm("error")
	update := &types.LogUpdate{Content: strings.Join([]string{
		"2026-03-01 INFO started",
		"2026-03-01 ERROR failed to connect",
		"2026-03-01 ERROR failed to connect",
		"",
		"2026-03-01 ERROR timeout",
	}, "\n")}

	records := LogRecords("inst-1", update, ts, []types.AlarmConfiguration{cfg}, testutil.NewTestLogger())
	require.Len(t, records, 2)

	for _, r := range records {
		assert.True(t, strings.HasPrefix(r.MeasureName, types.MetricLogPrefix))
		assert.Equal(t, types.MeasureText, r.MeasureType)
		assert.Equal(t, Fingerprint(cfg), r.MeasureValue)
		assert.NotContains(t, r.MeasureName, "ERROR")
		id, ok := r.Dimension(types.DimConfigurationID)
		assert.True(t, ok)
		assert.Equal(t, cfg.ID, id)
	}
	assert.Equal(t, types.MetricLogPrefix+ContentHash("2026-03-01 ERROR failed to connect"), records[0].MeasureName)
}

func TestLogRecords_InvalidMatcherSkipsConfig(t *testing.T) {
	bad := *testutil.FixtureLogAlarm("x", func(c *types.AlarmConfiguration) {
		c.Configuration.TextCondition.Matcher = "regex"
	})
	good := *testutil.FixtureLogAlarm("x")
	update := &types.LogUpdate{Content: "x marks the spot"}

	records := LogRecords("inst-1", update, ts, []types.AlarmConfiguration{bad, good}, testutil.NewTestLogger())
	require.Len(t, records, 1)
	id, _ := records[0].Dimension(types.DimConfigurationID)
	assert.Equal(t, good.ID, id)
}

func TestPingRecords(t *testing.T) {
	ping := &types.InstallationPing{InstallationID: "inst-1", IsHealthy: false, HasHomeAssistantContent: true, ResponseTimeMilliseconds: 321}

	assert.Empty(t, PingRecords(ping, ts, []types.AlarmConfiguration{alarm(types.AlarmHostCPUUsage)}))

	records := PingRecords(ping, ts, []types.AlarmConfiguration{alarm(types.AlarmFrontendPingUnresponsive)})
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, types.MetricPing, r.MeasureName)
	assert.Equal(t, "321", r.MeasureValue)
	healthy, _ := r.Dimension(types.DimHealthy)
	content, _ := r.Dimension(types.DimHAContent)
	assert.Equal(t, "false", healthy)
	assert.Equal(t, "true", content)
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("2024.1.0")
	require.NoError(t, err)
	assert.Equal(t, int64(202410), v)

	_, err = ParseVersion("2024.1.0b3")
	assert.Error(t, err)
}

func TestCollector_WritesOneBatch(t *testing.T) {
	store := metricstore.NewMemoryStore(nil)
	c := New(staticConfigs{configs: []types.AlarmConfiguration{alarm(types.AlarmHostCPUUsage), alarm(types.AlarmHAVersion)}},
		store, testutil.NewTestLogger())

	n, err := c.CollectObservation(context.Background(), "inst-1", &types.Observation{
		Timestamp: ts,
		HAVersion: "2025.2.1",
		Host:      types.HostStats{CPUPercent: testutil.Float(12)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, store.Len())
}

func TestCollector_ConfigurationError(t *testing.T) {
	store := metricstore.NewMemoryStore(nil)
	c := New(staticConfigs{err: errors.New("db down")}, store, testutil.NewTestLogger())

	_, err := c.CollectPing(context.Background(), &types.InstallationPing{InstallationID: "inst-1"})
	require.Error(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestCollector_ZeroTimestampUsesNow(t *testing.T) {
	store := metricstore.NewMemoryStore(nil)
	c := New(staticConfigs{configs: []types.AlarmConfiguration{alarm(types.AlarmFrontendPingLatency)}}, store, testutil.NewTestLogger())
	c.now = func() time.Time { return ts }

	_, err := c.CollectPing(context.Background(), &types.InstallationPing{InstallationID: "inst-1", IsHealthy: true})
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())
	assert.Equal(t, ts.UnixMilli(), store.Records()[0].TimestampMillis)
}

func TestCollector_PingWriterBypassesBuffer(t *testing.T) {
	buffered := metricstore.NewMemoryStore(nil)
	direct := metricstore.NewMemoryStore(nil)
	configs := staticConfigs{configs: []types.AlarmConfiguration{
		alarm(types.AlarmFrontendPingLatency),
		alarm(types.AlarmHostCPUUsage),
	}}
	base := New(configs, buffered, testutil.NewTestLogger())
	c := base.WithPingWriter(direct)
	ctx := context.Background()

	_, err := c.CollectPing(ctx, &types.InstallationPing{InstallationID: "inst-1", IsHealthy: true, StartTimestamp: ts})
	require.NoError(t, err)
	_, err = c.CollectObservation(ctx, "inst-1", &types.Observation{Timestamp: ts, Host: types.HostStats{CPUPercent: testutil.Float(12)}})
	require.NoError(t, err)

	require.Equal(t, 1, direct.Len())
	assert.Equal(t, types.MetricPing, direct.Records()[0].MeasureName)
	require.Equal(t, 1, buffered.Len())
	assert.Equal(t, "host_cpu_usage", buffered.Records()[0].MeasureName)

	// The original keeps writing pings to its own writer.
	_, err = base.CollectPing(ctx, &types.InstallationPing{InstallationID: "inst-1", StartTimestamp: ts})
	require.NoError(t, err)
	assert.Equal(t, 2, buffered.Len())
}
