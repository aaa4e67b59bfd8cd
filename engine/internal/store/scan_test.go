package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilot-net/hamon/pkg/types"
)

// fakeRow assigns values positionally, like a pgx.Row would.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *bool:
			*p = r.values[i].(bool)
		case *time.Time:
			*p = r.values[i].(time.Time)
		case *[]byte:
			*p = r.values[i].([]byte)
		case *types.AlarmType:
			*p = types.AlarmType(r.values[i].(string))
		case *types.Category:
			*p = types.Category(r.values[i].(string))
		case *types.AlarmState:
			*p = types.AlarmState(r.values[i].(string))
		default:
			panic("unsupported scan target")
		}
	}
	return nil
}

func TestScanAlarm_DecodesConfiguration(t *testing.T) {
	body := []byte(`{
		"threshold": {"comparator": "gt", "value": 80, "statFunction": "p90"},
		"addons": [{"slug": "core_mosquitto"}],
		"datapointCount": 5,
		"notificationMethod": "email"
	}`)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	row := fakeRow{values: []any{
		"cfg-1", "addon_cpu_usage", "ADDON", "user-1", "inst-1", "Mosquitto CPU", true,
		created, "OK", created, body,
	}}

	cfg, err := scanAlarm(row)
	require.NoError(t, err)

	assert.Equal(t, types.AlarmAddonCPUUsage, cfg.Type)
	assert.Equal(t, types.StateOK, cfg.State)
	require.NotNil(t, cfg.Configuration.Threshold)
	assert.Equal(t, types.StatP90, cfg.Configuration.Threshold.StatFunction)
	assert.Equal(t, []string{"core_mosquitto"}, cfg.Configuration.AddonSlugs())
	assert.Equal(t, 5, cfg.Configuration.DatapointCount)
}

func TestScanAlarm_BadJSON(t *testing.T) {
	row := fakeRow{values: []any{
		"cfg-1", "host_cpu_usage", "CORE", "user-1", "inst-1", "CPU", true,
		time.Now(), "OK", time.Now(), []byte(`{not json`),
	}}
	_, err := scanAlarm(row)
	assert.Error(t, err)
}

func TestScanInstallation_DecodesHistory(t *testing.T) {
	var statuses []types.HealthStatus
	for i := 0; i < 3; i++ {
		statuses = append(statuses, types.HealthStatus{Healthy: i%2 == 0, ResponseTimeMilliseconds: int64(100 + i)})
	}
	history, err := json.Marshal(statuses)
	require.NoError(t, err)

	row := fakeRow{values: []any{"inst-1", "user-1", "home", "https://ha.example", true, history, time.Now()}}
	inst, err := scanInstallation(row)
	require.NoError(t, err)

	assert.Equal(t, 3, inst.HealthHistory.Len())
	latest, ok := inst.HealthHistory.Latest()
	require.True(t, ok)
	assert.Equal(t, int64(102), latest.ResponseTimeMilliseconds)
}
