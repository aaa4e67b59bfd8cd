package analyzer

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pilot-net/hamon/engine/internal/metricstore"
	"github.com/pilot-net/hamon/engine/internal/query"
	"github.com/pilot-net/hamon/engine/internal/testutil"
	"github.com/pilot-net/hamon/pkg/types"
)

const installationID = "inst-1"

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	store    *mockStore
	metrics  *metricstore.MemoryStore
	analyzer *Analyzer
}

func newHarness(configs ...*types.AlarmConfiguration) *harness {
	h := &harness{
		store:   newMockStore(configs...),
		metrics: metricstore.NewMemoryStore(func() time.Time { return now }),
	}
	h.analyzer = New(h.store, h.metrics, DefaultConfig(), testutil.NewTestLogger())
	h.analyzer.now = func() time.Time { return now }
	return h
}

func (h *harness) record(t *testing.T, records ...types.MetricRecord) {
	t.Helper()
	if err := h.metrics.StoreMetrics(context.Background(), records); err != nil {
		t.Fatalf("storing metrics: %v", err)
	}
}

func (h *harness) numeric(t *testing.T, name string, values []float64, dims ...types.Dimension) {
	t.Helper()
	var records []types.MetricRecord
	for i, v := range values {
		at := now.Add(-time.Duration(len(values)-i) * time.Minute)
		records = append(records, types.NewNumericRecord(installationID, name, v, 2, at, dims...))
	}
	h.record(t, records...)
}

func (h *harness) analyze(t *testing.T) Summary {
	t.Helper()
	sum, err := h.analyzer.AnalyzeInstallation(context.Background(), installationID)
	if err != nil {
		t.Fatalf("AnalyzeInstallation failed: %v", err)
	}
	return sum
}

func (h *harness) expectState(t *testing.T, id string, want types.AlarmState) {
	t.Helper()
	if got := h.store.state(id); got != want {
		t.Errorf("state of %s: got %s, want %s", id, got, want)
	}
}

func (h *harness) expectTriggers(t *testing.T, want int) {
	t.Helper()
	if got := len(h.store.triggers); got != want {
		t.Fatalf("triggers written: got %d, want %d", got, want)
	}
}

func cpuAlarm(overrides ...func(*types.AlarmConfiguration)) *types.AlarmConfiguration {
	return testutil.FixtureAlarmConfiguration(append([]func(*types.AlarmConfiguration){
		func(c *types.AlarmConfiguration) { c.InstallationID = installationID },
	}, overrides...)...)
}

func TestReduce(t *testing.T) {
	hundred := make([]float64, 100)
	for i := range hundred {
		hundred[i] = float64(i + 1)
	}

	tests := []struct {
		fn     types.StatFunction
		values []float64
		want   float64
	}{
		{types.StatAvg, []float64{10, 20, 30}, 20},
		{"", []float64{10, 20, 30}, 20},
		{types.StatMin, []float64{10, 20, 30}, 10},
		{types.StatMax, []float64{10, 20, 30}, 30},
		{types.StatMedian, []float64{30, 10, 20, 40}, 25},
		{types.StatSum, []float64{10, 20, 30}, 60},
		{types.StatP90, hundred, 90},
	}

	for _, tt := range tests {
		t.Run(string(tt.fn), func(t *testing.T) {
			got, err := Reduce(tt.values, tt.fn)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := Reduce([]float64{1, 2}, "p99"); !errors.Is(err, ErrUnknownStatFunction) {
		t.Errorf("expected ErrUnknownStatFunction, got %v", err)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		value     float64
		c         types.Comparator
		threshold float64
		want      bool
	}{
		{20, types.ComparatorGT, 15, true},
		{15, types.ComparatorGT, 15, false},
		{15, types.ComparatorGTE, 15, true},
		{10, types.ComparatorLT, 15, true},
		{15, types.ComparatorLT, 15, false},
		{15, types.ComparatorLTE, 15, true},
	}
	for _, tt := range tests {
		got, err := Compare(tt.value, tt.c, tt.threshold)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != tt.want {
			t.Errorf("%v %s %v: got %v, want %v", tt.value, tt.c, tt.threshold, got, tt.want)
		}
	}

	if _, err := Compare(1, "eq", 1); !errors.Is(err, ErrUnknownComparator) {
		t.Errorf("expected ErrUnknownComparator, got %v", err)
	}
}

func TestNextState(t *testing.T) {
	tests := []struct {
		current   types.AlarmState
		triggered bool
		want      types.AlarmState
		changed   bool
		trigger   bool
	}{
		{types.StateNoData, false, types.StateOK, true, false},
		{types.StateNoData, true, types.StateInAlarm, true, true},
		{types.StateOK, true, types.StateInAlarm, true, true},
		{types.StateOK, false, types.StateOK, false, false},
		{types.StateInAlarm, false, types.StateOK, true, true},
		{types.StateInAlarm, true, types.StateInAlarm, false, false},
	}
	for _, tt := range tests {
		got, changed := NextState(tt.current, tt.triggered)
		if got != tt.want || changed != tt.changed {
			t.Errorf("%s triggered=%v: got (%s, %v), want (%s, %v)",
				tt.current, tt.triggered, got, changed, tt.want, tt.changed)
		}
		if changed && NeedsTrigger(tt.current, got) != tt.trigger {
			t.Errorf("%s -> %s: NeedsTrigger should be %v", tt.current, got, tt.trigger)
		}
	}
}

func TestAnalyze_EndToEndCPUAlarm(t *testing.T) {
	cfg := cpuAlarm()
	h := newHarness(cfg)
	h.numeric(t, "host_cpu_usage", []float64{90, 95, 85})

	sum := h.analyze(t)

	if sum.Evaluated != 1 || sum.Transitions != 1 {
		t.Errorf("summary: got %+v, want 1 evaluated and 1 transition", sum)
	}
	h.expectState(t, cfg.ID, types.StateInAlarm)
	h.expectTriggers(t, 1)

	trig := h.store.triggers[0]
	if trig.State != types.StateInAlarm || trig.PreviousState != types.StateNoData {
		t.Errorf("trigger transition: got %s -> %s", trig.PreviousState, trig.State)
	}
	if trig.AlarmConfigurationID != cfg.ID {
		t.Errorf("trigger configuration: got %s, want %s", trig.AlarmConfigurationID, cfg.ID)
	}
	if trig.InstallationID != installationID {
		t.Errorf("trigger installation: got %s, want %s", trig.InstallationID, installationID)
	}
	if !trig.TriggeredAt.Equal(now) {
		t.Errorf("trigger time: got %v, want %v", trig.TriggeredAt, now)
	}
	if trig.Processed {
		t.Error("new trigger should be unprocessed")
	}
}

func TestAnalyze_NoDataToOKWritesNoTrigger(t *testing.T) {
	cfg := cpuAlarm()
	h := newHarness(cfg)
	h.numeric(t, "host_cpu_usage", []float64{10, 20, 30})

	h.analyze(t)

	h.expectState(t, cfg.ID, types.StateOK)
	h.expectTriggers(t, 0)
	if h.store.updates != 1 {
		t.Errorf("state updates: got %d, want 1", h.store.updates)
	}
}

func TestAnalyze_InAlarmStableIsIdempotent(t *testing.T) {
	cfg := cpuAlarm(func(c *types.AlarmConfiguration) { c.State = types.StateInAlarm })
	h := newHarness(cfg)
	h.numeric(t, "host_cpu_usage", []float64{90, 95, 85})

	sum := h.analyze(t)

	if sum.Transitions != 0 {
		t.Errorf("transitions: got %d, want 0", sum.Transitions)
	}
	h.expectTriggers(t, 0)
	if h.store.updates != 0 {
		t.Errorf("state updates: got %d, want 0", h.store.updates)
	}
}

func TestAnalyze_ClearWritesTrigger(t *testing.T) {
	since := now.Add(-90 * time.Minute)
	cfg := cpuAlarm(func(c *types.AlarmConfiguration) {
		c.State = types.StateInAlarm
		c.StateChangedAt = since
	})
	h := newHarness(cfg)
	h.numeric(t, "host_cpu_usage", []float64{20, 25, 30})

	h.analyze(t)

	h.expectState(t, cfg.ID, types.StateOK)
	h.expectTriggers(t, 1)
	if !h.store.triggers[0].Cleared() {
		t.Error("expected a cleared trigger")
	}
	if !h.store.triggers[0].PreviousStateSince.Equal(since) {
		t.Errorf("previous state since: got %v, want %v", h.store.triggers[0].PreviousStateSince, since)
	}
}

func TestAnalyze_InsufficientDatapointsSkips(t *testing.T) {
	cfg := cpuAlarm()
	h := newHarness(cfg)
	h.numeric(t, "host_cpu_usage", []float64{90, 95})

	sum := h.analyze(t)

	if sum.Skipped != 1 {
		t.Errorf("skipped: got %d, want 1", sum.Skipped)
	}
	h.expectState(t, cfg.ID, types.StateNoData)
	h.expectTriggers(t, 0)
}

func TestAnalyze_OldDataOutsideLookback(t *testing.T) {
	cfg := cpuAlarm()
	h := newHarness(cfg)
	var records []types.MetricRecord
	for _, v := range []float64{90, 95, 85} {
		records = append(records, types.NewNumericRecord(installationID, "host_cpu_usage", v, 2, now.Add(-9*time.Hour)))
	}
	h.record(t, records...)

	if sum := h.analyze(t); sum.Skipped != 1 {
		t.Errorf("skipped: got %d, want 1", sum.Skipped)
	}
}

func TestAnalyze_UsesNewestDatapoints(t *testing.T) {
	cfg := cpuAlarm()
	h := newHarness(cfg)
	h.numeric(t, "host_cpu_usage", []float64{99, 99, 99, 10, 10, 10})

	h.analyze(t)

	h.expectState(t, cfg.ID, types.StateOK)
}

func TestAnalyze_AddonScope(t *testing.T) {
	cfg := cpuAlarm(func(c *types.AlarmConfiguration) {
		c.Type = types.AlarmAddonCPUUsage
		c.Configuration.Addons = []types.AddonRef{{Slug: "a"}}
	})
	h := newHarness(cfg)
	h.numeric(t, "addon_cpu_usage", []float64{10, 10, 10}, types.Dimension{Name: types.DimAddonSlug, Value: "a"})
	h.numeric(t, "addon_cpu_usage", []float64{99, 99, 99}, types.Dimension{Name: types.DimAddonSlug, Value: "b"})

	h.analyze(t)

	h.expectState(t, cfg.ID, types.StateOK)
}

func pingRecord(healthy, content bool, at time.Time) types.MetricRecord {
	b := func(v bool) string {
		if v {
			return "true"
		}
		return "false"
	}
	return types.NewNumericRecord(installationID, types.MetricPing, 150, 0, at,
		types.Dimension{Name: types.DimHealthy, Value: b(healthy)},
		types.Dimension{Name: types.DimHAContent, Value: b(content)})
}

func TestAnalyze_PingPresencePolarity(t *testing.T) {
	unresponsive := cpuAlarm(func(c *types.AlarmConfiguration) {
		c.Type = types.AlarmFrontendPingUnresponsive
		c.Configuration = types.AlarmSettings{DatapointCount: 1}
	})
	badContent := cpuAlarm(func(c *types.AlarmConfiguration) {
		c.Type = types.AlarmFrontendBadContent
		c.Configuration = types.AlarmSettings{DatapointCount: 1}
	})
	h := newHarness(unresponsive, badContent)
	h.record(t,
		pingRecord(true, true, now.Add(-3*time.Minute)),
		pingRecord(false, true, now.Add(-2*time.Minute)),
	)

	h.analyze(t)

	h.expectState(t, unresponsive.ID, types.StateInAlarm)
	h.expectState(t, badContent.ID, types.StateOK)
	h.expectTriggers(t, 1)
	if h.store.triggers[0].AlarmConfigurationID != unresponsive.ID {
		t.Errorf("trigger should belong to the unresponsive alarm, got %s", h.store.triggers[0].AlarmConfigurationID)
	}
}

func TestAnalyze_PingLatencyIsNumeric(t *testing.T) {
	cfg := cpuAlarm(func(c *types.AlarmConfiguration) {
		c.Type = types.AlarmFrontendPingLatency
		c.Configuration.Threshold = &types.Threshold{Comparator: types.ComparatorGTE, Value: 150, StatFunction: types.StatMin}
		c.Configuration.DatapointCount = 2
	})
	h := newHarness(cfg)
	h.record(t,
		pingRecord(true, true, now.Add(-2*time.Minute)),
		pingRecord(true, true, now.Add(-1*time.Minute)),
	)

	h.analyze(t)

	h.expectState(t, cfg.ID, types.StateInAlarm)
}

func TestAnalyze_LogDatapointThreshold(t *testing.T) {
	cfg := testutil.FixtureLogAlarm("error", func(c *types.AlarmConfiguration) {
		c.InstallationID = installationID
		c.Configuration.DatapointCount = 2
	})
	h := newHarness(cfg)
	dim := types.Dimension{Name: types.DimConfigurationID, Value: cfg.ID}
	other := types.Dimension{Name: types.DimConfigurationID, Value: "someone-else"}
	h.record(t,
		types.NewTextRecord(installationID, "logs-aaa", "fp", now.Add(-time.Minute), dim),
		types.NewTextRecord(installationID, "logs-bbb", "fp", now.Add(-time.Minute), other),
	)

	h.analyze(t)
	h.expectState(t, cfg.ID, types.StateOK)

	h.record(t, types.NewTextRecord(installationID, "logs-ccc", "fp", now.Add(-30*time.Second), dim))

	h.analyze(t)
	h.expectState(t, cfg.ID, types.StateInAlarm)
	h.expectTriggers(t, 1)
}

func TestAnalyze_AgeAndExistenceNeverTrigger(t *testing.T) {
	lastSeen := cpuAlarm(func(c *types.AlarmConfiguration) {
		c.Type = types.AlarmZigbeeLastSeen
		c.Configuration.ZigbeeDevices = []types.ZigbeeRef{{IEEE: "00:11"}}
	})
	running := cpuAlarm(func(c *types.AlarmConfiguration) {
		c.Type = types.AlarmAddonRunning
		c.State = types.StateInAlarm
	})
	h := newHarness(lastSeen, running)

	h.analyze(t)

	h.expectState(t, lastSeen.ID, types.StateOK)
	h.expectState(t, running.ID, types.StateOK)
	h.expectTriggers(t, 1)
	if h.store.triggers[0].AlarmConfigurationID != running.ID {
		t.Errorf("trigger should belong to the addon alarm, got %s", h.store.triggers[0].AlarmConfigurationID)
	}
}

func TestAnalyze_FailureIsContained(t *testing.T) {
	bad := cpuAlarm(func(c *types.AlarmConfiguration) { c.Type = "cpu_temperature" })
	noThreshold := cpuAlarm(func(c *types.AlarmConfiguration) { c.Configuration.Threshold = nil })
	good := cpuAlarm()
	h := newHarness(bad, noThreshold, good)
	h.numeric(t, "host_cpu_usage", []float64{90, 95, 85})

	sum := h.analyze(t)

	if sum.Failed != 2 || sum.Evaluated != 1 {
		t.Errorf("summary: got %+v, want 2 failed and 1 evaluated", sum)
	}
	h.expectState(t, bad.ID, types.StateNoData)
	h.expectState(t, good.ID, types.StateInAlarm)
}

func TestAnalyze_DisabledConfigurationIgnored(t *testing.T) {
	cfg := cpuAlarm(func(c *types.AlarmConfiguration) { c.Enabled = false })
	h := newHarness(cfg)
	h.numeric(t, "host_cpu_usage", []float64{90, 95, 85})

	if sum := h.analyze(t); sum != (Summary{}) {
		t.Errorf("summary: got %+v, want zero", sum)
	}
	h.expectState(t, cfg.ID, types.StateNoData)
}

func TestAnalyze_TransitionFailureKeepsState(t *testing.T) {
	cfg := cpuAlarm()
	h := newHarness(cfg)
	h.store.transitionErr = errors.New("insert failed")
	h.numeric(t, "host_cpu_usage", []float64{90, 95, 85})

	if sum := h.analyze(t); sum.Failed != 1 {
		t.Errorf("failed: got %d, want 1", sum.Failed)
	}
	h.expectState(t, cfg.ID, types.StateNoData)
	h.expectTriggers(t, 0)
	if h.store.updates != 0 {
		t.Errorf("state updates: got %d, want 0", h.store.updates)
	}
}

// barrierReader holds each query until every party has issued one, so all
// evaluations have read the same stored state before any of them writes.
type barrierReader struct {
	metricstore.Reader
	arrived *sync.WaitGroup
}

func (r barrierReader) QueryMetrics(ctx context.Context, q *query.Query) ([]metricstore.Row, error) {
	r.arrived.Done()
	r.arrived.Wait()
	return r.Reader.QueryMetrics(ctx, q)
}

func TestAnalyze_ConcurrentEvaluationsWriteOneTrigger(t *testing.T) {
	const parties = 2

	cfg := cpuAlarm()
	h := newHarness(cfg)
	h.numeric(t, "host_cpu_usage", []float64{90, 95, 85})

	var arrived sync.WaitGroup
	arrived.Add(parties)
	an := New(h.store, barrierReader{Reader: h.metrics, arrived: &arrived}, DefaultConfig(), testutil.NewTestLogger())
	an.now = func() time.Time { return now }

	var wg sync.WaitGroup
	sums := make([]Summary, parties)
	errs := make([]error, parties)
	for i := range parties {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sums[i], errs[i] = an.AnalyzeInstallation(context.Background(), installationID)
		}()
	}
	wg.Wait()

	transitions := 0
	for i := range parties {
		if errs[i] != nil {
			t.Fatalf("evaluation %d failed: %v", i, errs[i])
		}
		transitions += sums[i].Transitions
	}
	if transitions != 1 {
		t.Errorf("transitions: got %d, want 1", transitions)
	}
	h.expectState(t, cfg.ID, types.StateInAlarm)
	h.expectTriggers(t, 1)
	if h.store.triggers[0].PreviousState != types.StateNoData {
		t.Errorf("previous state: got %s, want %s", h.store.triggers[0].PreviousState, types.StateNoData)
	}
	if h.store.updates != 1 || h.store.conflicts != 1 {
		t.Errorf("got %d updates and %d conflicts, want 1 and 1", h.store.updates, h.store.conflicts)
	}
}

// staleLister serves a fixed configuration list, as a stale cache would.
type staleLister struct {
	*mockStore
	listed []types.AlarmConfiguration
}

func (s staleLister) ListAlarmConfigurations(context.Context, string) ([]types.AlarmConfiguration, error) {
	return s.listed, nil
}

func TestAnalyze_StaleStateWritesNothing(t *testing.T) {
	cfg := cpuAlarm()
	listed := *cfg
	h := newHarness(cfg)
	h.numeric(t, "host_cpu_usage", []float64{90, 95, 85})

	// The stored state moved on while the listed copy still says NO_DATA.
	cfg.State = types.StateInAlarm
	h.analyzer.store = staleLister{mockStore: h.store, listed: []types.AlarmConfiguration{listed}}

	sum := h.analyze(t)

	if sum.Transitions != 0 || sum.Triggers != 0 {
		t.Errorf("summary: got %+v, want no transitions or triggers", sum)
	}
	h.expectTriggers(t, 0)
	if h.store.conflicts != 1 {
		t.Errorf("conflicts: got %d, want 1", h.store.conflicts)
	}
	h.expectState(t, cfg.ID, types.StateInAlarm)
}

func TestAnalyze_ListFailure(t *testing.T) {
	h := newHarness()
	h.store.listErr = errors.New("db down")

	if _, err := h.analyzer.AnalyzeInstallation(context.Background(), installationID); err == nil {
		t.Error("expected an error when configurations cannot be listed")
	}
}

func TestEvaluate_UnknownTypeFailsClosed(t *testing.T) {
	h := newHarness()
	_, err := h.analyzer.Evaluate(context.Background(), types.AlarmConfiguration{Type: "nope", InstallationID: installationID})
	if !errors.Is(err, types.ErrUnknownAlarmType) {
		t.Errorf("expected ErrUnknownAlarmType, got %v", err)
	}
}
