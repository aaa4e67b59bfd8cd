// Package testutil provides loggers and fixtures for engine tests.
//
// Fixtures use functional overrides:
//
//	cfg := testutil.FixtureAlarmConfiguration(func(c *types.AlarmConfiguration) {
//		c.Type = types.AlarmAddonCPUUsage
//		c.Configuration.Addons = []types.AddonRef{{Slug: "core_mosquitto"}}
//	})
package testutil

import (
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pilot-net/hamon/pkg/types"
)

// NewTestLogger returns a logger that discards all output.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// FixtureInstallation creates a verified installation.
func FixtureInstallation(overrides ...func(*types.Installation)) *types.Installation {
	inst := &types.Installation{
		ID:          uuid.New().String(),
		OwnerID:     uuid.New().String(),
		Name:        "home-" + uuid.New().String()[:8],
		InstanceURL: "https://home.example.com",
		Verified:    true,
		CreatedAt:   time.Now(),
	}
	for _, override := range overrides {
		override(inst)
	}
	return inst
}

// FixtureUser creates a user.
func FixtureUser(overrides ...func(*types.User)) *types.User {
	u := &types.User{
		ID:    uuid.New().String(),
		Email: "owner@example.com",
		Name:  "Owner",
	}
	for _, override := range overrides {
		override(u)
	}
	return u
}

// FixtureAlarmConfiguration creates an enabled host CPU alarm in NO_DATA
// with a "gt 80 avg over 3 datapoints" threshold.
func FixtureAlarmConfiguration(overrides ...func(*types.AlarmConfiguration)) *types.AlarmConfiguration {
	created := time.Now().Add(-24 * time.Hour)
	cfg := &types.AlarmConfiguration{
		ID:             uuid.New().String(),
		Type:           types.AlarmHostCPUUsage,
		Category:       types.CategoryCore,
		UserID:         uuid.New().String(),
		InstallationID: uuid.New().String(),
		Name:           "High CPU",
		Enabled:        true,
		CreatedAt:      created,
		State:          types.StateNoData,
		StateChangedAt: created,
		Configuration: types.AlarmSettings{
			Threshold: &types.Threshold{
				Comparator:   types.ComparatorGT,
				Value:        80,
				StatFunction: types.StatAvg,
			},
			DatapointCount:     3,
			NotificationMethod: types.NotifyEmail,
		},
	}
	for _, override := range overrides {
		override(cfg)
	}
	if e, err := types.LookupAlarmType(cfg.Type); err == nil {
		cfg.Category = e.Category
	}
	return cfg
}

// FixtureLogAlarm creates an enabled log alarm matching lines containing text.
func FixtureLogAlarm(text string, overrides ...func(*types.AlarmConfiguration)) *types.AlarmConfiguration {
	return FixtureAlarmConfiguration(append([]func(*types.AlarmConfiguration){
		func(c *types.AlarmConfiguration) {
			c.Type = types.AlarmLogTextMatch
			c.Name = "Log match"
			c.Configuration = types.AlarmSettings{
				TextCondition:      &types.TextCondition{Matcher: types.MatchContains, Text: text},
				DatapointCount:     1,
				NotificationMethod: types.NotifyEmail,
			}
		},
	}, overrides...)...)
}

// FixtureTrigger creates an unprocessed NO_DATA to IN_ALARM trigger.
func FixtureTrigger(overrides ...func(*types.AlarmTrigger)) *types.AlarmTrigger {
	now := time.Now()
	t := &types.AlarmTrigger{
		ID:                   uuid.New().String(),
		InstallationID:       uuid.New().String(),
		AlarmConfigurationID: uuid.New().String(),
		TriggeredAt:          now,
		State:                types.StateInAlarm,
		PreviousState:        types.StateNoData,
		PreviousStateSince:   now.Add(-time.Hour),
	}
	for _, override := range overrides {
		override(t)
	}
	return t
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Time returns a pointer to t.
func Time(t time.Time) *time.Time {
	return &t
}
