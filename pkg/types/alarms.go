// Package types - Alarm configuration
//
// # Alarm Configuration
//
// An AlarmConfiguration is owned by a user and scoped to one installation.
// Its Type selects an entry of the alarm catalog (see catalog.go), which in
// turn decides how the configuration is evaluated. The Configuration body
// carries the type-specific parameters:
//
//	{
//	  "threshold": {"comparator": "gt", "value": 80, "statFunction": "avg"},
//	  "datapointCount": 3,
//	  "addons": [{"slug": "core_mosquitto"}],
//	  "notificationMethod": "email"
//	}
//
// Only State and StateChangedAt are mutated by the engine.
package types

import (
	"strings"
	"time"
)

// AlarmState is the evaluation state of an alarm configuration.
type AlarmState string

const (
	StateNoData  AlarmState = "NO_DATA"
	StateOK      AlarmState = "OK"
	StateInAlarm AlarmState = "IN_ALARM"
)

// Label returns a human-readable form of the state.
func (s AlarmState) Label() string {
	switch s {
	case StateNoData:
		return "no data"
	case StateOK:
		return "OK"
	case StateInAlarm:
		return "in alarm"
	default:
		return strings.ToLower(string(s))
	}
}

// Comparator compares an observed value against a threshold.
type Comparator string

const (
	ComparatorGT  Comparator = "gt"
	ComparatorLT  Comparator = "lt"
	ComparatorGTE Comparator = "gte"
	ComparatorLTE Comparator = "lte"
)

// StatFunction reduces a series of values to one.
type StatFunction string

const (
	StatAvg    StatFunction = "avg"
	StatMin    StatFunction = "min"
	StatMax    StatFunction = "max"
	StatMedian StatFunction = "median"
	StatP90    StatFunction = "p90"
	StatSum    StatFunction = "sum"
)

// Matcher selects a text comparison mode.
type Matcher string

const (
	MatchExactly  Matcher = "exactly"
	MatchPrefix   Matcher = "prefix"
	MatchSuffix   Matcher = "suffix"
	MatchContains Matcher = "contains"
)

// NotificationMethod is how a user is notified of triggers.
type NotificationMethod string

const NotifyEmail NotificationMethod = "email"

// Threshold is the numeric rule of an alarm.
type Threshold struct {
	Comparator   Comparator   `json:"comparator"`
	Value        float64      `json:"value"`
	StatFunction StatFunction `json:"statFunction,omitempty"`
}

// TextCondition is the text rule of a log alarm.
type TextCondition struct {
	Matcher       Matcher `json:"matcher"`
	Text          string  `json:"text"`
	CaseSensitive bool    `json:"caseSensitive"`
}

// AddonRef scopes an alarm to an addon.
type AddonRef struct {
	Slug string `json:"slug"`
}

// ZigbeeRef scopes an alarm to a zigbee device.
type ZigbeeRef struct {
	IEEE string `json:"ieee"`
}

// EntityRef scopes an alarm to a script, scene or automation.
type EntityRef struct {
	ID string `json:"id"`
}

// StorageRef scopes an alarm to a host storage.
type StorageRef struct {
	Name string `json:"name"`
}

// AlarmSettings is the type-specific body of an alarm configuration.
type AlarmSettings struct {
	Threshold          *Threshold         `json:"threshold,omitempty"`
	TextCondition      *TextCondition     `json:"textCondition,omitempty"`
	Addons             []AddonRef         `json:"addons,omitempty"`
	ZigbeeDevices      []ZigbeeRef        `json:"zigbeeDevices,omitempty"`
	Scripts            []EntityRef        `json:"scripts,omitempty"`
	Scenes             []EntityRef        `json:"scenes,omitempty"`
	Automations        []EntityRef        `json:"automations,omitempty"`
	Storages           []StorageRef       `json:"storages,omitempty"`
	DatapointCount     int                `json:"datapointCount,omitempty"`
	NotificationMethod NotificationMethod `json:"notificationMethod,omitempty"`
}

// AlarmConfiguration is a user-defined alarm rule for one installation.
type AlarmConfiguration struct {
	ID             string        `json:"id"`
	Type           AlarmType     `json:"type"`
	Category       Category      `json:"category"`
	UserID         string        `json:"user_id"`
	InstallationID string        `json:"installation_id"`
	Name           string        `json:"name"`
	Enabled        bool          `json:"enabled"`
	CreatedAt      time.Time     `json:"created_at"`
	State          AlarmState    `json:"state"`
	StateChangedAt time.Time     `json:"state_changed_at"`
	Configuration  AlarmSettings `json:"configuration"`
}

// AddonSlugs returns the scoped addon slugs.
func (s AlarmSettings) AddonSlugs() []string {
	out := make([]string, 0, len(s.Addons))
	for _, a := range s.Addons {
		out = append(out, a.Slug)
	}
	return out
}

// ZigbeeIEEEs returns the scoped zigbee device addresses.
func (s AlarmSettings) ZigbeeIEEEs() []string {
	out := make([]string, 0, len(s.ZigbeeDevices))
	for _, z := range s.ZigbeeDevices {
		out = append(out, z.IEEE)
	}
	return out
}

// StorageNames returns the scoped storage names.
func (s AlarmSettings) StorageNames() []string {
	out := make([]string, 0, len(s.Storages))
	for _, st := range s.Storages {
		out = append(out, st.Name)
	}
	return out
}

// EntityIDs returns the ids of a script, scene or automation scope list.
func EntityIDs(refs []EntityRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.ID)
	}
	return out
}
