// Package types holds the domain types shared by the engine components.
//
// # Metric Records
//
// A MetricRecord is a single time-series data point produced by the
// collector from installation telemetry. Records are append-only and are
// never mutated after they are written.
//
// Numeric measures carry their value in decimal string form so that the
// record shape is identical across backends; text measures carry an opaque
// value (for example the fingerprint of the configuration that matched a
// log line).
package types

import (
	"strconv"
	"time"
)

// MeasureType distinguishes numeric and text measures.
type MeasureType string

const (
	MeasureNumeric MeasureType = "numeric"
	MeasureText    MeasureType = "text"
)

// Dimension names attached to metric records.
const (
	DimAddonSlug       = "addon_slug"
	DimIEEE            = "ieee"
	DimHealthy         = "healthy"
	DimHAContent       = "haContent"
	DimStorageName     = "storage_name"
	DimScriptID        = "script_id"
	DimSceneID         = "scene_id"
	DimAutomationID    = "automation_id"
	DimConfigurationID = "configuration_id"
)

// Dimension is a name/value tag on a metric record.
type Dimension struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// MetricRecord is one time-series data point.
type MetricRecord struct {
	InstallationID  string      `json:"installation_id"`
	MeasureName     string      `json:"measure_name"`
	MeasureValue    string      `json:"measure_value"`
	MeasureType     MeasureType `json:"measure_type"`
	TimestampMillis int64       `json:"timestamp_ms"`
	Dimensions      []Dimension `json:"dimensions,omitempty"`
}

// Time returns the record timestamp.
func (r MetricRecord) Time() time.Time {
	return time.UnixMilli(r.TimestampMillis).UTC()
}

// Dimension returns the value of the named dimension and whether it is set.
func (r MetricRecord) Dimension(name string) (string, bool) {
	for _, d := range r.Dimensions {
		if d.Name == name {
			return d.Value, true
		}
	}
	return "", false
}

// NumericValue parses the measure value. ok is false for text measures or
// values that do not parse.
func (r MetricRecord) NumericValue() (v float64, ok bool) {
	if r.MeasureType != MeasureNumeric {
		return 0, false
	}
	v, err := strconv.ParseFloat(r.MeasureValue, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// NewNumericRecord builds a numeric record, formatting value with the given
// number of decimals.
func NewNumericRecord(installationID, name string, value float64, decimals int, ts time.Time, dims ...Dimension) MetricRecord {
	return MetricRecord{
		InstallationID:  installationID,
		MeasureName:     name,
		MeasureValue:    strconv.FormatFloat(value, 'f', decimals, 64),
		MeasureType:     MeasureNumeric,
		TimestampMillis: ts.UnixMilli(),
		Dimensions:      dims,
	}
}

// NewTextRecord builds a text record.
func NewTextRecord(installationID, name, value string, ts time.Time, dims ...Dimension) MetricRecord {
	return MetricRecord{
		InstallationID:  installationID,
		MeasureName:     name,
		MeasureValue:    value,
		MeasureType:     MeasureText,
		TimestampMillis: ts.UnixMilli(),
		Dimensions:      dims,
	}
}
