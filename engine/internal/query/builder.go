// Package query builds range queries over metric records.
//
// # Design
//
// The builder produces a Query value, not SQL. User-supplied values (ids,
// dimension values, metric names) are only ever carried as data and are
// rendered as bind parameters by the dialect renderers in render.go, so a
// metric name like "x' OR '1'='1" is matched literally. Table and dimension
// names are identifiers and must pass an allow-list.
//
// Example:
//
//	q, err := query.SelectFrom("metrics", query.ProjectionRaw).
//		WhereInstallationID(id).
//		ConstrainToAddons([]string{"core_mosquitto"}).
//		WhereMetricName("addon_cpu_usage").
//		BetweenTime(8 * time.Hour).
//		OrderByTimeDesc().
//		Limit(3).
//		Build()
package query

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/pilot-net/hamon/pkg/types"
)

// DefaultLimit is applied when Limit is not called or called with n <= 0.
const DefaultLimit = 10

var identRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// IsSafeIdentifier reports whether value may be used as a table or
// dimension name.
func IsSafeIdentifier(value string) bool {
	return identRegex.MatchString(value)
}

var (
	ErrMissingInstallation = errors.New("query: installation id is required")
	ErrMissingMetric       = errors.New("query: metric name is required")
	ErrUnsafeIdentifier    = errors.New("query: unsafe identifier")
)

// Projection selects the shape of result rows.
type Projection int

const (
	// ProjectionRaw returns one row per record with its value as both
	// double_value and text_value.
	ProjectionRaw Projection = iota

	// ProjectionGroupedCount returns one row per measure name with the record
	// count as double_value and an empty text_value.
	ProjectionGroupedCount
)

func (p Projection) String() string {
	if p == ProjectionGroupedCount {
		return "grouped_count"
	}
	return "raw"
}

// DimensionFilter restricts a dimension to a set of values.
type DimensionFilter struct {
	Name   string
	Values []string
}

// Query is a built, validated range query.
type Query struct {
	Table          string
	Projection     Projection
	InstallationID string

	// MetricName is matched exactly, or as a prefix when MetricPrefix is set.
	MetricName   string
	MetricPrefix bool

	Filters    []DimensionFilter
	Conditions []types.Dimension

	// Window bounds the query to records newer than now minus Window.
	// Zero means unbounded.
	Window time.Duration

	// OrderByTimeDesc is only honored for ProjectionRaw.
	OrderByTimeDesc bool

	Limit int
}

// Builder constructs a Query fluently. Methods may be chained; errors are
// reported by Build.
type Builder struct {
	q   Query
	err error
}

// SelectFrom starts a query against table.
func SelectFrom(table string, projection Projection) *Builder {
	b := &Builder{q: Query{Table: table, Projection: projection}}
	if !IsSafeIdentifier(table) {
		b.err = fmt.Errorf("%w: table %q", ErrUnsafeIdentifier, table)
	}
	return b
}

// WhereInstallationID restricts the query to one installation.
func (b *Builder) WhereInstallationID(id string) *Builder {
	b.q.InstallationID = id
	return b
}

// WhereMetricName matches the measure name exactly.
func (b *Builder) WhereMetricName(name string) *Builder {
	b.q.MetricName = name
	b.q.MetricPrefix = false
	return b
}

// WhereMetricNamePrefix matches measure names starting with prefix.
func (b *Builder) WhereMetricNamePrefix(prefix string) *Builder {
	b.q.MetricName = prefix
	b.q.MetricPrefix = true
	return b
}

// ConstrainTo restricts dimension to values. An empty list adds nothing.
func (b *Builder) ConstrainTo(dimension string, values []string) *Builder {
	if len(values) == 0 {
		return b
	}
	if !IsSafeIdentifier(dimension) && b.err == nil {
		b.err = fmt.Errorf("%w: dimension %q", ErrUnsafeIdentifier, dimension)
	}
	b.q.Filters = append(b.q.Filters, DimensionFilter{
		Name:   dimension,
		Values: append([]string(nil), values...),
	})
	return b
}

// ConstrainToAddons restricts the query to addon slugs.
func (b *Builder) ConstrainToAddons(slugs []string) *Builder {
	return b.ConstrainTo(types.DimAddonSlug, slugs)
}

// ConstrainToZigbeeDevices restricts the query to zigbee device addresses.
func (b *Builder) ConstrainToZigbeeDevices(ieees []string) *Builder {
	return b.ConstrainTo(types.DimIEEE, ieees)
}

// ConstrainToScripts restricts the query to script ids.
func (b *Builder) ConstrainToScripts(ids []string) *Builder {
	return b.ConstrainTo(types.DimScriptID, ids)
}

// ConstrainToScenes restricts the query to scene ids.
func (b *Builder) ConstrainToScenes(ids []string) *Builder {
	return b.ConstrainTo(types.DimSceneID, ids)
}

// ConstrainToAutomations restricts the query to automation ids.
func (b *Builder) ConstrainToAutomations(ids []string) *Builder {
	return b.ConstrainTo(types.DimAutomationID, ids)
}

// ConstrainToStorages restricts the query to storage names.
func (b *Builder) ConstrainToStorages(names []string) *Builder {
	return b.ConstrainTo(types.DimStorageName, names)
}

// ConstrainToLogConfiguration restricts the query to records produced for
// one log alarm configuration.
func (b *Builder) ConstrainToLogConfiguration(configurationID string) *Builder {
	if configurationID == "" {
		return b
	}
	return b.ConstrainTo(types.DimConfigurationID, []string{configurationID})
}

// AndCondition requires dimension to equal value.
func (b *Builder) AndCondition(dimension, value string) *Builder {
	if !IsSafeIdentifier(dimension) && b.err == nil {
		b.err = fmt.Errorf("%w: dimension %q", ErrUnsafeIdentifier, dimension)
	}
	b.q.Conditions = append(b.q.Conditions, types.Dimension{Name: dimension, Value: value})
	return b
}

// BetweenTime bounds the query to the trailing window.
func (b *Builder) BetweenTime(window time.Duration) *Builder {
	b.q.Window = window
	return b
}

// OrderByTimeDesc orders raw rows newest first. Ignored for grouped counts.
func (b *Builder) OrderByTimeDesc() *Builder {
	b.q.OrderByTimeDesc = true
	return b
}

// Limit caps the number of rows. n <= 0 selects DefaultLimit.
func (b *Builder) Limit(n int) *Builder {
	if n <= 0 {
		n = DefaultLimit
	}
	b.q.Limit = n
	return b
}

// Build validates and returns the query.
func (b *Builder) Build() (*Query, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.q.InstallationID == "" {
		return nil, ErrMissingInstallation
	}
	if b.q.MetricName == "" {
		return nil, ErrMissingMetric
	}

	q := b.q
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Projection != ProjectionRaw {
		q.OrderByTimeDesc = false
	}
	return &q, nil
}
