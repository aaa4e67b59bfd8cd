package query

import (
	"fmt"
	"strings"
)

// Dialect selects the SQL flavor a Query is rendered in.
type Dialect int

const (
	// Postgres renders for TimescaleDB with $n placeholders and a JSONB
	// dimensions column.
	Postgres Dialect = iota

	// ClickHouse renders with ? placeholders and a Map(String, String)
	// dimensions column.
	ClickHouse
)

type renderer struct {
	dialect Dialect
	args    []any
}

func (r *renderer) bind(v any) string {
	r.args = append(r.args, v)
	if r.dialect == ClickHouse {
		return "?"
	}
	return fmt.Sprintf("$%d", len(r.args))
}

// SQL renders q. Every value comes back as a bind argument; only the
// allow-listed table name is written into the statement.
func (q *Query) SQL(d Dialect) (string, []any) {
	r := &renderer{dialect: d}
	var sb strings.Builder

	sb.WriteString("SELECT ")
	switch {
	case q.Projection == ProjectionGroupedCount && d == ClickHouse:
		sb.WriteString("max(time) AS last_time, toFloat64(count()) AS double_value, '' AS text_value")
	case q.Projection == ProjectionGroupedCount:
		sb.WriteString("MAX(time) AS time, COUNT(*)::double precision AS double_value, '' AS text_value")
	case d == ClickHouse:
		sb.WriteString("time, if(measure_type = 'numeric', toFloat64OrNull(measure_value), NULL) AS double_value, measure_value AS text_value")
	default:
		sb.WriteString("time, CASE WHEN measure_type = 'numeric' THEN measure_value::double precision END AS double_value, measure_value AS text_value")
	}

	sb.WriteString(" FROM ")
	sb.WriteString(q.Table)

	where := []string{"installation_id = " + r.bind(q.InstallationID)}

	switch {
	case q.MetricPrefix && d == ClickHouse:
		where = append(where, "startsWith(measure_name, "+r.bind(q.MetricName)+")")
	case q.MetricPrefix:
		where = append(where, "starts_with(measure_name, "+r.bind(q.MetricName)+")")
	default:
		where = append(where, "measure_name = "+r.bind(q.MetricName))
	}

	for _, f := range q.Filters {
		if d == ClickHouse {
			values := r.bind(f.Values)
			where = append(where, fmt.Sprintf("has(%s, dimensions[%s])", values, r.bind(f.Name)))
			continue
		}
		name := r.bind(f.Name)
		where = append(where, fmt.Sprintf("dimensions->>%s::text = ANY(%s)", name, r.bind(f.Values)))
	}

	for _, c := range q.Conditions {
		if d == ClickHouse {
			name := r.bind(c.Name)
			where = append(where, fmt.Sprintf("dimensions[%s] = %s", name, r.bind(c.Value)))
			continue
		}
		name := r.bind(c.Name)
		where = append(where, fmt.Sprintf("dimensions->>%s::text = %s", name, r.bind(c.Value)))
	}

	if q.Window > 0 {
		if d == ClickHouse {
			where = append(where, "time > now64(3) - toIntervalMillisecond("+r.bind(q.Window.Milliseconds())+")")
		} else {
			where = append(where, "time > NOW() - make_interval(secs => "+r.bind(q.Window.Seconds())+")")
		}
	}

	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(where, " AND "))

	if q.Projection == ProjectionGroupedCount {
		sb.WriteString(" GROUP BY measure_name")
	} else if q.OrderByTimeDesc {
		sb.WriteString(" ORDER BY time DESC")
	}

	sb.WriteString(" LIMIT ")
	sb.WriteString(r.bind(q.Limit))

	return sb.String(), r.args
}
