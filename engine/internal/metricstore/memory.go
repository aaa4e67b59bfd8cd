package metricstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pilot-net/hamon/engine/internal/query"
	"github.com/pilot-net/hamon/pkg/types"
)

// ErrInvalidRecord is returned when a batch contains a record without an
// installation id or measure name. No record of such a batch is stored.
var ErrInvalidRecord = errors.New("invalid metric record")

// MemoryStore keeps metric records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records []types.MetricRecord
	now     func() time.Time
}

// NewMemoryStore creates an empty store. A nil now uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now}
}

// StoreMetrics appends records atomically.
func (s *MemoryStore) StoreMetrics(_ context.Context, records []types.MetricRecord) error {
	if len(records) == 0 {
		return nil
	}
	for i, r := range records {
		if r.InstallationID == "" || r.MeasureName == "" {
			return fmt.Errorf("%w: record %d", ErrInvalidRecord, i)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Records returns a copy of the stored records in insertion order.
func (s *MemoryStore) Records() []types.MetricRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records)
}

// QueryMetrics evaluates q over the stored records.
func (s *MemoryStore) QueryMetrics(_ context.Context, q *query.Query) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var since time.Time
	if q.Window > 0 {
		since = s.now().Add(-q.Window)
	}

	var matched []types.MetricRecord
	for _, r := range s.records {
		if matches(r, q, since) {
			matched = append(matched, r)
		}
	}

	if q.Projection == query.ProjectionGroupedCount {
		return groupCount(matched, q.Limit), nil
	}

	if q.OrderByTimeDesc {
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].TimestampMillis > matched[j].TimestampMillis
		})
	}
	if len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	rows := make([]Row, 0, len(matched))
	for _, r := range matched {
		row := Row{Time: r.Time(), TextValue: r.MeasureValue}
		if v, ok := r.NumericValue(); ok {
			row.DoubleValue = &v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func matches(r types.MetricRecord, q *query.Query, since time.Time) bool {
	if r.InstallationID != q.InstallationID {
		return false
	}
	if q.MetricPrefix {
		if !strings.HasPrefix(r.MeasureName, q.MetricName) {
			return false
		}
	} else if r.MeasureName != q.MetricName {
		return false
	}
	if !since.IsZero() && !r.Time().After(since) {
		return false
	}
	for _, f := range q.Filters {
		v, ok := r.Dimension(f.Name)
		if !ok || !slices.Contains(f.Values, v) {
			return false
		}
	}
	for _, c := range q.Conditions {
		if v, ok := r.Dimension(c.Name); !ok || v != c.Value {
			return false
		}
	}
	return true
}

func groupCount(records []types.MetricRecord, limit int) []Row {
	type group struct {
		last  time.Time
		count int
	}
	groups := map[string]*group{}
	var names []string
	for _, r := range records {
		g, ok := groups[r.MeasureName]
		if !ok {
			g = &group{}
			groups[r.MeasureName] = g
			names = append(names, r.MeasureName)
		}
		g.count++
		if t := r.Time(); t.After(g.last) {
			g.last = t
		}
	}
	sort.Strings(names)
	if len(names) > limit {
		names = names[:limit]
	}

	rows := make([]Row, 0, len(names))
	for _, name := range names {
		g := groups[name]
		count := float64(g.count)
		rows = append(rows, Row{Time: g.last, DoubleValue: &count})
	}
	return rows
}
