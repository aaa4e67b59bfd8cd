package analyzer

import (
	"context"
	"sync"
	"time"

	"github.com/pilot-net/hamon/pkg/types"
)

type mockStore struct {
	mu       sync.Mutex
	configs  map[string]*types.AlarmConfiguration
	order    []string
	triggers []*types.AlarmTrigger

	listErr       error
	transitionErr error
	updates       int
	conflicts     int
}

func newMockStore(configs ...*types.AlarmConfiguration) *mockStore {
	m := &mockStore{configs: map[string]*types.AlarmConfiguration{}}
	for _, c := range configs {
		m.configs[c.ID] = c
		m.order = append(m.order, c.ID)
	}
	return m
}

func (m *mockStore) ListAlarmConfigurations(_ context.Context, installationID string) ([]types.AlarmConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []types.AlarmConfiguration
	for _, id := range m.order {
		if c := m.configs[id]; c.InstallationID == installationID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockStore) TransitionAlarmState(_ context.Context, id string, from, to types.AlarmState, changedAt time.Time, t *types.AlarmTrigger) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transitionErr != nil {
		return false, m.transitionErr
	}
	c := m.configs[id]
	if c.State != from {
		m.conflicts++
		return false, nil
	}
	m.updates++
	c.State = to
	c.StateChangedAt = changedAt
	if t != nil {
		m.triggers = append(m.triggers, t)
	}
	return true, nil
}

func (m *mockStore) state(id string) types.AlarmState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configs[id].State
}
