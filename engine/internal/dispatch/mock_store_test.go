package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/pilot-net/hamon/engine/internal/notify"
	"github.com/pilot-net/hamon/pkg/types"
)

// mockStore serves the analyzer, the collector and the dispatcher.
type mockStore struct {
	mu       sync.Mutex
	configs  map[string]*types.AlarmConfiguration
	users    map[string]*types.User
	triggers []*types.AlarmTrigger

	configErr error
	markErr   error
	marked    []string
}

func newMockStore() *mockStore {
	return &mockStore{
		configs: map[string]*types.AlarmConfiguration{},
		users:   map[string]*types.User{},
	}
}

func (m *mockStore) addConfig(c *types.AlarmConfiguration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[c.ID] = c
}

func (m *mockStore) addUser(u *types.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *mockStore) addTrigger(t *types.AlarmTrigger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers = append(m.triggers, t)
}

func (m *mockStore) ListAlarmConfigurations(_ context.Context, installationID string) ([]types.AlarmConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.AlarmConfiguration
	for _, c := range m.configs {
		if c.InstallationID == installationID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockStore) TransitionAlarmState(_ context.Context, id string, from, to types.AlarmState, changedAt time.Time, t *types.AlarmTrigger) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.configs[id]
	if c.State != from {
		return false, nil
	}
	c.State = to
	c.StateChangedAt = changedAt
	if t != nil {
		m.triggers = append(m.triggers, t)
	}
	return true, nil
}

func (m *mockStore) ListUnprocessedTriggers(_ context.Context, limit int) ([]types.AlarmTrigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.AlarmTrigger
	for _, t := range m.triggers {
		if !t.Processed && len(out) < limit {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockStore) GetAlarmConfiguration(_ context.Context, id string) (*types.AlarmConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.configErr != nil {
		return nil, m.configErr
	}
	c, ok := m.configs[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *mockStore) GetUser(_ context.Context, id string) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *mockStore) MarkTriggerProcessed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	for _, t := range m.triggers {
		if t.ID == id {
			t.Processed = true
		}
	}
	m.marked = append(m.marked, id)
	return nil
}

func (m *mockStore) unprocessed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.triggers {
		if !t.Processed {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (r *recordingNotifier) Send(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}
