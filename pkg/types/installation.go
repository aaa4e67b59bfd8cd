package types

import (
	"encoding/json"
	"slices"
	"time"
)

// HealthHistoryCapacity is the number of health checks retained per installation.
const HealthHistoryCapacity = 10

// Installation is a monitored Home Assistant instance.
type Installation struct {
	ID            string        `json:"id"`
	OwnerID       string        `json:"owner_id"`
	Name          string        `json:"name"`
	InstanceURL   string        `json:"instance_url"`
	Verified      bool          `json:"verified"`
	HealthHistory HealthHistory `json:"health_history"`
	CreatedAt     time.Time     `json:"created_at"`
}

// HealthStatus is the outcome of one health check.
type HealthStatus struct {
	CheckedAt                time.Time `json:"checked_at"`
	Healthy                  bool      `json:"healthy"`
	HasHomeAssistantContent  bool      `json:"has_ha_content"`
	ResponseTimeMilliseconds int64     `json:"response_time_ms"`
}

// HealthHistory is a fixed-capacity ring of health statuses. When full,
// appending evicts the oldest entry. Copies are independent: Append never
// writes into storage another copy can see.
type HealthHistory struct {
	entries []HealthStatus
	start   int
}

// NewHealthHistory builds a history from statuses ordered oldest first,
// keeping only the newest HealthHistoryCapacity entries.
func NewHealthHistory(statuses ...HealthStatus) HealthHistory {
	var h HealthHistory
	for _, s := range statuses {
		h.Append(s)
	}
	return h
}

// Append adds a status, evicting the oldest when full.
func (h *HealthHistory) Append(s HealthStatus) {
	if len(h.entries) < HealthHistoryCapacity {
		h.entries = append(slices.Clip(h.entries), s)
		return
	}
	h.entries = slices.Clone(h.entries)
	h.entries[h.start] = s
	h.start = (h.start + 1) % HealthHistoryCapacity
}

// Len returns the number of retained statuses.
func (h HealthHistory) Len() int {
	return len(h.entries)
}

// Entries returns the statuses ordered oldest first.
func (h HealthHistory) Entries() []HealthStatus {
	out := make([]HealthStatus, 0, len(h.entries))
	out = append(out, h.entries[h.start:]...)
	out = append(out, h.entries[:h.start]...)
	return out
}

// Latest returns the most recent status.
func (h HealthHistory) Latest() (HealthStatus, bool) {
	if len(h.entries) == 0 {
		return HealthStatus{}, false
	}
	idx := (h.start + len(h.entries) - 1) % len(h.entries)
	return h.entries[idx], true
}

// MarshalJSON encodes the history as an array ordered oldest first.
func (h HealthHistory) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Entries())
}

// UnmarshalJSON decodes an array of statuses ordered oldest first.
func (h *HealthHistory) UnmarshalJSON(data []byte) error {
	var statuses []HealthStatus
	if err := json.Unmarshal(data, &statuses); err != nil {
		return err
	}
	*h = NewHealthHistory(statuses...)
	return nil
}

// User is the owner of alarm configurations and the notification recipient.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// InstallationPing is the ephemeral result of one frontend health probe.
type InstallationPing struct {
	InstallationID           string    `json:"installation_id"`
	IsHealthy                bool      `json:"is_healthy"`
	HasHomeAssistantContent  bool      `json:"has_ha_content"`
	ResponseTimeMilliseconds int64     `json:"response_time_ms"`
	StartTimestamp           time.Time `json:"start_timestamp"`
}

// Status converts the ping into a health history entry.
func (p InstallationPing) Status() HealthStatus {
	return HealthStatus{
		CheckedAt:                p.StartTimestamp,
		Healthy:                  p.IsHealthy,
		HasHomeAssistantContent:  p.HasHomeAssistantContent,
		ResponseTimeMilliseconds: p.ResponseTimeMilliseconds,
	}
}
