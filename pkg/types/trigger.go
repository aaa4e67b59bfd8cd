package types

import "time"

// AlarmTrigger records one state transition of an alarm configuration.
// Only Processed is updated after creation.
type AlarmTrigger struct {
	ID                   string     `json:"id"`
	InstallationID       string     `json:"installation_id"`
	AlarmConfigurationID string     `json:"alarm_configuration_id"`
	TriggeredAt          time.Time  `json:"triggered_at"`
	State                AlarmState `json:"state"`
	PreviousState        AlarmState `json:"previous_state"`
	PreviousStateSince   time.Time  `json:"previous_state_since"`
	Processed            bool       `json:"processed"`
}

// Cleared reports whether the trigger ends an active alarm.
func (t AlarmTrigger) Cleared() bool {
	return t.State == StateOK && t.PreviousState == StateInAlarm
}
