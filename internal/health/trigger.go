package health

import "time"

// TriggerType identifies one debounced behavioral condition evaluated by the
// monitoring engine.
type TriggerType string

const (
	TriggerHeartRateSpike TriggerType = "heart_rate_spike"
	TriggerHighStress     TriggerType = "high_stress"
	TriggerLowActivity    TriggerType = "low_activity"
	TriggerSleepEnd       TriggerType = "sleep_end"
)

// AllTriggerTypes returns every trigger kind, in a stable order.
func AllTriggerTypes() []TriggerType {
	return []TriggerType{
		TriggerHeartRateSpike,
		TriggerHighStress,
		TriggerLowActivity,
		TriggerSleepEnd,
	}
}

// TriggerEvent is the inbound shape of the notification dispatcher boundary:
// the engine hands one of these to whatever delivery mechanism is wired in
// and knows nothing about OS notifications itself.
type TriggerEvent struct {
	ID                 string      `json:"id"`
	Type               TriggerType `json:"type"`
	Message            string      `json:"message"`
	SuggestedActionKey string      `json:"suggested_action_key"`
	FiredAt            time.Time   `json:"fired_at"`
}
