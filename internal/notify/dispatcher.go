// Package notify is the delivery boundary for trigger events. The engine
// decides WHEN to fire; dispatchers decide WHERE the event goes (an app
// callback, an MQTT topic). Dispatchers never influence dedupe state.
package notify

import (
	"context"

	"github.com/IoTWazPresales/Reclaim-sub001/internal/health"
)

// Dispatcher delivers one trigger event to some destination.
type Dispatcher interface {
	Dispatch(ctx context.Context, event health.TriggerEvent) error
}

// CallbackFunc receives the flattened event fields. This is the shape the
// companion app's notification layer consumes.
type CallbackFunc func(triggerType health.TriggerType, message, suggestedActionKey string)

// CallbackDispatcher adapts a plain callback into a Dispatcher.
type CallbackDispatcher struct {
	fn CallbackFunc
}

func NewCallbackDispatcher(fn CallbackFunc) *CallbackDispatcher {
	return &CallbackDispatcher{fn: fn}
}

func (d *CallbackDispatcher) Dispatch(_ context.Context, event health.TriggerEvent) error {
	d.fn(event.Type, event.Message, event.SuggestedActionKey)
	return nil
}
