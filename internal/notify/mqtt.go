package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/IoTWazPresales/Reclaim-sub001/internal/health"
)

// MQTTOptions configures the trigger-event publisher.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	// Topic is the base topic; events publish to "<Topic>/<trigger_type>".
	Topic string
}

// publisher is the slice of mqtt.Client the dispatcher uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTDispatcher publishes trigger events as JSON to a per-kind subtopic.
type MQTTDispatcher struct {
	client publisher
	opts   MQTTOptions
	logger *zap.Logger
}

// NewMQTTDispatcher connects to the broker and returns the dispatcher.
func NewMQTTDispatcher(opts MQTTOptions, logger *zap.Logger) (*MQTTDispatcher, error) {
	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientOpts.SetClientID(opts.ClientID)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetCleanSession(true)

	client := mqtt.NewClient(clientOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.Info("connected to MQTT broker",
		zap.String("broker", opts.Broker),
		zap.String("client_id", opts.ClientID))
	return &MQTTDispatcher{client: client, opts: opts, logger: logger}, nil
}

// triggerPayload is the wire shape of a published event.
type triggerPayload struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Message            string `json:"message"`
	SuggestedActionKey string `json:"suggested_action_key"`
	FiredAt            string `json:"fired_at"`
}

func buildPayload(event health.TriggerEvent) ([]byte, error) {
	return json.Marshal(triggerPayload{
		ID:                 event.ID,
		Type:               string(event.Type),
		Message:            event.Message,
		SuggestedActionKey: event.SuggestedActionKey,
		FiredAt:            event.FiredAt.Format(time.RFC3339),
	})
}

func (d *MQTTDispatcher) topicFor(trigger health.TriggerType) string {
	return fmt.Sprintf("%s/%s", d.opts.Topic, trigger)
}

func (d *MQTTDispatcher) Dispatch(_ context.Context, event health.TriggerEvent) error {
	payload, err := buildPayload(event)
	if err != nil {
		return fmt.Errorf("failed to encode trigger event: %w", err)
	}

	topic := d.topicFor(event.Type)
	token := d.client.Publish(topic, d.opts.QoS, false, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	d.logger.Debug("trigger event published",
		zap.String("topic", topic),
		zap.String("event_id", event.ID))
	return nil
}

// Close disconnects from the broker.
func (d *MQTTDispatcher) Close() {
	d.client.Disconnect(250)
}
