package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/nerrad567/growrack-core/internal/automation"
	"github.com/nerrad567/growrack-core/internal/infrastructure/mqtt"
)

// ChannelAutomationEvent is the WebSocket channel carrying automation events.
const ChannelAutomationEvent = "automation.event"

// Multi fans an event out to every sink. All sinks are attempted; their
// errors are joined.
type Multi []automation.EventSink

// Emit implements automation.EventSink.
func (m Multi) Emit(ctx context.Context, e automation.AutomatedEvent) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Emit(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", sink, err))
		}
	}
	return errors.Join(errs...)
}

// ─── MQTT ───────────────────────────────────────────────────────────────────

// Publisher is the MQTT surface used by MQTTPublisher.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTPublisher publishes events to growrack/event/<rack> at QoS 1.
type MQTTPublisher struct {
	pub Publisher
}

// NewMQTTPublisher creates an MQTT event sink.
func NewMQTTPublisher(pub Publisher) *MQTTPublisher {
	return &MQTTPublisher{pub: pub}
}

// Emit implements automation.EventSink.
func (p *MQTTPublisher) Emit(_ context.Context, e automation.AutomatedEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	return p.pub.Publish(mqtt.Topics{}.Event(e.RackID), payload, 1, false)
}

// ─── InfluxDB ───────────────────────────────────────────────────────────────

// PointWriter is the InfluxDB surface used by InfluxWriter.
type PointWriter interface {
	WriteAutomationEvent(rackID, ruleID, ruleName string, actions []string, at time.Time)
}

// InfluxWriter records events as time-series points. Writes are batched
// by the client and never fail synchronously.
type InfluxWriter struct {
	w PointWriter
}

// NewInfluxWriter creates an InfluxDB event sink.
func NewInfluxWriter(w PointWriter) *InfluxWriter {
	return &InfluxWriter{w: w}
}

// Emit implements automation.EventSink.
func (i *InfluxWriter) Emit(_ context.Context, e automation.AutomatedEvent) error {
	i.w.WriteAutomationEvent(e.RackID, e.RuleID, e.RuleName, e.ExecutedActions, e.Timestamp)
	return nil
}

// ─── Kafka ──────────────────────────────────────────────────────────────────

// MessageWriter is the Kafka surface used by KafkaWriter.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// KafkaWriter produces events keyed by rack ID, so one rack's events stay
// ordered within a partition.
type KafkaWriter struct {
	w MessageWriter
}

// NewKafkaWriter creates a Kafka event sink.
func NewKafkaWriter(w MessageWriter) *KafkaWriter {
	return &KafkaWriter{w: w}
}

// Emit implements automation.EventSink.
func (k *KafkaWriter) Emit(ctx context.Context, e automation.AutomatedEvent) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	if err := k.w.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(e.RackID),
		Value: value,
		Time:  e.Timestamp,
	}); err != nil {
		return fmt.Errorf("writing event to kafka: %w", err)
	}
	return nil
}

// ─── WebSocket ──────────────────────────────────────────────────────────────

// Broadcaster is the WebSocket hub surface used by HubBroadcaster.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// HubBroadcaster pushes events to live WebSocket clients.
type HubBroadcaster struct {
	hub Broadcaster
}

// NewHubBroadcaster creates a WebSocket event sink.
func NewHubBroadcaster(hub Broadcaster) *HubBroadcaster {
	return &HubBroadcaster{hub: hub}
}

// Emit implements automation.EventSink.
func (h *HubBroadcaster) Emit(_ context.Context, e automation.AutomatedEvent) error {
	h.hub.Broadcast(ChannelAutomationEvent, e)
	return nil
}
