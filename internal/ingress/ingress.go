package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/nerrad567/growrack-core/internal/automation"
	"github.com/nerrad567/growrack-core/internal/infrastructure/config"
	"github.com/nerrad567/growrack-core/internal/infrastructure/mqtt"
)

// Reading sources, used as the metrics source label.
const (
	SourceMQTT  = "mqtt"
	SourceKafka = "kafka"
)

// Logger is the logging surface used by Ingress.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Submitter accepts readings for processing. automation.Engine satisfies it.
type Submitter interface {
	Submit(reading automation.SensorReading) error
}

// ActivityChecker reports whether a rack's readings should be processed.
// rack.Registry satisfies it.
type ActivityChecker interface {
	IsActive(rackID string) bool
}

// TelemetryWriter records raw readings as time-series points.
// influxdb.Client satisfies it.
type TelemetryWriter interface {
	WriteReading(rackID string, temperature, humidity, moisture, lightLevel float64, observedAt time.Time)
}

// Subscriber is the MQTT surface used to receive readings.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// MessageReader is the Kafka surface used to receive readings.
// *kafkago.Reader satisfies it.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafkago.Message, error)
}

// Deps are the collaborators of an Ingress. Engine is required; the rest
// are optional.
type Deps struct {
	Engine    Submitter
	Racks     ActivityChecker
	Telemetry TelemetryWriter
	Metrics   *Metrics
	Logger    Logger
}

// Config tunes the ingress pipeline.
type Config struct {
	DedupTTL        time.Duration
	DedupMaxEntries int
}

// NewConfig derives the ingress configuration from the application config.
func NewConfig(cfg *config.Config) Config {
	return Config{
		DedupTTL:        config.Seconds(cfg.Automation.Dedup.TTL),
		DedupMaxEntries: cfg.Automation.Dedup.MaxEntries,
	}
}

// Ingress decodes, filters and forwards sensor readings.
type Ingress struct {
	engine    Submitter
	racks     ActivityChecker
	telemetry TelemetryWriter
	dedup     *Deduper
	metrics   *Metrics
	logger    Logger

	mu     sync.Mutex
	latest map[string]time.Time // rack -> newest accepted observed_at
}

// New creates an Ingress.
func New(deps Deps, cfg Config) (*Ingress, error) {
	if deps.Engine == nil {
		return nil, errors.New("ingress: engine is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Ingress{
		engine:    deps.Engine,
		racks:     deps.Racks,
		telemetry: deps.Telemetry,
		dedup:     NewDeduper(cfg.DedupTTL, cfg.DedupMaxEntries),
		metrics:   deps.Metrics,
		logger:    logger,
		latest:    make(map[string]time.Time),
	}, nil
}

// Start subscribes to readings from every rack.
func (i *Ingress) Start(sub Subscriber) error {
	topic := mqtt.Topics{}.AllReadings()
	if err := sub.Subscribe(topic, 1, i.HandleMQTT); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	i.logger.Info("reading ingress subscribed", "topic", topic)
	return nil
}

// Stop removes the reading subscription.
func (i *Ingress) Stop(sub Subscriber) error {
	return sub.Unsubscribe(mqtt.Topics{}.AllReadings())
}

// HandleMQTT is the MQTT message handler for growrack/reading/<rack>.
// Intentional drops (duplicates, inactive or stopping racks, full queues)
// return nil; malformed messages return an error for the client to log.
func (i *Ingress) HandleMQTT(topic string, payload []byte) error {
	rackID, ok := mqtt.ParseReadingTopic(topic)
	if !ok {
		i.metrics.message(SourceMQTT, resultMalformed)
		return fmt.Errorf("%w: unexpected topic %q", ErrDecode, topic)
	}
	return i.handle(SourceMQTT, rackID, payload)
}

// RunKafka consumes readings from reader until ctx is cancelled. The
// message key, when set, names the rack like the MQTT topic does. Read
// errors are retried with exponential backoff.
func (i *Ingress) RunKafka(ctx context.Context, reader MessageReader) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	i.logger.Info("kafka reading consumer started")
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				i.logger.Info("kafka reading consumer stopped")
				return nil
			}
			wait := bo.NextBackOff()
			i.logger.Warn("kafka read failed", "error", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()

		if err := i.handle(SourceKafka, string(msg.Key), msg.Value); err != nil {
			i.logger.Warn("kafka reading rejected",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// handle decodes payload, reconciles its rack with the transport rack and
// runs the pipeline. Intentional drops are not errors.
func (i *Ingress) handle(source, rackID string, payload []byte) error {
	var r automation.SensorReading
	if err := json.Unmarshal(payload, &r); err != nil {
		i.metrics.message(source, resultMalformed)
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	switch {
	case r.RackID == "":
		r.RackID = rackID
	case rackID != "" && r.RackID != rackID:
		i.metrics.message(source, resultMalformed)
		return fmt.Errorf("%w: transport %q, payload %q", ErrTopicMismatch, rackID, r.RackID)
	}

	err := i.Accept(source, r)
	switch {
	case err == nil,
		errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrOutOfOrder),
		errors.Is(err, ErrRackInactive),
		errors.Is(err, automation.ErrRackStopping),
		errors.Is(err, automation.ErrQueueFull):
		return nil
	default:
		return err
	}
}

// Accept runs one decoded reading through validation, de-duplication,
// telemetry and the active-rack check, then submits it to the engine.
func (i *Ingress) Accept(source string, r automation.SensorReading) error {
	if err := automation.ValidateReading(r); err != nil {
		i.metrics.message(source, resultInvalid)
		return err
	}

	if !i.dedup.ShouldProcess(dedupKey(r)) {
		i.metrics.message(source, resultDuplicate)
		i.logger.Debug("duplicate reading dropped", "rack_id", r.RackID, "observed_at", r.ObservedAt)
		return ErrDuplicate
	}

	if !i.advance(r) {
		i.metrics.message(source, resultOutOfOrder)
		i.logger.Debug("out-of-order reading dropped", "rack_id", r.RackID, "observed_at", r.ObservedAt)
		return ErrOutOfOrder
	}

	if i.telemetry != nil {
		i.telemetry.WriteReading(r.RackID, r.Temperature, r.Humidity, r.Moisture, r.LightLevel, r.ObservedAt)
	}

	if i.racks != nil && !i.racks.IsActive(r.RackID) {
		i.metrics.message(source, resultInactive)
		i.logger.Debug("reading for inactive rack dropped", "rack_id", r.RackID)
		return fmt.Errorf("%w: %s", ErrRackInactive, r.RackID)
	}

	if err := i.engine.Submit(r); err != nil {
		i.metrics.message(source, resultRejected)
		return err
	}
	i.metrics.message(source, resultAccepted)
	return nil
}

// advance moves the rack's high-water mark to r.ObservedAt and reports
// whether r is not older than the mark. Equal timestamps pass since the
// Deduper already filtered exact repeats.
func (i *Ingress) advance(r automation.SensorReading) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if last, ok := i.latest[r.RackID]; ok && r.ObservedAt.Before(last) {
		return false
	}
	i.latest[r.RackID] = r.ObservedAt
	return true
}

// Forget drops the rack's high-water mark. rack.Registry calls it when a
// rack is deleted.
func (i *Ingress) Forget(rackID string) {
	i.mu.Lock()
	delete(i.latest, rackID)
	i.mu.Unlock()
}

func dedupKey(r automation.SensorReading) string {
	return r.RackID + "@" + strconv.FormatInt(r.ObservedAt.UnixNano(), 10)
}
