package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/nerrad567/growrack-core/internal/automation"
	"github.com/nerrad567/growrack-core/internal/infrastructure/config"
	"github.com/nerrad567/growrack-core/internal/infrastructure/mqtt"
)

// Publisher is the MQTT surface used to send commands.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Subscriber is the MQTT surface used to receive acknowledgements.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger defines the logging interface used by the dispatcher.
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

// Config tunes delivery.
type Config struct {
	QoS byte

	// AwaitAck makes Dispatch wait for the gateway's acknowledgement.
	AwaitAck   bool
	AckTimeout time.Duration

	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration

	BreakerFailures int
	BreakerTimeout  time.Duration
}

// NewConfig derives the dispatcher settings from the application config.
func NewConfig(cfg *config.Config) Config {
	a := cfg.Automation
	return Config{
		QoS:             byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
		AwaitAck:        a.DispatchPolicy == config.DispatchAwaitAck,
		AckTimeout:      config.Seconds(a.AckTimeout),
		MaxRetries:      a.Retry.MaxRetries,
		InitialInterval: time.Duration(a.Retry.InitialInterval) * time.Millisecond,
		MaxInterval:     time.Duration(a.Retry.MaxInterval) * time.Millisecond,
		BreakerFailures: a.Breaker.ConsecutiveFailures,
		BreakerTimeout:  config.Seconds(a.Breaker.OpenTimeout),
	}
}

func (c Config) withDefaults() Config {
	if c.AckTimeout <= 0 {
		c.AckTimeout = 5 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 100 * time.Millisecond
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = c.InitialInterval
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	return c
}

// MQTTDispatcher implements automation.Dispatcher over MQTT.
//
// Thread Safety: Dispatch and HandleAck are safe for concurrent use.
type MQTTDispatcher struct {
	pub     Publisher
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	logger  Logger

	now   func() time.Time
	newID func() string

	mu      sync.Mutex
	pending map[string]chan AckMessage
}

// New creates a dispatcher publishing through pub.
func New(pub Publisher, cfg Config, logger Logger) *MQTTDispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	cfg = cfg.withDefaults()

	d := &MQTTDispatcher{
		pub:     pub,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
		pending: make(map[string]chan AckMessage),
	}
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "actuator-dispatch",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(cfg.BreakerFailures) //nolint:gosec // small positive config value
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return d
}

// Start subscribes to acknowledgements when AwaitAck is set.
func (d *MQTTDispatcher) Start(sub Subscriber) error {
	if !d.cfg.AwaitAck {
		return nil
	}
	topic := mqtt.Topics{}.AllAcks()
	if err := sub.Subscribe(topic, d.cfg.QoS, d.HandleAck); err != nil {
		return fmt.Errorf("subscribing to acks: %w", err)
	}
	d.logger.Info("awaiting actuator acknowledgements", "topic", topic)
	return nil
}

// Stop removes the acknowledgement subscription.
func (d *MQTTDispatcher) Stop(sub Subscriber) error {
	if !d.cfg.AwaitAck {
		return nil
	}
	return sub.Unsubscribe(mqtt.Topics{}.AllAcks())
}

// BreakerState reports the circuit breaker's state.
func (d *MQTTDispatcher) BreakerState() gobreaker.State {
	return d.breaker.State()
}

// Dispatch implements automation.Dispatcher.
func (d *MQTTDispatcher) Dispatch(ctx context.Context, cmd automation.ActuatorCommand) error {
	msg, err := newCommandMessage(d.newID(), cmd, d.now())
	if err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling command: %w", err)
	}
	topic := mqtt.Topics{}.Command(cmd.RackID, msg.Channel)

	var acks chan AckMessage
	if d.cfg.AwaitAck {
		acks = d.expect(msg.CommandID)
		defer d.forget(msg.CommandID)
	}

	if err := d.publish(ctx, topic, payload); err != nil {
		return err
	}
	d.logger.Debug("command published", "topic", topic, "command_id", msg.CommandID, "action", msg.Action)

	if acks == nil {
		return nil
	}
	return d.awaitAck(ctx, msg, acks)
}

// publish sends payload through the breaker, retrying with backoff.
// An open breaker is not retried.
func (d *MQTTDispatcher) publish(ctx context.Context, topic string, payload []byte) error {
	op := func() error {
		_, err := d.breaker.Execute(func() (any, error) {
			return nil, d.pub.Publish(topic, payload, d.cfg.QoS, false)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrCircuitOpen, err))
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.InitialInterval
	bo.MaxInterval = d.cfg.MaxInterval
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(d.cfg.MaxRetries)), ctx) //nolint:gosec // non-negative
	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		d.logger.Debug("retrying command publish", "topic", topic, "wait", wait, "error", err)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCircuitOpen) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPublish, topic, err)
}

func (d *MQTTDispatcher) awaitAck(ctx context.Context, msg CommandMessage, acks <-chan AckMessage) error {
	timer := time.NewTimer(d.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case ack := <-acks:
		if !ack.Accepted {
			return fmt.Errorf("%w: %s %s: %s", automation.ErrDispatchRejected, msg.Channel, msg.Action, ack.Reason)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: no ack for %s after %s", automation.ErrDispatchTimeout, msg.CommandID, d.cfg.AckTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", automation.ErrDispatchTimeout, ctx.Err())
	}
}

func (d *MQTTDispatcher) expect(commandID string) chan AckMessage {
	ch := make(chan AckMessage, 1)
	d.mu.Lock()
	d.pending[commandID] = ch
	d.mu.Unlock()
	return ch
}

func (d *MQTTDispatcher) forget(commandID string) {
	d.mu.Lock()
	delete(d.pending, commandID)
	d.mu.Unlock()
}

// HandleAck is the MQTT handler for acknowledgement topics. Acks for
// unknown or expired commands are ignored.
func (d *MQTTDispatcher) HandleAck(topic string, payload []byte) error {
	_, commandID, ok := mqtt.ParseAckTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected ack topic %q", topic)
	}

	var ack AckMessage
	if err := json.Unmarshal(payload, &ack); err != nil {
		return fmt.Errorf("decoding ack %s: %w", commandID, err)
	}

	d.mu.Lock()
	ch, waiting := d.pending[commandID]
	d.mu.Unlock()
	if !waiting {
		d.logger.Debug("ack for unknown command", "command_id", commandID)
		return nil
	}

	select {
	case ch <- ack:
	default:
	}
	return nil
}
