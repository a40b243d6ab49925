package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/growrack-core/internal/infrastructure/config"
)

// Logger is the logging surface of the client. *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Client is the growrack bus connection.
//
// Gateways publish readings and acknowledgements on it; core publishes
// actuator commands, automation events and its own retained status.
// Subscriptions survive reconnects: they are replayed from an internal
// route table whenever paho re-establishes the session.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	connected  atomic.Bool
	closed     atomic.Bool
	reconnects atomic.Uint64

	routesMu sync.RWMutex
	routes   map[string]route

	hooksMu      sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)

	logger atomic.Pointer[loggerBox]
}

// loggerBox lets a Logger interface value live in an atomic.Pointer.
type loggerBox struct{ Logger }

// route is one subscription, replayed after reconnects.
type route struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler handles one inbound message. Handlers run on paho's
// goroutines and should return quickly; a returned error is logged at warn.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and waits for the first session.
//
// The retained status topic is set to online once connected, and a Last
// Will marks core offline if the process dies without Close. Connect gives
// up after the connect timeout or when ctx is cancelled, whichever is first.
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)

	c := &Client{
		cfg:    cfg,
		routes: make(map[string]route),
	}

	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log().Info("mqtt reconnecting", "broker", cfg.Broker.Host, "attempt", c.reconnects.Add(1))
	})

	c.client = pahomqtt.NewClient(opts)

	connectCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	if err := awaitToken(connectCtx, c.client.Connect()); err != nil {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %s:%d: %w", ErrConnectionFailed, cfg.Broker.Host, cfg.Broker.Port, err)
	}

	// The connect handler runs asynchronously; mark the session up now so
	// callers can subscribe immediately.
	c.connected.Store(true)
	return c, nil
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.reconnects.Store(0)

	c.replayRoutes()
	if err := c.publishStatus(statusOnline, ""); err != nil {
		c.log().Warn("mqtt online status not published", "error", err)
	}

	c.hooksMu.RLock()
	hook := c.onConnect
	c.hooksMu.RUnlock()
	if hook != nil {
		hook()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.hooksMu.RLock()
	hook := c.onDisconnect
	c.hooksMu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

// replayRoutes re-subscribes every route after a reconnect. Failures are
// logged; paho retries on the next reconnect.
func (c *Client) replayRoutes() {
	c.routesMu.RLock()
	defer c.routesMu.RUnlock()

	for topic, r := range c.routes {
		ctx, cancel := context.WithTimeout(context.Background(), defaultOperationTimeout)
		err := awaitToken(ctx, c.client.Subscribe(topic, r.qos, c.wrapHandler(r.handler)))
		cancel()
		if err != nil {
			c.log().Warn("mqtt resubscribe failed", "topic", topic, "error", err)
			continue
		}
		c.log().Debug("mqtt resubscribed", "topic", topic)
	}
}

// publishStatus sets the retained core status topic.
func (c *Client) publishStatus(status, reason string) error {
	payload := statusPayload(c.cfg.Broker.ClientID, status, reason, time.Now())
	ctx, cancel := context.WithTimeout(context.Background(), defaultOperationTimeout)
	defer cancel()
	return awaitToken(ctx, c.client.Publish(Topics{}.SystemStatus(), statusQoS, true, payload))
}

// Close marks core offline and disconnects. Calling it more than once, or
// on a client that never connected, is a no-op.
func (c *Client) Close() error {
	if c.client == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	if c.IsConnected() {
		if err := c.publishStatus(statusOffline, reasonGraceful); err != nil {
			c.log().Warn("mqtt offline status not published", "error", err)
		}
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known session state.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// Reconnects returns the number of reconnect attempts since the last
// successful connection.
func (c *Client) Reconnects() uint64 {
	return c.reconnects.Load()
}

// SetOnConnect sets a hook run after every (re)connect.
func (c *Client) SetOnConnect(hook func()) {
	c.hooksMu.Lock()
	c.onConnect = hook
	c.hooksMu.Unlock()
}

// SetOnDisconnect sets a hook run when the session is lost.
func (c *Client) SetOnDisconnect(hook func(err error)) {
	c.hooksMu.Lock()
	c.onDisconnect = hook
	c.hooksMu.Unlock()
}

// SetLogger sets the logger for reconnects and handler failures.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		c.logger.Store(nil)
		return
	}
	c.logger.Store(&loggerBox{logger})
}

func (c *Client) log() Logger {
	if box := c.logger.Load(); box != nil {
		return box.Logger
	}
	return noopLogger{}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
