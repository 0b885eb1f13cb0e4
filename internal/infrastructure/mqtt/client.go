package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/multicam-core/internal/infrastructure/config"
)

// Logger is the logging interface used by the client. *logging.Logger
// satisfies it.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler handles one inbound message. paho calls it on its own
// goroutine; a returned error is logged and the message is still acked.
type MessageHandler func(topic string, payload []byte) error

// route is a subscription kept so it can be replayed after a reconnect.
type route struct {
	qos     byte
	handler MessageHandler
}

// Client is the core's broker connection. It publishes events and presence
// and routes command topics to handlers. Safe for concurrent use.
type Client struct {
	paho   pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics
	logger Logger

	mu     sync.Mutex
	routes map[string]route
	up     bool
}

func newClient(cfg config.MQTTConfig, logger Logger) *Client {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Client{
		cfg:    cfg,
		topics: Topics{Prefix: cfg.TopicPrefix},
		logger: logger,
		routes: make(map[string]route),
	}
}

// Connect dials the broker and waits up to connectTimeout for the session.
// The client reconnects on its own afterwards, replaying subscriptions and
// republishing online presence each time.
//
// Parameters:
//   - cfg: mqtt section of the config file
//   - logger: receives connection state changes and handler failures; may be nil
//
// Returns:
//   - *Client: connected client
//   - error: wraps ErrConnectionFailed
func Connect(cfg config.MQTTConfig, logger Logger) (*Client, error) {
	c := newClient(cfg, logger)
	broker := brokerURL(cfg.Broker)

	opts := brokerOptions(cfg, c.topics).
		SetOnConnectHandler(func(pahomqtt.Client) { c.connected() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) }).
		SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
			c.logger.Warn("MQTT reconnecting", "broker", broker)
		})

	c.paho = pahomqtt.NewClient(opts)
	if err := await(c.paho.Connect(), connectTimeout); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, broker, err)
	}

	// The OnConnect handler runs asynchronously; mark the link up now so
	// callers can subscribe as soon as Connect returns.
	c.setUp(true)
	return c, nil
}

// connected replays routes and announces presence after every (re)connect.
func (c *Client) connected() {
	c.mu.Lock()
	c.up = true
	routes := make(map[string]route, len(c.routes))
	for topic, r := range c.routes {
		routes[topic] = r
	}
	c.mu.Unlock()

	for topic, r := range routes {
		c.paho.Subscribe(topic, r.qos, c.dispatch(r.handler))
	}
	c.paho.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true,
		presence(PresenceOnline, c.cfg.Broker.ClientID, ""))
	c.logger.Info("MQTT connected", "routes", len(routes))
}

func (c *Client) lost(err error) {
	c.setUp(false)
	c.logger.Warn("MQTT connection lost", "error", err)
}

func (c *Client) setUp(up bool) {
	c.mu.Lock()
	c.up = up
	c.mu.Unlock()
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// IsConnected reports the last known link state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	up := c.up
	c.mu.Unlock()
	return up && c.paho != nil && c.paho.IsConnected()
}

// HealthCheck confirms the broker is reachable by republishing the
// retained online presence and waiting for its acknowledgement.
//
// Returns:
//   - error: ErrNotConnected, a wrapped ErrPublishFailed, or ctx's error
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	tok := c.paho.Publish(c.topics.SystemStatus(), 1, true,
		presence(PresenceOnline, c.cfg.Broker.ClientID, ""))
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	}
}

// Close publishes a graceful offline presence, which replaces the will,
// and disconnects. Closing a client that never connected is a no-op.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		tok := c.paho.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true,
			presence(PresenceOffline, c.cfg.Broker.ClientID, reasonShutdown))
		tok.WaitTimeout(opTimeout)
	}
	c.paho.Disconnect(quiesceMillis)
	c.setUp(false)
	return nil
}

// dispatch adapts h to paho. Panics and errors are logged and never reach
// paho's delivery goroutine.
func (c *Client) dispatch(h MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		topic := msg.Topic()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("MQTT handler panicked", "topic", topic, "panic", r)
			}
		}()
		if err := h(topic, msg.Payload()); err != nil {
			c.logger.Warn("MQTT message rejected", "topic", topic, "error", err)
		}
	}
}

var errTokenTimeout = errors.New("no response from broker")

// await waits for t up to d.
func await(t pahomqtt.Token, d time.Duration) error {
	if !t.WaitTimeout(d) {
		return fmt.Errorf("%w within %v", errTokenTimeout, d)
	}
	return t.Error()
}
