// Package mqttbus implements transport.Bus on an MQTT broker.
//
// Messages are published with the configured QoS (1 by default, at-least-once).
// Each subscription owns a queue drained by a single goroutine, so handlers
// for one topic run sequentially in arrival order without blocking the
// client's network loop.
package mqttbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-duckiebot/internal/log"
	"github.com/teslashibe/go-duckiebot/pkg/transport"
)

// Bus is an MQTT-backed transport.Bus.
type Bus struct {
	cfg    transport.Config
	logger *slog.Logger
	client mqtt.Client

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool

	connected        atomic.Bool
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	reconnectCount   atomic.Int64
}

var _ transport.Bus = (*Bus)(nil)

// Dial connects to the broker and returns once the session is up or ctx ends.
func Dial(ctx context.Context, cfg transport.Config, logger *slog.Logger) (*Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.ClientID == "" {
		cfg = cfg.WithClientID("duckiebot")
	}

	b := &Bus{
		cfg:    cfg,
		logger: log.Component(logger, "mqttbus"),
		subs:   make(map[string]*subscription),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(cfg.MQTT.ConnectTimeout).
		SetConnectRetryInterval(cfg.MQTT.ReconnectInterval).
		SetMaxReconnectInterval(cfg.MQTT.MaxReconnectInterval)
	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}

	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.connected.Store(false)
		b.logger.Warn("mqtt connection lost, will auto-reconnect", "error", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		b.reconnectCount.Add(1)
	})

	b.client = mqtt.NewClient(opts)

	b.logger.Info("connecting to MQTT", "broker", cfg.MQTT.Broker, "client_id", cfg.ClientID)

	token := b.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("mqttbus: connect %s: %w", cfg.MQTT.Broker, err)
		}
	case <-ctx.Done():
		b.client.Disconnect(0)
		return nil, ctx.Err()
	}

	return b, nil
}

// onConnect restores subscriptions; the session is clean on every connect.
func (b *Bus) onConnect(c mqtt.Client) {
	b.connected.Store(true)
	b.logger.Info("mqtt connection established", "broker", b.cfg.MQTT.Broker)

	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		token := c.Subscribe(s.topic, b.cfg.MQTT.QoS, s.onMessage)
		go func(topic string) {
			token.Wait()
			if err := token.Error(); err != nil {
				b.logger.Error("resubscribe failed", "topic", topic, "error", err)
			}
		}(s.topic)
	}
}

// Publish publishes payload to topic and waits for the broker acknowledgement.
func (b *Bus) Publish(topic string, payload []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}

	token := b.client.Publish(topic, b.cfg.MQTT.QoS, false, payload)
	if !token.WaitTimeout(b.cfg.MQTT.PublishTimeout) {
		return fmt.Errorf("mqttbus: publish to %s: timed out after %v", topic, b.cfg.MQTT.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqttbus: publish to %s: %w", topic, err)
	}

	b.messagesSent.Add(1)
	return nil
}

// Subscribe subscribes to a topic and calls the handler for each message.
func (b *Bus) Subscribe(topic string, handler transport.Handler) (transport.Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, transport.ErrClosed
	}
	if _, exists := b.subs[topic]; exists {
		b.mu.Unlock()
		return nil, fmt.Errorf("mqttbus: already subscribed to %s", topic)
	}
	s := newSubscription(b, topic, handler, b.cfg.MQTT.QueueSize)
	b.subs[topic] = s
	b.mu.Unlock()

	token := b.client.Subscribe(topic, b.cfg.MQTT.QoS, s.onMessage)
	if !token.WaitTimeout(b.cfg.MQTT.ConnectTimeout) || token.Error() != nil {
		err := token.Error()
		if err == nil {
			err = fmt.Errorf("timed out")
		}
		b.drop(s)
		s.stop()
		return nil, fmt.Errorf("mqttbus: subscribe to %s: %w", topic, err)
	}

	b.logger.Debug("subscribed to topic", "topic", topic)
	return s, nil
}

func (b *Bus) drop(s *subscription) {
	b.mu.Lock()
	if b.subs[s.topic] == s {
		delete(b.subs, s.topic)
	}
	b.mu.Unlock()
}

// Stats returns bus statistics.
func (b *Bus) Stats() transport.Stats {
	return transport.Stats{
		Backend:          transport.BackendMQTT,
		Connected:        b.connected.Load(),
		MessagesSent:     b.messagesSent.Load(),
		MessagesReceived: b.messagesReceived.Load(),
		ReconnectCount:   b.reconnectCount.Load(),
	}
}

// Close unsubscribes everything and disconnects from the broker.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}

	b.client.Disconnect(250)
	b.connected.Store(false)
	b.logger.Info("mqtt client closed")
	return nil
}

// subscription queues inbound payloads for one handler goroutine.
type subscription struct {
	bus     *Bus
	topic   string
	handler transport.Handler

	queue    chan []byte
	done     chan struct{}
	finished chan struct{}
	once     sync.Once
}

func newSubscription(b *Bus, topic string, handler transport.Handler, size int) *subscription {
	s := &subscription{
		bus:      b,
		topic:    topic,
		handler:  handler,
		queue:    make(chan []byte, size),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *subscription) onMessage(_ mqtt.Client, m mqtt.Message) {
	s.bus.messagesReceived.Add(1)
	select {
	case s.queue <- m.Payload():
	case <-s.done:
	}
}

func (s *subscription) run() {
	defer close(s.finished)
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.queue:
			s.handler(payload)
		}
	}
}

func (s *subscription) stop() {
	s.once.Do(func() {
		close(s.done)
		<-s.finished
	})
}

// Topic implements transport.Subscription.
func (s *subscription) Topic() string { return s.topic }

// Unsubscribe removes the broker subscription and stops the handler goroutine.
func (s *subscription) Unsubscribe() error {
	s.bus.drop(s)

	var err error
	if s.bus.client.IsConnected() {
		token := s.bus.client.Unsubscribe(s.topic)
		if token.WaitTimeout(time.Second) {
			err = token.Error()
		}
	}
	s.stop()
	return err
}
