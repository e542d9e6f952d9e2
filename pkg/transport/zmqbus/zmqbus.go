// Package zmqbus implements transport.Bus on ZeroMQ PUB/SUB sockets.
//
// Each node binds one PUB socket and connects a SUB socket per subscription
// to the configured peer endpoints. Messages are two-frame multipart
// [topic, payload]. ZeroMQ sockets are not thread-safe: the PUB socket is
// guarded by a mutex and each SUB socket is owned by its receive goroutine.
package zmqbus

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/pebbe/zmq4"

	"github.com/teslashibe/go-duckiebot/internal/log"
	"github.com/teslashibe/go-duckiebot/pkg/transport"
)

// Bus is a ZeroMQ-backed transport.Bus.
type Bus struct {
	cfg    transport.Config
	logger *slog.Logger

	pubMu sync.Mutex
	pub   *zmq4.Socket

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool

	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
}

var _ transport.Bus = (*Bus)(nil)

// New binds the PUB socket.
func New(cfg transport.Config, logger *slog.Logger) (*Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	pub, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, fmt.Errorf("zmqbus: create pub socket: %w", err)
	}
	if err := pub.SetLinger(0); err != nil {
		pub.Close()
		return nil, fmt.Errorf("zmqbus: set linger: %w", err)
	}
	if err := pub.Bind(cfg.ZMQ.Publish); err != nil {
		pub.Close()
		return nil, fmt.Errorf("zmqbus: bind %s: %w", cfg.ZMQ.Publish, err)
	}

	b := &Bus{
		cfg:    cfg,
		logger: log.Component(logger, "zmqbus"),
		pub:    pub,
		subs:   make(map[*subscription]struct{}),
	}
	b.logger.Info("zmq publisher bound", "endpoint", cfg.ZMQ.Publish, "peers", cfg.ZMQ.Subscribe)
	return b, nil
}

// Publish sends [topic, payload].
func (b *Bus) Publish(topic string, payload []byte) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	if b.pub == nil {
		return transport.ErrClosed
	}
	if _, err := b.pub.SendMessage(topic, payload); err != nil {
		return fmt.Errorf("zmqbus: publish to %s: %w", topic, err)
	}
	b.messagesSent.Add(1)
	return nil
}

// Subscribe connects a SUB socket to every peer and filters on topic.
func (b *Bus) Subscribe(topic string, handler transport.Handler) (transport.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, transport.ErrClosed
	}

	sock, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		return nil, fmt.Errorf("zmqbus: create sub socket: %w", err)
	}
	setup := func() error {
		if err := sock.SetLinger(0); err != nil {
			return err
		}
		if err := sock.SetRcvtimeo(b.cfg.ZMQ.PollInterval); err != nil {
			return err
		}
		if err := sock.SetSubscribe(topic); err != nil {
			return err
		}
		for _, ep := range b.cfg.ZMQ.Subscribe {
			if err := sock.Connect(ep); err != nil {
				return fmt.Errorf("connect %s: %w", ep, err)
			}
		}
		return nil
	}
	if err := setup(); err != nil {
		sock.Close()
		return nil, fmt.Errorf("zmqbus: subscribe to %s: %w", topic, err)
	}

	s := &subscription{
		bus:      b,
		topic:    topic,
		handler:  handler,
		sock:     sock,
		finished: make(chan struct{}),
	}
	b.subs[s] = struct{}{}
	go s.run()

	b.logger.Debug("subscribed to topic", "topic", topic)
	return s, nil
}

// Stats returns bus statistics.
func (b *Bus) Stats() transport.Stats {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	return transport.Stats{
		Backend:          transport.BackendZMQ,
		Connected:        !closed,
		MessagesSent:     b.messagesSent.Load(),
		MessagesReceived: b.messagesReceived.Load(),
	}
}

// Close stops all receive loops and closes the PUB socket.
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

	for s := range subs {
		s.stop()
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	err := b.pub.Close()
	b.pub = nil
	b.logger.Info("zmq bus closed")
	return err
}

type subscription struct {
	bus     *Bus
	topic   string
	handler transport.Handler
	sock    *zmq4.Socket

	stopping atomic.Bool
	finished chan struct{}
	once     sync.Once
}

func (s *subscription) run() {
	defer close(s.finished)
	defer s.sock.Close()

	for !s.stopping.Load() {
		parts, err := s.sock.RecvMessageBytes(0)
		if err != nil {
			if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
				continue
			}
			if s.stopping.Load() {
				return
			}
			s.bus.logger.Warn("zmq receive failed", "topic", s.topic, "error", err)
			continue
		}
		// SUB filtering is by prefix; require an exact topic match.
		if len(parts) != 2 || string(parts[0]) != s.topic {
			continue
		}
		s.bus.messagesReceived.Add(1)
		s.handler(parts[1])
	}
}

func (s *subscription) stop() {
	s.once.Do(func() {
		s.stopping.Store(true)
		<-s.finished
	})
}

// Topic implements transport.Subscription.
func (s *subscription) Topic() string { return s.topic }

// Unsubscribe stops the receive loop and closes the socket.
func (s *subscription) Unsubscribe() error {
	s.bus.mu.Lock()
	if s.bus.subs != nil {
		delete(s.bus.subs, s)
	}
	s.bus.mu.Unlock()
	s.stop()
	return nil
}
