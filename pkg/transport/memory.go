package transport

import (
	"sync"
	"sync/atomic"
)

// Memory is an in-process Bus. Publish delivers synchronously to every
// subscriber of the exact topic, in subscription order.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySub
	closed bool

	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
}

var _ Bus = (*Memory)(nil)

// NewMemory creates an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string][]*memorySub)}
}

type memorySub struct {
	bus     *Memory
	topic   string
	handler Handler

	// mu serializes handler calls for this subscription.
	mu   sync.Mutex
	done atomic.Bool
}

func (s *memorySub) Topic() string { return s.topic }

func (s *memorySub) Unsubscribe() error {
	if s.done.Swap(true) {
		return nil
	}
	s.bus.remove(s)
	return nil
}

func (s *memorySub) deliver(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done.Load() {
		return
	}
	s.handler(payload)
}

// Publish delivers payload to all current subscribers of topic.
func (m *Memory) Publish(topic string, payload []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	subs := append([]*memorySub(nil), m.subs[topic]...)
	m.mu.RUnlock()

	m.messagesSent.Add(1)
	for _, s := range subs {
		m.messagesReceived.Add(1)
		s.deliver(payload)
	}
	return nil
}

// Subscribe registers handler for topic.
func (m *Memory) Subscribe(topic string, handler Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	s := &memorySub{bus: m, topic: topic, handler: handler}
	m.subs[topic] = append(m.subs[topic], s)
	return s, nil
}

func (m *Memory) remove(target *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[target.topic]
	for i, s := range list {
		if s == target {
			m.subs[target.topic] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(m.subs[target.topic]) == 0 {
		delete(m.subs, target.topic)
	}
}

// SubscriberCount returns the number of subscribers on topic.
func (m *Memory) SubscriberCount(topic string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[topic])
}

// Stats implements Bus.
func (m *Memory) Stats() Stats {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	return Stats{
		Backend:          BackendMemory,
		Connected:        !closed,
		MessagesSent:     m.messagesSent.Load(),
		MessagesReceived: m.messagesReceived.Load(),
	}
}

// Close drops all subscriptions. Further publishes fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, list := range m.subs {
		for _, s := range list {
			s.done.Store(true)
		}
	}
	m.subs = nil
	return nil
}
