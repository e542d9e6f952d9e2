// Package transport abstracts the pub/sub fabric that carries frames,
// signals and commands between nodes.
//
// The fabric is assumed to deliver messages on a topic in publish order and at
// least once. Backends:
//   - mqttbus: MQTT broker, QoS 1 (default on the vehicle)
//   - zmqbus:  ZeroMQ PUB/SUB sockets, brokerless
//   - Memory:  in-process bus for tests and single-process simulation
package transport

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-duckiebot/pkg/protocol"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("transport: bus closed")

// Handler receives the raw payload of one message.
// Handlers for a single subscription are called sequentially, in order.
type Handler func(payload []byte)

// Subscription is an active topic subscription.
type Subscription interface {
	Topic() string
	Unsubscribe() error
}

// Publisher publishes raw payloads.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Subscriber registers topic handlers.
type Subscriber interface {
	Subscribe(topic string, handler Handler) (Subscription, error)
}

// Bus is the full transport client.
type Bus interface {
	Publisher
	Subscriber
	Stats() Stats
	Close() error
}

// Stats contains bus statistics.
type Stats struct {
	Backend          string `json:"backend"`
	Connected        bool   `json:"connected"`
	MessagesSent     int64  `json:"messages_sent"`
	MessagesReceived int64  `json:"messages_received"`
	ReconnectCount   int64  `json:"reconnect_count"`
}

// PublishMessage encodes v with codec and publishes it.
func PublishMessage(p Publisher, codec protocol.Codec, topic string, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: encode for %s: %w", topic, err)
	}
	return p.Publish(topic, data)
}

// UnsubscribeAll unsubscribes every subscription and returns the first error.
func UnsubscribeAll(subs []Subscription) error {
	var first error
	for _, s := range subs {
		if s == nil {
			continue
		}
		if err := s.Unsubscribe(); err != nil && first == nil {
			first = fmt.Errorf("transport: unsubscribe %s: %w", s.Topic(), err)
		}
	}
	return first
}
