package lanefollow

import (
	"github.com/teslashibe/go-duckiebot/pkg/protocol"
	"github.com/teslashibe/go-duckiebot/pkg/transport"
)

// CommandSink receives commands produced by the scheduler.
type CommandSink interface {
	Publish(cmd protocol.MotionCommand, source protocol.Header) error
}

// Publisher emits motion commands on the car_cmd topic.
type Publisher struct {
	bus   transport.Publisher
	codec protocol.Codec
	topic string
}

// NewPublisher creates a Publisher writing to topic.
func NewPublisher(bus transport.Publisher, codec protocol.Codec, topic string) *Publisher {
	return &Publisher{bus: bus, codec: codec, topic: topic}
}

// Publish sends cmd stamped with the source frame's header.
func (p *Publisher) Publish(cmd protocol.MotionCommand, source protocol.Header) error {
	cmd.Header = source
	return transport.PublishMessage(p.bus, p.codec, p.topic, cmd)
}
