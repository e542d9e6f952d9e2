// Package hub fans executed commands out to websocket monitors. Each hub
// carries one encoding; a monitor picks its hub when it connects.
package hub

import (
	"fmt"

	"github.com/gofiber/contrib/websocket"

	"github.com/teslashibe/go-duckiebot/pkg/protocol"
)

// MessageType selects the websocket frame a message is written as.
type MessageType int

const (
	// JSONMessage goes out as a text frame.
	JSONMessage MessageType = iota
	// BinaryMessage goes out as a binary frame (CBOR).
	BinaryMessage
)

// frameType maps the message type onto the websocket opcode.
func (t MessageType) frameType() int {
	if t == BinaryMessage {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// Message is one pre-encoded payload shared by every client of a hub.
type Message struct {
	Type MessageType
	Data []byte
}

func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// Encode marshals v with codec. CBOR payloads become binary frames, JSON
// payloads text frames.
func Encode(codec protocol.Codec, v any) (Message, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("hub: encode %s: %w", codec.Name(), err)
	}
	if codec.Name() == protocol.CodecCBOR {
		return NewBinaryMessage(data), nil
	}
	return NewJSONMessage(data), nil
}
