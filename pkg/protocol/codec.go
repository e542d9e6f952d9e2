package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Codec encodes message structs for the transport.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Codec names accepted by NewCodec.
const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

// NewCodec returns the codec with the given name. Empty selects JSON.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecCBOR:
		return NewCBORCodec()
	default:
		return nil, fmt.Errorf("protocol: unknown codec %q", name)
	}
}

// JSONCodec uses encoding/json.
type JSONCodec struct{}

// Name implements Codec.
func (JSONCodec) Name() string { return CodecJSON }

// Marshal implements Codec.
func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal implements Codec.
func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// CBORCodec is a compact binary codec; frames avoid base64 inflation.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec builds a CBOR codec that keeps nanosecond timestamps.
func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("protocol: cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("protocol: cbor decoder: %w", err)
	}
	return &CBORCodec{enc: enc, dec: dec}, nil
}

// Name implements Codec.
func (c *CBORCodec) Name() string { return CodecCBOR }

// Marshal implements Codec.
func (c *CBORCodec) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

// Unmarshal implements Codec.
func (c *CBORCodec) Unmarshal(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}
