// Package protocol defines the message types exchanged between the
// lane-following node, the wheels driver and their external collaborators.
//
// Payload shapes are the contract; the byte encoding on the wire is chosen by
// a Codec (see codec.go) and must match on both ends of a topic.
package protocol

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNonFinite is returned when a command carries NaN or ±Inf.
var ErrNonFinite = errors.New("protocol: non-finite command value")

// Header carries capture metadata for a message.
type Header struct {
	Seq     uint64    `json:"seq"`
	Stamp   time.Time `json:"stamp"`
	FrameID string    `json:"frame_id,omitempty"`
}

// =============================================================================
// Inbound signals
// =============================================================================

// Frame encodings.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

// Frame is an encoded camera image plus capture metadata.
// Frames are immutable once received.
type Frame struct {
	Header Header `json:"header"`
	Format string `json:"format"` // FormatJPEG or FormatPNG
	Data   []byte `json:"data"`
}

// JoyEvent is a gamepad sample. Only button edges are consumed here.
type JoyEvent struct {
	Header  Header    `json:"header"`
	Axes    []float32 `json:"axes,omitempty"`
	Buttons []int32   `json:"buttons"`
}

// Pressed reports whether the button at index reads 1.
// Out-of-range indices are never pressed.
func (j JoyEvent) Pressed(index int) bool {
	if index < 0 || index >= len(j.Buttons) {
		return false
	}
	return j.Buttons[index] == 1
}

// BoolEvent is a stamped boolean signal (emergency stop).
type BoolEvent struct {
	Header Header `json:"header"`
	Data   bool   `json:"data"`
}

// =============================================================================
// Commands
// =============================================================================

// MotionCommand is a planar velocity command: V is linear speed (m/s),
// Omega the angular rate (rad/s).
type MotionCommand struct {
	Header Header  `json:"header"`
	V      float64 `json:"v"`
	Omega  float64 `json:"omega"`
}

// Validate checks that both values are finite. No clamping is applied.
func (c MotionCommand) Validate() error {
	if math.IsNaN(c.V) || math.IsInf(c.V, 0) {
		return fmt.Errorf("%w: v=%v", ErrNonFinite, c.V)
	}
	if math.IsNaN(c.Omega) || math.IsInf(c.Omega, 0) {
		return fmt.Errorf("%w: omega=%v", ErrNonFinite, c.Omega)
	}
	return nil
}

// Zero returns the zero command with the same header.
func (c MotionCommand) Zero() MotionCommand {
	return MotionCommand{Header: c.Header}
}

// IsZero reports whether both velocities are zero.
func (c MotionCommand) IsZero() bool {
	return c.V == 0 && c.Omega == 0
}

// ExecutedCommand is a command as actually applied to the drive.
type ExecutedCommand struct {
	MotionCommand
	ReceivedAt time.Time `json:"received_at"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Latency is the time between receipt and application.
func (e ExecutedCommand) Latency() time.Duration {
	return e.ExecutedAt.Sub(e.ReceivedAt)
}

// WheelsCommand carries per-wheel duty cycles in [-1, 1].
type WheelsCommand struct {
	Header   Header  `json:"header"`
	VelLeft  float64 `json:"vel_left"`
	VelRight float64 `json:"vel_right"`
}
