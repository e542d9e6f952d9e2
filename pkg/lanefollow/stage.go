package lanefollow

import (
	"fmt"
	"math"

	"github.com/teslashibe/go-duckiebot/pkg/protocol"
)

// Decoder turns an encoded camera image into the model input tensor.
type Decoder interface {
	Decode(data []byte) (Tensor, error)
}

// Graph runs one forward pass on the accelerator.
// Implementations are not required to be safe for concurrent use.
type Graph interface {
	InferRaw(input Tensor) ([]float32, error)
}

// Inferer maps one frame to one motion command.
type Inferer interface {
	Infer(frame protocol.Frame) (protocol.MotionCommand, error)
}

// Stage is the decode, infer, map pipeline for a single frame.
type Stage struct {
	decoder Decoder
	graph   Graph
	cfg     Config
}

// NewStage creates a Stage bound to a decoder and a graph.
func NewStage(decoder Decoder, graph Graph, cfg Config) *Stage {
	return &Stage{decoder: decoder, graph: graph, cfg: cfg}
}

// Infer decodes the frame, runs the graph and maps the first output to a
// command. The command carries the frame's header unchanged.
func (s *Stage) Infer(frame protocol.Frame) (protocol.MotionCommand, error) {
	if len(frame.Data) == 0 {
		return protocol.MotionCommand{}, &DecodeError{Seq: frame.Header.Seq, Err: ErrEmptyFrame}
	}

	input, err := s.decoder.Decode(frame.Data)
	if err != nil {
		return protocol.MotionCommand{}, &DecodeError{Seq: frame.Header.Seq, Err: err}
	}
	if err := input.Validate(); err != nil {
		return protocol.MotionCommand{}, &DecodeError{Seq: frame.Header.Seq, Err: err}
	}

	out, err := s.graph.InferRaw(input)
	if err != nil {
		return protocol.MotionCommand{}, fmt.Errorf("lanefollow: infer frame %d: %w", frame.Header.Seq, err)
	}
	if len(out) == 0 {
		return protocol.MotionCommand{}, fmt.Errorf("%w: empty output", ErrInvalidOutput)
	}

	raw := float64(out[0])
	if !finite(raw) {
		return protocol.MotionCommand{}, fmt.Errorf("%w: %v", ErrInvalidOutput, raw)
	}

	return protocol.NewMotionCommand(frame.Header, s.speed(raw), raw*s.cfg.OmegaGain), nil
}

// speed applies the configured policy to the raw steering output.
func (s *Stage) speed(raw float64) float64 {
	if s.cfg.SpeedMode != SpeedAdaptive {
		return s.cfg.Speed
	}
	return AdaptiveSpeed(raw, s.cfg.MinSpeed, s.cfg.MaxSpeed, s.cfg.OmegaThreshold)
}

// AdaptiveSpeed interpolates linearly from maxSpeed at raw=0 to minSpeed at
// |raw| >= threshold.
func AdaptiveSpeed(raw, minSpeed, maxSpeed, threshold float64) float64 {
	a := math.Abs(raw)
	if a >= threshold {
		return minSpeed
	}
	return maxSpeed - (maxSpeed-minSpeed)*a/threshold
}
