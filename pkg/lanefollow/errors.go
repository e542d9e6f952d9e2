package lanefollow

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrDecode marks a frame that could not be turned into a model tensor.
	ErrDecode = errors.New("lanefollow: frame decode failed")

	// ErrEmptyFrame is returned for frames without image data.
	ErrEmptyFrame = errors.New("lanefollow: empty frame")

	// ErrInvalidOutput is returned when the model output is empty or non-finite.
	ErrInvalidOutput = errors.New("lanefollow: invalid model output")

	// ErrShape is returned when a tensor's data does not match its shape.
	ErrShape = errors.New("lanefollow: tensor shape mismatch")
)

// DecodeError aborts one inference cycle. It is logged, never fatal.
type DecodeError struct {
	Seq uint64
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("lanefollow: decode frame %d: %v", e.Seq, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrDecode) true for every DecodeError.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}
