package lanefollow

import (
	"fmt"
)

// Tensor is a dense float32 image tensor in HWC order.
type Tensor struct {
	Rows     int
	Cols     int
	Channels int
	Data     []float32
}

// Len returns Rows*Cols*Channels.
func (t Tensor) Len() int {
	return t.Rows * t.Cols * t.Channels
}

// At returns the value at (row, col, channel).
func (t Tensor) At(row, col, ch int) float32 {
	return t.Data[(row*t.Cols+col)*t.Channels+ch]
}

// Validate checks that Data matches the declared shape.
func (t Tensor) Validate() error {
	if t.Rows <= 0 || t.Cols <= 0 || t.Channels <= 0 {
		return fmt.Errorf("%w: %dx%dx%d", ErrShape, t.Rows, t.Cols, t.Channels)
	}
	if len(t.Data) != t.Len() {
		return fmt.Errorf("%w: %d values for %dx%dx%d", ErrShape, len(t.Data), t.Rows, t.Cols, t.Channels)
	}
	return nil
}

// Range returns the minimum and maximum values.
func (t Tensor) Range() (lo, hi float32) {
	if len(t.Data) == 0 {
		return 0, 0
	}
	lo, hi = t.Data[0], t.Data[0]
	for _, v := range t.Data[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
