package lanefollow

import (
	"sync"
	"sync/atomic"
)

// MockDecoder implements Decoder for testing and dry runs.
type MockDecoder struct {
	// DecodeFunc is called when Decode is invoked.
	// If nil, returns a zero tensor of the configured shape.
	DecodeFunc func(data []byte) (Tensor, error)

	Rows, Cols, Channels int

	calls atomic.Int64
}

// NewMockDecoder creates a decoder returning zero tensors shaped by cfg.
func NewMockDecoder(cfg PreprocessConfig) *MockDecoder {
	rows, cols, ch := cfg.OutputShape()
	return &MockDecoder{Rows: rows, Cols: cols, Channels: ch}
}

// Decode implements Decoder.
func (m *MockDecoder) Decode(data []byte) (Tensor, error) {
	m.calls.Add(1)
	if m.DecodeFunc != nil {
		return m.DecodeFunc(data)
	}
	return Tensor{
		Rows:     m.Rows,
		Cols:     m.Cols,
		Channels: m.Channels,
		Data:     make([]float32, m.Rows*m.Cols*m.Channels),
	}, nil
}

// Calls returns how many times Decode ran.
func (m *MockDecoder) Calls() int {
	return int(m.calls.Load())
}

// MockGraph implements Graph for testing and dry runs. It tracks the peak
// number of concurrent InferRaw calls.
type MockGraph struct {
	// InferFunc is called when InferRaw is invoked.
	// If nil, returns Output.
	InferFunc func(input Tensor) ([]float32, error)

	// Output is returned when InferFunc is nil.
	Output []float32

	mu     sync.Mutex
	active int
	peak   int
	calls  int
	closed bool
	last   Tensor
}

// NewMockGraph creates a graph that always returns raw steering.
func NewMockGraph(raw float32) *MockGraph {
	return &MockGraph{Output: []float32{raw}}
}

// InferRaw implements Graph.
func (m *MockGraph) InferRaw(input Tensor) ([]float32, error) {
	m.mu.Lock()
	m.active++
	m.calls++
	if m.active > m.peak {
		m.peak = m.active
	}
	m.last = input
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	if m.InferFunc != nil {
		return m.InferFunc(input)
	}
	out := make([]float32, len(m.Output))
	copy(out, m.Output)
	return out, nil
}

// Close marks the graph released.
func (m *MockGraph) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Calls returns the number of InferRaw invocations.
func (m *MockGraph) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// PeakConcurrency returns the highest number of overlapping InferRaw calls.
func (m *MockGraph) PeakConcurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// LastInput returns the tensor passed to the most recent InferRaw call.
func (m *MockGraph) LastInput() Tensor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Closed reports whether Close was called.
func (m *MockGraph) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
