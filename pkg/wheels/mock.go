package wheels

import (
	"sync"
)

// DriveCall records one Apply.
type DriveCall struct {
	V, Omega float64
}

// MockDrive implements Drive for testing. All calls are recorded.
type MockDrive struct {
	// ApplyFunc is called when Apply is invoked.
	// If nil, Apply succeeds.
	ApplyFunc func(v, omega float64) error

	mu                sync.Mutex
	calls             []DriveCall
	closed            bool
	appliedAfterClose int
}

var _ Drive = (*MockDrive)(nil)

// NewMockDrive creates a drive that accepts every command.
func NewMockDrive() *MockDrive {
	return &MockDrive{}
}

// Apply implements Drive.
func (m *MockDrive) Apply(v, omega float64) error {
	m.mu.Lock()
	fn := m.ApplyFunc
	if m.closed {
		m.appliedAfterClose++
	}
	m.mu.Unlock()

	if fn != nil {
		if err := fn(v, omega); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, DriveCall{V: v, Omega: omega})
	m.mu.Unlock()
	return nil
}

// Close implements Drive.
func (m *MockDrive) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Calls returns a copy of the successful applies.
func (m *MockDrive) Calls() []DriveCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DriveCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Last returns the most recent successful apply.
func (m *MockDrive) Last() (DriveCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return DriveCall{}, false
	}
	return m.calls[len(m.calls)-1], true
}

// Closed reports whether Close was called.
func (m *MockDrive) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// AppliedAfterClose counts Apply calls made after Close.
func (m *MockDrive) AppliedAfterClose() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appliedAfterClose
}
