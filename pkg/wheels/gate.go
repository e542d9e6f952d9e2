package wheels

import (
	"sync/atomic"

	"github.com/teslashibe/go-duckiebot/pkg/protocol"
)

// State is the emergency-stop gate state.
type State int

const (
	Running State = iota
	Stopped
)

// String returns the state name.
func (s State) String() string {
	if s == Stopped {
		return "stopped"
	}
	return "running"
}

// MarshalText renders the state name in JSON and YAML.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Gate is the latched emergency-stop flag. Initial state is Running.
type Gate struct {
	stopped atomic.Bool
}

// Toggle flips the latch and returns the new state.
func (g *Gate) Toggle() State {
	for {
		cur := g.stopped.Load()
		if g.stopped.CompareAndSwap(cur, !cur) {
			return stateOf(!cur)
		}
	}
}

// Engage latches Stopped and reports whether the state changed.
func (g *Gate) Engage() bool {
	return g.stopped.CompareAndSwap(false, true)
}

// Release returns to Running and reports whether the state changed.
func (g *Gate) Release() bool {
	return g.stopped.CompareAndSwap(true, false)
}

// State returns the current state.
func (g *Gate) State() State {
	return stateOf(g.stopped.Load())
}

// Filter returns cmd unchanged while Running and its zero (header kept)
// while Stopped.
func (g *Gate) Filter(cmd protocol.MotionCommand) protocol.MotionCommand {
	if g.stopped.Load() {
		return cmd.Zero()
	}
	return cmd
}

func stateOf(stopped bool) State {
	if stopped {
		return Stopped
	}
	return Running
}
