package lanefollow

import (
	"log/slog"
	"sync/atomic"

	"github.com/teslashibe/go-duckiebot/internal/log"
	"github.com/teslashibe/go-duckiebot/pkg/protocol"
)

// Toggle is the operator's enable switch for lane following.
// Reads and writes are atomic; it is safe for concurrent use.
type Toggle struct {
	engaged atomic.Bool
	button  int
	logger  *slog.Logger
}

// NewToggle creates a Toggle listening on the given joy button.
func NewToggle(button int, engaged bool, logger *slog.Logger) *Toggle {
	t := &Toggle{button: button, logger: log.Component(logger, "toggle")}
	t.engaged.Store(engaged)
	return t
}

// OnSignal flips the state when the event has the toggle button pressed.
// It reports whether the state changed.
func (t *Toggle) OnSignal(ev protocol.JoyEvent) bool {
	if !ev.Pressed(t.button) {
		return false
	}
	for {
		cur := t.engaged.Load()
		if t.engaged.CompareAndSwap(cur, !cur) {
			t.logTransition(!cur)
			return true
		}
	}
}

// Set forces the state and reports whether it changed.
func (t *Toggle) Set(engaged bool) bool {
	if t.engaged.Swap(engaged) == engaged {
		return false
	}
	t.logTransition(engaged)
	return true
}

// Engaged reports whether lane following is on.
func (t *Toggle) Engaged() bool {
	return t.engaged.Load()
}

func (t *Toggle) logTransition(engaged bool) {
	if engaged {
		t.logger.Info("start lane following")
	} else {
		t.logger.Info("stop lane following")
	}
}
