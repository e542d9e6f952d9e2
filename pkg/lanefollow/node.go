package lanefollow

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-duckiebot/internal/log"
	"github.com/teslashibe/go-duckiebot/pkg/protocol"
	"github.com/teslashibe/go-duckiebot/pkg/transport"
)

// Node binds the scheduler and toggle to the camera and joy topics.
type Node struct {
	cfg    Config
	bus    transport.Bus
	codec  protocol.Codec
	topics *transport.Topics
	logger *slog.Logger

	toggle *Toggle
	sched  *Scheduler

	malformed atomic.Uint64

	mu      sync.Mutex
	subs    []transport.Subscription
	started bool
	closed  bool
}

// NewNode creates an inference node. stage is usually a *Stage backed by
// the vision decoder and accelerator graph.
func NewNode(cfg Config, bus transport.Bus, codec protocol.Codec, topics *transport.Topics, stage Inferer, logger *slog.Logger) *Node {
	toggle := NewToggle(cfg.ToggleButton, cfg.StartEngaged, logger)
	pub := NewPublisher(bus, codec, topics.CarCmd())
	return &Node{
		cfg:    cfg,
		bus:    bus,
		codec:  codec,
		topics: topics,
		logger: log.Component(logger, "lanefollow"),
		toggle: toggle,
		sched:  NewScheduler(stage, pub, toggle, cfg.InferenceTimeout, logger),
	}
}

// Start subscribes to the camera and joy topics.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return transport.ErrClosed
	}
	if n.started {
		return nil
	}

	joy, err := n.bus.Subscribe(n.topics.Joy(), n.onJoy)
	if err != nil {
		return fmt.Errorf("lanefollow: subscribe joy: %w", err)
	}
	n.subs = append(n.subs, joy)

	cam, err := n.bus.Subscribe(n.topics.CameraImage(), n.onFrame)
	if err != nil {
		transport.UnsubscribeAll(n.subs)
		n.subs = nil
		return fmt.Errorf("lanefollow: subscribe camera: %w", err)
	}
	n.subs = append(n.subs, cam)
	n.started = true

	n.logger.Info("lane following node started",
		"camera", n.topics.CameraImage(),
		"car_cmd", n.topics.CarCmd(),
		"engaged", n.toggle.Engaged(),
		"speed_mode", n.cfg.SpeedMode)
	return nil
}

func (n *Node) onFrame(payload []byte) {
	var frame protocol.Frame
	if err := n.codec.Unmarshal(payload, &frame); err != nil {
		n.malformed.Add(1)
		n.logger.Warn("malformed frame", "error", err)
		return
	}
	n.sched.Submit(frame)
}

func (n *Node) onJoy(payload []byte) {
	var ev protocol.JoyEvent
	if err := n.codec.Unmarshal(payload, &ev); err != nil {
		n.malformed.Add(1)
		n.logger.Warn("malformed joy event", "error", err)
		return
	}
	n.toggle.OnSignal(ev)
}

// Engaged reports whether lane following is on.
func (n *Node) Engaged() bool {
	return n.toggle.Engaged()
}

// SetEngaged forces the toggle and reports whether it changed.
func (n *Node) SetEngaged(engaged bool) bool {
	return n.toggle.Set(engaged)
}

// Stats returns scheduler counters plus malformed inbound messages.
func (n *Node) Stats() Stats {
	st := n.sched.Stats()
	st.Malformed = n.malformed.Load()
	return st
}

// Close unsubscribes and waits for the in-flight inference to finish.
// The accelerator may be released once Close returns.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	subs := n.subs
	n.subs = nil
	n.mu.Unlock()

	err := transport.UnsubscribeAll(subs)
	n.sched.Close()
	n.logger.Info("lane following node stopped", "published", n.sched.Stats().Published)
	return err
}
