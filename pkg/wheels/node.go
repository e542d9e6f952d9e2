package wheels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-duckiebot/internal/log"
	"github.com/teslashibe/go-duckiebot/pkg/protocol"
	"github.com/teslashibe/go-duckiebot/pkg/transport"
)

// Stats is a snapshot of actuation counters.
type Stats struct {
	State         State         `json:"state"`
	Received      uint64        `json:"received"`
	Applied       uint64        `json:"applied"`
	Overridden    uint64        `json:"overridden"`
	Rejected      uint64        `json:"rejected"`
	Malformed     uint64        `json:"malformed"`
	PublishErrors uint64        `json:"publish_errors"`
	EStopEvents   uint64        `json:"estop_events"`
	LastLatency   time.Duration `json:"last_latency"`
	Closed        bool          `json:"closed"`
}

// Node gates incoming motion commands through the emergency stop and
// applies them. Applies are serialized, so a transition into Stopped and
// the commands around it are totally ordered.
type Node struct {
	cfg    Config
	bus    transport.Bus
	codec  protocol.Codec
	topics *transport.Topics
	drive  Drive
	gate   *Gate
	exec   *Executor
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	subs   []transport.Subscription

	errs         chan error
	shutdownOnce sync.Once
	shutdownErr  error

	received      atomic.Uint64
	applied       atomic.Uint64
	overridden    atomic.Uint64
	rejected      atomic.Uint64
	malformed     atomic.Uint64
	publishErrors atomic.Uint64
	estopEvents   atomic.Uint64
	lastLatency   atomic.Int64
}

// NewNode creates an actuation node. The node owns drive and closes it on
// Shutdown.
func NewNode(cfg Config, bus transport.Bus, codec protocol.Codec, topics *transport.Topics, drive Drive, logger *slog.Logger) *Node {
	return &Node{
		cfg:    cfg,
		bus:    bus,
		codec:  codec,
		topics: topics,
		drive:  drive,
		gate:   &Gate{},
		exec:   NewExecutor(drive, bus, codec, topics.WheelsCmdExecuted()),
		logger: log.Component(logger, "wheels"),
		errs:   make(chan error, 1),
	}
}

// OnExecuted registers an observer for every applied command.
// Call before Start.
func (n *Node) OnExecuted(fn func(protocol.ExecutedCommand)) {
	n.exec.OnExecuted(fn)
}

// Start subscribes to the command and emergency-stop topics.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return transport.ErrClosed
	}
	if len(n.subs) > 0 {
		return nil
	}

	estop, err := n.bus.Subscribe(n.topics.EmergencyStop(), n.onEStop)
	if err != nil {
		return fmt.Errorf("wheels: subscribe emergency stop: %w", err)
	}
	cmd, err := n.bus.Subscribe(n.topics.CarCmd(), n.onCommand)
	if err != nil {
		estop.Unsubscribe()
		return fmt.Errorf("wheels: subscribe car_cmd: %w", err)
	}
	n.subs = []transport.Subscription{estop, cmd}

	n.logger.Info("wheels driver started",
		"car_cmd", n.topics.CarCmd(),
		"estop", n.topics.EmergencyStop(),
		"estop_mode", n.cfg.EStopMode)
	return nil
}

// Run starts the node and blocks until ctx is done or a fatal error
// occurs. Shutdown always runs before Run returns, including on panic.
func (n *Node) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("wheels: panic: %v", r)
		}
		if serr := n.Shutdown(); serr != nil {
			err = errors.Join(err, serr)
		}
	}()

	if err := n.Start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		n.logger.Info("shutdown requested")
		return nil
	case err := <-n.errs:
		n.logger.Error("fatal actuation error", "error", err)
		return err
	}
}

// Shutdown stops accepting commands, applies the zero command and releases
// the drive. It runs once; later calls return the first result.
func (n *Node) Shutdown() error {
	n.shutdownOnce.Do(func() {
		n.shutdownErr = n.shutdown()
	})
	return n.shutdownErr
}

func (n *Node) shutdown() error {
	n.mu.Lock()
	n.closed = true
	subs := n.subs
	n.subs = nil
	n.mu.Unlock()

	var errs []error
	if err := transport.UnsubscribeAll(subs); err != nil {
		errs = append(errs, err)
	}

	n.logger.Info("shutting down motors")
	n.mu.Lock()
	_, err := n.exec.Apply(protocol.MotionCommand{Header: protocol.NewHeader(0, "shutdown")}, time.Now())
	n.mu.Unlock()
	if err != nil {
		n.logger.Error("zero command on shutdown failed", "error", err)
		errs = append(errs, err)
	}

	if err := n.drive.Close(); err != nil {
		errs = append(errs, fmt.Errorf("wheels: close drive: %w", err))
	}
	return errors.Join(errs...)
}

// fail reports a fatal error to Run. Only the first one is kept.
func (n *Node) fail(err error) {
	select {
	case n.errs <- err:
	default:
	}
}

func (n *Node) recoverHandler(topic string) {
	if r := recover(); r != nil {
		n.logger.Error("handler panicked", "topic", topic, "panic", r)
		n.fail(fmt.Errorf("wheels: %s handler panic: %v", topic, r))
	}
}

func (n *Node) onCommand(payload []byte) {
	receivedAt := time.Now()
	defer n.recoverHandler("car_cmd")

	var cmd protocol.MotionCommand
	if err := n.codec.Unmarshal(payload, &cmd); err != nil {
		n.malformed.Add(1)
		n.logger.Warn("malformed command", "error", err)
		return
	}
	n.received.Add(1)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	if n.gate.State() == Stopped && !cmd.IsZero() {
		n.overridden.Add(1)
	}
	n.applyLocked(n.gate.Filter(cmd), receivedAt)
}

func (n *Node) onEStop(payload []byte) {
	defer n.recoverHandler("emergency_stop")

	var ev protocol.BoolEvent
	if err := n.codec.Unmarshal(payload, &ev); err != nil {
		n.malformed.Add(1)
		n.logger.Warn("malformed emergency stop", "error", err)
		return
	}
	n.estopEvents.Add(1)

	switch n.cfg.EStopMode {
	case EStopExplicit:
		if ev.Data {
			n.EmergencyStop()
		} else {
			n.Resume()
		}
	default:
		n.ToggleEStop()
	}
}

// applyLocked runs one command through the executor. Caller holds n.mu.
func (n *Node) applyLocked(cmd protocol.MotionCommand, receivedAt time.Time) {
	exec, err := n.exec.Apply(cmd, receivedAt)

	var actErr *ActuationError
	switch {
	case errors.As(err, &actErr):
		n.fail(err)
		return
	case errors.Is(err, protocol.ErrNonFinite):
		n.rejected.Add(1)
		n.logger.Warn("rejected command", "seq", cmd.Header.Seq, "error", err)
		return
	case err != nil:
		n.publishErrors.Add(1)
		n.logger.Warn("publish executed command failed", "error", err)
	}

	n.applied.Add(1)
	n.lastLatency.Store(int64(exec.Latency()))
}

// transition changes the gate under the apply lock and issues the forced
// zero on entry into Stopped.
func (n *Node) transition(change func() bool) (State, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || !change() {
		return n.gate.State(), false
	}

	state := n.gate.State()
	if state == Stopped {
		n.logger.Warn("emergency stop activated")
		n.applyLocked(protocol.MotionCommand{Header: protocol.NewHeader(0, "estop")}, time.Now())
	} else {
		n.logger.Info("emergency stop released")
	}
	return state, true
}

// ToggleEStop flips the gate. It returns the resulting state and whether the
// flip happened; a closed node reports its last state unchanged.
func (n *Node) ToggleEStop() (State, bool) {
	return n.transition(func() bool {
		n.gate.Toggle()
		return true
	})
}

// EmergencyStop latches Stopped and reports whether the state changed.
func (n *Node) EmergencyStop() bool {
	_, changed := n.transition(n.gate.Engage)
	return changed
}

// Resume returns to Running and reports whether the state changed.
func (n *Node) Resume() bool {
	_, changed := n.transition(n.gate.Release)
	return changed
}

// State returns the gate state.
func (n *Node) State() State {
	return n.gate.State()
}

// Stats returns a snapshot of the counters.
func (n *Node) Stats() Stats {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()

	return Stats{
		State:         n.gate.State(),
		Received:      n.received.Load(),
		Applied:       n.applied.Load(),
		Overridden:    n.overridden.Load(),
		Rejected:      n.rejected.Load(),
		Malformed:     n.malformed.Load(),
		PublishErrors: n.publishErrors.Load(),
		EStopEvents:   n.estopEvents.Load(),
		LastLatency:   time.Duration(n.lastLatency.Load()),
		Closed:        closed,
	}
}
