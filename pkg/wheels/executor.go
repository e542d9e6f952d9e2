package wheels

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-duckiebot/pkg/protocol"
	"github.com/teslashibe/go-duckiebot/pkg/transport"
)

// ActuationError means the drive rejected a command. The drive state is
// unknown afterwards, so it halts the node.
type ActuationError struct {
	V, Omega float64
	Err      error
}

// Error implements the error interface.
func (e *ActuationError) Error() string {
	return fmt.Sprintf("wheels: apply v=%.3f omega=%.3f: %v", e.V, e.Omega, e.Err)
}

// Unwrap returns the underlying error.
func (e *ActuationError) Unwrap() error {
	return e.Err
}

// Executor applies commands to the drive and echoes what was applied.
type Executor struct {
	drive      Drive
	bus        transport.Publisher
	codec      protocol.Codec
	topic      string
	onExecuted func(protocol.ExecutedCommand)
	now        func() time.Time
}

// NewExecutor creates an executor publishing to topic.
func NewExecutor(drive Drive, bus transport.Publisher, codec protocol.Codec, topic string) *Executor {
	return &Executor{drive: drive, bus: bus, codec: codec, topic: topic, now: time.Now}
}

// OnExecuted registers an observer for applied commands. Not safe to call
// concurrently with Apply.
func (e *Executor) OnExecuted(fn func(protocol.ExecutedCommand)) {
	e.onExecuted = fn
}

// Apply drives cmd synchronously. On drive failure it returns an
// *ActuationError and publishes nothing. A publish failure after a
// successful apply is returned wrapped alongside the executed command.
func (e *Executor) Apply(cmd protocol.MotionCommand, receivedAt time.Time) (protocol.ExecutedCommand, error) {
	if err := cmd.Validate(); err != nil {
		return protocol.ExecutedCommand{}, fmt.Errorf("wheels: reject command: %w", err)
	}

	if err := e.drive.Apply(cmd.V, cmd.Omega); err != nil {
		return protocol.ExecutedCommand{}, &ActuationError{V: cmd.V, Omega: cmd.Omega, Err: err}
	}

	executedAt := e.now()
	if executedAt.Before(receivedAt) {
		executedAt = receivedAt
	}
	exec := protocol.ExecutedCommand{
		MotionCommand: cmd,
		ReceivedAt:    receivedAt,
		ExecutedAt:    executedAt,
	}

	pubErr := transport.PublishMessage(e.bus, e.codec, e.topic, exec)
	if e.onExecuted != nil {
		e.onExecuted(exec)
	}
	if pubErr != nil {
		return exec, fmt.Errorf("wheels: publish executed: %w", pubErr)
	}
	return exec, nil
}
