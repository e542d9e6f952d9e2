package lanefollow

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-duckiebot/internal/log"
	"github.com/teslashibe/go-duckiebot/pkg/protocol"
)

// Engager reports whether work should be admitted.
type Engager interface {
	Engaged() bool
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Submitted         uint64        `json:"submitted"`
	Dispatched        uint64        `json:"dispatched"`
	DroppedBusy       uint64        `json:"dropped_busy"`
	DroppedDisengaged uint64        `json:"dropped_disengaged"`
	DroppedClosed     uint64        `json:"dropped_closed"`
	DecodeErrors      uint64        `json:"decode_errors"`
	InferenceErrors   uint64        `json:"inference_errors"`
	Stale             uint64        `json:"stale"`
	Published         uint64        `json:"published"`
	PublishErrors     uint64        `json:"publish_errors"`
	Malformed         uint64        `json:"malformed"`
	LastLatency       time.Duration `json:"last_latency"`
	Busy              bool          `json:"busy"`
}

// Scheduler admits at most one inference at a time. A frame submitted while
// an inference is running is dropped, so the newest frame after completion
// is always the next one processed.
type Scheduler struct {
	stage   Inferer
	sink    CommandSink
	enable  Engager
	timeout time.Duration
	logger  *slog.Logger

	busy atomic.Bool

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	submitted         atomic.Uint64
	dispatched        atomic.Uint64
	droppedBusy       atomic.Uint64
	droppedDisengaged atomic.Uint64
	droppedClosed     atomic.Uint64
	decodeErrors      atomic.Uint64
	inferenceErrors   atomic.Uint64
	stale             atomic.Uint64
	published         atomic.Uint64
	publishErrors     atomic.Uint64
	lastLatency       atomic.Int64
}

// NewScheduler wires a stage to a sink behind an enable switch.
// timeout of zero disables stale-result detection.
func NewScheduler(stage Inferer, sink CommandSink, enable Engager, timeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		stage:   stage,
		sink:    sink,
		enable:  enable,
		timeout: timeout,
		logger:  log.Component(logger, "scheduler"),
	}
}

// Submit offers a frame for inference. It never blocks on inference and
// reports whether the frame was dispatched.
func (s *Scheduler) Submit(frame protocol.Frame) bool {
	s.submitted.Add(1)

	if !s.enable.Engaged() {
		s.droppedDisengaged.Add(1)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.droppedClosed.Add(1)
		return false
	}
	if !s.busy.CompareAndSwap(false, true) {
		s.droppedBusy.Add(1)
		return false
	}

	s.dispatched.Add(1)
	s.wg.Add(1)
	go s.run(frame)
	return true
}

// Busy reports whether an inference is in flight.
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}

func (s *Scheduler) run(frame protocol.Frame) {
	defer s.wg.Done()
	defer s.busy.Store(false)
	defer func() {
		if r := recover(); r != nil {
			s.inferenceErrors.Add(1)
			s.logger.Error("inference panicked", "seq", frame.Header.Seq, "panic", fmt.Sprint(r))
		}
	}()

	start := time.Now()
	cmd, err := s.stage.Infer(frame)
	elapsed := time.Since(start)
	s.lastLatency.Store(int64(elapsed))

	if err != nil {
		if errors.Is(err, ErrDecode) {
			s.decodeErrors.Add(1)
			s.logger.Warn("frame decode failed", "seq", frame.Header.Seq, "error", err)
		} else {
			s.inferenceErrors.Add(1)
			s.logger.Warn("inference failed", "seq", frame.Header.Seq, "error", err)
		}
		return
	}

	if s.timeout > 0 && elapsed > s.timeout {
		s.stale.Add(1)
		s.logger.Warn("discarding stale inference", "seq", frame.Header.Seq, "elapsed", elapsed, "timeout", s.timeout)
		return
	}

	if err := s.sink.Publish(cmd, frame.Header); err != nil {
		s.publishErrors.Add(1)
		s.logger.Warn("publish command failed", "seq", frame.Header.Seq, "error", err)
		return
	}
	s.published.Add(1)
	s.logger.Debug("command published", "seq", frame.Header.Seq, "v", cmd.V, "omega", cmd.Omega, "latency", elapsed)
}

// Wait blocks until the in-flight inference, if any, has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Close stops admitting frames and waits for the in-flight inference.
// Safe to call more than once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Submitted:         s.submitted.Load(),
		Dispatched:        s.dispatched.Load(),
		DroppedBusy:       s.droppedBusy.Load(),
		DroppedDisengaged: s.droppedDisengaged.Load(),
		DroppedClosed:     s.droppedClosed.Load(),
		DecodeErrors:      s.decodeErrors.Load(),
		InferenceErrors:   s.inferenceErrors.Load(),
		Stale:             s.stale.Load(),
		Published:         s.published.Load(),
		PublishErrors:     s.publishErrors.Load(),
		LastLatency:       time.Duration(s.lastLatency.Load()),
		Busy:              s.busy.Load(),
	}
}
