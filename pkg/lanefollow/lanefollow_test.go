package lanefollow

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-duckiebot/pkg/protocol"
	"github.com/teslashibe/go-duckiebot/pkg/transport"
)

const floatTolerance = 1e-9

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < floatTolerance
}

// recordingSink records published commands.
type recordingSink struct {
	mu      sync.Mutex
	cmds    []protocol.MotionCommand
	headers []protocol.Header
	err     error
}

func (r *recordingSink) Publish(cmd protocol.MotionCommand, source protocol.Header) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	cmd.Header = source
	r.cmds = append(r.cmds, cmd)
	r.headers = append(r.headers, source)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cmds)
}

func (r *recordingSink) last() protocol.MotionCommand {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cmds[len(r.cmds)-1]
}

type fixedEngager bool

func (f fixedEngager) Engaged() bool { return bool(f) }

func testFrame(seq uint64) protocol.Frame {
	return protocol.NewJPEGFrame([]byte{0xff, 0xd8, 0xff}, seq, "camera")
}

func newTestStage(graph Graph) *Stage {
	cfg := DefaultConfig()
	return NewStage(NewMockDecoder(cfg.Preprocess), graph, cfg)
}

// =============================================================================
// Config
// =============================================================================

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	rows, cols, ch := cfg.Preprocess.OutputShape()
	if rows != 70 || cols != 160 || ch != 3 {
		t.Errorf("OutputShape = %dx%dx%d, want 70x160x3", rows, cols, ch)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown speed mode", func(c *Config) { c.SpeedMode = "turbo" }},
		{"nan gain", func(c *Config) { c.OmegaGain = math.NaN() }},
		{"inf speed", func(c *Config) { c.Speed = math.Inf(1) }},
		{"adaptive zero threshold", func(c *Config) { c.SpeedMode = SpeedAdaptive; c.OmegaThreshold = 0 }},
		{"adaptive min above max", func(c *Config) { c.SpeedMode = SpeedAdaptive; c.MinSpeed = 0.5 }},
		{"negative button", func(c *Config) { c.ToggleButton = -1 }},
		{"negative timeout", func(c *Config) { c.InferenceTimeout = -time.Second }},
		{"crop beyond height", func(c *Config) { c.Preprocess.CropTop = 120 }},
		{"zero width", func(c *Config) { c.Preprocess.Width = 0 }},
		{"inverted norm", func(c *Config) { c.Preprocess.NormMin = 1; c.Preprocess.NormMax = 0 }},
		{"missing model", func(c *Config) { c.Model.Path = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

// =============================================================================
// Stage
// =============================================================================

func TestStage_MapsRawOutput(t *testing.T) {
	stage := newTestStage(NewMockGraph(0.5))
	frame := testFrame(7)

	cmd, err := stage.Infer(frame)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if !floatEquals(cmd.V, 0.2) {
		t.Errorf("V = %v, want 0.2", cmd.V)
	}
	if !floatEquals(cmd.Omega, 1.5) {
		t.Errorf("Omega = %v, want 1.5", cmd.Omega)
	}
	if cmd.Header != frame.Header {
		t.Errorf("header = %+v, want %+v", cmd.Header, frame.Header)
	}
}

func TestMockGraph_KeepsOnlyLastInput(t *testing.T) {
	g := NewMockGraph(0)
	rows, cols, ch := DefaultConfig().Preprocess.OutputShape()

	for i := 0; i < 1000; i++ {
		in := Tensor{Rows: rows, Cols: cols, Channels: ch, Data: make([]float32, rows*cols*ch)}
		in.Data[0] = float32(i)
		if _, err := g.InferRaw(in); err != nil {
			t.Fatalf("InferRaw: %v", err)
		}
	}

	if g.Calls() != 1000 {
		t.Errorf("Calls = %d, want 1000", g.Calls())
	}
	last := g.LastInput()
	if last.Rows != rows || last.Cols != cols || last.Data[0] != 999 {
		t.Errorf("LastInput = %dx%d first=%v, want %dx%d first=999", last.Rows, last.Cols, last.Data[0], rows, cols)
	}
}

func TestStage_ZeroOutput(t *testing.T) {
	stage := newTestStage(NewMockGraph(0))
	cmd, err := stage.Infer(testFrame(1))
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if cmd.Omega != 0 || !floatEquals(cmd.V, 0.2) {
		t.Errorf("cmd = (%v, %v), want (0.2, 0)", cmd.V, cmd.Omega)
	}
}

func TestStage_Errors(t *testing.T) {
	decodeFail := errors.New("bad jpeg")

	tests := []struct {
		name    string
		frame   protocol.Frame
		decoder *MockDecoder
		graph   *MockGraph
		wantErr error
	}{
		{
			name:    "empty frame",
			frame:   protocol.Frame{Header: protocol.NewHeader(1, "camera")},
			wantErr: ErrDecode,
		},
		{
			name:  "decoder error",
			frame: testFrame(2),
			decoder: &MockDecoder{DecodeFunc: func([]byte) (Tensor, error) {
				return Tensor{}, decodeFail
			}},
			wantErr: decodeFail,
		},
		{
			name:  "shape mismatch",
			frame: testFrame(3),
			decoder: &MockDecoder{DecodeFunc: func([]byte) (Tensor, error) {
				return Tensor{Rows: 2, Cols: 2, Channels: 3, Data: make([]float32, 5)}, nil
			}},
			wantErr: ErrShape,
		},
		{
			name:    "empty output",
			frame:   testFrame(4),
			graph:   &MockGraph{Output: nil},
			wantErr: ErrInvalidOutput,
		},
		{
			name:    "nan output",
			frame:   testFrame(5),
			graph:   NewMockGraph(float32(math.NaN())),
			wantErr: ErrInvalidOutput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			dec := tt.decoder
			if dec == nil {
				dec = NewMockDecoder(cfg.Preprocess)
			}
			graph := tt.graph
			if graph == nil {
				graph = NewMockGraph(0.1)
			}
			_, err := NewStage(dec, graph, cfg).Infer(tt.frame)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStage_DecodeErrorSkipsGraph(t *testing.T) {
	cfg := DefaultConfig()
	dec := &MockDecoder{DecodeFunc: func([]byte) (Tensor, error) {
		return Tensor{}, errors.New("corrupt")
	}}
	graph := NewMockGraph(0.1)

	_, err := NewStage(dec, graph, cfg).Infer(testFrame(9))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *DecodeError", err)
	}
	if de.Seq != 9 {
		t.Errorf("Seq = %d, want 9", de.Seq)
	}
	if graph.Calls() != 0 {
		t.Errorf("graph called %d times after decode failure", graph.Calls())
	}
}

func TestAdaptiveSpeed(t *testing.T) {
	tests := []struct {
		raw  float64
		want float64
	}{
		{0, 0.2},
		{1.25, 0.15},
		{-1.25, 0.15},
		{2.5, 0.1},
		{10, 0.1},
		{-10, 0.1},
	}
	for _, tt := range tests {
		got := AdaptiveSpeed(tt.raw, 0.1, 0.2, 2.5)
		if !floatEquals(got, tt.want) {
			t.Errorf("AdaptiveSpeed(%v) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestStage_AdaptiveMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpeedMode = SpeedAdaptive
	stage := NewStage(NewMockDecoder(cfg.Preprocess), NewMockGraph(1.25), cfg)

	cmd, err := stage.Infer(testFrame(1))
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if !floatEquals(cmd.V, 0.15) {
		t.Errorf("V = %v, want 0.15", cmd.V)
	}
	if !floatEquals(cmd.Omega, 3.75) {
		t.Errorf("Omega = %v, want 3.75", cmd.Omega)
	}
}

// =============================================================================
// Toggle
// =============================================================================

func TestToggle_OnSignal(t *testing.T) {
	tg := NewToggle(DefaultToggleButton, false, nil)

	if tg.OnSignal(protocol.NewButtonEvent(2)) {
		t.Error("other button should not toggle")
	}
	if tg.Engaged() {
		t.Fatal("should start disengaged")
	}

	if !tg.OnSignal(protocol.NewButtonEvent(DefaultToggleButton)) || !tg.Engaged() {
		t.Error("first press should engage")
	}
	if !tg.OnSignal(protocol.NewButtonEvent(DefaultToggleButton)) || tg.Engaged() {
		t.Error("second press should disengage")
	}

	released := protocol.JoyEvent{Buttons: make([]int32, 8)}
	if tg.OnSignal(released) {
		t.Error("released button should not toggle")
	}
	if tg.OnSignal(protocol.JoyEvent{}) {
		t.Error("short button array should not toggle")
	}
}

func TestToggle_Set(t *testing.T) {
	tg := NewToggle(DefaultToggleButton, true, nil)
	if tg.Set(true) {
		t.Error("Set to same state should report no change")
	}
	if !tg.Set(false) || tg.Engaged() {
		t.Error("Set(false) should disengage")
	}
}

func TestToggle_ConcurrentPresses(t *testing.T) {
	tg := NewToggle(DefaultToggleButton, false, nil)
	ev := protocol.NewButtonEvent(DefaultToggleButton)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tg.OnSignal(ev)
		}()
	}
	wg.Wait()

	if tg.Engaged() {
		t.Error("an even number of presses should leave the toggle disengaged")
	}
}

// =============================================================================
// Scheduler
// =============================================================================

func TestScheduler_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	graph := &MockGraph{InferFunc: func(Tensor) ([]float32, error) {
		started <- struct{}{}
		<-release
		return []float32{0.1}, nil
	}}
	sink := &recordingSink{}
	sched := NewScheduler(newTestStage(graph), sink, fixedEngager(true), 0, nil)

	if !sched.Submit(testFrame(1)) {
		t.Fatal("first frame should be dispatched")
	}
	<-started

	for seq := uint64(2); seq <= 10; seq++ {
		if sched.Submit(testFrame(seq)) {
			t.Errorf("frame %d dispatched while busy", seq)
		}
	}

	close(release)
	sched.Wait()

	if sink.count() != 1 {
		t.Fatalf("published %d commands, want 1", sink.count())
	}
	if sink.last().Header.Seq != 1 {
		t.Errorf("published seq %d, want 1", sink.last().Header.Seq)
	}

	st := sched.Stats()
	if st.DroppedBusy != 9 {
		t.Errorf("DroppedBusy = %d, want 9", st.DroppedBusy)
	}
	if st.Busy {
		t.Error("scheduler should be idle after Wait")
	}

	if !sched.Submit(testFrame(11)) {
		t.Error("frame after completion should be dispatched")
	}
	sched.Wait()
	if sink.last().Header.Seq != 11 {
		t.Errorf("published seq %d, want 11", sink.last().Header.Seq)
	}
}

func TestScheduler_NeverOverlaps(t *testing.T) {
	graph := &MockGraph{InferFunc: func(Tensor) ([]float32, error) {
		time.Sleep(time.Millisecond)
		return []float32{0.2}, nil
	}}
	sched := NewScheduler(newTestStage(graph), &recordingSink{}, fixedEngager(true), 0, nil)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				sched.Submit(testFrame(uint64(g*100 + i)))
			}
		}(g)
	}
	wg.Wait()
	sched.Close()

	if peak := graph.PeakConcurrency(); peak != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak)
	}
	st := sched.Stats()
	if st.Submitted != 400 {
		t.Errorf("Submitted = %d, want 400", st.Submitted)
	}
	if st.Dispatched+st.DroppedBusy != st.Submitted {
		t.Errorf("dispatched %d + dropped %d != submitted %d", st.Dispatched, st.DroppedBusy, st.Submitted)
	}
}

func TestScheduler_Disengaged(t *testing.T) {
	graph := NewMockGraph(0.1)
	sink := &recordingSink{}
	sched := NewScheduler(newTestStage(graph), sink, fixedEngager(false), 0, nil)

	for seq := uint64(1); seq <= 3; seq++ {
		if sched.Submit(testFrame(seq)) {
			t.Error("frame dispatched while disengaged")
		}
	}
	sched.Wait()

	if graph.Calls() != 0 || sink.count() != 0 {
		t.Errorf("graph calls %d, published %d, want 0, 0", graph.Calls(), sink.count())
	}
	if st := sched.Stats(); st.DroppedDisengaged != 3 {
		t.Errorf("DroppedDisengaged = %d, want 3", st.DroppedDisengaged)
	}
}

func TestScheduler_DecodeFailureReleasesSlot(t *testing.T) {
	cfg := DefaultConfig()
	fail := true
	dec := NewMockDecoder(cfg.Preprocess)
	dec.DecodeFunc = func([]byte) (Tensor, error) {
		if fail {
			return Tensor{}, errors.New("corrupt")
		}
		return Tensor{Rows: 1, Cols: 1, Channels: 3, Data: make([]float32, 3)}, nil
	}
	sink := &recordingSink{}
	sched := NewScheduler(NewStage(dec, NewMockGraph(0.3), cfg), sink, fixedEngager(true), 0, nil)

	sched.Submit(testFrame(1))
	sched.Wait()
	if sink.count() != 0 {
		t.Fatal("nothing should publish for a corrupt frame")
	}

	fail = false
	if !sched.Submit(testFrame(2)) {
		t.Fatal("slot should be free after decode failure")
	}
	sched.Wait()

	if sink.count() != 1 || sink.last().Header.Seq != 2 {
		t.Errorf("want one command for frame 2, got %d", sink.count())
	}
	if st := sched.Stats(); st.DecodeErrors != 1 || st.Published != 1 {
		t.Errorf("DecodeErrors = %d, Published = %d, want 1, 1", st.DecodeErrors, st.Published)
	}
}

func TestScheduler_InferencePanicRecovered(t *testing.T) {
	calls := 0
	graph := &MockGraph{InferFunc: func(Tensor) ([]float32, error) {
		calls++
		if calls == 1 {
			panic("accelerator fault")
		}
		return []float32{0}, nil
	}}
	sink := &recordingSink{}
	sched := NewScheduler(newTestStage(graph), sink, fixedEngager(true), 0, nil)

	sched.Submit(testFrame(1))
	sched.Wait()
	sched.Submit(testFrame(2))
	sched.Wait()

	if sink.count() != 1 {
		t.Errorf("published %d, want 1", sink.count())
	}
	if st := sched.Stats(); st.InferenceErrors != 1 {
		t.Errorf("InferenceErrors = %d, want 1", st.InferenceErrors)
	}
}

func TestScheduler_StaleResultDiscarded(t *testing.T) {
	graph := &MockGraph{InferFunc: func(Tensor) ([]float32, error) {
		time.Sleep(30 * time.Millisecond)
		return []float32{0.1}, nil
	}}
	sink := &recordingSink{}
	sched := NewScheduler(newTestStage(graph), sink, fixedEngager(true), 5*time.Millisecond, nil)

	sched.Submit(testFrame(1))
	sched.Wait()

	if sink.count() != 0 {
		t.Error("stale result should not be published")
	}
	if st := sched.Stats(); st.Stale != 1 {
		t.Errorf("Stale = %d, want 1", st.Stale)
	}
}

func TestScheduler_PublishErrorCounted(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker down")}
	sched := NewScheduler(newTestStage(NewMockGraph(0)), sink, fixedEngager(true), 0, nil)

	sched.Submit(testFrame(1))
	sched.Wait()

	if st := sched.Stats(); st.PublishErrors != 1 || st.Published != 0 {
		t.Errorf("PublishErrors = %d, Published = %d, want 1, 0", st.PublishErrors, st.Published)
	}
	if !sched.Submit(testFrame(2)) {
		t.Error("slot should be free after publish error")
	}
	sched.Wait()
}

func TestScheduler_CloseRejects(t *testing.T) {
	graph := NewMockGraph(0)
	sched := NewScheduler(newTestStage(graph), &recordingSink{}, fixedEngager(true), 0, nil)
	sched.Close()
	sched.Close()

	if sched.Submit(testFrame(1)) {
		t.Error("Submit after Close should not dispatch")
	}
	if st := sched.Stats(); st.DroppedClosed != 1 {
		t.Errorf("DroppedClosed = %d, want 1", st.DroppedClosed)
	}
}

// =============================================================================
// Node
// =============================================================================

type nodeHarness struct {
	bus    *transport.Memory
	codec  protocol.Codec
	topics *transport.Topics
	node   *Node
	cmds   chan protocol.MotionCommand
}

func newNodeHarness(t *testing.T, graph Graph, engaged bool) *nodeHarness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.StartEngaged = engaged

	h := &nodeHarness{
		bus:    transport.NewMemory(),
		codec:  protocol.JSONCodec{},
		topics: transport.NewTopics("bot"),
		cmds:   make(chan protocol.MotionCommand, 16),
	}
	stage := NewStage(NewMockDecoder(cfg.Preprocess), graph, cfg)
	h.node = NewNode(cfg, h.bus, h.codec, h.topics, stage, nil)

	_, err := h.bus.Subscribe(h.topics.CarCmd(), func(p []byte) {
		var cmd protocol.MotionCommand
		if err := h.codec.Unmarshal(p, &cmd); err != nil {
			t.Errorf("unmarshal car_cmd: %v", err)
			return
		}
		h.cmds <- cmd
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := h.node.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		h.node.Close()
		h.bus.Close()
	})
	return h
}

func (h *nodeHarness) publish(t *testing.T, topic string, v any) {
	t.Helper()
	if err := transport.PublishMessage(h.bus, h.codec, topic, v); err != nil {
		t.Fatalf("publish %s: %v", topic, err)
	}
}

func (h *nodeHarness) expectCommand(t *testing.T) protocol.MotionCommand {
	t.Helper()
	select {
	case cmd := <-h.cmds:
		return cmd
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for car_cmd")
		return protocol.MotionCommand{}
	}
}

func TestNode_FrameToCommand(t *testing.T) {
	h := newNodeHarness(t, NewMockGraph(0.5), true)

	frame := testFrame(42)
	h.publish(t, h.topics.CameraImage(), frame)

	cmd := h.expectCommand(t)
	if cmd.Header.Seq != 42 || !cmd.Header.Stamp.Equal(frame.Header.Stamp) {
		t.Errorf("header = %+v, want %+v", cmd.Header, frame.Header)
	}
	if !floatEquals(cmd.V, 0.2) || !floatEquals(cmd.Omega, 1.5) {
		t.Errorf("cmd = (%v, %v), want (0.2, 1.5)", cmd.V, cmd.Omega)
	}
}

func TestNode_JoyToggleGatesFrames(t *testing.T) {
	graph := NewMockGraph(0)
	h := newNodeHarness(t, graph, false)

	h.publish(t, h.topics.CameraImage(), testFrame(1))
	h.node.sched.Wait()
	if graph.Calls() != 0 {
		t.Fatal("disengaged node should not infer")
	}

	h.publish(t, h.topics.Joy(), protocol.NewButtonEvent(DefaultToggleButton))
	if !h.node.Engaged() {
		t.Fatal("joy press should engage")
	}

	h.publish(t, h.topics.CameraImage(), testFrame(2))
	if cmd := h.expectCommand(t); cmd.Header.Seq != 2 {
		t.Errorf("seq = %d, want 2", cmd.Header.Seq)
	}
}

func TestNode_MalformedPayloads(t *testing.T) {
	h := newNodeHarness(t, NewMockGraph(0), true)

	h.bus.Publish(h.topics.CameraImage(), []byte("not json"))
	h.bus.Publish(h.topics.Joy(), []byte("{"))

	if st := h.node.Stats(); st.Malformed != 2 {
		t.Errorf("Malformed = %d, want 2", st.Malformed)
	}
}

func TestNode_CloseUnsubscribes(t *testing.T) {
	h := newNodeHarness(t, NewMockGraph(0), true)

	if err := h.node.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := h.bus.SubscriberCount(h.topics.CameraImage()); n != 0 {
		t.Errorf("camera subscribers = %d, want 0", n)
	}
	if err := h.node.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := h.node.Start(); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
}
