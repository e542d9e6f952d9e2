package protocol

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestMotionCommand_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cmd     MotionCommand
		wantErr bool
	}{
		{name: "finite", cmd: MotionCommand{V: 0.3, Omega: -0.1}},
		{name: "zero", cmd: MotionCommand{}},
		{name: "nan speed", cmd: MotionCommand{V: math.NaN()}, wantErr: true},
		{name: "inf omega", cmd: MotionCommand{Omega: math.Inf(-1)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrNonFinite) {
				t.Errorf("Validate() error = %v, want ErrNonFinite", err)
			}
		})
	}
}

func TestMotionCommand_ZeroKeepsHeader(t *testing.T) {
	h := Header{Seq: 7, Stamp: time.Unix(100, 5), FrameID: "cam"}
	cmd := NewMotionCommand(h, 0.5, 2.0)

	zero := cmd.Zero()
	if !zero.IsZero() {
		t.Errorf("Zero() = %+v, want zero velocities", zero)
	}
	if zero.Header != h {
		t.Errorf("Zero() header = %+v, want %+v", zero.Header, h)
	}
	if cmd.IsZero() {
		t.Error("original command should be unchanged")
	}
}

func TestJoyEvent_Pressed(t *testing.T) {
	ev := JoyEvent{Buttons: []int32{0, 1, 0, 0, 0, 1}}

	tests := []struct {
		index int
		want  bool
	}{
		{0, false},
		{1, true},
		{5, true},
		{6, false},
		{-1, false},
	}

	for _, tt := range tests {
		if got := ev.Pressed(tt.index); got != tt.want {
			t.Errorf("Pressed(%d) = %v, want %v", tt.index, got, tt.want)
		}
	}
}

func TestNewButtonEvent(t *testing.T) {
	ev := NewButtonEvent(5)
	if len(ev.Buttons) != 6 {
		t.Fatalf("len(Buttons) = %d, want 6", len(ev.Buttons))
	}
	if !ev.Pressed(5) {
		t.Error("button 5 should be pressed")
	}
}

func TestExecutedCommand_Latency(t *testing.T) {
	recv := time.Unix(10, 0)
	exec := ExecutedCommand{ReceivedAt: recv, ExecutedAt: recv.Add(3 * time.Millisecond)}
	if exec.Latency() != 3*time.Millisecond {
		t.Errorf("Latency() = %v, want 3ms", exec.Latency())
	}
}

func TestCodecs_PreserveHeader(t *testing.T) {
	for _, name := range []string{CodecJSON, CodecCBOR} {
		t.Run(name, func(t *testing.T) {
			codec, err := NewCodec(name)
			if err != nil {
				t.Fatalf("NewCodec(%q): %v", name, err)
			}

			stamp := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
			frame := Frame{
				Header: Header{Seq: 42, Stamp: stamp, FrameID: "camera"},
				Format: "jpeg",
				Data:   []byte{0xFF, 0xD8, 0xFF, 0xE0},
			}

			data, err := codec.Marshal(frame)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}

			var got Frame
			if err := codec.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}

			if got.Header.Seq != 42 || got.Header.FrameID != "camera" {
				t.Errorf("header = %+v", got.Header)
			}
			if !got.Header.Stamp.Equal(stamp) {
				t.Errorf("stamp = %v, want %v", got.Header.Stamp, stamp)
			}
			if len(got.Data) != 4 || got.Data[0] != 0xFF {
				t.Errorf("data = %v", got.Data)
			}
		})
	}
}

func TestNewCodec_Unknown(t *testing.T) {
	if _, err := NewCodec("xml"); err == nil {
		t.Error("NewCodec(xml) should fail")
	}
}
