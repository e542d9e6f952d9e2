package hub

import (
	"context"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/teslashibe/go-duckiebot/pkg/protocol"
)

func newTestClient(h *Hub, buffer int) *Client {
	c := &Client{hub: h, send: make(chan Message, buffer)}
	h.register <- c
	return c
}

func waitClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for h.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want %d", h.ClientCount(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHub_FanOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := New("test", nil)
	go h.Run(ctx)

	a := newTestClient(h, 4)
	b := newTestClient(h, 4)
	waitClients(t, h, 2)

	if err := h.BroadcastJSON(map[string]float64{"v": 0.3}); err != nil {
		t.Fatalf("BroadcastJSON: %v", err)
	}

	for name, c := range map[string]*Client{"a": a, "b": b} {
		select {
		case msg := <-c.send:
			if msg.Type != JSONMessage || string(msg.Data) != `{"v":0.3}` {
				t.Errorf("%s got %+v", name, msg)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s received nothing", name)
		}
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := New("test", nil)
	go h.Run(ctx)

	slow := newTestClient(h, 1)
	waitClients(t, h, 1)

	h.Broadcast(NewBinaryMessage([]byte{1}))
	h.Broadcast(NewBinaryMessage([]byte{2}))
	waitClients(t, h, 0)

	<-slow.send
	if _, ok := <-slow.send; ok {
		t.Error("slow client's channel should be closed")
	}
}

func TestHub_Unregister(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := New("test", nil)
	go h.Run(ctx)

	c := newTestClient(h, 1)
	waitClients(t, h, 1)
	h.unregister <- c
	waitClients(t, h, 0)
}

func TestHub_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := New("test", nil)
	go h.Run(ctx)

	c := newTestClient(h, 1)
	cancel()

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	if _, ok := <-c.send; ok {
		t.Error("client channel should be closed on shutdown")
	}
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	h := New("idle", nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.Broadcast(NewJSONMessage([]byte("{}")))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked without a running hub")
	}
	if h.Dropped() == 0 {
		t.Error("expected dropped broadcasts once the buffer filled")
	}
}

func TestEncode(t *testing.T) {
	cbor, err := protocol.NewCBORCodec()
	if err != nil {
		t.Fatalf("NewCBORCodec: %v", err)
	}
	cmd := protocol.NewMotionCommand(protocol.NewHeader(3, "cam"), 0.3, -0.1)

	tests := []struct {
		name      string
		codec     protocol.Codec
		wantType  MessageType
		wantFrame int
	}{
		{"json", protocol.JSONCodec{}, JSONMessage, websocket.TextMessage},
		{"cbor", cbor, BinaryMessage, websocket.BinaryMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Encode(tt.codec, cmd)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if msg.Type != tt.wantType || msg.Type.frameType() != tt.wantFrame {
				t.Errorf("type = %v frame = %d, want %v/%d", msg.Type, msg.Type.frameType(), tt.wantType, tt.wantFrame)
			}
			var got protocol.MotionCommand
			if err := tt.codec.Unmarshal(msg.Data, &got); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if got.V != 0.3 || got.Omega != -0.1 || got.Header.Seq != 3 {
				t.Errorf("decoded %+v", got)
			}
		})
	}
}
