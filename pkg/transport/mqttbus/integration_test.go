package mqttbus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/teslashibe/go-duckiebot/pkg/transport"
)

// Run with: MQTT_BROKER=tcp://localhost:1883 go test ./pkg/transport/mqttbus/...
func TestIntegration_PublishSubscribeOrdered(t *testing.T) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" {
		t.Skip("MQTT_BROKER not set, skipping integration test")
	}

	cfg := transport.DefaultConfig().WithClientID("mqttbus-test")
	cfg.MQTT.Broker = broker

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bus, err := Dial(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer bus.Close()

	topic := cfg.ClientID + "/ordered"
	received := make(chan string, 10)
	sub, err := bus.Subscribe(topic, func(p []byte) { received <- string(p) })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	want := []string{"a", "b", "c"}
	for _, m := range want {
		if err := bus.Publish(topic, []byte(m)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	for i, w := range want {
		select {
		case got := <-received:
			if got != w {
				t.Errorf("message %d = %q, want %q", i, got, w)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}

	if stats := bus.Stats(); !stats.Connected || stats.MessagesSent < 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestDial_InvalidConfig(t *testing.T) {
	cfg := transport.DefaultConfig()
	cfg.MQTT.Broker = ""
	if _, err := Dial(context.Background(), cfg, nil); err == nil {
		t.Error("Dial with empty broker should fail")
	}
}
