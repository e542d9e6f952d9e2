package transport

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-duckiebot/pkg/protocol"
)

// Backend names.
const (
	BackendMQTT   = "mqtt"
	BackendZMQ    = "zmq"
	BackendMemory = "memory"
)

// Config holds transport configuration.
type Config struct {
	// Backend selects the fabric: "mqtt", "zmq" or "memory".
	Backend string `yaml:"backend" json:"backend"`

	// Codec is the payload encoding: "json" or "cbor".
	Codec string `yaml:"codec" json:"codec"`

	// Prefix namespaces every topic, normally the vehicle name.
	Prefix string `yaml:"prefix" json:"prefix"`

	// ClientID identifies this node on the broker. Empty generates one.
	ClientID string `yaml:"client_id" json:"client_id"`

	MQTT MQTTConfig `yaml:"mqtt" json:"mqtt"`
	ZMQ  ZMQConfig  `yaml:"zmq" json:"zmq"`
}

// MQTTConfig configures the MQTT backend.
type MQTTConfig struct {
	// Broker URL, e.g. "tcp://localhost:1883".
	Broker   string `yaml:"broker" json:"broker"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`

	// QoS is 1 for at-least-once delivery.
	QoS byte `yaml:"qos" json:"qos"`

	ConnectTimeout       time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval" json:"reconnect_interval"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval" json:"max_reconnect_interval"`
	PublishTimeout       time.Duration `yaml:"publish_timeout" json:"publish_timeout"`

	// QueueSize bounds the per-subscription delivery queue.
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// ZMQConfig configures the ZeroMQ backend.
type ZMQConfig struct {
	// Publish is the endpoint this node's PUB socket binds, e.g. "tcp://*:5560".
	Publish string `yaml:"publish" json:"publish"`

	// Subscribe lists the peer PUB endpoints to connect to.
	Subscribe []string `yaml:"subscribe" json:"subscribe"`

	// PollInterval bounds how long a receive loop waits before checking for close.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend: BackendMQTT,
		Codec:   protocol.CodecJSON,
		Prefix:  "duckiebot",
		MQTT: MQTTConfig{
			Broker:               "tcp://localhost:1883",
			QoS:                  1,
			ConnectTimeout:       5 * time.Second,
			ReconnectInterval:    2 * time.Second,
			MaxReconnectInterval: 30 * time.Second,
			PublishTimeout:       2 * time.Second,
			QueueSize:            64,
		},
		ZMQ: ZMQConfig{
			Publish:      "tcp://*:5560",
			PollInterval: 200 * time.Millisecond,
		},
	}
}

// WithClientID returns a copy with ClientID set to "<node>-<uuid>" when empty.
func (c Config) WithClientID(node string) Config {
	if c.ClientID == "" {
		c.ClientID = fmt.Sprintf("%s-%s", node, uuid.NewString())
	}
	return c
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Prefix == "" {
		return fmt.Errorf("transport: prefix is required")
	}
	if strings.ContainsAny(c.Prefix, "#+") {
		return fmt.Errorf("transport: prefix %q must not contain wildcards", c.Prefix)
	}
	if _, err := protocol.NewCodec(c.Codec); err != nil {
		return err
	}

	switch c.Backend {
	case BackendMQTT:
		if c.MQTT.Broker == "" {
			return fmt.Errorf("transport: mqtt.broker is required")
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("transport: mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
		if c.MQTT.QueueSize <= 0 {
			return fmt.Errorf("transport: mqtt.queue_size must be positive")
		}
	case BackendZMQ:
		if c.ZMQ.Publish == "" {
			return fmt.Errorf("transport: zmq.publish is required")
		}
		if c.ZMQ.PollInterval <= 0 {
			return fmt.Errorf("transport: zmq.poll_interval must be positive")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("transport: backend must be 'mqtt', 'zmq' or 'memory', got '%s'", c.Backend)
	}
	return nil
}
