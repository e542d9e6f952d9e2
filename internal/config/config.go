// Package config loads node configuration for go-duckiebot commands.
//
// Precedence: built-in defaults, then the YAML file, then environment
// variables. The result is validated once and treated as immutable.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-duckiebot/internal/log"
	"github.com/teslashibe/go-duckiebot/pkg/lanefollow"
	"github.com/teslashibe/go-duckiebot/pkg/transport"
	"github.com/teslashibe/go-duckiebot/pkg/web"
	"github.com/teslashibe/go-duckiebot/pkg/wheels"
)

// Default vehicle configuration.
const (
	DefaultVehicleName = "duckiebot"
	DefaultBroker      = "tcp://localhost:1883"
)

// Environment variables that override the file.
const (
	EnvVehicleName = "VEHICLE_NAME"
	EnvBroker      = "DUCKIEBOT_BROKER"
	EnvTransport   = "DUCKIEBOT_TRANSPORT"
	EnvLogLevel    = "DUCKIEBOT_LOG_LEVEL"
	EnvModelPath   = "DUCKIEBOT_MODEL_PATH"
)

// Config is the full node configuration.
type Config struct {
	// Vehicle names the robot and prefixes every topic.
	Vehicle string `yaml:"vehicle"`

	Log        log.Config        `yaml:"log"`
	Transport  transport.Config  `yaml:"transport"`
	LaneFollow lanefollow.Config `yaml:"lanefollow"`
	Wheels     wheels.Config     `yaml:"wheels"`
	Web        web.NodesConfig   `yaml:"web"`
}

// Default returns the reference configuration.
func Default() Config {
	tc := transport.DefaultConfig()
	tc.Prefix = ""
	return Config{
		Vehicle:    DefaultVehicleName,
		Log:        log.DefaultConfig(),
		Transport:  tc,
		LaneFollow: lanefollow.DefaultConfig(),
		Wheels:     wheels.DefaultConfig(),
		Web:        web.DefaultNodesConfig(),
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()
	if cfg.Transport.Prefix == "" {
		cfg.Transport.Prefix = cfg.Vehicle
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	c.Vehicle = VehicleName(c.Vehicle)
	c.Transport.MQTT.Broker = Broker(c.Transport.MQTT.Broker)
	if v := os.Getenv(EnvTransport); v != "" {
		c.Transport.Backend = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvModelPath); v != "" {
		c.LaneFollow.Model.Path = v
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	var errs []error
	if c.Vehicle == "" {
		errs = append(errs, fmt.Errorf("config: vehicle is required"))
	}
	errs = append(errs,
		c.Log.Validate(),
		c.Transport.Validate(),
		c.LaneFollow.Validate(),
		c.Wheels.Validate(),
		c.Web.Validate(),
	)
	return errors.Join(errs...)
}

// VehicleName returns the vehicle name from VEHICLE_NAME.
// Falls back to the provided default if not set.
func VehicleName(defaultName string) string {
	if name := os.Getenv(EnvVehicleName); name != "" {
		return name
	}
	return defaultName
}

// Broker returns the MQTT broker URL from DUCKIEBOT_BROKER.
// Falls back to the provided default if not set.
func Broker(defaultBroker string) string {
	if b := os.Getenv(EnvBroker); b != "" {
		return b
	}
	return defaultBroker
}
