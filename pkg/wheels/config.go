// Package wheels is the actuation side: a latched emergency-stop gate in
// front of a synchronous executor that drives the motors and echoes every
// applied command.
//
// The node guarantees that the last command applied before the drive is
// released is the zero command, on every teardown path.
package wheels

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Emergency-stop signal interpretations.
const (
	// EStopToggle flips the gate on every event regardless of payload.
	EStopToggle = "toggle"

	// EStopExplicit stops on Data=true and resumes on Data=false.
	EStopExplicit = "explicit"
)

// Motor drivers.
const (
	MotorsBus    = "bus"
	MotorsModbus = "modbus"
)

// Config holds actuation-node parameters. Immutable after startup.
type Config struct {
	EStopMode  string           `yaml:"estop_mode" json:"estop_mode"`
	Kinematics KinematicsConfig `yaml:"kinematics" json:"kinematics"`
	Motors     MotorsConfig     `yaml:"motors" json:"motors"`
}

// KinematicsConfig holds differential-drive parameters.
type KinematicsConfig struct {
	Gain     float64 `yaml:"gain" json:"gain"`
	Trim     float64 `yaml:"trim" json:"trim"`
	Baseline float64 `yaml:"baseline" json:"baseline"` // wheel separation (m)
	Radius   float64 `yaml:"radius" json:"radius"`     // wheel radius (m)
	K        float64 `yaml:"k" json:"k"`               // motor constant
	Limit    float64 `yaml:"limit" json:"limit"`       // max duty magnitude
}

// MotorsConfig selects and configures the motor driver.
type MotorsConfig struct {
	Driver string       `yaml:"driver" json:"driver"`
	Modbus ModbusConfig `yaml:"modbus" json:"modbus"`
}

// ModbusConfig addresses a motor controller exposing left and right duty as
// two consecutive holding registers (signed, per mille).
type ModbusConfig struct {
	// Address is "tcp://host:port" or a serial device path for RTU.
	Address  string        `yaml:"address" json:"address"`
	SlaveID  byte          `yaml:"slave_id" json:"slave_id"`
	Register uint16        `yaml:"register" json:"register"`
	BaudRate int           `yaml:"baud_rate" json:"baud_rate"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultConfig returns the reference vehicle configuration.
func DefaultConfig() Config {
	return Config{
		EStopMode:  EStopToggle,
		Kinematics: DefaultKinematics(),
		Motors: MotorsConfig{
			Driver: MotorsBus,
			Modbus: ModbusConfig{
				Address:  "tcp://localhost:502",
				SlaveID:  1,
				Register: 0,
				BaudRate: 115200,
				Timeout:  500 * time.Millisecond,
			},
		},
	}
}

// DefaultKinematics returns the stock vehicle calibration.
func DefaultKinematics() KinematicsConfig {
	return KinematicsConfig{
		Gain:     1.0,
		Trim:     0.0,
		Baseline: 0.1,
		Radius:   0.0318,
		K:        27.0,
		Limit:    1.0,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.EStopMode {
	case EStopToggle, EStopExplicit:
	default:
		return fmt.Errorf("wheels: estop_mode must be '%s' or '%s', got '%s'", EStopToggle, EStopExplicit, c.EStopMode)
	}

	k := c.Kinematics
	for name, v := range map[string]float64{
		"gain": k.Gain, "trim": k.Trim, "baseline": k.Baseline,
		"radius": k.Radius, "k": k.K, "limit": k.Limit,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("wheels: kinematics.%s must be finite", name)
		}
	}
	if k.Radius <= 0 || k.K <= 0 || k.Baseline <= 0 {
		return fmt.Errorf("wheels: kinematics radius, k and baseline must be positive")
	}
	if k.Limit <= 0 || k.Limit > 1 {
		return fmt.Errorf("wheels: kinematics.limit must be in (0, 1], got %v", k.Limit)
	}

	switch c.Motors.Driver {
	case MotorsBus:
	case MotorsModbus:
		m := c.Motors.Modbus
		if m.Address == "" {
			return fmt.Errorf("wheels: motors.modbus.address is required")
		}
		if !strings.HasPrefix(m.Address, "tcp://") && m.BaudRate <= 0 {
			return fmt.Errorf("wheels: motors.modbus.baud_rate must be positive for serial devices")
		}
		if m.Timeout <= 0 {
			return fmt.Errorf("wheels: motors.modbus.timeout must be positive")
		}
	default:
		return fmt.Errorf("wheels: motors.driver must be '%s' or '%s', got '%s'", MotorsBus, MotorsModbus, c.Motors.Driver)
	}
	return nil
}
