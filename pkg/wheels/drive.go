package wheels

import (
	"fmt"
)

// Drive accepts planar velocity commands.
type Drive interface {
	Apply(v, omega float64) error
	Close() error
}

// Motors accepts per-wheel duty cycles in [-1, 1].
type Motors interface {
	SetWheelsSpeed(left, right float64) error
	Close() error
}

// Differential converts (v, omega) to wheel duties with the stock inverse
// kinematics and clamps them to ±Limit.
type Differential struct {
	cfg    KinematicsConfig
	motors Motors
}

var _ Drive = (*Differential)(nil)

// NewDifferential creates a drive on top of motors.
func NewDifferential(cfg KinematicsConfig, motors Motors) *Differential {
	return &Differential{cfg: cfg, motors: motors}
}

// Wheels returns the clamped left and right duties for (v, omega).
func (d *Differential) Wheels(v, omega float64) (left, right float64) {
	k := d.cfg
	kRInv := (k.Gain + k.Trim) / k.K
	kLInv := (k.Gain - k.Trim) / k.K

	omegaR := (v + 0.5*omega*k.Baseline) / k.Radius
	omegaL := (v - 0.5*omega*k.Baseline) / k.Radius

	return clamp(omegaL*kLInv, k.Limit), clamp(omegaR*kRInv, k.Limit)
}

// Apply drives the motors.
func (d *Differential) Apply(v, omega float64) error {
	left, right := d.Wheels(v, omega)
	if err := d.motors.SetWheelsSpeed(left, right); err != nil {
		return fmt.Errorf("set wheels (%.3f, %.3f): %w", left, right, err)
	}
	return nil
}

// Close releases the motors.
func (d *Differential) Close() error {
	return d.motors.Close()
}

func clamp(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
