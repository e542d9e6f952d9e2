// Package lanefollow turns camera frames into motion commands.
//
// Frames arrive on the camera topic and are handed to a single-flight
// Scheduler. While the enable Toggle is engaged and no inference is running,
// the frame is decoded, run through the accelerator Graph and mapped to a
// MotionCommand, which is published with the frame's original header. Frames
// that arrive while an inference is in flight are dropped, never queued.
//
// Decoding and the accelerator are ports (Decoder, Graph) implemented by
// pkg/vision and pkg/accelerator.
package lanefollow

import (
	"fmt"
	"math"
	"time"
)

// Speed policies.
const (
	// SpeedConstant publishes Config.Speed for every command.
	SpeedConstant = "constant"

	// SpeedAdaptive slows down in turns: speed falls linearly from MaxSpeed
	// at zero raw steering to MinSpeed at |raw| = OmegaThreshold and holds
	// MinSpeed beyond it.
	SpeedAdaptive = "adaptive"
)

// DefaultToggleButton is the RB button on the reference gamepad.
const DefaultToggleButton = 5

// Config holds inference-node parameters. Immutable after startup.
type Config struct {
	// Speed is the constant linear speed (m/s) for SpeedConstant.
	Speed float64 `yaml:"speed" json:"speed"`

	// OmegaGain scales the raw steering output into an angular rate.
	OmegaGain float64 `yaml:"omega_gain" json:"omega_gain"`

	SpeedMode      string  `yaml:"speed_mode" json:"speed_mode"`
	MinSpeed       float64 `yaml:"min_speed" json:"min_speed"`
	MaxSpeed       float64 `yaml:"max_speed" json:"max_speed"`
	OmegaThreshold float64 `yaml:"omega_threshold" json:"omega_threshold"`

	// ToggleButton is the joy button index that flips lane following.
	ToggleButton int  `yaml:"toggle_button" json:"toggle_button"`
	StartEngaged bool `yaml:"start_engaged" json:"start_engaged"`

	// InferenceTimeout discards results that take longer than this.
	// Zero disables the check.
	InferenceTimeout time.Duration `yaml:"inference_timeout" json:"inference_timeout"`

	Preprocess PreprocessConfig `yaml:"preprocess" json:"preprocess"`
	Model      ModelConfig      `yaml:"model" json:"model"`
}

// PreprocessConfig describes the tensor the model expects.
type PreprocessConfig struct {
	Width   int `yaml:"width" json:"width"`
	Height  int `yaml:"height" json:"height"`
	CropTop int `yaml:"crop_top" json:"crop_top"` // rows removed from the top after resize

	// NormMin and NormMax bound the min-max normalized pixel values.
	NormMin float64 `yaml:"norm_min" json:"norm_min"`
	NormMax float64 `yaml:"norm_max" json:"norm_max"`
}

// OutputShape returns the tensor shape produced by preprocessing.
func (p PreprocessConfig) OutputShape() (rows, cols, channels int) {
	return p.Height - p.CropTop, p.Width, 3
}

// ModelConfig locates the model artifact and binds it to a device.
type ModelConfig struct {
	Path       string `yaml:"path" json:"path"`
	ConfigPath string `yaml:"config_path" json:"config_path"` // e.g. Caffe prototxt

	// Backend: "default", "openvino", "cuda". Target: "cpu", "vpu", "opencl", "cuda".
	Backend string `yaml:"backend" json:"backend"`
	Target  string `yaml:"target" json:"target"`

	InputName  string `yaml:"input_name" json:"input_name"`
	OutputName string `yaml:"output_name" json:"output_name"`
}

// DefaultConfig returns the reference vehicle configuration.
func DefaultConfig() Config {
	return Config{
		Speed:          0.2,
		OmegaGain:      3.0,
		SpeedMode:      SpeedConstant,
		MinSpeed:       0.1,
		MaxSpeed:       0.2,
		OmegaThreshold: 2.5,
		ToggleButton:   DefaultToggleButton,
		StartEngaged:   false,
		Preprocess: PreprocessConfig{
			Width:   160,
			Height:  120,
			CropTop: 50,
			NormMin: 0.0,
			NormMax: 1.0,
		},
		Model: ModelConfig{
			Path:    "models/lane_following.onnx",
			Backend: "openvino",
			Target:  "vpu",
		},
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	for name, v := range map[string]float64{
		"speed": c.Speed, "omega_gain": c.OmegaGain,
		"min_speed": c.MinSpeed, "max_speed": c.MaxSpeed,
		"omega_threshold": c.OmegaThreshold,
		"norm_min": c.Preprocess.NormMin, "norm_max": c.Preprocess.NormMax,
	} {
		if !finite(v) {
			return fmt.Errorf("lanefollow: %s must be finite", name)
		}
	}

	switch c.SpeedMode {
	case SpeedConstant:
	case SpeedAdaptive:
		if c.OmegaThreshold <= 0 {
			return fmt.Errorf("lanefollow: omega_threshold must be positive for adaptive speed")
		}
		if c.MinSpeed > c.MaxSpeed {
			return fmt.Errorf("lanefollow: min_speed %.3f exceeds max_speed %.3f", c.MinSpeed, c.MaxSpeed)
		}
	default:
		return fmt.Errorf("lanefollow: speed_mode must be '%s' or '%s', got '%s'", SpeedConstant, SpeedAdaptive, c.SpeedMode)
	}

	if c.ToggleButton < 0 {
		return fmt.Errorf("lanefollow: toggle_button must be >= 0")
	}
	if c.InferenceTimeout < 0 {
		return fmt.Errorf("lanefollow: inference_timeout must be >= 0")
	}

	p := c.Preprocess
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("lanefollow: preprocess size must be positive, got %dx%d", p.Width, p.Height)
	}
	if p.CropTop < 0 || p.CropTop >= p.Height {
		return fmt.Errorf("lanefollow: crop_top %d out of range for height %d", p.CropTop, p.Height)
	}
	if p.NormMin >= p.NormMax {
		return fmt.Errorf("lanefollow: norm_min must be below norm_max")
	}

	if c.Model.Path == "" {
		return fmt.Errorf("lanefollow: model.path is required")
	}
	return nil
}
