// Package accelerator owns the inference device and the loaded model graph.
//
// A Device is acquired once at startup and released once at shutdown. It
// implements lanefollow.Graph; calls are serialized because an OpenCV Net is
// not safe for concurrent use.
package accelerator

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"
	"unsafe"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-duckiebot/internal/log"
	"github.com/teslashibe/go-duckiebot/pkg/lanefollow"
)

// Sentinel errors for common conditions.
var (
	ErrModelNotFound = errors.New("accelerator: model file not found")
	ErrEmptyGraph    = errors.New("accelerator: model loaded as empty graph")
	ErrUnsupported   = errors.New("accelerator: unsupported backend or target")
	ErrReleased      = errors.New("accelerator: device released")
)

// ResourceError reports a failure to acquire the device or graph.
// It is fatal at startup.
type ResourceError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *ResourceError) Error() string {
	return fmt.Sprintf("accelerator: %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *ResourceError) Unwrap() error {
	return e.Err
}

var backends = map[string]gocv.NetBackendType{
	"":         gocv.NetBackendDefault,
	"default":  gocv.NetBackendDefault,
	"opencv":   gocv.NetBackendOpenCV,
	"openvino": gocv.NetBackendOpenVINO,
	"cuda":     gocv.NetBackendCUDA,
}

var targets = map[string]gocv.NetTargetType{
	"":            gocv.NetTargetCPU,
	"cpu":         gocv.NetTargetCPU,
	"opencl":      gocv.NetTargetFP32,
	"opencl_fp16": gocv.NetTargetFP16,
	"vpu":         gocv.NetTargetVPU,
	"cuda":        gocv.NetTargetCUDA,
}

// Device is an opened model bound to a compute target.
type Device struct {
	net    gocv.Net
	cfg    lanefollow.ModelConfig
	logger *slog.Logger

	mu       sync.Mutex
	released bool
	once     sync.Once
}

var _ lanefollow.Graph = (*Device)(nil)

// Open loads the model and binds it to the configured backend and target.
func Open(cfg lanefollow.ModelConfig, logger *slog.Logger) (*Device, error) {
	backend, ok := backends[cfg.Backend]
	if !ok {
		return nil, &ResourceError{Op: "backend", Path: cfg.Backend, Err: ErrUnsupported}
	}
	target, ok := targets[cfg.Target]
	if !ok {
		return nil, &ResourceError{Op: "target", Path: cfg.Target, Err: ErrUnsupported}
	}

	if _, err := os.Stat(cfg.Path); os.IsNotExist(err) {
		return nil, &ResourceError{Op: "open", Path: cfg.Path, Err: ErrModelNotFound}
	}
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); os.IsNotExist(err) {
			return nil, &ResourceError{Op: "open", Path: cfg.ConfigPath, Err: ErrModelNotFound}
		}
	}

	net := gocv.ReadNet(cfg.Path, cfg.ConfigPath)
	if net.Empty() {
		net.Close()
		return nil, &ResourceError{Op: "load", Path: cfg.Path, Err: ErrEmptyGraph}
	}

	net.SetPreferableBackend(backend)
	net.SetPreferableTarget(target)

	logger = log.Component(logger, "accelerator")
	logger.Info("model graph loaded", "path", cfg.Path, "backend", cfg.Backend, "target", cfg.Target)

	return &Device{net: net, cfg: cfg, logger: logger}, nil
}

// InferRaw runs one forward pass on an HWC float32 tensor and returns the
// flattened output.
func (d *Device) InferRaw(input lanefollow.Tensor) ([]float32, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if input.Channels != 3 {
		return nil, fmt.Errorf("%w: want 3 channels, got %d", lanefollow.ErrShape, input.Channels)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil, ErrReleased
	}

	raw := unsafe.Slice((*byte)(unsafe.Pointer(&input.Data[0])), len(input.Data)*4)
	img, err := gocv.NewMatFromBytes(input.Rows, input.Cols, gocv.MatTypeCV32FC3, raw)
	if err != nil {
		return nil, fmt.Errorf("accelerator: input mat: %w", err)
	}
	defer img.Close()

	// NCHW, no scaling, no channel swap: preprocessing already did both.
	blob := gocv.BlobFromImage(img, 1.0, image.Pt(input.Cols, input.Rows), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	d.net.SetInput(blob, d.cfg.InputName)
	out := d.net.Forward(d.cfg.OutputName)
	defer out.Close()

	if out.Empty() {
		return nil, fmt.Errorf("%w: empty forward result", lanefollow.ErrInvalidOutput)
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("accelerator: read output: %w", err)
	}

	result := make([]float32, len(data))
	copy(result, data)
	return result, nil
}

// Close releases the graph and device. Safe to call more than once.
func (d *Device) Close() error {
	d.once.Do(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.released = true
		d.net.Close()
		d.logger.Info("accelerator released")
	})
	return nil
}
