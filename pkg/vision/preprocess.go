// Package vision decodes camera images into model input tensors using OpenCV.
package vision

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-duckiebot/pkg/lanefollow"
)

// Preprocessor implements lanefollow.Decoder: decode, resize with nearest
// neighbour, crop the top rows, convert BGR to RGB and min-max normalize
// into float32.
type Preprocessor struct {
	cfg lanefollow.PreprocessConfig
	mu  sync.Mutex
}

var _ lanefollow.Decoder = (*Preprocessor)(nil)

// NewPreprocessor creates a preprocessor for the given tensor geometry.
func NewPreprocessor(cfg lanefollow.PreprocessConfig) *Preprocessor {
	return &Preprocessor{cfg: cfg}
}

// Decode turns an encoded image (JPEG, PNG) into an HWC float32 tensor.
func (p *Preprocessor) Decode(data []byte) (lanefollow.Tensor, error) {
	if len(data) == 0 {
		return lanefollow.Tensor{}, lanefollow.ErrEmptyFrame
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return lanefollow.Tensor{}, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()

	if img.Empty() {
		return lanefollow.Tensor{}, fmt.Errorf("decode image: empty result")
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(p.cfg.Width, p.cfg.Height), 0, 0, gocv.InterpolationNearestNeighbor)

	roi := resized.Region(image.Rect(0, p.cfg.CropTop, p.cfg.Width, p.cfg.Height))
	defer roi.Close()

	// Region shares memory with its parent and is not continuous.
	cropped := roi.Clone()
	defer cropped.Close()

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(cropped, &rgb, gocv.ColorBGRToRGB)

	floats := gocv.NewMat()
	defer floats.Close()
	rgb.ConvertTo(&floats, gocv.MatTypeCV32FC3)

	norm := gocv.NewMat()
	defer norm.Close()
	gocv.Normalize(floats, &norm, p.cfg.NormMin, p.cfg.NormMax, gocv.NormMinMax)

	values, err := norm.DataPtrFloat32()
	if err != nil {
		return lanefollow.Tensor{}, fmt.Errorf("read tensor: %w", err)
	}

	out := make([]float32, len(values))
	copy(out, values)

	return lanefollow.Tensor{
		Rows:     norm.Rows(),
		Cols:     norm.Cols(),
		Channels: norm.Channels(),
		Data:     out,
	}, nil
}
