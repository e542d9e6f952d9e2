package vision

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/teslashibe/go-duckiebot/pkg/protocol"
)

// Provider interface for camera access.
type Provider interface {
	CaptureFrame() ([]byte, error) // Returns encoded image data
}

// DirProvider replays the images in a directory in name order, looping.
type DirProvider struct {
	mu    sync.Mutex
	files []string
	next  int
}

var imageFormats = map[string]string{
	".jpg":  protocol.FormatJPEG,
	".jpeg": protocol.FormatJPEG,
	".png":  protocol.FormatPNG,
}

// NewDirProvider lists the JPEG and PNG files under dir.
func NewDirProvider(dir string) (*DirProvider, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || formatOf(e.Name()) == "" {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images in %s", dir)
	}
	sort.Strings(files)

	return &DirProvider{files: files}, nil
}

// CaptureFrame returns the next image, wrapping at the end.
func (d *DirProvider) CaptureFrame() ([]byte, error) {
	data, _, err := d.Next()
	return data, err
}

// Next returns the next image and its encoding, taken from the file extension.
func (d *DirProvider) Next() ([]byte, string, error) {
	d.mu.Lock()
	path := d.files[d.next]
	d.next = (d.next + 1) % len(d.files)
	d.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	return data, formatOf(path), nil
}

func formatOf(name string) string {
	return imageFormats[strings.ToLower(filepath.Ext(name))]
}

// Len returns the number of images.
func (d *DirProvider) Len() int {
	return len(d.files)
}
