package vision

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/kbinani/screenshot"
	"gocv.io/x/gocv"
)

// ScreenSource captures a screen region, for boards shown on a monitor
type ScreenSource struct {
	region image.Rectangle
	mu     sync.Mutex
}

// NewScreenSource creates a screen capture source for the given region
func NewScreenSource(x, y, width, height int) (*ScreenSource, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid screen region %dx%d", width, height)
	}
	return &ScreenSource{region: image.Rect(x, y, x+width, y+height)}, nil
}

// ReadFrame captures the current screen region as a BGR frame
func (s *ScreenSource) ReadFrame() (*gocv.Mat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img, err := screenshot.CaptureRect(s.region)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to capture screen: %v", ErrNoFrame, err)
	}

	mat := imageToMat(img)
	return &mat, nil
}

// Close releases resources
func (s *ScreenSource) Close() error {
	return nil
}

// imageToMat converts image.Image to a BGR gocv.Mat
func imageToMat(img image.Image) gocv.Mat {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// 16-bit to 8-bit
			mat.SetUCharAt(y, x*3+0, uint8(b>>8))
			mat.SetUCharAt(y, x*3+1, uint8(g>>8))
			mat.SetUCharAt(y, x*3+2, uint8(r>>8))
		}
	}
	return mat
}

// SaveImage writes img to path; the format follows the file extension
func SaveImage(path string, img image.Image) error {
	mat := imageToMat(img)
	defer mat.Close()
	if ok := gocv.IMWrite(path, mat); !ok {
		return fmt.Errorf("failed to write image %s", path)
	}
	return nil
}

// CaptureStats holds camera counters
type CaptureStats struct {
	Frames uint64
	Errors uint64
}

// Camera serializes access to a FrameSource shared by the display loop
// and detection. Each Capture call returns a fresh frame owned by the caller.
type Camera struct {
	source FrameSource
	mu     sync.Mutex
	stats  CaptureStats
	closed bool
}

// NewCamera wraps source
func NewCamera(source FrameSource) *Camera {
	return &Camera{source: source}
}

// Capture reads one frame. Errors wrap ErrNoFrame.
func (c *Camera) Capture() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("%w: camera closed", ErrNoFrame)
	}

	frame, err := c.source.ReadFrame()
	if err == nil && (frame == nil || frame.Empty()) {
		if frame != nil {
			frame.Close()
		}
		err = errors.New("empty frame")
	}
	if err != nil {
		c.stats.Errors++
		if !errors.Is(err, ErrNoFrame) {
			err = fmt.Errorf("%w: %v", ErrNoFrame, err)
		}
		return nil, err
	}

	c.stats.Frames++
	return frame, nil
}

// Stats returns capture counters
func (c *Camera) Stats() CaptureStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close releases the underlying source
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.source.Close()
}
