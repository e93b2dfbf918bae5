package vision

import (
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// FrameSource is the interface for anything that produces raw BGR frames.
// The caller owns every returned Mat.
type FrameSource interface {
	ReadFrame() (*gocv.Mat, error)
	Close() error
}

// DeviceSource reads frames from a camera device
type DeviceSource struct {
	device *gocv.VideoCapture
	index  int
	width  int
	height int
}

// NewDeviceSource opens the camera with the given index
func NewDeviceSource(index int) (*DeviceSource, error) {
	device, err := gocv.VideoCaptureDevice(index)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %d: %w", index, err)
	}

	if !device.IsOpened() {
		device.Close()
		return nil, fmt.Errorf("camera %d not opened", index)
	}

	return &DeviceSource{
		device: device,
		index:  index,
		width:  int(device.Get(gocv.VideoCaptureFrameWidth)),
		height: int(device.Get(gocv.VideoCaptureFrameHeight)),
	}, nil
}

// ReadFrame reads the next frame from the camera
func (ds *DeviceSource) ReadFrame() (*gocv.Mat, error) {
	mat := gocv.NewMat()
	if !ds.device.Read(&mat) || mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("%w: camera %d returned no frame", ErrNoFrame, ds.index)
	}
	return &mat, nil
}

// Size returns the frame size reported by the device
func (ds *DeviceSource) Size() (int, int) {
	return ds.width, ds.height
}

// Close releases the camera
func (ds *DeviceSource) Close() error {
	return ds.device.Close()
}

// VideoSource provides frames from a video file for replay/testing
type VideoSource struct {
	video        *gocv.VideoCapture
	fps          float64
	frameCount   int
	currentFrame int
	loop         bool
}

// NewVideoSource opens a video file for playback. With loop set, playback
// restarts at the first frame after the last one.
func NewVideoSource(videoPath string, loop bool) (*VideoSource, error) {
	video, err := gocv.VideoCaptureFile(videoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open video file: %w", err)
	}

	if !video.IsOpened() {
		video.Close()
		return nil, fmt.Errorf("video file not opened")
	}

	return &VideoSource{
		video:      video,
		fps:        video.Get(gocv.VideoCaptureFPS),
		frameCount: int(video.Get(gocv.VideoCaptureFrameCount)),
		loop:       loop,
	}, nil
}

// ReadFrame reads the next frame from the video
func (vs *VideoSource) ReadFrame() (*gocv.Mat, error) {
	mat := gocv.NewMat()
	if !vs.video.Read(&mat) || mat.Empty() {
		if vs.loop && vs.currentFrame > 0 {
			vs.video.Set(gocv.VideoCapturePosFrames, 0)
			vs.currentFrame = 0
			if vs.video.Read(&mat) && !mat.Empty() {
				vs.currentFrame++
				return &mat, nil
			}
		}
		mat.Close()
		return nil, fmt.Errorf("%w: end of video", ErrNoFrame)
	}

	vs.currentFrame++
	return &mat, nil
}

// Progress returns playback progress (0.0 to 1.0)
func (vs *VideoSource) Progress() float64 {
	if vs.frameCount == 0 {
		return 0
	}
	return float64(vs.currentFrame) / float64(vs.frameCount)
}

// Close releases resources
func (vs *VideoSource) Close() error {
	return vs.video.Close()
}

// StillSource serves copies of a fixed sequence of images, advancing one
// image per read and repeating the last one. It replays recorded board
// snapshots.
type StillSource struct {
	mu     sync.Mutex
	frames []gocv.Mat
	next   int
}

// NewStillSource loads the images at paths.
func NewStillSource(paths ...string) (*StillSource, error) {
	s := &StillSource{}
	for _, p := range paths {
		img := gocv.IMRead(p, gocv.IMReadColor)
		if img.Empty() {
			s.Close()
			return nil, fmt.Errorf("failed to read image %s", p)
		}
		s.frames = append(s.frames, img)
	}
	return s, nil
}

// NewStillSourceFromMats takes ownership of frames.
func NewStillSourceFromMats(frames ...gocv.Mat) *StillSource {
	return &StillSource{frames: frames}
}

// Advance moves to the next image without reading it.
func (s *StillSource) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next < len(s.frames)-1 {
		s.next++
	}
}

// ReadFrame returns a copy of the current image.
func (s *StillSource) ReadFrame() (*gocv.Mat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil, ErrNoFrame
	}
	mat := s.frames[s.next].Clone()
	return &mat, nil
}

// Close releases the images.
func (s *StillSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.frames {
		s.frames[i].Close()
	}
	s.frames = nil
	return nil
}

// VideoInfo holds metadata about a video
type VideoInfo struct {
	FPS        float64
	FrameCount int
	Width      int
	Height     int
	Duration   time.Duration
}

// GetVideoInfo extracts metadata from a video file
func GetVideoInfo(videoPath string) (*VideoInfo, error) {
	video, err := gocv.VideoCaptureFile(videoPath)
	if err != nil {
		return nil, err
	}
	defer video.Close()

	if !video.IsOpened() {
		return nil, fmt.Errorf("failed to open video")
	}

	fps := video.Get(gocv.VideoCaptureFPS)
	frameCount := int(video.Get(gocv.VideoCaptureFrameCount))

	var duration time.Duration
	if fps > 0 {
		duration = time.Duration(float64(frameCount) / fps * float64(time.Second))
	}

	return &VideoInfo{
		FPS:        fps,
		FrameCount: frameCount,
		Width:      int(video.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(video.Get(gocv.VideoCaptureFrameHeight)),
		Duration:   duration,
	}, nil
}

// String returns a formatted string of video info
func (vi *VideoInfo) String() string {
	return fmt.Sprintf("%dx%d @ %.2f fps, %d frames (%v)",
		vi.Width, vi.Height, vi.FPS, vi.FrameCount, vi.Duration)
}
