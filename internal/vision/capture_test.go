package vision

import (
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/notnil/chess"
	"go.uber.org/zap/zaptest"
	"gocv.io/x/gocv"
)

// flakySource fails every other read.
type flakySource struct {
	frame  gocv.Mat
	reads  int
	closed bool
}

func (f *flakySource) ReadFrame() (*gocv.Mat, error) {
	f.reads++
	if f.reads%2 == 0 {
		return nil, errors.New("device busy")
	}
	m := f.frame.Clone()
	return &m, nil
}

func (f *flakySource) Close() error {
	f.closed = true
	return nil
}

func TestCameraCapture(t *testing.T) {
	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()
	source := &flakySource{frame: frame}
	camera := NewCamera(source)

	m, err := camera.Capture()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	m.Close()

	if _, err := camera.Capture(); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Expected ErrNoFrame, got %v", err)
	}

	stats := camera.Stats()
	if stats.Frames != 1 || stats.Errors != 1 {
		t.Errorf("Expected 1 frame and 1 error, got %+v", stats)
	}

	if err := camera.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !source.closed {
		t.Error("Expected source to be closed")
	}
	if _, err := camera.Capture(); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Expected ErrNoFrame after close, got %v", err)
	}
}

func TestCameraConcurrentCapture(t *testing.T) {
	frame := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)
	defer frame.Close()
	camera := NewCamera(NewStillSourceFromMats(frame.Clone()))
	defer camera.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				m, err := camera.Capture()
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
					return
				}
				m.Close()
			}
		}()
	}
	wg.Wait()

	if got := camera.Stats().Frames; got != 80 {
		t.Errorf("Expected 80 frames, got %d", got)
	}
}

func TestStillSourceAdvance(t *testing.T) {
	first := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC1)
	first.SetTo(gocv.NewScalar(10, 0, 0, 0))
	second := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC1)
	second.SetTo(gocv.NewScalar(20, 0, 0, 0))
	source := NewStillSourceFromMats(first, second)
	defer source.Close()

	read := func() uint8 {
		m, err := source.ReadFrame()
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		defer m.Close()
		return m.GetUCharAt(0, 0)
	}

	if got := read(); got != 10 {
		t.Errorf("Expected 10, got %d", got)
	}
	source.Advance()
	source.Advance()
	if got := read(); got != 20 {
		t.Errorf("Expected last image to repeat, got %d", got)
	}
}

func TestImageToMat(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Set(1, 1, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	mat := imageToMat(img)
	defer mat.Close()

	if mat.Rows() != 2 || mat.Cols() != 4 || mat.Channels() != 3 {
		t.Fatalf("Unexpected mat shape %dx%dx%d", mat.Rows(), mat.Cols(), mat.Channels())
	}
	b, g, r := mat.GetUCharAt(1, 3), mat.GetUCharAt(1, 4), mat.GetUCharAt(1, 5)
	if b != 50 || g != 100 || r != 200 {
		t.Errorf("Expected BGR 50,100,200, got %d,%d,%d", b, g, r)
	}
}

type staticView View

func (v staticView) View() View { return View(v) }

func TestPipelineRenderFrame(t *testing.T) {
	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	frame.SetTo(gocv.NewScalar(80, 80, 80, 0))
	camera := NewCamera(NewStillSourceFromMats(frame))
	defer camera.Close()

	tests := []struct {
		name  string
		view  View
		width int
		want  image.Point
	}{
		{"raw before calibration", View{}, 0, image.Pt(640, 480)},
		{"rectified board", View{Corners: []image.Point{{0, 0}, {640, 0}, {0, 480}, {640, 480}}, Alpha: 1.2}, 0, image.Pt(BoardPixels, BoardPixels)},
		{"scaled board", View{Corners: []image.Point{{0, 0}, {640, 0}, {0, 480}, {640, 480}}}, 256, image.Pt(256, 256)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.DisplayWidth = tt.width
			p, err := NewPipeline(config, camera, staticView(tt.view), zaptest.NewLogger(t))
			if err != nil {
				t.Fatalf("Failed to create pipeline: %v", err)
			}
			p.SetArrow(chess.E2, chess.E4)

			if err := p.RenderFrame(); err != nil {
				t.Fatalf("Render failed: %v", err)
			}

			img := <-p.Frames()
			if got := img.Bounds().Size(); got != tt.want {
				t.Errorf("Expected size %v, got %v", tt.want, got)
			}
			if p.Latest() != img {
				t.Error("Expected latest frame to match the published one")
			}
		})
	}
}

func TestPipelineKeepsNewestFrame(t *testing.T) {
	frame := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	camera := NewCamera(NewStillSourceFromMats(frame))
	defer camera.Close()

	p, err := NewPipeline(DefaultConfig(), camera, staticView(View{}), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := p.RenderFrame(); err != nil {
			t.Fatalf("Render failed: %v", err)
		}
	}

	if len(p.Frames()) != 1 {
		t.Errorf("Expected one buffered frame, got %d", len(p.Frames()))
	}
	if stats := p.GetStats(); stats.FramesRendered != 3 || stats.FramesDropped != 2 {
		t.Errorf("Expected 3 rendered and 2 dropped, got %+v", stats)
	}
}

func TestPipelineRestart(t *testing.T) {
	frame := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	camera := NewCamera(NewStillSourceFromMats(frame))
	defer camera.Close()

	p, err := NewPipeline(DefaultConfig(), camera, staticView(View{}), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := p.Start(); err == nil {
		t.Error("Expected error starting a running pipeline")
	}

	// concurrent stops must not close the stop channel twice
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Stop()
		}()
	}
	wg.Wait()
	if p.IsRunning() {
		t.Fatal("Expected pipeline to be stopped")
	}

	// drain anything rendered before the stop
	select {
	case <-p.Frames():
	default:
	}

	if err := p.Start(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	defer p.Stop()

	select {
	case img := <-p.Frames():
		if img == nil {
			t.Error("Expected a frame after restart")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected frames after restart, got none")
	}
}
