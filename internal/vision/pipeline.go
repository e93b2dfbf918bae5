package vision

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/notnil/chess"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"gocv.io/x/gocv"
)

// View describes what the display loop should render.
type View struct {
	Corners []image.Point // four corners, or empty before calibration
	Pending []image.Point // calibration clicks collected so far
	Alpha   float64
}

// ViewProvider supplies the current calibration and contrast.
type ViewProvider interface {
	View() View
}

// Pipeline renders camera frames for display at a fixed rate. Before
// calibration it emits raw frames; afterwards the rectified, normalized
// board with the square grid drawn on it.
type Pipeline struct {
	config   *Config
	table    OrientationTable
	camera   *Camera
	provider ViewProvider
	logger   *zap.Logger
	frames   chan image.Image
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	arrow    *[2]chess.Square
	latest   image.Image
	stats    PipelineStats
}

// PipelineStats tracks pipeline performance
type PipelineStats struct {
	FramesRendered   int64
	FramesDropped    int64
	LastProcessTime  time.Duration
	AverageFrameTime time.Duration
	Errors           int64
}

// NewPipeline creates a new display pipeline
func NewPipeline(config *Config, camera *Camera, provider ViewProvider, logger *zap.Logger) (*Pipeline, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	table, err := config.Table()
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		config:   config,
		table:    table,
		camera:   camera,
		provider: provider,
		logger:   logger,
		frames:   make(chan image.Image, 1),
	}, nil
}

// Frames returns the display stream. Only the newest frame is kept; a slow
// reader never blocks the loop.
func (p *Pipeline) Frames() <-chan image.Image {
	return p.frames
}

// Latest returns the last rendered frame, or nil.
func (p *Pipeline) Latest() image.Image {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

// SetArrow draws a move arrow on subsequent frames until ClearArrow.
func (p *Pipeline) SetArrow(from, to chess.Square) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.arrow = &[2]chess.Square{from, to}
}

// ClearArrow removes the move arrow.
func (p *Pipeline) ClearArrow() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.arrow = nil
}

// Start begins the display loop
func (p *Pipeline) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("pipeline already running")
	}
	p.running = true
	p.stopChan = make(chan struct{})
	stop := p.stopChan
	p.mu.Unlock()

	p.wg.Add(1)
	go p.processLoop(stop)

	return nil
}

// Stop stops the pipeline
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stop := p.stopChan
	p.mu.Unlock()

	close(stop)
	p.wg.Wait()
}

// IsRunning returns whether the pipeline is running
func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// GetStats returns current pipeline statistics
func (p *Pipeline) GetStats() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// processLoop is the main display loop
func (p *Pipeline) processLoop(stop <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(p.config.DisplayFPS))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := p.RenderFrame(); err != nil {
				p.mu.Lock()
				p.stats.Errors++
				p.mu.Unlock()
				p.logger.Debug("Display frame failed", zap.Error(err))
			}
		}
	}
}

// RenderFrame captures and publishes one display frame
func (p *Pipeline) RenderFrame() error {
	startTime := time.Now()

	frame, err := p.camera.Capture()
	if err != nil {
		return err
	}
	defer frame.Close()

	view := p.provider.View()
	img, err := p.render(*frame, view)
	if err != nil {
		return err
	}

	p.publish(img)

	elapsed := time.Since(startTime)
	p.mu.Lock()
	p.stats.FramesRendered++
	p.stats.LastProcessTime = elapsed
	if p.stats.AverageFrameTime == 0 {
		p.stats.AverageFrameTime = elapsed
	} else {
		p.stats.AverageFrameTime = (p.stats.AverageFrameTime*9 + elapsed) / 10
	}
	p.mu.Unlock()

	return nil
}

func (p *Pipeline) render(frame gocv.Mat, view View) (image.Image, error) {
	if len(view.Corners) != 4 {
		raw := frame.Clone()
		defer raw.Close()
		if len(view.Pending) > 0 {
			DrawCorners(&raw, view.Pending, CornerColor)
		}
		return p.toImage(raw)
	}

	board, err := Rectify(frame, view.Corners)
	if err != nil {
		return nil, err
	}
	defer board.Close()

	alpha := view.Alpha
	if alpha <= 0 {
		alpha = p.config.DefaultAlpha
	}
	display, err := Normalize(board, alpha, p.config.Beta)
	if err != nil {
		return nil, err
	}
	defer display.Close()

	DrawGrid(&display, GridColor, 2)

	p.mu.Lock()
	arrow := p.arrow
	p.mu.Unlock()
	if arrow != nil {
		DrawMoveArrow(&display, p.table, arrow[0], arrow[1], ArrowColor, 4)
	}

	return p.toImage(display)
}

func (p *Pipeline) toImage(mat gocv.Mat) (image.Image, error) {
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	return scaleToWidth(img, p.config.DisplayWidth), nil
}

// publish replaces any unread frame with img
func (p *Pipeline) publish(img image.Image) {
	p.mu.Lock()
	p.latest = img
	p.mu.Unlock()

	select {
	case p.frames <- img:
		return
	default:
	}

	select {
	case <-p.frames:
		p.mu.Lock()
		p.stats.FramesDropped++
		p.mu.Unlock()
	default:
	}

	select {
	case p.frames <- img:
	default:
	}
}

// scaleToWidth resizes img to width, keeping its aspect ratio. A zero width
// or a matching size returns img unchanged.
func scaleToWidth(img image.Image, width int) image.Image {
	b := img.Bounds()
	if width <= 0 || b.Dx() == width || b.Dx() == 0 {
		return img
	}
	height := b.Dy() * width / b.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
