// Package session owns the calibration and reference image lifecycle that
// move detection runs against.
package session

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/notnil/chess"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/relfayoumi/LumiBot-chess/internal/vision"
)

var (
	ErrNotCalibrated       = errors.New("session: board is not calibrated")
	ErrDetectionInProgress = errors.New("session: detection already in progress")
	ErrNotCalibrating      = errors.New("session: calibration not started")
)

// minQuadArea is the smallest corner quadrilateral accepted without a warning.
const minQuadArea = 64 * 64

// Phase is the calibration state of a session
type Phase int

const (
	PhaseUncalibrated Phase = iota
	PhaseCalibrating
	PhaseCalibrated
	PhaseReady // calibrated with a reference image
)

func (p Phase) String() string {
	switch p {
	case PhaseUncalibrated:
		return "uncalibrated"
	case PhaseCalibrating:
		return "calibrating"
	case PhaseCalibrated:
		return "calibrated"
	case PhaseReady:
		return "ready"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Session holds the board calibration, the current contrast level and the
// reference image of the last confirmed position.
type Session struct {
	config   *vision.Config
	camera   *vision.Camera
	detector *vision.Detector
	table    vision.OrientationTable
	logger   *zap.Logger
	now      func() time.Time

	mu         sync.Mutex
	phase      Phase
	pending    []image.Point
	corners    []image.Point
	generation uint64 // bumped whenever the calibration changes
	reference  gocv.Mat
	alpha      float64
	lastStats  vision.RetryStats

	detecting atomic.Bool
}

// New creates a session reading frames from camera
func New(config *vision.Config, camera *vision.Camera, logger *zap.Logger) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid vision config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	table, err := config.Table()
	if err != nil {
		return nil, err
	}

	return &Session{
		config:    config,
		camera:    camera,
		detector:  vision.NewDetector(config, table, logger.Named("detector")),
		table:     table,
		logger:    logger,
		now:       time.Now,
		reference: gocv.NewMat(),
		alpha:     config.DefaultAlpha,
	}, nil
}

// SetClock replaces the time source used for detection budgets
func (s *Session) SetClock(now func() time.Time) {
	s.now = now
}

// Phase returns the calibration phase
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Alpha returns the contrast level used for the next detection
func (s *Session) Alpha() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alpha
}

// Corners returns a copy of the calibration corners
func (s *Session) Corners() []image.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clonePoints(s.corners)
}

// View implements vision.ViewProvider for the display pipeline
func (s *Session) View() vision.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return vision.View{
		Corners: clonePoints(s.corners),
		Pending: clonePoints(s.pending),
		Alpha:   s.alpha,
	}
}

// StartCalibration discards the current calibration and reference and
// starts collecting corner clicks.
func (s *Session) StartCalibration() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.phase = PhaseCalibrating
	s.pending = nil
	s.corners = nil
	s.generation++
	s.clearReferenceLocked()
	s.logger.Info("Calibration started")
}

// AddCorner records one calibration click, in the order top-left,
// top-right, bottom-left, bottom-right. The fourth click completes the
// calibration. It returns the number of corners collected.
func (s *Session) AddCorner(p image.Point) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseCalibrating {
		return 0, ErrNotCalibrating
	}

	s.pending = append(s.pending, p)
	n := len(s.pending)
	s.logger.Info("Corner recorded",
		zap.String("corner", vision.CornerNames[n-1]),
		zap.Int("x", p.X),
		zap.Int("y", p.Y))

	if n == 4 {
		s.setCornersLocked(s.pending)
		s.pending = nil
	}
	return n, nil
}

// SetCorners replaces the calibration. An empty slice uncalibrates the
// session; anything other than four points is rejected. The reference
// image is cleared either way.
func (s *Session) SetCorners(corners []image.Point) error {
	if len(corners) != 0 && len(corners) != 4 {
		return fmt.Errorf("%w: got %d", vision.ErrInvalidCalibration, len(corners))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(corners) == 0 {
		s.phase = PhaseUncalibrated
		s.corners = nil
		s.pending = nil
		s.generation++
		s.clearReferenceLocked()
		return nil
	}

	s.setCornersLocked(corners)
	return nil
}

func (s *Session) setCornersLocked(corners []image.Point) {
	s.corners = clonePoints(corners)
	s.phase = PhaseCalibrated
	s.generation++
	s.clearReferenceLocked()

	area := vision.QuadArea(s.corners)
	if area < minQuadArea {
		s.logger.Warn("Calibration corners enclose a very small area",
			zap.Float64("area", area))
	}
	s.logger.Info("Calibration complete", zap.Any("corners", s.corners))
}

// CaptureInitialReference captures the starting position before the first move
func (s *Session) CaptureInitialReference() error {
	if err := s.captureReference(); err != nil {
		return err
	}
	s.logger.Info("Initial reference captured")
	return nil
}

// CaptureReferenceNow replaces the reference with the current board, at
// the current contrast level.
func (s *Session) CaptureReferenceNow() error {
	if err := s.captureReference(); err != nil {
		return err
	}
	s.logger.Info("Reference updated")
	return nil
}

func (s *Session) captureReference() error {
	s.mu.Lock()
	corners := clonePoints(s.corners)
	alpha := s.alpha
	gen := s.generation
	s.mu.Unlock()

	if len(corners) != 4 {
		return ErrNotCalibrated
	}

	ref, err := s.snapshot(corners, alpha)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		ref.Close()
		return ErrNotCalibrated
	}
	s.replaceReferenceLocked(ref)
	return nil
}

// snapshot captures one frame and returns it rectified, normalized and gray
func (s *Session) snapshot(corners []image.Point, alpha float64) (gocv.Mat, error) {
	frame, err := s.camera.Capture()
	if err != nil {
		return gocv.NewMat(), err
	}
	defer frame.Close()
	return vision.RectifyGray(*frame, corners, alpha, s.config.Beta)
}

// DetectPlayerMove looks for the move pos allows between the reference and
// the current board. On success the detected frame becomes the reference
// and the contrast level that found the move is kept. Only one detection
// runs at a time.
func (s *Session) DetectPlayerMove(pos *chess.Position) (string, bool, error) {
	if !s.detecting.CompareAndSwap(false, true) {
		return "", false, ErrDetectionInProgress
	}
	defer s.detecting.Store(false)

	s.mu.Lock()
	corners := clonePoints(s.corners)
	alpha := s.alpha
	gen := s.generation
	var ref gocv.Mat
	hasRef := !s.reference.Empty()
	if hasRef {
		ref = s.reference.Clone()
	}
	s.mu.Unlock()

	if len(corners) != 4 {
		return "", false, ErrNotCalibrated
	}

	if !hasRef {
		// no reference yet: this frame becomes it and nothing moved
		first, err := s.snapshot(corners, alpha)
		if err != nil {
			return "", false, err
		}
		s.mu.Lock()
		if gen == s.generation {
			s.replaceReferenceLocked(first)
		} else {
			first.Close()
		}
		s.mu.Unlock()
		s.logger.Info("No reference image, captured the current board as reference")
		return "", false, nil
	}
	defer ref.Close()

	rc := vision.NewRetryController(s.config, corners, s.detector, s.logger.Named("retry"))
	rc.SetClock(s.now)

	det, ok, err := rc.DetectWithRetry(s.camera.Capture, pos, ref, alpha)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastStats = rc.Stats()

	if !ok {
		return "", false, err
	}

	if gen != s.generation {
		// recalibrated while detecting, the new frame no longer matches
		det.Reference.Close()
		return det.Move.UCI(), true, nil
	}
	s.replaceReferenceLocked(det.Reference)
	s.alpha = det.Alpha
	return det.Move.UCI(), true, nil
}

// LastDetectionStats returns the retry statistics of the last detection
func (s *Session) LastDetectionStats() vision.RetryStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStats
}

// SquareCenter returns the display coordinates of a square on the
// rectified board, following the configured orientation
func (s *Session) SquareCenter(sq chess.Square) image.Point {
	return s.table.Center(sq)
}

// Close releases the reference image
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearReferenceLocked()
	return nil
}

func (s *Session) replaceReferenceLocked(ref gocv.Mat) {
	s.reference.Close()
	s.reference = ref
	if s.phase == PhaseCalibrated {
		s.phase = PhaseReady
	}
}

func (s *Session) clearReferenceLocked() {
	s.reference.Close()
	s.reference = gocv.NewMat()
	if s.phase == PhaseReady {
		s.phase = PhaseCalibrated
	}
}

func clonePoints(pts []image.Point) []image.Point {
	if len(pts) == 0 {
		return nil
	}
	out := make([]image.Point, len(pts))
	copy(out, pts)
	return out
}
