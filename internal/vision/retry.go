package vision

import (
	"fmt"
	"image"
	"time"

	"github.com/notnil/chess"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// CaptureFunc returns a fresh raw camera frame owned by the caller.
type CaptureFunc func() (*gocv.Mat, error)

// Detection is the outcome of a successful detection call.
type Detection struct {
	Move *DetectedMove
	// Alpha is the contrast level that produced the detection.
	Alpha float64
	// Reference is the new frame, rectified, normalized at Alpha and
	// converted to grayscale. The caller owns it.
	Reference gocv.Mat
	// Stage is "base", "low" or "high".
	Stage    string
	Attempts int
}

// RetryStats counts detection outcomes.
type RetryStats struct {
	Calls        int
	BaseHits     int
	SweepHits    int
	Misses       int
	Timeouts     int
	FrameErrors  int
	LastDuration time.Duration
}

// RetryController runs detection at the current contrast and, when that
// fails, sweeps lower and then higher contrast levels under time budgets.
type RetryController struct {
	config   *Config
	corners  []image.Point
	detector *Detector
	logger   *zap.Logger
	now      func() time.Time
	stats    RetryStats
}

// NewRetryController creates a controller for one calibration.
func NewRetryController(config *Config, corners []image.Point, detector *Detector, logger *zap.Logger) *RetryController {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := make([]image.Point, len(corners))
	copy(c, corners)
	return &RetryController{
		config:   config,
		corners:  c,
		detector: detector,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the time source used for sweep budgets.
func (rc *RetryController) SetClock(now func() time.Time) {
	rc.now = now
}

// Stats returns detection statistics.
func (rc *RetryController) Stats() RetryStats {
	return rc.stats
}

// DetectWithRetry captures frames and looks for the move pos allows between
// reference and the current board. ok is false when every attempt fails;
// err then carries any frame errors met during the sweeps.
func (rc *RetryController) DetectWithRetry(capture CaptureFunc, pos *chess.Position, reference gocv.Mat, baseAlpha float64) (*Detection, bool, error) {
	start := rc.now()
	rc.stats.Calls++
	defer func() { rc.stats.LastDuration = rc.now().Sub(start) }()

	if len(rc.corners) != 4 {
		return nil, false, ErrInvalidCalibration
	}
	if reference.Empty() {
		return nil, false, ErrEmptyImage
	}

	// Stage 1: current contrast
	det, ok, err := rc.attempt(capture, pos, reference, baseAlpha, rc.config.BaseThreshold, false)
	if err != nil {
		rc.stats.FrameErrors++
		rc.logger.Warn("Detection aborted", zap.Error(err))
		return nil, false, err
	}
	if ok {
		det.Stage = "base"
		det.Attempts = 1
		rc.stats.BaseHits++
		rc.logger.Info("Move detected",
			zap.String("move", det.Move.UCI()),
			zap.Float64("alpha", baseAlpha))
		return det, true, nil
	}

	rc.logger.Info("No move at current contrast, starting sweep", zap.Float64("alpha", baseAlpha))

	// Stage 2: sweeps, both budgets measured from here
	sweepStart := rc.now()
	attempts := 1
	var errs error
	var tried []float64
	var expired []string // sweeps cut short by their budget
	timedOut := false    // whether the last sweep run ended on its budget

	sweeps := []struct {
		name  string
		sweep Sweep
	}{
		{"low", rc.config.LowSweep},
		{"high", rc.config.HighSweep},
	}
	for _, s := range sweeps {
		timedOut = false
		for _, alpha := range s.sweep.Alphas() {
			if elapsed := rc.now().Sub(sweepStart); elapsed > s.sweep.Budget() {
				rc.logger.Info("Sweep time budget exhausted",
					zap.String("sweep", s.name),
					zap.Duration("elapsed", elapsed),
					zap.Duration("budget", s.sweep.Budget()))
				expired = append(expired, s.name)
				timedOut = true
				break
			}

			attempts++
			tried = append(tried, alpha)
			det, ok, err := rc.attempt(capture, pos, reference, alpha, s.sweep.Threshold, true)
			if err != nil {
				rc.stats.FrameErrors++
				rc.logger.Warn("Sweep step failed",
					zap.String("sweep", s.name),
					zap.Float64("alpha", alpha),
					zap.Error(err))
				errs = multierr.Append(errs, fmt.Errorf("alpha %.2f: %w", alpha, err))
				continue
			}
			if ok {
				det.Stage = s.name
				det.Attempts = attempts
				rc.stats.SweepHits++
				rc.logger.Info("Move detected after contrast sweep",
					zap.String("move", det.Move.UCI()),
					zap.String("sweep", s.name),
					zap.Float64("alpha", alpha),
					zap.Int("attempts", attempts))
				return det, true, nil
			}
			rc.logger.Debug("No move at alpha",
				zap.String("sweep", s.name),
				zap.Float64("alpha", alpha))
		}
	}

	rc.stats.Misses++
	reason := "all contrast levels tried"
	if timedOut {
		rc.stats.Timeouts++
		reason = "time budget exhausted"
	}
	rc.logger.Info("Could not detect move",
		zap.String("reason", reason),
		zap.Float64s("alphas", tried),
		zap.Strings("expired", expired),
		zap.Int("attempts", attempts))
	return nil, false, errs
}

// attempt captures one frame and runs detection at alpha. The base attempt
// rectifies before normalizing; sweep steps normalize the raw frame first.
func (rc *RetryController) attempt(capture CaptureFunc, pos *chess.Position, reference gocv.Mat, alpha, threshold float64, sweep bool) (*Detection, bool, error) {
	frame, err := capture()
	if err != nil {
		return nil, false, err
	}
	if frame == nil || frame.Empty() {
		if frame != nil {
			frame.Close()
		}
		return nil, false, ErrNoFrame
	}
	defer frame.Close()

	var newGray gocv.Mat
	if sweep {
		adjusted, err := Normalize(*frame, alpha, rc.config.Beta)
		if err != nil {
			return nil, false, err
		}
		board, err := Rectify(adjusted, rc.corners)
		adjusted.Close()
		if err != nil {
			return nil, false, err
		}
		newGray, err = ToGray(board)
		board.Close()
		if err != nil {
			return nil, false, err
		}
	} else {
		newGray, err = RectifyGray(*frame, rc.corners, alpha, rc.config.Beta)
		if err != nil {
			return nil, false, err
		}
	}

	oldGray, err := NormalizeGray(reference, alpha, rc.config.Beta)
	if err != nil {
		newGray.Close()
		return nil, false, err
	}
	defer oldGray.Close()

	move, ok, err := rc.detector.Detect(oldGray, newGray, pos, threshold)
	if err != nil || !ok {
		newGray.Close()
		return nil, false, err
	}
	return &Detection{Move: move, Alpha: alpha, Reference: newGray}, true, nil
}
