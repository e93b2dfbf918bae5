package vision

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"
)

// Sweep describes one contrast sweep of the retry controller.
type Sweep struct {
	From      float64 `json:"from"`      // First alpha tried
	Step      float64 `json:"step"`      // Alpha increment per step (may be negative)
	Steps     int     `json:"steps"`     // Number of alphas tried
	Threshold float64 `json:"threshold"` // Binarization threshold for every step
	BudgetMs  int     `json:"budget_ms"` // Wall-clock budget measured from the start of the first sweep
}

// Alphas returns the contrast levels of the sweep, rounded to two decimals
// so that repeated float addition never drifts past the intended values.
func (s Sweep) Alphas() []float64 {
	alphas := make([]float64, 0, s.Steps)
	for i := 0; i < s.Steps; i++ {
		a := s.From + float64(i)*s.Step
		alphas = append(alphas, math.Round(a*100)/100)
	}
	return alphas
}

// Budget returns the sweep budget as a duration.
func (s Sweep) Budget() time.Duration {
	return time.Duration(s.BudgetMs) * time.Millisecond
}

// Config holds move detection and display settings
type Config struct {
	// Difference detection
	BlurKernel    int     `json:"blur_kernel"`    // Gaussian kernel size (odd)
	IntensityGate float64 `json:"intensity_gate"` // Minimum mean of the strongest tile on a 0-255 scale
	BaseThreshold float64 `json:"base_threshold"` // Binarization threshold of the first pass

	// Lighting
	DefaultAlpha float64 `json:"default_alpha"` // Contrast used until a sweep finds a better one
	Beta         float64 `json:"beta"`          // Fixed brightness offset

	// Contrast sweeps tried after the first pass fails
	LowSweep  Sweep `json:"low_sweep"`
	HighSweep Sweep `json:"high_sweep"`

	// Display stream
	DisplayFPS   int `json:"display_fps"`
	DisplayWidth int `json:"display_width"` // 0 keeps the native size

	// Orientation of the board relative to the camera: white, black, left, right
	Orientation string `json:"orientation"`
	// Optional explicit table: 64 algebraic squares in tile order (row-major, top-left first)
	OrientationTable []string `json:"orientation_table,omitempty"`
}

// DefaultConfig returns default vision configuration
func DefaultConfig() *Config {
	return &Config{
		BlurKernel:    3,
		IntensityGate: 20,
		BaseThreshold: 20,
		DefaultAlpha:  1.0,
		Beta:          0,
		LowSweep: Sweep{
			From:      0.9,
			Step:      -0.1,
			Steps:     9,
			Threshold: 40,
			BudgetMs:  5000,
		},
		HighSweep: Sweep{
			From:      1.1,
			Step:      0.1,
			Steps:     11,
			Threshold: 70,
			BudgetMs:  10000,
		},
		DisplayFPS:   30,
		DisplayWidth: 0,
		Orientation:  OrientationWhite,
	}
}

// LoadConfig loads configuration from a JSON file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// SaveConfig saves configuration to a JSON file
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.BlurKernel < 1 || c.BlurKernel%2 == 0 {
		return fmt.Errorf("invalid blur kernel: %d (must be odd and positive)", c.BlurKernel)
	}

	if c.IntensityGate < 0 || c.IntensityGate > 255 {
		return fmt.Errorf("invalid intensity gate: %f (must be 0-255)", c.IntensityGate)
	}

	if c.BaseThreshold < 0 || c.BaseThreshold > 255 {
		return fmt.Errorf("invalid base threshold: %f (must be 0-255)", c.BaseThreshold)
	}

	if c.DefaultAlpha <= 0 {
		return fmt.Errorf("invalid default alpha: %f (must be positive)", c.DefaultAlpha)
	}

	// ConvertScaleAbs only matches clamp(p*alpha+beta) for a non-negative offset
	if c.Beta < 0 || c.Beta > 255 {
		return fmt.Errorf("invalid beta: %f (must be 0-255)", c.Beta)
	}

	for name, s := range map[string]Sweep{"low": c.LowSweep, "high": c.HighSweep} {
		if err := s.validate(); err != nil {
			return fmt.Errorf("invalid %s sweep: %w", name, err)
		}
	}

	if c.DisplayFPS < 1 || c.DisplayFPS > 60 {
		return fmt.Errorf("invalid display FPS: %d (must be 1-60)", c.DisplayFPS)
	}

	if c.DisplayWidth < 0 {
		return fmt.Errorf("invalid display width: %d", c.DisplayWidth)
	}

	if _, err := c.Table(); err != nil {
		return err
	}

	return nil
}

func (s Sweep) validate() error {
	if s.Steps < 0 {
		return fmt.Errorf("negative step count %d", s.Steps)
	}
	if s.Threshold < 0 || s.Threshold > 255 {
		return fmt.Errorf("threshold %f out of range 0-255", s.Threshold)
	}
	if s.BudgetMs < 0 {
		return fmt.Errorf("negative budget %dms", s.BudgetMs)
	}
	for _, a := range s.Alphas() {
		if a <= 0 {
			return fmt.Errorf("alpha %.2f is not positive", a)
		}
	}
	return nil
}

// Table builds the orientation table described by the configuration.
func (c *Config) Table() (OrientationTable, error) {
	if len(c.OrientationTable) > 0 {
		return TableFromSquares(c.OrientationTable)
	}
	return NewOrientation(c.Orientation)
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Vision Config:\n"+
			"  Blur Kernel: %d\n"+
			"  Intensity Gate: %.1f\n"+
			"  Base Threshold: %.1f\n"+
			"  Default Alpha: %.2f (beta %.1f)\n"+
			"  Low Sweep: %v threshold %.0f budget %dms\n"+
			"  High Sweep: %v threshold %.0f budget %dms\n"+
			"  Display FPS: %d\n"+
			"  Orientation: %s\n",
		c.BlurKernel,
		c.IntensityGate,
		c.BaseThreshold,
		c.DefaultAlpha, c.Beta,
		c.LowSweep.Alphas(), c.LowSweep.Threshold, c.LowSweep.BudgetMs,
		c.HighSweep.Alphas(), c.HighSweep.Threshold, c.HighSweep.BudgetMs,
		c.DisplayFPS,
		c.Orientation,
	)
}
