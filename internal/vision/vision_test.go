package vision

import (
	"errors"
	"image"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/notnil/chess"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.IntensityGate != 20 {
		t.Errorf("Expected gate 20, got %f", config.IntensityGate)
	}

	if config.DisplayFPS != 30 {
		t.Errorf("Expected 30 FPS, got %d", config.DisplayFPS)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Default config validation failed: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		expectErr bool
	}{
		{
			name:      "Valid config",
			modifyFn:  func(c *Config) {},
			expectErr: false,
		},
		{
			name:      "Even blur kernel",
			modifyFn:  func(c *Config) { c.BlurKernel = 4 },
			expectErr: true,
		},
		{
			name:      "Gate out of range",
			modifyFn:  func(c *Config) { c.IntensityGate = 300 },
			expectErr: true,
		},
		{
			name:      "Negative beta",
			modifyFn:  func(c *Config) { c.Beta = -10 },
			expectErr: true,
		},
		{
			name:      "Sweep reaching zero alpha",
			modifyFn:  func(c *Config) { c.LowSweep.Steps = 10 },
			expectErr: true,
		},
		{
			name:      "Invalid FPS",
			modifyFn:  func(c *Config) { c.DisplayFPS = 0 },
			expectErr: true,
		},
		{
			name:      "Unknown orientation",
			modifyFn:  func(c *Config) { c.Orientation = "diagonal" },
			expectErr: true,
		},
		{
			name:      "Short orientation table",
			modifyFn:  func(c *Config) { c.OrientationTable = []string{"a1"} },
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modifyFn(config)

			err := config.Validate()
			if tt.expectErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
		})
	}
}

func TestSweepAlphas(t *testing.T) {
	config := DefaultConfig()

	low := config.LowSweep.Alphas()
	wantLow := []float64{0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2, 0.1}
	if !reflect.DeepEqual(low, wantLow) {
		t.Errorf("Expected low sweep %v, got %v", wantLow, low)
	}

	high := config.HighSweep.Alphas()
	if len(high) != 11 {
		t.Fatalf("Expected 11 high sweep steps, got %d", len(high))
	}
	if high[0] != 1.1 || high[10] != 2.1 {
		t.Errorf("Expected high sweep 1.1..2.1, got %v", high)
	}
}

func TestConfigSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vision.json")

	config := DefaultConfig()
	config.Orientation = OrientationBlack
	config.HighSweep.BudgetMs = 2500
	if err := config.SaveConfig(path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if loaded.Orientation != OrientationBlack {
		t.Errorf("Expected orientation black, got %s", loaded.Orientation)
	}
	if loaded.HighSweep.BudgetMs != 2500 {
		t.Errorf("Expected budget 2500, got %d", loaded.HighSweep.BudgetMs)
	}
}

func TestSquareCenter(t *testing.T) {
	tests := []struct {
		square chess.Square
		want   image.Point
	}{
		{chess.E1, image.Pt(288, 480)},
		{chess.E2, image.Pt(288, 416)},
		{chess.A8, image.Pt(32, 32)},
		{chess.H1, image.Pt(480, 480)},
		{chess.A1, image.Pt(32, 480)},
	}

	for _, tt := range tests {
		t.Run(tt.square.String(), func(t *testing.T) {
			if got := SquareCenter(tt.square); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestTileBounds(t *testing.T) {
	tests := []struct {
		index LookupIndex
		want  image.Rectangle
	}{
		{1, image.Rect(0, 0, 64, 64)},
		{8, image.Rect(448, 0, 512, 64)},
		{9, image.Rect(0, 64, 64, 128)},
		{64, image.Rect(448, 448, 512, 512)},
	}
	for _, tt := range tests {
		got, err := TileBounds(tt.index)
		if err != nil {
			t.Fatalf("Unexpected error for %d: %v", tt.index, err)
		}
		if got != tt.want {
			t.Errorf("Index %d: expected %v, got %v", tt.index, tt.want, got)
		}
	}

	for _, bad := range []LookupIndex{0, 65, -3} {
		if _, err := TileBounds(bad); !errors.Is(err, ErrInvalidIndex) {
			t.Errorf("Index %d: expected ErrInvalidIndex, got %v", bad, err)
		}
	}
}

func TestLookupIndexRoundTrip(t *testing.T) {
	for tile := 0; tile < TileCount; tile++ {
		idx := LookupIndexOf(tile)
		if !idx.Valid() {
			t.Fatalf("Tile %d gave invalid index %d", tile, idx)
		}
		if idx.Tile() != tile {
			t.Errorf("Tile %d round-tripped to %d", tile, idx.Tile())
		}
	}
}

func TestOrientationWhite(t *testing.T) {
	table, err := NewOrientation(OrientationWhite)
	if err != nil {
		t.Fatalf("Failed to build table: %v", err)
	}

	tests := []struct {
		index LookupIndex
		want  chess.Square
	}{
		{1, chess.A8},
		{8, chess.H8},
		{57, chess.A1},
		{64, chess.H1},
		{53, chess.E2},
		{37, chess.E4},
	}
	for _, tt := range tests {
		got, err := table.Lookup(tt.index)
		if err != nil {
			t.Fatalf("Lookup %d failed: %v", tt.index, err)
		}
		if got != tt.want {
			t.Errorf("Index %d: expected %s, got %s", tt.index, tt.want, got)
		}
		// the white table agrees with the pixel layout of SquareCenter
		bounds, _ := TileBounds(tt.index)
		if !SquareCenter(got).In(bounds) {
			t.Errorf("Center of %s is outside tile %d", got, tt.index)
		}
	}

	if _, err := table.Lookup(0); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("Expected ErrInvalidIndex, got %v", err)
	}
}

func TestTileCenterRoundTrip(t *testing.T) {
	for _, name := range []string{OrientationWhite, OrientationBlack, OrientationLeft, OrientationRight} {
		t.Run(name, func(t *testing.T) {
			table, err := NewOrientation(name)
			if err != nil {
				t.Fatalf("Failed to build table: %v", err)
			}
			for i := LookupIndex(1); i <= TileCount; i++ {
				sq, err := table.Lookup(i)
				if err != nil {
					t.Fatalf("Lookup %d failed: %v", i, err)
				}
				bounds, err := TileBounds(i)
				if err != nil {
					t.Fatalf("TileBounds %d failed: %v", i, err)
				}
				if c := table.Center(sq); !c.In(bounds) {
					t.Errorf("Center %v of %s is outside tile %d %v", c, sq, i, bounds)
				}
				if name == OrientationWhite && !SquareCenter(sq).In(bounds) {
					t.Errorf("SquareCenter of %s is outside tile %d", sq, i)
				}
			}
		})
	}
}

func TestOrientationsArePermutations(t *testing.T) {
	for _, name := range []string{OrientationWhite, OrientationBlack, OrientationLeft, OrientationRight} {
		t.Run(name, func(t *testing.T) {
			table, err := NewOrientation(name)
			if err != nil {
				t.Fatalf("Failed to build table: %v", err)
			}
			seen := make(map[chess.Square]bool)
			for _, sq := range table {
				if seen[sq] {
					t.Fatalf("Square %s mapped twice", sq)
				}
				seen[sq] = true
			}
		})
	}

	black, _ := NewOrientation(OrientationBlack)
	if sq, _ := black.Lookup(1); sq != chess.H1 {
		t.Errorf("Expected h1 at top-left for black, got %s", sq)
	}
}

func TestTableFromSquares(t *testing.T) {
	white, _ := NewOrientation(OrientationWhite)
	names := make([]string, TileCount)
	for i, sq := range white {
		names[i] = sq.String()
	}
	names[0] = "-"

	table, err := TableFromSquares(names)
	if err != nil {
		t.Fatalf("Failed to build table: %v", err)
	}
	if _, err := table.Lookup(1); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("Expected unmapped tile to fail, got %v", err)
	}
	if sq, _ := table.Lookup(64); sq != chess.H1 {
		t.Errorf("Expected h1, got %s", sq)
	}

	names[1] = "h1"
	if _, err := TableFromSquares(names); err == nil {
		t.Error("Expected duplicate square error, got nil")
	}
}

func TestParseSquare(t *testing.T) {
	if sq, err := ParseSquare("e4"); err != nil || sq != chess.E4 {
		t.Errorf("Expected e4, got %s (%v)", sq, err)
	}
	for _, bad := range []string{"", "i1", "a9", "e44"} {
		if _, err := ParseSquare(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestQuadArea(t *testing.T) {
	corners := []image.Point{{0, 0}, {640, 0}, {0, 480}, {640, 480}}
	if got := QuadArea(corners); got != 640*480 {
		t.Errorf("Expected area %d, got %f", 640*480, got)
	}

	collinear := []image.Point{{0, 0}, {10, 0}, {20, 0}, {30, 0}}
	if got := QuadArea(collinear); got != 0 {
		t.Errorf("Expected zero area, got %f", got)
	}
}
