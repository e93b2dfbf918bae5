package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/relfayoumi/LumiBot-chess/internal/engine"
	"github.com/relfayoumi/LumiBot-chess/internal/vision"
)

// Config represents the application configuration
type Config struct {
	Camera    CameraConfig    `json:"camera"`
	Vision    *vision.Config  `json:"vision"`
	Engine    EngineConfig    `json:"engine"`
	Game      GameConfig      `json:"game"`
	Storage   StorageConfig   `json:"storage"`
	Interface InterfaceConfig `json:"interface"`
}

// CameraConfig selects the frame source. Exactly one of a device, a video
// file, a list of still images or a screen region is used, in that order
// of precedence: screen, video, stills, device.
type CameraConfig struct {
	Device       int      `json:"device"`
	VideoPath    string   `json:"video_path,omitempty"`
	LoopVideo    bool     `json:"loop_video"`
	StillImages  []string `json:"still_images,omitempty"`
	ScreenRegion *Region  `json:"screen_region,omitempty"`
}

// Region defines a screen capture area
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// EngineConfig contains UCI engine settings
type EngineConfig struct {
	Path          string `json:"path"`
	Elo           int    `json:"elo"`
	MoveTimeMs    int    `json:"move_time_ms"`
	AnalysisDepth int    `json:"analysis_depth"`
	AnalysisElo   int    `json:"analysis_elo"`
}

// GameConfig contains game settings
type GameConfig struct {
	PlayerColor string `json:"player_color"` // white or black
}

// StorageConfig contains game journal settings
type StorageConfig struct {
	JournalPath string `json:"journal_path"` // empty disables the journal
}

// InterfaceConfig contains UI and logging settings
type InterfaceConfig struct {
	LogLevel    string `json:"log_level"`
	LogPath     string `json:"log_path"`
	SnapshotDir string `json:"snapshot_dir"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Camera: CameraConfig{
			Device: 0,
		},
		Vision: vision.DefaultConfig(),
		Engine: EngineConfig{
			Path:          "stockfish",
			Elo:           1500,
			MoveTimeMs:    1000,
			AnalysisDepth: 20,
			AnalysisElo:   3000,
		},
		Game: GameConfig{
			PlayerColor: "white",
		},
		Storage: StorageConfig{
			JournalPath: "data/games.db",
		},
		Interface: InterfaceConfig{
			LogLevel:    "info",
			LogPath:     "logs/lumibot.log",
			SnapshotDir: "snapshots",
		},
	}
}

// Load reads and parses the configuration file. Missing fields keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Camera.Device < 0 {
		return fmt.Errorf("invalid camera device: %d", c.Camera.Device)
	}
	if r := c.Camera.ScreenRegion; r != nil && (r.Width <= 0 || r.Height <= 0) {
		return fmt.Errorf("invalid screen region: %dx%d", r.Width, r.Height)
	}

	if c.Vision == nil {
		return fmt.Errorf("missing vision section")
	}
	if err := c.Vision.Validate(); err != nil {
		return fmt.Errorf("vision: %w", err)
	}

	if c.Engine.Path == "" {
		return fmt.Errorf("engine path is empty")
	}
	if c.Engine.Elo < engine.MinElo || c.Engine.Elo > engine.MaxElo {
		return fmt.Errorf("invalid engine Elo: %d (must be %d-%d)", c.Engine.Elo, engine.MinElo, engine.MaxElo)
	}
	if c.Engine.MoveTimeMs <= 0 {
		return fmt.Errorf("invalid engine move time: %dms", c.Engine.MoveTimeMs)
	}
	if c.Engine.AnalysisDepth < 1 || c.Engine.AnalysisDepth > 99 {
		return fmt.Errorf("invalid analysis depth: %d (must be 1-99)", c.Engine.AnalysisDepth)
	}

	switch strings.ToLower(c.Game.PlayerColor) {
	case "white", "black":
	default:
		return fmt.Errorf("invalid player color: %q", c.Game.PlayerColor)
	}

	switch strings.ToLower(c.Interface.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Interface.LogLevel)
	}

	return nil
}
