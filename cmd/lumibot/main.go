package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/relfayoumi/LumiBot-chess/internal/config"
	"github.com/relfayoumi/LumiBot-chess/internal/engine"
	"github.com/relfayoumi/LumiBot-chess/internal/game"
	"github.com/relfayoumi/LumiBot-chess/internal/iface"
	"github.com/relfayoumi/LumiBot-chess/internal/session"
	"github.com/relfayoumi/LumiBot-chess/internal/storage"
	"github.com/relfayoumi/LumiBot-chess/internal/vision"
)

func main() {
	var (
		configPath = flag.String("config", "config.json", "Path to configuration file")
		device     = flag.Int("camera", -1, "Camera device index (overrides config)")
		screen     = flag.String("screen", "", "Capture a screen region x,y,width,height instead of a camera")
		video      = flag.String("video", "", "Read frames from a video file instead of a camera")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *device >= 0 {
		cfg.Camera.Device = *device
		cfg.Camera.VideoPath = ""
		cfg.Camera.StillImages = nil
		cfg.Camera.ScreenRegion = nil
	}
	if *video != "" {
		cfg.Camera.VideoPath = *video
	}
	if *screen != "" {
		region, err := parseRegion(*screen)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -screen: %v\n", err)
			os.Exit(1)
		}
		cfg.Camera.ScreenRegion = region
	}
	if *verbose {
		cfg.Interface.LogLevel = "debug"
	}

	logger, closeLog, err := iface.NewLogger(cfg.Interface.LogPath, cfg.Interface.LogLevel, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	err = run(cfg, logger)
	logger.Sync()
	closeLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to defaults when it
// does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func run(cfg *config.Config, logger *zap.Logger) (err error) {
	logger.Info("LumiBot starting",
		zap.String("orientation", cfg.Vision.Orientation),
		zap.Float64("threshold", cfg.Vision.BaseThreshold),
		zap.String("engine", cfg.Engine.Path))

	source, err := openSource(cfg.Camera)
	if err != nil {
		return err
	}
	camera := vision.NewCamera(source)
	defer func() { err = multierr.Append(err, camera.Close()) }()

	sess, err := session.New(cfg.Vision, camera, logger.Named("session"))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, sess.Close()) }()

	pipeline, err := vision.NewPipeline(cfg.Vision, camera, sess, logger.Named("display"))
	if err != nil {
		return err
	}
	if err := pipeline.Start(); err != nil {
		return err
	}
	defer pipeline.Stop()

	var journal game.Journal
	var records iface.Records
	if cfg.Storage.JournalPath != "" {
		j, openErr := storage.NewJournal(cfg.Storage.JournalPath)
		if openErr != nil {
			return openErr
		}
		defer func() { err = multierr.Append(err, j.Close()) }()
		journal = j
		records = j
	}

	launch := engine.NewLauncher(cfg.Engine.Path, cfg.Engine.AnalysisElo, logger.Named("engine"))
	controller := game.NewController(launch, journal, game.Options{
		MoveTime:      time.Duration(cfg.Engine.MoveTimeMs) * time.Millisecond,
		AnalysisDepth: cfg.Engine.AnalysisDepth,
	}, logger.Named("game"))
	defer func() { err = multierr.Append(err, controller.Close()) }()

	color, err := game.ParseColor(cfg.Game.PlayerColor)
	if err != nil {
		return err
	}
	cli := iface.NewCLI(sess, controller, pipeline, iface.Options{
		DefaultColor: color,
		DefaultElo:   cfg.Engine.Elo,
		SnapshotDir:  cfg.Interface.SnapshotDir,
		Journal:      records,
	}, logger.Named("cli"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logger.Info("Interrupted, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	cli.PrintWelcome()
	if err := cli.Run(ctx, os.Stdin, os.Stdout); err != nil {
		return err
	}

	stats := pipeline.GetStats()
	logger.Info("LumiBot shutting down",
		zap.Int64("frames_rendered", stats.FramesRendered),
		zap.Int64("frames_dropped", stats.FramesDropped),
		zap.Any("capture", camera.Stats()))
	return nil
}

// openSource picks the frame source: screen, video, stills, then device
func openSource(cam config.CameraConfig) (vision.FrameSource, error) {
	switch {
	case cam.ScreenRegion != nil:
		r := cam.ScreenRegion
		return vision.NewScreenSource(r.X, r.Y, r.Width, r.Height)
	case cam.VideoPath != "":
		return vision.NewVideoSource(cam.VideoPath, cam.LoopVideo)
	case len(cam.StillImages) > 0:
		return vision.NewStillSource(cam.StillImages...)
	}
	return vision.NewDeviceSource(cam.Device)
}

func parseRegion(s string) (*config.Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("expected x,y,width,height, got %q", s)
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", p)
		}
		vals[i] = v
	}
	if vals[2] <= 0 || vals[3] <= 0 {
		return nil, fmt.Errorf("region must have a positive size")
	}
	return &config.Region{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}, nil
}
