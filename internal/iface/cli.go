// Package iface is the text front end: the command loop the user drives the
// game with, and the logger shared by the binaries.
package iface

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/notnil/chess"
	"go.uber.org/zap"

	"github.com/relfayoumi/LumiBot-chess/internal/game"
	"github.com/relfayoumi/LumiBot-chess/internal/session"
	"github.com/relfayoumi/LumiBot-chess/internal/storage"
	"github.com/relfayoumi/LumiBot-chess/internal/vision"
)

// ErrQuit is returned by Execute for the quit command
var ErrQuit = errors.New("quit")

// Board is the calibrated camera view moves are detected on;
// *session.Session implements it.
type Board interface {
	StartCalibration()
	AddCorner(p image.Point) (int, error)
	SetCorners(corners []image.Point) error
	CaptureInitialReference() error
	CaptureReferenceNow() error
	DetectPlayerMove(pos *chess.Position) (string, bool, error)
	Phase() session.Phase
	Alpha() float64
	LastDetectionStats() vision.RetryStats
}

// Display shows the live board; *vision.Pipeline implements it
type Display interface {
	SetArrow(from, to chess.Square)
	ClearArrow()
	Latest() image.Image
}

// Records is the game journal; *storage.Journal implements it
type Records interface {
	Games() ([]storage.GameRecord, error)
	Game(gameID uint64) (storage.GameRecord, error)
	Moves(gameID uint64) ([]storage.MoveRecord, error)
	GetStats() (storage.Stats, error)
	ExportJSON(gameID uint64, outputPath string) error
}

// Options configure the command loop
type Options struct {
	DefaultColor  chess.Color
	DefaultElo    int
	SnapshotDir   string
	EngineTimeout time.Duration // upper bound for one engine call
	Journal       Records       // nil disables games and export
}

// CLI reads commands and drives the board session and the game
type CLI struct {
	board   Board
	game    *game.Controller
	display Display
	opts    Options
	logger  *zap.Logger

	mu  sync.Mutex
	out io.Writer
}

// NewCLI creates the command loop. display may be nil.
func NewCLI(board Board, controller *game.Controller, display Display, opts Options, logger *zap.Logger) *CLI {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DefaultColor == chess.NoColor {
		opts.DefaultColor = chess.White
	}
	if opts.DefaultElo == 0 {
		opts.DefaultElo = 1500
	}
	if opts.EngineTimeout <= 0 {
		opts.EngineTimeout = 30 * time.Second
	}
	return &CLI{
		board:   board,
		game:    controller,
		display: display,
		opts:    opts,
		logger:  logger,
		out:     os.Stdout,
	}
}

const helpText = `Commands:
  calibrate                     start clicking the board corners
  corner X Y                    add a corner (top-left, top-right, bottom-left, bottom-right)
  corners x1 y1 x2 y2 x3 y3 x4 y4
                                set all four corners at once
  start [white|black] [elo]     start a new game
  load FILE [white|black] [elo] resume the game in a PGN file
  fen FEN                       start from a FEN position
  confirm                       confirm your move, or that the engine move is on the board
  analyze                       evaluate the current position
  status                        show game and calibration status
  pgn                           print the game so far
  snapshot                      save the current display frame
  games [ID]                    list journaled games, or the moves of one
  export ID FILE                write a journaled game to a JSON file
  quit                          exit`

// PrintWelcome displays the welcome message
func (c *CLI) PrintWelcome() {
	c.printf("%s\n", strings.Repeat("=", 60))
	c.printf("  LumiBot - play a physical board against the engine\n")
	c.printf("%s\n\n", strings.Repeat("=", 60))
	c.printf("%s\n\n", helpText)
}

// Run executes commands read from in until quit, EOF or ctx is done
func (c *CLI) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	c.mu.Lock()
	c.out = out
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		c.printf("> ")
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if err := c.Execute(ctx, line); err != nil {
				if errors.Is(err, ErrQuit) {
					return nil
				}
				c.PrintError(err)
			}
		}
	}
}

// Execute runs one command line
func (c *CLI) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	args := fields[1:]

	switch strings.ToLower(fields[0]) {
	case "help", "?":
		c.printf("%s\n", helpText)
		return nil
	case "calibrate":
		c.board.StartCalibration()
		c.printf("Calibrating: enter the corners with `corner X Y` in the order top-left, top-right, bottom-left, bottom-right\n")
		return nil
	case "corner":
		return c.corner(args)
	case "corners":
		return c.corners(args)
	case "start":
		return c.start(ctx, args)
	case "load":
		return c.load(ctx, args)
	case "fen":
		return c.fen(ctx, args)
	case "confirm":
		return c.confirm(ctx)
	case "analyze":
		return c.analyze(ctx)
	case "status":
		return c.status()
	case "pgn":
		pgn, err := c.game.PGN()
		if err != nil {
			return err
		}
		c.printf("%s\n", pgn)
		return nil
	case "snapshot":
		return c.snapshot()
	case "games":
		return c.games(args)
	case "export":
		return c.export(args)
	case "quit", "exit":
		return ErrQuit
	}
	return fmt.Errorf("unknown command %q (try help)", fields[0])
}

func (c *CLI) corner(args []string) error {
	pts, err := parsePoints(args, 1)
	if err != nil {
		return err
	}
	n, err := c.board.AddCorner(pts[0])
	if err != nil {
		return err
	}
	if n < 4 {
		c.printf("Corner %d/4 (%s) recorded\n", n, vision.CornerNames[n-1])
		return nil
	}
	c.printf("Calibration complete\n")
	c.captureReference(true)
	return nil
}

func (c *CLI) corners(args []string) error {
	pts, err := parsePoints(args, 4)
	if err != nil {
		return err
	}
	if err := c.board.SetCorners(pts); err != nil {
		return err
	}
	c.printf("Calibration complete\n")
	c.captureReference(true)
	return nil
}

// captureReference takes a reference image when the board is calibrated.
// A failure is reported but not fatal: the next confirm falls back to
// capturing the reference itself.
func (c *CLI) captureReference(initial bool) {
	if c.board.Phase() < session.PhaseCalibrated {
		return
	}
	var err error
	if initial {
		err = c.board.CaptureInitialReference()
	} else {
		err = c.board.CaptureReferenceNow()
	}
	if err != nil {
		c.logger.Warn("Failed to capture reference", zap.Error(err))
		c.printf("Warning: could not capture the board (%v)\n", err)
	}
}

// parseSide reads the optional color and Elo arguments of a new game
func (c *CLI) parseSide(args []string) (chess.Color, int, error) {
	color := c.opts.DefaultColor
	elo := c.opts.DefaultElo
	for _, arg := range args {
		if n, err := strconv.Atoi(arg); err == nil {
			elo = n
			continue
		}
		parsed, err := game.ParseColor(arg)
		if err != nil {
			return chess.NoColor, 0, err
		}
		color = parsed
	}
	return color, elo, nil
}

func (c *CLI) start(ctx context.Context, args []string) error {
	color, elo, err := c.parseSide(args)
	if err != nil {
		return err
	}
	if c.display != nil {
		c.display.ClearArrow()
	}
	if err := c.game.Start(color, elo); err != nil {
		return err
	}
	c.printf("New game: you play %s against Elo %d\n", color.Name(), elo)
	return c.begin(ctx)
}

func (c *CLI) load(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: load FILE [white|black] [elo]")
	}
	color, elo, err := c.parseSide(args[1:])
	if err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open PGN: %w", err)
	}
	defer f.Close()

	if c.display != nil {
		c.display.ClearArrow()
	}
	if err := c.game.LoadPGN(f, color, elo); err != nil {
		return err
	}
	c.printf("Resumed game from %s: you play %s against Elo %d\n", args[0], color.Name(), elo)
	return c.begin(ctx)
}

func (c *CLI) fen(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: fen FEN")
	}
	if c.display != nil {
		c.display.ClearArrow()
	}
	color, elo := c.opts.DefaultColor, c.opts.DefaultElo
	if err := c.game.LoadFEN(strings.Join(args, " "), color, elo); err != nil {
		return err
	}
	c.printf("New game from position: you play %s against Elo %d\n", color.Name(), elo)
	return c.begin(ctx)
}

// begin captures the starting board and lets the engine move when it is
// its turn
func (c *CLI) begin(ctx context.Context) error {
	c.captureReference(true)
	if c.board.Phase() < session.PhaseCalibrated {
		c.printf("The board is not calibrated yet: run calibrate\n")
	}

	if c.reportGameOver() {
		return nil
	}
	if !c.game.IsPlayerTurn() {
		return c.engineTurn(ctx)
	}
	c.printf("Make your move and confirm\n")
	return nil
}

func (c *CLI) games(args []string) error {
	if c.opts.Journal == nil {
		return fmt.Errorf("game journal is disabled")
	}
	if len(args) == 1 {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid game id %q", args[0])
		}
		g, err := c.opts.Journal.Game(id)
		if err != nil {
			return err
		}
		c.printf("#%d %s vs Elo %d  %s\n", g.ID, g.PlayerColor, g.Elo, g.Result)
		moves, err := c.opts.Journal.Moves(id)
		if err != nil {
			return err
		}
		for _, m := range moves {
			c.printf("%3d. %-6s %-5s %-6s alpha %.2f\n", m.Ply, m.SAN, m.UCI, m.Source, m.Alpha)
		}
		return nil
	}

	games, err := c.opts.Journal.Games()
	if err != nil {
		return err
	}
	for _, g := range games {
		c.printf("#%d %s  %s vs Elo %d  %s %s\n", g.ID, g.StartedAt.Format("2006-01-02 15:04"),
			g.PlayerColor, g.Elo, g.Result, g.Method)
	}
	stats, err := c.opts.Journal.GetStats()
	if err != nil {
		return err
	}
	c.printf("%d games, %d finished, %d moves\n", stats.Games, stats.Finished, stats.TotalMoves)
	return nil
}

func (c *CLI) export(args []string) error {
	if c.opts.Journal == nil {
		return fmt.Errorf("game journal is disabled")
	}
	if len(args) != 2 {
		return fmt.Errorf("usage: export ID FILE")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid game id %q", args[0])
	}
	if err := c.opts.Journal.ExportJSON(id, args[1]); err != nil {
		return err
	}
	c.printf("Exported game %d to %s\n", id, args[1])
	return nil
}

func (c *CLI) confirm(ctx context.Context) error {
	if c.game.Pending() != nil {
		return c.confirmEngineMove()
	}
	if !c.game.IsPlayerTurn() {
		st, err := c.game.Status()
		if err != nil {
			return err
		}
		if st.Over {
			return game.ErrGameOver
		}
		return game.ErrNotPlayerTurn
	}

	pos := c.game.Position()
	hadReference := c.board.Phase() == session.PhaseReady
	uci, ok, err := c.board.DetectPlayerMove(pos)
	if err != nil {
		return fmt.Errorf("move detection failed: %w", err)
	}
	if !ok {
		if !hadReference {
			c.printf("Board captured, make your move and confirm again\n")
			return nil
		}
		stats := c.board.LastDetectionStats()
		c.logger.Debug("No move detected", zap.Any("stats", stats))
		c.printf("No move detected, check the board and confirm again\n")
		return nil
	}

	move, err := c.game.ValidateAndPush(uci, c.board.Alpha())
	if err != nil {
		return fmt.Errorf("detected %s: %w", uci, err)
	}
	c.printf("You played %s\n", chess.AlgebraicNotation{}.Encode(pos, move))
	if c.reportGameOver() {
		return nil
	}
	return c.engineTurn(ctx)
}

func (c *CLI) engineTurn(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.EngineTimeout)
	defer cancel()

	pos := c.game.Position()
	move, err := c.game.RequestEngineMove(ctx)
	if err != nil {
		return err
	}
	if move == nil {
		c.reportGameOver()
		return nil
	}
	if c.display != nil {
		c.display.SetArrow(move.S1(), move.S2())
	}
	c.printf("Engine plays %s (%s): make it on the board and confirm\n",
		chess.AlgebraicNotation{}.Encode(pos, move), move)
	return nil
}

func (c *CLI) confirmEngineMove() error {
	move, err := c.game.ConfirmEngineMove(c.board.Alpha())
	if err != nil {
		return err
	}
	if c.display != nil {
		c.display.ClearArrow()
	}
	c.captureReference(false)
	c.printf("Engine move %s confirmed\n", move)
	if !c.reportGameOver() {
		c.printf("Your move\n")
	}
	return nil
}

// reportGameOver prints the result and reports whether the game has ended
func (c *CLI) reportGameOver() bool {
	st, err := c.game.Status()
	if err != nil {
		return false
	}
	c.printf("%s\n", st.Message())
	return st.Over
}

func (c *CLI) analyze(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.EngineTimeout)
	defer cancel()

	analysis, err := c.game.Analyze(ctx)
	if err != nil {
		return err
	}
	c.printf("%s\n", analysis)
	return nil
}

func (c *CLI) status() error {
	c.printf("Board: %s (contrast %.2f)\n", c.board.Phase(), c.board.Alpha())
	st, err := c.game.Status()
	if errors.Is(err, game.ErrNoGame) {
		c.printf("No game in progress: run start\n")
		return nil
	}
	if err != nil {
		return err
	}
	c.printf("Game: %s after %d moves, you play %s\n", st.Message(), st.Moves, c.game.PlayerColor().Name())
	if pending := c.game.Pending(); pending != nil {
		c.printf("Waiting for engine move %s\n", pending)
	}
	c.printf("FEN: %s\n", c.game.FEN())
	return nil
}

func (c *CLI) snapshot() error {
	if c.display == nil {
		return fmt.Errorf("no display running")
	}
	img := c.display.Latest()
	if img == nil {
		return fmt.Errorf("no frame rendered yet")
	}

	dir := c.opts.SnapshotDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("board_%s.png", time.Now().Format("20060102_150405")))
	if err := vision.SaveImage(path, img); err != nil {
		return err
	}
	c.printf("Saved %s\n", path)
	return nil
}

// PrintError displays an error message
func (c *CLI) PrintError(err error) {
	c.printf("Error: %v\n", err)
	c.logger.Debug("Command failed", zap.Error(err))
}

func (c *CLI) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// parsePoints reads n "X Y" pairs
func parsePoints(args []string, n int) ([]image.Point, error) {
	if len(args) != 2*n {
		return nil, fmt.Errorf("expected %d coordinates, got %d", 2*n, len(args))
	}
	pts := make([]image.Point, n)
	for i := range pts {
		x, err := strconv.Atoi(args[2*i])
		if err != nil {
			return nil, fmt.Errorf("invalid x coordinate %q", args[2*i])
		}
		y, err := strconv.Atoi(args[2*i+1])
		if err != nil {
			return nil, fmt.Errorf("invalid y coordinate %q", args[2*i+1])
		}
		pts[i] = image.Pt(x, y)
	}
	return pts, nil
}
