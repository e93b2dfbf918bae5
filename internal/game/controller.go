// Package game keeps the authoritative game state and the turn flow between
// the player's detected moves and the engine's proposals.
package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/notnil/chess"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/relfayoumi/LumiBot-chess/internal/engine"
	"github.com/relfayoumi/LumiBot-chess/internal/storage"
	"github.com/relfayoumi/LumiBot-chess/internal/vision"
)

var (
	ErrNoGame        = errors.New("game: no game in progress")
	ErrIllegalMove   = errors.New("game: illegal move")
	ErrNotPlayerTurn = errors.New("game: not the player's turn")
	ErrNoPendingMove = errors.New("game: no engine move pending")
	ErrGameOver      = errors.New("game: game is over")
)

// Move sources recorded in the journal
const (
	SourcePlayer = "player"
	SourceEngine = "engine"
)

// Journal records games; *storage.Journal implements it
type Journal interface {
	BeginGame(game storage.GameRecord) (uint64, error)
	RecordMove(gameID uint64, move storage.MoveRecord) error
	FinishGame(gameID uint64, result, method string) error
}

// Options configure a Controller
type Options struct {
	MoveTime      time.Duration // engine thinking time per move
	AnalysisDepth int
}

// Controller runs one game at a time
type Controller struct {
	launch  engine.Launcher
	journal Journal
	opts    Options
	logger  *zap.Logger

	mu          sync.Mutex
	game        *chess.Game
	engines     *engine.Pair
	playerColor chess.Color
	elo         int
	pending     *chess.Move
	gameID      uint64
	finished    bool
}

// NewController creates a controller. journal may be nil.
func NewController(launch engine.Launcher, journal Journal, opts Options, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MoveTime <= 0 {
		opts.MoveTime = time.Second
	}
	if opts.AnalysisDepth <= 0 {
		opts.AnalysisDepth = 20
	}
	return &Controller{
		launch:  launch,
		journal: journal,
		opts:    opts,
		logger:  logger,
	}
}

// ParseColor parses "white" or "black"
func ParseColor(s string) (chess.Color, error) {
	switch strings.ToLower(s) {
	case "white", "w":
		return chess.White, nil
	case "black", "b":
		return chess.Black, nil
	}
	return chess.NoColor, fmt.Errorf("invalid color %q", s)
}

// Start begins a new game from the initial position, replacing any game
// in progress and starting fresh engines at elo.
func (c *Controller) Start(playerColor chess.Color, elo int) error {
	return c.start(chess.NewGame(), playerColor, elo)
}

func (c *Controller) start(game *chess.Game, playerColor chess.Color, elo int) error {
	if playerColor != chess.White && playerColor != chess.Black {
		return fmt.Errorf("invalid player color %v", playerColor)
	}

	pair, err := c.launch(elo)
	if err != nil {
		return fmt.Errorf("failed to start engines: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.engines != nil {
		if err := c.engines.Close(); err != nil {
			c.logger.Warn("Failed to stop previous engines", zap.Error(err))
		}
	}
	c.finishLocked("*", "abandoned")

	c.game = game
	c.engines = pair
	c.playerColor = playerColor
	c.elo = elo
	c.pending = nil
	c.finished = false
	c.gameID = 0

	if c.journal != nil {
		id, err := c.journal.BeginGame(storage.GameRecord{
			PlayerColor: playerColor.Name(),
			Elo:         elo,
			StartFEN:    game.Position().String(),
		})
		if err != nil {
			c.logger.Warn("Failed to journal game", zap.Error(err))
		} else {
			c.gameID = id
		}
	}

	c.logger.Info("Game started",
		zap.String("player", playerColor.Name()),
		zap.Int("elo", elo))
	return nil
}

// Position returns the current position, or nil before Start
func (c *Controller) Position() *chess.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.game == nil {
		return nil
	}
	return c.game.Position()
}

// FEN returns the current position as FEN
func (c *Controller) FEN() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.game == nil {
		return ""
	}
	return c.game.FEN()
}

// Turn returns the side to move
func (c *Controller) Turn() chess.Color {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.game == nil {
		return chess.NoColor
	}
	return c.game.Position().Turn()
}

// PlayerColor returns the user's side
func (c *Controller) PlayerColor() chess.Color {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerColor
}

// IsPlayerTurn reports whether the user is expected to move
func (c *Controller) IsPlayerTurn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.game != nil &&
		c.game.Outcome() == chess.NoOutcome &&
		c.pending == nil &&
		c.game.Position().Turn() == c.playerColor
}

// Pending returns the engine move awaiting confirmation, or nil
func (c *Controller) Pending() *chess.Move {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// ValidateAndPush plays the player's move given in UCI notation. A move
// naming only the from and to squares is matched against the legal moves,
// so "e7e8" resolves to the queen promotion. alpha is the contrast level
// the move was detected at and is journaled with it.
func (c *Controller) ValidateAndPush(uci string, alpha float64) (*chess.Move, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.game == nil {
		return nil, ErrNoGame
	}
	if c.game.Outcome() != chess.NoOutcome {
		return nil, ErrGameOver
	}
	pos := c.game.Position()
	if pos.Turn() != c.playerColor || c.pending != nil {
		return nil, ErrNotPlayerTurn
	}

	move, err := findMove(pos, uci)
	if err != nil {
		return nil, err
	}
	if err := c.pushLocked(move, SourcePlayer, alpha); err != nil {
		return nil, err
	}
	return move, nil
}

// findMove resolves a UCI string against the legal moves of pos
func findMove(pos *chess.Position, uci string) (*chess.Move, error) {
	uci = strings.ToLower(strings.TrimSpace(uci))
	if len(uci) < 4 || len(uci) > 5 {
		return nil, fmt.Errorf("%w: %q", ErrIllegalMove, uci)
	}

	for _, m := range pos.ValidMoves() {
		if m.String() == uci {
			return m, nil
		}
	}

	from, err := vision.ParseSquare(uci[:2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	to, err := vision.ParseSquare(uci[2:4])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	if len(uci) == 4 {
		if m := vision.FindMove(pos, from, to); m != nil {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
}

// RequestEngineMove asks the engine for its reply. The move is held as
// pending until the user plays it on the board and confirms it. It returns
// nil when the game is over.
func (c *Controller) RequestEngineMove(ctx context.Context) (*chess.Move, error) {
	c.mu.Lock()
	if c.game == nil {
		c.mu.Unlock()
		return nil, ErrNoGame
	}
	if c.pending != nil {
		pending := c.pending
		c.mu.Unlock()
		return pending, nil
	}
	if c.game.Outcome() != chess.NoOutcome {
		c.mu.Unlock()
		return nil, nil
	}
	pos := c.game.Position()
	if pos.Turn() == c.playerColor {
		c.mu.Unlock()
		return nil, fmt.Errorf("engine cannot move: %w", ErrNotPlayerTurn)
	}
	play := c.engines.Play
	c.mu.Unlock()

	move, err := play.BestMove(ctx, pos, engine.Limit{MoveTime: c.opts.MoveTime})
	if err != nil {
		return nil, fmt.Errorf("engine move failed: %w", err)
	}
	if move == nil {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.game.Position().Hash() != pos.Hash() {
		return nil, fmt.Errorf("position changed while the engine was thinking")
	}
	legal, err := findMove(pos, move.String())
	if err != nil {
		return nil, fmt.Errorf("engine proposed %s: %w", move, err)
	}
	c.pending = legal
	c.logger.Info("Engine proposes move", zap.String("move", legal.String()))
	return legal, nil
}

// ConfirmEngineMove plays the pending engine move once it is on the board.
// alpha is the contrast level of the board at confirmation.
func (c *Controller) ConfirmEngineMove(alpha float64) (*chess.Move, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.game == nil {
		return nil, ErrNoGame
	}
	if c.pending == nil {
		return nil, ErrNoPendingMove
	}

	move := c.pending
	if err := c.pushLocked(move, SourceEngine, alpha); err != nil {
		return nil, err
	}
	c.pending = nil
	return move, nil
}

func (c *Controller) pushLocked(move *chess.Move, source string, alpha float64) error {
	before := c.game.Position()
	san := chess.AlgebraicNotation{}.Encode(before, move)

	if err := c.game.Move(move); err != nil {
		return fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	c.logger.Info("Move played",
		zap.String("source", source),
		zap.String("move", move.String()),
		zap.String("san", san))

	if c.journal != nil && c.gameID != 0 {
		err := c.journal.RecordMove(c.gameID, storage.MoveRecord{
			Ply:    len(c.game.Moves()),
			UCI:    move.String(),
			SAN:    san,
			FEN:    c.game.FEN(),
			Source: source,
			Alpha:  alpha,
		})
		if err != nil {
			c.logger.Warn("Failed to journal move", zap.Error(err))
		}
	}

	c.claimDrawLocked()
	if c.game.Outcome() != chess.NoOutcome {
		c.finishLocked(string(c.game.Outcome()), c.game.Method().String())
	}
	return nil
}

// claimDrawLocked ends the game on a claimable fifty-move or threefold
// repetition draw.
func (c *Controller) claimDrawLocked() {
	if c.game.Outcome() != chess.NoOutcome {
		return
	}
	for _, method := range c.game.EligibleDraws() {
		if method == chess.FiftyMoveRule || method == chess.ThreefoldRepetition {
			if err := c.game.Draw(method); err == nil {
				c.logger.Info("Draw claimed", zap.String("method", method.String()))
				return
			}
		}
	}
}

func (c *Controller) finishLocked(result, method string) {
	if c.finished || c.journal == nil || c.gameID == 0 {
		return
	}
	if err := c.journal.FinishGame(c.gameID, result, method); err != nil {
		c.logger.Warn("Failed to journal result", zap.Error(err))
	}
	c.finished = true
}

// Analyze evaluates the current position with the analysis engine
func (c *Controller) Analyze(ctx context.Context) (*engine.Analysis, error) {
	c.mu.Lock()
	if c.game == nil {
		c.mu.Unlock()
		return nil, ErrNoGame
	}
	fen := c.game.FEN()
	analysis := c.engines.Analysis
	c.mu.Unlock()

	return analysis.Evaluate(ctx, fen, c.opts.AnalysisDepth)
}

// Close stops the engines and records an unfinished game as abandoned
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.game != nil {
		c.finishLocked(string(c.game.Outcome()), "abandoned")
	}
	if c.engines != nil {
		err = multierr.Append(err, c.engines.Close())
		c.engines = nil
	}
	return err
}
