// Package engine drives UCI chess engines through notnil/chess/uci.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/notnil/chess"
	"github.com/notnil/chess/uci"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	MinElo = 1320
	MaxElo = 3190
)

var (
	ErrEngineClosed = errors.New("engine: closed")
	ErrInvalidElo   = fmt.Errorf("engine: Elo must be between %d and %d", MinElo, MaxElo)
)

// Limit bounds one search. Zero fields are left to the engine.
type Limit struct {
	MoveTime time.Duration
	Depth    int
}

// Analysis is the engine's evaluation of a position. Exactly one of
// ScoreCP and Mate is set; both are from the side to move's view.
type Analysis struct {
	Depth    int
	ScoreCP  *int
	Mate     *int
	BestMove string
	PV       []string
}

// Verdict describes the evaluation in words
func (a *Analysis) Verdict() string {
	switch {
	case a.Mate != nil && *a.Mate > 0:
		return fmt.Sprintf("Mate in %d", *a.Mate)
	case a.Mate != nil:
		return fmt.Sprintf("Mated in %d", -*a.Mate)
	case a.ScoreCP == nil:
		return "Unknown"
	}

	cp := *a.ScoreCP
	switch {
	case cp >= 300:
		return "Winning"
	case cp >= 100:
		return "Clear advantage"
	case cp >= 30:
		return "Slight advantage"
	case cp > -30:
		return "Equal"
	case cp > -100:
		return "Slight disadvantage"
	case cp > -300:
		return "Clear disadvantage"
	}
	return "Losing"
}

// String formats the analysis for display
func (a *Analysis) String() string {
	score := "?"
	switch {
	case a.Mate != nil:
		score = fmt.Sprintf("#%d", *a.Mate)
	case a.ScoreCP != nil:
		score = fmt.Sprintf("%+.2f", float64(*a.ScoreCP)/100)
	}
	return fmt.Sprintf("depth %d  score %s (%s)  best %s", a.Depth, score, a.Verdict(), a.BestMove)
}

// Engine proposes and evaluates moves
type Engine interface {
	// BestMove returns nil when pos has no legal moves.
	BestMove(ctx context.Context, pos *chess.Position, limit Limit) (*chess.Move, error)
	Evaluate(ctx context.Context, fen string, depth int) (*Analysis, error)
	Close() error
}

// Options configure a UCI engine process
type Options struct {
	Elo           int  // 0 leaves UCI_Elo unset
	LimitStrength bool // sets UCI_LimitStrength
}

// Stats tracks engine usage
type Stats struct {
	Searches      int
	Failures      int
	TotalThinking time.Duration
}

// AverageThinking returns the mean search time
func (s Stats) AverageThinking() time.Duration {
	if s.Searches == 0 {
		return 0
	}
	return s.TotalThinking / time.Duration(s.Searches)
}

// UCIEngine is an Engine backed by an external UCI process. Searches are
// serialized; each one is bounded by its Limit.
type UCIEngine struct {
	name   string
	eng    *uci.Engine
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	stats  Stats
}

// NewUCIEngine starts the engine binary at path and applies opts
func NewUCIEngine(path string, opts Options, logger *zap.Logger) (*UCIEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Elo != 0 && (opts.Elo < MinElo || opts.Elo > MaxElo) {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidElo, opts.Elo)
	}

	eng, err := uci.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to start engine %s: %w", path, err)
	}

	cmds := []uci.Cmd{uci.CmdUCI, uci.CmdIsReady}
	cmds = append(cmds, setupCommands(opts)...)
	cmds = append(cmds, uci.CmdUCINewGame)
	if err := eng.Run(cmds...); err != nil {
		eng.Close()
		return nil, fmt.Errorf("failed to initialize engine %s: %w", path, err)
	}

	name := eng.ID()["name"]
	if name == "" {
		name = path
	}
	logger.Info("Engine started",
		zap.String("engine", name),
		zap.Int("elo", opts.Elo),
		zap.Bool("limit_strength", opts.LimitStrength))

	return &UCIEngine{name: name, eng: eng, logger: logger}, nil
}

func setupCommands(opts Options) []uci.Cmd {
	var cmds []uci.Cmd
	if opts.LimitStrength {
		cmds = append(cmds, uci.CmdSetOption{Name: "UCI_LimitStrength", Value: "true"})
	}
	if opts.Elo != 0 {
		cmds = append(cmds, uci.CmdSetOption{Name: "UCI_Elo", Value: strconv.Itoa(opts.Elo)})
	}
	return cmds
}

// Name returns the engine's reported name
func (e *UCIEngine) Name() string {
	return e.name
}

// BestMove searches pos within limit
func (e *UCIEngine) BestMove(ctx context.Context, pos *chess.Position, limit Limit) (*chess.Move, error) {
	if len(pos.ValidMoves()) == 0 {
		return nil, nil
	}

	results, err := e.search(ctx, pos, uci.CmdGo{MoveTime: limit.MoveTime, Depth: limit.Depth})
	if err != nil {
		return nil, err
	}
	if results.BestMove == nil {
		return nil, fmt.Errorf("engine %s returned no move", e.name)
	}

	e.logger.Debug("Engine move",
		zap.String("fen", pos.String()),
		zap.String("move", results.BestMove.String()))
	return results.BestMove, nil
}

// Evaluate analyses the position given as FEN to depth
func (e *UCIEngine) Evaluate(ctx context.Context, fen string, depth int) (*Analysis, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("invalid FEN %q: %w", fen, err)
	}
	pos := chess.NewGame(opt).Position()

	results, err := e.search(ctx, pos, uci.CmdGo{Depth: depth})
	if err != nil {
		return nil, err
	}
	return analysisFromResults(results), nil
}

func (e *UCIEngine) search(ctx context.Context, pos *chess.Position, goCmd uci.CmdGo) (uci.SearchResults, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return uci.SearchResults{}, ErrEngineClosed
	}
	if err := ctx.Err(); err != nil {
		return uci.SearchResults{}, err
	}

	start := time.Now()
	if err := e.eng.Run(uci.CmdPosition{Position: pos}, goCmd); err != nil {
		e.stats.Failures++
		e.logger.Error("Engine search failed", zap.String("engine", e.name), zap.Error(err))
		return uci.SearchResults{}, fmt.Errorf("engine search failed: %w", err)
	}
	e.stats.Searches++
	e.stats.TotalThinking += time.Since(start)

	return e.eng.SearchResults(), nil
}

func analysisFromResults(results uci.SearchResults) *Analysis {
	info := results.Info
	a := &Analysis{Depth: info.Depth}

	if info.Score.Mate != 0 {
		mate := info.Score.Mate
		a.Mate = &mate
	} else {
		cp := info.Score.CP
		a.ScoreCP = &cp
	}
	if results.BestMove != nil {
		a.BestMove = results.BestMove.String()
	}
	for _, m := range info.PV {
		a.PV = append(a.PV, m.String())
	}
	return a
}

// Stats returns engine statistics
func (e *UCIEngine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Close quits the engine process
func (e *UCIEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.logger.Info("Engine stopped",
		zap.String("engine", e.name),
		zap.Int("searches", e.stats.Searches),
		zap.Duration("avg_thinking", e.stats.AverageThinking()))
	return e.eng.Close()
}

// Pair holds the strength-limited engine that plays against the user and
// a full strength engine used for analysis.
type Pair struct {
	Play     Engine
	Analysis Engine
}

// Close stops both engines
func (p *Pair) Close() error {
	var err error
	if p.Play != nil {
		err = multierr.Append(err, p.Play.Close())
	}
	if p.Analysis != nil {
		err = multierr.Append(err, p.Analysis.Close())
	}
	return err
}

// Launcher starts an engine pair playing at elo
type Launcher func(elo int) (*Pair, error)

// NewLauncher returns a Launcher running the engine binary at path
func NewLauncher(path string, analysisElo int, logger *zap.Logger) Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(elo int) (*Pair, error) {
		if elo < MinElo || elo > MaxElo {
			return nil, fmt.Errorf("%w: got %d", ErrInvalidElo, elo)
		}

		play, err := NewUCIEngine(path, Options{Elo: elo, LimitStrength: true}, logger.Named("play"))
		if err != nil {
			return nil, err
		}
		analysis, err := NewUCIEngine(path, Options{Elo: analysisElo}, logger.Named("analysis"))
		if err != nil {
			return nil, multierr.Append(err, play.Close())
		}
		return &Pair{Play: play, Analysis: analysis}, nil
	}
}
