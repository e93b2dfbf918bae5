package engine

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/notnil/chess"
	"github.com/notnil/chess/uci"
	"go.uber.org/zap/zaptest"
)

func intPtr(v int) *int { return &v }

func TestAnalysisVerdict(t *testing.T) {
	tests := []struct {
		name     string
		analysis Analysis
		want     string
	}{
		{"mate for side to move", Analysis{Mate: intPtr(3)}, "Mate in 3"},
		{"mated", Analysis{Mate: intPtr(-2)}, "Mated in 2"},
		{"winning", Analysis{ScoreCP: intPtr(450)}, "Winning"},
		{"equal", Analysis{ScoreCP: intPtr(-12)}, "Equal"},
		{"slight disadvantage", Analysis{ScoreCP: intPtr(-60)}, "Slight disadvantage"},
		{"losing", Analysis{ScoreCP: intPtr(-900)}, "Losing"},
		{"no score", Analysis{}, "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.analysis.Verdict(); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestAnalysisFromResults(t *testing.T) {
	game := chess.NewGame()
	moves := game.ValidMoves()
	e4 := moves[0]
	for _, m := range moves {
		if m.String() == "e2e4" {
			e4 = m
		}
	}

	results := uci.SearchResults{
		BestMove: e4,
		Info: uci.Info{
			Depth: 20,
			Score: uci.Score{CP: 35},
			PV:    []*chess.Move{e4},
		},
	}

	a := analysisFromResults(results)
	if a.Depth != 20 {
		t.Errorf("Expected depth 20, got %d", a.Depth)
	}
	if a.ScoreCP == nil || *a.ScoreCP != 35 || a.Mate != nil {
		t.Errorf("Expected +35cp, got %+v", a)
	}
	if a.BestMove != "e2e4" {
		t.Errorf("Expected best move e2e4, got %s", a.BestMove)
	}
	if len(a.PV) != 1 || a.PV[0] != "e2e4" {
		t.Errorf("Unexpected PV %v", a.PV)
	}

	results.Info.Score = uci.Score{Mate: -4}
	a = analysisFromResults(results)
	if a.Mate == nil || *a.Mate != -4 || a.ScoreCP != nil {
		t.Errorf("Expected mate -4, got %+v", a)
	}
}

func TestSetupCommands(t *testing.T) {
	cmds := setupCommands(Options{Elo: 1500, LimitStrength: true})
	if len(cmds) != 2 {
		t.Fatalf("Expected 2 commands, got %d", len(cmds))
	}
	if got := cmds[0].String(); got != "setoption name UCI_LimitStrength value true" {
		t.Errorf("Unexpected command %q", got)
	}
	if got := cmds[1].String(); got != "setoption name UCI_Elo value 1500" {
		t.Errorf("Unexpected command %q", got)
	}

	if cmds := setupCommands(Options{}); len(cmds) != 0 {
		t.Errorf("Expected no commands, got %d", len(cmds))
	}
}

type closer struct {
	Engine
	err    error
	closed bool
}

func (c *closer) Close() error {
	c.closed = true
	return c.err
}

func TestPairClose(t *testing.T) {
	play := &closer{err: errors.New("play failed")}
	analysis := &closer{err: errors.New("analysis failed")}
	pair := &Pair{Play: play, Analysis: analysis}

	err := pair.Close()
	if !play.closed || !analysis.closed {
		t.Error("Expected both engines closed")
	}
	if err == nil || !errors.Is(err, play.err) || !errors.Is(err, analysis.err) {
		t.Errorf("Expected both errors, got %v", err)
	}
}

func TestLauncherRejectsElo(t *testing.T) {
	launch := NewLauncher("stockfish", 3000, zaptest.NewLogger(t))
	for _, elo := range []int{MinElo - 1, MaxElo + 1} {
		if _, err := launch(elo); !errors.Is(err, ErrInvalidElo) {
			t.Errorf("Elo %d: expected ErrInvalidElo, got %v", elo, err)
		}
	}
}

func TestStatsAverage(t *testing.T) {
	s := Stats{Searches: 4, TotalThinking: 2 * time.Second}
	if got := s.AverageThinking(); got != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", got)
	}
	if got := (Stats{}).AverageThinking(); got != 0 {
		t.Errorf("Expected 0, got %v", got)
	}
}

func TestUCIEngineLive(t *testing.T) {
	path, err := exec.LookPath("stockfish")
	if err != nil {
		t.Skip("stockfish not installed")
	}

	eng, err := NewUCIEngine(path, Options{Elo: MinElo, LimitStrength: true}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to start engine: %v", err)
	}
	defer eng.Close()

	ctx := context.Background()
	game := chess.NewGame()
	move, err := eng.BestMove(ctx, game.Position(), Limit{MoveTime: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("BestMove failed: %v", err)
	}
	if err := game.Move(move); err != nil {
		t.Errorf("Engine move %s is illegal: %v", move, err)
	}

	analysis, err := eng.Evaluate(ctx, game.FEN(), 8)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if analysis.Depth == 0 || analysis.BestMove == "" {
		t.Errorf("Incomplete analysis %+v", analysis)
	}

	// checkmated side has no move
	mated, _ := chess.FEN("rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3")
	if move, err := eng.BestMove(ctx, chess.NewGame(mated).Position(), Limit{Depth: 1}); err != nil || move != nil {
		t.Errorf("Expected no move in checkmate, got %v %v", move, err)
	}

	if err := eng.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if _, err := eng.BestMove(ctx, game.Position(), Limit{Depth: 1}); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Expected ErrEngineClosed, got %v", err)
	}
}
