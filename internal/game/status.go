package game

import (
	"fmt"
	"io"

	"github.com/notnil/chess"
)

// Status summarizes the state of the game
type Status struct {
	Over    bool
	Outcome chess.Outcome
	Method  chess.Method
	InCheck bool
	Turn    chess.Color
	Moves   int
}

// Message describes the status for the user
func (s Status) Message() string {
	if !s.Over {
		if s.InCheck {
			return fmt.Sprintf("Check! %s to move", s.Turn.Name())
		}
		return fmt.Sprintf("%s to move", s.Turn.Name())
	}

	switch s.Method {
	case chess.Checkmate:
		winner := "White"
		if s.Outcome == chess.BlackWon {
			winner = "Black"
		}
		return fmt.Sprintf("Checkmate! %s wins (%s)", winner, s.Outcome)
	case chess.Stalemate:
		return "Stalemate! Game is a draw"
	case chess.InsufficientMaterial:
		return "Draw by insufficient material"
	case chess.FiftyMoveRule, chess.SeventyFiveMoveRule:
		return "Draw by the fifty-move rule"
	case chess.ThreefoldRepetition, chess.FivefoldRepetition:
		return "Draw by repetition"
	case chess.Resignation:
		return fmt.Sprintf("Resignation (%s)", s.Outcome)
	}
	return fmt.Sprintf("Game over (%s)", s.Outcome)
}

// Status returns the current game status
func (c *Controller) Status() (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.game == nil {
		return Status{}, ErrNoGame
	}

	st := Status{
		Outcome: c.game.Outcome(),
		Method:  c.game.Method(),
		Turn:    c.game.Position().Turn(),
		Moves:   len(c.game.Moves()),
	}
	st.Over = st.Outcome != chess.NoOutcome
	if moves := c.game.Moves(); len(moves) > 0 {
		st.InCheck = moves[len(moves)-1].HasTag(chess.Check)
	}
	return st, nil
}

// PGN returns the game so far in PGN
func (c *Controller) PGN() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.game == nil {
		return "", ErrNoGame
	}
	return c.game.String(), nil
}

// LoadPGN resumes the game read from r. The engines are restarted at elo
// and the user plays playerColor.
func (c *Controller) LoadPGN(r io.Reader, playerColor chess.Color, elo int) error {
	opt, err := chess.PGN(r)
	if err != nil {
		return fmt.Errorf("error parsing PGN: %w", err)
	}
	parsed := chess.NewGame(opt)

	// replay onto a fresh game so the result of a finished game does not
	// leak into the resumed one
	game := chess.NewGame()
	for _, m := range parsed.Moves() {
		if err := game.Move(m); err != nil {
			return fmt.Errorf("failed to replay %s: %w", m, err)
		}
	}

	return c.start(game, playerColor, elo)
}

// LoadFEN starts a game from a FEN position
func (c *Controller) LoadFEN(fen string, playerColor chess.Color, elo int) error {
	opt, err := chess.FEN(fen)
	if err != nil {
		return fmt.Errorf("invalid FEN: %w", err)
	}
	return c.start(chess.NewGame(opt), playerColor, elo)
}
