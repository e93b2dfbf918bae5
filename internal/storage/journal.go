package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// GamesBucket holds one GameRecord per game
	GamesBucket = "games"

	// MovesBucket holds one nested bucket of MoveRecords per game
	MovesBucket = "moves"
)

var (
	ErrStoreClosed = errors.New("storage: store is closed")
	ErrUnknownGame = errors.New("storage: unknown game")
)

// GameRecord describes one game played against the engine
type GameRecord struct {
	ID          uint64    `json:"id"`
	PlayerColor string    `json:"player_color"`
	Elo         int       `json:"elo"`
	StartFEN    string    `json:"start_fen,omitempty"`
	Result      string    `json:"result"` // "*" while in progress
	Method      string    `json:"method,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

// MoveRecord is one half-move of a game
type MoveRecord struct {
	Ply       int     `json:"ply"`
	UCI       string  `json:"uci"`
	SAN       string  `json:"san"`
	FEN       string  `json:"fen"`    // position after the move
	Source    string  `json:"source"` // "player" or "engine"
	Alpha     float64 `json:"alpha,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// Journal persists games and their moves in a bbolt database
type Journal struct {
	db       *bbolt.DB
	dbPath   string
	mu       sync.Mutex
	isClosed bool
}

// NewJournal opens or creates the journal at dbPath
func NewJournal(dbPath string) (*Journal, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	// Open database with timeout
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(GamesBucket)); err != nil {
			return fmt.Errorf("create games bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(MovesBucket)); err != nil {
			return fmt.Errorf("create moves bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db, dbPath: dbPath}, nil
}

// BeginGame stores a new game and returns its ID
func (j *Journal) BeginGame(game GameRecord) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.isClosed {
		return 0, ErrStoreClosed
	}

	var id uint64
	err := j.db.Update(func(tx *bbolt.Tx) error {
		games := tx.Bucket([]byte(GamesBucket))
		seq, err := games.NextSequence()
		if err != nil {
			return err
		}
		id = seq

		game.ID = id
		if game.Result == "" {
			game.Result = "*"
		}
		if game.StartedAt.IsZero() {
			game.StartedAt = time.Now()
		}
		data, err := json.Marshal(game)
		if err != nil {
			return fmt.Errorf("failed to marshal game: %w", err)
		}
		if err := games.Put(itob(id), data); err != nil {
			return err
		}

		_, err = tx.Bucket([]byte(MovesBucket)).CreateBucket(itob(id))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to begin game: %w", err)
	}
	return id, nil
}

// RecordMove appends a move to a game
func (j *Journal) RecordMove(gameID uint64, move MoveRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.isClosed {
		return ErrStoreClosed
	}

	if move.Timestamp == 0 {
		move.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(move)
	if err != nil {
		return fmt.Errorf("failed to marshal move: %w", err)
	}

	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(MovesBucket)).Bucket(itob(gameID))
		if b == nil {
			return fmt.Errorf("%w: %d", ErrUnknownGame, gameID)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

// FinishGame stores the result of a game
func (j *Journal) FinishGame(gameID uint64, result, method string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.isClosed {
		return ErrStoreClosed
	}

	return j.db.Update(func(tx *bbolt.Tx) error {
		games := tx.Bucket([]byte(GamesBucket))
		data := games.Get(itob(gameID))
		if data == nil {
			return fmt.Errorf("%w: %d", ErrUnknownGame, gameID)
		}

		var game GameRecord
		if err := json.Unmarshal(data, &game); err != nil {
			return fmt.Errorf("failed to unmarshal game: %w", err)
		}
		game.Result = result
		game.Method = method
		game.FinishedAt = time.Now()

		updated, err := json.Marshal(game)
		if err != nil {
			return fmt.Errorf("failed to marshal game: %w", err)
		}
		return games.Put(itob(gameID), updated)
	})
}

// Game returns one game record
func (j *Journal) Game(gameID uint64) (GameRecord, error) {
	var game GameRecord
	err := j.view(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(GamesBucket)).Get(itob(gameID))
		if data == nil {
			return fmt.Errorf("%w: %d", ErrUnknownGame, gameID)
		}
		return json.Unmarshal(data, &game)
	})
	return game, err
}

// Games returns all game records in creation order
func (j *Journal) Games() ([]GameRecord, error) {
	var games []GameRecord
	err := j.view(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(GamesBucket)).ForEach(func(k, v []byte) error {
			var game GameRecord
			if err := json.Unmarshal(v, &game); err != nil {
				return fmt.Errorf("failed to unmarshal game: %w", err)
			}
			games = append(games, game)
			return nil
		})
	})
	return games, err
}

// Moves returns the moves of a game in play order
func (j *Journal) Moves(gameID uint64) ([]MoveRecord, error) {
	var moves []MoveRecord
	err := j.view(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(MovesBucket)).Bucket(itob(gameID))
		if b == nil {
			return fmt.Errorf("%w: %d", ErrUnknownGame, gameID)
		}
		return b.ForEach(func(k, v []byte) error {
			var move MoveRecord
			if err := json.Unmarshal(v, &move); err != nil {
				return fmt.Errorf("failed to unmarshal move: %w", err)
			}
			moves = append(moves, move)
			return nil
		})
	})
	return moves, err
}

func (j *Journal) view(fn func(tx *bbolt.Tx) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.isClosed {
		return ErrStoreClosed
	}
	return j.db.View(fn)
}

// Stats returns statistics about the journal
type Stats struct {
	Games      int
	Finished   int
	TotalMoves int
	DBPath     string
}

// GetStats returns current statistics
func (j *Journal) GetStats() (Stats, error) {
	stats := Stats{DBPath: j.dbPath}
	err := j.view(func(tx *bbolt.Tx) error {
		moves := tx.Bucket([]byte(MovesBucket))
		return tx.Bucket([]byte(GamesBucket)).ForEach(func(k, v []byte) error {
			var game GameRecord
			if err := json.Unmarshal(v, &game); err != nil {
				return err
			}
			stats.Games++
			if game.Result != "*" {
				stats.Finished++
			}
			if b := moves.Bucket(k); b != nil {
				stats.TotalMoves += b.Stats().KeyN
			}
			return nil
		})
	})
	return stats, err
}

// ExportJSON writes a game and its moves to outputPath
func (j *Journal) ExportJSON(gameID uint64, outputPath string) error {
	game, err := j.Game(gameID)
	if err != nil {
		return err
	}
	moves, err := j.Moves(gameID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(struct {
		Game  GameRecord   `json:"game"`
		Moves []MoveRecord `json:"moves"`
	}{game, moves}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal game: %w", err)
	}
	return os.WriteFile(outputPath, data, 0644)
}

// Close closes the database connection
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.isClosed {
		return nil
	}

	j.isClosed = true
	return j.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
