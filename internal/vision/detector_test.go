package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/notnil/chess"
	"go.uber.org/zap/zaptest"
	"gocv.io/x/gocv"
)

// patch paints part of a tile in a synthetic board image.
type patch struct {
	square chess.Square
	value  uint8
	half   bool // only the top half of the tile
}

// boardImage builds a BoardPixels square image of the given base intensity
// in white orientation, with patches painted over squares.
func boardImage(t *testing.T, channels int, base uint8, patches ...patch) gocv.Mat {
	t.Helper()

	mt := gocv.MatTypeCV8UC3
	if channels == 1 {
		mt = gocv.MatTypeCV8UC1
	}
	img := gocv.NewMatWithSize(BoardPixels, BoardPixels, mt)
	img.SetTo(gocv.NewScalar(float64(base), float64(base), float64(base), 0))

	for _, p := range patches {
		center := SquareCenter(p.square)
		r := image.Rect(center.X-TilePixels/2, center.Y-TilePixels/2, center.X+TilePixels/2, center.Y+TilePixels/2)
		if p.half {
			r.Max.Y = r.Min.Y + TilePixels/2
		}
		c := color.RGBA{R: p.value, G: p.value, B: p.value, A: 0}
		gocv.Rectangle(&img, r, c, -1)
	}
	return img
}

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	table, err := NewOrientation(OrientationWhite)
	if err != nil {
		t.Fatalf("Failed to build table: %v", err)
	}
	return NewDetector(DefaultConfig(), table, zaptest.NewLogger(t))
}

func startPosition() *chess.Position {
	return chess.NewGame().Position()
}

func positionFromFEN(t *testing.T, fen string) *chess.Position {
	t.Helper()
	opt, err := chess.FEN(fen)
	if err != nil {
		t.Fatalf("Bad FEN %q: %v", fen, err)
	}
	return chess.NewGame(opt).Position()
}

func TestSelectMoveOrderings(t *testing.T) {
	d := newTestDetector(t)

	tests := []struct {
		name   string
		e2, e4 float64
	}{
		{"origin second strongest", 85, 90},
		{"origin strongest", 90, 85},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var scores TileScores
			scores[52] = tt.e2 // lookup 53, e2
			scores[36] = tt.e4 // lookup 37, e4
			scores[0] = 10

			move, ok := d.SelectMove(scores, startPosition())
			if !ok {
				t.Fatal("Expected a move, got none")
			}
			if move.UCI() != "e2e4" {
				t.Errorf("Expected e2e4, got %s", move.UCI())
			}
			if move.OriginTile != 53 || move.DestTile != 37 {
				t.Errorf("Expected tiles 53->37, got %d->%d", move.OriginTile, move.DestTile)
			}
		})
	}
}

func TestDetectedMoveScoresLastTile(t *testing.T) {
	d := newTestDetector(t)

	var scores TileScores
	scores[62] = 80 // lookup 63, g1
	scores[63] = 90 // lookup 64, h1

	move, ok := d.SelectMove(scores, positionFromFEN(t, "4k3/8/8/8/8/8/8/6K1 w - - 0 1"))
	if !ok {
		t.Fatal("Expected a move, got none")
	}
	if move.UCI() != "g1h1" {
		t.Errorf("Expected g1h1, got %s", move.UCI())
	}
	if move.DestTile != 64 {
		t.Errorf("Expected destination tile 64, got %d", move.DestTile)
	}
	if move.OriginScore() != 80 || move.DestScore() != 90 {
		t.Errorf("Expected scores 80 and 90, got %.1f and %.1f", move.OriginScore(), move.DestScore())
	}
}

func TestSelectMoveGate(t *testing.T) {
	d := newTestDetector(t)

	var scores TileScores
	scores[52] = 19
	scores[36] = 19.5

	if move, ok := d.SelectMove(scores, startPosition()); ok {
		t.Errorf("Expected no move below the gate, got %s", move.UCI())
	}
}

func TestSelectMoveIllegalPair(t *testing.T) {
	d := newTestDetector(t)

	var scores TileScores
	scores[40] = 200 // a3
	scores[23] = 210 // h6

	if move, ok := d.SelectMove(scores, startPosition()); ok {
		t.Errorf("Expected no legal move, got %s", move.UCI())
	}
}

func TestSelectMoveUnmappedTile(t *testing.T) {
	white, _ := NewOrientation(OrientationWhite)
	white[52] = chess.NoSquare // e2 tile unmapped
	d := NewDetector(DefaultConfig(), white, zaptest.NewLogger(t))

	var scores TileScores
	scores[52] = 90
	scores[36] = 85

	if move, ok := d.SelectMove(scores, startPosition()); ok {
		t.Errorf("Expected both orderings dropped, got %s", move.UCI())
	}
}

func TestSelectMovePrefersQueenPromotion(t *testing.T) {
	d := newTestDetector(t)
	pos := positionFromFEN(t, "8/P7/8/8/8/8/8/k6K w - - 0 1")

	var scores TileScores
	scores[8] = 80 // a7
	scores[0] = 90 // a8

	move, ok := d.SelectMove(scores, pos)
	if !ok {
		t.Fatal("Expected promotion, got none")
	}
	if move.UCI() != "a7a8q" {
		t.Errorf("Expected a7a8q, got %s", move.UCI())
	}
}

func TestDetectIdenticalImages(t *testing.T) {
	d := newTestDetector(t)
	img := boardImage(t, 1, 120, patch{square: chess.E2, value: 200})
	defer img.Close()

	for _, threshold := range []float64{1, 20, 70} {
		move, ok, err := d.Detect(img, img, startPosition(), threshold)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if ok {
			t.Errorf("Threshold %.0f: expected no move, got %s", threshold, move.UCI())
		}
	}
}

func TestDetectPawnPush(t *testing.T) {
	d := newTestDetector(t)

	before := boardImage(t, 1, 100)
	defer before.Close()
	after := boardImage(t, 1, 100,
		patch{square: chess.E2, value: 220},
		patch{square: chess.E4, value: 230})
	defer after.Close()

	move, ok, err := d.Detect(before, after, startPosition(), 20)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("Expected e2e4, got none")
	}
	if move.Origin != chess.E2 || move.Destination != chess.E4 {
		t.Errorf("Expected e2e4, got %s", move.UCI())
	}
}

func TestDifferenceRejectsMismatchedImages(t *testing.T) {
	d := newTestDetector(t)

	gray := boardImage(t, 1, 100)
	defer gray.Close()
	colored := boardImage(t, 3, 100)
	defer colored.Close()
	small := gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8UC1)
	defer small.Close()

	if _, err := d.Difference(gray, colored, 20); err == nil {
		t.Error("Expected channel mismatch error, got nil")
	}
	if _, err := d.Difference(gray, small, 20); err == nil {
		t.Error("Expected size mismatch error, got nil")
	}
	if _, err := d.Difference(gray, gray, -1); err == nil {
		t.Error("Expected negative threshold error, got nil")
	}
}

func TestScoreTiles(t *testing.T) {
	img := boardImage(t, 1, 0, patch{square: chess.D5, value: 255, half: true})
	defer img.Close()

	scores, err := ScoreTiles(img)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// d5 sits in row 3, column 3
	if got := scores[3*8+3]; got < 127 || got > 128 {
		t.Errorf("Expected d5 mean near 127.5, got %f", got)
	}
	if scores[0] != 0 {
		t.Errorf("Expected untouched tile mean 0, got %f", scores[0])
	}
}

func TestNormalize(t *testing.T) {
	gray := boardImage(t, 1, 100)
	defer gray.Close()

	tests := []struct {
		alpha float64
		want  uint8
	}{
		{0.5, 50},
		{1.0, 100},
		{2.0, 200},
		{3.0, 255},
	}
	for _, tt := range tests {
		out, err := Normalize(gray, tt.alpha, 0)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if out.Channels() != 3 {
			t.Errorf("Expected 3 channels, got %d", out.Channels())
		}
		if got := out.GetUCharAt(10, 10*3); got != tt.want {
			t.Errorf("Alpha %.1f: expected %d, got %d", tt.alpha, tt.want, got)
		}
		out.Close()
	}

	if _, err := Normalize(gray, 0, 0); err == nil {
		t.Error("Expected error for zero alpha, got nil")
	}
	empty := gocv.NewMat()
	defer empty.Close()
	if _, err := Normalize(empty, 1, 0); err != ErrEmptyImage {
		t.Errorf("Expected ErrEmptyImage, got %v", err)
	}
}

func TestRectify(t *testing.T) {
	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()
	frame.SetTo(gocv.NewScalar(90, 90, 90, 0))

	corners := []image.Point{{0, 0}, {640, 0}, {0, 480}, {640, 480}}
	board, err := Rectify(frame, corners)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer board.Close()

	if board.Rows() != BoardPixels || board.Cols() != BoardPixels {
		t.Errorf("Expected %dx%d, got %dx%d", BoardPixels, BoardPixels, board.Cols(), board.Rows())
	}
	if board.Channels() != 3 {
		t.Errorf("Expected 3 channels, got %d", board.Channels())
	}

	if _, err := Rectify(frame, corners[:3]); err == nil {
		t.Error("Expected calibration error, got nil")
	}
}
