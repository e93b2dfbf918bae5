package vision

import (
	"errors"
	"fmt"
	"image"

	"github.com/notnil/chess"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/floats"
)

// TileScores holds the mean of the binary difference image over each tile,
// indexed by zero-based tile position.
type TileScores [TileCount]float64

// DetectedMove is a legal move inferred from two board images.
type DetectedMove struct {
	Move        *chess.Move
	Origin      chess.Square
	Destination chess.Square
	OriginTile  LookupIndex
	DestTile    LookupIndex
	Scores      TileScores
}

// UCI returns the move in UCI notation, e.g. "e2e4" or "e7e8q".
func (m *DetectedMove) UCI() string {
	return chess.UCINotation{}.Encode(nil, m.Move)
}

// OriginScore returns the change score of the origin tile
func (m *DetectedMove) OriginScore() float64 {
	return m.Scores[m.OriginTile.Tile()]
}

// DestScore returns the change score of the destination tile
func (m *DetectedMove) DestScore() float64 {
	return m.Scores[m.DestTile.Tile()]
}

// Detector finds the move between two rectified grayscale board images
type Detector struct {
	blurKernel int
	gate       float64
	table      Orientation
	logger     *zap.Logger
}

// NewDetector creates a new difference detector
func NewDetector(config *Config, table Orientation, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		blurKernel: config.BlurKernel,
		gate:       config.IntensityGate,
		table:      table,
		logger:     logger,
	}
}

// Difference blurs both images, takes their absolute difference and
// binarizes it at threshold. The caller owns the returned Mat.
func (d *Detector) Difference(oldGray, newGray gocv.Mat, threshold float64) (gocv.Mat, error) {
	if oldGray.Empty() || newGray.Empty() {
		return gocv.NewMat(), ErrEmptyImage
	}
	if oldGray.Channels() != 1 || newGray.Channels() != 1 {
		return gocv.NewMat(), errors.New("vision: difference needs grayscale images")
	}
	if oldGray.Rows() != newGray.Rows() || oldGray.Cols() != newGray.Cols() {
		return gocv.NewMat(), fmt.Errorf("vision: image sizes differ: %dx%d vs %dx%d",
			oldGray.Cols(), oldGray.Rows(), newGray.Cols(), newGray.Rows())
	}
	if threshold < 0 {
		return gocv.NewMat(), fmt.Errorf("vision: negative threshold %f", threshold)
	}

	ksize := image.Pt(d.blurKernel, d.blurKernel)
	oldBlur := gocv.NewMat()
	defer oldBlur.Close()
	newBlur := gocv.NewMat()
	defer newBlur.Close()
	gocv.GaussianBlur(oldGray, &oldBlur, ksize, 0, 0, gocv.BorderDefault)
	gocv.GaussianBlur(newGray, &newBlur, ksize, 0, 0, gocv.BorderDefault)

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(oldBlur, newBlur, &diff)

	binary := gocv.NewMat()
	gocv.Threshold(diff, &binary, float32(threshold), 255, gocv.ThresholdBinary)
	return binary, nil
}

// ScoreTiles averages a BoardPixels square binary image over each tile.
func ScoreTiles(binary gocv.Mat) (TileScores, error) {
	var scores TileScores
	if binary.Empty() {
		return scores, ErrEmptyImage
	}
	if binary.Rows() != BoardPixels || binary.Cols() != BoardPixels {
		return scores, fmt.Errorf("vision: expected %dx%d board, got %dx%d",
			BoardPixels, BoardPixels, binary.Cols(), binary.Rows())
	}

	for tile := 0; tile < TileCount; tile++ {
		bounds, err := TileBounds(LookupIndexOf(tile))
		if err != nil {
			return scores, err
		}
		region := binary.Region(bounds)
		scores[tile] = region.Mean().Val1
		region.Close()
	}
	return scores, nil
}

// Detect compares two rectified grayscale images and returns the legal move
// they show. ok is false when the images do not show exactly one legal move.
func (d *Detector) Detect(oldGray, newGray gocv.Mat, pos *chess.Position, threshold float64) (*DetectedMove, bool, error) {
	binary, err := d.Difference(oldGray, newGray, threshold)
	if err != nil {
		return nil, false, err
	}
	defer binary.Close()

	scores, err := ScoreTiles(binary)
	if err != nil {
		return nil, false, err
	}

	move, ok := d.SelectMove(scores, pos)
	return move, ok, nil
}

// SelectMove picks the two most changed tiles and returns the legal move
// between them. The second strongest tile is tried as the origin first.
func (d *Detector) SelectMove(scores TileScores, pos *chess.Position) (*DetectedMove, bool) {
	second, first := rankTiles(scores)
	if scores[first] < d.gate {
		d.logger.Debug("No significant change",
			zap.Float64("max_score", scores[first]),
			zap.Float64("gate", d.gate))
		return nil, false
	}

	orderings := [2][2]LookupIndex{
		{LookupIndexOf(second), LookupIndexOf(first)},
		{LookupIndexOf(first), LookupIndexOf(second)},
	}
	for _, o := range orderings {
		origin, err := d.table.Lookup(o[0])
		if err != nil {
			d.logger.Debug("Dropping ordering", zap.Int("tile", int(o[0])), zap.Error(err))
			continue
		}
		dest, err := d.table.Lookup(o[1])
		if err != nil {
			d.logger.Debug("Dropping ordering", zap.Int("tile", int(o[1])), zap.Error(err))
			continue
		}

		move := FindMove(pos, origin, dest)
		if move == nil {
			continue
		}
		return &DetectedMove{
			Move:        move,
			Origin:      origin,
			Destination: dest,
			OriginTile:  o[0],
			DestTile:    o[1],
			Scores:      scores,
		}, true
	}

	d.logger.Debug("Changed tiles do not form a legal move",
		zap.Int("first_tile", int(LookupIndexOf(first))),
		zap.Int("second_tile", int(LookupIndexOf(second))))
	return nil, false
}

// rankTiles returns the positions of the second highest and highest scores.
func rankTiles(scores TileScores) (second, first int) {
	sorted := make([]float64, TileCount)
	copy(sorted, scores[:])
	inds := make([]int, TileCount)
	floats.Argsort(sorted, inds)
	return inds[TileCount-2], inds[TileCount-1]
}

// FindMove returns the legal move from origin to dest, preferring a queen
// promotion when several moves share the squares. It returns nil when no
// legal move connects them.
func FindMove(pos *chess.Position, origin, dest chess.Square) *chess.Move {
	if pos == nil {
		return nil
	}
	var found *chess.Move
	for _, m := range pos.ValidMoves() {
		if m.S1() != origin || m.S2() != dest {
			continue
		}
		if m.Promo() == chess.NoPieceType || m.Promo() == chess.Queen {
			return m
		}
		if found == nil {
			found = m
		}
	}
	return found
}
