package vision

import (
	"errors"
	"fmt"
	"image"

	"github.com/notnil/chess"
)

const (
	// BoardPixels is the side of the rectified board image.
	BoardPixels = 512
	// TilePixels is the side of one square in the rectified image.
	TilePixels = BoardPixels / TilesPerSide
	// TilesPerSide is the number of squares along each board edge.
	TilesPerSide = 8
	// TileCount is the number of tiles on the board.
	TileCount = TilesPerSide * TilesPerSide
)

var (
	ErrInvalidCalibration = errors.New("vision: calibration needs exactly four corners")
	ErrNoFrame            = errors.New("vision: no frame available")
	ErrInvalidIndex       = errors.New("vision: lookup index out of range")
	ErrEmptyImage         = errors.New("vision: empty image")
)

// LookupIndex numbers the tiles of the rectified image 1..64, row-major from
// the top-left tile. Index i covers columns ((i-1)%8)*64.. and rows ((i-1)/8)*64..
type LookupIndex int

// LookupIndexOf converts a zero-based tile position into a lookup index.
func LookupIndexOf(tile int) LookupIndex {
	return LookupIndex(tile + 1)
}

// Tile returns the zero-based tile position of the index.
func (i LookupIndex) Tile() int {
	return int(i) - 1
}

// Valid reports whether the index names one of the 64 tiles.
func (i LookupIndex) Valid() bool {
	return i >= 1 && i <= TileCount
}

// Row returns the tile row, 0 at the top of the image.
func (i LookupIndex) Row() int {
	return i.Tile() / TilesPerSide
}

// Col returns the tile column, 0 at the left of the image.
func (i LookupIndex) Col() int {
	return i.Tile() % TilesPerSide
}

// TileBounds returns the pixel rectangle of a tile in the rectified image.
func TileBounds(i LookupIndex) (image.Rectangle, error) {
	if !i.Valid() {
		return image.Rectangle{}, fmt.Errorf("%w: %d", ErrInvalidIndex, i)
	}
	x := i.Col() * TilePixels
	y := i.Row() * TilePixels
	return image.Rect(x, y, x+TilePixels, y+TilePixels), nil
}

// SquareCenter returns the pixel center of a square in the rectified image,
// with rank 8 along the top edge and the a-file on the left.
func SquareCenter(sq chess.Square) image.Point {
	file := int(sq.File())
	rank := int(sq.Rank())
	return image.Pt(file*TilePixels+TilePixels/2, (7-rank)*TilePixels+TilePixels/2)
}
