package vision

import (
	"fmt"
	"image"
	"strings"

	"github.com/notnil/chess"
)

// Named board orientations. The name is the side of the rectified image
// that white's pieces start on.
const (
	OrientationWhite = "white" // white along the bottom edge
	OrientationBlack = "black" // white along the top edge
	OrientationLeft  = "left"  // white along the left edge
	OrientationRight = "right" // white along the right edge
)

// Orientation maps lookup indices to board squares.
type Orientation interface {
	Lookup(i LookupIndex) (chess.Square, error)
}

// OrientationTable is a 64 entry table; entry i holds the square of lookup
// index i+1. chess.NoSquare marks an unmapped tile.
type OrientationTable [TileCount]chess.Square

// Lookup returns the square under the tile, or ErrInvalidIndex.
func (t OrientationTable) Lookup(i LookupIndex) (chess.Square, error) {
	if !i.Valid() {
		return chess.NoSquare, fmt.Errorf("%w: %d", ErrInvalidIndex, i)
	}
	sq := t[i.Tile()]
	if sq == chess.NoSquare {
		return chess.NoSquare, fmt.Errorf("%w: tile %d is unmapped", ErrInvalidIndex, i)
	}
	return sq, nil
}

// Center returns the pixel center of the tile holding sq. Squares missing
// from the table fall back to the white layout of SquareCenter.
func (t OrientationTable) Center(sq chess.Square) image.Point {
	for tile, entry := range t {
		if entry == sq {
			bounds, _ := TileBounds(LookupIndexOf(tile))
			return image.Pt(bounds.Min.X+TilePixels/2, bounds.Min.Y+TilePixels/2)
		}
	}
	return SquareCenter(sq)
}

// NewOrientation builds the table for a named orientation.
func NewOrientation(name string) (OrientationTable, error) {
	var place func(row, col int) (file, rank int)
	switch strings.ToLower(name) {
	case OrientationWhite, "":
		place = func(row, col int) (int, int) { return col, 7 - row }
	case OrientationBlack:
		place = func(row, col int) (int, int) { return 7 - col, row }
	case OrientationLeft:
		place = func(row, col int) (int, int) { return row, col }
	case OrientationRight:
		place = func(row, col int) (int, int) { return 7 - row, 7 - col }
	default:
		return OrientationTable{}, fmt.Errorf("unknown orientation %q", name)
	}

	var t OrientationTable
	for tile := 0; tile < TileCount; tile++ {
		idx := LookupIndexOf(tile)
		file, rank := place(idx.Row(), idx.Col())
		t[tile] = chess.NewSquare(chess.File(file), chess.Rank(rank))
	}
	return t, nil
}

// TableFromSquares builds a table from 64 algebraic square names in tile
// order. A "-" entry leaves the tile unmapped.
func TableFromSquares(names []string) (OrientationTable, error) {
	var t OrientationTable
	if len(names) != TileCount {
		return t, fmt.Errorf("orientation table needs %d entries, got %d", TileCount, len(names))
	}

	seen := make(map[chess.Square]int, TileCount)
	for i, name := range names {
		if name == "-" {
			t[i] = chess.NoSquare
			continue
		}
		sq, err := ParseSquare(name)
		if err != nil {
			return t, fmt.Errorf("orientation table entry %d: %w", i+1, err)
		}
		if prev, ok := seen[sq]; ok {
			return t, fmt.Errorf("orientation table maps %s twice (entries %d and %d)", name, prev, i+1)
		}
		seen[sq] = i + 1
		t[i] = sq
	}
	return t, nil
}

// ParseSquare parses an algebraic square name such as "e4".
func ParseSquare(s string) (chess.Square, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return chess.NoSquare, fmt.Errorf("invalid square %q", s)
	}
	return chess.NewSquare(chess.File(s[0]-'a'), chess.Rank(s[1]-'1')), nil
}
