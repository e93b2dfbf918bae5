package vision

import (
	"image"
	"image/color"

	"github.com/notnil/chess"
	"gocv.io/x/gocv"
)

var (
	GridColor   = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	ArrowColor  = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	CornerColor = color.RGBA{R: 0, G: 0, B: 255, A: 255}
)

// DrawGrid draws the tile boundaries on a rectified board image.
func DrawGrid(img *gocv.Mat, c color.RGBA, thickness int) {
	for i := 0; i <= TilesPerSide; i++ {
		p := i * TilePixels
		if p == BoardPixels {
			p = BoardPixels - 1
		}
		gocv.Line(img, image.Pt(p, 0), image.Pt(p, BoardPixels), c, thickness)
		gocv.Line(img, image.Pt(0, p), image.Pt(BoardPixels, p), c, thickness)
	}
}

// DrawMoveArrow draws an arrow between two square centers on a rectified
// board image laid out by table.
func DrawMoveArrow(img *gocv.Mat, table OrientationTable, from, to chess.Square, c color.RGBA, thickness int) {
	gocv.ArrowedLine(img, table.Center(from), table.Center(to), c, thickness)
}

// DrawCorners marks calibration points on a raw frame.
func DrawCorners(img *gocv.Mat, corners []image.Point, c color.RGBA) {
	for i, p := range corners {
		gocv.Circle(img, p, 6, c, -1)
		if i < len(CornerNames) {
			gocv.PutText(img, CornerNames[i], p.Add(image.Pt(8, -8)), gocv.FontHersheyPlain, 1.2, c, 2)
		}
	}
}
