package vision

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// Corner order used by calibration: top-left, top-right, bottom-left, bottom-right.
const (
	CornerTopLeft = iota
	CornerTopRight
	CornerBottomLeft
	CornerBottomRight
)

// CornerNames labels the calibration clicks in order.
var CornerNames = [4]string{"top-left", "top-right", "bottom-left", "bottom-right"}

// Rectify warps the quadrilateral given by corners onto a BoardPixels square.
// The caller owns the returned Mat.
func Rectify(frame gocv.Mat, corners []image.Point) (gocv.Mat, error) {
	if len(corners) != 4 {
		return gocv.NewMat(), fmt.Errorf("%w: got %d", ErrInvalidCalibration, len(corners))
	}
	if frame.Empty() {
		return gocv.NewMat(), ErrEmptyImage
	}

	src := gocv.NewPointVectorFromPoints(corners)
	defer src.Close()
	dst := gocv.NewPointVectorFromPoints([]image.Point{
		image.Pt(0, 0),
		image.Pt(BoardPixels, 0),
		image.Pt(0, BoardPixels),
		image.Pt(BoardPixels, BoardPixels),
	})
	defer dst.Close()

	transform := gocv.GetPerspectiveTransform(src, dst)
	defer transform.Close()

	out := gocv.NewMat()
	gocv.WarpPerspective(frame, &out, transform, image.Pt(BoardPixels, BoardPixels))
	return out, nil
}

// QuadArea returns the area enclosed by the calibration corners, in
// calibration order. A near-zero area means the clicks were collinear.
func QuadArea(corners []image.Point) float64 {
	if len(corners) != 4 {
		return 0
	}
	// walk the outline TL, TR, BR, BL
	ring := []image.Point{
		corners[CornerTopLeft],
		corners[CornerTopRight],
		corners[CornerBottomRight],
		corners[CornerBottomLeft],
	}
	var sum float64
	for i := range ring {
		j := (i + 1) % len(ring)
		sum += float64(ring[i].X*ring[j].Y - ring[j].X*ring[i].Y)
	}
	return math.Abs(sum) / 2
}
