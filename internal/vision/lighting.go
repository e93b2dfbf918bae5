package vision

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

var toBGR = map[int]gocv.ColorConversionCode{
	1: gocv.ColorGrayToBGR,
	4: gocv.ColorBGRAToBGR,
}

// Normalize applies clamp(p*alpha + beta, 0, 255) to every channel and
// returns a 3-channel image. Single channel input is promoted to BGR first.
// The caller owns the returned Mat.
func Normalize(img gocv.Mat, alpha, beta float64) (gocv.Mat, error) {
	if img.Empty() {
		return gocv.NewMat(), ErrEmptyImage
	}
	if alpha <= 0 {
		return gocv.NewMat(), fmt.Errorf("vision: alpha must be positive, got %f", alpha)
	}

	src := img
	if code, ok := toBGR[img.Channels()]; ok {
		converted := gocv.NewMat()
		defer converted.Close()
		gocv.CvtColor(img, &converted, code)
		src = converted
	}

	out := gocv.NewMat()
	gocv.ConvertScaleAbs(src, &out, alpha, beta)
	return out, nil
}

// ToGray converts a BGR, BGRA or gray image to a new single channel image.
func ToGray(img gocv.Mat) (gocv.Mat, error) {
	if img.Empty() {
		return gocv.NewMat(), ErrEmptyImage
	}

	out := gocv.NewMat()
	switch img.Channels() {
	case 1:
		img.CopyTo(&out)
	case 4:
		gocv.CvtColor(img, &out, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(img, &out, gocv.ColorBGRToGray)
	}
	return out, nil
}

// NormalizeGray normalizes img and converts the result to grayscale.
func NormalizeGray(img gocv.Mat, alpha, beta float64) (gocv.Mat, error) {
	norm, err := Normalize(img, alpha, beta)
	if err != nil {
		return norm, err
	}
	defer norm.Close()
	return ToGray(norm)
}

// RectifyGray rectifies a raw frame, normalizes it and converts it to grayscale.
func RectifyGray(frame gocv.Mat, corners []image.Point, alpha, beta float64) (gocv.Mat, error) {
	board, err := Rectify(frame, corners)
	if err != nil {
		return board, err
	}
	defer board.Close()
	return NormalizeGray(board, alpha, beta)
}
