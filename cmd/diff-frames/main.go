package main

import (
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/notnil/chess"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/relfayoumi/LumiBot-chess/internal/vision"
)

// diff-frames runs move detection offline on two photos of the board
func main() {
	before := flag.String("before", "", "Image of the board before the move")
	after := flag.String("after", "", "Image of the board after the move")
	cornersFlag := flag.String("corners", "", "Board corners x1,y1,x2,y2,x3,y3,x4,y4 (TL, TR, BL, BR); default is the whole image")
	fen := flag.String("fen", "", "Position before the move (default: starting position)")
	threshold := flag.Float64("threshold", 20, "Binarization threshold")
	alpha := flag.Float64("alpha", 1.0, "Contrast gain")
	orientation := flag.String("orientation", vision.OrientationWhite, "Board orientation: white, black, left, right")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *before == "" || *after == "" {
		fmt.Fprintln(os.Stderr, "Usage: diff-frames -before a.png -after b.png [-corners ...] [-fen ...]")
		os.Exit(2)
	}

	logConfig := zap.NewDevelopmentConfig()
	if !*verbose {
		logConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := logConfig.Build()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	pos := chess.NewGame().Position()
	if *fen != "" {
		opt, err := chess.FEN(*fen)
		if err != nil {
			log.Fatalf("Invalid FEN: %v", err)
		}
		pos = chess.NewGame(opt).Position()
	}

	oldImg := gocv.IMRead(*before, gocv.IMReadColor)
	defer oldImg.Close()
	newImg := gocv.IMRead(*after, gocv.IMReadColor)
	defer newImg.Close()
	if oldImg.Empty() || newImg.Empty() {
		log.Fatalf("Failed to read %s or %s", *before, *after)
	}

	corners, err := parseCorners(*cornersFlag, oldImg.Cols(), oldImg.Rows())
	if err != nil {
		log.Fatalf("Invalid corners: %v", err)
	}

	config := vision.DefaultConfig()
	config.Orientation = *orientation
	table, err := config.Table()
	if err != nil {
		log.Fatalf("Invalid orientation: %v", err)
	}
	detector := vision.NewDetector(config, table, logger)

	oldGray, err := vision.RectifyGray(oldImg, corners, *alpha, config.Beta)
	if err != nil {
		log.Fatalf("Failed to prepare %s: %v", *before, err)
	}
	defer oldGray.Close()
	newGray, err := vision.RectifyGray(newImg, corners, *alpha, config.Beta)
	if err != nil {
		log.Fatalf("Failed to prepare %s: %v", *after, err)
	}
	defer newGray.Close()

	binary, err := detector.Difference(oldGray, newGray, *threshold)
	if err != nil {
		log.Fatalf("Difference failed: %v", err)
	}
	scores, err := vision.ScoreTiles(binary)
	binary.Close()
	if err != nil {
		log.Fatalf("Scoring failed: %v", err)
	}

	fmt.Println("Tile scores (camera view, top row first):")
	printHeatmap(scores)
	fmt.Println()

	move, ok, err := detector.Detect(oldGray, newGray, pos, *threshold)
	if err != nil {
		log.Fatalf("Detection failed: %v", err)
	}
	if !ok {
		fmt.Println("No legal move detected")
		os.Exit(1)
	}
	fmt.Printf("Detected move: %s (%s)\n", chess.AlgebraicNotation{}.Encode(pos, move.Move), move.UCI())
	fmt.Printf("  origin %s tile %d score %.1f\n", move.Origin, move.OriginTile, move.OriginScore())
	fmt.Printf("  destination %s tile %d score %.1f\n", move.Destination, move.DestTile, move.DestScore())
}

func printHeatmap(scores vision.TileScores) {
	for row := 0; row < vision.TilesPerSide; row++ {
		cells := make([]string, vision.TilesPerSide)
		for col := range cells {
			cells[col] = fmt.Sprintf("%6.1f", scores[row*vision.TilesPerSide+col])
		}
		fmt.Println(strings.Join(cells, " "))
	}
}

func parseCorners(s string, width, height int) ([]image.Point, error) {
	if s == "" {
		return []image.Point{
			{0, 0},
			{width, 0},
			{0, height},
			{width, height},
		}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 8 {
		return nil, fmt.Errorf("expected 8 numbers, got %d", len(parts))
	}
	corners := make([]image.Point, 4)
	for i := range corners {
		x, err := strconv.Atoi(strings.TrimSpace(parts[2*i]))
		if err != nil {
			return nil, err
		}
		y, err := strconv.Atoi(strings.TrimSpace(parts[2*i+1]))
		if err != nil {
			return nil, err
		}
		corners[i] = image.Pt(x, y)
	}
	return corners, nil
}
