package faceapi

import (
	"context"
	"image"
	"image/color"
	"math"

	"github.com/kozaktomas/smart-locker/internal/database"
)

const (
	// The capture screen asks the user to fit their face in a centred
	// guide box 70% of the frame wide and 60% high.
	guideWidthRatio  = 0.7
	guideHeightRatio = 0.6

	localGridCols = 16
	localGridRows = 8

	// LocalDim is the length of vectors produced by Local.
	LocalDim = localGridCols * localGridRows

	// A guide region flatter than this (luma standard deviation, 0-255)
	// is treated as an empty frame.
	minFaceContrast = 4.0
)

// Local is an offline adapter for simulation and tests. It crops the
// capture guide region and encodes it as a normalized luminance grid.
// Identical images give identical vectors and visually distinct images
// give distinct ones; it is not a face recognizer.
type Local struct{}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) DetectAndCrop(ctx context.Context, imageData []byte) (*Crop, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := DecodeImage(imageData)
	if err != nil {
		return nil, err
	}

	box := guideBox(img.Bounds())
	crop := cropFace(img, box)
	if lumaStdDev(crop) < minFaceContrast {
		return nil, ErrNoFace
	}
	return &Crop{Image: crop, Box: box}, nil
}

func (l *Local) Encode(ctx context.Context, crop *Crop) (database.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := crop.Image.Bounds()
	var sums [LocalDim]float64
	var counts [LocalDim]int
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := (y - b.Min.Y) * localGridRows / b.Dy()
		for x := b.Min.X; x < b.Max.X; x++ {
			col := (x - b.Min.X) * localGridCols / b.Dx()
			cell := row*localGridCols + col
			sums[cell] += luma(crop.Image.At(x, y))
			counts[cell]++
		}
	}

	var mean float64
	for i := range sums {
		if counts[i] > 0 {
			sums[i] /= float64(counts[i])
		}
		mean += sums[i]
	}
	mean /= LocalDim

	var norm float64
	for i := range sums {
		sums[i] -= mean
		norm += sums[i] * sums[i]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return nil, ErrNoFace
	}

	vec := make(database.Vector, LocalDim)
	for i, v := range sums {
		vec[i] = float32(v / norm)
	}
	return vec, nil
}

func guideBox(b image.Rectangle) image.Rectangle {
	w := int(float64(b.Dx()) * guideWidthRatio)
	h := int(float64(b.Dy()) * guideHeightRatio)
	x0 := b.Min.X + (b.Dx()-w)/2
	y0 := b.Min.Y + (b.Dy()-h)/2
	return image.Rect(x0, y0, x0+w, y0+h)
}

func luma(c color.Color) float64 {
	return float64(color.GrayModel.Convert(c).(color.Gray).Y)
}

func lumaStdDev(img image.Image) float64 {
	b := img.Bounds()
	n := float64(b.Dx() * b.Dy())
	if n == 0 {
		return 0
	}
	var sum, sumSq float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := luma(img.At(x, y))
			sum += v
			sumSq += v * v
		}
	}
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		return 0
	}
	return math.Sqrt(variance)
}
