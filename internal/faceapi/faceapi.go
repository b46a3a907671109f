// Package faceapi wraps face detection and embedding behind two small
// interfaces so enrollment and identification never see the backend.
package faceapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/smart-locker/internal/database"
)

// CropSize is the edge length of the square face crop fed to the encoder.
const CropSize = 160

var (
	// ErrNoFace is returned by DetectAndCrop when the image holds no face.
	ErrNoFace = errors.New("no face detected")

	// ErrUnreadableImage is returned when the image bytes cannot be decoded.
	ErrUnreadableImage = errors.New("unreadable image")
)

// Crop is an aligned face region ready for encoding.
type Crop struct {
	Image image.Image     // CropSize x CropSize
	Box   image.Rectangle // face box in source image coordinates
	Score float64         // detector confidence, 0 when the backend has none

	// embedding is set when the detector already produced the vector.
	embedding database.Vector
}

// Detector finds the first face in an image and crops it.
type Detector interface {
	DetectAndCrop(ctx context.Context, imageData []byte) (*Crop, error)
}

// Encoder turns a face crop into an embedding vector.
type Encoder interface {
	Encode(ctx context.Context, crop *Crop) (database.Vector, error)
}

// Adapter is a detector and encoder from the same backend.
type Adapter interface {
	Detector
	Encoder
}

// DecodeImage decodes JPEG, PNG, GIF, BMP or WebP data.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadableImage, err)
	}
	return img, nil
}

// cropFace cuts box out of img and scales it to CropSize x CropSize.
func cropFace(img image.Image, box image.Rectangle) *image.RGBA {
	box = box.Intersect(img.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, CropSize, CropSize))
	if box.Empty() {
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, box, draw.Src, nil)
	return dst
}

// New returns the adapter for backend: "local" or "remote".
func New(backend, url string) (Adapter, error) {
	switch backend {
	case "", "local":
		return NewLocal(), nil
	case "remote":
		return NewClient(url), nil
	default:
		return nil, fmt.Errorf("unknown face backend %q (want local or remote)", backend)
	}
}
