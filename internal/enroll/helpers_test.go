package enroll

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func pngPattern(t *testing.T, seed int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 200, 160))
	for y := range 160 {
		for x := range 200 {
			img.SetGray(x, y, color.Gray{Y: uint8((x*(seed+2) + y*(3*seed+1)) % 256)})
		}
	}
	return encode(t, img)
}

func pngUniform(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 200, 160))
	for i := range img.Pix {
		img.Pix[i] = 90
	}
	return encode(t, img)
}

func encode(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
