package faceapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/smart-locker/internal/database"
)

func faceServer(t *testing.T, resp FaceResponse, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("file"); err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		if status != http.StatusOK {
			http.Error(w, "model not loaded", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestClientDetectAndCrop(t *testing.T) {
	srv := faceServer(t, FaceResponse{
		FacesCount: 2,
		Faces: []FaceDetection{
			{FaceIndex: 0, Dim: 3, Embedding: []float32{0.1, 0.2, 0.3}, BBox: []float64{-2, 10, 90, 120}, DetScore: 0.98},
			{FaceIndex: 1, Dim: 3, Embedding: []float32{0.9, 0.1, 0}, BBox: []float64{100, 10, 150, 80}, DetScore: 0.99},
		},
		Model: "buffalo_l",
	}, http.StatusOK)
	defer srv.Close()

	c := NewClient(srv.URL)
	crop, err := c.DetectAndCrop(context.Background(), encodePNG(t, patternImage(200, 150, 3)))
	require.NoError(t, err)

	assert.Equal(t, 0, crop.Box.Min.X, "negative bbox clamps to zero")
	assert.Equal(t, 90, crop.Box.Max.X)
	assert.Equal(t, CropSize, crop.Image.Bounds().Dx())
	assert.InDelta(t, 0.98, crop.Score, 1e-9)

	vec, err := c.Encode(context.Background(), crop)
	require.NoError(t, err)
	assert.Equal(t, database.Vector{0.1, 0.2, 0.3}, vec, "first reported face is used")
}

func TestClientNoFace(t *testing.T) {
	srv := faceServer(t, FaceResponse{FacesCount: 0, Faces: nil}, http.StatusOK)
	defer srv.Close()

	_, err := NewClient(srv.URL).DetectAndCrop(context.Background(), encodePNG(t, patternImage(64, 64, 1)))
	assert.ErrorIs(t, err, ErrNoFace)
}

func TestClientServerError(t *testing.T) {
	srv := faceServer(t, FaceResponse{}, http.StatusInternalServerError)
	defer srv.Close()

	_, err := NewClient(srv.URL).DetectAndCrop(context.Background(), encodePNG(t, patternImage(64, 64, 1)))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoFace))
	assert.Contains(t, err.Error(), "status 500")
}

func TestClientUnreadableImage(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	_, err := c.DetectAndCrop(context.Background(), []byte{0x00, 0x01})
	assert.ErrorIs(t, err, ErrUnreadableImage)
}

func TestClientEncodeWithoutCachedEmbedding(t *testing.T) {
	srv := faceServer(t, FaceResponse{
		FacesCount: 1,
		Faces:      []FaceDetection{{Embedding: []float32{1, 0}, BBox: []float64{0, 0, 10, 10}}},
	}, http.StatusOK)
	defer srv.Close()

	crop := &Crop{Image: patternImage(CropSize, CropSize, 4)}
	vec, err := NewClient(srv.URL).Encode(context.Background(), crop)
	require.NoError(t, err)
	assert.Equal(t, database.Vector{1, 0}, vec)
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}, "image/jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"bmp", []byte{0x42, 0x4D, 0, 0, 0, 0, 0, 0}, "image/bmp"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBP"), "image/webp"},
		{"short", []byte{0xFF}, "application/octet-stream"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, detectMIMEType(tc.data))
		})
	}
}
