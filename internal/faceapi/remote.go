package faceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/smart-locker/internal/database"
)

const defaultEmbeddingURL = "http://localhost:8000"

// Client talks to the face embedding server: POST /embed/face with a
// multipart image returns every detected face with its box and embedding.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new face embedding client
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse represents the response from the face embedding endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// DetectAndCrop sends the image to the server and crops the first face it
// reports. The server's embedding for that face is kept on the crop.
func (c *Client) DetectAndCrop(ctx context.Context, imageData []byte) (*Crop, error) {
	img, err := DecodeImage(imageData)
	if err != nil {
		return nil, err
	}

	faces, err := c.ComputeFaceEmbeddings(ctx, imageData)
	if err != nil {
		return nil, err
	}
	if len(faces.Faces) == 0 {
		return nil, ErrNoFace
	}

	face := faces.Faces[0]
	box, err := bboxRect(face.BBox)
	if err != nil {
		return nil, err
	}
	return &Crop{
		Image:     cropFace(img, box),
		Box:       box,
		Score:     face.DetScore,
		embedding: face.Embedding,
	}, nil
}

// Encode returns the embedding computed at detection time, or re-submits
// the crop when the crop came from elsewhere.
func (c *Client) Encode(ctx context.Context, crop *Crop) (database.Vector, error) {
	if len(crop.embedding) > 0 {
		return crop.embedding, nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, crop.Image, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}
	faces, err := c.ComputeFaceEmbeddings(ctx, buf.Bytes())
	if err != nil {
		return nil, err
	}
	if len(faces.Faces) == 0 || len(faces.Faces[0].Embedding) == 0 {
		return nil, ErrNoFace
	}
	return faces.Faces[0].Embedding, nil
}

// ComputeFaceEmbeddings detects faces and computes their embeddings
func (c *Client) ComputeFaceEmbeddings(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	for i, f := range faceResp.Faces {
		if len(f.Embedding) == 0 {
			return nil, fmt.Errorf("face %d: empty embedding returned", i)
		}
	}
	return &faceResp, nil
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

func bboxRect(bbox []float64) (image.Rectangle, error) {
	if len(bbox) != 4 {
		return image.Rectangle{}, fmt.Errorf("malformed bbox %v", bbox)
	}
	// Detectors may report slightly negative coordinates near the border.
	r := image.Rect(
		int(math.Floor(math.Max(bbox[0], 0))),
		int(math.Floor(math.Max(bbox[1], 0))),
		int(math.Ceil(bbox[2])),
		int(math.Ceil(bbox[3])),
	)
	if r.Empty() {
		return image.Rectangle{}, fmt.Errorf("empty bbox %v", bbox)
	}
	return r, nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// BMP: 42 4D
	if data[0] == 0x42 && data[1] == 0x4D {
		return "image/bmp"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}
