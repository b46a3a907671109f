package handlers

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/smart-locker/internal/config"
	"github.com/kozaktomas/smart-locker/internal/database/mock"
	"github.com/kozaktomas/smart-locker/internal/faceapi"
	"github.com/kozaktomas/smart-locker/internal/hardware"
	"github.com/kozaktomas/smart-locker/internal/locker"
)

// testEnv is a locker service over simulated hardware and an in-memory store
type testEnv struct {
	svc   *locker.Service
	sim   *hardware.Simulator
	store *mock.MockEmbeddingStore
	cfg   *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Hardware: config.HardwareConfig{
			Mode:         "simulated",
			PollInterval: 10 * time.Millisecond,
			UnlockPulse:  time.Millisecond,
		},
		Layout: config.SlotLayout{
			Polarity: "high-available",
			Slots: []config.SlotPin{
				{ID: 1, SensorPin: 21, LockPin: 1},
				{ID: 2, SensorPin: 20, LockPin: 7},
				{ID: 3, SensorPin: 16, LockPin: 8},
				{ID: 4, SensorPin: 12, LockPin: 25},
			},
		},
		Storage: config.StorageConfig{
			DataDir:       dir,
			DatasetDir:    filepath.Join(dir, "dataset"),
			CounterFile:   filepath.Join(dir, "available.txt"),
			MaintLockFile: filepath.Join(dir, ".maintenance.lock"),
		},
		Match:  config.MatchConfig{Threshold: 0.6},
		Enroll: config.EnrollConfig{Concurrency: 2},
	}
	sim := hardware.NewSimulator(cfg.Layout, nil)
	store := mock.NewMockEmbeddingStore(cfg.SlotCount())
	svc, err := locker.New(locker.Options{Config: cfg, Device: sim, Store: store, Adapter: faceapi.NewLocal()})
	if err != nil {
		t.Fatalf("locker.New: %v", err)
	}
	return &testEnv{svc: svc, sim: sim, store: store, cfg: cfg}
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// facePNG draws a textured image the local detector accepts as a face
func facePNG(t *testing.T, seed int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 200, 160))
	for y := range 160 {
		for x := range 200 {
			img.SetGray(x, y, color.Gray{Y: uint8((x*(seed+2) + y*(3*seed+1)) % 256)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
