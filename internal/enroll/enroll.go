// Package enroll turns a slot's captured face images into the slot's
// identity record.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/smart-locker/internal/database"
	"github.com/kozaktomas/smart-locker/internal/faceapi"
	"github.com/kozaktomas/smart-locker/internal/logging"
	"github.com/kozaktomas/smart-locker/internal/metrics"
)

// ErrAdapterFailed is returned when every image of a slot failed inside the
// face adapter (not "no face", not unreadable). The store is left as is.
var ErrAdapterFailed = errors.New("face adapter failed on every image")

// Outcome classifies one enrollment image.
type Outcome string

const (
	OutcomeEncoded    Outcome = "encoded"
	OutcomeNoFace     Outcome = "no_face"
	OutcomeUnreadable Outcome = "unreadable"
	OutcomeFailed     Outcome = "failed"
)

// ImageResult is the outcome of one image.
type ImageResult struct {
	File    string  `json:"file"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`

	vector database.Vector
}

// Result summarises the enrollment of one slot.
type Result struct {
	SlotID     int           `json:"slot_id"`
	Images     int           `json:"images"`
	Encoded    int           `json:"encoded"`
	NoFace     int           `json:"no_face"`
	Unreadable int           `json:"unreadable"`
	Failed     int           `json:"failed"`
	Files      []ImageResult `json:"files"`
}

// Progress is reported after every processed image.
type Progress struct {
	SlotID int
	Done   int
	Total  int
	Image  ImageResult
}

// Pipeline enrolls slots from image directories into a store.
type Pipeline struct {
	detector    faceapi.Detector
	encoder     faceapi.Encoder
	store       database.EmbeddingWriter
	maintenance *database.FileLock
	slotCount   int
	concurrency int
	logger      *slog.Logger
	onProgress  func(Progress)
}

// Options configures a Pipeline.
type Options struct {
	Detector    faceapi.Detector
	Encoder     faceapi.Encoder
	Store       database.EmbeddingWriter
	Maintenance *database.FileLock // shared with reset; nil disables the guard
	SlotCount   int
	Concurrency int
	Logger      *slog.Logger
	OnProgress  func(Progress)
}

func New(opts Options) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Pipeline{
		detector:    opts.Detector,
		encoder:     opts.Encoder,
		store:       opts.Store,
		maintenance: opts.Maintenance,
		slotCount:   opts.SlotCount,
		concurrency: opts.Concurrency,
		logger:      logging.OrDefault(opts.Logger),
		onProgress:  opts.OnProgress,
	}
}

// WithProgress returns a copy of the pipeline reporting to fn.
func (p *Pipeline) WithProgress(fn func(Progress)) *Pipeline {
	cp := *p
	cp.onProgress = fn
	return &cp
}

// Enroll builds the record of slotID from the images in dir and replaces
// the slot's record with it.
func (p *Pipeline) Enroll(ctx context.Context, slotID int, dir string) (*Result, error) {
	unlock, err := p.lockMaintenance()
	if err != nil {
		return nil, err
	}
	defer unlock()

	return p.enrollSlot(ctx, slotID, dir)
}

// EnrollAll enrolls every slot directory under root whose name is a valid
// slot id, in ascending id order. Slots without a directory are untouched.
// Per-slot errors are joined into the returned error.
func (p *Pipeline) EnrollAll(ctx context.Context, root string) ([]*Result, error) {
	unlock, err := p.lockMaintenance()
	if err != nil {
		return nil, err
	}
	defer unlock()

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list dataset %s: %w", root, err)
	}

	var ids []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := strconv.Atoi(e.Name())
		if err != nil || id < 1 || (p.slotCount > 0 && id > p.slotCount) {
			p.logger.Warn("skipping dataset entry that is not a slot", "name", e.Name())
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)

	results := make([]*Result, 0, len(ids))
	var errs []error
	for _, id := range ids {
		res, err := p.enrollSlot(ctx, id, filepath.Join(root, strconv.Itoa(id)))
		if res != nil {
			results = append(results, res)
		}
		if err == nil {
			continue
		}
		errs = append(errs, fmt.Errorf("slot %d: %w", id, err))
		if ctx.Err() != nil {
			break
		}
		p.logger.Warn("slot enrollment failed, continuing", "slot", id, "error", err)
	}
	return results, errors.Join(errs...)
}

func (p *Pipeline) lockMaintenance() (func(), error) {
	if p.maintenance == nil {
		return func() {}, nil
	}
	unlock, err := p.maintenance.TryLock(true)
	if err != nil {
		return nil, fmt.Errorf("enrollment blocked by another maintenance operation: %w", err)
	}
	return unlock, nil
}

func (p *Pipeline) enrollSlot(ctx context.Context, slotID int, dir string) (*Result, error) {
	if slotID < 1 || (p.slotCount > 0 && slotID > p.slotCount) {
		return nil, fmt.Errorf("%w: %d", database.ErrInvalidSlot, slotID)
	}

	files, err := listImages(dir)
	if err != nil {
		return nil, err
	}
	p.logger.Info("enrolling slot", "slot", slotID, "dir", dir, "images", len(files))

	images := make([]ImageResult, len(files))
	progress := make(chan ImageResult)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		done := 0
		for img := range progress {
			done++
			metrics.EnrolledImages.WithLabelValues(string(img.Outcome)).Inc()
			if p.onProgress != nil {
				p.onProgress(Progress{SlotID: slotID, Done: done, Total: len(files), Image: img})
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			images[i] = p.processImage(gctx, path)
			progress <- images[i]
			return nil
		})
	}
	waitErr := g.Wait()
	close(progress)
	<-progressDone
	if waitErr != nil {
		return nil, waitErr
	}

	res := &Result{SlotID: slotID, Images: len(files), Files: images}
	vectors := make([]database.Vector, 0, len(files))
	for _, img := range images {
		switch img.Outcome {
		case OutcomeEncoded:
			res.Encoded++
			vectors = append(vectors, img.vector)
		case OutcomeNoFace:
			res.NoFace++
		case OutcomeUnreadable:
			res.Unreadable++
		default:
			res.Failed++
		}
	}

	if res.Failed > 0 && res.Failed == res.Images {
		return res, fmt.Errorf("%w (slot %d, %d images)", ErrAdapterFailed, slotID, res.Images)
	}

	if err := p.store.Put(ctx, slotID, vectors); err != nil {
		return res, fmt.Errorf("failed to store slot %d: %w", slotID, err)
	}

	p.logger.Info("slot enrolled", "slot", slotID, "vectors", res.Encoded,
		"no_face", res.NoFace, "unreadable", res.Unreadable, "failed", res.Failed)
	return res, nil
}

func (p *Pipeline) processImage(ctx context.Context, path string) ImageResult {
	res := ImageResult{File: filepath.Base(path)}

	data, err := os.ReadFile(path)
	if err != nil {
		res.Outcome = OutcomeUnreadable
		res.Error = err.Error()
		return res
	}

	crop, err := p.detector.DetectAndCrop(ctx, data)
	switch {
	case errors.Is(err, faceapi.ErrNoFace):
		res.Outcome = OutcomeNoFace
		p.logger.Debug("no face in image", "file", path)
		return res
	case errors.Is(err, faceapi.ErrUnreadableImage):
		res.Outcome = OutcomeUnreadable
		res.Error = err.Error()
		p.logger.Warn("unreadable image", "file", path, "error", err)
		return res
	case err != nil:
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		p.logger.Warn("face detection failed", "file", path, "error", err)
		return res
	}

	vec, err := p.encoder.Encode(ctx, crop)
	if err != nil {
		if errors.Is(err, faceapi.ErrNoFace) {
			res.Outcome = OutcomeNoFace
			return res
		}
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		p.logger.Warn("face encoding failed", "file", path, "error", err)
		return res
	}

	res.Outcome = OutcomeEncoded
	res.vector = vec
	return res
}

// listImages returns the regular, non-hidden files of dir sorted by name.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
