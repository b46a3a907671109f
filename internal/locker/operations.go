package locker

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/smart-locker/internal/audit"
	"github.com/kozaktomas/smart-locker/internal/database"
	"github.com/kozaktomas/smart-locker/internal/enroll"
	"github.com/kozaktomas/smart-locker/internal/facematch"
	"github.com/kozaktomas/smart-locker/internal/hardware"
	"github.com/kozaktomas/smart-locker/internal/metrics"
	"github.com/kozaktomas/smart-locker/internal/reset"
	"github.com/kozaktomas/smart-locker/internal/slots"
)

// SlotStatus is the polled state of one slot.
type SlotStatus struct {
	ID    int         `json:"id"`
	State slots.State `json:"state"`
}

// Status is one poll of every slot plus the allocation it implies.
type Status struct {
	Slots     []SlotStatus `json:"slots"`
	Allocated int          `json:"allocated"` // slots.None when nothing is free
	Available int          `json:"available"`
	Occupied  int          `json:"occupied"`
	Unknown   int          `json:"unknown"`
	Counter   *int         `json:"counter"` // nil until the first reset writes it
	Line      string       `json:"line"`
	PolledAt  time.Time    `json:"polled_at"`
}

func newStatus(table slots.Table, alloc int) *Status {
	st := &Status{
		Allocated: alloc,
		Line:      table.String(),
		PolledAt:  time.Now(),
	}
	for _, id := range table.IDs() {
		st.Slots = append(st.Slots, SlotStatus{ID: id, State: table[id]})
	}
	st.Available, st.Occupied, st.Unknown = table.Counts()
	return st
}

// Status polls the sensors once.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	table := s.monitor.Poll(ctx)
	st := newStatus(table, slots.Allocate(table))

	n, ok, err := s.counter.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read availability counter: %w", err)
	}
	if ok {
		st.Counter = &n
	}
	return st, nil
}

// Allocate polls the sensors and returns the lowest available slot id, or
// slots.None.
func (s *Service) Allocate(ctx context.Context) int {
	return slots.Allocate(s.monitor.Poll(ctx))
}

// Monitor runs the poll loop at the configured interval until ctx ends.
func (s *Service) Monitor(ctx context.Context, fn func(*Status)) error {
	return s.monitor.Run(ctx, s.cfg.Hardware.PollInterval, func(table slots.Table, alloc int) {
		if fn != nil {
			fn(newStatus(table, alloc))
		}
	})
}

// OpenSlot releases a slot's lock for the configured pulse length.
func (s *Service) OpenSlot(ctx context.Context, slotID int) error {
	if err := s.checkSlot(slotID); err != nil {
		return err
	}
	if err := hardware.Pulse(ctx, s.device, slotID, s.cfg.Hardware.UnlockPulse); err != nil {
		return err
	}
	metrics.Unlocks.WithLabelValues(metrics.SlotLabel(slotID)).Inc()
	s.logger.Info("slot opened", "slot", slotID, "hold", s.cfg.Hardware.UnlockPulse)
	return nil
}

// Identification is an identification result and whether the matched slot
// was opened.
type Identification struct {
	facematch.Result
	Opened bool `json:"opened"`
}

// IdentifyImage detects and encodes the face in an image, then identifies
// it. A picture without a face returns faceapi.ErrNoFace.
func (s *Service) IdentifyImage(ctx context.Context, imageData []byte, open bool) (*Identification, error) {
	crop, err := s.adapter.DetectAndCrop(ctx, imageData)
	if err != nil {
		metrics.Identifications.WithLabelValues("error").Inc()
		return nil, err
	}
	query, err := s.adapter.Encode(ctx, crop)
	if err != nil {
		metrics.Identifications.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to encode query face: %w", err)
	}
	return s.IdentifyVector(ctx, query, open)
}

// IdentifyVector identifies a precomputed query embedding. With open set, a
// matched slot is pulsed open; identification itself never actuates.
func (s *Service) IdentifyVector(ctx context.Context, query database.Vector, open bool) (*Identification, error) {
	store, err := s.store.Load(ctx)
	if err != nil {
		metrics.Identifications.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to load identity store: %w", err)
	}

	res, err := s.engine.Identify(query, store)
	if err != nil {
		metrics.Identifications.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(res.Scores) > 0 {
		metrics.BestSimilarity.Observe(res.Similarity)
	}

	out := &Identification{Result: res}
	if !res.Matched() {
		metrics.Identifications.WithLabelValues("none").Inc()
		s.logger.Info("no slot matched", "best", res.Similarity, "threshold", res.Threshold)
		return out, nil
	}
	metrics.Identifications.WithLabelValues("match").Inc()
	s.logger.Info("slot matched", "slot", res.SlotID, "similarity", res.Similarity)

	if open {
		if err := s.OpenSlot(ctx, res.SlotID); err != nil {
			return out, err
		}
		out.Opened = true
	}
	return out, nil
}

// Enroll rebuilds one slot's record from <dataset>/<slot>.
func (s *Service) Enroll(ctx context.Context, slotID int, progress func(enroll.Progress)) (*enroll.Result, error) {
	if err := s.checkSlot(slotID); err != nil {
		return nil, err
	}
	return s.pipeline.WithProgress(progress).Enroll(ctx, slotID, s.slotDir(slotID))
}

// EnrollAll rebuilds the record of every slot that has a dataset directory.
func (s *Service) EnrollAll(ctx context.Context, progress func(enroll.Progress)) ([]*enroll.Result, error) {
	return s.pipeline.WithProgress(progress).EnrollAll(ctx, s.cfg.Storage.DatasetDir)
}

// Audit reports on the contents of the identity store.
func (s *Service) Audit(ctx context.Context) (audit.Report, error) {
	return audit.Run(ctx, s.store, s.cfg.Layout.IDs())
}

// Reset clears enrollment data and the store and marks every slot free.
func (s *Service) Reset(ctx context.Context) (*reset.Report, error) {
	return s.resetter.Reset(ctx)
}
