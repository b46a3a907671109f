// Package reset returns the locker to its initial state: no enrollment
// images, no identity records, every slot counted as available.
package reset

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kozaktomas/smart-locker/internal/database"
	"github.com/kozaktomas/smart-locker/internal/fsutil"
	"github.com/kozaktomas/smart-locker/internal/logging"
	"github.com/kozaktomas/smart-locker/internal/metrics"
)

// Failure is one item that could not be removed.
type Failure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Report lists what a reset did.
type Report struct {
	Removed      []string  `json:"removed"`
	Failures     []Failure `json:"failures"`
	CounterValue int       `json:"counter_value"`
}

// Manager performs resets.
type Manager struct {
	datasetDir  string
	store       database.EmbeddingWriter
	counter     *database.Counter
	slotCount   int
	maintenance *database.FileLock
	logger      *slog.Logger
}

// Options configures a Manager.
type Options struct {
	DatasetDir  string
	Store       database.EmbeddingWriter
	Counter     *database.Counter
	SlotCount   int
	Maintenance *database.FileLock // shared with enrollment; nil disables the guard
	Logger      *slog.Logger
}

func New(opts Options) *Manager {
	return &Manager{
		datasetDir:  opts.DatasetDir,
		store:       opts.Store,
		counter:     opts.Counter,
		slotCount:   opts.SlotCount,
		maintenance: opts.Maintenance,
		logger:      logging.OrDefault(opts.Logger),
	}
}

// Reset clears the dataset directory and the store, then writes the slot
// count to the availability counter. Every item is attempted even if
// earlier ones fail; failures are listed in the report. The counter is
// written regardless, and its error (if any) is the returned error.
// Running Reset twice leaves the same state as running it once.
func (m *Manager) Reset(ctx context.Context) (*Report, error) {
	if m.maintenance != nil {
		unlock, err := m.maintenance.TryLock(true)
		if err != nil {
			return nil, fmt.Errorf("reset blocked by another maintenance operation: %w", err)
		}
		defer unlock()
	}

	metrics.Resets.Inc()
	rep := &Report{}

	removed, err := fsutil.ClearDir(m.datasetDir)
	rep.Removed = append(rep.Removed, removed...)
	m.recordFailures(rep, err)

	removed, err = m.store.Clear(ctx)
	rep.Removed = append(rep.Removed, removed...)
	m.recordFailures(rep, err)

	if err := m.counter.Write(m.slotCount); err != nil {
		m.logger.Error("failed to write availability counter", "path", m.counter.Path(), "error", err)
		return rep, fmt.Errorf("failed to write availability counter: %w", err)
	}
	rep.CounterValue = m.slotCount

	m.logger.Info("reset complete", "removed", len(rep.Removed), "failures", len(rep.Failures), "counter", m.slotCount)
	return rep, nil
}

func (m *Manager) recordFailures(rep *Report, err error) {
	for _, item := range fsutil.ItemErrors(err) {
		rep.Failures = append(rep.Failures, Failure{Path: item.Path, Error: item.Err.Error()})
		metrics.ResetItemFailures.Inc()
		m.logger.Warn("reset could not remove item", "path", item.Path, "error", item.Err)
	}
}
