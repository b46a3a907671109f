// Package slots derives per-slot availability from the presence sensors and
// picks a free slot for a new user.
package slots

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/smart-locker/internal/hardware"
	"github.com/kozaktomas/smart-locker/internal/logging"
	"github.com/kozaktomas/smart-locker/internal/metrics"
)

// State is the availability of one slot for the current poll cycle.
type State string

const (
	Available State = "AVAILABLE"
	Occupied  State = "OCCUPIED"
	Unknown   State = "UNKNOWN"
)

// None is returned by Allocate when no slot is available.
const None = 0

// Polarity says which raw sensor level means "available".
type Polarity string

const (
	// HighAvailable is the reference wiring: pull-up input, HIGH = empty slot.
	HighAvailable Polarity = "high-available"
	HighOccupied  Polarity = "high-occupied"
)

func ParsePolarity(s string) (Polarity, error) {
	switch p := Polarity(strings.ToLower(strings.TrimSpace(s))); p {
	case HighAvailable, HighOccupied:
		return p, nil
	default:
		return "", fmt.Errorf("unknown sensor polarity %q", s)
	}
}

// Derive maps a raw sensor bit to a state under the polarity.
func (p Polarity) Derive(raw bool) State {
	if raw == (p == HighAvailable) {
		return Available
	}
	return Occupied
}

// Table is one poll result: slot id -> state.
type Table map[int]State

// IDs returns the slot ids in ascending order.
func (t Table) IDs() []int {
	ids := make([]int, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Counts summarises the table.
func (t Table) Counts() (available, occupied, unknown int) {
	for _, s := range t {
		switch s {
		case Available:
			available++
		case Occupied:
			occupied++
		default:
			unknown++
		}
	}
	return available, occupied, unknown
}

// String renders the table as "[alloc, s1, s2, ...]" with 1 for available
// and 0 otherwise, the format of the control panel status line.
func (t Table) String() string {
	parts := []string{strconv.Itoa(Allocate(t))}
	for _, id := range t.IDs() {
		switch t[id] {
		case Available:
			parts = append(parts, "1")
		case Occupied:
			parts = append(parts, "0")
		default:
			parts = append(parts, "?")
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Allocate returns the lowest slot id that is Available, or None. Unknown
// slots are never allocated.
func Allocate(t Table) int {
	for _, id := range t.IDs() {
		if t[id] == Available {
			return id
		}
	}
	return None
}

// Monitor polls the presence sensors.
type Monitor struct {
	sensor   hardware.Sensor
	slotIDs  []int
	polarity Polarity
	retries  int
	logger   *slog.Logger
}

// NewMonitor creates a monitor over slotIDs. retries is the number of extra
// reads attempted in the same cycle before a slot is reported Unknown.
func NewMonitor(sensor hardware.Sensor, slotIDs []int, polarity Polarity, retries int, logger *slog.Logger) *Monitor {
	ids := append([]int(nil), slotIDs...)
	sort.Ints(ids)
	if retries < 0 {
		retries = 0
	}
	return &Monitor{
		sensor:   sensor,
		slotIDs:  ids,
		polarity: polarity,
		retries:  retries,
		logger:   logging.OrDefault(logger),
	}
}

// Poll reads every slot once. Nothing is cached between calls.
func (m *Monitor) Poll(ctx context.Context) Table {
	table := make(Table, len(m.slotIDs))
	for _, id := range m.slotIDs {
		state := m.readSlot(ctx, id)
		table[id] = state
		for _, s := range []State{Available, Occupied, Unknown} {
			v := 0.0
			if s == state {
				v = 1
			}
			metrics.SlotState.WithLabelValues(metrics.SlotLabel(id), string(s)).Set(v)
		}
	}
	metrics.PollCycles.Inc()
	return table
}

func (m *Monitor) readSlot(ctx context.Context, id int) State {
	var lastErr error
	for attempt := 0; attempt <= m.retries; attempt++ {
		raw, err := m.sensor.Read(ctx, id)
		if err == nil {
			return m.polarity.Derive(raw)
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	metrics.SensorReadErrors.WithLabelValues(metrics.SlotLabel(id)).Inc()
	m.logger.Warn("sensor read failed, slot state unknown", "slot", id, "error", lastErr)
	return Unknown
}

// Run polls every interval until ctx is cancelled, handing each table and
// its allocation to fn. The first poll happens immediately. A cycle in
// progress when ctx is cancelled runs to completion.
func (m *Monitor) Run(ctx context.Context, interval time.Duration, fn func(Table, int)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		table := m.Poll(ctx)
		if fn != nil {
			fn(table, Allocate(table))
		}

		select {
		case <-ctx.Done():
			m.logger.Info("slot monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}
