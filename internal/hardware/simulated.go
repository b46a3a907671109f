package hardware

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kozaktomas/smart-locker/internal/config"
	"github.com/kozaktomas/smart-locker/internal/logging"
)

// Simulator is an in-memory Device. Sensor bits start HIGH, which on the
// reference pull-up wiring means every slot is available.
type Simulator struct {
	mu       sync.Mutex
	pins     map[int]config.SlotPin
	bits     map[int]bool
	failures map[int]error
	unlocked map[int]bool
	commands []Command
	logger   *slog.Logger
}

// Command is one actuator call recorded by the simulator.
type Command struct {
	SlotID   int
	Pin      int
	Unlocked bool
}

func NewSimulator(layout config.SlotLayout, logger *slog.Logger) *Simulator {
	s := &Simulator{
		pins:     make(map[int]config.SlotPin, len(layout.Slots)),
		bits:     make(map[int]bool, len(layout.Slots)),
		failures: make(map[int]error),
		unlocked: make(map[int]bool),
		logger:   logging.OrDefault(logger),
	}
	for _, p := range layout.Slots {
		s.pins[p.ID] = p
		s.bits[p.ID] = true
	}
	return s
}

// SetBit sets the raw sensor input of a slot.
func (s *Simulator) SetBit(slotID int, high bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bits[slotID] = high
}

// FailReads makes reads of slotID return err until cleared with nil.
func (s *Simulator) FailReads(slotID int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, slotID)
		return
	}
	s.failures[slotID] = err
}

// Commands returns the actuator calls made so far.
func (s *Simulator) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.commands...)
}

// Unlocked reports the last commanded lock state of a slot.
func (s *Simulator) Unlocked(slotID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unlocked[slotID]
}

func (s *Simulator) Read(ctx context.Context, slotID int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pins[slotID]; !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownSlot, slotID)
	}
	if err := s.failures[slotID]; err != nil {
		return false, err
	}
	return s.bits[slotID], nil
}

func (s *Simulator) SetUnlocked(ctx context.Context, slotID int, unlocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pin, ok := s.pins[slotID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSlot, slotID)
	}
	s.unlocked[slotID] = unlocked
	s.commands = append(s.commands, Command{SlotID: slotID, Pin: pin.LockPin, Unlocked: unlocked})
	s.logger.Info("simulated lock output", "slot", slotID, "gpio", pin.LockPin, "high", unlocked)
	return nil
}

func (s *Simulator) Close() error {
	return nil
}
