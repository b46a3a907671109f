//go:build linux

package hardware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/warthog618/go-gpiocdev"

	"github.com/kozaktomas/smart-locker/internal/config"
	"github.com/kozaktomas/smart-locker/internal/logging"
)

const gpioConsumer = "smart-locker"

// GPIO drives real sensor and lock lines through the Linux GPIO character
// device. Sensor lines are requested as inputs with pull-up bias, lock
// lines as outputs driven low (locked).
type GPIO struct {
	inputs  map[int]*gpiocdev.Line
	outputs map[int]*gpiocdev.Line
	logger  *slog.Logger
}

// OpenGPIO claims every configured line on chip. On any failure the lines
// claimed so far are released and the error is returned.
func OpenGPIO(chip string, layout config.SlotLayout, logger *slog.Logger) (*GPIO, error) {
	g := &GPIO{
		inputs:  make(map[int]*gpiocdev.Line, len(layout.Slots)),
		outputs: make(map[int]*gpiocdev.Line, len(layout.Slots)),
		logger:  logging.OrDefault(logger),
	}

	for _, p := range layout.Slots {
		in, err := gpiocdev.RequestLine(chip, p.SensorPin,
			gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.WithConsumer(gpioConsumer))
		if err != nil {
			_ = g.Close()
			return nil, fmt.Errorf("failed to request sensor line %d for slot %d on %s: %w", p.SensorPin, p.ID, chip, err)
		}
		g.inputs[p.ID] = in

		out, err := gpiocdev.RequestLine(chip, p.LockPin,
			gpiocdev.AsOutput(0), gpiocdev.WithConsumer(gpioConsumer))
		if err != nil {
			_ = g.Close()
			return nil, fmt.Errorf("failed to request lock line %d for slot %d on %s: %w", p.LockPin, p.ID, chip, err)
		}
		g.outputs[p.ID] = out
	}

	g.logger.Info("GPIO lines claimed", "chip", chip, "slots", len(layout.Slots))
	return g, nil
}

func (g *GPIO) Read(ctx context.Context, slotID int) (bool, error) {
	line, ok := g.inputs[slotID]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownSlot, slotID)
	}
	v, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("failed to read sensor of slot %d: %w", slotID, err)
	}
	return v == 1, nil
}

func (g *GPIO) SetUnlocked(ctx context.Context, slotID int, unlocked bool) error {
	line, ok := g.outputs[slotID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSlot, slotID)
	}
	v := 0
	if unlocked {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("failed to drive lock of slot %d: %w", slotID, err)
	}
	return nil
}

// Close drives every lock line low and releases all lines.
func (g *GPIO) Close() error {
	var errs []error
	for id, line := range g.outputs {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("relock slot %d: %w", id, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, line := range g.inputs {
		if err := line.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
