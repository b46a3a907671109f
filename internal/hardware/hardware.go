// Package hardware abstracts the locker's slot sensors and lock actuators.
//
// The mode (real GPIO or simulation) is resolved once at startup and the
// resulting Device is injected into everything that touches hardware.
package hardware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kozaktomas/smart-locker/internal/config"
)

// Mode selects the hardware backend.
type Mode string

const (
	ModeReal      Mode = "real"
	ModeSimulated Mode = "simulated"
)

var (
	ErrUnknownSlot         = errors.New("unknown slot")
	ErrUnsupportedPlatform = errors.New("GPIO is only supported on linux")
)

// ParseMode parses HARDWARE_MODE.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeReal:
		return ModeReal, nil
	case ModeSimulated, "sim", "":
		return ModeSimulated, nil
	default:
		return "", fmt.Errorf("unknown hardware mode %q (want real or simulated)", s)
	}
}

// Sensor reads the raw input bit of a slot's presence sensor. Polarity is
// applied by the caller.
type Sensor interface {
	Read(ctx context.Context, slotID int) (bool, error)
}

// Actuator drives a slot's lock. unlocked=true releases the lock.
type Actuator interface {
	SetUnlocked(ctx context.Context, slotID int, unlocked bool) error
}

// Device is a sensor and actuator pair that owns hardware resources.
type Device interface {
	Sensor
	Actuator
	Close() error
}

// Open returns the device for mode. Real mode fails immediately if the GPIO
// chip or any configured line cannot be claimed.
func Open(mode Mode, chip string, layout config.SlotLayout, logger *slog.Logger) (Device, error) {
	switch mode {
	case ModeReal:
		g, err := OpenGPIO(chip, layout, logger)
		if err != nil {
			return nil, err
		}
		return g, nil
	case ModeSimulated:
		return NewSimulator(layout, logger), nil
	default:
		return nil, fmt.Errorf("unknown hardware mode %q", mode)
	}
}

// Pulse releases a slot's lock for hold, then locks it again. The relock is
// attempted even when ctx is cancelled mid-pulse.
func Pulse(ctx context.Context, act Actuator, slotID int, hold time.Duration) error {
	if err := act.SetUnlocked(ctx, slotID, true); err != nil {
		return fmt.Errorf("failed to unlock slot %d: %w", slotID, err)
	}

	timer := time.NewTimer(hold)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := act.SetUnlocked(context.WithoutCancel(ctx), slotID, false); err != nil {
		return fmt.Errorf("failed to relock slot %d: %w", slotID, err)
	}
	return nil
}
