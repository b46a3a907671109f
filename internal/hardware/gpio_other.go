//go:build !linux

package hardware

import (
	"log/slog"

	"github.com/kozaktomas/smart-locker/internal/config"
)

// GPIO is unavailable off linux; OpenGPIO always fails.
type GPIO struct {
	Simulator
}

func OpenGPIO(chip string, layout config.SlotLayout, logger *slog.Logger) (*GPIO, error) {
	return nil, ErrUnsupportedPlatform
}
