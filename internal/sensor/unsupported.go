//go:build !linux

package sensor

import (
	"context"
	"fmt"
	"log/slog"

	"shakeskip/internal/motion"
)

const DefaultNameHint = "accel"

// EvdevSource is only available on Linux.
type EvdevSource struct {
	Path   string
	Scale  float64
	Logger *slog.Logger
}

func (s *EvdevSource) Run(ctx context.Context, emit func(motion.Sample)) error {
	return fmt.Errorf("%w: input devices require linux", ErrUnavailable)
}

func FindAccelerometer(hint string) (string, error) {
	return "", fmt.Errorf("%w: input devices require linux", ErrUnavailable)
}
