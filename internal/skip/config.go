package skip

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the timing of the skip sequence.
type Config struct {
	// SeekDelay is the silence between muting and seeking.
	SeekDelay time.Duration

	// RampStepDelay separates consecutive volume ramp steps.
	RampStepDelay time.Duration

	// RampFractions are multiples of the pre-simulation volume applied in
	// order after resuming. The last entry is replaced by the user volume.
	RampFractions []float64

	// The seek offset is drawn uniformly from [MinOffset, MaxOffset).
	MinOffset time.Duration
	MaxOffset time.Duration

	// A failed restore of the user volume is retried up to RestoreRetries
	// times, RestoreRetryDelay apart.
	RestoreRetries    int
	RestoreRetryDelay time.Duration

	// QueueSize bounds the controller event queue.
	QueueSize int
}

// DefaultConfig returns the stock CD-skip timing.
func DefaultConfig() Config {
	return Config{
		SeekDelay:     220 * time.Millisecond,
		RampStepDelay: 120 * time.Millisecond,
		RampFractions: []float64{0, 0.35, 0.7, 1.0},
		MinOffset:     200 * time.Millisecond,
		MaxOffset:     520 * time.Millisecond,

		RestoreRetries:    5,
		RestoreRetryDelay: 100 * time.Millisecond,

		QueueSize: 64,
	}
}

// Validate checks timing invariants.
func (c Config) Validate() error {
	if c.SeekDelay < 0 {
		return errors.New("seek delay must be >= 0")
	}
	if c.RampStepDelay < 0 {
		return errors.New("ramp step delay must be >= 0")
	}
	if len(c.RampFractions) == 0 {
		return errors.New("ramp fractions must not be empty")
	}
	for i, f := range c.RampFractions {
		if f < 0 || f > 1 {
			return fmt.Errorf("ramp fraction %d must be in [0, 1], got %v", i, f)
		}
	}
	if c.MinOffset < 0 {
		return errors.New("min offset must be >= 0")
	}
	if c.MaxOffset <= c.MinOffset {
		return errors.New("max offset must be > min offset")
	}
	if c.RestoreRetries < 0 || c.RestoreRetryDelay < 0 {
		return errors.New("restore retries and delay must be >= 0")
	}
	return nil
}
