// Package settings holds the user-tunable shake settings and the stores that
// persist and stream them.
package settings

import (
	"context"
	"fmt"

	"shakeskip/internal/shake"
)

// Settings are the user preferences for shake-to-skip.
type Settings struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	Sensitivity    float64 `json:"sensitivity" yaml:"sensitivity"`
	HapticFeedback bool    `json:"haptic_feedback" yaml:"haptic_feedback"`
}

// Default returns enabled, sensitivity 15, haptics on.
func Default() Settings {
	return Settings{
		Enabled:        true,
		Sensitivity:    shake.DefaultThreshold,
		HapticFeedback: true,
	}
}

// Normalize clamps Sensitivity into the detector's threshold range.
func (s Settings) Normalize() Settings {
	s.Sensitivity = shake.ClampThreshold(s.Sensitivity)
	return s
}

// Store persists settings and streams changes.
type Store interface {
	// Load returns the stored settings, or Default when nothing is stored.
	Load(ctx context.Context) (Settings, error)

	// Save normalizes and stores s, notifying watchers. It returns the value
	// actually stored.
	Save(ctx context.Context, s Settings) (Settings, error)

	// Watch streams the current settings followed by every change until ctx
	// is done, then closes the channel.
	Watch(ctx context.Context) (<-chan Settings, error)
}

// Update loads the settings, applies fn and saves the result.
// It is not atomic across processes.
func Update(ctx context.Context, st Store, fn func(*Settings)) (Settings, error) {
	cur, err := st.Load(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	fn(&cur)
	saved, err := st.Save(ctx, cur)
	if err != nil {
		return Settings{}, fmt.Errorf("save settings: %w", err)
	}
	return saved, nil
}
