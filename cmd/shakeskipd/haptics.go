package main

import (
	"log/slog"
	"time"
)

// logHaptics stands in for a vibration motor on hosts without one. Each
// pulse is logged so it shows up next to the shake that caused it.
type logHaptics struct {
	logger *slog.Logger
}

func (h logHaptics) Pulse(d time.Duration) {
	h.logger.Debug("haptic pulse", "duration_ms", d.Milliseconds())
}
