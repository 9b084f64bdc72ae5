package camilladsp

import (
	"fmt"
	"math"
	"sync"
)

// Fader is the subset of Client used for volume output.
type Fader interface {
	SetVolume(db float64) error
	SetMute(mute bool) error
}

// LevelToDB maps a linear level in [0, 1] onto [minDB, maxDB] with a
// logarithmic curve so equal level steps sound roughly equal.
func LevelToDB(level, minDB, maxDB float64) float64 {
	if math.IsNaN(level) || level <= 0 {
		return minDB
	}
	if level >= 1 {
		return maxDB
	}
	return minDB + (maxDB-minDB)*math.Log10(1+9*level)
}

// VolumeOutput drives the CamillaDSP main fader from linear levels.
// Level 0 mutes; any other level unmutes first.
type VolumeOutput struct {
	fader        Fader
	minDB, maxDB float64

	mu    sync.Mutex
	muted bool
}

// NewVolumeOutput returns an output mapping [0, 1] onto [minDB, maxDB].
func NewVolumeOutput(f Fader, minDB, maxDB float64) (*VolumeOutput, error) {
	if minDB >= maxDB {
		return nil, fmt.Errorf("min dB (%v) must be < max dB (%v)", minDB, maxDB)
	}
	return &VolumeOutput{fader: f, minDB: minDB, maxDB: maxDB}, nil
}

func (o *VolumeOutput) SetLevel(level float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if level <= 0 {
		if o.muted {
			return nil
		}
		if err := o.fader.SetMute(true); err != nil {
			return fmt.Errorf("mute: %w", err)
		}
		o.muted = true
		return nil
	}

	if err := o.fader.SetVolume(LevelToDB(level, o.minDB, o.maxDB)); err != nil {
		return fmt.Errorf("set volume: %w", err)
	}
	if o.muted {
		if err := o.fader.SetMute(false); err != nil {
			return fmt.Errorf("unmute: %w", err)
		}
		o.muted = false
	}
	return nil
}
