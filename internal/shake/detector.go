// Package shake turns a stream of accelerometer samples into discrete shake
// events using a gravity filter, a magnitude threshold and a debounce window.
package shake

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"shakeskip/internal/motion"
)

const (
	MinThreshold     = 10.0
	MaxThreshold     = 25.0
	DefaultThreshold = 15.0

	// DefaultDebounce is the minimum spacing between two shake events.
	DefaultDebounce = 500 * time.Millisecond

	// DefaultShakingHold is how long IsShaking stays true after a shake.
	DefaultShakingHold = 1 * time.Second

	// HapticPulse is the length of the vibration emitted for each shake.
	HapticPulse = 50 * time.Millisecond
)

// ClampThreshold limits v to [MinThreshold, MaxThreshold].
// NaN is mapped to DefaultThreshold.
func ClampThreshold(v float64) float64 {
	if math.IsNaN(v) {
		return DefaultThreshold
	}
	return math.Min(MaxThreshold, math.Max(MinThreshold, v))
}

// Event is emitted once per accepted shake.
type Event struct {
	At        time.Duration // sample timestamp that fired the event
	Magnitude float64       // linear acceleration magnitude in m/s²
	Count     uint64        // shakes since the last ResetCount
}

// Listener receives shake events. Listeners run synchronously on the sensor
// goroutine and must not block.
type Listener func(Event)

// Haptics produces a short vibration.
type Haptics interface {
	Pulse(d time.Duration)
}

// Config holds detector tuning.
type Config struct {
	Threshold   float64
	Debounce    time.Duration
	ShakingHold time.Duration

	// Clock returns a monotonic time. It times unstamped samples and drives
	// IsShaking. Nil uses the wall clock's monotonic reading.
	Clock func() time.Duration
}

// DefaultConfig returns the stock detector tuning.
func DefaultConfig() Config {
	return Config{
		Threshold:   DefaultThreshold,
		Debounce:    DefaultDebounce,
		ShakingHold: DefaultShakingHold,
	}
}

// Status is a point-in-time view of a detector.
type Status struct {
	Active      bool    `json:"active"`
	Unavailable bool    `json:"unavailable"`
	Shaking     bool    `json:"shaking"`
	Count       uint64  `json:"count"`
	Threshold   float64 `json:"threshold"`
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// Detector is safe for concurrent use. OnSample holds a short mutex and never
// waits on listeners while holding it.
type Detector struct {
	mu sync.Mutex

	filter    motion.Filter
	threshold float64
	debounce  time.Duration
	hold      time.Duration
	clock     func() time.Duration

	// lastShake is the sample time of the last accepted shake; valid only
	// when shaken is true. lastStamped records which timebase it came from.
	lastShake   time.Duration
	lastStamped bool
	shaken      bool

	// shakeSeenAt is the detector clock reading at the last shake.
	shakeSeenAt time.Duration

	count       uint64
	active      bool
	unavailable bool

	listeners []listenerEntry
	nextID    uint64

	logger *slog.Logger
}

// NewDetector builds a stopped detector. Call Start to begin accepting samples.
func NewDetector(cfg Config, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.ShakingHold <= 0 {
		cfg.ShakingHold = DefaultShakingHold
	}
	clock := cfg.Clock
	if clock == nil {
		origin := time.Now()
		clock = func() time.Duration { return time.Since(origin) }
	}
	threshold := DefaultThreshold
	if cfg.Threshold != 0 {
		threshold = ClampThreshold(cfg.Threshold)
	}
	return &Detector{
		threshold: threshold,
		debounce:  cfg.Debounce,
		hold:      cfg.ShakingHold,
		clock:     clock,
		logger:    logger,
	}
}

// OnSample runs one sample through the filter and fires listeners when the
// linear acceleration reaches the threshold outside the debounce window.
func (d *Detector) OnSample(s motion.Sample) {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}

	mag, ok := d.filter.Apply(s)
	if !ok || mag < d.threshold {
		d.mu.Unlock()
		return
	}

	seen := d.clock()
	now := seen
	if s.Stamped {
		now = s.At
	}
	if d.shaken {
		elapsed := now - d.lastShake
		if s.Stamped != d.lastStamped {
			// Source and detector clocks have unrelated origins.
			elapsed = seen - d.shakeSeenAt
		}
		// Timestamps stepping backwards stay inside the window; Reset
		// handles a source that restarts its clock.
		if elapsed < d.debounce {
			d.mu.Unlock()
			return
		}
	}

	d.lastShake = now
	d.lastStamped = s.Stamped
	d.shaken = true
	d.shakeSeenAt = seen
	d.count++

	ev := Event{At: now, Magnitude: mag, Count: d.count}
	listeners := make([]Listener, len(d.listeners))
	for i, l := range d.listeners {
		listeners[i] = l.fn
	}
	d.mu.Unlock()

	d.logger.Debug("shake detected", "magnitude", mag, "count", ev.Count)
	for _, fn := range listeners {
		fn(ev)
	}
}

// SetThreshold sets the magnitude threshold, clamped to the supported range.
// NaN leaves the current threshold unchanged.
func (d *Detector) SetThreshold(v float64) {
	if math.IsNaN(v) {
		return
	}
	d.mu.Lock()
	d.threshold = ClampThreshold(v)
	d.mu.Unlock()
}

// Threshold returns the current threshold.
func (d *Detector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// Reset clears the filter and forgets the last shake, so the next qualifying
// sample fires regardless of the debounce window.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.filter.Reset()
	d.shaken = false
	d.lastShake = 0
	d.shakeSeenAt = 0
	d.mu.Unlock()
}

// Start makes the detector accept samples.
func (d *Detector) Start() {
	d.mu.Lock()
	d.active = true
	d.mu.Unlock()
}

// Stop makes the detector ignore samples.
func (d *Detector) Stop() {
	d.mu.Lock()
	d.active = false
	d.mu.Unlock()
}

// Active reports whether the detector is started.
func (d *Detector) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// SetUnavailable records whether the sensor feeding this detector could be opened.
func (d *Detector) SetUnavailable(v bool) {
	d.mu.Lock()
	d.unavailable = v
	d.mu.Unlock()
}

// Unavailable reports whether the sensor could not be opened.
func (d *Detector) Unavailable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unavailable
}

// IsShaking reports whether a shake fired within the shaking hold window.
func (d *Detector) IsShaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isShakingLocked()
}

func (d *Detector) isShakingLocked() bool {
	return d.active && d.shaken && d.clock()-d.shakeSeenAt < d.hold
}

// Count returns the number of shakes since the last ResetCount.
func (d *Detector) Count() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// ResetCount zeroes the shake counter.
func (d *Detector) ResetCount() {
	d.mu.Lock()
	d.count = 0
	d.mu.Unlock()
}

// Status returns a snapshot of the detector.
func (d *Detector) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		Active:      d.active,
		Unavailable: d.unavailable,
		Shaking:     d.isShakingLocked(),
		Count:       d.count,
		Threshold:   d.threshold,
	}
}

// Subscribe registers fn and returns a function that removes it.
func (d *Detector) Subscribe(fn Listener) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.listeners = append(d.listeners, listenerEntry{id: id, fn: fn})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			for i, l := range d.listeners {
				if l.id == id {
					d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
					return
				}
			}
		})
	}
}
