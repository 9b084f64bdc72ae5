// Package session wires a shake detector, a skip controller, a sensor and a
// settings store into one running unit.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"shakeskip/internal/motion"
	"shakeskip/internal/sensor"
	"shakeskip/internal/settings"
	"shakeskip/internal/shake"
	"shakeskip/internal/skip"
)

// NoticeKind names what a Notice reports.
type NoticeKind string

const (
	NoticeShake    NoticeKind = "shake_detected"
	NoticeHaptic   NoticeKind = "haptic_pulse"
	NoticeSettings NoticeKind = "settings_changed"
)

// Notice is a session-level change published to observers.
type Notice struct {
	Kind     NoticeKind
	At       time.Time
	Shake    shake.Event
	Settings settings.Settings
}

// Status combines detector, controller and settings state.
type Status struct {
	Detector shake.Status      `json:"detector"`
	Skip     skip.Status       `json:"skip"`
	Settings settings.Settings `json:"settings"`
}

// Options configures a Session. Source and Haptics may be nil.
type Options struct {
	Detector   *shake.Detector
	Controller *skip.Controller
	Store      settings.Store
	Source     sensor.Source
	Haptics    shake.Haptics
	Logger     *slog.Logger
}

// Session applies settings to the detector and turns shakes into skip
// simulations for as long as Run is active.
type Session struct {
	detector   *shake.Detector
	controller *skip.Controller
	store      settings.Store
	source     sensor.Source
	haptics    shake.Haptics
	logger     *slog.Logger

	mu      sync.Mutex
	cur     settings.Settings
	applied bool

	// enabledCh carries the latest enabled flag to the sensor loop.
	enabledCh chan bool

	subsMu sync.Mutex
	subs   map[chan Notice]struct{}
}

// New builds a session. Nothing runs until Run is called.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		detector:   opts.Detector,
		controller: opts.Controller,
		store:      opts.Store,
		source:     opts.Source,
		haptics:    opts.Haptics,
		logger:     logger,
		cur:        settings.Default(),
		enabledCh:  make(chan bool, 1),
		subs:       make(map[chan Notice]struct{}),
	}
}

// Run starts the controller loop, the settings watch and the sensor loop,
// and blocks until ctx is canceled or one of them fails.
func (s *Session) Run(ctx context.Context) error {
	unsubscribe := s.detector.Subscribe(s.onShake)
	defer unsubscribe()
	defer s.closeSubscribers()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.controller.Run(gctx) })
	g.Go(func() error { return s.watchSettings(gctx) })
	g.Go(func() error { return s.runSensor(gctx) })
	return g.Wait()
}

// Inject feeds a sample straight into the detector.
func (s *Session) Inject(sample motion.Sample) {
	s.detector.OnSample(sample)
}

// Detector returns the session's detector.
func (s *Session) Detector() *shake.Detector { return s.detector }

// Controller returns the session's skip controller.
func (s *Session) Controller() *skip.Controller { return s.controller }

// Settings returns the settings last applied.
func (s *Session) Settings() settings.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *Session) Status() Status {
	return Status{
		Detector: s.detector.Status(),
		Skip:     s.controller.Status(),
		Settings: s.Settings(),
	}
}

func (s *Session) watchSettings(ctx context.Context) error {
	ch, err := s.store.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch settings: %w", err)
	}
	for st := range ch {
		s.apply(st)
	}
	if ctx.Err() != nil {
		return nil
	}
	return errors.New("settings watch closed")
}

func (s *Session) apply(st settings.Settings) {
	st = st.Normalize()

	s.mu.Lock()
	prev, first := s.cur, !s.applied
	s.cur = st
	s.applied = true
	s.mu.Unlock()

	s.detector.SetThreshold(st.Sensitivity)
	if st.Enabled {
		if first || !prev.Enabled {
			s.detector.Reset()
			s.detector.Start()
		}
	} else {
		s.detector.Stop()
	}
	if first || prev.Enabled != st.Enabled {
		offerLatest(s.enabledCh, st.Enabled)
	}

	s.logger.Info("settings applied",
		"enabled", st.Enabled,
		"sensitivity", st.Sensitivity,
		"haptic_feedback", st.HapticFeedback,
	)
	s.publish(Notice{Kind: NoticeSettings, At: time.Now(), Settings: st})
}

func (s *Session) onShake(ev shake.Event) {
	now := time.Now()
	s.publish(Notice{Kind: NoticeShake, At: now, Shake: ev})

	if s.haptics != nil && s.Settings().HapticFeedback {
		s.haptics.Pulse(shake.HapticPulse)
		s.publish(Notice{Kind: NoticeHaptic, At: now, Shake: ev})
	}

	if !s.controller.Trigger() {
		s.logger.Warn("shake dropped; skip controller busy or stopped", "count", ev.Count)
	}
}

// runSensor keeps the source running while shake detection is enabled. A
// source failure marks the detector unavailable until the next enable.
func (s *Session) runSensor(ctx context.Context) error {
	var (
		cancel context.CancelFunc
		result chan error
	)
	stop := func() {
		if cancel == nil {
			return
		}
		cancel()
		<-result
		cancel, result = nil, nil
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case enabled := <-s.enabledCh:
			if !enabled {
				stop()
				continue
			}
			if cancel != nil {
				continue
			}
			if s.source == nil {
				s.detector.SetUnavailable(true)
				s.logger.Warn("no accelerometer configured; shake detection unavailable")
				continue
			}
			s.detector.SetUnavailable(false)
			var runCtx context.Context
			runCtx, cancel = context.WithCancel(ctx)
			result = make(chan error, 1)
			go func(ch chan error) {
				ch <- s.source.Run(runCtx, s.detector.OnSample)
			}(result)

		case err := <-result:
			cancel()
			cancel, result = nil, nil
			if err != nil && ctx.Err() == nil {
				s.detector.SetUnavailable(true)
				s.logger.Error("accelerometer stopped", "error", err)
			}
		}
	}
}

// Changes streams notices. Slow subscribers miss notices.
func (s *Session) Changes(buf int) (<-chan Notice, func()) {
	if buf <= 0 {
		buf = 32
	}
	ch := make(chan Notice, buf)
	s.subsMu.Lock()
	if s.subs == nil {
		s.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

func (s *Session) publish(n Notice) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

func (s *Session) closeSubscribers() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		close(ch)
	}
	s.subs = nil
}

func offerLatest(ch chan bool, v bool) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
