package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"shakeskip/internal/motion"
	"shakeskip/internal/sensor"
	"shakeskip/internal/settings"
	"shakeskip/internal/shake"
	"shakeskip/internal/skip"
	"shakeskip/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

type countingHaptics struct {
	pulses atomic.Int32
	last   atomic.Int64
}

func (h *countingHaptics) Pulse(d time.Duration) {
	h.pulses.Add(1)
	h.last.Store(int64(d))
}

type failingSource struct{}

func (failingSource) Run(ctx context.Context, emit func(motion.Sample)) error {
	return sensor.ErrUnavailable
}

type fixture struct {
	sess    *Session
	mock    *transport.Mock
	store   *settings.MemoryStore
	source  *sensor.ChanSource
	haptics *countingHaptics
}

func newFixture(t *testing.T, initial settings.Settings, src sensor.Source) *fixture {
	t.Helper()
	m := transport.NewMock()
	m.Load("track", 180*time.Second, true)
	m.SetState(true, 10*time.Second)

	cfg := skip.DefaultConfig()
	cfg.SeekDelay = 5 * time.Millisecond
	cfg.RampStepDelay = 2 * time.Millisecond

	f := &fixture{
		mock:    m,
		store:   settings.NewMemoryStore(initial),
		haptics: &countingHaptics{},
	}
	if cs, ok := src.(*sensor.ChanSource); ok {
		f.source = cs
	}

	f.sess = New(Options{
		Detector:   shake.NewDetector(shake.DefaultConfig(), testLogger()),
		Controller: skip.NewController(m, cfg, testLogger()),
		Store:      f.store,
		Source:     src,
		Haptics:    f.haptics,
		Logger:     testLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sess.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("unexpected run error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("session did not stop")
		}
	})
	return f
}

func strong(at time.Duration) motion.Sample {
	return motion.Sample{X: 40, At: at, Stamped: true}
}

func TestSession_ShakeTriggersSkipAndPulse(t *testing.T) {
	f := newFixture(t, settings.Default(), sensor.NewChanSource(16))
	waitUntil(t, time.Second, func() bool { return f.sess.Detector().Active() })

	f.source.Push(strong(time.Second))

	waitUntil(t, time.Second, func() bool { return f.sess.Controller().Status().Completed == 1 })
	if got := f.haptics.pulses.Load(); got != 1 {
		t.Fatalf("expected 1 haptic pulse, got %d", got)
	}
	if d := time.Duration(f.haptics.last.Load()); d != shake.HapticPulse {
		t.Fatalf("expected pulse of %v, got %v", shake.HapticPulse, d)
	}
	if st := f.sess.Status(); st.Detector.Count != 1 {
		t.Fatalf("expected shake count 1, got %d", st.Detector.Count)
	}
}

func TestSession_HapticsDisabled(t *testing.T) {
	initial := settings.Default()
	initial.HapticFeedback = false
	f := newFixture(t, initial, sensor.NewChanSource(16))
	waitUntil(t, time.Second, func() bool { return f.sess.Detector().Active() })

	f.source.Push(strong(time.Second))
	waitUntil(t, time.Second, func() bool { return f.sess.Detector().Count() == 1 })

	if got := f.haptics.pulses.Load(); got != 0 {
		t.Fatalf("expected no haptic pulse, got %d", got)
	}
}

func TestSession_SettingsAppliedWithoutRestart(t *testing.T) {
	f := newFixture(t, settings.Default(), sensor.NewChanSource(16))
	waitUntil(t, time.Second, func() bool { return f.sess.Detector().Active() })

	ctx := context.Background()
	if _, err := f.store.Save(ctx, settings.Settings{Enabled: true, Sensitivity: 30, HapticFeedback: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return f.sess.Detector().Threshold() == 25 })

	if _, err := f.store.Save(ctx, settings.Settings{Enabled: false, Sensitivity: 25}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return !f.sess.Detector().Active() })

	f.sess.Inject(strong(time.Second))
	time.Sleep(20 * time.Millisecond)
	if got := f.sess.Detector().Count(); got != 0 {
		t.Fatalf("expected no shakes while disabled, got %d", got)
	}
	if f.sess.Controller().IsSimulating() || f.sess.Controller().Status().Completed != 0 {
		t.Fatalf("expected no simulation while disabled")
	}
}

func TestSession_ReenableResetsDebounce(t *testing.T) {
	f := newFixture(t, settings.Default(), sensor.NewChanSource(16))
	waitUntil(t, time.Second, func() bool { return f.sess.Detector().Active() })

	f.sess.Inject(strong(time.Second))
	waitUntil(t, time.Second, func() bool { return f.sess.Detector().Count() == 1 })

	ctx := context.Background()
	_, _ = settings.Update(ctx, f.store, func(s *settings.Settings) { s.Enabled = false })
	waitUntil(t, time.Second, func() bool { return !f.sess.Detector().Active() })
	_, _ = settings.Update(ctx, f.store, func(s *settings.Settings) { s.Enabled = true })
	waitUntil(t, time.Second, func() bool { return f.sess.Detector().Active() })

	// Within the old debounce window, but the detector was reset on enable.
	f.sess.Inject(strong(time.Second + 100*time.Millisecond))
	if got := f.sess.Detector().Count(); got != 2 {
		t.Fatalf("expected 2 shakes after re-enable, got %d", got)
	}
}

func TestSession_NoSourceMarksUnavailable(t *testing.T) {
	f := newFixture(t, settings.Default(), nil)
	waitUntil(t, time.Second, func() bool { return f.sess.Detector().Unavailable() })

	if !f.sess.Status().Detector.Unavailable {
		t.Fatalf("expected status to report unavailable")
	}
}

func TestSession_FailingSourceMarksUnavailable(t *testing.T) {
	f := newFixture(t, settings.Default(), failingSource{})
	waitUntil(t, time.Second, func() bool { return f.sess.Detector().Unavailable() })
}

func TestSession_ChangesPublishesNotices(t *testing.T) {
	f := newFixture(t, settings.Default(), sensor.NewChanSource(16))
	waitUntil(t, time.Second, func() bool { return f.sess.Detector().Active() })

	ch, unsubscribe := f.sess.Changes(16)
	defer unsubscribe()

	f.sess.Inject(strong(time.Second))

	seen := map[NoticeKind]bool{}
	timeout := time.After(time.Second)
	for !(seen[NoticeShake] && seen[NoticeHaptic]) {
		select {
		case n := <-ch:
			seen[n.Kind] = true
			if n.Kind == NoticeShake && n.Shake.Count != 1 {
				t.Fatalf("expected shake count 1, got %d", n.Shake.Count)
			}
		case <-timeout:
			t.Fatalf("timed out, saw %v", seen)
		}
	}
}

func TestSession_WatchErrorStopsRun(t *testing.T) {
	s := New(Options{
		Detector:   shake.NewDetector(shake.DefaultConfig(), testLogger()),
		Controller: skip.NewController(transport.NewMock(), skip.DefaultConfig(), testLogger()),
		Store:      brokenStore{},
		Logger:     testLogger(),
	})
	err := s.Run(context.Background())
	if err == nil || !errors.Is(err, errBroken) {
		t.Fatalf("expected watch error, got %v", err)
	}
}

var errBroken = errors.New("store offline")

type brokenStore struct{}

func (brokenStore) Load(context.Context) (settings.Settings, error) {
	return settings.Settings{}, errBroken
}

func (brokenStore) Save(context.Context, settings.Settings) (settings.Settings, error) {
	return settings.Settings{}, errBroken
}

func (brokenStore) Watch(context.Context) (<-chan settings.Settings, error) {
	return nil, errBroken
}
