package transport

import (
	"fmt"
	"sync"
	"time"
)

// Operation names recorded by Mock and accepted by Mock.FailOn.
const (
	OpPlay      = "play"
	OpPause     = "pause"
	OpSeek      = "seek"
	OpSetVolume = "set_volume"
	OpNext      = "next"
	OpPrevious  = "previous"
)

// Mock is an in-memory Transport. Position only moves on SeekTo, which keeps
// tests deterministic. It is safe for concurrent use.
type Mock struct {
	mu sync.Mutex

	mediaID       string
	playing       bool
	position      time.Duration
	duration      time.Duration
	durationKnown bool
	volume        float64
	queue         Queue

	calls    []string
	volumes  []float64
	failures map[string]error

	pub Publisher
}

var _ Transport = (*Mock)(nil)

// NewMock returns a paused mock at full volume with no media.
func NewMock() *Mock {
	return &Mock{
		volume:   1,
		failures: make(map[string]error),
	}
}

// Load replaces the current media with a single-item queue. A zero duration
// with known=false models a stream of unknown length.
func (m *Mock) Load(mediaID string, duration time.Duration, known bool) {
	m.LoadQueue([]string{mediaID}, 0, duration, known)
}

// LoadQueue replaces the play queue and positions it at start. Every item
// gets the same duration.
func (m *Mock) LoadQueue(ids []string, start int, duration time.Duration, known bool) {
	m.mu.Lock()
	m.queue = NewQueue(ids, start)
	m.mediaID = m.queue.Current()
	m.duration = duration
	m.durationKnown = known
	m.position = 0
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.pub.Publish(snap)
}

// SetState forces playing state and position without recording a call.
func (m *Mock) SetState(playing bool, position time.Duration) {
	m.mu.Lock()
	m.playing = playing
	m.position = position
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.pub.Publish(snap)
}

// FailOn makes every subsequent op fail with err. A nil err clears the failure.
func (m *Mock) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls returns the recorded operations in order.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// VolumeHistory returns every level passed to a successful SetVolume.
func (m *Mock) VolumeHistory() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.volumes...)
}

func (m *Mock) Play() error {
	return m.apply(OpPlay, OpPlay, func() { m.playing = true })
}

func (m *Mock) Pause() error {
	return m.apply(OpPause, OpPause, func() { m.playing = false })
}

func (m *Mock) SeekTo(pos time.Duration) error {
	if pos < 0 {
		pos = 0
	}
	return m.apply(OpSeek, fmt.Sprintf("%s(%d)", OpSeek, pos.Milliseconds()), func() { m.position = pos })
}

func (m *Mock) SetVolume(level float64) error {
	level = ClampVolume(level)
	return m.apply(OpSetVolume, fmt.Sprintf("%s(%.2f)", OpSetVolume, level), func() {
		m.volume = level
		m.volumes = append(m.volumes, level)
	})
}

func (m *Mock) Next() error {
	return m.move(OpNext, m.queue.Next)
}

func (m *Mock) Previous() error {
	return m.move(OpPrevious, m.queue.Previous)
}

func (m *Mock) move(op string, step func() (string, bool)) error {
	return m.apply(op, op, func() {
		if id, moved := step(); moved {
			m.mediaID = id
			m.position = 0
		}
	})
}

func (m *Mock) apply(op, record string, mutate func()) error {
	m.mu.Lock()
	m.calls = append(m.calls, record)
	if err := m.failures[op]; err != nil {
		m.mu.Unlock()
		return err
	}
	mutate()
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.pub.Publish(snap)
	return nil
}

func (m *Mock) Volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

func (m *Mock) Position() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

func (m *Mock) Duration() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration, m.durationKnown
}

func (m *Mock) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

func (m *Mock) MediaID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mediaID
}

func (m *Mock) QueuePosition() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Index(), m.queue.Len()
}

func (m *Mock) Subscribe() (<-chan Snapshot, func()) {
	return m.pub.Subscribe()
}

func (m *Mock) snapshotLocked() Snapshot {
	return Snapshot{
		MediaID:       m.mediaID,
		Playing:       m.playing,
		Position:      m.position,
		Duration:      m.duration,
		DurationKnown: m.durationKnown,
		Volume:        m.volume,
		QueueIndex:    m.queue.Index(),
		QueueLength:   m.queue.Len(),
	}
}
