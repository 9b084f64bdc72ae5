// Package transport defines the controllable audio player the skip
// simulation drives, plus an in-memory mock. The beep-backed player lives in
// transport/local.
package transport

import (
	"errors"
	"math"
	"sync"
	"time"
)

var (
	// ErrNoMedia is returned by operations that need loaded media.
	ErrNoMedia = errors.New("transport: no media loaded")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport: closed")
)

// Transport is an abstract audio player.
//
// Volume levels are linear in [0, 1]. Duration reports known=false when the
// media length cannot be determined.
type Transport interface {
	Play() error
	Pause() error
	SeekTo(pos time.Duration) error
	SetVolume(level float64) error

	// Next and Previous move through the play queue, keeping the playing
	// state. They are no-ops on a single-item queue.
	Next() error
	Previous() error

	Volume() float64
	Position() time.Duration
	Duration() (d time.Duration, known bool)
	IsPlaying() bool
	MediaID() string
	QueuePosition() (index, length int)

	// Subscribe returns a stream of snapshots published on every state
	// change. Slow subscribers only see the latest snapshot.
	Subscribe() (<-chan Snapshot, func())
}

// Snapshot is a point-in-time view of a transport.
type Snapshot struct {
	MediaID       string
	Playing       bool
	Position      time.Duration
	Duration      time.Duration
	DurationKnown bool
	Volume        float64
	QueueIndex    int
	QueueLength   int
}

// Snap reads a Snapshot from t.
func Snap(t Transport) Snapshot {
	d, known := t.Duration()
	idx, n := t.QueuePosition()
	return Snapshot{
		MediaID:       t.MediaID(),
		Playing:       t.IsPlaying(),
		Position:      t.Position(),
		Duration:      d,
		DurationKnown: known,
		Volume:        t.Volume(),
		QueueIndex:    idx,
		QueueLength:   n,
	}
}

// ClampVolume limits v to [0, 1]. NaN maps to 0.
func ClampVolume(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}

// Publisher fans snapshots out to subscribers, latest-wins. The zero value
// is ready to use.
type Publisher struct {
	mu   sync.Mutex
	subs map[chan Snapshot]struct{}
}

func (p *Publisher) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	p.mu.Lock()
	if p.subs == nil {
		p.subs = make(map[chan Snapshot]struct{})
	}
	p.subs[ch] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if _, ok := p.subs[ch]; ok {
				delete(p.subs, ch)
				close(ch)
			}
		})
	}
}

func (p *Publisher) Publish(s Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ch := range p.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		// Replace the stale snapshot.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

// CloseAll closes every subscriber channel.
func (p *Publisher) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ch := range p.subs {
		close(ch)
		delete(p.subs, ch)
	}
}
