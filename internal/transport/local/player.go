// Package local plays audio files from a play queue through the default
// sound card using beep. It is kept apart from package transport so code
// that only needs the Transport interface does not link the audio backend.
package local

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/flac"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"

	"shakeskip/internal/transport"
)

// VolumeOutput applies a linear level somewhere in the signal chain.
type VolumeOutput interface {
	SetLevel(level float64) error
}

// Config configures the speaker.
type Config struct {
	SampleRate int
	Buffer     time.Duration

	// Output receives volume changes. Nil applies them as a software gain.
	Output VolumeOutput
}

// Player plays one queue item at a time. When an item ends the next one
// starts; the queue does not wrap at the end.
type Player struct {
	mu sync.Mutex

	sampleRate beep.SampleRate
	format     beep.Format
	stream     beep.StreamSeekCloser
	ctrl       *beep.Ctrl
	gain       *effects.Volume
	output     VolumeOutput

	queue   transport.Queue
	playing bool
	level   float64
	closed  bool

	pub    transport.Publisher
	logger *slog.Logger
}

var _ transport.Transport = (*Player)(nil)

// NewPlayer initialises the speaker and returns an empty player.
func NewPlayer(cfg Config, logger *slog.Logger) (*Player, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 100 * time.Millisecond
	}
	sr := beep.SampleRate(cfg.SampleRate)
	if err := speaker.Init(sr, sr.N(cfg.Buffer)); err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}

	p := &Player{
		sampleRate: sr,
		gain:       &effects.Volume{Base: 2},
		level:      1,
		logger:     logger,
	}
	p.output = cfg.Output
	if p.output == nil {
		p.output = softwareGain{vol: p.gain}
	}
	return p, nil
}

// Decode opens path and picks a decoder by extension.
func Decode(path string) (beep.StreamSeekCloser, beep.Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mp3", ".wav", ".flac":
	default:
		return nil, beep.Format{}, fmt.Errorf("unsupported media type %q", ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("open media: %w", err)
	}

	var (
		s      beep.StreamSeekCloser
		format beep.Format
	)
	switch ext {
	case ".mp3":
		s, format, err = mp3.Decode(f)
	case ".wav":
		s, format, err = wav.Decode(f)
	case ".flac":
		s, format, err = flac.Decode(f)
	}
	if err != nil {
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return s, format, nil
}

// Load replaces the play queue with paths and opens the item at start,
// paused at position zero.
func (p *Player) Load(paths []string, start int) error {
	if len(paths) == 0 {
		return transport.ErrNoMedia
	}
	q := transport.NewQueue(paths, start)
	return p.open(q, false)
}

func (p *Player) Next() error {
	return p.step(func(q *transport.Queue) (string, bool) { return q.Next() })
}

func (p *Player) Previous() error {
	return p.step(func(q *transport.Queue) (string, bool) { return q.Previous() })
}

func (p *Player) step(move func(*transport.Queue) (string, bool)) error {
	p.mu.Lock()
	if err := p.readyLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	q := p.queue
	playing := p.playing
	p.mu.Unlock()

	if _, moved := move(&q); !moved {
		return nil
	}
	return p.open(q, playing)
}

// open decodes the current item of q and makes it the active stream.
func (p *Player) open(q transport.Queue, play bool) error {
	path := q.Current()
	s, format, err := Decode(path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		s.Close()
		return transport.ErrClosed
	}

	var src beep.Streamer = s
	if format.SampleRate != p.sampleRate {
		src = beep.Resample(4, format.SampleRate, p.sampleRate, s)
	}
	ctrl := &beep.Ctrl{Streamer: src, Paused: !play}

	speaker.Lock()
	old := p.stream
	p.stream = s
	p.format = format
	p.ctrl = ctrl
	p.gain.Streamer = beep.Seq(ctrl, beep.Callback(func() {
		go p.finished(ctrl)
	}))
	speaker.Unlock()

	speaker.Clear()
	speaker.Play(p.gain)

	p.queue = q
	p.playing = play
	snap := p.snapshotLocked()
	p.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			p.logger.Warn("close previous media failed", "error", err)
		}
	}
	p.logger.Info("media loaded", "path", path, "index", q.Index(), "queue", q.Len(), "sample_rate", int(format.SampleRate))
	p.pub.Publish(snap)
	return nil
}

func (p *Player) finished(ctrl *beep.Ctrl) {
	p.mu.Lock()
	if p.ctrl != ctrl {
		p.mu.Unlock()
		return
	}
	q := p.queue
	next, more := q.Advance()
	if !more {
		p.playing = false
		snap := p.snapshotLocked()
		p.mu.Unlock()
		p.logger.Debug("queue finished", "path", snap.MediaID)
		p.pub.Publish(snap)
		return
	}
	p.mu.Unlock()

	if err := p.open(q, true); err != nil {
		p.logger.Error("could not start next item", "path", next, "error", err)
		p.mu.Lock()
		p.playing = false
		snap := p.snapshotLocked()
		p.mu.Unlock()
		p.pub.Publish(snap)
	}
}

func (p *Player) Play() error {
	return p.setPaused(false)
}

func (p *Player) Pause() error {
	return p.setPaused(true)
}

func (p *Player) setPaused(paused bool) error {
	p.mu.Lock()
	if err := p.readyLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	speaker.Lock()
	p.ctrl.Paused = paused
	speaker.Unlock()
	p.playing = !paused
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.pub.Publish(snap)
	return nil
}

// SeekTo moves to pos, clamped to the media bounds.
func (p *Player) SeekTo(pos time.Duration) error {
	p.mu.Lock()
	if err := p.readyLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	n := p.format.SampleRate.N(pos)
	if n < 0 {
		n = 0
	}
	if l := p.stream.Len(); l > 0 && n > l {
		n = l
	}

	speaker.Lock()
	err := p.stream.Seek(n)
	speaker.Unlock()
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("seek to %v: %w", pos, err)
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.pub.Publish(snap)
	return nil
}

func (p *Player) SetVolume(level float64) error {
	level = transport.ClampVolume(level)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return transport.ErrClosed
	}
	out := p.output
	p.mu.Unlock()

	if err := out.SetLevel(level); err != nil {
		return fmt.Errorf("set volume: %w", err)
	}

	p.mu.Lock()
	p.level = level
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.pub.Publish(snap)
	return nil
}

func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *Player) Duration() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.durationLocked()
}

func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *Player) MediaID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return ""
	}
	return p.queue.Current()
}

func (p *Player) QueuePosition() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Index(), p.queue.Len()
}

func (p *Player) Subscribe() (<-chan transport.Snapshot, func()) {
	return p.pub.Subscribe()
}

// Close stops playback and releases the current media.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	s := p.stream
	p.stream = nil
	p.ctrl = nil
	p.mu.Unlock()

	speaker.Clear()
	p.pub.CloseAll()
	if s != nil {
		return s.Close()
	}
	return nil
}

func (p *Player) readyLocked() error {
	if p.closed {
		return transport.ErrClosed
	}
	if p.stream == nil || p.ctrl == nil {
		return transport.ErrNoMedia
	}
	return nil
}

func (p *Player) positionLocked() time.Duration {
	if p.stream == nil {
		return 0
	}
	speaker.Lock()
	n := p.stream.Position()
	speaker.Unlock()
	return p.format.SampleRate.D(n)
}

func (p *Player) durationLocked() (time.Duration, bool) {
	if p.stream == nil {
		return 0, false
	}
	l := p.stream.Len()
	if l <= 0 {
		return 0, false
	}
	return p.format.SampleRate.D(l), true
}

func (p *Player) snapshotLocked() transport.Snapshot {
	d, known := p.durationLocked()
	media := ""
	if p.stream != nil {
		media = p.queue.Current()
	}
	return transport.Snapshot{
		MediaID:       media,
		Playing:       p.playing,
		Position:      p.positionLocked(),
		Duration:      d,
		DurationKnown: known,
		Volume:        p.level,
		QueueIndex:    p.queue.Index(),
		QueueLength:   p.queue.Len(),
	}
}

// softwareGain maps a linear level onto an effects.Volume with base 2.
type softwareGain struct {
	vol *effects.Volume
}

func (g softwareGain) SetLevel(level float64) error {
	v, silent := gainFor(level)
	speaker.Lock()
	g.vol.Volume = v
	g.vol.Silent = silent
	speaker.Unlock()
	return nil
}

// gainFor returns the base-2 exponent that scales amplitude by level.
func gainFor(level float64) (volume float64, silent bool) {
	level = transport.ClampVolume(level)
	if level == 0 {
		return 0, true
	}
	return math.Log2(level), false
}
