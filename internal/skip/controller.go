// Package skip implements the CD-skip simulation: a cancellable, timed
// sequence (mute, pause, seek, resume, volume ramp) run against a transport.
package skip

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"shakeskip/internal/transport"
)

// ErrStopped is returned by requests made after the controller loop exited.
var ErrStopped = errors.New("skip controller stopped")

// Controller owns the skip state machine and is the only writer of transport
// volume and position while a simulation is in flight.
//
// All inputs are queued as Events and reduced in order by a single goroutine
// started with Run.
type Controller struct {
	transport transport.Transport
	cfg       Config
	logger    *slog.Logger

	events chan Event
	done   chan struct{}

	// timer and restoreTimer are owned by the Run goroutine.
	timer        *time.Timer
	restoreTimer *time.Timer

	status atomic.Pointer[Status]

	offset func() time.Duration
	newID  func() string

	subsMu sync.Mutex
	subs   map[chan Broadcast]struct{}
}

// NewController builds a controller around t. The user volume starts at the
// transport's current volume.
func NewController(t transport.Transport, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if len(cfg.RampFractions) == 0 {
		cfg.RampFractions = DefaultConfig().RampFractions
	}
	if cfg.RestoreRetryDelay <= 0 {
		cfg.RestoreRetryDelay = DefaultConfig().RestoreRetryDelay
	}

	c := &Controller{
		transport: t,
		cfg:       cfg,
		logger:    logger,
		events:    make(chan Event, cfg.QueueSize),
		done:      make(chan struct{}),
		newID:     uuid.NewString,
		subs:      make(map[chan Broadcast]struct{}),
	}
	c.offset = func() time.Duration {
		span := cfg.MaxOffset - cfg.MinOffset
		if span <= 0 {
			return cfg.MinOffset
		}
		return cfg.MinOffset + rand.N(span)
	}

	initial := State{UserVolume: transport.ClampVolume(t.Volume())}
	st := initial.Status()
	c.status.Store(&st)
	return c
}

// Run processes events until ctx is canceled. On exit it unwinds any
// simulation in flight so the transport is left at the user volume.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	state := State{UserVolume: c.Status().UserVolume}

	// Explicit queues: eventQueue awaits reduction, cmdQueue awaits execution.
	var eventQueue []Event
	var cmdQueue []Command

	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			rr := Reduce(state, ev, time.Now(), c.cfg)
			if rr.State.Phase != state.Phase {
				c.logger.Debug("skip phase", "from", state.Phase.String(), "to", rr.State.Phase.String(), "simulation_id", rr.State.SimulationID)
			}
			state = rr.State
			cmdQueue = append(cmdQueue, rr.Commands...)
			c.publish(rr.Broadcasts)
		}
	}

	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			c.runEffect(cmd, func(obs Event) {
				eventQueue = append(eventQueue, obs)
			})

			// Reduce observations promptly so follow-up commands run in order.
			flushEvents()
		}
	}

	step := func(ev Event) {
		eventQueue = append(eventQueue, ev)
		flushEvents()
		flushCommands()
		st := state.Status()
		c.status.Store(&st)
	}

	c.logger.Info("skip controller starting")
	for {
		select {
		case <-ctx.Done():
			step(Shutdown{})
			// Nothing will deliver RestoreDue once the loop exits, so
			// pending restores are retried inline.
			for state.RestorePending {
				c.stopRestoreTimer()
				step(RestoreDue{})
			}
			c.stopRestoreTimer()
			c.stopTimer()
			c.closeSubscribers()
			c.logger.Info("skip controller stopping (context canceled)")
			return nil

		case ev := <-c.events:
			step(ev)
		}
	}
}

// post queues an event, waiting for room. It gives up once the loop exits.
func (c *Controller) post(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) send(ctx context.Context, ev Event) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger starts a skip simulation with a random seek offset. It never
// blocks; it returns false when the event queue is full or the loop exited.
func (c *Controller) Trigger() bool {
	ev := Trigger{ID: c.newID(), Offset: c.offset(), At: time.Now()}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	default:
		c.logger.Warn("skip event queue full, dropping trigger")
		return false
	}
}

// Cancel aborts the in-flight simulation, restoring the user volume.
func (c *Controller) Cancel(ctx context.Context) error {
	return c.send(ctx, Stop{})
}

// SetUserVolume records an explicit user volume. A simulation in flight is
// aborted and the new level applied immediately.
func (c *Controller) SetUserVolume(ctx context.Context, level float64) error {
	return c.send(ctx, SetUserVolume{Level: level})
}

// Play resumes playback, aborting any simulation first.
func (c *Controller) Play(ctx context.Context) error {
	return c.send(ctx, UserPlay{})
}

// Pause pauses playback, aborting any simulation first.
func (c *Controller) Pause(ctx context.Context) error {
	return c.send(ctx, UserPause{})
}

// TogglePlayPause pauses a playing transport and resumes a paused one,
// aborting any simulation first.
func (c *Controller) TogglePlayPause(ctx context.Context) error {
	return c.send(ctx, UserToggle{})
}

// Next moves to the next item in the play queue, aborting any simulation
// first.
func (c *Controller) Next(ctx context.Context) error {
	return c.send(ctx, UserNext{})
}

// Previous moves to the previous item in the play queue, aborting any
// simulation first.
func (c *Controller) Previous(ctx context.Context) error {
	return c.send(ctx, UserPrevious{})
}

// Seek moves playback to pos, aborting any simulation first.
func (c *Controller) Seek(ctx context.Context, pos time.Duration) error {
	return c.send(ctx, UserSeek{Position: pos})
}

// IsSimulating reports whether a simulation is in flight.
func (c *Controller) IsSimulating() bool {
	return c.Status().Simulating
}

// Status returns the status published after the last processed event.
func (c *Controller) Status() Status {
	return *c.status.Load()
}

// Subscribe returns a stream of broadcasts. Broadcasts are dropped for
// subscribers that fall behind.
func (c *Controller) Subscribe(buf int) (<-chan Broadcast, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Broadcast, buf)
	c.subsMu.Lock()
	if c.subs == nil {
		// Already closed.
		c.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.subs[ch] = struct{}{}
	c.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subsMu.Lock()
			defer c.subsMu.Unlock()
			if _, ok := c.subs[ch]; ok {
				delete(c.subs, ch)
				close(ch)
			}
		})
	}
}

func (c *Controller) publish(bcasts []Broadcast) {
	if len(bcasts) == 0 {
		return
	}
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for ch := range c.subs {
		for _, b := range bcasts {
			select {
			case ch <- b:
			default:
				c.logger.Warn("skip subscriber slow, dropping broadcast")
			}
		}
	}
}

func (c *Controller) closeSubscribers() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for ch := range c.subs {
		close(ch)
	}
	c.subs = nil
}
