// Package sensor delivers accelerometer samples from hardware or from an
// in-process feed.
package sensor

import (
	"context"
	"errors"

	"shakeskip/internal/motion"
)

// ErrUnavailable means no accelerometer could be opened.
var ErrUnavailable = errors.New("accelerometer unavailable")

// Source produces samples until ctx is done. emit is called from the Run
// goroutine and must not block for long.
type Source interface {
	Run(ctx context.Context, emit func(motion.Sample)) error
}

// ChanSource emits samples pushed into it. It is used for injected samples
// and tests.
type ChanSource struct {
	ch chan motion.Sample
}

var _ Source = (*ChanSource)(nil)

// NewChanSource returns a source buffering up to buf pushed samples.
func NewChanSource(buf int) *ChanSource {
	if buf <= 0 {
		buf = 64
	}
	return &ChanSource{ch: make(chan motion.Sample, buf)}
}

// Push queues s. It returns false when the buffer is full.
func (c *ChanSource) Push(s motion.Sample) bool {
	select {
	case c.ch <- s:
		return true
	default:
		return false
	}
}

// Run emits pushed samples in order until ctx is done. Samples pushed while
// no Run is active stay buffered.
func (c *ChanSource) Run(ctx context.Context, emit func(motion.Sample)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-c.ch:
			emit(s)
		}
	}
}
