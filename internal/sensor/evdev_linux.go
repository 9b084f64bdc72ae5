//go:build linux

package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"shakeskip/internal/motion"
)

// eviocsclockid is EVIOCSCLOCKID: _IOW('E', 0xa0, int).
const eviocsclockid = 0x400445a0

// pollTimeoutMs bounds how long Run waits before re-checking ctx.
const pollTimeoutMs = 100

// EvdevSource reads an accelerometer exposed as a Linux input device.
type EvdevSource struct {
	// Path is the event device, e.g. /dev/input/event3.
	Path string

	// Scale converts raw axis units to m/s².
	Scale float64

	Logger *slog.Logger
}

var _ Source = (*EvdevSource)(nil)

// Run opens the device and emits one sample per SYN_REPORT until ctx is
// done. An open failure is reported as ErrUnavailable.
func (s *EvdevSource) Run(ctx context.Context, emit func(motion.Sample)) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fd, err := unix.Open(s.Path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrUnavailable, s.Path, err)
	}
	f := os.NewFile(uintptr(fd), s.Path)
	defer f.Close()

	// Kernel timestamps on the monotonic clock so wall clock jumps do not
	// affect debouncing.
	if err := unix.IoctlSetPointerInt(fd, eviocsclockid, unix.CLOCK_MONOTONIC); err != nil {
		logger.Warn("could not select monotonic event clock", "device", s.Path, "error", err)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl_add %s: %w", s.Path, err)
	}

	logger.Info("accelerometer opened", "device", s.Path, "scale", s.Scale)

	dec := newFrameDecoder(s.Scale)
	ready := make([]unix.EpollEvent, 1)
	buf := make([]byte, rawEventSize*64)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := unix.EpollWait(epfd, ready, pollTimeoutMs)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}
		if n == 0 {
			continue
		}
		if ready[0].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			return fmt.Errorf("device error/hangup: %s", s.Path)
		}

		for {
			m, err := unix.Read(fd, buf)
			if err != nil {
				if errors.Is(err, unix.EAGAIN) || errors.Is(err, syscall.EINTR) {
					break
				}
				return fmt.Errorf("read %s: %w", s.Path, err)
			}
			if m <= 0 {
				break
			}
			for _, raw := range parseEvents(buf[:m]) {
				if sample, ok := dec.feed(raw); ok {
					emit(sample)
				}
			}
		}
	}
}
