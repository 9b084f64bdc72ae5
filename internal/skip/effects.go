package skip

import (
	"time"

	"shakeskip/internal/transport"
)

// runEffect executes a single reducer-emitted Command and reports the
// outcome through onEvent.
//
// This is the only place the controller talks to the transport. It never
// calls Reduce; the controller loop sequences Reduce -> Commands -> runEffect
// -> Events -> Reduce.
func (c *Controller) runEffect(cmd Command, onEvent func(Event)) {
	now := time.Now()
	fail := func(err error, msg string, args ...any) {
		c.logger.Error(msg, append(args, "error", err, "command", cmd.String())...)
		onEvent(CommandFailed{Command: cmd, Err: err, At: now})
	}

	switch cm := cmd.(type) {
	case CmdObserve:
		if c.transport.MediaID() == "" {
			fail(transport.ErrNoMedia, "no active media to skip in")
			return
		}
		d, known := c.transport.Duration()
		onEvent(TransportObserved{
			Gen:           cm.Gen,
			Playing:       c.transport.IsPlaying(),
			Position:      c.transport.Position(),
			Duration:      d,
			DurationKnown: known,
		})

	case CmdPause:
		if err := c.transport.Pause(); err != nil {
			fail(err, "transport pause failed")
		}

	case CmdPlay:
		if err := c.transport.Play(); err != nil {
			fail(err, "transport play failed")
		}

	case CmdToggle:
		var err error
		if c.transport.IsPlaying() {
			err = c.transport.Pause()
		} else {
			err = c.transport.Play()
		}
		if err != nil {
			fail(err, "transport toggle failed")
		}

	case CmdNext:
		if err := c.transport.Next(); err != nil {
			fail(err, "transport next failed")
		}

	case CmdPrevious:
		if err := c.transport.Previous(); err != nil {
			fail(err, "transport previous failed")
		}

	case CmdSeek:
		if err := c.transport.SeekTo(cm.Position); err != nil {
			fail(err, "transport seek failed", "position_ms", cm.Position.Milliseconds())
			return
		}
		onEvent(Seeked{Gen: cm.Gen})

	case CmdSetVolume:
		if err := c.transport.SetVolume(cm.Level); err != nil {
			fail(err, "transport set volume failed", "level", cm.Level)
		}

	case CmdSchedule:
		c.stopTimer()
		gen, phase := cm.Gen, cm.Phase
		c.timer = time.AfterFunc(cm.After, func() {
			c.post(StepDue{Gen: gen, Phase: phase})
		})

	case CmdCancelSchedule:
		c.stopTimer()

	case CmdScheduleRestore:
		c.stopRestoreTimer()
		c.logger.Warn("retrying user volume restore", "after", cm.After)
		c.restoreTimer = time.AfterFunc(cm.After, func() {
			c.post(RestoreDue{})
		})

	default:
		c.logger.Warn("unknown command type", "command", cmd.String())
		onEvent(CommandFailed{Command: cmd, Err: errUnknownCommand{cmd: cmd}, At: now})
	}
}

func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) stopRestoreTimer() {
	if c.restoreTimer != nil {
		c.restoreTimer.Stop()
		c.restoreTimer = nil
	}
}

type errUnknownCommand struct {
	cmd Command
}

func (e errUnknownCommand) Error() string { return "unknown command: " + e.cmd.String() }
