package skip

import (
	"math"
	"time"

	"shakeskip/internal/transport"
)

// ReduceResult is the output of Reduce: the next state, the side effects to
// run in order, and the changes to publish.
type ReduceResult struct {
	State      State
	Commands   []Command
	Broadcasts []Broadcast
}

// Reduce is the pure skip state machine.
//
// It performs no I/O and never blocks. The controller loop executes the
// returned Commands and feeds their observations back as Events.
func Reduce(s State, e Event, now time.Time, cfg Config) ReduceResult {
	r := &reduction{s: s, now: now, cfg: cfg}

	switch ev := e.(type) {
	case Trigger:
		r.trigger(ev)

	case Stop:
		r.unwind(OutcomeCancelled, true)

	case Shutdown:
		r.unwind(OutcomeShutdown, true)

	case SetUserVolume:
		if math.IsNaN(ev.Level) {
			break
		}
		level := transport.ClampVolume(ev.Level)
		r.s.UserVolume = level
		r.broadcast(BroadcastUserVolumeChanged{Level: level, At: now})
		if r.s.Active() {
			// unwind restores the new user level
			r.unwind(OutcomeCancelled, true)
		} else {
			r.restore()
		}

	case UserPlay:
		r.unwind(OutcomeCancelled, false)
		r.command(CmdPlay{})

	case UserPause:
		r.unwind(OutcomeCancelled, false)
		r.command(CmdPause{})

	case UserToggle:
		// While the simulation holds playback paused the user hears it as
		// playing, so the toggle means pause.
		heldPaused := r.s.PausedBySim || r.s.resumeCarry
		r.unwind(OutcomeCancelled, false)
		if heldPaused {
			r.command(CmdPause{})
		} else {
			r.command(CmdToggle{})
		}

	case UserSeek:
		r.unwind(OutcomeCancelled, true)
		r.command(CmdSeek{Position: ev.Position})

	case UserNext:
		r.unwind(OutcomeCancelled, true)
		r.command(CmdNext{})

	case UserPrevious:
		r.unwind(OutcomeCancelled, true)
		r.command(CmdPrevious{})

	case RestoreDue:
		if r.s.Active() || !r.s.RestorePending {
			break
		}
		r.s.RestorePending = false
		r.command(CmdSetVolume{Level: r.s.UserVolume, Restore: true})

	case TransportObserved:
		if ev.Gen != r.s.Gen || r.s.Phase != PhaseMuting {
			break
		}
		r.observed(ev)

	case StepDue:
		if ev.Gen != r.s.Gen || ev.Phase != r.s.Phase {
			break
		}
		switch r.s.Phase {
		case PhaseSeeking:
			r.setPhase(PhaseResuming)
			r.command(CmdSeek{Gen: r.s.Gen, Position: r.s.Target})
		case PhaseRamping:
			r.s.RampStep++
			r.rampStep()
		}

	case Seeked:
		if ev.Gen != r.s.Gen || r.s.Phase != PhaseResuming {
			break
		}
		r.resume()

	case CommandFailed:
		r.failed(ev)

	default:
		// Unknown event type: no-op.
	}

	return ReduceResult{
		State:      r.s,
		Commands:   r.cmds,
		Broadcasts: r.bcasts,
	}
}

type reduction struct {
	s      State
	now    time.Time
	cfg    Config
	cmds   []Command
	bcasts []Broadcast
}

func (r *reduction) command(c Command)     { r.cmds = append(r.cmds, c) }
func (r *reduction) broadcast(b Broadcast) { r.bcasts = append(r.bcasts, b) }

func (r *reduction) setPhase(p Phase) {
	r.s.Phase = p
	r.broadcast(BroadcastPhaseChanged{SimulationID: r.s.SimulationID, Phase: p, At: r.now})
}

func (r *reduction) trigger(ev Trigger) {
	carry := false
	if r.s.Active() {
		carry = r.s.PausedBySim || r.s.resumeCarry
		r.unwind(OutcomeSuperseded, false)
	}

	startedAt := ev.At
	if startedAt.IsZero() {
		startedAt = r.now
	}

	r.s.Gen++
	r.s.SimulationID = ev.ID
	r.s.StartedAt = startedAt
	r.s.Offset = ev.Offset
	r.s.Target = 0
	r.s.Baseline = r.s.UserVolume
	r.s.WasPlaying = false
	r.s.PausedBySim = false
	r.s.resumeCarry = carry
	r.s.RampStep = 0
	r.setPhase(PhaseMuting)

	r.command(CmdObserve{Gen: r.s.Gen})
}

func (r *reduction) observed(ev TransportObserved) {
	wasPlaying := ev.Playing || r.s.resumeCarry
	r.s.WasPlaying = wasPlaying
	r.s.PausedBySim = wasPlaying
	r.s.resumeCarry = false

	if ev.Playing {
		r.command(CmdPause{})
	}
	r.command(CmdSetVolume{Level: 0})

	target := ev.Position + r.s.Offset
	if ev.DurationKnown && ev.Duration > 0 && target > ev.Duration {
		target = ev.Duration
	}
	r.s.Target = target

	r.setPhase(PhaseSeeking)
	r.command(CmdSchedule{Gen: r.s.Gen, Phase: PhaseSeeking, After: r.cfg.SeekDelay})
}

func (r *reduction) resume() {
	if r.s.WasPlaying {
		r.command(CmdPlay{})
	}
	r.s.PausedBySim = false
	r.s.RampStep = 0
	r.setPhase(PhaseRamping)
	r.rampStep()
}

// rampStep applies RampFractions[RampStep]. The last step always lands on
// the user volume.
func (r *reduction) rampStep() {
	fr := r.cfg.RampFractions
	if r.s.RampStep >= len(fr)-1 {
		r.restore()
		r.finish()
		return
	}
	r.command(CmdSetVolume{Level: transport.ClampVolume(r.s.Baseline * fr[r.s.RampStep])})
	r.command(CmdSchedule{Gen: r.s.Gen, Phase: PhaseRamping, After: r.cfg.RampStepDelay})
}

func (r *reduction) finish() {
	r.broadcast(BroadcastSimulationEnded{SimulationID: r.s.SimulationID, Outcome: OutcomeCompleted, At: r.now})
	r.s.Completed++
	r.reset()
}

// unwind ends the in-flight simulation: it cancels the pending continuation
// and restores the user volume. With resume set, playback paused by the
// simulation is restarted.
func (r *reduction) unwind(outcome Outcome, resume bool) {
	if !r.s.Active() {
		return
	}
	r.command(CmdCancelSchedule{})
	r.restore()
	if resume && (r.s.PausedBySim || r.s.resumeCarry) {
		r.command(CmdPlay{})
	}
	r.broadcast(BroadcastSimulationEnded{SimulationID: r.s.SimulationID, Outcome: outcome, At: r.now})
	r.s.Cancelled++
	r.reset()
}

// restore writes the user volume. Its failure is retried by retryRestore.
func (r *reduction) restore() {
	r.s.RestorePending = false
	r.s.RestoreRetries = 0
	r.command(CmdSetVolume{Level: r.s.UserVolume, Restore: true})
}

// retryRestore schedules another restore after c failed, as long as c still
// carries the current user volume and no simulation owns the volume.
func (r *reduction) retryRestore(c CmdSetVolume) {
	if r.s.Active() || c.Level != r.s.UserVolume {
		return
	}
	if r.s.RestoreRetries >= r.cfg.RestoreRetries {
		r.s.RestorePending = false
		return
	}
	r.s.RestoreRetries++
	r.s.RestorePending = true
	r.command(CmdScheduleRestore{After: r.cfg.RestoreRetryDelay})
}

func (r *reduction) reset() {
	r.s.Phase = PhaseIdle
	r.s.Gen++
	r.s.SimulationID = ""
	r.s.WasPlaying = false
	r.s.PausedBySim = false
	r.s.resumeCarry = false
	r.s.RampStep = 0
	r.broadcast(BroadcastPhaseChanged{Phase: PhaseIdle, At: r.now})
}

func (r *reduction) failed(ev CommandFailed) {
	if c, ok := ev.Command.(CmdSetVolume); ok && c.Restore {
		r.retryRestore(c)
		return
	}
	if !r.s.Active() {
		return
	}
	switch c := ev.Command.(type) {
	case CmdObserve:
		if c.Gen == r.s.Gen && r.s.Phase == PhaseMuting {
			r.unwind(OutcomeFailed, true)
		}
	case CmdSeek:
		// A failed seek is skipped; playback resumes where it is.
		if c.Gen != 0 && c.Gen == r.s.Gen && r.s.Phase == PhaseResuming {
			r.resume()
		}
	case CmdPause:
		r.s.PausedBySim = false
	default:
		// Ramp volume and play failures are logged by the effects layer;
		// the sequence continues.
	}
}
