package skip

import (
	"fmt"
	"time"
)

// Phase is the position of the controller in the skip sequence.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseMuting
	PhaseSeeking
	PhaseResuming
	PhaseRamping
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseMuting:
		return "muting"
	case PhaseSeeking:
		return "seeking"
	case PhaseResuming:
		return "resuming"
	case PhaseRamping:
		return "ramping_volume"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Outcome describes how a simulation ended.
type Outcome string

const (
	OutcomeCompleted  Outcome = "completed"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeFailed     Outcome = "failed"
	OutcomeShutdown   Outcome = "shutdown"
)

// State is the controller-owned state of the skip sequence.
//
// It is only touched by the controller goroutine through Reduce.
type State struct {
	Phase Phase

	// Gen identifies the live simulation. It changes whenever a simulation
	// starts or is unwound so late continuations can be recognised.
	Gen uint64

	SimulationID string
	StartedAt    time.Time

	// UserVolume is the last level the user asked for. Every exit path
	// restores it.
	UserVolume float64

	// Baseline is UserVolume captured when the simulation started; the ramp
	// is computed from it.
	Baseline float64

	WasPlaying bool

	// PausedBySim is set while the transport is paused by this simulation
	// and has not been resumed yet.
	PausedBySim bool

	// resumeCarry is handed from a superseded simulation to its successor so
	// a retrigger does not lose the original playing state.
	resumeCarry bool

	Offset   time.Duration
	Target   time.Duration
	RampStep int

	// RestorePending is set while a failed user-volume restore waits for its
	// retry; RestoreRetries counts retries since the last fresh restore.
	RestorePending bool
	RestoreRetries int

	Completed uint64
	Cancelled uint64
}

// Active reports whether a simulation is in flight.
func (s *State) Active() bool {
	return s.Phase != PhaseIdle
}

// Status is the externally visible part of State.
type Status struct {
	Phase        Phase   `json:"-"`
	PhaseName    string  `json:"phase"`
	Simulating   bool    `json:"simulating"`
	SimulationID string  `json:"simulation_id,omitempty"`
	UserVolume   float64 `json:"user_volume"`
	Completed    uint64  `json:"completed"`
	Cancelled    uint64  `json:"cancelled"`
}

// Status returns the externally visible view of s.
func (s *State) Status() Status {
	return Status{
		Phase:        s.Phase,
		PhaseName:    s.Phase.String(),
		Simulating:   s.Active(),
		SimulationID: s.SimulationID,
		UserVolume:   s.UserVolume,
		Completed:    s.Completed,
		Cancelled:    s.Cancelled,
	}
}
