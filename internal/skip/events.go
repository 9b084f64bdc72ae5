package skip

import (
	"fmt"
	"time"
)

// ==============================
// Events
// ==============================

// Event is the input to the reducer: requests from the outside world, timer
// continuations and observations produced by executing commands.
type Event interface {
	eventMarker()
}

// Trigger starts a simulation, unwinding any simulation already in flight.
type Trigger struct {
	ID     string
	Offset time.Duration
	At     time.Time
}

// Stop cancels the in-flight simulation, if any.
type Stop struct{}

// SetUserVolume is an explicit volume change by the user.
type SetUserVolume struct {
	Level float64
}

// UserPlay, UserPause, UserToggle, UserSeek, UserNext and UserPrevious are
// user transport commands. They unwind any simulation before being applied.
type UserPlay struct{}
type UserPause struct{}
type UserToggle struct{}
type UserSeek struct {
	Position time.Duration
}
type UserNext struct{}
type UserPrevious struct{}

// Shutdown unwinds the in-flight simulation before the controller exits.
type Shutdown struct{}

// TransportObserved carries the transport state read at the start of a simulation.
type TransportObserved struct {
	Gen           uint64
	Playing       bool
	Position      time.Duration
	Duration      time.Duration
	DurationKnown bool
}

// StepDue is posted when a scheduled delay for Phase elapses.
type StepDue struct {
	Gen   uint64
	Phase Phase
}

// Seeked confirms a simulation seek.
type Seeked struct {
	Gen uint64
}

// RestoreDue is posted when a failed user-volume restore should be retried.
type RestoreDue struct{}

// CommandFailed is emitted when executing a Command fails.
type CommandFailed struct {
	Command Command
	Err     error
	At      time.Time
}

func (Trigger) eventMarker()           {}
func (Stop) eventMarker()              {}
func (SetUserVolume) eventMarker()     {}
func (UserPlay) eventMarker()          {}
func (UserPause) eventMarker()         {}
func (UserToggle) eventMarker()        {}
func (UserSeek) eventMarker()          {}
func (UserNext) eventMarker()          {}
func (UserPrevious) eventMarker()      {}
func (Shutdown) eventMarker()          {}
func (TransportObserved) eventMarker() {}
func (StepDue) eventMarker()           {}
func (Seeked) eventMarker()            {}
func (RestoreDue) eventMarker()        {}
func (CommandFailed) eventMarker()     {}

// ==============================
// Commands (side effects)
// ==============================

// Command is a side effect against the transport or the controller timer.
type Command interface {
	commandMarker()
	String() string
}

// CmdObserve reads playing state, position and duration.
type CmdObserve struct {
	Gen uint64
}

type CmdPlay struct{}

type CmdPause struct{}

// CmdToggle pauses a playing transport and plays a paused one.
type CmdToggle struct{}

// CmdNext and CmdPrevious move through the transport's play queue.
type CmdNext struct{}
type CmdPrevious struct{}

// CmdSeek seeks the transport. Gen is zero for user seeks.
type CmdSeek struct {
	Gen      uint64
	Position time.Duration
}

// CmdSetVolume sets the transport volume. Restore marks a write of the user
// volume that must land; failures are retried.
type CmdSetVolume struct {
	Level   float64
	Restore bool
}

// CmdSchedule arms the controller timer, replacing any pending one.
type CmdSchedule struct {
	Gen   uint64
	Phase Phase
	After time.Duration
}

// CmdCancelSchedule disarms the controller timer.
type CmdCancelSchedule struct{}

// CmdScheduleRestore arms the restore retry timer.
type CmdScheduleRestore struct {
	After time.Duration
}

func (CmdObserve) commandMarker()         {}
func (CmdPlay) commandMarker()            {}
func (CmdPause) commandMarker()           {}
func (CmdToggle) commandMarker()          {}
func (CmdNext) commandMarker()            {}
func (CmdPrevious) commandMarker()        {}
func (CmdSeek) commandMarker()            {}
func (CmdSetVolume) commandMarker()       {}
func (CmdSchedule) commandMarker()        {}
func (CmdCancelSchedule) commandMarker()  {}
func (CmdScheduleRestore) commandMarker() {}

func (c CmdObserve) String() string { return fmt.Sprintf("CmdObserve(gen=%d)", c.Gen) }
func (CmdPlay) String() string      { return "CmdPlay()" }
func (CmdPause) String() string     { return "CmdPause()" }
func (CmdToggle) String() string    { return "CmdToggle()" }
func (CmdNext) String() string      { return "CmdNext()" }
func (CmdPrevious) String() string  { return "CmdPrevious()" }
func (c CmdSeek) String() string {
	return fmt.Sprintf("CmdSeek(gen=%d, position_ms=%d)", c.Gen, c.Position.Milliseconds())
}
func (c CmdSetVolume) String() string {
	return fmt.Sprintf("CmdSetVolume(level=%.3f, restore=%t)", c.Level, c.Restore)
}
func (c CmdSchedule) String() string {
	return fmt.Sprintf("CmdSchedule(gen=%d, phase=%s, after=%v)", c.Gen, c.Phase, c.After)
}
func (CmdCancelSchedule) String() string { return "CmdCancelSchedule()" }
func (c CmdScheduleRestore) String() string {
	return fmt.Sprintf("CmdScheduleRestore(after=%v)", c.After)
}

// ==============================
// Broadcasts
// ==============================

// Broadcast is a state change published to observers.
type Broadcast interface {
	broadcastMarker()
}

// BroadcastPhaseChanged is emitted on every phase transition of a simulation.
type BroadcastPhaseChanged struct {
	SimulationID string
	Phase        Phase
	At           time.Time
}

// BroadcastSimulationEnded is emitted once per simulation.
type BroadcastSimulationEnded struct {
	SimulationID string
	Outcome      Outcome
	At           time.Time
}

// BroadcastUserVolumeChanged is emitted when the user volume changes.
type BroadcastUserVolumeChanged struct {
	Level float64
	At    time.Time
}

func (BroadcastPhaseChanged) broadcastMarker()      {}
func (BroadcastSimulationEnded) broadcastMarker()   {}
func (BroadcastUserVolumeChanged) broadcastMarker() {}
