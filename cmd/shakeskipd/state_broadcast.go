package main

import (
	"context"
	"log/slog"
	"time"

	"shakeskip/internal/session"
	"shakeskip/internal/shake"
	"shakeskip/internal/skip"
	"shakeskip/internal/transport"
)

// Payloads of the state websocket messages.

type wsShakeData struct {
	Magnitude float64 `json:"magnitude"`
	Count     uint64  `json:"count"`
}

type wsHapticData struct {
	DurationMs int64 `json:"duration_ms"`
}

type wsSimulationData struct {
	SimulationID string `json:"simulation_id"`
	Phase        string `json:"phase"`
	Outcome      string `json:"outcome,omitempty"`
}

type wsUserVolumeData struct {
	Volume float64 `json:"volume"`
}

// wsEvent is a typed message ready to be wrapped in an envelope.
type wsEvent struct {
	Type string
	Data any
	At   time.Time
}

func convertSkip(b skip.Broadcast) (wsEvent, bool) {
	switch ev := b.(type) {
	case skip.BroadcastPhaseChanged:
		return wsEvent{
			Type: "simulation_changed",
			Data: wsSimulationData{SimulationID: ev.SimulationID, Phase: ev.Phase.String()},
			At:   ev.At,
		}, true
	case skip.BroadcastSimulationEnded:
		return wsEvent{
			Type: "simulation_changed",
			Data: wsSimulationData{SimulationID: ev.SimulationID, Phase: skip.PhaseIdle.String(), Outcome: string(ev.Outcome)},
			At:   ev.At,
		}, true
	case skip.BroadcastUserVolumeChanged:
		return wsEvent{Type: "user_volume_changed", Data: wsUserVolumeData{Volume: ev.Level}, At: ev.At}, true
	default:
		return wsEvent{}, false
	}
}

func convertNotice(n session.Notice) (wsEvent, bool) {
	switch n.Kind {
	case session.NoticeShake:
		return wsEvent{Type: string(n.Kind), Data: wsShakeData{Magnitude: n.Shake.Magnitude, Count: n.Shake.Count}, At: n.At}, true
	case session.NoticeHaptic:
		return wsEvent{Type: string(n.Kind), Data: wsHapticData{DurationMs: shake.HapticPulse.Milliseconds()}, At: n.At}, true
	case session.NoticeSettings:
		return wsEvent{Type: string(n.Kind), Data: n.Settings, At: n.At}, true
	default:
		return wsEvent{}, false
	}
}

// stateSources are the streams merged onto the state websocket. Any of them
// may be nil.
type stateSources struct {
	Skip      <-chan skip.Broadcast
	Notices   <-chan session.Notice
	Transport <-chan transport.Snapshot
}

// RunBroadcaster publishes every source event to hub. transport_changed is
// rate limited: the latest snapshot is sent at most once per window while
// updates keep arriving. Any other event flushes a pending snapshot first so
// ordering is preserved. It returns when ctx is canceled or every source is
// closed.
func RunBroadcaster(ctx context.Context, hub *Hub, src stateSources, window time.Duration, logger *slog.Logger) {
	var pending *wsEvent
	var timer *time.Timer
	var timerC <-chan time.Time

	emit := func(ev wsEvent) {
		frame, err := marshalEnvelope(ev.Type, ev.At, ev.Data)
		if err != nil {
			logger.Warn("state broadcaster marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.Publish(frame)
	}
	flush := func() {
		if pending != nil {
			emit(*pending)
			pending = nil
		}
	}
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		if src.Skip == nil && src.Notices == nil && src.Transport == nil {
			flush()
			stopTimer()
			return
		}

		select {
		case <-ctx.Done():
			flush()
			stopTimer()
			return

		case <-timerC:
			timer, timerC = nil, nil
			if pending != nil {
				flush()
				// Keep the window open so a burst still flushes at most once per window.
				timer = time.NewTimer(window)
				timerC = timer.C
			}

		case b, ok := <-src.Skip:
			if !ok {
				src.Skip = nil
				continue
			}
			if ev, ok := convertSkip(b); ok {
				flush()
				emit(ev)
			}

		case n, ok := <-src.Notices:
			if !ok {
				src.Notices = nil
				continue
			}
			if ev, ok := convertNotice(n); ok {
				flush()
				emit(ev)
			}

		case snap, ok := <-src.Transport:
			if !ok {
				src.Transport = nil
				continue
			}
			ev := wsEvent{Type: "transport_changed", Data: viewTransport(snap), At: time.Now()}
			if window <= 0 {
				emit(ev)
				continue
			}
			pending = &ev
			if timer == nil {
				timer = time.NewTimer(window)
				timerC = timer.C
			}
		}
	}
}
