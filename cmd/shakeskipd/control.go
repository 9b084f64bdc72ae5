package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"shakeskip/internal/ipc"
	"shakeskip/internal/motion"
	"shakeskip/internal/sensor"
	"shakeskip/internal/session"
	"shakeskip/internal/settings"
	"shakeskip/internal/transport"
)

var (
	errInvalidArgument = errors.New("invalid argument")
	errBusy            = errors.New("skip controller busy")
)

// transportView is the wire form of a transport snapshot.
type transportView struct {
	MediaID       string  `json:"media_id"`
	Playing       bool    `json:"playing"`
	PositionMs    int64   `json:"position_ms"`
	DurationMs    int64   `json:"duration_ms"`
	DurationKnown bool    `json:"duration_known"`
	Volume        float64 `json:"volume"`
	QueueIndex    int     `json:"queue_index"`
	QueueLength   int     `json:"queue_length"`
}

func viewTransport(s transport.Snapshot) transportView {
	return transportView{
		MediaID:       s.MediaID,
		Playing:       s.Playing,
		PositionMs:    s.Position.Milliseconds(),
		DurationMs:    s.Duration.Milliseconds(),
		DurationKnown: s.DurationKnown,
		Volume:        s.Volume,
		QueueIndex:    s.QueueIndex,
		QueueLength:   s.QueueLength,
	}
}

// daemonStatus is returned by the status IPC request, GET /api/state and
// the state_init websocket message.
type daemonStatus struct {
	session.Status
	Transport transportView `json:"transport"`
}

// Control is the single entry point used by the IPC handler and the REST
// API. Every transport command goes through the skip controller.
type Control struct {
	sess      *session.Session
	store     settings.Store
	transport transport.Transport

	// inject is set when samples arrive only over IPC.
	inject *sensor.ChanSource

	logger *slog.Logger
}

func NewControl(sess *session.Session, store settings.Store, t transport.Transport, inject *sensor.ChanSource, logger *slog.Logger) *Control {
	if logger == nil {
		logger = slog.Default()
	}
	return &Control{sess: sess, store: store, transport: t, inject: inject, logger: logger}
}

func (c *Control) TriggerSkip() error {
	if !c.sess.Controller().Trigger() {
		return errBusy
	}
	return nil
}

func (c *Control) StopSkip(ctx context.Context) error {
	return c.sess.Controller().Cancel(ctx)
}

func (c *Control) SetVolume(ctx context.Context, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: volume must be in [0, 1]", errInvalidArgument)
	}
	return c.sess.Controller().SetUserVolume(ctx, v)
}

func (c *Control) Play(ctx context.Context) error {
	return c.sess.Controller().Play(ctx)
}

func (c *Control) Pause(ctx context.Context) error {
	return c.sess.Controller().Pause(ctx)
}

func (c *Control) TogglePlayPause(ctx context.Context) error {
	return c.sess.Controller().TogglePlayPause(ctx)
}

// Next and Previous end any running skip before moving through the queue.
func (c *Control) Next(ctx context.Context) error {
	return c.sess.Controller().Next(ctx)
}

func (c *Control) Previous(ctx context.Context) error {
	return c.sess.Controller().Previous(ctx)
}

func (c *Control) Seek(ctx context.Context, pos time.Duration) error {
	if pos < 0 {
		return fmt.Errorf("%w: position must be >= 0", errInvalidArgument)
	}
	return c.sess.Controller().Seek(ctx, pos)
}

// UpdateSettings applies the fields present in patch and stores the result.
func (c *Control) UpdateSettings(ctx context.Context, patch ipc.SetSettings) (settings.Settings, error) {
	if patch.Sensitivity != nil && math.IsNaN(*patch.Sensitivity) {
		return settings.Settings{}, fmt.Errorf("%w: sensitivity is NaN", errInvalidArgument)
	}
	return settings.Update(ctx, c.store, func(s *settings.Settings) {
		if patch.Enabled != nil {
			s.Enabled = *patch.Enabled
		}
		if patch.Sensitivity != nil {
			s.Sensitivity = *patch.Sensitivity
		}
		if patch.HapticFeedback != nil {
			s.HapticFeedback = *patch.HapticFeedback
		}
	})
}

func (c *Control) Settings(ctx context.Context) (settings.Settings, error) {
	return c.store.Load(ctx)
}

func (c *Control) ResetCount() {
	c.sess.Detector().ResetCount()
}

func (c *Control) ResetDetector() {
	c.sess.Detector().Reset()
}

// InjectSample feeds a sample to the detector, through the inject source
// when one is configured.
func (c *Control) InjectSample(s motion.Sample) error {
	if !s.Vector().Finite() {
		return fmt.Errorf("%w: sample must be finite", errInvalidArgument)
	}
	if c.inject != nil {
		if !c.inject.Push(s) {
			return errBusy
		}
		return nil
	}
	c.sess.Inject(s)
	return nil
}

func (c *Control) Status() daemonStatus {
	return daemonStatus{
		Status:    c.sess.Status(),
		Transport: viewTransport(transport.Snap(c.transport)),
	}
}

// HandleIPC dispatches one IPC request.
func (c *Control) HandleIPC(ctx context.Context, req ipc.Request) (any, error) {
	c.logger.Debug("IPC request", "type", req.Type())

	switch r := req.(type) {
	case ipc.TriggerSkip:
		return nil, c.TriggerSkip()
	case ipc.StopSkip:
		return nil, c.StopSkip(ctx)
	case ipc.SetVolume:
		return nil, c.SetVolume(ctx, r.Volume)
	case ipc.Play:
		return nil, c.Play(ctx)
	case ipc.Pause:
		return nil, c.Pause(ctx)
	case ipc.TogglePlayPause:
		return nil, c.TogglePlayPause(ctx)
	case ipc.Next:
		return nil, c.Next(ctx)
	case ipc.Previous:
		return nil, c.Previous(ctx)
	case ipc.Seek:
		return nil, c.Seek(ctx, time.Duration(r.PositionMs)*time.Millisecond)
	case ipc.SetSettings:
		return c.UpdateSettings(ctx, r)
	case ipc.SetSensitivity:
		return c.UpdateSettings(ctx, ipc.SetSettings{Sensitivity: &r.Value})
	case ipc.SetEnabled:
		return c.UpdateSettings(ctx, ipc.SetSettings{Enabled: &r.Enabled})
	case ipc.SetHaptic:
		return c.UpdateSettings(ctx, ipc.SetSettings{HapticFeedback: &r.Enabled})
	case ipc.ResetCount:
		c.ResetCount()
		return nil, nil
	case ipc.ResetDetector:
		c.ResetDetector()
		return nil, nil
	case ipc.InjectSample:
		return nil, c.InjectSample(motion.Sample{X: r.X, Y: r.Y, Z: r.Z})
	case ipc.GetStatus:
		return c.Status(), nil
	default:
		return nil, fmt.Errorf("unsupported request: %s", req.Type())
	}
}
