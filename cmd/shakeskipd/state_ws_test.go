package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"shakeskip/internal/session"
	"shakeskip/internal/shake"
	"shakeskip/internal/skip"
	"shakeskip/internal/transport"
)

// Hub tests use clients with nil connections; nothing here writes to them.

func startHub(t *testing.T, cfg HubConfig) *Hub {
	t.Helper()
	hub := NewHub(testLogger(), cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Errorf("hub did not stop")
		}
	})
	return hub
}

func fakeClient(hub *Hub, name string, buf int) *Client {
	return &Client{hub: hub, send: make(chan []byte, buf), remoteAddr: name, logger: testLogger()}
}

func registered(hub *Hub, c *Client) func() bool {
	return func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}
}

func recv(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for frame")
		return nil
	}
}

func TestHub_FansOutToAllClients(t *testing.T) {
	hub := startHub(t, HubConfig{ClientBuf: 4, BroadcastBuf: 8})

	a := fakeClient(hub, "a", 4)
	b := fakeClient(hub, "b", 4)
	hub.register <- a
	hub.register <- b
	waitUntil(t, 500*time.Millisecond, registered(hub, a), "client a not registered")
	waitUntil(t, 500*time.Millisecond, registered(hub, b), "client b not registered")

	frame := []byte(`{"type":"shake_detected"}`)
	hub.broadcast <- frame

	if got := recv(t, a.send); string(got) != string(frame) {
		t.Fatalf("client a got %q, want %q", got, frame)
	}
	if got := recv(t, b.send); string(got) != string(frame) {
		t.Fatalf("client b got %q, want %q", got, frame)
	}
	if n := hub.ClientCount(); n != 2 {
		t.Fatalf("expected 2 clients, got %d", n)
	}
}

func TestHub_EvictsSlowClient(t *testing.T) {
	hub := startHub(t, HubConfig{ClientBuf: 1, BroadcastBuf: 8})

	slow := fakeClient(hub, "slow", 1)
	fast := fakeClient(hub, "fast", 8)
	hub.register <- slow
	hub.register <- fast
	waitUntil(t, 500*time.Millisecond, registered(hub, slow), "slow client not registered")
	waitUntil(t, 500*time.Millisecond, registered(hub, fast), "fast client not registered")

	slow.send <- []byte(`"stuck"`)
	frame := []byte(`{"type":"transport_changed"}`)
	hub.broadcast <- frame

	if got := recv(t, fast.send); string(got) != string(frame) {
		t.Fatalf("fast client got %q, want %q", got, frame)
	}

	<-slow.send
	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "slow client send channel not closed")
	if n := hub.ClientCount(); n != 1 {
		t.Fatalf("expected 1 client left, got %d", n)
	}
}

func decodeFrame(t *testing.T, b []byte) (string, json.RawMessage) {
	t.Helper()
	var env struct {
		Type string          `json:"type"`
		Ts   *time.Time      `json:"ts"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("bad frame %s: %v", b, err)
	}
	if env.Ts == nil {
		t.Fatalf("expected ts in frame %s", b)
	}
	return env.Type, env.Data
}

func TestBroadcaster_CoalescesTransportAndKeepsOrder(t *testing.T) {
	hub := startHub(t, HubConfig{ClientBuf: 16, BroadcastBuf: 16})
	c := fakeClient(hub, "c", 16)
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, registered(hub, c), "client not registered")

	skipCh := make(chan skip.Broadcast, 4)
	notices := make(chan session.Notice, 4)
	snaps := make(chan transport.Snapshot, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		RunBroadcaster(ctx, hub, stateSources{Skip: skipCh, Notices: notices, Transport: snaps}, time.Hour, testLogger())
	}()

	for i := 1; i <= 3; i++ {
		snaps <- transport.Snapshot{MediaID: "t", Position: time.Duration(i) * time.Second}
	}
	// Give the broadcaster time to take all three snapshots before the notice.
	time.Sleep(20 * time.Millisecond)
	notices <- session.Notice{Kind: session.NoticeShake, Shake: shake.Event{Magnitude: 18, Count: 1}}

	typ, data := decodeFrame(t, recv(t, c.send))
	if typ != "transport_changed" {
		t.Fatalf("expected transport_changed first, got %s", typ)
	}
	var tv transportView
	_ = json.Unmarshal(data, &tv)
	if tv.PositionMs != 3000 {
		t.Fatalf("expected latest snapshot (3000ms), got %d", tv.PositionMs)
	}

	typ, data = decodeFrame(t, recv(t, c.send))
	if typ != "shake_detected" || !strings.Contains(string(data), `"count":1`) {
		t.Fatalf("expected shake_detected, got %s %s", typ, data)
	}

	skipCh <- skip.BroadcastSimulationEnded{SimulationID: "sim-1", Outcome: skip.OutcomeCompleted}
	typ, data = decodeFrame(t, recv(t, c.send))
	if typ != "simulation_changed" || !strings.Contains(string(data), `"outcome":"completed"`) {
		t.Fatalf("expected simulation_changed with outcome, got %s %s", typ, data)
	}

	close(skipCh)
	close(notices)
	close(snaps)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("broadcaster did not stop after sources closed")
	}
}

func TestBroadcaster_FlushesAfterWindow(t *testing.T) {
	hub := startHub(t, HubConfig{})
	c := fakeClient(hub, "c", 16)
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, registered(hub, c), "client not registered")

	snaps := make(chan transport.Snapshot, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go RunBroadcaster(ctx, hub, stateSources{Transport: snaps}, 20*time.Millisecond, testLogger())

	snaps <- transport.Snapshot{Playing: true, Volume: 0.5}
	typ, data := decodeFrame(t, recv(t, c.send))
	if typ != "transport_changed" || !strings.Contains(string(data), `"volume":0.5`) {
		t.Fatalf("expected transport_changed, got %s %s", typ, data)
	}
}

func TestStateServer_SendsStateInit(t *testing.T) {
	d := newTestDaemon(t, false)

	srv := NewStateServer(testLogger(), d.ctl.Status, HubConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Hub().Run(ctx)

	mux := http.NewServeMux()
	srv.Register(mux, "/ws/state")
	ts := httptest.NewServer(mux)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/state"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	typ, data := decodeFrame(t, msg)
	if typ != "state_init" {
		t.Fatalf("expected state_init, got %s", typ)
	}
	if !strings.Contains(string(data), `"media_id":"track-1"`) || !strings.Contains(string(data), `"phase":"idle"`) {
		t.Fatalf("unexpected state_init payload: %s", data)
	}

	waitUntil(t, time.Second, func() bool { return srv.Hub().ClientCount() == 1 }, "client not registered")
	frame, _ := marshalEnvelope("haptic_pulse", time.Time{}, wsHapticData{DurationMs: 50})
	srv.Hub().Publish(frame)

	_, msg, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ, _ := decodeFrame(t, msg); typ != "haptic_pulse" {
		t.Fatalf("expected haptic_pulse, got %s", typ)
	}
}
