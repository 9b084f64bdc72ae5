package camilladsp

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDSP answers the subset of the CamillaDSP protocol the client uses.
type fakeDSP struct {
	mu     sync.Mutex
	volume float64
	mute   bool
	failOn string
	seen   []string
}

func (f *fakeDSP) handle(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			resp := f.answer(msg)
			if err := conn.WriteMessage(websocket.TextMessage, resp); err != nil {
				return
			}
		}
	}
}

func (f *fakeDSP) answer(msg []byte) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	var name string
	var arg json.RawMessage
	if err := json.Unmarshal(msg, &name); err != nil {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(msg, &obj); err != nil || len(obj) != 1 {
			return []byte(`{"Invalid":{"result":"Error"}}`)
		}
		for k, v := range obj {
			name, arg = k, v
		}
	}
	f.seen = append(f.seen, name)

	result := "Ok"
	if name == f.failOn {
		result = "Error"
	}
	var value any
	switch name {
	case "SetVolume":
		_ = json.Unmarshal(arg, &f.volume)
	case "SetMute":
		_ = json.Unmarshal(arg, &f.mute)
	case "GetVolume":
		value = f.volume
	case "GetMute":
		value = f.mute
	case "GetState":
		value = "Running"
	}
	out := map[string]any{"result": result}
	if value != nil {
		out["value"] = value
	}
	b, _ := json.Marshal(map[string]any{name: out})
	return b
}

func newTestClient(t *testing.T, f *fakeDSP) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handle(t))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.ConnectAttempts = 1
	c, err := NewClient(cfg, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_VolumeRoundTrip(t *testing.T) {
	f := &fakeDSP{}
	c := newTestClient(t, f)

	if err := c.SetVolume(-12.5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := c.GetVolume()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != -12.5 {
		t.Fatalf("expected -12.5 dB, got %v", got)
	}
}

func TestClient_MuteAndState(t *testing.T) {
	f := &fakeDSP{}
	c := newTestClient(t, f)

	if err := c.SetMute(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	muted, err := c.GetMute()
	if err != nil || !muted {
		t.Fatalf("expected muted, got %v (err %v)", muted, err)
	}
	state, err := c.GetState()
	if err != nil || state != "Running" {
		t.Fatalf("expected Running, got %q (err %v)", state, err)
	}
}

func TestClient_ErrorResult(t *testing.T) {
	f := &fakeDSP{failOn: "SetVolume"}
	c := newTestClient(t, f)

	err := c.SetVolume(-3)
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("expected ErrCommandFailed, got %v", err)
	}
}

func TestClient_ReconnectsAfterClose(t *testing.T) {
	f := &fakeDSP{}
	c := newTestClient(t, f)

	_ = c.Close()
	if err := c.SetVolume(-6); err != nil {
		t.Fatalf("expected reconnect on next call, got %v", err)
	}
}

func TestNewClient_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "ws://127.0.0.1:1"
	cfg.ConnectAttempts = 2
	cfg.RetryDelay = time.Millisecond

	_, err := NewClient(cfg, testLogger())
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

type fakeFader struct {
	calls []string
	db    float64
}

func (f *fakeFader) SetVolume(db float64) error {
	f.db = db
	f.calls = append(f.calls, "volume")
	return nil
}

func (f *fakeFader) SetMute(mute bool) error {
	if mute {
		f.calls = append(f.calls, "mute")
	} else {
		f.calls = append(f.calls, "unmute")
	}
	return nil
}

func TestLevelToDB(t *testing.T) {
	if got := LevelToDB(0, -60, 0); got != -60 {
		t.Fatalf("expected -60, got %v", got)
	}
	if got := LevelToDB(1, -60, 0); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	mid := LevelToDB(0.5, -60, 0)
	// log10(5.5) ≈ 0.7404
	if math.Abs(mid-(-60+60*math.Log10(5.5))) > 1e-9 {
		t.Fatalf("unexpected mid level %v", mid)
	}
	if LevelToDB(0.3, -60, 0) >= LevelToDB(0.6, -60, 0) {
		t.Fatalf("expected monotonic mapping")
	}
}

func TestVolumeOutput_MuteAtZero(t *testing.T) {
	f := &fakeFader{}
	out, err := NewVolumeOutput(f, -60, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_ = out.SetLevel(0)
	_ = out.SetLevel(0)
	_ = out.SetLevel(0.8)
	_ = out.SetLevel(1)

	got := strings.Join(f.calls, ",")
	want := "mute,volume,unmute,volume"
	if got != want {
		t.Fatalf("expected calls %s, got %s", want, got)
	}
	if f.db != 0 {
		t.Fatalf("expected 0 dB at full level, got %v", f.db)
	}

	if _, err := NewVolumeOutput(f, 0, -10); err == nil {
		t.Fatalf("expected error for inverted range")
	}
}
