package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMarshalUnmarshal_Envelope(t *testing.T) {
	data, err := Marshal(SetVolume{Volume: 0.4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"type":"set_volume","data":{"volume":0.4}}` {
		t.Fatalf("unexpected wire form: %s", data)
	}

	data, _ = Marshal(TriggerSkip{})
	if string(data) != `{"type":"trigger_skip"}` {
		t.Fatalf("expected no data for trigger_skip, got %s", data)
	}

	req, err := Unmarshal([]byte(`{"type":"seek","data":{"position_ms":1234}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s, ok := req.(Seek); !ok || s.PositionMs != 1234 {
		t.Fatalf("expected Seek{1234}, got %#v", req)
	}
}

func TestMarshalUnmarshal_QueueCommands(t *testing.T) {
	for _, r := range []Request{TogglePlayPause{}, Next{}, Previous{}} {
		data, err := Marshal(r)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := `{"type":"` + r.Type() + `"}`
		if string(data) != want {
			t.Fatalf("expected %s, got %s", want, data)
		}
		got, err := Unmarshal(data)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != r {
			t.Fatalf("expected %#v, got %#v", r, got)
		}
	}
}

func TestUnmarshal_PartialSettings(t *testing.T) {
	req, err := Unmarshal([]byte(`{"type":"set_settings","data":{"sensitivity":18}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := req.(SetSettings)
	if s.Enabled != nil || s.HapticFeedback != nil {
		t.Fatalf("expected absent fields to stay nil, got %#v", s)
	}
	if s.Sensitivity == nil || *s.Sensitivity != 18 {
		t.Fatalf("expected sensitivity 18, got %v", s.Sensitivity)
	}
}

func TestUnmarshal_Errors(t *testing.T) {
	for _, line := range []string{
		`not json`,
		`{"data":{}}`,
		`{"type":"fly"}`,
		`{"type":"set_volume"}`,
		`{"type":"sample","data":{"x":"a"}}`,
	} {
		if _, err := Unmarshal([]byte(line)); err == nil {
			t.Fatalf("expected error for %s", line)
		}
	}
}

func startServer(t *testing.T, h Handler) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "ipc")
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	sock := filepath.Join(dir, "s.sock")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, sock, h, testLogger()) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("server did not stop")
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(sock); err == nil {
			return sock
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("socket never appeared")
	return ""
}

func TestServeAndSend(t *testing.T) {
	var mu sync.Mutex
	var got []Request
	sock := startServer(t, func(ctx context.Context, req Request) (any, error) {
		mu.Lock()
		got = append(got, req)
		mu.Unlock()
		switch req.(type) {
		case GetStatus:
			return map[string]bool{"simulating": true}, nil
		case Play:
			return nil, errors.New("nothing loaded")
		}
		return nil, nil
	})

	if _, err := Send(sock, TriggerSkip{}, time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := Send(sock, GetStatus{}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var status map[string]bool
	if err := json.Unmarshal(resp.Data, &status); err != nil || !status["simulating"] {
		t.Fatalf("expected status data, got %s (err %v)", resp.Data, err)
	}

	_, err = Send(sock, Play{}, time.Second)
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("expected 3 requests handled, got %d", len(got))
	}
	if _, ok := got[0].(TriggerSkip); !ok {
		t.Fatalf("expected TriggerSkip first, got %#v", got[0])
	}
}
