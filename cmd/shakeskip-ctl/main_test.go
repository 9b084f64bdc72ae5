package main

import (
	"errors"
	"testing"

	"shakeskip/internal/ipc"
)

func TestParseCommand(t *testing.T) {
	req, err := parseCommand([]string{"volume", "0.4"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, ok := req.(ipc.SetVolume); !ok || v.Volume != 0.4 {
		t.Fatalf("expected SetVolume{0.4}, got %#v", req)
	}

	req, _ = parseCommand([]string{"sample", "1", "-2.5", "9.8"})
	if s, ok := req.(ipc.InjectSample); !ok || s.X != 1 || s.Y != -2.5 || s.Z != 9.8 {
		t.Fatalf("expected InjectSample{1,-2.5,9.8}, got %#v", req)
	}

	req, _ = parseCommand([]string{"haptic", "off"})
	if h, ok := req.(ipc.SetHaptic); !ok || h.Enabled {
		t.Fatalf("expected SetHaptic{false}, got %#v", req)
	}

	req, _ = parseCommand([]string{"seek", "61000"})
	if s, ok := req.(ipc.Seek); !ok || s.PositionMs != 61000 {
		t.Fatalf("expected Seek{61000}, got %#v", req)
	}

	if req, _ := parseCommand([]string{"trigger"}); req.Type() != "trigger_skip" {
		t.Fatalf("expected trigger_skip, got %s", req.Type())
	}

	for word, want := range map[string]string{
		"toggle":   "toggle_play_pause",
		"next":     "next",
		"previous": "previous",
		"prev":     "previous",
	} {
		req, err := parseCommand([]string{word})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", word, err)
		}
		if req.Type() != want {
			t.Fatalf("expected %s for %q, got %s", want, word, req.Type())
		}
	}
}

func TestParseCommand_Errors(t *testing.T) {
	for _, args := range [][]string{
		{"fly"},
		{"volume"},
		{"sample", "1", "2"},
	} {
		if _, err := parseCommand(args); !errors.Is(err, errUsage) {
			t.Fatalf("expected usage error for %v, got %v", args, err)
		}
	}
	if _, err := parseCommand([]string{"volume", "loud"}); err == nil {
		t.Fatalf("expected error for non-numeric volume")
	}
	if _, err := parseCommand([]string{"haptic", "maybe"}); err == nil {
		t.Fatalf("expected error for bad on/off value")
	}
}
