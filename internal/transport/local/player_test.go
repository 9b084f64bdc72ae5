package local

import (
	"errors"
	"testing"

	"shakeskip/internal/transport"
)

func TestGainFor(t *testing.T) {
	if _, silent := gainFor(0); !silent {
		t.Fatalf("expected level 0 to be silent")
	}
	if v, silent := gainFor(1); silent || v != 0 {
		t.Fatalf("expected unity gain for level 1, got volume=%v silent=%v", v, silent)
	}
	if v, _ := gainFor(0.5); v != -1 {
		t.Fatalf("expected -1 for half amplitude, got %v", v)
	}
}

func TestDecode_UnsupportedExtension(t *testing.T) {
	if _, _, err := Decode("/tmp/song.ogg"); err == nil {
		t.Fatalf("expected error for unsupported extension")
	}
}

func TestDecode_MissingFile(t *testing.T) {
	if _, _, err := Decode("/nonexistent/song.flac"); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}

// These paths return before the speaker is touched.
func TestPlayer_RequiresMedia(t *testing.T) {
	p := &Player{}
	if err := p.Load(nil, 0); !errors.Is(err, transport.ErrNoMedia) {
		t.Fatalf("expected ErrNoMedia for an empty queue, got %v", err)
	}
	if err := p.Next(); !errors.Is(err, transport.ErrNoMedia) {
		t.Fatalf("expected ErrNoMedia for next without media, got %v", err)
	}
	if id := p.MediaID(); id != "" {
		t.Fatalf("expected no media id, got %q", id)
	}
}
