package sensor

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"shakeskip/internal/motion"
)

func encode(t *testing.T, evs ...rawEvent) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, ev := range evs {
		if err := binary.Write(&buf, binary.LittleEndian, ev); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	return buf.Bytes()
}

func TestParseEvents_IgnoresPartialRecord(t *testing.T) {
	buf := encode(t,
		rawEvent{Sec: 1, Type: evAbs, Code: absX, Value: 10},
		rawEvent{Sec: 1, Type: evSyn, Code: synReport},
	)
	buf = append(buf, 0x01, 0x02, 0x03)

	evs := parseEvents(buf)
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Value != 10 || evs[1].Type != evSyn {
		t.Fatalf("unexpected events: %+v", evs)
	}
}

func TestFrameDecoder_EmitsPerReport(t *testing.T) {
	dec := newFrameDecoder(0.5)

	var got []motion.Sample
	for _, ev := range []rawEvent{
		{Sec: 2, Usec: 500, Type: evAbs, Code: absX, Value: 2},
		{Sec: 2, Usec: 500, Type: evAbs, Code: absY, Value: 4},
		{Sec: 2, Usec: 500, Type: evAbs, Code: absZ, Value: 20},
		{Sec: 2, Usec: 500, Type: evSyn, Code: synReport},
		// Only Z changed; X and Y keep their previous values.
		{Sec: 2, Usec: 9000, Type: evAbs, Code: absZ, Value: 40},
		{Sec: 2, Usec: 9000, Type: evSyn, Code: synReport},
		// An empty frame emits nothing.
		{Sec: 3, Type: evSyn, Code: synReport},
	} {
		if s, ok := dec.feed(ev); ok {
			got = append(got, s)
		}
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[0].X != 1 || got[0].Y != 2 || got[0].Z != 10 {
		t.Fatalf("unexpected first sample: %+v", got[0])
	}
	if !got[0].Stamped || got[0].At != 2*time.Second+500*time.Microsecond {
		t.Fatalf("expected kernel timestamp, got %v (stamped=%v)", got[0].At, got[0].Stamped)
	}
	if got[1].X != 1 || got[1].Y != 2 || got[1].Z != 20 {
		t.Fatalf("unexpected second sample: %+v", got[1])
	}
}

func TestFrameDecoder_DiscardsFrameAfterDrop(t *testing.T) {
	dec := newFrameDecoder(1)

	var got []motion.Sample
	for _, ev := range []rawEvent{
		{Sec: 1, Type: evAbs, Code: absX, Value: 3},
		{Sec: 1, Type: evSyn, Code: synDropped},
		{Sec: 1, Type: evAbs, Code: absY, Value: 7},
		{Sec: 1, Type: evSyn, Code: synReport},
		{Sec: 2, Type: evAbs, Code: absZ, Value: 9},
		{Sec: 2, Type: evSyn, Code: synReport},
	} {
		if s, ok := dec.feed(ev); ok {
			got = append(got, s)
		}
	}

	if len(got) != 1 {
		t.Fatalf("expected only the frame after the drop, got %d samples", len(got))
	}
	if got[0].Y != 0 || got[0].Z != 9 || got[0].At != 2*time.Second {
		t.Fatalf("expected Y update from the dropped frame to be discarded, got %+v", got[0])
	}
}

func TestFrameDecoder_IgnoresOtherAxes(t *testing.T) {
	dec := newFrameDecoder(1)
	if _, ok := dec.feed(rawEvent{Type: evAbs, Code: 0x28, Value: 9}); ok {
		t.Fatalf("expected no sample for an unrelated axis")
	}
	if _, ok := dec.feed(rawEvent{Type: evSyn, Code: synReport}); ok {
		t.Fatalf("expected unrelated axis not to mark the frame dirty")
	}
}

func TestChanSource_EmitsInOrder(t *testing.T) {
	src := NewChanSource(4)
	for i := 1; i <= 3; i++ {
		if !src.Push(motion.Sample{X: float64(i)}) {
			t.Fatalf("expected push %d accepted", i)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan float64, 3)
	done := make(chan error, 1)
	go func() {
		done <- src.Run(ctx, func(s motion.Sample) { got <- s.X })
	}()

	for i := 1; i <= 3; i++ {
		select {
		case x := <-got:
			if x != float64(i) {
				t.Fatalf("expected sample %d, got %v", i, x)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for sample %d", i)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected nil error on cancel, got %v", err)
	}
}

func TestChanSource_PushFull(t *testing.T) {
	src := NewChanSource(1)
	if !src.Push(motion.Sample{}) {
		t.Fatalf("expected first push accepted")
	}
	if src.Push(motion.Sample{}) {
		t.Fatalf("expected push rejected when full")
	}
}
