package motion

import (
	"math"
	"testing"
)

func TestFilter_GravityConvergesUnderSteadyInput(t *testing.T) {
	var f Filter
	in := Sample{X: 0.3, Y: -0.2, Z: 9.81}

	var mag float64
	for i := 0; i < 200; i++ {
		var ok bool
		mag, ok = f.Apply(in)
		if !ok {
			t.Fatalf("expected finite sample to be accepted at i=%d", i)
		}
	}

	want := in.Vector()
	for i := range want {
		if math.Abs(f.Gravity[i]-want[i]) > 1e-9 {
			t.Fatalf("expected gravity[%d]=%v, got %v", i, want[i], f.Gravity[i])
		}
	}
	if mag > 1e-9 {
		t.Fatalf("expected linear magnitude ~0 after convergence, got %v", mag)
	}
}

func TestFilter_FirstSampleSplit(t *testing.T) {
	var f Filter

	mag, ok := f.Apply(Sample{X: 25})
	if !ok {
		t.Fatalf("expected sample to be accepted")
	}
	// gravity = 0.2*25 = 5, linear = 25-5 = 20
	if math.Abs(f.Gravity[0]-5) > 1e-12 {
		t.Fatalf("expected gravity x=5, got %v", f.Gravity[0])
	}
	if math.Abs(mag-20) > 1e-12 {
		t.Fatalf("expected magnitude 20, got %v", mag)
	}
}

func TestFilter_NonFiniteSampleIgnored(t *testing.T) {
	var f Filter
	f.Apply(Sample{X: 1, Y: 2, Z: 3})
	before := f

	for _, s := range []Sample{
		{X: math.NaN(), Y: 1, Z: 1},
		{X: 1, Y: math.Inf(1), Z: 1},
		{X: 1, Y: 1, Z: math.Inf(-1)},
	} {
		mag, ok := f.Apply(s)
		if ok {
			t.Fatalf("expected non-finite sample %+v to be rejected", s)
		}
		if mag != 0 {
			t.Fatalf("expected magnitude 0 for rejected sample, got %v", mag)
		}
		if f != before {
			t.Fatalf("expected filter state unchanged, got %+v want %+v", f, before)
		}
	}
}

func TestFilter_Reset(t *testing.T) {
	var f Filter
	f.Apply(Sample{X: 4, Y: 5, Z: 6})
	f.Reset()

	if f.Gravity != (Vector{}) || f.Linear != (Vector{}) {
		t.Fatalf("expected zeroed filter after reset, got %+v", f)
	}
}
