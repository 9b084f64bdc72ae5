// Package motion separates gravity from linear acceleration in raw
// accelerometer samples.
package motion

import (
	"math"
	"time"
)

// Alpha is the smoothing factor of the gravity low-pass filter.
const Alpha = 0.8

// Vector is a three-axis quantity in m/s².
type Vector [3]float64

// Magnitude returns the Euclidean norm of v.
func (v Vector) Magnitude() float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// Finite reports whether every component is a finite number.
func (v Vector) Finite() bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Sample is one accelerometer reading.
//
// At is a monotonic timestamp relative to an arbitrary origin chosen by the
// source and is meaningful only when Stamped is set. Unstamped samples are
// timed by the consumer's own clock.
type Sample struct {
	X       float64       `json:"x"`
	Y       float64       `json:"y"`
	Z       float64       `json:"z"`
	At      time.Duration `json:"-"`
	Stamped bool          `json:"-"`
}

// Vector returns the sample as a Vector.
func (s Sample) Vector() Vector {
	return Vector{s.X, s.Y, s.Z}
}

// Filter is a first-order recursive low-pass filter that tracks gravity.
// The zero value is ready to use. A Filter is not safe for concurrent use.
type Filter struct {
	Gravity Vector
	Linear  Vector
}

// Apply folds s into the gravity estimate and returns the magnitude of the
// resulting linear acceleration.
//
// A sample with a NaN or infinite component leaves the filter untouched and
// Apply returns (0, false).
func (f *Filter) Apply(s Sample) (float64, bool) {
	in := s.Vector()
	if !in.Finite() {
		return 0, false
	}
	for i := range in {
		f.Gravity[i] = Alpha*f.Gravity[i] + (1-Alpha)*in[i]
		f.Linear[i] = in[i] - f.Gravity[i]
	}
	return f.Linear.Magnitude(), true
}

// Reset zeroes both gravity and linear acceleration.
func (f *Filter) Reset() {
	f.Gravity = Vector{}
	f.Linear = Vector{}
}
