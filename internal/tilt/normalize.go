// Package tilt turns device orientation readings into a bounded movement vector.
package tilt

import "math"

// Reading is one raw orientation sample in degrees. Beta is front-back tilt, Gamma is left-right.
// A nil Beta or Gamma means the sensor did not deliver that axis.
type Reading struct {
	Beta  *float64
	Gamma *float64
}

// Vector is a movement vector, each component in [-MaxSpeed, MaxSpeed].
type Vector struct {
	X, Y float64
}

// Calibration is the neutral tilt captured by Calibrator.Calibrate.
type Calibration struct {
	BetaOffset  float64
	GammaOffset float64
}

type Settings struct {
	Deadzone float64 // degrees
	MaxTilt  float64 // degrees mapped to full deflection
	Exponent float64 // response curve power
	Gain     float64
	MaxSpeed float64
}

func DefaultSettings() Settings {
	return Settings{
		Deadzone: 2,
		MaxTilt:  45,
		Exponent: 1.5,
		Gain:     2,
		MaxSpeed: 1,
	}
}

const (
	MinSensitivity     = 0.1
	MaxSensitivity     = 1.0
	DefaultSensitivity = 0.4
)

// EffectiveSensitivity remaps the user-facing [0.1, 1] slider onto [0.05, 0.5].
func EffectiveSensitivity(s float64) float64 {
	if math.IsNaN(s) {
		s = DefaultSensitivity
	}
	s = clamp(s, MinSensitivity, MaxSensitivity)
	return s*0.45 + 0.05
}

// Normalize converts a reading into a movement vector. ok is false when either axis is missing,
// which callers treat as "no movement". x follows gamma, y follows beta.
func Normalize(r Reading, sensitivity float64, cal Calibration, s Settings) (v Vector, ok bool) {
	if r.Beta == nil || r.Gamma == nil {
		return Vector{}, false
	}
	eff := EffectiveSensitivity(sensitivity)
	v.X = s.axis(*r.Gamma-cal.GammaOffset, eff)
	v.Y = s.axis(*r.Beta-cal.BetaOffset, eff)
	return v, true
}

func (s Settings) axis(deg, eff float64) float64 {
	if math.IsNaN(deg) || math.IsInf(deg, 0) || math.Abs(deg) < s.Deadzone {
		return 0
	}
	maxTilt := s.MaxTilt
	if maxTilt <= 0 {
		maxTilt = 45
	}
	t := clamp(deg, -maxTilt, maxTilt) / maxTilt
	curved := math.Copysign(math.Pow(math.Abs(t), s.Exponent), t)
	return clamp(curved*eff*s.Gain, -s.MaxSpeed, s.MaxSpeed)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Degrees is a helper for building readings from literals.
func Degrees(v float64) *float64 { return &v }
