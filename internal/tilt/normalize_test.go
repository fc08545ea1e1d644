package tilt

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func TestNormalizeNilAxis(t *testing.T) {
	s := DefaultSettings()
	if _, ok := Normalize(Reading{Beta: Degrees(10)}, 0.5, Calibration{}, s); ok {
		t.Fatalf("expected no movement with nil gamma")
	}
	if _, ok := Normalize(Reading{Gamma: Degrees(10)}, 0.5, Calibration{}, s); ok {
		t.Fatalf("expected no movement with nil beta")
	}
}

func TestNormalizeBounded(t *testing.T) {
	s := DefaultSettings()
	for beta := -180.0; beta <= 180; beta += 7.5 {
		for gamma := -180.0; gamma <= 180; gamma += 7.5 {
			for sens := 0.1; sens <= 1.0001; sens += 0.15 {
				v, ok := Normalize(Reading{Beta: Degrees(beta), Gamma: Degrees(gamma)}, sens, Calibration{}, s)
				if !ok {
					t.Fatalf("unexpected nil result")
				}
				if math.Abs(v.X) > s.MaxSpeed || math.Abs(v.Y) > s.MaxSpeed {
					t.Fatalf("out of bounds for beta=%f gamma=%f sens=%f: %+v", beta, gamma, sens, v)
				}
			}
		}
	}
}

func TestNormalizeDeadzone(t *testing.T) {
	s := DefaultSettings()
	cal := Calibration{BetaOffset: 10, GammaOffset: -5}
	v, ok := Normalize(Reading{Beta: Degrees(11.5), Gamma: Degrees(-6.9)}, 1, cal, s)
	if !ok {
		t.Fatalf("expected a result")
	}
	if v != (Vector{}) {
		t.Fatalf("expected zero vector inside deadzone, got %+v", v)
	}

	v, _ = Normalize(Reading{Beta: Degrees(10), Gamma: Degrees(5)}, 1, cal, s)
	if v.Y != 0 || v.X <= 0 {
		t.Fatalf("expected only x movement, got %+v", v)
	}
}

func TestNormalizeCurveFavoursLargeTilts(t *testing.T) {
	s := DefaultSettings()
	small, _ := Normalize(Reading{Beta: Degrees(0), Gamma: Degrees(10)}, 1, Calibration{}, s)
	large, _ := Normalize(Reading{Beta: Degrees(0), Gamma: Degrees(40)}, 1, Calibration{}, s)
	// Linear response would give a ratio of exactly 4.
	if ratio := large.X / small.X; ratio <= 4 {
		t.Fatalf("expected super-linear response, ratio=%f", ratio)
	}
	neg, _ := Normalize(Reading{Beta: Degrees(0), Gamma: Degrees(-40)}, 1, Calibration{}, s)
	if neg.X != -large.X {
		t.Fatalf("response should be symmetric: %f vs %f", neg.X, large.X)
	}
}

func TestEffectiveSensitivityRange(t *testing.T) {
	if got := EffectiveSensitivity(0.1); math.Abs(got-0.095) > 1e-9 {
		t.Fatalf("EffectiveSensitivity(0.1) = %f", got)
	}
	if got := EffectiveSensitivity(1); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("EffectiveSensitivity(1) = %f", got)
	}
	if got := EffectiveSensitivity(5); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("sensitivity above range should clamp, got %f", got)
	}
}

func TestCalibrator(t *testing.T) {
	var c Calibrator
	c.Calibrate()
	if c.Calibration() != (Calibration{}) {
		t.Fatalf("calibrate before any reading should be a no-op")
	}
	c.Observe(Reading{Beta: Degrees(12), Gamma: Degrees(-3)})
	c.Calibrate()
	if got := c.Calibration(); got.BetaOffset != 12 || got.GammaOffset != -3 {
		t.Fatalf("unexpected calibration %+v", got)
	}
	c.ResetCalibration()
	if c.Calibration() != (Calibration{}) {
		t.Fatalf("reset should zero offsets")
	}
}

type stubSensor struct {
	state  PermissionState
	grant  bool
	asked  int
	stream chan Orientation
}

func (s *stubSensor) Readings() <-chan Orientation   { return s.stream }
func (s *stubSensor) PermissionState() PermissionState { return s.state }
func (s *stubSensor) RequestPermission(context.Context) (bool, error) {
	s.asked++
	if s.grant {
		s.state = PermissionGranted
	}
	return s.grant, nil
}

type fixedInput Vector

func (f fixedInput) Vector() Vector { return Vector(f) }

func TestControllerFallbacks(t *testing.T) {
	c := NewController(&stubSensor{state: PermissionUnsupported})
	if !errors.Is(c.Err(), ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", c.Err())
	}
	if c.Vector() != (Vector{}) {
		t.Fatalf("expected zero vector without manual fallback")
	}

	c = NewController(&stubSensor{state: PermissionDenied}, WithManualInput(fixedInput{X: 0.5, Y: 7}))
	if !errors.Is(c.Err(), ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", c.Err())
	}
	if got := c.Vector(); got.X != 0.5 || got.Y != 1 {
		t.Fatalf("expected clamped manual vector, got %+v", got)
	}
}

func TestControllerRetryAfterDenial(t *testing.T) {
	s := &stubSensor{state: PermissionDenied}
	c := NewController(s)
	if err := c.Retry(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected denial, got %v", err)
	}
	s.grant = true
	if err := c.Retry(context.Background()); err != nil {
		t.Fatalf("retry should succeed once granted: %v", err)
	}
	if c.Err() != nil {
		t.Fatalf("error should clear after grant")
	}
	if s.asked != 2 {
		t.Fatalf("expected 2 permission requests, got %d", s.asked)
	}
}

func TestControllerFeedSmooths(t *testing.T) {
	c := NewController(&stubSensor{state: PermissionGranted}, WithSmoothing(0.5))
	c.SetSensitivity(1)
	c.Feed(Orientation{Beta: Degrees(0), Gamma: Degrees(45)})
	first := c.Vector()
	if first.X <= 0 {
		t.Fatalf("expected positive x after first sample, got %+v", first)
	}
	c.Feed(Orientation{Beta: Degrees(0), Gamma: Degrees(0)})
	if got := c.Vector(); math.Abs(got.X-first.X/2) > 1e-9 {
		t.Fatalf("expected half-way smoothing, got %f want %f", got.X, first.X/2)
	}
	c.Feed(Orientation{})
	if c.Vector() != (Vector{}) {
		t.Fatalf("missing axes should stop movement")
	}
}

func TestScriptedSensorDeterministic(t *testing.T) {
	s := &ScriptedSensor{Amplitude: 30}
	a := s.At(1500000000)
	b := s.At(1500000000)
	if *a.Beta != *b.Beta || *a.Gamma != *b.Gamma {
		t.Fatalf("script must be deterministic")
	}
	if !s.PermissionState().Usable() {
		t.Fatalf("scripted sensor should not need permission by default")
	}
}

func TestScriptedSensorStopClosesReadings(t *testing.T) {
	s := &ScriptedSensor{Amplitude: 10, Interval: time.Millisecond}
	ch := s.Readings()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("no reading before stop")
	}
	s.Stop()
	s.Stop()
	drainUntilClosed(t, ch)
}

func TestScriptedSensorStopBeforeReadings(t *testing.T) {
	s := &ScriptedSensor{Interval: time.Millisecond}
	s.Stop()
	drainUntilClosed(t, s.Readings())
}

func TestControllerEndsWhenScriptStops(t *testing.T) {
	s := &ScriptedSensor{Amplitude: 20, Interval: time.Millisecond}
	c := NewController(s)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Stop()
	drainUntilClosed(t, s.Readings())
}

func drainUntilClosed(t *testing.T, ch <-chan Orientation) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("readings channel still open after Stop")
		}
	}
}
