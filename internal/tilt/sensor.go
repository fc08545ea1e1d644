package tilt

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

var (
	ErrNotSupported     = errors.New("tilt: orientation sensor not supported")
	ErrPermissionDenied = errors.New("tilt: orientation permission denied")
)

type PermissionState string

const (
	PermissionPrompt      PermissionState = "prompt"
	PermissionGranted     PermissionState = "granted"
	PermissionDenied      PermissionState = "denied"
	PermissionNotRequired PermissionState = "not-required"
	PermissionUnsupported PermissionState = "unsupported"
	PermissionError       PermissionState = "error"
)

// Usable reports whether readings can flow in this state.
func (p PermissionState) Usable() bool {
	return p == PermissionGranted || p == PermissionNotRequired
}

// Orientation is what a sensor adapter delivers.
type Orientation struct {
	Alpha    *float64
	Beta     *float64
	Gamma    *float64
	Absolute bool
}

// Sensor is the device adapter. Acquisition and the permission prompt live outside this package.
type Sensor interface {
	Readings() <-chan Orientation
	PermissionState() PermissionState
	RequestPermission(ctx context.Context) (bool, error)
}

// ManualInput is an alternate control scheme used when the sensor is unavailable.
type ManualInput interface {
	Vector() Vector
}

// Calibrator tracks the last raw reading so the user can zero the neutral position.
type Calibrator struct {
	mu   sync.Mutex
	last Reading
	cal  Calibration
}

func (c *Calibrator) Observe(r Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.Beta != nil && r.Gamma != nil {
		c.last = Reading{Beta: Degrees(*r.Beta), Gamma: Degrees(*r.Gamma)}
	}
}

// Calibrate snapshots the latest raw reading as the new zero point. It is a no-op before the first reading.
func (c *Calibrator) Calibrate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last.Beta == nil || c.last.Gamma == nil {
		return
	}
	c.cal = Calibration{BetaOffset: *c.last.Beta, GammaOffset: *c.last.Gamma}
}

func (c *Calibrator) ResetCalibration() {
	c.mu.Lock()
	c.cal = Calibration{}
	c.mu.Unlock()
}

func (c *Calibrator) Calibration() Calibration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cal
}

// Controller turns a sensor stream into the current movement vector, falling back to a manual
// source (or a zero vector) when the sensor is unsupported or denied.
type Controller struct {
	sensor    Sensor
	manual    ManualInput
	settings  Settings
	smoothing float64

	Calibrator

	mu          sync.Mutex
	sensitivity float64
	smoothed    *Vector
	beta, gamma *float64
	err         error
}

type ControllerOption func(*Controller)

// WithManualInput sets the fallback source used while the sensor is unusable.
func WithManualInput(m ManualInput) ControllerOption {
	return func(c *Controller) { c.manual = m }
}

// WithSmoothing sets the low-pass factor in (0, 1]; 1 disables smoothing.
func WithSmoothing(f float64) ControllerOption {
	return func(c *Controller) {
		if f > 0 && f <= 1 {
			c.smoothing = f
		}
	}
}

func WithSettings(s Settings) ControllerOption {
	return func(c *Controller) { c.settings = s }
}

func NewController(s Sensor, opts ...ControllerOption) *Controller {
	c := &Controller{
		sensor:      s,
		settings:    DefaultSettings(),
		smoothing:   0.3,
		sensitivity: DefaultSensitivity,
	}
	for _, o := range opts {
		o(c)
	}
	c.err = c.stateErr()
	return c
}

func (c *Controller) stateErr() error {
	if c.sensor == nil {
		return ErrNotSupported
	}
	switch c.sensor.PermissionState() {
	case PermissionUnsupported:
		return ErrNotSupported
	case PermissionDenied, PermissionError:
		return ErrPermissionDenied
	}
	return nil
}

// Start requests permission if needed and consumes readings until ctx is done or the sensor closes its channel.
func (c *Controller) Start(ctx context.Context) error {
	if c.sensor == nil {
		return ErrNotSupported
	}
	if !c.sensor.PermissionState().Usable() {
		if err := c.Retry(ctx); err != nil {
			return err
		}
	}
	go c.consume(ctx)
	return nil
}

// Retry re-requests permission after a denial.
func (c *Controller) Retry(ctx context.Context) error {
	if c.sensor == nil || c.sensor.PermissionState() == PermissionUnsupported {
		c.setErr(ErrNotSupported)
		return ErrNotSupported
	}
	ok, err := c.sensor.RequestPermission(ctx)
	if err != nil || !ok {
		c.setErr(ErrPermissionDenied)
		return ErrPermissionDenied
	}
	c.setErr(nil)
	return nil
}

func (c *Controller) consume(ctx context.Context) {
	ch := c.sensor.Readings()
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-ch:
			if !ok {
				return
			}
			c.Feed(o)
		}
	}
}

// Feed processes one orientation sample. Exposed so callers can drive the controller without a goroutine.
func (c *Controller) Feed(o Orientation) {
	r := Reading{Beta: o.Beta, Gamma: o.Gamma}
	c.Observe(r)
	v, ok := Normalize(r, c.Sensitivity(), c.Calibration(), c.settings)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !ok {
		c.smoothed = nil
		return
	}
	if c.smoothed == nil {
		c.smoothed = &v
		return
	}
	f := c.smoothing
	c.smoothed.X = c.smoothed.X*(1-f) + v.X*f
	c.smoothed.Y = c.smoothed.Y*(1-f) + v.Y*f
}

// Vector returns the current movement input, never NaN.
func (c *Controller) Vector() Vector {
	c.mu.Lock()
	err, sm := c.err, c.smoothed
	c.mu.Unlock()

	if err != nil {
		if c.manual != nil {
			return sanitize(c.manual.Vector(), c.settings.MaxSpeed)
		}
		return Vector{}
	}
	if sm == nil {
		return Vector{}
	}
	return *sm
}

func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *Controller) Sensitivity() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sensitivity
}

func (c *Controller) SetSensitivity(s float64) {
	c.mu.Lock()
	c.sensitivity = clamp(s, MinSensitivity, MaxSensitivity)
	c.mu.Unlock()
}

func sanitize(v Vector, maxSpeed float64) Vector {
	if math.IsNaN(v.X) || math.IsInf(v.X, 0) {
		v.X = 0
	}
	if math.IsNaN(v.Y) || math.IsInf(v.Y, 0) {
		v.Y = 0
	}
	v.X = clamp(v.X, -maxSpeed, maxSpeed)
	v.Y = clamp(v.Y, -maxSpeed, maxSpeed)
	return v
}

// ScriptedSensor emits a deterministic sine-wave tilt. Used by headless bots and tests.
type ScriptedSensor struct {
	Amplitude float64 // degrees
	Period    time.Duration
	Phase     float64
	Interval  time.Duration
	State     PermissionState

	once  sync.Once
	start sync.Once
	stop  sync.Once
	ch    chan Orientation
	done  chan struct{}
}

func (s *ScriptedSensor) PermissionState() PermissionState {
	if s.State == "" {
		return PermissionNotRequired
	}
	return s.State
}

func (s *ScriptedSensor) RequestPermission(context.Context) (bool, error) {
	switch s.PermissionState() {
	case PermissionUnsupported:
		return false, ErrNotSupported
	case PermissionDenied:
		return false, nil
	}
	return true, nil
}

// At returns the orientation the script produces at elapsed time d.
func (s *ScriptedSensor) At(d time.Duration) Orientation {
	period := s.Period
	if period <= 0 {
		period = 4 * time.Second
	}
	w := 2 * math.Pi * d.Seconds() / period.Seconds()
	beta := s.Amplitude * math.Sin(w+s.Phase)
	gamma := s.Amplitude * math.Cos(w+s.Phase)
	return Orientation{Beta: &beta, Gamma: &gamma}
}

// Readings lazily starts the script. The channel is closed after Stop.
func (s *ScriptedSensor) Readings() <-chan Orientation {
	s.init()
	s.start.Do(func() {
		interval := s.Interval
		if interval <= 0 {
			interval = 16 * time.Millisecond
		}
		go func() {
			defer close(s.ch)
			begin := time.Now()
			t := time.NewTicker(interval)
			defer t.Stop()
			for {
				select {
				case <-s.done:
					return
				case <-t.C:
					select {
					case s.ch <- s.At(time.Since(begin)):
					default:
					}
				}
			}
		}()
	})
	return s.ch
}

// Stop ends the script. Safe to call more than once, and before Readings.
func (s *ScriptedSensor) Stop() {
	s.init()
	s.stop.Do(func() { close(s.done) })
}

func (s *ScriptedSensor) init() {
	s.once.Do(func() {
		s.ch = make(chan Orientation, 1)
		s.done = make(chan struct{})
	})
}
