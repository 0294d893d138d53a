// Package pid implements a sampled-time PID controller with a background tick loop.
package pid

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"
)

var (
	ErrInvalidSampleTime = errors.New("pid: sample time must be positive")
	ErrInvalidLimits     = errors.New("pid: output minimum must be below maximum")
	ErrAutomaticInput    = errors.New("pid: input is read automatically")
	ErrAutomaticOutput   = errors.New("pid: output is computed automatically")
	ErrUnknownMode       = errors.New("pid: unknown mode")
)

// Mode selects which steps of a tick run automatically.
type Mode uint8

const (
	AutoRead    Mode = 1 << iota // Pull the input from IO
	AutoCompute                  // Recompute the output
	AutoWrite                    // Push changed outputs to IO

	Manual    Mode = 0
	Automatic      = AutoRead | AutoCompute | AutoWrite
)

type modeName struct {
	bit  Mode
	name string
}

var modeNames = []modeName{{AutoRead, "read"}, {AutoCompute, "compute"}, {AutoWrite, "write"}}

func (m Mode) String() string {
	switch m {
	case Manual:
		return "manual"
	case Automatic:
		return "automatic"
	}
	s := ""
	for _, f := range modeNames {
		if m&f.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += f.name
		}
	}
	return s
}

// ParseMode reads a mode written by Mode.String. Flags may be separated by "|" or
// spaces and are case-insensitive.
func ParseMode(s string) (Mode, error) {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == '|' || unicode.IsSpace(r)
	})
	if len(words) == 0 {
		return 0, fmt.Errorf("%w: empty", ErrUnknownMode)
	}

	m := Manual
	for _, w := range words {
		switch w {
		case "manual":
			continue
		case "automatic":
			m = Automatic
			continue
		}
		i := slices.IndexFunc(modeNames, func(f modeName) bool { return f.name == w })
		if i < 0 {
			return 0, fmt.Errorf("%w: %q", ErrUnknownMode, w)
		}
		m |= modeNames[i].bit
	}
	return m, nil
}

// Direction is the sign of the process response to the output.
type Direction uint8

const (
	Direct  Direction = iota // Output up, input up
	Reverse                  // Output up, input down
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "direct"
}

// pollInterval bounds how long the tick loop sleeps before re-checking for a stop.
const pollInterval = 50 * time.Millisecond

// IO connects the controller to the process.
type IO interface {
	ReadInput() float64
	WriteOutput(float64)
}

// State is a snapshot of the controller variables.
type State struct {
	Input     float64
	Output    float64
	Setpoint  float64
	Integral  float64
	LastInput float64
}

// Controller is a PID controller. All methods are safe for concurrent use.
type Controller struct {
	io IO

	mu sync.Mutex
	// User-facing gains.
	rawKp, rawKi, rawKd float64
	// Gains used by Compute: ki*T and kd/T, negated in reverse.
	kp, ki, kd float64

	sampleTime time.Duration
	direction  Direction
	mode       Mode
	outMin     float64
	outMax     float64

	input     float64
	output    float64
	setpoint  float64
	iterm     float64
	lastInput float64

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller) error

// WithTunings sets the proportional, integral and derivative gains.
func WithTunings(kp, ki, kd float64) Option {
	return func(c *Controller) error {
		c.setTunings(kp, ki, kd)
		return nil
	}
}

// WithSampleTime sets the tick period.
func WithSampleTime(d time.Duration) Option {
	return func(c *Controller) error {
		return c.setSampleTime(d)
	}
}

// WithDirection sets the control direction.
func WithDirection(d Direction) Option {
	return func(c *Controller) error {
		c.setDirection(d)
		return nil
	}
}

// WithLimits sets the output bounds.
func WithLimits(low, high float64) Option {
	return func(c *Controller) error {
		return c.setLimits(low, high)
	}
}

// WithMode sets the initial mode.
func WithMode(m Mode) Option {
	return func(c *Controller) error {
		c.mode = m
		return nil
	}
}

// New creates a controller with gains (1, 0, 0), a one second sample time, direct
// action, automatic mode and outputs limited to [0, 255].
func New(io IO, opts ...Option) (*Controller, error) {
	c := &Controller{
		io:         io,
		sampleTime: time.Second,
		direction:  Direct,
		mode:       Automatic,
		outMin:     0,
		outMax:     255,
	}
	c.setTunings(1, 0, 0)

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Controller) sign() float64 {
	if c.direction == Reverse {
		return -1
	}
	return 1
}

func (c *Controller) seconds() float64 { return c.sampleTime.Seconds() }

func (c *Controller) setTunings(kp, ki, kd float64) {
	c.rawKp, c.rawKi, c.rawKd = kp, ki, kd
	c.kp = kp * c.sign()
	c.ki = ki * c.seconds() * c.sign()
	c.kd = kd / c.seconds() * c.sign()
}

func (c *Controller) setSampleTime(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidSampleTime, d)
	}
	ratio := d.Seconds() / c.seconds()
	c.ki *= ratio
	c.kd /= ratio
	c.sampleTime = d
	return nil
}

func (c *Controller) setDirection(d Direction) {
	if d != c.direction {
		c.kp, c.ki, c.kd = -c.kp, -c.ki, -c.kd
	}
	c.direction = d
}

func (c *Controller) setLimits(low, high float64) error {
	if !(low < high) {
		return fmt.Errorf("%w: [%g, %g]", ErrInvalidLimits, low, high)
	}
	c.outMin, c.outMax = low, high
	c.output = c.clamp(c.output)
	c.iterm = c.clamp(c.iterm)
	return nil
}

func (c *Controller) clamp(v float64) float64 {
	return math.Max(c.outMin, math.Min(c.outMax, v))
}

// Kp returns the proportional gain as set.
func (c *Controller) Kp() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rawKp
}

// SetKp sets the proportional gain.
func (c *Controller) SetKp(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rawKp = v
	c.kp = v * c.sign()
}

// Ki returns the integral gain as set, per second.
func (c *Controller) Ki() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rawKi
}

// SetKi sets the integral gain per second.
func (c *Controller) SetKi(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rawKi = v
	c.ki = v * c.seconds() * c.sign()
}

// Kd returns the derivative gain as set, in seconds.
func (c *Controller) Kd() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rawKd
}

// SetKd sets the derivative gain in seconds.
func (c *Controller) SetKd(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rawKd = v
	c.kd = v / c.seconds() * c.sign()
}

// SetTunings sets all three gains at once.
func (c *Controller) SetTunings(kp, ki, kd float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setTunings(kp, ki, kd)
}

// Terms returns the gains Compute works with: sample-time scaled and signed by
// direction.
func (c *Controller) Terms() (kp, ki, kd float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kp, c.ki, c.kd
}

// SampleTime returns the tick period.
func (c *Controller) SampleTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sampleTime
}

// SetSampleTime changes the tick period, rescaling the integral and derivative gains.
func (c *Controller) SetSampleTime(d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setSampleTime(d)
}

// Direction returns the control direction.
func (c *Controller) Direction() Direction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.direction
}

// SetDirection changes the control direction.
func (c *Controller) SetDirection(d Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setDirection(d)
}

// Mode returns the mode bitmask.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode changes the mode. Any change reinitializes the controller so the switch is
// bumpless.
func (c *Controller) SetMode(m Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m != c.mode {
		c.initialize()
	}
	c.mode = m
}

// Limits returns the output bounds.
func (c *Controller) Limits() (low, high float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outMin, c.outMax
}

// SetLimits changes the output bounds, clamping the output and integral term.
func (c *Controller) SetLimits(low, high float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setLimits(low, high)
}

// Input returns the process variable.
func (c *Controller) Input() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// SetInput sets the process variable while AutoRead is off.
func (c *Controller) SetInput(v float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode&AutoRead != 0 {
		return ErrAutomaticInput
	}
	c.input = v
	return nil
}

// Output returns the controller output.
func (c *Controller) Output() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output
}

// SetOutput sets the output while AutoCompute is off. The value is clamped.
func (c *Controller) SetOutput(v float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode&AutoCompute != 0 {
		return ErrAutomaticOutput
	}
	c.output = c.clamp(v)
	return nil
}

// Setpoint returns the target value.
func (c *Controller) Setpoint() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setpoint
}

// SetSetpoint sets the target value.
func (c *Controller) SetSetpoint(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setpoint = v
}

// State returns a snapshot of the controller variables.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Input:     c.input,
		Output:    c.output,
		Setpoint:  c.setpoint,
		Integral:  c.iterm,
		LastInput: c.lastInput,
	}
}

// Initialize seeds the derivative and integral memory from the current input and
// output.
func (c *Controller) Initialize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialize()
}

func (c *Controller) initialize() {
	c.lastInput = c.input
	c.iterm = c.clamp(c.output)
}

// Compute runs one control step on the current input and returns the new output.
func (c *Controller) Compute() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compute()
}

// compute keeps the integral term to ki*error clamped, it does not accumulate, and
// weights the derivative on measurement by kd squared.
func (c *Controller) compute() float64 {
	e := c.setpoint - c.input
	c.iterm = c.clamp(c.ki * e)
	dIn := c.input - c.lastInput
	c.output = c.clamp(c.kp*e + c.iterm - c.kd*c.kd*dIn)
	c.lastInput = c.input
	return c.output
}

// Running reports whether the tick loop is active.
func (c *Controller) Running() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.cancel != nil
}

// Start initializes the controller and starts the tick loop. It is a no-op when the
// loop is already running.
func (c *Controller) Start() {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.cancel != nil {
		return
	}

	c.Initialize()

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop stops the tick loop and waits for it to exit.
func (c *Controller) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.cancel == nil {
		return
	}
	c.cancel()
	c.wg.Wait()
	c.cancel = nil
}

func (c *Controller) run(ctx context.Context) {
	defer c.wg.Done()

	// NaN never compares equal, so the first tick always pushes.
	lastOutput := math.NaN()
	for {
		begin := time.Now()
		lastOutput = c.tick(lastOutput)

		if !c.wait(ctx, begin) {
			return
		}
	}
}

func (c *Controller) tick(lastOutput float64) float64 {
	mode := c.Mode()

	if mode&AutoRead != 0 && c.io != nil {
		in := c.io.ReadInput()
		c.mu.Lock()
		c.input = in
		c.mu.Unlock()
	}

	if mode&AutoCompute != 0 {
		c.Compute()
	}

	out := c.Output()
	if mode&AutoWrite != 0 && c.io != nil && out != lastOutput {
		c.io.WriteOutput(out)
	}
	return out
}

// wait sleeps until one sample time after begin, in slices of at most pollInterval.
// The sample time is re-read every slice. It returns false when ctx is done.
func (c *Controller) wait(ctx context.Context, begin time.Time) bool {
	for {
		remaining := c.SampleTime() - time.Since(begin)
		if remaining <= 0 {
			return ctx.Err() == nil
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(min(remaining, pollInterval)):
		}
	}
}
