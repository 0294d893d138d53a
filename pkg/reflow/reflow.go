// Package reflow drives a reflow oven: it acquires sensor frames, runs the PID loop
// against them and sequences setpoints along a profile trajectory.
package reflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/goreflow/pkg/device"
	"github.com/itohio/goreflow/pkg/frame"
	"github.com/itohio/goreflow/pkg/pid"
	"github.com/itohio/goreflow/pkg/sample"
	"github.com/itohio/goreflow/pkg/thermistor"
	"github.com/itohio/goreflow/pkg/trajectory"
)

var (
	ErrAlreadyStarted = errors.New("reflow: oven already started")
	ErrNotStarted     = errors.New("reflow: oven not started")
	ErrStopped        = errors.New("reflow: oven stopped")
	ErrBaking         = errors.New("reflow: bake in progress")
)

// faultBuffer is the number of undelivered faults kept before new ones are dropped.
const faultBuffer = 8

// Oven owns the transport, the controller and the three oven activities.
type Oven struct {
	transport device.Transport
	source    ProfileSource
	opts      Options
	sink      Sink

	buffer *sample.Buffer
	pid    *pid.Controller
	faults chan error

	mu        sync.Mutex
	started   bool
	stopped   bool
	startTime time.Time
	profile   trajectory.Profile
	traj      trajectory.Trajectory

	stopping atomic.Bool
	acqWG    sync.WaitGroup
	writeMu  sync.Mutex

	bakeMu     sync.Mutex
	bakeCancel context.CancelFunc
	bakeWG     sync.WaitGroup
	baking     atomic.Bool

	stopOnce sync.Once
	stopErr  error
}

// New creates an oven on transport t. The current profile of profiles is compiled
// into a trajectory straight away so invalid profiles fail here.
func New(t device.Transport, profiles ProfileSource, opts Options) (*Oven, error) {
	if t == nil {
		return nil, fmt.Errorf("reflow: nil transport")
	}
	if profiles == nil {
		lib, err := trajectory.NewLibrary(nil, "")
		if err != nil {
			return nil, err
		}
		profiles = lib
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.AverageSamples < 1 {
		opts.AverageSamples = 1
	}
	if opts.InitialCount == 0 {
		opts.InitialCount = DefaultInitialCount
	}

	o := &Oven{
		transport: t,
		source:    profiles,
		opts:      opts,
		sink:      opts.Sink,
		buffer:    sample.NewBuffer(opts.AverageSamples, opts.InitialCount),
		faults:    make(chan error, faultBuffer),
	}
	if o.sink == nil {
		o.sink = Sinks(nil)
	}

	pidOpts := append([]pid.Option{}, opts.PID...)
	ctrl, err := pid.New(ovenIO{o}, pidOpts...)
	if err != nil {
		return nil, fmt.Errorf("reflow: %w", err)
	}
	o.pid = ctrl

	o.profile = profiles.Current()
	o.traj, err = trajectory.Generate(o.profile, opts.Ambient, opts.Timebase)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Start switches the heater off, regenerates the trajectory for the current profile and
// starts acquisition and the PID loop.
func (o *Oven) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case o.stopped:
		return ErrStopped
	case o.started:
		return ErrAlreadyStarted
	}

	if err := o.writeDuty(0); err != nil {
		return fmt.Errorf("reflow: heater off: %w", err)
	}

	o.profile = o.source.Current()
	traj, err := trajectory.Generate(o.profile, o.opts.Ambient, o.opts.Timebase)
	if err != nil {
		return err
	}
	o.traj = traj

	o.started = true
	o.startTime = time.Now()

	o.acqWG.Add(1)
	go o.acquire()
	o.pid.Start()

	log.Printf("reflow: started with profile %q", o.profile.Name)
	return nil
}

// Stop aborts a bake, stops the PID loop, switches the heater off and closes the
// transport. It waits for every activity to exit and is safe to call more than once.
func (o *Oven) Stop() error {
	o.stopOnce.Do(func() {
		o.stopErr = o.stop()
	})
	return o.stopErr
}

func (o *Oven) stop() error {
	o.mu.Lock()
	started := o.started
	o.stopped = true
	o.mu.Unlock()

	o.StopBake()
	o.pid.Stop()

	var errs []error
	if err := o.writeDuty(0); err != nil && !errors.Is(err, device.ErrClosed) {
		errs = append(errs, fmt.Errorf("reflow: heater off: %w", err))
	}

	o.stopping.Store(true)
	if err := o.transport.Close(); err != nil && !errors.Is(err, device.ErrClosed) {
		errs = append(errs, fmt.Errorf("reflow: close transport: %w", err))
	}
	o.acqWG.Wait()
	close(o.faults)

	if started {
		log.Printf("reflow: stopped")
	}
	return errors.Join(errs...)
}

// Faults delivers transport errors raised by acquisition and actuator writes. It is
// closed by Stop.
func (o *Oven) Faults() <-chan error {
	return o.faults
}

// acquire reads frames until the transport fails. Only the newest frame matters, so
// stale input is discarded before every read.
func (o *Oven) acquire() {
	defer o.acqWG.Done()

	dec := frame.NewDecoder(o.transport)
	for {
		err := o.transport.ResetInputBuffer()
		if err == nil {
			dec.Reset()
			var count uint16
			count, err = dec.ReadFrame()
			if err == nil {
				o.buffer.Store(count)
				continue
			}
		}

		if o.stopping.Load() && errors.Is(err, device.ErrClosed) {
			return
		}
		o.fault(fmt.Errorf("reflow: acquisition: %w", err))
		return
	}
}

func (o *Oven) fault(err error) {
	log.Printf("%v", err)
	select {
	case o.faults <- err:
	default:
		log.Printf("reflow: fault dropped: %v", err)
	}
}

func (o *Oven) writeDuty(duty byte) error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	_, err := o.transport.Write([]byte{duty})
	return err
}

func (o *Oven) elapsed() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.startTime.IsZero() {
		return 0
	}
	return time.Since(o.startTime).Seconds()
}

// ovenIO connects the PID controller to the sensor buffer and the heater.
type ovenIO struct{ o *Oven }

func (io ovenIO) ReadInput() float64 {
	r, err := io.o.Reading()
	if err != nil {
		log.Printf("reflow: convert count %d: %v", r.Count, err)
	}
	io.o.sink.Sample(io.o.elapsed(), r.Temperature)
	return r.Temperature
}

func (io ovenIO) WriteOutput(v float64) {
	duty := dutyByte(v)
	if err := io.o.writeDuty(duty); err != nil {
		if io.o.stopping.Load() && errors.Is(err, device.ErrClosed) {
			return
		}
		io.o.fault(fmt.Errorf("reflow: actuator: %w", err))
		return
	}
	if a, ok := io.o.sink.(ActuatorSink); ok {
		a.Actuator(duty)
	}
}

// dutyByte rounds v and clamps it to the byte range.
func dutyByte(v float64) byte {
	v = math.Round(v)
	switch {
	case v <= 0 || math.IsNaN(v):
		return 0
	case v >= 255:
		return 255
	}
	return byte(v)
}

// Bake starts feeding the trajectory into the setpoint. It is a no-op while a bake is
// already running.
func (o *Oven) Bake() error {
	o.bakeMu.Lock()
	defer o.bakeMu.Unlock()

	o.mu.Lock()
	started, stopped := o.started, o.stopped
	o.mu.Unlock()
	switch {
	case stopped:
		return ErrStopped
	case !started:
		return ErrNotStarted
	}

	if o.baking.Load() {
		return nil
	}
	// A finished bake leaves its cancel func behind.
	if o.bakeCancel != nil {
		o.bakeCancel()
		o.bakeWG.Wait()
	}

	traj := o.Trajectory()
	ctx, cancel := context.WithCancel(context.Background())
	o.bakeCancel = cancel
	o.baking.Store(true)
	o.sink.Trajectory(traj)

	o.bakeWG.Add(1)
	go o.bake(ctx, traj)

	log.Printf("reflow: baking %q, %d setpoints", traj.Profile, traj.Len())
	return nil
}

func (o *Oven) bake(ctx context.Context, traj trajectory.Trajectory) {
	defer o.bakeWG.Done()
	defer o.baking.Store(false)
	defer o.pid.SetSetpoint(0)

	for i, temp := range traj.Temps {
		o.pid.SetSetpoint(temp)

		select {
		case <-ctx.Done():
			log.Printf("reflow: bake aborted at setpoint %d/%d", i+1, traj.Len())
			return
		case <-time.After(o.opts.StepInterval):
		}
	}
	log.Printf("reflow: bake of %q finished", traj.Profile)
}

// StopBake aborts a running bake and waits for the sequencer to exit. The setpoint is
// left at 0 and the controller keeps running.
func (o *Oven) StopBake() {
	o.bakeMu.Lock()
	defer o.bakeMu.Unlock()

	if o.bakeCancel == nil {
		return
	}
	o.bakeCancel()
	o.bakeWG.Wait()
	o.bakeCancel = nil
}

// Baking reports whether the sequencer is running.
func (o *Oven) Baking() bool {
	return o.baking.Load()
}

// LoadProfile selects the named profile, ignoring case, and regenerates the
// trajectory. The current profile is unchanged on error.
func (o *Oven) LoadProfile(name string) error {
	o.bakeMu.Lock()
	defer o.bakeMu.Unlock()

	if o.baking.Load() {
		return ErrBaking
	}

	name = strings.TrimSpace(name)
	var p trajectory.Profile
	found := false
	for _, candidate := range o.source.Profiles() {
		if strings.EqualFold(candidate.Name, name) {
			p, found = candidate, true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %q", trajectory.ErrUnknownProfile, name)
	}

	traj, err := trajectory.Generate(p, o.opts.Ambient, o.opts.Timebase)
	if err != nil {
		return err
	}
	if s, ok := o.source.(selector); ok {
		if err := s.Select(p.Name); err != nil {
			return err
		}
	}

	o.mu.Lock()
	o.profile = p
	o.traj = traj
	o.mu.Unlock()

	log.Printf("reflow: loaded profile %q", p.Name)
	return nil
}

// PID returns the controller for direct tuning.
func (o *Oven) PID() *pid.Controller {
	return o.pid
}

// Profiles lists the available profiles.
func (o *Oven) Profiles() []trajectory.Profile {
	return o.source.Profiles()
}

// Profile returns the loaded profile.
func (o *Oven) Profile() trajectory.Profile {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.profile
}

// Trajectory returns the trajectory of the loaded profile.
func (o *Oven) Trajectory() trajectory.Trajectory {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.traj
}

// Count returns the averaged sensor count.
func (o *Oven) Count() uint16 {
	return o.buffer.Value()
}

// Reading converts the averaged sensor count.
func (o *Oven) Reading() (thermistor.Reading, error) {
	return o.opts.Converter.Convert(o.buffer.Value())
}

// Temperature returns the oven temperature in °C. It fails when the averaged count
// cannot be converted, which only happens with a misconfigured front end.
func (o *Oven) Temperature() (float64, error) {
	r, err := o.Reading()
	if err != nil {
		return 0, fmt.Errorf("reflow: convert count %d: %w", r.Count, err)
	}
	return r.Temperature, nil
}

// Elapsed returns the time since Start.
func (o *Oven) Elapsed() time.Duration {
	return time.Duration(o.elapsed() * float64(time.Second))
}
