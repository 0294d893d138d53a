package reflow

import "github.com/itohio/goreflow/pkg/trajectory"

// Sink receives what the oven measures and plans. Implementations must not block.
type Sink interface {
	// Sample is called on every PID input pull with seconds since Start.
	Sample(elapsed, temperature float64)
	// Trajectory is called when a bake starts.
	Trajectory(t trajectory.Trajectory)
}

// ActuatorSink is implemented by sinks that also want every heater duty written.
type ActuatorSink interface {
	Actuator(duty byte)
}

// Sinks fans out to several sinks in order.
type Sinks []Sink

var (
	_ Sink         = Sinks(nil)
	_ ActuatorSink = Sinks(nil)
)

func (s Sinks) Sample(elapsed, temperature float64) {
	for _, sink := range s {
		if sink != nil {
			sink.Sample(elapsed, temperature)
		}
	}
}

func (s Sinks) Trajectory(t trajectory.Trajectory) {
	for _, sink := range s {
		if sink != nil {
			sink.Trajectory(t)
		}
	}
}

func (s Sinks) Actuator(duty byte) {
	for _, sink := range s {
		if a, ok := sink.(ActuatorSink); ok {
			a.Actuator(duty)
		}
	}
}

// ProfileSource supplies the profiles an oven can bake.
type ProfileSource interface {
	Profiles() []trajectory.Profile
	Current() trajectory.Profile
}

var _ ProfileSource = (*trajectory.Library)(nil)

// selector is implemented by sources that track a selection of their own.
type selector interface {
	Select(name string) error
}
