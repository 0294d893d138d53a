package trajectory

import (
	"fmt"
	"math"
)

// DefaultAmbient is the oven temperature assumed at the start and end of a bake.
const DefaultAmbient = 25.0

// DefaultTimebase is the spacing of setpoints in seconds.
const DefaultTimebase = 0.5

// PhaseName identifies a segment of the trajectory.
type PhaseName string

const (
	PhasePreheat  PhaseName = "preheat"
	PhaseSoak     PhaseName = "soak"
	PhaseRamp     PhaseName = "ramp"
	PhaseToPeak   PhaseName = "to-peak"
	PhasePeak     PhaseName = "peak"
	PhaseFromPeak PhaseName = "from-peak"
	PhaseCooldown PhaseName = "cooldown"
)

// Phase is a contiguous run of setpoints [Start, End) ramping linearly From → To.
type Phase struct {
	Name  PhaseName `json:"name"`
	Start int       `json:"start"`
	End   int       `json:"end"`
	From  float64   `json:"from"`
	To    float64   `json:"to"`
}

// Len returns the number of setpoints in the phase.
func (p Phase) Len() int { return p.End - p.Start }

// Trajectory is the setpoint sequence for one bake. Times[i] is i*Timebase.
type Trajectory struct {
	Profile  string
	Timebase float64
	Times    []float64
	Temps    []float64
	Phases   []Phase
}

// Len returns the number of setpoints.
func (t Trajectory) Len() int { return len(t.Temps) }

// Duration returns the time spanned by the trajectory in seconds.
func (t Trajectory) Duration() float64 { return float64(len(t.Temps)) * t.Timebase }

// Phase returns the span with the given name.
func (t Trajectory) Phase(name PhaseName) (Phase, bool) {
	for _, p := range t.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return Phase{}, false
}

// Segment returns the setpoints of the named phase.
func (t Trajectory) Segment(name PhaseName) []float64 {
	p, ok := t.Phase(name)
	if !ok {
		return nil
	}
	return t.Temps[p.Start:p.End]
}

// Generate builds the trajectory for profile p starting and ending at ambient. It is
// pure and may be called any number of times.
func Generate(p Profile, ambient, timebase float64) (Trajectory, error) {
	if timebase <= 0 || math.IsNaN(timebase) {
		return Trajectory{}, fmt.Errorf("%w: %g", ErrInvalidTimebase, timebase)
	}
	if err := p.Validate(); err != nil {
		return Trajectory{}, err
	}
	if ambient >= p.SoakMin {
		return Trajectory{}, fmt.Errorf("%w %q: ambient %g not below soak_min %g", ErrInvalidProfile, p.Name, ambient, p.SoakMin)
	}

	// Time above liquidus not spent at peak, shared by the ramps either side of it.
	half := (p.ReflowTime - p.PeakTime) / 2
	toLiquidus := p.Liquidus - p.SoakMax

	segments := []struct {
		name     PhaseName
		from, to float64
		duration float64
	}{
		{PhasePreheat, ambient, p.SoakMin, (p.SoakMin - ambient) / p.RampUp},
		{PhaseSoak, p.SoakMin, p.SoakMax, p.SoakTime},
		{PhaseRamp, p.SoakMax, p.Liquidus, toLiquidus / half * toLiquidus},
		{PhaseToPeak, p.Liquidus, p.Peak, half},
		{PhasePeak, p.Peak, p.Peak, p.PeakTime},
		{PhaseFromPeak, p.Peak, p.Liquidus, half},
		{PhaseCooldown, p.Liquidus, ambient, (p.Liquidus - ambient) / p.RampDown},
	}

	t := Trajectory{
		Profile:  p.Name,
		Timebase: timebase,
		Phases:   make([]Phase, 0, len(segments)),
	}
	for _, s := range segments {
		start := len(t.Temps)
		t.Temps = appendSteps(t.Temps, s.from, s.to, s.duration, timebase)
		t.Phases = append(t.Phases, Phase{
			Name:  s.name,
			Start: start,
			End:   len(t.Temps),
			From:  s.from,
			To:    s.to,
		})
	}

	t.Times = make([]float64, len(t.Temps))
	for i := range t.Times {
		t.Times[i] = float64(i) * timebase
	}
	return t, nil
}

// appendSteps appends round(duration/timebase) evenly spaced setpoints (at least one)
// going from begin towards end. The last one is exactly end, so rounding never
// accumulates across phases.
func appendSteps(dst []float64, begin, end, duration, timebase float64) []float64 {
	n := int(math.Round(duration / timebase))
	if n < 1 {
		n = 1
	}
	width := (end - begin) / float64(n)
	for i := range n - 1 {
		dst = append(dst, begin+float64(i)*width)
	}
	return append(dst, end)
}
