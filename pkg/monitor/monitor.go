// Package monitor keeps an in-memory view of a running bake for display.
package monitor

import (
	"math"
	"sync"
	"time"

	"github.com/itohio/goreflow/pkg/sample"
	"github.com/itohio/goreflow/pkg/trajectory"
)

// Snapshot is a consistent copy of the monitor state.
type Snapshot struct {
	Points     []sample.Point // Measured temperature, oldest first
	Rates      []float64      // °C/s, Rates[i] is the slope from Points[i] to Points[i+1]
	Trajectory []sample.Point // Setpoints of the last bake, on the same time axis as Points
	Profile    string
	Latest     sample.Point
	Peak       float64 // Highest temperature since Reset
	Valid      bool    // At least one sample was received
}

// Setpoint returns the trajectory setpoint in force at time t.
func (s Snapshot) Setpoint(t float64) (float64, bool) {
	if len(s.Trajectory) == 0 || t < s.Trajectory[0].Time {
		return 0, false
	}
	for i := len(s.Trajectory) - 1; i >= 0; i-- {
		if s.Trajectory[i].Time <= t {
			return s.Trajectory[i].Value, true
		}
	}
	return 0, false
}

// Monitor is a visualization sink holding a time window of samples and the ramp rate
// between them.
//
// Points and rates correspond exactly: with n points there are n-1 rates. Removal is
// by time window, not count.
type Monitor struct {
	window float64

	mu         sync.RWMutex
	points     []sample.Point
	rates      []float64
	trajectory []sample.Point
	profile    string
	peak       float64

	callbacks []func(Snapshot)
	cbMu      sync.RWMutex
}

// New creates a monitor keeping samples newer than window. A non-positive window keeps
// everything.
func New(window time.Duration) *Monitor {
	return &Monitor{
		window: window.Seconds(),
		peak:   math.Inf(-1),
	}
}

// Sample adds a temperature measured at elapsed seconds. A timestamp equal to the last
// one replaces it, an earlier one starts a new series.
func (m *Monitor) Sample(elapsed, temperature float64) {
	m.mu.Lock()

	if n := len(m.points); n > 0 && elapsed <= m.points[n-1].Time {
		if elapsed < m.points[n-1].Time {
			m.points = m.points[:0]
			m.rates = m.rates[:0]
		} else {
			m.points = m.points[:n-1]
			if len(m.rates) > 0 {
				m.rates = m.rates[:len(m.rates)-1]
			}
		}
	}

	m.points = append(m.points, sample.Point{Time: elapsed, Value: temperature})
	if n := len(m.points); n >= 2 {
		prev, curr := m.points[n-2], m.points[n-1]
		m.rates = append(m.rates, (curr.Value-prev.Value)/(curr.Time-prev.Time))
	}
	m.peak = math.Max(m.peak, temperature)

	if m.window > 0 {
		cutoff := elapsed - m.window
		cutoffIndex := 0
		for i, p := range m.points {
			if p.Time > cutoff {
				cutoffIndex = i
				break
			}
		}
		if cutoffIndex > 0 {
			m.points = m.points[cutoffIndex:]
			m.rates = m.rates[min(cutoffIndex, len(m.rates)):]
		}
	}

	m.mu.Unlock()

	m.notifyCallbacks()
}

// Trajectory records the setpoints of a bake starting now, aligned to the last sample.
func (m *Monitor) Trajectory(t trajectory.Trajectory) {
	m.mu.Lock()

	offset := 0.0
	if n := len(m.points); n > 0 {
		offset = m.points[n-1].Time
	}
	m.profile = t.Profile
	m.trajectory = make([]sample.Point, len(t.Temps))
	for i := range t.Temps {
		m.trajectory[i] = sample.Point{Time: offset + t.Times[i], Value: t.Temps[i]}
	}

	m.mu.Unlock()

	m.notifyCallbacks()
}

// Points returns a copy of the windowed samples.
func (m *Monitor) Points() []sample.Point {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]sample.Point, len(m.points))
	copy(result, m.points)
	return result
}

// Rates returns a copy of the ramp rates in °C/s.
func (m *Monitor) Rates() []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]float64, len(m.rates))
	copy(result, m.rates)
	return result
}

// Latest returns the newest sample.
func (m *Monitor) Latest() (sample.Point, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.points) == 0 {
		return sample.Point{}, false
	}
	return m.points[len(m.points)-1], true
}

// Snapshot returns a copy of the state with every series reduced to at most maxPoints.
// A non-positive maxPoints returns everything.
func (m *Monitor) Snapshot(maxPoints int) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot(maxPoints)
}

func (m *Monitor) snapshot(maxPoints int) Snapshot {
	s := Snapshot{
		Profile: m.profile,
		Valid:   len(m.points) > 0,
	}
	if s.Valid {
		s.Latest = m.points[len(m.points)-1]
		s.Peak = m.peak
	}

	if maxPoints <= 0 {
		s.Points = append([]sample.Point(nil), m.points...)
		s.Rates = append([]float64(nil), m.rates...)
		s.Trajectory = append([]sample.Point(nil), m.trajectory...)
		return s
	}
	// Rates are recomputed so they stay the slopes between the kept points.
	s.Points = sample.Downsample(nil, m.points, maxPoints)
	s.Rates = rates(s.Points)
	s.Trajectory = sample.Downsample(nil, m.trajectory, maxPoints)
	return s
}

func rates(points []sample.Point) []float64 {
	if len(points) < 2 {
		return nil
	}
	out := make([]float64, len(points)-1)
	for i := range out {
		out[i] = (points[i+1].Value - points[i].Value) / (points[i+1].Time - points[i].Time)
	}
	return out
}

// OnUpdate registers a callback invoked after every sample or trajectory. The callback
// should copy what it needs and return quickly.
func (m *Monitor) OnUpdate(callback func(Snapshot)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// Reset forgets samples, the trajectory and the peak.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.points = m.points[:0]
	m.rates = m.rates[:0]
	m.trajectory = nil
	m.profile = ""
	m.peak = math.Inf(-1)
}

// notifyCallbacks copies the state under the read lock, then invokes callbacks
// without holding any locks.
func (m *Monitor) notifyCallbacks() {
	m.cbMu.RLock()
	callbacks := make([]func(Snapshot), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.cbMu.RUnlock()

	if len(callbacks) == 0 {
		return
	}

	s := m.Snapshot(0)
	for _, cb := range callbacks {
		if cb != nil {
			cb(s)
		}
	}
}
