// Package trajectory turns reflow profiles into setpoint sequences.
package trajectory

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrInvalidProfile  = errors.New("trajectory: invalid profile")
	ErrInvalidTimebase = errors.New("trajectory: timebase must be positive")
	ErrUnknownProfile  = errors.New("trajectory: unknown profile")
)

// Profile describes a solder paste's thermal recipe. Temperatures are in °C, times in
// seconds and ramp rates in °C/s.
type Profile struct {
	Name       string  `yaml:"name" json:"name"`
	RampUp     float64 `yaml:"ramp_up" json:"ramp_up"`         // Preheat ramp rate
	SoakMin    float64 `yaml:"soak_min" json:"soak_min"`       // Soak start temperature
	SoakMax    float64 `yaml:"soak_max" json:"soak_max"`       // Soak end temperature
	SoakTime   float64 `yaml:"soak_time" json:"soak_time"`     // Time from SoakMin to SoakMax
	ReflowTime float64 `yaml:"reflow_time" json:"reflow_time"` // Time above liquidus, peak hold included
	Liquidus   float64 `yaml:"liquidus" json:"liquidus"`
	PeakTime   float64 `yaml:"peak_time" json:"peak_time"` // Hold time at peak
	Peak       float64 `yaml:"peak" json:"peak"`
	RampDown   float64 `yaml:"ramp_down" json:"ramp_down"` // Cooldown ramp rate
}

// DefaultProfile returns a lead-free SAC305 style profile.
func DefaultProfile() Profile {
	return Profile{
		Name:       "default",
		RampUp:     2,
		SoakMin:    155,
		SoakMax:    185,
		SoakTime:   120,
		ReflowTime: 100,
		Liquidus:   215,
		PeakTime:   30,
		Peak:       240,
		RampDown:   6,
	}
}

// Validate checks the profile invariants.
func (p Profile) Validate() error {
	var problems []string

	if strings.TrimSpace(p.Name) == "" {
		problems = append(problems, "name is empty")
	}
	if p.RampUp <= 0 {
		problems = append(problems, fmt.Sprintf("ramp_up %g must be positive", p.RampUp))
	}
	if p.RampDown <= 0 {
		problems = append(problems, fmt.Sprintf("ramp_down %g must be positive", p.RampDown))
	}
	if p.SoakTime <= 0 {
		problems = append(problems, fmt.Sprintf("soak_time %g must be positive", p.SoakTime))
	}
	if p.PeakTime <= 0 {
		problems = append(problems, fmt.Sprintf("peak_time %g must be positive", p.PeakTime))
	}
	if p.ReflowTime <= p.PeakTime {
		problems = append(problems, fmt.Sprintf("reflow_time %g must exceed peak_time %g", p.ReflowTime, p.PeakTime))
	}
	if p.SoakMin > p.SoakMax {
		problems = append(problems, fmt.Sprintf("soak_min %g above soak_max %g", p.SoakMin, p.SoakMax))
	}
	if p.SoakMax > p.Liquidus {
		problems = append(problems, fmt.Sprintf("soak_max %g above liquidus %g", p.SoakMax, p.Liquidus))
	}
	if p.Liquidus > p.Peak {
		problems = append(problems, fmt.Sprintf("liquidus %g above peak %g", p.Liquidus, p.Peak))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w %q: %s", ErrInvalidProfile, p.Name, strings.Join(problems, "; "))
	}
	return nil
}

// Library is a named set of profiles with one of them selected. It is safe for
// concurrent use; the profile list is fixed at construction.
type Library struct {
	profiles []Profile

	mu      sync.RWMutex
	current int
}

// NewLibrary creates a library. A name prefixed with "_" marks the profile selected
// by default, the prefix is stripped; otherwise current names the selection. With
// neither, the first profile is selected. An empty list yields DefaultProfile.
func NewLibrary(profiles []Profile, current string) (*Library, error) {
	if len(profiles) == 0 {
		profiles = []Profile{DefaultProfile()}
	}

	l := &Library{profiles: make([]Profile, 0, len(profiles)), current: -1}
	for _, p := range profiles {
		if name, ok := strings.CutPrefix(p.Name, "_"); ok {
			p.Name = name
			if l.current < 0 {
				l.current = len(l.profiles)
			}
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := l.index(p.Name); dup {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidProfile, p.Name)
		}
		l.profiles = append(l.profiles, p)
	}

	if current != "" {
		i, ok := l.index(current)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, current)
		}
		l.current = i
	}
	if l.current < 0 {
		l.current = 0
	}
	return l, nil
}

// Profiles returns a copy of all profiles.
func (l *Library) Profiles() []Profile {
	out := make([]Profile, len(l.profiles))
	copy(out, l.profiles)
	return out
}

// Current returns the selected profile.
func (l *Library) Current() Profile {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.profiles[l.current]
}

// Lookup finds a profile by name, ignoring case.
func (l *Library) Lookup(name string) (Profile, error) {
	i, ok := l.index(name)
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return l.profiles[i], nil
}

// Select makes the named profile current. The selection is unchanged on error.
func (l *Library) Select(name string) error {
	i, ok := l.index(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	l.mu.Lock()
	l.current = i
	l.mu.Unlock()
	return nil
}

func (l *Library) index(name string) (int, bool) {
	name = strings.TrimSpace(name)
	for i, p := range l.profiles {
		if strings.EqualFold(p.Name, name) {
			return i, true
		}
	}
	return -1, false
}
