package reflow

import (
	"fmt"
	"time"

	"github.com/itohio/goreflow/pkg/config"
	"github.com/itohio/goreflow/pkg/pid"
	"github.com/itohio/goreflow/pkg/thermistor"
	"github.com/itohio/goreflow/pkg/trajectory"
)

// DefaultInitialCount is the ADC count assumed before the first frame arrives.
const DefaultInitialCount = 350

// Options configures an Oven.
type Options struct {
	Converter      thermistor.Converter
	PID            []pid.Option
	Ambient        float64       // °C at the start and end of a bake
	Timebase       float64       // Setpoint spacing in seconds
	StepInterval   time.Duration // Wall time between setpoint updates
	AverageSamples int
	InitialCount   uint16
	Sink           Sink
}

// DefaultOptions returns options matching config.Default.
func DefaultOptions() Options {
	opts, _ := OptionsFromConfig(config.Default())
	return opts
}

// OptionsFromConfig builds oven options from the application configuration. The
// profile library and sinks are wired by the caller.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	pidOpts := []pid.Option{
		pid.WithSampleTime(cfg.PID.SampleTime),
		pid.WithTunings(cfg.PID.Kp, cfg.PID.Ki, cfg.PID.Kd),
		pid.WithLimits(cfg.PID.OutMin, cfg.PID.OutMax),
	}
	if cfg.PID.Reverse {
		pidOpts = append(pidOpts, pid.WithDirection(pid.Reverse))
	}

	opts := Options{
		Converter:      thermistor.NewConverter(cfg.Sensor.FrontEnd, cfg.Sensor.SteinhartHart),
		PID:            pidOpts,
		Ambient:        cfg.Bake.Ambient,
		Timebase:       cfg.Bake.Timebase,
		StepInterval:   cfg.Bake.StepInterval,
		AverageSamples: cfg.Sensor.AverageSamples,
		InitialCount:   DefaultInitialCount,
	}
	return opts, opts.validate()
}

func (o Options) validate() error {
	if o.StepInterval <= 0 {
		return fmt.Errorf("reflow: step interval must be positive, got %v", o.StepInterval)
	}
	if o.Timebase <= 0 {
		return fmt.Errorf("%w: %g", trajectory.ErrInvalidTimebase, o.Timebase)
	}
	return nil
}
