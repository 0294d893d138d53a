package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itohio/goreflow/pkg/thermistor"
	"github.com/itohio/goreflow/pkg/trajectory"
)

// Config represents the application configuration.
type Config struct {
	Serial   SerialConfig         `yaml:"serial"`
	Sensor   SensorConfig         `yaml:"sensor"`
	PID      PIDConfig            `yaml:"pid"`
	Bake     BakeConfig           `yaml:"bake"`
	Profiles []trajectory.Profile `yaml:"profiles"`
	Record   RecordConfig         `yaml:"record"`
	HTTP     HTTPConfig           `yaml:"http"`
	Mock     MockConfig           `yaml:"mock"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`
}

// SensorConfig describes the probe and its analog front end.
type SensorConfig struct {
	FrontEnd       thermistor.FrontEnd           `yaml:"front_end"`
	SteinhartHart  thermistor.SteinhartHart      `yaml:"steinhart_hart"`
	AverageSamples int                           `yaml:"average_samples"` // 1 = latest count only
	Calibration    []thermistor.CalibrationPoint `yaml:"calibration,omitempty"`
}

// PIDConfig contains controller tunings.
type PIDConfig struct {
	Kp         float64       `yaml:"kp"`
	Ki         float64       `yaml:"ki"`
	Kd         float64       `yaml:"kd"`
	SampleTime time.Duration `yaml:"sample_time"`
	Reverse    bool          `yaml:"reverse"`
	OutMin     float64       `yaml:"out_min"`
	OutMax     float64       `yaml:"out_max"`
}

// BakeConfig contains bake sequencing parameters.
type BakeConfig struct {
	Ambient      float64       `yaml:"ambient"`       // °C at the start and end of a bake
	Timebase     float64       `yaml:"timebase"`      // Setpoint spacing in seconds
	StepInterval time.Duration `yaml:"step_interval"` // Wall time between setpoint updates
	Profile      string        `yaml:"profile"`       // Selected profile, empty for the library default
}

// RecordConfig controls the session recorder.
type RecordConfig struct {
	Path string `yaml:"path"` // SQLite database, empty disables recording
}

// HTTPConfig controls the read-only web view.
type HTTPConfig struct {
	Addr      string `yaml:"addr"`       // Listen address, empty disables the server
	MaxPoints int    `yaml:"max_points"` // Chart downsampling limit
}

// MockConfig contains simulated oven configuration.
type MockConfig struct {
	Ambient      float64       `yaml:"ambient"`       // °C
	HeaterRate   float64       `yaml:"heater_rate"`   // °C/s at full duty
	TimeConstant time.Duration `yaml:"time_constant"` // Loss towards ambient
	NoiseLevel   float64       `yaml:"noise_level"`   // °C peak
	SampleRate   time.Duration `yaml:"sample_rate"`   // Frame period
	GarbageEvery int           `yaml:"garbage_every"` // Insert a stray byte every N frames, 0 disables
	Speed        float64       `yaml:"speed"`         // Simulated seconds per wall second
	Seed         uint64        `yaml:"seed"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     "/dev/ttyUSB0",
			BaudRate: 57600,
			DataBits: 8,
			StopBits: 1,
			Parity:   "N",
		},
		Sensor: SensorConfig{
			FrontEnd:       thermistor.DefaultFrontEnd(),
			SteinhartHart:  thermistor.DefaultSteinhartHart(),
			AverageSamples: 1,
		},
		PID: PIDConfig{
			Kp:         30,
			Ki:         2,
			Kd:         7,
			SampleTime: time.Second,
			OutMin:     0,
			OutMax:     255,
		},
		Bake: BakeConfig{
			Ambient:      trajectory.DefaultAmbient,
			Timebase:     trajectory.DefaultTimebase,
			StepInterval: 500 * time.Millisecond,
		},
		Profiles: []trajectory.Profile{trajectory.DefaultProfile()},
		HTTP: HTTPConfig{
			MaxPoints: 2000,
		},
		Mock: MockConfig{
			Ambient:      trajectory.DefaultAmbient,
			HeaterRate:   4,
			TimeConstant: 120 * time.Second,
			NoiseLevel:   0.5,
			SampleRate:   20 * time.Millisecond,
			Speed:        1,
			Seed:         1,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Lists replace rather than merge, so profiles start empty.
	cfg.Profiles = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.Sensor.FrontEnd == (thermistor.FrontEnd{}) {
		c.Sensor.FrontEnd = def.Sensor.FrontEnd
	}
	if c.Sensor.FrontEnd.MinCount == 0 {
		c.Sensor.FrontEnd.MinCount = def.Sensor.FrontEnd.MinCount
	}
	if c.Sensor.SteinhartHart == (thermistor.SteinhartHart{}) {
		c.Sensor.SteinhartHart = def.Sensor.SteinhartHart
	}
	if c.Sensor.AverageSamples <= 0 {
		c.Sensor.AverageSamples = def.Sensor.AverageSamples
	}

	if c.PID.SampleTime <= 0 {
		c.PID.SampleTime = def.PID.SampleTime
	}
	if c.PID.OutMin == 0 && c.PID.OutMax == 0 {
		c.PID.OutMin = def.PID.OutMin
		c.PID.OutMax = def.PID.OutMax
	}

	if c.Bake.Ambient == 0 {
		c.Bake.Ambient = def.Bake.Ambient
	}
	if c.Bake.Timebase <= 0 {
		c.Bake.Timebase = def.Bake.Timebase
	}
	if c.Bake.StepInterval <= 0 {
		c.Bake.StepInterval = def.Bake.StepInterval
	}

	if len(c.Profiles) == 0 {
		c.Profiles = def.Profiles
	}

	if c.HTTP.MaxPoints <= 0 {
		c.HTTP.MaxPoints = def.HTTP.MaxPoints
	}

	if c.Mock.Ambient == 0 {
		c.Mock.Ambient = def.Mock.Ambient
	}
	if c.Mock.HeaterRate == 0 {
		c.Mock.HeaterRate = def.Mock.HeaterRate
	}
	if c.Mock.TimeConstant <= 0 {
		c.Mock.TimeConstant = def.Mock.TimeConstant
	}
	if c.Mock.SampleRate <= 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}
	if c.Mock.Speed <= 0 {
		c.Mock.Speed = def.Mock.Speed
	}
}
