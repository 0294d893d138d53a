package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/itohio/goreflow/pkg/config"
	"github.com/itohio/goreflow/pkg/monitor"
	"github.com/itohio/goreflow/pkg/pid"
	"github.com/itohio/goreflow/pkg/reflow"
	"github.com/itohio/goreflow/pkg/sample"
	"github.com/itohio/goreflow/pkg/thermistor"
	"github.com/itohio/goreflow/pkg/trajectory"
)

// ovenControl is the part of the oven the console drives.
type ovenControl interface {
	PID() *pid.Controller
	Bake() error
	StopBake()
	LoadProfile(name string) error
	Profiles() []trajectory.Profile
	Profile() trajectory.Profile
	Reading() (thermistor.Reading, error)
}

var _ ovenControl = (*reflow.Oven)(nil)

// Display states of a dispable property.
const (
	dispOff     = "off"
	dispOn      = "on"
	dispOneshot = "oneshot"
)

// command is a console command. run gets the trimmed text after the command name.
type command struct {
	help string
	run  func(c *Console, arg string) error
}

var commands map[string]command

// The table refers to methods that read it, so it is filled in at init.
func init() {
	commands = map[string]command{
		"kp": {
			help: "kp [value]\nDisplays or sets the proportional gain.",
			run: func(c *Console, arg string) error {
				return c.param(arg, c.pid().Kp, func(v float64) error { c.pid().SetKp(v); return nil })
			},
		},
		"ki": {
			help: "ki [value]\nDisplays or sets the integral gain, per second.",
			run: func(c *Console, arg string) error {
				return c.param(arg, c.pid().Ki, func(v float64) error { c.pid().SetKi(v); return nil })
			},
		},
		"kd": {
			help: "kd [value]\nDisplays or sets the derivative gain, in seconds.",
			run: func(c *Console, arg string) error {
				return c.param(arg, c.pid().Kd, func(v float64) error { c.pid().SetKd(v); return nil })
			},
		},
		"spt": {
			help: "spt [°C]\nDisplays or sets the target temperature.",
			run: func(c *Console, arg string) error {
				return c.param(arg, c.pid().Setpoint, func(v float64) error { c.pid().SetSetpoint(v); return nil })
			},
		},
		"in": {
			help: "in [°C]\nDisplays or sets the controller input. Setting needs the read flag cleared, see pidm.",
			run: func(c *Console, arg string) error {
				return c.param(arg, c.pid().Input, c.pid().SetInput)
			},
		},
		"out": {
			help: "out [value]\nDisplays or sets the controller output. Setting needs the compute flag cleared, see pidm.",
			run: func(c *Console, arg string) error {
				return c.param(arg, c.pid().Output, c.pid().SetOutput)
			},
		},
		"pwr": {
			help: "pwr [percent]\nDisplays or sets the output relative to its maximum. Setting needs the compute flag cleared, see pidm.",
			run:  (*Console).power,
		},
		"pidm": {
			help: "pidm [automatic|manual|read compute write]\n" +
				"Displays or sets the controller mode flags.\n" +
				"read: pull the input every tick.\n" +
				"compute: run the PID algorithm. Cleared, the output keeps its value and can be set with out.\n" +
				"write: push the output every tick it changes.\n" +
				"automatic: all of the above.\n" +
				"manual: none of them. Flags left out are cleared.",
			run: (*Console).mode,
		},
		"disp": {
			help: "disp [name [on|off]]\n" +
				"Without arguments lists the dispable properties. With a name prints it once, " +
				"with on keeps printing it until switched off.",
			run: (*Console).display,
		},
		"bake": {
			help: "bake\nStarts baking the loaded profile.",
			run:  func(c *Console, _ string) error { return c.oven.Bake() },
		},
		"stop": {
			help: "stop\nStops baking. The controller keeps holding a 0 °C setpoint.",
			run:  func(c *Console, _ string) error { c.oven.StopBake(); return nil },
		},
		"load": {
			help: "load [profile]\nLoads a reflow profile. Without a name lists the profiles.",
			run:  (*Console).load,
		},
		"save": {
			help: "save [pidcoeffs|profile]\nSaves the gains or the loaded profile name to the configuration file.",
			run:  (*Console).save,
		},
		"man": {
			help: "man [command]\nWithout arguments lists the commands, otherwise shows the help of one.",
			run:  (*Console).manual,
		},
		"quit": {
			help: "quit\nStops the oven and exits.",
			run: func(c *Console, _ string) error {
				c.quit()
				return nil
			},
		},
	}
}

// Console is a line-oriented operator interface to the oven. It is also a sink, so
// dispable properties print as the oven produces them.
type Console struct {
	cfg     *config.Config
	cfgPath string
	oven    ovenControl
	quit    func()

	outMu sync.Mutex
	out   io.Writer

	dispMu sync.Mutex
	disp   map[string]string
}

var (
	_ reflow.Sink         = (*Console)(nil)
	_ reflow.ActuatorSink = (*Console)(nil)
)

// newConsole creates a console writing to out. The oven is attached later since the
// oven needs the console as a sink.
func newConsole(cfg *config.Config, cfgPath string, out io.Writer, quit func()) *Console {
	return &Console{
		cfg:     cfg,
		cfgPath: cfgPath,
		quit:    quit,
		out:     out,
		disp: map[string]string{
			"in":    dispOff,
			"out":   dispOff,
			"trend": dispOff,
		},
	}
}

func (c *Console) attach(o ovenControl) {
	c.oven = o
}

func (c *Console) pid() *pid.Controller {
	return c.oven.PID()
}

// Run reads commands from r until ctx is done, quit is entered or r ends.
func (c *Console) Run(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errs <- scanner.Err()
	}()

	c.prompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			c.quit()
			return err
		case line := <-lines:
			c.Exec(line)
			c.prompt()
		}
	}
}

// Exec runs one command line.
func (c *Console) Exec(line string) {
	name, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	if name == "" {
		return
	}

	cmd, ok := commands[strings.ToLower(name)]
	if !ok {
		c.msg("Command not found")
		return
	}
	if err := cmd.run(c, strings.TrimSpace(arg)); err != nil {
		c.msg("Failed: %v", err)
	}
}

func (c *Console) msg(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *Console) prompt() {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	io.WriteString(c.out, "> ")
}

// param displays get() when arg is empty, otherwise parses arg and passes it to set.
func (c *Console) param(arg string, get func() float64, set func(float64) error) error {
	if arg == "" {
		c.msg("%g", get())
		return nil
	}
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return err
	}
	return set(v)
}

func (c *Console) power(arg string) error {
	_, high := c.pid().Limits()
	if arg == "" {
		c.msg("%0.1f", c.pid().Output()*100/high)
		return nil
	}
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return err
	}
	return c.pid().SetOutput(v / 100 * high)
}

func (c *Console) mode(arg string) error {
	if arg == "" {
		c.msg("%s", c.pid().Mode())
		return nil
	}
	m, err := pid.ParseMode(arg)
	if err != nil {
		return err
	}
	c.pid().SetMode(m)
	return nil
}

func (c *Console) display(arg string) error {
	c.dispMu.Lock()
	defer c.dispMu.Unlock()

	if arg == "" {
		keys := make([]string, 0, len(c.disp))
		for k := range c.disp {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		c.msg("Dispable properties:\n\t%s", strings.Join(keys, "\n\t"))
		return nil
	}

	key, state, _ := strings.Cut(arg, " ")
	key = strings.ToLower(key)
	if _, ok := c.disp[key]; !ok {
		return fmt.Errorf("no dispable property %q", key)
	}
	switch state = strings.ToLower(strings.TrimSpace(state)); state {
	case "":
		c.disp[key] = dispOneshot
	case dispOn, dispOff:
		c.disp[key] = state
	default:
		return fmt.Errorf("expected on or off, got %q", state)
	}
	return nil
}

// shown reports whether key should print now and consumes a oneshot.
func (c *Console) shown(key string) bool {
	c.dispMu.Lock()
	defer c.dispMu.Unlock()

	switch c.disp[key] {
	case dispOn:
		return true
	case dispOneshot:
		c.disp[key] = dispOff
		return true
	}
	return false
}

func (c *Console) load(arg string) error {
	if arg != "" {
		return c.oven.LoadProfile(strings.ToLower(arg))
	}

	current := c.oven.Profile().Name
	var b strings.Builder
	b.WriteString("Available profiles:")
	for _, p := range c.oven.Profiles() {
		mark := " "
		if p.Name == current {
			mark = "*"
		}
		fmt.Fprintf(&b, "\n\t%s %s", mark, p.Name)
	}
	c.msg("%s", b.String())
	return nil
}

func (c *Console) save(arg string) error {
	switch strings.ToLower(arg) {
	case "":
		c.msg("You can save:\n\tpidcoeffs\n\tprofile")
		return nil
	case "pidcoeffs":
		ctrl := c.pid()
		c.cfg.PID.Kp, c.cfg.PID.Ki, c.cfg.PID.Kd = ctrl.Kp(), ctrl.Ki(), ctrl.Kd()
		c.cfg.PID.SampleTime = ctrl.SampleTime()
	case "profile":
		c.cfg.Bake.Profile = c.oven.Profile().Name
	default:
		return fmt.Errorf("cannot save %q", arg)
	}

	if c.cfgPath == "" {
		return errors.New("no configuration file")
	}
	if err := c.cfg.Save(c.cfgPath); err != nil {
		return err
	}
	c.msg("Saved to %s", c.cfgPath)
	return nil
}

func (c *Console) manual(arg string) error {
	if arg != "" {
		cmd, ok := commands[strings.ToLower(arg)]
		if !ok {
			c.msg("Command not found")
			return nil
		}
		c.msg("%s", cmd.help)
		return nil
	}

	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	c.msg("Available commands:\n\t%s", strings.Join(names, "\n\t"))
	return nil
}

// Sample prints the sensor chain when "in" is displayed.
func (c *Console) Sample(elapsed, temperature float64) {
	if c.oven == nil || !c.shown("in") {
		return
	}
	r, err := c.oven.Reading()
	if err != nil {
		c.msg("ADC: %d\tR: %.1f\terror: %v", r.Count, r.Resistance, err)
		return
	}
	s := sample.FromReading(time.Now(), elapsed, r)
	s.Temperature = temperature
	c.msg("ADC: %d\tR: %.1f\tT: %.2f", s.Count, s.Resistance, s.Temperature)
}

// Actuator prints the heater duty when "out" is displayed.
func (c *Console) Actuator(duty byte) {
	if c.shown("out") {
		c.msg("PWM: %d", duty)
	}
}

// Trajectory announces a bake.
func (c *Console) Trajectory(t trajectory.Trajectory) {
	c.msg("Baking %s: %d setpoints, %.0f s", t.Profile, t.Len(), t.Duration())
}

// Trend prints the latest monitor reading when "trend" is displayed.
func (c *Console) Trend(s monitor.Snapshot) {
	if !s.Valid || !c.shown("trend") {
		return
	}
	rate := 0.0
	if n := len(s.Rates); n > 0 {
		rate = s.Rates[n-1]
	}
	line := fmt.Sprintf("t: %.1f\tT: %.2f\trate: %+.2f\tpeak: %.1f", s.Latest.Time, s.Latest.Value, rate, s.Peak)
	if sp, ok := s.Setpoint(s.Latest.Time); ok {
		line += fmt.Sprintf("\tplan: %.1f", sp)
	}
	c.msg("%s", line)
}
