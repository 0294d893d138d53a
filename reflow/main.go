package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itohio/goreflow/pkg/config"
	"github.com/itohio/goreflow/pkg/device"
	"github.com/itohio/goreflow/pkg/monitor"
	"github.com/itohio/goreflow/pkg/reflow"
	"github.com/itohio/goreflow/pkg/report"
	"github.com/itohio/goreflow/pkg/session"
	"github.com/itohio/goreflow/pkg/thermistor"
	"github.com/itohio/goreflow/pkg/trajectory"
	"github.com/itohio/goreflow/pkg/web"
)

// monitorWindow covers the longest profile with room to spare.
const monitorWindow = 20 * time.Minute

func main() {
	var (
		portFlag      = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyUSB0)")
		configFlag    = flag.String("config", "reflow.yaml", "Configuration file path")
		mockFlag      = flag.Bool("mock", false, "Use a simulated oven instead of the serial port")
		recordFlag    = flag.String("record", "", "SQLite database to record sessions in (overrides config)")
		profileFlag   = flag.String("profile", "", "Profile to load at startup (overrides config)")
		calibrateFlag = flag.Bool("calibrate", false, "Fit Steinhart-Hart coefficients from the configured calibration points, save and exit")
		portsFlag     = flag.Bool("ports", false, "List serial ports and exit")
		httpFlag      = flag.String("http", "", "Serve the web view on this address (overrides config)")
		sessionsFlag  = flag.Bool("sessions", false, "List recorded sessions and exit")
		reportFlag    = flag.String("report", "", "Render the chart of a recorded session and exit")
		outFlag       = flag.String("out", "report.html", "Output file for -report")
	)
	flag.Parse()

	if *portsFlag {
		listPorts()
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *calibrateFlag {
		calibrate(cfg, *configFlag)
		return
	}

	// Command line overrides
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *recordFlag != "" {
		cfg.Record.Path = *recordFlag
	}
	if *profileFlag != "" {
		cfg.Bake.Profile = *profileFlag
	}
	if *httpFlag != "" {
		cfg.HTTP.Addr = *httpFlag
	}

	if *sessionsFlag || *reportFlag != "" {
		if cfg.Record.Path == "" {
			log.Fatalf("No session database configured, use -record")
		}
		if *sessionsFlag {
			listSessions(cfg.Record.Path)
		} else {
			renderReport(cfg, *reportFlag, *outFlag)
		}
		return
	}

	lib, err := trajectory.NewLibrary(cfg.Profiles, cfg.Bake.Profile)
	if err != nil {
		log.Fatalf("Failed to load profiles: %v", err)
	}

	opts, err := reflow.OptionsFromConfig(cfg)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	console := newConsole(cfg, *configFlag, os.Stdout, stop)

	mon := monitor.New(monitorWindow)
	mon.OnUpdate(console.Trend)
	sinks := reflow.Sinks{mon, console}

	var rec *session.Recorder
	if cfg.Record.Path != "" {
		rec, err = session.Open(cfg.Record.Path)
		if err != nil {
			log.Fatalf("Failed to open session database: %v", err)
		}
		sinks = append(sinks, rec)
	}
	opts.Sink = sinks

	transport, err := openTransport(cfg, opts.Converter, *mockFlag)
	if err != nil {
		log.Fatalf("Failed to open transport: %v", err)
	}

	oven, err := reflow.New(transport, lib, opts)
	if err != nil {
		transport.Close()
		log.Fatalf("Failed to create oven: %v", err)
	}
	console.attach(oven)

	if err := oven.Start(); err != nil {
		transport.Close()
		log.Fatalf("Failed to start oven: %v", err)
	}

	// A transport fault ends the run.
	go func() {
		for err := range oven.Faults() {
			log.Printf("Oven fault: %v", err)
			stop()
		}
	}()

	go func() {
		if err := console.Run(ctx, os.Stdin); err != nil {
			log.Printf("Console: %v", err)
		}
	}()

	var webDone chan struct{}
	if cfg.HTTP.Addr != "" {
		// A nil *Recorder must not reach the interface.
		var sessions web.Sessions
		if rec != nil {
			sessions = rec
		}
		srv := web.New(oven, mon, sessions, web.WithMaxPoints(cfg.HTTP.MaxPoints))
		webDone = make(chan struct{})
		go func() {
			defer close(webDone)
			if err := srv.ListenAndServe(ctx, cfg.HTTP.Addr); err != nil {
				log.Printf("Web server: %v", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	fmt.Println()

	if err := oven.Stop(); err != nil {
		log.Printf("Failed to stop oven cleanly: %v", err)
	}
	if webDone != nil {
		<-webDone
	}
	if rec != nil {
		if err := rec.Close(); err != nil {
			log.Printf("Failed to close session database: %v", err)
		}
	}
}

func openTransport(cfg *config.Config, conv thermistor.Converter, useMock bool) (device.Transport, error) {
	if useMock {
		fmt.Println("Using simulated oven")
		return device.NewMock(&cfg.Mock, conv), nil
	}

	s, err := device.Open(cfg.Serial.Port, device.PortOptions{
		BaudRate: cfg.Serial.BaudRate,
		DataBits: cfg.Serial.DataBits,
		StopBits: cfg.Serial.StopBits,
		Parity:   cfg.Serial.Parity,
	})
	if err != nil {
		return nil, err
	}
	fmt.Printf("Connected to serial port: %s\n", s.Name())
	return s, nil
}

func listPorts() {
	ports, err := device.Ports()
	if err != nil {
		log.Fatalf("Failed to list ports: %v", err)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return
	}
	for _, p := range ports {
		fmt.Println(p.Name)
	}
}

func listSessions(path string) {
	rec, err := session.Open(path)
	if err != nil {
		log.Fatalf("Failed to open session database: %v", err)
	}
	defer rec.Close()

	sessions, err := rec.Sessions()
	if err != nil {
		log.Fatalf("Failed to list sessions: %v", err)
	}
	for _, s := range sessions {
		profile := s.Profile
		if profile == "" {
			profile = "-"
		}
		fmt.Printf("%s\t%s\t%s\t%d samples\tpeak %.1f\n", s.ID, s.StartedAt.Format(time.DateTime), profile, s.Samples, s.Peak)
	}
}

func renderReport(cfg *config.Config, id, out string) {
	rec, err := session.Open(cfg.Record.Path)
	if err != nil {
		log.Fatalf("Failed to open session database: %v", err)
	}
	defer rec.Close()

	curves, err := report.FromSession(rec, id)
	if err != nil {
		log.Fatalf("Failed to load session: %v", err)
	}

	f, err := os.Create(out)
	if err != nil {
		log.Fatalf("Failed to create report: %v", err)
	}
	if err := report.Render(f, cfg.HTTP.MaxPoints, curves); err != nil {
		f.Close()
		log.Fatalf("Failed to render report: %v", err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("Failed to write report: %v", err)
	}
	fmt.Printf("Report written to %s\n", out)
}

func calibrate(cfg *config.Config, path string) {
	sh, err := thermistor.Fit(cfg.Sensor.Calibration)
	if err != nil {
		log.Fatalf("Calibration failed: %v", err)
	}
	cfg.Sensor.SteinhartHart = sh
	if err := cfg.Save(path); err != nil {
		log.Fatalf("Failed to save configuration: %v", err)
	}
	fmt.Printf("Steinhart-Hart coefficients saved to %s:\n  a: %g\n  b: %g\n  c: %g\n  d: %g\n", path, sh.A, sh.B, sh.C, sh.D)
}
