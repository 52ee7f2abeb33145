// Command goverter-host runs the converter control loop on a Linux host,
// against the simulated plant or Raspberry Pi GPIO.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	gologging "github.com/op/go-logging"

	"goverter/config"
	"goverter/core"
	"goverter/host/console"
	"goverter/host/logging"
	"goverter/host/metrics"
	"goverter/host/rt"
	"goverter/host/serial"
	"goverter/host/status"
	"goverter/host/term"
)

var log = gologging.MustGetLogger("goverter")

var (
	configPath = flag.String("config", "", "Config file (.yaml, .toml or .json)")
	backendArg = flag.String("backend", "", "Backend override: sim or rpi")
	consoleArg = flag.String("console", "", "Key source override: stdin, term or serial")
	legsArg    = flag.String("legs", "", "Comma separated legs override, e.g. 1,2,3")
	levelArg   = flag.String("log-level", "", "Log level override")
	metricsArg = flag.String("metrics", "", "Metrics listen address override, e.g. :9100")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return nil, err
		}
	}

	if *backendArg != "" {
		cfg.Backend = *backendArg
	}
	if *consoleArg != "" {
		cfg.Console.Source = *consoleArg
	}
	if *levelArg != "" {
		cfg.Log.Level = *levelArg
	}
	if *metricsArg != "" {
		cfg.Metrics.Listen = *metricsArg
	}
	if *legsArg != "" {
		legs, err := parseLegs(*legsArg)
		if err != nil {
			return nil, err
		}
		cfg.Legs = legs
	}
	return cfg, cfg.Validate()
}

func parseLegs(s string) ([]int, error) {
	var legs []int
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("invalid leg %q", f)
		}
		legs = append(legs, n)
	}
	return legs, nil
}

// operator is the key source with the writer its echo and logs go to.
type operator struct {
	keys  console.KeySource
	out   io.Writer
	term  *term.Terminal
	close func()
}

func openOperator(cfg *config.Config) (*operator, error) {
	switch cfg.Console.Source {
	case "stdin":
		return &operator{
			keys:  console.NewReaderSource(os.Stdin, console.DefaultPoll),
			out:   os.Stdout,
			close: func() {},
		}, nil
	case "term":
		t, err := term.Open("goverter")
		if err != nil {
			return nil, err
		}
		return &operator{keys: t, out: t, term: t, close: t.Close}, nil
	case "serial":
		sc := serial.DefaultConfig(cfg.Console.Port)
		sc.Baud = cfg.Console.Baud
		port, err := serial.Open(sc)
		if err != nil {
			return nil, err
		}
		return &operator{
			keys:  serial.NewKeys(port),
			out:   serial.NewTerminalWriter(port),
			close: func() { port.Close() },
		}, nil
	default:
		return nil, fmt.Errorf("unknown console source %q", cfg.Console.Source)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	op, err := openOperator(cfg)
	if err != nil {
		return fmt.Errorf("console: %w", err)
	}
	defer op.close()

	var logConsole io.Writer = os.Stderr
	if op.term != nil {
		logConsole = op.term
	}
	var logFile io.Writer
	if cfg.Log.File != "" {
		f, err := logging.OpenFile(cfg.Log.File)
		if err != nil {
			return err
		}
		defer f.Close()
		logFile = f
	}
	if err := logging.Setup(cfg.Log.Level, logConsole, logFile); err != nil {
		return err
	}

	runID := uuid.NewString()
	log.Noticef("goverter run %s: %s on %s, legs %v, period %v", runID, cfg.Conversion, cfg.Backend, cfg.Legs, cfg.Period())

	hw, err := openBackend(cfg)
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	defer hw.close()
	hw.led.On()

	settings, err := cfg.ToSettings()
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	ctrl, err := core.NewController(hw.stage, hw.sensor, settings)
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	events := logging.NewEventLogger(gologging.MustGetLogger("loop"))
	drained := make(chan struct{})
	go func() {
		events.Drain(ctx, ctrl.Events())
		close(drained)
	}()
	// the stage is stopped before the drain ends so its events are logged
	defer func() {
		ctrl.Shutdown()
		stop()
		<-drained
	}()

	sched := core.NewScheduler(core.NewMonotonicClock(core.DefaultSpinWindow))
	sched.OnOverrun = ctrl.NoteOverrun
	sched.Setup = func() error { return rt.Apply(cfg.RT) }
	if err := sched.RegisterPeriodic(ctrl.Step, ctrl.Period()); err != nil {
		return err
	}

	con := console.New(op.keys, op.out, ctrl.Setpoints(), console.Options{
		AmplitudeStep: cfg.AmplitudeStep,
		FrequencyStep: cfg.FrequencyStep,
		OnQuit:        stop,
	})
	if op.term == nil {
		fmt.Fprint(op.out, con.Registry().Menu())
	}
	if err := sched.RegisterBackground("console", con.Task()); err != nil {
		return err
	}

	var renderer status.Renderer
	if op.term != nil {
		renderer = op.term
	} else {
		renderer = status.NewLineRenderer(os.Stdout, cfg.Display.Color)
	}
	display := status.NewDisplay(ctrl, hw.led, cfg.DisplayInterval(), renderer)
	if err := sched.RegisterBackground("status", display.Task()); err != nil {
		return err
	}

	if cfg.Metrics.Listen != "" {
		srv, err := metrics.NewServer(cfg.Metrics.Listen, ctrl, runID, ctrl.Conversion(),
			logging.Writer{Log: gologging.MustGetLogger("http")})
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	if err := sched.Run(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	log.Noticef("shutting down after %d cycles, %d overruns", ctrl.Stats().Cycles, sched.Overruns())
	return nil
}
