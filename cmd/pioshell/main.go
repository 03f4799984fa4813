// Command pioshell is an interactive shell for poking at steppers, servos,
// motors and the ADC through one shared daemon connection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell/v2"

	"pio"
)

type session struct {
	ctx    context.Context
	cfg    pio.Config
	mgr    *pio.ConnectionManager
	logger *pio.EventLogger

	workers map[string]*pio.Worker
	adc     *pio.ADC
	servos  map[int]*pio.Servo
	motors  map[[2]int]*pio.Motor
}

func newSession(ctx context.Context, cfg pio.Config) (*session, error) {
	logger := pio.NewEventLogger(cfg.LogFile)
	s := &session{
		ctx:     ctx,
		cfg:     cfg,
		mgr:     pio.NewConnectionManager(cfg.Host, cfg.Port, nil, pio.WithManagerLogger(logger)),
		logger:  logger,
		workers: make(map[string]*pio.Worker),
		servos:  make(map[int]*pio.Servo),
		motors:  make(map[[2]int]*pio.Motor),
	}
	for _, wc := range cfg.Workers {
		st, err := pio.NewStepper(ctx, s.mgr, wc.StepperConfig)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("worker %s: %w", wc.Name, err), s.close())
		}
		w := pio.NewWorker(wc.Name, st, pio.WithEventLogger(logger))
		w.Start()
		s.workers[wc.Name] = w
	}
	return s, nil
}

func (s *session) workerNames(args []string) []string {
	names := make([]string, 0, len(s.workers))
	for n := range s.workers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *session) worker(name string) (*pio.Worker, error) {
	w, ok := s.workers[name]
	if !ok {
		return nil, fmt.Errorf("no worker named %q", name)
	}
	return w, nil
}

func (s *session) servo(pin int) (*pio.Servo, error) {
	if sv, ok := s.servos[pin]; ok {
		return sv, nil
	}
	sv, err := pio.NewServo(s.ctx, s.mgr, pin)
	if err != nil {
		return nil, err
	}
	s.servos[pin] = sv
	return sv, nil
}

func (s *session) motor(pin1, pin2 int) (*pio.Motor, error) {
	key := [2]int{pin1, pin2}
	if mo, ok := s.motors[key]; ok {
		return mo, nil
	}
	mo, err := pio.NewMotor(s.ctx, s.mgr, pin1, pin2, 0)
	if err != nil {
		return nil, err
	}
	s.motors[key] = mo
	return mo, nil
}

func (s *session) openADC() (*pio.ADC, error) {
	if s.adc != nil {
		return s.adc, nil
	}
	ac := s.cfg.ADC
	if ac == nil {
		ac = pio.DefaultConfig().ADC
	}
	adc, err := pio.NewADC(s.ctx, s.mgr, ac.ChipSelect, ac.Aux)
	if err != nil {
		return nil, err
	}
	s.adc = adc
	return adc, nil
}

// close stops every worker and closes every device, so the daemon
// connection is released.
func (s *session) close() error {
	var errs []error
	for _, w := range s.workers {
		w.RequestStop()
	}
	for _, w := range s.workers {
		errs = append(errs, w.Wait())
	}
	for _, sv := range s.servos {
		errs = append(errs, sv.Close())
	}
	for _, mo := range s.motors {
		errs = append(errs, mo.Close())
	}
	if s.adc != nil {
		errs = append(errs, s.adc.Close())
	}
	return errors.Join(errs...)
}

func parseDirection(arg string) (bool, error) {
	switch strings.ToLower(arg) {
	case "fwd", "forward", "f":
		return true, nil
	case "back", "backward", "b":
		return false, nil
	}
	return false, fmt.Errorf("direction %q: want fwd or back", arg)
}

func atoi(args []string, i int, name string) (int, error) {
	v, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, fmt.Errorf("%s %q: not a number", name, args[i])
	}
	return v, nil
}

func usage(c *ishell.Context, n int) bool {
	if len(c.Args) < n {
		c.Println("usage:", c.Cmd.Help)
		return false
	}
	return true
}

func main() {
	configPath := flag.String("config", pio.DefaultConfigPath, "configuration file")
	flag.Parse()

	cfgMgr := pio.NewConfigManager(*configPath)
	if err := cfgMgr.Load(); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := newSession(ctx, cfgMgr.Get())
	if err != nil {
		log.Fatalf("initialisation error: %v", err)
	}

	shell := ishell.New()
	shell.Println("pio shell, connected to", s.mgr.Addr())

	shell.AddCmd(&ishell.Cmd{
		Name:      "step",
		Completer: s.workerNames,
		Help:      "step <worker> <count> <delay> <fwd|back>",
		Func: func(c *ishell.Context) {
			if !usage(c, 4) {
				return
			}
			w, err := s.worker(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			steps, err := atoi(c.Args, 1, "count")
			if err != nil {
				c.Err(err)
				return
			}
			delay, err := time.ParseDuration(c.Args[2])
			if err != nil {
				c.Err(err)
				return
			}
			forward, err := parseDirection(c.Args[3])
			if err != nil {
				c.Err(err)
				return
			}
			cmd := pio.Command{Steps: steps, Delay: delay, Forward: forward}
			if err := w.Submit(cmd); err != nil {
				c.Err(err)
				return
			}
			c.Printf("%s: %v\n", w.Name(), cmd)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "abort",
		Completer: s.workerNames,
		Help:      "abort <worker>",
		Func: func(c *ishell.Context) {
			if !usage(c, 1) {
				return
			}
			w, err := s.worker(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			w.RequestAbort()
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "status",
		Help: "status",
		Func: func(c *ishell.Context) {
			c.Printf("daemon %s: %d handles\n", s.mgr.Addr(), s.mgr.Refs())
			for _, name := range s.workerNames(nil) {
				w := s.workers[name]
				c.Printf("%-12s %-10v steps=%d commands=%d\n", name, w.State(), w.Steps(), w.Commands())
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "adc",
		Help: "adc <channel>",
		Func: func(c *ishell.Context) {
			if !usage(c, 1) {
				return
			}
			ch, err := atoi(c.Args, 0, "channel")
			if err != nil {
				c.Err(err)
				return
			}
			adc, err := s.openADC()
			if err != nil {
				c.Err(err)
				return
			}
			v, err := adc.Read(ch)
			if err != nil {
				c.Err(err)
				return
			}
			c.Println(v)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "servo",
		Help: "servo <pin> <position -100..100>",
		Func: func(c *ishell.Context) {
			if !usage(c, 2) {
				return
			}
			pin, err := atoi(c.Args, 0, "pin")
			if err != nil {
				c.Err(err)
				return
			}
			pos, err := atoi(c.Args, 1, "position")
			if err != nil {
				c.Err(err)
				return
			}
			sv, err := s.servo(pin)
			if err != nil {
				c.Err(err)
				return
			}
			if err := sv.Set(pos); err != nil {
				c.Err(err)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "motor",
		Help: "motor <pin1> <pin2> <duty 0..100> <fwd|back>",
		Func: func(c *ishell.Context) {
			if !usage(c, 4) {
				return
			}
			pin1, err := atoi(c.Args, 0, "pin1")
			if err != nil {
				c.Err(err)
				return
			}
			pin2, err := atoi(c.Args, 1, "pin2")
			if err != nil {
				c.Err(err)
				return
			}
			duty, err := atoi(c.Args, 2, "duty")
			if err != nil {
				c.Err(err)
				return
			}
			forward, err := parseDirection(c.Args[3])
			if err != nil {
				c.Err(err)
				return
			}
			mo, err := s.motor(pin1, pin2)
			if err != nil {
				c.Err(err)
				return
			}
			if err := mo.Go(duty, forward); err != nil {
				c.Err(err)
			}
		},
	})

	shell.Run()

	if err := s.close(); err != nil {
		log.Printf("shutdown: %v", err)
	}
	fmt.Println("Done")
}
