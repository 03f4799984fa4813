// Command steppertest runs the stepper plans from the configuration file
// until every plan is done or the process is interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"

	"golang.org/x/sys/unix"

	"pio"
)

func main() {
	configPath := flag.String("config", pio.DefaultConfigPath, "configuration file")
	flag.Parse()

	cfgMgr := pio.NewConfigManager(*configPath)
	if err := cfgMgr.Load(); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	cfg := cfgMgr.Get()
	logger := pio.NewEventLogger(cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()
	fmt.Println("Ctrl+C to exit")

	mgr := pio.NewConnectionManager(cfg.Host, cfg.Port, nil, pio.WithManagerLogger(logger))
	coord := pio.NewCoordinator(
		pio.WithPollInterval(cfg.PollInterval),
		pio.WithCoordinatorLogger(logger),
		pio.WithAlerts(pio.NewAlertHandlers(cfg.Alerts)...),
	)
	if err := coord.AddSteppers(ctx, mgr, cfg.Workers); err != nil {
		log.Fatalf("initialisation error: %v", err)
	}
	err := coord.Run(ctx)
	fmt.Println("Done")
	if err != nil {
		log.Fatalf("worker failed: %v", err)
	}
}
