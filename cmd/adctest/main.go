// Command adctest prints one MCP3008 channel once per interval until it is
// interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"time"

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
	ac := cfg.ADC
	if ac == nil {
		ac = pio.DefaultConfig().ADC
	}
	interval := ac.Interval
	if interval <= 0 {
		interval = time.Second
	}

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()
	fmt.Println("Ctrl+C to exit")

	mgr := pio.NewConnectionManager(cfg.Host, cfg.Port, nil,
		pio.WithManagerLogger(pio.NewEventLogger(cfg.LogFile)))
	adc, err := pio.NewADC(ctx, mgr, ac.ChipSelect, ac.Aux)
	if err != nil {
		log.Fatalf("initialisation error: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for ctx.Err() == nil {
		v, err := adc.Read(ac.Channel)
		if err != nil {
			log.Printf("read channel %d: %v", ac.Channel, err)
			break
		}
		fmt.Println(v)
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}

	if err := adc.Close(); err != nil {
		log.Printf("close: %v", err)
	}
	fmt.Println("Done")
}
