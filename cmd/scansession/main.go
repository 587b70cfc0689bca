package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"duplexscan/pkg/capability"
	"duplexscan/pkg/config"
	"duplexscan/pkg/hardware"
	"duplexscan/pkg/log"
	"duplexscan/pkg/scan"
	"duplexscan/pkg/store"
)

func main() {
	summary, err := run(os.Args[1:])
	if err != nil {
		log.Fatalf("Scan session failed: %v", err)
	}
	printSummary(summary)
}

// run executes one scan session. Everything it opens is closed before it
// returns, including on failure.
func run(args []string) (scan.Summary, error) {
	cfg, err := config.NewConfig(args)
	if err != nil {
		return scan.Summary{}, fmt.Errorf("invalid configuration: %w", err)
	}

	mgr, err := hardware.New(cfg)
	if err != nil {
		return scan.Summary{}, fmt.Errorf("failed to initialize device layer: %w", err)
	}

	var db store.DB
	if cfg.DBPath != "" {
		bolt, err := store.NewBoltDB(cfg.DBPath)
		if err != nil {
			return scan.Summary{}, fmt.Errorf("failed to open profile database: %w", err)
		}
		defer func() {
			if err := bolt.Close(); err != nil {
				log.Warn("Closing profile database: %v", err)
			}
		}()
		db = bolt
	}

	engine, err := scan.NewEngine(mgr, scan.Options{
		Listener:  consoleListener{},
		DB:        db,
		Threshold: cfg.Threshold,
		Workers:   cfg.Workers,
		ForceUI:   cfg.ShowUI,
	})
	if err != nil {
		return scan.Summary{}, fmt.Errorf("failed to open session: %w", err)
	}

	summary, err := runSession(cfg, engine)
	report := engine.Close()
	if faults := report.Faults(); len(faults) > 0 {
		log.Warn("Session closed with %d fault(s): %s", len(faults), report)
	}
	return summary, err
}

// runSession selects the device, applies the requested settings and runs
// one batch. An interrupt stops the batch after the page in transfer.
func runSession(cfg *config.Config, engine *scan.Engine) (scan.Summary, error) {
	name := cfg.Device
	if name == "" {
		names, err := engine.ListDevices()
		if err != nil {
			return scan.Summary{}, fmt.Errorf("failed to list devices: %w", err)
		}
		if len(names) == 0 {
			return scan.Summary{}, fmt.Errorf("no devices found")
		}
		name = names[0]
	}
	if err := engine.SelectDevice(name); err != nil {
		return scan.Summary{}, fmt.Errorf("failed to select %s: %w", name, err)
	}

	requests := []struct{ name, value string }{
		{capability.NamePixelType, cfg.PixelType},
		{capability.NamePaperSize, cfg.PaperSize},
		{capability.NameDuplex, cfg.Duplex},
	}
	if cfg.Resolution > 0 {
		requests = append(requests, struct{ name, value string }{
			capability.NameResolution, strconv.FormatFloat(cfg.Resolution, 'f', -1, 64),
		})
	}
	for _, r := range requests {
		if r.value == "" {
			continue
		}
		if err := engine.SetCapability(r.name, r.value); err != nil {
			return scan.Summary{}, fmt.Errorf("failed to set %s=%s: %w", r.name, r.value, err)
		}
	}

	root, err := cfg.PrepareOutputRoot()
	if err != nil {
		return scan.Summary{}, err
	}
	run, err := engine.StartRun(scan.RunOptions{
		Threshold:  cfg.Threshold,
		OutputRoot: root,
		Image:      cfg.Image,
		Document:   cfg.Document,
		Unit:       cfg.TimeUnit,
	})
	if err != nil {
		return scan.Summary{}, fmt.Errorf("failed to start scanning: %w", err)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)
	select {
	case <-run.Done():
	case <-interrupt:
		log.Info("Interrupted, stopping after the current page")
		engine.StopRun()
		<-run.Done()
	}

	if cfg.PrintMetrics {
		run.Recorder().PrintTree(os.Stdout, 1)
	}
	return run.Summary(), nil
}
