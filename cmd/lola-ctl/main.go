// lola-ctl is a diagnostic CLI for an existing lola-ipc shared region: a
// REPL (peterh/liner, lipgloss-styled tables) that dumps slot status,
// subscription counts, and transaction log state for the events of a
// configured service instance, without ever taking a reference or
// mutating shared state. The region is mapped read-write (shm.Open always
// does so), but lola-ctl only reads it. Subscription counts and
// transaction log state are not stored in the region, so the subs and
// txlog commands report the control blocks lola-ctl builds for itself,
// not those of other processes.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/score-lola/lola-ipc/internal/config"
	"github.com/score-lola/lola-ipc/pkg/control"
	"github.com/score-lola/lola-ipc/pkg/shm"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("lola-ctl", flag.ContinueOnError)

	configPath := fs.String("config", "", "path to the service instance's configuration document")
	regionPath := fs.String("region", "", "path to the shared-memory region file")
	payloadSize := fs.Int("payload-size", 64, "payload bytes per slot (config has no per-event payload size; every event is assumed uniform for diagnostics)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: lola-ctl --config <file> --region <file> [--payload-size N]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Maps an existing shared region and starts a diagnostic REPL that only reads it.")
		fmt.Fprintln(os.Stderr, "")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *configPath == "" || *regionPath == "" {
		fs.Usage()

		return fmt.Errorf("--config and --region are required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	svcConfig := toServiceConfig(cfg, *payloadSize)

	region, err := shm.Open(*regionPath, control.RegionSize(svcConfig))
	if err != nil {
		return fmt.Errorf("opening region %q: %w", *regionPath, err)
	}
	defer region.Close()

	instance, err := control.NewServiceInstance(region.Bytes(), svcConfig, nil)
	if err != nil {
		return fmt.Errorf("mapping region onto config: %w", err)
	}

	repl := newREPL(instance)

	return repl.run()
}

// toServiceConfig adapts a loaded configuration document into the
// control package's region-layout configuration. payloadSize is a CLI
// override since the configuration schema deliberately leaves
// per-event payload layout out of scope (it is type-specific, not an
// IPC-core concern).
func toServiceConfig(cfg config.Config, payloadSize int) control.ServiceConfig {
	events := make([]control.EventConfig, 0, len(cfg.Events))

	for _, ec := range cfg.Events {
		maxSubscribableSlots := ec.MaxSubscribableSlots
		if maxSubscribableSlots == 0 {
			maxSubscribableSlots = ec.NumberOfSampleSlots
		}

		events = append(events, control.EventConfig{
			EventID:              ec.EventID,
			SlotCount:            ec.NumberOfSampleSlots,
			MaxSubscribers:       ec.MaxSubscribers,
			MaxSubscribableSlots: uint16(maxSubscribableSlots),
			EnforceMaxSamples:    ec.EnforceMaxSamples,
			PayloadSize:          payloadSize,
		})
	}

	return control.ServiceConfig{
		InstanceID: cfg.InstanceID,
		AsilLevel:  cfg.AsilLevel,
		Events:     events,
	}
}
