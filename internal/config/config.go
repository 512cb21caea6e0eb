// Package config loads the shared-memory layout configuration for one
// service instance: its ASIL level, allowed consumer/provider uid sets,
// and the per-event slot counts and subscription limits it names
// as configuration inputs. Parsing follows the
// internal/ticket/config.go pattern: hujson-standardized JSONC decoded
// with encoding/json.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// EventConfig is one event or field's configuration; the json tags name
// the configuration keys.
type EventConfig struct {
	EventID                 string `json:"event_id"`
	NumberOfSampleSlots     int    `json:"number_of_sample_slots"`
	MaxSubscribers          int    `json:"max_subscribers"`
	MaxSubscribableSlots    int    `json:"max_subscribable_slots"`
	EnforceMaxSamples       bool   `json:"enforce_max_samples"`
	MaxConcurrentAllocations int   `json:"max_concurrent_allocations,omitempty"`
}

// Config is one service instance's configuration document.
type Config struct {
	InstanceID       string        `json:"instance_id"`
	AsilLevel        string        `json:"asil_level"`
	SharedMemorySize int           `json:"shared_memory_size"`
	AllowedConsumer  []string      `json:"allowed_consumer,omitempty"`
	AllowedProvider  []string      `json:"allowed_provider,omitempty"`
	Events           []EventConfig `json:"events"`
}

// Load reads and validates a configuration document at path. The file
// may be JSONC (comments and trailing commas), standardized via hujson
// before being decoded.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

// Validate checks the structural invariants required of a
// configuration document, independent of any previously loaded config
// (see ValidateTransition for the shrink-rejection rule that does
// depend on prior state).
func Validate(cfg Config) error {
	if cfg.InstanceID == "" {
		return ErrInstanceIDEmpty
	}

	if cfg.AsilLevel == "" {
		return ErrAsilLevelEmpty
	}

	if len(cfg.Events) == 0 {
		return ErrNoEvents
	}

	seen := make(map[string]bool, len(cfg.Events))

	for _, ec := range cfg.Events {
		if ec.EventID == "" {
			return ErrEventIDEmpty
		}

		if seen[ec.EventID] {
			return fmt.Errorf("%w: %q", ErrDuplicateEventID, ec.EventID)
		}

		seen[ec.EventID] = true

		if ec.NumberOfSampleSlots <= 0 {
			return fmt.Errorf("%w: event %q", ErrSlotCountNotPositive, ec.EventID)
		}

		if ec.MaxSubscribers <= 0 {
			return fmt.Errorf("%w: event %q", ErrMaxSubscribersNotPositive, ec.EventID)
		}
	}

	return nil
}

// ValidateTransition additionally rejects a reload that would shrink an
// event's number_of_sample_slots below the slot count already live in
// shared memory (a configuration cannot retroactively
// violate the 'never resized' invariant"). liveSlotCount is called once
// per configured event; a missing event (liveSlotCount returns ok=false)
// is assumed newly added and is not checked.
func ValidateTransition(next Config, liveSlotCount func(eventID string) (count int, ok bool)) error {
	for _, ec := range next.Events {
		live, ok := liveSlotCount(ec.EventID)
		if !ok {
			continue
		}

		if ec.NumberOfSampleSlots < live {
			return fmt.Errorf("%w: event %q: configured %d below live %d",
				ErrSlotCountWouldShrink, ec.EventID, ec.NumberOfSampleSlots, live)
		}
	}

	return nil
}
