package config

import "errors"

// Sentinel errors for configuration loading and validation, named in the
// internal/ticket/errors.go style.
var (
	ErrConfigFileRead            = errors.New("cannot read config file")
	ErrConfigInvalid             = errors.New("invalid config file")
	ErrInstanceIDEmpty           = errors.New("instance_id cannot be empty")
	ErrAsilLevelEmpty            = errors.New("asil_level cannot be empty")
	ErrNoEvents                  = errors.New("config must declare at least one event")
	ErrEventIDEmpty              = errors.New("event_id cannot be empty")
	ErrDuplicateEventID          = errors.New("duplicate event_id")
	ErrSlotCountNotPositive      = errors.New("number_of_sample_slots must be > 0")
	ErrMaxSubscribersNotPositive = errors.New("max_subscribers must be > 0")
	ErrSlotCountWouldShrink      = errors.New("number_of_sample_slots would shrink below live slot count")
)
