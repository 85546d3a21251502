package allocation

import (
	"errors"
	"fmt"
)

var (
	// ErrNilAllocation is returned when a nil allocation is passed to the engine
	ErrNilAllocation = errors.New("allocation is nil")
	// ErrNoNodes is returned when an allocation has no valued nodes
	ErrNoNodes = errors.New("allocation has no nodes")
	// ErrNilParameters is returned when the engine is built without parameters
	ErrNilParameters = errors.New("allocation parameters are nil")
	// ErrNilCostModel is returned when the engine is built without a cost model
	ErrNilCostModel = errors.New("cost model is nil")
	// ErrInvalidParameter is the parent of every configuration error
	ErrInvalidParameter = errors.New("invalid allocation parameter")
	// ErrUnknownParameter is returned for configuration keys that map to no parameter
	ErrUnknownParameter = errors.New("unknown allocation parameter")
	// ErrInvalidCampaignWindow is returned when the campaign ends before it starts
	ErrInvalidCampaignWindow = errors.New("campaign end must be after campaign start")
)

// ConfigError describes a parameter that could not be applied.
type ConfigError struct {
	// Key is the parameter name as it appears in configuration
	Key string
	// Value is the rejected raw value
	Value any
	// Source names where the value came from: default, external or override
	Source string
	// Err is the underlying coercion or validation failure
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s value %v (%s): %v", ErrInvalidParameter, e.Key, e.Value, e.Source, e.Err)
}

// Unwrap exposes both ErrInvalidParameter and the underlying failure to errors.Is.
func (e *ConfigError) Unwrap() []error {
	return []error{ErrInvalidParameter, e.Err}
}
