package allocation

import (
	"errors"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"
)

const (
	sourceDefault  = "default"
	sourceExternal = "external"
	sourceOverride = "override"
)

// Parameters tunes the allocation engine. It is read-only once built and
// safe for concurrent readers.
type Parameters struct {
	// Margin is the share of total spend left after the platform's cut
	Margin float64 `yaml:"margin" json:"margin" default:"1" validate:"gt=0,lte=1"`
	// PerMilleFees are fixed fees charged per thousand impressions
	PerMilleFees float64 `yaml:"perMilleFees" json:"perMilleFees" validate:"gte=0"`
	// BudgetBuffer over-subscribes the export set relative to the period budget
	BudgetBuffer float64 `yaml:"budgetBuffer" json:"budgetBuffer" default:"1.1" validate:"gte=1"`
	// DefaultEstimatedCostPerMille is the assumed total CPM of a node without history
	DefaultEstimatedCostPerMille float64 `yaml:"defaultEstimatedCostPerMille" json:"defaultEstimatedCostPerMille" default:"1.5" validate:"gt=0"`

	// AllocationTopTier is the deepest tier that is valued, scored or exported
	AllocationTopTier int `yaml:"allocationTopTier" json:"allocationTopTier" default:"6" validate:"gte=1"`
	// AllocationNumberOfTiersToAllocateTo is the number of tiers a cold start spreads over
	AllocationNumberOfTiersToAllocateTo int `yaml:"allocationNumberOfTiersToAllocateTo" json:"allocationNumberOfTiersToAllocateTo" default:"4" validate:"gte=1,lte=16"`
	// AllocationNumberOfNodes is the number of nodes a cold start selects across its tiers
	AllocationNumberOfNodes int `yaml:"allocationNumberOfNodes" json:"allocationNumberOfNodes" default:"100" validate:"gte=1"`
	// InitialMaxNumberOfNodes caps the rise-phase export set
	InitialMaxNumberOfNodes int `yaml:"initialMaxNumberOfNodes" json:"initialMaxNumberOfNodes" default:"50" validate:"gte=1"`
	// MaxNodesToExport caps every export set
	MaxNodesToExport int `yaml:"maxNodesToExport" json:"maxNodesToExport" default:"150" validate:"gte=1"`
	// ExperimentalNodeCount is the number of unexplored nodes injected once budget is covered
	ExperimentalNodeCount int `yaml:"experimentalNodeCount" json:"experimentalNodeCount" default:"3" validate:"gte=0"`

	// InsightThreshold is the insight score at which the campaign may leave the rise phase
	InsightThreshold float64 `yaml:"insightThreshold" json:"insightThreshold" default:"0.8" validate:"gte=0,lte=1"`
	// PhaseOneExitPercentage is the share of campaign time spent in the rise phase unless budget is met early
	PhaseOneExitPercentage float64 `yaml:"phaseOneExitPercentage" json:"phaseOneExitPercentage" default:"0.25" validate:"gte=0,lte=1"`
	// LineagePenalty multiplies the rank of nodes sandwiched between ineligible nodes
	LineagePenalty float64 `yaml:"lineagePenalty" json:"lineagePenalty" default:"0.1" validate:"gte=0"`
	// LineagePenaltyNeutral is the multiplier of unpenalized nodes
	LineagePenaltyNeutral float64 `yaml:"lineagePenaltyNeutral" json:"lineagePenaltyNeutral" default:"1" validate:"gte=0"`
	// MinBudget floors the budget handed to an experimental node
	MinBudget float64 `yaml:"minBudget" json:"minBudget" default:"1" validate:"gte=0"`

	// LookbackHours is the delivery history window used for estimates
	LookbackHours int `yaml:"lookbackHours" json:"lookbackHours" default:"168" validate:"gte=1"`
	// IneligibleAfterEligibleHours marks exported nodes ineligible after this many eligible hours without impressions
	IneligibleAfterEligibleHours int `yaml:"ineligibleAfterEligibleHours" json:"ineligibleAfterEligibleHours" default:"48" validate:"gte=0"`
	// PeriodDuration is the length of one allocation period
	PeriodDuration time.Duration `yaml:"periodDuration" json:"periodDuration" default:"24h" validate:"gte=1m"`
}

type parameterSetter func(p *Parameters, raw any) error

func floatParameter(field func(p *Parameters) *float64) parameterSetter {
	return func(p *Parameters, raw any) error {
		v, err := cast.ToFloat64E(raw)
		if err != nil {
			return err
		}
		*field(p) = v

		return nil
	}
}

func intParameter(field func(p *Parameters) *int) parameterSetter {
	return func(p *Parameters, raw any) error {
		v, err := cast.ToIntE(raw)
		if err != nil {
			return err
		}
		*field(p) = v

		return nil
	}
}

func durationParameter(field func(p *Parameters) *time.Duration) parameterSetter {
	return func(p *Parameters, raw any) error {
		v, err := cast.ToDurationE(raw)
		if err != nil {
			return err
		}
		*field(p) = v

		return nil
	}
}

//nolint:gochecknoglobals // static registry of parameter coercers
var parameterSetters = map[string]parameterSetter{
	"margin":                              floatParameter(func(p *Parameters) *float64 { return &p.Margin }),
	"perMilleFees":                        floatParameter(func(p *Parameters) *float64 { return &p.PerMilleFees }),
	"budgetBuffer":                        floatParameter(func(p *Parameters) *float64 { return &p.BudgetBuffer }),
	"defaultEstimatedCostPerMille":        floatParameter(func(p *Parameters) *float64 { return &p.DefaultEstimatedCostPerMille }),
	"allocationTopTier":                   intParameter(func(p *Parameters) *int { return &p.AllocationTopTier }),
	"allocationNumberOfTiersToAllocateTo": intParameter(func(p *Parameters) *int { return &p.AllocationNumberOfTiersToAllocateTo }),
	"allocationNumberOfNodes":             intParameter(func(p *Parameters) *int { return &p.AllocationNumberOfNodes }),
	"initialMaxNumberOfNodes":             intParameter(func(p *Parameters) *int { return &p.InitialMaxNumberOfNodes }),
	"maxNodesToExport":                    intParameter(func(p *Parameters) *int { return &p.MaxNodesToExport }),
	"experimentalNodeCount":               intParameter(func(p *Parameters) *int { return &p.ExperimentalNodeCount }),
	"insightThreshold":                    floatParameter(func(p *Parameters) *float64 { return &p.InsightThreshold }),
	"phaseOneExitPercentage":              floatParameter(func(p *Parameters) *float64 { return &p.PhaseOneExitPercentage }),
	"lineagePenalty":                      floatParameter(func(p *Parameters) *float64 { return &p.LineagePenalty }),
	"lineagePenaltyNeutral":               floatParameter(func(p *Parameters) *float64 { return &p.LineagePenaltyNeutral }),
	"minBudget":                           floatParameter(func(p *Parameters) *float64 { return &p.MinBudget }),
	"lookbackHours":                       intParameter(func(p *Parameters) *int { return &p.LookbackHours }),
	"ineligibleAfterEligibleHours":        intParameter(func(p *Parameters) *int { return &p.IneligibleAfterEligibleHours }),
	"periodDuration":                      durationParameter(func(p *Parameters) *time.Duration { return &p.PeriodDuration }),
}

// ParameterKeys returns every recognised configuration key, sorted.
func ParameterKeys() []string {
	keys := make([]string, 0, len(parameterSetters))
	for key := range parameterSetters {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	return keys
}

// DefaultParameters returns the built-in parameter values.
func DefaultParameters() *Parameters {
	p := &Parameters{}
	if err := defaults.Set(p); err != nil {
		// Tags are static; a failure here is a programming error.
		panic(err)
	}

	return p
}

// NewParameters builds parameters from the built-in defaults, then the
// external configuration, then explicit overrides. Values may be any type
// the target field can be coerced from (numbers, numeric strings, duration
// strings). A key that is unknown, uncoercible or out of range fails
// construction with a *ConfigError.
func NewParameters(external, overrides map[string]any) (*Parameters, error) {
	p := DefaultParameters()
	sources := make(map[string]string)

	for _, layer := range []struct {
		source string
		values map[string]any
	}{
		{source: sourceExternal, values: external},
		{source: sourceOverride, values: overrides},
	} {
		if err := p.apply(layer.source, layer.values, sources); err != nil {
			return nil, err
		}
	}

	if err := p.validate(sources); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Parameters) apply(source string, values map[string]any, sources map[string]string) error {
	// Sorted so the first reported error is deterministic.
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		raw := values[key]
		if raw == nil {
			continue
		}

		setter, ok := parameterSetters[key]
		if !ok {
			return &ConfigError{Key: key, Value: raw, Source: source, Err: ErrUnknownParameter}
		}

		if err := setter(p, raw); err != nil {
			return &ConfigError{Key: key, Value: raw, Source: source, Err: err}
		}
		sources[key] = source
	}

	return nil
}

func (p *Parameters) validate(sources map[string]string) error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		return strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
	})

	err := validate.Struct(p)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return &ConfigError{Key: "*", Source: sourceDefault, Err: err}
	}

	fe := validationErrs[0]

	source, ok := sources[fe.Field()]
	if !ok {
		source = sourceDefault
	}

	return &ConfigError{
		Key:    fe.Field(),
		Value:  fe.Value(),
		Source: source,
		Err:    fe,
	}
}

// Validate checks every parameter is within range.
func (p *Parameters) Validate() error {
	return p.validate(map[string]string{})
}

// PeriodHours is the period duration in hours.
func (p *Parameters) PeriodHours() float64 {
	return p.PeriodDuration.Hours()
}
