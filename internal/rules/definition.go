package rules

import (
	"fmt"
	"time"

	"github.com/healthstack/healthwatch/internal/models"
)

// Kind discriminates the rule algorithms.
type Kind string

const (
	KindMaxFailureCount   Kind = "max_failure_count"
	KindFailurePercentage Kind = "failure_percentage"
	KindTimeBetween       Kind = "time_between"
)

// Duration wraps time.Duration so definitions can carry "30s" / "5m" strings in
// both YAML and JSON.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", d.Duration.String())), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("duration must be a quoted string: %s", b)
	}
	return d.parse(string(b[1 : len(b)-1]))
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// Definition is the serialized form of a rule, as stored in the document store
// or the rules file. Kind selects the algorithm; the remaining fields are
// interpreted per kind.
type Definition struct {
	ID        string            `json:"id,omitempty" yaml:"id,omitempty"`
	Tenant    string            `json:"tenant" yaml:"tenant"`
	Name      string            `json:"name" yaml:"name"`
	Kind      Kind              `json:"kind" yaml:"kind"`
	Level     models.AlarmLevel `json:"level" yaml:"level"`
	Operation string            `json:"operation,omitempty" yaml:"operation,omitempty"`
	Window    Duration          `json:"window" yaml:"window"`

	// max_failure_count
	MaxFailures int `json:"max_failures,omitempty" yaml:"max_failures,omitempty"`

	// failure_percentage
	MaxPercentage int `json:"max_percentage,omitempty" yaml:"max_percentage,omitempty"`
	MinOperations int `json:"min_operations,omitempty" yaml:"min_operations,omitempty"`

	// time_between
	StartOperation string `json:"start_operation,omitempty" yaml:"start_operation,omitempty"`
	EndOperation   string `json:"end_operation,omitempty" yaml:"end_operation,omitempty"`
}

// Validate checks the definition is complete for its kind.
func (d *Definition) Validate() error {
	if d.Tenant == "" {
		return fmt.Errorf("rule %q: tenant is required", d.Name)
	}
	if d.Name == "" {
		return fmt.Errorf("rule for tenant %q: name is required", d.Tenant)
	}
	if d.Window.Duration <= 0 {
		return fmt.Errorf("rule %q: window must be positive", d.Name)
	}
	switch d.Level {
	case models.AlarmHigh, models.AlarmMedium, models.AlarmLow:
	default:
		return fmt.Errorf("rule %q: unknown level %q", d.Name, d.Level)
	}
	switch d.Kind {
	case KindMaxFailureCount:
		if d.MaxFailures <= 0 {
			return fmt.Errorf("rule %q: max_failures must be positive", d.Name)
		}
	case KindFailurePercentage:
		if d.MaxPercentage <= 0 || d.MaxPercentage > 100 {
			return fmt.Errorf("rule %q: max_percentage must be in 1-100", d.Name)
		}
		if d.MinOperations <= 0 {
			return fmt.Errorf("rule %q: min_operations must be positive", d.Name)
		}
	case KindTimeBetween:
		paired := d.StartOperation != "" || d.EndOperation != ""
		switch {
		case paired && (d.StartOperation == "" || d.EndOperation == ""):
			return fmt.Errorf("rule %q: start_operation and end_operation must both be set", d.Name)
		case paired && d.StartOperation == d.EndOperation:
			return fmt.Errorf("rule %q: start and end operations must differ", d.Name)
		case !paired && d.Operation == "":
			return fmt.Errorf("rule %q: either operation or a start/end operation pair is required", d.Name)
		}
	default:
		return fmt.Errorf("rule %q: unknown kind %q", d.Name, d.Kind)
	}
	return nil
}

// Build validates the definition and constructs the live rule.
func (d *Definition) Build() (Rule, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	switch d.Kind {
	case KindMaxFailureCount:
		return NewMaxFailureCount(d.Tenant, d.Name, d.Operation, d.Level, d.Window.Duration, d.MaxFailures), nil
	case KindFailurePercentage:
		return NewFailurePercentage(d.Tenant, d.Name, d.Operation, d.Level, d.Window.Duration, d.MaxPercentage, d.MinOperations), nil
	case KindTimeBetween:
		return NewTimeBetween(d.Tenant, d.Name, d.Operation, d.Level, d.Window.Duration, d.StartOperation, d.EndOperation), nil
	}
	return nil, fmt.Errorf("rule %q: unknown kind %q", d.Name, d.Kind)
}

// BuildAll builds every definition, stopping at the first invalid one.
func BuildAll(defs []Definition) ([]Rule, error) {
	out := make([]Rule, 0, len(defs))
	for i := range defs {
		r, err := defs[i].Build()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
