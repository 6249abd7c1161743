package fed

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultMaxIterations bounds exchange rounds per step when the config is
// silent.
const DefaultMaxIterations = 5

// SimConfig holds the federation time window.
type SimConfig struct {
	StartS float64 `yaml:"start_s"` // federation epoch, seconds
	EndS   float64 `yaml:"end_s"`   // federation end time, seconds
	DtS    float64 `yaml:"dt_s"`    // default federate step, seconds
}

// FederateConfig declares one federate's coordination parameters. Which
// simulator backs the federate is decided by the caller (see cmd/), not here.
type FederateConfig struct {
	Name     string  `yaml:"name"`
	StepS    float64 `yaml:"step_s"`    // native step; 0 = sim.dt_s
	TimeoutS float64 `yaml:"timeout_s"` // wall-clock advance budget; 0 = unlimited
}

// TopicConfig declares one bus topic with its single publisher.
type TopicConfig struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"` // float | string | float_map | string_map
	Publisher   string   `yaml:"publisher"`
	Subscribers []string `yaml:"subscribers"`
}

// ConvergenceConfig tunes the per-step iteration protocol. Tolerance is a
// pointer so an explicit 0 (exact-match convergence) is distinguishable from
// unset; leaving it out, or the YAML spelling ".inf", disables iteration.
// Strict turns hitting the iteration cap without convergence from a warning
// into a step failure.
type ConvergenceConfig struct {
	Tolerance     *float64 `yaml:"tolerance"`
	MaxIterations int      `yaml:"max_iterations"`
	Strict        bool     `yaml:"strict"`
}

// Config is the coordination substrate's full configuration surface.
type Config struct {
	Sim             SimConfig         `yaml:"sim"`
	Federates       []FederateConfig  `yaml:"federates"`
	Topics          []TopicConfig     `yaml:"topics"`
	Convergence     ConvergenceConfig `yaml:"convergence"`
	ToleratePartial bool              `yaml:"tolerate_partial"` // keep running when a federate fails
	StallRounds     int               `yaml:"stall_rounds"`     // flat rounds before a stall diagnostic
}

// LoadConfig reads and validates a YAML federation config.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{ToleratePartial: true}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("parse %s: %v", path, err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks internal consistency. All violations are
// ConfigurationErrors, which abort before Run starts.
func (c *Config) Validate() error {
	if c.Sim.EndS <= c.Sim.StartS {
		return &ConfigurationError{Reason: fmt.Sprintf("end_s %g must exceed start_s %g", c.Sim.EndS, c.Sim.StartS)}
	}
	if len(c.Federates) == 0 {
		return &ConfigurationError{Reason: "no federates declared"}
	}
	if c.Convergence.MaxIterations < 0 {
		return &ConfigurationError{Reason: "max_iterations must be >= 0"}
	}
	if c.Convergence.Tolerance != nil && *c.Convergence.Tolerance < 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("tolerance must be >= 0, got %g", *c.Convergence.Tolerance)}
	}

	names := make(map[string]bool, len(c.Federates))
	for _, f := range c.Federates {
		if f.Name == "" {
			return &ConfigurationError{Reason: "federate with empty name"}
		}
		if names[f.Name] {
			return &ConfigurationError{Reason: fmt.Sprintf("duplicate federate %q", f.Name)}
		}
		names[f.Name] = true
		if f.StepS < 0 || (f.StepS == 0 && c.Sim.DtS <= 0) {
			return &ConfigurationError{Reason: fmt.Sprintf("federate %q has no usable step size", f.Name)}
		}
	}

	topics := make(map[string]bool, len(c.Topics))
	for _, t := range c.Topics {
		if t.Name == "" {
			return &ConfigurationError{Reason: "topic with empty name"}
		}
		if topics[t.Name] {
			return &ConfigurationError{Reason: fmt.Sprintf("topic %q declared twice", t.Name)}
		}
		topics[t.Name] = true
		if !KnownValueType(ValueType(t.Type)) {
			return &ConfigurationError{Reason: fmt.Sprintf("topic %q: unknown type %q", t.Name, t.Type)}
		}
		if !names[t.Publisher] {
			return &ConfigurationError{Reason: fmt.Sprintf("topic %q: publisher %q is not a declared federate", t.Name, t.Publisher)}
		}
		for _, s := range t.Subscribers {
			if !names[s] {
				return &ConfigurationError{Reason: fmt.Sprintf("topic %q: subscriber %q is not a declared federate", t.Name, s)}
			}
		}
	}
	return nil
}

// Start returns the federation start time.
func (c *Config) Start() SimTime { return SimTime(c.Sim.StartS) }

// End returns the federation end time.
func (c *Config) End() SimTime { return SimTime(c.Sim.EndS) }

// StepFor returns a federate's native step, falling back to sim.dt_s.
func (c *Config) StepFor(f FederateConfig) SimTime {
	if f.StepS > 0 {
		return SimTime(f.StepS)
	}
	return SimTime(c.Sim.DtS)
}

// TimeoutFor returns a federate's wall-clock advance budget.
func (c *Config) TimeoutFor(f FederateConfig) time.Duration {
	return time.Duration(f.TimeoutS * float64(time.Second))
}

// MaxIterations returns the iteration cap, defaulting when unset.
func (c *Config) MaxIterations() int {
	if c.Convergence.MaxIterations > 0 {
		return c.Convergence.MaxIterations
	}
	return DefaultMaxIterations
}

// Tolerance returns the convergence ε: +Inf (no iteration) when unset. An
// explicit 0 demands exact-match convergence.
func (c *Config) Tolerance() float64 {
	if c.Convergence.Tolerance == nil {
		return math.Inf(1)
	}
	return *c.Convergence.Tolerance
}
