// Package plc provides the control federate: hysteresis-threshold pump logic
// reacting to tank level snapshots. Below the lower threshold the pump opens,
// above the upper threshold it closes, and inside the deadband it holds its
// last state.
package plc

import (
	"fmt"

	"github.com/hydrofed/hydrofed/fed"
)

// Rule is one pump's hysteresis band over one tank's level.
type Rule struct {
	Pump        string  `yaml:"pump"`
	Tank        string  `yaml:"tank"`
	Below       float64 `yaml:"below"` // level below which the pump opens
	Above       float64 `yaml:"above"` // level above which the pump closes
	Initial     string  `yaml:"initial"`      // default CLOSED
	OpenValue   string  `yaml:"open_value"`   // default OPEN
	ClosedValue string  `yaml:"closed_value"` // default CLOSED
}

func (r Rule) withDefaults() Rule {
	if r.Initial == "" {
		r.Initial = "CLOSED"
	}
	if r.OpenValue == "" {
		r.OpenValue = "OPEN"
	}
	if r.ClosedValue == "" {
		r.ClosedValue = "CLOSED"
	}
	return r
}

// Controller evaluates hysteresis rules against the latest sensor snapshot.
// Until the first snapshot arrives, and inside the deadband, it holds each
// pump's last commanded state, so commands are always defined.
type Controller struct {
	rules []Rule
	state map[string]string // pump → last commanded value
	level map[string]float64
}

// New builds a controller. Each rule's command is emitted under the output
// name "cmd:<pump>" as a {pump: state} map, matching the actuator command
// wire format.
func New(rules []Rule) (*Controller, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("plc: no rules configured")
	}
	c := &Controller{
		rules: make([]Rule, 0, len(rules)),
		state: make(map[string]string, len(rules)),
		level: make(map[string]float64),
	}
	for _, r := range rules {
		if r.Pump == "" || r.Tank == "" {
			return nil, fmt.Errorf("plc: rule needs pump and tank, got %+v", r)
		}
		if r.Below > r.Above {
			return nil, fmt.Errorf("plc: pump %q thresholds inverted (below %g > above %g)", r.Pump, r.Below, r.Above)
		}
		r = r.withDefaults()
		c.rules = append(c.rules, r)
		c.state[r.Pump] = r.Initial
	}
	return c, nil
}

// OutputName is the output-map key for one pump's command.
func OutputName(pump string) string { return "cmd:" + pump }

// Advance implements fed.Simulator: fold any float-map inputs into the known
// levels, then evaluate every rule at the target instant. Control logic has
// no internal dynamics, so re-solving the same window is trivially safe.
func (c *Controller) Advance(current, target fed.SimTime, inputs map[string]fed.Value) (map[string]fed.Value, error) {
	for _, v := range inputs {
		if v.Type != fed.TypeFloatMap {
			continue
		}
		for tank, level := range v.FloatMap {
			c.level[tank] = level
		}
	}

	outputs := make(map[string]fed.Value, len(c.rules))
	for _, r := range c.rules {
		state := c.state[r.Pump]
		if level, seen := c.level[r.Tank]; seen {
			switch {
			case level < r.Below:
				state = r.OpenValue
			case level > r.Above:
				state = r.ClosedValue
			}
		}
		c.state[r.Pump] = state
		outputs[OutputName(r.Pump)] = fed.StringMapValue(map[string]string{r.Pump: state})
	}
	return outputs, nil
}

// CommandFor returns the last commanded state for a pump.
func (c *Controller) CommandFor(pump string) string { return c.state[pump] }
