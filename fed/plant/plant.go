// Package plant provides a deterministic single-tank water plant model for
// the physical federate: pump-driven inflow against a fixed demand outflow,
// observed as tank level. It stands in for a full hydraulic solver behind the
// same Advance contract.
package plant

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hydrofed/hydrofed/fed"
)

// OutputSensors is the output-map key under which the plant emits its tank
// level snapshot ({tank name: level in meters}).
const OutputSensors = "sensors"

// PumpConfig describes one controllable pump feeding the tank.
type PumpConfig struct {
	Name    string  `yaml:"name"`
	RateM3S float64 `yaml:"rate_m3s"` // inflow while OPEN
	Initial string  `yaml:"initial"`  // OPEN or CLOSED, default CLOSED
}

// Config parameterizes the tank mass balance.
type Config struct {
	Tank         string       `yaml:"tank"`
	InitialLevel float64      `yaml:"initial_level_m"`
	AreaM2       float64      `yaml:"area_m2"` // tank cross-section, > 0
	DemandM3S    float64      `yaml:"demand_m3s"`
	Pumps        []PumpConfig `yaml:"pumps"`

	// Overflow/empty bounds. When set (max > 0), a level outside them makes
	// Advance fail like a diverged solver would.
	MinLevelM float64 `yaml:"min_level_m"`
	MaxLevelM float64 `yaml:"max_level_m"`
}

// Plant is the tank model. Advance recomputes the open window from the last
// committed state, so re-invoking it over the same window with fresh pump
// commands (an iteration re-solve) is safe and deterministic.
type Plant struct {
	cfg Config

	level       float64 // committed level at committedAt
	committedAt fed.SimTime
	pending     float64 // level at the open window's end

	pumps   map[string]bool // pump name → open
	lastCmd map[string]string
}

// New builds a plant from its config.
func New(cfg Config) (*Plant, error) {
	if cfg.Tank == "" {
		return nil, fmt.Errorf("plant: tank name required")
	}
	if cfg.AreaM2 <= 0 {
		return nil, fmt.Errorf("plant: tank area must be > 0, got %g", cfg.AreaM2)
	}
	p := &Plant{
		cfg:     cfg,
		level:   cfg.InitialLevel,
		pending: cfg.InitialLevel,
		pumps:   make(map[string]bool, len(cfg.Pumps)),
		lastCmd: make(map[string]string, len(cfg.Pumps)),
	}
	for _, pump := range cfg.Pumps {
		p.pumps[pump.Name] = pumpOpen(pump.Initial)
	}
	return p, nil
}

// pumpOpen normalizes an actuator command the way the wire format allows:
// OPEN/1/ON/TRUE open the pump, CLOSED/0/OFF/FALSE close it.
func pumpOpen(state string) bool {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "OPEN", "1", "ON", "TRUE":
		return true
	default:
		return false
	}
}

func validPumpState(state string) bool {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "OPEN", "1", "ON", "TRUE", "CLOSED", "0", "OFF", "FALSE":
		return true
	}
	return false
}

// applyCommands merges incoming pump command maps. Unknown pump names are
// ignored; an unparseable state keeps the last valid command in force.
func (p *Plant) applyCommands(inputs map[string]fed.Value) {
	for _, v := range inputs {
		if v.Type != fed.TypeStringMap {
			continue
		}
		for pump, state := range v.StrMap {
			if _, known := p.pumps[pump]; !known {
				logrus.Debugf("plant: command for unknown pump %q ignored", pump)
				continue
			}
			if !validPumpState(state) {
				logrus.Warnf("plant: invalid state %q for pump %q, keeping last command", state, pump)
				continue
			}
			p.pumps[pump] = pumpOpen(state)
			p.lastCmd[pump] = state
		}
	}
}

// Advance implements fed.Simulator. It applies pump commands, integrates the
// mass balance over (current, target], and emits the tank level snapshot.
func (p *Plant) Advance(current, target fed.SimTime, inputs map[string]fed.Value) (map[string]fed.Value, error) {
	if current > p.committedAt {
		// A new window opened: the previous window's result becomes the base.
		p.level = p.pending
		p.committedAt = current
	}
	p.applyCommands(inputs)

	inflow := 0.0
	for _, pump := range p.cfg.Pumps {
		if p.pumps[pump.Name] {
			inflow += pump.RateM3S
		}
	}
	dt := (target - current).Seconds()
	level := p.level + (inflow-p.cfg.DemandM3S)*dt/p.cfg.AreaM2
	if level < 0 {
		level = 0
	}
	p.pending = level

	if p.cfg.MaxLevelM > 0 && (level > p.cfg.MaxLevelM || level < p.cfg.MinLevelM) {
		return nil, fmt.Errorf("tank %s level %.3fm outside [%g, %g] at t=%gs",
			p.cfg.Tank, level, p.cfg.MinLevelM, p.cfg.MaxLevelM, target.Seconds())
	}

	return map[string]fed.Value{
		OutputSensors: fed.FloatMapValue(map[string]float64{p.cfg.Tank: level}),
	}, nil
}

// Level returns the level at the end of the last advanced window.
func (p *Plant) Level() float64 { return p.pending }

// PumpState reports whether a pump is currently open.
func (p *Plant) PumpState(name string) bool { return p.pumps[name] }
