package cmd

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hydrofed/hydrofed/fed"
	"github.com/hydrofed/hydrofed/fed/plant"
	"github.com/hydrofed/hydrofed/fed/plc"
	"github.com/hydrofed/hydrofed/fed/trace"
)

// PlantSection binds the tank model to one declared federate and names the
// topic its sensor snapshot is published on.
type PlantSection struct {
	Federate     string `yaml:"federate"`
	SensorTopic  string `yaml:"sensor_topic"`
	plant.Config `yaml:",inline"`
}

// PLCRule is one hysteresis rule plus the topic its pump command goes out on.
type PLCRule struct {
	plc.Rule `yaml:",inline"`
	Topic    string `yaml:"topic"`
}

// PLCSection binds the controller to one declared federate.
type PLCSection struct {
	Federate string    `yaml:"federate"`
	Rules    []PLCRule `yaml:"rules"`
}

// Scenario is the full run configuration: the coordination substrate's
// config plus the two simulator sections that back the federates.
type Scenario struct {
	fed.Config `yaml:",inline"`
	Plant      PlantSection `yaml:"plant"`
	PLC        PLCSection   `yaml:"plc"`
}

// LoadScenario reads and validates a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc := &Scenario{}
	sc.ToleratePartial = true
	if err := yaml.Unmarshal(raw, sc); err != nil {
		return nil, &fed.ConfigurationError{Reason: fmt.Sprintf("parse %s: %v", path, err)}
	}
	if err := sc.Config.Validate(); err != nil {
		return nil, err
	}
	if sc.Plant.Federate == "" {
		return nil, &fed.ConfigurationError{Reason: "plant.federate not set"}
	}
	if sc.PLC.Federate == "" {
		return nil, &fed.ConfigurationError{Reason: "plc.federate not set"}
	}
	if sc.Plant.SensorTopic == "" {
		return nil, &fed.ConfigurationError{Reason: "plant.sensor_topic not set"}
	}
	for _, r := range sc.PLC.Rules {
		if r.Topic == "" {
			return nil, &fed.ConfigurationError{Reason: fmt.Sprintf("plc rule for pump %q has no topic", r.Pump)}
		}
	}
	return sc, nil
}

// subscriptionsFor derives a federate's subscription bindings from the topic
// declarations; the input name is the topic name.
func subscriptionsFor(cfg *fed.Config, name string) []fed.Binding {
	var subs []fed.Binding
	for _, tc := range cfg.Topics {
		for _, s := range tc.Subscribers {
			if s == name {
				subs = append(subs, fed.Binding{Name: tc.Name, Topic: tc.Name})
				break
			}
		}
	}
	return subs
}

// BuildFederation assembles a runner with one adapter per declared federate,
// backed by the scenario's plant and controller models, and wires an observer
// that accumulates a per-step run trace.
func BuildFederation(sc *Scenario) (*fed.Runner, *trace.RunTrace, error) {
	runner := fed.NewRunner(&sc.Config)
	rt := &trace.RunTrace{}

	for _, fc := range sc.Config.Federates {
		var sim fed.Simulator
		var pubs []fed.Binding

		switch fc.Name {
		case sc.Plant.Federate:
			p, err := plant.New(sc.Plant.Config)
			if err != nil {
				return nil, nil, &fed.ConfigurationError{Reason: err.Error()}
			}
			sim = p
			pubs = []fed.Binding{{Name: plant.OutputSensors, Topic: sc.Plant.SensorTopic}}
		case sc.PLC.Federate:
			rules := make([]plc.Rule, 0, len(sc.PLC.Rules))
			for _, r := range sc.PLC.Rules {
				rules = append(rules, r.Rule)
			}
			c, err := plc.New(rules)
			if err != nil {
				return nil, nil, &fed.ConfigurationError{Reason: err.Error()}
			}
			sim = c
			for _, r := range sc.PLC.Rules {
				pubs = append(pubs, fed.Binding{Name: plc.OutputName(r.Pump), Topic: r.Topic})
			}
		default:
			return nil, nil, &fed.ConfigurationError{Reason: fmt.Sprintf("federate %q is bound to no simulator section", fc.Name)}
		}

		adapter := fed.NewAdapter(fed.AdapterConfig{
			ID:         fed.FederateID(fc.Name),
			StepSize:   sc.Config.StepFor(fc),
			EndTime:    sc.Config.End(),
			Timeout:    sc.Config.TimeoutFor(fc),
			Tolerance:  sc.Config.Tolerance(),
			Publishes:  pubs,
			Subscribes: subscriptionsFor(&sc.Config, fc.Name),
		}, sim)
		if err := runner.AddFederate(adapter); err != nil {
			return nil, nil, err
		}
	}

	runner.Observer = func(snap fed.StepSnapshot) {
		rec := trace.StepRecord{
			TimeS:      snap.Time.Seconds(),
			Iterations: snap.Iterations,
			Converged:  snap.Converged,
			Levels:     make(map[string]float64),
			Commands:   make(map[string]string),
		}
		for _, tv := range snap.Values {
			switch tv.Value.Type {
			case fed.TypeFloatMap:
				for tank, level := range tv.Value.FloatMap {
					rec.Levels[tank] = level
				}
			case fed.TypeStringMap:
				for pump, state := range tv.Value.StrMap {
					rec.Commands[pump] = state
				}
			}
		}
		rt.Append(rec)
	}

	return runner, rt, nil
}
