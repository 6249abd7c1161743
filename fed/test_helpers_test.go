package fed

import (
	"fmt"
	"time"
)

// stubSim is a scriptable Simulator for coordination tests. It records every
// advance call and produces a single float output named "v".
type stubSim struct {
	id string

	// value computes the published output; defaults to the target time.
	value func(call int, current, target SimTime, inputs map[string]Value) float64

	// failAt makes Advance return an error when target >= failAt (0 = never).
	failAt SimTime
	// sleep delays every advance by this wall-clock amount.
	sleep time.Duration

	calls   int
	targets []SimTime
	inputs  []map[string]Value
}

func (s *stubSim) Advance(current, target SimTime, inputs map[string]Value) (map[string]Value, error) {
	s.calls++
	s.targets = append(s.targets, target)
	copied := make(map[string]Value, len(inputs))
	for k, v := range inputs {
		copied[k] = v
	}
	s.inputs = append(s.inputs, copied)

	if s.sleep > 0 {
		time.Sleep(s.sleep)
	}
	if s.failAt > 0 && target >= s.failAt {
		return nil, fmt.Errorf("%s: solver diverged at t=%gs", s.id, target.Seconds())
	}
	out := target.Seconds()
	if s.value != nil {
		out = s.value(s.calls, current, target, inputs)
	}
	return map[string]Value{"v": FloatValue(out)}, nil
}

// twoFederateConfig builds a minimal two-federate config where each federate
// publishes one float topic and subscribes to the other's.
func twoFederateConfig(stepA, stepB, end float64) *Config {
	return &Config{
		Sim: SimConfig{StartS: 0, EndS: end, DtS: stepA},
		Federates: []FederateConfig{
			{Name: "A", StepS: stepA},
			{Name: "B", StepS: stepB},
		},
		Topics: []TopicConfig{
			{Name: "a.out", Type: "float", Publisher: "A", Subscribers: []string{"B"}},
			{Name: "b.out", Type: "float", Publisher: "B", Subscribers: []string{"A"}},
		},
		ToleratePartial: true,
	}
}

// buildTwoFederateRunner assembles a runner over the given stubs with the
// standard cross-subscription wiring.
func buildTwoFederateRunner(cfg *Config, simA, simB Simulator, tolerance float64) (*Runner, *Adapter, *Adapter, error) {
	runner := NewRunner(cfg)
	adapterA := NewAdapter(AdapterConfig{
		ID:         "A",
		StepSize:   cfg.StepFor(cfg.Federates[0]),
		EndTime:    cfg.End(),
		Tolerance:  tolerance,
		Publishes:  []Binding{{Name: "v", Topic: "a.out"}},
		Subscribes: []Binding{{Name: "peer", Topic: "b.out"}},
	}, simA)
	adapterB := NewAdapter(AdapterConfig{
		ID:         "B",
		StepSize:   cfg.StepFor(cfg.Federates[1]),
		EndTime:    cfg.End(),
		Tolerance:  tolerance,
		Publishes:  []Binding{{Name: "v", Topic: "b.out"}},
		Subscribes: []Binding{{Name: "peer", Topic: "a.out"}},
	}, simB)
	if err := runner.AddFederate(adapterA); err != nil {
		return nil, nil, nil, err
	}
	if err := runner.AddFederate(adapterB); err != nil {
		return nil, nil, nil, err
	}
	if err := runner.Setup(); err != nil {
		return nil, nil, nil, err
	}
	return runner, adapterA, adapterB, nil
}
