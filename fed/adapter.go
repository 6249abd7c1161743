package fed

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// Simulator is the boundary between the federation and one wrapped model.
// Advance moves the simulator from current to target simulation time under
// the given inputs and returns its outputs, keyed by output name. It must be
// deterministic given identical inputs and identical internal state, and must
// support being re-invoked over the same (current, target) window with fresh
// inputs: that is how iterative convergence re-solves a single instant.
type Simulator interface {
	Advance(current, target SimTime, inputs map[string]Value) (map[string]Value, error)
}

// AdapterState is the federate adapter's position in its step lifecycle.
type AdapterState string

const (
	StateUnregistered   AdapterState = "UNREGISTERED"
	StateRegistered     AdapterState = "REGISTERED"
	StateRequestingTime AdapterState = "REQUESTING_TIME"
	StateAdvancing      AdapterState = "ADVANCING"
	StatePublishing     AdapterState = "PUBLISHING"
	StateIterating      AdapterState = "ITERATING"
	StateStepComplete   AdapterState = "STEP_COMPLETE"
	StateTerminated     AdapterState = "TERMINATED"
)

// FederateStatus is a federate's final disposition in the completion report.
type FederateStatus string

const (
	StatusCompleted FederateStatus = "completed"
	StatusFailed    FederateStatus = "failed"
	StatusTimedOut  FederateStatus = "timed_out"
)

// Binding maps one simulator-side name to one bus topic. For publishes, Name
// is the key in the simulator's output map; for subscriptions, Name is the
// key under which the topic's value appears in the simulator's input map.
type Binding struct {
	Name  string
	Topic string
}

// AdapterConfig collects the per-federate parameters of an Adapter.
type AdapterConfig struct {
	ID         FederateID
	StepSize   SimTime       // native step, > 0
	EndTime    SimTime       // federation end; requests are capped here
	Timeout    time.Duration // wall-clock budget per advance; 0 = unlimited
	Tolerance  float64       // convergence ε; +Inf disables iteration, 0 demands exact match
	Publishes  []Binding
	Subscribes []Binding
}

// Adapter bridges one Simulator to the federation's time and data contracts.
// It owns the per-federate state machine; all transitions happen on the
// runner's coordination goroutine. The wrapped simulator may do its work on
// its own goroutines, but the advance call is synchronous from here, bounded
// by the configured wall-clock timeout.
type Adapter struct {
	cfg AdapterConfig
	sim Simulator

	state   AdapterState
	status  FederateStatus
	current SimTime // committed simulation time (start of the open window)
	granted SimTime // target of the open window

	prevOutputs map[string]Value // outputs from the previous advance, for ε
	lastOutputs map[string]Value

	failure error
}

type advanceResult struct {
	outputs map[string]Value
	err     error
}

// NewAdapter wraps a simulator for federation. The adapter starts
// UNREGISTERED; Setup moves it to REGISTERED at the federation start time.
func NewAdapter(cfg AdapterConfig, sim Simulator) *Adapter {
	return &Adapter{cfg: cfg, sim: sim, state: StateUnregistered}
}

// ID returns the federate's unique name.
func (a *Adapter) ID() FederateID { return a.cfg.ID }

// State returns the adapter's current lifecycle state.
func (a *Adapter) State() AdapterState { return a.state }

// Status returns the federate's final disposition; meaningful once TERMINATED.
func (a *Adapter) Status() FederateStatus { return a.status }

// GrantedTime returns the latest time the coordinator granted this federate.
func (a *Adapter) GrantedTime() SimTime { return a.granted }

// Failure returns the error that terminated the federate, if any.
func (a *Adapter) Failure() error { return a.failure }

// Live reports whether the adapter still participates in coordination.
func (a *Adapter) Live() bool { return a.state != StateUnregistered && a.state != StateTerminated }

// Publishes returns the adapter's publish bindings.
func (a *Adapter) Publishes() []Binding { return a.cfg.Publishes }

// Subscribes returns the adapter's subscription bindings.
func (a *Adapter) Subscribes() []Binding { return a.cfg.Subscribes }

// join moves the adapter to REGISTERED at the federation start time.
func (a *Adapter) join(start SimTime) {
	a.state = StateRegistered
	a.current = start
	a.granted = start
}

// NextRequest computes the adapter's next desired time: granted time plus its
// native step, capped at the federation end time.
func (a *Adapter) NextRequest() SimTime {
	next := a.granted + a.cfg.StepSize
	if next > a.cfg.EndTime {
		next = a.cfg.EndTime
	}
	return next
}

// requestNext issues the adapter's next time request to the coordinator.
func (a *Adapter) requestNext(c *Coordinator) error {
	if err := c.RequestTime(a.cfg.ID, a.NextRequest()); err != nil {
		return err
	}
	a.state = StateRequestingTime
	return nil
}

// beginStep opens a new step window ending at the granted target. The window
// start stays at the committed time across iterations, so re-solves replay
// the same interval with fresh inputs.
func (a *Adapter) beginStep(target SimTime) {
	a.granted = target
	a.state = StateAdvancing
}

// closeStep commits the open window after the step's last iteration.
func (a *Adapter) closeStep() {
	a.current = a.granted
	a.state = StateStepComplete
}

// advanceOnce performs one exchange round: pull subscribed values, advance
// the simulator over the open window, and stage output publishes on the bus.
// Simulator panics are not recovered here; a panicking model is a bug, not a
// solver failure.
func (a *Adapter) advanceOnce(bus *Bus) error {
	a.state = StateAdvancing

	inputs := make(map[string]Value, len(a.cfg.Subscribes))
	for _, sub := range a.cfg.Subscribes {
		tv, err := bus.Get(sub.Topic)
		if err != nil {
			return err
		}
		if tv.Valid {
			inputs[sub.Name] = tv.Value
		}
	}

	outputs, err := a.invoke(inputs)
	if err != nil {
		return err
	}

	a.state = StatePublishing
	a.prevOutputs = a.lastOutputs
	a.lastOutputs = outputs
	for _, pub := range a.cfg.Publishes {
		out, ok := outputs[pub.Name]
		if !ok {
			logrus.Debugf("federate %q produced no output %q this round", a.cfg.ID, pub.Name)
			continue
		}
		if err := bus.Publish(pub.Topic, a.cfg.ID, out, a.granted); err != nil {
			return err
		}
	}
	return nil
}

// invoke runs the simulator's advance, bounded by the wall-clock timeout.
// The work runs on its own goroutine so a hung solver cannot wedge the
// coordination loop; on timeout the goroutine's eventual result is dropped.
func (a *Adapter) invoke(inputs map[string]Value) (map[string]Value, error) {
	if a.cfg.Timeout <= 0 {
		out, err := a.sim.Advance(a.current, a.granted, inputs)
		if err != nil {
			return nil, &SimulatorError{Federate: a.cfg.ID, Target: a.granted, Err: err}
		}
		return out, nil
	}

	ch := make(chan advanceResult, 1)
	go func() {
		out, err := a.sim.Advance(a.current, a.granted, inputs)
		ch <- advanceResult{outputs: out, err: err}
	}()

	timer := time.NewTimer(a.cfg.Timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, &SimulatorError{Federate: a.cfg.ID, Target: a.granted, Err: res.err}
		}
		return res.outputs, nil
	case <-timer.C:
		return nil, &StepTimeoutError{Federate: a.cfg.ID, Target: a.granted, Timeout: a.cfg.Timeout}
	}
}

// converged checks the adapter's ε criterion: the last two rounds of outputs
// differ by at most the tolerance on every published value. With ε = +Inf the
// check always passes (no iteration). With no previous round to compare
// against, the adapter asks for one more exchange.
func (a *Adapter) converged() bool {
	if math.IsInf(a.cfg.Tolerance, 1) {
		return true
	}
	if a.prevOutputs == nil {
		return false
	}
	for _, pub := range a.cfg.Publishes {
		prev, okPrev := a.prevOutputs[pub.Name]
		last, okLast := a.lastOutputs[pub.Name]
		if okPrev != okLast {
			return false
		}
		if !okLast {
			continue
		}
		if Delta(prev, last) > a.cfg.Tolerance {
			return false
		}
	}
	return true
}

// markIterating records that the adapter loops back for another exchange
// round at the same instant.
func (a *Adapter) markIterating() { a.state = StateIterating }

// terminate finalizes the adapter with the given disposition.
func (a *Adapter) terminate(status FederateStatus, cause error) {
	a.state = StateTerminated
	a.status = status
	if cause != nil {
		a.failure = cause
	}
}
