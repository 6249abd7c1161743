package fed

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// DefaultStallRounds is how many coordination rounds the computed grant may
// stay flat before the coordinator raises a stall diagnostic.
const DefaultStallRounds = 5

type federateClock struct {
	id        FederateID
	requested SimTime
	pending   bool // an outstanding (ungranted) request exists
	granted   SimTime
	done      bool // iteration-done signal for the current step
}

// Coordinator implements conservative (global-minimum-time) synchronization:
// no federate is granted a time later than the earliest outstanding request,
// so no federate ever observes data from its own future.
//
// It also tracks per-federate convergence signals within the current step and
// raises a stall diagnostic when the computed grant stops advancing — a
// federate that never requests further time blocks global progress until it
// is explicitly deregistered; there is no silent skip of a hung federate.
type Coordinator struct {
	feds  map[FederateID]*federateClock
	order []FederateID // registration order, for deterministic iteration

	stepTarget    SimTime // shared TimeStep target, advanced when all grants align
	stepIteration int     // iterations completed within the current step
	totalSteps    int
	totalIters    int

	lastGrant      SimTime
	grantObserved  bool
	flatRounds     int
	stallThreshold int
	stallRounds    int // rounds spent stalled, for the completion report
}

// NewCoordinator creates a coordinator with every subsequently registered
// federate starting at the given federation start time.
func NewCoordinator(start SimTime) *Coordinator {
	return &Coordinator{
		feds:           make(map[FederateID]*federateClock),
		stepTarget:     start,
		stallThreshold: DefaultStallRounds,
	}
}

// SetStallThreshold overrides the number of flat rounds tolerated before a
// stall is reported. Values < 1 keep the default.
func (c *Coordinator) SetStallThreshold(rounds int) {
	if rounds >= 1 {
		c.stallThreshold = rounds
	}
}

// Register adds a federate with granted time = federation start.
func (c *Coordinator) Register(id FederateID) error {
	if _, exists := c.feds[id]; exists {
		return &ConfigurationError{Reason: fmt.Sprintf("federate %q registered twice", id)}
	}
	c.feds[id] = &federateClock{id: id, granted: c.stepTarget}
	c.order = append(c.order, id)
	return nil
}

// Deregister removes a federate from all further grant computation. A stale
// request from a hung federate blocks global progress until this is called.
func (c *Coordinator) Deregister(id FederateID) {
	if _, exists := c.feds[id]; !exists {
		return
	}
	delete(c.feds, id)
	for i, fid := range c.order {
		if fid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Registered reports whether a federate is still part of grant computation.
func (c *Coordinator) Registered(id FederateID) bool {
	_, ok := c.feds[id]
	return ok
}

// GrantedTime returns a federate's current granted time.
func (c *Coordinator) GrantedTime(id FederateID) (SimTime, bool) {
	fc, ok := c.feds[id]
	if !ok {
		return 0, false
	}
	return fc.granted, true
}

// HasPending reports whether a federate holds an outstanding request.
func (c *Coordinator) HasPending(id FederateID) bool {
	fc, ok := c.feds[id]
	return ok && fc.pending
}

// RequestTime records a federate's desire to advance. Requesting a time
// before the federate's own granted time is a TimeOrderingError.
func (c *Coordinator) RequestTime(id FederateID, t SimTime) error {
	fc, ok := c.feds[id]
	if !ok {
		return fmt.Errorf("federate %q not registered", id)
	}
	if t < fc.granted {
		return &TimeOrderingError{Federate: id, Requested: t, Granted: fc.granted}
	}
	fc.requested = t
	fc.pending = true
	return nil
}

// ComputeGrant returns the minimum outstanding requested time across all
// registered federates. The second return is false when no federate holds an
// outstanding request.
func (c *Coordinator) ComputeGrant() (SimTime, bool) {
	var min SimTime
	found := false
	for _, id := range c.order {
		fc := c.feds[id]
		if !fc.pending {
			continue
		}
		if !found || fc.requested < min {
			min = fc.requested
			found = true
		}
	}
	return min, found
}

// GrantTime grants a federate its requested time if that request does not
// exceed the given round grant; otherwise the federate stays blocked and its
// request carries over to the next round. The caller computes the grant once
// per round with ComputeGrant and offers the same snapshot to every federate:
// recomputing between offers would let a federate slip past the round's
// minimum as soon as the minimum-holder is granted. When every registered
// federate ends up granted the same time, the shared TimeStep advances to it.
func (c *Coordinator) GrantTime(id FederateID, grant SimTime) (SimTime, bool, error) {
	fc, ok := c.feds[id]
	if !ok {
		return 0, false, fmt.Errorf("federate %q not registered", id)
	}
	if !fc.pending || fc.requested > grant {
		return fc.granted, false, nil
	}
	fc.granted = fc.requested
	fc.pending = false
	fc.done = false
	c.maybeAdvanceStep()
	return fc.granted, true, nil
}

// maybeAdvanceStep opens a new TimeStep once all registered federates hold
// the same granted time beyond the current step target.
func (c *Coordinator) maybeAdvanceStep() {
	if len(c.feds) == 0 {
		return
	}
	first := c.feds[c.order[0]].granted
	for _, id := range c.order[1:] {
		if c.feds[id].granted != first {
			return
		}
	}
	if first > c.stepTarget {
		c.stepTarget = first
		c.stepIteration = 0
		c.totalSteps++
		for _, fc := range c.feds {
			fc.done = false
		}
	}
}

// SignalIterationDone marks a federate as converged at the current step.
func (c *Coordinator) SignalIterationDone(id FederateID) {
	if fc, ok := c.feds[id]; ok {
		fc.done = true
	}
}

// SignalIterationNeeded marks a federate as wanting another exchange round at
// the current step before it closes.
func (c *Coordinator) SignalIterationNeeded(id FederateID) {
	if fc, ok := c.feds[id]; ok {
		fc.done = false
	}
}

// StepConverged reports whether every registered federate has signalled
// iteration-done for the current step.
func (c *Coordinator) StepConverged() bool {
	for _, fc := range c.feds {
		if !fc.done {
			return false
		}
	}
	return len(c.feds) > 0
}

// CountIteration records one completed exchange round at the current step.
func (c *Coordinator) CountIteration() {
	c.stepIteration++
	c.totalIters++
}

// StepTarget returns the current shared TimeStep target.
func (c *Coordinator) StepTarget() SimTime { return c.stepTarget }

// StepIteration returns the number of exchange rounds completed at the
// current step.
func (c *Coordinator) StepIteration() int { return c.stepIteration }

// TotalSteps returns how many shared TimeSteps have been opened.
func (c *Coordinator) TotalSteps() int { return c.totalSteps }

// TotalIterations returns the exchange rounds completed across all steps.
func (c *Coordinator) TotalIterations() int { return c.totalIters }

// StallRounds returns how many coordination rounds were spent stalled.
func (c *Coordinator) StallRounds() int { return c.stallRounds }

// ObserveRound feeds one round's computed grant into stall detection and
// returns true while the federation is considered stalled. A stall is a
// diagnostic, not an error: it is logged and counted but never halts the run.
func (c *Coordinator) ObserveRound(grant SimTime) bool {
	if c.grantObserved && grant == c.lastGrant {
		c.flatRounds++
	} else {
		c.flatRounds = 0
	}
	c.lastGrant = grant
	c.grantObserved = true
	if c.flatRounds >= c.stallThreshold {
		c.stallRounds++
		logrus.Warnf("federation stalled: grant pinned at t=%gs for %d rounds", grant.Seconds(), c.flatRounds)
		return true
	}
	return false
}
