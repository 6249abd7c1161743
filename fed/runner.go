package fed

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// StepSnapshot is handed to the runner's observer after each closed round:
// the granted time, how many exchange rounds it took, and the visible topic
// values at close.
type StepSnapshot struct {
	Time       SimTime
	Iterations int
	Converged  bool
	Values     map[string]TopicValue
}

// Runner owns the federation lifecycle: registration and topic binding in
// Setup, the round-robin coordination loop in Run, and cleanup in Teardown.
// A single goroutine drives all federates, so a given configuration always
// reproduces the same exchange sequence.
type Runner struct {
	cfg   *Config
	bus   *Bus
	coord *Coordinator

	adapters []*Adapter
	byID     map[FederateID]*Adapter

	setupDone bool
	cancelled bool

	perStepIters []float64
	unconverged  int

	// Observer, when set, receives a snapshot after every closed round.
	// It runs on the coordination goroutine; keep it cheap.
	Observer func(StepSnapshot)
}

// NewRunner creates a runner for a validated configuration.
func NewRunner(cfg *Config) *Runner {
	return &Runner{
		cfg:   cfg,
		bus:   NewBus(),
		coord: NewCoordinator(cfg.Start()),
		byID:  make(map[FederateID]*Adapter),
	}
}

// Bus exposes the runner's topic table, mainly for tests and observers.
func (r *Runner) Bus() *Bus { return r.bus }

// Coordinator exposes the runner's time coordinator.
func (r *Runner) Coordinator() *Coordinator { return r.coord }

// AddFederate registers an adapter before Setup.
func (r *Runner) AddFederate(a *Adapter) error {
	if r.setupDone {
		return &ConfigurationError{Reason: "federates cannot be added after setup"}
	}
	if _, dup := r.byID[a.ID()]; dup {
		return &ConfigurationError{Reason: fmt.Sprintf("federate %q added twice", a.ID())}
	}
	r.adapters = append(r.adapters, a)
	r.byID[a.ID()] = a
	return nil
}

// Setup registers all federates with the coordinator and binds the topic
// table: declarations first, then subscriptions. Any dangling reference is a
// ConfigurationError and prevents Run from starting.
func (r *Runner) Setup() error {
	if r.setupDone {
		return &ConfigurationError{Reason: "setup ran twice"}
	}
	if err := r.cfg.Validate(); err != nil {
		return err
	}
	for _, fc := range r.cfg.Federates {
		if _, ok := r.byID[FederateID(fc.Name)]; !ok {
			return &ConfigurationError{Reason: fmt.Sprintf("no adapter registered for federate %q", fc.Name)}
		}
	}
	for _, a := range r.adapters {
		if err := r.coord.Register(a.ID()); err != nil {
			return err
		}
	}
	r.coord.SetStallThreshold(r.cfg.StallRounds)

	for _, tc := range r.cfg.Topics {
		decl := TopicDecl{Name: tc.Name, Type: ValueType(tc.Type), Publisher: FederateID(tc.Publisher)}
		if err := r.bus.Declare(decl); err != nil {
			return err
		}
		for _, s := range tc.Subscribers {
			if err := r.bus.Subscribe(tc.Name, FederateID(s)); err != nil {
				return err
			}
		}
	}
	for _, a := range r.adapters {
		for _, pub := range a.Publishes() {
			decl, ok := r.bus.Decl(pub.Topic)
			if !ok {
				return &ConfigurationError{Reason: fmt.Sprintf("federate %q publishes undeclared topic %q", a.ID(), pub.Topic)}
			}
			if decl.Publisher != a.ID() {
				return &ConfigurationError{Reason: fmt.Sprintf("federate %q publishes topic %q bound to %q", a.ID(), pub.Topic, decl.Publisher)}
			}
		}
		for _, sub := range a.Subscribes() {
			if _, ok := r.bus.Decl(sub.Topic); !ok {
				return &ConfigurationError{Reason: fmt.Sprintf("federate %q subscribes to undeclared topic %q", a.ID(), sub.Topic)}
			}
		}
	}
	r.bus.Seal()

	for _, a := range r.adapters {
		a.join(r.cfg.Start())
	}
	r.setupDone = true
	return nil
}

// live returns adapters still participating, in registration order.
func (r *Runner) live() []*Adapter {
	out := make([]*Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		if a.Live() {
			out = append(out, a)
		}
	}
	return out
}

// failFederate isolates a per-federate runtime error: the federate is
// deregistered and terminated, peers keep their granted times and topic
// values. In a strict federation the error is escalated to the whole run.
func (r *Runner) failFederate(a *Adapter, cause error) error {
	status := StatusFailed
	var timeout *StepTimeoutError
	if errors.As(cause, &timeout) {
		status = StatusTimedOut
	}
	logrus.Errorf("federate %q: %v", a.ID(), cause)
	r.coord.Deregister(a.ID())
	a.terminate(status, cause)
	if !r.cfg.ToleratePartial {
		// The halt abandons the round mid-exchange; values staged before the
		// failure must never become visible.
		r.bus.DiscardPending()
		return fmt.Errorf("strict federation halted: %w", cause)
	}
	return nil
}

// Run drives the coordination loop until the end time, all-federate
// termination, or cancellation. Cancellation is cooperative: it is checked
// only at step boundaries, never mid-advance, so no simulator is left in a
// partial state. Teardown always runs, whatever the exit path.
func (r *Runner) Run(ctx context.Context) (*CompletionReport, error) {
	if !r.setupDone {
		return nil, &ConfigurationError{Reason: "run before successful setup"}
	}
	defer r.Teardown()

	end := r.cfg.End()
	maxIter := r.cfg.MaxIterations()
	var fatal error

loop:
	for {
		select {
		case <-ctx.Done():
			r.cancelled = true
			logrus.Info("cancellation requested, stopping at step boundary")
			break loop
		default:
		}

		// Request phase: finished federates leave, the rest file their next
		// desired time (blocked requests carry over untouched).
		for _, a := range r.live() {
			if a.GrantedTime() >= end {
				r.coord.Deregister(a.ID())
				a.terminate(StatusCompleted, nil)
				continue
			}
			if !r.coord.HasPending(a.ID()) {
				if err := a.requestNext(r.coord); err != nil {
					if fatal = r.failFederate(a, err); fatal != nil {
						break loop
					}
				}
			}
		}

		live := r.live()
		if len(live) == 0 {
			break
		}

		grant, ok := r.coord.ComputeGrant()
		if !ok {
			break
		}
		r.coord.ObserveRound(grant)

		// Grant phase: the round's grant is computed once above, and every
		// federate is offered that same snapshot. Federates whose request
		// does not exceed it open a step window; the rest stay in
		// REQUESTING_TIME with their request carried over.
		var active []*Adapter
		for _, a := range live {
			t, granted, err := r.coord.GrantTime(a.ID(), grant)
			if err != nil {
				continue
			}
			if granted {
				a.beginStep(t)
				active = append(active, a)
			}
		}
		if len(active) == 0 {
			continue
		}

		// Exchange rounds at the granted instant: advance and publish all,
		// release the bus barrier, then poll convergence. The step closes
		// when every active federate signals done or the cap is hit.
		iter := 0
		converged := false
		for {
			for _, a := range active {
				if !a.Live() {
					continue
				}
				if err := a.advanceOnce(r.bus); err != nil {
					if fatal = r.failFederate(a, err); fatal != nil {
						break loop
					}
				}
			}
			r.bus.Release()
			iter++
			r.coord.CountIteration()

			converged = true
			for _, a := range active {
				if !a.Live() {
					continue
				}
				if a.converged() {
					r.coord.SignalIterationDone(a.ID())
				} else {
					r.coord.SignalIterationNeeded(a.ID())
					converged = false
				}
			}
			if converged || iter >= maxIter {
				break
			}
			for _, a := range active {
				if a.Live() {
					a.markIterating()
				}
			}
		}

		if !converged {
			r.unconverged++
			logrus.Warnf("step t=%gs closed after %d iterations without convergence, keeping last values",
				grant.Seconds(), iter)
			if r.cfg.Convergence.Strict {
				fatal = fmt.Errorf("step t=%gs did not converge within %d iterations", grant.Seconds(), iter)
				break loop
			}
		}

		for _, a := range active {
			if a.Live() {
				a.closeStep()
			}
		}
		r.perStepIters = append(r.perStepIters, float64(iter))
		if (len(r.perStepIters)-1)%10 == 0 {
			logrus.Infof("t=%gs: %d federate(s) advanced in %d iteration(s)", grant.Seconds(), len(active), iter)
		}

		if r.Observer != nil {
			r.Observer(StepSnapshot{Time: grant, Iterations: iter, Converged: converged, Values: r.bus.Snapshot()})
		}
	}

	return r.buildReport(), fatal
}

// buildReport assembles the completion record. Federates still live when the
// loop exits (cancellation, stall break) count as completed at their last
// granted time.
func (r *Runner) buildReport() *CompletionReport {
	rep := &CompletionReport{
		FinalTime:        r.coord.StepTarget().Seconds(),
		TotalSteps:       r.coord.TotalSteps(),
		TotalIterations:  r.coord.TotalIterations(),
		UnconvergedSteps: r.unconverged,
		StallRounds:      r.coord.StallRounds(),
		Cancelled:        r.cancelled,
		Iterations:       summarizeIterations(r.perStepIters),
	}
	for _, a := range r.adapters {
		fr := FederateReport{
			Name:            a.ID(),
			Status:          a.Status(),
			LastGrantedTime: a.GrantedTime().Seconds(),
		}
		if fr.Status == "" {
			fr.Status = StatusCompleted
		}
		if err := a.Failure(); err != nil {
			fr.Failure = err.Error()
		}
		rep.Federates = append(rep.Federates, fr)
	}
	return rep
}

// Teardown deregisters every federate and releases bus resources. It is
// idempotent and safe to call after a failed Run.
func (r *Runner) Teardown() {
	for _, a := range r.adapters {
		if a.Live() {
			r.coord.Deregister(a.ID())
			a.terminate(StatusCompleted, nil)
		}
	}
	r.bus.Reset()
}
