package fed

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Lockstep_FiveSteps(t *testing.T) {
	// GIVEN two federates with step 60s, end time 300s, no iteration needed
	simA := &stubSim{id: "A"}
	simB := &stubSim{id: "B"}
	cfg := twoFederateConfig(60, 60, 300)
	runner, _, _, err := buildTwoFederateRunner(cfg, simA, simB, math.Inf(1))
	require.NoError(t, err)

	// WHEN the federation runs to completion
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	// THEN exactly 5 TimeSteps ran, one exchange round each
	assert.Equal(t, 300.0, report.FinalTime)
	assert.Equal(t, 5, report.TotalSteps)
	assert.Equal(t, 5, report.TotalIterations)
	require.Len(t, report.Federates, 2)
	for _, f := range report.Federates {
		assert.Equal(t, StatusCompleted, f.Status)
		assert.Equal(t, 300.0, f.LastGrantedTime)
	}
	assert.Equal(t, []SimTime{60, 120, 180, 240, 300}, simA.targets)
	assert.Equal(t, []SimTime{60, 120, 180, 240, 300}, simB.targets)
}

func TestRun_LaggingFederate_GrantFollowsMinimum(t *testing.T) {
	// GIVEN federate B stepping 30s while A steps 60s
	simA := &stubSim{id: "A"}
	simB := &stubSim{id: "B"}
	cfg := twoFederateConfig(60, 30, 300)
	runner, adapterA, _, err := buildTwoFederateRunner(cfg, simA, simB, math.Inf(1))
	require.NoError(t, err)

	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	// THEN B advanced every 30s, while A only moved when B caught up
	assert.Equal(t, []SimTime{30, 60, 90, 120, 150, 180, 210, 240, 270, 300}, simB.targets)
	assert.Equal(t, []SimTime{60, 120, 180, 240, 300}, simA.targets)
	assert.Equal(t, 300.0, report.FinalTime)
	assert.Equal(t, 5, report.TotalSteps)
	for _, f := range report.Federates {
		assert.Equal(t, StatusCompleted, f.Status)
	}
	assert.Equal(t, SimTime(300), adapterA.GrantedTime())
}

func TestRun_LaggingFederateRegisteredFirst_LeaderWaitsForItsData(t *testing.T) {
	// GIVEN the lagging 30s federate registered BEFORE the 60s one, so the
	// grant phase offers the round's minimum to the lagging federate first
	simLag := &stubSim{id: "lag"}
	simLead := &stubSim{id: "lead"}
	cfg := &Config{
		Sim: SimConfig{StartS: 0, EndS: 120, DtS: 30},
		Federates: []FederateConfig{
			{Name: "lag", StepS: 30},
			{Name: "lead", StepS: 60},
		},
		Topics: []TopicConfig{
			{Name: "lag.out", Type: "float", Publisher: "lag", Subscribers: []string{"lead"}},
			{Name: "lead.out", Type: "float", Publisher: "lead", Subscribers: []string{"lag"}},
		},
		ToleratePartial: true,
	}
	runner := NewRunner(cfg)
	require.NoError(t, runner.AddFederate(NewAdapter(AdapterConfig{
		ID: "lag", StepSize: 30, EndTime: 120, Tolerance: math.Inf(1),
		Publishes:  []Binding{{Name: "v", Topic: "lag.out"}},
		Subscribes: []Binding{{Name: "peer", Topic: "lead.out"}},
	}, simLag)))
	require.NoError(t, runner.AddFederate(NewAdapter(AdapterConfig{
		ID: "lead", StepSize: 60, EndTime: 120, Tolerance: math.Inf(1),
		Publishes:  []Binding{{Name: "v", Topic: "lead.out"}},
		Subscribes: []Binding{{Name: "peer", Topic: "lag.out"}},
	}, simLead)))
	require.NoError(t, runner.Setup())

	// WHEN the federation runs to completion
	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	// THEN the lead federate stayed blocked through every round where only
	// the lagging one was granted, stepping twice, not four times
	assert.Equal(t, []SimTime{30, 60, 90, 120}, simLag.targets)
	assert.Equal(t, []SimTime{60, 120}, simLead.targets)
	assert.Equal(t, 120.0, report.FinalTime)
	for _, f := range report.Federates {
		assert.Equal(t, StatusCompleted, f.Status)
		assert.Equal(t, 120.0, f.LastGrantedTime)
	}

	// AND each of its windows opened only after the lagging federate's
	// intermediate publication was already visible
	require.Len(t, simLead.inputs, 2)
	peer, ok := simLead.inputs[0]["peer"]
	require.True(t, ok, "lead advanced without its peer's t=30 publication")
	assert.Equal(t, 30.0, peer.Float)
	peer, ok = simLead.inputs[1]["peer"]
	require.True(t, ok)
	assert.Equal(t, 90.0, peer.Float)
}

func TestRun_CausalConsistency_NoDataFromTheFuture(t *testing.T) {
	// GIVEN a lockstep two-federate run
	simA := &stubSim{id: "A"}
	simB := &stubSim{id: "B"}
	cfg := twoFederateConfig(60, 60, 300)
	runner, _, _, err := buildTwoFederateRunner(cfg, simA, simB, math.Inf(1))
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	require.NoError(t, err)

	// THEN before the first barrier release B saw no peer value at all
	require.GreaterOrEqual(t, len(simB.inputs), 2)
	_, sawPeer := simB.inputs[0]["peer"]
	assert.False(t, sawPeer)

	// AND each later round saw exactly the peer's previous-round output
	for i := 1; i < len(simB.inputs); i++ {
		peer, ok := simB.inputs[i]["peer"]
		require.True(t, ok)
		assert.Equal(t, simA.targets[i-1].Seconds(), peer.Float)
	}
}

func TestRun_FederateFailure_PartialToleranceContinues(t *testing.T) {
	// GIVEN federate A diverging on step 3 of 5, partial tolerance enabled
	simA := &stubSim{id: "A", failAt: 180}
	simB := &stubSim{id: "B"}
	cfg := twoFederateConfig(60, 60, 300)
	runner, _, adapterB, err := buildTwoFederateRunner(cfg, simA, simB, math.Inf(1))
	require.NoError(t, err)

	report, err := runner.Run(context.Background())

	// THEN the run itself succeeds and reflects partial success
	require.NoError(t, err)
	assert.Equal(t, 300.0, report.FinalTime)
	require.Len(t, report.Federates, 2)
	assert.Equal(t, StatusFailed, report.Federates[0].Status)
	assert.Equal(t, 180.0, report.Federates[0].LastGrantedTime)
	assert.Contains(t, report.Federates[0].Failure, "solver diverged")
	assert.Equal(t, StatusCompleted, report.Federates[1].Status)
	assert.Equal(t, 300.0, report.Federates[1].LastGrantedTime)

	// AND A's failure did not disturb B's stepping
	assert.Equal(t, []SimTime{60, 120, 180, 240, 300}, simB.targets)
	assert.Equal(t, SimTime(300), adapterB.GrantedTime())
}

func TestRun_FederateFailure_StrictHaltsRun(t *testing.T) {
	// GIVEN a strict federation where A diverges immediately
	simA := &stubSim{id: "A", failAt: 60}
	simB := &stubSim{id: "B"}
	cfg := twoFederateConfig(60, 60, 300)
	cfg.ToleratePartial = false
	runner, _, _, err := buildTwoFederateRunner(cfg, simA, simB, math.Inf(1))
	require.NoError(t, err)

	report, err := runner.Run(context.Background())

	// THEN the whole run fails, and the report still names the culprit
	require.Error(t, err)
	assert.Equal(t, StatusFailed, report.Federates[0].Status)
}

func TestRun_StrictHalt_DiscardsStagedValues(t *testing.T) {
	// GIVEN a strict federation with A's value staged but not yet released
	cfg := twoFederateConfig(60, 60, 300)
	cfg.ToleratePartial = false
	runner, _, adapterB, err := buildTwoFederateRunner(cfg, &stubSim{id: "A"}, &stubSim{id: "B"}, math.Inf(1))
	require.NoError(t, err)
	require.NoError(t, runner.Bus().Publish("a.out", "A", FloatValue(60), 60))

	// WHEN B's failure halts the round
	haltErr := runner.failFederate(adapterB, errors.New("solver diverged"))
	require.Error(t, haltErr)

	// THEN the staged value never becomes visible, even after a release
	runner.Bus().Release()
	tv, err := runner.Bus().Get("a.out")
	require.NoError(t, err)
	assert.False(t, tv.Valid)
}

func TestRun_Timeout_FederateMarkedTimedOut(t *testing.T) {
	// GIVEN federate A slower than its wall-clock budget
	simA := &stubSim{id: "A", sleep: 100 * time.Millisecond}
	simB := &stubSim{id: "B"}
	cfg := twoFederateConfig(60, 60, 120)
	runner := NewRunner(cfg)
	require.NoError(t, runner.AddFederate(NewAdapter(AdapterConfig{
		ID: "A", StepSize: 60, EndTime: 120, Timeout: 5 * time.Millisecond, Tolerance: math.Inf(1),
		Publishes:  []Binding{{Name: "v", Topic: "a.out"}},
		Subscribes: []Binding{{Name: "peer", Topic: "b.out"}},
	}, simA)))
	require.NoError(t, runner.AddFederate(NewAdapter(AdapterConfig{
		ID: "B", StepSize: 60, EndTime: 120, Tolerance: math.Inf(1),
		Publishes:  []Binding{{Name: "v", Topic: "b.out"}},
		Subscribes: []Binding{{Name: "peer", Topic: "a.out"}},
	}, simB)))
	require.NoError(t, runner.Setup())

	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	// THEN A is deregistered as timed out and B finishes alone
	assert.Equal(t, StatusTimedOut, report.Federates[0].Status)
	assert.Equal(t, StatusCompleted, report.Federates[1].Status)
	assert.Equal(t, 120.0, report.Federates[1].LastGrantedTime)
}

func TestRun_ConvergenceNeverMet_ClosesAtIterationCap(t *testing.T) {
	// GIVEN outputs that change on every exchange round and a cap of 5
	simA := &stubSim{id: "A", value: func(call int, _, _ SimTime, _ map[string]Value) float64 {
		return float64(call)
	}}
	simB := &stubSim{id: "B", value: func(_ int, _, target SimTime, _ map[string]Value) float64 {
		return target.Seconds()
	}}
	cfg := twoFederateConfig(60, 60, 60)
	cfg.Convergence.MaxIterations = 5
	runner, _, _, err := buildTwoFederateRunner(cfg, simA, simB, 0.5)
	require.NoError(t, err)

	report, err := runner.Run(context.Background())

	// THEN the step closes after exactly 5 iterations, no error raised
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalSteps)
	assert.Equal(t, 5, report.TotalIterations)
	assert.Equal(t, 1, report.UnconvergedSteps)
	assert.Equal(t, 5, simA.calls)
	for _, f := range report.Federates {
		assert.Equal(t, StatusCompleted, f.Status)
	}
}

func TestRun_ConvergenceStrict_UnconvergedStepFailsRun(t *testing.T) {
	simA := &stubSim{id: "A", value: func(call int, _, _ SimTime, _ map[string]Value) float64 {
		return float64(call)
	}}
	simB := &stubSim{id: "B"}
	cfg := twoFederateConfig(60, 60, 60)
	cfg.Convergence.MaxIterations = 3
	cfg.Convergence.Strict = true
	runner, _, _, err := buildTwoFederateRunner(cfg, simA, simB, 0.5)
	require.NoError(t, err)

	_, err = runner.Run(context.Background())

	require.Error(t, err)
	assert.ErrorContains(t, err, "did not converge")
}

func TestRun_MutualDependency_ConvergesWithinCap(t *testing.T) {
	// GIVEN two federates relaxing toward a fixpoint (x' = x/4) with ε = 0.5
	relax := func(_ int, _, _ SimTime, inputs map[string]Value) float64 {
		if peer, ok := inputs["peer"]; ok {
			return 0.25 * peer.Float
		}
		return 8
	}
	simA := &stubSim{id: "A", value: relax}
	simB := &stubSim{id: "B", value: relax}
	cfg := twoFederateConfig(60, 60, 60)
	cfg.Convergence.MaxIterations = 6
	runner, _, _, err := buildTwoFederateRunner(cfg, simA, simB, 0.5)
	require.NoError(t, err)

	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	// THEN the step converged in more than one but at most 6 rounds
	assert.Equal(t, 0, report.UnconvergedSteps)
	assert.Equal(t, 1, report.TotalSteps)
	assert.Greater(t, report.TotalIterations, 1)
	assert.LessOrEqual(t, report.TotalIterations, 6)
	assert.Equal(t, float64(report.TotalIterations), report.Iterations.Max)
}

func TestRun_Cancellation_StopsAtStepBoundary(t *testing.T) {
	// GIVEN a cancelled context
	simA := &stubSim{id: "A"}
	simB := &stubSim{id: "B"}
	cfg := twoFederateConfig(60, 60, 300)
	runner, _, _, err := buildTwoFederateRunner(cfg, simA, simB, math.Inf(1))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := runner.Run(ctx)
	require.NoError(t, err)

	// THEN the run stops before any step and reports the cancellation
	assert.True(t, report.Cancelled)
	assert.Equal(t, 0, report.TotalSteps)
	assert.Equal(t, 0, simA.calls)
}

func TestRun_Determinism_SameConfigSameTrace(t *testing.T) {
	// GIVEN the same mutually-dependent scenario run twice
	run := func() []StepSnapshot {
		relax := func(_ int, _, _ SimTime, inputs map[string]Value) float64 {
			if peer, ok := inputs["peer"]; ok {
				return 0.5 * peer.Float
			}
			return 16
		}
		cfg := twoFederateConfig(60, 60, 180)
		cfg.Convergence.MaxIterations = 8
		runner, _, _, err := buildTwoFederateRunner(cfg, &stubSim{id: "A", value: relax}, &stubSim{id: "B", value: relax}, 0.25)
		require.NoError(t, err)
		var snaps []StepSnapshot
		runner.Observer = func(s StepSnapshot) { snaps = append(snaps, s) }
		_, err = runner.Run(context.Background())
		require.NoError(t, err)
		return snaps
	}

	first := run()
	second := run()

	// THEN the exchange sequences are identical
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Time, second[i].Time)
		assert.Equal(t, first[i].Iterations, second[i].Iterations)
		assert.Equal(t, first[i].Values, second[i].Values)
	}
}

func TestSetup_DanglingSubscription_ConfigurationError(t *testing.T) {
	// GIVEN an adapter subscribing to a topic nobody declared
	cfg := twoFederateConfig(60, 60, 300)
	runner := NewRunner(cfg)
	require.NoError(t, runner.AddFederate(NewAdapter(AdapterConfig{
		ID: "A", StepSize: 60, EndTime: 300,
		Publishes:  []Binding{{Name: "v", Topic: "a.out"}},
		Subscribes: []Binding{{Name: "ghost", Topic: "ghost.topic"}},
	}, &stubSim{id: "A"})))
	require.NoError(t, runner.AddFederate(NewAdapter(AdapterConfig{
		ID: "B", StepSize: 60, EndTime: 300,
		Publishes: []Binding{{Name: "v", Topic: "b.out"}},
	}, &stubSim{id: "B"})))

	// WHEN setup runs
	err := runner.Setup()

	// THEN it fails before Run can start
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Reason, "ghost.topic")
}

func TestSetup_MissingAdapter_ConfigurationError(t *testing.T) {
	cfg := twoFederateConfig(60, 60, 300)
	runner := NewRunner(cfg)
	require.NoError(t, runner.AddFederate(NewAdapter(AdapterConfig{
		ID: "A", StepSize: 60, EndTime: 300,
	}, &stubSim{id: "A"})))

	err := runner.Setup()

	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Reason, `"B"`)
}

func TestRun_BeforeSetup_Fails(t *testing.T) {
	runner := NewRunner(twoFederateConfig(60, 60, 300))

	_, err := runner.Run(context.Background())

	var ce *ConfigurationError
	assert.ErrorAs(t, err, &ce)
}
