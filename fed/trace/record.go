// Package trace provides per-step time-series recording for federation runs.
// This package has no dependencies on fed/ — it stores pure data types.
package trace

// StepRecord captures the federation's visible state at the close of one
// coordination step.
type StepRecord struct {
	TimeS      float64
	Iterations int
	Converged  bool
	Levels     map[string]float64 // tank → level in meters
	Commands   map[string]string  // pump → commanded state
}

// RunTrace accumulates step records over a run.
type RunTrace struct {
	Steps []StepRecord
}

// Append adds one step record.
func (rt *RunTrace) Append(rec StepRecord) {
	rt.Steps = append(rt.Steps, rec)
}

// Len returns the number of recorded steps.
func (rt *RunTrace) Len() int {
	if rt == nil {
		return 0
	}
	return len(rt.Steps)
}
