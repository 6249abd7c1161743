package trace

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// LevelStats aggregates one tank's level series.
type LevelStats struct {
	Mean float64
	Min  float64
	Max  float64
	P95  float64
}

// TraceSummary aggregates statistics from a RunTrace.
type TraceSummary struct {
	Steps            int
	MeanIterations   float64
	MaxIterations    int
	UnconvergedSteps int
	Levels           map[string]LevelStats // tank → stats
	SwitchCounts     map[string]int        // pump → commanded state changes
}

// Summarize computes aggregate statistics from a RunTrace. Safe for nil or
// empty traces (returns zero-value fields).
func Summarize(rt *RunTrace) *TraceSummary {
	summary := &TraceSummary{
		Levels:       make(map[string]LevelStats),
		SwitchCounts: make(map[string]int),
	}
	if rt.Len() == 0 {
		return summary
	}
	summary.Steps = len(rt.Steps)

	iters := make([]float64, 0, len(rt.Steps))
	series := make(map[string][]float64)
	lastCmd := make(map[string]string)
	for _, rec := range rt.Steps {
		iters = append(iters, float64(rec.Iterations))
		if rec.Iterations > summary.MaxIterations {
			summary.MaxIterations = rec.Iterations
		}
		if !rec.Converged {
			summary.UnconvergedSteps++
		}
		for tank, level := range rec.Levels {
			series[tank] = append(series[tank], level)
		}
		for pump, cmd := range rec.Commands {
			if prev, seen := lastCmd[pump]; seen && prev != cmd {
				summary.SwitchCounts[pump]++
			}
			lastCmd[pump] = cmd
		}
	}
	summary.MeanIterations = stat.Mean(iters, nil)

	for tank, levels := range series {
		sorted := make([]float64, len(levels))
		copy(sorted, levels)
		sort.Float64s(sorted)
		summary.Levels[tank] = LevelStats{
			Mean: stat.Mean(sorted, nil),
			Min:  sorted[0],
			Max:  sorted[len(sorted)-1],
			P95:  stat.Quantile(0.95, stat.Empirical, sorted, nil),
		}
	}
	return summary
}
