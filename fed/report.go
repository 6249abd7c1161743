package fed

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// FederateReport is one federate's final disposition.
type FederateReport struct {
	Name            FederateID     `json:"name"`
	Status          FederateStatus `json:"status"`
	LastGrantedTime float64        `json:"last_granted_time_s"`
	Failure         string         `json:"failure,omitempty"`
}

// IterationStats summarizes exchange rounds per step across the run.
type IterationStats struct {
	Mean float64 `json:"mean"`
	Max  float64 `json:"max"`
	P95  float64 `json:"p95"`
}

// CompletionReport is the structured outcome of a federation run. It always
// reflects partial success: failed federates appear with their status rather
// than erasing the run.
type CompletionReport struct {
	FinalTime        float64          `json:"final_time_s"`
	Federates        []FederateReport `json:"federates"`
	TotalSteps       int              `json:"total_steps"`
	TotalIterations  int              `json:"total_iterations"`
	UnconvergedSteps int              `json:"unconverged_steps"`
	StallRounds      int              `json:"stall_rounds"`
	Cancelled        bool             `json:"cancelled,omitempty"`
	Iterations       IterationStats   `json:"iteration_stats"`
}

// summarizeIterations computes per-step iteration statistics from the raw
// per-step counts.
func summarizeIterations(perStep []float64) IterationStats {
	if len(perStep) == 0 {
		return IterationStats{}
	}
	sorted := make([]float64, len(perStep))
	copy(sorted, perStep)
	sort.Float64s(sorted)
	return IterationStats{
		Mean: stat.Mean(sorted, nil),
		Max:  sorted[len(sorted)-1],
		P95:  stat.Quantile(0.95, stat.Empirical, sorted, nil),
	}
}

// Print writes a human-readable summary, in the spirit of the run's closing
// metrics block.
func (r *CompletionReport) Print() {
	fmt.Println("=== Federation Report ===")
	fmt.Printf("Final time           : %gs\n", r.FinalTime)
	fmt.Printf("Total steps          : %d\n", r.TotalSteps)
	fmt.Printf("Total iterations     : %d (mean %.2f, p95 %.2f, max %g per step)\n",
		r.TotalIterations, r.Iterations.Mean, r.Iterations.P95, r.Iterations.Max)
	if r.UnconvergedSteps > 0 {
		fmt.Printf("Unconverged steps    : %d\n", r.UnconvergedSteps)
	}
	if r.StallRounds > 0 {
		fmt.Printf("Stalled rounds       : %d\n", r.StallRounds)
	}
	if r.Cancelled {
		fmt.Println("Run cancelled at a step boundary")
	}
	for _, f := range r.Federates {
		line := fmt.Sprintf("federate %-12s : %s at t=%gs", f.Name, f.Status, f.LastGrantedTime)
		if f.Failure != "" {
			line += " (" + f.Failure + ")"
		}
		fmt.Println(line)
	}
}
