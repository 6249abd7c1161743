package trace

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// WriteCSV writes the trace as one row per step: t, one level column per
// tank, one status column per pump, and the iteration count. Column order is
// sorted by name so output is stable across runs.
func (rt *RunTrace) WriteCSV(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("trace: create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("trace: create %s: %w", path, err)
	}
	defer f.Close()

	tanks, pumps := rt.columns()
	w := csv.NewWriter(f)
	header := []string{"t"}
	for _, tank := range tanks {
		header = append(header, tank+"_level")
	}
	for _, pump := range pumps {
		header = append(header, pump+"_status")
	}
	header = append(header, "iterations")
	if err := w.Write(header); err != nil {
		return fmt.Errorf("trace: write header: %w", err)
	}

	for _, rec := range rt.Steps {
		row := []string{strconv.FormatFloat(rec.TimeS, 'g', -1, 64)}
		for _, tank := range tanks {
			if level, ok := rec.Levels[tank]; ok {
				row = append(row, strconv.FormatFloat(level, 'f', 4, 64))
			} else {
				row = append(row, "")
			}
		}
		for _, pump := range pumps {
			row = append(row, rec.Commands[pump])
		}
		row = append(row, strconv.Itoa(rec.Iterations))
		if err := w.Write(row); err != nil {
			return fmt.Errorf("trace: write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// columns collects the sorted union of tank and pump names across all steps.
func (rt *RunTrace) columns() (tanks, pumps []string) {
	tankSet := make(map[string]bool)
	pumpSet := make(map[string]bool)
	for _, rec := range rt.Steps {
		for tank := range rec.Levels {
			tankSet[tank] = true
		}
		for pump := range rec.Commands {
			pumpSet[pump] = true
		}
	}
	for tank := range tankSet {
		tanks = append(tanks, tank)
	}
	for pump := range pumpSet {
		pumps = append(pumps, pump)
	}
	sort.Strings(tanks)
	sort.Strings(pumps)
	return tanks, pumps
}
