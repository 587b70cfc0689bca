package metrics

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// StatSummary holds summary statistics over one set of durations.
type StatSummary struct {
	Count int
	Mean  time.Duration
	P50   time.Duration // Median
	P95   time.Duration
	Min   time.Duration
	Max   time.Duration
}

// StageResult summarises every measurement of one stage in a run.
type StageResult struct {
	ConceptualName string
	Type           MeasurementType
	WallClock      StatSummary
	User           StatSummary
	System         StatSummary
	Raw            []TimeTotals
}

// Analyze groups the recorder's measurements by conceptual name, at any
// depth, and summarises each group. Stages are returned sorted by name.
func Analyze(rec *Recorder) []StageResult {
	byName := make(map[string]*StageResult)
	var walk func(m *Measurement)
	walk = func(m *Measurement) {
		res, ok := byName[m.ConceptualName]
		if !ok {
			res = &StageResult{ConceptualName: m.ConceptualName, Type: m.Type}
			byName[m.ConceptualName] = res
		}
		res.Raw = append(res.Raw, m.Inclusive)
		for _, child := range m.Children {
			walk(child)
		}
	}
	for _, root := range rec.RootMeasurements() {
		walk(root)
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]StageResult, 0, len(names))
	for _, name := range names {
		res := byName[name]
		var wall, user, sys []time.Duration
		for _, t := range res.Raw {
			wall = append(wall, t.WallClock)
			user = append(user, t.UserTime)
			sys = append(sys, t.SystemTime)
		}
		res.WallClock = Summarize(wall)
		res.User = Summarize(user)
		res.System = Summarize(sys)
		results = append(results, *res)
	}
	return results
}

// Summarize computes summary stats from a slice of durations at microsecond
// resolution.
func Summarize(durations []time.Duration) StatSummary {
	if len(durations) == 0 {
		return StatSummary{}
	}

	floats := make([]float64, len(durations))
	for i, v := range durations {
		floats[i] = float64(v.Microseconds())
	}
	sort.Float64s(floats)

	return StatSummary{
		Count: len(durations),
		Mean:  time.Duration(stat.Mean(floats, nil)) * time.Microsecond,
		P50:   time.Duration(stat.Quantile(0.5, stat.Empirical, floats, nil)) * time.Microsecond,
		P95:   time.Duration(stat.Quantile(0.95, stat.Empirical, floats, nil)) * time.Microsecond,
		Min:   time.Duration(floats[0]) * time.Microsecond,
		Max:   time.Duration(floats[len(floats)-1]) * time.Microsecond,
	}
}
