package aggregate

import (
	"math"
	"reflect"
	"testing"
)

func TestMinMaxElection(t *testing.T) {
	samples := []Sample{
		{"x": 3},
		{"x": 1},
		{"x": 2},
	}

	entries, idx := Min("x").Apply(samples)
	if idx != 1 {
		t.Fatalf("Min elected index %d, want 1", idx)
	}
	if got := entries["min(x)"]; !reflect.DeepEqual(got, 1) {
		t.Fatalf("min(x) = %v, want 1", got)
	}

	entries, idx = Max("x").Apply(samples)
	if idx != 0 {
		t.Fatalf("Max elected index %d, want 0", idx)
	}
	if got := entries["max(x)"]; !reflect.DeepEqual(got, 3) {
		t.Fatalf("max(x) = %v, want 3", got)
	}
}

func TestMinTiesKeepEarliestRun(t *testing.T) {
	samples := []Sample{
		{"x": 1.0},
		{"x": 1.0},
		{"x": 2.0},
	}
	_, idx := Min("x").Apply(samples)
	if idx != 0 {
		t.Errorf("tied minimum elected index %d, want 0", idx)
	}
}

func TestMinSkipsNonComparableValues(t *testing.T) {
	samples := []Sample{
		{"x": "not a number"},
		{"x": 5.0},
		{},
		{"x": math.NaN()},
		{"x": 2.0},
	}
	entries, idx := Min("x").Apply(samples)
	if idx != 4 {
		t.Fatalf("elected index %d, want 4", idx)
	}
	if got := entries["min(x)"]; !reflect.DeepEqual(got, 2.0) {
		t.Fatalf("min(x) = %v, want 2", got)
	}
}

// When no run holds a comparable value the election degrades to the last run
// rather than failing. This fallback is intentional and must not be altered.
func TestMinFallsBackToLastRun(t *testing.T) {
	samples := []Sample{
		{"x": "alpha"},
		{"x": "beta"},
	}
	entries, idx := Min("x").Apply(samples)
	if idx != 1 {
		t.Fatalf("fallback elected index %d, want last index 1", idx)
	}
	if got := entries["min(x)"]; got != "beta" {
		t.Fatalf("fallback value = %v, want the last run's raw value", got)
	}

	entries, idx = Max("x").Apply(samples)
	if idx != 1 {
		t.Fatalf("Max fallback elected index %d, want 1", idx)
	}
	if got := entries["max(x)"]; got != "beta" {
		t.Fatalf("Max fallback value = %v, want beta", got)
	}
}

func TestLastReportsFinalElement(t *testing.T) {
	samples := []Sample{
		{"metrics.loss": []interface{}{0.9, 0.5, 0.1}},
		{"metrics.loss": []interface{}{0.8, 0.4, 0.2}},
	}
	entries, idx := Last("metrics.loss").Apply(samples)
	if idx != 1 {
		t.Fatalf("Last elected index %d, want 1", idx)
	}
	if got := entries["last(metrics.loss)"]; !reflect.DeepEqual(got, 0.2) {
		t.Fatalf("last(metrics.loss) = %v, want 0.2", got)
	}
}

func TestLastScalarIsItsOwnFinalElement(t *testing.T) {
	entries, idx := Last("config.lr").Apply([]Sample{{"config.lr": 0.01}})
	if idx != 0 {
		t.Fatalf("elected index %d, want 0", idx)
	}
	if got := entries["last(config.lr)"]; !reflect.DeepEqual(got, 0.01) {
		t.Fatalf("last(config.lr) = %v, want 0.01", got)
	}
}

func TestLastToleratesIncompleteRuns(t *testing.T) {
	cases := []struct {
		name   string
		sample Sample
	}{
		{"missing field", Sample{}},
		{"empty sequence", Sample{"metrics.loss": []interface{}{}}},
	}
	for _, tc := range cases {
		entries, idx := Last("metrics.loss").Apply([]Sample{tc.sample})
		if idx != 0 {
			t.Errorf("%s: elected index %d, want 0", tc.name, idx)
		}
		if len(entries) != 0 {
			t.Errorf("%s: entries = %v, want empty contribution", tc.name, entries)
		}
	}
}

func TestApplyOnEmptyLeaf(t *testing.T) {
	for _, m := range []Map{Last("x"), Min("x"), Max("x")} {
		entries, idx := m.Apply(nil)
		if idx != NoRepresentative {
			t.Errorf("%s: index = %d, want NoRepresentative", m.Name(), idx)
		}
		if len(entries) != 0 {
			t.Errorf("%s: entries = %v, want empty", m.Name(), entries)
		}
	}
}

func TestAvgStdTruncatesToShortestSequence(t *testing.T) {
	samples := []Sample{
		{"metrics.loss": []interface{}{1.0, 2.0, 3.0}},
		{"metrics.loss": []interface{}{1.0, 2.0}},
	}
	entries, idx := AvgStd("metrics.loss").Apply(samples)
	if idx != NoRepresentative {
		t.Fatalf("index = %d, want NoRepresentative", idx)
	}
	avg := entries["metrics.loss_avg"].([]float64)
	std := entries["metrics.loss_std"].([]float64)
	if !reflect.DeepEqual(avg, []float64{1.0, 2.0}) {
		t.Errorf("avg = %v, want [1 2]", avg)
	}
	if !reflect.DeepEqual(std, []float64{0.0, 0.0}) {
		t.Errorf("std = %v, want [0 0]", std)
	}
}

func TestAvgStdSingleRun(t *testing.T) {
	entries, _ := AvgStd("m.v").Apply([]Sample{
		{"m.v": []interface{}{1.0, 2.0, 3.0}},
	})
	avg := entries["m.v_avg"].([]float64)
	std := entries["m.v_std"].([]float64)
	if !reflect.DeepEqual(avg, []float64{1.0, 2.0, 3.0}) {
		t.Errorf("avg = %v, want the sequence itself", avg)
	}
	if !reflect.DeepEqual(std, []float64{0.0, 0.0, 0.0}) {
		t.Errorf("std = %v, want zeros", std)
	}
}

func TestAvgStdComputesPopulationDeviation(t *testing.T) {
	entries, _ := AvgStd("m.v").Apply([]Sample{
		{"m.v": []interface{}{1.0}},
		{"m.v": []interface{}{3.0}},
	})
	avg := entries["m.v_avg"].([]float64)
	std := entries["m.v_std"].([]float64)
	if !reflect.DeepEqual(avg, []float64{2.0}) {
		t.Errorf("avg = %v, want [2]", avg)
	}
	// Population deviation: sqrt(((1-2)^2 + (3-2)^2) / 2) = 1, not sqrt(2).
	if !reflect.DeepEqual(std, []float64{1.0}) {
		t.Errorf("std = %v, want [1]", std)
	}
}

func TestAvgStdSkipsRunsWithoutData(t *testing.T) {
	entries, _ := AvgStd("m.v").Apply([]Sample{
		{"m.v": []interface{}{2.0, 4.0}},
		{},
		{"m.v": []interface{}{}},
		{"m.v": []interface{}{4.0, 8.0}},
	})
	avg := entries["m.v_avg"].([]float64)
	if !reflect.DeepEqual(avg, []float64{3.0, 6.0}) {
		t.Errorf("avg = %v, want [3 6] over the two contributing runs", avg)
	}
}

func TestAvgStdNonNumericElementBecomesNaN(t *testing.T) {
	entries, _ := AvgStd("m.v").Apply([]Sample{
		{"m.v": []interface{}{1.0, "oops"}},
		{"m.v": []interface{}{1.0, 2.0}},
	})
	avg := entries["m.v_avg"].([]float64)
	if avg[0] != 1.0 {
		t.Errorf("avg[0] = %v, want 1", avg[0])
	}
	if !math.IsNaN(avg[1]) {
		t.Errorf("avg[1] = %v, want NaN", avg[1])
	}
}

func TestAvgStdTreatsScalarsAsSingletonSequences(t *testing.T) {
	entries, _ := AvgStd("config.seed").Apply([]Sample{
		{"config.seed": 1},
		{"config.seed": 3},
	})
	avg := entries["config.seed_avg"].([]float64)
	if !reflect.DeepEqual(avg, []float64{2.0}) {
		t.Errorf("avg = %v, want [2]", avg)
	}
}

func TestMapNames(t *testing.T) {
	cases := []struct {
		m    Map
		name string
	}{
		{Last("metrics.loss"), "last(metrics.loss)"},
		{Min("metrics.loss"), "min(metrics.loss)"},
		{Max("metrics.acc"), "max(metrics.acc)"},
		{AvgStd("metrics.loss"), "avgstd(metrics.loss)"},
		{AvgStd("a", "b"), "avgstd(a,b)"},
	}
	for _, tc := range cases {
		if got := tc.m.Name(); got != tc.name {
			t.Errorf("Name() = %q, want %q", got, tc.name)
		}
	}
}

func TestMapFields(t *testing.T) {
	m := AvgStd("a", "b")
	if got := m.Fields(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("Fields() = %v, want [a b]", got)
	}
	// Mutating the returned slice must not alter the map.
	m.Fields()[0] = "z"
	if got := m.Fields(); got[0] != "a" {
		t.Errorf("Fields() leaked internal state: %v", got)
	}
}

// foreignMap satisfies Map through embedding but is not a reduction defined
// by this package.
type foreignMap struct{ Map }

func TestValid(t *testing.T) {
	for _, m := range []Map{Last("x"), Min("x"), Max("x"), AvgStd("x")} {
		if !Valid(m) {
			t.Errorf("Valid(%s) = false, want true", m.Name())
		}
	}
	if Valid(nil) {
		t.Error("Valid(nil) = true, want false")
	}
	if Valid(foreignMap{Min("x")}) {
		t.Error("Valid(foreignMap) = true, want false")
	}
}
