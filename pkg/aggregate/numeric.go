package aggregate

import "math"

// toFloat reads v as a float64 for comparison. NaN reports false so it can
// never win an extremum election.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		return n, true
	case float32:
		f := float64(n)
		if math.IsNaN(f) {
			return 0, false
		}
		return f, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int16:
		return float64(n), true
	case int8:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// finalElement returns the last element of a recorded sequence, or the value
// itself when it is a scalar. Missing values and empty sequences report false.
func finalElement(v interface{}) (interface{}, bool) {
	switch s := v.(type) {
	case nil:
		return nil, false
	case []interface{}:
		if len(s) == 0 {
			return nil, false
		}
		return s[len(s)-1], true
	case []float64:
		if len(s) == 0 {
			return nil, false
		}
		return s[len(s)-1], true
	default:
		return v, true
	}
}

// floatSequence coerces a recorded value into a slice of float64 samples.
// Scalars become single-element sequences; sequence elements that are not
// numeric become NaN so their positions stay visible in the aggregate.
func floatSequence(v interface{}) []float64 {
	switch s := v.(type) {
	case nil:
		return nil
	case []interface{}:
		out := make([]float64, len(s))
		for i, e := range s {
			f, ok := toFloat(e)
			if !ok {
				f = math.NaN()
			}
			out[i] = f
		}
		return out
	case []float64:
		return append([]float64(nil), s...)
	default:
		f, ok := toFloat(v)
		if !ok {
			return nil
		}
		return []float64{f}
	}
}

// electExtremum scans the samples for the best comparable value at field and
// returns the aggregate entry plus the elected index. Ties keep the earliest
// run. When nothing is comparable the last run is elected and its raw value,
// comparable or not, is attached.
func electExtremum(samples []Sample, field, name string, better func(candidate, best float64) bool) (map[string]interface{}, int) {
	if len(samples) == 0 {
		return map[string]interface{}{}, NoRepresentative
	}
	idx := -1
	var best float64
	for i, s := range samples {
		f, ok := toFloat(s[field])
		if !ok {
			continue
		}
		if idx < 0 || better(f, best) {
			idx = i
			best = f
		}
	}
	if idx < 0 {
		idx = len(samples) - 1
	}
	return map[string]interface{}{name: samples[idx][field]}, idx
}

// meanStd accumulates sum and sum of squares across the runs' sequences at
// field, truncating both accumulators to the shortest contributing sequence
// at each step. Variance is clamped at zero before the square root so float
// error cannot produce NaN on constant data.
func meanStd(samples []Sample, field string) ([]float64, []float64) {
	var (
		sum   []float64
		sumsq []float64
		n     int
	)
	for _, s := range samples {
		seq := floatSequence(s[field])
		if len(seq) == 0 {
			continue
		}
		if n == 0 {
			sum = make([]float64, len(seq))
			sumsq = make([]float64, len(seq))
		} else if len(seq) < len(sum) {
			sum = sum[:len(seq)]
			sumsq = sumsq[:len(seq)]
		} else {
			seq = seq[:len(sum)]
		}
		for i, v := range seq {
			sum[i] += v
			sumsq[i] += v * v
		}
		n++
	}
	if n == 0 {
		return []float64{}, []float64{}
	}
	avg := make([]float64, len(sum))
	std := make([]float64, len(sum))
	for i := range sum {
		avg[i] = sum[i] / float64(n)
		variance := sumsq[i]/float64(n) - avg[i]*avg[i]
		if variance < 0 {
			variance = 0
		}
		std[i] = math.Sqrt(variance)
	}
	return avg, std
}
