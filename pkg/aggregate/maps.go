package aggregate

// Last reports the final recorded element of field's sequence, electing the
// last run of the leaf as representative.
func Last(field string) Map { return lastMap{field: field} }

// Min elects the run holding the smallest comparable value at field.
func Min(field string) Map { return minMap{field: field} }

// Max elects the run holding the largest comparable value at field.
func Max(field string) Map { return maxMap{field: field} }

// AvgStd computes the element-wise mean and population standard deviation of
// each field across all runs of the leaf. The result applies to every run.
func AvgStd(fields ...string) Map {
	return avgStdMap{fields: append([]string(nil), fields...)}
}

type lastMap struct{ field string }

func (m lastMap) Name() string     { return mapName("last", []string{m.field}) }
func (m lastMap) Fields() []string { return []string{m.field} }
func (m lastMap) aggregation()     {}

// Apply elects the last run and reports the final element of its sequence at
// the map's field. A run that never recorded the field, or recorded an empty
// sequence, contributes no entry; the election stands regardless, so leaves
// of uneven completeness still aggregate.
func (m lastMap) Apply(samples []Sample) (map[string]interface{}, int) {
	if len(samples) == 0 {
		return map[string]interface{}{}, NoRepresentative
	}
	idx := len(samples) - 1
	v, ok := finalElement(samples[idx][m.field])
	if !ok {
		return map[string]interface{}{}, idx
	}
	return map[string]interface{}{m.Name(): v}, idx
}

type minMap struct{ field string }

func (m minMap) Name() string     { return mapName("min", []string{m.field}) }
func (m minMap) Fields() []string { return []string{m.field} }
func (m minMap) aggregation()     {}

// Apply elects the run with the smallest comparable value at the map's
// field. Missing and non-numeric values are skipped when locating the
// optimum; if no run is comparable the last run is elected so the
// aggregation degrades instead of failing.
func (m minMap) Apply(samples []Sample) (map[string]interface{}, int) {
	return electExtremum(samples, m.field, m.Name(), func(candidate, best float64) bool {
		return candidate < best
	})
}

type maxMap struct{ field string }

func (m maxMap) Name() string     { return mapName("max", []string{m.field}) }
func (m maxMap) Fields() []string { return []string{m.field} }
func (m maxMap) aggregation()     {}

// Apply elects the run with the largest comparable value at the map's field,
// with the same skipping and last-run fallback as Min.
func (m maxMap) Apply(samples []Sample) (map[string]interface{}, int) {
	return electExtremum(samples, m.field, m.Name(), func(candidate, best float64) bool {
		return candidate > best
	})
}

type avgStdMap struct{ fields []string }

func (m avgStdMap) Name() string     { return mapName("avgstd", m.fields) }
func (m avgStdMap) Fields() []string { return append([]string(nil), m.fields...) }
func (m avgStdMap) aggregation()     {}

// Apply computes, for every field, the element-wise mean and population
// standard deviation across the runs of the leaf, stored under
// "<field>_avg" and "<field>_std". Sequences are truncated to the shortest
// contributing length at each accumulation step, elements that cannot be
// read as numbers accumulate as NaN, and runs with no data for a field are
// skipped entirely.
func (m avgStdMap) Apply(samples []Sample) (map[string]interface{}, int) {
	out := make(map[string]interface{}, 2*len(m.fields))
	for _, field := range m.fields {
		avg, std := meanStd(samples, field)
		out[field+"_avg"] = avg
		out[field+"_std"] = std
	}
	return out, NoRepresentative
}
