package runs

import (
	"fmt"
	"strings"

	"github.com/jpeyre/mlxp/pkg/aggregate"
)

// Grouped is a partition of a collection by the values of its group keys.
// Tuples are held in first-seen order; each leaf preserves the original
// collection's relative record order.
type Grouped struct {
	keys   []string
	tuples [][]string
	groups map[string]*Collection
}

// GroupKeys returns the column names the partition was built from.
func (g *Grouped) GroupKeys() []string {
	return append([]string(nil), g.keys...)
}

// Tuples returns the group-value tuples in first-seen order.
func (g *Grouped) Tuples() [][]string {
	out := make([][]string, len(g.tuples))
	for i, t := range g.tuples {
		out[i] = append([]string(nil), t...)
	}
	return out
}

// Len returns the number of leaf groups.
func (g *Grouped) Len() int { return len(g.tuples) }

// Group returns the leaf collection holding the runs whose group values
// stringify to tuple.
func (g *Grouped) Group(tuple []string) (*Collection, bool) {
	leaf, ok := g.groups[strings.Join(tuple, groupSeparator)]
	return leaf, ok
}

// Table flattens the partition back into a single collection, leaves
// concatenated in tuple order.
func (g *Grouped) Table() *Collection {
	flat := New()
	for _, t := range g.tuples {
		leaf := g.groups[strings.Join(t, groupSeparator)]
		flat.Append(leaf.records...)
	}
	return flat
}

// Aggregate reduces every leaf with every map, sharing one extraction pass
// per leaf so each run's fields are read once and released again through
// FreeUnused. It returns one Grouped per map name, each carrying the same
// group keys and tuple order as g, with every leaf replaced by that map's
// aggregated records; the results can be grouped and aggregated further.
//
// All maps are validated before any run data is touched: a map that is not a
// reduction defined by package aggregate fails the whole call.
func (g *Grouped) Aggregate(maps []aggregate.Map) (map[string]*Grouped, error) {
	for _, m := range maps {
		if !aggregate.Valid(m) {
			return nil, fmt.Errorf("%w: the provided map %v is not a reduction defined by package aggregate: valid maps are built by Last, Min, Max and AvgStd", ErrInvalidAggregation, m)
		}
	}

	fields := aggregationFields(maps)
	out := make(map[string]*Grouped, len(maps))
	for _, m := range maps {
		out[m.Name()] = &Grouped{
			keys:   append([]string(nil), g.keys...),
			tuples: g.Tuples(),
			groups: make(map[string]*Collection, len(g.tuples)),
		}
	}

	for _, tuple := range g.tuples {
		id := strings.Join(tuple, groupSeparator)
		leaf := g.groups[id]

		samples := make([]aggregate.Sample, leaf.Len())
		for i := 0; i < leaf.Len(); i++ {
			r := leaf.At(i)
			sample := make(aggregate.Sample, len(fields))
			for _, field := range fields {
				if v, ok := r.Get(field); ok {
					sample[field] = v
				}
			}
			samples[i] = sample
			r.FreeUnused()
		}

		for _, m := range maps {
			entries, idx := m.Apply(samples)
			agg := New()
			if idx == aggregate.NoRepresentative {
				for i := 0; i < leaf.Len(); i++ {
					agg.Append(leaf.At(i).Clone())
				}
			} else {
				agg.Append(leaf.At(idx).Clone())
			}
			for i := 0; i < agg.Len(); i++ {
				agg.At(i).attach(entries)
			}
			out[m.Name()].groups[id] = agg
		}
	}
	return out, nil
}

// aggregationFields unions the maps' fields, first seen first, deduplicated.
func aggregationFields(maps []aggregate.Map) []string {
	seen := make(map[string]struct{})
	fields := []string{}
	for _, m := range maps {
		for _, f := range m.Fields() {
			if _, ok := seen[f]; !ok {
				seen[f] = struct{}{}
				fields = append(fields, f)
			}
		}
	}
	return fields
}
