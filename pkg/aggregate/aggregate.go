// Package aggregate defines the reduction maps applied to the leaf groups of
// a grouped run collection. A Map reduces one or more fields across every run
// in a leaf, either by electing a single representative run (Min, Max, Last)
// or by combining all runs element-wise (AvgStd). The set of reductions is
// closed: callers pick from the constructors in this package.
package aggregate

import "strings"

// Sample holds the values extracted from a single run for the fields a
// reduction reads, keyed by flattened field name. Values are whatever the run
// recorded: scalars for configuration entries, []interface{} sequences for
// logged metrics. A field the run never recorded is simply absent.
type Sample map[string]interface{}

// NoRepresentative is the index returned by Map.Apply when the aggregate
// applies to every run in the leaf instead of electing a single one.
const NoRepresentative = -1

// Map is a reduction over the runs of a leaf group.
//
// Apply receives one Sample per run, in collection order, and returns the
// aggregate entries to attach to the result records together with the index
// of the elected representative run, or NoRepresentative when the entries
// apply to all runs in the leaf.
type Map interface {
	// Name identifies the reduction, e.g. "min(metrics.loss)". Index-selecting
	// reductions also use it as the key under which the aggregate value is
	// stored on the representative record.
	Name() string

	// Fields lists the flattened field names the reduction reads.
	Fields() []string

	// Apply reduces one sample per run into the entries to attach.
	Apply(samples []Sample) (map[string]interface{}, int)

	// aggregation marks the closed reduction set.
	aggregation()
}

// Valid reports whether m is one of the reductions defined by this package.
// A foreign type satisfying Map through embedding is not a valid reduction.
func Valid(m Map) bool {
	switch m.(type) {
	case lastMap, minMap, maxMap, avgStdMap:
		return true
	default:
		return false
	}
}

func mapName(kind string, fields []string) string {
	return kind + "(" + strings.Join(fields, ",") + ")"
}
