// Package runs holds the reader-side data model of an experiment store: run
// records with lazily materialized metrics, ordered collections over them,
// and grouping plus aggregation across collections. The model assumes
// single-threaded use; nothing here takes locks.
package runs

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Collection is an ordered list of run records. Row order is insertion order
// and is preserved through grouping: each leaf's internal order is a
// subsequence of the collection's.
type Collection struct {
	records []*Record
	columns []string
}

// New builds a collection over the given records.
func New(records ...*Record) *Collection {
	return &Collection{records: records}
}

// Len returns the number of records.
func (c *Collection) Len() int { return len(c.records) }

// At returns the record at index i.
func (c *Collection) At(i int) *Record { return c.records[i] }

// Append adds records to the end of the collection and invalidates the
// cached column set.
func (c *Collection) Append(records ...*Record) {
	c.records = append(c.records, records...)
	c.columns = nil
}

// Columns returns the union of keys across all records in first-seen order,
// computed once and cached until the collection changes.
func (c *Collection) Columns() []string {
	if c.columns == nil {
		seen := make(map[string]struct{})
		cols := []string{}
		for _, r := range c.records {
			for _, k := range r.order {
				if _, ok := seen[k]; !ok {
					seen[k] = struct{}{}
					cols = append(cols, k)
				}
			}
		}
		c.columns = cols
	}
	return append([]string(nil), c.columns...)
}

// Table returns the flat document form of every record, in collection order.
func (c *Collection) Table() []map[string]interface{} {
	out := make([]map[string]interface{}, len(c.records))
	for i, r := range c.records {
		out[i] = r.Flat()
	}
	return out
}

// Diff returns the columns starting with prefix whose value or presence
// differs across the collection's records, in column order. Values compare
// by their document form, so lazy fields are never materialized: two lazy
// references compare equal through their sentinel.
func (c *Collection) Diff(prefix string) []string {
	diff := []string{}
	if len(c.records) < 2 {
		return diff
	}
	flats := make([]map[string]interface{}, len(c.records))
	for i, r := range c.records {
		flats[i] = r.Flat()
	}
	for _, key := range c.Columns() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		ref, refPresent := flats[0][key]
		for _, flat := range flats[1:] {
			v, present := flat[key]
			if present != refPresent || !reflect.DeepEqual(v, ref) {
				diff = append(diff, key)
				break
			}
		}
	}
	return diff
}

// groupSeparator joins group-value tuples into map keys. It is assumed not
// to occur inside stringified group values.
const groupSeparator = "\x1f"

// GroupBy partitions the collection by the stringified values of keys, in
// first-seen tuple order. Every key must be a known column. A record's tuple
// omits unset values, so a run with none of the group keys set lands in the
// empty tuple's group rather than being dropped.
func (c *Collection) GroupBy(keys []string) (*Grouped, error) {
	cols := c.Columns()
	valid := make(map[string]struct{}, len(cols))
	for _, k := range cols {
		valid[k] = struct{}{}
	}
	for _, key := range keys {
		if _, ok := valid[key]; !ok {
			return nil, fmt.Errorf("%w: the provided key %q is invalid: valid keys are: %v", ErrInvalidKey, key, cols)
		}
	}

	g := &Grouped{
		keys:   append([]string(nil), keys...),
		groups: make(map[string]*Collection),
	}
	for _, r := range c.records {
		flat := r.Flat()
		tuple := make([]string, 0, len(keys))
		for _, key := range keys {
			v, ok := flat[key]
			if !ok || v == nil {
				continue
			}
			tuple = append(tuple, formatValue(v))
		}
		id := strings.Join(tuple, groupSeparator)
		leaf, ok := g.groups[id]
		if !ok {
			leaf = New()
			g.groups[id] = leaf
			g.tuples = append(g.tuples, tuple)
		}
		leaf.Append(r)
	}
	return g, nil
}

// formatValue renders a group value the way it appears in a tuple. Floats
// use the shortest representation that round-trips, so a document's 1 and
// 1.0 group together regardless of numeric type.
func formatValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
