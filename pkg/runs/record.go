package runs

import (
	"sort"
	"strings"

	"github.com/jpeyre/mlxp/internal/rundir"
)

// Record is the flattened view of a single run: configuration, run metadata
// and logged metrics addressed by dot-qualified keys ("config.optimizer.lr",
// "train.loss"). Configuration and metadata are eager; metric fields are lazy
// references into the run's metrics files, resolved on first read.
type Record struct {
	dir    string
	order  []string
	values map[string]Value
	fields map[string]*LazyField
}

// RecordFromDoc builds a Record from a flattened document as stored by the
// catalog, backed by the run directory at runDir. Entries holding
// LazySentinel become lazy references; all keys sharing one log-name prefix
// share a single LazyField so the backing file is read at most once per
// materialization.
func RecordFromDoc(doc map[string]interface{}, runDir string) *Record {
	r := &Record{
		dir:    runDir,
		order:  make([]string, 0, len(doc)),
		values: make(map[string]Value, len(doc)),
		fields: make(map[string]*LazyField),
	}
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := doc[k]
		if s, ok := v.(string); ok && s == LazySentinel {
			prefix := k
			if i := strings.IndexByte(k, '.'); i >= 0 {
				prefix = k[:i]
			}
			field, ok := r.fields[prefix]
			if !ok {
				field = NewLazyField(rundir.MetricsFile(runDir, prefix), prefix)
				r.fields[prefix] = field
			}
			r.values[k] = Lazy(field)
		} else {
			r.values[k] = Eager(v)
		}
		r.order = append(r.order, k)
	}
	return r
}

// RunDir returns the run directory backing this record.
func (r *Record) RunDir() string { return r.dir }

// Keys returns the record's keys in stable order.
func (r *Record) Keys() []string {
	return append([]string(nil), r.order...)
}

// Get resolves the value at key. A lazy reference materializes its backing
// file on first access. The second return is false when the record does not
// carry the key at all.
func (r *Record) Get(key string) (interface{}, bool) {
	v, ok := r.values[key]
	if !ok {
		return nil, false
	}
	if v.IsLazy() {
		return v.field.Get(key), true
	}
	return v.eager, true
}

// Flat returns the document form of the record: eager values as they are,
// LazySentinel for lazy references. The map is freshly allocated.
func (r *Record) Flat() map[string]interface{} {
	out := make(map[string]interface{}, len(r.values))
	for k, v := range r.values {
		out[k] = v.Flat()
	}
	return out
}

// FreeUnused evicts, from every materialized metrics field of this record,
// the keys that were never read.
func (r *Record) FreeUnused() {
	for _, f := range r.fields {
		f.FreeUnused()
	}
}

// Clone returns a record with deep-copied eager values. Lazy references in
// the clone share the original's materialization cache; the backing file is
// read-only so a shared cache stays consistent.
func (r *Record) Clone() *Record {
	c := &Record{
		dir:    r.dir,
		order:  append([]string(nil), r.order...),
		values: make(map[string]Value, len(r.values)),
		fields: r.fields,
	}
	for k, v := range r.values {
		if v.IsLazy() {
			c.values[k] = v
		} else {
			c.values[k] = Eager(deepCopyValue(v.eager))
		}
	}
	return c
}

// attach merges aggregate entries into the record as eager values, appending
// new keys in sorted order to keep the record deterministic.
func (r *Record) attach(entries map[string]interface{}) {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, exists := r.values[k]; !exists {
			r.order = append(r.order, k)
		}
		r.values[k] = Eager(entries[k])
	}
}
