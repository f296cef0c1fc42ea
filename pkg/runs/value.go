package runs

// LazySentinel is the placeholder stored in a flattened document for a field
// whose data lives in a metrics file on disk rather than in the document.
const LazySentinel = "LAZYDATA"

// Value is one field of a run record: either an eager value carried by the
// record itself or a reference into a lazily materialized metrics field.
type Value struct {
	eager interface{}
	field *LazyField
}

// Eager wraps a concrete value.
func Eager(v interface{}) Value { return Value{eager: v} }

// Lazy wraps a reference into a metrics field. The key a lazy value resolves
// under is the record key itself, so only the field handle is carried here.
func Lazy(field *LazyField) Value { return Value{field: field} }

// IsLazy reports whether resolving the value reads from disk.
func (v Value) IsLazy() bool { return v.field != nil }

// Flat returns the document form of the value: the eager value itself, or
// LazySentinel for a lazy reference.
func (v Value) Flat() interface{} {
	if v.field != nil {
		return LazySentinel
	}
	return v.eager
}

// deepCopyValue copies nested maps and slices so aggregated records never
// alias the records they were derived from.
func deepCopyValue(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[k] = deepCopyValue(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = deepCopyValue(e)
		}
		return out
	case []float64:
		return append([]float64(nil), x...)
	default:
		return v
	}
}
