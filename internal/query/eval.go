package query

import (
	"math"
	"reflect"
)

// Eval evaluates a parsed filter against a flattened run document. A
// comparison over a field the document does not carry is false; a negation
// over such a comparison is therefore true, matching runs that lack the
// field entirely.
func Eval(expr Expression, doc map[string]interface{}) bool {
	switch ex := expr.(type) {
	case *LogicalExpr:
		if ex.Op == "&" {
			return Eval(ex.Left, doc) && Eval(ex.Right, doc)
		}
		return Eval(ex.Left, doc) || Eval(ex.Right, doc)
	case *NotExpr:
		return !Eval(ex.Operand, doc)
	case *CompareExpr:
		v, ok := doc[ex.Field]
		if !ok {
			return false
		}
		return compare(v, ex.Op, ex.Value)
	case *InExpr:
		v, ok := doc[ex.Field]
		if !ok {
			return false
		}
		for _, candidate := range ex.Values {
			if literalEqual(v, candidate) {
				return true
			}
		}
		return false
	}
	return false
}

// compare applies op between a document value and a filter literal. Equality
// works across numeric types; ordering requires two numbers or two strings
// and is false otherwise.
func compare(v interface{}, op string, lit interface{}) bool {
	switch op {
	case "==":
		return literalEqual(v, lit)
	case "!=":
		return !literalEqual(v, lit)
	}

	if fv, ok := toFloat(v); ok {
		if fl, ok := toFloat(lit); ok {
			switch op {
			case "<":
				return fv < fl
			case "<=":
				return fv <= fl
			case ">":
				return fv > fl
			case ">=":
				return fv >= fl
			}
			return false
		}
	}

	sv, vIsStr := v.(string)
	sl, litIsStr := lit.(string)
	if vIsStr && litIsStr {
		switch op {
		case "<":
			return sv < sl
		case "<=":
			return sv <= sl
		case ">":
			return sv > sl
		case ">=":
			return sv >= sl
		}
	}
	return false
}

// literalEqual reports equality between a document value and a filter
// literal. Numbers and booleans compare by numeric value regardless of the
// document's concrete type, so a YAML int matches a filter float.
func literalEqual(v, lit interface{}) bool {
	if fv, ok := toFloat(v); ok {
		if fl, ok := toFloat(lit); ok {
			return fv == fl
		}
		return false
	}
	if v == nil || lit == nil {
		return v == nil && lit == nil
	}
	// DeepEqual keeps non-comparable document values (lists) from panicking.
	return reflect.DeepEqual(v, lit)
}

// toFloat reads v as a float64 for comparison. NaN reports false so it never
// satisfies an ordering.
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
