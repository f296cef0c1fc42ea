package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Expression is a node of a parsed filter.
type Expression interface {
	expressionNode()
	String() string
}

// LogicalExpr combines two expressions with & or |.
type LogicalExpr struct {
	Op    string // "&" or "|"
	Left  Expression
	Right Expression
}

func (e *LogicalExpr) expressionNode() {}

func (e *LogicalExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left.String(), e.Op, e.Right.String())
}

// NotExpr negates its operand.
type NotExpr struct {
	Operand Expression
}

func (e *NotExpr) expressionNode() {}

func (e *NotExpr) String() string {
	return "~" + e.Operand.String()
}

// CompareExpr compares a document field with a literal.
type CompareExpr struct {
	Field string
	Op    string // "==", "!=", "<", "<=", ">", ">="
	Value interface{}
}

func (e *CompareExpr) expressionNode() {}

func (e *CompareExpr) String() string {
	return fmt.Sprintf("%s %s %s", e.Field, e.Op, formatLiteral(e.Value))
}

// InExpr tests a document field for membership in a literal list.
type InExpr struct {
	Field  string
	Values []interface{}
}

func (e *InExpr) expressionNode() {}

func (e *InExpr) String() string {
	parts := make([]string, len(e.Values))
	for i, v := range e.Values {
		parts[i] = formatLiteral(v)
	}
	return fmt.Sprintf("%s in [%s]", e.Field, strings.Join(parts, ", "))
}

// formatLiteral renders a literal the way the language spells it.
func formatLiteral(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case string:
		return "'" + x + "'"
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// Fields returns the document keys referenced by the expression, leftmost
// first, deduplicated.
func Fields(expr Expression) []string {
	seen := make(map[string]struct{})
	var fields []string
	var walk func(Expression)
	walk = func(e Expression) {
		switch ex := e.(type) {
		case *LogicalExpr:
			walk(ex.Left)
			walk(ex.Right)
		case *NotExpr:
			walk(ex.Operand)
		case *CompareExpr:
			if _, ok := seen[ex.Field]; !ok {
				seen[ex.Field] = struct{}{}
				fields = append(fields, ex.Field)
			}
		case *InExpr:
			if _, ok := seen[ex.Field]; !ok {
				seen[ex.Field] = struct{}{}
				fields = append(fields, ex.Field)
			}
		}
	}
	if expr != nil {
		walk(expr)
	}
	return fields
}
