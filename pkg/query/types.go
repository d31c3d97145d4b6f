package query

import (
	"fmt"
	"sort"
	"strings"
)

// Operator identifies the comparison an Expression performs.
type Operator string

const (
	OpEq      Operator = "eq"
	OpNeq     Operator = "neq"
	OpGt      Operator = "gt"
	OpGte     Operator = "gte"
	OpLt      Operator = "lt"
	OpLte     Operator = "lte"
	OpIn      Operator = "in"
	OpNotIn   Operator = "not_in"
	OpBetween Operator = "between"
	OpLike    Operator = "like"
	OpIsNull  Operator = "is_null"
	OpNotNull Operator = "not_null"
)

// operatorAliases maps the textual forms accepted from callers to operators.
var operatorAliases = map[string]Operator{
	"=":           OpEq,
	"==":          OpEq,
	"eq":          OpEq,
	"!=":          OpNeq,
	"<>":          OpNeq,
	"neq":         OpNeq,
	"ne":          OpNeq,
	">":           OpGt,
	"gt":          OpGt,
	">=":          OpGte,
	"gte":         OpGte,
	"<":           OpLt,
	"lt":          OpLt,
	"<=":          OpLte,
	"lte":         OpLte,
	"in":          OpIn,
	"not in":      OpNotIn,
	"not_in":      OpNotIn,
	"not-in":      OpNotIn,
	"nin":         OpNotIn,
	"between":     OpBetween,
	"like":        OpLike,
	"is null":     OpIsNull,
	"is_null":     OpIsNull,
	"is-null":     OpIsNull,
	"is not null": OpNotNull,
	"not_null":    OpNotNull,
	"not-null":    OpNotNull,
}

// ParseOperator resolves a symbolic or named operator such as ">=" or
// "not in". Matching is case-insensitive.
func ParseOperator(s string) (Operator, error) {
	op, ok := operatorAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", newValidationError("", "unknown operator %q", s)
	}
	return op, nil
}

// Valid reports whether op is one of the known operators.
func (op Operator) Valid() bool {
	switch op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn,
		OpBetween, OpLike, OpIsNull, OpNotNull:
		return true
	}
	return false
}

// Range is the inclusive value of a between expression.
type Range struct {
	Low  any
	High any
}

// Expression is a single (field, operator, value) predicate.
type Expression struct {
	Field string
	Op    Operator
	Value any
}

func (e Expression) String() string {
	switch e.Op {
	case OpIsNull, OpNotNull:
		return fmt.Sprintf("%s %s", e.Field, e.Op)
	}
	return fmt.Sprintf("%s %s %v", e.Field, e.Op, e.Value)
}

// FilterSet is a conjunction of Conditions. When Or is non-empty the set
// additionally requires at least one of the alternatives to match.
type FilterSet struct {
	Conditions []Expression
	Or         []FilterSet
}

// Where builds a FilterSet from a field map. Plain values compare with eq;
// an Expression value is used as-is with its Field taken from the key. Keys
// are emitted in sorted order so compiled queries are deterministic.
func Where(fields map[string]any) FilterSet {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fs := FilterSet{Conditions: make([]Expression, 0, len(keys))}
	for _, k := range keys {
		switch v := fields[k].(type) {
		case Expression:
			v.Field = k
			fs.Conditions = append(fs.Conditions, v)
		default:
			fs.Conditions = append(fs.Conditions, Expression{Field: k, Op: OpEq, Value: v})
		}
	}
	return fs
}

// And returns a copy of f with the expressions appended.
func (f FilterSet) And(exprs ...Expression) FilterSet {
	out := FilterSet{
		Conditions: make([]Expression, 0, len(f.Conditions)+len(exprs)),
		Or:         f.Or,
	}
	out.Conditions = append(out.Conditions, f.Conditions...)
	out.Conditions = append(out.Conditions, exprs...)
	return out
}

// IsEmpty reports whether the set matches every record.
func (f FilterSet) IsEmpty() bool {
	return len(f.Conditions) == 0 && len(f.Or) == 0
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection accepts "asc"/"desc" in any case; empty means Asc.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc", "ascending":
		return Asc, nil
	case "desc", "descending":
		return Desc, nil
	}
	return "", newValidationError("", "unknown sort direction %q", s)
}

// Order is one sort key.
type Order struct {
	Field     string
	Direction Direction
}

// Spec describes a complete read: filter, projection, ordering and window.
// Limit 0 means unlimited; Offset defaults to 0.
type Spec struct {
	Filter FilterSet
	Fields []string
	Order  []Order
	Limit  int
	Offset int
}
