package query

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrInvalidQuery is matched by every ValidationError.
var ErrInvalidQuery = errors.New("invalid query")

// ValidationError reports a malformed filter or query spec. It is never
// worth retrying.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid query: field '%s': %s", e.Field, e.Reason)
	}
	return "invalid query: " + e.Reason
}

// Is matches ErrInvalidQuery.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidQuery
}

func newValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Normalize validates the filter set and returns a copy in canonical form:
// in/not_in values become []any and between values become Range.
func (f FilterSet) Normalize() (FilterSet, error) {
	out := FilterSet{}
	if len(f.Conditions) > 0 {
		out.Conditions = make([]Expression, 0, len(f.Conditions))
	}
	for _, e := range f.Conditions {
		n, err := e.Normalize()
		if err != nil {
			return FilterSet{}, err
		}
		out.Conditions = append(out.Conditions, n)
	}
	for i, alt := range f.Or {
		n, err := alt.Normalize()
		if err != nil {
			return FilterSet{}, err
		}
		if n.IsEmpty() {
			return FilterSet{}, newValidationError("", "alternative %d is empty", i)
		}
		out.Or = append(out.Or, n)
	}
	return out, nil
}

// Normalize validates a single expression.
func (e Expression) Normalize() (Expression, error) {
	if e.Field == "" {
		return e, newValidationError("", "expression with operator %q has no field", e.Op)
	}
	if !e.Op.Valid() {
		return e, newValidationError(e.Field, "unknown operator %q", e.Op)
	}

	switch e.Op {
	case OpIn, OpNotIn:
		values, err := ValuesOf(e.Value)
		if err != nil {
			return e, newValidationError(e.Field, "%s requires a list value: %v", e.Op, err)
		}
		e.Value = values
	case OpBetween:
		r, err := RangeOf(e.Value)
		if err != nil {
			return e, newValidationError(e.Field, "%v", err)
		}
		e.Value = r
	case OpLike:
		if _, ok := e.Value.(string); !ok {
			return e, newValidationError(e.Field, "like requires a string pattern, got %T", e.Value)
		}
	case OpIsNull, OpNotNull:
		e.Value = nil
	default:
		if e.Value == nil {
			return e, newValidationError(e.Field, "%s requires a value; use is_null/not_null for nulls", e.Op)
		}
	}
	return e, nil
}

// Normalize validates the query and returns it in canonical form.
func (s Spec) Normalize() (Spec, error) {
	if s.Limit < 0 {
		return Spec{}, newValidationError("", "limit must be positive, got %d", s.Limit)
	}
	if s.Offset < 0 {
		return Spec{}, newValidationError("", "offset must not be negative, got %d", s.Offset)
	}
	filter, err := s.Filter.Normalize()
	if err != nil {
		return Spec{}, err
	}
	order := make([]Order, len(s.Order))
	copy(order, s.Order)
	for i, o := range order {
		if o.Field == "" {
			return Spec{}, newValidationError("", "order key %d has no field", i)
		}
		switch o.Direction {
		case "":
			order[i].Direction = Asc
		case Asc, Desc:
		default:
			return Spec{}, newValidationError(o.Field, "unknown sort direction %q", o.Direction)
		}
	}
	for _, f := range s.Fields {
		if f == "" {
			return Spec{}, newValidationError("", "projection contains an empty field name")
		}
	}
	s.Filter = filter
	if len(order) > 0 {
		s.Order = order
	}
	return s, nil
}

// ValuesOf converts any slice or array into []any.
func ValuesOf(v any) ([]any, error) {
	switch vv := v.(type) {
	case []any:
		return vv, nil
	case nil:
		return nil, errors.New("nil list")
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%T is not a list", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// RangeOf accepts a Range, *Range or a two element list.
func RangeOf(v any) (Range, error) {
	switch vv := v.(type) {
	case Range:
		if vv.Low == nil || vv.High == nil {
			return Range{}, errors.New("between requires both bounds")
		}
		return vv, nil
	case *Range:
		if vv == nil {
			return Range{}, errors.New("between requires a range")
		}
		return RangeOf(*vv)
	}
	values, err := ValuesOf(v)
	if err != nil || len(values) != 2 {
		return Range{}, fmt.Errorf("between requires exactly two bounds, got %v", v)
	}
	return RangeOf(Range{Low: values[0], High: values[1]})
}
