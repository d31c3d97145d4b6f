package query

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sync"
	"time"
)

// Match evaluates the filter set against an in-memory record. A field that
// is absent from the record is treated as null. The filter is expected to be
// normalized.
func (f FilterSet) Match(record map[string]any) bool {
	for _, e := range f.Conditions {
		if !e.Match(record) {
			return false
		}
	}
	if len(f.Or) == 0 {
		return true
	}
	for _, alt := range f.Or {
		if alt.Match(record) {
			return true
		}
	}
	return false
}

// Match evaluates one expression against a record.
func (e Expression) Match(record map[string]any) bool {
	actual := record[e.Field]

	switch e.Op {
	case OpIsNull:
		return actual == nil
	case OpNotNull:
		return actual != nil
	case OpEq:
		return Equal(actual, e.Value)
	case OpNeq:
		// Null and missing fields never satisfy a negative comparison.
		return actual != nil && !Equal(actual, e.Value)
	case OpGt, OpGte, OpLt, OpLte:
		c, ok := Compare(actual, e.Value)
		if !ok {
			return false
		}
		switch e.Op {
		case OpGt:
			return c > 0
		case OpGte:
			return c >= 0
		case OpLt:
			return c < 0
		default:
			return c <= 0
		}
	case OpIn, OpNotIn:
		values, err := ValuesOf(e.Value)
		if err != nil {
			return false
		}
		if actual == nil && len(values) > 0 {
			return false
		}
		found := false
		for _, v := range values {
			if Equal(actual, v) {
				found = true
				break
			}
		}
		return found == (e.Op == OpIn)
	case OpBetween:
		r, err := RangeOf(e.Value)
		if err != nil {
			return false
		}
		lo, ok1 := Compare(actual, r.Low)
		hi, ok2 := Compare(actual, r.High)
		return ok1 && ok2 && lo >= 0 && hi <= 0
	case OpLike:
		s, ok := actual.(string)
		pattern, ok2 := e.Value.(string)
		if !ok || !ok2 {
			return false
		}
		re, err := likeMatcher(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	}
	return false
}

var likeCache sync.Map // pattern -> *regexp.Regexp

func likeMatcher(pattern string) (*regexp.Regexp, error) {
	if re, ok := likeCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile("(?is)" + LikeRegexp(pattern))
	if err != nil {
		return nil, err
	}
	likeCache.Store(pattern, re)
	return re, nil
}

// Equal compares two scalar values, treating all numeric types as numbers.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := ToFloat(a); ok {
		if fb, ok := ToFloat(b); ok {
			return fa == fb
		}
		return false
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Equal(tb)
		}
		return false
	}
	if reflect.TypeOf(a).Comparable() && reflect.TypeOf(b).Comparable() {
		return a == b
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// Compare orders two values of compatible kinds. ok is false when the values
// cannot be ordered against each other.
func Compare(a, b any) (c int, ok bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if fa, ok := ToFloat(a); ok {
		fb, ok := ToFloat(b)
		if !ok {
			return 0, false
		}
		return cmp3(fa < fb, fa > fb), true
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return cmp3(av < bv, av > bv), true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return cmp3(av.Before(bv), av.After(bv)), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		return cmp3(!av && bv, av && !bv), true
	}
	return 0, false
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

// ToFloat converts any Go numeric value to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
