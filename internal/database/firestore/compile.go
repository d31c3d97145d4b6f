package firestore

import (
	"cloud.google.com/go/firestore"

	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/dbcapabilities"
	"github.com/redbco/redb-storage/pkg/query"
)

// Upper bound appended to a prefix to build a range covering every string
// that starts with it.
const prefixUpperBound = "\uf8ff"

// compiled is a filter reduced to one of three outcomes. Constant outcomes
// come from empty in/not_in lists, which Firestore rejects natively.
type compiled struct {
	filter firestore.EntityFilter
	always bool
	never  bool
}

var (
	matchAll  = compiled{always: true}
	matchNone = compiled{never: true}
)

var operatorSymbols = map[query.Operator]string{
	query.OpEq:    "==",
	query.OpNeq:   "!=",
	query.OpGt:    ">",
	query.OpGte:   ">=",
	query.OpLt:    "<",
	query.OpLte:   "<=",
	query.OpIn:    "in",
	query.OpNotIn: "not-in",
}

// compiler turns a normalized filter set into a Firestore entity filter.
// Identifier values are resolved to document references of coll.
type compiler struct {
	coll *firestore.CollectionRef
}

func (c compiler) filterSet(fs query.FilterSet) (compiled, error) {
	var parts []firestore.EntityFilter
	for _, e := range fs.Conditions {
		r, err := c.expression(e)
		if err != nil {
			return compiled{}, err
		}
		if r.never {
			return matchNone, nil
		}
		if r.filter != nil {
			parts = append(parts, r.filter)
		}
	}

	if len(fs.Or) > 0 {
		var alts []firestore.EntityFilter
		anyAlways := false
		for _, alt := range fs.Or {
			r, err := c.filterSet(alt)
			if err != nil {
				return compiled{}, err
			}
			switch {
			case r.always:
				anyAlways = true
			case !r.never:
				alts = append(alts, r.filter)
			}
		}
		switch {
		case anyAlways:
		case len(alts) == 0:
			return matchNone, nil
		case len(alts) == 1:
			parts = append(parts, alts[0])
		default:
			parts = append(parts, firestore.OrFilter{Filters: alts})
		}
	}

	switch len(parts) {
	case 0:
		return matchAll, nil
	case 1:
		return compiled{filter: parts[0]}, nil
	}
	return compiled{filter: firestore.AndFilter{Filters: parts}}, nil
}

func (c compiler) expression(e query.Expression) (compiled, error) {
	path := e.Field
	isID := e.Field == adapter.IDField
	if isID {
		path = firestore.DocumentID
	}
	value := func(v any) any {
		if isID {
			return c.ref(v)
		}
		return v
	}
	prop := func(op string, v any) firestore.PropertyFilter {
		return firestore.PropertyFilter{Path: path, Operator: op, Value: v}
	}

	switch e.Op {
	case query.OpEq, query.OpNeq, query.OpGt, query.OpGte, query.OpLt, query.OpLte:
		return compiled{filter: prop(operatorSymbols[e.Op], value(e.Value))}, nil
	case query.OpIn, query.OpNotIn:
		values, err := query.ValuesOf(e.Value)
		if err != nil {
			return compiled{}, err
		}
		if len(values) == 0 {
			if e.Op == query.OpIn {
				return matchNone, nil
			}
			return matchAll, nil
		}
		list := make([]any, len(values))
		for i, v := range values {
			list[i] = value(v)
		}
		return compiled{filter: prop(operatorSymbols[e.Op], list)}, nil
	case query.OpBetween:
		r, err := query.RangeOf(e.Value)
		if err != nil {
			return compiled{}, err
		}
		return compiled{filter: firestore.AndFilter{Filters: []firestore.EntityFilter{
			prop(">=", value(r.Low)),
			prop("<=", value(r.High)),
		}}}, nil
	case query.OpLike:
		pattern, _ := e.Value.(string)
		prefix, ok := query.LikePrefix(pattern)
		if !ok {
			return compiled{}, adapter.NewUnsupportedOperationError(dbcapabilities.Firestore, "like",
				"only prefix patterns such as 'abc%' are supported")
		}
		return compiled{filter: firestore.AndFilter{Filters: []firestore.EntityFilter{
			prop(">=", prefix),
			prop("<", prefix+prefixUpperBound),
		}}}, nil
	case query.OpIsNull:
		return compiled{filter: prop("==", nil)}, nil
	case query.OpNotNull:
		return compiled{filter: prop("!=", nil)}, nil
	}
	return compiled{}, adapter.NewValidationError(e.Field, "unknown operator "+string(e.Op))
}

func (c compiler) ref(v any) any {
	id := adapter.Record{adapter.IDField: v}.ID()
	if id == "" || c.coll == nil {
		return v
	}
	return c.coll.Doc(id)
}

// buildQuery applies a normalized spec to the collection query.
func (c compiler) buildQuery(spec query.Spec) (firestore.Query, bool, error) {
	q := c.coll.Query
	r, err := c.filterSet(spec.Filter)
	if err != nil || r.never {
		return q, false, err
	}
	if r.filter != nil {
		q = q.WhereEntity(r.filter)
	}
	for _, o := range spec.Order {
		path := o.Field
		if path == adapter.IDField {
			path = firestore.DocumentID
		}
		dir := firestore.Asc
		if o.Direction == query.Desc {
			dir = firestore.Desc
		}
		q = q.OrderBy(path, dir)
	}
	if spec.Offset > 0 {
		q = q.Offset(spec.Offset)
	}
	if spec.Limit > 0 {
		q = q.Limit(spec.Limit)
	}
	if len(spec.Fields) > 0 {
		paths := make([]string, 0, len(spec.Fields))
		for _, f := range spec.Fields {
			if f != adapter.IDField {
				paths = append(paths, f)
			}
		}
		q = q.Select(paths...)
	}
	return q, true, nil
}
