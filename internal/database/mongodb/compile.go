package mongodb

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/query"
)

const mongoIDField = "_id"

var operatorKeys = map[query.Operator]string{
	query.OpEq:  "$eq",
	query.OpGt:  "$gt",
	query.OpGte: "$gte",
	query.OpLt:  "$lt",
	query.OpLte: "$lte",
	query.OpIn:  "$in",

	query.OpNotIn: "$nin",
}

// compileFilter turns a normalized filter set into a MongoDB query document.
// Conditions are combined with $and so that several expressions may target
// the same field.
func compileFilter(fs query.FilterSet) (bson.D, error) {
	parts := make(bson.A, 0, len(fs.Conditions)+1)
	for _, e := range fs.Conditions {
		d, err := compileExpression(e)
		if err != nil {
			return nil, err
		}
		parts = append(parts, d)
	}

	if len(fs.Or) > 0 {
		alts := make(bson.A, 0, len(fs.Or))
		for _, alt := range fs.Or {
			d, err := compileFilter(alt)
			if err != nil {
				return nil, err
			}
			alts = append(alts, d)
		}
		parts = append(parts, bson.D{{Key: "$or", Value: alts}})
	}

	switch len(parts) {
	case 0:
		return bson.D{}, nil
	case 1:
		return parts[0].(bson.D), nil
	}
	return bson.D{{Key: "$and", Value: parts}}, nil
}

func compileExpression(e query.Expression) (bson.D, error) {
	field := fieldName(e.Field)
	isID := field == mongoIDField

	var cond bson.D
	switch e.Op {
	case query.OpEq, query.OpGt, query.OpGte, query.OpLt, query.OpLte:
		v := e.Value
		if isID {
			v = toDocumentID(v)
		}
		cond = bson.D{{Key: operatorKeys[e.Op], Value: v}}
	case query.OpNeq:
		// $ne alone matches null and missing fields; SQL <> does not.
		v := e.Value
		if isID {
			v = toDocumentID(v)
		}
		cond = bson.D{{Key: "$nin", Value: bson.A{v, nil}}}
	case query.OpIn, query.OpNotIn:
		values, err := query.ValuesOf(e.Value)
		if err != nil {
			return nil, err
		}
		list := make(bson.A, len(values))
		for i, v := range values {
			if isID {
				v = toDocumentID(v)
			}
			list[i] = v
		}
		if e.Op == query.OpNotIn && len(list) > 0 {
			list = append(list, nil)
		}
		cond = bson.D{{Key: operatorKeys[e.Op], Value: list}}
	case query.OpBetween:
		r, err := query.RangeOf(e.Value)
		if err != nil {
			return nil, err
		}
		low, high := r.Low, r.High
		if isID {
			low, high = toDocumentID(low), toDocumentID(high)
		}
		cond = bson.D{{Key: "$gte", Value: low}, {Key: "$lte", Value: high}}
	case query.OpLike:
		pattern, ok := e.Value.(string)
		if !ok {
			return nil, adapter.NewValidationError(e.Field, "like requires a string pattern")
		}
		cond = bson.D{{Key: "$regex", Value: bson.Regex{Pattern: query.LikeRegexp(pattern), Options: "is"}}}
	case query.OpIsNull:
		cond = bson.D{{Key: "$eq", Value: nil}}
	case query.OpNotNull:
		cond = bson.D{{Key: "$ne", Value: nil}}
	default:
		return nil, adapter.NewValidationError(e.Field, "unknown operator "+string(e.Op))
	}
	return bson.D{{Key: field, Value: cond}}, nil
}

func compileSort(order []query.Order) bson.D {
	if len(order) == 0 {
		return nil
	}
	sort := make(bson.D, 0, len(order))
	for _, o := range order {
		dir := 1
		if o.Direction == query.Desc {
			dir = -1
		}
		sort = append(sort, bson.E{Key: fieldName(o.Field), Value: dir})
	}
	return sort
}

func compileProjection(fields []string) bson.D {
	if len(fields) == 0 {
		return nil
	}
	proj := make(bson.D, 0, len(fields))
	for _, f := range fields {
		if f == adapter.IDField {
			continue
		}
		proj = append(proj, bson.E{Key: f, Value: 1})
	}
	return proj
}

func fieldName(field string) string {
	if field == adapter.IDField {
		return mongoIDField
	}
	return field
}

// toDocumentID converts hex strings back to ObjectIDs so that identifiers
// handed out by Insert can be used in filters.
func toDocumentID(v any) any {
	s, ok := v.(string)
	if !ok || len(s) != 24 {
		return v
	}
	if oid, err := bson.ObjectIDFromHex(s); err == nil {
		return oid
	}
	return v
}
