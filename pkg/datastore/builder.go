package datastore

import (
	"context"

	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/query"
)

// QueryBuilder accumulates a query on one collection. Methods mutate the
// builder and return it for chaining; it is not safe for concurrent use.
// An invalid operator or direction is remembered and reported by the
// terminal method as a validation fault.
type QueryBuilder struct {
	store      *Store
	collection string
	spec       query.Spec
	err        error
}

func (b *QueryBuilder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *QueryBuilder) add(field string, op query.Operator, value any) *QueryBuilder {
	b.spec.Filter.Conditions = append(b.spec.Filter.Conditions, query.Expression{Field: field, Op: op, Value: value})
	return b
}

// Where adds a condition. op accepts symbols such as "=", "!=", ">=" and
// names such as "like", "in" or "not in".
func (b *QueryBuilder) Where(field, op string, value any) *QueryBuilder {
	parsed, err := query.ParseOperator(op)
	if err != nil {
		b.setErr(err)
		return b
	}
	return b.add(field, parsed, value)
}

func (b *QueryBuilder) WhereIn(field string, values any) *QueryBuilder {
	return b.add(field, query.OpIn, values)
}

func (b *QueryBuilder) WhereNotIn(field string, values any) *QueryBuilder {
	return b.add(field, query.OpNotIn, values)
}

// WhereBetween matches low <= field <= high.
func (b *QueryBuilder) WhereBetween(field string, low, high any) *QueryBuilder {
	return b.add(field, query.OpBetween, query.Range{Low: low, High: high})
}

func (b *QueryBuilder) WhereNull(field string) *QueryBuilder {
	return b.add(field, query.OpIsNull, nil)
}

func (b *QueryBuilder) WhereNotNull(field string) *QueryBuilder {
	return b.add(field, query.OpNotNull, nil)
}

// WhereLike matches a pattern where % is any run and _ any single
// character.
func (b *QueryBuilder) WhereLike(field, pattern string) *QueryBuilder {
	return b.add(field, query.OpLike, pattern)
}

// OrWhere adds a single-condition alternative. Records must match the
// conditions and at least one alternative.
func (b *QueryBuilder) OrWhere(field, op string, value any) *QueryBuilder {
	parsed, err := query.ParseOperator(op)
	if err != nil {
		b.setErr(err)
		return b
	}
	b.spec.Filter.Or = append(b.spec.Filter.Or, query.FilterSet{
		Conditions: []query.Expression{{Field: field, Op: parsed, Value: value}},
	})
	return b
}

// OrWhereGroup adds an alternative built by fn. Ordering, limits and
// projection set inside fn are ignored.
func (b *QueryBuilder) OrWhereGroup(fn func(*QueryBuilder)) *QueryBuilder {
	sub := &QueryBuilder{}
	fn(sub)
	if sub.err != nil {
		b.setErr(sub.err)
		return b
	}
	if !sub.spec.Filter.IsEmpty() {
		b.spec.Filter.Or = append(b.spec.Filter.Or, sub.spec.Filter)
	}
	return b
}

// OrderBy adds a sort key; dir is "asc" or "desc".
func (b *QueryBuilder) OrderBy(field, dir string) *QueryBuilder {
	d, err := query.ParseDirection(dir)
	if err != nil {
		b.setErr(err)
		return b
	}
	b.spec.Order = append(b.spec.Order, query.Order{Field: field, Direction: d})
	return b
}

func (b *QueryBuilder) OrderByAsc(field string) *QueryBuilder {
	b.spec.Order = append(b.spec.Order, query.Order{Field: field, Direction: query.Asc})
	return b
}

func (b *QueryBuilder) OrderByDesc(field string) *QueryBuilder {
	b.spec.Order = append(b.spec.Order, query.Order{Field: field, Direction: query.Desc})
	return b
}

func (b *QueryBuilder) Limit(n int) *QueryBuilder {
	b.spec.Limit = n
	return b
}

// Take is an alias of Limit.
func (b *QueryBuilder) Take(n int) *QueryBuilder { return b.Limit(n) }

func (b *QueryBuilder) Offset(n int) *QueryBuilder {
	b.spec.Offset = n
	return b
}

// Skip is an alias of Offset.
func (b *QueryBuilder) Skip(n int) *QueryBuilder { return b.Offset(n) }

// Select restricts the returned fields. The id is always returned.
func (b *QueryBuilder) Select(fields ...string) *QueryBuilder {
	b.spec.Fields = append(b.spec.Fields, fields...)
	return b
}

// Spec returns the accumulated query and the first recorded error.
func (b *QueryBuilder) Spec() (query.Spec, error) {
	return b.spec, b.err
}

// Get returns all matching records.
func (b *QueryBuilder) Get(ctx context.Context) Response[[]adapter.Record] {
	return guard(b.store.log, "get", func() ([]adapter.Record, bool, error) {
		if err := b.check(); err != nil {
			return nil, false, err
		}
		return b.store.query(ctx, b.collection, b.spec)
	})
}

// First returns the first matching record, or nil when nothing matches.
func (b *QueryBuilder) First(ctx context.Context) Response[adapter.Record] {
	return guard(b.store.log, "first", func() (adapter.Record, bool, error) {
		if err := b.check(); err != nil {
			return nil, false, err
		}
		spec := b.spec
		spec.Limit = 1
		records, degraded, err := b.store.query(ctx, b.collection, spec)
		if err != nil || len(records) == 0 {
			return nil, degraded, err
		}
		return records[0], degraded, nil
	})
}

// Count returns the number of matching records. Limit and offset are
// ignored.
func (b *QueryBuilder) Count(ctx context.Context) Response[int64] {
	return guard(b.store.log, "count", func() (int64, bool, error) {
		if err := b.check(); err != nil {
			return 0, false, err
		}
		return b.store.count(ctx, b.collection, b.spec.Filter)
	})
}

// Exists reports whether any record matches.
func (b *QueryBuilder) Exists(ctx context.Context) Response[bool] {
	return guard(b.store.log, "exists", func() (bool, bool, error) {
		if err := b.check(); err != nil {
			return false, false, err
		}
		n, degraded, err := b.store.count(ctx, b.collection, b.spec.Filter)
		return n > 0, degraded, err
	})
}

// Pluck returns the value of field from every matching record.
func (b *QueryBuilder) Pluck(ctx context.Context, field string) Response[[]any] {
	return guard(b.store.log, "pluck", func() ([]any, bool, error) {
		if err := b.check(); err != nil {
			return nil, false, err
		}
		spec := b.spec
		spec.Fields = []string{field}
		records, degraded, err := b.store.query(ctx, b.collection, spec)
		if err != nil {
			return nil, false, err
		}
		out := make([]any, 0, len(records))
		for _, r := range records {
			out = append(out, r[field])
		}
		return out, degraded, nil
	})
}

// Update applies patch to every matching record.
func (b *QueryBuilder) Update(ctx context.Context, patch adapter.Record) Response[adapter.WriteResult] {
	return guard(b.store.log, "update", func() (adapter.WriteResult, bool, error) {
		if err := b.check(); err != nil {
			return adapter.WriteResult{}, false, err
		}
		res, err := b.store.update(ctx, b.collection, patch, b.spec.Filter)
		return res, false, err
	})
}

// Delete removes every matching record.
func (b *QueryBuilder) Delete(ctx context.Context) Response[adapter.WriteResult] {
	return guard(b.store.log, "delete", func() (adapter.WriteResult, bool, error) {
		if err := b.check(); err != nil {
			return adapter.WriteResult{}, false, err
		}
		res, err := b.store.delete(ctx, b.collection, b.spec.Filter)
		return res, false, err
	})
}

func (b *QueryBuilder) check() error {
	if b.err != nil {
		return b.err
	}
	return checkCollection(b.collection)
}
