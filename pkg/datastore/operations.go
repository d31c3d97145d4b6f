package datastore

import (
	"context"

	"github.com/redbco/redb-storage/internal/hybrid"
	"github.com/redbco/redb-storage/internal/subscription"
	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/query"
)

// QueryOptions shapes a QueryByFilters call.
type QueryOptions struct {
	OrderBy   string
	Direction string
	Limit     int
	Offset    int
	// Count returns only the number of matching records.
	Count  bool
	Fields []string
}

// QueryResult carries the records of a query, or only Count when
// QueryOptions.Count was set.
type QueryResult struct {
	Records []adapter.Record `json:"records,omitempty"`
	Count   int64            `json:"count"`
}

func checkCollection(collection string) error {
	if collection == "" {
		return adapter.NewValidationError("collection", "is required")
	}
	return nil
}

// Insert stores record. Configured fields are encrypted before the write
// and the replicated copy carries the same ciphertext.
func (s *Store) Insert(ctx context.Context, collection string, record adapter.Record) Response[adapter.WriteResult] {
	return guard(s.log, "insert", func() (adapter.WriteResult, bool, error) {
		if err := checkCollection(collection); err != nil {
			return adapter.WriteResult{}, false, err
		}
		enc, err := s.codec.EncryptRecord(collection, record)
		if err != nil {
			return adapter.WriteResult{}, false, err
		}
		res, err := s.coord.Write(ctx, hybrid.WriteOp{Operation: hybrid.OpInsert, Collection: collection, Record: enc})
		return res, false, err
	})
}

// QueryByFilters runs a filtered read. In hybrid mode a failing primary is
// answered by the secondary and the response is marked Degraded.
func (s *Store) QueryByFilters(ctx context.Context, collection string, filter query.FilterSet, opts QueryOptions) Response[QueryResult] {
	return guard(s.log, "query", func() (QueryResult, bool, error) {
		if err := checkCollection(collection); err != nil {
			return QueryResult{}, false, err
		}
		if opts.Count {
			n, degraded, err := s.coord.Count(ctx, collection, filter)
			return QueryResult{Count: n}, degraded, err
		}

		spec := query.Spec{Filter: filter, Fields: opts.Fields, Limit: opts.Limit, Offset: opts.Offset}
		if opts.OrderBy != "" {
			dir, err := query.ParseDirection(opts.Direction)
			if err != nil {
				return QueryResult{}, false, err
			}
			spec.Order = []query.Order{{Field: opts.OrderBy, Direction: dir}}
		}
		records, degraded, err := s.query(ctx, collection, spec)
		if err != nil {
			return QueryResult{}, false, err
		}
		return QueryResult{Records: records, Count: int64(len(records))}, degraded, nil
	})
}

func (s *Store) query(ctx context.Context, collection string, spec query.Spec) ([]adapter.Record, bool, error) {
	records, degraded, err := s.coord.QueryMany(ctx, collection, spec)
	if err != nil {
		return nil, false, err
	}
	records, err = s.codec.DecryptRecords(collection, records)
	if err != nil {
		return nil, false, err
	}
	if records == nil {
		records = []adapter.Record{}
	}
	return records, degraded, nil
}

func (s *Store) count(ctx context.Context, collection string, filter query.FilterSet) (int64, bool, error) {
	return s.coord.Count(ctx, collection, filter)
}

// Update applies patch to every record matching filter. The patch may not
// contain the id field.
func (s *Store) Update(ctx context.Context, collection string, patch adapter.Record, filter query.FilterSet) Response[adapter.WriteResult] {
	return guard(s.log, "update", func() (adapter.WriteResult, bool, error) {
		res, err := s.update(ctx, collection, patch, filter)
		return res, false, err
	})
}

func (s *Store) update(ctx context.Context, collection string, patch adapter.Record, filter query.FilterSet) (adapter.WriteResult, error) {
	if err := checkCollection(collection); err != nil {
		return adapter.WriteResult{}, err
	}
	if _, ok := patch[adapter.IDField]; ok {
		return adapter.WriteResult{}, adapter.NewValidationError(adapter.IDField, "cannot be updated")
	}
	if len(patch) == 0 {
		return adapter.WriteResult{}, adapter.NewValidationError("patch", "is empty")
	}
	enc, err := s.codec.EncryptPatch(collection, patch)
	if err != nil {
		return adapter.WriteResult{}, err
	}
	return s.coord.Write(ctx, hybrid.WriteOp{Operation: hybrid.OpUpdate, Collection: collection, Record: enc, Filter: filter})
}

// Delete removes every record matching filter. An empty filter deletes
// the whole collection.
func (s *Store) Delete(ctx context.Context, collection string, filter query.FilterSet) Response[adapter.WriteResult] {
	return guard(s.log, "delete", func() (adapter.WriteResult, bool, error) {
		res, err := s.delete(ctx, collection, filter)
		return res, false, err
	})
}

func (s *Store) delete(ctx context.Context, collection string, filter query.FilterSet) (adapter.WriteResult, error) {
	if err := checkCollection(collection); err != nil {
		return adapter.WriteResult{}, err
	}
	return s.coord.Write(ctx, hybrid.WriteOp{Operation: hybrid.OpDelete, Collection: collection, Filter: filter})
}

// Table starts a query builder on collection.
func (s *Store) Table(collection string) *QueryBuilder {
	return &QueryBuilder{store: s, collection: collection}
}

// Subscribe registers callback for changes on collection and returns the
// subscription handle. Payloads arrive decrypted. Backends without native
// change notifications fail with a capability_unsupported fault.
func (s *Store) Subscribe(ctx context.Context, collection string, callback func(adapter.Notification), filter query.FilterSet) Response[string] {
	return guard(s.log, "subscribe", func() (string, bool, error) {
		sub, err := s.subs.Subscribe(ctx, collection, filter, subscription.Callback(callback))
		return sub.ID, false, err
	})
}

// Unsubscribe stops a subscription. No callback runs after it returns. It
// reports false for unknown handles.
func (s *Store) Unsubscribe(handle string) bool {
	return s.subs.Unsubscribe(handle)
}

// RawQuery sends statement verbatim to a relational primary. Other
// backends fail with a capability_unsupported fault. Only fields encrypted
// for every collection are decrypted in the result.
func (s *Store) RawQuery(ctx context.Context, statement string, args ...any) Response[[]adapter.Record] {
	return guard(s.log, "raw query", func() ([]adapter.Record, bool, error) {
		rq, ok := s.primary.(adapter.RawQuerier)
		if !ok {
			return nil, false, adapter.NewUnsupportedOperationError(s.primary.Type(), "raw query", "backend does not accept raw statements")
		}
		if statement == "" {
			return nil, false, adapter.NewValidationError("statement", "is required")
		}
		records, err := rq.RawQuery(ctx, statement, args...)
		if err != nil {
			return nil, false, err
		}
		records, err = s.codec.DecryptRecords("", records)
		return records, false, err
	})
}
