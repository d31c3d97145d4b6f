package adapter

import (
	"context"

	"github.com/redbco/redb-storage/pkg/dbcapabilities"
	"github.com/redbco/redb-storage/pkg/query"
)

// IDField is the reserved record key carrying the store-assigned identifier.
const IDField = "id"

// Record is one row or document keyed by field name.
type Record map[string]any

// ID returns the identifier of the record as a string, or "" if unset.
func (r Record) ID() string {
	switch v := r[IDField].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return toString(v)
	}
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// WriteResult reports the outcome of a write. Inserts set InsertedID,
// updates and deletes set Affected.
type WriteResult struct {
	InsertedID string `json:"insertedId,omitempty"`
	Affected   int64  `json:"affectedCount"`
}

// DatabaseAdapter creates drivers for one database technology.
type DatabaseAdapter interface {
	// Type returns the database type this adapter handles.
	Type() dbcapabilities.DatabaseType

	// Capabilities returns the capability metadata for the database.
	Capabilities() dbcapabilities.Capability

	// Connect opens the native client and verifies connectivity.
	// Unreachable backends yield a *ConnectionError.
	Connect(ctx context.Context, config ConnectionConfig) (Driver, error)
}

// Driver executes backend-neutral operations against one store.
//
// Implementations compile query.FilterSet into their native query form and
// must return identical results for identical data regardless of backend.
type Driver interface {
	Type() dbcapabilities.DatabaseType
	Capabilities() dbcapabilities.Capability

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	Insert(ctx context.Context, collection string, record Record) (WriteResult, error)
	QueryMany(ctx context.Context, collection string, spec query.Spec) ([]Record, error)
	Count(ctx context.Context, collection string, filter query.FilterSet) (int64, error)
	Update(ctx context.Context, collection string, filter query.FilterSet, patch Record) (WriteResult, error)
	Delete(ctx context.Context, collection string, filter query.FilterSet) (WriteResult, error)

	// Subscribe starts a native listener delivering changes on collection to
	// sink. Drivers without push support return an *UnsupportedOperationError.
	Subscribe(ctx context.Context, collection string, filter query.FilterSet, sink Sink) (Listener, error)

	Close() error
}

// RawQuerier is implemented by drivers that accept verbatim statements.
// Statements bypass the filter model entirely.
type RawQuerier interface {
	RawQuery(ctx context.Context, statement string, args ...any) ([]Record, error)
}

// Sink receives notifications from a native listener.
type Sink func(Notification)

// Listener is a running native listener.
type Listener interface {
	// Stop releases the native resource. After Stop returns the sink is
	// never invoked again.
	Stop()
}

// Subscription identifies a registered change subscription.
type Subscription struct {
	ID         string          `json:"id"`
	Collection string          `json:"collectionName"`
	Filter     query.FilterSet `json:"-"`
}
