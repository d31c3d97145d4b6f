package adapter

import (
	"context"

	"github.com/redbco/redb-storage/pkg/dbcapabilities"
	"github.com/redbco/redb-storage/pkg/query"
)

// UnsupportedSubscriber is embedded by drivers whose backend cannot push
// changes. Subscribe fails deterministically instead of returning a silent
// listener.
type UnsupportedSubscriber struct {
	DBType dbcapabilities.DatabaseType
}

func (u UnsupportedSubscriber) Subscribe(ctx context.Context, collection string, filter query.FilterSet, sink Sink) (Listener, error) {
	return nil, NewUnsupportedOperationError(u.DBType, "subscribe", "no native change notifications")
}

// IsUnsupportedSubscriber reports whether d lacks push support.
func IsUnsupportedSubscriber(d Driver) bool {
	return !d.Capabilities().SupportsPush
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func()

func (f ListenerFunc) Stop() { f() }
