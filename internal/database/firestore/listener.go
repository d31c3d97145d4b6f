package firestore

import (
	"context"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/query"
)

type listener struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (l *listener) Stop() {
	l.once.Do(func() {
		l.cancel()
		<-l.done
	})
}

// Subscribe attaches a snapshot listener to the whole collection. The
// initial snapshot is consumed before Subscribe returns, so only changes
// made afterwards are delivered. Added and modified documents are filtered
// in memory with the same semantics a query would apply; removals always
// pass.
func (d *Driver) Subscribe(ctx context.Context, collection string, filter query.FilterSet, sink adapter.Sink) (adapter.Listener, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}
	if _, err := (compiler{}).filterSet(filter); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	it := d.client.Collection(collection).Snapshots(runCtx)

	initial := make(chan error, 1)
	go func() {
		_, err := it.Next()
		initial <- err
	}()
	select {
	case err = <-initial:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		it.Stop()
		cancel()
		err = d.classify("subscribe", err)
		d.log.LogListenerEvent(collection, "failed to start", err)
		return nil, err
	}
	d.log.LogListenerEvent(collection, "started", nil)

	l := &listener{cancel: cancel, done: make(chan struct{})}
	go d.listen(runCtx, l.done, it, collection, filter, sink)
	return l, nil
}

func (d *Driver) listen(ctx context.Context, done chan<- struct{}, it *firestore.QuerySnapshotIterator, collection string, filter query.FilterSet, sink adapter.Sink) {
	defer close(done)
	defer it.Stop()

	for {
		snap, err := it.Next()
		if ctx.Err() != nil {
			d.log.LogListenerEvent(collection, "stopped", nil)
			return
		}
		if err != nil {
			// The iterator retries transient failures itself; an error here
			// is permanent.
			d.log.LogListenerEvent(collection, "terminated", err)
			sink(adapter.NewErrorNotification(collection, d.classify("subscribe", err)))
			return
		}
		for _, change := range snap.Changes {
			if n, ok := toNotification(collection, change, filter); ok {
				sink(n)
			}
		}
	}
}

func toNotification(collection string, change firestore.DocumentChange, filter query.FilterSet) (adapter.Notification, bool) {
	n := adapter.Notification{
		Collection: collection,
		DocumentID: change.Doc.Ref.ID,
		Timestamp:  time.Now(),
	}
	switch change.Kind {
	case firestore.DocumentRemoved:
		n.Type = adapter.ChangeDelete
		return n, true
	case firestore.DocumentAdded:
		n.Type = adapter.ChangeInsert
	case firestore.DocumentModified:
		n.Type = adapter.ChangeUpdate
	default:
		return n, false
	}
	n.Payload = toRecord(change.Doc)
	if !matches(filter, n.Payload) {
		return n, false
	}
	return n, true
}

// matches evaluates filter in memory. LIKE is a case-sensitive prefix test,
// as in compiled queries.
func matches(filter query.FilterSet, record map[string]any) bool {
	for _, e := range filter.Conditions {
		if !matchExpression(e, record) {
			return false
		}
	}
	if len(filter.Or) == 0 {
		return true
	}
	for _, alt := range filter.Or {
		if matches(alt, record) {
			return true
		}
	}
	return false
}

func matchExpression(e query.Expression, record map[string]any) bool {
	if e.Op != query.OpLike {
		return e.Match(record)
	}
	s, ok := record[e.Field].(string)
	pattern, _ := e.Value.(string)
	prefix, isPrefix := query.LikePrefix(pattern)
	return ok && isPrefix && strings.HasPrefix(s, prefix)
}
