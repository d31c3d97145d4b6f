package mongodb

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/query"
)

// Delay before a broken change stream is reopened from its resume token.
const resumeBackoff = 2 * time.Second

type changeEvent struct {
	OperationType string `bson:"operationType"`
	FullDocument  bson.M `bson:"fullDocument"`
	DocumentKey   bson.M `bson:"documentKey"`
}

// listener tails a change stream and forwards matching events.
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

// Subscribe opens a change stream on collection. Insert and update events
// are filtered in memory with filter; delete events carry only the id and
// always pass. The stream is opened before Subscribe returns so that changes
// made afterwards are observed.
func (d *Driver) Subscribe(ctx context.Context, collection string, filter query.FilterSet, sink adapter.Sink) (adapter.Listener, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}

	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := d.db.Collection(collection).Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		err = d.classify("subscribe", err)
		d.log.LogListenerEvent(collection, "failed to start", err)
		return nil, err
	}
	d.log.LogListenerEvent(collection, "started", nil)

	// The listener outlives the caller's request context.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l := &listener{cancel: cancel, done: make(chan struct{})}
	go d.listen(runCtx, l.done, stream, collection, filter, sink)
	return l, nil
}

func (d *Driver) listen(ctx context.Context, done chan<- struct{}, stream *mongo.ChangeStream, collection string, filter query.FilterSet, sink adapter.Sink) {
	defer close(done)
	coll := d.db.Collection(collection)

	for {
		for stream.Next(ctx) {
			var ev changeEvent
			if err := stream.Decode(&ev); err != nil {
				d.log.LogListenerEvent(collection, "decode failed", err)
				continue
			}
			if n, ok := toNotification(collection, ev, filter); ok {
				sink(n)
			}
		}

		err := stream.Err()
		token := stream.ResumeToken()
		_ = stream.Close(context.Background())
		if ctx.Err() != nil {
			d.log.LogListenerEvent(collection, "stopped", nil)
			return
		}
		if err != nil {
			d.log.LogListenerEvent(collection, "interrupted", err)
			sink(adapter.NewErrorNotification(collection, d.classify("subscribe", err)))
		}

		select {
		case <-ctx.Done():
			d.log.LogListenerEvent(collection, "stopped", nil)
			return
		case <-time.After(resumeBackoff):
		}

		opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
		if token != nil {
			opts.SetResumeAfter(token)
		}
		next, err := coll.Watch(ctx, mongo.Pipeline{}, opts)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			sink(adapter.NewErrorNotification(collection, d.classify("subscribe", err)))
			d.log.LogListenerEvent(collection, "resume failed", err)
			return
		}
		stream = next
		d.log.LogListenerEvent(collection, "resumed", nil)
	}
}

// toNotification maps a change event. The second result is false for
// events that are filtered out or have no neutral equivalent.
func toNotification(collection string, ev changeEvent, filter query.FilterSet) (adapter.Notification, bool) {
	n := adapter.Notification{
		Collection: collection,
		DocumentID: idString(ev.DocumentKey[mongoIDField]),
		Timestamp:  time.Now(),
	}

	switch ev.OperationType {
	case "insert":
		n.Type = adapter.ChangeInsert
	case "update", "replace":
		n.Type = adapter.ChangeUpdate
	case "delete":
		n.Type = adapter.ChangeDelete
		return n, true
	default:
		return n, false
	}

	// The document was deleted before the update lookup ran.
	if ev.FullDocument == nil {
		return n, false
	}
	n.Payload = toRecord(ev.FullDocument)
	if !filter.Match(n.Payload) {
		return n, false
	}
	return n, true
}
