package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/redbco/redb-storage/internal/database"
	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/dbcapabilities"
	"github.com/redbco/redb-storage/pkg/query"
)

// Driver implements adapter.Driver over one MongoDB database.
type Driver struct {
	client  *mongo.Client
	db      *mongo.Database
	address string
	log     *database.DatabaseLogger
}

// Type returns the database type identifier.
func (d *Driver) Type() dbcapabilities.DatabaseType { return dbcapabilities.MongoDB }

// Capabilities returns the capabilities metadata.
func (d *Driver) Capabilities() dbcapabilities.Capability {
	return dbcapabilities.MustGet(dbcapabilities.MongoDB)
}

// Database exposes the underlying database handle.
func (d *Driver) Database() *mongo.Database { return d.db }

// Ping verifies the primary is reachable.
func (d *Driver) Ping(ctx context.Context) error {
	start := time.Now()
	err := d.client.Ping(ctx, readpref.Primary())
	return d.log.ObserveOperation("", "ping", start, d.classify("ping", err))
}

// Insert writes one document. A caller supplied id is kept as _id.
func (d *Driver) Insert(ctx context.Context, collection string, record adapter.Record) (adapter.WriteResult, error) {
	start := time.Now()
	res, err := d.db.Collection(collection).InsertOne(ctx, toDocument(record))
	if err = d.log.ObserveOperation(collection, "insert", start, d.classify("insert", err)); err != nil {
		return adapter.WriteResult{}, err
	}
	return adapter.WriteResult{InsertedID: idString(res.InsertedID), Affected: 1}, nil
}

// QueryMany returns the documents matching spec.
func (d *Driver) QueryMany(ctx context.Context, collection string, spec query.Spec) ([]adapter.Record, error) {
	start := time.Now()
	spec, err := spec.Normalize()
	if err != nil {
		return nil, err
	}
	filter, err := compileFilter(spec.Filter)
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if sort := compileSort(spec.Order); sort != nil {
		opts.SetSort(sort)
	}
	if spec.Limit > 0 {
		opts.SetLimit(int64(spec.Limit))
	}
	if spec.Offset > 0 {
		opts.SetSkip(int64(spec.Offset))
	}
	if proj := compileProjection(spec.Fields); proj != nil {
		opts.SetProjection(proj)
	}

	records, err := d.find(ctx, collection, filter, opts)
	if err = d.log.ObserveOperation(collection, "query", start, d.classify("query", err)); err != nil {
		return nil, err
	}
	return records, nil
}

func (d *Driver) find(ctx context.Context, collection string, filter bson.D, opts *options.FindOptionsBuilder) ([]adapter.Record, error) {
	cursor, err := d.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	records := make([]adapter.Record, len(docs))
	for i, doc := range docs {
		records[i] = toRecord(doc)
	}
	return records, nil
}

// Count returns the number of documents matching filter.
func (d *Driver) Count(ctx context.Context, collection string, filter query.FilterSet) (int64, error) {
	start := time.Now()
	filter, err := filter.Normalize()
	if err != nil {
		return 0, err
	}
	doc, err := compileFilter(filter)
	if err != nil {
		return 0, err
	}
	n, err := d.db.Collection(collection).CountDocuments(ctx, doc)
	if err = d.log.ObserveOperation(collection, "count", start, d.classify("count", err)); err != nil {
		return 0, err
	}
	return n, nil
}

// Update applies patch with $set to every matching document. Affected is
// the number of matched documents.
func (d *Driver) Update(ctx context.Context, collection string, filter query.FilterSet, patch adapter.Record) (adapter.WriteResult, error) {
	start := time.Now()
	filter, err := filter.Normalize()
	if err != nil {
		return adapter.WriteResult{}, err
	}
	patch = patch.Clone()
	delete(patch, adapter.IDField)
	if len(patch) == 0 {
		return adapter.WriteResult{}, adapter.NewValidationError("", "update patch is empty")
	}
	doc, err := compileFilter(filter)
	if err != nil {
		return adapter.WriteResult{}, err
	}

	res, err := d.db.Collection(collection).UpdateMany(ctx, doc, bson.D{{Key: "$set", Value: toDocument(patch)}})
	if err = d.log.ObserveOperation(collection, "update", start, d.classify("update", err)); err != nil {
		return adapter.WriteResult{}, err
	}
	return adapter.WriteResult{Affected: res.MatchedCount}, nil
}

// Delete removes every matching document. An empty filter deletes all.
func (d *Driver) Delete(ctx context.Context, collection string, filter query.FilterSet) (adapter.WriteResult, error) {
	start := time.Now()
	filter, err := filter.Normalize()
	if err != nil {
		return adapter.WriteResult{}, err
	}
	doc, err := compileFilter(filter)
	if err != nil {
		return adapter.WriteResult{}, err
	}

	res, err := d.db.Collection(collection).DeleteMany(ctx, doc)
	if err = d.log.ObserveOperation(collection, "delete", start, d.classify("delete", err)); err != nil {
		return adapter.WriteResult{}, err
	}
	return adapter.WriteResult{Affected: res.DeletedCount}, nil
}

// Close disconnects the client.
func (d *Driver) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := d.client.Disconnect(ctx)
	d.log.LogDisconnection(err)
	return err
}

// Change streams need a replica set or sharded cluster.
const changeStreamUnsupportedCode = 40573

// classify maps driver errors onto the adapter error taxonomy.
func (d *Driver) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrClientDisconnected) {
		return adapter.NewConnectionError(dbcapabilities.MongoDB, d.address, fmt.Errorf("%w: %v", adapter.ErrConnectionClosed, err))
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return adapter.NewConnectionError(dbcapabilities.MongoDB, d.address, err)
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == changeStreamUnsupportedCode {
		return adapter.NewUnsupportedOperationError(dbcapabilities.MongoDB, op, cmdErr.Message)
	}
	return adapter.WrapError(dbcapabilities.MongoDB, op, err)
}
