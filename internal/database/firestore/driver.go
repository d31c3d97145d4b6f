package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/redbco/redb-storage/internal/database"
	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/dbcapabilities"
	"github.com/redbco/redb-storage/pkg/query"
)

const countAlias = "all"

// Driver implements adapter.Driver over one Firestore database.
type Driver struct {
	client  *firestore.Client
	address string
	log     *database.DatabaseLogger
}

// Type returns the database type identifier.
func (d *Driver) Type() dbcapabilities.DatabaseType { return dbcapabilities.Firestore }

// Capabilities returns the capabilities metadata.
func (d *Driver) Capabilities() dbcapabilities.Capability {
	return dbcapabilities.MustGet(dbcapabilities.Firestore)
}

// Client exposes the underlying Firestore client.
func (d *Driver) Client() *firestore.Client { return d.client }

// Ping verifies the project is reachable.
func (d *Driver) Ping(ctx context.Context) error {
	start := time.Now()
	err := d.ping(ctx)
	return d.log.ObserveOperation("", "ping", start, d.classify("ping", err))
}

// Insert creates one document. A caller supplied id becomes the document
// ID; otherwise Firestore generates one.
func (d *Driver) Insert(ctx context.Context, collection string, record adapter.Record) (adapter.WriteResult, error) {
	start := time.Now()
	coll := d.client.Collection(collection)

	ref := coll.NewDoc()
	if id := record.ID(); id != "" {
		ref = coll.Doc(id)
	}
	data := record.Clone()
	delete(data, adapter.IDField)
	if data == nil {
		data = adapter.Record{}
	}

	_, err := ref.Create(ctx, map[string]any(data))
	if err = d.log.ObserveOperation(collection, "insert", start, d.classify("insert", err)); err != nil {
		return adapter.WriteResult{}, err
	}
	return adapter.WriteResult{InsertedID: ref.ID, Affected: 1}, nil
}

// QueryMany returns the documents matching spec.
func (d *Driver) QueryMany(ctx context.Context, collection string, spec query.Spec) ([]adapter.Record, error) {
	start := time.Now()
	spec, err := spec.Normalize()
	if err != nil {
		return nil, err
	}
	q, ok, err := compiler{coll: d.client.Collection(collection)}.buildQuery(spec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []adapter.Record{}, nil
	}

	snaps, err := q.Documents(ctx).GetAll()
	if err = d.log.ObserveOperation(collection, "query", start, d.classify("query", err)); err != nil {
		return nil, err
	}
	records := make([]adapter.Record, len(snaps))
	for i, snap := range snaps {
		records[i] = toRecord(snap)
	}
	return records, nil
}

// Count runs a count aggregation over the matching documents.
func (d *Driver) Count(ctx context.Context, collection string, filter query.FilterSet) (int64, error) {
	start := time.Now()
	filter, err := filter.Normalize()
	if err != nil {
		return 0, err
	}
	q, ok, err := compiler{coll: d.client.Collection(collection)}.buildQuery(query.Spec{Filter: filter})
	if err != nil || !ok {
		return 0, err
	}

	res, err := q.NewAggregationQuery().WithCount(countAlias).Get(ctx)
	if err = d.log.ObserveOperation(collection, "count", start, d.classify("count", err)); err != nil {
		return 0, err
	}
	v, ok := res[countAlias].(*firestorepb.Value)
	if !ok {
		return 0, adapter.WrapError(dbcapabilities.Firestore, "count", errors.New("count aggregation missing from result"))
	}
	return v.GetIntegerValue(), nil
}

// Update applies patch to every matching document through a BulkWriter.
// Patch keys are literal field names, never dotted paths.
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
	updates := make([]firestore.Update, 0, len(patch))
	for k, v := range patch {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: v})
	}

	n, err := d.bulk(ctx, collection, filter, func(bw *firestore.BulkWriter, ref *firestore.DocumentRef) (*firestore.BulkWriterJob, error) {
		return bw.Update(ref, updates)
	})
	if err = d.log.ObserveOperation(collection, "update", start, d.classify("update", err)); err != nil {
		return adapter.WriteResult{Affected: n}, err
	}
	return adapter.WriteResult{Affected: n}, nil
}

// Delete removes every matching document. An empty filter deletes all.
func (d *Driver) Delete(ctx context.Context, collection string, filter query.FilterSet) (adapter.WriteResult, error) {
	start := time.Now()
	filter, err := filter.Normalize()
	if err != nil {
		return adapter.WriteResult{}, err
	}

	n, err := d.bulk(ctx, collection, filter, func(bw *firestore.BulkWriter, ref *firestore.DocumentRef) (*firestore.BulkWriterJob, error) {
		return bw.Delete(ref)
	})
	if err = d.log.ObserveOperation(collection, "delete", start, d.classify("delete", err)); err != nil {
		return adapter.WriteResult{Affected: n}, err
	}
	return adapter.WriteResult{Affected: n}, nil
}

// bulk selects the references matching filter and applies write to each.
// It returns the number of successful writes and the first failure.
func (d *Driver) bulk(ctx context.Context, collection string, filter query.FilterSet,
	write func(*firestore.BulkWriter, *firestore.DocumentRef) (*firestore.BulkWriterJob, error)) (int64, error) {

	q, ok, err := compiler{coll: d.client.Collection(collection)}.buildQuery(query.Spec{Filter: filter})
	if err != nil || !ok {
		return 0, err
	}
	snaps, err := q.Select().Documents(ctx).GetAll()
	if err != nil {
		return 0, err
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	bw := d.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(snaps))
	var firstErr error
	for _, snap := range snaps {
		job, err := write(bw, snap.Ref)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		jobs = append(jobs, job)
	}
	bw.End()

	var n int64
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n++
	}
	return n, firstErr
}

// Close closes the client.
func (d *Driver) Close() error {
	err := d.client.Close()
	d.log.LogDisconnection(err)
	return err
}

// classify maps gRPC status codes onto the adapter error taxonomy.
func (d *Driver) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return adapter.NewConnectionError(dbcapabilities.Firestore, d.address, err)
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Unauthenticated, codes.PermissionDenied:
		return adapter.NewConnectionError(dbcapabilities.Firestore, d.address, err)
	case codes.NotFound:
		return adapter.NewNotFoundError(dbcapabilities.Firestore, "document", op)
	case codes.Unimplemented:
		return adapter.NewUnsupportedOperationError(dbcapabilities.Firestore, op, status.Convert(err).Message())
	}
	return adapter.WrapError(dbcapabilities.Firestore, op, err)
}

func toRecord(snap *firestore.DocumentSnapshot) adapter.Record {
	data := snap.Data()
	rec := make(adapter.Record, len(data)+1)
	for k, v := range data {
		rec[k] = v
	}
	rec[adapter.IDField] = snap.Ref.ID
	return rec
}
