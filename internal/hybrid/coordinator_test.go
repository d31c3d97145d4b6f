package hybrid

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/redbco/redb-storage/internal/database/drivertest"
	"github.com/redbco/redb-storage/internal/metrics"
	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/dbcapabilities"
	"github.com/redbco/redb-storage/pkg/logger"
	"github.com/redbco/redb-storage/pkg/query"
)

var errDown = adapter.NewConnectionError(dbcapabilities.MongoDB, "localhost:27017", errors.New("connection refused"))

func newPair(t *testing.T, opts Options) (*Coordinator, *drivertest.Memory, *drivertest.Memory) {
	t.Helper()
	primary := drivertest.NewMemory(dbcapabilities.SQLite)
	secondary := drivertest.NewMemory(dbcapabilities.MongoDB)
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	c, err := New(primary, secondary, opts)
	require.NoError(t, err)
	return c, primary, secondary
}

// blockingDriver holds every insert until release is closed.
type blockingDriver struct {
	*drivertest.Memory
	entered chan struct{}
	release chan struct{}
}

func (b *blockingDriver) Insert(ctx context.Context, collection string, record adapter.Record) (adapter.WriteResult, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.Memory.Insert(ctx, collection, record)
}

func TestWriteReplicatesWithPrimaryID(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()
	c, primary, secondary := newPair(t, Options{})

	res, err := c.Write(ctx, WriteOp{Operation: OpInsert, Collection: "sensors", Record: adapter.Record{"temperature": 21}})
	require.NoError(t, err)
	require.NotEmpty(t, res.InsertedID)
	// replications are unordered; let the insert land first
	require.Eventually(t, func() bool { return len(secondary.Records("sensors")) == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err = c.Write(ctx, WriteOp{
		Operation:  OpUpdate,
		Collection: "sensors",
		Filter:     query.Where(map[string]any{"id": res.InsertedID}),
		Record:     adapter.Record{"temperature": 22},
	})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	require.Len(t, primary.Records("sensors"), 1)
	replicated := secondary.Records("sensors")
	require.Len(t, replicated, 1)
	assert.Equal(t, res.InsertedID, replicated[0].ID())
	assert.Equal(t, 22, replicated[0]["temperature"])
	assert.Equal(t, StateHybridActive, c.LastState())
}

func TestWriteSucceedsWithSecondaryDown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()
	ring := NewRing(8)
	c, primary, secondary := newPair(t, Options{Recorder: ring})
	secondary.Fail(errDown)

	before := testutil.ToFloat64(metrics.ReplicationFailuresTotal.WithLabelValues("mongodb", "insert"))

	res, err := c.Write(ctx, WriteOp{Operation: OpInsert, Collection: "sensors", Record: adapter.Record{"temperature": 21}})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	assert.Len(t, primary.Records("sensors"), 1)
	assert.Empty(t, secondary.Records("sensors"))

	failures, err := ring.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, OpInsert, failures[0].Operation)
	assert.Equal(t, "sensors", failures[0].Collection)
	assert.Equal(t, res.InsertedID, failures[0].DocumentID)
	assert.Equal(t, "mongodb", failures[0].Backend)
	assert.Contains(t, failures[0].Error, "connection refused")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ReplicationFailuresTotal.WithLabelValues("mongodb", "insert")))
}

func TestReplicationFailureIsTyped(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()

	tests := []struct {
		name string
		op   WriteOp
	}{
		{"insert", WriteOp{Operation: OpInsert, Collection: "sensors", Record: adapter.Record{"temperature": 21}}},
		{"update", WriteOp{Operation: OpUpdate, Collection: "sensors", Record: adapter.Record{"temperature": 22}}},
		{"delete", WriteOp{Operation: OpDelete, Collection: "sensors"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ring := NewRing(4)
			c, _, secondary := newPair(t, Options{Recorder: ring})
			secondary.Fail(errDown)

			_, err := c.Write(ctx, tt.op)
			require.NoError(t, err)
			require.NoError(t, c.Close())

			failures, err := ring.Recent(ctx, 0)
			require.NoError(t, err)
			require.Len(t, failures, 1)
			f := failures[0]

			assert.ErrorIs(t, f.Err, adapter.ErrReplicationFailed)
			assert.True(t, adapter.IsConnectionError(f.Err), "cause is kept in the chain")

			var rerr *adapter.ReplicationError
			require.ErrorAs(t, f.Err, &rerr)
			assert.Equal(t, dbcapabilities.MongoDB, rerr.DatabaseType)
			assert.Equal(t, string(tt.op.Operation), rerr.Operation)
			assert.Equal(t, "sensors", rerr.Collection)
			assert.Equal(t, rerr.Error(), f.Error)
			assert.Contains(t, f.Error, "replication of "+string(tt.op.Operation)+" on sensors to mongodb failed")
		})
	}
}

func TestWritePrimaryFailureSkipsSecondary(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()
	c, primary, secondary := newPair(t, Options{})
	primary.Fail(errDown)

	_, err := c.Write(ctx, WriteOp{Operation: OpDelete, Collection: "sensors"})
	require.Error(t, err)
	assert.True(t, adapter.IsConnectionError(err))
	require.NoError(t, c.Close())

	assert.Zero(t, secondary.Calls("delete"))
	assert.Equal(t, StatePrimaryDegraded, c.LastState())
}

func TestWriteDetachedFromCallerContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx, cancel := context.WithCancel(context.Background())
	c, _, secondary := newPair(t, Options{})

	_, err := c.Write(ctx, WriteOp{Operation: OpInsert, Collection: "c", Record: adapter.Record{"a": 1}})
	require.NoError(t, err)
	cancel()
	require.NoError(t, c.Close())

	assert.Len(t, secondary.Records("c"), 1)
}

func TestPoolSaturationIsRecorded(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()

	primary := drivertest.NewMemory(dbcapabilities.SQLite)
	slow := &blockingDriver{
		Memory:  drivertest.NewMemory(dbcapabilities.MongoDB),
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	ring := NewRing(8)
	c, err := New(primary, slow, Options{Workers: 1, Recorder: ring, Logger: logger.Nop()})
	require.NoError(t, err)

	_, err = c.Write(ctx, WriteOp{Operation: OpInsert, Collection: "c", Record: adapter.Record{"n": 1}})
	require.NoError(t, err)
	<-slow.entered

	_, err = c.Write(ctx, WriteOp{Operation: OpInsert, Collection: "c", Record: adapter.Record{"n": 2}})
	require.NoError(t, err)

	failures, err := ring.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Error, "not scheduled")

	close(slow.release)
	require.NoError(t, c.Close())
	assert.Len(t, slow.Records("c"), 1)
}

func TestCloseGracePeriod(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()

	slow := &blockingDriver{
		Memory:  drivertest.NewMemory(dbcapabilities.MongoDB),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	c, err := New(drivertest.NewMemory(dbcapabilities.SQLite), slow, Options{ShutdownGrace: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.Write(ctx, WriteOp{Operation: OpInsert, Collection: "c", Record: adapter.Record{"n": 1}})
	require.NoError(t, err)
	<-slow.entered

	start := time.Now()
	assert.Error(t, c.Close())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, c.Close(), c.Close())

	close(slow.release)
	assert.Eventually(t, func() bool { return len(slow.Records("c")) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestReadFallback(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()
	c, primary, secondary := newPair(t, Options{})
	defer c.Close()

	for _, temp := range []int{20, 21, 22} {
		_, err := secondary.Insert(ctx, "sensors", adapter.Record{"temperature": temp})
		require.NoError(t, err)
	}
	primary.Fail(errDown)
	before := testutil.ToFloat64(metrics.DegradedReadsTotal.WithLabelValues("query"))

	records, degraded, err := c.QueryMany(ctx, "sensors", query.Spec{
		Filter: query.FilterSet{Conditions: []query.Expression{{Field: "temperature", Op: query.OpGt, Value: 20}}},
	})
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Len(t, records, 2)
	assert.Equal(t, StatePrimaryDegraded, c.LastState())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.DegradedReadsTotal.WithLabelValues("query")))

	n, degraded, err := c.Count(ctx, "sensors", query.FilterSet{})
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.Equal(t, int64(3), n)

	primary.Fail(nil)
	_, degraded, err = c.Count(ctx, "sensors", query.FilterSet{})
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Equal(t, StateHybridActive, c.LastState())
}

func TestReadBothFail(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	c, primary, secondary := newPair(t, Options{})
	defer c.Close()
	primary.Fail(errDown)
	secondary.Fail(errors.New("secondary unavailable"))

	_, degraded, err := c.Count(context.Background(), "sensors", query.FilterSet{})
	require.Error(t, err)
	assert.False(t, degraded)
	assert.True(t, adapter.IsConnectionError(err))
	assert.Contains(t, err.Error(), "secondary unavailable")
}

func TestReadValidationErrorDoesNotFallBack(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	c, _, secondary := newPair(t, Options{})
	defer c.Close()

	_, _, err := c.QueryMany(context.Background(), "sensors", query.Spec{Limit: -1})
	assert.True(t, adapter.IsValidationError(err))
	assert.Zero(t, secondary.Calls("query"))
	assert.Equal(t, StateHybridActive, c.LastState())
}

func TestPrimaryOnly(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()
	primary := drivertest.NewMemory(dbcapabilities.SQLite)
	c, err := New(primary, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatePrimaryOnly, c.LastState())
	assert.Nil(t, c.Secondary())

	_, err = c.Write(ctx, WriteOp{Operation: OpInsert, Collection: "c", Record: adapter.Record{"a": 1}})
	require.NoError(t, err)

	primary.Fail(errDown)
	_, degraded, err := c.Count(ctx, "c", query.FilterSet{})
	assert.True(t, adapter.IsConnectionError(err))
	assert.False(t, degraded)
	assert.Equal(t, StatePrimaryOnly, c.LastState())
	assert.NoError(t, c.Close())

	_, err = New(nil, nil, Options{})
	assert.Error(t, err)
}

func TestDescribeFilter(t *testing.T) {
	fs := query.FilterSet{
		Conditions: []query.Expression{{Field: "temp", Op: query.OpGte, Value: 10}},
		Or: []query.FilterSet{
			{Conditions: []query.Expression{{Field: "site", Op: query.OpEq, Value: "north"}}},
			{Conditions: []query.Expression{{Field: "site", Op: query.OpIsNull}}},
		},
	}
	assert.Equal(t, "temp gte 10 AND ((site eq north) OR (site is_null))", describeFilter(fs))
	assert.Equal(t, "*", describeFilter(query.FilterSet{}))
}
