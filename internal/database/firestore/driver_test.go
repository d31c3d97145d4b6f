package firestore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/redb-storage/internal/database/drivertest"
	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/logger"
	"github.com/redbco/redb-storage/pkg/query"
)

// Integration tests run against the emulator:
// gcloud emulators firestore start --host-port=localhost:8681
func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	d, err := NewAdapter().Connect(context.Background(), adapter.ConnectionConfig{
		ConnectionType: "firestore",
		ProjectID:      "redb-storage-test",
		Logger:         logger.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d.(*Driver)
}

func harness(d *Driver) drivertest.Harness {
	return drivertest.Harness{
		Driver: d,
		Reset: func(t *testing.T, collection string) {
			t.Helper()
			_, err := d.Delete(context.Background(), collection, query.FilterSet{})
			require.NoError(t, err)
		},
	}
}

func TestFirestoreConformance(t *testing.T) {
	drivertest.Run(t, harness(newTestDriver(t)))
}

func TestFirestoreSubscribe(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()
	harness(d).Reset(t, "events")

	_, err := d.Insert(ctx, "events", adapter.Record{"kind": "keep", "note": "before"})
	require.NoError(t, err)

	got := make(chan adapter.Notification, 8)
	l, err := d.Subscribe(ctx, "events", query.Where(map[string]any{"kind": "keep"}), func(n adapter.Notification) {
		got <- n
	})
	require.NoError(t, err)

	res, err := d.Insert(ctx, "events", adapter.Record{"kind": "keep"})
	require.NoError(t, err)

	select {
	case n := <-got:
		assert.Equal(t, adapter.ChangeInsert, n.Type)
		assert.Equal(t, res.InsertedID, n.DocumentID)
	case <-time.After(10 * time.Second):
		t.Fatal("no notification received")
	}

	l.Stop()
	_, err = d.Insert(ctx, "events", adapter.Record{"kind": "keep"})
	require.NoError(t, err)
	time.Sleep(500 * time.Millisecond)
	assert.Empty(t, got)
}

func TestFirestoreInsertWithID(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()
	harness(d).Reset(t, "ids")

	res, err := d.Insert(ctx, "ids", adapter.Record{"id": "fixed", "v": 1})
	require.NoError(t, err)
	assert.Equal(t, "fixed", res.InsertedID)

	_, err = d.Insert(ctx, "ids", adapter.Record{"id": "fixed", "v": 2})
	assert.Error(t, err)
}

func TestConnectRequiresProject(t *testing.T) {
	_, err := NewAdapter().Connect(context.Background(), adapter.ConnectionConfig{ConnectionType: "firestore"})
	assert.True(t, adapter.IsConfigurationError(err))
}
