package hybrid

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/redb-storage/internal/database/drivertest"
	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/dbcapabilities"
	"github.com/redbco/redb-storage/pkg/logger"
)

func setupJournal(t *testing.T, maxLen int64) (*miniredis.Miniredis, *RedisJournal) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisJournal(client, "redb-storage:replication-failures", maxLen)
}

func TestRing(t *testing.T) {
	ctx := context.Background()
	r := NewRing(3)

	got, err := r.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	for i := 1; i <= 5; i++ {
		require.NoError(t, r.Record(ctx, Failure{Collection: fmt.Sprintf("c%d", i)}))
	}

	got, err = r.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c5", got[0].Collection)
	assert.Equal(t, "c3", got[2].Collection)

	got, err = r.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c5", "c4"}, []string{got[0].Collection, got[1].Collection})

	assert.Len(t, NewRing(0).buf, 1)
}

func TestRedisJournal(t *testing.T) {
	ctx := context.Background()
	_, j := setupJournal(t, 0)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, j.Record(ctx, Failure{
		Time:       at,
		Backend:    "mongodb",
		Operation:  OpInsert,
		Collection: "sensors",
		DocumentID: "42",
		Record:     adapter.Record{"id": "42", "temperature": 21.5},
		Error:      "connection refused",
	}))
	require.NoError(t, j.Record(ctx, Failure{
		Time:       at.Add(time.Second),
		Backend:    "mongodb",
		Operation:  OpDelete,
		Collection: "sensors",
		Filter:     "temperature lt 0",
		Error:      "timeout",
	}))

	got, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, OpDelete, got[0].Operation)
	assert.Equal(t, "temperature lt 0", got[0].Filter)
	assert.Nil(t, got[0].Record)

	assert.Equal(t, OpInsert, got[1].Operation)
	assert.Equal(t, at, got[1].Time)
	assert.Equal(t, "42", got[1].DocumentID)
	assert.Equal(t, adapter.Record{"id": "42", "temperature": 21.5}, got[1].Record)

	n, err := j.StreamLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRedisJournalTrims(t *testing.T) {
	ctx := context.Background()
	_, j := setupJournal(t, 3)

	for i := 0; i < 10; i++ {
		require.NoError(t, j.Record(ctx, Failure{Operation: OpUpdate, Collection: fmt.Sprintf("c%d", i)}))
	}
	n, err := j.StreamLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := j.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c9", got[0].Collection)
}

func TestRedisJournalUnavailable(t *testing.T) {
	mr, j := setupJournal(t, 0)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, j.Record(ctx, Failure{Operation: OpInsert}))
}

func TestCoordinatorWithRedisJournal(t *testing.T) {
	ctx := context.Background()
	_, j := setupJournal(t, 100)

	secondary := drivertest.NewMemory(dbcapabilities.Firestore)
	secondary.Fail(errDown)
	c, err := New(drivertest.NewMemory(dbcapabilities.SQLite), secondary, Options{Recorder: j, Logger: logger.Nop()})
	require.NoError(t, err)

	_, err = c.Write(ctx, WriteOp{Operation: OpInsert, Collection: "sensors", Record: adapter.Record{"temperature": 20}})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	got, err := c.Recorder().Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "firestore", got[0].Backend)
	assert.Equal(t, "sensors", got[0].Collection)
}
