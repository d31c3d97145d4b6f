package drivertest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/dbcapabilities"
	"github.com/redbco/redb-storage/pkg/query"
)

func TestMemoryConformance(t *testing.T) {
	m := NewMemory(dbcapabilities.MongoDB)
	Run(t, Harness{
		Driver: m,
		Reset:  func(t *testing.T, collection string) { m.Drop(collection) },
	})
}

func TestMemory(t *testing.T) {
	ctx := context.Background()

	t.Run("subscribe follows capabilities", func(t *testing.T) {
		_, err := NewMemory(dbcapabilities.SQLite).Subscribe(ctx, "c", query.FilterSet{}, func(adapter.Notification) {})
		assert.True(t, adapter.IsUnsupported(err))
	})

	t.Run("listener sees filtered changes and deletes", func(t *testing.T) {
		m := NewMemory(dbcapabilities.Firestore)
		var got []adapter.Notification
		l, err := m.Subscribe(ctx, "c", query.Where(map[string]any{"site": "north"}), func(n adapter.Notification) {
			got = append(got, n)
		})
		require.NoError(t, err)

		_, err = m.Insert(ctx, "c", adapter.Record{"site": "south"})
		require.NoError(t, err)
		res, err := m.Insert(ctx, "c", adapter.Record{"site": "north"})
		require.NoError(t, err)
		_, err = m.Delete(ctx, "c", query.FilterSet{})
		require.NoError(t, err)

		require.Len(t, got, 3)
		assert.Equal(t, adapter.ChangeInsert, got[0].Type)
		assert.Equal(t, res.InsertedID, got[0].DocumentID)
		assert.Equal(t, adapter.ChangeDelete, got[1].Type)
		assert.Equal(t, adapter.ChangeDelete, got[2].Type)

		l.Stop()
		assert.Zero(t, m.Listeners())
	})

	t.Run("fail and duplicate ids", func(t *testing.T) {
		m := NewMemory(dbcapabilities.MongoDB)
		_, err := m.Insert(ctx, "c", adapter.Record{"id": "x"})
		require.NoError(t, err)
		_, err = m.Insert(ctx, "c", adapter.Record{"id": "x"})
		assert.Error(t, err)

		boom := errors.New("boom")
		m.Fail(boom)
		_, err = m.Count(ctx, "c", query.FilterSet{})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, m.Calls("count"))

		m.Fail(nil)
		require.NoError(t, m.Close())
		err = m.Ping(ctx)
		assert.True(t, adapter.IsConnectionError(err))
		assert.ErrorIs(t, err, adapter.ErrConnectionClosed)
	})
}
