package subscription

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/redbco/redb-storage/internal/database/drivertest"
	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/dbcapabilities"
	"github.com/redbco/redb-storage/pkg/encryption"
	"github.com/redbco/redb-storage/pkg/logger"
	"github.com/redbco/redb-storage/pkg/query"
)

func collect() (Callback, <-chan adapter.Notification) {
	ch := make(chan adapter.Notification, 64)
	return func(n adapter.Notification) { ch <- n }, ch
}

func next(t *testing.T, ch <-chan adapter.Notification) adapter.Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("no notification delivered")
		return adapter.Notification{}
	}
}

func TestSubscribeDeliversExactlyOneInsert(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()

	store := drivertest.NewMemory(dbcapabilities.MongoDB)
	m := NewManager(store, nil, logger.Nop())
	defer m.Close()

	cb, ch := collect()
	sub, err := m.Subscribe(ctx, "sensors", query.FilterSet{}, cb)
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, "sensors", sub.Collection)

	res, err := store.Insert(ctx, "sensors", adapter.Record{"temperature": 21})
	require.NoError(t, err)

	n := next(t, ch)
	assert.Equal(t, adapter.ChangeInsert, n.Type)
	assert.Equal(t, "sensors", n.Collection)
	assert.Equal(t, res.InsertedID, n.DocumentID)
	assert.Equal(t, 21, n.Payload["temperature"])

	assert.Never(t, func() bool { return len(ch) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestSubscribeFilter(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()

	store := drivertest.NewMemory(dbcapabilities.Firestore)
	m := NewManager(store, nil, nil)
	defer m.Close()

	cb, ch := collect()
	_, err := m.Subscribe(ctx, "sensors", query.FilterSet{Conditions: []query.Expression{
		{Field: "temperature", Op: query.OpGt, Value: 20},
	}}, cb)
	require.NoError(t, err)

	_, err = store.Insert(ctx, "sensors", adapter.Record{"temperature": 19})
	require.NoError(t, err)
	_, err = store.Insert(ctx, "sensors", adapter.Record{"temperature": 25})
	require.NoError(t, err)

	n := next(t, ch)
	assert.Equal(t, 25, n.Payload["temperature"])
}

func TestSubscribeUnsupported(t *testing.T) {
	store := drivertest.NewMemory(dbcapabilities.SQLite)
	m := NewManager(store, nil, logger.Nop())

	_, err := m.Subscribe(context.Background(), "sensors", query.FilterSet{}, func(adapter.Notification) {})
	require.Error(t, err)
	assert.True(t, adapter.IsUnsupported(err))
	assert.Empty(t, m.Active())
	assert.Zero(t, store.Calls("subscribe"))
}

func TestSubscribeValidation(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	m := NewManager(drivertest.NewMemory(dbcapabilities.MongoDB), nil, logger.Nop())
	ctx := context.Background()

	_, err := m.Subscribe(ctx, "c", query.FilterSet{}, nil)
	assert.True(t, adapter.IsValidationError(err))

	_, err = m.Subscribe(ctx, "", query.FilterSet{}, func(adapter.Notification) {})
	assert.True(t, adapter.IsValidationError(err))

	_, err = m.Subscribe(ctx, "c", query.FilterSet{Conditions: []query.Expression{{Field: "x", Op: "approx"}}}, func(adapter.Notification) {})
	assert.True(t, adapter.IsValidationError(err))
}

func TestSubscribeDriverError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	store := drivertest.NewMemory(dbcapabilities.MongoDB)
	boom := errors.New("change streams need a replica set")
	store.Fail(boom)
	m := NewManager(store, nil, logger.Nop())

	_, err := m.Subscribe(context.Background(), "c", query.FilterSet{}, func(adapter.Notification) {})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, m.Active())
}

func TestUnsubscribe(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()

	store := drivertest.NewMemory(dbcapabilities.MongoDB)
	m := NewManager(store, nil, logger.Nop())

	var calls atomic.Int32
	sub, err := m.Subscribe(ctx, "c", query.FilterSet{}, func(adapter.Notification) { calls.Add(1) })
	require.NoError(t, err)
	assert.Equal(t, 1, store.Listeners())

	assert.True(t, m.Unsubscribe(sub.ID))
	assert.False(t, m.Unsubscribe(sub.ID))
	assert.False(t, m.Unsubscribe("unknown"))
	assert.Zero(t, store.Listeners())

	_, err = store.Insert(ctx, "c", adapter.Record{"a": 1})
	require.NoError(t, err)
	assert.Zero(t, calls.Load())
}

func TestUnsubscribeWaitsForCallback(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()

	store := drivertest.NewMemory(dbcapabilities.MongoDB)
	m := NewManager(store, nil, logger.Nop())

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	sub, err := m.Subscribe(ctx, "c", query.FilterSet{}, func(adapter.Notification) {
		close(entered)
		<-release
		finished.Store(true)
	})
	require.NoError(t, err)

	_, err = store.Insert(ctx, "c", adapter.Record{"a": 1})
	require.NoError(t, err)
	<-entered

	returned := make(chan bool)
	go func() { returned <- m.Unsubscribe(sub.ID) }()

	select {
	case <-returned:
		t.Fatal("Unsubscribe returned while a callback was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	assert.True(t, <-returned)
	assert.True(t, finished.Load())
}

func TestCallbackPanicDoesNotStopDelivery(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()

	store := drivertest.NewMemory(dbcapabilities.MongoDB)
	m := NewManager(store, nil, logger.Nop())
	defer m.Close()

	ch := make(chan adapter.Notification, 4)
	_, err := m.Subscribe(ctx, "c", query.FilterSet{}, func(n adapter.Notification) {
		if n.Payload["panic"] == true {
			panic("callback bug")
		}
		ch <- n
	})
	require.NoError(t, err)

	_, err = store.Insert(ctx, "c", adapter.Record{"panic": true})
	require.NoError(t, err)
	_, err = store.Insert(ctx, "c", adapter.Record{"panic": false})
	require.NoError(t, err)

	assert.Equal(t, false, next(t, ch).Payload["panic"])
}

func TestPayloadDecryption(t *testing.T) {
	ctx := context.Background()
	fields := encryption.FieldTable{"patients": {"ssn"}}

	tests := []struct {
		name   string
		policy encryption.DecryptFailurePolicy
		stored func(c *encryption.Codec) string
		check  func(t *testing.T, n adapter.Notification)
	}{
		{
			name:   "ciphertext is decrypted",
			policy: encryption.FailOpen,
			stored: func(c *encryption.Codec) string {
				s, _ := c.Encrypt("123-45-6789")
				return s
			},
			check: func(t *testing.T, n adapter.Notification) {
				assert.Equal(t, adapter.ChangeInsert, n.Type)
				assert.Equal(t, "123-45-6789", n.Payload["ssn"])
			},
		},
		{
			name:   "fail open keeps stored value",
			policy: encryption.FailOpen,
			stored: func(*encryption.Codec) string { return "legacy-plaintext" },
			check: func(t *testing.T, n adapter.Notification) {
				assert.Equal(t, adapter.ChangeInsert, n.Type)
				assert.Equal(t, "legacy-plaintext", n.Payload["ssn"])
			},
		},
		{
			name:   "fail closed reports an error notification",
			policy: encryption.FailClosed,
			stored: func(*encryption.Codec) string { return "legacy-plaintext" },
			check: func(t *testing.T, n adapter.Notification) {
				assert.Equal(t, adapter.ChangeError, n.Type)
				assert.ErrorIs(t, n.Err, encryption.ErrDecrypt)
				assert.Nil(t, n.Payload)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
			codec, err := encryption.NewCodec([]byte("k"), encryption.WithFields(fields), encryption.WithPolicy(tt.policy))
			require.NoError(t, err)

			store := drivertest.NewMemory(dbcapabilities.Firestore)
			m := NewManager(store, codec, logger.Nop())
			defer m.Close()

			cb, ch := collect()
			_, err = m.Subscribe(ctx, "patients", query.FilterSet{}, cb)
			require.NoError(t, err)

			_, err = store.Insert(ctx, "patients", adapter.Record{"ssn": tt.stored(codec)})
			require.NoError(t, err)
			tt.check(t, next(t, ch))
		})
	}
}

func TestCloseStopsEverything(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()

	store := drivertest.NewMemory(dbcapabilities.MongoDB)
	m := NewManager(store, nil, logger.Nop())
	for _, c := range []string{"a", "b", "c"} {
		_, err := m.Subscribe(ctx, c, query.FilterSet{}, func(adapter.Notification) {})
		require.NoError(t, err)
	}
	assert.Len(t, m.Active(), 3)

	m.Close()
	assert.Empty(t, m.Active())
	assert.Zero(t, store.Listeners())

	_, err := m.Subscribe(ctx, "a", query.FilterSet{}, func(adapter.Notification) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue(t *testing.T) {
	q := newQueue()
	for i := 0; i < 1000; i++ {
		q.push(adapter.Notification{DocumentID: string(rune('a' + i%26))})
	}
	assert.Equal(t, 1000, q.len())

	n, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, "a", n.DocumentID)

	q.close()
	_, ok = q.pop()
	assert.False(t, ok)
	q.push(adapter.Notification{})
	assert.Zero(t, q.len())
}
