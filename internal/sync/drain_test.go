package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/specexplorer/specsync/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrain_Order(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Enqueued out of timestamp order.
	for _, tc := range []struct {
		id string
		at time.Duration
	}{
		{"third", 3 * time.Second},
		{"first", 1 * time.Second},
		{"second", 2 * time.Second},
	} {
		item := schema.NewUpsertItem(schema.Projects, "tenant-a", schema.Record{ID: tc.id})
		item.Timestamp = base.Add(tc.at)
		_, err := st.Enqueue(ctx, item)
		require.NoError(t, err)
	}

	backend := newFakeBackend(true)
	e := New(st, backend, Config{})
	require.NoError(t, e.ForcePush(ctx, ""))

	assert.Equal(t, []string{
		"upsert projects/first",
		"upsert projects/second",
		"upsert projects/third",
	}, backend.callLog())

	count, err := st.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDrain_SameRecordLastWriteWins(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		name string
		at   time.Duration
	}{
		{"v3", 3 * time.Second},
		{"v1", 1 * time.Second},
		{"v2", 2 * time.Second},
	} {
		item := schema.NewUpsertItem(schema.Projects, "tenant-a", rec2("p1", tc.name))
		item.Timestamp = base.Add(tc.at)
		_, err := st.Enqueue(ctx, item)
		require.NoError(t, err)
	}

	backend := newFakeBackend(true)
	e := New(st, backend, Config{})
	require.NoError(t, e.ForcePush(ctx, ""))

	assert.Len(t, backend.callLog(), 3)
	got, ok := backend.get(schema.Projects, "tenant-a", "p1")
	require.True(t, ok)
	assert.Equal(t, "v3", got.Data["name"])
}

func TestDrain_RetryCap(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	backend := newFakeBackend(true)
	e := New(st, backend, Config{})

	_, err := st.Enqueue(ctx, schema.NewUpsertItem(schema.Projects, "tenant-a", rec2("p1", "Bridge")))
	require.NoError(t, err)

	backend.setErrors(errBoom, nil, nil)
	for i := 0; i < 3; i++ {
		// Per-item failures do not fail the cycle.
		require.True(t, e.SyncAll(ctx, ""), "cycle %d", i+1)
	}

	pending, err := st.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1, "item stays queued after three failures")
	assert.Equal(t, 3, pending[0].Retries)
	assert.Contains(t, pending[0].Error, "service unavailable")
	assert.Equal(t, 1, e.GetState().PendingChanges)

	backend.setErrors(nil, nil, nil)
	require.True(t, e.SyncAll(ctx, ""))

	pending, err = st.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "a later success removes the item")
	_, ok := backend.get(schema.Projects, "tenant-a", "p1")
	assert.True(t, ok)
}

func TestDrain_RetainForManualReview(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	backend := newFakeBackend(true)
	e := New(st, backend, Config{})

	_, err := st.Enqueue(ctx, schema.NewDeleteItem(schema.Projects, "tenant-a", "p1"))
	require.NoError(t, err)
	backend.setErrors(nil, errBoom, nil)

	for i := 0; i < 4; i++ {
		require.True(t, e.SyncAll(ctx, ""))
	}

	s := e.GetState()
	assert.Zero(t, s.PendingChanges)
	assert.Equal(t, 1, s.DeadLetters)

	dead, err := st.ListDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Retries)

	// Dead letters are no longer retried.
	calls := len(backend.callLog())
	require.True(t, e.SyncAll(ctx, ""))
	assert.Len(t, backend.callLog(), calls)
}

func TestDrain_DropAfterMaxRetries(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	backend := newFakeBackend(true)
	e := New(st, backend, Config{RetryPolicy: DropAfterMaxRetries, MaxRetries: 1})

	_, err := st.Enqueue(ctx, schema.NewUpsertItem(schema.Projects, "tenant-a", rec2("p1", "x")))
	require.NoError(t, err)
	backend.setErrors(errBoom, nil, nil)

	require.True(t, e.SyncAll(ctx, ""))
	pending, _ := st.ListPending(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Retries)

	require.True(t, e.SyncAll(ctx, ""))
	s := e.GetState()
	assert.Zero(t, s.PendingChanges)
	assert.Zero(t, s.DeadLetters)
}

func TestDrain_FailureDoesNotBlockLaterItems(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	backend := newFakeBackend(true)
	e := New(st, backend, Config{})

	_, err := st.Enqueue(ctx, schema.NewDeleteItem(schema.Projects, "tenant-a", "gone"))
	require.NoError(t, err)
	_, err = st.Enqueue(ctx, schema.NewUpsertItem(schema.Projects, "tenant-a", rec2("p1", "x")))
	require.NoError(t, err)

	backend.setErrors(nil, errBoom, nil)
	require.True(t, e.SyncAll(ctx, ""))

	pending, _ := st.ListPending(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, schema.OpDelete, pending[0].Operation)
	_, ok := backend.get(schema.Projects, "tenant-a", "p1")
	assert.True(t, ok)
}

func TestForcePush_Tenant(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	backend := newFakeBackend(true)
	e := New(st, backend, Config{})

	_, err := st.Enqueue(ctx, schema.NewUpsertItem(schema.Projects, "tenant-a", rec2("a1", "x")))
	require.NoError(t, err)
	_, err = st.Enqueue(ctx, schema.NewUpsertItem(schema.Projects, "tenant-b", rec2("b1", "y")))
	require.NoError(t, err)

	require.NoError(t, e.ForcePush(ctx, "tenant-b"))
	assert.Equal(t, []string{"upsert projects/b1"}, backend.callLog())

	_, ok := backend.get(schema.Projects, "tenant-b", "b1")
	assert.True(t, ok, "items are pushed under their own tenant")
	assert.Equal(t, 1, e.GetState().PendingChanges)
}

func TestDrain_CancelledContext(t *testing.T) {
	st := setupStore(t)
	backend := newFakeBackend(true)
	e := New(st, backend, Config{})

	_, err := st.Enqueue(context.Background(), schema.NewDeleteItem(schema.Projects, "tenant-a", "p1"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = e.ForcePush(ctx, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StatusError, e.GetState().Status)
	assert.Equal(t, 1, e.GetState().PendingChanges)
}

func TestWritePolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("direct returns remote errors", func(t *testing.T) {
		st := setupStore(t)
		backend := newFakeBackend(true)
		backend.setErrors(errBoom, nil, nil)
		e := New(st, backend, Config{})

		err := e.PushToServer(ctx, schema.Projects, "tenant-a", rec2("p1", "x"))
		assert.ErrorIs(t, err, errBoom)
		n, _ := st.PendingCount(ctx)
		assert.Zero(t, n)
	})

	t.Run("queue-on-failure enqueues", func(t *testing.T) {
		st := setupStore(t)
		backend := newFakeBackend(true)
		backend.setErrors(nil, errBoom, nil)
		e := New(st, backend, Config{WritePolicy: WriteQueueOnFailure})

		require.NoError(t, e.DeleteFromServer(ctx, schema.Projects, "tenant-a", []string{"p1", "p2"}))
		assert.Equal(t, 2, e.GetState().PendingChanges)
	})

	t.Run("queue-on-failure keeps non-remote errors", func(t *testing.T) {
		st := setupStore(t)
		backend := newFakeBackend(true)
		plain := errors.New("bad request body")
		backend.setErrors(plain, nil, nil)
		e := New(st, backend, Config{WritePolicy: WriteQueueOnFailure})

		assert.ErrorIs(t, e.PushToServer(ctx, schema.Projects, "tenant-a", rec2("p1", "x")), plain)
	})

	t.Run("queue-first never calls the backend", func(t *testing.T) {
		st := setupStore(t)
		backend := newFakeBackend(true)
		e := New(st, backend, Config{WritePolicy: WriteQueueFirst})

		require.NoError(t, e.PushToServer(ctx, schema.Projects, "tenant-a", rec2("p1", "x"), rec2("p2", "y")))
		assert.Empty(t, backend.callLog())
		assert.Equal(t, 2, e.GetState().PendingChanges)
	})

	t.Run("direct sends immediately", func(t *testing.T) {
		st := setupStore(t)
		backend := newFakeBackend(true)
		e := New(st, backend, Config{})

		require.NoError(t, e.PushToServer(ctx, schema.Projects, "tenant-a", rec2("p1", "x")))
		_, ok := backend.get(schema.Projects, "tenant-a", "p1")
		assert.True(t, ok)
	})

	t.Run("untracked collection", func(t *testing.T) {
		e := New(setupStore(t), newFakeBackend(false), Config{})
		assert.Error(t, e.PushToServer(ctx, "users", "tenant-a", rec2("u1", "x")))
	})
}

func TestSave_RejectsForeignTenant(t *testing.T) {
	e := New(setupStore(t), newFakeBackend(false), Config{})
	r := rec2("p1", "x")
	r.TenantID = "tenant-b"
	assert.Error(t, e.Save(context.Background(), schema.Projects, "tenant-a", r))
}

func TestIsExhausted(t *testing.T) {
	assert.True(t, IsExhausted(errors.Join(errBoom, ErrQueueExhausted)))
	assert.False(t, IsExhausted(errBoom))
}
