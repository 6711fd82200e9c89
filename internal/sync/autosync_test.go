package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAutoSync_Unconfigured(t *testing.T) {
	e := New(setupStore(t), newFakeBackend(false), Config{})
	var seen recorder
	e.Subscribe(seen.listen)

	assert.False(t, e.StartAutoSync(context.Background(), time.Millisecond, "tenant-a"))
	assert.False(t, e.AutoSyncRunning())
	assert.Equal(t, []Status{StatusOffline}, seen.statuses())
}

func TestStartAutoSync_RunsInitialAndPeriodicCycles(t *testing.T) {
	backend := newFakeBackend(true)
	e := New(setupStore(t), backend, Config{})
	ctx := context.Background()

	require.True(t, e.StartAutoSync(ctx, 10*time.Millisecond, "tenant-a"))
	require.True(t, e.AutoSyncRunning())

	// One fetch per tracked collection per cycle.
	initial := backend.fetchCount()
	assert.GreaterOrEqual(t, initial, 4)

	require.Eventually(t, func() bool {
		return backend.fetchCount() >= initial+8
	}, 2*time.Second, 5*time.Millisecond, "periodic cycles did not run")

	e.autoMu.Lock()
	done := e.done
	e.autoMu.Unlock()

	e.StopAutoSync()
	e.StopAutoSync() // idempotent
	assert.False(t, e.AutoSyncRunning())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("auto-sync loop did not exit after StopAutoSync")
	}

	after := backend.fetchCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, backend.fetchCount(), "no cycles after stop")
}

func TestStartAutoSync_ContextCancelEndsLoop(t *testing.T) {
	e := New(setupStore(t), newFakeBackend(true), Config{})
	ctx, cancel := context.WithCancel(context.Background())

	require.True(t, e.StartAutoSync(ctx, time.Hour, ""))
	e.autoMu.Lock()
	done := e.done
	e.autoMu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("auto-sync loop did not exit on context cancel")
	}
	e.StopAutoSync()
}

func TestStartAutoSync_Restart(t *testing.T) {
	e := New(setupStore(t), newFakeBackend(true), Config{})
	ctx := context.Background()

	require.True(t, e.StartAutoSync(ctx, time.Hour, ""))
	e.autoMu.Lock()
	firstDone := e.done
	e.autoMu.Unlock()

	require.True(t, e.StartAutoSync(ctx, time.Hour, ""))
	select {
	case <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatal("previous schedule was not replaced")
	}
	assert.True(t, e.AutoSyncRunning())
	e.StopAutoSync()
}

func TestStopAutoSync_NotRunning(t *testing.T) {
	e := New(setupStore(t), newFakeBackend(true), Config{})
	assert.NotPanics(t, e.StopAutoSync)
}
