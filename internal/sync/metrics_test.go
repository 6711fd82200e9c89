package sync

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/specexplorer/specsync/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err, "double registration must fail")

	st := setupStore(t)
	ctx := context.Background()
	backend := newFakeBackend(true)
	backend.seed(schema.Projects, "tenant-a", rec2("p1", "x"), rec2("p2", "y"))
	e := New(st, backend, Config{Metrics: m})

	_, err = st.Enqueue(ctx, schema.NewUpsertItem(schema.Projects, "tenant-a", rec2("p3", "z")))
	require.NoError(t, err)

	require.True(t, e.SyncAll(ctx, "tenant-a"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues("full", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queueItems.WithLabelValues(outcomePushed)))
	// p1, p2 seeded plus p3 pushed before the pull.
	assert.Equal(t, 3.0, testutil.ToFloat64(m.pulled.WithLabelValues("projects")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.pending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.status.WithLabelValues(string(StatusIdle))))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.status.WithLabelValues(string(StatusSyncing))))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.observeCycle("full", true, 0)
		m.observeItem(outcomePushed)
		m.observePull("projects", 1)
		m.observeState(State{Status: StatusIdle})
	})
}
