package sync

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/specexplorer/specsync/internal/remote"
	"github.com/specexplorer/specsync/internal/schema"
	"github.com/specexplorer/specsync/internal/store"
	"github.com/stretchr/testify/require"
)

var errBoom = &remote.Error{Op: "upsert", StatusCode: 503, Err: errors.New("service unavailable")}

// fakeBackend is an in-memory remote.Backend.
type fakeBackend struct {
	configured atomic.Bool

	mu      sync.Mutex
	rows    map[string]map[string]schema.Record // collection/tenant -> id -> record
	calls   []string
	fetches int

	upsertErr error
	deleteErr error
	fetchErr  error

	// fetchHook runs at the start of every Fetch, outside the lock.
	fetchHook func()
}

func newFakeBackend(configured bool) *fakeBackend {
	b := &fakeBackend{rows: make(map[string]map[string]schema.Record)}
	b.configured.Store(configured)
	return b
}

func bucket(c schema.Collection, tenant string) string {
	return string(c) + "/" + tenant
}

func (b *fakeBackend) IsConfigured() bool { return b.configured.Load() }

func (b *fakeBackend) Fetch(_ context.Context, c schema.Collection, tenant string, _ map[string]any) ([]schema.Record, error) {
	if hook := b.hook(); hook != nil {
		hook()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches++
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}

	var out []schema.Record
	for _, r := range b.rows[bucket(c, tenant)] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *fakeBackend) hook() func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetchHook
}

func (b *fakeBackend) Upsert(_ context.Context, c schema.Collection, tenant string, records []schema.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range records {
		b.calls = append(b.calls, "upsert "+string(c)+"/"+r.ID)
	}
	if b.upsertErr != nil {
		return b.upsertErr
	}
	key := bucket(c, tenant)
	if b.rows[key] == nil {
		b.rows[key] = make(map[string]schema.Record)
	}
	for _, r := range records {
		r.TenantID = tenant
		b.rows[key][r.ID] = r
	}
	return nil
}

func (b *fakeBackend) Delete(_ context.Context, c schema.Collection, tenant string, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		b.calls = append(b.calls, "delete "+string(c)+"/"+id)
	}
	if b.deleteErr != nil {
		return b.deleteErr
	}
	for _, id := range ids {
		delete(b.rows[bucket(c, tenant)], id)
	}
	return nil
}

func (b *fakeBackend) seed(c schema.Collection, tenant string, records ...schema.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := bucket(c, tenant)
	if b.rows[key] == nil {
		b.rows[key] = make(map[string]schema.Record)
	}
	for _, r := range records {
		b.rows[key][r.ID] = r
	}
}

func (b *fakeBackend) setErrors(upsert, del, fetch error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.upsertErr, b.deleteErr, b.fetchErr = upsert, del, fetch
}

func (b *fakeBackend) callLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *fakeBackend) fetchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetches
}

func (b *fakeBackend) get(c schema.Collection, tenant, id string) (schema.Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rows[bucket(c, tenant)][id]
	return r, ok
}

// setupStore opens a temporary local store with schema initialized.
func setupStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.InitSchema(context.Background()))
	return st
}

// stepClock returns a clock advancing one second per call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

// recorder collects broadcast states.
type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) listen(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, len(r.states))
	for i, s := range r.states {
		out[i] = s.Status
	}
	return out
}

func (r *recorder) last() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[len(r.states)-1]
}

func rec(id string, data map[string]any) schema.Record {
	return schema.Record{ID: id, Data: data}
}
