package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/specexplorer/specsync/internal/sync"
)

// fakeEngine publishes whatever state the test sets.
type fakeEngine struct {
	b          *sync.Broadcaster
	configured bool

	mu      gosync.Mutex
	state   sync.State
	tenants []string
	synced  chan struct{}
}

func newFakeEngine(configured bool) *fakeEngine {
	return &fakeEngine{
		b:          sync.NewBroadcaster(zap.NewNop()),
		configured: configured,
		state:      sync.State{Status: sync.StatusIdle},
		synced:     make(chan struct{}, 10),
	}
}

func (f *fakeEngine) GetState() sync.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeEngine) Subscribe(l sync.Listener) func() { return f.b.Subscribe(l) }

func (f *fakeEngine) IsConfigured() bool { return f.configured }

func (f *fakeEngine) SyncAll(_ context.Context, tenant string) bool {
	f.mu.Lock()
	f.tenants = append(f.tenants, tenant)
	f.mu.Unlock()
	f.set(sync.State{Status: sync.StatusIdle})
	f.synced <- struct{}{}
	return true
}

func (f *fakeEngine) set(st sync.State) {
	f.mu.Lock()
	f.state = st
	f.mu.Unlock()
	f.b.Publish(st)
}

func testConfig() *Config {
	return &Config{
		Port:     0,
		Tenant:   "tenant-a",
		Gatherer: prometheus.NewRegistry(),
		Logger:   zap.NewNop(),
	}
}

func startServer(t *testing.T, engine Engine) *Server {
	t.Helper()
	server := NewServer(engine, testConfig())
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) (Message, map[string]any) {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	var payload map[string]any
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			t.Fatalf("Failed to unmarshal data: %v", err)
		}
	}
	return msg, payload
}

func waitForClients(t *testing.T, server *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, server.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(newFakeEngine(true), testConfig())

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.GetAddr(); addr == "" || strings.HasSuffix(addr, ":0") {
		t.Fatalf("Unexpected address %q", addr)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketWelcomeIsCurrentState(t *testing.T) {
	engine := newFakeEngine(true)
	engine.set(sync.State{Status: sync.StatusOffline, PendingChanges: 2})
	server := startServer(t, engine)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	msg, payload := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeState {
		t.Errorf("Expected %s, got %s", MessageTypeState, msg.Type)
	}
	if payload["status"] != "offline" {
		t.Errorf("Expected offline, got %v", payload["status"])
	}
	if payload["pendingChanges"] != float64(2) {
		t.Errorf("Expected 2 pending, got %v", payload["pendingChanges"])
	}

	waitForClients(t, server, 1)
}

func TestStateChangesBroadcastToAllClients(t *testing.T) {
	engine := newFakeEngine(true)
	server := startServer(t, engine)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
		if err != nil {
			t.Fatalf("Failed to connect client %d: %v", i, err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		readMessage(t, ctx, conn)
		conns[i] = conn
	}
	waitForClients(t, server, 3)

	engine.set(sync.State{Status: sync.StatusError, Error: "push: boom"})

	for i, conn := range conns {
		msg, payload := readMessage(t, ctx, conn)
		if msg.Type != MessageTypeState {
			t.Errorf("client %d: expected %s, got %s", i, MessageTypeState, msg.Type)
		}
		if payload["status"] != "error" || payload["error"] != "push: boom" {
			t.Errorf("client %d: unexpected payload %v", i, payload)
		}
	}
}

func TestClientDisconnect(t *testing.T) {
	server := startServer(t, newFakeEngine(true))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	readMessage(t, ctx, conn)
	waitForClients(t, server, 1)

	conn.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, server, 0)
}

func TestHTTPEndpoints(t *testing.T) {
	engine := newFakeEngine(true)
	engine.set(sync.State{Status: sync.StatusIdle, PendingChanges: 4})

	reg := prometheus.NewRegistry()
	if _, err := sync.NewMetrics(reg); err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	cfg := testConfig()
	cfg.Gatherer = reg
	server := NewServer(engine, cfg)
	defer server.Stop()

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	t.Run("status", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/status")
		if err != nil {
			t.Fatalf("GET /status: %v", err)
		}
		defer resp.Body.Close()
		var st map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if st["status"] != "idle" || st["pendingChanges"] != float64(4) || st["error"] != nil {
			t.Errorf("unexpected state %v", st)
		}
	})

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatalf("GET /health: %v", err)
		}
		defer resp.Body.Close()
		var h map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if h["status"] != "ok" || h["configured"] != true {
			t.Errorf("unexpected health %v", h)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		if err != nil {
			t.Fatalf("GET /metrics: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(body), "specsync_queue_pending") {
			t.Errorf("metrics output missing queue gauge:\n%s", body)
		}
	})

	t.Run("not found", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/nope")
		if err != nil {
			t.Fatalf("GET /nope: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404, got %d", resp.StatusCode)
		}
	})
}

func TestTriggerSync(t *testing.T) {
	engine := newFakeEngine(true)
	server := NewServer(engine, testConfig())
	defer server.Stop()

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/sync?tenant=tenant-b", "", nil)
	if err != nil {
		t.Fatalf("POST /sync: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/sync", "", nil)
	if err != nil {
		t.Fatalf("POST /sync: %v", err)
	}
	resp.Body.Close()

	for i := 0; i < 2; i++ {
		select {
		case <-engine.synced:
		case <-time.After(2 * time.Second):
			t.Fatal("sync was not triggered")
		}
	}

	engine.mu.Lock()
	got := strings.Join(engine.tenants, ",")
	engine.mu.Unlock()
	if got != "tenant-b,tenant-a" && got != "tenant-a,tenant-b" {
		t.Errorf("unexpected tenants %q", got)
	}

	resp, err = http.Get(ts.URL + "/sync")
	if err != nil {
		t.Fatalf("GET /sync: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

func TestTriggerSync_Rejected(t *testing.T) {
	t.Run("unconfigured", func(t *testing.T) {
		server := NewServer(newFakeEngine(false), testConfig())
		defer server.Stop()
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", rec.Code)
		}
	})

	t.Run("busy", func(t *testing.T) {
		engine := newFakeEngine(true)
		engine.set(sync.State{Status: sync.StatusSyncing})
		server := NewServer(engine, testConfig())
		defer server.Stop()
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync", nil))
		if rec.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("stopped", func(t *testing.T) {
		engine := newFakeEngine(true)
		server := NewServer(engine, testConfig())
		if err := server.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", rec.Code)
		}
		select {
		case <-engine.synced:
			t.Error("sync must not start after Stop")
		case <-time.After(50 * time.Millisecond):
		}
	})
}
