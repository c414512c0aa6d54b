package jobrpc

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/semantica/task-engine/internal/app"
	"github.com/semantica/task-engine/internal/joblog"
	"github.com/semantica/task-engine/internal/platform"
	"github.com/semantica/task-engine/internal/store"
)

// newTestHandler wires a Handler against a real temp-file SQLite store, the
// same way cmd/daemon does, but without a listening RPC server.
func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(store.Config{Path: path, PoolSize: 1})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := platform.SystemClock{}
	devTasks := app.NewDevTaskService(s, clock, platform.UUIDProvider{})
	maintenance := app.NewMaintenanceService(s, clock, nil)
	logs := joblog.NewStore(filepath.Join(t.TempDir(), "logs"))
	return NewHandler(devTasks, maintenance, s, logs, clock, nil)
}

// httpServerFor starts an httptest.Server fronting serveRPC directly, so the
// test exercises full JSON-RPC encode/decode without binding a real port.
func httpServerFor(t *testing.T, h *Handler) *httptest.Server {
	t.Helper()
	srv := &Server{handler: h, limiter: rate.NewLimiter(rate.Limit(1000), 1000)}
	ts := httptest.NewServer(http.HandlerFunc(srv.serveRPC))
	t.Cleanup(ts.Close)
	return ts
}

func TestRPCRoundTrip_EnqueueCancelStatsLogs(t *testing.T) {
	h := newTestHandler(t)
	ts := httpServerFor(t, h)
	client := NewClient(ts.URL)
	ctx := context.Background()

	enqueued, err := client.Enqueue(ctx, EnqueueParams{JobType: "t", Queue: "default", SubjectKey: "s", Payload: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, "QUEUED", enqueued.State)

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalJobs)
	assert.Equal(t, int64(1), stats.QueuedJobs)

	cancelled, err := client.Cancel(ctx, enqueued.JobID)
	require.NoError(t, err)
	assert.True(t, cancelled.Cancelled)

	tail, err := client.TailLogs(ctx, enqueued.JobID, 10)
	require.NoError(t, err)
	assert.Equal(t, enqueued.JobID, tail.JobID)
}

func TestRPCRoundTrip_CancelUnknownJobReturnsNotFound(t *testing.T) {
	h := newTestHandler(t)
	ts := httpServerFor(t, h)
	client := NewClient(ts.URL)

	_, err := client.Cancel(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "4001")
}

func TestRPCRoundTrip_MaintenanceRuns(t *testing.T) {
	h := newTestHandler(t)
	ts := httpServerFor(t, h)
	client := NewClient(ts.URL)

	result, err := client.Maintenance(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, result.VacuumRun)
}

func TestServeRPC_RateLimited(t *testing.T) {
	h := newTestHandler(t)
	srv := &Server{handler: h, limiter: rate.NewLimiter(0, 0)}
	ts := httptest.NewServer(http.HandlerFunc(srv.serveRPC))
	defer ts.Close()

	client := NewClient(ts.URL)
	_, err := client.Stats(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "4003")
}

func TestServer_ListenAndServeAndShutdown(t *testing.T) {
	h := newTestHandler(t)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := lis.Addr().(*net.TCPAddr).Port
	lis.Close()

	srv := NewServer(ServerConfig{Host: "127.0.0.1", Port: port}, h, rate.NewLimiter(rate.Limit(1000), 1000), nil)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.Equal(t, http.ErrServerClosed, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}
