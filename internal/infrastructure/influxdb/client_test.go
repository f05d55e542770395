package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-bridged/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-bridged/internal/infrastructure/influxdb"
)

// fakeServer answers the two endpoints the client uses and records the
// line protocol bodies it receives.
type fakeServer struct {
	*httptest.Server

	mu     sync.Mutex
	writes []string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			fs.mu.Lock()
			fs.writes = append(fs.writes, string(body))
			fs.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) body() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return strings.Join(fs.writes, "\n")
}

// waitForBody polls until a write containing want arrives. Batches may
// still be in flight when Flush returns.
func (fs *fakeServer) waitForBody(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(fs.body(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("write body = %q, want it to contain %q", fs.body(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "bridged-test-token",
		Org:           "bridged",
		Bucket:        "links",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func TestConnect(t *testing.T) {
	fs := newFakeServer(t)

	client, err := influxdb.Connect(testConfig(fs.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	fs := newFakeServer(t)
	url := fs.URL
	fs.Close()

	_, err := influxdb.Connect(testConfig(url))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWritePointWithTime(t *testing.T) {
	fs := newFakeServer(t)
	client, err := influxdb.Connect(testConfig(fs.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	ts := time.Unix(1700000000, 0)
	client.WritePointWithTime("link_stats",
		map[string]string{"peer": "amp"},
		map[string]any{"bytes_received": uint64(42)},
		ts)
	client.Flush()

	fs.waitForBody(t, "link_stats,peer=amp bytes_received=42u")
	if client.Points() != 1 {
		t.Errorf("Points() = %d, want 1", client.Points())
	}
}

func TestWritePointWithTime_NoFieldsDropped(t *testing.T) {
	fs := newFakeServer(t)
	client, err := influxdb.Connect(testConfig(fs.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WritePointWithTime("link_stats", map[string]string{"peer": "amp"}, nil, time.Now())
	client.Flush()

	if client.Points() != 0 {
		t.Errorf("Points() = %d, want 0", client.Points())
	}
}

func TestClose(t *testing.T) {
	fs := newFakeServer(t)
	client, err := influxdb.Connect(testConfig(fs.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}

	// Writes and flushes after close are silently ignored.
	client.WritePointWithTime("link_stats", nil, map[string]any{"x": 1}, time.Now())
	client.Flush()
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestClose_Nil(t *testing.T) {
	client := &influxdb.Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
}
