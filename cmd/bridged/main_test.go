package main

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-bridged/internal/framing"
	"github.com/nerrad567/gray-logic-bridged/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-bridged/internal/transport"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("BRIDGED_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_InvalidPeer verifies run fails before starting when a peer
// endpoint cannot be parsed.
func TestRun_InvalidPeer(t *testing.T) {
	configPath := writeConfig(t, `
site:
  id: test-site
peers:
  - name: amp
    endpoint: "/dev/ttyS0:fast"
logging:
  level: error
  format: text
`)
	t.Setenv("BRIDGED_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if !errors.Is(err, transport.ErrInvalidSpec) {
		t.Fatalf("run() error = %v, want ErrInvalidSpec", err)
	}
}

// TestRun_ShutdownOnCancel runs the daemon with the journal enabled against
// a live peer and checks it exits cleanly when the context is cancelled.
func TestRun_ShutdownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, acceptErr := ln.Accept()
		if acceptErr == nil {
			accepted <- conn
		}
	}()

	dbPath := filepath.Join(t.TempDir(), "bridged.db")
	configPath := writeConfig(t, `
site:
  id: test-site
reactor:
  cycle_interval_ms: 10
peers:
  - name: amp
    endpoint: "127.0.0.1:`+strconv.Itoa(port)+`"
database:
  enabled: true
  path: "`+dbPath+`"
mqtt:
  enabled: false
influxdb:
  enabled: false
logging:
  level: error
  format: text
`)
	t.Setenv("BRIDGED_CONFIG", configPath)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	select {
	case conn := <-accepted:
		defer conn.Close()
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("peer connection not established")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("journal database not created: %v", err)
	}
}

func TestLinkConfig(t *testing.T) {
	tests := []struct {
		name    string
		peer    config.PeerConfig
		wantErr error
		check   func(t *testing.T, p config.PeerConfig)
	}{
		{
			name: "network with default port",
			peer: config.PeerConfig{
				Name: "amp", Endpoint: "amp.local", Port: 4000,
				ReconnectInterval: 30,
			},
		},
		{
			name: "serial with structural framing",
			peer: config.PeerConfig{
				Name: "dali", Endpoint: "/dev/ttyUSB0:115200",
				ReconnectInterval: 5,
				Framing:           config.FramingConfig{Mode: "structural", MaxMessageSize: 2048},
			},
		},
		{
			name:    "unsupported baud rate",
			peer:    config.PeerConfig{Name: "dali", Endpoint: "/dev/ttyUSB0:12345"},
			wantErr: transport.ErrUnknownBaudRate,
		},
		{
			name:    "bad endpoint",
			peer:    config.PeerConfig{Name: "amp", Endpoint: "host:notaport"},
			wantErr: transport.ErrInvalidSpec,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc, err := linkConfig(tt.peer)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("linkConfig() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("linkConfig() error = %v", err)
			}
			if lc.Name != tt.peer.Name {
				t.Errorf("Name = %q, want %q", lc.Name, tt.peer.Name)
			}
			if lc.ReconnectInterval != tt.peer.GetReconnectInterval() {
				t.Errorf("ReconnectInterval = %v", lc.ReconnectInterval)
			}
		})
	}

	lc, err := linkConfig(config.PeerConfig{
		Name: "dali", Endpoint: "/dev/ttyUSB0:115200",
		Framing: config.FramingConfig{Mode: "structural"},
	})
	if err != nil {
		t.Fatalf("linkConfig() error = %v", err)
	}
	if !lc.Endpoint.IsSerial() || lc.Endpoint.BaudRate != 115200 {
		t.Errorf("Endpoint = %+v", lc.Endpoint)
	}
	if lc.Framing.Mode != framing.ModeStructural {
		t.Errorf("Framing.Mode = %v, want structural", lc.Framing.Mode)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("BRIDGED_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("BRIDGED_CONFIG", "/etc/bridged.yaml")
	if got := getConfigPath(); got != "/etc/bridged.yaml" {
		t.Errorf("getConfigPath() = %q, want /etc/bridged.yaml", got)
	}
}

func TestHealthCheck_NothingEnabled(t *testing.T) {
	if err := healthCheck(context.Background(), nil, nil, nil); err != nil {
		t.Errorf("healthCheck() error = %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}
