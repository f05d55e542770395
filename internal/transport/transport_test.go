package transport

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-bridged/internal/reactor"
)

func newReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	r, err := reactor.New(reactor.WithCycleInterval(5 * time.Millisecond))
	if err != nil {
		t.Fatalf("reactor.New() error = %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

// cycleUntil runs reactor cycles until cond holds or the deadline passes.
func cycleUntil(t *testing.T, r *reactor.Reactor, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		if err := r.RunCycle(); err != nil {
			t.Fatalf("RunCycle() error = %v", err)
		}
	}
}

func listen(t *testing.T) (net.Listener, uint16) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln, uint16(ln.Addr().(*net.TCPAddr).Port)
}

func TestParseSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    Endpoint
		wantErr bool
	}{
		{name: "serial with baud", spec: "/dev/ttyUSB0:115200", want: Endpoint{Path: "/dev/ttyUSB0", BaudRate: 115200}},
		{name: "serial default baud", spec: "/dev/ttyS1", want: Endpoint{Path: "/dev/ttyS1", BaudRate: 9600}},
		{name: "host and port", spec: "vox.local:2101", want: Endpoint{Path: "vox.local", Port: 2101}},
		{name: "host default port", spec: "vox.local", want: Endpoint{Path: "vox.local", Port: 8000}},
		{name: "ipv6 with port", spec: "[::1]:2101", want: Endpoint{Path: "::1", Port: 2101}},
		{name: "ipv6 bare", spec: "::1", want: Endpoint{Path: "::1", Port: 8000}},
		{name: "empty", spec: "  ", wantErr: true},
		{name: "bad baud", spec: "/dev/ttyS1:fast", wantErr: true},
		{name: "bad port", spec: "host:99999", wantErr: true},
		{name: "missing host", spec: ":2101", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSpec(tt.spec, 8000, 9600)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSpec) {
					t.Fatalf("ParseSpec(%q) error = %v, want ErrInvalidSpec", tt.spec, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSpec(%q) error = %v", tt.spec, err)
			}
			if got != tt.want {
				t.Errorf("ParseSpec(%q) = %+v, want %+v", tt.spec, got, tt.want)
			}
		})
	}
}

func TestEndpoint_IsSerial(t *testing.T) {
	if !(Endpoint{Path: "/dev/ttyUSB0"}).IsSerial() {
		t.Error("IsSerial() = false for /dev path")
	}
	if (Endpoint{Path: "localhost"}).IsSerial() {
		t.Error("IsSerial() = true for host name")
	}
}

func TestValidBaudRate(t *testing.T) {
	for _, rate := range SupportedBaudRates {
		if !ValidBaudRate(rate) {
			t.Errorf("ValidBaudRate(%d) = false", rate)
		}
	}
	for _, rate := range []int{0, 14400, 460800, -9600} {
		if ValidBaudRate(rate) {
			t.Errorf("ValidBaudRate(%d) = true", rate)
		}
	}
}

func TestOpen_Errors(t *testing.T) {
	ln, port := listen(t)
	ln.Close() // nothing listens on port any more

	tests := []struct {
		name string
		path string
		port uint16
		baud int
		want error
	}{
		{name: "no endpoint", want: ErrNoEndpoint},
		{name: "unknown baud rate", path: "/dev/null", baud: 12345, want: ErrUnknownBaudRate},
		{name: "missing serial device", path: "/dev/does-not-exist-bridged", baud: 9600, want: ErrSerialOpen},
		{name: "connection refused", path: "127.0.0.1", port: port, want: ErrSocketOpen},
		{name: "unresolvable host", path: "no-such-host.invalid", port: 1, want: ErrHostResolution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newReactor(t)
			c := NewComm(r, Config{ResolveTimeout: 2 * time.Second}, nil)

			var statusErr error
			c.SetConnectionStatusHandler(func(err error) { statusErr = err })
			if tt.path != "" {
				c.Configure(tt.path, tt.port, tt.baud)
			}

			err := c.Open()
			if !errors.Is(err, tt.want) {
				t.Fatalf("Open() error = %v, want %v", err, tt.want)
			}
			if c.State() != StateClosed {
				t.Errorf("State() = %v, want closed", c.State())
			}
			if tt.want != ErrNoEndpoint && !errors.Is(statusErr, tt.want) {
				t.Errorf("status handler error = %v, want %v", statusErr, tt.want)
			}
		})
	}
}

func TestSend_NotOpen(t *testing.T) {
	c := NewComm(newReactor(t), Config{}, nil)
	if _, err := c.Send([]byte("x")); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Send() error = %v, want ErrNotOpen", err)
	}
}

func TestNetwork_RoundTripAndHangUp(t *testing.T) {
	ln, port := listen(t)
	r := newReactor(t)
	c := NewComm(r, Config{ReadBufferSize: 8}, nil)

	var statuses []error
	c.SetConnectionStatusHandler(func(err error) { statuses = append(statuses, err) })
	var closedReason error
	c.OnClosed(func(reason error) { closedReason = reason })
	var received []byte
	c.OnReceive(func(data []byte) { received = append(received, data...) })

	c.Configure("127.0.0.1", port, 0)
	if err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if c.State() != StateOpen {
		t.Fatalf("State() = %v, want open", c.State())
	}
	if len(statuses) != 1 || statuses[0] != nil {
		t.Fatalf("statuses = %v, want [nil]", statuses)
	}

	peer, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	defer peer.Close()

	// Larger than the read buffer, so several reads are needed.
	msg := []byte(`{"jsonrpc":"2.0","method":"ping"}`)
	if _, err := peer.Write(msg); err != nil {
		t.Fatalf("peer Write() error = %v", err)
	}
	cycleUntil(t, r, func() bool { return len(received) == len(msg) })
	if string(received) != string(msg) {
		t.Errorf("received %q, want %q", received, msg)
	}

	if n, err := c.Send([]byte("pong\n")); err != nil || n != 5 {
		t.Fatalf("Send() = %d, %v", n, err)
	}
	buf := make([]byte, 16)
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := peer.Read(buf)
	if err != nil || string(buf[:n]) != "pong\n" {
		t.Fatalf("peer Read() = %q, %v", buf[:n], err)
	}

	peer.Close()
	cycleUntil(t, r, func() bool { return c.State() == StateClosed })

	if !errors.Is(closedReason, ErrHungUp) {
		t.Errorf("close hook reason = %v, want ErrHungUp", closedReason)
	}
	if len(statuses) != 2 || !errors.Is(statuses[1], ErrHungUp) {
		t.Errorf("statuses = %v, want [nil ErrHungUp]", statuses)
	}
	if err := c.TakeUnhandledError(); !errors.Is(err, ErrHungUp) {
		t.Errorf("TakeUnhandledError() = %v, want ErrHungUp", err)
	}
	if err := c.TakeUnhandledError(); err != nil {
		t.Errorf("second TakeUnhandledError() = %v, want nil", err)
	}

	st := c.Stats()
	if st.BytesReceived != uint64(len(msg)) || st.BytesSent != 5 || st.Opens != 1 || st.ConnectionErrors != 1 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestClose_FiresHooksOnce(t *testing.T) {
	ln, port := listen(t)
	r := newReactor(t)
	c := NewComm(r, Config{}, nil)

	closes := 0
	var reason error
	c.OnClosed(func(err error) { closes++; reason = err })

	c.Configure("127.0.0.1", port, 0)
	if err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	peer, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	defer peer.Close()

	c.Close()
	c.Close()

	if closes != 1 {
		t.Errorf("close hooks ran %d times, want 1", closes)
	}
	if !errors.Is(reason, ErrClosed) {
		t.Errorf("close reason = %v, want ErrClosed", reason)
	}
	if c.State() != StateClosed {
		t.Errorf("State() = %v, want closed", c.State())
	}
}

func TestConfigure_ClosesExisting(t *testing.T) {
	ln, port := listen(t)
	r := newReactor(t)
	c := NewComm(r, Config{}, nil)

	c.Configure("127.0.0.1", port, 0)
	if err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	peer, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	defer peer.Close()

	c.Configure("/dev/ttyUSB9", 0, 115200)
	if c.State() != StateClosed {
		t.Errorf("State() after Configure = %v, want closed", c.State())
	}
	if got := c.Endpoint(); got.Path != "/dev/ttyUSB9" || got.BaudRate != 115200 {
		t.Errorf("Endpoint() = %+v", got)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateClosed:  "closed",
		StateOpening: "opening",
		StateOpen:    "open",
		StateError:   "error",
		State(42):    "State(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
