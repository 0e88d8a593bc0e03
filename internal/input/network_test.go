package input

import (
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/logging"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/metrics"
)

func startNetworkInput(t *testing.T, cfg NetworkConfig, m *metrics.Collector) *NetworkInput {
	t.Helper()

	logger := logging.New(logging.Config{Level: "debug", Format: "json"})
	in, err := NewNetworkInput("test-net", cfg, logger, m)
	if err != nil {
		t.Fatalf("failed to create network input: %v", err)
	}
	if err := in.Start(); err != nil {
		t.Fatalf("failed to start network input: %v", err)
	}
	t.Cleanup(func() { in.Stop() })
	return in
}

func TestNewNetworkInput(t *testing.T) {
	tests := []struct {
		name     string
		cfg      NetworkConfig
		wantErr  bool
		wantType string
	}{
		{name: "default protocol", cfg: NetworkConfig{Address: "127.0.0.1:0"}, wantType: "udp"},
		{name: "tcp", cfg: NetworkConfig{Protocol: "tcp", Address: "127.0.0.1:0"}, wantType: "tcp"},
		{name: "both", cfg: NetworkConfig{Protocol: "both", Address: "127.0.0.1:0"}, wantType: "both"},
		{name: "missing address", cfg: NetworkConfig{Protocol: "tcp"}, wantErr: true},
		{name: "unknown protocol", cfg: NetworkConfig{Protocol: "sctp", Address: "127.0.0.1:0"}, wantErr: true},
		{name: "tls over udp", cfg: NetworkConfig{Protocol: "udp", Address: "127.0.0.1:0", TLSEnabled: true}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := NewNetworkInput("test-net", tt.cfg, nil, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewNetworkInput() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && in.Type() != tt.wantType {
				t.Errorf("expected type %q, got %q", tt.wantType, in.Type())
			}
		})
	}
}

func TestNetworkInputTCP(t *testing.T) {
	in := startNetworkInput(t, NetworkConfig{Protocol: "tcp", Address: "127.0.0.1:0", BufferSize: 100}, nil)

	conn, err := net.Dial("tcp", in.TCPAddr().String())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("{\"status\":\"ok\"}\r\n\nsecond line\n")); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	want := []string{`{"status":"ok"}`, "second line"}
	for i, w := range want {
		select {
		case line := <-in.Lines():
			if line.Text != w {
				t.Errorf("line %d: expected %q, got %q", i, w, line.Text)
			}
			if line.Source != conn.LocalAddr().String() {
				t.Errorf("line %d: expected source %q, got %q", i, conn.LocalAddr(), line.Source)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for line %d", i)
		}
	}
}

func TestNetworkInputTLSMissingCert(t *testing.T) {
	in, err := NewNetworkInput("test-net", NetworkConfig{
		Protocol:   "tcp",
		Address:    "127.0.0.1:0",
		TLSEnabled: true,
		TLSCert:    "/nonexistent/cert.pem",
		TLSKey:     "/nonexistent/key.pem",
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewNetworkInput() error = %v", err)
	}

	if err := in.Start(); err == nil {
		in.Stop()
		t.Fatal("expected Start to fail without a certificate")
	}
}

func TestNetworkInputUDP(t *testing.T) {
	in := startNetworkInput(t, NetworkConfig{Protocol: "udp", Address: "127.0.0.1:0", BufferSize: 100}, nil)

	conn, err := net.Dial("udp", in.UDPAddr().String())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("a\nb\n")); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	for _, w := range []string{"a", "b"} {
		select {
		case line := <-in.Lines():
			if line.Text != w {
				t.Errorf("expected %q, got %q", w, line.Text)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %q", w)
		}
	}
}

func TestNetworkInputRateLimit(t *testing.T) {
	m := metrics.NewCollector()
	in := startNetworkInput(t, NetworkConfig{Protocol: "tcp", Address: "127.0.0.1:0", RateLimit: 2, BufferSize: 100}, m)

	conn, err := net.Dial("tcp", in.TCPAddr().String())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 10; i++ {
		if _, err := conn.Write([]byte("message\n")); err != nil {
			t.Fatalf("failed to write: %v", err)
		}
	}

	received := 0
	timeout := time.After(500 * time.Millisecond)
loop:
	for {
		select {
		case <-in.Lines():
			received++
		case <-timeout:
			break loop
		}
	}

	if received >= 10 {
		t.Errorf("expected fewer than 10 lines due to rate limiting, got %d", received)
	}
	if got := testutil.ToFloat64(m.InputRateLimited.WithLabelValues("test-net", "tcp")); got == 0 {
		t.Error("expected rate limited counter to be incremented")
	}

	if removed := in.removeIdleLimiters(time.Now().Add(time.Minute)); removed != 1 {
		t.Errorf("expected 1 idle limiter removed, got %d", removed)
	}
}

func TestNetworkInputStop(t *testing.T) {
	logger := logging.New(logging.Config{Level: "debug", Format: "json"})
	in, err := NewNetworkInput("test-net", NetworkConfig{Protocol: "both", Address: "127.0.0.1:0"}, logger, nil)
	if err != nil {
		t.Fatalf("failed to create network input: %v", err)
	}
	if err := in.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	// An idle connection must not block shutdown
	conn, err := net.Dial("tcp", in.TCPAddr().String())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		in.Stop()
		in.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	if _, ok := <-in.Lines(); ok {
		t.Error("expected lines channel to be closed")
	}
}
