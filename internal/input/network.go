package input

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/logging"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/metrics"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/security"
	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
	"golang.org/x/time/rate"
)

// limiterIdleTimeout is how long a client limiter survives without traffic
const limiterIdleTimeout = 5 * time.Minute

// NetworkConfig holds configuration for the network line input
type NetworkConfig struct {
	// Protocol can be "tcp", "udp", or "both"
	Protocol string `yaml:"protocol"`
	// Address to bind to (e.g., "0.0.0.0:5170")
	Address string `yaml:"address"`
	// TLS for the TCP listener
	TLSEnabled bool   `yaml:"tls_enabled"`
	TLSCert    string `yaml:"tls_cert,omitempty"`
	TLSKey     string `yaml:"tls_key,omitempty"`
	// TLSCA requires clients to present a certificate signed by it
	TLSCA string `yaml:"tls_ca,omitempty"`
	// Lines per second per client, 0 disables limiting
	RateLimit int `yaml:"rate_limit"`
	// Buffer size for the lines channel
	BufferSize int `yaml:"buffer_size"`
}

// NetworkInput receives newline delimited log lines over TCP and UDP
type NetworkInput struct {
	*BaseInput
	config  NetworkConfig
	logger  *logging.Logger
	metrics *metrics.Collector
	tcpLn   net.Listener
	udpConn *net.UDPConn

	limiters map[string]*clientLimiter
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewNetworkInput creates a new network input. m may be nil.
func NewNetworkInput(name string, cfg NetworkConfig, logger *logging.Logger, m *metrics.Collector) (*NetworkInput, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("network input %s: address is required", name)
	}
	switch cfg.Protocol {
	case "":
		cfg.Protocol = "udp"
	case "tcp", "udp", "both":
	default:
		return nil, fmt.Errorf("network input %s: unknown protocol %q", name, cfg.Protocol)
	}
	if cfg.TLSEnabled && cfg.Protocol == "udp" {
		return nil, fmt.Errorf("network input %s: TLS requires tcp", name)
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 10000
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &NetworkInput{
		BaseInput: NewBaseInput(name, cfg.Protocol, cfg.BufferSize),
		config:    cfg,
		logger:    logger.WithComponent("input-" + name),
		metrics:   m,
		limiters:  make(map[string]*clientLimiter),
	}, nil
}

// Start starts the listeners
func (n *NetworkInput) Start() error {
	protocol := n.config.Protocol

	if protocol == "tcp" || protocol == "both" {
		if err := n.startTCP(); err != nil {
			return fmt.Errorf("failed to start TCP listener: %w", err)
		}
	}

	if protocol == "udp" || protocol == "both" {
		if err := n.startUDP(); err != nil {
			if n.tcpLn != nil {
				n.tcpLn.Close()
			}
			return fmt.Errorf("failed to start UDP listener: %w", err)
		}
	}

	if n.config.RateLimit > 0 {
		n.wg.Add(1)
		go n.sweepLimiters()
	}

	n.logger.Info().
		Str("protocol", protocol).
		Str("address", n.config.Address).
		Msg("Network input started")

	return nil
}

// Stop closes the listeners, waits for connections to finish and closes Lines
func (n *NetworkInput) Stop() error {
	n.stopOnce.Do(func() {
		n.logger.Info().Msg("Stopping network input")
		n.Cancel()

		if n.tcpLn != nil {
			n.tcpLn.Close()
		}
		if n.udpConn != nil {
			n.udpConn.Close()
		}

		n.wg.Wait()
		n.Close()
	})
	return nil
}

// TCPAddr returns the bound TCP address, or nil when TCP is not enabled
func (n *NetworkInput) TCPAddr() net.Addr {
	if n.tcpLn == nil {
		return nil
	}
	return n.tcpLn.Addr()
}

// UDPAddr returns the bound UDP address, or nil when UDP is not enabled
func (n *NetworkInput) UDPAddr() net.Addr {
	if n.udpConn == nil {
		return nil
	}
	return n.udpConn.LocalAddr()
}

func (n *NetworkInput) startTCP() error {
	var ln net.Listener
	var err error

	if n.config.TLSEnabled {
		tlsConfig, err := security.ServerTLS(security.TLSConfig{
			CertFile: n.config.TLSCert,
			KeyFile:  n.config.TLSKey,
			CAFile:   n.config.TLSCA,
		})
		if err != nil {
			return err
		}

		ln, err = tls.Listen("tcp", n.config.Address, tlsConfig)
		if err != nil {
			return err
		}
		n.logger.Info().Bool("client_auth", n.config.TLSCA != "").Msg("TLS enabled for TCP input")
	} else {
		ln, err = net.Listen("tcp", n.config.Address)
		if err != nil {
			return err
		}
	}

	n.tcpLn = ln

	n.wg.Add(1)
	go n.acceptTCP()

	return nil
}

func (n *NetworkInput) acceptTCP() {
	defer n.wg.Done()

	for {
		conn, err := n.tcpLn.Accept()
		if err != nil {
			if n.Context().Err() != nil {
				return
			}
			n.logger.Error().Err(err).Msg("Failed to accept TCP connection")
			continue
		}

		n.wg.Add(1)
		go n.handleTCP(conn)
	}
}

func (n *NetworkInput) handleTCP(conn net.Conn) {
	defer n.wg.Done()
	defer conn.Close()

	// Unblock the scanner on shutdown
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-n.Context().Done():
			conn.Close()
		case <-done:
		}
	}()

	clientAddr := conn.RemoteAddr().String()
	n.logger.Debug().Str("client", clientAddr).Msg("New TCP connection")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), MaxLineSize)
	for scanner.Scan() {
		if !n.receive(scanner.Text(), clientAddr) {
			return
		}
	}

	if err := scanner.Err(); err != nil && n.Context().Err() == nil {
		n.logger.Error().Err(err).Str("client", clientAddr).Msg("Error reading from TCP connection")
	}
}

func (n *NetworkInput) startUDP() error {
	addr, err := net.ResolveUDPAddr("udp", n.config.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}

	n.udpConn = conn

	n.wg.Add(1)
	go n.receiveUDP()

	return nil
}

func (n *NetworkInput) receiveUDP() {
	defer n.wg.Done()

	buf := make([]byte, 65536)

	for {
		size, addr, err := n.udpConn.ReadFromUDP(buf)
		if err != nil {
			if n.Context().Err() != nil {
				return
			}
			n.logger.Error().Err(err).Msg("Error reading from UDP")
			continue
		}

		clientAddr := addr.String()
		// A datagram may carry several lines
		for _, line := range strings.Split(string(buf[:size]), "\n") {
			if !n.receive(line, clientAddr) {
				return
			}
		}
	}
}

// receive applies the client limit and queues the line. It returns false
// once the input is shutting down.
func (n *NetworkInput) receive(text, clientAddr string) bool {
	text = strings.TrimRight(text, "\r")
	if text == "" {
		return true
	}

	if !n.allow(clientAddr) {
		n.logger.Warn().Str("client", clientAddr).Msg("Rate limit exceeded")
		if n.metrics != nil {
			n.metrics.InputRateLimited.WithLabelValues(n.name, n.inputType).Inc()
		}
		return true
	}

	return n.SendLine(types.RawLine{Text: text, Source: clientAddr})
}

func (n *NetworkInput) allow(clientAddr string) bool {
	if n.config.RateLimit <= 0 {
		return true
	}

	n.mu.Lock()
	cl, exists := n.limiters[clientAddr]
	if !exists {
		// RateLimit lines per second, burst of 2x
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(n.config.RateLimit), n.config.RateLimit*2)}
		n.limiters[clientAddr] = cl
	}
	cl.lastSeen = time.Now()
	n.mu.Unlock()

	return cl.limiter.Allow()
}

func (n *NetworkInput) sweepLimiters() {
	defer n.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.removeIdleLimiters(time.Now().Add(-limiterIdleTimeout))
		case <-n.Context().Done():
			return
		}
	}
}

// removeIdleLimiters drops limiters not used since cutoff
func (n *NetworkInput) removeIdleLimiters(cutoff time.Time) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	removed := 0
	for addr, cl := range n.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(n.limiters, addr)
			removed++
		}
	}
	return removed
}
