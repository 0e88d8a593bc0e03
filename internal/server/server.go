// Package server exposes the resolver over HTTP next to the metrics and
// health endpoints.
package server

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/health"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/logging"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/metrics"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/resolver"
	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
	"golang.org/x/time/rate"
)

const (
	ResolvePath = "/v1/resolve"

	inputName = "http"

	defaultMaxBodySize  = 10 * 1024 * 1024
	defaultMaxBatchSize = 1000
	limiterIdleTimeout  = 5 * time.Minute
)

// Resolver is the part of resolver.Resolver the server needs
type Resolver interface {
	Resolve(msg types.RawMessage) resolver.Result
}

// Config holds server configuration
type Config struct {
	Address      string
	APIKeys      []string
	RateLimit    int // Requests per second per client, 0 disables
	MaxBodySize  int64
	MaxBatchSize int
	TLSCert      string
	TLSKey       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MetricsPath  string

	// Resolver serves ResolvePath when set
	Resolver        Resolver
	MetricsRegistry *prometheus.Registry
	Metrics         *metrics.Collector // Optional
	HealthChecker   *health.Checker
	Logger          *logging.Logger
}

// Server serves the resolve API, metrics and health checks
type Server struct {
	config Config
	logger *logging.Logger
	server *http.Server

	limitersMu sync.Mutex
	limiters   map[string]*clientLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
	stopErr  error
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// resolveRequest is one message to resolve. A null or missing message
// resolves to an empty string.
type resolveRequest struct {
	Message *string `json:"message"`
	Logger  string  `json:"logger"`
}

type resolveResponse struct {
	Message types.Value      `json:"message"`
	Outcome resolver.Outcome `json:"outcome"`
}

type batchResponse struct {
	Results []resolveResponse `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New creates a new server
func New(cfg Config) *Server {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	s := &Server{
		config:   cfg,
		logger:   cfg.Logger.WithComponent("server"),
		limiters: make(map[string]*clientLimiter),
		stopCh:   make(chan struct{}),
	}

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Handler returns the routed handler with auth and rate limiting applied
// to the resolve API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.config.Resolver != nil {
		mux.Handle(ResolvePath, s.authMiddleware(s.rateLimitMiddleware(http.HandlerFunc(s.handleResolve))))
	}

	if s.config.MetricsRegistry != nil {
		mux.Handle(s.config.MetricsPath, promhttp.HandlerFor(
			s.config.MetricsRegistry,
			promhttp.HandlerOpts{EnableOpenMetrics: true},
		))
	}

	checker := s.config.HealthChecker
	if checker == nil {
		checker = health.NewChecker(0)
	}
	mux.HandleFunc("/health", checker.HTTPHandler())
	mux.HandleFunc("/health/live", checker.LivenessHandler())
	mux.HandleFunc("/health/ready", checker.ReadinessHandler())

	return mux
}

// Start listens in the background. It returns an error only when the
// listener fails straight away.
func (s *Server) Start() error {
	s.logger.Info().
		Str("address", s.config.Address).
		Bool("resolve_api", s.config.Resolver != nil).
		Msg("Starting HTTP server")

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.TLSCert != "" {
			err = s.server.ListenAndServeTLS(s.config.TLSCert, s.config.TLSKey)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if s.config.RateLimit > 0 {
		go s.sweepLimiters()
	}

	// Wait a bit to see if there are any immediate startup errors
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts down the server. Later calls return the first
// call's result.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stopCh)

		s.logger.Info().Msg("Shutting down HTTP server")
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
			s.stopErr = err
		}
	})
	return s.stopErr
}

// authMiddleware checks API key authentication
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.config.APIKeys) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}

		valid := false
		for _, key := range s.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				valid = true
				break
			}
		}

		if !valid {
			s.logger.Warn().Str("remote_addr", r.RemoteAddr).Msg("Authentication failed")
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies a token bucket per client IP
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.RateLimit > 0 && !s.limiterFor(clientIP(r)).Allow() {
			if s.config.Metrics != nil {
				s.config.Metrics.InputRateLimited.WithLabelValues(inputName, inputName).Inc()
			}
			s.logger.Warn().Str("remote_addr", r.RemoteAddr).Msg("Rate limit exceeded")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many requests"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleResolve resolves one request object or a JSON array of them
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to read request body")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
		return
	}

	if s.config.Metrics != nil {
		s.config.Metrics.InputBytesReceived.WithLabelValues(inputName, inputName).Add(float64(len(body)))
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var reqs []resolveRequest
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid batch: " + err.Error()})
			return
		}
		if len(reqs) > s.config.MaxBatchSize {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error: fmt.Sprintf("batch of %d exceeds limit of %d", len(reqs), s.config.MaxBatchSize),
			})
			return
		}

		resp := batchResponse{Results: make([]resolveResponse, len(reqs))}
		for i, req := range reqs {
			resp.Results[i] = s.resolve(req)
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	var req resolveRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.resolve(req))
}

func (s *Server) resolve(req resolveRequest) resolveResponse {
	msg := types.RawMessage{Component: req.Logger}
	if req.Message != nil {
		msg.Message = *req.Message
	}

	start := time.Now()
	res := s.config.Resolver.Resolve(msg)

	if s.config.Metrics != nil {
		s.config.Metrics.InputEventsReceived.WithLabelValues(inputName, inputName).Inc()
		s.config.Metrics.ObserveResolve(string(res.Outcome), time.Since(start))
	}

	return resolveResponse{Message: res.Value, Outcome: res.Outcome}
}

// limiterFor gets or creates the limiter for a client
func (s *Server) limiterFor(client string) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	cl, ok := s.limiters[client]
	if !ok {
		cl = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(s.config.RateLimit), s.config.RateLimit*2),
		}
		s.limiters[client] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter
}

// sweepLimiters drops limiters of clients idle for limiterIdleTimeout
func (s *Server) sweepLimiters() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.removeIdleLimiters(now.Add(-limiterIdleTimeout))
		case <-s.stopCh:
			return
		}
	}
}

func (s *Server) removeIdleLimiters(cutoff time.Time) {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	for client, cl := range s.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(s.limiters, client)
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(body)
}
