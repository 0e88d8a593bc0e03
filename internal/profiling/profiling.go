// Package profiling serves pprof and a runtime snapshot of the pipeline on
// a separate debug address.
package profiling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	runtimepprof "runtime/pprof"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/logging"
)

const goroutineCheckInterval = 30 * time.Second

// Config holds profiling configuration
type Config struct {
	Enabled            bool   `yaml:"enabled"`
	Address            string `yaml:"address,omitempty"`
	CPUProfilePath     string `yaml:"cpu_profile,omitempty"`
	MemProfilePath     string `yaml:"mem_profile,omitempty"` // Written on Stop
	BlockProfile       bool   `yaml:"block_profile,omitempty"`
	MutexProfile       bool   `yaml:"mutex_profile,omitempty"`
	GoroutineThreshold int    `yaml:"goroutine_threshold,omitempty"`
}

// StatsFunc reports component statistics for /debug/stats
type StatsFunc func() interface{}

// Profiler owns the debug server and any profile files being written
type Profiler struct {
	config Config
	stats  StatsFunc
	logger *logging.Logger

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	cpuFile  *os.File
	cancel   context.CancelFunc
	started  bool
}

// Snapshot is the /debug/stats response
type Snapshot struct {
	Goroutines     int         `json:"goroutines"`
	HeapAllocBytes uint64      `json:"heap_alloc_bytes"`
	HeapObjects    uint64      `json:"heap_objects"`
	SysBytes       uint64      `json:"sys_bytes"`
	NumGC          uint32      `json:"num_gc"`
	LastGCPause    string      `json:"last_gc_pause,omitempty"`
	Pipeline       interface{} `json:"pipeline,omitempty"`
}

// New creates a profiler. stats may be nil.
func New(cfg Config, stats StatsFunc, logger *logging.Logger) *Profiler {
	if cfg.Address == "" {
		cfg.Address = "localhost:6060"
	}
	if cfg.GoroutineThreshold <= 0 {
		cfg.GoroutineThreshold = 10000
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Profiler{
		config: cfg,
		stats:  stats,
		logger: logger.WithComponent("profiling"),
	}
}

// Handler returns the pprof and stats routes
func (p *Profiler) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.HandleFunc("/debug/stats", p.statsHandler)
	return mux
}

// Start enables the configured profiles and serves the debug routes.
// It does nothing when profiling is disabled.
func (p *Profiler) Start() error {
	if !p.config.Enabled {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	if p.config.BlockProfile {
		runtime.SetBlockProfileRate(1)
	}
	if p.config.MutexProfile {
		runtime.SetMutexProfileFraction(1)
	}

	if p.config.CPUProfilePath != "" {
		f, err := os.Create(p.config.CPUProfilePath)
		if err != nil {
			return fmt.Errorf("failed to create CPU profile: %w", err)
		}
		if err := runtimepprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
		p.cpuFile = f
	}

	ln, err := net.Listen("tcp", p.config.Address)
	if err != nil {
		p.stopCPUProfile()
		return fmt.Errorf("failed to listen on %s: %w", p.config.Address, err)
	}
	p.listener = ln
	p.server = &http.Server{Handler: p.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error().Err(err).Msg("Profiling server error")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.monitorGoroutines(ctx, goroutineCheckInterval)

	p.started = true
	p.logger.Info().Str("address", ln.Addr().String()).Msg("Profiling started")
	return nil
}

// Addr returns the debug server address once started
func (p *Profiler) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop shuts the debug server down and writes any pending profiles
func (p *Profiler) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}
	p.started = false
	p.cancel()
	p.stopCPUProfile()

	var errs []error
	if p.config.MemProfilePath != "" {
		if err := p.writeMemProfile(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down profiling server: %w", err))
	}
	return errors.Join(errs...)
}

func (p *Profiler) stopCPUProfile() {
	if p.cpuFile == nil {
		return
	}
	runtimepprof.StopCPUProfile()
	p.cpuFile.Close()
	p.logger.Info().Str("path", p.config.CPUProfilePath).Msg("CPU profile saved")
	p.cpuFile = nil
}

func (p *Profiler) writeMemProfile() error {
	f, err := os.Create(p.config.MemProfilePath)
	if err != nil {
		return fmt.Errorf("failed to create memory profile: %w", err)
	}
	defer f.Close()

	runtime.GC()
	if err := runtimepprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write memory profile: %w", err)
	}
	p.logger.Info().Str("path", p.config.MemProfilePath).Msg("Memory profile saved")
	return nil
}

func (p *Profiler) monitorGoroutines(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkGoroutines()
		}
	}
}

// checkGoroutines reports whether the goroutine count is over threshold
func (p *Profiler) checkGoroutines() bool {
	count := runtime.NumGoroutine()
	if count > p.config.GoroutineThreshold {
		p.logger.Warn().
			Int("goroutines", count).
			Int("threshold", p.config.GoroutineThreshold).
			Msg("High goroutine count detected")
		return true
	}
	return false
}

// TakeSnapshot reads runtime statistics and the pipeline stats
func (p *Profiler) TakeSnapshot() Snapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	s := Snapshot{
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: m.HeapAlloc,
		HeapObjects:    m.HeapObjects,
		SysBytes:       m.Sys,
		NumGC:          m.NumGC,
	}
	if m.NumGC > 0 {
		s.LastGCPause = time.Duration(m.PauseNs[(m.NumGC+255)%256]).String()
	}
	if p.stats != nil {
		s.Pipeline = p.stats()
	}
	return s
}

func (p *Profiler) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p.TakeSnapshot())
}
