// Package shutdown runs cleanup hooks in order when the process is asked
// to stop.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/logging"
)

// Func performs cleanup for one component
type Func func(context.Context) error

// Config holds shutdown manager configuration
type Config struct {
	Timeout time.Duration
	Logger  *logging.Logger
}

type hook struct {
	name string
	fn   Func
}

// Manager runs registered hooks one after another, in registration order,
// under a shared deadline. Register producers before the stages they feed.
type Manager struct {
	logger  *logging.Logger
	timeout time.Duration

	mu    sync.Mutex
	hooks []hook

	startCh   chan struct{}
	startOnce sync.Once
	doneCh    chan struct{}
	err       error
}

// New creates a new shutdown manager
func New(cfg Config) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	return &Manager{
		logger:  cfg.Logger.WithComponent("shutdown"),
		timeout: cfg.Timeout,
		startCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Register adds a hook. Hooks registered after shutdown started are ignored.
func (m *Manager) Register(name string, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks = append(m.hooks, hook{name: name, fn: fn})
	m.logger.Debug().Str("hook", name).Msg("Registered shutdown hook")
}

// RegisterCloser adds a hook for a component that stops without a context
func (m *Manager) RegisterCloser(name string, stop func() error) {
	m.Register(name, func(context.Context) error { return stop() })
}

// Wait blocks until a signal arrives, ctx is done or Shutdown is called,
// then returns the result of the shutdown
func (m *Manager) Wait(ctx context.Context, signals ...os.Signal) error {
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		m.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-ctx.Done():
		m.logger.Info().Msg("Context done, shutting down")
	case <-m.startCh:
	}

	return m.Shutdown()
}

// Shutdown runs every hook once. Concurrent and later calls wait for the
// first run and return its result.
func (m *Manager) Shutdown() error {
	m.startOnce.Do(func() {
		close(m.startCh)
		m.err = m.run()
		close(m.doneCh)
	})
	<-m.doneCh
	return m.err
}

func (m *Manager) run() error {
	m.mu.Lock()
	hooks := append([]hook(nil), m.hooks...)
	m.mu.Unlock()

	m.logger.Info().
		Dur("timeout", m.timeout).
		Int("hooks", len(hooks)).
		Msg("Starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errs []error
	for _, h := range hooks {
		start := time.Now()
		// Later hooks still run after the deadline so files get closed
		if err := h.fn(ctx); err != nil {
			m.logger.Error().Err(err).Str("hook", h.name).Msg("Shutdown hook failed")
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		m.logger.Debug().Str("hook", h.name).Dur("took", time.Since(start)).Msg("Shutdown hook completed")
	}

	if ctx.Err() != nil {
		m.logger.Warn().Dur("timeout", m.timeout).Msg("Graceful shutdown exceeded its deadline")
		errs = append(errs, fmt.Errorf("shutdown exceeded %v", m.timeout))
	}

	if len(errs) > 0 {
		m.logger.Warn().Int("errors", len(errs)).Msg("Graceful shutdown completed with errors")
		return errors.Join(errs...)
	}

	m.logger.Info().Msg("Graceful shutdown completed")
	return nil
}

// Started is closed once shutdown begins
func (m *Manager) Started() <-chan struct{} {
	return m.startCh
}

// Done is closed once every hook has run
func (m *Manager) Done() <-chan struct{} {
	return m.doneCh
}
