package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status      Status                 `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// HealthCheck represents a health check function
type HealthCheck func(ctx context.Context) ComponentHealth

// Checker runs the registered component checks
type Checker struct {
	mu         sync.RWMutex
	components map[string]HealthCheck
	timeout    time.Duration
}

// NewChecker creates a new health checker
func NewChecker(timeout time.Duration) *Checker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Checker{
		components: make(map[string]HealthCheck),
		timeout:    timeout,
	}
}

// Register registers a health check for a component
func (c *Checker) Register(name string, check HealthCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[name] = check
}

// Check runs all health checks concurrently
func (c *Checker) Check(ctx context.Context) map[string]ComponentHealth {
	c.mu.RLock()
	components := make(map[string]HealthCheck, len(c.components))
	for k, v := range c.components {
		components[k] = v
	}
	c.mu.RUnlock()

	var (
		resultsMu sync.Mutex
		results   = make(map[string]ComponentHealth, len(components))
		wg        sync.WaitGroup
	)

	for name, check := range components {
		wg.Add(1)
		go func(n string, chk HealthCheck) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			result := chk(checkCtx)
			result.LastChecked = time.Now()

			resultsMu.Lock()
			results[n] = result
			resultsMu.Unlock()
		}(name, check)
	}

	wg.Wait()
	return results
}

// Overall folds component results into one status: any unhealthy component
// makes the whole unhealthy, otherwise any degraded one makes it degraded
func Overall(results map[string]ComponentHealth) Status {
	overall := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// HealthResponse represents the HTTP response for health checks
type HealthResponse struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// HTTPHandler reports every component. Degraded still answers 200.
func (c *Checker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := c.Check(r.Context())
		response := HealthResponse{
			Status:     Overall(results),
			Components: results,
			Timestamp:  time.Now(),
		}

		writeJSON(w, statusCode(response.Status), response)
	}
}

// LivenessHandler returns a simple liveness probe handler
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadinessHandler returns a readiness probe handler
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := Overall(c.Check(r.Context()))
		writeJSON(w, statusCode(status), map[string]interface{}{
			"status":    status,
			"timestamp": time.Now(),
		})
	}
}

func statusCode(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// AlwaysHealthy returns a health check that always reports healthy
func AlwaysHealthy() HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		return ComponentHealth{
			Status:  StatusHealthy,
			Message: "Component is healthy",
		}
	}
}

// QueueCheck reports degraded once usage() is above threshold (0-1) of
// capacity, and unhealthy when the queue is full
func QueueCheck(usage func() (used, capacity int), threshold float64) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		used, capacity := usage()
		meta := map[string]interface{}{"used": used, "capacity": capacity}

		if capacity <= 0 {
			return ComponentHealth{Status: StatusHealthy, Metadata: meta}
		}

		ratio := float64(used) / float64(capacity)
		switch {
		case used >= capacity:
			return ComponentHealth{Status: StatusUnhealthy, Message: "queue is full", Metadata: meta}
		case ratio > threshold:
			return ComponentHealth{
				Status:   StatusDegraded,
				Message:  fmt.Sprintf("queue is %.0f%% full", ratio*100),
				Metadata: meta,
			}
		default:
			return ComponentHealth{Status: StatusHealthy, Metadata: meta}
		}
	}
}

// LastErrorCheck reports degraded while the most recent send failed
func LastErrorCheck(last func() (lastSuccess, lastFailure time.Time, lastErr string)) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		success, failure, msg := last()
		if !failure.IsZero() && failure.After(success) {
			return ComponentHealth{
				Status:   StatusDegraded,
				Message:  msg,
				Metadata: map[string]interface{}{"last_failure": failure},
			}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}
