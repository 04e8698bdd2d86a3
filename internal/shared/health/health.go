// Package health provides health check utilities for the service.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusUp indicates the component is healthy.
	StatusUp Status = "up"
	// StatusDown indicates the component is unhealthy.
	StatusDown Status = "down"
	// StatusDegraded indicates the component is partially healthy.
	StatusDegraded Status = "degraded"
)

// Check represents a health check function.
type Check func(ctx context.Context) ComponentHealth

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Latency time.Duration  `json:"latency_ms"`
}

// Response represents the overall health response.
type Response struct {
	Status     Status                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// Checker runs registered health checks.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	version string
	timeout time.Duration
}

// Option is a functional option for configuring the Checker.
type Option func(*Checker)

// WithVersion sets the service version.
func WithVersion(version string) Option {
	return func(c *Checker) {
		c.version = version
	}
}

// WithTimeout sets the timeout for individual health checks.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Checker) {
		c.timeout = timeout
	}
}

// NewChecker creates a new health checker.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		checks:  make(map[string]Check),
		timeout: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Register adds a health check for a component.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Check runs all health checks concurrently and returns the overall health.
func (c *Checker) Check(ctx context.Context) Response {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	response := Response{
		Status:     StatusUp,
		Timestamp:  time.Now().UTC(),
		Version:    c.version,
		Components: make(map[string]ComponentHealth, len(checks)),
	}

	type result struct {
		name   string
		health ComponentHealth
	}

	var wg sync.WaitGroup
	results := make(chan result, len(checks))

	for name, check := range checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			h := check(checkCtx)
			h.Latency = time.Since(start)

			results <- result{name, h}
		}(name, check)
	}

	wg.Wait()
	close(results)

	for r := range results {
		response.Components[r.name] = r.health

		switch r.health.Status {
		case StatusDown:
			response.Status = StatusDown
		case StatusDegraded:
			if response.Status != StatusDown {
				response.Status = StatusDegraded
			}
		}
	}

	return response
}

// Handler returns an http.Handler serving liveness and readiness.
//
//	/health, /health/ready  run all checks; 503 when any is down
//	/health/live            always 200 while the process serves requests
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health/live":
			c.handleLiveness(w)
		case "/health/ready":
			c.handleHealth(r.Context(), w, true)
		default:
			c.handleHealth(r.Context(), w, false)
		}
	})
}

func (c *Checker) handleHealth(ctx context.Context, w http.ResponseWriter, detailed bool) {
	response := c.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if response.Status == StatusDown {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if !detailed {
		response.Components = nil
	}

	_ = json.NewEncoder(w).Encode(response)
}

func (c *Checker) handleLiveness(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	_ = json.NewEncoder(w).Encode(Response{
		Status:    StatusUp,
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	})
}

// ConfiguredCheck reports down when any of the named settings is empty.
// Values are never included in the response, only the names of missing keys.
func ConfiguredCheck(settings map[string]string) Check {
	return func(_ context.Context) ComponentHealth {
		var missing []string
		for name, value := range settings {
			if value == "" {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return ComponentHealth{
				Status:  StatusDown,
				Message: "required settings missing",
				Details: map[string]any{"missing": missing},
			}
		}
		return ComponentHealth{Status: StatusUp, Message: "configured"}
	}
}

// MemoryCheck reports degraded when heap allocation exceeds maxBytes.
func MemoryCheck(maxBytes uint64) Check {
	return func(_ context.Context) ComponentHealth {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		if m.Alloc > maxBytes {
			return ComponentHealth{
				Status:  StatusDegraded,
				Message: "high memory usage",
				Details: map[string]any{
					"allocated_bytes": m.Alloc,
					"max_bytes":       maxBytes,
				},
			}
		}
		return ComponentHealth{
			Status:  StatusUp,
			Message: "memory usage normal",
			Details: map[string]any{"allocated_bytes": m.Alloc},
		}
	}
}

