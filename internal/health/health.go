// Package health aggregates liveness, readiness, and component probes
// for the daemon's HTTP endpoint.
//
// Components register a Check; the Checker runs them in parallel with
// per-component timeouts and panic recovery and aggregates an overall
// status. A failing critical component makes the daemon unhealthy,
// a failing non-critical one only degrades it.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

// Status is the health of one component or of the daemon as a whole.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// DefaultTimeout bounds a single check when the component sets none.
const DefaultTimeout = 5 * time.Second

// CheckResult is the outcome of one probe run.
type CheckResult struct {
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ns"`
	Error       string         `json:"error,omitempty"`
}

// Check probes one component. It must return within the component's
// timeout; the runner abandons it otherwise.
type Check func(ctx context.Context) CheckResult

// Component is one health-checkable part of the daemon.
type Component struct {
	Name     string
	Critical bool
	Check    Check
	Timeout  time.Duration
}

// Checker runs component probes and remembers their last results.
type Checker struct {
	mu         sync.RWMutex
	components map[string]*Component
	results    map[string]CheckResult
	startTime  time.Time
	ready      bool
}

// NewChecker creates an empty checker. The daemon flips readiness on
// once its socket is accepting.
func NewChecker() *Checker {
	return &Checker{
		components: make(map[string]*Component),
		results:    make(map[string]CheckResult),
		startTime:  time.Now(),
	}
}

// Register adds a component. Re-registering a name replaces it.
func (c *Checker) Register(component *Component) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if component.Timeout <= 0 {
		component.Timeout = DefaultTimeout
	}
	c.components[component.Name] = component
	c.results[component.Name] = CheckResult{Status: StatusUnknown}
}

// RegisterFunc adds a component from a bare check function.
func (c *Checker) RegisterFunc(name string, critical bool, check Check) {
	c.Register(&Component{Name: name, Critical: critical, Check: check})
}

// SetReady flips the readiness gate.
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

// IsReady reports the readiness gate.
func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Check runs every registered probe in parallel and returns the fresh
// results, which also become the remembered ones.
func (c *Checker) Check(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	components := make([]*Component, 0, len(c.components))
	for _, comp := range c.components {
		components = append(components, comp)
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(components))
	var (
		wg sync.WaitGroup
		rm sync.Mutex
	)
	for _, comp := range components {
		wg.Add(1)
		go func(comp *Component) {
			defer wg.Done()
			result := runCheck(ctx, comp)
			rm.Lock()
			results[comp.Name] = result
			rm.Unlock()
		}(comp)
	}
	wg.Wait()

	c.mu.Lock()
	for name, result := range results {
		c.results[name] = result
	}
	c.mu.Unlock()
	return results
}

// runCheck executes one probe with its timeout. A probe that panics or
// overruns reports unhealthy; an abandoned probe's late result is
// discarded through the buffered channel.
func runCheck(ctx context.Context, comp *Component) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- CheckResult{
					Status:  StatusUnhealthy,
					Message: "check panicked",
					Error:   fmt.Sprint(r),
				}
			}
		}()
		done <- comp.Check(ctx)
	}()

	var result CheckResult
	select {
	case result = <-done:
	case <-ctx.Done():
		result = CheckResult{
			Status:  StatusUnhealthy,
			Message: "check timed out",
			Error:   ctx.Err().Error(),
		}
	}
	result.LastChecked = start
	result.Duration = time.Since(start)
	return result
}

// Results returns the last known result per component.
func (c *Checker) Results() map[string]CheckResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]CheckResult, len(c.results))
	for name, result := range c.results {
		out[name] = result
	}
	return out
}

// OverallStatus aggregates the remembered results. An unhealthy
// critical component decides immediately; an unchecked critical one
// keeps the whole unknown; anything else wrong degrades.
func (c *Checker) OverallStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hasUnknown := false
	hasDegraded := false
	for name, result := range c.results {
		comp := c.components[name]
		if comp == nil {
			continue
		}
		switch result.Status {
		case StatusUnhealthy:
			if comp.Critical {
				return StatusUnhealthy
			}
			hasDegraded = true
		case StatusDegraded:
			hasDegraded = true
		case StatusUnknown:
			if comp.Critical {
				hasUnknown = true
			}
		}
	}
	if hasUnknown {
		return StatusUnknown
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// Response is the body served by the detailed health endpoint.
type Response struct {
	Status     Status                 `json:"status"`
	Ready      bool                   `json:"ready"`
	Uptime     string                 `json:"uptime"`
	Components map[string]CheckResult `json:"components,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Report assembles the full health response. When fresh is set every
// probe runs first; otherwise remembered results aggregate.
func (c *Checker) Report(ctx context.Context, fresh bool) Response {
	var components map[string]CheckResult
	if fresh {
		components = c.Check(ctx)
	} else {
		components = c.Results()
	}

	c.mu.RLock()
	ready := c.ready
	uptime := time.Since(c.startTime)
	c.mu.RUnlock()

	return Response{
		Status:     c.OverallStatus(),
		Ready:      ready,
		Uptime:     uptime.Round(time.Second).String(),
		Components: components,
		Timestamp:  time.Now(),
	}
}

// LivenessHandler answers whether the process is up at all.
func (c *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "alive",
			"timestamp": time.Now(),
		})
	})
}

// ReadinessHandler answers 200 only once the daemon is accepting work
// and no critical component is down.
func (c *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if !c.IsReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{
				"status":    "not ready",
				"timestamp": time.Now(),
			})
			return
		}

		status := c.OverallStatus()
		if status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":    status,
			"ready":     true,
			"timestamp": time.Now(),
		})
	})
}

// Handler serves the detailed health report. ?full=true re-runs every
// probe instead of serving remembered results.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		response := c.Report(r.Context(), r.URL.Query().Get("full") == "true")
		switch response.Status {
		case StatusHealthy, StatusDegraded:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(response)
	})
}

// BackendCheck probes the platform backend through the daemon's view
// of it. The name is read per probe since a failed preferred backend
// may have been swapped for a fallback.
func BackendCheck(name func() string, running func() bool) Check {
	return func(ctx context.Context) CheckResult {
		details := map[string]any{"backend": name()}
		if !running() {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "backend not running",
				Details: details,
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: "backend running",
			Details: details,
		}
	}
}

// StoreCheck probes the autofill store with a counting query.
func StoreCheck(count func() (int64, error)) Check {
	return func(ctx context.Context) CheckResult {
		n, err := count()
		if err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "autofill store query failed",
				Error:   err.Error(),
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: "autofill store ok",
			Details: map[string]any{"entries": n},
		}
	}
}

// SocketCheck verifies the daemon's listening socket still exists on
// disk and is in fact a socket.
func SocketCheck(path string) Check {
	return func(ctx context.Context) CheckResult {
		details := map[string]any{"path": path}
		info, err := os.Stat(path)
		if err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "socket missing",
				Details: details,
				Error:   err.Error(),
			}
		}
		if info.Mode()&os.ModeSocket == 0 {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "path is not a socket",
				Details: details,
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: "socket present",
			Details: details,
		}
	}
}

// DiskSpaceCheck degrades when the filesystem holding path runs low.
// The store keeps working until the disk is actually full, so this is
// a warning, not an outage.
func DiskSpaceCheck(path string, minFreeBytes uint64) Check {
	return func(ctx context.Context) CheckResult {
		free, err := freeBytes(path)
		if err != nil {
			if errors.Is(err, errors.ErrUnsupported) {
				return CheckResult{
					Status:  StatusUnknown,
					Message: "disk space probe not supported here",
				}
			}
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "disk space probe failed",
				Error:   err.Error(),
			}
		}
		details := map[string]any{
			"path":           path,
			"free_bytes":     free,
			"min_free_bytes": minFreeBytes,
		}
		if free < minFreeBytes {
			return CheckResult{
				Status:  StatusDegraded,
				Message: "low disk space",
				Details: details,
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: "disk space ok",
			Details: details,
		}
	}
}
