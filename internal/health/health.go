package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/maltehedderich/rate-governor/internal/metrics"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check represents a health check result
type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Response represents the health check response
type Response struct {
	Status    Status           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Checks    map[string]Check `json:"checks,omitempty"`
}

// Checker performs one health check. It must respect ctx's deadline.
type Checker func(ctx context.Context) Check

// Manager manages health checks
type Manager struct {
	checks  map[string]Checker
	timeout time.Duration
	mu      sync.RWMutex
}

// NewManager creates a manager giving each check at most timeout
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Manager{
		checks:  make(map[string]Checker),
		timeout: timeout,
	}
}

// Register registers a health check
func (m *Manager) Register(name string, checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = checker
}

// Unregister removes a health check
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, name)
}

// Names returns the registered check names in order
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs all health checks concurrently
func (m *Manager) Check(ctx context.Context) Response {
	m.mu.RLock()
	checkers := make(map[string]Checker, len(m.checks))
	for name, checker := range m.checks {
		checkers[name] = checker
	}
	m.mu.RUnlock()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]Check, len(checkers))
	)

	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()

			start := time.Now()
			check := checker(checkCtx)
			check.Name = name
			metrics.RecordHealthCheck(name, string(check.Status), time.Since(start))

			mu.Lock()
			checks[name] = check
			mu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	overallStatus := StatusHealthy
	for _, check := range checks {
		if check.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
		} else if check.Status == StatusDegraded && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	return Response{
		Status:    overallStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
}

func writeResponse(w http.ResponseWriter, status int, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler reports that the process is serving requests
func (m *Manager) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, http.StatusOK, Response{
			Status:    StatusHealthy,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadinessHandler returns 503 only when a check is unhealthy. A degraded
// governor still answers every request through its failure mode.
func (m *Manager) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := m.Check(r.Context())

		status := http.StatusOK
		if response.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeResponse(w, status, response)
	}
}

// HealthHandler always returns 200 with the full report
func (m *Manager) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, http.StatusOK, m.Check(r.Context()))
	}
}

// Predefined health checkers

// ConfigChecker checks if configuration is valid
func ConfigChecker(isValid func() bool) Checker {
	return func(ctx context.Context) Check {
		if isValid() {
			return Check{Status: StatusHealthy}
		}
		return Check{
			Status: StatusUnhealthy,
			Error:  "configuration is invalid",
		}
	}
}

// StoreChecker pings the counter store. An unreachable store leaves the
// governor running on its failure mode, so it reports degraded.
func StoreChecker(ping func(ctx context.Context) error) Checker {
	return func(ctx context.Context) Check {
		if err := ping(ctx); err != nil {
			return Check{
				Status: StatusDegraded,
				Error:  err.Error(),
			}
		}
		return Check{Status: StatusHealthy}
	}
}

// QueueChecker reports degraded once a queue is fuller than threshold
// (0..1) of its capacity.
func QueueChecker(length, capacity func() int, threshold float64) Checker {
	return func(ctx context.Context) Check {
		c := capacity()
		if c > 0 && float64(length())/float64(c) > threshold {
			return Check{
				Status: StatusDegraded,
				Error:  "queue nearly full",
			}
		}
		return Check{Status: StatusHealthy}
	}
}

// BreakerChecker reports degraded while a circuit breaker is not closed.
func BreakerChecker(state func() string) Checker {
	return func(ctx context.Context) Check {
		if s := state(); s != "closed" {
			return Check{
				Status: StatusDegraded,
				Error:  "circuit breaker " + s,
			}
		}
		return Check{Status: StatusHealthy}
	}
}
