package api

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/mtr002/compute-queue/internal/logger"
)

const checkTimeout = 3 * time.Second

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
}

type ReadinessResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Service   string            `json:"service"`
	Checks    map[string]string `json:"checks"`
}

// CheckFunc reports whether a dependency is usable
type CheckFunc func(ctx context.Context) error

// HealthChecker serves liveness and readiness for one service
type HealthChecker struct {
	service string

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

func NewHealthChecker(service string) *HealthChecker {
	return &HealthChecker{service: service, checks: make(map[string]CheckFunc)}
}

// Register adds a readiness dependency. Names are unique; a second check
// under an existing name is ignored.
func (h *HealthChecker) Register(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.checks[name]; ok {
		logger.Logger.Warn().Str("check", name).Msg("Health check already registered, ignoring duplicate")
		return
	}
	h.checks[name] = check
}

// Check runs every registered dependency check concurrently
func (h *HealthChecker) Check(ctx context.Context) (map[string]string, bool) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]CheckFunc, len(names))
	for i, name := range names {
		checks[i] = h.checks[name]
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	errs := make([]error, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = check(ctx)
		}()
	}
	wg.Wait()

	result := make(map[string]string, len(names))
	ready := true
	for i, name := range names {
		if errs[i] != nil {
			result[name] = "unavailable: " + errs[i].Error()
			ready = false
			continue
		}
		result[name] = "ok"
	}
	return result, ready
}

func (h *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   h.service,
	})
}

func (h *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "alive",
		Timestamp: time.Now(),
		Service:   h.service,
	})
}

func (h *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks, ready := h.Check(r.Context())

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, ReadinessResponse{
		Status:    status,
		Timestamp: time.Now(),
		Service:   h.service,
		Checks:    checks,
	})
}
