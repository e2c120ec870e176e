package monitoring

import (
	"context"
	"sync"
	"time"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusUnknown   = "unknown"
)

// HealthObserver receives every check result, live or background.
type HealthObserver interface {
	HealthCheckResult(check string, healthy bool)
}

type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) (bool, error)
	Interval time.Duration
	Timeout  time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

type checkResult struct {
	message string
	healthy bool
}

// HealthChecker runs named checks on demand and, for checks with an
// interval, in the background. The latest result of each is kept so cheap
// endpoints can report it without probing dependencies again.
type HealthChecker struct {
	mu       sync.RWMutex
	checks   []HealthCheck
	results  map[string]checkResult
	observer HealthObserver
	now      func() time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		results: make(map[string]checkResult),
		now:     time.Now,
	}
}

func (h *HealthChecker) SetObserver(o HealthObserver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observer = o
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) (bool, error), interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:     name,
		Check:    check,
		Interval: interval,
		Timeout:  timeout,
	})
}

// CheckAll runs every check concurrently and reports the combined status.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for _, check := range checks {
		check := check
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.run(ctx, check)
		}()
	}
	wg.Wait()

	return h.LastStatus()
}

// LastStatus reports the most recent result of every check. Checks that
// never ran count as unhealthy.
func (h *HealthChecker) LastStatus() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Status:    statusHealthy,
		Timestamp: h.now(),
		Checks:    make(map[string]string, len(h.checks)),
	}
	for _, check := range h.checks {
		res, ok := h.results[check.Name]
		switch {
		case !ok:
			status.Status = statusUnhealthy
			status.Checks[check.Name] = statusUnknown
		case !res.healthy:
			status.Status = statusUnhealthy
			status.Checks[check.Name] = res.message
		default:
			status.Checks[check.Name] = statusHealthy
		}
	}
	return status
}

// IsReady reports whether every registered check passes.
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == statusHealthy
}

func (h *HealthChecker) StartBackgroundChecks(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, check := range h.checks {
		if check.Interval > 0 {
			go h.runPeriodically(ctx, check)
		}
	}
}

func (h *HealthChecker) runPeriodically(ctx context.Context, check HealthCheck) {
	h.run(ctx, check)

	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.run(ctx, check)
		}
	}
}

func (h *HealthChecker) run(ctx context.Context, check HealthCheck) {
	if check.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, check.Timeout)
		defer cancel()
	}

	healthy, err := check.Check(ctx)
	res := checkResult{message: statusHealthy, healthy: healthy && err == nil}
	switch {
	case err != nil:
		res.message = err.Error()
	case !healthy:
		res.message = "check failed"
	}

	h.mu.RLock()
	observer := h.observer
	h.mu.RUnlock()
	if observer != nil {
		observer.HealthCheckResult(check.Name, res.healthy)
	}

	h.mu.Lock()
	h.results[check.Name] = res
	h.mu.Unlock()
}
