package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const checkTimeout = 5 * time.Second

// HealthStatus is the body served on /health.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthCheck runs one probe. It must honor ctx.
type HealthCheck func(ctx context.Context) CheckResult

// Pinger is satisfied by *sql.DB adapters, *kgo.Client and the redis adapter below.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthChecker struct {
	service string
	version string

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service: service,
		version: version,
		checks:  make(map[string]HealthCheck),
	}
}

func (hc *HealthChecker) AddCheck(name string, check HealthCheck) {
	hc.mu.Lock()
	hc.checks[name] = check
	hc.mu.Unlock()
}

// CheckHealth runs every check concurrently. Any unhealthy check makes the
// service unhealthy; otherwise any degraded check makes it degraded.
func (hc *HealthChecker) CheckHealth(ctx context.Context) HealthStatus {
	hc.mu.RLock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	hc.mu.RUnlock()
	sort.Strings(names)

	results := make([]CheckResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		hc.mu.RLock()
		check := hc.checks[name]
		hc.mu.RUnlock()
		wg.Add(1)
		go func(i int, check HealthCheck) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			results[i] = check(checkCtx)
		}(i, check)
	}
	wg.Wait()

	status := HealthStatus{
		Status:    StatusHealthy,
		Service:   hc.service,
		Version:   hc.version,
		Timestamp: time.Now().Unix(),
		Checks:    make(map[string]CheckResult, len(names)),
	}
	for i, name := range names {
		status.Checks[name] = results[i]
		switch results[i].Status {
		case StatusHealthy:
		case StatusDegraded:
			if status.Status == StatusHealthy {
				status.Status = StatusDegraded
			}
		default:
			status.Status = StatusUnhealthy
		}
	}
	return status
}

func (hc *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		health := hc.CheckHealth(c.Request.Context())
		code := http.StatusOK
		if health.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, health)
	}
}

// PingHealthCheck probes a dependency. Failures of optional dependencies
// report degraded instead of unhealthy.
func PingHealthCheck(name string, p Pinger, optional bool) HealthCheck {
	failed := StatusUnhealthy
	if optional {
		failed = StatusDegraded
	}
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		if p == nil {
			return CheckResult{Status: failed, Message: name + " not configured"}
		}
		if err := p.Ping(ctx); err != nil {
			return CheckResult{
				Status:  failed,
				Message: fmt.Sprintf("%s ping failed: %v", name, err),
				Latency: time.Since(start).String(),
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: name + " reachable",
			Latency: time.Since(start).String(),
		}
	}
}

type dbPinger struct{ db *sql.DB }

func (d dbPinger) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// DatabaseHealthCheck reports postgres as a required dependency.
func DatabaseHealthCheck(db *sql.DB) HealthCheck {
	if db == nil {
		return PingHealthCheck("database", nil, false)
	}
	return PingHealthCheck("database", dbPinger{db: db}, false)
}

// ConfigurationHealthCheck fails when any required setting is empty.
func ConfigurationHealthCheck(configs map[string]string) HealthCheck {
	return func(context.Context) CheckResult {
		var missing []string
		for key, value := range configs {
			if value == "" {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("Missing required configuration: %v", missing),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: "All required configuration present"}
	}
}
