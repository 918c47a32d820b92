// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package health reports whether the valuation service and its upstream
// collaborators are configured and reachable.
package health

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"

	// DefaultTimeout bounds a full round of checks.
	DefaultTimeout = 5 * time.Second
)

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status    string         `json:"status"`
	Latency   time.Duration  `json:"latency"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Response is the body served on the health route.
type Response struct {
	Status       string                 `json:"status"`
	Service      string                 `json:"service"`
	Version      string                 `json:"version"`
	AIService    string                 `json:"ai_service,omitempty"`
	Uptime       string                 `json:"uptime"`
	Dependencies map[string]CheckResult `json:"dependencies"`
	Metadata     map[string]any         `json:"metadata"`
	Timestamp    time.Time              `json:"timestamp"`
}

// Checker checks one dependency.
type Checker interface {
	Check(ctx context.Context) CheckResult
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) CheckResult

// Check implements Checker.
func (f CheckerFunc) Check(ctx context.Context) CheckResult {
	return f(ctx)
}

// Manager runs the registered checks.
type Manager struct {
	serviceName string
	version     string
	aiService   string
	startTime   time.Time
	timeout     time.Duration
	logger      *zap.Logger

	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewManager creates a Manager for the named service.
func NewManager(serviceName, version string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		serviceName: serviceName,
		version:     version,
		startTime:   time.Now(),
		timeout:     DefaultTimeout,
		checkers:    make(map[string]Checker),
		logger:      logger,
	}
}

// SetTimeout sets the deadline applied to a round of checks.
func (m *Manager) SetTimeout(timeout time.Duration) {
	m.timeout = timeout
}

// SetAIService records the default provider name shown in responses.
func (m *Manager) SetAIService(name string) {
	m.aiService = name
}

// AddChecker registers checker under name, replacing any previous one.
func (m *Manager) AddChecker(name string, checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = checker
}

// AddCheckerFunc registers a function checker.
func (m *Manager) AddCheckerFunc(name string, fn func(ctx context.Context) CheckResult) {
	m.AddChecker(name, CheckerFunc(fn))
}

// Names returns the registered check names in order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every checker concurrently and aggregates the results.
// One unhealthy dependency makes the service unhealthy; a degraded one
// makes it degraded.
func (m *Manager) Check(ctx context.Context) Response {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.mu.RLock()
	checkers := make(map[string]Checker, len(m.checkers))
	for name, c := range m.checkers {
		checkers[name] = c
	}
	m.mu.RUnlock()

	var resMu sync.Mutex
	dependencies := make(map[string]CheckResult, len(checkers))

	p := pool.New().WithContext(ctx)
	for name, checker := range checkers {
		p.Go(func(ctx context.Context) error {
			start := time.Now()
			result := checker.Check(ctx)
			result.Latency = time.Since(start)
			result.Timestamp = time.Now()

			resMu.Lock()
			dependencies[name] = result
			resMu.Unlock()
			return nil
		})
	}
	_ = p.Wait()

	overall := StatusHealthy
	for name, result := range dependencies {
		switch result.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
			m.logger.Warn("Dependency unhealthy", zap.String("dependency", name), zap.String("error", result.Error))
		case StatusDegraded:
			if overall != StatusUnhealthy {
				overall = StatusDegraded
			}
		}
	}

	return Response{
		Status:       overall,
		Service:      m.serviceName,
		Version:      m.version,
		AIService:    m.aiService,
		Uptime:       time.Since(m.startTime).Round(time.Second).String(),
		Dependencies: dependencies,
		Metadata: map[string]any{
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
		Timestamp: time.Now().UTC(),
	}
}

// Handler serves the aggregated result. Unhealthy maps to 503; degraded
// still answers 200.
func (m *Manager) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result := m.Check(c.Request.Context())
		status := http.StatusOK
		if result.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, result)
	}
}

// APIKeyChecker reports whether a credential is configured. A missing key
// degrades the service rather than failing it, so the other provider can
// still serve requests.
func APIKeyChecker(name, apiKey string, required bool) Checker {
	return CheckerFunc(func(_ context.Context) CheckResult {
		configured := strings.TrimSpace(apiKey) != ""
		result := CheckResult{
			Status:   StatusHealthy,
			Metadata: map[string]any{"api_key_configured": configured},
		}
		if !configured {
			result.Status = StatusDegraded
			if required {
				result.Status = StatusUnhealthy
			}
			result.Error = fmt.Sprintf("%s API key not configured", name)
		}
		return result
	})
}

// PingChecker wraps a ping function, for example a storage backend.
func PingChecker(name string, ping func(ctx context.Context) error) Checker {
	return CheckerFunc(func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			status := StatusUnhealthy
			if isTemporaryError(err) {
				status = StatusDegraded
			}
			return CheckResult{
				Status: status,
				Error:  fmt.Sprintf("%s ping failed: %v", name, err),
			}
		}
		return CheckResult{
			Status:   StatusHealthy,
			Metadata: map[string]any{"backend": name},
		}
	})
}

func isTemporaryError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "deadline exceeded", "connection refused", "temporary failure"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
