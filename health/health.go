// Package health provides a registry of named health checks and an http
// handler reporting their combined status. The serve command wires the
// metadata store and object store checks in and gates readiness on them.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Checker is the interface for a health checker.
type Checker interface {
	// Check returns nil if the service is okay.
	Check(ctx context.Context) error
}

// CheckFunc is a convenience type to create functions that implement the
// Checker interface.
type CheckFunc func(ctx context.Context) error

// Check implements the Checker interface to allow for any func(ctx) error
// method to be passed as a Checker.
func (cf CheckFunc) Check(ctx context.Context) error {
	return cf(ctx)
}

// Updater implements a health check whose status is explicitly set, so an
// expensive probe can run on its own schedule while Check returns
// immediately.
type Updater interface {
	Checker

	// Update updates the current status of the health check.
	Update(status error)
}

type updater struct {
	mu     sync.Mutex
	status error
}

func (u *updater) Check(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.status
}

func (u *updater) Update(status error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.status = status
}

// NewStatusUpdater returns a new updater.
func NewStatusUpdater() Updater {
	return &updater{}
}

// thresholdUpdater only reports a failure after it has been observed
// threshold times in a row, keeping one flaky probe from flipping the
// instance unhealthy.
type thresholdUpdater struct {
	mu        sync.Mutex
	status    error
	threshold int
	count     int
}

func (tu *thresholdUpdater) Check(context.Context) error {
	tu.mu.Lock()
	defer tu.mu.Unlock()

	if tu.count >= tu.threshold {
		return tu.status
	}

	return nil
}

func (tu *thresholdUpdater) Update(status error) {
	tu.mu.Lock()
	defer tu.mu.Unlock()

	if status == nil {
		tu.count = 0
	} else if tu.count < tu.threshold {
		tu.count++
	}

	tu.status = status
}

// NewThresholdStatusUpdater returns a new thresholdUpdater.
func NewThresholdStatusUpdater(t int) Updater {
	return &thresholdUpdater{threshold: t}
}

// Registry holds a set of named health checks. The zero value is not
// usable; construct with NewRegistry.
type Registry struct {
	mu               sync.RWMutex
	registeredChecks map[string]Checker
}

// NewRegistry returns an empty health check registry.
func NewRegistry() *Registry {
	return &Registry{
		registeredChecks: make(map[string]Checker),
	}
}

// Register associates the checker with the provided name.
func (registry *Registry) Register(name string, check Checker) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, ok := registry.registeredChecks[name]; ok {
		panic("health check already exists: " + name)
	}
	registry.registeredChecks[name] = check
}

// RegisterFunc allows the convenience of registering a checker directly
// from an arbitrary func(ctx) error.
func (registry *Registry) RegisterFunc(name string, check CheckFunc) {
	registry.Register(name, check)
}

// RegisterPeriodicFunc registers a check that runs on the given period in
// the background, with Check reporting the most recent result.
func (registry *Registry) RegisterPeriodicFunc(name string, period time.Duration, check CheckFunc) {
	u := NewStatusUpdater()
	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for range t.C {
			ctx, cancel := context.WithTimeout(context.Background(), period)
			u.Update(check(ctx))
			cancel()
		}
	}()
	registry.Register(name, u)
}

// RegisterPeriodicThresholdFunc is RegisterPeriodicFunc with a failure
// threshold before the check reports unhealthy.
func (registry *Registry) RegisterPeriodicThresholdFunc(name string, period time.Duration, threshold int, check CheckFunc) {
	tu := NewThresholdStatusUpdater(threshold)
	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for range t.C {
			ctx, cancel := context.WithTimeout(context.Background(), period)
			tu.Update(check(ctx))
			cancel()
		}
	}()
	registry.Register(name, tu)
}

// CheckStatus returns a map with all the current health check errors.
func (registry *Registry) CheckStatus(ctx context.Context) map[string]string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	statusKeys := make(map[string]string)
	for k, v := range registry.registeredChecks {
		if err := v.Check(ctx); err != nil {
			statusKeys[k] = err.Error()
		}
	}

	return statusKeys
}

// Healthy reports whether every registered check currently passes.
func (registry *Registry) Healthy(ctx context.Context) bool {
	return len(registry.CheckStatus(ctx)) == 0
}

// StatusHandler returns an http handler that renders the registry's status
// as a JSON blob, returning 503 if any check is failing and 200 otherwise.
func StatusHandler(registry *Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		checks := registry.CheckStatus(r.Context())
		status := http.StatusOK
		if len(checks) != 0 {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)

		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(checks)
		}
	})
}

// ReadinessMiddleware serves 503 for every request until all checks in the
// registry pass, then hands off to next. Once ready, an instance stays in
// rotation even if a check later degrades; the status endpoint still
// reports the failure.
func ReadinessMiddleware(registry *Registry, next http.Handler) http.Handler {
	var ready atomic.Bool

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			if !registry.Healthy(r.Context()) {
				w.Header().Set("Retry-After", "5")
				http.Error(w, "service unavailable: waiting for dependencies", http.StatusServiceUnavailable)
				return
			}
			ready.Store(true)
		}

		next.ServeHTTP(w, r)
	})
}
