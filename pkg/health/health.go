// Package health serves liveness and readiness probes. Checks run in the
// background; a check flips to unhealthy after FailureThreshold consecutive
// failures and back after SuccessThreshold consecutive successes.
package health

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Probe selects the endpoint a check contributes to.
type Probe int

const (
	Liveness Probe = iota
	Readiness
)

// Options tunes flap protection.
type Options struct {
	FailureThreshold int
	SuccessThreshold int
}

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	healthy atomic.Bool
	lastErr atomic.Pointer[string]

	// Only touched by the goroutine running the check.
	fails, oks int
}

func (c *check) run(ctx context.Context, opts Options) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.fn(ctx); err != nil {
		msg := err.Error()
		c.lastErr.Store(&msg)
		c.oks = 0
		c.fails++
		if c.fails >= opts.FailureThreshold {
			c.healthy.Store(false)
		}
		return
	}
	c.lastErr.Store(nil)
	c.fails = 0
	c.oks++
	if c.oks >= opts.SuccessThreshold {
		c.healthy.Store(true)
	}
}

// Health tracks probe state for one service. The zero value is not usable.
type Health struct {
	opts  Options
	ready atomic.Bool

	mu     sync.RWMutex
	checks map[Probe][]*check
	cancel context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true).
func New(opts Options) *Health {
	if opts.FailureThreshold < 1 {
		opts.FailureThreshold = 3
	}
	if opts.SuccessThreshold < 1 {
		opts.SuccessThreshold = 1
	}
	return &Health{opts: opts, checks: make(map[Probe][]*check)}
}

// Add registers a check. Checks start healthy.
func (h *Health) Add(p Probe, name string, timeout time.Duration, fn CheckFunc) {
	c := &check{name: name, timeout: timeout, fn: fn}
	c.healthy.Store(true)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[p] = append(h.checks[p], c)
}

// Start runs every check now and then each interval until Stop or ctx ends.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	var all []*check
	for _, cs := range h.checks {
		all = append(all, cs...)
	}
	h.mu.Unlock()

	for _, c := range all {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				c.run(ctx, h.opts)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}
}

// Stop cancels background checks. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady marks the service ready to take traffic, or draining.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Failures returns failing checks of p keyed by name.
func (h *Health) Failures(p Probe) map[string]string {
	h.mu.RLock()
	checks := slices.Clone(h.checks[p])
	h.mu.RUnlock()

	out := make(map[string]string)
	for _, c := range checks {
		if c.healthy.Load() {
			continue
		}
		msg := "check is unhealthy"
		if last := c.lastErr.Load(); last != nil {
			msg = *last
		}
		out[c.name] = msg
	}
	return out
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(h.Failures(Readiness)) == 0
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.Failures(Liveness))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.Failures(Readiness)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, failures)
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	status, text := http.StatusOK, "ok"
	if len(failures) > 0 {
		status, text = http.StatusServiceUnavailable, "unhealthy"
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(text) })
		if len(failures) == 0 {
			return
		}
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range slices.Sorted(maps.Keys(failures)) {
					e.Field(name, func(e *jx.Encoder) { e.Str(failures[name]) })
				}
			})
		})
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
