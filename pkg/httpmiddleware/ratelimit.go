package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CustomerHeader carries the customer id set by the upstream cart service.
const CustomerHeader = "X-Customer-ID"

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter decides whether a request keyed by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// RateLimitConfig configures the RateLimit middleware.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window.
	Max    int
	Window time.Duration
	// Limiter defaults to an in-process sliding window of Max per Window.
	Limiter Limiter
	// KeyFunc extracts the key. Defaults to CustomerKey.
	KeyFunc func(*http.Request) string
}

// RateLimit rejects requests over the limit with 429. Limiter failures let
// the request through.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = CustomerKey
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewSlidingWindow(cfg.Max, cfg.Window)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			d, err := cfg.Limiter.Allow(r.Context(), cfg.KeyFunc(r), now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			retry := max(d.ResetAt.Sub(now), 0)
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)

			var e jx.Encoder
			e.Obj(func(e *jx.Encoder) {
				e.Field("code", func(e *jx.Encoder) { e.Int(http.StatusTooManyRequests) })
				e.Field("message", func(e *jx.Encoder) { e.Str("rate limit exceeded") })
			})
			_, _ = w.Write(e.Bytes())
		})
	}
}

// CustomerKey keys requests by customer, falling back to the client IP for
// anonymous callers.
func CustomerKey(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(CustomerHeader)); id != "" {
		return "customer:" + id
	}
	return "ip:" + ClientIP(r)
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type window struct {
	prev      float64
	curr      float64
	currStart time.Time
}

// SlidingWindow approximates a sliding window by weighting the previous
// fixed window by its overlap with the current one.
type SlidingWindow struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*window
}

// NewSlidingWindow allows limit requests per window and key.
func NewSlidingWindow(limit int, period time.Duration) *SlidingWindow {
	return &SlidingWindow{max: limit, window: period, windows: make(map[string]*window)}
}

func (s *SlidingWindow) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := now.Truncate(s.window)
	w, ok := s.windows[key]
	switch {
	case !ok:
		w = &window{currStart: start}
		s.windows[key] = w
	case start.Sub(w.currStart) >= 2*s.window:
		*w = window{currStart: start}
	case start.After(w.currStart):
		*w = window{prev: w.curr, currStart: start}
	}

	overlap := 1 - float64(now.Sub(w.currStart))/float64(s.window)
	count := w.prev*max(overlap, 0) + w.curr
	d := Decision{ResetAt: w.currStart.Add(s.window)}
	if count >= float64(s.max) {
		return d, nil
	}
	w.curr++
	d.Allowed = true
	d.Remaining = max(int(float64(s.max)-count-1), 0)
	return d, nil
}

// Evict drops keys idle for two windows.
func (s *SlidingWindow) Evict(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, w := range s.windows {
		if now.Sub(w.currStart) >= 2*s.window {
			delete(s.windows, key)
		}
	}
}

// RunEviction evicts idle keys every two windows until ctx is done.
func (s *SlidingWindow) RunEviction(ctx context.Context) {
	ticker := time.NewTicker(2 * s.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Evict(now)
		}
	}
}

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {current, redis.call("PTTL", KEYS[1])}
`)

// RedisWindow is a fixed window counter shared by every instance.
type RedisWindow struct {
	client redis.UniversalClient
	prefix string
	max    int
	window time.Duration
}

// NewRedisWindow allows limit requests per window and key across instances.
func NewRedisWindow(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisWindow {
	return &RedisWindow{client: client, prefix: prefix, max: limit, window: window}
}

func (l *RedisWindow) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, errors.Wrap(err, "rate limit script")
	}
	if len(res) != 2 {
		return Decision{}, errors.Errorf("unexpected rate limit reply %v", res)
	}
	count, ttl := res[0], res[1]
	if ttl < 0 {
		ttl = l.window.Milliseconds()
	}
	return Decision{
		Allowed:   count <= int64(l.max),
		Remaining: int(max(int64(l.max)-count, 0)),
		ResetAt:   now.Add(time.Duration(ttl) * time.Millisecond),
	}, nil
}
