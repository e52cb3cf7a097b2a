package httpmiddleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func customerRequest(customer string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/orders", nil)
	req.RemoteAddr = "10.0.0.1:9999"
	if customer != "" {
		req.Header.Set(CustomerHeader, customer)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_PerCustomer(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())

	for range 2 {
		w := serve(handler, customerRequest("alice"))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := serve(handler, customerRequest("alice"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(429), body["code"])
	assert.Equal(t, "rate limit exceeded", body["message"])

	// Same address, different customer: independent budget.
	assert.Equal(t, http.StatusOK, serve(handler, customerRequest("bob")).Code)
}

func TestRateLimit_AnonymousFallsBackToIP(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	req := customerRequest("")
	req.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")
	assert.Equal(t, http.StatusOK, serve(handler, req).Code)

	req = customerRequest("")
	req.RemoteAddr = "192.168.1.2:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.50")
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, req).Code)

	assert.Equal(t, http.StatusOK, serve(handler, customerRequest("")).Code)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, time.Time) (Decision, error) {
	return Decision{}, errors.New("redis down")
}

func TestRateLimit_LimiterFailureAllows(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 1, Limiter: brokenLimiter{}})(okHandler())
	for range 3 {
		w := serve(handler, customerRequest("alice"))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestSlidingWindow(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	sw := NewSlidingWindow(4, time.Minute)

	for i := range 4 {
		d, err := sw.Allow(ctx, "k", start.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.True(t, d.Allowed)
		assert.Equal(t, 3-i, d.Remaining)
		assert.Equal(t, start.Add(time.Minute), d.ResetAt)
	}
	d, err := sw.Allow(ctx, "k", start.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// A quarter into the next window, 3/4 of the previous 4 still count.
	d, err = sw.Allow(ctx, "k", start.Add(75*time.Second))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	d, err = sw.Allow(ctx, "k", start.Add(75*time.Second))
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// Two windows later the history is gone.
	d, err = sw.Allow(ctx, "k", start.Add(3*time.Minute))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 3, d.Remaining)
}

func TestSlidingWindow_Evict(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	sw := NewSlidingWindow(1, time.Minute)

	_, err := sw.Allow(ctx, "old", start)
	require.NoError(t, err)
	_, err = sw.Allow(ctx, "new", start.Add(2*time.Minute))
	require.NoError(t, err)

	sw.Evict(start.Add(2*time.Minute + time.Second))
	assert.NotContains(t, sw.windows, "old")
	assert.Contains(t, sw.windows, "new")
}
