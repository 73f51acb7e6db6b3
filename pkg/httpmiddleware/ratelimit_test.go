package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limited(t *testing.T, cfg RateLimitConfig) http.Handler {
	t.Helper()
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return newLimiter(cfg).middleware()(ok)
}

func hit(h http.Handler, addr string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = addr
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_AllowsWithinWindow(t *testing.T) {
	h := limited(t, RateLimitConfig{Max: 3, Window: time.Minute})

	for i := range 3 {
		w := hit(h, "192.0.2.1:1000", nil)
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimit_RejectsWhenExhausted(t *testing.T) {
	h := limited(t, RateLimitConfig{Max: 2, Window: time.Minute})

	for range 2 {
		require.Equal(t, http.StatusOK, hit(h, "192.0.2.2:1000", nil).Code)
	}

	w := hit(h, "192.0.2.2:1000", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(http.StatusTooManyRequests), body["code"])
	assert.Equal(t, "rate limit exceeded", body["message"])
}

func TestRateLimit_IsolatesClients(t *testing.T) {
	h := limited(t, RateLimitConfig{Max: 1, Window: time.Minute})

	assert.Equal(t, http.StatusOK, hit(h, "192.0.2.3:1000", nil).Code)
	assert.Equal(t, http.StatusOK, hit(h, "192.0.2.4:1000", nil).Code)

	// Same client, different source port: still one allowance.
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "192.0.2.3:2000", nil).Code)
}

func TestRateLimit_KeysOnForwardedFor(t *testing.T) {
	h := limited(t, RateLimitConfig{Max: 1, Window: time.Minute})
	fwd := map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1000", fwd).Code)

	// Different proxy hop, same originating client.
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.2:1000", fwd).Code)
}

func TestLimiter_SlidingWindowCarry(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 4, Window: time.Minute})
	start := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	for range 4 {
		_, _, allowed := l.allow("c", start)
		require.True(t, allowed)
	}
	_, _, allowed := l.allow("c", start)
	require.False(t, allowed)

	// Half the previous window still overlaps: its 4 hits carry a weight of
	// 2, so only 2 of the 4 allowances are free.
	mid := start.Add(90 * time.Second)
	for i := range 2 {
		_, _, allowed := l.allow("c", mid)
		assert.True(t, allowed, "hit %d", i+1)
	}
	_, _, allowed = l.allow("c", mid)
	assert.False(t, allowed)

	// Two full windows later everything has aged out.
	_, _, allowed = l.allow("c", start.Add(3*time.Minute))
	assert.True(t, allowed)
}

func TestLimiter_SweepDropsIdleClients(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	l.allow("stale", now)
	l.allow("fresh", now.Add(90*time.Second))
	l.sweep(now.Add(2 * time.Minute))

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.buckets, "stale")
	assert.Contains(t, l.buckets, "fresh")
}
