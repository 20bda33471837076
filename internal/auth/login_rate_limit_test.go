package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoginRateLimiter_BlocksAfterBurst(t *testing.T) {
	limiter := NewLoginRateLimiter(3, time.Minute)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		allowed, _ := limiter.allow("203.0.113.7", now)
		assert.True(t, allowed, "attempt %d", i+1)
	}

	allowed, retryAfter := limiter.allow("203.0.113.7", now)
	assert.False(t, allowed)
	assert.InDelta(t, 20, retryAfter.Seconds(), 0.01)

	allowed, _ = limiter.allow("198.51.100.4", now)
	assert.True(t, allowed, "other addresses keep their own budget")

	allowed, _ = limiter.allow("203.0.113.7", now.Add(21*time.Second))
	assert.True(t, allowed)
}

func TestLoginRateLimiter_RejectedAttemptsDoNotConsume(t *testing.T) {
	limiter := NewLoginRateLimiter(1, time.Minute)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	allowed, _ := limiter.allow("203.0.113.7", now)
	assert.True(t, allowed)

	for i := 0; i < 5; i++ {
		allowed, _ = limiter.allow("203.0.113.7", now.Add(time.Duration(i)*time.Second))
		assert.False(t, allowed)
	}

	allowed, _ = limiter.allow("203.0.113.7", now.Add(61*time.Second))
	assert.True(t, allowed)
}

func TestLoginRateLimiter_EvictsStaleEntries(t *testing.T) {
	limiter := NewLoginRateLimiter(5, time.Minute)
	limiter.maxMemory = 2
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	limiter.allow("10.0.0.1", now)
	limiter.allow("10.0.0.2", now)
	limiter.allow("10.0.0.3", now.Add(2*time.Minute))

	assert.Len(t, limiter.byIP, 1)
	assert.Contains(t, limiter.byIP, "10.0.0.3")
}

func TestLoginRateLimiter_Middleware(t *testing.T) {
	limiter := NewLoginRateLimiter(1, time.Minute)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	calls := 0
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, send().Code)

	rec := send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"success":false`)
	assert.Equal(t, 1, calls)
}

func TestLoginRateLimiter_RotatingForwardedPrefixSharesBudget(t *testing.T) {
	limiter := NewLoginRateLimiter(1, time.Minute)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(spoofed string) int {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.Header.Set("X-Forwarded-For", spoofed+", 203.0.113.7")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, send("1.1.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("2.2.2.2"))
	assert.Equal(t, http.StatusTooManyRequests, send("3.3.3.3"))
}
