package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/0xshikhar/domie-sub000/internal/store/memory"
)

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimitSeparatesReadsAndWrites(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RateLimit(memory.NewLimiter(), 1, time.Minute, logger, "/api/health")(okHandler())

	get := func(path string) int {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.RemoteAddr = "10.0.0.1:5000"
		return serve(h, r).Code
	}
	post := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/deals/1/contribute", nil)
		r.RemoteAddr = "10.0.0.1:5001"
		return serve(h, r)
	}

	assert.Equal(t, http.StatusOK, get("/api/deals"))
	assert.Equal(t, http.StatusTooManyRequests, get("/api/deals"))
	assert.Equal(t, http.StatusOK, post().Code)

	rec := post()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, get("/api/health"))
}

func TestRateLimitForwardedClients(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RateLimit(memory.NewLimiter(), 1, time.Minute, logger)(okHandler())

	for _, ip := range []string{"1.1.1.1", "2.2.2.2"} {
		r := httptest.NewRequest(http.MethodGet, "/api/deals", nil)
		r.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		assert.Equal(t, http.StatusOK, serve(h, r).Code, ip)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RateLimit(brokenLimiter{}, 1, time.Minute, logger)(okHandler())
	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/api/deals", nil)).Code)
}
