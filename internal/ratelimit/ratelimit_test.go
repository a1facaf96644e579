package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *clock) {
	t.Helper()
	l := New(cfg)
	t.Cleanup(l.Stop)
	clk := &clock{t: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)}
	l.now = clk.Now
	return l, clk
}

func TestLimiterAllow(t *testing.T) {
	l, clk := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 5})

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("10.0.0.1"), "request after burst")

	// 60/min = one token per second
	clk.Advance(time.Second)
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestLimiterMultipleClients(t *testing.T) {
	l, _ := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 2})

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	assert.True(t, l.Allow("b"), "clients have separate buckets")
}

func TestLimiterRefillCapsAtBurst(t *testing.T) {
	l, clk := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 3})

	l.Allow("a")
	clk.Advance(time.Hour)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("a"))
	}
	assert.False(t, l.Allow("a"))
}

func TestLimiterEvictIdle(t *testing.T) {
	l, clk := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 1})

	l.Allow("idle")
	clk.Advance(3 * time.Minute)
	l.Allow("fresh")
	l.evictIdle()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.clients, "idle")
	assert.Contains(t, l.clients, "fresh")
}

func TestMiddleware(t *testing.T) {
	l, _ := newTestLimiter(t, Config{RequestsPerMinute: 30, BurstSize: 1, ExemptPrefixes: []string{"/health"}})

	r := gin.New()
	r.Use(l.Middleware())
	r.POST("/risk/analyze", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(method, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = "192.0.2.10:4242"
		r.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusOK, do(http.MethodPost, "/risk/analyze").Code)

	w := do(http.MethodPost, "/risk/analyze")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"), "30/min refills one token in 2s")
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(http.MethodGet, "/health").Code, "exempt path")
	}
}

func TestNew_Defaults(t *testing.T) {
	l := New(Config{})
	defer l.Stop()
	l.Stop() // idempotent

	assert.Equal(t, 120, l.cfg.RequestsPerMinute)
	assert.Equal(t, 1, l.cfg.BurstSize)
	assert.Equal(t, time.Minute, l.cfg.CleanupInterval)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 120, cfg.RequestsPerMinute)
	assert.Equal(t, 20, cfg.BurstSize)
	assert.Equal(t, []string{"/health", "/metrics"}, cfg.ExemptPrefixes)
}
