package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// client represents a rate-limited client with request count and window start.
type client struct {
	windowStart time.Time
	count       int
}

// rateStore is the in-memory state behind one RateLimiter instance.
// NOTE: per process only; multi-instance deployments need a shared store.
type rateStore struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   int
	window  time.Duration
	now     func() time.Time
}

func newRateStore(limit int, window time.Duration) *rateStore {
	return &rateStore{
		clients: make(map[string]*client),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// allow counts one request for key and reports whether it fits the window.
func (s *rateStore) allow(key string) bool {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	cl, ok := s.clients[key]
	if !ok || now.Sub(cl.windowStart) > s.window {
		s.clients[key] = &client{windowStart: now, count: 1}
		s.sweep(now)
		return true
	}
	cl.count++
	return cl.count <= s.limit
}

// sweep drops clients whose window ended long ago so the map does not grow unbounded.
func (s *rateStore) sweep(now time.Time) {
	if len(s.clients) < 1024 {
		return
	}
	for k, cl := range s.clients {
		if now.Sub(cl.windowStart) > 2*s.window {
			delete(s.clients, k)
		}
	}
}

// RateLimiter limits each client IP to limit requests per window.
//
// Behavior:
//   - Each call builds its own store, so separate routers never share counters.
//   - limit <= 0 disables limiting.
//   - When exceeded, responds 429 Too Many Requests.
//
// Usage:
//
//	router := gin.New()
//	router.Use(middleware.RateLimiter(60, time.Minute))
func RateLimiter(limit int, window time.Duration) gin.HandlerFunc {
	if limit <= 0 || window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	store := newRateStore(limit, window)

	return func(c *gin.Context) {
		if !store.allow(c.ClientIP()) {
			AbortWithError(c, http.StatusTooManyRequests, "rate limit exceeded", nil)
			return
		}
		c.Next()
	}
}
