package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ffmpeg-api/internal/apierr"
	"ffmpeg-api/internal/logging"
	"ffmpeg-api/internal/metrics"
)

// RateLimitConfig configures the per-client request budget.
type RateLimitConfig struct {
	// Requests per Window per client. Zero disables limiting.
	Requests int
	Window   time.Duration
	// ExemptPaths are never counted.
	ExemptPaths []string
	// ProbeHeader marks self-probes; loopback requests carrying it are not
	// counted.
	ProbeHeader string
	// StoreTimeout bounds each call to a remote store.
	StoreTimeout time.Duration
}

// RateStore decides whether key may make another request.
type RateStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, retryAfter time.Duration, err error)
}

// RateLimiter enforces RateLimitConfig against a RateStore.
type RateLimiter struct {
	config RateLimitConfig
	store  RateStore
	exempt map[string]bool
}

// NewRateLimiter creates a limiter. A nil store keeps counters in memory.
func NewRateLimiter(config RateLimitConfig, store RateStore) *RateLimiter {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 2 * time.Second
	}
	if store == nil {
		store = NewMemoryRateStore()
	}
	exempt := make(map[string]bool, len(config.ExemptPaths))
	for _, p := range config.ExemptPaths {
		exempt[p] = true
	}
	return &RateLimiter{config: config, store: store, exempt: exempt}
}

// Middleware rejects clients over budget with 429 and Retry-After.
// Store failures let the request through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl.config.Requests <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || rl.exempt[r.URL.Path] || rl.isLoopbackProbe(r) {
			next.ServeHTTP(w, r)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), rl.config.StoreTimeout)
		allowed, retryAfter, err := rl.store.Allow(ctx, "ffmpeg-api:ratelimit:"+ClientIP(r), rl.config.Requests, rl.config.Window)
		cancel()
		if err != nil {
			logging.Warn("Rate limit store unavailable, allowing request: %v", err)
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			secs := int(math.Ceil(retryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			metrics.HTTPRejectionsTotal.WithLabelValues("rate_limit").Inc()
			apierr.Write(w, apierr.RateLimit("Too many requests, retry in %d seconds", secs))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) isLoopbackProbe(r *http.Request) bool {
	if rl.config.ProbeHeader == "" || r.Header.Get(rl.config.ProbeHeader) == "" {
		return false
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// MemoryRateStore keeps a token bucket per key.
type MemoryRateStore struct {
	mu      sync.Mutex
	buckets map[string]*bucketEntry
	now     func() time.Time
}

type bucketEntry struct {
	bucket   *tokenBucket
	lastSeen time.Time
}

// NewMemoryRateStore creates an empty in-process store.
func NewMemoryRateStore() *MemoryRateStore {
	return &MemoryRateStore{buckets: make(map[string]*bucketEntry), now: time.Now}
}

// Allow implements RateStore.
func (s *MemoryRateStore) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	now := s.now()

	s.mu.Lock()
	entry, ok := s.buckets[key]
	if !ok {
		rate := float64(limit) / window.Seconds()
		entry = &bucketEntry{bucket: newTokenBucket(rate, limit, now)}
		s.buckets[key] = entry
	}
	entry.lastSeen = now
	s.cleanupLocked(now, window)
	s.mu.Unlock()

	return entry.bucket.take(now)
}

func (s *MemoryRateStore) cleanupLocked(now time.Time, window time.Duration) {
	cutoff := now.Add(-2 * window)
	for key, entry := range s.buckets {
		if entry.lastSeen.Before(cutoff) {
			delete(s.buckets, key)
		}
	}
}

type tokenBucket struct {
	mu        sync.Mutex
	rate      float64
	capacity  float64
	tokens    float64
	lastCheck time.Time
}

func newTokenBucket(rate float64, burst int, now time.Time) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &tokenBucket{
		rate:      rate,
		capacity:  float64(burst),
		tokens:    float64(burst),
		lastCheck: now,
	}
}

// take consumes a token, or reports how long until one is available.
func (tb *tokenBucket) take(now time.Time) (bool, time.Duration, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if elapsed := now.Sub(tb.lastCheck).Seconds(); elapsed > 0 {
		tb.tokens = math.Min(tb.capacity, tb.tokens+elapsed*tb.rate)
	}
	tb.lastCheck = now

	if tb.tokens < 1 {
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		return false, wait, nil
	}
	tb.tokens--
	return true, 0, nil
}

// redisCounter is the subset of the go-redis client the store uses.
type redisCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

// RedisRateStore counts requests in fixed windows shared by every replica.
type RedisRateStore struct {
	client redisCounter
}

// NewRedisRateStore connects to addr lazily; go-redis dials on first use.
func NewRedisRateStore(addr, password string) (*RedisRateStore, *redis.Client) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	return &RedisRateStore{client: client}, client
}

// Allow implements RateStore.
func (s *RedisRateStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis incr: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return false, 0, fmt.Errorf("redis expire: %w", err)
		}
	}
	if count <= int64(limit) {
		return true, 0, nil
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis ttl: %w", err)
	}
	if ttl < 0 {
		// key has no expiry; restore it
		_ = s.client.Expire(ctx, key, window).Err()
		return false, window, nil
	}
	return false, ttl, nil
}
