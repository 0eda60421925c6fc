package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	apperrors "reslock/pkg/errors"
	httputil "reslock/pkg/http"
	"reslock/pkg/logger"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
)

// RateLimiter decides whether one more request for key fits in the current window.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Stop()
}

// HolderRateLimiter is a sliding-window limiter kept in process memory.
type HolderRateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	clock    clock.Clock
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewHolderRateLimiter(limit int, window time.Duration, clk clock.Clock) *HolderRateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	limiter := &HolderRateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		clock:    clk,
		stopCh:   make(chan struct{}),
	}

	go limiter.cleanup()

	return limiter
}

func (rl *HolderRateLimiter) cleanup() {
	ticker := rl.clock.Ticker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := rl.clock.Now()
			rl.mu.Lock()
			for holder, timestamps := range rl.requests {
				if len(timestamps) == 0 || now.Sub(timestamps[len(timestamps)-1]) > rl.window {
					delete(rl.requests, holder)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *HolderRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *HolderRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	if key == "" {
		return true, nil
	}

	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	timestamps := rl.requests[key]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if now.Sub(ts) < rl.window {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false, nil
	}

	rl.requests[key] = append(valid, now)
	return true, nil
}

const redisRateLimitPrefix = "reslock:ratelimit:"

const fixedWindowScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local current = redis.call("incr", key)
if current == 1 then
	redis.call("pexpire", key, window)
end
if current > limit then
	return 0
end
return 1
`

// RedisRateLimiter shares a fixed-window counter per holder across service replicas.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, limit: limit, window: window}
}

func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return true, nil
	}
	if rl.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}

	windowMs := rl.window.Milliseconds()
	if windowMs <= 0 {
		return false, fmt.Errorf("window must be positive")
	}

	allowed, err := rl.client.Eval(ctx, fixedWindowScript, []string{redisRateLimitPrefix + key}, rl.limit, windowMs).Int()
	if err != nil {
		return false, fmt.Errorf("failed to apply rate limit: %w", err)
	}
	return allowed == 1, nil
}

func (rl *RedisRateLimiter) Stop() {}

// HolderRateLimit throttles requests per holder. Limiter errors fail open.
func HolderRateLimit(limiter RateLimiter, retryAfter time.Duration, log *logger.Logger) func(http.Handler) http.Handler {
	retrySeconds := strconv.Itoa(max(1, int(retryAfter/time.Second)))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			holderID := HolderFromContext(r.Context())
			if holderID == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), holderID)
			if err != nil {
				log.Warn("Rate limiter unavailable",
					"request_id", RequestIDFromContext(r.Context()),
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				log.Warn("Rate limit exceeded",
					"request_id", RequestIDFromContext(r.Context()),
					"holder_id", holderID,
					"path", r.URL.Path,
				)
				w.Header().Set("Retry-After", retrySeconds)
				httputil.WriteError(w, apperrors.TooManyRequests("rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
