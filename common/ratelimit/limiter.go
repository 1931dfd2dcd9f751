package ratelimit

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

//go:embed rate_limit.lua
var rateLimitScript string

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Result contains the outcome of a rate limit check
type Result struct {
	Allowed           bool  // Whether the request is allowed
	CurrentCount      int64 // Current count in the window
	Limit             int64 // The limit that was checked
	RetryAfterSeconds int64 // Seconds until the limit resets (0 if allowed)
}

// RateLimiter provides fixed-window rate limiting using Redis + Lua.
// Counters live in Redis so every API replica shares the same windows.
type RateLimiter struct {
	redis  *redis.Client
	script *redis.Script
	logger Logger
}

// NewRateLimiter creates a new rate limiter with the embedded Lua script
func NewRateLimiter(redisClient *redis.Client, logger Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		script: redis.NewScript(rateLimitScript),
		logger: logger,
	}
}

// CheckGlobalLimit checks the service-wide request limit
func (r *RateLimiter) CheckGlobalLimit(ctx context.Context, limit int64, windowSec int) (*Result, error) {
	return r.checkLimit(ctx, "rate_limit:global", limit, windowSec)
}

// CheckActorLimit checks the write limit for one actor
func (r *RateLimiter) CheckActorLimit(ctx context.Context, actor string, limit int64, windowSec int) (*Result, error) {
	key := fmt.Sprintf("rate_limit:actor:%s", actor)
	return r.checkLimit(ctx, key, limit, windowSec)
}

// CheckAutofillLimit checks how often one resume may be autofilled. The key
// is per resume, not per actor: the expensive part is the extraction run,
// and it costs the same whoever asks for it.
func (r *RateLimiter) CheckAutofillLimit(ctx context.Context, resumeID uuid.UUID, limit int64, windowSec int) (*Result, error) {
	key := fmt.Sprintf("rate_limit:autofill:%s", resumeID)
	return r.checkLimit(ctx, key, limit, windowSec)
}

// checkLimit executes the rate limit Lua script
func (r *RateLimiter) checkLimit(ctx context.Context, key string, limit int64, windowSec int) (*Result, error) {
	result, err := r.script.Run(ctx, r.redis, []string{key}, limit, windowSec).Result()
	if err != nil {
		r.logger.Error("rate limit check failed", "key", key, "error", err)
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	// Parse result array: {allowed, current_count, limit, retry_after}
	resultArray, ok := result.([]interface{})
	if !ok || len(resultArray) != 4 {
		return nil, fmt.Errorf("unexpected script result format")
	}

	out := &Result{
		Allowed:           resultArray[0].(int64) == 1,
		CurrentCount:      resultArray[1].(int64),
		Limit:             resultArray[2].(int64),
		RetryAfterSeconds: resultArray[3].(int64),
	}

	if !out.Allowed {
		r.logger.Warn("rate limit exceeded",
			"key", key,
			"current", out.CurrentCount,
			"limit", out.Limit,
			"retry_after", out.RetryAfterSeconds)
	}

	return out, nil
}

// GetCurrentCount returns current count without incrementing (for monitoring)
func (r *RateLimiter) GetCurrentCount(ctx context.Context, key string) (int64, error) {
	count, err := r.redis.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil // Key doesn't exist = no requests yet
	}
	return count, err
}

// ResetLimit clears a rate limit counter (for testing/admin)
func (r *RateLimiter) ResetLimit(ctx context.Context, key string) error {
	return r.redis.Del(ctx, key).Err()
}
