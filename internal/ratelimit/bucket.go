// Package ratelimit implements rate limiting backed by a shared Redis store:
// a per-caller token bucket for inbound requests and a cross-process interval
// limiter for outbound registry calls. Every read-modify-write runs as a single
// Lua script so concurrent callers cannot lose updates.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills lazily, then consumes cost if available.
// KEYS[1] bucket key; ARGV: capacity, refill/sec, now (sec), cost, ttl (sec).
// Returns {allowed (0|1), tokens as string}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

local elapsed = now - ts
if elapsed < 0 then
  elapsed = 0
end
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('EXPIRE', key, ttl)
return {allowed, tostring(tokens)}
`)

// Info describes the bucket after a decision.
type Info struct {
	Remaining  float64       `json:"remaining"`
	Capacity   float64       `json:"capacity"`
	ResetAfter time.Duration `json:"reset_after"` // time until the bucket is full again
	FailOpen   bool          `json:"fail_open,omitempty"`
}

// BucketConfig configures a TokenBucket.
type BucketConfig struct {
	Capacity     float64
	RefillPerSec float64
	TTL          time.Duration // inactivity expiry of a bucket key
	Prefix       string
}

// TokenBucket is a distributed per-key token bucket.
type TokenBucket struct {
	rdb    redis.Scripter
	cfg    BucketConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewTokenBucket creates a bucket over rdb.
func NewTokenBucket(rdb redis.Scripter, cfg BucketConfig) *TokenBucket {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "ratelimit:bucket:"
	}
	return &TokenBucket{
		rdb:    rdb,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default().With("component", "ratelimit"),
	}
}

// SetClock replaces the time source. Intended for tests.
func (b *TokenBucket) SetClock(now func() time.Time) { b.now = now }

// Capacity returns the configured burst capacity.
func (b *TokenBucket) Capacity() float64 { return b.cfg.Capacity }

// Allow consumes cost tokens for key if available. When the store cannot be
// reached the request is allowed and the failure logged.
func (b *TokenBucket) Allow(ctx context.Context, key string, cost float64) (bool, Info) {
	if cost <= 0 {
		cost = 1
	}
	now := float64(b.now().UnixMicro()) / 1e6
	res, err := tokenBucketScript.Run(ctx, b.rdb, []string{b.cfg.Prefix + key},
		b.cfg.Capacity,
		b.cfg.RefillPerSec,
		strconv.FormatFloat(now, 'f', 6, 64),
		cost,
		int64(math.Ceil(b.cfg.TTL.Seconds())),
	).Slice()
	if err != nil {
		b.logger.Error("token bucket unavailable, failing open", "key", key, "err", err)
		return true, Info{Remaining: b.cfg.Capacity, Capacity: b.cfg.Capacity, FailOpen: true}
	}

	allowed, tokens, err := parseBucketReply(res)
	if err != nil {
		b.logger.Error("token bucket reply malformed, failing open", "key", key, "err", err)
		return true, Info{Remaining: b.cfg.Capacity, Capacity: b.cfg.Capacity, FailOpen: true}
	}
	return allowed, b.info(tokens)
}

func (b *TokenBucket) info(tokens float64) Info {
	info := Info{Remaining: tokens, Capacity: b.cfg.Capacity}
	if b.cfg.RefillPerSec > 0 && tokens < b.cfg.Capacity {
		secs := (b.cfg.Capacity - tokens) / b.cfg.RefillPerSec
		info.ResetAfter = time.Duration(secs * float64(time.Second))
	}
	return info
}

func parseBucketReply(res []any) (bool, float64, error) {
	if len(res) != 2 {
		return false, 0, fmt.Errorf("expected 2 values, got %d", len(res))
	}
	flag, ok := res[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("allowed flag has type %T", res[0])
	}
	s, ok := res[1].(string)
	if !ok {
		return false, 0, fmt.Errorf("tokens has type %T", res[1])
	}
	tokens, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false, 0, fmt.Errorf("parse tokens %q: %w", s, err)
	}
	return flag == 1, tokens, nil
}
