package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seenimoa/edgarsync/internal/infra"
)

// intervalScript reserves the next call slot shared by every process.
// KEYS[1] limiter key; ARGV: now (ms), interval (ms), ttl (ms).
// Returns the milliseconds the caller must wait before its slot.
var intervalScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local nextAt = tonumber(redis.call('GET', key) or '0') or 0
local slot = now
if nextAt > slot then
  slot = nextAt
end
redis.call('SET', key, tostring(slot + interval), 'PX', ttl)
return slot - now
`)

// SharedIntervalLimiter spaces outbound calls across processes by keeping the
// next permitted call time in Redis. If Redis is unreachable it falls back to
// an in-process limiter with the same interval rather than failing open.
type SharedIntervalLimiter struct {
	rdb      redis.Scripter
	key      string
	interval time.Duration
	now      func() time.Time
	local    *infra.RateLimiter
	logger   *slog.Logger
}

// NewSharedIntervalLimiter creates a limiter allowing callsPerSecond across all holders of key.
func NewSharedIntervalLimiter(rdb redis.Scripter, key string, callsPerSecond float64) *SharedIntervalLimiter {
	local := infra.NewRateLimiter(callsPerSecond)
	return &SharedIntervalLimiter{
		rdb:      rdb,
		key:      "ratelimit:interval:" + key,
		interval: local.Interval(),
		now:      time.Now,
		local:    local,
		logger:   slog.Default().With("component", "ratelimit"),
	}
}

// Reserve books the next slot and returns how long the caller must wait for it.
func (l *SharedIntervalLimiter) Reserve(ctx context.Context) (time.Duration, error) {
	ttl := l.interval * 10
	if ttl < time.Second {
		ttl = time.Second
	}
	ms, err := intervalScript.Run(ctx, l.rdb, []string{l.key},
		strconv.FormatInt(l.now().UnixMilli(), 10),
		l.interval.Milliseconds(),
		ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// Wait blocks until the caller's shared slot arrives.
func (l *SharedIntervalLimiter) Wait(ctx context.Context) error {
	d, err := l.Reserve(ctx)
	if err != nil {
		l.logger.Warn("shared limiter unavailable, using local interval", "err", err)
		return l.local.Wait(ctx)
	}
	return infra.SleepCtx(ctx, d)
}

var _ infra.Limiter = (*SharedIntervalLimiter)(nil)
