package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Refill happens lazily on each call using redis server time, so every
// replica sees the same bucket.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local nowData = redis.call("TIME")
local now = (nowData[1] * 1000) + math.floor(nowData[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
  ts = now
else
  local delta = now - ts
  if delta < 0 then
    delta = 0
  end
  tokens = math.min(burst, tokens + (delta / 1000) * rate)
  ts = now
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HMSET", KEYS[1], "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tostring(tokens), ts}
`

var (
	errBucketNotConfigured = errors.New("rate limiter not configured")
	errEmptyKey            = errors.New("rate limiter key is empty")
	errInvalidRate         = errors.New("rate limiter rate and burst must be positive")
)

// Limit is a refill rate in tokens per second and a bucket capacity.
type Limit struct {
	Rate  float64
	Burst int
}

// ttl keeps an idle bucket around for two full refills; after that a fresh
// bucket starts full, which is the same answer.
func (l Limit) ttl() time.Duration {
	seconds := math.Ceil((float64(l.Burst) / l.Rate) * 2)
	return time.Duration(max(seconds, 1)) * time.Second
}

// TokenBucket is a redis-backed bucket per key, shared by every replica.
type TokenBucket struct {
	client redis.Scripter
	script *redis.Script
}

type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

func NewTokenBucket(client redis.Scripter) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

func (t *TokenBucket) Allow(ctx context.Context, key string, limit Limit) (Result, error) {
	if t == nil || t.client == nil {
		return Result{}, errBucketNotConfigured
	}
	if key == "" {
		return Result{}, errEmptyKey
	}
	if limit.Rate <= 0 || limit.Burst <= 0 {
		return Result{}, errInvalidRate
	}

	res, err := t.script.Run(ctx, t.client, []string{key}, limit.Rate, limit.Burst, limit.ttl().Milliseconds()).Slice()
	if err != nil {
		return Result{}, err
	}
	if len(res) < 3 {
		return Result{}, errors.New("invalid rate limit script response")
	}

	out := Result{
		Allowed:   toInt(res[0]) == 1,
		Remaining: int(toFloat(res[1])),
	}
	if !out.Allowed {
		if needed := 1.0 - toFloat(res[1]); needed > 0 {
			out.RetryAfter = time.Duration(needed / limit.Rate * float64(time.Second))
		}
	}
	return out, nil
}

func toInt(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	default:
		return 0
	}
}

// Lua numbers lose their fraction on the way out, so the script returns tokens as a string.
func toFloat(v any) float64 {
	switch val := v.(type) {
	case int64:
		return float64(val)
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	default:
		return 0
	}
}
