package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/pawtrack/internal/config"
	meteringdomain "github.com/smallbiznis/pawtrack/internal/metering/domain"
	obsmetrics "github.com/smallbiznis/pawtrack/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyMeteredWriteUser = "pawtrack:metered:user:%s"

	endpointMeteredWrite = "metered_write"
)

type Params struct {
	fx.In

	Lc         fx.Lifecycle
	Config     config.Config
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// MeteredWriteLimiter throttles metered writes per token account and guards
// in-flight idempotency keys. A nil or disabled limiter allows everything.
type MeteredWriteLimiter struct {
	enabled bool

	bucket     *TokenBucket
	leases     *leaseStore
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics

	limit   Limit
	lockTTL time.Duration
}

func NewMeteredWriteLimiter(p Params) (*MeteredWriteLimiter, error) {
	limitCfg := p.Config.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})
	if p.Lc != nil {
		p.Lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return client.Close() },
		})
	}

	return newMeteredWriteLimiter(client, limitCfg, p.Log, p.ObsMetrics)
}

func newMeteredWriteLimiter(client redis.Cmdable, cfg config.RateLimitConfig, log *zap.Logger, m *obsmetrics.Metrics) (*MeteredWriteLimiter, error) {
	if cfg.MeteredWriteRate <= 0 || cfg.MeteredWriteBurst <= 0 {
		return nil, errors.New("metered write rate limit must be positive")
	}
	ttl := time.Duration(cfg.IdempotencyLockTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MeteredWriteLimiter{
		enabled:    true,
		bucket:     NewTokenBucket(client),
		leases:     newLeaseStore(client),
		log:        log.Named("ratelimit"),
		obsMetrics: m,
		limit:      Limit{Rate: cfg.MeteredWriteRate, Burst: cfg.MeteredWriteBurst},
		lockTTL:    ttl,
	}, nil
}

func (l *MeteredWriteLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow takes one token from userID's bucket. Redis errors fail open so an
// outage of the limiter never blocks writes.
func (l *MeteredWriteLimiter) Allow(ctx context.Context, userID snowflake.ID) error {
	if !l.Enabled() {
		return nil
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyMeteredWriteUser, userID.String()), l.limit)
	if err != nil {
		l.log.Warn("rate limiter unavailable, allowing request", zap.Error(err))
		return nil
	}
	if !res.Allowed {
		l.obsMetrics.RecordRateLimitDenied(ctx, endpointMeteredWrite, "bucket_empty")
		return fmt.Errorf("%w: retry after %s", meteringdomain.ErrRateLimited, res.RetryAfter.Round(time.Millisecond))
	}
	l.obsMetrics.RecordRateLimitAllowed(ctx, endpointMeteredWrite)
	return nil
}

// Acquire holds key for userID until release is called or the lease expires.
// A key already held by another request is reported as a duplicate.
func (l *MeteredWriteLimiter) Acquire(ctx context.Context, userID snowflake.ID, key string) (func(), error) {
	noop := func() {}
	key = strings.TrimSpace(key)
	if !l.Enabled() || key == "" {
		return noop, nil
	}

	held, err := l.leases.claim(ctx, userID, key, l.lockTTL)
	if err != nil {
		l.log.Warn("idempotency lease unavailable", zap.Error(err))
		return noop, nil
	}
	if held == nil {
		l.obsMetrics.RecordRateLimitDenied(ctx, endpointMeteredWrite, "in_flight")
		return noop, meteringdomain.ErrDuplicateRequest
	}

	return func() {
		if err := l.leases.release(context.WithoutCancel(ctx), held); err != nil {
			l.log.Warn("failed to release idempotency lease", zap.String("key", held.key), zap.Error(err))
		}
	}, nil
}
