package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// endLeaseScript deletes the key only while it still holds our token, so a
// request that outlived its lease cannot end the next holder's.
const endLeaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const keyIdempotencyLease = "pawtrack:idem:%s:%s"

var errLeaseStoreMissing = errors.New("idempotency lease store not configured")

// lease marks one idempotency key of one account as in flight.
type lease struct {
	key   string
	token string
}

// leaseStore hands out in-flight markers for idempotency keys. The ledger's
// unique index is what makes a replay fail; the lease only turns a concurrent
// retry into an immediate duplicate instead of a blocked transaction.
type leaseStore struct {
	client redis.Cmdable
	end    *redis.Script
}

func newLeaseStore(client redis.Cmdable) *leaseStore {
	if client == nil {
		return nil
	}
	return &leaseStore{client: client, end: redis.NewScript(endLeaseScript)}
}

// claim returns nil without error when another request holds the key.
func (s *leaseStore) claim(ctx context.Context, account snowflake.ID, idempotencyKey string, ttl time.Duration) (*lease, error) {
	if s == nil || s.client == nil {
		return nil, errLeaseStoreMissing
	}
	if idempotencyKey == "" {
		return nil, errors.New("idempotency key is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("lease ttl must be positive")
	}

	l := &lease{
		key:   fmt.Sprintf(keyIdempotencyLease, account.String(), idempotencyKey),
		token: uuid.NewString(),
	}
	ok, err := s.client.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return l, nil
}

func (s *leaseStore) release(ctx context.Context, l *lease) error {
	if s == nil || s.client == nil || l == nil {
		return nil
	}
	return s.end.Run(ctx, s.client, []string{l.key}, l.token).Err()
}
