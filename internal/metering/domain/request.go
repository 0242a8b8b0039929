package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/smallbiznis/pawtrack/internal/entitlement/domain"
	ledgerdomain "github.com/smallbiznis/pawtrack/internal/ledger/domain"
	tokenaccountdomain "github.com/smallbiznis/pawtrack/internal/tokenaccount/domain"
	"gorm.io/gorm"
)

// Request describes one metered write. Write runs inside the transaction and
// must use only the handle it is given.
type Request[T any] struct {
	Principal *entitlementdomain.Principal
	Action    string
	// Account is the token account to charge or credit. Zero means the principal's own.
	Account snowflake.ID
	// Amount is the credit size for credit actions. Debits always charge the policy cost.
	Amount         int64
	IdempotencyKey string

	// Authorize checks the target exists and belongs to the principal.
	// It should return ErrNotFound or ErrForbidden.
	Authorize func(ctx context.Context, db *gorm.DB, principal entitlementdomain.Principal) error
	Write     func(ctx context.Context, tx *gorm.DB) (T, error)
	Describe  func(entity T) string
	Metadata  func(entity T) map[string]any
}

type Result[T any] struct {
	Entity  T                          `json:"entity"`
	Balance tokenaccountdomain.Balance `json:"balance"`
	Entry   *ledgerdomain.LedgerEntry  `json:"-"`
}

// Limiter throttles metered writes before any transaction is opened.
type Limiter interface {
	Allow(ctx context.Context, userID snowflake.ID) error
	// Acquire guards an idempotency key while its request is in flight.
	// The returned release func is never nil.
	Acquire(ctx context.Context, userID snowflake.ID, key string) (func(), error)
}
