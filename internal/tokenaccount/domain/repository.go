package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository mutates token accounts. Every call takes the transaction handle it
// must run on; balances only ever move by a signed delta.
type Repository interface {
	// Open creates a zero account for userID unless one already exists.
	Open(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time) error
	FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*TokenAccount, error)
	// ApplyDelta adds delta to the balance. Debits that would go below zero fail
	// with ErrInsufficientBalance and change nothing. For legacy accounts the
	// balance is left alone and only consumption is tracked.
	ApplyDelta(ctx context.Context, db *gorm.DB, userID snowflake.ID, delta int64, isLegacy bool, now time.Time) (Balance, error)
}
