package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pawtrack/internal/tokenaccount/domain"
	pkgdb "github.com/smallbiznis/pawtrack/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Open(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time) error {
	if userID == 0 {
		return domain.ErrInvalidUser
	}
	account := domain.TokenAccount{
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&account).Error
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.TokenAccount, error) {
	var account domain.TokenAccount
	err := db.WithContext(ctx).Raw(
		`SELECT user_id, balance, consumed_total, created_at, updated_at
		 FROM token_accounts WHERE user_id = ?`,
		userID,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.UserID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) ApplyDelta(ctx context.Context, db *gorm.DB, userID snowflake.ID, delta int64, isLegacy bool, now time.Time) (domain.Balance, error) {
	if userID == 0 {
		return domain.Balance{}, domain.ErrInvalidUser
	}
	if delta == 0 {
		return domain.Balance{}, domain.ErrInvalidDelta
	}

	var consumed int64
	if delta < 0 {
		consumed = -delta
	}

	var result *gorm.DB
	if isLegacy {
		result = db.WithContext(ctx).Exec(
			`UPDATE token_accounts
			 SET consumed_total = consumed_total + ?, updated_at = ?
			 WHERE user_id = ?`,
			consumed, now, userID,
		)
	} else {
		// Check and mutation in one statement so the row lock covers both.
		result = db.WithContext(ctx).Exec(
			`UPDATE token_accounts
			 SET balance = balance + ?, consumed_total = consumed_total + ?, updated_at = ?
			 WHERE user_id = ? AND balance + ? >= 0`,
			delta, consumed, now, userID, delta,
		)
	}
	if result.Error != nil {
		if pkgdb.IsCheckViolation(result.Error) {
			return domain.Balance{}, domain.ErrInsufficientBalance
		}
		return domain.Balance{}, result.Error
	}
	if result.RowsAffected == 0 {
		if delta < 0 && !isLegacy {
			return domain.Balance{}, domain.ErrInsufficientBalance
		}
		return domain.Balance{}, domain.ErrAccountNotFound
	}

	account, err := r.FindByUserID(ctx, db, userID)
	if err != nil {
		return domain.Balance{}, err
	}
	if account == nil {
		return domain.Balance{}, domain.ErrAccountNotFound
	}
	return account.Snapshot(), nil
}
