package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pawtrack/internal/ledger/domain"
	"github.com/smallbiznis/pawtrack/pkg/db/option"
	"github.com/smallbiznis/pawtrack/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.LedgerEntry) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, userID snowflake.ID, filter domain.ListFilter, page pagination.Pagination) ([]*domain.LedgerEntry, error) {
	var entries []*domain.LedgerEntry
	stmt := db.WithContext(ctx).
		Model(&domain.LedgerEntry{}).
		Where("user_id = ?", userID)
	if filter.Category != "" {
		stmt = stmt.Where("category = ?", filter.Category)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) Sum(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE user_id = ?`,
		userID,
	).Scan(&total).Error
	return total, err
}
