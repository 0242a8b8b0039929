package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pawtrack/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	Category string
}

// Repository has no update or delete; entries are append-only.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *LedgerEntry) error
	List(ctx context.Context, db *gorm.DB, userID snowflake.ID, filter ListFilter, page pagination.Pagination) ([]*LedgerEntry, error)
	Sum(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error)
}
