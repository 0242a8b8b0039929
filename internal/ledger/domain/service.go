package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pawtrack/pkg/db/pagination"
	"gorm.io/gorm"
)

type AppendRequest struct {
	UserID         snowflake.ID
	Amount         int64
	Category       string
	Description    string
	Metadata       map[string]any
	IdempotencyKey string
}

type ListRequest struct {
	UserID    snowflake.ID
	Category  string
	PageToken string
	PageSize  int
}

type ListResponse struct {
	pagination.PageInfo
	Entries []LedgerEntry `json:"entries"`
}

type Service interface {
	// Append writes one entry on tx, which must be the caller's open transaction
	// when the entry belongs to a larger unit of work. A nil tx uses the service DB.
	Append(ctx context.Context, tx *gorm.DB, req AppendRequest) (*LedgerEntry, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Sum(ctx context.Context, userID snowflake.ID) (int64, error)
}

var (
	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidCategory  = errors.New("invalid_category")
	ErrDuplicateRequest = errors.New("duplicate_request")
)
