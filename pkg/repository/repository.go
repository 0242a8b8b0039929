package repository

import (
	"context"

	"github.com/smallbiznis/pawtrack/pkg/db/option"
	"gorm.io/gorm"
)

// Repository is the per-entity store used by domain services. WithTrx scopes it to a transaction handle.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindByID(ctx context.Context, id any) (*T, error)
	Create(ctx context.Context, resource *T) error
	Delete(ctx context.Context, id any) (int64, error)
	Count(ctx context.Context, query *T) (int64, error)
}
