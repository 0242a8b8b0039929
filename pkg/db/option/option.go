package option

import (
	"strconv"

	"github.com/smallbiznis/pawtrack/pkg/db/pagination"
	"gorm.io/gorm"
)

// QueryOption customises a repository query.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type queryOptionFunc func(db *gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

func OrderBy(expr string) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB { return db.Order(expr) })
}

func Limit(n int) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if n <= 0 {
			return db
		}
		return db.Limit(n)
	})
}

func Where(query any, args ...any) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB { return db.Where(query, args...) })
}

// ApplyPagination applies keyset paging for queries ordered by id desc. It
// fetches one extra row so callers can tell whether more pages exist.
func ApplyPagination(page pagination.Pagination) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		size := pagination.NormalizePageSize(page.PageSize)
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			_ = db.AddError(err)
			return db
		}
		if cursor != nil && cursor.ID != "" {
			id, err := strconv.ParseInt(cursor.ID, 10, 64)
			if err != nil {
				_ = db.AddError(pagination.ErrInvalidPageToken)
				return db
			}
			db = db.Where("id < ?", id)
		}
		return db.Order("id desc").Limit(size + 1)
	})
}
