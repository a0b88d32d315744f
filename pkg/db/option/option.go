package option

import (
	"time"

	"gorm.io/gorm"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/pkg/db/pagination"
)

// Option mutates a gorm statement before execution.
type Option interface {
	Apply(stmt *gorm.DB) *gorm.DB
}

type paginationOption struct {
	page pagination.Pagination
}

// ApplyPagination decodes the cursor token and constrains the query to rows
// created before the cursor, fetching one extra row so callers can detect
// whether more pages exist.
func ApplyPagination(page pagination.Pagination) Option {
	return paginationOption{page: page}
}

func (o paginationOption) Apply(stmt *gorm.DB) *gorm.DB {
	size := o.page.PageSize
	if size <= 0 {
		size = 50
	}

	if o.page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(o.page.PageToken)
		if err == nil && cursor != nil && cursor.CreatedAt != "" {
			if ts, err := time.Parse(time.RFC3339, cursor.CreatedAt); err == nil {
				stmt = stmt.Where("(created_at, id) < (?, ?)", ts, cursor.ID)
			}
		}
	}

	return stmt.Limit(size + 1)
}
