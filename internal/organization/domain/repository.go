package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("not_found")

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, org *Organization) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Organization, error)
	List(ctx context.Context, db *gorm.DB) ([]*Organization, error)

	// NextInvoiceSequence atomically increments and returns the invoice
	// counter for the org/year pair.
	NextInvoiceSequence(ctx context.Context, db *gorm.DB, orgID snowflake.ID, year int) (int64, error)
}
