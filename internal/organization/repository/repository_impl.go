package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/organization/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, org *domain.Organization) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO organizations (id, name, support_email, country_code, timezone_name, address, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		org.ID,
		org.Name,
		org.SupportEmail,
		org.CountryCode,
		org.TimezoneName,
		org.Address,
		org.Metadata,
		org.CreatedAt,
		org.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM organizations WHERE id = ?`,
		id,
	).Scan(&org).Error
	if err != nil {
		return nil, err
	}
	if org.ID == 0 {
		return nil, nil
	}
	return &org, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]*domain.Organization, error) {
	var orgs []*domain.Organization
	err := db.WithContext(ctx).
		Model(&domain.Organization{}).
		Order("created_at asc").
		Find(&orgs).Error
	if err != nil {
		return nil, err
	}
	return orgs, nil
}

// NextInvoiceSequence relies on the upsert being a single atomic statement.
// Concurrent callers serialize on the (org_id, year) row and each observe a
// distinct value.
func (r *repo) NextInvoiceSequence(ctx context.Context, db *gorm.DB, orgID snowflake.ID, year int) (int64, error) {
	var next int64
	err := db.WithContext(ctx).Raw(
		`INSERT INTO invoice_sequences (org_id, year, last_value, updated_at)
		 VALUES (?, ?, 1, CURRENT_TIMESTAMP)
		 ON CONFLICT (org_id, year)
		 DO UPDATE SET last_value = invoice_sequences.last_value + 1, updated_at = CURRENT_TIMESTAMP
		 RETURNING last_value`,
		orgID,
		year,
	).Scan(&next).Error
	if err != nil {
		return 0, err
	}
	return next, nil
}
