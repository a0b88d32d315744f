package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/customer/domain"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/pkg/db/option"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/pkg/db/pagination"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customers (id, org_id, name, email, region, tax_exempt, reduced_rate, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		customer.ID,
		customer.OrgID,
		customer.Name,
		customer.Email,
		customer.Region,
		customer.TaxExempt,
		customer.ReducedRate,
		customer.Metadata,
		customer.CreatedAt,
		customer.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, name, email, region, tax_exempt, reduced_rate, metadata, created_at, updated_at
		 FROM customers WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&customer).Error
	if err != nil {
		return nil, err
	}
	if customer.ID == 0 {
		return nil, nil
	}
	return &customer, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.ListCustomerFilter, page pagination.Pagination) ([]*domain.Customer, error) {
	var customers []*domain.Customer
	stmt := db.WithContext(ctx).
		Model(&domain.Customer{}).
		Where("org_id = ?", orgID)
	if filter.Name != "" {
		stmt = stmt.Where("name = ?", filter.Name)
	}
	if filter.Email != "" {
		stmt = stmt.Where("email = ?", filter.Email)
	}
	if filter.Region != "" {
		stmt = stmt.Where("region = ?", filter.Region)
	}
	if filter.CreatedFrom != nil {
		stmt = stmt.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		stmt = stmt.Where("created_at <= ?", *filter.CreatedTo)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&customers).Error
	if err != nil {
		return nil, err
	}
	return customers, nil
}

func (r *repo) InsertMethod(ctx context.Context, db *gorm.DB, method *domain.PaymentMethod) error {
	return db.WithContext(ctx).Create(method).Error
}

func (r *repo) FindMethodByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.PaymentMethod, error) {
	var method domain.PaymentMethod
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM payment_methods WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&method).Error
	if err != nil {
		return nil, err
	}
	if method.ID == 0 {
		return nil, nil
	}
	return &method, nil
}

func (r *repo) ListMethods(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) ([]*domain.PaymentMethod, error) {
	var methods []*domain.PaymentMethod
	err := db.WithContext(ctx).
		Model(&domain.PaymentMethod{}).
		Where("org_id = ? AND customer_id = ?", orgID, customerID).
		Order("created_at desc, id desc").
		Find(&methods).Error
	if err != nil {
		return nil, err
	}
	return methods, nil
}

func (r *repo) FindDefaultMethod(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) (*domain.PaymentMethod, error) {
	var method domain.PaymentMethod
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM payment_methods
		 WHERE org_id = ? AND customer_id = ? AND is_default = ?
		 LIMIT 1`,
		orgID,
		customerID,
		true,
	).Scan(&method).Error
	if err != nil {
		return nil, err
	}
	if method.ID == 0 {
		return nil, nil
	}
	return &method, nil
}

func (r *repo) ClearDefaultMethods(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_methods SET is_default = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE org_id = ? AND customer_id = ? AND is_default = ?`,
		false,
		orgID,
		customerID,
		true,
	).Error
}

func (r *repo) SetDefaultMethod(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_methods SET is_default = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE org_id = ? AND id = ?`,
		true,
		orgID,
		id,
	).Error
}

func (r *repo) DeleteMethod(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM payment_methods WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Error
}
