package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/pkg/db/pagination"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Customer, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter ListCustomerFilter, page pagination.Pagination) ([]*Customer, error)

	InsertMethod(ctx context.Context, db *gorm.DB, method *PaymentMethod) error
	FindMethodByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*PaymentMethod, error)
	ListMethods(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) ([]*PaymentMethod, error)
	FindDefaultMethod(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) (*PaymentMethod, error)
	ClearDefaultMethods(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) error
	SetDefaultMethod(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error
	DeleteMethod(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error
}
