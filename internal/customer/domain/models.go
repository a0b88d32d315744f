package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Customer struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID      `gorm:"not null;index" json:"organization_id"`
	Name        string            `gorm:"not null" json:"name"`
	Email       string            `gorm:"not null" json:"email"`
	Region      string            `gorm:"not null;default:'JP'" json:"region"`
	TaxExempt   bool              `gorm:"column:tax_exempt;not null;default:false" json:"tax_exempt"`
	ReducedRate bool              `gorm:"column:reduced_rate;not null;default:false" json:"reduced_rate"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// Payment method types.
const (
	MethodTypeCard    = "CARD"
	MethodTypeQR      = "QR_WALLET"
	MethodTypeKonbini = "KONBINI"
)

// PaymentMethod is a stored charging instrument for a customer. At most one
// method per customer carries is_default = true; the payment service owns
// that invariant.
type PaymentMethod struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID      `gorm:"not null;index" json:"organization_id"`
	CustomerID  snowflake.ID      `gorm:"not null;index" json:"customer_id"`
	Type        string            `gorm:"not null" json:"type"`
	Provider    string            `gorm:"not null" json:"provider"`
	ExternalID  string            `gorm:"column:external_id" json:"external_id,omitempty"`
	MaskedID    string            `gorm:"column:masked_id" json:"masked_id,omitempty"` // e.g. last four digits
	Brand       string            `json:"brand,omitempty"`
	ExpiryMonth int               `gorm:"column:expiry_month" json:"expiry_month,omitempty"`
	ExpiryYear  int               `gorm:"column:expiry_year" json:"expiry_year,omitempty"`
	IsDefault   bool              `gorm:"column:is_default;not null;default:false" json:"is_default"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}
