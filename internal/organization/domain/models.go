// Package domain contains persistence models for the org service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Organization represents a tenant school.
type Organization struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name         string            `gorm:"type:text;not null" json:"name"`
	SupportEmail string            `gorm:"type:text;column:support_email" json:"support_email"`
	CountryCode  string            `gorm:"column:country_code"`
	TimezoneName string            `gorm:"column:timezone_name"`
	Address      string            `gorm:"type:text" json:"address,omitempty"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// InvoiceSequence holds the per-organization, per-year invoice counter.
// last_value is only ever advanced through an atomic upsert, which makes
// invoice numbers gap-free and collision-free under concurrent issuance.
type InvoiceSequence struct {
	OrgID     snowflake.ID `gorm:"primaryKey;column:org_id" json:"org_id"`
	Year      int          `gorm:"primaryKey" json:"year"`
	LastValue int64        `gorm:"column:last_value;not null;default:0" json:"last_value"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (InvoiceSequence) TableName() string { return "invoice_sequences" }
