package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Reminder kinds.
const (
	KindUpcoming    = "UPCOMING"
	KindOverdue     = "OVERDUE"
	KindRenewal     = "RENEWAL"
	KindTrialEnding = "TRIAL_ENDING"
)

// Reminder statuses.
const (
	StatusScheduled = "SCHEDULED"
	StatusSent      = "SENT"
	StatusFailed    = "FAILED"
	StatusCanceled  = "CANCELED"
)

// Delivery channels. The channel is fixed when the reminder is booked;
// dispatch routes by it.
const (
	ChannelEmail      = "EMAIL"
	ChannelSMS        = "SMS"
	ChannelMessageApp = "MESSAGE_APP"
)

type PaymentReminder struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID      `gorm:"not null;index" json:"organization_id"`
	CustomerID     snowflake.ID      `gorm:"not null;index" json:"customer_id"`
	InvoiceID      *snowflake.ID     `gorm:"index" json:"invoice_id,omitempty"`
	SubscriptionID *snowflake.ID     `gorm:"index" json:"subscription_id,omitempty"`
	Kind           string            `gorm:"not null" json:"kind"`
	Channel        string            `gorm:"not null;default:'EMAIL'" json:"channel"`
	Status         string            `gorm:"not null;index:ix_reminders_due,priority:1" json:"status"`
	ScheduledAt    time.Time         `gorm:"column:scheduled_at;not null;index:ix_reminders_due,priority:2" json:"scheduled_at"`
	SentAt         *time.Time        `gorm:"column:sent_at" json:"sent_at,omitempty"`
	FailureReason  *string           `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (PaymentReminder) TableName() string { return "payment_reminders" }
