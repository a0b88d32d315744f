package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Audit actions.
const (
	ActionCreate       = "CREATE"
	ActionUpdate       = "UPDATE"
	ActionStatusChange = "STATUS_CHANGE"
	ActionRefund       = "REFUND"
	ActionMethodAdd    = "METHOD_ADD"
	ActionMethodRemove = "METHOD_REMOVE"
	ActionCancel       = "CANCEL"
	ActionExport       = "EXPORT"
	ActionPaymentFail  = "PAYMENT_FAILED"
)

// Audited entity types.
const (
	EntityPayment       = "payment"
	EntityPaymentMethod = "payment_method"
	EntityInvoice       = "invoice"
	EntitySubscription  = "subscription"
	EntityReminder      = "reminder"
)

const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

// AuditLog is one immutable record of a mutating billing action. Rows are
// inserted and never updated or deleted.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID      *snowflake.ID     `gorm:"column:org_id;index" json:"org_id,omitempty"`
	ActorType  string            `gorm:"column:actor_type;not null" json:"actor_type"`
	ActorID    *string           `gorm:"column:actor_id" json:"actor_id,omitempty"`
	Action     string            `gorm:"not null;index" json:"action"`
	EntityType string            `gorm:"column:entity_type;not null;index:ix_audit_entity,priority:1" json:"entity_type"`
	EntityID   *string           `gorm:"column:entity_id;index:ix_audit_entity,priority:2" json:"entity_id,omitempty"`
	Before     datatypes.JSONMap `gorm:"type:jsonb" json:"before,omitempty"`
	After      datatypes.JSONMap `gorm:"type:jsonb" json:"after,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	IPAddress  *string           `gorm:"column:ip_address" json:"ip_address,omitempty"`
	UserAgent  *string           `gorm:"column:user_agent" json:"user_agent,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// AuditCursor is the decoded pagination position for audit listing.
type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

// Summary aggregates audit volume over a window.
type Summary struct {
	Total    int64            `json:"total"`
	ByAction map[string]int64 `json:"by_action"`
	ByEntity map[string]int64 `json:"by_entity"`
	ByActor  map[string]int64 `json:"by_actor"`
}

// SuspiciousFinding flags one actor/identity whose activity crossed a
// configured threshold.
type SuspiciousFinding struct {
	Kind      string    `json:"kind"` // failed_payments | excessive_refunds | method_churn
	Subject   string    `json:"subject"`
	Count     int64     `json:"count"`
	Threshold int       `json:"threshold"`
	WindowEnd time.Time `json:"window_end"`
}
