package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	OrgID      snowflake.ID
	Action     string
	EntityType string
	EntityID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}

// ActorCount is one aggregation bucket from a grouped count query.
type ActorCount struct {
	Subject string `gorm:"column:subject"`
	Count   int64  `gorm:"column:cnt"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	FindByEntity(ctx context.Context, db *gorm.DB, orgID snowflake.ID, entityType, entityID string) ([]*AuditLog, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
	CountGrouped(ctx context.Context, db *gorm.DB, orgID snowflake.ID, column string, startAt, endAt *time.Time) (map[string]int64, error)
	CountByActor(ctx context.Context, db *gorm.DB, orgID snowflake.ID, actions []string, since time.Time) ([]ActorCount, error)
	CountFailedByIP(ctx context.Context, db *gorm.DB, orgID snowflake.ID, since time.Time) ([]ActorCount, error)
}
