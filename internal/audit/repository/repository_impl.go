package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/audit/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO audit_logs (
			id, org_id, actor_type, actor_id, action, entity_type, entity_id,
			before, after, metadata, ip_address, user_agent, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.OrgID,
		entry.ActorType,
		entry.ActorID,
		entry.Action,
		entry.EntityType,
		entry.EntityID,
		entry.Before,
		entry.After,
		entry.Metadata,
		entry.IPAddress,
		entry.UserAgent,
		entry.CreatedAt,
	).Error
}

func (r *repo) FindByEntity(ctx context.Context, db *gorm.DB, orgID snowflake.ID, entityType, entityID string) ([]*domain.AuditLog, error) {
	var logs []*domain.AuditLog
	err := db.WithContext(ctx).
		Model(&domain.AuditLog{}).
		Where("org_id = ? AND entity_type = ? AND entity_id = ?", orgID, entityType, entityID).
		Order("created_at asc, id asc").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	var logs []*domain.AuditLog
	stmt := db.WithContext(ctx).Model(&domain.AuditLog{}).
		Where("org_id = ?", filter.OrgID)

	if action := strings.TrimSpace(filter.Action); action != "" {
		stmt = stmt.Where("action = ?", action)
	}
	if entityType := strings.TrimSpace(filter.EntityType); entityType != "" {
		stmt = stmt.Where("entity_type = ?", entityType)
	}
	if entityID := strings.TrimSpace(filter.EntityID); entityID != "" {
		stmt = stmt.Where("entity_id = ?", entityID)
	}
	if actorType := strings.TrimSpace(filter.ActorType); actorType != "" {
		stmt = stmt.Where("actor_type = ?", actorType)
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("created_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("created_at <= ?", filter.EndAt.UTC())
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// groupColumns restricts CountGrouped to known columns; the column name is
// interpolated into SQL.
var groupColumns = map[string]bool{
	"action":      true,
	"entity_type": true,
	"actor_type":  true,
	"actor_id":    true,
}

func (r *repo) CountGrouped(ctx context.Context, db *gorm.DB, orgID snowflake.ID, column string, startAt, endAt *time.Time) (map[string]int64, error) {
	if !groupColumns[column] {
		return nil, fmt.Errorf("unsupported group column %q", column)
	}

	stmt := db.WithContext(ctx).Model(&domain.AuditLog{}).
		Select(fmt.Sprintf("%s as subject, COUNT(*) as cnt", column)).
		Where("org_id = ?", orgID)
	if startAt != nil {
		stmt = stmt.Where("created_at >= ?", startAt.UTC())
	}
	if endAt != nil {
		stmt = stmt.Where("created_at <= ?", endAt.UTC())
	}

	var rows []domain.ActorCount
	if err := stmt.Group(column).Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Subject] = row.Count
	}
	return out, nil
}

func (r *repo) CountByActor(ctx context.Context, db *gorm.DB, orgID snowflake.ID, actions []string, since time.Time) ([]domain.ActorCount, error) {
	var rows []domain.ActorCount
	err := db.WithContext(ctx).Raw(
		`SELECT actor_id as subject, COUNT(*) as cnt
		 FROM audit_logs
		 WHERE org_id = ? AND action IN ? AND created_at >= ? AND actor_id IS NOT NULL
		 GROUP BY actor_id`,
		orgID,
		actions,
		since.UTC(),
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) CountFailedByIP(ctx context.Context, db *gorm.DB, orgID snowflake.ID, since time.Time) ([]domain.ActorCount, error) {
	var rows []domain.ActorCount
	err := db.WithContext(ctx).Raw(
		`SELECT ip_address as subject, COUNT(*) as cnt
		 FROM audit_logs
		 WHERE org_id = ? AND action = ? AND created_at >= ? AND ip_address IS NOT NULL
		 GROUP BY ip_address`,
		orgID,
		domain.ActionPaymentFail,
		since.UTC(),
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
