package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	auditdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/audit/domain"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/audit/masking"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/auditcontext"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/clock"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/config"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/orgcontext"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/pkg/db/pagination"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Billing *config.BillingConfigHolder
	Repo    auditdomain.Repository
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	billing *config.BillingConfigHolder
	repo    auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("audit.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		billing: p.Billing,
		repo:    p.Repo,
	}
}

// Log appends one immutable record. A write failure is logged and swallowed:
// the business action that triggered the audit must not fail because
// auditing failed.
func (s *Service) Log(ctx context.Context, entry auditdomain.Entry) {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		s.log.Warn("audit entry dropped: empty action")
		return
	}

	entityType := strings.TrimSpace(entry.EntityType)
	if entityType == "" {
		entityType = "unknown"
	}

	orgID := entry.OrgID
	if orgID == nil || *orgID == 0 {
		if resolved, ok := orgcontext.OrgIDFromContext(ctx); ok && resolved != 0 {
			orgID = &resolved
		} else {
			orgID = nil
		}
	}

	actorType, actorID := auditcontext.ActorFromContext(ctx)

	record := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		OrgID:      orgID,
		ActorType:  actorType,
		Action:     action,
		EntityType: entityType,
		Before:     datatypes.JSONMap(masking.MaskJSON(entry.Before)),
		After:      datatypes.JSONMap(masking.MaskJSON(entry.After)),
		Metadata:   datatypes.JSONMap{},
		CreatedAt:  s.clock.Now(),
	}
	if actorID != "" {
		record.ActorID = &actorID
	}
	if id := strings.TrimSpace(entry.EntityID); id != "" {
		record.EntityID = &id
	}
	if masked := masking.MaskJSON(entry.Metadata); masked != nil {
		record.Metadata = datatypes.JSONMap(masked)
	}
	if requestID := auditcontext.RequestIDFromContext(ctx); requestID != "" {
		record.Metadata["request_id"] = requestID
	}
	if ip := auditcontext.IPAddressFromContext(ctx); ip != "" {
		record.IPAddress = &ip
	}
	if ua := auditcontext.UserAgentFromContext(ctx); ua != "" {
		record.UserAgent = &ua
	}

	if err := s.repo.Insert(ctx, s.db, &record); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.Error(err),
		)
	}
}

func (s *Service) ByEntity(ctx context.Context, entityType, entityID string) ([]auditdomain.AuditLog, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, auditdomain.ErrInvalidOrganization
	}
	entityType = strings.TrimSpace(entityType)
	entityID = strings.TrimSpace(entityID)
	if entityType == "" || entityID == "" {
		return nil, auditdomain.ErrInvalidEntity
	}

	items, err := s.repo.FindByEntity(ctx, s.db, orgID, entityType, entityID)
	if err != nil {
		return nil, err
	}

	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		logs = append(logs, *item)
	}
	return logs, nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidOrganization
	}

	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidTimeRange
	}

	var cursor *auditdomain.AuditCursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339, decoded.CreatedAt)
		if err != nil {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		cursor = &auditdomain.AuditCursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		OrgID:      orgID,
		Action:     req.Action,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		ActorType:  req.ActorType,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      pageSize,
	})
	if err != nil {
		return auditdomain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *auditdomain.AuditLog) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		logs = append(logs, *item)
	}

	resp := auditdomain.ListResponse{AuditLogs: logs}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Summarize(ctx context.Context, startAt, endAt *time.Time) (*auditdomain.Summary, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, auditdomain.ErrInvalidOrganization
	}
	if startAt != nil && endAt != nil && startAt.After(*endAt) {
		return nil, auditdomain.ErrInvalidTimeRange
	}

	byAction, err := s.repo.CountGrouped(ctx, s.db, orgID, "action", startAt, endAt)
	if err != nil {
		return nil, err
	}
	byEntity, err := s.repo.CountGrouped(ctx, s.db, orgID, "entity_type", startAt, endAt)
	if err != nil {
		return nil, err
	}
	byActor, err := s.repo.CountGrouped(ctx, s.db, orgID, "actor_id", startAt, endAt)
	if err != nil {
		return nil, err
	}

	summary := &auditdomain.Summary{
		ByAction: byAction,
		ByEntity: byEntity,
		ByActor:  byActor,
	}
	for _, count := range byAction {
		summary.Total += count
	}
	return summary, nil
}

// DetectSuspiciousActivity scans the configured window for actors and source
// addresses whose activity crossed policy thresholds. Thresholds come from
// billing config, not fixed logic.
func (s *Service) DetectSuspiciousActivity(ctx context.Context, now time.Time) ([]auditdomain.SuspiciousFinding, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, auditdomain.ErrInvalidOrganization
	}

	policy := s.billing.Get().Suspicious
	since := now.UTC().AddDate(0, 0, -policy.WindowDays)

	var findings []auditdomain.SuspiciousFinding

	failedByIP, err := s.repo.CountFailedByIP(ctx, s.db, orgID, since)
	if err != nil {
		return nil, err
	}
	for _, row := range failedByIP {
		if row.Count >= int64(policy.FailedCountThreshold) {
			findings = append(findings, auditdomain.SuspiciousFinding{
				Kind:      "failed_payments",
				Subject:   row.Subject,
				Count:     row.Count,
				Threshold: policy.FailedCountThreshold,
				WindowEnd: now.UTC(),
			})
		}
	}

	failedByActor, err := s.repo.CountByActor(ctx, s.db, orgID, []string{auditdomain.ActionPaymentFail}, since)
	if err != nil {
		return nil, err
	}
	for _, row := range failedByActor {
		if row.Count >= int64(policy.FailedCountThreshold) {
			findings = append(findings, auditdomain.SuspiciousFinding{
				Kind:      "failed_payments",
				Subject:   row.Subject,
				Count:     row.Count,
				Threshold: policy.FailedCountThreshold,
				WindowEnd: now.UTC(),
			})
		}
	}

	refunds, err := s.repo.CountByActor(ctx, s.db, orgID, []string{auditdomain.ActionRefund}, since)
	if err != nil {
		return nil, err
	}
	for _, row := range refunds {
		if row.Count >= int64(policy.RefundCountThreshold) {
			findings = append(findings, auditdomain.SuspiciousFinding{
				Kind:      "excessive_refunds",
				Subject:   row.Subject,
				Count:     row.Count,
				Threshold: policy.RefundCountThreshold,
				WindowEnd: now.UTC(),
			})
		}
	}

	methodChurn, err := s.repo.CountByActor(ctx, s.db, orgID,
		[]string{auditdomain.ActionMethodAdd, auditdomain.ActionMethodRemove}, since)
	if err != nil {
		return nil, err
	}
	for _, row := range methodChurn {
		if row.Count >= int64(policy.MethodChurnThreshold) {
			findings = append(findings, auditdomain.SuspiciousFinding{
				Kind:      "method_churn",
				Subject:   row.Subject,
				Count:     row.Count,
				Threshold: policy.MethodChurnThreshold,
				WindowEnd: now.UTC(),
			})
		}
	}

	return findings, nil
}
