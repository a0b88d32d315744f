package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	auditdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/audit/domain"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/orgcontext"
)

// exportRecord is the flat compliance shape. Nested JSON snapshots are
// serialized into single fields.
type exportRecord struct {
	ID         string `json:"id"`
	CreatedAt  string `json:"created_at"`
	Action     string `json:"action"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	ActorType  string `json:"actor_type"`
	ActorID    string `json:"actor_id"`
	IPAddress  string `json:"ip_address"`
	UserAgent  string `json:"user_agent"`
	Before     string `json:"before"`
	After      string `json:"after"`
	Metadata   string `json:"metadata"`
}

func (s *Service) Export(ctx context.Context, req auditdomain.ExportRequest) ([]byte, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, auditdomain.ErrInvalidOrganization
	}

	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format != auditdomain.ExportFormatJSON && format != auditdomain.ExportFormatCSV {
		return nil, auditdomain.ErrInvalidExportFormat
	}
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return nil, auditdomain.ErrInvalidTimeRange
	}

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		OrgID:   orgID,
		StartAt: req.StartAt,
		EndAt:   req.EndAt,
	})
	if err != nil {
		return nil, err
	}

	records := make([]exportRecord, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		records = append(records, flatten(item))
	}

	s.Log(ctx, auditdomain.Entry{
		Action:     auditdomain.ActionExport,
		EntityType: "audit_log",
		Metadata: map[string]any{
			"format": format,
			"count":  strconv.Itoa(len(records)),
		},
	})

	if format == auditdomain.ExportFormatJSON {
		return json.Marshal(records)
	}
	return encodeCSV(records)
}

func flatten(item *auditdomain.AuditLog) exportRecord {
	record := exportRecord{
		ID:         item.ID.String(),
		CreatedAt:  item.CreatedAt.UTC().Format(time.RFC3339),
		Action:     item.Action,
		EntityType: item.EntityType,
		ActorType:  item.ActorType,
	}
	if item.EntityID != nil {
		record.EntityID = *item.EntityID
	}
	if item.ActorID != nil {
		record.ActorID = *item.ActorID
	}
	if item.IPAddress != nil {
		record.IPAddress = *item.IPAddress
	}
	if item.UserAgent != nil {
		record.UserAgent = *item.UserAgent
	}
	record.Before = marshalMap(item.Before)
	record.After = marshalMap(item.After)
	record.Metadata = marshalMap(item.Metadata)
	return record
}

func marshalMap(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

func encodeCSV(records []exportRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"id", "created_at", "action", "entity_type", "entity_id",
		"actor_type", "actor_id", "ip_address", "user_agent",
		"before", "after", "metadata",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, r := range records {
		row := []string{
			r.ID, r.CreatedAt, r.Action, r.EntityType, r.EntityID,
			r.ActorType, r.ActorID, r.IPAddress, r.UserAgent,
			r.Before, r.After, r.Metadata,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
