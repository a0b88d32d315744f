package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/pkg/db/pagination"
)

// Entry is the caller-facing shape for recording a mutating action.
type Entry struct {
	OrgID      *snowflake.ID
	Action     string
	EntityType string
	EntityID   string
	Before     map[string]any
	After      map[string]any
	Metadata   map[string]any
}

type ListRequest struct {
	pagination.Pagination
	Action     string
	EntityType string
	EntityID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

const (
	ExportFormatJSON = "json"
	ExportFormatCSV  = "csv"
)

type ExportRequest struct {
	Format  string
	StartAt *time.Time
	EndAt   *time.Time
}

type Service interface {
	// Log appends one audit record. It never returns an error: a failed
	// write is logged and swallowed so the business action cannot fail
	// because auditing failed.
	Log(ctx context.Context, entry Entry)

	ByEntity(ctx context.Context, entityType, entityID string) ([]AuditLog, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Summarize(ctx context.Context, startAt, endAt *time.Time) (*Summary, error)
	DetectSuspiciousActivity(ctx context.Context, now time.Time) ([]SuspiciousFinding, error)
	Export(ctx context.Context, req ExportRequest) ([]byte, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrInvalidTimeRange    = errors.New("invalid_time_range")
	ErrInvalidAction       = errors.New("invalid_action")
	ErrInvalidEntity       = errors.New("invalid_entity")
	ErrInvalidExportFormat = errors.New("invalid_export_format")
)
