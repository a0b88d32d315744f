package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/audit/domain"
	auditrepo "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/audit/repository"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/auditcontext"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/clock"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/config"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/orgcontext"
)

const testOrgID = snowflake.ID(7001)

func newTestService(t *testing.T) (*Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fake,
		Billing: config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
		Repo:    auditrepo.Provide(),
	}).(*Service)

	return svc, db, fake
}

func orgCtx() context.Context {
	return orgcontext.WithOrgID(context.Background(), testOrgID)
}

func TestLogWritesRecord(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := auditcontext.WithActor(orgCtx(), auditcontext.ActorTypeUser, "user-1")
	ctx = auditcontext.WithIPAddress(ctx, "203.0.113.9")

	svc.Log(ctx, auditdomain.Entry{
		Action:     auditdomain.ActionCreate,
		EntityType: auditdomain.EntityPayment,
		EntityID:   "12345",
		After:      map[string]any{"status": "PENDING"},
	})

	var rows []auditdomain.AuditLog
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, auditdomain.ActionCreate, rows[0].Action)
	assert.Equal(t, auditdomain.EntityPayment, rows[0].EntityType)
	require.NotNil(t, rows[0].ActorID)
	assert.Equal(t, "user-1", *rows[0].ActorID)
	require.NotNil(t, rows[0].IPAddress)
	assert.Equal(t, "203.0.113.9", *rows[0].IPAddress)
}

type failingRepo struct {
	auditdomain.Repository
}

func (failingRepo) Insert(ctx context.Context, db *gorm.DB, entry *auditdomain.AuditLog) error {
	return errors.New("disk full")
}

func TestLogSwallowsWriteFailure(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.repo = failingRepo{}

	// must not panic or surface the error
	svc.Log(orgCtx(), auditdomain.Entry{
		Action:     auditdomain.ActionCreate,
		EntityType: auditdomain.EntityPayment,
	})
}

func TestLogMasksSensitiveMetadata(t *testing.T) {
	svc, db, _ := newTestService(t)

	svc.Log(orgCtx(), auditdomain.Entry{
		Action:     auditdomain.ActionMethodAdd,
		EntityType: auditdomain.EntityPaymentMethod,
		Metadata:   map[string]any{"card_number": "4242424242424242"},
	})

	var row auditdomain.AuditLog
	require.NoError(t, db.First(&row).Error)
	masked, _ := row.Metadata["card_number"].(string)
	assert.NotContains(t, masked, "424242424242")
	assert.True(t, strings.HasSuffix(masked, "4242"))
}

func TestByEntityChronological(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := orgCtx()

	svc.Log(ctx, auditdomain.Entry{Action: auditdomain.ActionCreate, EntityType: auditdomain.EntityInvoice, EntityID: "inv-1"})
	fake.Advance(time.Minute)
	svc.Log(ctx, auditdomain.Entry{Action: auditdomain.ActionStatusChange, EntityType: auditdomain.EntityInvoice, EntityID: "inv-1"})
	svc.Log(ctx, auditdomain.Entry{Action: auditdomain.ActionCreate, EntityType: auditdomain.EntityInvoice, EntityID: "inv-2"})

	logs, err := svc.ByEntity(ctx, auditdomain.EntityInvoice, "inv-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, auditdomain.ActionCreate, logs[0].Action)
	assert.Equal(t, auditdomain.ActionStatusChange, logs[1].Action)
}

func TestByEntityRequiresOrg(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.ByEntity(context.Background(), auditdomain.EntityInvoice, "inv-1")
	assert.ErrorIs(t, err, auditdomain.ErrInvalidOrganization)
}

func TestSummarize(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := auditcontext.WithActor(orgCtx(), auditcontext.ActorTypeUser, "user-1")

	svc.Log(ctx, auditdomain.Entry{Action: auditdomain.ActionCreate, EntityType: auditdomain.EntityPayment})
	svc.Log(ctx, auditdomain.Entry{Action: auditdomain.ActionCreate, EntityType: auditdomain.EntityInvoice})
	svc.Log(ctx, auditdomain.Entry{Action: auditdomain.ActionRefund, EntityType: auditdomain.EntityPayment})

	summary, err := svc.Summarize(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.Total)
	assert.Equal(t, int64(2), summary.ByAction[auditdomain.ActionCreate])
	assert.Equal(t, int64(2), summary.ByEntity[auditdomain.EntityPayment])
	assert.Equal(t, int64(3), summary.ByActor["user-1"])
}

func TestDetectSuspiciousRefunds(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := auditcontext.WithActor(orgCtx(), auditcontext.ActorTypeUser, "staff-9")

	// default threshold is 3 refunds in window
	for i := 0; i < 3; i++ {
		svc.Log(ctx, auditdomain.Entry{Action: auditdomain.ActionRefund, EntityType: auditdomain.EntityPayment})
	}

	findings, err := svc.DetectSuspiciousActivity(ctx, fake.Now())
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "excessive_refunds", findings[0].Kind)
	assert.Equal(t, "staff-9", findings[0].Subject)
	assert.Equal(t, int64(3), findings[0].Count)
}

func TestDetectSuspiciousBelowThreshold(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := auditcontext.WithActor(orgCtx(), auditcontext.ActorTypeUser, "staff-9")

	svc.Log(ctx, auditdomain.Entry{Action: auditdomain.ActionRefund, EntityType: auditdomain.EntityPayment})

	findings, err := svc.DetectSuspiciousActivity(ctx, fake.Now())
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestDetectSuspiciousIgnoresOldWindow(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := auditcontext.WithActor(orgCtx(), auditcontext.ActorTypeUser, "staff-9")

	for i := 0; i < 3; i++ {
		svc.Log(ctx, auditdomain.Entry{Action: auditdomain.ActionRefund, EntityType: auditdomain.EntityPayment})
	}
	// default window is 7 days
	fake.Advance(8 * 24 * time.Hour)

	findings, err := svc.DetectSuspiciousActivity(ctx, fake.Now())
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestExportJSON(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := orgCtx()

	svc.Log(ctx, auditdomain.Entry{Action: auditdomain.ActionCreate, EntityType: auditdomain.EntityPayment, EntityID: "p-1"})

	out, err := svc.Export(ctx, auditdomain.ExportRequest{Format: auditdomain.ExportFormatJSON})
	require.NoError(t, err)

	var records []map[string]any
	require.NoError(t, json.Unmarshal(out, &records))
	require.Len(t, records, 1)
	assert.Equal(t, auditdomain.ActionCreate, records[0]["action"])
}

func TestExportCSVQuotesFields(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := orgCtx()

	svc.Log(ctx, auditdomain.Entry{
		Action:     auditdomain.ActionCreate,
		EntityType: auditdomain.EntityPayment,
		Metadata:   map[string]any{"note": `monthly, "group A"`},
	})

	out, err := svc.Export(ctx, auditdomain.ExportRequest{Format: auditdomain.ExportFormatCSV})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "id,created_at,action"))
	// embedded quotes survive the round trip
	assert.Contains(t, lines[1], "group A")
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Export(orgCtx(), auditdomain.ExportRequest{Format: "xml"})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidExportFormat)
}
