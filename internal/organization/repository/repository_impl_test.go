package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/organization/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Organization{}, &domain.InvoiceSequence{}))
	return db
}

func TestNextInvoiceSequence(t *testing.T) {
	db := newTestDB(t)
	repo := Provide()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := repo.NextInvoiceSequence(ctx, db, 1001, 2026)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestNextInvoiceSequenceIndependentPerOrgAndYear(t *testing.T) {
	db := newTestDB(t)
	repo := Provide()
	ctx := context.Background()

	first, err := repo.NextInvoiceSequence(ctx, db, 1001, 2026)
	require.NoError(t, err)
	require.Equal(t, int64(1), first)

	otherOrg, err := repo.NextInvoiceSequence(ctx, db, 2002, 2026)
	require.NoError(t, err)
	require.Equal(t, int64(1), otherOrg)

	otherYear, err := repo.NextInvoiceSequence(ctx, db, 1001, 2027)
	require.NoError(t, err)
	require.Equal(t, int64(1), otherYear)

	again, err := repo.NextInvoiceSequence(ctx, db, 1001, 2026)
	require.NoError(t, err)
	require.Equal(t, int64(2), again)
}
