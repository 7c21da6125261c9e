package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"CoopLedger/internal/models"
	"CoopLedger/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a disposable database; they create and drop their own
// tables in a temporary schema.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	pool, err := Connect(ctx, dsn+sep+"search_path=ledger_test")
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	ddl, err := os.ReadFile("schema.sql")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `DROP SCHEMA IF EXISTS ledger_test CASCADE; CREATE SCHEMA ledger_test`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(ddl))
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
		INSERT INTO periods (period_id, label) VALUES (1, 'JAN');
		INSERT INTO members (member_id, staff_id, name, active, savings_balance) VALUES
			(10, '100', 'Ada', true, 25.50),
			(20, '200', 'Bayo', true, 0),
			(30, '00123', 'Chi', true, 0);`)
	require.NoError(t, err)
	return NewStore(pool)
}

func TestPostgresLedgerRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	m, err := tx.FindMemberByStaffID(ctx, "100")
	require.NoError(t, err)
	assert.True(t, m.SavingsBalance.Equal(decimal.RequireFromString("25.50")))

	_, err = tx.FindMemberByStaffID(ctx, "999")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	padded, err := tx.FindMemberByStaffID(ctx, "123")
	require.NoError(t, err)
	assert.Equal(t, int64(30), padded.MemberID)

	rec := models.LedgerRecord{MemberID: 10, PeriodID: 1, Kind: models.KindContribution, Amount: decimal.RequireFromString("-12.34"), UpdatedBy: "test", UpdatedAt: time.Now()}
	require.NoError(t, tx.InsertLedger(ctx, rec))
	assert.ErrorIs(t, tx.InsertLedger(ctx, rec), storage.ErrDuplicate)

	amount, ok, err := tx.GetLedgerAmount(ctx, 10, 1, models.KindContribution)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, amount.Equal(rec.Amount))

	padRec := models.LedgerRecord{MemberID: 30, PeriodID: 1, Kind: models.KindContribution, Amount: decimal.NewFromInt(75), UpdatedBy: "test", UpdatedAt: time.Now()}
	require.NoError(t, tx.InsertLedger(ctx, padRec))
	n, err := tx.ZeroLedgerExcept(ctx, 1, models.KindContribution, []string{"123"}, "test", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only member 10 is absent")
	amount, _, err = tx.GetLedgerAmount(ctx, 30, 1, models.KindContribution)
	require.NoError(t, err)
	assert.True(t, amount.Equal(padRec.Amount))
}

func TestPostgresSavepointIsolatesUniqueViolation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	a := models.LoanApproval{MemberID: 20, PeriodID: 1, BatchLabel: "B1", Amount: decimal.NewFromInt(1200), Term: 12, Installment: decimal.NewFromInt(100), CreatedBy: "test", CreatedAt: time.Now()}
	require.NoError(t, tx.InsertApproval(ctx, a))

	sp, err := tx.Savepoint(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, sp.InsertApproval(ctx, a), storage.ErrDuplicate)
	require.NoError(t, sp.Rollback(ctx))

	n, err := tx.ZeroLedgerExcept(ctx, 1, models.KindContribution, nil, "test", time.Now())
	require.NoError(t, err, "the outer transaction survives the failed savepoint")
	assert.Equal(t, int64(0), n)
	require.NoError(t, tx.Commit(ctx))
}
