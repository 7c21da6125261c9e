package reconcile

import (
	"context"
	"testing"

	"CoopLedger/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertCreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	s := seedStore()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	action, err := Upsert(ctx, tx, ledger(10, 1, models.KindContribution, "10.005"))
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, action)

	action, err = Upsert(ctx, tx, ledger(10, 1, models.KindContribution, "-3"))
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, action)

	action, err = Upsert(ctx, tx, ledger(10, 1, models.KindLoanSavings, "1"))
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, action, "kinds are separate rows")
	require.NoError(t, tx.Commit(ctx))

	amounts := s.LedgerAmounts()
	assert.Equal(t, "-3.00", amounts["10/1/contribution"])
	assert.Len(t, amounts, 2)
}

func TestUpsertRoundsToCents(t *testing.T) {
	ctx := context.Background()
	s := seedStore()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = Upsert(ctx, tx, ledger(20, 1, models.KindContribution, "10.005"))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	rec, ok := s.Ledger(20, 1, models.KindContribution)
	require.True(t, ok)
	assert.Equal(t, "10.01", rec.Amount.String())
}

func TestInstallment(t *testing.T) {
	assert.Equal(t, "100", Installment(dec("1200"), 12).String())
	assert.Equal(t, "33.33", Installment(dec("100"), 3).String())
	assert.Equal(t, "66.67", Installment(dec("200"), 3).String())
	assert.True(t, Installment(dec("100"), 0).IsZero())
}

func TestCheckDuplicate(t *testing.T) {
	ctx := context.Background()
	s := seedStore()
	s.PutApproval(models.LoanApproval{MemberID: 10, PeriodID: 1, BatchLabel: "B1"})
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	assert.ErrorIs(t, CheckDuplicate(ctx, tx, 10, 1, "B9"), ErrDuplicateApproval)
	assert.ErrorIs(t, CheckDuplicate(ctx, tx, 10, 2, "B1"), ErrDuplicateApproval)
	assert.NoError(t, CheckDuplicate(ctx, tx, 10, 2, "B2"))
	assert.NoError(t, CheckDuplicate(ctx, tx, 20, 1, "B1"))
}
