package reconcile

import (
	"context"
	"errors"
	"fmt"

	"CoopLedger/internal/models"
	"CoopLedger/internal/storage"

	"github.com/shopspring/decimal"
)

type UpsertAction string

const (
	ActionCreated UpsertAction = "created"
	ActionUpdated UpsertAction = "updated"
)

// Upsert writes rec as the single row for its (member, period, kind). The
// existence check and the write run on the same transaction; the check
// takes a row lock on backends that support it.
func Upsert(ctx context.Context, tx storage.Tx, rec models.LedgerRecord) (UpsertAction, error) {
	rec.Amount = rec.Amount.Round(2)
	_, exists, err := tx.GetLedgerAmount(ctx, rec.MemberID, rec.PeriodID, rec.Kind)
	if err != nil {
		return "", err
	}
	if exists {
		return ActionUpdated, tx.UpdateLedger(ctx, rec)
	}
	if err := tx.InsertLedger(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return "", fmt.Errorf("%s row for member %d was written concurrently: %w", rec.Kind, rec.MemberID, err)
		}
		return "", err
	}
	return ActionCreated, nil
}

// DeriveContribution splits a submitted deduction into the contribution
// proper and the part that services loan savings. Negative and zero
// contributions are valid results.
func DeriveContribution(submitted, savings decimal.Decimal) (contribution, loanSavings decimal.Decimal) {
	return submitted.Sub(savings).Round(2), savings.Round(2)
}
