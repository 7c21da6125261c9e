package reconcile

import (
	"context"
	"errors"

	"CoopLedger/internal/models"
	"CoopLedger/internal/storage"

	"github.com/shopspring/decimal"
)

// CheckDuplicate rejects a posting when the member already has an approval
// for the period or within the same batch label.
func CheckDuplicate(ctx context.Context, tx storage.Tx, memberID, periodID int64, batchLabel string) error {
	exists, err := tx.ApprovalExists(ctx, memberID, periodID, batchLabel)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateApproval
	}
	return nil
}

// PostApproval inserts a after the duplicate check. The storage unique
// constraint has the final word: a violation there is the same duplicate.
func PostApproval(ctx context.Context, tx storage.Tx, a models.LoanApproval) error {
	if err := CheckDuplicate(ctx, tx, a.MemberID, a.PeriodID, a.BatchLabel); err != nil {
		return err
	}
	err := tx.InsertApproval(ctx, a)
	if errors.Is(err, storage.ErrDuplicate) {
		return ErrDuplicateApproval
	}
	return err
}

// Installment is the per-period repayment, rounded half away from zero to
// two places.
func Installment(amount decimal.Decimal, term int) decimal.Decimal {
	if term <= 0 {
		return decimal.Zero
	}
	return amount.Div(decimal.NewFromInt(int64(term))).Round(2)
}
