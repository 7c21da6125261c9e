package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"CoopLedger/internal/models"
	"CoopLedger/internal/normalize"
	"CoopLedger/internal/storage"
)

type LoanRequest struct {
	PeriodID   int64
	BatchLabel string
	// Term is the number of installments every approval in the batch repays over.
	Term       int
	Rows       [][]string
	HeaderRows int
	Columns    *normalize.Columns
	Actor      string
	Source     models.SourceFile
}

// PostLoans records one approval per beneficiary row. A beneficiary may
// carry its own period column; otherwise the batch period applies. Loan
// batches never zero anything.
func (e *Engine) PostLoans(ctx context.Context, req LoanRequest) (*models.Outcome, error) {
	req.BatchLabel = strings.TrimSpace(req.BatchLabel)
	r := e.newRun(models.RunLoanPosting, req.PeriodID, req.BatchLabel, req.Actor, req.Source)

	switch {
	case req.PeriodID <= 0:
		return e.reject(ctx, r, ErrInvalidPeriod), nil
	case req.BatchLabel == "":
		return e.reject(ctx, r, ErrBatchLabel), nil
	case req.Term <= 0:
		return e.reject(ctx, r, ErrInvalidTerm), nil
	case len(req.Rows) <= req.HeaderRows:
		return e.reject(ctx, r, ErrNoRows), nil
	}

	cols := normalize.DefaultColumns
	if req.Columns != nil {
		cols = *req.Columns
	}
	norm := normalize.Normalize(req.Rows, normalize.Options{HeaderRows: req.HeaderRows, Columns: cols})
	r.outcome.Skipped = len(norm.Skipped)
	r.total = len(norm.Candidates)

	c, rejected, err := e.open(ctx, r)
	if err != nil || rejected != nil {
		return rejected, err
	}
	defer e.locker.Release(req.PeriodID, r.outcome.RunID)
	defer c.Abort(ctx)

	at := e.now()
	for _, cand := range norm.Candidates {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("loan posting cancelled at row %d: %w", cand.Row, err)
		}
		c.Apply(ctx, cand.Row, cand.ExternalID, func(tx storage.Tx) error {
			return e.postLoan(ctx, tx, req, cand, r.actor, at)
		})
		e.step(r)
	}

	status, err := c.Finish(ctx)
	if err != nil {
		return nil, err
	}
	return e.settle(ctx, r, c, status), nil
}

func (e *Engine) postLoan(ctx context.Context, tx storage.Tx, req LoanRequest, cand models.Candidate, actor string, at time.Time) error {
	if !cand.Amount.IsPositive() {
		return ErrNonPositiveLoan
	}
	period := req.PeriodID
	if cand.PeriodID != 0 && cand.PeriodID != req.PeriodID {
		exists, err := tx.PeriodExists(ctx, cand.PeriodID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %d", ErrPeriodNotFound, cand.PeriodID)
		}
		// only the batch period is locked; the (member, period) unique
		// constraint settles concurrent posts into this one
		period = cand.PeriodID
	}
	m, err := Resolve(ctx, tx, cand.ExternalID)
	if err != nil {
		return err
	}
	return PostApproval(ctx, tx, models.LoanApproval{
		MemberID:    m.MemberID,
		PeriodID:    period,
		BatchLabel:  req.BatchLabel,
		Amount:      cand.Amount,
		Term:        req.Term,
		Installment: Installment(cand.Amount, req.Term),
		Reference:   cand.Reference,
		CreatedBy:   actor,
		CreatedAt:   at,
	})
}
