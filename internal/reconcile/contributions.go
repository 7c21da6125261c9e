package reconcile

import (
	"context"
	"fmt"
	"time"

	"CoopLedger/internal/models"
	"CoopLedger/internal/normalize"
	"CoopLedger/internal/storage"
)

// ImportMode selects how a contribution sheet is written.
type ImportMode string

const (
	// ModeDerived stores amount minus savings as the contribution and the
	// savings balance as loan savings. It is the default.
	ModeDerived ImportMode = "derived"
	// ModePlain stores the submitted amount unchanged in a single kind.
	ModePlain ImportMode = "plain"
)

type ContributionRequest struct {
	PeriodID   int64
	Rows       [][]string
	HeaderRows int
	Columns    *normalize.Columns
	Mode       ImportMode
	// Kind is the target of a plain import; derived imports ignore it.
	Kind   models.LedgerKind
	Actor  string
	Source models.SourceFile
}

func (r ContributionRequest) kinds() []models.LedgerKind {
	if r.Mode == ModePlain {
		return []models.LedgerKind{r.Kind}
	}
	return []models.LedgerKind{models.KindContribution, models.KindLoanSavings}
}

// ImportContributions reconciles a period's deduction sheet against the
// ledgers. The sheet is authoritative for the period: members it does not
// mention end up with zero. The returned error is set only for
// infrastructure failures; every other result is described by the outcome.
func (e *Engine) ImportContributions(ctx context.Context, req ContributionRequest) (*models.Outcome, error) {
	if req.Mode == "" {
		req.Mode = ModeDerived
	}
	if req.Mode == ModePlain && req.Kind == "" {
		req.Kind = models.KindContribution
	}
	r := e.newRun(models.RunContributionImport, req.PeriodID, "", req.Actor, req.Source)

	switch {
	case req.PeriodID <= 0:
		return e.reject(ctx, r, ErrInvalidPeriod), nil
	case req.Mode != ModeDerived && req.Mode != ModePlain:
		return e.reject(ctx, r, fmt.Errorf("unknown import mode %q", req.Mode)), nil
	case !req.Kind.Valid() && req.Mode == ModePlain:
		return e.reject(ctx, r, fmt.Errorf("%w: %q", ErrInvalidKind, req.Kind)), nil
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
	present := make([]string, 0, len(norm.Candidates))
	for _, cand := range norm.Candidates {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("contribution import cancelled at row %d: %w", cand.Row, err)
		}
		if cand.Amount.IsZero() {
			// a blank deduction counts as absent, so zeroing covers it
			r.outcome.Skipped++
			e.step(r)
			continue
		}
		present = append(present, cand.ExternalID)
		c.Apply(ctx, cand.Row, cand.ExternalID, func(tx storage.Tx) error {
			return e.postContribution(ctx, tx, req, cand, r.actor, at)
		})
		e.step(r)
	}

	if c.WillCommit() {
		for _, kind := range req.kinds() {
			n, err := ZeroAbsent(ctx, c.Tx(), req.PeriodID, kind, present, r.actor, at)
			if err != nil {
				return nil, fmt.Errorf("zero absent members: %w", err)
			}
			r.outcome.Zeroed += n
		}
	}

	status, err := c.Finish(ctx)
	if err != nil {
		return nil, err
	}
	return e.settle(ctx, r, c, status), nil
}

func (e *Engine) postContribution(ctx context.Context, tx storage.Tx, req ContributionRequest, cand models.Candidate, actor string, at time.Time) error {
	m, err := Resolve(ctx, tx, cand.ExternalID)
	if err != nil {
		return err
	}
	base := models.LedgerRecord{
		MemberID:  m.MemberID,
		PeriodID:  req.PeriodID,
		Reference: cand.Reference,
		Source:    req.Source.Name,
		UpdatedBy: actor,
		UpdatedAt: at,
	}
	if req.Mode == ModePlain {
		base.Kind = req.Kind
		base.Amount = cand.Amount
		_, err := Upsert(ctx, tx, base)
		return err
	}

	contribution, loanSavings := DeriveContribution(cand.Amount, m.SavingsBalance)
	rec := base
	rec.Kind = models.KindContribution
	rec.Amount = contribution
	if _, err := Upsert(ctx, tx, rec); err != nil {
		return err
	}
	rec = base
	rec.Kind = models.KindLoanSavings
	rec.Amount = loanSavings
	_, err = Upsert(ctx, tx, rec)
	return err
}
