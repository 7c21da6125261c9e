package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"CoopLedger/internal/models"
	"CoopLedger/internal/storage/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// seedStore has periods 1 and 2 and members staff 1001..1008; 1006 is
// inactive.
func seedStore() *memory.Store {
	s := memory.NewStore()
	s.AddPeriod(models.Period{PeriodID: 1, Label: "2026-01"})
	s.AddPeriod(models.Period{PeriodID: 2, Label: "2026-02"})
	for _, m := range []models.Member{
		{MemberID: 10, StaffID: "1001", Name: "Ada", Active: true, SavingsBalance: dec("100")},
		{MemberID: 20, StaffID: "1002", Name: "Bayo", Active: true},
		{MemberID: 30, StaffID: "1003", Name: "Chi", Active: true, SavingsBalance: dec("50.25")},
		{MemberID: 40, StaffID: "1004", Name: "Dayo", Active: true},
		{MemberID: 50, StaffID: "1005", Name: "Efe", Active: true},
		{MemberID: 60, StaffID: "1006", Name: "Femi", Active: false},
		{MemberID: 70, StaffID: "1007", Name: "Gbenga", Active: true},
		{MemberID: 80, StaffID: "1008", Name: "Halima", Active: true},
	} {
		s.AddMember(m)
	}
	return s
}

func ledger(member, period int64, kind models.LedgerKind, amount string) models.LedgerRecord {
	return models.LedgerRecord{MemberID: member, PeriodID: period, Kind: kind, Amount: dec(amount), UpdatedBy: "seed", UpdatedAt: fixedNow.Add(-24 * time.Hour)}
}

type progressCalls struct {
	mu       sync.Mutex
	percents []int
	onCall   func()
}

func (p *progressCalls) Progress(actor, runID string, percent int) {
	p.mu.Lock()
	p.percents = append(p.percents, percent)
	p.mu.Unlock()
	if p.onCall != nil {
		p.onCall()
	}
}

type auditRows struct {
	entries []models.AuditEntry
	err     error
}

func (a *auditRows) Record(_ context.Context, e models.AuditEntry) error {
	a.entries = append(a.entries, e)
	return a.err
}

type events struct{ got []models.BatchEvent }

func (e *events) Publish(_ context.Context, ev models.BatchEvent) error {
	e.got = append(e.got, ev)
	return nil
}

type locker struct {
	busy     bool
	acquired int
	released int
}

func (l *locker) TryAcquire(int64, string) bool {
	if l.busy {
		return false
	}
	l.acquired++
	return true
}

func (l *locker) Release(int64, string) { l.released++ }

func newTestEngine(s *memory.Store, opts ...Option) *Engine {
	base := []Option{WithClock(func() time.Time { return fixedNow })}
	return NewEngine(s, append(base, opts...)...)
}

func rows(cells ...[]string) [][]string { return cells }

func TestThreeRowScenario(t *testing.T) {
	s := seedStore()
	s.PutLedger(ledger(20, 1, models.KindContribution, "70"))
	s.PutLedger(ledger(20, 1, models.KindLoanSavings, "5"))
	s.PutLedger(ledger(30, 1, models.KindContribution, "60"))
	s.PutLedger(ledger(30, 2, models.KindContribution, "60"))

	progress := &progressCalls{}
	e := newTestEngine(s, WithProgress(progress))
	out, err := e.ImportContributions(context.Background(), ContributionRequest{
		PeriodID: 1,
		Rows: rows(
			[]string{"1001", "500"},
			[]string{"1002", ""},
			[]string{"abc", "10"},
		),
		Actor: "tester",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCommitted, out.Status)
	assert.True(t, out.Success)
	assert.Equal(t, 1, out.Succeeded)
	assert.Equal(t, 0, out.Failed)
	assert.Equal(t, 1, out.Processed)
	assert.Equal(t, 2, out.Skipped)
	assert.Equal(t, int64(3), out.Zeroed)
	assert.Empty(t, out.Errors)

	amounts := s.LedgerAmounts()
	assert.Equal(t, "400.00", amounts["10/1/contribution"])
	assert.Equal(t, "100.00", amounts["10/1/loan_savings"])
	assert.Equal(t, "0.00", amounts["20/1/contribution"])
	assert.Equal(t, "0.00", amounts["20/1/loan_savings"])
	assert.Equal(t, "0.00", amounts["30/1/contribution"])
	assert.Equal(t, "60.00", amounts["30/2/contribution"], "other periods are not touched")

	rec, ok := s.Ledger(20, 1, models.KindContribution)
	require.True(t, ok)
	assert.Equal(t, "tester", rec.UpdatedBy)
	assert.Equal(t, fixedNow, rec.UpdatedAt)

	assert.Equal(t, []int{50, 100}, progress.percents)
}

func TestImportIsIdempotent(t *testing.T) {
	s := seedStore()
	s.PutLedger(ledger(40, 1, models.KindContribution, "10"))
	e := newTestEngine(s)
	req := ContributionRequest{
		PeriodID:   1,
		HeaderRows: 1,
		Rows: rows(
			[]string{"Staff ID", "Amount"},
			[]string{"1001", "1,250.00"},
			[]string{"1003", "80"},
		),
	}

	first, err := e.ImportContributions(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, models.StatusCommitted, first.Status)
	assert.Equal(t, int64(1), first.Zeroed)
	after := s.LedgerAmounts()

	second, err := e.ImportContributions(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCommitted, second.Status)
	assert.Equal(t, int64(0), second.Zeroed, "zeroing twice changes nothing")
	assert.Equal(t, after, s.LedgerAmounts())
	assert.Equal(t, "1150.00", after["10/1/contribution"])
	assert.Equal(t, "29.75", after["30/1/contribution"])
	assert.Equal(t, "50.25", after["30/1/loan_savings"])
}

func TestThresholdFailureLeavesStateUnchanged(t *testing.T) {
	s := seedStore()
	s.PutLedger(ledger(20, 1, models.KindContribution, "70"))
	before := s.LedgerAmounts()
	audit := &auditRows{}
	pub := &events{}
	e := newTestEngine(s, WithAudit(audit), WithPublisher(pub))

	out, err := e.ImportContributions(context.Background(), ContributionRequest{
		PeriodID: 1,
		Rows: rows(
			[]string{"1001", "500"},
			[]string{"9999", "10"},
			[]string{"9998", "10"},
		),
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusRolledBack, out.Status)
	assert.False(t, out.Success)
	assert.Equal(t, 1, out.Succeeded)
	assert.Equal(t, 2, out.Failed)
	assert.Equal(t, int64(0), out.Zeroed)
	assert.Equal(t, []string{"9999", "9998"}, out.NotFoundIdentifiers)
	assert.Len(t, out.Errors, 2)
	assert.Contains(t, out.Errors[0], "Row 2")
	assert.Contains(t, out.Message, ErrThreshold.Error())

	assert.Equal(t, before, s.LedgerAmounts())
	assert.Empty(t, audit.entries, "nothing is audited for a rolled back batch")
	require.Len(t, pub.got, 1)
	assert.Equal(t, models.StatusRolledBack, pub.got[0].Status)
}

func TestBatchWithNothingToPostRollsBack(t *testing.T) {
	s := seedStore()
	s.PutLedger(ledger(20, 1, models.KindContribution, "70"))
	before := s.LedgerAmounts()
	e := newTestEngine(s)

	out, err := e.ImportContributions(context.Background(), ContributionRequest{
		PeriodID: 1,
		Rows: rows(
			[]string{"1001", "0"},
			[]string{"1002", ""},
		),
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusRolledBack, out.Status)
	assert.Equal(t, 0, out.Processed)
	assert.Equal(t, 2, out.Skipped)
	assert.Contains(t, out.Message, ErrNothingPosted.Error())
	assert.NotContains(t, out.Message, ErrThreshold.Error())
	assert.Equal(t, before, s.LedgerAmounts())
}

func TestAbsenceCoverage(t *testing.T) {
	s := seedStore()
	for _, m := range []int64{10, 20, 30, 40, 50} {
		s.PutLedger(ledger(m, 1, models.KindContribution, "10"))
		s.PutLedger(ledger(m, 1, models.KindLoanSavings, "1"))
	}
	e := newTestEngine(s)
	out, err := e.ImportContributions(context.Background(), ContributionRequest{
		PeriodID: 1,
		Rows: rows(
			[]string{"1002", "30"},
			[]string{"1004", "40"},
		),
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusCommitted, out.Status)

	amounts := s.LedgerAmounts()
	for _, absent := range []string{"10", "30", "50"} {
		assert.Equal(t, "0.00", amounts[absent+"/1/contribution"], absent)
		assert.Equal(t, "0.00", amounts[absent+"/1/loan_savings"], absent)
	}
	assert.Equal(t, "30.00", amounts["20/1/contribution"])
	assert.Equal(t, "40.00", amounts["40/1/contribution"])
	assert.Equal(t, int64(6), out.Zeroed)
}

func TestPlainImportWritesOneKind(t *testing.T) {
	s := seedStore()
	s.PutLedger(ledger(20, 1, models.KindContribution, "70"))
	s.PutLedger(ledger(20, 1, models.KindLoanSavings, "5"))
	e := newTestEngine(s)

	out, err := e.ImportContributions(context.Background(), ContributionRequest{
		PeriodID: 1,
		Mode:     ModePlain,
		Kind:     models.KindLoanSavings,
		Rows:     rows([]string{"1001", "250.5"}),
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusCommitted, out.Status)

	amounts := s.LedgerAmounts()
	assert.Equal(t, "250.50", amounts["10/1/loan_savings"])
	_, wrote := amounts["10/1/contribution"]
	assert.False(t, wrote)
	assert.Equal(t, "70.00", amounts["20/1/contribution"], "a plain import only zeroes its own kind")
	assert.Equal(t, "0.00", amounts["20/1/loan_savings"])
}

func TestContributionRejections(t *testing.T) {
	tests := []struct {
		name string
		req  ContributionRequest
		err  error
	}{
		{"zero period", ContributionRequest{PeriodID: 0, Rows: rows([]string{"1001", "1"})}, ErrInvalidPeriod},
		{"unknown period", ContributionRequest{PeriodID: 99, Rows: rows([]string{"1001", "1"})}, ErrInvalidPeriod},
		{"header only", ContributionRequest{PeriodID: 1, HeaderRows: 1, Rows: rows([]string{"id", "amount"})}, ErrNoRows},
		{"bad kind", ContributionRequest{PeriodID: 1, Mode: ModePlain, Kind: "bonus", Rows: rows([]string{"1001", "1"})}, ErrInvalidKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := seedStore()
			out, err := newTestEngine(s).ImportContributions(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, models.StatusRejected, out.Status)
			assert.False(t, out.Success)
			assert.Contains(t, out.Message, tt.err.Error())
			assert.Empty(t, s.LedgerAmounts())
		})
	}
}

func TestPeriodBusyIsRejected(t *testing.T) {
	s := seedStore()
	l := &locker{busy: true}
	out, err := newTestEngine(s, WithPeriodLocker(l)).ImportContributions(context.Background(), ContributionRequest{
		PeriodID: 1,
		Rows:     rows([]string{"1001", "10"}),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, out.Status)
	assert.Contains(t, out.Message, ErrPeriodBusy.Error())
	assert.Empty(t, s.LedgerAmounts())
}

func TestPeriodIsReleasedOnEveryPath(t *testing.T) {
	s := seedStore()
	l := &locker{}
	e := newTestEngine(s, WithPeriodLocker(l))
	ctx := context.Background()

	_, err := e.ImportContributions(ctx, ContributionRequest{PeriodID: 1, Rows: rows([]string{"1001", "10"})})
	require.NoError(t, err)
	_, err = e.ImportContributions(ctx, ContributionRequest{PeriodID: 99, Rows: rows([]string{"1001", "10"})})
	require.NoError(t, err)
	_, err = e.PostLoans(ctx, LoanRequest{PeriodID: 1, BatchLabel: "B1", Term: 6, Rows: rows([]string{"9999", "10"})})
	require.NoError(t, err)

	assert.Equal(t, 3, l.acquired)
	assert.Equal(t, l.acquired, l.released)
}

func TestCancellationRollsBackEverything(t *testing.T) {
	s := seedStore()
	s.PutLedger(ledger(20, 1, models.KindContribution, "70"))
	before := s.LedgerAmounts()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	progress := &progressCalls{onCall: cancel}
	e := newTestEngine(s, WithProgress(progress))

	out, err := e.ImportContributions(ctx, ContributionRequest{
		PeriodID: 1,
		Rows: rows(
			[]string{"1001", "10"},
			[]string{"1003", "10"},
		),
	})
	assert.Nil(t, out)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, s.LedgerAmounts())

	tx, err := s.Begin(context.Background())
	require.NoError(t, err, "the store is usable after a cancelled run")
	require.NoError(t, tx.Rollback(context.Background()))
}

func TestCommitFailureIsReturned(t *testing.T) {
	s := seedStore()
	s.FailCommit(errors.New("connection reset"))
	audit := &auditRows{}
	out, err := newTestEngine(s, WithAudit(audit)).ImportContributions(context.Background(), ContributionRequest{
		PeriodID: 1,
		Rows:     rows([]string{"1001", "10"}),
	})
	assert.Nil(t, out)
	require.ErrorIs(t, err, ErrCommitFailed)
	assert.Empty(t, s.LedgerAmounts())
	assert.Empty(t, audit.entries)
}

func TestStorageFailureIsRowLevel(t *testing.T) {
	s := seedStore()
	s.FailWritesFor(30, errors.New("deadlock detected"))
	out, err := newTestEngine(s).ImportContributions(context.Background(), ContributionRequest{
		PeriodID: 1,
		Rows: rows(
			[]string{"1001", "10"},
			[]string{"1002", "10"},
			[]string{"1003", "10"},
			[]string{"1004", "10"},
		),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCommitted, out.Status)
	assert.Equal(t, 3, out.Succeeded)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], "deadlock detected")
	assert.Empty(t, out.NotFoundIdentifiers)

	_, wrote := s.Ledger(30, 1, models.KindContribution)
	assert.False(t, wrote)
}

func TestAuditFailureDoesNotChangeOutcome(t *testing.T) {
	s := seedStore()
	audit := &auditRows{err: errors.New("audit table missing")}
	pub := &events{}
	e := newTestEngine(s, WithAudit(audit), WithPublisher(pub))
	out, err := e.ImportContributions(context.Background(), ContributionRequest{
		PeriodID: 1,
		Rows:     rows([]string{"1001", "10"}),
		Actor:    "ops",
		Source:   models.SourceFile{Name: "jan.xlsx", Hash: "abc"},
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, models.StatusCommitted, out.Status)

	require.Len(t, audit.entries, 1)
	entry := audit.entries[0]
	assert.Equal(t, out.RunID, entry.RunID)
	assert.Equal(t, "ops", entry.Actor)
	assert.Equal(t, "jan.xlsx", entry.FileName)
	assert.Equal(t, "abc", entry.FileHash)
	assert.Equal(t, 1, entry.Succeeded)

	require.Len(t, pub.got, 1)
	assert.Equal(t, models.StatusCommitted, pub.got[0].Status)
	assert.Equal(t, out.RunID, pub.got[0].RunID)
}

func TestDerivedContribution(t *testing.T) {
	tests := []struct {
		a, s, contribution, loanSavings string
	}{
		{"500", "100", "400", "100"},
		{"100", "100", "0", "100"},
		{"50", "100", "-50", "100"},
		{"0.01", "0", "0.01", "0"},
		{"0", "25.5", "-25.5", "25.5"},
		{"1000.005", "0.004", "1000.00", "0.00"},
	}
	for _, tt := range tests {
		c, ls := DeriveContribution(dec(tt.a), dec(tt.s))
		assert.True(t, c.Equal(dec(tt.contribution)), "contribution for A=%s S=%s: %s", tt.a, tt.s, c)
		assert.True(t, ls.Equal(dec(tt.loanSavings)), "loan savings for A=%s S=%s: %s", tt.a, tt.s, ls)
	}
}

func TestDuplicateStaffIDInOneFileKeepsLastRow(t *testing.T) {
	s := seedStore()
	out, err := newTestEngine(s).ImportContributions(context.Background(), ContributionRequest{
		PeriodID: 1,
		Mode:     ModePlain,
		Rows: rows(
			[]string{"1002", "10"},
			[]string{"1002", "25"},
		),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Succeeded)
	assert.Equal(t, "25.00", s.LedgerAmounts()["20/1/contribution"])
}
