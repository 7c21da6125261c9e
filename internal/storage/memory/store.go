package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"CoopLedger/internal/models"
	"CoopLedger/internal/storage"

	"github.com/shopspring/decimal"
)

type ledgerKey struct {
	memberID int64
	periodID int64
	kind     models.LedgerKind
}

type approvalKey struct {
	memberID int64
	periodID int64
}

type state struct {
	members   map[int64]models.Member
	periods   map[int64]models.Period
	ledger    map[ledgerKey]models.LedgerRecord
	approvals map[approvalKey]models.LoanApproval
}

func newState() *state {
	return &state{
		members:   make(map[int64]models.Member),
		periods:   make(map[int64]models.Period),
		ledger:    make(map[ledgerKey]models.LedgerRecord),
		approvals: make(map[approvalKey]models.LoanApproval),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.periods {
		c.periods[k] = v
	}
	for k, v := range s.ledger {
		c.ledger[k] = v
	}
	for k, v := range s.approvals {
		c.approvals[k] = v
	}
	return c
}

// Store is an in-memory storage.Store. Transactions are exclusive: Begin
// blocks until the previous root transaction has finished. Savepoints work
// on a copy of their parent's state.
type Store struct {
	txMu sync.Mutex // held by the open root transaction
	mu   sync.Mutex // guards data and the failure hooks
	data *state

	writeFailures map[int64]error
	commitFailure error
}

func NewStore() *Store {
	return &Store{
		data:          newState(),
		writeFailures: make(map[int64]error),
	}
}

func (s *Store) AddMember(m models.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.members[m.MemberID] = m
}

func (s *Store) AddPeriod(p models.Period) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.periods[p.PeriodID] = p
}

// PutLedger seeds a ledger row outside any transaction.
func (s *Store) PutLedger(rec models.LedgerRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.ledger[ledgerKey{rec.MemberID, rec.PeriodID, rec.Kind}] = rec
}

// PutApproval seeds an approval outside any transaction.
func (s *Store) PutApproval(a models.LoanApproval) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.approvals[approvalKey{a.MemberID, a.PeriodID}] = a
}

// FailWritesFor makes every ledger or approval write for the member fail
// with err. A nil err clears the hook.
func (s *Store) FailWritesFor(memberID int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.writeFailures, memberID)
		return
	}
	s.writeFailures[memberID] = err
}

func (s *Store) FailCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitFailure = err
}

func (s *Store) Ledger(memberID, periodID int64, kind models.LedgerKind) (models.LedgerRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data.ledger[ledgerKey{memberID, periodID, kind}]
	return rec, ok
}

// LedgerAmounts returns "member/period/kind" → amount for every committed row.
func (s *Store) LedgerAmounts() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.data.ledger))
	for k, v := range s.data.ledger {
		out[ledgerLabel(k)] = v.Amount.StringFixed(2)
	}
	return out
}

func (s *Store) Approvals() []models.LoanApproval {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.LoanApproval, 0, len(s.data.approvals))
	for _, a := range s.data.approvals {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PeriodID != out[j].PeriodID {
			return out[i].PeriodID < out[j].PeriodID
		}
		return out[i].MemberID < out[j].MemberID
	})
	return out
}

func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	s.mu.Lock()
	work := s.data.clone()
	s.mu.Unlock()
	return &Tx{store: s, data: work}, nil
}

// Tx is a root transaction or, when parent is set, a savepoint.
type Tx struct {
	store  *Store
	parent *Tx
	data   *state
	done   bool
}

func (t *Tx) Savepoint(ctx context.Context) (storage.Tx, error) {
	if t.done {
		return nil, storage.ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Tx{store: t.store, parent: t, data: t.data.clone()}, nil
}

func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return storage.ErrTxDone
	}
	if t.parent != nil {
		t.done = true
		t.parent.data = t.data
		return nil
	}
	t.store.mu.Lock()
	failure := t.store.commitFailure
	if failure == nil {
		t.store.data = t.data
	}
	t.store.mu.Unlock()
	t.done = true
	t.store.txMu.Unlock()
	return failure
}

func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return storage.ErrTxDone
	}
	t.done = true
	if t.parent == nil {
		t.store.txMu.Unlock()
	}
	return nil
}

func (t *Tx) PeriodExists(ctx context.Context, periodID int64) (bool, error) {
	_, ok := t.data.periods[periodID]
	return ok, nil
}

func (t *Tx) FindMemberByStaffID(ctx context.Context, staffID string) (models.Member, error) {
	for _, m := range t.data.members {
		if m.Active && staffKey(m.StaffID) == staffKey(staffID) {
			return m, nil
		}
	}
	return models.Member{}, storage.ErrNotFound
}

func (t *Tx) GetLedgerAmount(ctx context.Context, memberID, periodID int64, kind models.LedgerKind) (decimal.Decimal, bool, error) {
	rec, ok := t.data.ledger[ledgerKey{memberID, periodID, kind}]
	if !ok {
		return decimal.Zero, false, nil
	}
	return rec.Amount, true, nil
}

func (t *Tx) InsertLedger(ctx context.Context, rec models.LedgerRecord) error {
	if err := t.writeFailure(rec.MemberID); err != nil {
		return err
	}
	k := ledgerKey{rec.MemberID, rec.PeriodID, rec.Kind}
	if _, ok := t.data.ledger[k]; ok {
		return storage.ErrDuplicate
	}
	t.data.ledger[k] = rec
	return nil
}

func (t *Tx) UpdateLedger(ctx context.Context, rec models.LedgerRecord) error {
	if err := t.writeFailure(rec.MemberID); err != nil {
		return err
	}
	k := ledgerKey{rec.MemberID, rec.PeriodID, rec.Kind}
	if _, ok := t.data.ledger[k]; !ok {
		return storage.ErrNotFound
	}
	t.data.ledger[k] = rec
	return nil
}

func (t *Tx) ZeroLedgerExcept(ctx context.Context, periodID int64, kind models.LedgerKind, present []string, updatedBy string, at time.Time) (int64, error) {
	keep := make(map[string]struct{}, len(present))
	for _, id := range present {
		keep[staffKey(id)] = struct{}{}
	}
	var n int64
	for k, rec := range t.data.ledger {
		if k.periodID != periodID || k.kind != kind || rec.Amount.IsZero() {
			continue
		}
		m, ok := t.data.members[k.memberID]
		if ok {
			if _, mentioned := keep[staffKey(m.StaffID)]; mentioned {
				continue
			}
		}
		rec.Amount = decimal.Zero
		rec.UpdatedBy = updatedBy
		rec.UpdatedAt = at
		t.data.ledger[k] = rec
		n++
	}
	return n, nil
}

func (t *Tx) ApprovalExists(ctx context.Context, memberID, periodID int64, batchLabel string) (bool, error) {
	for k, a := range t.data.approvals {
		if k.memberID != memberID {
			continue
		}
		if k.periodID == periodID || (batchLabel != "" && a.BatchLabel == batchLabel) {
			return true, nil
		}
	}
	return false, nil
}

func (t *Tx) InsertApproval(ctx context.Context, a models.LoanApproval) error {
	if err := t.writeFailure(a.MemberID); err != nil {
		return err
	}
	k := approvalKey{a.MemberID, a.PeriodID}
	if _, ok := t.data.approvals[k]; ok {
		return storage.ErrDuplicate
	}
	t.data.approvals[k] = a
	return nil
}

func (t *Tx) writeFailure(memberID int64) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.writeFailures[memberID]
}

// staffKey drops leading zeros so stored ids match the canonical form the
// normalizer produces.
func staffKey(id string) string {
	return strings.TrimLeft(strings.TrimSpace(id), "0")
}

func ledgerLabel(k ledgerKey) string {
	return strconv.FormatInt(k.memberID, 10) + "/" + strconv.FormatInt(k.periodID, 10) + "/" + string(k.kind)
}

var (
	_ storage.Store = (*Store)(nil)
	_ storage.Tx    = (*Tx)(nil)
)
