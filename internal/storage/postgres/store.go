package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"CoopLedger/internal/models"
	"CoopLedger/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// Store runs every batch on one pgx transaction; savepoints are pgx pseudo
// nested transactions. Table layout is documented in schema.sql.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool and checks it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

type Tx struct {
	tx pgx.Tx
}

func (t *Tx) Savepoint(ctx context.Context) (storage.Tx, error) {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("savepoint: %w", err)
	}
	return &Tx{tx: sp}, nil
}

func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return storage.ErrTxDone
		}
		return err
	}
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return storage.ErrTxDone
		}
		return err
	}
	return nil
}

func (t *Tx) PeriodExists(ctx context.Context, periodID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM periods WHERE period_id = $1)`, periodID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check period %d: %w", periodID, err)
	}
	return exists, nil
}

func (t *Tx) FindMemberByStaffID(ctx context.Context, staffID string) (models.Member, error) {
	var m models.Member
	err := t.tx.QueryRow(ctx, `
		SELECT member_id, staff_id, COALESCE(name, ''), active, COALESCE(savings_balance, 0)
		FROM members
		WHERE ltrim(btrim(staff_id), '0') = ltrim($1, '0') AND active
		ORDER BY member_id
		LIMIT 1`, staffID).Scan(&m.MemberID, &m.StaffID, &m.Name, &m.Active, &m.SavingsBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Member{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Member{}, fmt.Errorf("lookup member %s: %w", staffID, err)
	}
	return m, nil
}

func (t *Tx) GetLedgerAmount(ctx context.Context, memberID, periodID int64, kind models.LedgerKind) (decimal.Decimal, bool, error) {
	var amount decimal.Decimal
	err := t.tx.QueryRow(ctx, `
		SELECT amount FROM ledger_entries
		WHERE member_id = $1 AND period_id = $2 AND kind = $3
		FOR UPDATE`, memberID, periodID, string(kind)).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("read %s ledger for member %d: %w", kind, memberID, err)
	}
	return amount, true, nil
}

func (t *Tx) InsertLedger(ctx context.Context, rec models.LedgerRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ledger_entries (member_id, period_id, kind, amount, reference, source, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)`,
		rec.MemberID, rec.PeriodID, string(rec.Kind), rec.Amount, rec.Reference, rec.Source, rec.UpdatedBy, rec.UpdatedAt)
	if isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert %s ledger for member %d: %w", rec.Kind, rec.MemberID, err)
	}
	return nil
}

func (t *Tx) UpdateLedger(ctx context.Context, rec models.LedgerRecord) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE ledger_entries
		SET amount = $4, reference = NULLIF($5, ''), source = NULLIF($6, ''), updated_by = $7, updated_at = $8
		WHERE member_id = $1 AND period_id = $2 AND kind = $3`,
		rec.MemberID, rec.PeriodID, string(rec.Kind), rec.Amount, rec.Reference, rec.Source, rec.UpdatedBy, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update %s ledger for member %d: %w", rec.Kind, rec.MemberID, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *Tx) ZeroLedgerExcept(ctx context.Context, periodID int64, kind models.LedgerKind, present []string, updatedBy string, at time.Time) (int64, error) {
	keys := make([]string, 0, len(present))
	for _, id := range present {
		keys = append(keys, strings.TrimLeft(strings.TrimSpace(id), "0"))
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE ledger_entries l
		SET amount = 0, updated_by = $4, updated_at = $5
		FROM members m
		WHERE m.member_id = l.member_id
		  AND l.period_id = $1
		  AND l.kind = $2
		  AND l.amount <> 0
		  AND NOT (ltrim(btrim(COALESCE(m.staff_id, '')), '0') = ANY($3))`,
		periodID, string(kind), keys, updatedBy, at)
	if err != nil {
		return 0, fmt.Errorf("zero absent %s ledger rows for period %d: %w", kind, periodID, err)
	}
	return tag.RowsAffected(), nil
}

func (t *Tx) ApprovalExists(ctx context.Context, memberID, periodID int64, batchLabel string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM loan_approvals
			WHERE member_id = $1
			  AND (period_id = $2 OR ($3 <> '' AND batch_label = $3))
		)`, memberID, periodID, batchLabel).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check approval for member %d: %w", memberID, err)
	}
	return exists, nil
}

func (t *Tx) InsertApproval(ctx context.Context, a models.LoanApproval) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO loan_approvals (member_id, period_id, batch_label, amount, term, installment, reference, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)`,
		a.MemberID, a.PeriodID, a.BatchLabel, a.Amount, a.Term, a.Installment, a.Reference, a.CreatedBy, a.CreatedAt)
	if isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert approval for member %d: %w", a.MemberID, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var (
	_ storage.Store = (*Store)(nil)
	_ storage.Tx    = (*Tx)(nil)
)
