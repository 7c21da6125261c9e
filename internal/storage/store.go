package storage

import (
	"context"
	"errors"
	"time"

	"CoopLedger/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate key")
	ErrTxDone    = errors.New("transaction already finished")
)

// Store opens the transaction a batch runs in.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is the transaction-scoped handle every engine component receives.
// Savepoint opens a nested transaction whose Rollback undoes only the work
// done through it; Commit on a savepoint releases it into the parent.
type Tx interface {
	Savepoint(ctx context.Context) (Tx, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	PeriodExists(ctx context.Context, periodID int64) (bool, error)
	// FindMemberByStaffID returns ErrNotFound when no active member has the id.
	// Staff ids compare by numeric value, so "00123" and "123" are the same
	// member.
	FindMemberByStaffID(ctx context.Context, staffID string) (models.Member, error)

	// GetLedgerAmount locks the row when the backend supports it.
	GetLedgerAmount(ctx context.Context, memberID, periodID int64, kind models.LedgerKind) (decimal.Decimal, bool, error)
	InsertLedger(ctx context.Context, rec models.LedgerRecord) error
	UpdateLedger(ctx context.Context, rec models.LedgerRecord) error
	// ZeroLedgerExcept zeroes non-zero rows of (period, kind) whose member's
	// staff id is not in present, and returns how many rows changed. The
	// comparison ignores leading zeros like FindMemberByStaffID.
	ZeroLedgerExcept(ctx context.Context, periodID int64, kind models.LedgerKind, present []string, updatedBy string, at time.Time) (int64, error)

	// ApprovalExists reports a posting for (member, period) or (member, batch).
	ApprovalExists(ctx context.Context, memberID, periodID int64, batchLabel string) (bool, error)
	// InsertApproval returns ErrDuplicate when (member, period) is taken.
	InsertApproval(ctx context.Context, a models.LoanApproval) error
}
