package reconcile

import "errors"

// Row-level errors. They are collected into the outcome and never stop a
// batch.
var (
	ErrMemberNotFound    = errors.New("member not found")
	ErrDuplicateApproval = errors.New("duplicate loan approval")
	ErrPeriodNotFound    = errors.New("payroll period not found")
	ErrNonPositiveLoan   = errors.New("approved amount must be greater than zero")
)

// Batch-level errors. A batch that hits one of these writes nothing.
var (
	ErrInvalidPeriod = errors.New("invalid period id")
	ErrNoRows        = errors.New("no rows to process")
	ErrBatchLabel    = errors.New("batch label is required")
	ErrInvalidTerm   = errors.New("loan term must be a positive number of installments")
	ErrInvalidKind   = errors.New("unknown ledger kind")
	ErrPeriodBusy    = errors.New("another batch is already running for this period")
	ErrThreshold     = errors.New("too many failed records")
	ErrNothingPosted = errors.New("no records to post")
	ErrCommitFailed  = errors.New("commit failed")
)
