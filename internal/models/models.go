package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerKind names a per-member, per-period monetary fact.
type LedgerKind string

const (
	KindContribution LedgerKind = "contribution"
	KindLoanSavings  LedgerKind = "loan_savings"
)

func (k LedgerKind) Valid() bool {
	return k == KindContribution || k == KindLoanSavings
}

// Member is a pre-existing cooperative member. StaffID is the external
// identifier spreadsheets carry; MemberID is the canonical key.
type Member struct {
	MemberID       int64           `json:"member_id" db:"member_id"`
	StaffID        string          `json:"staff_id" db:"staff_id"`
	Name           string          `json:"name" db:"name"`
	Active         bool            `json:"active" db:"active"`
	SavingsBalance decimal.Decimal `json:"savings_balance" db:"savings_balance"`
}

type Period struct {
	PeriodID int64  `json:"period_id" db:"period_id"`
	Label    string `json:"label" db:"label"`
}

// LedgerRecord is unique per (MemberID, PeriodID, Kind).
type LedgerRecord struct {
	MemberID  int64           `json:"member_id" db:"member_id"`
	PeriodID  int64           `json:"period_id" db:"period_id"`
	Kind      LedgerKind      `json:"kind" db:"kind"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Reference string          `json:"reference,omitempty" db:"reference"`
	Source    string          `json:"source,omitempty" db:"source"`
	UpdatedBy string          `json:"updated_by" db:"updated_by"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// LoanApproval is unique per (MemberID, PeriodID) and never updated.
type LoanApproval struct {
	MemberID    int64           `json:"member_id" db:"member_id"`
	PeriodID    int64           `json:"period_id" db:"period_id"`
	BatchLabel  string          `json:"batch_label" db:"batch_label"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Term        int             `json:"term" db:"term"`
	Installment decimal.Decimal `json:"installment" db:"installment"`
	Reference   string          `json:"reference,omitempty" db:"reference"`
	CreatedBy   string          `json:"created_by" db:"created_by"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Candidate is a normalized input row. Row is the 1-based position in the
// source sheet; PeriodID is zero unless the row carries its own period.
type Candidate struct {
	Row        int             `json:"row"`
	ExternalID string          `json:"external_id"`
	Amount     decimal.Decimal `json:"amount"`
	Reference  string          `json:"reference,omitempty"`
	PeriodID   int64           `json:"period_id,omitempty"`
}

// RunKind distinguishes the two batch flows.
type RunKind string

const (
	RunContributionImport RunKind = "contribution_import"
	RunLoanPosting        RunKind = "loan_posting"
)

// RunStatus is the terminal state of a batch.
type RunStatus string

const (
	StatusCommitted  RunStatus = "committed"
	StatusRolledBack RunStatus = "rolled_back"
	StatusRejected   RunStatus = "rejected"
)

// Outcome is what every batch run returns to its caller.
type Outcome struct {
	RunID               string    `json:"run_id"`
	Kind                RunKind   `json:"kind"`
	PeriodID            int64     `json:"period_id"`
	BatchLabel          string    `json:"batch_label,omitempty"`
	Status              RunStatus `json:"status"`
	Success             bool      `json:"success"`
	Processed           int       `json:"processed"`
	Succeeded           int       `json:"succeeded"`
	Failed              int       `json:"failed"`
	Skipped             int       `json:"skipped"`
	Zeroed              int64     `json:"zeroed"`
	Errors              []string  `json:"errors"`
	NotFoundIdentifiers []string  `json:"notFoundIdentifiers"`
	Message             string    `json:"message,omitempty"`
	StartedAt           time.Time `json:"started_at"`
	FinishedAt          time.Time `json:"finished_at"`
}

// AuditEntry is the append-only summary row written after a commit.
type AuditEntry struct {
	RunID      string    `json:"run_id" db:"run_id"`
	Kind       RunKind   `json:"kind" db:"kind"`
	PeriodID   int64     `json:"period_id" db:"period_id"`
	BatchLabel string    `json:"batch_label,omitempty" db:"batch_label"`
	Actor      string    `json:"actor" db:"actor"`
	Succeeded  int       `json:"succeeded" db:"succeeded"`
	Failed     int       `json:"failed" db:"failed"`
	Skipped    int       `json:"skipped" db:"skipped"`
	Zeroed     int64     `json:"zeroed" db:"zeroed"`
	Errors     []string  `json:"errors,omitempty" db:"errors"`
	FileName   string    `json:"file_name,omitempty" db:"file_name"`
	FileHash   string    `json:"file_hash,omitempty" db:"file_hash"`
	ArchiveURL string    `json:"archive_url,omitempty" db:"archive_url"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// BatchEvent is published once a run has been decided.
type BatchEvent struct {
	RunID      string    `json:"run_id"`
	Kind       RunKind   `json:"kind"`
	PeriodID   int64     `json:"period_id"`
	BatchLabel string    `json:"batch_label,omitempty"`
	Status     RunStatus `json:"status"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Zeroed     int64     `json:"zeroed"`
	Actor      string    `json:"actor"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SourceFile describes the uploaded file a batch came from, when any.
type SourceFile struct {
	Name       string `json:"name,omitempty"`
	Hash       string `json:"hash,omitempty"`
	ArchiveURL string `json:"archive_url,omitempty"`
}
