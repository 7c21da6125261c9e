package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"

	"CoopLedger/internal/models"
	"CoopLedger/internal/storage"
)

// State is the lifecycle of a batch transaction.
type State int

const (
	StateOpen State = iota
	StateProcessing
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateProcessing:
		return "processing"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// RecordResult is the outcome of one record: Err is nil when its writes
// were kept.
type RecordResult struct {
	Row        int
	Identifier string
	Err        error
}

func (r RecordResult) OK() bool { return r.Err == nil }

func (r RecordResult) Message() string {
	if r.Err == nil {
		return ""
	}
	return fmt.Sprintf("Row %d (staff id %s): %v", r.Row, r.Identifier, r.Err)
}

// ShouldCommit is the batch quality bar: at least one success and failures
// strictly below half the successes.
func ShouldCommit(succeeded, failed int) bool {
	return succeeded > 0 && 2*failed < succeeded
}

// Coordinator owns the transaction of one batch. Each record runs in its own
// savepoint so a failing record leaves nothing behind, while the batch as a
// whole is committed or discarded in Finish.
type Coordinator struct {
	tx       storage.Tx
	state    State
	results  []RecordResult
	ok       int
	failed   int
	errors   []string
	notFound []string
}

// Begin opens the batch transaction.
func Begin(ctx context.Context, store storage.Store) (*Coordinator, error) {
	tx, err := store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("open batch transaction: %w", err)
	}
	return &Coordinator{tx: tx, state: StateOpen}, nil
}

// Tx is the batch transaction, for batch-wide statements such as the period
// check and absence zeroing.
func (c *Coordinator) Tx() storage.Tx { return c.tx }

func (c *Coordinator) State() State { return c.state }

// Apply runs fn for one record inside a savepoint and tallies the result.
// Errors from fn never escape; they are collected against the row.
func (c *Coordinator) Apply(ctx context.Context, row int, identifier string, fn func(tx storage.Tx) error) RecordResult {
	c.state = StateProcessing
	res := RecordResult{Row: row, Identifier: identifier}

	sp, err := c.tx.Savepoint(ctx)
	if err != nil {
		res.Err = err
		c.record(res)
		return res
	}
	if err := fn(sp); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, storage.ErrTxDone) {
			log.Printf("[ERROR] rollback savepoint for row %d: %v", row, rbErr)
		}
		res.Err = err
		c.record(res)
		return res
	}
	if err := sp.Commit(ctx); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, storage.ErrTxDone) {
			log.Printf("[ERROR] rollback savepoint for row %d after failed release: %v", row, rbErr)
		}
		res.Err = fmt.Errorf("release savepoint: %w", err)
	}
	c.record(res)
	return res
}

func (c *Coordinator) record(res RecordResult) {
	c.results = append(c.results, res)
	if res.OK() {
		c.ok++
		return
	}
	c.failed++
	c.errors = append(c.errors, res.Message())
	if errors.Is(res.Err, ErrMemberNotFound) {
		c.notFound = append(c.notFound, res.Identifier)
	}
}

// WillCommit reports whether Finish would commit with the current tally.
func (c *Coordinator) WillCommit() bool {
	return ShouldCommit(c.ok, c.failed)
}

// Finish commits when the quality bar is met and rolls back otherwise. A
// commit error is returned wrapped in ErrCommitFailed; the transaction is
// gone either way.
func (c *Coordinator) Finish(ctx context.Context) (models.RunStatus, error) {
	if !c.WillCommit() {
		c.Abort(ctx)
		return models.StatusRolledBack, nil
	}
	if err := c.tx.Commit(ctx); err != nil {
		c.state = StateRolledBack
		return models.StatusRolledBack, fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	c.state = StateCommitted
	return models.StatusCommitted, nil
}

// Abort discards the whole batch. It is safe to call after Finish.
func (c *Coordinator) Abort(ctx context.Context) {
	if c.state == StateCommitted || c.state == StateRolledBack {
		return
	}
	// the rollback must run even if the caller's context is already done
	if err := c.tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, storage.ErrTxDone) {
		log.Printf("[ERROR] rollback batch transaction: %v", err)
	}
	c.state = StateRolledBack
}

func (c *Coordinator) Succeeded() int          { return c.ok }
func (c *Coordinator) Failed() int             { return c.failed }
func (c *Coordinator) Errors() []string        { return c.errors }
func (c *Coordinator) NotFound() []string      { return c.notFound }
func (c *Coordinator) Results() []RecordResult { return c.results }
