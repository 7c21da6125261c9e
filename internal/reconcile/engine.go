package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"CoopLedger/internal/logger"
	"CoopLedger/internal/models"
	"CoopLedger/internal/storage"

	"github.com/google/uuid"
)

// ProgressSink receives percentage updates while a batch runs. Calls are
// fire-and-forget and must not block.
type ProgressSink interface {
	Progress(actor, runID string, percent int)
}

// AuditLog stores one summary row per committed batch.
type AuditLog interface {
	Record(ctx context.Context, entry models.AuditEntry) error
}

// Publisher announces decided batches to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event models.BatchEvent) error
}

// PeriodLocker keeps two batches for the same period from running at once
// within this process.
type PeriodLocker interface {
	TryAcquire(periodID int64, runID string) bool
	Release(periodID int64, runID string)
}

type nopProgress struct{}

func (nopProgress) Progress(string, string, int) {}

type nopAudit struct{}

func (nopAudit) Record(context.Context, models.AuditEntry) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, models.BatchEvent) error { return nil }

// FanOut publishes every event to each publisher in turn. All of them are
// tried; their errors are joined.
type FanOut []Publisher

func (f FanOut) Publish(ctx context.Context, ev models.BatchEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type nopLocker struct{}

func (nopLocker) TryAcquire(int64, string) bool { return true }
func (nopLocker) Release(int64, string)         {}

// Engine runs contribution imports and loan postings against a Store.
type Engine struct {
	store    storage.Store
	progress ProgressSink
	audit    AuditLog
	events   Publisher
	locker   PeriodLocker
	now      func() time.Time
	newRunID func() string
}

type Option func(*Engine)

func WithProgress(p ProgressSink) Option { return func(e *Engine) { e.progress = p } }
func WithAudit(a AuditLog) Option        { return func(e *Engine) { e.audit = a } }
func WithPublisher(p Publisher) Option   { return func(e *Engine) { e.events = p } }
func WithPeriodLocker(l PeriodLocker) Option {
	return func(e *Engine) { e.locker = l }
}
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		progress: nopProgress{},
		audit:    nopAudit{},
		events:   nopPublisher{},
		locker:   nopLocker{},
		now:      time.Now,
		newRunID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run carries the per-batch values every step needs.
type run struct {
	outcome *models.Outcome
	actor   string
	source  models.SourceFile
	total   int
	done    int
}

func (e *Engine) newRun(kind models.RunKind, periodID int64, label, actor string, source models.SourceFile) *run {
	return &run{
		outcome: &models.Outcome{
			RunID:               e.newRunID(),
			Kind:                kind,
			PeriodID:            periodID,
			BatchLabel:          label,
			Errors:              []string{},
			NotFoundIdentifiers: []string{},
			StartedAt:           e.now(),
		},
		actor:  actor,
		source: source,
	}
}

// step reports progress after a record, whatever its outcome.
func (e *Engine) step(r *run) {
	r.done++
	if r.total == 0 {
		return
	}
	e.progress.Progress(r.actor, r.outcome.RunID, r.done*100/r.total)
}

// reject finishes a run that failed a batch-level check before anything
// was written.
func (e *Engine) reject(ctx context.Context, r *run, err error) *models.Outcome {
	o := r.outcome
	o.Status = models.StatusRejected
	o.Success = false
	o.Message = err.Error()
	o.FinishedAt = e.now()
	log.Printf("[WARN] %s run %s for period %d rejected: %v", o.Kind, o.RunID, o.PeriodID, err)
	e.publish(ctx, r)
	return o
}

// settle copies the coordinator tally into the outcome, writes the audit row
// after a commit and publishes the event.
func (e *Engine) settle(ctx context.Context, r *run, c *Coordinator, status models.RunStatus) *models.Outcome {
	o := r.outcome
	o.Status = status
	o.Succeeded = c.Succeeded()
	o.Failed = c.Failed()
	o.Processed = o.Succeeded + o.Failed
	o.Errors = append(o.Errors, c.Errors()...)
	o.NotFoundIdentifiers = append(o.NotFoundIdentifiers, c.NotFound()...)
	o.FinishedAt = e.now()

	if status == models.StatusCommitted {
		o.Success = true
		o.Message = fmt.Sprintf("%d of %d records posted", o.Succeeded, o.Processed)
		entry := models.AuditEntry{
			RunID:      o.RunID,
			Kind:       o.Kind,
			PeriodID:   o.PeriodID,
			BatchLabel: o.BatchLabel,
			Actor:      r.actor,
			Succeeded:  o.Succeeded,
			Failed:     o.Failed,
			Skipped:    o.Skipped,
			Zeroed:     o.Zeroed,
			Errors:     o.Errors,
			FileName:   r.source.Name,
			FileHash:   r.source.Hash,
			ArchiveURL: r.source.ArchiveURL,
			CreatedAt:  o.FinishedAt,
		}
		if err := e.audit.Record(context.WithoutCancel(ctx), entry); err != nil {
			log.Printf("[ERROR] audit row for run %s not written: %v", o.RunID, err)
		}
	} else {
		o.Success = false
		o.Zeroed = 0
		if o.Processed == 0 {
			o.Message = fmt.Sprintf("%v: %d rows skipped; nothing was saved", ErrNothingPosted, o.Skipped)
		} else {
			o.Message = fmt.Sprintf("%v: %d failed, %d succeeded; nothing was saved", ErrThreshold, o.Failed, o.Succeeded)
		}
	}

	summary := fmt.Sprintf("%s run %s period %d %s: succeeded=%d failed=%d skipped=%d zeroed=%d actor=%s",
		o.Kind, o.RunID, o.PeriodID, o.Status, o.Succeeded, o.Failed, o.Skipped, o.Zeroed, r.actor)
	log.Printf("[INFO] %s", summary)
	if logger.GlobalLogger != nil {
		logger.GlobalLogger.LogAudit(summary)
	}
	e.publish(ctx, r)
	return o
}

func (e *Engine) publish(ctx context.Context, r *run) {
	o := r.outcome
	ev := models.BatchEvent{
		RunID:      o.RunID,
		Kind:       o.Kind,
		PeriodID:   o.PeriodID,
		BatchLabel: o.BatchLabel,
		Status:     o.Status,
		Succeeded:  o.Succeeded,
		Failed:     o.Failed,
		Zeroed:     o.Zeroed,
		Actor:      r.actor,
		OccurredAt: o.FinishedAt,
	}
	if err := e.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		log.Printf("[ERROR] publish outcome of run %s: %v", o.RunID, err)
	}
}

// open acquires the period and the batch transaction and verifies the
// period exists. On failure the period is released again and either a
// rejection outcome or an infrastructure error comes back.
func (e *Engine) open(ctx context.Context, r *run) (*Coordinator, *models.Outcome, error) {
	o := r.outcome
	if !e.locker.TryAcquire(o.PeriodID, o.RunID) {
		return nil, e.reject(ctx, r, fmt.Errorf("%w: period %d", ErrPeriodBusy, o.PeriodID)), nil
	}
	c, err := Begin(ctx, e.store)
	if err != nil {
		e.locker.Release(o.PeriodID, o.RunID)
		return nil, nil, err
	}
	exists, err := c.Tx().PeriodExists(ctx, o.PeriodID)
	if err != nil {
		c.Abort(ctx)
		e.locker.Release(o.PeriodID, o.RunID)
		return nil, nil, err
	}
	if !exists {
		c.Abort(ctx)
		e.locker.Release(o.PeriodID, o.RunID)
		return nil, e.reject(ctx, r, fmt.Errorf("%w: period %d does not exist", ErrInvalidPeriod, o.PeriodID)), nil
	}
	return c, nil, nil
}
