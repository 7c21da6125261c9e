package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"CoopLedger/internal/models"

	"github.com/lib/pq"
)

// InitDB opens the database/sql handle the audit log writes through.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// execer is the part of *sql.DB the log needs.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Log appends one row per committed batch to import_audit. Rows are never
// updated.
type Log struct {
	db execer
}

func NewLog(db *sql.DB) *Log {
	return &Log{db: db}
}

const insertAudit = `
	INSERT INTO import_audit
		(run_id, kind, period_id, batch_label, actor, succeeded, failed, skipped, zeroed, errors, file_name, file_hash, archive_url, created_at)
	VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, ''), $14)`

func (l *Log) Record(ctx context.Context, e models.AuditEntry) error {
	errs := e.Errors
	if errs == nil {
		errs = []string{}
	}
	_, err := l.db.ExecContext(ctx, insertAudit,
		e.RunID, string(e.Kind), e.PeriodID, e.BatchLabel, e.Actor,
		e.Succeeded, e.Failed, e.Skipped, e.Zeroed, pq.Array(errs),
		e.FileName, e.FileHash, e.ArchiveURL, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit row for run %s: %w", e.RunID, err)
	}
	return nil
}
