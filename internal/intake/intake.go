package intake

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"CoopLedger/internal/checksum"
	"CoopLedger/internal/models"
	"CoopLedger/internal/normalize"
	"CoopLedger/internal/reconcile"
	"CoopLedger/internal/rowsource"
)

// ErrParse wraps every failure to turn an upload into rows.
var ErrParse = errors.New("parse upload")

// ErrChecksumMismatch is returned when a file does not hash to the
// checksum sent with it.
var ErrChecksumMismatch = errors.New("file does not match its sha256 checksum")

// Archiver stores the original file and returns where it went.
type Archiver interface {
	Put(ctx context.Context, kind models.RunKind, periodID int64, fileName, hash string, data []byte) (string, error)
}

// Batches is the part of the engine intake drives.
type Batches interface {
	ImportContributions(ctx context.Context, req reconcile.ContributionRequest) (*models.Outcome, error)
	PostLoans(ctx context.Context, req reconcile.LoanRequest) (*models.Outcome, error)
}

// File is an uploaded or picked-up sheet. Checksum, when set, is the hex
// SHA-256 the sender computed.
type File struct {
	Name     string
	Data     []byte
	Checksum string
}

type ContributionUpload struct {
	File       File
	PeriodID   int64
	HeaderRows int
	Columns    *normalize.Columns
	Mode       reconcile.ImportMode
	Kind       models.LedgerKind
	Actor      string
}

type LoanUpload struct {
	File       File
	PeriodID   int64
	BatchLabel string
	Term       int
	HeaderRows int
	Columns    *normalize.Columns
	Actor      string
}

// Intake parses a sheet, fingerprints and optionally archives it, and hands
// the rows to the engine.
type Intake struct {
	batches Batches
	archive Archiver
}

// New builds an Intake. archive may be nil.
func New(batches Batches, archive Archiver) *Intake {
	return &Intake{batches: batches, archive: archive}
}

func (in *Intake) Contributions(ctx context.Context, up ContributionUpload) (*models.Outcome, error) {
	rows, source, err := in.prepare(ctx, models.RunContributionImport, up.PeriodID, up.File)
	if err != nil {
		return nil, err
	}
	return in.batches.ImportContributions(ctx, reconcile.ContributionRequest{
		PeriodID:   up.PeriodID,
		Rows:       rows,
		HeaderRows: up.HeaderRows,
		Columns:    up.Columns,
		Mode:       up.Mode,
		Kind:       up.Kind,
		Actor:      up.Actor,
		Source:     source,
	})
}

func (in *Intake) Loans(ctx context.Context, up LoanUpload) (*models.Outcome, error) {
	rows, source, err := in.prepare(ctx, models.RunLoanPosting, up.PeriodID, up.File)
	if err != nil {
		return nil, err
	}
	return in.batches.PostLoans(ctx, reconcile.LoanRequest{
		PeriodID:   up.PeriodID,
		BatchLabel: up.BatchLabel,
		Term:       up.Term,
		Rows:       rows,
		HeaderRows: up.HeaderRows,
		Columns:    up.Columns,
		Actor:      up.Actor,
		Source:     source,
	})
}

// prepare fails only when the file cannot be parsed. An archive failure is
// logged and the batch goes ahead without an archive URL.
func (in *Intake) prepare(ctx context.Context, kind models.RunKind, periodID int64, f File) ([][]string, models.SourceFile, error) {
	if f.Checksum != "" {
		ok, err := checksum.NewMatcher(f.Checksum).Match(f.Data)
		if err != nil {
			return nil, models.SourceFile{}, err
		}
		if !ok {
			return nil, models.SourceFile{}, ErrChecksumMismatch
		}
	}
	rows, err := rowsource.Read(f.Name, f.Data)
	if err != nil {
		return nil, models.SourceFile{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	source := models.SourceFile{
		Name: filepath.Base(f.Name),
		Hash: checksum.Fingerprint(f.Data),
	}
	if in.archive != nil && periodID > 0 {
		url, err := in.archive.Put(ctx, kind, periodID, source.Name, source.Hash, f.Data)
		if err != nil {
			log.Printf("[ERROR] archive %s: %v", source.Name, err)
		} else {
			source.ArchiveURL = url
		}
	}
	return rows, source, nil
}
