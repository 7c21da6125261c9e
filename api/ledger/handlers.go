package ledger

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"

	"CoopLedger/api"
	"CoopLedger/api/constants"
	"CoopLedger/internal/config"
	"CoopLedger/internal/intake"
	"CoopLedger/internal/models"
	"CoopLedger/internal/normalize"
	"CoopLedger/internal/rowsource"
	"CoopLedger/internal/validation"
)

// Intake is the batch entry point the handlers call.
type Intake interface {
	Contributions(ctx context.Context, up intake.ContributionUpload) (*models.Outcome, error)
	Loans(ctx context.Context, up intake.LoanUpload) (*models.Outcome, error)
}

// maxUploadBytes caps the spreadsheet read from the form. Larger files are
// refused rather than cut short, since a truncated sheet would still commit
// and zero every member in the missing tail.
var maxUploadBytes int64 = config.MaxUploadBytes

// StatusFunc reports the state of the running services by name.
type StatusFunc func() map[string]interface{}

// UploadContributions handles POST /api/ledger/contributions/upload.
// Form fields: period_id, file, and optionally mode, kind, header_rows,
// columns and sha256.
func UploadContributions(in Intake) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		periodID, err := validation.PositiveInt(r.FormValue(constants.KeyPeriodID))
		if err != nil {
			api.RespondWithError(w, http.StatusBadRequest, constants.ErrInvalidPeriodID)
			return
		}
		mode, err := validation.ImportMode(r.FormValue(constants.KeyMode))
		if err != nil {
			api.RespondWithError(w, http.StatusBadRequest, constants.FormatInvalidField(constants.KeyMode, r.FormValue(constants.KeyMode)))
			return
		}
		kind, err := validation.LedgerKind(r.FormValue(constants.KeyKind))
		if err != nil {
			api.RespondWithError(w, http.StatusBadRequest, constants.FormatInvalidField(constants.KeyKind, r.FormValue(constants.KeyKind)))
			return
		}
		common, ok := commonFields(w, r)
		if !ok {
			return
		}

		out, err := in.Contributions(r.Context(), intake.ContributionUpload{
			File:       common.file,
			PeriodID:   periodID,
			HeaderRows: common.headerRows,
			Columns:    common.columns,
			Mode:       mode,
			Kind:       kind,
			Actor:      api.UserIDFromCtx(r.Context()),
		})
		respondWithOutcome(w, out, err)
	}
}

// PostLoans handles POST /api/ledger/loans/post. Form fields: period_id,
// batch_label, term, file, and optionally header_rows, columns and sha256.
func PostLoans(in Intake) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		periodID, err := validation.PositiveInt(r.FormValue(constants.KeyPeriodID))
		if err != nil {
			api.RespondWithError(w, http.StatusBadRequest, constants.ErrInvalidPeriodID)
			return
		}
		term, err := validation.PositiveInt(r.FormValue(constants.KeyTerm))
		if err != nil {
			api.RespondWithError(w, http.StatusBadRequest, constants.ErrInvalidTerm)
			return
		}
		common, ok := commonFields(w, r)
		if !ok {
			return
		}

		out, err := in.Loans(r.Context(), intake.LoanUpload{
			File:       common.file,
			PeriodID:   periodID,
			BatchLabel: r.FormValue(constants.KeyBatchLabel),
			Term:       int(term),
			HeaderRows: common.headerRows,
			Columns:    common.columns,
			Actor:      api.UserIDFromCtx(r.Context()),
		})
		respondWithOutcome(w, out, err)
	}
}

type uploadFields struct {
	file       intake.File
	headerRows int
	columns    *normalize.Columns
}

func commonFields(w http.ResponseWriter, r *http.Request) (uploadFields, bool) {
	var f uploadFields
	var err error
	if f.headerRows, err = validation.HeaderRows(r.FormValue(constants.KeyHeaderRows), 1); err != nil {
		api.RespondWithError(w, http.StatusBadRequest, constants.ErrInvalidHeaderRows)
		return f, false
	}
	if f.columns, err = validation.Columns(r.FormValue(constants.KeyColumns)); err != nil {
		api.RespondWithError(w, http.StatusBadRequest, constants.FormatInvalidField(constants.KeyColumns, r.FormValue(constants.KeyColumns)))
		return f, false
	}

	file, header, err := r.FormFile(constants.KeyFile)
	if err != nil {
		api.RespondWithError(w, http.StatusBadRequest, constants.ErrFileRequired)
		return f, false
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		api.RespondWithError(w, http.StatusBadRequest, constants.ErrFileUnreadable)
		return f, false
	}
	if int64(len(data)) > maxUploadBytes {
		api.LogInfo("refused %s: larger than %d bytes", header.Filename, maxUploadBytes)
		api.RespondWithError(w, http.StatusBadRequest, constants.ErrFileTooLarge)
		return f, false
	}
	f.file = intake.File{Name: header.Filename, Data: data, Checksum: r.FormValue(constants.KeyChecksum)}
	return f, true
}

// respondWithOutcome sends the outcome itself. Rejected batches are a 400,
// decided ones a 200 whether they committed or rolled back.
func respondWithOutcome(w http.ResponseWriter, out *models.Outcome, err error) {
	switch {
	case errors.Is(err, rowsource.ErrUnsupportedFormat):
		api.RespondWithError(w, http.StatusBadRequest, constants.ErrUnsupportedFileType)
	case errors.Is(err, intake.ErrChecksumMismatch):
		api.RespondWithError(w, http.StatusBadRequest, constants.ErrChecksumMismatch)
	case errors.Is(err, intake.ErrParse):
		api.RespondWithError(w, http.StatusBadRequest, constants.ErrFileUnreadable)
	case err != nil:
		api.LogError("batch failed: %v", err)
		api.RespondWithError(w, http.StatusInternalServerError, constants.ErrBatchFailedUnexpectedly)
	case out.Status == models.StatusRejected:
		api.RespondWithJSON(w, http.StatusBadRequest, out)
	default:
		api.LogInfo("run %s %s: %d ok, %d failed", out.RunID, out.Status, out.Succeeded, out.Failed)
		api.RespondWithJSON(w, http.StatusOK, out)
	}
}

// Health handles GET /api/ledger/health.
func Health(statuses StatusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := map[string]interface{}{}
		if statuses != nil {
			st = statuses()
		}
		names := make([]string, 0, len(st))
		for name := range st {
			names = append(names, name)
		}
		sort.Strings(names)
		api.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"services": names,
			"status":   st,
		})
	}
}
