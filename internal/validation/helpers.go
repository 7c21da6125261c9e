package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"CoopLedger/internal/models"
	"CoopLedger/internal/normalize"
	"CoopLedger/internal/reconcile"
)

// ExtractUserID finds user_id in a JSON body, a form (multipart or not) or
// the query string. The body is restored for the caller.
func ExtractUserID(r *http.Request, maxMemory int64) (string, error) {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	switch {
	case strings.Contains(ct, "application/json") && r.Body != nil:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read body: %w", err)
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewBuffer(body))
		var req struct {
			UserID string `json:"user_id"`
		}
		if json.Unmarshal(body, &req) == nil && strings.TrimSpace(req.UserID) != "" {
			return strings.TrimSpace(req.UserID), nil
		}
	case strings.Contains(ct, "multipart/form-data"):
		if err := r.ParseMultipartForm(maxMemory); err != nil {
			return "", fmt.Errorf("failed to parse multipart form: %w", err)
		}
	default:
		_ = r.ParseForm()
	}
	if userID := strings.TrimSpace(r.FormValue("user_id")); userID != "" {
		return userID, nil
	}
	return "", fmt.Errorf("user_id not found in request")
}

// PositiveInt parses a required whole number greater than zero.
func PositiveInt(raw string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%q is not a positive whole number", raw)
	}
	return n, nil
}

// HeaderRows parses an optional header row count; blank means def.
func HeaderRows(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%q is not a valid header row count", raw)
	}
	return n, nil
}

// ImportMode accepts derived, plain or blank (derived).
func ImportMode(raw string) (reconcile.ImportMode, error) {
	switch m := reconcile.ImportMode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return reconcile.ModeDerived, nil
	case reconcile.ModeDerived, reconcile.ModePlain:
		return m, nil
	}
	return "", fmt.Errorf("unknown import mode %q", raw)
}

// LedgerKind accepts contribution, loan_savings or blank.
func LedgerKind(raw string) (models.LedgerKind, error) {
	k := models.LedgerKind(strings.ToLower(strings.TrimSpace(raw)))
	if k == "" || k.Valid() {
		return k, nil
	}
	return "", fmt.Errorf("unknown ledger kind %q", raw)
}

// Columns parses "id,amount[,reference[,period]]" zero-based indexes, -1
// for an absent column. Blank means the default layout.
func Columns(raw string) (*normalize.Columns, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) < 2 || len(parts) > 4 {
		return nil, fmt.Errorf("columns %q: want id,amount[,reference[,period]]", raw)
	}
	idx := []int{-1, -1, -1, -1}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < -1 {
			return nil, fmt.Errorf("columns %q: bad index %q", raw, p)
		}
		idx[i] = n
	}
	if idx[0] < 0 || idx[1] < 0 {
		return nil, fmt.Errorf("columns %q: id and amount are required", raw)
	}
	return &normalize.Columns{ID: idx[0], Amount: idx[1], Reference: idx[2], Period: idx[3]}, nil
}
