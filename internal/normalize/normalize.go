package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"CoopLedger/internal/models"

	"github.com/shopspring/decimal"
)

// Columns maps the fields of a candidate to zero-based cell indexes.
// A negative index means the column is absent.
type Columns struct {
	ID        int
	Amount    int
	Reference int
	Period    int
}

// DefaultColumns is the layout of the payroll deduction sheets: staff id in
// the first column, amount in the second.
var DefaultColumns = Columns{ID: 0, Amount: 1, Reference: -1, Period: -1}

type Options struct {
	HeaderRows int
	Columns    Columns
}

// Skip records a row that was left out of the batch.
type Skip struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

type Result struct {
	Candidates []models.Candidate
	Skipped    []Skip
}

const (
	ReasonEmptyID       = "empty identifier"
	ReasonInvalidID     = "identifier is not a positive number"
	ReasonInvalidAmount = "amount is not a number"
	ReasonInvalidPeriod = "period is not a positive number"
)

var errInvalidAmount = errors.New(ReasonInvalidAmount)

// Normalize turns raw sheet rows into candidates. It never fails: rows it
// cannot use are reported in Result.Skipped and are therefore absent from
// the batch.
func Normalize(rows [][]string, opts Options) Result {
	res := Result{}
	start := opts.HeaderRows
	if start < 0 {
		start = 0
	}
	for i := start; i < len(rows); i++ {
		c, reason, ok := Row(rows[i], i+1, opts.Columns)
		if !ok {
			res.Skipped = append(res.Skipped, Skip{Row: i + 1, Reason: reason})
			continue
		}
		res.Candidates = append(res.Candidates, c)
	}
	return res
}

// Row normalizes a single row. rowNum is only carried into the candidate.
func Row(row []string, rowNum int, cols Columns) (models.Candidate, string, bool) {
	rawID := cell(row, cols.ID)
	if rawID == "" {
		return models.Candidate{}, ReasonEmptyID, false
	}
	id, ok := ParseIdentifier(rawID)
	if !ok {
		return models.Candidate{}, ReasonInvalidID, false
	}
	amount, err := ParseAmount(cell(row, cols.Amount))
	if err != nil {
		return models.Candidate{}, ReasonInvalidAmount, false
	}
	c := models.Candidate{
		Row:        rowNum,
		ExternalID: id,
		Amount:     amount,
		Reference:  cell(row, cols.Reference),
	}
	if p := cell(row, cols.Period); p != "" {
		pid, ok := ParseIdentifier(p)
		if !ok {
			return models.Candidate{}, ReasonInvalidPeriod, false
		}
		c.PeriodID, _ = strconv.ParseInt(pid, 10, 64)
	}
	return c, "", true
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// ParseIdentifier accepts positive integers, including the "1234.0" and
// "1.234E+3" forms spreadsheets produce for numeric cells. The canonical
// form has no leading zeros.
func ParseIdentifier(s string) (string, bool) {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "'\"`")
	if s == "" {
		return "", false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n <= 0 {
			return "", false
		}
		return strconv.FormatInt(n, 10), true
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", false
	}
	if !d.IsInteger() || d.Sign() <= 0 {
		return "", false
	}
	return d.String(), true
}

// ParseAmount parses a monetary cell. Empty cells are zero; thousands
// separators, currency symbols and accounting parentheses are tolerated.
// The result is rounded to two fractional digits.
func ParseAmount(s string) (decimal.Decimal, error) {
	clean := strings.TrimSpace(s)
	if clean == "" || clean == "-" {
		return decimal.Zero, nil
	}
	negative := false
	if strings.HasPrefix(clean, "(") && strings.HasSuffix(clean, ")") {
		negative = true
		clean = strings.TrimSuffix(strings.TrimPrefix(clean, "("), ")")
	}
	clean = strings.NewReplacer(",", "", " ", "", "\u00a0", "", "₦", "", "$", "", "£", "", "€", "").Replace(clean)
	if clean == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", errInvalidAmount, s)
	}
	if negative {
		d = d.Neg()
	}
	return d.Round(2), nil
}
