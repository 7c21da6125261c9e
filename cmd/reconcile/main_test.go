package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"CoopLedger/internal/intake"
	"CoopLedger/internal/models"
	"CoopLedger/internal/reconcile"
	"CoopLedger/internal/storage/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryOpener(s *memory.Store, gotDSN *string) opener {
	return func(_ context.Context, dsn string) (*intake.Intake, func(), error) {
		*gotDSN = dsn
		return intake.New(reconcile.NewEngine(s), nil), func() {}, nil
	}
}

func cliStore() *memory.Store {
	s := memory.NewStore()
	s.AddPeriod(models.Period{PeriodID: 5, Label: "MAY"})
	s.AddMember(models.Member{MemberID: 1, StaffID: "301", Active: true, SavingsBalance: decimal.NewFromInt(5)})
	s.AddMember(models.Member{MemberID: 2, StaffID: "302", Active: true})
	return s
}

func sheet(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sheet.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestContributionsCommand(t *testing.T) {
	s := cliStore()
	var dsn string
	var out bytes.Buffer
	cmd := newRootCmd(memoryOpener(s, &dsn), &out, "default-dsn")
	cmd.SetArgs([]string{"contributions", "--period", "5", "--file", sheet(t, "staff,amount\n301,45\n302,30\n"), "--actor", "batch-job"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "default-dsn", dsn)

	var outcome models.Outcome
	require.NoError(t, json.Unmarshal(out.Bytes(), &outcome))
	assert.Equal(t, models.StatusCommitted, outcome.Status)
	assert.Equal(t, "40.00", s.LedgerAmounts()["1/5/contribution"])
	rec, ok := s.Ledger(2, 5, models.KindContribution)
	require.True(t, ok)
	assert.Equal(t, "batch-job", rec.UpdatedBy)
}

func TestLoansCommandFailsWhenRolledBack(t *testing.T) {
	s := cliStore()
	var dsn string
	var out bytes.Buffer
	cmd := newRootCmd(memoryOpener(s, &dsn), &out, "")
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"loans", "--dsn", "postgres://x", "--period", "5", "--batch", "MAY", "--term", "4",
		"--file", sheet(t, "staff,amount\n301,400\n999,100\n998,100\n")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(models.StatusRolledBack))
	assert.Equal(t, "postgres://x", dsn)
	assert.Contains(t, out.String(), `"status": "rolled_back"`)
	assert.Empty(t, s.Approvals())
}

func TestLoansCommandRequiresBatchAndTerm(t *testing.T) {
	var dsn string
	cmd := newRootCmd(memoryOpener(cliStore(), &dsn), &bytes.Buffer{}, "")
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"loans", "--period", "5", "--file", sheet(t, "301,1\n")})
	assert.Error(t, cmd.Execute())
	assert.Empty(t, dsn)
}

func TestContributionsCommandRejectsBadMode(t *testing.T) {
	var dsn string
	cmd := newRootCmd(memoryOpener(cliStore(), &dsn), &bytes.Buffer{}, "")
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"contributions", "--period", "5", "--mode", "merge", "--file", sheet(t, "301,1\n")})
	assert.Error(t, cmd.Execute())
}
