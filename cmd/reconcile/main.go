// Command reconcile runs a single contribution import or loan posting from a
// sheet on disk and prints the outcome as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"CoopLedger/internal/audit"
	"CoopLedger/internal/config"
	"CoopLedger/internal/intake"
	"CoopLedger/internal/models"
	"CoopLedger/internal/reconcile"
	"CoopLedger/internal/storage/postgres"
	"CoopLedger/internal/validation"

	"github.com/spf13/cobra"
)

// opener builds the intake for a DSN; the returned func releases it.
type opener func(ctx context.Context, dsn string) (*intake.Intake, func(), error)

type commonOptions struct {
	dsn        string
	actor      string
	file       string
	period     int64
	headerRows int
	columns    string
	checksum   string
}

func main() {
	cfg := config.Load(".env", "../.env")
	cmd := newRootCmd(openPostgres, os.Stdout, cfg.DB.DSN())
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openPostgres(ctx context.Context, dsn string) (*intake.Intake, func(), error) {
	pool, err := postgres.Connect(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	auditDB, err := audit.InitDB(dsn)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	engine := reconcile.NewEngine(postgres.NewStore(pool), reconcile.WithAudit(audit.NewLog(auditDB)))
	return intake.New(engine, nil), func() {
		auditDB.Close()
		pool.Close()
	}, nil
}

func newRootCmd(open opener, out io.Writer, defaultDSN string) *cobra.Command {
	var opts commonOptions
	root := &cobra.Command{
		Use:           "reconcile",
		Short:         "Post a contribution or loan sheet to the ledger",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", defaultDSN, "Postgres connection string")
	root.PersistentFlags().StringVar(&opts.actor, "actor", config.DefaultActor, "Name recorded against every write")
	root.PersistentFlags().StringVar(&opts.file, "file", "", "Sheet to post (.csv, .xlsx or .xls)")
	root.PersistentFlags().Int64Var(&opts.period, "period", 0, "Period id")
	root.PersistentFlags().IntVar(&opts.headerRows, "header-rows", 1, "Rows to skip at the top of the sheet")
	root.PersistentFlags().StringVar(&opts.columns, "columns", "", "Zero-based id,amount[,reference[,period]] columns")
	root.PersistentFlags().StringVar(&opts.checksum, "sha256", "", "Refuse the file unless it hashes to this checksum")
	_ = root.MarkPersistentFlagRequired("file")
	_ = root.MarkPersistentFlagRequired("period")

	root.AddCommand(newContributionsCmd(&opts, open, out), newLoansCmd(&opts, open, out))
	return root
}

func newContributionsCmd(opts *commonOptions, open opener, out io.Writer) *cobra.Command {
	var mode, kind string
	cmd := &cobra.Command{
		Use:   "contributions",
		Short: "Import a period's contribution deductions",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := validation.ImportMode(mode)
			if err != nil {
				return err
			}
			k, err := validation.LedgerKind(kind)
			if err != nil {
				return err
			}
			return run(cmd.Context(), opts, open, out, func(ctx context.Context, in *intake.Intake, file intake.File) (*models.Outcome, error) {
				cols, err := validation.Columns(opts.columns)
				if err != nil {
					return nil, err
				}
				return in.Contributions(ctx, intake.ContributionUpload{
					File:       file,
					PeriodID:   opts.period,
					HeaderRows: opts.headerRows,
					Columns:    cols,
					Mode:       m,
					Kind:       k,
					Actor:      opts.actor,
				})
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(reconcile.ModeDerived), "derived or plain")
	cmd.Flags().StringVar(&kind, "kind", "", "Ledger kind for a plain import (contribution or loan_savings)")
	return cmd
}

func newLoansCmd(opts *commonOptions, open opener, out io.Writer) *cobra.Command {
	var batch string
	var term int
	cmd := &cobra.Command{
		Use:   "loans",
		Short: "Post a batch of loan approvals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, open, out, func(ctx context.Context, in *intake.Intake, file intake.File) (*models.Outcome, error) {
				cols, err := validation.Columns(opts.columns)
				if err != nil {
					return nil, err
				}
				return in.Loans(ctx, intake.LoanUpload{
					File:       file,
					PeriodID:   opts.period,
					BatchLabel: batch,
					Term:       term,
					HeaderRows: opts.headerRows,
					Columns:    cols,
					Actor:      opts.actor,
				})
			})
		},
	}
	cmd.Flags().StringVar(&batch, "batch", "", "Batch label")
	cmd.Flags().IntVar(&term, "term", 0, "Repayment term in months")
	_ = cmd.MarkFlagRequired("batch")
	_ = cmd.MarkFlagRequired("term")
	return cmd
}

type postFunc func(ctx context.Context, in *intake.Intake, file intake.File) (*models.Outcome, error)

// run prints the outcome and fails unless the batch committed.
func run(ctx context.Context, opts *commonOptions, open opener, out io.Writer, post postFunc) error {
	data, err := os.ReadFile(opts.file)
	if err != nil {
		return err
	}
	in, release, err := open(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer release()

	outcome, err := post(ctx, in, intake.File{Name: opts.file, Data: data, Checksum: opts.checksum})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcome); err != nil {
		return err
	}
	if outcome.Status != models.StatusCommitted {
		return fmt.Errorf("batch %s: %s", outcome.Status, outcome.Message)
	}
	return nil
}
