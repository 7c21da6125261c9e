package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"CoopLedger/internal/intake"
	"CoopLedger/internal/logger"
	"CoopLedger/internal/models"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

var errBadName = errors.New("file name does not match contributions_<period>.<ext> or loans_<period>_<batch>_<term>.<ext>")

// InboxFile is what a file name says about the batch inside it.
type InboxFile struct {
	Kind       models.RunKind
	PeriodID   int64
	BatchLabel string
	Term       int
}

// ParseInboxName reads contributions_<period>.<ext> and
// loans_<period>_<batch>_<term>.<ext>. The batch label may itself contain
// underscores.
func ParseInboxName(name string) (InboxFile, error) {
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.Split(stem, "_")
	if len(parts) < 2 {
		return InboxFile{}, errBadName
	}
	period, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || period <= 0 {
		return InboxFile{}, errBadName
	}

	switch strings.ToLower(parts[0]) {
	case "contributions":
		if len(parts) != 2 {
			return InboxFile{}, errBadName
		}
		return InboxFile{Kind: models.RunContributionImport, PeriodID: period}, nil
	case "loans":
		if len(parts) < 4 {
			return InboxFile{}, errBadName
		}
		term, err := strconv.Atoi(parts[len(parts)-1])
		if err != nil || term <= 0 {
			return InboxFile{}, errBadName
		}
		label := strings.Join(parts[2:len(parts)-1], "_")
		if label == "" {
			return InboxFile{}, errBadName
		}
		return InboxFile{Kind: models.RunLoanPosting, PeriodID: period, BatchLabel: label, Term: term}, nil
	}
	return InboxFile{}, errBadName
}

// Inbox imports sheets dropped into a directory. Each file ends up in
// processed/ when its batch committed and in failed/ otherwise, next to a
// .outcome.json describing what happened.
type Inbox struct {
	dir        string
	actor      string
	headerRows int
	intake     *intake.Intake
	now        func() time.Time
}

func NewInbox(dir, actor string, headerRows int, in *intake.Intake) *Inbox {
	return &Inbox{dir: dir, actor: actor, headerRows: headerRows, intake: in, now: time.Now}
}

// ScanResult counts what one pass over the inbox did.
type ScanResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

func (b *Inbox) Scan(ctx context.Context) (ScanResult, error) {
	var res ScanResult
	for _, sub := range []string{processedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(b.dir, sub), 0755); err != nil {
			return res, err
		}
	}
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return res, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || strings.HasSuffix(e.Name(), ".outcome.json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out, err := b.importFile(ctx, name)
		ok := err == nil && out != nil && out.Status == models.StatusCommitted
		if err != nil {
			log.Printf("[ERROR] inbox file %s: %v", name, err)
		}
		if moveErr := b.settle(name, ok, out, err); moveErr != nil {
			log.Printf("[ERROR] inbox file %s could not be moved: %v", name, moveErr)
		}
		if ok {
			res.Processed++
		} else {
			res.Failed++
		}
	}
	return res, nil
}

func (b *Inbox) importFile(ctx context.Context, name string) (*models.Outcome, error) {
	meta, err := ParseInboxName(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(b.dir, name))
	if err != nil {
		return nil, err
	}
	file := intake.File{Name: name, Data: data}
	if meta.Kind == models.RunLoanPosting {
		return b.intake.Loans(ctx, intake.LoanUpload{
			File:       file,
			PeriodID:   meta.PeriodID,
			BatchLabel: meta.BatchLabel,
			Term:       meta.Term,
			HeaderRows: b.headerRows,
			Actor:      b.actor,
		})
	}
	return b.intake.Contributions(ctx, intake.ContributionUpload{
		File:       file,
		PeriodID:   meta.PeriodID,
		HeaderRows: b.headerRows,
		Actor:      b.actor,
	})
}

func (b *Inbox) settle(name string, ok bool, out *models.Outcome, runErr error) error {
	sub := failedDir
	if ok {
		sub = processedDir
	}
	target := filepath.Join(b.dir, sub, b.now().Format("20060102T150405")+"_"+name)
	if err := os.Rename(filepath.Join(b.dir, name), target); err != nil {
		return err
	}

	report := map[string]interface{}{"file": name}
	if out != nil {
		report["outcome"] = out
	}
	if runErr != nil {
		report["error"] = runErr.Error()
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(target+".outcome.json", data, 0644); err != nil {
		return err
	}
	logger.Audit("inbox file %s moved to %s", name, sub)
	return nil
}

func (r ScanResult) String() string {
	return fmt.Sprintf("processed=%d failed=%d", r.Processed, r.Failed)
}
