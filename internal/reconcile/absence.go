package reconcile

import (
	"context"
	"sort"
	"time"

	"CoopLedger/internal/models"
	"CoopLedger/internal/storage"
)

// ZeroAbsent sets the period's rows of kind to zero for every member whose
// staff id is not in present. Matching is on staff ids because the question
// is "was this member mentioned in the file", not "which member key is it".
func ZeroAbsent(ctx context.Context, tx storage.Tx, periodID int64, kind models.LedgerKind, present []string, actor string, at time.Time) (int64, error) {
	return tx.ZeroLedgerExcept(ctx, periodID, kind, uniqueSorted(present), actor, at)
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
