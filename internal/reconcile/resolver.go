package reconcile

import (
	"context"
	"errors"

	"CoopLedger/internal/models"
	"CoopLedger/internal/storage"
)

// Resolve maps a staff id to its active member, including the savings
// balance contribution imports derive from. A missing member is reported
// as ErrMemberNotFound so the caller can record it against the row.
func Resolve(ctx context.Context, tx storage.Tx, staffID string) (models.Member, error) {
	m, err := tx.FindMemberByStaffID(ctx, staffID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Member{}, ErrMemberNotFound
	}
	if err != nil {
		return models.Member{}, err
	}
	return m, nil
}
