package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"finanzas/internal/amqp"
	"finanzas/internal/core"
	"finanzas/internal/storage"

	"github.com/shopspring/decimal"
)

// AuditService turns loan events into audit snapshots.
type AuditService struct {
	store storage.AuditStore
}

func NewAuditService(store storage.AuditStore) *AuditService {
	return &AuditService{store: store}
}

// Record snapshots the loan named by evt. A loan that no longer exists is
// recorded as a tombstone. Redelivered events are ignored.
func (s *AuditService) Record(ctx context.Context, evt *amqp.LoanEvent) error {
	entry := core.AuditEntry{
		EventID:    evt.EventID,
		EventType:  string(evt.Type),
		LoanID:     evt.LoanID,
		OwnerID:    evt.OwnerID,
		OccurredAt: evt.Timestamp,
	}

	l, paid, err := s.store.LoanSnapshot(ctx, evt.LoanID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		entry.Tombstone = true
		entry.EffectiveInstallment = decimal.Zero
		entry.ComputedInstallment = decimal.Zero
		entry.Difference = decimal.Zero
		entry.OutstandingBalance = decimal.Zero
		entry.TotalPaid = decimal.Zero
	case err != nil:
		return fmt.Errorf("snapshot loan %d: %w", evt.LoanID, err)
	default:
		if l.OwnerID != evt.OwnerID {
			slog.WarnContext(ctx, "Loan event owner does not match stored loan",
				"event_id", evt.EventID,
				"loan_id", evt.LoanID,
				"event_owner", evt.OwnerID,
				"loan_owner", l.OwnerID)
			entry.OwnerID = l.OwnerID
		}
		entry.EffectiveInstallment = l.EffectiveInstallment
		entry.ComputedInstallment = l.ComputedInstallment
		entry.Difference = l.Difference()
		entry.OutstandingBalance = l.OutstandingBalance
		entry.TotalPaid = paid
	}

	inserted, err := s.store.RecordAudit(ctx, entry)
	if err != nil {
		return fmt.Errorf("record audit for loan %d: %w", evt.LoanID, err)
	}
	if !inserted {
		slog.DebugContext(ctx, "Duplicate loan event ignored", "event_id", evt.EventID)
		return nil
	}

	slog.InfoContext(ctx, "Audit entry recorded",
		"event_id", evt.EventID,
		"type", evt.Type,
		"loan_id", evt.LoanID,
		"tombstone", entry.Tombstone)
	return nil
}

// History lists audit entries for a loan, newest first.
func (s *AuditService) History(ctx context.Context, ownerID, loanID int64) ([]core.AuditEntry, error) {
	items, err := s.store.ListAudit(ctx, ownerID, loanID)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return items, nil
}
