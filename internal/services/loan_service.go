package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"finanzas/internal/amqp"
	"finanzas/internal/cache"
	"finanzas/internal/core"
	"finanzas/internal/storage"

	"github.com/shopspring/decimal"
)

// EventPublisher is satisfied by *amqp.Client. Pass a nil interface, not a
// typed nil pointer, to run without messaging.
type EventPublisher interface {
	Publish(ctx context.Context, evt *amqp.LoanEvent) error
}

// LoanService orchestrates loan and payment operations: pricing through the
// core engine, persistence in one transaction per mutation, and best-effort
// event publication after commit.
type LoanService struct {
	store     storage.LoanStore
	publisher EventPublisher
	pages     cache.Cache[core.LoanPage]
}

// NewLoanService wires a loan service. publisher and pages are optional.
func NewLoanService(store storage.LoanStore, publisher EventPublisher, pages cache.Cache[core.LoanPage]) *LoanService {
	return &LoanService{
		store:     store,
		publisher: publisher,
		pages:     pages,
	}
}

// DefaultPageCache is the loan list cache used by the server.
func DefaultPageCache() *cache.LRUCache[core.LoanPage] {
	return cache.NewLRUCache[core.LoanPage](256, 2*time.Minute)
}

// invalid marks err as a validation failure while keeping the field error
// reachable through errors.Is.
func invalid(err error) error {
	if errors.Is(err, core.ErrValidation) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrValidation, err)
}

// Quote prices p without saving anything.
func (s *LoanService) Quote(p core.LoanParams) (core.InstallmentQuote, error) {
	q, err := core.Quote(p)
	if err != nil {
		return core.InstallmentQuote{}, invalid(err)
	}
	return q, nil
}

// CreateLoan prices and persists a new loan.
func (s *LoanService) CreateLoan(ctx context.Context, ownerID int64, p core.LoanParams) (core.Loan, error) {
	l, err := core.NewLoan(ownerID, p)
	if err != nil {
		return core.Loan{}, invalid(err)
	}

	var created core.Loan
	err = s.store.WithTx(ctx, func(tx storage.LoanStore) error {
		var err error
		created, err = tx.CreateLoan(ctx, l)
		return err
	})
	if err != nil {
		return core.Loan{}, fmt.Errorf("create loan: %w", err)
	}

	slog.InfoContext(ctx, "Loan created",
		"loan_id", created.ID,
		"owner_id", ownerID,
		"mode", created.Mode(),
		"effective_installment", created.EffectiveInstallment.String(),
		"computed_installment", created.ComputedInstallment.String())

	s.afterMutation(ctx, amqp.NewLoanEvent(amqp.LoanCreated, created.ID, ownerID))
	return created, nil
}

// UpdateLoan merges changes into the stored loan and reprices it.
func (s *LoanService) UpdateLoan(ctx context.Context, ownerID, loanID int64, changes core.LoanChanges) (core.Loan, error) {
	var updated core.Loan
	err := s.store.WithTx(ctx, func(tx storage.LoanStore) error {
		current, err := tx.GetLoan(ctx, ownerID, loanID)
		if err != nil {
			return err
		}
		paid, err := tx.TotalPaid(ctx, ownerID, loanID)
		if err != nil {
			return err
		}
		merged, err := changes.Merge(current, paid)
		if err != nil {
			return invalid(err)
		}
		updated, err = tx.UpdateLoan(ctx, merged)
		return err
	})
	if err != nil {
		return core.Loan{}, fmt.Errorf("update loan %d: %w", loanID, err)
	}

	slog.InfoContext(ctx, "Loan updated",
		"loan_id", loanID,
		"owner_id", ownerID,
		"mode", updated.Mode(),
		"effective_installment", updated.EffectiveInstallment.String())

	s.afterMutation(ctx, amqp.NewLoanEvent(amqp.LoanUpdated, loanID, ownerID))
	return updated, nil
}

// RecordPayment stores a payment and lowers the outstanding balance in the
// same transaction. A payment larger than the balance is rejected.
func (s *LoanService) RecordPayment(ctx context.Context, ownerID, loanID int64, p core.PaymentParams) (core.Payment, error) {
	var created core.Payment
	err := s.store.WithTx(ctx, func(tx storage.LoanStore) error {
		l, err := tx.GetLoan(ctx, ownerID, loanID)
		if err != nil {
			return err
		}
		payment, err := core.NewPayment(l, p)
		if err != nil {
			return invalid(err)
		}
		created, err = tx.CreatePayment(ctx, payment)
		if err != nil {
			return err
		}
		l.OutstandingBalance = l.OutstandingBalance.Sub(created.Amount)
		_, err = tx.UpdateLoan(ctx, l)
		return err
	})
	if err != nil {
		return core.Payment{}, fmt.Errorf("record payment on loan %d: %w", loanID, err)
	}

	slog.InfoContext(ctx, "Payment recorded",
		"loan_id", loanID,
		"payment_id", created.ID,
		"amount", created.Amount.String())

	s.afterMutation(ctx, amqp.NewLoanEvent(amqp.PaymentRecorded, loanID, ownerID).WithPayment(created.ID))
	return created, nil
}

// DeletePayment removes a payment and gives its amount back to the balance,
// never beyond the principal. It returns the deleted payment.
func (s *LoanService) DeletePayment(ctx context.Context, ownerID, paymentID int64) (core.Payment, error) {
	var deleted core.Payment
	err := s.store.WithTx(ctx, func(tx storage.LoanStore) error {
		p, err := tx.GetPayment(ctx, ownerID, paymentID)
		if err != nil {
			return err
		}
		l, err := tx.GetLoan(ctx, ownerID, p.LoanID)
		if err != nil {
			return err
		}
		if err := tx.DeletePayment(ctx, ownerID, paymentID); err != nil {
			return err
		}
		l.OutstandingBalance = decimal.Min(l.OutstandingBalance.Add(p.Amount), l.Principal)
		if _, err := tx.UpdateLoan(ctx, l); err != nil {
			return err
		}
		deleted = p
		return nil
	})
	if err != nil {
		return core.Payment{}, fmt.Errorf("delete payment %d: %w", paymentID, err)
	}

	slog.InfoContext(ctx, "Payment deleted",
		"loan_id", deleted.LoanID,
		"payment_id", paymentID)

	s.afterMutation(ctx, amqp.NewLoanEvent(amqp.PaymentDeleted, deleted.LoanID, ownerID).WithPayment(paymentID))
	return deleted, nil
}

// DeleteLoan removes a loan and its payments.
func (s *LoanService) DeleteLoan(ctx context.Context, ownerID, loanID int64) error {
	if err := s.store.DeleteLoan(ctx, ownerID, loanID); err != nil {
		return fmt.Errorf("delete loan %d: %w", loanID, err)
	}

	slog.InfoContext(ctx, "Loan deleted", "loan_id", loanID, "owner_id", ownerID)

	s.afterMutation(ctx, amqp.NewLoanEvent(amqp.LoanDeleted, loanID, ownerID))
	return nil
}

func (s *LoanService) GetLoan(ctx context.Context, ownerID, loanID int64) (core.Loan, error) {
	return s.store.GetLoan(ctx, ownerID, loanID)
}

func (s *LoanService) TotalPaid(ctx context.Context, ownerID, loanID int64) (decimal.Decimal, error) {
	if _, err := s.store.GetLoan(ctx, ownerID, loanID); err != nil {
		return decimal.Zero, err
	}
	return s.store.TotalPaid(ctx, ownerID, loanID)
}

// Detail resolves a loan with its payments, progress and schedule.
func (s *LoanService) Detail(ctx context.Context, ownerID, loanID int64) (core.LoanDetail, error) {
	l, err := s.store.GetLoan(ctx, ownerID, loanID)
	if err != nil {
		return core.LoanDetail{}, err
	}
	payments, err := s.store.ListPayments(ctx, ownerID, loanID)
	if err != nil {
		return core.LoanDetail{}, fmt.Errorf("list payments: %w", err)
	}
	paid := core.SumPayments(payments)
	return core.LoanDetail{
		Loan:             l,
		Payments:         payments,
		TotalPaid:        paid,
		Progress:         core.Progress(paid, l.Principal),
		TotalInstallment: l.TotalInstallment(),
		Schedule:         core.Schedule(l),
	}, nil
}

// ListLoans returns one page of the owner's loans. Pages are cached per
// owner until the next mutation.
func (s *LoanService) ListLoans(ctx context.Context, ownerID int64, f core.LoanFilter) (core.LoanPage, error) {
	f = f.Normalize()
	key := pageKey(ownerID, f)
	if s.pages != nil {
		if page, ok := s.pages.Get(key); ok {
			return page, nil
		}
	}

	page, err := s.store.ListLoans(ctx, ownerID, f)
	if err != nil {
		return core.LoanPage{}, fmt.Errorf("list loans: %w", err)
	}
	if s.pages != nil {
		s.pages.Set(key, page)
	}
	return page, nil
}

func ownerPrefix(ownerID int64) string {
	return fmt.Sprintf("%d|", ownerID)
}

func pageKey(ownerID int64, f core.LoanFilter) string {
	return fmt.Sprintf("%s%s|%s|%d|%d", ownerPrefix(ownerID), f.Status, f.Frequency, f.Page, f.PageSize)
}

func (s *LoanService) afterMutation(ctx context.Context, evt *amqp.LoanEvent) {
	if s.pages != nil {
		s.pages.DeletePrefix(ownerPrefix(evt.OwnerID))
	}

	if s.publisher == nil {
		slog.DebugContext(ctx, "AMQP publisher not available, skipping loan event",
			"type", evt.Type,
			"loan_id", evt.LoanID)
		return
	}

	// The mutation is committed; a lost event only costs an audit row.
	if err := s.publisher.Publish(ctx, evt); err != nil {
		slog.ErrorContext(ctx, "Failed to publish loan event",
			"event_id", evt.EventID,
			"type", evt.Type,
			"loan_id", evt.LoanID,
			"error", err)
	}
}
