package memory

import (
	"context"
	"errors"
	"testing"

	"finanzas/internal/core"
	"finanzas/internal/storage"

	"github.com/shopspring/decimal"
)

func loan(owner int64, name string, start core.Date) core.Loan {
	return core.Loan{
		OwnerID:            owner,
		Name:               name,
		Principal:          decimal.NewFromInt(1000),
		OutstandingBalance: decimal.NewFromInt(1000),
		TermMonths:         10,
		Frequency:          core.Monthly,
		Status:             core.StatusActive,
		StartDate:          start,
	}
}

func TestMemoryStoreLoanLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	l, err := s.CreateLoan(ctx, loan(1, "a", core.NewDate(2025, 1, 1)))
	if err != nil || l.ID == 0 {
		t.Fatalf("unexpected create: %+v err=%v", l, err)
	}
	if _, err := s.GetLoan(ctx, 2, l.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("foreign owner should not see loan, got %v", err)
	}

	l.Name = "b"
	if _, err := s.UpdateLoan(ctx, l); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := s.GetLoan(ctx, 1, l.ID)
	if got.Name != "b" {
		t.Fatalf("update not stored: %+v", got)
	}

	p, err := s.CreatePayment(ctx, core.Payment{LoanID: l.ID, Amount: decimal.NewFromInt(5), PaidOn: core.NewDate(2025, 2, 1)})
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if err := s.DeleteLoan(ctx, 1, l.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetPayment(ctx, 1, p.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("payment should go with its loan, got %v", err)
	}
}

func TestMemoryStoreListOrderingAndPaging(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.CreateLoan(ctx, loan(1, "undated", core.Date{}))
	for m := 1; m <= 11; m++ {
		s.CreateLoan(ctx, loan(1, "dated", core.NewDate(2024, m, 1)))
	}
	s.CreateLoan(ctx, loan(2, "other", core.NewDate(2030, 1, 1)))

	page, err := s.ListLoans(ctx, 1, core.LoanFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalItems != 12 || page.TotalPages != 2 || len(page.Loans) != 10 {
		t.Fatalf("unexpected page: items=%d pages=%d len=%d", page.TotalItems, page.TotalPages, len(page.Loans))
	}
	if page.Loans[0].StartDate.String() != "2024-11-01" {
		t.Fatalf("newest first, got %s", page.Loans[0].StartDate)
	}

	page, _ = s.ListLoans(ctx, 1, core.LoanFilter{Page: 2})
	if len(page.Loans) != 2 || page.Loans[1].Name != "undated" {
		t.Fatalf("undated should be last: %+v", page.Loans)
	}

	page, _ = s.ListLoans(ctx, 1, core.LoanFilter{Page: 9})
	if len(page.Loans) != 0 {
		t.Fatalf("page past the end should be empty")
	}
}

func TestMemoryStoreWithTxRollback(t *testing.T) {
	ctx := context.Background()
	s := New()
	l, _ := s.CreateLoan(ctx, loan(1, "a", core.Date{}))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx storage.LoanStore) error {
		if _, err := tx.CreatePayment(ctx, core.Payment{LoanID: l.ID, Amount: decimal.NewFromInt(5)}); err != nil {
			return err
		}
		// nested transactions join the outer one
		return tx.WithTx(ctx, func(storage.LoanStore) error { return boom })
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	total, _ := s.TotalPaid(ctx, 1, l.ID)
	if !total.IsZero() {
		t.Fatalf("rollback should drop the payment, total=%s", total)
	}

	err = s.WithTx(ctx, func(tx storage.LoanStore) error {
		_, err := tx.CreatePayment(ctx, core.Payment{LoanID: l.ID, Amount: decimal.NewFromInt(5)})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	total, _ = s.TotalPaid(ctx, 1, l.ID)
	if !total.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("commit should keep the payment, total=%s", total)
	}
}

func TestMemoryStoreRollbackKeepsOtherWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	l, _ := s.CreateLoan(ctx, loan(1, "a", core.Date{}))

	boom := errors.New("boom")
	outside := make(chan core.Loan, 1)
	err := s.WithTx(ctx, func(tx storage.LoanStore) error {
		if _, err := tx.CreatePayment(ctx, core.Payment{LoanID: l.ID, Amount: decimal.NewFromInt(5)}); err != nil {
			return err
		}
		if _, err := s.CreateCredential(ctx, core.Credential{OwnerID: 1, Service: "bank"}); err != nil {
			return err
		}
		go func() {
			created, _ := s.CreateLoan(ctx, loan(1, "b", core.Date{}))
			outside <- created
		}()
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	mail, err := s.CreateCredential(ctx, core.Credential{OwnerID: 1, Service: "mail"})
	if err != nil {
		t.Fatal(err)
	}
	creds, _ := s.ListCredentials(ctx, 1)
	if len(creds) != 2 {
		t.Fatalf("expected both credentials, got %d", len(creds))
	}
	for _, c := range creds {
		if c.Service == "bank" && c.ID == mail.ID {
			t.Fatalf("credential id %d handed out twice", c.ID)
		}
	}

	b := <-outside
	if _, err := s.GetLoan(ctx, 1, b.ID); err != nil {
		t.Fatalf("loan written outside the transaction was lost: %v", err)
	}
	if total, _ := s.TotalPaid(ctx, 1, l.ID); !total.IsZero() {
		t.Fatalf("rollback should drop the payment, total=%s", total)
	}
}

func TestMemoryStoreAuditDedupe(t *testing.T) {
	ctx := context.Background()
	s := New()
	ok, _ := s.RecordAudit(ctx, core.AuditEntry{EventID: "e1", LoanID: 1, OwnerID: 1})
	dup, _ := s.RecordAudit(ctx, core.AuditEntry{EventID: "e1", LoanID: 1, OwnerID: 1})
	if !ok || dup {
		t.Fatalf("expected first insert only, got %v %v", ok, dup)
	}
	items, _ := s.ListAudit(ctx, 1, 1)
	if len(items) != 1 {
		t.Fatalf("expected one entry, got %d", len(items))
	}
}
