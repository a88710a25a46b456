package services

import (
	"context"
	"errors"
	"testing"

	"finanzas/internal/amqp"
	"finanzas/internal/core"
	"finanzas/internal/storage/memory"

	"github.com/shopspring/decimal"
)

func TestAuditService_Record(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	loans := NewLoanService(store, nil, nil)
	audit := NewAuditService(store)

	p := vehicleLoan()
	p.Principal = d("1000")
	p.ManualInstallment = d("50")
	l, _ := loans.CreateLoan(ctx, 1, p)
	loans.RecordPayment(ctx, 1, l.ID, core.PaymentParams{Amount: d("100"), PaidOn: core.NewDate(2025, 2, 1), ReceiptReference: "R"})

	evt := amqp.NewLoanEvent(amqp.PaymentRecorded, l.ID, 1)
	if err := audit.Record(ctx, evt); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	// redelivery
	if err := audit.Record(ctx, evt); err != nil {
		t.Fatalf("duplicate Record() error = %v", err)
	}

	history, err := audit.History(ctx, 1, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one entry, got %d", len(history))
	}
	e := history[0]
	if e.Tombstone || !e.TotalPaid.Equal(d("100")) || !e.OutstandingBalance.Equal(d("900")) {
		t.Errorf("unexpected snapshot %+v", e)
	}
	if !e.EffectiveInstallment.Equal(d("50")) || !e.Difference.Equal(d("50").Sub(l.ComputedInstallment)) {
		t.Errorf("unexpected pricing %+v", e)
	}
}

func TestAuditService_RecordTombstone(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	audit := NewAuditService(store)

	if err := audit.Record(ctx, amqp.NewLoanEvent(amqp.LoanDeleted, 42, 3)); err != nil {
		t.Fatal(err)
	}
	history, _ := audit.History(ctx, 3, 42)
	if len(history) != 1 || !history[0].Tombstone || !history[0].TotalPaid.Equal(decimal.Zero) {
		t.Errorf("expected tombstone, got %+v", history)
	}
}

type failingAuditStore struct {
	*memory.Store
}

func (failingAuditStore) LoanSnapshot(context.Context, int64) (core.Loan, decimal.Decimal, error) {
	return core.Loan{}, decimal.Zero, errors.New("database is locked")
}

func TestAuditService_RecordStorageError(t *testing.T) {
	audit := NewAuditService(failingAuditStore{memory.New()})
	if err := audit.Record(context.Background(), amqp.NewLoanEvent(amqp.LoanUpdated, 1, 1)); err == nil {
		t.Error("storage errors should be returned so the message is requeued")
	}
}
