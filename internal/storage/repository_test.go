package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"finanzas/internal/core"

	"github.com/google/uuid"
	"github.com/matryer/is"
	"github.com/shopspring/decimal"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewSQLiteRepository(context.Background(), filepath.Join(t.TempDir(), "finanzas.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func mustLoan(t *testing.T, ownerID int64, name string, start core.Date) core.Loan {
	t.Helper()
	l, err := core.NewLoan(ownerID, core.LoanParams{
		Name:               name,
		Principal:          decimal.RequireFromString("48000000"),
		PeriodicRate:       decimal.RequireFromString("1.4"),
		TermMonths:         72,
		Frequency:          core.Monthly,
		StartDate:          start,
		InsurancePerPeriod: decimal.RequireFromString("35000.50"),
		ManualInstallment:  decimal.RequireFromString("1250000"),
		Notes:              "bank figure",
	})
	if err != nil {
		t.Fatalf("new loan: %v", err)
	}
	return l
}

func TestRepositoryLoanRoundTrip(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo := newTestRepo(t)

	in := mustLoan(t, 1, "Car", core.NewDate(2025, 1, 10))
	created, err := repo.CreateLoan(ctx, in)
	is.NoErr(err)
	is.True(created.ID > 0)

	got, err := repo.GetLoan(ctx, 1, created.ID)
	is.NoErr(err)
	is.Equal(got.Name, "Car")
	is.Equal(got.Frequency, core.Monthly)
	is.Equal(got.Status, core.StatusActive)
	is.Equal(got.StartDate.String(), "2025-01-10")
	is.Equal(got.Notes, "bank figure")
	is.True(got.Principal.Equal(in.Principal))
	is.True(got.PeriodicRate.Equal(in.PeriodicRate))
	is.True(got.InsurancePerPeriod.Equal(in.InsurancePerPeriod))
	is.True(got.ManualInstallment.Equal(in.ManualInstallment))
	is.True(got.ComputedInstallment.Equal(in.ComputedInstallment))
	is.True(got.EffectiveInstallment.Equal(in.EffectiveInstallment))
	is.True(got.TotalPayable.Equal(in.TotalPayable))
	is.True(got.OutstandingBalance.Equal(in.Principal))
	is.True(!got.CreatedAt.IsZero())

	_, err = repo.GetLoan(ctx, 2, created.ID)
	is.True(errors.Is(err, core.ErrNotFound))
	_, err = repo.GetLoan(ctx, 1, created.ID+100)
	is.True(errors.Is(err, core.ErrNotFound))
}

func TestRepositoryLoanWithoutStartDate(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo := newTestRepo(t)

	created, err := repo.CreateLoan(ctx, mustLoan(t, 1, "Open ended", core.Date{}))
	is.NoErr(err)
	got, err := repo.GetLoan(ctx, 1, created.ID)
	is.NoErr(err)
	is.True(got.StartDate.IsEmpty())
}

func TestRepositoryListLoans(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo := newTestRepo(t)

	for i := 1; i <= 12; i++ {
		l := mustLoan(t, 1, "loan", core.NewDate(2024, i, 1))
		if i%3 == 0 {
			l.Frequency = core.Biweekly
		}
		if i == 12 {
			l.Status = core.StatusClosed
		}
		_, err := repo.CreateLoan(ctx, l)
		is.NoErr(err)
	}
	_, err := repo.CreateLoan(ctx, mustLoan(t, 1, "undated", core.Date{}))
	is.NoErr(err)
	_, err = repo.CreateLoan(ctx, mustLoan(t, 2, "someone else", core.NewDate(2030, 1, 1)))
	is.NoErr(err)

	page, err := repo.ListLoans(ctx, 1, core.LoanFilter{})
	is.NoErr(err)
	is.Equal(page.TotalItems, 13)
	is.Equal(page.TotalPages, 2)
	is.Equal(len(page.Loans), 10)
	is.Equal(page.Loans[0].StartDate.String(), "2024-12-01") // newest first
	is.True(page.HasNext())

	page, err = repo.ListLoans(ctx, 1, core.LoanFilter{Page: 2})
	is.NoErr(err)
	is.Equal(len(page.Loans), 3)
	is.Equal(page.Loans[2].Name, "undated") // undated loans sort last
	is.True(!page.HasNext())
	is.True(page.HasPrev())

	page, err = repo.ListLoans(ctx, 1, core.LoanFilter{Frequency: core.Biweekly})
	is.NoErr(err)
	is.Equal(page.TotalItems, 4)

	page, err = repo.ListLoans(ctx, 1, core.LoanFilter{Status: core.StatusClosed, Frequency: core.Biweekly})
	is.NoErr(err)
	is.Equal(page.TotalItems, 1)

	page, err = repo.ListLoans(ctx, 3, core.LoanFilter{})
	is.NoErr(err)
	is.Equal(page.TotalItems, 0)
	is.Equal(page.TotalPages, 1)
}

func TestRepositoryUpdateLoan(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo := newTestRepo(t)

	created, err := repo.CreateLoan(ctx, mustLoan(t, 1, "Car", core.NewDate(2025, 1, 10)))
	is.NoErr(err)

	created.Name = "Car (refinanced)"
	created.Status = core.StatusDefaulted
	created.OutstandingBalance = decimal.RequireFromString("100.25")
	_, err = repo.UpdateLoan(ctx, created)
	is.NoErr(err)

	got, err := repo.GetLoan(ctx, 1, created.ID)
	is.NoErr(err)
	is.Equal(got.Name, "Car (refinanced)")
	is.Equal(got.Status, core.StatusDefaulted)
	is.True(got.OutstandingBalance.Equal(decimal.RequireFromString("100.25")))

	stranger := created
	stranger.OwnerID = 2
	_, err = repo.UpdateLoan(ctx, stranger)
	is.True(errors.Is(err, core.ErrNotFound))
}

func TestRepositoryPayments(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo := newTestRepo(t)

	loan, err := repo.CreateLoan(ctx, mustLoan(t, 1, "Car", core.NewDate(2025, 1, 10)))
	is.NoErr(err)

	amounts := []string{"1250000", "1250000.10", "0.20"}
	for i, a := range amounts {
		_, err := repo.CreatePayment(ctx, core.Payment{
			LoanID:           loan.ID,
			Amount:           decimal.RequireFromString(a),
			PaidOn:           core.NewDate(2025, 2+i, 10),
			ReceiptReference: "R-" + a,
		})
		is.NoErr(err)
	}

	items, err := repo.ListPayments(ctx, 1, loan.ID)
	is.NoErr(err)
	is.Equal(len(items), 3)
	is.Equal(items[0].PaidOn.String(), "2025-04-10") // newest first
	is.Equal(items[0].ReceiptReference, "R-0.20")

	total, err := repo.TotalPaid(ctx, 1, loan.ID)
	is.NoErr(err)
	is.True(total.Equal(decimal.RequireFromString("2500000.30")))

	other, err := repo.ListPayments(ctx, 2, loan.ID)
	is.NoErr(err)
	is.Equal(len(other), 0)

	_, err = repo.GetPayment(ctx, 2, items[0].ID)
	is.True(errors.Is(err, core.ErrNotFound))
	is.True(errors.Is(repo.DeletePayment(ctx, 2, items[0].ID), core.ErrNotFound))

	is.NoErr(repo.DeletePayment(ctx, 1, items[0].ID))
	items, err = repo.ListPayments(ctx, 1, loan.ID)
	is.NoErr(err)
	is.Equal(len(items), 2)
}

func TestRepositoryDeleteLoanRemovesPayments(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo := newTestRepo(t)

	loan, err := repo.CreateLoan(ctx, mustLoan(t, 1, "Car", core.NewDate(2025, 1, 10)))
	is.NoErr(err)
	p, err := repo.CreatePayment(ctx, core.Payment{
		LoanID:           loan.ID,
		Amount:           decimal.RequireFromString("10"),
		PaidOn:           core.NewDate(2025, 2, 1),
		ReceiptReference: "R1",
	})
	is.NoErr(err)

	is.True(errors.Is(repo.DeleteLoan(ctx, 2, loan.ID), core.ErrNotFound))
	is.NoErr(repo.DeleteLoan(ctx, 1, loan.ID))

	_, err = repo.GetLoan(ctx, 1, loan.ID)
	is.True(errors.Is(err, core.ErrNotFound))
	_, err = repo.GetPayment(ctx, 1, p.ID)
	is.True(errors.Is(err, core.ErrNotFound))
	is.True(errors.Is(repo.DeleteLoan(ctx, 1, loan.ID), core.ErrNotFound))
}

func TestRepositoryWithTxRollsBack(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo := newTestRepo(t)

	loan, err := repo.CreateLoan(ctx, mustLoan(t, 1, "Car", core.NewDate(2025, 1, 10)))
	is.NoErr(err)

	boom := errors.New("boom")
	err = repo.WithTx(ctx, func(tx LoanStore) error {
		if _, err := tx.CreatePayment(ctx, core.Payment{
			LoanID:           loan.ID,
			Amount:           decimal.RequireFromString("10"),
			PaidOn:           core.NewDate(2025, 2, 1),
			ReceiptReference: "R1",
		}); err != nil {
			return err
		}
		l, err := tx.GetLoan(ctx, 1, loan.ID)
		if err != nil {
			return err
		}
		l.OutstandingBalance = l.OutstandingBalance.Sub(decimal.RequireFromString("10"))
		if _, err := tx.UpdateLoan(ctx, l); err != nil {
			return err
		}
		return boom
	})
	is.True(errors.Is(err, boom))

	items, err := repo.ListPayments(ctx, 1, loan.ID)
	is.NoErr(err)
	is.Equal(len(items), 0)
	got, err := repo.GetLoan(ctx, 1, loan.ID)
	is.NoErr(err)
	is.True(got.OutstandingBalance.Equal(loan.OutstandingBalance))
}

func TestRepositoryCredentials(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo := newTestRepo(t)

	for _, svc := range []string{"mail", "bank"} {
		_, err := repo.CreateCredential(ctx, core.Credential{
			OwnerID:    1,
			Service:    svc,
			Username:   "me",
			Ciphertext: "v1:opaque",
		})
		is.NoErr(err)
	}

	items, err := repo.ListCredentials(ctx, 1)
	is.NoErr(err)
	is.Equal(len(items), 2)
	is.Equal(items[0].Service, "bank") // ordered by service

	got, err := repo.GetCredential(ctx, 1, items[1].ID)
	is.NoErr(err)
	is.Equal(got.Ciphertext, "v1:opaque")

	_, err = repo.GetCredential(ctx, 2, items[1].ID)
	is.True(errors.Is(err, core.ErrNotFound))
	is.True(errors.Is(repo.DeleteCredential(ctx, 2, items[1].ID), core.ErrNotFound))
	is.NoErr(repo.DeleteCredential(ctx, 1, items[1].ID))
}

func TestRepositoryAudit(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo := newTestRepo(t)

	loan, err := repo.CreateLoan(ctx, mustLoan(t, 1, "Car", core.NewDate(2025, 1, 10)))
	is.NoErr(err)

	snap, paid, err := repo.LoanSnapshot(ctx, loan.ID)
	is.NoErr(err)
	is.Equal(snap.OwnerID, int64(1))
	is.True(paid.IsZero())

	entry := core.AuditEntry{
		EventID:              uuid.NewString(),
		EventType:            "loan.created",
		LoanID:               loan.ID,
		OwnerID:              1,
		EffectiveInstallment: snap.EffectiveInstallment,
		ComputedInstallment:  snap.ComputedInstallment,
		Difference:           snap.Difference(),
		OutstandingBalance:   snap.OutstandingBalance,
		TotalPaid:            paid,
		OccurredAt:           time.Now().UTC(),
	}
	inserted, err := repo.RecordAudit(ctx, entry)
	is.NoErr(err)
	is.True(inserted)

	inserted, err = repo.RecordAudit(ctx, entry)
	is.NoErr(err)
	is.True(!inserted) // redelivery is ignored

	tomb := entry
	tomb.EventID = uuid.NewString()
	tomb.EventType = "loan.deleted"
	tomb.Tombstone = true
	_, err = repo.RecordAudit(ctx, tomb)
	is.NoErr(err)

	items, err := repo.ListAudit(ctx, 1, loan.ID)
	is.NoErr(err)
	is.Equal(len(items), 2)
	is.True(items[0].Difference.Equal(snap.Difference()))

	_, _, err = repo.LoanSnapshot(ctx, loan.ID+1)
	is.True(errors.Is(err, core.ErrNotFound))
}

func TestLoanReadLocksInsidePostgresTx(t *testing.T) {
	is := is.New(t)

	is.Equal(New(nil, Postgres).forUpdate(getLoan), getLoan)
	is.Equal(New(nil, SQLite).WithTx(nil).forUpdate(getLoan), getLoan)
	is.Equal(New(nil, Postgres).WithTx(nil).forUpdate(getLoan), getLoan+" FOR UPDATE")
}

func TestRepositoryConcurrentBalanceUpdates(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	repo := newTestRepo(t)

	loan, err := repo.CreateLoan(ctx, mustLoan(t, 1, "Car", core.NewDate(2025, 1, 10)))
	is.NoErr(err)

	const writers = 8
	ten := decimal.RequireFromString("10")
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func() {
			errs <- repo.WithTx(ctx, func(tx LoanStore) error {
				l, err := tx.GetLoan(ctx, 1, loan.ID)
				if err != nil {
					return err
				}
				l.OutstandingBalance = l.OutstandingBalance.Sub(ten)
				_, err = tx.UpdateLoan(ctx, l)
				return err
			})
		}()
	}
	for i := 0; i < writers; i++ {
		is.NoErr(<-errs)
	}

	got, err := repo.GetLoan(ctx, 1, loan.ID)
	is.NoErr(err)
	want := loan.OutstandingBalance.Sub(ten.Mul(decimal.NewFromInt(writers)))
	is.True(got.OutstandingBalance.Equal(want))
}

func TestRebind(t *testing.T) {
	q := "SELECT * FROM loans WHERE id = ? AND owner_id = ? LIMIT ?"
	if got := rebind(SQLite, q); got != q {
		t.Fatalf("sqlite should keep placeholders, got %s", got)
	}
	want := "SELECT * FROM loans WHERE id = $1 AND owner_id = $2 LIMIT $3"
	if got := rebind(Postgres, q); got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}
