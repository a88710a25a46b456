package storage

import (
	"context"

	"finanzas/internal/core"

	"github.com/shopspring/decimal"
)

// Ports implemented by the SQL repository and the in-memory store. Every
// read and write is scoped by owner; a row owned by someone else is reported
// as core.ErrNotFound.
type (
	LoanStore interface {
		CreateLoan(ctx context.Context, l core.Loan) (core.Loan, error)
		GetLoan(ctx context.Context, ownerID, id int64) (core.Loan, error)
		ListLoans(ctx context.Context, ownerID int64, f core.LoanFilter) (core.LoanPage, error)
		UpdateLoan(ctx context.Context, l core.Loan) (core.Loan, error)
		DeleteLoan(ctx context.Context, ownerID, id int64) error

		CreatePayment(ctx context.Context, p core.Payment) (core.Payment, error)
		GetPayment(ctx context.Context, ownerID, id int64) (core.Payment, error)
		ListPayments(ctx context.Context, ownerID, loanID int64) ([]core.Payment, error)
		DeletePayment(ctx context.Context, ownerID, id int64) error
		TotalPaid(ctx context.Context, ownerID, loanID int64) (decimal.Decimal, error)

		// WithTx runs fn against a transactional view of the store. A
		// non-nil error from fn rolls everything back.
		WithTx(ctx context.Context, fn func(LoanStore) error) error
	}

	CredentialStore interface {
		CreateCredential(ctx context.Context, c core.Credential) (core.Credential, error)
		GetCredential(ctx context.Context, ownerID, id int64) (core.Credential, error)
		ListCredentials(ctx context.Context, ownerID int64) ([]core.Credential, error)
		DeleteCredential(ctx context.Context, ownerID, id int64) error
	}

	AuditStore interface {
		// LoanSnapshot reads a loan and its total paid without an owner
		// check, for consumers that only have the loan id.
		LoanSnapshot(ctx context.Context, loanID int64) (core.Loan, decimal.Decimal, error)
		// RecordAudit stores an entry. It reports false when the event id
		// was already recorded.
		RecordAudit(ctx context.Context, a core.AuditEntry) (bool, error)
		ListAudit(ctx context.Context, ownerID, loanID int64) ([]core.AuditEntry, error)
	}

	// Store is everything a backend provides.
	Store interface {
		LoanStore
		CredentialStore
		AuditStore
		Ping(ctx context.Context) error
		Close() error
	}
)
