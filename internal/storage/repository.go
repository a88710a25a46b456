package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"finanzas/internal/core"

	"github.com/shopspring/decimal"
)

// Repository is the SQL-backed Store. The same code serves SQLite and
// Postgres; only placeholders and migrations differ.
type Repository struct {
	db      *sql.DB
	tx      *sql.Tx
	dialect Dialect
	queries *Queries
}

var _ Store = (*Repository)(nil)

// NewRepository opens the database, applies pending migrations and returns
// a ready repository.
func NewRepository(ctx context.Context, dialect Dialect, dsn string) (*Repository, error) {
	db, err := Open(ctx, dialect, dsn)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(dialect, dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{
		db:      db,
		dialect: dialect,
		queries: New(db, dialect),
	}, nil
}

// NewSQLiteRepository is NewRepository for a SQLite file.
func NewSQLiteRepository(ctx context.Context, dbPath string) (*Repository, error) {
	return NewRepository(ctx, SQLite, dbPath)
}

func (r *Repository) Dialect() Dialect { return r.dialect }

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// WithTx runs fn in a transaction. Calls nested inside an open transaction
// join it.
func (r *Repository) WithTx(ctx context.Context, fn func(LoanStore) error) error {
	if r.tx != nil {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	txRepo := &Repository{
		db:      r.db,
		tx:      tx,
		dialect: r.dialect,
		queries: r.queries.WithTx(tx),
	}

	if err := fn(txRepo); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Transaction rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

func notFound(kind string, id int64, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", kind, id, core.ErrNotFound)
	}
	return fmt.Errorf("get %s %d: %w", kind, id, err)
}

func (r *Repository) CreateLoan(ctx context.Context, l core.Loan) (core.Loan, error) {
	l.CreatedAt = now()
	l.UpdatedAt = l.CreatedAt
	id, err := r.queries.CreateLoan(ctx, l)
	if err != nil {
		return core.Loan{}, fmt.Errorf("create loan: %w", err)
	}
	l.ID = id

	slog.DebugContext(ctx, "Loan saved",
		"loan_id", l.ID,
		"owner_id", l.OwnerID,
		"dialect", r.dialect)
	return l, nil
}

func (r *Repository) GetLoan(ctx context.Context, ownerID, id int64) (core.Loan, error) {
	l, err := r.queries.GetLoan(ctx, ownerID, id)
	if err != nil {
		return core.Loan{}, notFound("loan", id, err)
	}
	return l, nil
}

func (r *Repository) ListLoans(ctx context.Context, ownerID int64, f core.LoanFilter) (core.LoanPage, error) {
	f = f.Normalize()
	arg := ListLoansParams{
		OwnerID:   ownerID,
		Status:    string(f.Status),
		Frequency: string(f.Frequency),
		Limit:     f.PageSize,
		Offset:    f.Offset(),
	}

	total, err := r.queries.CountLoans(ctx, arg)
	if err != nil {
		return core.LoanPage{}, fmt.Errorf("count loans: %w", err)
	}
	loans, err := r.queries.ListLoans(ctx, arg)
	if err != nil {
		return core.LoanPage{}, fmt.Errorf("list loans: %w", err)
	}

	return core.LoanPage{
		Loans:      loans,
		Page:       f.Page,
		PageSize:   f.PageSize,
		TotalItems: total,
		TotalPages: core.TotalPages(total, f.PageSize),
	}, nil
}

func (r *Repository) UpdateLoan(ctx context.Context, l core.Loan) (core.Loan, error) {
	l.UpdatedAt = now()
	n, err := r.queries.UpdateLoan(ctx, l)
	if err != nil {
		return core.Loan{}, fmt.Errorf("update loan %d: %w", l.ID, err)
	}
	if n == 0 {
		return core.Loan{}, fmt.Errorf("loan %d: %w", l.ID, core.ErrNotFound)
	}
	return l, nil
}

// DeleteLoan removes the loan and its payments.
func (r *Repository) DeleteLoan(ctx context.Context, ownerID, id int64) error {
	return r.WithTx(ctx, func(s LoanStore) error {
		tr := s.(*Repository)
		if err := tr.queries.DeleteLoanPayments(ctx, ownerID, id); err != nil {
			return fmt.Errorf("delete payments of loan %d: %w", id, err)
		}
		n, err := tr.queries.DeleteLoan(ctx, ownerID, id)
		if err != nil {
			return fmt.Errorf("delete loan %d: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("loan %d: %w", id, core.ErrNotFound)
		}
		return nil
	})
}

func (r *Repository) CreatePayment(ctx context.Context, p core.Payment) (core.Payment, error) {
	p.CreatedAt = now()
	id, err := r.queries.CreatePayment(ctx, p)
	if err != nil {
		return core.Payment{}, fmt.Errorf("create payment: %w", err)
	}
	p.ID = id
	return p, nil
}

func (r *Repository) GetPayment(ctx context.Context, ownerID, id int64) (core.Payment, error) {
	p, err := r.queries.GetPayment(ctx, ownerID, id)
	if err != nil {
		return core.Payment{}, notFound("payment", id, err)
	}
	return p, nil
}

func (r *Repository) ListPayments(ctx context.Context, ownerID, loanID int64) ([]core.Payment, error) {
	items, err := r.queries.ListPayments(ctx, ownerID, loanID)
	if err != nil {
		return nil, fmt.Errorf("list payments of loan %d: %w", loanID, err)
	}
	return items, nil
}

func (r *Repository) DeletePayment(ctx context.Context, ownerID, id int64) error {
	if _, err := r.GetPayment(ctx, ownerID, id); err != nil {
		return err
	}
	n, err := r.queries.DeletePayment(ctx, id)
	if err != nil {
		return fmt.Errorf("delete payment %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("payment %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// TotalPaid sums payments in Go; amounts are stored as text in SQLite and
// SUM there would go through floating point.
func (r *Repository) TotalPaid(ctx context.Context, ownerID, loanID int64) (decimal.Decimal, error) {
	items, err := r.ListPayments(ctx, ownerID, loanID)
	if err != nil {
		return decimal.Zero, err
	}
	return core.SumPayments(items), nil
}

func (r *Repository) CreateCredential(ctx context.Context, c core.Credential) (core.Credential, error) {
	c.CreatedAt = now()
	id, err := r.queries.CreateCredential(ctx, c)
	if err != nil {
		return core.Credential{}, fmt.Errorf("create credential: %w", err)
	}
	c.ID = id
	return c, nil
}

func (r *Repository) GetCredential(ctx context.Context, ownerID, id int64) (core.Credential, error) {
	c, err := r.queries.GetCredential(ctx, ownerID, id)
	if err != nil {
		return core.Credential{}, notFound("credential", id, err)
	}
	return c, nil
}

func (r *Repository) ListCredentials(ctx context.Context, ownerID int64) ([]core.Credential, error) {
	items, err := r.queries.ListCredentials(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return items, nil
}

func (r *Repository) DeleteCredential(ctx context.Context, ownerID, id int64) error {
	n, err := r.queries.DeleteCredential(ctx, ownerID, id)
	if err != nil {
		return fmt.Errorf("delete credential %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("credential %d: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *Repository) LoanSnapshot(ctx context.Context, loanID int64) (core.Loan, decimal.Decimal, error) {
	l, err := r.queries.GetLoanByID(ctx, loanID)
	if err != nil {
		return core.Loan{}, decimal.Zero, notFound("loan", loanID, err)
	}
	paid, err := r.TotalPaid(ctx, l.OwnerID, l.ID)
	if err != nil {
		return core.Loan{}, decimal.Zero, err
	}
	return l, paid, nil
}

func (r *Repository) RecordAudit(ctx context.Context, a core.AuditEntry) (bool, error) {
	if a.RecordedAt.IsZero() {
		a.RecordedAt = now()
	}
	n, err := r.queries.InsertAudit(ctx, a)
	if err != nil {
		return false, fmt.Errorf("insert audit entry: %w", err)
	}
	return n > 0, nil
}

func (r *Repository) ListAudit(ctx context.Context, ownerID, loanID int64) ([]core.AuditEntry, error) {
	items, err := r.queries.ListAudit(ctx, ownerID, loanID)
	if err != nil {
		return nil, fmt.Errorf("list audit of loan %d: %w", loanID, err)
	}
	return items, nil
}
