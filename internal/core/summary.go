package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPageSize is the loan list page size.
const DefaultPageSize = 10

// LoanFilter narrows a loan listing. Zero values mean "any".
type LoanFilter struct {
	Status    LoanStatus
	Frequency Frequency
	Page      int
	PageSize  int
}

// Normalize clamps paging to sane values.
func (f LoanFilter) Normalize() LoanFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	return f
}

func (f LoanFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// LoanPage is one page of a listing, newest start date first.
type LoanPage struct {
	Loans      []Loan
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// TotalPages returns at least one page so an empty list still renders.
func TotalPages(items, pageSize int) int {
	if items <= 0 || pageSize <= 0 {
		return 1
	}
	return (items + pageSize - 1) / pageSize
}

func (p LoanPage) HasPrev() bool { return p.Page > 1 }
func (p LoanPage) HasNext() bool { return p.Page < p.TotalPages }

// LoanDetail is a fully resolved loan with its payments, newest first.
type LoanDetail struct {
	Loan             Loan
	Payments         []Payment
	TotalPaid        decimal.Decimal
	Progress         decimal.Decimal
	TotalInstallment decimal.Decimal
	Schedule         []ScheduleEntry
}

// ComputationSuspect flags a loan whose formula result collapsed to zero.
func (d LoanDetail) ComputationSuspect() bool {
	return d.Loan.ComputedInstallment.IsZero() && d.Loan.Principal.IsPositive()
}

// InstallmentQuote is the preview of a loan's pricing before it is saved.
type InstallmentQuote struct {
	Computed     decimal.Decimal
	Effective    decimal.Decimal
	Difference   decimal.Decimal
	Insurance    decimal.Decimal
	TotalPayable decimal.Decimal
	Installments int
	Mode         InstallmentMode
}

// Quote prices p without persisting anything.
func Quote(p LoanParams) (InstallmentQuote, error) {
	l, err := NewLoan(0, p)
	if err != nil {
		return InstallmentQuote{}, err
	}
	return InstallmentQuote{
		Computed:     l.ComputedInstallment,
		Effective:    l.EffectiveInstallment,
		Difference:   l.Difference(),
		Insurance:    l.InsurancePerPeriod,
		TotalPayable: l.TotalPayable,
		Installments: l.InstallmentCount(),
		Mode:         l.Mode(),
	}, nil
}

// AuditEntry is a point-in-time snapshot of a loan written by the audit worker.
type AuditEntry struct {
	ID                   int64
	EventID              string
	EventType            string
	LoanID               int64
	OwnerID              int64
	EffectiveInstallment decimal.Decimal
	ComputedInstallment  decimal.Decimal
	Difference           decimal.Decimal
	OutstandingBalance   decimal.Decimal
	TotalPaid            decimal.Decimal
	Tombstone            bool
	OccurredAt           time.Time
	RecordedAt           time.Time
}
