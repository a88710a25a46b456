package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	maxNameLen    = 200
	maxReceiptLen = 100

	// MaxTermMonths bounds the nominal term at fifty years.
	MaxTermMonths = 600
)

// InstallmentMode tells whether the billed installment comes from the
// formula or from an operator override.
type InstallmentMode string

const (
	ModeAuto     InstallmentMode = "auto"
	ModeOverride InstallmentMode = "override"
)

type (
	// Loan is one borrowing instrument. EffectiveInstallment is always the
	// manual installment when it is positive and the computed one otherwise.
	Loan struct {
		ID                   int64
		OwnerID              int64
		Name                 string
		Principal            decimal.Decimal
		PeriodicRate         decimal.Decimal // percent per month
		TermMonths           int
		Frequency            Frequency
		StartDate            Date
		ManualInstallment    decimal.Decimal
		InsurancePerPeriod   decimal.Decimal
		ComputedInstallment  decimal.Decimal
		EffectiveInstallment decimal.Decimal
		TotalPayable         decimal.Decimal
		OutstandingBalance   decimal.Decimal
		Status               LoanStatus
		Notes                string
		CreatedAt            time.Time
		UpdatedAt            time.Time
	}

	Payment struct {
		ID               int64
		LoanID           int64
		Amount           decimal.Decimal
		PaidOn           Date
		ReceiptReference string
		Notes            string
		CreatedAt        time.Time
	}

	// LoanParams carries everything needed to open a loan.
	LoanParams struct {
		Name               string
		Principal          decimal.Decimal
		PeriodicRate       decimal.Decimal
		TermMonths         int
		Frequency          Frequency
		StartDate          Date
		InsurancePerPeriod decimal.Decimal
		ManualInstallment  decimal.Decimal
		Notes              string
	}

	// LoanChanges is a partial update. A nil field was not supplied.
	LoanChanges struct {
		Name               *string
		Principal          *decimal.Decimal
		PeriodicRate       *decimal.Decimal
		TermMonths         *int
		Frequency          *Frequency
		StartDate          *Date
		InsurancePerPeriod *decimal.Decimal
		ManualInstallment  *decimal.Decimal
		Notes              *string
		Status             *LoanStatus
	}

	PaymentParams struct {
		Amount           decimal.Decimal
		PaidOn           Date
		ReceiptReference string
		Notes            string
	}
)

// InstallmentCount is the number of installments over the loan's term.
func (l Loan) InstallmentCount() int {
	return InstallmentCount(l.TermMonths, l.Frequency)
}

// TotalInstallment is what is billed each period: installment plus insurance.
func (l Loan) TotalInstallment() decimal.Decimal {
	return l.EffectiveInstallment.Add(l.InsurancePerPeriod)
}

func (l Loan) HasOverride() bool {
	return l.ManualInstallment.IsPositive()
}

func (l Loan) Mode() InstallmentMode {
	if l.HasOverride() {
		return ModeOverride
	}
	return ModeAuto
}

// Difference is how far the billed installment is from the formula.
func (l Loan) Difference() decimal.Decimal {
	return l.EffectiveInstallment.Sub(l.ComputedInstallment)
}

func (l *Loan) refreshComputed() {
	l.ComputedInstallment = ComputeInstallment(l.Principal, l.PeriodicRate, l.TermMonths, l.Frequency)
}

func (l *Loan) refreshEffective() {
	if l.HasOverride() {
		l.EffectiveInstallment = l.ManualInstallment
		return
	}
	l.EffectiveInstallment = l.ComputedInstallment
}

func (l *Loan) refreshTotal() {
	l.TotalPayable = l.TotalInstallment().Mul(decimal.NewFromInt(int64(l.InstallmentCount())))
}

func (p LoanParams) Validate() error {
	if err := validateName(p.Name); err != nil {
		return err
	}
	if !p.Principal.IsPositive() {
		return fmt.Errorf("principal: %w", ErrInvalidAmount)
	}
	if p.PeriodicRate.IsNegative() {
		return ErrInvalidRate
	}
	if p.TermMonths <= 0 || p.TermMonths > MaxTermMonths {
		return ErrInvalidTerm
	}
	if p.Frequency != "" && !p.Frequency.Valid() {
		return ErrInvalidFrequency
	}
	if p.InsurancePerPeriod.IsNegative() {
		return fmt.Errorf("insurance: %w", ErrInvalidAmount)
	}
	if p.ManualInstallment.IsNegative() {
		return fmt.Errorf("manual installment: %w", ErrInvalidAmount)
	}
	return nil
}

// NewLoan prices a new active loan. The outstanding balance starts at the
// principal.
func NewLoan(ownerID int64, p LoanParams) (Loan, error) {
	if err := p.Validate(); err != nil {
		return Loan{}, err
	}
	freq := p.Frequency
	if freq == "" {
		freq = Monthly
	}
	l := Loan{
		OwnerID:            ownerID,
		Name:               strings.TrimSpace(p.Name),
		Principal:          p.Principal,
		PeriodicRate:       p.PeriodicRate,
		TermMonths:         p.TermMonths,
		Frequency:          freq,
		StartDate:          p.StartDate,
		ManualInstallment:  p.ManualInstallment,
		InsurancePerPeriod: p.InsurancePerPeriod,
		OutstandingBalance: p.Principal,
		Status:             StatusActive,
		Notes:              strings.TrimSpace(p.Notes),
	}
	l.refreshComputed()
	l.refreshEffective()
	l.refreshTotal()
	return l, nil
}

// Empty reports whether no field was supplied.
func (c LoanChanges) Empty() bool {
	return c == LoanChanges{}
}

func (c LoanChanges) pricingChanged() bool {
	return c.Principal != nil || c.PeriodicRate != nil || c.TermMonths != nil || c.Frequency != nil
}

func (c LoanChanges) Validate() error {
	if c.Name != nil {
		if err := validateName(*c.Name); err != nil {
			return err
		}
	}
	if c.Principal != nil && !c.Principal.IsPositive() {
		return fmt.Errorf("principal: %w", ErrInvalidAmount)
	}
	if c.PeriodicRate != nil && c.PeriodicRate.IsNegative() {
		return ErrInvalidRate
	}
	if c.TermMonths != nil && (*c.TermMonths <= 0 || *c.TermMonths > MaxTermMonths) {
		return ErrInvalidTerm
	}
	if c.Frequency != nil && !c.Frequency.Valid() {
		return ErrInvalidFrequency
	}
	if c.InsurancePerPeriod != nil && c.InsurancePerPeriod.IsNegative() {
		return fmt.Errorf("insurance: %w", ErrInvalidAmount)
	}
	if c.ManualInstallment != nil && c.ManualInstallment.IsNegative() {
		return fmt.Errorf("manual installment: %w", ErrInvalidAmount)
	}
	if c.Status != nil && !c.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// Merge applies c to l and reprices the result. totalPaid is needed to
// rebase the outstanding balance when the principal moves.
//
// Precedence:
//  1. a supplied manual installment is stored; positive engages the
//     override, zero falls back to the freshly computed value
//  2. otherwise, pricing changes without an active override bill the
//     freshly computed value
//  3. otherwise an active override keeps being billed
//
// The computed installment is refreshed on every call, and the total payable
// whenever pricing, the override or insurance was supplied.
func (c LoanChanges) Merge(l Loan, totalPaid decimal.Decimal) (Loan, error) {
	if err := c.Validate(); err != nil {
		return Loan{}, err
	}
	hadOverride := l.HasOverride()
	oldPrincipal := l.Principal

	if c.Principal != nil {
		l.Principal = *c.Principal
	}
	if c.PeriodicRate != nil {
		l.PeriodicRate = *c.PeriodicRate
	}
	if c.TermMonths != nil {
		l.TermMonths = *c.TermMonths
	}
	if c.Frequency != nil {
		l.Frequency = *c.Frequency
	}
	l.refreshComputed()

	repriced := false
	switch {
	case c.ManualInstallment != nil:
		l.ManualInstallment = *c.ManualInstallment
		l.refreshEffective()
		repriced = true
	case c.pricingChanged() && !hadOverride:
		l.EffectiveInstallment = l.ComputedInstallment
		repriced = true
	case c.pricingChanged() && hadOverride:
		l.EffectiveInstallment = l.ManualInstallment
		repriced = true
	}

	if c.InsurancePerPeriod != nil {
		l.InsurancePerPeriod = *c.InsurancePerPeriod
	}
	if repriced || c.InsurancePerPeriod != nil {
		l.refreshTotal()
	}

	if c.Principal != nil && !l.Principal.Equal(oldPrincipal) {
		balance := l.Principal.Sub(totalPaid)
		if balance.IsNegative() {
			balance = decimal.Zero
		}
		l.OutstandingBalance = balance
	}

	if c.Name != nil {
		l.Name = strings.TrimSpace(*c.Name)
	}
	if c.Notes != nil {
		l.Notes = strings.TrimSpace(*c.Notes)
	}
	if c.StartDate != nil {
		l.StartDate = *c.StartDate
	}
	if c.Status != nil {
		l.Status = *c.Status
	}
	return l, nil
}

func (p PaymentParams) Validate() error {
	if !p.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if p.PaidOn.IsZero() {
		return ErrInvalidDate
	}
	if err := p.PaidOn.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDate, err)
	}
	receipt := strings.TrimSpace(p.ReceiptReference)
	if receipt == "" {
		return ErrEmptyReceipt
	}
	if len(receipt) > maxReceiptLen {
		return ErrReceiptTooLong
	}
	return nil
}

// NewPayment validates p against the loan's current balance.
func NewPayment(l Loan, p PaymentParams) (Payment, error) {
	if err := p.Validate(); err != nil {
		return Payment{}, err
	}
	if p.Amount.GreaterThan(l.OutstandingBalance) {
		return Payment{}, fmt.Errorf("%w: %s > %s", ErrPaymentExceedsBalance,
			FormatMoney(p.Amount), FormatMoney(l.OutstandingBalance))
	}
	return Payment{
		LoanID:           l.ID,
		Amount:           p.Amount,
		PaidOn:           p.PaidOn,
		ReceiptReference: strings.TrimSpace(p.ReceiptReference),
		Notes:            strings.TrimSpace(p.Notes),
	}, nil
}

// Progress is the share of principal already paid, in percent with one
// decimal.
func Progress(totalPaid, principal decimal.Decimal) decimal.Decimal {
	if !principal.IsPositive() {
		return decimal.Zero
	}
	return totalPaid.Div(principal).Mul(hundred).Round(1)
}

// SumPayments adds up payment amounts.
func SumPayments(payments []Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > maxNameLen {
		return ErrNameTooLong
	}
	return nil
}
