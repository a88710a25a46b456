package core

import (
	"log/slog"
	"math"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// maxInstallments is the longest schedule a valid loan can have.
var maxInstallments = MaxTermMonths * Daily.PeriodsPerMonth()

// InstallmentCount converts a nominal term in months to the number of
// installments for the given cadence. Terms outside 1..MaxTermMonths count
// as zero installments.
func InstallmentCount(termMonths int, f Frequency) int {
	if termMonths <= 0 || termMonths > MaxTermMonths {
		return 0
	}
	return termMonths * f.PeriodsPerMonth()
}

// PeriodicRate turns a monthly percentage (1.4 means 1.4%) into the
// per-installment fraction for the given cadence.
func PeriodicRate(ratePercent decimal.Decimal, f Frequency) float64 {
	return ratePercent.InexactFloat64() / 100 / float64(f.PeriodsPerMonth())
}

// ComputeInstallment returns the fixed installment that amortizes principal
// over termMonths at ratePercent per month, rescaled to the cadence:
//
//	installment = P * i(1+i)^n / ((1+i)^n - 1)
//
// The result is rounded to cents. A zero rate splits the principal evenly.
// Numeric failures (overflow, NaN, a zero count) yield zero and a warning
// instead of an error, so callers must treat a zero installment as suspect.
func ComputeInstallment(principal, ratePercent decimal.Decimal, termMonths int, f Frequency) decimal.Decimal {
	if !f.Valid() {
		f = Monthly
	}
	n := InstallmentCount(termMonths, f)
	if n <= 0 {
		slog.Warn("installment computation failed",
			"reason", "non-positive installment count",
			"principal", principal.String(),
			"term_months", termMonths,
			"frequency", f.String())
		return decimal.Zero
	}

	if ratePercent.IsZero() {
		return principal.Div(decimal.NewFromInt(int64(n))).Round(2)
	}

	i := PeriodicRate(ratePercent, f)
	factor := math.Pow(1+i, float64(n))
	value := principal.InexactFloat64() * (i * factor / (factor - 1))
	if math.IsNaN(value) || math.IsInf(value, 0) {
		slog.Warn("installment computation failed",
			"reason", "non-finite result",
			"principal", principal.String(),
			"rate", ratePercent.String(),
			"installments", n,
			"frequency", f.String())
		return decimal.Zero
	}
	return decimal.NewFromFloat(value).Round(2)
}

// ScheduleEntry is one row of an amortization schedule.
type ScheduleEntry struct {
	Period    int
	DueDate   Date
	Payment   decimal.Decimal
	Interest  decimal.Decimal
	Principal decimal.Decimal
	Balance   decimal.Decimal
}

// Schedule projects the amortization of l using its effective installment.
// The final period absorbs rounding so the balance ends at zero. Rows stop
// early when the installment pays the loan off before the nominal term.
// Due dates are filled only when the loan has a start date.
func Schedule(l Loan) []ScheduleEntry {
	n := l.InstallmentCount()
	if n <= 0 || n > maxInstallments || !l.Principal.IsPositive() || !l.EffectiveInstallment.IsPositive() {
		return nil
	}

	rate := decimal.NewFromFloat(PeriodicRate(l.PeriodicRate, l.Frequency))
	remaining := l.Principal
	entries := make([]ScheduleEntry, 0, min(n, 1024))

	for period := 1; period <= n && remaining.IsPositive(); period++ {
		interest := remaining.Mul(rate).Round(2)
		payment := l.EffectiveInstallment
		principalPart := payment.Sub(interest)

		if period == n || principalPart.GreaterThanOrEqual(remaining) {
			principalPart = remaining
			payment = principalPart.Add(interest)
		}
		remaining = remaining.Sub(principalPart)

		entries = append(entries, ScheduleEntry{
			Period:    period,
			DueDate:   dueDate(l.StartDate, l.Frequency, period),
			Payment:   payment,
			Interest:  interest,
			Principal: principalPart,
			Balance:   remaining,
		})
	}
	return entries
}

func dueDate(start Date, f Frequency, period int) Date {
	if start.IsZero() {
		return Date{}
	}
	switch f {
	case Biweekly:
		return Date{Time: start.AddDate(0, 0, 15*period)}
	case Weekly:
		return Date{Time: start.AddDate(0, 0, 7*period)}
	case Daily:
		return Date{Time: start.AddDate(0, 0, period)}
	default:
		return start.AddMonths(period)
	}
}
