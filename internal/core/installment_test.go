package core

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeInstallmentZeroRate(t *testing.T) {
	cases := []struct {
		principal string
		term      int
		freq      Frequency
		want      string
	}{
		{"1200", 12, Monthly, "100"},
		{"1000", 12, Monthly, "83.33"},
		{"1000", 12, Biweekly, "41.67"},
		{"1000", 3, Weekly, "83.33"},
		{"100", 1, Daily, "3.33"},
	}
	for _, tc := range cases {
		got := ComputeInstallment(dec(tc.principal), decimal.Zero, tc.term, tc.freq)
		n := InstallmentCount(tc.term, tc.freq)
		want := dec(tc.principal).Div(decimal.NewFromInt(int64(n))).Round(2)
		if !got.Equal(want) || !got.Equal(dec(tc.want)) {
			t.Fatalf("%s over %d %s: got %s want %s", tc.principal, tc.term, tc.freq, got, tc.want)
		}
	}
}

// The installment must discount back to the principal within rounding.
func TestComputeInstallmentAnnuityProperty(t *testing.T) {
	cases := []struct {
		principal string
		rate      string
		term      int
	}{
		{"48000000", "1.4", 72},
		{"10000", "2", 12},
		{"2500000", "0.9", 36},
		{"150", "3.5", 6},
	}
	for _, tc := range cases {
		got := ComputeInstallment(dec(tc.principal), dec(tc.rate), tc.term, Monthly)
		i := PeriodicRate(dec(tc.rate), Monthly)
		factor := math.Pow(1+i, float64(tc.term))
		presentValue := got.InexactFloat64() * (factor - 1) / (i * factor)
		if diff := math.Abs(presentValue - dec(tc.principal).InexactFloat64()); diff > 1 {
			t.Fatalf("%s @ %s%% x %d: installment %s discounts to %.2f", tc.principal, tc.rate, tc.term, got, presentValue)
		}
	}
}

func TestComputeInstallmentReferenceLoan(t *testing.T) {
	got := ComputeInstallment(dec("48000000"), dec("1.4"), 72, Monthly)
	if got.LessThan(dec("1060000")) || got.GreaterThan(dec("1065000")) {
		t.Fatalf("installment out of range: %s", got)
	}
	if got.Exponent() < -2 {
		t.Fatalf("installment not rounded to cents: %s", got)
	}
}

func TestComputeInstallmentBiweeklyScaling(t *testing.T) {
	if n := InstallmentCount(12, Biweekly); n != 24 {
		t.Fatalf("expected 24 installments, got %d", n)
	}
	i := PeriodicRate(dec("1.4"), Biweekly)
	if math.Abs(i-0.007) > 1e-12 {
		t.Fatalf("expected periodic rate 0.007, got %v", i)
	}

	principal := dec("1000000")
	got := ComputeInstallment(principal, dec("1.4"), 12, Biweekly)
	factor := math.Pow(1+i, 24)
	want := decimal.NewFromFloat(principal.InexactFloat64() * (i * factor / (factor - 1))).Round(2)
	if !got.Equal(want) {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestComputeInstallmentIdempotent(t *testing.T) {
	for _, f := range Frequencies {
		a := ComputeInstallment(dec("7350000"), dec("1.85"), 48, f)
		b := ComputeInstallment(dec("7350000"), dec("1.85"), 48, f)
		if !a.Equal(b) {
			t.Fatalf("%s: %s != %s", f, a, b)
		}
		if !a.IsPositive() {
			t.Fatalf("%s: expected positive installment, got %s", f, a)
		}
	}
}

func TestComputeInstallmentUnknownFrequencyIsMonthly(t *testing.T) {
	a := ComputeInstallment(dec("10000"), dec("2"), 12, Frequency("yearly"))
	b := ComputeInstallment(dec("10000"), dec("2"), 12, Monthly)
	if !a.Equal(b) {
		t.Fatalf("unknown frequency should price as monthly: %s vs %s", a, b)
	}
}

func TestComputeInstallmentFailuresReturnZero(t *testing.T) {
	cases := []struct {
		name string
		term int
		rate string
		freq Frequency
	}{
		{"zero term", 0, "1.4", Monthly},
		{"zero term zero rate", 0, "0", Monthly},
		{"negative term", -3, "1.4", Weekly},
		{"overflow", 1000, "100", Daily},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeInstallment(dec("1000"), dec(tc.rate), tc.term, tc.freq)
			if !got.IsZero() {
				t.Fatalf("expected zero, got %s", got)
			}
		})
	}
}

func TestScheduleZeroRate(t *testing.T) {
	l, err := NewLoan(1, LoanParams{
		Name:         "phone",
		Principal:    dec("1200"),
		PeriodicRate: decimal.Zero,
		TermMonths:   12,
		Frequency:    Monthly,
		StartDate:    NewDate(2025, 1, 31),
	})
	if err != nil {
		t.Fatal(err)
	}
	rows := Schedule(l)
	if len(rows) != 12 {
		t.Fatalf("expected 12 rows, got %d", len(rows))
	}
	if got := rows[0].DueDate.String(); got != "2025-02-28" {
		t.Fatalf("first due date: %s", got)
	}
	if got := rows[11].DueDate.String(); got != "2026-01-31" {
		t.Fatalf("last due date: %s", got)
	}
	for _, r := range rows {
		if !r.Interest.IsZero() || !r.Payment.Equal(dec("100")) {
			t.Fatalf("period %d: payment %s interest %s", r.Period, r.Payment, r.Interest)
		}
	}
	if !rows[11].Balance.IsZero() {
		t.Fatalf("final balance: %s", rows[11].Balance)
	}
}

func TestScheduleAbsorbsRounding(t *testing.T) {
	l, err := NewLoan(1, LoanParams{
		Name:         "car",
		Principal:    dec("48000000"),
		PeriodicRate: dec("1.4"),
		TermMonths:   72,
	})
	if err != nil {
		t.Fatal(err)
	}
	rows := Schedule(l)
	if len(rows) != 72 {
		t.Fatalf("expected 72 rows, got %d", len(rows))
	}
	repaid := decimal.Zero
	for _, r := range rows {
		repaid = repaid.Add(r.Principal)
		if !r.DueDate.IsEmpty() {
			t.Fatalf("no start date, but period %d has due date %s", r.Period, r.DueDate)
		}
	}
	if !repaid.Equal(l.Principal) {
		t.Fatalf("principal repaid %s, want %s", repaid, l.Principal)
	}
	if !rows[71].Balance.IsZero() {
		t.Fatalf("final balance: %s", rows[71].Balance)
	}
	if rows[0].Interest.Cmp(dec("672000")) != 0 {
		t.Fatalf("first interest: %s", rows[0].Interest)
	}
}

func TestScheduleOverridePaysOffEarly(t *testing.T) {
	l, err := NewLoan(1, LoanParams{
		Name:              "friend",
		Principal:         dec("1000"),
		TermMonths:        10,
		ManualInstallment: dec("300"),
	})
	if err != nil {
		t.Fatal(err)
	}
	rows := Schedule(l)
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	if !rows[3].Payment.Equal(dec("100")) || !rows[3].Balance.IsZero() {
		t.Fatalf("last row: %+v", rows[3])
	}
}

func TestScheduleEmptyForZeroInstallment(t *testing.T) {
	if rows := Schedule(Loan{Principal: dec("100"), TermMonths: 12}); rows != nil {
		t.Fatalf("expected no schedule, got %d rows", len(rows))
	}
}

func TestScheduleBoundedTerm(t *testing.T) {
	if n := InstallmentCount(1<<40, Daily); n != 0 {
		t.Fatalf("out of range term counted %d installments", n)
	}

	rows := Schedule(Loan{
		Principal:            dec("1000"),
		TermMonths:           1 << 40,
		Frequency:            Daily,
		EffectiveInstallment: dec("1"),
	})
	if rows != nil {
		t.Fatalf("expected no schedule, got %d rows", len(rows))
	}

	l, err := NewLoan(1, LoanParams{
		Name:              "long",
		Principal:         dec("1000000"),
		TermMonths:        MaxTermMonths,
		Frequency:         Daily,
		ManualInstallment: dec("10"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(Schedule(l)); got != MaxTermMonths*Daily.PeriodsPerMonth() {
		t.Fatalf("expected %d rows, got %d", MaxTermMonths*Daily.PeriodsPerMonth(), got)
	}
}
