package core

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Monthly  Frequency = "monthly"
	Biweekly Frequency = "biweekly"
	Weekly   Frequency = "weekly"
	Daily    Frequency = "daily"
)

const (
	StatusActive    LoanStatus = "active"
	StatusClosed    LoanStatus = "closed"
	StatusDefaulted LoanStatus = "defaulted"
)

// DateLayout is the wire and storage format for dates.
const DateLayout = "2006-01-02"

type (
	// Frequency is the payment cadence of a loan.
	Frequency string

	// LoanStatus is set manually by the operator; payments never change it.
	LoanStatus string

	Date struct {
		time.Time
	}
)

var (
	ErrNotFound              = errors.New("not found")
	ErrValidation            = errors.New("validation failed")
	ErrPaymentExceedsBalance = errors.New("payment exceeds outstanding balance")

	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidRate      = errors.New("invalid interest rate")
	ErrInvalidTerm      = errors.New("invalid term")
	ErrInvalidFrequency = errors.New("invalid payment frequency")
	ErrInvalidStatus    = errors.New("invalid loan status")
	ErrEmptyName        = errors.New("empty name")
	ErrNameTooLong      = errors.New("name too long (max 200 characters)")
	ErrEmptyReceipt     = errors.New("empty receipt reference")
	ErrReceiptTooLong   = errors.New("receipt reference too long (max 100 characters)")
)

// Frequencies lists the accepted cadences in form order.
var Frequencies = []Frequency{Monthly, Biweekly, Weekly, Daily}

// Statuses lists the accepted loan statuses in form order.
var Statuses = []LoanStatus{StatusActive, StatusClosed, StatusDefaulted}

// ParseFrequency maps form input to a Frequency. Legacy Spanish values are
// accepted; anything unknown or empty falls back to Monthly.
func ParseFrequency(s string) Frequency {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "biweekly", "quincenal":
		return Biweekly
	case "weekly", "semanal":
		return Weekly
	case "daily", "diario":
		return Daily
	default:
		return Monthly
	}
}

// Valid reports whether f is one of the four known cadences.
func (f Frequency) Valid() bool {
	switch f {
	case Monthly, Biweekly, Weekly, Daily:
		return true
	}
	return false
}

// PeriodsPerMonth is the factor that turns nominal months into installments.
func (f Frequency) PeriodsPerMonth() int {
	switch f {
	case Biweekly:
		return 2
	case Weekly:
		return 4
	case Daily:
		return 30
	default:
		return 1
	}
}

func (f Frequency) String() string { return string(f) }

// ParseLoanStatus accepts English and legacy Spanish status names.
func ParseLoanStatus(s string) (LoanStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "active", "activo":
		return StatusActive, nil
	case "closed", "pagado", "cerrado":
		return StatusClosed, nil
	case "defaulted", "vencido", "moroso":
		return StatusDefaulted, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

func (s LoanStatus) Valid() bool {
	switch s {
	case StatusActive, StatusClosed, StatusDefaulted:
		return true
	}
	return false
}

func (s LoanStatus) String() string { return string(s) }

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string. An empty string yields the zero Date.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

// IsEmpty returns true if the date is zero (optional dates)
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

// String formats the date as YYYY-MM-DD, or "" when unset.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// AddMonths moves the date forward by n months, clamping to the last day
// of the target month.
func (d Date) AddMonths(n int) Date {
	y, m, day := d.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return Date{Time: time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)}
}

// Scan implements sql.Scanner. Drivers hand back either time.Time or text.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = Date{Time: time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC)}
		return nil
	case string:
		return d.scanText(v)
	case []byte:
		return d.scanText(string(v))
	default:
		return fmt.Errorf("core.Date: unsupported scan type %T", src)
	}
}

func (d *Date) scanText(s string) error {
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value implements driver.Valuer. Unset dates are stored as NULL.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.Format(DateLayout), nil
}
