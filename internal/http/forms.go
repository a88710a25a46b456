package http

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"finanzas/internal/core"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Form structs are filled from url.Values by field tag and checked with
// validator before anything is parsed into domain types.
type (
	loanForm struct {
		Name              string `form:"name" validate:"required,max=200"`
		Principal         string `form:"principal" validate:"required,amount"`
		Rate              string `form:"rate" validate:"omitempty,rate"`
		TermMonths        string `form:"term_months" validate:"required,number,termmonths"`
		Frequency         string `form:"frequency" validate:"max=20"`
		StartDate         string `form:"start_date" validate:"omitempty,datetime=2006-01-02"`
		Insurance         string `form:"insurance" validate:"omitempty,amount"`
		ManualInstallment string `form:"manual_installment" validate:"omitempty,amount"`
		Notes             string `form:"notes" validate:"max=2000"`
		Status            string `form:"status" validate:"omitempty,oneof=active closed defaulted"`
	}

	paymentForm struct {
		Amount  string `form:"amount" validate:"required,amount"`
		PaidOn  string `form:"paid_on" validate:"required,datetime=2006-01-02"`
		Receipt string `form:"receipt" validate:"required,max=100"`
		Notes   string `form:"notes" validate:"max=2000"`
	}

	credentialForm struct {
		Service  string `form:"service" validate:"required,max=200"`
		Username string `form:"username" validate:"max=200"`
		Secret   string `form:"secret" validate:"required,max=1000"`
		URL      string `form:"url" validate:"omitempty,url,max=500"`
		Notes    string `form:"notes" validate:"max=2000"`
	}
)

// formError carries per-field messages. It unwraps to core.ErrValidation so
// handlers treat it like any other validation failure.
type formError struct {
	Fields map[string]string
}

func (e *formError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fieldLabel(k) + " " + e.Fields[k]
	}
	return strings.Join(parts, "; ")
}

func (e *formError) Unwrap() error { return core.ErrValidation }

func fieldError(field, msg string) *formError {
	return &formError{Fields: map[string]string{field: msg}}
}

var fieldLabels = map[string]string{
	"name":               "Name",
	"principal":          "Principal",
	"rate":               "Rate",
	"term_months":        "Term",
	"frequency":          "Frequency",
	"start_date":         "Start date",
	"insurance":          "Insurance",
	"manual_installment": "Manual installment",
	"notes":              "Notes",
	"status":             "Status",
	"amount":             "Amount",
	"paid_on":            "Payment date",
	"receipt":            "Receipt",
	"service":            "Service",
	"username":           "Username",
	"secret":             "Secret",
	"url":                "URL",
}

func fieldLabel(field string) string {
	if l, ok := fieldLabels[field]; ok {
		return l
	}
	return field
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("form")
	})
	_ = v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		_, err := core.ParseAmount(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("rate", func(fl validator.FieldLevel) bool {
		_, err := core.ParseRate(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("termmonths", func(fl validator.FieldLevel) bool {
		n, err := strconv.Atoi(fl.Field().String())
		return err == nil && n > 0 && n <= core.MaxTermMonths
	})
	return v
}

// bindForm copies values into the string fields of dst by their form tag,
// sanitizing each one.
func bindForm(values url.Values, dst any) {
	rv := reflect.ValueOf(dst).Elem()
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		key := rt.Field(i).Tag.Get("form")
		if key == "" || rv.Field(i).Kind() != reflect.String {
			continue
		}
		rv.Field(i).SetString(sanitizeInput(values.Get(key)))
	}
}

// validateForm runs struct validation and turns failures into a formError.
func validateForm(v *validator.Validate, form any) error {
	err := v.Struct(form)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	fe := &formError{Fields: make(map[string]string, len(ve))}
	for _, e := range ve {
		fe.Fields[e.Field()] = validationMessage(e)
	}
	return fe
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", e.Param())
	case "number":
		return "must be a whole number"
	case "amount":
		return "is not a valid amount"
	case "rate":
		return "is not a valid rate"
	case "termmonths":
		return fmt.Sprintf("must be between 1 and %d months", core.MaxTermMonths)
	case "datetime":
		return "must be a date like 2024-01-31"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(e.Param(), " ", ", ")
	case "url":
		return "must be a full URL"
	default:
		return "is invalid"
	}
}

func (f loanForm) params() (core.LoanParams, error) {
	principal, err := core.ParseAmount(f.Principal)
	if err != nil {
		return core.LoanParams{}, fieldError("principal", "is not a valid amount")
	}
	rate, err := core.ParseOptionalRate(f.Rate)
	if err != nil {
		return core.LoanParams{}, fieldError("rate", "is not a valid rate")
	}
	term, err := strconv.Atoi(f.TermMonths)
	if err != nil {
		return core.LoanParams{}, fieldError("term_months", "must be a whole number")
	}
	start, err := core.ParseDate(f.StartDate)
	if err != nil {
		return core.LoanParams{}, fieldError("start_date", "must be a date like 2024-01-31")
	}
	insurance, err := core.ParseOptionalAmount(f.Insurance)
	if err != nil {
		return core.LoanParams{}, fieldError("insurance", "is not a valid amount")
	}
	manual, err := core.ParseOptionalAmount(f.ManualInstallment)
	if err != nil {
		return core.LoanParams{}, fieldError("manual_installment", "is not a valid amount")
	}
	return core.LoanParams{
		Name:               f.Name,
		Principal:          principal,
		PeriodicRate:       rate,
		TermMonths:         term,
		Frequency:          core.ParseFrequency(f.Frequency),
		StartDate:          start,
		InsurancePerPeriod: insurance,
		ManualInstallment:  manual,
		Notes:              f.Notes,
	}, nil
}

// changes builds a partial update from the keys present in values; a key
// that was not posted leaves the stored field alone. A posted but blank
// manual installment clears the override.
func (f loanForm) changes(values url.Values) (core.LoanChanges, error) {
	var c core.LoanChanges
	if values.Has("name") {
		c.Name = &f.Name
	}
	if values.Has("principal") {
		d, err := core.ParseAmount(f.Principal)
		if err != nil {
			return c, fieldError("principal", "is not a valid amount")
		}
		c.Principal = &d
	}
	if values.Has("rate") {
		d, err := core.ParseOptionalRate(f.Rate)
		if err != nil {
			return c, fieldError("rate", "is not a valid rate")
		}
		c.PeriodicRate = &d
	}
	if values.Has("term_months") {
		n, err := strconv.Atoi(f.TermMonths)
		if err != nil {
			return c, fieldError("term_months", "must be a whole number")
		}
		c.TermMonths = &n
	}
	if values.Has("frequency") {
		freq := core.ParseFrequency(f.Frequency)
		c.Frequency = &freq
	}
	if values.Has("start_date") {
		d, err := core.ParseDate(f.StartDate)
		if err != nil {
			return c, fieldError("start_date", "must be a date like 2024-01-31")
		}
		c.StartDate = &d
	}
	if values.Has("insurance") {
		d, err := core.ParseOptionalAmount(f.Insurance)
		if err != nil {
			return c, fieldError("insurance", "is not a valid amount")
		}
		c.InsurancePerPeriod = &d
	}
	if values.Has("manual_installment") {
		d, err := core.ParseOptionalAmount(f.ManualInstallment)
		if err != nil {
			return c, fieldError("manual_installment", "is not a valid amount")
		}
		c.ManualInstallment = &d
	}
	if values.Has("notes") {
		c.Notes = &f.Notes
	}
	if values.Has("status") && f.Status != "" {
		status, err := core.ParseLoanStatus(f.Status)
		if err != nil {
			return c, fieldError("status", "is invalid")
		}
		c.Status = &status
	}
	return c, nil
}

// onlyPosted drops validation failures for fields the request did not
// send, so partial updates are not rejected for missing required fields.
func onlyPosted(err error, values url.Values) error {
	var fe *formError
	if !errors.As(err, &fe) {
		return err
	}
	for field := range fe.Fields {
		if !values.Has(field) {
			delete(fe.Fields, field)
		}
	}
	if len(fe.Fields) == 0 {
		return nil
	}
	return fe
}

func (f paymentForm) params() (core.PaymentParams, error) {
	amount, err := core.ParsePositiveAmount(f.Amount)
	if err != nil {
		return core.PaymentParams{}, fieldError("amount", "must be greater than zero")
	}
	paidOn, err := core.ParseDate(f.PaidOn)
	if err != nil {
		return core.PaymentParams{}, fieldError("paid_on", "must be a date like 2024-01-31")
	}
	return core.PaymentParams{
		Amount:           amount,
		PaidOn:           paidOn,
		ReceiptReference: f.Receipt,
		Notes:            f.Notes,
	}, nil
}

func (f credentialForm) params() core.CredentialParams {
	return core.CredentialParams{
		Service:  f.Service,
		Username: f.Username,
		Secret:   f.Secret,
		URL:      f.URL,
		Notes:    f.Notes,
	}
}

// loanFormFrom fills the edit form from a stored loan.
func loanFormFrom(l core.Loan) loanForm {
	return loanForm{
		Name:              l.Name,
		Principal:         l.Principal.String(),
		Rate:              l.PeriodicRate.String(),
		TermMonths:        strconv.Itoa(l.TermMonths),
		Frequency:         l.Frequency.String(),
		StartDate:         l.StartDate.String(),
		Insurance:         optionalAmount(l.InsurancePerPeriod),
		ManualInstallment: optionalAmount(l.ManualInstallment),
		Notes:             l.Notes,
		Status:            l.Status.String(),
	}
}

func optionalAmount(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}
