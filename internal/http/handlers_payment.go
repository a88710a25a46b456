package http

import (
	"fmt"
	"net/http"
	"time"

	"finanzas/internal/core"
	applog "finanzas/internal/log"
)

type paymentFormView struct {
	page
	Loan core.Loan
	Form paymentForm
}

func (s *Server) handleNewPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.renderError(w, r, http.StatusNotFound, "That record does not exist.")
		return
	}
	l, err := s.loans.GetLoan(r.Context(), ownerID(r.Context()), id)
	if err != nil {
		s.fail(w, r, err, applog.OpRead, "/loans")
		return
	}
	s.render(w, r, http.StatusOK, "payment_form", paymentFormView{
		page: s.newPage(w, r, "Payment for "+l.Name),
		Loan: l,
		Form: paymentForm{
			Amount: l.EffectiveInstallment.String(),
			PaidOn: time.Now().Format(time.DateOnly),
		},
	})
}

func (s *Server) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.renderError(w, r, http.StatusNotFound, "That record does not exist.")
		return
	}
	back := fmt.Sprintf("/loans/%d/payments/new", id)
	if err := r.ParseForm(); err != nil {
		s.fail(w, r, fieldError("form", "could not be read"), applog.OpParse, back)
		return
	}

	var form paymentForm
	bindForm(r.PostForm, &form)
	if err := validateForm(s.validate, form); err != nil {
		s.fail(w, r, err, applog.OpPay, back)
		return
	}
	params, err := form.params()
	if err != nil {
		s.fail(w, r, err, applog.OpPay, back)
		return
	}

	owner := ownerID(r.Context())
	p, err := s.loans.RecordPayment(r.Context(), owner, id, params)
	if err != nil {
		s.fail(w, r, err, applog.OpPay, back)
		return
	}

	s.structured.LogPaymentRecorded(r.Context(), owner, id, p.ID, p.Amount.String())
	s.addFlash(w, r, flashSuccess, fmt.Sprintf("Payment of %s recorded.", core.FormatMoney(p.Amount)))
	redirect(w, r, fmt.Sprintf("/loans/%d", id))
}

func (s *Server) handleDeletePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.renderError(w, r, http.StatusNotFound, "That record does not exist.")
		return
	}
	p, err := s.loans.DeletePayment(r.Context(), ownerID(r.Context()), id)
	if err != nil {
		s.fail(w, r, err, applog.OpDelete, "/loans")
		return
	}
	s.addFlash(w, r, flashSuccess, "Payment deleted.")
	redirect(w, r, fmt.Sprintf("/loans/%d", p.LoanID))
}
