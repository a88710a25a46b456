package http

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"finanzas/internal/core"
	applog "finanzas/internal/log"
)

var frequencyOptions = []core.Frequency{core.Monthly, core.Biweekly, core.Weekly, core.Daily}

type loansView struct {
	page
	Loans       core.LoanPage
	Status      string
	Frequency   string
	PrevURL     string
	NextURL     string
	Statuses    []core.LoanStatus
	Frequencies []core.Frequency
}

type loanFormView struct {
	page
	Form        loanForm
	Action      string
	Editing     bool
	LoanID      int64
	Statuses    []core.LoanStatus
	Frequencies []core.Frequency
}

type loanDetailView struct {
	page
	Detail  core.LoanDetail
	History []core.AuditEntry
	Suspect bool
}

// loanFilter reads the list query. Unknown values are ignored rather than
// rejected so a stale bookmark still lists something.
func (s *Server) loanFilter(q url.Values) core.LoanFilter {
	f := core.LoanFilter{PageSize: s.pageSize}
	if v := q.Get("status"); v != "" {
		if status, err := core.ParseLoanStatus(v); err == nil {
			f.Status = status
		}
	}
	if freq := core.Frequency(q.Get("frequency")); freq.Valid() {
		f.Frequency = freq
	}
	if p, err := strconv.Atoi(q.Get("page")); err == nil {
		f.Page = p
	}
	return f.Normalize()
}

func pageURL(f core.LoanFilter, page int) string {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status.String())
	}
	if f.Frequency != "" {
		q.Set("frequency", f.Frequency.String())
	}
	q.Set("page", strconv.Itoa(page))
	return "/loans?" + q.Encode()
}

func (s *Server) handleListLoans(w http.ResponseWriter, r *http.Request) {
	f := s.loanFilter(r.URL.Query())
	result, err := s.loans.ListLoans(r.Context(), ownerID(r.Context()), f)
	if err != nil {
		s.fail(w, r, err, applog.OpList, "/loans")
		return
	}

	view := loansView{
		page:        s.newPage(w, r, "Loans"),
		Loans:       result,
		Status:      f.Status.String(),
		Frequency:   f.Frequency.String(),
		Statuses:    core.Statuses,
		Frequencies: frequencyOptions,
	}
	if result.HasPrev() {
		view.PrevURL = pageURL(f, result.Page-1)
	}
	if result.HasNext() {
		view.NextURL = pageURL(f, result.Page+1)
	}
	s.render(w, r, http.StatusOK, "loans", view)
}

func (s *Server) handleNewLoan(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "loan_form", loanFormView{
		page:        s.newPage(w, r, "New loan"),
		Form:        loanForm{Frequency: core.Monthly.String()},
		Action:      "/loans",
		Statuses:    core.Statuses,
		Frequencies: frequencyOptions,
	})
}

func (s *Server) handleCreateLoan(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.fail(w, r, fieldError("form", "could not be read"), applog.OpParse, "/loans/new")
		return
	}

	var form loanForm
	bindForm(r.PostForm, &form)
	if err := validateForm(s.validate, form); err != nil {
		s.fail(w, r, err, applog.OpCreate, "/loans/new")
		return
	}
	params, err := form.params()
	if err != nil {
		s.fail(w, r, err, applog.OpCreate, "/loans/new")
		return
	}

	owner := ownerID(r.Context())
	l, err := s.loans.CreateLoan(r.Context(), owner, params)
	if err != nil {
		s.fail(w, r, err, applog.OpCreate, "/loans/new")
		return
	}

	s.structured.LogLoanSaved(r.Context(), applog.OpCreate, owner, l.ID, l.EffectiveInstallment.String(), string(l.Mode()))
	s.addFlash(w, r, flashSuccess, fmt.Sprintf("Loan %q saved. Installment %s.", l.Name, core.FormatMoney(l.EffectiveInstallment)))
	redirect(w, r, "/loans")
}

func (s *Server) handleLoanDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.renderError(w, r, http.StatusNotFound, "That record does not exist.")
		return
	}
	owner := ownerID(r.Context())

	detail, err := s.loans.Detail(r.Context(), owner, id)
	if err != nil {
		s.fail(w, r, err, applog.OpRead, "/loans")
		return
	}

	var history []core.AuditEntry
	if s.audit != nil {
		history, err = s.audit.History(r.Context(), owner, id)
		if err != nil {
			// The page is still useful without the audit trail.
			s.logger.WarnContext(r.Context(), "Failed to load audit history",
				applog.FieldLoanID, id,
				applog.FieldError, err)
		}
	}

	suspect := detail.ComputationSuspect()
	if suspect {
		s.logger.WarnContext(r.Context(), "Loan has no computed installment",
			applog.FieldLoanID, id,
			applog.FieldOwnerID, owner)
	}

	s.render(w, r, http.StatusOK, "loan_detail", loanDetailView{
		page:    s.newPage(w, r, detail.Loan.Name),
		Detail:  detail,
		History: history,
		Suspect: suspect,
	})
}

func (s *Server) handleEditLoan(w http.ResponseWriter, r *http.Request) {
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
	s.render(w, r, http.StatusOK, "loan_form", loanFormView{
		page:        s.newPage(w, r, "Edit "+l.Name),
		Form:        loanFormFrom(l),
		Action:      fmt.Sprintf("/loans/%d", l.ID),
		Editing:     true,
		LoanID:      l.ID,
		Statuses:    core.Statuses,
		Frequencies: frequencyOptions,
	})
}

func (s *Server) handleUpdateLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.renderError(w, r, http.StatusNotFound, "That record does not exist.")
		return
	}
	back := fmt.Sprintf("/loans/%d/edit", id)
	if err := r.ParseForm(); err != nil {
		s.fail(w, r, fieldError("form", "could not be read"), applog.OpParse, back)
		return
	}

	var form loanForm
	bindForm(r.PostForm, &form)
	if err := onlyPosted(validateForm(s.validate, form), r.PostForm); err != nil {
		s.fail(w, r, err, applog.OpUpdate, back)
		return
	}
	changes, err := form.changes(r.PostForm)
	if err != nil {
		s.fail(w, r, err, applog.OpUpdate, back)
		return
	}

	owner := ownerID(r.Context())
	l, err := s.loans.UpdateLoan(r.Context(), owner, id, changes)
	if err != nil {
		s.fail(w, r, err, applog.OpUpdate, back)
		return
	}

	s.structured.LogLoanSaved(r.Context(), applog.OpUpdate, owner, l.ID, l.EffectiveInstallment.String(), string(l.Mode()))
	s.addFlash(w, r, flashSuccess, fmt.Sprintf("Loan %q updated. Installment %s.", l.Name, core.FormatMoney(l.EffectiveInstallment)))
	redirect(w, r, "/loans")
}

func (s *Server) handleDeleteLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.renderError(w, r, http.StatusNotFound, "That record does not exist.")
		return
	}
	if err := s.loans.DeleteLoan(r.Context(), ownerID(r.Context()), id); err != nil {
		s.fail(w, r, err, applog.OpDelete, "/loans")
		return
	}
	s.addFlash(w, r, flashSuccess, "Loan deleted.")
	redirect(w, r, "/loans")
}
