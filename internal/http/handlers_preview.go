package http

import (
	"errors"
	"net/http"

	"finanzas/internal/core"
	applog "finanzas/internal/log"
)

type previewResponse struct {
	Computed     string `json:"computed"`
	Effective    string `json:"effective"`
	Difference   string `json:"difference"`
	Insurance    string `json:"insurance"`
	TotalPayable string `json:"total_payable"`
	Installments int    `json:"installments"`
	Mode         string `json:"mode"`
}

type previewError struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// handlePreviewInstallment prices a loan form without saving it. It takes
// either JSON or a form-encoded body.
func (s *Server) handlePreviewInstallment(w http.ResponseWriter, r *http.Request) {
	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		s.logger.InfoContext(r.Context(), "Unreadable preview body",
			applog.FieldOperation, applog.OpQuote,
			applog.FieldError, err)
		writeJSON(w, http.StatusBadRequest, previewError{Error: "Invalid request body."})
		return
	}

	values := parser.Values()
	var form loanForm
	bindForm(values, &form)
	if form.Name == "" {
		// Previews are usually requested before the loan has a name.
		form.Name = "preview"
	}

	quote, err := s.quote(form)
	if err != nil {
		if !errors.Is(err, core.ErrValidation) {
			s.structured.LogError(r.Context(), "Preview failed", err, applog.ComponentHTTP, applog.OpQuote,
				applog.NewFields().WithErrorType(applog.ErrorTypeInternal))
			writeJSON(w, http.StatusInternalServerError, previewError{Error: "Something went wrong."})
			return
		}
		resp := previewError{Error: userMessage(err)}
		var fe *formError
		if errors.As(err, &fe) {
			resp.Fields = fe.Fields
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	writeJSON(w, http.StatusOK, previewResponse{
		Computed:     quote.Computed.StringFixed(2),
		Effective:    quote.Effective.StringFixed(2),
		Difference:   quote.Difference.StringFixed(2),
		Insurance:    quote.Insurance.StringFixed(2),
		TotalPayable: quote.TotalPayable.StringFixed(2),
		Installments: quote.Installments,
		Mode:         string(quote.Mode),
	})
}

func (s *Server) quote(form loanForm) (core.InstallmentQuote, error) {
	if err := validateForm(s.validate, form); err != nil {
		return core.InstallmentQuote{}, err
	}
	params, err := form.params()
	if err != nil {
		return core.InstallmentQuote{}, err
	}
	return s.loans.Quote(params)
}
