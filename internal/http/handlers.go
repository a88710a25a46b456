package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"finanzas/internal/core"
	applog "finanzas/internal/log"
	"finanzas/internal/middleware/trace"

	"github.com/gorilla/mux"
)

// page is embedded by every view model.
type page struct {
	Title     string
	Flashes   []flash
	RequestID string
}

func (s *Server) newPage(w http.ResponseWriter, r *http.Request, title string) page {
	return page{
		Title:     title,
		Flashes:   s.popFlashes(w, r),
		RequestID: trace.GetRequestID(r.Context()),
	}
}

// render executes a page into a buffer first so a template failure can
// still become a clean 500.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	t, ok := s.templates[name]
	if !ok {
		s.logger.ErrorContext(r.Context(), "Template not found",
			"template", name,
			applog.FieldErrorType, applog.ErrorTypeConfiguration)
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		s.structured.LogError(r.Context(), "Template execution failed", err, applog.ComponentTemplate, applog.OpRender,
			applog.NewFields().WithErrorType(applog.ErrorTypeInternal))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

type errorView struct {
	page
	Status  int
	Message string
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.render(w, r, status, "error", errorView{
		page:    s.newPage(w, r, http.StatusText(status)),
		Status:  status,
		Message: msg,
	})
}

// redirect answers a form post with 303 so a reload does not repost.
func redirect(w http.ResponseWriter, r *http.Request, to string) {
	http.Redirect(w, r, to, http.StatusSeeOther)
}

// fail maps a service error onto the UI: validation goes back to the form
// with a flash, a missing row is a 404 page, anything else a 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, op, back string) {
	switch {
	case errors.Is(err, core.ErrValidation):
		s.logger.InfoContext(r.Context(), "Rejected invalid input",
			applog.FieldOperation, op,
			applog.FieldError, err)
		s.addFlash(w, r, flashError, userMessage(err))
		redirect(w, r, back)
	case errors.Is(err, core.ErrNotFound):
		s.renderError(w, r, http.StatusNotFound, "That record does not exist.")
	default:
		s.structured.LogError(r.Context(), "Request failed", err, applog.ComponentHTTP, op,
			applog.NewFields().WithOwner(ownerID(r.Context())).WithErrorType(applog.ErrorTypeInternal))
		s.renderError(w, r, http.StatusInternalServerError, "Something went wrong. Please try again.")
	}
}

var userMessages = []struct {
	err error
	msg string
}{
	{core.ErrPaymentExceedsBalance, "The payment is larger than the outstanding balance."},
	{core.ErrEmptyName, "Name is required."},
	{core.ErrNameTooLong, "Name is too long (max 200 characters)."},
	{core.ErrInvalidRate, "Rate must be zero or positive."},
	{core.ErrInvalidTerm, fmt.Sprintf("Term must be between 1 and %d months.", core.MaxTermMonths)},
	{core.ErrInvalidFrequency, "Unknown payment frequency."},
	{core.ErrInvalidStatus, "Unknown loan status."},
	{core.ErrEmptyReceipt, "Receipt reference is required."},
	{core.ErrReceiptTooLong, "Receipt reference is too long (max 100 characters)."},
	{core.ErrInvalidDate, "Date must look like 2024-01-31."},
	{core.ErrEmptyService, "Service name is required."},
	{core.ErrEmptySecret, "Secret is required."},
	{core.ErrInvalidAmount, "Amounts must be positive numbers."},
}

// userMessage turns a validation error into text for a flash message.
func userMessage(err error) string {
	var fe *formError
	if errors.As(err, &fe) {
		return fe.Error() + "."
	}
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	msg := err.Error()
	if i := strings.LastIndex(msg, core.ErrValidation.Error()+": "); i >= 0 {
		msg = msg[i+len(core.ErrValidation.Error())+2:]
	}
	return msg
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	redirect(w, r, "/loans")
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady checks templates and the store.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if len(s.templates) == 0 {
		checks["templates"] = "failed: templates not loaded"
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	if s.store == nil {
		checks["store"] = "not_configured"
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	} else if err := s.store.Ping(ctx); err != nil {
		checks["store"] = fmt.Sprintf("failed: %v", err)
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	checks["rate_limiter"] = map[string]any{
		"active_clients": s.rateLimiter.ActiveClients(),
		"status":         "ok",
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics writes counters in the Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	traceMetrics := s.traceMiddleware.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	securityMetrics := s.securityDetector.GetMetrics()

	metric := func(name, kind, help string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %v\n\n", name, help, name, kind, name, value)
	}
	metric("http_requests_total", "counter", "Total number of HTTP requests", traceMetrics.TotalRequests)
	metric("http_server_errors_total", "counter", "Responses with a 5xx status", traceMetrics.ServerErrors)
	metric("http_response_time_avg_microseconds", "gauge", "Average response time", traceMetrics.AverageResponseTime)
	metric("rate_limit_hits_total", "counter", "Total rate limit hits", rateLimitMetrics.TotalHits)
	metric("active_rate_limit_clients", "gauge", "Currently tracked rate limit clients", rateLimitMetrics.ClientCount)
	metric("suspicious_requests_total", "counter", "Total suspicious requests detected", securityMetrics.SuspiciousRequests)
	metric("blocked_requests_total", "counter", "Suspicious requests rejected", securityMetrics.BlockedRequests)
	metric("uptime_seconds", "gauge", "Application uptime in seconds", int64(time.Since(s.started).Seconds()))
}
