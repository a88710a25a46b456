// Package http serves the loan tracker UI: server-rendered forms that post,
// redirect and show a flash message, plus a small JSON preview endpoint.
package http

import (
	"context"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"finanzas/internal/cache"
	applog "finanzas/internal/log"
	"finanzas/internal/middleware/ratelimit"
	"finanzas/internal/middleware/security"
	"finanzas/internal/middleware/trace"
	"finanzas/internal/services"
	appweb "finanzas/web"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps is everything the server needs. Loans, Credentials and SessionKey
// are required.
type Deps struct {
	Loans       *services.LoanService
	Credentials *services.CredentialService
	Audit       *services.AuditService
	Store       Pinger
	Caches      *cache.Manager
	Logger      *applog.Logger

	SessionKey     []byte
	SecureCookies  bool
	DefaultOwnerID int64
	PageSize       int
	RateLimit      ratelimit.Config
}

type Server struct {
	http.Server

	loans       *services.LoanService
	credentials *services.CredentialService
	audit       *services.AuditService
	store       Pinger
	caches      *cache.Manager

	templates map[string]*template.Template
	sessions  *sessions.CookieStore
	validate  *validator.Validate

	logger     *applog.Logger
	structured *applog.StructuredLogger

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware

	defaultOwnerID int64
	pageSize       int
	started        time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run
// server.
func NewServer(addr string, deps Deps) (*Server, error) {
	if deps.Loans == nil || deps.Credentials == nil {
		return nil, errors.New("loan and credential services are required")
	}
	if len(deps.SessionKey) == 0 {
		return nil, errors.New("session key is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	templates, err := parseTemplates(appweb.TemplatesFS)
	if err != nil {
		return nil, err
	}

	detector := security.NewDetector()
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 16, // 64KB
		},
		loans:            deps.Loans,
		credentials:      deps.Credentials,
		audit:            deps.Audit,
		store:            deps.Store,
		caches:           deps.Caches,
		templates:        templates,
		sessions:         newSessionStore(deps.SessionKey, deps.SecureCookies),
		validate:         newValidator(),
		logger:           logger,
		structured:       applog.NewStructuredLogger(logger),
		rateLimiter:      ratelimit.NewLimiter(deps.RateLimit),
		securityDetector: detector,
		traceMiddleware:  trace.NewMiddleware(detector.ExtractClientIP, logger),
		defaultOwnerID:   deps.DefaultOwnerID,
		pageSize:         deps.PageSize,
		started:          time.Now(),
	}
	s.Handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.StrictSlash(true)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.renderError(w, req, http.StatusNotFound, "Page not found.")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.renderError(w, req, http.StatusMethodNotAllowed, "Method not allowed.")
	})

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		r.PathPrefix("/static/").Handler(security.StaticAssetMiddleware(3600)(static))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", "error", err)
	}

	app := r.NewRoute().Subrouter()
	app.Use(s.requireOwner)

	app.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)

	app.HandleFunc("/loans", s.handleListLoans).Methods(http.MethodGet)
	app.HandleFunc("/loans", s.handleCreateLoan).Methods(http.MethodPost)
	app.HandleFunc("/loans/new", s.handleNewLoan).Methods(http.MethodGet)
	app.HandleFunc("/loans/{id:[0-9]+}", s.handleLoanDetail).Methods(http.MethodGet)
	app.HandleFunc("/loans/{id:[0-9]+}", s.handleUpdateLoan).Methods(http.MethodPost)
	app.HandleFunc("/loans/{id:[0-9]+}/edit", s.handleEditLoan).Methods(http.MethodGet)
	app.HandleFunc("/loans/{id:[0-9]+}/delete", s.handleDeleteLoan).Methods(http.MethodPost)

	app.HandleFunc("/loans/{id:[0-9]+}/payments/new", s.handleNewPayment).Methods(http.MethodGet)
	app.HandleFunc("/loans/{id:[0-9]+}/payments", s.handleRecordPayment).Methods(http.MethodPost)
	app.HandleFunc("/payments/{id:[0-9]+}/delete", s.handleDeletePayment).Methods(http.MethodPost)

	app.HandleFunc("/api/installments/preview", s.handlePreviewInstallment).Methods(http.MethodPost)

	vault := func(h http.HandlerFunc) http.Handler {
		return applog.ComponentMiddleware(applog.ComponentCredential)(h)
	}
	app.Handle("/credentials", vault(s.handleListCredentials)).Methods(http.MethodGet)
	app.Handle("/credentials", vault(s.handleCreateCredential)).Methods(http.MethodPost)
	app.Handle("/credentials/{id:[0-9]+}/reveal", vault(s.handleRevealCredential)).Methods(http.MethodPost)
	app.Handle("/credentials/{id:[0-9]+}/delete", vault(s.handleDeleteCredential)).Methods(http.MethodPost)

	// Outermost first: trace sees every request, including rejected ones.
	var h http.Handler = r
	h = s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, ratelimit.WritesOnly, s.handleRateLimited)(h)
	h = s.securityDetector.Middleware(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = applog.RequestIDMiddleware(trace.FromRequest)(h)
	h = applog.Middleware(s.logger)(h)
	h = s.traceMiddleware.Middleware(h)
	return h
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldClientIP, s.securityDetector.ExtractClientIP(r),
		applog.FieldMethod, r.Method,
		applog.FieldPath, r.URL.Path)
	s.renderError(w, r, http.StatusTooManyRequests, "Too many requests. Please try again in a moment.")
}

// Shutdown stops the background goroutines and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		if s.caches != nil {
			s.caches.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
