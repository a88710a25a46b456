package http

import (
	"context"
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	sessionName = "finanzas"

	// sessionOwnerKey is written by whatever authenticates the operator;
	// this package only reads it.
	sessionOwnerKey = "owner_id"

	flashSuccess = "flash_success"
	flashError   = "flash_error"
)

type ctxKey int

const ownerCtxKey ctxKey = iota

type flash struct {
	Kind    string
	Message string
}

func newSessionStore(key []byte, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore(key)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 30,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// session never fails: a cookie that cannot be decoded yields a fresh
// session, which is what gorilla returns alongside the error.
func (s *Server) session(r *http.Request) *sessions.Session {
	sess, err := s.sessions.Get(r, sessionName)
	if err != nil {
		s.logger.DebugContext(r.Context(), "Discarding unreadable session cookie", "error", err)
	}
	return sess
}

// addFlash queues a one-shot message for the next page view.
func (s *Server) addFlash(w http.ResponseWriter, r *http.Request, kind, msg string) {
	sess := s.session(r)
	sess.AddFlash(msg, kind)
	if err := sess.Save(r, w); err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to save flash", "error", err)
	}
}

// popFlashes reads and clears queued messages. It must run before the
// response body is written.
func (s *Server) popFlashes(w http.ResponseWriter, r *http.Request) []flash {
	sess := s.session(r)
	var out []flash
	for _, key := range []string{flashSuccess, flashError} {
		kind := "success"
		if key == flashError {
			kind = "error"
		}
		for _, v := range sess.Flashes(key) {
			if msg, ok := v.(string); ok {
				out = append(out, flash{Kind: kind, Message: msg})
			}
		}
	}
	if len(out) > 0 {
		if err := sess.Save(r, w); err != nil {
			s.logger.ErrorContext(r.Context(), "Failed to clear flashes", "error", err)
		}
	}
	return out
}

// ownerFromSession reads the owner id from the session, falling back to the
// configured default owner. Zero means nobody is signed in.
func (s *Server) ownerFromSession(r *http.Request) int64 {
	sess := s.session(r)
	switch v := sess.Values[sessionOwnerKey].(type) {
	case int64:
		if v > 0 {
			return v
		}
	case int:
		if v > 0 {
			return int64(v)
		}
	}
	return s.defaultOwnerID
}

// requireOwner rejects requests without an owner and stores it in the
// request context for the handlers.
func (s *Server) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := s.ownerFromSession(r)
		if owner <= 0 {
			s.renderError(w, r, http.StatusUnauthorized, "Sign in to continue.")
			return
		}
		ctx := context.WithValue(r.Context(), ownerCtxKey, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ownerID(ctx context.Context) int64 {
	id, _ := ctx.Value(ownerCtxKey).(int64)
	return id
}
