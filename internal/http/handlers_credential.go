package http

import (
	"net/http"

	"finanzas/internal/core"
	applog "finanzas/internal/log"
)

type credentialsView struct {
	page
	Credentials []core.Credential
	Form        credentialForm
	// Revealed is set only on the response to a reveal request.
	Revealed     *core.Credential
	RevealedText string
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	s.renderCredentials(w, r, nil, "")
}

func (s *Server) renderCredentials(w http.ResponseWriter, r *http.Request, revealed *core.Credential, plain string) {
	items, err := s.credentials.List(r.Context(), ownerID(r.Context()))
	if err != nil {
		s.fail(w, r, err, applog.OpList, "/credentials")
		return
	}
	s.render(w, r, http.StatusOK, "credentials", credentialsView{
		page:         s.newPage(w, r, "Credentials"),
		Credentials:  items,
		Revealed:     revealed,
		RevealedText: plain,
	})
}

func (s *Server) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.fail(w, r, fieldError("form", "could not be read"), applog.OpParse, "/credentials")
		return
	}
	var form credentialForm
	bindForm(r.PostForm, &form)
	if err := validateForm(s.validate, form); err != nil {
		s.fail(w, r, err, applog.OpCreate, "/credentials")
		return
	}

	c, err := s.credentials.Create(r.Context(), ownerID(r.Context()), form.params())
	if err != nil {
		s.fail(w, r, err, applog.OpCreate, "/credentials")
		return
	}
	applog.FromContext(r.Context()).InfoContext(r.Context(), "Credential stored",
		applog.FieldCredentialID, c.ID,
		applog.FieldOwnerID, c.OwnerID)
	s.addFlash(w, r, flashSuccess, "Credential for "+c.Service+" saved.")
	redirect(w, r, "/credentials")
}

// handleRevealCredential shows one secret in the response body only. The
// credentials path is served with no-store so the page is not cached.
func (s *Server) handleRevealCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.renderError(w, r, http.StatusNotFound, "That record does not exist.")
		return
	}
	owner := ownerID(r.Context())
	c, plain, err := s.credentials.Reveal(r.Context(), owner, id)
	if err != nil {
		s.fail(w, r, err, applog.OpReveal, "/credentials")
		return
	}
	applog.FromContext(r.Context()).InfoContext(r.Context(), "Credential revealed",
		applog.FieldCredentialID, id,
		applog.FieldOwnerID, owner)
	s.renderCredentials(w, r, &c, plain)
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.renderError(w, r, http.StatusNotFound, "That record does not exist.")
		return
	}
	if err := s.credentials.Delete(r.Context(), ownerID(r.Context()), id); err != nil {
		s.fail(w, r, err, applog.OpDelete, "/credentials")
		return
	}
	s.addFlash(w, r, flashSuccess, "Credential deleted.")
	redirect(w, r, "/credentials")
}
