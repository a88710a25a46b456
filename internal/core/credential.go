package core

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrEmptyService   = errors.New("empty service name")
	ErrEmptySecret    = errors.New("empty secret")
	ErrServiceTooLong = errors.New("service name too long (max 200 characters)")
)

// Credential is a stored login for an external service. The secret is kept
// only as ciphertext; see internal/secret.
type Credential struct {
	ID         int64
	OwnerID    int64
	Service    string
	Username   string
	Ciphertext string
	URL        string
	Notes      string
	CreatedAt  time.Time
}

type CredentialParams struct {
	Service  string
	Username string
	Secret   string
	URL      string
	Notes    string
}

func (p CredentialParams) Validate() error {
	service := strings.TrimSpace(p.Service)
	if service == "" {
		return ErrEmptyService
	}
	if len(service) > maxNameLen {
		return ErrServiceTooLong
	}
	if p.Secret == "" {
		return ErrEmptySecret
	}
	return nil
}
