package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"finanzas/internal/core"
	"finanzas/internal/secret"
	"finanzas/internal/storage"
)

// SecretCodec seals and opens credential secrets. *secret.Codec implements it.
type SecretCodec interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(token string) (string, error)
	NeedsRotation(token string) bool
}

var _ SecretCodec = (*secret.Codec)(nil)

// CredentialService keeps third-party logins with the secret encrypted at rest.
type CredentialService struct {
	store storage.CredentialStore
	codec SecretCodec
}

func NewCredentialService(store storage.CredentialStore, codec SecretCodec) *CredentialService {
	return &CredentialService{store: store, codec: codec}
}

func (s *CredentialService) Create(ctx context.Context, ownerID int64, p core.CredentialParams) (core.Credential, error) {
	if err := p.Validate(); err != nil {
		return core.Credential{}, invalid(err)
	}
	sealed, err := s.codec.Encrypt(p.Secret)
	if err != nil {
		return core.Credential{}, fmt.Errorf("encrypt secret: %w", err)
	}
	c, err := s.store.CreateCredential(ctx, core.Credential{
		OwnerID:    ownerID,
		Service:    strings.TrimSpace(p.Service),
		Username:   strings.TrimSpace(p.Username),
		Ciphertext: sealed,
		URL:        strings.TrimSpace(p.URL),
		Notes:      strings.TrimSpace(p.Notes),
	})
	if err != nil {
		return core.Credential{}, fmt.Errorf("create credential: %w", err)
	}
	slog.InfoContext(ctx, "Credential stored", "credential_id", c.ID, "service", c.Service)
	return c, nil
}

func (s *CredentialService) List(ctx context.Context, ownerID int64) ([]core.Credential, error) {
	items, err := s.store.ListCredentials(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return items, nil
}

// Reveal decrypts one credential's secret.
func (s *CredentialService) Reveal(ctx context.Context, ownerID, id int64) (core.Credential, string, error) {
	c, err := s.store.GetCredential(ctx, ownerID, id)
	if err != nil {
		return core.Credential{}, "", err
	}
	plain, err := s.codec.Decrypt(c.Ciphertext)
	if err != nil {
		return core.Credential{}, "", fmt.Errorf("decrypt credential %d: %w", id, err)
	}
	if s.codec.NeedsRotation(c.Ciphertext) {
		slog.WarnContext(ctx, "Credential sealed with previous key", "credential_id", id)
	}
	return c, plain, nil
}

func (s *CredentialService) Delete(ctx context.Context, ownerID, id int64) error {
	if err := s.store.DeleteCredential(ctx, ownerID, id); err != nil {
		return fmt.Errorf("delete credential %d: %w", id, err)
	}
	return nil
}
