package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"finanzas/internal/core"
	"finanzas/internal/secret"
	"finanzas/internal/storage/memory"
)

func newCodec(t *testing.T, cur, prev byte) *secret.Codec {
	t.Helper()
	var prevKey []byte
	if prev != 0 {
		prevKey = bytes.Repeat([]byte{prev}, secret.KeySize)
	}
	c, err := secret.NewCodec(bytes.Repeat([]byte{cur}, secret.KeySize), prevKey)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCredentialService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := NewCredentialService(store, newCodec(t, 1, 0))

	c, err := svc.Create(ctx, 1, core.CredentialParams{
		Service:  " Bank ",
		Username: "me",
		Secret:   "hunter2",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if c.Service != "Bank" {
		t.Errorf("service should be trimmed, got %q", c.Service)
	}
	if strings.Contains(c.Ciphertext, "hunter2") {
		t.Error("secret stored in clear")
	}

	_, plain, err := svc.Reveal(ctx, 1, c.ID)
	if err != nil || plain != "hunter2" {
		t.Fatalf("Reveal() = %q, %v", plain, err)
	}
	if _, _, err := svc.Reveal(ctx, 2, c.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("foreign owner: got %v", err)
	}

	items, _ := svc.List(ctx, 1)
	if len(items) != 1 {
		t.Errorf("List() len = %d", len(items))
	}

	if err := svc.Delete(ctx, 1, c.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, 1, c.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second delete: got %v", err)
	}
}

func TestCredentialService_Validation(t *testing.T) {
	svc := NewCredentialService(memory.New(), newCodec(t, 1, 0))
	_, err := svc.Create(context.Background(), 1, core.CredentialParams{Service: "x"})
	if !errors.Is(err, core.ErrEmptySecret) || !errors.Is(err, core.ErrValidation) {
		t.Errorf("got %v", err)
	}
}

func TestCredentialService_RevealAfterKeyRotation(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	c, err := NewCredentialService(store, newCodec(t, 1, 0)).Create(ctx, 1, core.CredentialParams{Service: "s", Secret: "old"})
	if err != nil {
		t.Fatal(err)
	}

	rotated := NewCredentialService(store, newCodec(t, 2, 1))
	if _, plain, err := rotated.Reveal(ctx, 1, c.ID); err != nil || plain != "old" {
		t.Errorf("Reveal() = %q, %v", plain, err)
	}

	dropped := NewCredentialService(store, newCodec(t, 2, 0))
	if _, _, err := dropped.Reveal(ctx, 1, c.ID); !errors.Is(err, secret.ErrUndecryptable) {
		t.Errorf("got %v", err)
	}
}
