// Package memory is a process-local Store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"finanzas/internal/core"
	"finanzas/internal/storage"

	"github.com/shopspring/decimal"
)

type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	seq         int64
	loans       map[int64]core.Loan
	payments    map[int64]core.Payment
	credentials map[int64]core.Credential
	audit       []core.AuditEntry
	auditIDs    map[string]struct{}
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		loans:       map[int64]core.Loan{},
		payments:    map[int64]core.Payment{},
		credentials: map[int64]core.Credential{},
		auditIDs:    map[string]struct{}{},
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// snapshot holds loans and payments only. IDs are never handed back, so a
// credential or audit row written during a rolled back transaction keeps its
// id.
type snapshot struct {
	loans    map[int64]core.Loan
	payments map[int64]core.Payment
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		loans:    make(map[int64]core.Loan, len(s.loans)),
		payments: make(map[int64]core.Payment, len(s.payments)),
	}
	for k, v := range s.loans {
		snap.loans[k] = v
	}
	for k, v := range s.payments {
		snap.payments[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loans = snap.loans
	s.payments = snap.payments
}

// txView is the store as seen from inside WithTx; nested calls join. Its
// writes skip txMu, which the enclosing WithTx already holds.
type txView struct {
	*Store
}

func (v txView) WithTx(_ context.Context, fn func(storage.LoanStore) error) error {
	return fn(v)
}

func (v txView) CreateLoan(_ context.Context, l core.Loan) (core.Loan, error) {
	return v.createLoan(l)
}

func (v txView) UpdateLoan(_ context.Context, l core.Loan) (core.Loan, error) {
	return v.updateLoan(l)
}

func (v txView) DeleteLoan(_ context.Context, ownerID, id int64) error {
	return v.deleteLoan(ownerID, id)
}

func (v txView) CreatePayment(_ context.Context, p core.Payment) (core.Payment, error) {
	return v.createPayment(p)
}

func (v txView) DeletePayment(_ context.Context, ownerID, id int64) error {
	return v.deletePayment(ownerID, id)
}

// WithTx serialises transactions and restores loans and payments when fn
// fails. Loan and payment writes outside a transaction wait for it to end,
// so a rollback never discards them.
func (s *Store) WithTx(_ context.Context, fn func(storage.LoanStore) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(txView{s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) CreateLoan(_ context.Context, l core.Loan) (core.Loan, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.createLoan(l)
}

func (s *Store) createLoan(l core.Loan) (core.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.ID = s.nextID()
	l.CreatedAt = time.Now().UTC()
	l.UpdatedAt = l.CreatedAt
	s.loans[l.ID] = l
	return l, nil
}

func (s *Store) getLoan(ownerID, id int64) (core.Loan, error) {
	l, ok := s.loans[id]
	if !ok || l.OwnerID != ownerID {
		return core.Loan{}, fmt.Errorf("loan %d: %w", id, core.ErrNotFound)
	}
	return l, nil
}

func (s *Store) GetLoan(_ context.Context, ownerID, id int64) (core.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLoan(ownerID, id)
}

func (s *Store) ListLoans(_ context.Context, ownerID int64, f core.LoanFilter) (core.LoanPage, error) {
	f = f.Normalize()
	s.mu.Lock()
	var matched []core.Loan
	for _, l := range s.loans {
		if l.OwnerID != ownerID {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		if f.Frequency != "" && l.Frequency != f.Frequency {
			continue
		}
		matched = append(matched, l)
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.StartDate.IsZero() != b.StartDate.IsZero() {
			return b.StartDate.IsZero()
		}
		if !a.StartDate.Equal(b.StartDate.Time) {
			return a.StartDate.After(b.StartDate.Time)
		}
		return a.ID > b.ID
	})

	page := core.LoanPage{
		Page:       f.Page,
		PageSize:   f.PageSize,
		TotalItems: len(matched),
		TotalPages: core.TotalPages(len(matched), f.PageSize),
	}
	start := f.Offset()
	if start < len(matched) {
		end := start + f.PageSize
		if end > len(matched) {
			end = len(matched)
		}
		page.Loans = matched[start:end]
	}
	return page, nil
}

func (s *Store) UpdateLoan(_ context.Context, l core.Loan) (core.Loan, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.updateLoan(l)
}

func (s *Store) updateLoan(l core.Loan) (core.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.getLoan(l.OwnerID, l.ID); err != nil {
		return core.Loan{}, err
	}
	l.UpdatedAt = time.Now().UTC()
	s.loans[l.ID] = l
	return l, nil
}

func (s *Store) DeleteLoan(_ context.Context, ownerID, id int64) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.deleteLoan(ownerID, id)
}

func (s *Store) deleteLoan(ownerID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.getLoan(ownerID, id); err != nil {
		return err
	}
	delete(s.loans, id)
	for pid, p := range s.payments {
		if p.LoanID == id {
			delete(s.payments, pid)
		}
	}
	return nil
}

func (s *Store) CreatePayment(_ context.Context, p core.Payment) (core.Payment, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.createPayment(p)
}

func (s *Store) createPayment(p core.Payment) (core.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.loans[p.LoanID]; !ok {
		return core.Payment{}, fmt.Errorf("loan %d: %w", p.LoanID, core.ErrNotFound)
	}
	p.ID = s.nextID()
	p.CreatedAt = time.Now().UTC()
	s.payments[p.ID] = p
	return p, nil
}

func (s *Store) GetPayment(_ context.Context, ownerID, id int64) (core.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getPayment(ownerID, id)
}

func (s *Store) getPayment(ownerID, id int64) (core.Payment, error) {
	p, ok := s.payments[id]
	if !ok {
		return core.Payment{}, fmt.Errorf("payment %d: %w", id, core.ErrNotFound)
	}
	if _, err := s.getLoan(ownerID, p.LoanID); err != nil {
		return core.Payment{}, fmt.Errorf("payment %d: %w", id, core.ErrNotFound)
	}
	return p, nil
}

func (s *Store) ListPayments(_ context.Context, ownerID, loanID int64) ([]core.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.getLoan(ownerID, loanID); err != nil {
		return nil, nil
	}
	var out []core.Payment
	for _, p := range s.payments {
		if p.LoanID == loanID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaidOn.Equal(out[j].PaidOn.Time) {
			return out[i].PaidOn.After(out[j].PaidOn.Time)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) DeletePayment(_ context.Context, ownerID, id int64) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.deletePayment(ownerID, id)
}

func (s *Store) deletePayment(ownerID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.getPayment(ownerID, id); err != nil {
		return err
	}
	delete(s.payments, id)
	return nil
}

func (s *Store) TotalPaid(ctx context.Context, ownerID, loanID int64) (decimal.Decimal, error) {
	items, err := s.ListPayments(ctx, ownerID, loanID)
	if err != nil {
		return decimal.Zero, err
	}
	return core.SumPayments(items), nil
}

func (s *Store) CreateCredential(_ context.Context, c core.Credential) (core.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.nextID()
	c.CreatedAt = time.Now().UTC()
	s.credentials[c.ID] = c
	return c, nil
}

func (s *Store) GetCredential(_ context.Context, ownerID, id int64) (core.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[id]
	if !ok || c.OwnerID != ownerID {
		return core.Credential{}, fmt.Errorf("credential %d: %w", id, core.ErrNotFound)
	}
	return c, nil
}

func (s *Store) ListCredentials(_ context.Context, ownerID int64) ([]core.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Credential
	for _, c := range s.credentials {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) DeleteCredential(_ context.Context, ownerID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[id]
	if !ok || c.OwnerID != ownerID {
		return fmt.Errorf("credential %d: %w", id, core.ErrNotFound)
	}
	delete(s.credentials, id)
	return nil
}

func (s *Store) LoanSnapshot(_ context.Context, loanID int64) (core.Loan, decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loans[loanID]
	if !ok {
		return core.Loan{}, decimal.Zero, fmt.Errorf("loan %d: %w", loanID, core.ErrNotFound)
	}
	paid := decimal.Zero
	for _, p := range s.payments {
		if p.LoanID == loanID {
			paid = paid.Add(p.Amount)
		}
	}
	return l, paid, nil
}

func (s *Store) RecordAudit(_ context.Context, a core.AuditEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.auditIDs[a.EventID]; dup {
		return false, nil
	}
	a.ID = s.nextID()
	if a.RecordedAt.IsZero() {
		a.RecordedAt = time.Now().UTC()
	}
	s.auditIDs[a.EventID] = struct{}{}
	s.audit = append(s.audit, a)
	return true, nil
}

func (s *Store) ListAudit(_ context.Context, ownerID, loanID int64) ([]core.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		a := s.audit[i]
		if a.LoanID == loanID && a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	return out, nil
}
