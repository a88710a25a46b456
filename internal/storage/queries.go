package storage

import (
	"context"
	"database/sql"
	"time"

	"finanzas/internal/core"

	"github.com/shopspring/decimal"
)

// Queries holds the SQL for every table. Statements are written with '?'
// placeholders and rebound per dialect.
type Queries struct {
	db      DBTX
	dialect Dialect
	inTx    bool
}

func New(db DBTX, dialect Dialect) *Queries {
	return &Queries{db: db, dialect: dialect}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx, dialect: q.dialect, inTx: true}
}

// forUpdate locks the selected rows until commit when running inside a
// Postgres transaction. SQLite uses a single connection, so its
// transactions never interleave.
func (q *Queries) forUpdate(query string) string {
	if q.inTx && q.dialect == Postgres {
		return query + ` FOR UPDATE`
	}
	return query
}

func (q *Queries) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return q.db.ExecContext(ctx, rebind(q.dialect, query), args...)
}

func (q *Queries) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, rebind(q.dialect, query), args...)
}

func (q *Queries) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return q.db.QueryRowContext(ctx, rebind(q.dialect, query), args...)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const loanColumns = `id, owner_id, name, principal, periodic_rate, term_months, frequency,
	start_date, manual_installment, insurance_per_period, computed_installment,
	effective_installment, total_payable, outstanding_balance, status, notes,
	created_at, updated_at`

func scanLoan(row rowScanner) (core.Loan, error) {
	var (
		l         core.Loan
		frequency string
		status    string
	)
	err := row.Scan(
		&l.ID, &l.OwnerID, &l.Name, &l.Principal, &l.PeriodicRate, &l.TermMonths, &frequency,
		&l.StartDate, &l.ManualInstallment, &l.InsurancePerPeriod, &l.ComputedInstallment,
		&l.EffectiveInstallment, &l.TotalPayable, &l.OutstandingBalance, &status, &l.Notes,
		&l.CreatedAt, &l.UpdatedAt,
	)
	l.Frequency = core.Frequency(frequency)
	l.Status = core.LoanStatus(status)
	return l, err
}

const createLoan = `INSERT INTO loans (
	owner_id, name, principal, periodic_rate, term_months, frequency, start_date,
	manual_installment, insurance_per_period, computed_installment, effective_installment,
	total_payable, outstanding_balance, status, notes, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`

func (q *Queries) CreateLoan(ctx context.Context, l core.Loan) (int64, error) {
	var id int64
	err := q.queryRow(ctx, createLoan,
		l.OwnerID, l.Name, l.Principal, l.PeriodicRate, l.TermMonths, string(l.Frequency), l.StartDate,
		l.ManualInstallment, l.InsurancePerPeriod, l.ComputedInstallment, l.EffectiveInstallment,
		l.TotalPayable, l.OutstandingBalance, string(l.Status), l.Notes, l.CreatedAt, l.UpdatedAt,
	).Scan(&id)
	return id, err
}

const getLoan = `SELECT ` + loanColumns + ` FROM loans WHERE id = ? AND owner_id = ?`

func (q *Queries) GetLoan(ctx context.Context, ownerID, id int64) (core.Loan, error) {
	return scanLoan(q.queryRow(ctx, q.forUpdate(getLoan), id, ownerID))
}

const getLoanByID = `SELECT ` + loanColumns + ` FROM loans WHERE id = ?`

// GetLoanByID skips the owner check. Only the audit worker uses it.
func (q *Queries) GetLoanByID(ctx context.Context, id int64) (core.Loan, error) {
	return scanLoan(q.queryRow(ctx, getLoanByID, id))
}

const loanFilter = ` WHERE owner_id = ?
	AND (? = '' OR status = ?)
	AND (? = '' OR frequency = ?)`

const countLoans = `SELECT COUNT(*) FROM loans` + loanFilter

type ListLoansParams struct {
	OwnerID   int64
	Status    string
	Frequency string
	Limit     int
	Offset    int
}

func (q *Queries) CountLoans(ctx context.Context, arg ListLoansParams) (int, error) {
	var n int
	err := q.queryRow(ctx, countLoans,
		arg.OwnerID, arg.Status, arg.Status, arg.Frequency, arg.Frequency,
	).Scan(&n)
	return n, err
}

const listLoans = `SELECT ` + loanColumns + ` FROM loans` + loanFilter + `
ORDER BY start_date IS NULL, start_date DESC, id DESC
LIMIT ? OFFSET ?`

func (q *Queries) ListLoans(ctx context.Context, arg ListLoansParams) ([]core.Loan, error) {
	rows, err := q.query(ctx, listLoans,
		arg.OwnerID, arg.Status, arg.Status, arg.Frequency, arg.Frequency, arg.Limit, arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []core.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateLoan = `UPDATE loans SET
	name = ?, principal = ?, periodic_rate = ?, term_months = ?, frequency = ?, start_date = ?,
	manual_installment = ?, insurance_per_period = ?, computed_installment = ?,
	effective_installment = ?, total_payable = ?, outstanding_balance = ?, status = ?,
	notes = ?, updated_at = ?
WHERE id = ? AND owner_id = ?`

func (q *Queries) UpdateLoan(ctx context.Context, l core.Loan) (int64, error) {
	res, err := q.exec(ctx, updateLoan,
		l.Name, l.Principal, l.PeriodicRate, l.TermMonths, string(l.Frequency), l.StartDate,
		l.ManualInstallment, l.InsurancePerPeriod, l.ComputedInstallment,
		l.EffectiveInstallment, l.TotalPayable, l.OutstandingBalance, string(l.Status),
		l.Notes, l.UpdatedAt, l.ID, l.OwnerID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const updateLoanBalance = `UPDATE loans SET outstanding_balance = ?, updated_at = ?
WHERE id = ? AND owner_id = ?`

func (q *Queries) UpdateLoanBalance(ctx context.Context, ownerID, id int64, balance decimal.Decimal, at time.Time) (int64, error) {
	res, err := q.exec(ctx, updateLoanBalance, balance, at, id, ownerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteLoanPayments = `DELETE FROM payments WHERE loan_id IN (
	SELECT id FROM loans WHERE id = ? AND owner_id = ?
)`

func (q *Queries) DeleteLoanPayments(ctx context.Context, ownerID, loanID int64) error {
	_, err := q.exec(ctx, deleteLoanPayments, loanID, ownerID)
	return err
}

const deleteLoan = `DELETE FROM loans WHERE id = ? AND owner_id = ?`

func (q *Queries) DeleteLoan(ctx context.Context, ownerID, id int64) (int64, error) {
	res, err := q.exec(ctx, deleteLoan, id, ownerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const paymentColumns = `p.id, p.loan_id, p.amount, p.paid_on, p.receipt_reference, p.notes, p.created_at`

func scanPayment(row rowScanner) (core.Payment, error) {
	var p core.Payment
	err := row.Scan(&p.ID, &p.LoanID, &p.Amount, &p.PaidOn, &p.ReceiptReference, &p.Notes, &p.CreatedAt)
	return p, err
}

const createPayment = `INSERT INTO payments (loan_id, amount, paid_on, receipt_reference, notes, created_at)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING id`

func (q *Queries) CreatePayment(ctx context.Context, p core.Payment) (int64, error) {
	var id int64
	err := q.queryRow(ctx, createPayment,
		p.LoanID, p.Amount, p.PaidOn, p.ReceiptReference, p.Notes, p.CreatedAt,
	).Scan(&id)
	return id, err
}

const getPayment = `SELECT ` + paymentColumns + `
FROM payments p JOIN loans l ON l.id = p.loan_id
WHERE p.id = ? AND l.owner_id = ?`

func (q *Queries) GetPayment(ctx context.Context, ownerID, id int64) (core.Payment, error) {
	return scanPayment(q.queryRow(ctx, getPayment, id, ownerID))
}

const listPayments = `SELECT ` + paymentColumns + `
FROM payments p JOIN loans l ON l.id = p.loan_id
WHERE p.loan_id = ? AND l.owner_id = ?
ORDER BY p.paid_on DESC, p.id DESC`

func (q *Queries) ListPayments(ctx context.Context, ownerID, loanID int64) ([]core.Payment, error) {
	rows, err := q.query(ctx, listPayments, loanID, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []core.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deletePayment = `DELETE FROM payments WHERE id = ?`

func (q *Queries) DeletePayment(ctx context.Context, id int64) (int64, error) {
	res, err := q.exec(ctx, deletePayment, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const credentialColumns = `id, owner_id, service, username, ciphertext, url, notes, created_at`

func scanCredential(row rowScanner) (core.Credential, error) {
	var c core.Credential
	err := row.Scan(&c.ID, &c.OwnerID, &c.Service, &c.Username, &c.Ciphertext, &c.URL, &c.Notes, &c.CreatedAt)
	return c, err
}

const createCredential = `INSERT INTO credentials (owner_id, service, username, ciphertext, url, notes, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING id`

func (q *Queries) CreateCredential(ctx context.Context, c core.Credential) (int64, error) {
	var id int64
	err := q.queryRow(ctx, createCredential,
		c.OwnerID, c.Service, c.Username, c.Ciphertext, c.URL, c.Notes, c.CreatedAt,
	).Scan(&id)
	return id, err
}

const getCredential = `SELECT ` + credentialColumns + ` FROM credentials WHERE id = ? AND owner_id = ?`

func (q *Queries) GetCredential(ctx context.Context, ownerID, id int64) (core.Credential, error) {
	return scanCredential(q.queryRow(ctx, getCredential, id, ownerID))
}

const listCredentials = `SELECT ` + credentialColumns + ` FROM credentials
WHERE owner_id = ?
ORDER BY service, id`

func (q *Queries) ListCredentials(ctx context.Context, ownerID int64) ([]core.Credential, error) {
	rows, err := q.query(ctx, listCredentials, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []core.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteCredential = `DELETE FROM credentials WHERE id = ? AND owner_id = ?`

func (q *Queries) DeleteCredential(ctx context.Context, ownerID, id int64) (int64, error) {
	res, err := q.exec(ctx, deleteCredential, id, ownerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const auditColumns = `id, event_id, event_type, loan_id, owner_id, effective_installment,
	computed_installment, difference, outstanding_balance, total_paid, tombstone,
	occurred_at, recorded_at`

func scanAudit(row rowScanner) (core.AuditEntry, error) {
	var a core.AuditEntry
	err := row.Scan(&a.ID, &a.EventID, &a.EventType, &a.LoanID, &a.OwnerID, &a.EffectiveInstallment,
		&a.ComputedInstallment, &a.Difference, &a.OutstandingBalance, &a.TotalPaid, &a.Tombstone,
		&a.OccurredAt, &a.RecordedAt)
	return a, err
}

// Redelivered events hit the unique event_id and are ignored.
const insertAudit = `INSERT INTO loan_audit (
	event_id, event_type, loan_id, owner_id, effective_installment, computed_installment,
	difference, outstanding_balance, total_paid, tombstone, occurred_at, recorded_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (event_id) DO NOTHING`

func (q *Queries) InsertAudit(ctx context.Context, a core.AuditEntry) (int64, error) {
	res, err := q.exec(ctx, insertAudit,
		a.EventID, a.EventType, a.LoanID, a.OwnerID, a.EffectiveInstallment, a.ComputedInstallment,
		a.Difference, a.OutstandingBalance, a.TotalPaid, a.Tombstone, a.OccurredAt, a.RecordedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listAudit = `SELECT ` + auditColumns + ` FROM loan_audit
WHERE loan_id = ? AND owner_id = ?
ORDER BY occurred_at DESC, id DESC`

func (q *Queries) ListAudit(ctx context.Context, ownerID, loanID int64) ([]core.AuditEntry, error) {
	rows, err := q.query(ctx, listAudit, loanID, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []core.AuditEntry
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
