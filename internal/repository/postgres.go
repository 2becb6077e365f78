package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Dan9191/microcredit-service/internal/models"
	"github.com/lib/pq"
)

// uniqueViolation is the SQLSTATE Postgres reports for a duplicate key
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Repository provides PostgreSQL storage for the credit engine
type Repository struct {
	db   DBTX
	conn *sql.DB // nil inside a transaction
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, conn: db}
}

type scanner interface {
	Scan(dest ...any) error
}

// WithTx runs fn inside a database transaction. Nested calls reuse the outer transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error {
	if r.conn == nil {
		return fn(ctx, r)
	}
	return withTx(ctx, r.conn, func(tx *sql.Tx) error {
		return fn(ctx, &Repository{db: tx})
	})
}

// LockHolders takes a transaction-scoped advisory lock per holder so writers in
// other processes sharing the database queue behind this transaction
func (r *Repository) LockHolders(ctx context.Context, ids []int64) error {
	if r.conn != nil {
		return errors.New("holder locks require a transaction")
	}
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, id := range sorted {
		if _, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, id); err != nil {
			return fmt.Errorf("failed to lock holder %d: %w", id, err)
		}
	}
	return nil
}

const holderColumns = `id, username, email, phone_number, national_id, employment_status, monthly_income,
		identity_verified, address_verified, income_verified, current_score, last_score_update, created_at`

func scanHolder(row scanner) (*models.Holder, error) {
	h := &models.Holder{}
	err := row.Scan(&h.ID, &h.Username, &h.Email, &h.PhoneNumber, &h.NationalID, &h.EmploymentStatus,
		&h.MonthlyIncome, &h.IdentityVerified, &h.AddressVerified, &h.IncomeVerified,
		&h.CurrentScore, &h.LastScoreUpdate, &h.CreatedAt)
	return h, err
}

// CreateHolder creates a new holder profile
func (r *Repository) CreateHolder(ctx context.Context, h *models.Holder) error {
	query := `
		INSERT INTO credit.holders (username, email, phone_number, national_id, employment_status, monthly_income,
			identity_verified, address_verified, income_verified, current_score, last_score_update, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`
	err := r.db.QueryRowContext(ctx, query, h.Username, h.Email, h.PhoneNumber, h.NationalID, h.EmploymentStatus,
		h.MonthlyIncome, h.IdentityVerified, h.AddressVerified, h.IncomeVerified,
		h.CurrentScore, h.LastScoreUpdate, h.CreatedAt).Scan(&h.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: username %q already taken", models.ErrValidation, h.Username)
	}
	if err != nil {
		return fmt.Errorf("failed to create holder: %w", err)
	}
	return nil
}

// GetHolder retrieves a holder by ID
func (r *Repository) GetHolder(ctx context.Context, id int64) (*models.Holder, error) {
	query := `SELECT ` + holderColumns + ` FROM credit.holders WHERE id = $1`
	h, err := scanHolder(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("holder %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get holder: %w", err)
	}
	return h, nil
}

// UpdateVerification stores the document verification flags
func (r *Repository) UpdateVerification(ctx context.Context, id int64, v models.Verification) error {
	query := `
		UPDATE credit.holders
		SET identity_verified = $2, address_verified = $3, income_verified = $4
		WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, v.Identity, v.Address, v.Income)
	if err != nil {
		return fmt.Errorf("failed to update verification: %w", err)
	}
	return expectOneRow(res, "holder", id)
}

// UpdateScore writes a recomputed score
func (r *Repository) UpdateScore(ctx context.Context, id int64, score int, at time.Time) error {
	query := `UPDATE credit.holders SET current_score = $2, last_score_update = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, score, at)
	if err != nil {
		return fmt.Errorf("failed to update score: %w", err)
	}
	return expectOneRow(res, "holder", id)
}

func expectOneRow(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", entity, id, models.ErrNotFound)
	}
	return nil
}

const loanColumns = `id, holder_id, amount, interest_rate, duration_days, status, applied_at, approved_at,
		due_date, paid_at, total_amount_due, amount_paid, score_at_application, hmac`

func scanLoan(row scanner) (*models.Loan, error) {
	l := &models.Loan{}
	err := row.Scan(&l.ID, &l.HolderID, &l.Amount, &l.InterestRate, &l.DurationDays, &l.Status, &l.AppliedAt,
		&l.ApprovedAt, &l.DueDate, &l.PaidAt, &l.TotalAmountDue, &l.AmountPaid, &l.ScoreAtApplication, &l.HMAC)
	return l, err
}

func (r *Repository) queryLoans(ctx context.Context, query string, args ...any) ([]models.Loan, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var loans []models.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		loans = append(loans, *l)
	}
	return loans, rows.Err()
}

// CreateLoan stores a new loan application
func (r *Repository) CreateLoan(ctx context.Context, l *models.Loan) error {
	query := `
		INSERT INTO credit.loans (holder_id, amount, interest_rate, duration_days, status, applied_at, approved_at,
			due_date, paid_at, total_amount_due, amount_paid, score_at_application, hmac)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`
	err := r.db.QueryRowContext(ctx, query, l.HolderID, l.Amount, l.InterestRate, l.DurationDays, l.Status,
		l.AppliedAt, l.ApprovedAt, l.DueDate, l.PaidAt, l.TotalAmountDue, l.AmountPaid,
		l.ScoreAtApplication, l.HMAC).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by ID
func (r *Repository) GetLoan(ctx context.Context, id int64) (*models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM credit.loans WHERE id = $1`
	l, err := scanLoan(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loan %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return l, nil
}

// UpdateLoan persists the mutable lifecycle fields of a loan. The terms are never rewritten.
func (r *Repository) UpdateLoan(ctx context.Context, l *models.Loan) error {
	query := `
		UPDATE credit.loans
		SET status = $2, approved_at = $3, due_date = $4, paid_at = $5, amount_paid = $6, hmac = $7
		WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, l.ID, l.Status, l.ApprovedAt, l.DueDate, l.PaidAt, l.AmountPaid, l.HMAC)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	return expectOneRow(res, "loan", l.ID)
}

// ListLoansByHolder returns a holder's loans, newest application first
func (r *Repository) ListLoansByHolder(ctx context.Context, holderID int64) ([]models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM credit.loans WHERE holder_id = $1 ORDER BY applied_at DESC, id DESC`
	return r.queryLoans(ctx, query, holderID)
}

// ListActiveLoans returns every active loan, earliest due first
func (r *Repository) ListActiveLoans(ctx context.Context) ([]models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM credit.loans WHERE status = $1 ORDER BY due_date, id`
	return r.queryLoans(ctx, query, models.LoanActive)
}

const paymentColumns = `p.id, p.loan_id, p.amount, p.method, p.was_on_time, p.days_from_due, p.reference, p.paid_at`

func (r *Repository) queryPayments(ctx context.Context, query string, args ...any) ([]models.Payment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.LoanID, &p.Amount, &p.Method, &p.WasOnTime, &p.DaysFromDue,
			&p.Reference, &p.PaidAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// CreatePayment stores a repayment
func (r *Repository) CreatePayment(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO credit.payments (loan_id, amount, method, was_on_time, days_from_due, reference, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	err := r.db.QueryRowContext(ctx, query, p.LoanID, p.Amount, p.Method, p.WasOnTime, p.DaysFromDue,
		p.Reference, p.PaidAt).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// ListPaymentsByLoan returns a loan's payments, newest first
func (r *Repository) ListPaymentsByLoan(ctx context.Context, loanID int64) ([]models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM credit.payments p WHERE p.loan_id = $1 ORDER BY p.paid_at DESC, p.id DESC`
	return r.queryPayments(ctx, query, loanID)
}

// ListPaymentsByHolder returns every payment on any of the holder's loans
func (r *Repository) ListPaymentsByHolder(ctx context.Context, holderID int64) ([]models.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM credit.payments p
		JOIN credit.loans l ON l.id = p.loan_id
		WHERE l.holder_id = $1
		ORDER BY p.id`
	return r.queryPayments(ctx, query, holderID)
}

const vouchColumns = `id, voucher_id, vouchee_id, trust_level, relationship, willing_to_cosign, max_cosign_amount,
		is_active, vouchee_defaulted, created_at`

func scanVouch(row scanner, v *models.Vouch) error {
	return row.Scan(&v.ID, &v.VoucherID, &v.VoucheeID, &v.TrustLevel, &v.Relationship, &v.WillingToCosign,
		&v.MaxCosignAmount, &v.IsActive, &v.VoucheeDefaulted, &v.CreatedAt)
}

func (r *Repository) queryVouches(ctx context.Context, query string, args ...any) ([]models.Vouch, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list vouches: %w", err)
	}
	defer rows.Close()

	var vouches []models.Vouch
	for rows.Next() {
		var v models.Vouch
		if err := scanVouch(rows, &v); err != nil {
			return nil, fmt.Errorf("failed to scan vouch: %w", err)
		}
		vouches = append(vouches, v)
	}
	return vouches, rows.Err()
}

// CreateVouch inserts a vouch unless the ordered pair already exists
func (r *Repository) CreateVouch(ctx context.Context, v *models.Vouch) (bool, error) {
	query := `
		INSERT INTO credit.vouches (voucher_id, vouchee_id, trust_level, relationship, willing_to_cosign,
			max_cosign_amount, is_active, vouchee_defaulted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (voucher_id, vouchee_id) DO NOTHING
		RETURNING id`
	err := r.db.QueryRowContext(ctx, query, v.VoucherID, v.VoucheeID, v.TrustLevel, v.Relationship,
		v.WillingToCosign, v.MaxCosignAmount, v.IsActive, v.VoucheeDefaulted, v.CreatedAt).Scan(&v.ID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to create vouch: %w", err)
	}

	existing := `SELECT ` + vouchColumns + ` FROM credit.vouches WHERE voucher_id = $1 AND vouchee_id = $2`
	if err := scanVouch(r.db.QueryRowContext(ctx, existing, v.VoucherID, v.VoucheeID), v); err != nil {
		return false, fmt.Errorf("failed to load existing vouch: %w", err)
	}
	return false, nil
}

// ListVouchesReceived returns vouches where the holder is the vouchee
func (r *Repository) ListVouchesReceived(ctx context.Context, holderID int64) ([]models.Vouch, error) {
	query := `SELECT ` + vouchColumns + ` FROM credit.vouches WHERE vouchee_id = $1 ORDER BY id`
	return r.queryVouches(ctx, query, holderID)
}

// ListVouchesGiven returns vouches where the holder is the voucher
func (r *Repository) ListVouchesGiven(ctx context.Context, holderID int64) ([]models.Vouch, error) {
	query := `SELECT ` + vouchColumns + ` FROM credit.vouches WHERE voucher_id = $1 ORDER BY id`
	return r.queryVouches(ctx, query, holderID)
}

// MarkVoucheeDefaulted flags vouches received by a defaulted holder
func (r *Repository) MarkVoucheeDefaulted(ctx context.Context, voucheeID int64) ([]int64, error) {
	query := `
		UPDATE credit.vouches
		SET vouchee_defaulted = TRUE
		WHERE vouchee_id = $1 AND NOT vouchee_defaulted
		RETURNING voucher_id`
	rows, err := r.db.QueryContext(ctx, query, voucheeID)
	if err != nil {
		return nil, fmt.Errorf("failed to flag vouches: %w", err)
	}
	defer rows.Close()

	var vouchers []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan voucher id: %w", err)
		}
		vouchers = append(vouchers, id)
	}
	return vouchers, rows.Err()
}

const savingsColumns = `id, holder_id, amount, type, balance_after, created_at`

func scanSavings(row scanner) (*models.SavingsTransaction, error) {
	tx := &models.SavingsTransaction{}
	err := row.Scan(&tx.ID, &tx.HolderID, &tx.Amount, &tx.Type, &tx.BalanceAfter, &tx.CreatedAt)
	return tx, err
}

// LastSavingsTransaction returns the holder's most recent ledger entry, or nil
func (r *Repository) LastSavingsTransaction(ctx context.Context, holderID int64) (*models.SavingsTransaction, error) {
	query := `SELECT ` + savingsColumns + ` FROM credit.savings_transactions WHERE holder_id = $1 ORDER BY id DESC LIMIT 1`
	tx, err := scanSavings(r.db.QueryRowContext(ctx, query, holderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last savings transaction: %w", err)
	}
	return tx, nil
}

// AppendSavingsTransaction appends a ledger entry
func (r *Repository) AppendSavingsTransaction(ctx context.Context, tx *models.SavingsTransaction) error {
	query := `
		INSERT INTO credit.savings_transactions (holder_id, amount, type, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	err := r.db.QueryRowContext(ctx, query, tx.HolderID, tx.Amount, tx.Type, tx.BalanceAfter, tx.CreatedAt).Scan(&tx.ID)
	if err != nil {
		return fmt.Errorf("failed to append savings transaction: %w", err)
	}
	return nil
}

// ListSavingsTransactions returns a holder's ledger in append order
func (r *Repository) ListSavingsTransactions(ctx context.Context, holderID int64) ([]models.SavingsTransaction, error) {
	query := `SELECT ` + savingsColumns + ` FROM credit.savings_transactions WHERE holder_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, holderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list savings transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.SavingsTransaction
	for rows.Next() {
		tx, err := scanSavings(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan savings transaction: %w", err)
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

const linkedAccountColumns = `id, holder_id, provider, phone_cipher, phone_hash, is_verified, verified_at, created_at`

func scanLinkedAccount(row scanner, a *models.LinkedAccount) error {
	return row.Scan(&a.ID, &a.HolderID, &a.Provider, &a.PhoneCipher, &a.PhoneHash, &a.IsVerified,
		&a.VerifiedAt, &a.CreatedAt)
}

// CreateLinkedAccount links a mobile money account unless it is already linked
func (r *Repository) CreateLinkedAccount(ctx context.Context, a *models.LinkedAccount) (bool, error) {
	query := `
		INSERT INTO credit.linked_accounts (holder_id, provider, phone_cipher, phone_hash, is_verified, verified_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (holder_id, provider, phone_hash) DO NOTHING
		RETURNING id`
	err := r.db.QueryRowContext(ctx, query, a.HolderID, a.Provider, a.PhoneCipher, a.PhoneHash, a.IsVerified,
		a.VerifiedAt, a.CreatedAt).Scan(&a.ID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to create linked account: %w", err)
	}

	existing := `SELECT ` + linkedAccountColumns + `
		FROM credit.linked_accounts WHERE holder_id = $1 AND provider = $2 AND phone_hash = $3`
	if err := scanLinkedAccount(r.db.QueryRowContext(ctx, existing, a.HolderID, a.Provider, a.PhoneHash), a); err != nil {
		return false, fmt.Errorf("failed to load existing linked account: %w", err)
	}
	return false, nil
}

// ListLinkedAccounts returns a holder's linked mobile money accounts
func (r *Repository) ListLinkedAccounts(ctx context.Context, holderID int64) ([]models.LinkedAccount, error) {
	query := `SELECT ` + linkedAccountColumns + ` FROM credit.linked_accounts WHERE holder_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, holderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.LinkedAccount
	for rows.Next() {
		var a models.LinkedAccount
		if err := scanLinkedAccount(rows, &a); err != nil {
			return nil, fmt.Errorf("failed to scan linked account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
