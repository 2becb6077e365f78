package repository

import (
	"context"
	"time"

	"github.com/Dan9191/microcredit-service/internal/models"
)

// Store is the persistence contract of the credit engine. Implementations
// must make WithTx atomic: either every write inside fn is kept or none is.
type Store interface {
	CreateHolder(ctx context.Context, h *models.Holder) error
	GetHolder(ctx context.Context, id int64) (*models.Holder, error)
	UpdateVerification(ctx context.Context, id int64, v models.Verification) error
	UpdateScore(ctx context.Context, id int64, score int, at time.Time) error

	CreateLoan(ctx context.Context, l *models.Loan) error
	GetLoan(ctx context.Context, id int64) (*models.Loan, error)
	UpdateLoan(ctx context.Context, l *models.Loan) error
	ListLoansByHolder(ctx context.Context, holderID int64) ([]models.Loan, error)
	ListActiveLoans(ctx context.Context) ([]models.Loan, error)

	CreatePayment(ctx context.Context, p *models.Payment) error
	ListPaymentsByLoan(ctx context.Context, loanID int64) ([]models.Payment, error)
	ListPaymentsByHolder(ctx context.Context, holderID int64) ([]models.Payment, error)

	// CreateVouch stores v unless the ordered pair already exists, in which
	// case v is filled with the existing row and created is false.
	CreateVouch(ctx context.Context, v *models.Vouch) (created bool, err error)
	ListVouchesReceived(ctx context.Context, holderID int64) ([]models.Vouch, error)
	ListVouchesGiven(ctx context.Context, holderID int64) ([]models.Vouch, error)
	// MarkVoucheeDefaulted flags every vouch received by voucheeID and
	// returns the vouchers whose vouch was newly flagged.
	MarkVoucheeDefaulted(ctx context.Context, voucheeID int64) ([]int64, error)

	// LastSavingsTransaction returns nil when the holder has no transactions.
	LastSavingsTransaction(ctx context.Context, holderID int64) (*models.SavingsTransaction, error)
	AppendSavingsTransaction(ctx context.Context, tx *models.SavingsTransaction) error
	ListSavingsTransactions(ctx context.Context, holderID int64) ([]models.SavingsTransaction, error)

	// CreateLinkedAccount is idempotent on (holder, provider, phone hash).
	CreateLinkedAccount(ctx context.Context, a *models.LinkedAccount) (created bool, err error)
	ListLinkedAccounts(ctx context.Context, holderID int64) ([]models.LinkedAccount, error)

	WithTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error
	// LockHolders blocks until the calling transaction holds the write lock of
	// every holder in ids, in ascending order. Locks are released at commit or rollback.
	LockHolders(ctx context.Context, ids []int64) error
}
