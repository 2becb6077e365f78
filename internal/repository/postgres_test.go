package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Dan9191/microcredit-service/internal/models"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*Repository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db), mock, db
}

var ts = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestCreateHolder_ReturnsID(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery(`INSERT INTO credit\.holders`).
		WithArgs("alice", "a@example.com", "0888", "MW1", models.EmploymentEmployed, sqlmock.AnyArg(),
			false, false, false, 300, ts, ts).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	h := &models.Holder{
		Username: "alice", Email: "a@example.com", PhoneNumber: "0888", NationalID: "MW1",
		EmploymentStatus: models.EmploymentEmployed, CurrentScore: 300, LastScoreUpdate: ts, CreatedAt: ts,
	}
	require.NoError(t, repo.CreateHolder(context.Background(), h))
	assert.Equal(t, int64(42), h.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateHolder_DuplicateUsernameIsValidationError(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery(`INSERT INTO credit\.holders`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "holders_username_key"})

	err := repo.CreateHolder(context.Background(), &models.Holder{Username: "alice", CreatedAt: ts, LastScoreUpdate: ts})
	assert.True(t, errors.Is(err, models.ErrValidation), "got %v", err)
	assert.Contains(t, err.Error(), "already taken")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockHolders_AdvisoryLocksInOrder(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1\)`).WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1\)`).WithArgs(int64(9)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.WithTx(context.Background(), func(ctx context.Context, s Store) error {
		return s.LockHolders(ctx, []int64{9, 3})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockHolders_FailureRollsBack(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(int64(5)).WillReturnError(errors.New("canceling statement"))
	mock.ExpectRollback()

	err := repo.WithTx(context.Background(), func(ctx context.Context, s Store) error {
		return s.LockHolders(ctx, []int64{5})
	})
	assert.ErrorContains(t, err, "failed to lock holder 5")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockHolders_RequiresTransaction(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	assert.Error(t, repo.LockHolders(context.Background(), []int64{1}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetHolder_NotFound(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT .+ FROM credit\.holders WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetHolder(context.Background(), 7)
	assert.True(t, errors.Is(err, models.ErrNotFound), "got %v", err)
}

func TestGetHolder_Found(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	cols := []string{"id", "username", "email", "phone_number", "national_id", "employment_status", "monthly_income",
		"identity_verified", "address_verified", "income_verified", "current_score", "last_score_update", "created_at"}
	mock.ExpectQuery(`SELECT .+ FROM credit\.holders WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(1), "alice", "", "0888", "MW1", "student", "30000.00", true, true, false, 610, ts, ts))

	h, err := repo.GetHolder(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.EmploymentStudent, h.EmploymentStatus)
	assert.True(t, h.MonthlyIncome.Valid)
	assert.True(t, h.MonthlyIncome.Decimal.Equal(decimal.NewFromInt(30000)))
	assert.Equal(t, 610, h.CurrentScore)
	assert.False(t, h.DocumentsVerified())
}

func TestUpdateScore_MissingHolder(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE credit\.holders SET current_score = \$2`).
		WithArgs(int64(9), 500, ts).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateScore(context.Background(), 9, 500, ts)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestCreateVouch_ExistingPair(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery(`INSERT INTO credit\.vouches .+ ON CONFLICT \(voucher_id, vouchee_id\) DO NOTHING`).
		WillReturnError(sql.ErrNoRows)
	cols := []string{"id", "voucher_id", "vouchee_id", "trust_level", "relationship", "willing_to_cosign",
		"max_cosign_amount", "is_active", "vouchee_defaulted", "created_at"}
	mock.ExpectQuery(`SELECT .+ FROM credit\.vouches WHERE voucher_id = \$1 AND vouchee_id = \$2`).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(5), int64(1), int64(2), 3, "family", false, nil, true, false, ts))

	v := &models.Vouch{VoucherID: 1, VoucheeID: 2, TrustLevel: 1, Relationship: "friend", IsActive: true, CreatedAt: ts}
	created, err := repo.CreateVouch(context.Background(), v)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(5), v.ID)
	assert.Equal(t, 3, v.TrustLevel)
	assert.False(t, v.MaxCosignAmount.Valid)
}

func TestCreateVouch_New(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery(`INSERT INTO credit\.vouches`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

	v := &models.Vouch{VoucherID: 1, VoucheeID: 2, TrustLevel: 2, IsActive: true, CreatedAt: ts}
	created, err := repo.CreateVouch(context.Background(), v)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(11), v.ID)
}

func TestLastSavingsTransaction_None(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery(`FROM credit\.savings_transactions WHERE holder_id = \$1 ORDER BY id DESC LIMIT 1`).
		WithArgs(int64(3)).
		WillReturnError(sql.ErrNoRows)

	tx, err := repo.LastSavingsTransaction(context.Background(), 3)
	require.NoError(t, err)
	assert.Nil(t, tx)
}

func TestListLoansByHolder_ScansNullableDates(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	cols := []string{"id", "holder_id", "amount", "interest_rate", "duration_days", "status", "applied_at", "approved_at",
		"due_date", "paid_at", "total_amount_due", "amount_paid", "score_at_application", "hmac"}
	due := ts.AddDate(0, 0, 30)
	mock.ExpectQuery(`FROM credit\.loans WHERE holder_id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(1), int64(1), "5000", "25", 30, "active", ts, ts, due, nil, "6250", "0", 300, "sig").
			AddRow(int64(2), int64(1), "1000", "25", 30, "rejected", ts, nil, nil, nil, "1250", "0", 300, "sig"))

	loans, err := repo.ListLoansByHolder(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, loans, 2)
	assert.Equal(t, models.LoanActive, loans[0].Status)
	require.NotNil(t, loans[0].DueDate)
	assert.Equal(t, due, *loans[0].DueDate)
	assert.Nil(t, loans[0].PaidAt)
	assert.Nil(t, loans[1].ApprovedAt)
	assert.True(t, loans[0].TotalAmountDue.Equal(decimal.NewFromInt(6250)))
}

func TestMarkVoucheeDefaulted_ReturnsVouchers(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectQuery(`UPDATE credit\.vouches\s+SET vouchee_defaulted = TRUE`).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"voucher_id"}).AddRow(int64(1)).AddRow(int64(2)))

	ids, err := repo.MarkVoucheeDefaulted(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
}

func TestWithTx_CommitsAndRollsBack(t *testing.T) {
	repo, mock, _ := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE credit\.holders SET current_score`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.WithTx(context.Background(), func(ctx context.Context, s Store) error {
		return s.UpdateScore(ctx, 1, 400, ts)
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()
	boom := errors.New("boom")
	err = repo.WithTx(context.Background(), func(ctx context.Context, s Store) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_UsesEmbeddedFS(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	var gotDir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}

	require.NoError(t, RunMigrations(context.Background(), db))
	assert.Equal(t, ".", gotDir)
}
