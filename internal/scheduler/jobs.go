package scheduler

import (
	"context"
	"time"

	"github.com/Dan9191/microcredit-service/internal/config"
	"github.com/Dan9191/microcredit-service/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// LoanService is the part of the credit service the jobs drive
type LoanService interface {
	ActiveLoans(ctx context.Context) ([]models.Loan, error)
	GetHolder(ctx context.Context, id int64) (*models.Holder, error)
	MarkLoanDefaulted(ctx context.Context, loanID int64) (*models.Loan, error)
}

// ReminderSender delivers repayment reminders
type ReminderSender interface {
	SendPaymentReminder(to, username string, dueDate time.Time, remaining decimal.Decimal, daysOverdue int) error
}

// Jobs contains the logic for all scheduled tasks
type Jobs struct {
	loans  LoanService
	mail   ReminderSender
	log    *logrus.Logger
	config *config.Config
	now    func() time.Time
}

// NewJobs creates a new Jobs runner
func NewJobs(loans LoanService, mail ReminderSender, log *logrus.Logger, cfg *config.Config) *Jobs {
	return &Jobs{loans: loans, mail: mail, log: log, config: cfg, now: time.Now}
}

// SendPaymentReminders emails holders whose active loan is due soon or overdue
func (j *Jobs) SendPaymentReminders() {
	j.log.Info("Starting payment reminder job")
	ctx := context.Background()

	loans, err := j.loans.ActiveLoans(ctx)
	if err != nil {
		j.log.Errorf("Payment reminder job failed to list active loans: %v", err)
		return
	}

	now := j.now().UTC()
	sent, failed := 0, 0
	for _, l := range loans {
		if l.DueDate == nil {
			continue
		}
		daysOverdue := l.DaysOverdue(now)
		daysLeft := models.DaysBetween(now, *l.DueDate)
		if daysOverdue == 0 && daysLeft > j.config.ReminderDaysAhead {
			continue
		}

		holder, err := j.loans.GetHolder(ctx, l.HolderID)
		if err != nil {
			j.log.Errorf("Payment reminder for loan %d: %v", l.ID, err)
			failed++
			continue
		}
		if holder.Email == "" {
			continue
		}
		if err := j.mail.SendPaymentReminder(holder.Email, holder.Username, *l.DueDate, l.Remaining(), daysOverdue); err != nil {
			failed++
			continue
		}
		sent++
	}

	j.log.Infof("Payment reminder job finished: %d sent, %d failed", sent, failed)
}

// SweepDefaults marks active loans overdue beyond the grace period as defaulted.
// It is a no-op when the grace period is not positive.
func (j *Jobs) SweepDefaults() {
	grace := j.config.DefaultGraceDays
	if grace <= 0 {
		return
	}
	j.log.Info("Starting default sweep job")
	ctx := context.Background()

	loans, err := j.loans.ActiveLoans(ctx)
	if err != nil {
		j.log.Errorf("Default sweep failed to list active loans: %v", err)
		return
	}

	now := j.now().UTC()
	defaulted := 0
	for _, l := range loans {
		if l.DaysOverdue(now) <= grace {
			continue
		}
		if _, err := j.loans.MarkLoanDefaulted(ctx, l.ID); err != nil {
			j.log.Errorf("Default sweep failed for loan %d: %v", l.ID, err)
			continue
		}
		defaulted++
	}

	j.log.Infof("Default sweep finished: %d loan(s) defaulted", defaulted)
}
