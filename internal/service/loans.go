package service

import (
	"context"
	"fmt"

	"github.com/Dan9191/microcredit-service/internal/approval"
	"github.com/Dan9191/microcredit-service/internal/events"
	"github.com/Dan9191/microcredit-service/internal/models"
	"github.com/Dan9191/microcredit-service/internal/repository"
	"github.com/Dan9191/microcredit-service/internal/scoring"
	"github.com/Dan9191/microcredit-service/internal/utils"
	"github.com/shopspring/decimal"
)

func termsOf(l *models.Loan) utils.LoanTerms {
	return utils.LoanTerms{
		HolderID:     l.HolderID,
		Amount:       l.Amount,
		InterestRate: l.InterestRate,
		DurationDays: l.DurationDays,
		TotalDue:     l.TotalAmountDue,
		AppliedAt:    l.AppliedAt,
	}
}

func (s *Service) verifyTerms(l *models.Loan) error {
	if !utils.VerifyLoanTerms(termsOf(l), l.HMAC, s.config.HMACSecret) {
		return fmt.Errorf("loan %d: %w", l.ID, models.ErrIntegrity)
	}
	return nil
}

func (s *Service) evaluate(ctx context.Context, st repository.Store, holderID int64, amount decimal.Decimal, ob *outbox) (approval.Decision, *models.Holder, error) {
	b, err := s.recompute(ctx, st, holderID, ob)
	if err != nil {
		return approval.Decision{}, nil, err
	}
	holder, err := st.GetHolder(ctx, holderID)
	if err != nil {
		return approval.Decision{}, nil, err
	}
	loans, err := st.ListLoansByHolder(ctx, holderID)
	if err != nil {
		return approval.Decision{}, nil, err
	}
	return approval.Evaluate(approval.Request{
		Holder:          *holder,
		Loans:           loans,
		Score:           b.Score,
		RequestedAmount: amount,
		Now:             s.clock(),
	}), holder, nil
}

// EvaluateApplication reports what an application for amount would be decided as, without creating a loan
func (s *Service) EvaluateApplication(ctx context.Context, holderID int64, amount decimal.Decimal) (approval.Decision, error) {
	if !amount.IsPositive() {
		return approval.Decision{}, fmt.Errorf("%w: loan amount must be positive", models.ErrValidation)
	}
	if err := models.ValidateMoney("loan amount", amount); err != nil {
		return approval.Decision{}, err
	}

	var decision approval.Decision
	err := s.mutate(ctx, []int64{holderID}, func(ctx context.Context, st repository.Store, ob *outbox) error {
		var err error
		decision, _, err = s.evaluate(ctx, st, holderID, amount, ob)
		return err
	})
	return decision, err
}

// ApplyForLoan evaluates an application and records it. Approved loans are
// disbursed immediately; denied ones are kept as rejected.
func (s *Service) ApplyForLoan(ctx context.Context, holderID int64, amount decimal.Decimal, durationDays int) (*models.Loan, approval.Decision, error) {
	if !amount.IsPositive() {
		return nil, approval.Decision{}, fmt.Errorf("%w: loan amount must be positive", models.ErrValidation)
	}
	if err := models.ValidateMoney("loan amount", amount); err != nil {
		return nil, approval.Decision{}, err
	}
	if durationDays <= 0 {
		return nil, approval.Decision{}, fmt.Errorf("%w: duration must be a positive number of days", models.ErrValidation)
	}

	var (
		loan     *models.Loan
		decision approval.Decision
	)
	err := s.mutate(ctx, []int64{holderID}, func(ctx context.Context, st repository.Store, ob *outbox) error {
		var (
			holder *models.Holder
			err    error
		)
		decision, holder, err = s.evaluate(ctx, st, holderID, amount, ob)
		if err != nil {
			return err
		}

		now := s.clock()
		rate := scoring.InterestRate(decision.Score)
		if decision.InterestRate.Valid {
			rate = decision.InterestRate.Decimal
		}
		loan, err = models.NewLoan(holderID, amount, rate, durationDays, decision.Score, now)
		if err != nil {
			return err
		}
		loan.HMAC = utils.SignLoanTerms(termsOf(loan), s.config.HMACSecret)

		if decision.Approved {
			if err := loan.Approve(now); err != nil {
				return err
			}
			if err := loan.Activate(); err != nil {
				return err
			}
		} else if err := loan.Reject(); err != nil {
			return err
		}

		if err := st.CreateLoan(ctx, loan); err != nil {
			return err
		}
		if _, err := s.recompute(ctx, st, holderID, ob); err != nil {
			return err
		}

		ob.publish(events.KeyLoanDecided, events.LoanDecided{
			HolderID:     holderID,
			LoanID:       loan.ID,
			Approved:     decision.Approved,
			Reason:       decision.Reason,
			Score:        decision.Score,
			Amount:       amount,
			InterestRate: decision.InterestRate,
			Timestamp:    now,
		})
		if holder.Email != "" {
			to, name, message := holder.Email, holder.Username, decision.Message
			if !decision.Approved {
				message = decision.Reason
			}
			ob.onCommit(func() {
				if err := s.notifier.SendLoanDecision(to, name, decision.Approved, message, amount); err != nil {
					s.log.Warnf("Failed to notify holder %d of loan decision: %v", holderID, err)
				}
			})
		}
		return nil
	})
	if err != nil {
		return nil, approval.Decision{}, err
	}

	if decision.Approved {
		s.log.Infof("Loan %d approved for holder %d: %s at %s%%", loan.ID, holderID, amount, loan.InterestRate)
	} else {
		s.log.Infof("Loan application %d rejected for holder %d: %s", loan.ID, holderID, decision.Reason)
	}
	return loan, decision, nil
}

func (s *Service) loanHolder(ctx context.Context, loanID int64) (int64, error) {
	l, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return 0, err
	}
	return l.HolderID, nil
}

// RecordPayment applies a repayment to an active loan
func (s *Service) RecordPayment(ctx context.Context, loanID int64, amount decimal.Decimal, method models.PaymentMethod, reference string) (*models.Payment, *models.Loan, error) {
	holderID, err := s.loanHolder(ctx, loanID)
	if err != nil {
		return nil, nil, err
	}

	var (
		payment *models.Payment
		loan    *models.Loan
	)
	err = s.mutate(ctx, []int64{holderID}, func(ctx context.Context, st repository.Store, ob *outbox) error {
		var err error
		if loan, err = st.GetLoan(ctx, loanID); err != nil {
			return err
		}
		if err := s.verifyTerms(loan); err != nil {
			return err
		}
		if payment, err = loan.ApplyPayment(amount, method, reference, s.clock()); err != nil {
			return err
		}
		if err := st.CreatePayment(ctx, payment); err != nil {
			return err
		}
		if err := st.UpdateLoan(ctx, loan); err != nil {
			return err
		}
		if _, err := s.recompute(ctx, st, holderID, ob); err != nil {
			return err
		}

		ob.publish(events.KeyPaymentRecorded, events.PaymentRecorded{
			HolderID:   holderID,
			LoanID:     loan.ID,
			PaymentID:  payment.ID,
			Amount:     payment.Amount,
			WasOnTime:  payment.WasOnTime,
			AmountPaid: loan.AmountPaid,
			LoanStatus: string(loan.Status),
			Timestamp:  payment.PaidAt,
		})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Infof("Payment of %s recorded on loan %d (on time: %t, status: %s)", amount, loanID, payment.WasOnTime, loan.Status)
	return payment, loan, nil
}

// MarkLoanDefaulted records that an active loan will not be repaid. Vouches
// backing the holder are left untouched; see FlagVoucheeDefault.
func (s *Service) MarkLoanDefaulted(ctx context.Context, loanID int64) (*models.Loan, error) {
	holderID, err := s.loanHolder(ctx, loanID)
	if err != nil {
		return nil, err
	}

	var loan *models.Loan
	err = s.mutate(ctx, []int64{holderID}, func(ctx context.Context, st repository.Store, ob *outbox) error {
		var err error
		if loan, err = st.GetLoan(ctx, loanID); err != nil {
			return err
		}
		if err := loan.MarkDefaulted(); err != nil {
			return err
		}
		if err := st.UpdateLoan(ctx, loan); err != nil {
			return err
		}
		if _, err := s.recompute(ctx, st, holderID, ob); err != nil {
			return err
		}

		ob.publish(events.KeyLoanDefaulted, events.LoanDefaulted{
			HolderID:  holderID,
			LoanID:    loan.ID,
			Remaining: loan.Remaining(),
			Timestamp: s.clock(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("Loan %d marked defaulted for holder %d", loanID, holderID)
	return loan, nil
}

// LoanHistory returns every loan of the holder with aggregate stats
func (s *Service) LoanHistory(ctx context.Context, holderID int64) (*models.LoanHistory, error) {
	if _, err := s.store.GetHolder(ctx, holderID); err != nil {
		return nil, err
	}
	loans, err := s.store.ListLoansByHolder(ctx, holderID)
	if err != nil {
		return nil, err
	}
	return &models.LoanHistory{Loans: loans, Stats: models.NewLoanStats(loans)}, nil
}

// LoanDetail returns a loan with its payments and repayment position
func (s *Service) LoanDetail(ctx context.Context, loanID int64) (*models.LoanDetail, error) {
	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	payments, err := s.store.ListPaymentsByLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	return &models.LoanDetail{
		Loan:        *loan,
		Payments:    payments,
		Remaining:   loan.Remaining(),
		IsOverdue:   loan.IsOverdue(now),
		DaysOverdue: loan.DaysOverdue(now),
	}, nil
}

// ActiveLoans returns every active loan, earliest due first
func (s *Service) ActiveLoans(ctx context.Context) ([]models.Loan, error) {
	return s.store.ListActiveLoans(ctx)
}
