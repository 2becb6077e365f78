package service

import (
	"context"
	"fmt"

	"github.com/Dan9191/microcredit-service/internal/models"
	"github.com/Dan9191/microcredit-service/internal/repository"
	"github.com/Dan9191/microcredit-service/internal/scoring"
	"github.com/shopspring/decimal"
)

// RecordDeposit appends a savings ledger entry chained on the holder's previous balance
func (s *Service) RecordDeposit(ctx context.Context, holderID int64, amount decimal.Decimal, txType models.TransactionType) (*models.SavingsTransaction, error) {
	return s.recordDeposit(ctx, holderID, amount, txType, nil)
}

func (s *Service) recordDeposit(ctx context.Context, holderID int64, amount decimal.Decimal, txType models.TransactionType, b *Batch) (*models.SavingsTransaction, error) {
	if err := models.ValidateAmount(txType, amount); err != nil {
		return nil, err
	}

	var tx *models.SavingsTransaction
	err := s.mutate(ctx, []int64{holderID}, func(ctx context.Context, st repository.Store, ob *outbox) error {
		if _, err := st.GetHolder(ctx, holderID); err != nil {
			return err
		}
		last, err := st.LastSavingsTransaction(ctx, holderID)
		if err != nil {
			return err
		}
		balance := decimal.Zero
		if last != nil {
			balance = last.BalanceAfter
		}

		after := balance.Add(amount)
		if after.IsNegative() {
			return fmt.Errorf("%w: deduction of %s exceeds savings balance %s", models.ErrValidation, amount.Neg(), balance)
		}

		tx = &models.SavingsTransaction{
			HolderID:     holderID,
			Amount:       amount,
			Type:         txType,
			BalanceAfter: after,
			CreatedAt:    s.clock(),
		}
		if err := st.AppendSavingsTransaction(ctx, tx); err != nil {
			return err
		}
		return s.afterMutation(ctx, st, holderID, ob, b)
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("Savings %s of %s recorded for holder %d, balance %s", txType, amount, holderID, tx.BalanceAfter)
	return tx, nil
}

// CurrentBalance returns the latest running balance, or zero for an empty ledger
func (s *Service) CurrentBalance(ctx context.Context, holderID int64) (decimal.Decimal, error) {
	if _, err := s.store.GetHolder(ctx, holderID); err != nil {
		return decimal.Zero, err
	}
	last, err := s.store.LastSavingsTransaction(ctx, holderID)
	if err != nil {
		return decimal.Zero, err
	}
	if last == nil {
		return decimal.Zero, nil
	}
	return last.BalanceAfter, nil
}

// SavingsHistory returns the holder's ledger, newest first, with totals
func (s *Service) SavingsHistory(ctx context.Context, holderID int64) (*models.SavingsSummary, error) {
	if _, err := s.store.GetHolder(ctx, holderID); err != nil {
		return nil, err
	}
	txs, err := s.store.ListSavingsTransactions(ctx, holderID)
	if err != nil {
		return nil, err
	}

	summary := &models.SavingsSummary{
		Transactions:   make([]models.SavingsTransaction, 0, len(txs)),
		TotalDeposits:  scoring.LifetimeDeposits(txs),
		CurrentBalance: decimal.Zero,
	}
	if len(txs) > 0 {
		summary.CurrentBalance = txs[len(txs)-1].BalanceAfter
	}
	for i := len(txs) - 1; i >= 0; i-- {
		summary.Transactions = append(summary.Transactions, txs[i])
	}
	return summary, nil
}
