package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Dan9191/microcredit-service/internal/models"
	"github.com/shopspring/decimal"
)

// RecomputePolicy controls when a bulk operation recomputes scores
type RecomputePolicy int

const (
	// RecomputeEach recomputes after every record, exactly like the single-record operations.
	RecomputeEach RecomputePolicy = iota
	// RecomputeAtEnd defers recomputation of every touched holder to Finish.
	RecomputeAtEnd
)

func (p RecomputePolicy) String() string {
	switch p {
	case RecomputeEach:
		return "each"
	case RecomputeAtEnd:
		return "at_end"
	}
	return fmt.Sprintf("RecomputePolicy(%d)", int(p))
}

// ParseRecomputePolicy parses "each" or "at_end"
func ParseRecomputePolicy(s string) (RecomputePolicy, error) {
	switch s {
	case "each":
		return RecomputeEach, nil
	case "at_end":
		return RecomputeAtEnd, nil
	}
	return 0, fmt.Errorf("%w: unknown recompute policy %q", models.ErrValidation, s)
}

// Batch applies many mutations under one RecomputePolicy. Finish must be
// called once the batch ends, even after a failed record.
type Batch struct {
	svc     *Service
	policy  RecomputePolicy
	mu      sync.Mutex
	touched map[int64]struct{}
}

// NewBatch starts a bulk operation
func (s *Service) NewBatch(policy RecomputePolicy) *Batch {
	return &Batch{svc: s, policy: policy, touched: make(map[int64]struct{})}
}

func (b *Batch) defers() bool {
	return b != nil && b.policy == RecomputeAtEnd
}

func (b *Batch) touch(holderID int64) {
	b.mu.Lock()
	b.touched[holderID] = struct{}{}
	b.mu.Unlock()
}

// OnboardHolder creates a holder within the batch
func (b *Batch) OnboardHolder(ctx context.Context, h *models.Holder) (*models.Holder, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return b.svc.onboardHolder(ctx, h, b)
}

// RecordDeposit appends a ledger entry within the batch
func (b *Batch) RecordDeposit(ctx context.Context, holderID int64, amount decimal.Decimal, txType models.TransactionType) (*models.SavingsTransaction, error) {
	return b.svc.recordDeposit(ctx, holderID, amount, txType, b)
}

// CreateVouch records a vouch within the batch
func (b *Batch) CreateVouch(ctx context.Context, v *models.Vouch) (*models.Vouch, bool, error) {
	return b.svc.createVouch(ctx, v, b)
}

// LinkVerifiedAccount links a mobile money account within the batch
func (b *Batch) LinkVerifiedAccount(ctx context.Context, holderID int64, provider models.Provider, phone string) (*models.LinkedAccount, bool, error) {
	return b.svc.linkVerifiedAccount(ctx, holderID, provider, phone, b)
}

// Finish recomputes every holder whose recomputation was deferred. It returns
// the number of holders recomputed.
func (b *Batch) Finish(ctx context.Context) (int, error) {
	b.mu.Lock()
	ids := make([]int64, 0, len(b.touched))
	for id := range b.touched {
		ids = append(ids, id)
	}
	b.touched = make(map[int64]struct{})
	b.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var errs []error
	done := 0
	for _, id := range ids {
		if _, err := b.svc.RecomputeScore(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		done++
	}
	if done > 0 {
		b.svc.log.Infof("Batch recomputed %d holder score(s)", done)
	}
	return done, errors.Join(errs...)
}
