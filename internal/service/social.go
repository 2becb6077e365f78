package service

import (
	"context"
	"fmt"

	"github.com/Dan9191/microcredit-service/internal/models"
	"github.com/Dan9191/microcredit-service/internal/repository"
	"github.com/Dan9191/microcredit-service/internal/utils"
)

// CreateVouch records one holder vouching for another. A repeated pair is
// reported with created=false and changes nothing.
func (s *Service) CreateVouch(ctx context.Context, v *models.Vouch) (*models.Vouch, bool, error) {
	return s.createVouch(ctx, v, nil)
}

func (s *Service) createVouch(ctx context.Context, v *models.Vouch, b *Batch) (*models.Vouch, bool, error) {
	if err := v.Validate(); err != nil {
		return nil, false, err
	}
	v.IsActive = true
	v.VoucheeDefaulted = false
	v.CreatedAt = s.clock()

	var created bool
	err := s.mutate(ctx, []int64{v.VoucheeID}, func(ctx context.Context, st repository.Store, ob *outbox) error {
		for _, id := range []int64{v.VoucherID, v.VoucheeID} {
			if _, err := st.GetHolder(ctx, id); err != nil {
				return err
			}
		}
		var err error
		if created, err = st.CreateVouch(ctx, v); err != nil {
			return err
		}
		if !created {
			return nil
		}
		return s.afterMutation(ctx, st, v.VoucheeID, ob, b)
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.log.Infof("Holder %d vouched for holder %d (trust %d)", v.VoucherID, v.VoucheeID, v.TrustLevel)
	} else {
		s.log.Infof("Vouch from holder %d to holder %d already exists", v.VoucherID, v.VoucheeID)
	}
	return v, created, nil
}

// ListVouches returns the active vouches a holder received and gave
func (s *Service) ListVouches(ctx context.Context, holderID int64) (*models.VouchList, error) {
	if _, err := s.store.GetHolder(ctx, holderID); err != nil {
		return nil, err
	}
	received, err := s.store.ListVouchesReceived(ctx, holderID)
	if err != nil {
		return nil, err
	}
	given, err := s.store.ListVouchesGiven(ctx, holderID)
	if err != nil {
		return nil, err
	}
	return &models.VouchList{Received: activeOnly(received), Given: activeOnly(given)}, nil
}

func activeOnly(vouches []models.Vouch) []models.Vouch {
	out := make([]models.Vouch, 0, len(vouches))
	for _, v := range vouches {
		if v.IsActive {
			out = append(out, v)
		}
	}
	return out
}

// FlagVoucheeDefault marks every vouch received by a holder with a defaulted
// loan and recomputes the score of each voucher it penalizes. It returns the
// penalized vouchers.
func (s *Service) FlagVoucheeDefault(ctx context.Context, voucheeID int64) ([]int64, error) {
	received, err := s.store.ListVouchesReceived(ctx, voucheeID)
	if err != nil {
		return nil, err
	}
	ids := []int64{voucheeID}
	for _, v := range received {
		ids = append(ids, v.VoucherID)
	}

	var vouchers []int64
	err = s.mutate(ctx, ids, func(ctx context.Context, st repository.Store, ob *outbox) error {
		if _, err := st.GetHolder(ctx, voucheeID); err != nil {
			return err
		}
		loans, err := st.ListLoansByHolder(ctx, voucheeID)
		if err != nil {
			return err
		}
		if !hasDefault(loans) {
			return fmt.Errorf("%w: holder %d has no defaulted loan", models.ErrStateConflict, voucheeID)
		}

		if vouchers, err = st.MarkVoucheeDefaulted(ctx, voucheeID); err != nil {
			return err
		}
		for _, id := range vouchers {
			if !contains(ids, id) {
				return fmt.Errorf("%w: vouches for holder %d changed concurrently", models.ErrStateConflict, voucheeID)
			}
			if _, err := s.recompute(ctx, st, id, ob); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("Vouchee default flagged for holder %d, %d voucher(s) penalized", voucheeID, len(vouchers))
	return vouchers, nil
}

func hasDefault(loans []models.Loan) bool {
	for _, l := range loans {
		if l.Status == models.LoanDefaulted {
			return true
		}
	}
	return false
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// LinkVerifiedAccount links a verified mobile money account. The phone number
// is stored encrypted; repeated links of the same number are reported with created=false.
func (s *Service) LinkVerifiedAccount(ctx context.Context, holderID int64, provider models.Provider, phone string) (*models.LinkedAccount, bool, error) {
	return s.linkVerifiedAccount(ctx, holderID, provider, phone, nil)
}

func (s *Service) linkVerifiedAccount(ctx context.Context, holderID int64, provider models.Provider, phone string, b *Batch) (*models.LinkedAccount, bool, error) {
	if !provider.Valid() {
		return nil, false, fmt.Errorf("%w: unknown provider %q", models.ErrValidation, provider)
	}
	phone = utils.NormalizePhone(phone)
	if phone == "" {
		return nil, false, fmt.Errorf("%w: phone number is required", models.ErrValidation)
	}

	cipher, err := utils.Encrypt(phone, s.config.EncryptionKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encrypt phone number: %w", err)
	}
	now := s.clock()
	account := &models.LinkedAccount{
		HolderID:    holderID,
		Provider:    provider,
		PhoneCipher: cipher,
		PhoneHash:   utils.PhoneHash(phone, s.config.HMACSecret),
		IsVerified:  true,
		VerifiedAt:  &now,
		CreatedAt:   now,
	}

	var created bool
	err = s.mutate(ctx, []int64{holderID}, func(ctx context.Context, st repository.Store, ob *outbox) error {
		if _, err := st.GetHolder(ctx, holderID); err != nil {
			return err
		}
		var err error
		if created, err = st.CreateLinkedAccount(ctx, account); err != nil {
			return err
		}
		if !created {
			return nil
		}
		return s.afterMutation(ctx, st, holderID, ob, b)
	})
	if err != nil {
		return nil, false, err
	}

	if account.PhoneNumber, err = utils.Decrypt(account.PhoneCipher, s.config.EncryptionKey); err != nil {
		return nil, false, fmt.Errorf("failed to decrypt phone number: %w", err)
	}
	if created {
		s.log.Infof("Linked %s account for holder %d", provider, holderID)
	} else {
		s.log.Infof("%s account already linked for holder %d", provider, holderID)
	}
	return account, created, nil
}
