package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Dan9191/microcredit-service/internal/models"
)

// MemoryStore is a process-local Store used by tests and STORAGE=memory.
// Transactions are serialized and rolled back by restoring a snapshot.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data memoryData
}

type memoryData struct {
	seq      int64
	holders  map[int64]models.Holder
	loans    map[int64]models.Loan
	payments []models.Payment
	vouches  []models.Vouch
	savings  []models.SavingsTransaction
	accounts []models.LinkedAccount
}

func (d memoryData) clone() memoryData {
	c := memoryData{
		seq:      d.seq,
		holders:  make(map[int64]models.Holder, len(d.holders)),
		loans:    make(map[int64]models.Loan, len(d.loans)),
		payments: append([]models.Payment(nil), d.payments...),
		vouches:  append([]models.Vouch(nil), d.vouches...),
		savings:  append([]models.SavingsTransaction(nil), d.savings...),
		accounts: append([]models.LinkedAccount(nil), d.accounts...),
	}
	for k, v := range d.holders {
		c.holders[k] = v
	}
	for k, v := range d.loans {
		c.loans[k] = v
	}
	return c
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: memoryData{
		holders: make(map[int64]models.Holder),
		loans:   make(map[int64]models.Loan),
	}}
}

func (m *MemoryStore) nextID() int64 {
	m.data.seq++
	return m.data.seq
}

// memoryTx is the Store handed to a WithTx callback; nested WithTx calls join it.
type memoryTx struct {
	*MemoryStore
}

func (t memoryTx) WithTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error {
	return fn(ctx, t)
}

// WithTx runs fn with exclusive write access and restores the previous state if fn fails
func (m *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, s Store) error) (err error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	snapshot := m.data.clone()
	m.mu.RUnlock()

	defer func() {
		if p := recover(); p != nil {
			m.restore(snapshot)
			panic(p)
		}
		if err != nil {
			m.restore(snapshot)
		}
	}()
	return fn(ctx, memoryTx{m})
}

// LockHolders is a no-op: WithTx already runs one transaction at a time
func (m *MemoryStore) LockHolders(context.Context, []int64) error {
	return nil
}

func (m *MemoryStore) restore(snapshot memoryData) {
	m.mu.Lock()
	m.data = snapshot
	m.mu.Unlock()
}

func (m *MemoryStore) CreateHolder(_ context.Context, h *models.Holder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.data.holders {
		if existing.Username == h.Username {
			return fmt.Errorf("%w: username %q already taken", models.ErrValidation, h.Username)
		}
	}
	h.ID = m.nextID()
	m.data.holders[h.ID] = *h
	return nil
}

func (m *MemoryStore) GetHolder(_ context.Context, id int64) (*models.Holder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.data.holders[id]
	if !ok {
		return nil, fmt.Errorf("holder %d: %w", id, models.ErrNotFound)
	}
	return &h, nil
}

func (m *MemoryStore) UpdateVerification(_ context.Context, id int64, v models.Verification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.data.holders[id]
	if !ok {
		return fmt.Errorf("holder %d: %w", id, models.ErrNotFound)
	}
	h.IdentityVerified, h.AddressVerified, h.IncomeVerified = v.Identity, v.Address, v.Income
	m.data.holders[id] = h
	return nil
}

func (m *MemoryStore) UpdateScore(_ context.Context, id int64, score int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.data.holders[id]
	if !ok {
		return fmt.Errorf("holder %d: %w", id, models.ErrNotFound)
	}
	h.CurrentScore, h.LastScoreUpdate = score, at
	m.data.holders[id] = h
	return nil
}

func (m *MemoryStore) CreateLoan(_ context.Context, l *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data.holders[l.HolderID]; !ok {
		return fmt.Errorf("holder %d: %w", l.HolderID, models.ErrNotFound)
	}
	l.ID = m.nextID()
	m.data.loans[l.ID] = *l
	return nil
}

func (m *MemoryStore) GetLoan(_ context.Context, id int64) (*models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.data.loans[id]
	if !ok {
		return nil, fmt.Errorf("loan %d: %w", id, models.ErrNotFound)
	}
	return &l, nil
}

func (m *MemoryStore) UpdateLoan(_ context.Context, l *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.data.loans[l.ID]
	if !ok {
		return fmt.Errorf("loan %d: %w", l.ID, models.ErrNotFound)
	}
	stored.Status, stored.ApprovedAt, stored.DueDate, stored.PaidAt = l.Status, l.ApprovedAt, l.DueDate, l.PaidAt
	stored.AmountPaid, stored.HMAC = l.AmountPaid, l.HMAC
	m.data.loans[l.ID] = stored
	return nil
}

func (m *MemoryStore) filterLoans(keep func(models.Loan) bool) []models.Loan {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Loan
	for _, l := range m.data.loans {
		if keep(l) {
			out = append(out, l)
		}
	}
	return out
}

func (m *MemoryStore) ListLoansByHolder(_ context.Context, holderID int64) ([]models.Loan, error) {
	loans := m.filterLoans(func(l models.Loan) bool { return l.HolderID == holderID })
	sort.Slice(loans, func(i, j int) bool {
		if !loans[i].AppliedAt.Equal(loans[j].AppliedAt) {
			return loans[i].AppliedAt.After(loans[j].AppliedAt)
		}
		return loans[i].ID > loans[j].ID
	})
	return loans, nil
}

func (m *MemoryStore) ListActiveLoans(_ context.Context) ([]models.Loan, error) {
	loans := m.filterLoans(func(l models.Loan) bool { return l.Status == models.LoanActive })
	sort.Slice(loans, func(i, j int) bool {
		if loans[i].DueDate != nil && loans[j].DueDate != nil && !loans[i].DueDate.Equal(*loans[j].DueDate) {
			return loans[i].DueDate.Before(*loans[j].DueDate)
		}
		return loans[i].ID < loans[j].ID
	})
	return loans, nil
}

func (m *MemoryStore) CreatePayment(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data.loans[p.LoanID]; !ok {
		return fmt.Errorf("loan %d: %w", p.LoanID, models.ErrNotFound)
	}
	p.ID = m.nextID()
	m.data.payments = append(m.data.payments, *p)
	return nil
}

func (m *MemoryStore) ListPaymentsByLoan(_ context.Context, loanID int64) ([]models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Payment
	for i := len(m.data.payments) - 1; i >= 0; i-- {
		if m.data.payments[i].LoanID == loanID {
			out = append(out, m.data.payments[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) ListPaymentsByHolder(_ context.Context, holderID int64) ([]models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Payment
	for _, p := range m.data.payments {
		if l, ok := m.data.loans[p.LoanID]; ok && l.HolderID == holderID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateVouch(_ context.Context, v *models.Vouch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.data.vouches {
		if existing.VoucherID == v.VoucherID && existing.VoucheeID == v.VoucheeID {
			*v = existing
			return false, nil
		}
	}
	for _, id := range []int64{v.VoucherID, v.VoucheeID} {
		if _, ok := m.data.holders[id]; !ok {
			return false, fmt.Errorf("holder %d: %w", id, models.ErrNotFound)
		}
	}
	v.ID = m.nextID()
	m.data.vouches = append(m.data.vouches, *v)
	return true, nil
}

func (m *MemoryStore) filterVouches(keep func(models.Vouch) bool) []models.Vouch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Vouch
	for _, v := range m.data.vouches {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func (m *MemoryStore) ListVouchesReceived(_ context.Context, holderID int64) ([]models.Vouch, error) {
	return m.filterVouches(func(v models.Vouch) bool { return v.VoucheeID == holderID }), nil
}

func (m *MemoryStore) ListVouchesGiven(_ context.Context, holderID int64) ([]models.Vouch, error) {
	return m.filterVouches(func(v models.Vouch) bool { return v.VoucherID == holderID }), nil
}

func (m *MemoryStore) MarkVoucheeDefaulted(_ context.Context, voucheeID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var vouchers []int64
	for i := range m.data.vouches {
		v := &m.data.vouches[i]
		if v.VoucheeID == voucheeID && !v.VoucheeDefaulted {
			v.VoucheeDefaulted = true
			vouchers = append(vouchers, v.VoucherID)
		}
	}
	return vouchers, nil
}

func (m *MemoryStore) LastSavingsTransaction(_ context.Context, holderID int64) (*models.SavingsTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.data.savings) - 1; i >= 0; i-- {
		if m.data.savings[i].HolderID == holderID {
			tx := m.data.savings[i]
			return &tx, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) AppendSavingsTransaction(_ context.Context, tx *models.SavingsTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data.holders[tx.HolderID]; !ok {
		return fmt.Errorf("holder %d: %w", tx.HolderID, models.ErrNotFound)
	}
	tx.ID = m.nextID()
	m.data.savings = append(m.data.savings, *tx)
	return nil
}

func (m *MemoryStore) ListSavingsTransactions(_ context.Context, holderID int64) ([]models.SavingsTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.SavingsTransaction
	for _, tx := range m.data.savings {
		if tx.HolderID == holderID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateLinkedAccount(_ context.Context, a *models.LinkedAccount) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.data.accounts {
		if existing.HolderID == a.HolderID && existing.Provider == a.Provider && existing.PhoneHash == a.PhoneHash {
			*a = existing
			return false, nil
		}
	}
	if _, ok := m.data.holders[a.HolderID]; !ok {
		return false, fmt.Errorf("holder %d: %w", a.HolderID, models.ErrNotFound)
	}
	a.ID = m.nextID()
	m.data.accounts = append(m.data.accounts, *a)
	return true, nil
}

func (m *MemoryStore) ListLinkedAccounts(_ context.Context, holderID int64) ([]models.LinkedAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.LinkedAccount
	for _, a := range m.data.accounts {
		if a.HolderID == holderID {
			out = append(out, a)
		}
	}
	return out, nil
}
