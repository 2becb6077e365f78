package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Dan9191/microcredit-service/internal/config"
	"github.com/Dan9191/microcredit-service/internal/events"
	"github.com/Dan9191/microcredit-service/internal/lock"
	"github.com/Dan9191/microcredit-service/internal/models"
	"github.com/Dan9191/microcredit-service/internal/repository"
	"github.com/Dan9191/microcredit-service/internal/scoring"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Notifier delivers messages to holders
type Notifier interface {
	SendPaymentReminder(to, username string, dueDate time.Time, remaining decimal.Decimal, daysOverdue int) error
	SendLoanDecision(to, username string, approved bool, message string, amount decimal.Decimal) error
}

// Service handles business logic
type Service struct {
	store    repository.Store
	locker   lock.Locker
	log      *logrus.Logger
	config   *config.Config
	events   events.Publisher
	notifier Notifier
	now      func() time.Time
}

// Option customizes a Service
type Option func(*Service)

// WithClock replaces the wall clock, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNotifier sets the holder notification channel
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithPublisher sets the domain event publisher
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// NewService initializes a new service
func NewService(store repository.Store, locker lock.Locker, log *logrus.Logger, cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		store:  store,
		locker: locker,
		log:    log,
		config: cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.events == nil {
		s.events = events.NewNop(log)
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// outbox collects side effects that must only happen after a commit
type outbox struct {
	events []pendingEvent
	scores map[int64]int
	after  []func()
}

type pendingEvent struct {
	key  string
	body any
}

func (o *outbox) publish(key string, body any) {
	o.events = append(o.events, pendingEvent{key: key, body: body})
}

// scoreUpdated keeps one event per holder, spanning the first previous score and the last new score
func (o *outbox) scoreUpdated(ev events.ScoreUpdated) {
	if o.scores == nil {
		o.scores = make(map[int64]int)
	}
	if i, ok := o.scores[ev.HolderID]; ok {
		prev := o.events[i].body.(events.ScoreUpdated)
		ev.PreviousScore = prev.PreviousScore
		o.events[i].body = ev
		return
	}
	o.scores[ev.HolderID] = len(o.events)
	o.publish(events.KeyScoreUpdated, ev)
}

func (o *outbox) onCommit(fn func()) {
	o.after = append(o.after, fn)
}

func (s *Service) flush(ctx context.Context, o *outbox) {
	for _, ev := range o.events {
		if err := s.events.Publish(ctx, ev.key, ev.body); err != nil {
			s.log.Warnf("Failed to publish %s event: %v", ev.key, err)
		}
	}
	for _, fn := range o.after {
		fn()
	}
}

// mutate runs fn under the locks of every holder in holderIDs and inside one
// store transaction that also holds the store's holder locks. Side effects
// queued on the outbox run after the commit.
func (s *Service) mutate(ctx context.Context, holderIDs []int64, fn func(ctx context.Context, st repository.Store, ob *outbox) error) error {
	ids := uniqueSorted(holderIDs)
	for _, id := range ids {
		unlock, err := s.locker.Lock(ctx, lock.HolderKey(id))
		if err != nil {
			return err
		}
		defer unlock()
	}

	ob := &outbox{}
	if err := s.store.WithTx(ctx, func(ctx context.Context, st repository.Store) error {
		if err := st.LockHolders(ctx, ids); err != nil {
			return err
		}
		return fn(ctx, st, ob)
	}); err != nil {
		return err
	}
	s.flush(ctx, ob)
	return nil
}

func uniqueSorted(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// recompute is the only writer of a holder's score
func (s *Service) recompute(ctx context.Context, st repository.Store, holderID int64, ob *outbox) (scoring.Breakdown, error) {
	in, err := s.scoreInput(ctx, st, holderID)
	if err != nil {
		return scoring.Breakdown{}, fmt.Errorf("failed to recompute score for holder %d: %w", holderID, err)
	}

	b := scoring.Compute(in)
	if err := st.UpdateScore(ctx, holderID, b.Score, in.Now); err != nil {
		return scoring.Breakdown{}, fmt.Errorf("failed to recompute score for holder %d: %w", holderID, err)
	}

	ob.scoreUpdated(events.ScoreUpdated{
		HolderID:      holderID,
		PreviousScore: in.Holder.CurrentScore,
		Score:         b.Score,
		Timestamp:     in.Now,
	})
	s.log.Debugf("Score recomputed for holder %d: %d -> %d", holderID, in.Holder.CurrentScore, b.Score)
	return b, nil
}

func (s *Service) scoreInput(ctx context.Context, st repository.Store, holderID int64) (scoring.Input, error) {
	holder, err := st.GetHolder(ctx, holderID)
	if err != nil {
		return scoring.Input{}, err
	}
	in := scoring.Input{Holder: *holder, Now: s.clock()}

	if in.Loans, err = st.ListLoansByHolder(ctx, holderID); err != nil {
		return scoring.Input{}, err
	}
	if in.Payments, err = st.ListPaymentsByHolder(ctx, holderID); err != nil {
		return scoring.Input{}, err
	}
	if in.VouchesReceived, err = st.ListVouchesReceived(ctx, holderID); err != nil {
		return scoring.Input{}, err
	}
	if in.VouchesGiven, err = st.ListVouchesGiven(ctx, holderID); err != nil {
		return scoring.Input{}, err
	}
	if in.Transactions, err = st.ListSavingsTransactions(ctx, holderID); err != nil {
		return scoring.Input{}, err
	}
	if in.LinkedAccounts, err = st.ListLinkedAccounts(ctx, holderID); err != nil {
		return scoring.Input{}, err
	}
	return in, nil
}

type nopNotifier struct{}

func (nopNotifier) SendPaymentReminder(string, string, time.Time, decimal.Decimal, int) error {
	return nil
}

func (nopNotifier) SendLoanDecision(string, string, bool, string, decimal.Decimal) error {
	return nil
}

// ScoreReport is a score breakdown with the borrowing terms it currently unlocks
type ScoreReport struct {
	scoring.Breakdown
	MaxLoanAmount   decimal.Decimal `json:"max_loan_amount"`
	InterestRate    decimal.Decimal `json:"interest_rate"`
	LastScoreUpdate time.Time       `json:"last_score_update"`
}

// GetScoreBreakdown recomputes and stores the holder's score and explains each factor
func (s *Service) GetScoreBreakdown(ctx context.Context, holderID int64) (*ScoreReport, error) {
	var report *ScoreReport
	err := s.mutate(ctx, []int64{holderID}, func(ctx context.Context, st repository.Store, ob *outbox) error {
		b, err := s.recompute(ctx, st, holderID, ob)
		if err != nil {
			return err
		}
		report = &ScoreReport{
			Breakdown:       b,
			MaxLoanAmount:   scoring.MaxLoanAmount(b.Score),
			InterestRate:    scoring.InterestRate(b.Score),
			LastScoreUpdate: s.clock(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// RecomputeScore recomputes and stores the holder's score
func (s *Service) RecomputeScore(ctx context.Context, holderID int64) (int, error) {
	var score int
	err := s.mutate(ctx, []int64{holderID}, func(ctx context.Context, st repository.Store, ob *outbox) error {
		b, err := s.recompute(ctx, st, holderID, ob)
		score = b.Score
		return err
	})
	if err != nil {
		return 0, err
	}
	return score, nil
}

// OnboardHolder creates a credit profile with the starting score
func (s *Service) OnboardHolder(ctx context.Context, h *models.Holder) (*models.Holder, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return s.onboardHolder(ctx, h, nil)
}

func (s *Service) onboardHolder(ctx context.Context, h *models.Holder, b *Batch) (*models.Holder, error) {
	now := s.clock()
	h.CreatedAt = now
	h.CurrentScore = scoring.MinScore
	h.LastScoreUpdate = now

	err := s.mutate(ctx, nil, func(ctx context.Context, st repository.Store, ob *outbox) error {
		if err := st.CreateHolder(ctx, h); err != nil {
			return err
		}
		return s.afterMutation(ctx, st, h.ID, ob, b)
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("Holder onboarded: %s (id %d)", h.Username, h.ID)
	return s.store.GetHolder(ctx, h.ID)
}

// afterMutation recomputes the holder's score now, or defers it when a batch asks to
func (s *Service) afterMutation(ctx context.Context, st repository.Store, holderID int64, ob *outbox, b *Batch) error {
	if b.defers() {
		b.touch(holderID)
		return nil
	}
	_, err := s.recompute(ctx, st, holderID, ob)
	return err
}

// GetHolder retrieves a holder profile
func (s *Service) GetHolder(ctx context.Context, id int64) (*models.Holder, error) {
	return s.store.GetHolder(ctx, id)
}

// UpdateVerification records the reviewer's document decisions
func (s *Service) UpdateVerification(ctx context.Context, holderID int64, v models.Verification) (*models.Holder, error) {
	err := s.mutate(ctx, []int64{holderID}, func(ctx context.Context, st repository.Store, ob *outbox) error {
		if err := st.UpdateVerification(ctx, holderID, v); err != nil {
			return err
		}
		_, err := s.recompute(ctx, st, holderID, ob)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("Verification updated for holder %d: identity=%t address=%t income=%t", holderID, v.Identity, v.Address, v.Income)
	return s.store.GetHolder(ctx, holderID)
}
