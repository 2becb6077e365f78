// Package events publishes credit domain events to RabbitMQ.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange is the topic exchange every credit event is published to
const Exchange = "credit_events"

// Routing keys
const (
	KeyScoreUpdated    = "score.updated"
	KeyLoanDecided     = "loan.decided"
	KeyPaymentRecorded = "loan.payment_recorded"
	KeyLoanDefaulted   = "loan.defaulted"
)

// Publisher is implemented by types that can publish events
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
	Close()
}

// ScoreUpdated is published after a holder's score is recomputed and committed
type ScoreUpdated struct {
	HolderID      int64     `json:"holder_id"`
	PreviousScore int       `json:"previous_score"`
	Score         int       `json:"score"`
	Timestamp     time.Time `json:"timestamp"`
}

// LoanDecided is published for every application, approved or denied
type LoanDecided struct {
	HolderID     int64               `json:"holder_id"`
	LoanID       int64               `json:"loan_id"`
	Approved     bool                `json:"approved"`
	Reason       string              `json:"reason,omitempty"`
	Score        int                 `json:"score"`
	Amount       decimal.Decimal     `json:"amount"`
	InterestRate decimal.NullDecimal `json:"interest_rate"`
	Timestamp    time.Time           `json:"timestamp"`
}

// PaymentRecorded is published after a repayment is committed
type PaymentRecorded struct {
	HolderID   int64           `json:"holder_id"`
	LoanID     int64           `json:"loan_id"`
	PaymentID  int64           `json:"payment_id"`
	Amount     decimal.Decimal `json:"amount"`
	WasOnTime  bool            `json:"was_on_time"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
	LoanStatus string          `json:"loan_status"`
	Timestamp  time.Time       `json:"timestamp"`
}

// LoanDefaulted is published when an active loan is marked defaulted
type LoanDefaulted struct {
	HolderID  int64           `json:"holder_id"`
	LoanID    int64           `json:"loan_id"`
	Remaining decimal.Decimal `json:"remaining"`
	Timestamp time.Time       `json:"timestamp"`
}
