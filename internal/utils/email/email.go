package email

import (
	"fmt"
	"net/smtp"
	"time"

	"github.com/Dan9191/microcredit-service/internal/config"
	"github.com/jordan-wright/email"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   func(e *email.Email, addr string, auth smtp.Auth) error
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// SendPaymentReminder sends an upcoming or overdue repayment reminder
func (s *Sender) SendPaymentReminder(to, username string, dueDate time.Time, remaining decimal.Decimal, daysOverdue int) error {
	return s.deliver(paymentReminder(s.cfg.SenderEmail, to, username, dueDate, remaining, daysOverdue))
}

// SendLoanDecision tells the applicant whether their application was approved
func (s *Sender) SendLoanDecision(to, username string, approved bool, message string, amount decimal.Decimal) error {
	return s.deliver(loanDecision(s.cfg.SenderEmail, to, username, approved, message, amount))
}

func (s *Sender) deliver(e *email.Email) error {
	to := e.To[0]
	if !s.cfg.EmailEnabled() {
		s.logger.Debugf("SMTP not configured, skipping email to %s: %s", to, e.Subject)
		return nil
	}

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	var auth smtp.Auth
	if s.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}
	if err := s.send(e, addr, auth); err != nil {
		s.logger.Errorf("Failed to send email to %s: %v", to, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", to, e.Subject)
	return nil
}

func paymentReminder(from, to, username string, dueDate time.Time, remaining decimal.Decimal, daysOverdue int) *email.Email {
	e := email.NewEmail()
	e.From = from
	e.To = []string{to}

	body := fmt.Sprintf("Dear %s,\n\n", username)
	if daysOverdue > 0 {
		e.Subject = "Overdue Loan Repayment Notification"
		body += fmt.Sprintf(
			"Your loan repayment of MWK %s was due on %s and is now %d day(s) overdue.\n"+
				"Late payments lower your credit score. Please pay as soon as possible.\n",
			remaining.StringFixed(2), dueDate.Format("2006-01-02"), daysOverdue,
		)
	} else {
		e.Subject = "Upcoming Loan Repayment Reminder"
		body += fmt.Sprintf(
			"This is a reminder that MWK %s is due on %s.\n"+
				"Paying on time raises your credit score.\n",
			remaining.StringFixed(2), dueDate.Format("2006-01-02"),
		)
	}
	body += "\nBest regards,\nMicrocredit Service"
	e.Text = []byte(body)
	return e
}

func loanDecision(from, to, username string, approved bool, message string, amount decimal.Decimal) *email.Email {
	e := email.NewEmail()
	e.From = from
	e.To = []string{to}

	body := fmt.Sprintf("Dear %s,\n\n", username)
	if approved {
		e.Subject = "Loan Application Approved"
		body += fmt.Sprintf("Your loan of MWK %s has been approved and disbursed.\n%s\n", amount.StringFixed(2), message)
	} else {
		e.Subject = "Loan Application Update"
		body += fmt.Sprintf("We could not approve your loan of MWK %s.\n%s\n", amount.StringFixed(2), message)
	}
	body += "\nBest regards,\nMicrocredit Service"
	e.Text = []byte(body)
	return e
}
