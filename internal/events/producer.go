package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Producer holds the RabbitMQ connection and channel for publishing events
type Producer struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
	log     *logrus.Logger
}

// NewProducer dials RabbitMQ and declares the credit events exchange
func NewProducer(amqpURL string, log *logrus.Logger) (*Producer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
	}

	p := &Producer{conn: conn, log: log}
	if err := p.openChannel(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// Connect returns a Producer, or a Nop publisher when amqpURL is empty or the broker is unreachable
func Connect(amqpURL string, log *logrus.Logger) Publisher {
	if strings.TrimSpace(amqpURL) == "" {
		log.Info("AMQP_URL not set, domain events disabled")
		return NewNop(log)
	}
	p, err := NewProducer(amqpURL, log)
	if err != nil {
		log.Warnf("RabbitMQ unavailable, domain events disabled: %v", err)
		return NewNop(log)
	}
	log.Info("RabbitMQ connected")
	return p
}

func (p *Producer) openChannel() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", Exchange, err)
	}
	p.channel = ch
	return nil
}

// Publish sends body as JSON with the given routing key, reopening the channel once on failure
func (p *Producer) Publish(ctx context.Context, routingKey string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", routingKey, err)
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, Exchange, routingKey, false, false, msg)
	if err == nil {
		return nil
	}
	p.log.Warnf("Publish %s failed, reopening channel: %v", routingKey, err)
	if chErr := p.openChannel(); chErr != nil {
		return errors.Join(err, chErr)
	}
	if err := p.channel.PublishWithContext(ctx, Exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}
	return nil
}

// Close closes the channel and connection
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("invalid AMQP_URL: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// Nop is the publisher used when RabbitMQ is not available
type Nop struct {
	log *logrus.Logger
}

// NewNop creates a publisher that only logs skipped events
func NewNop(log *logrus.Logger) *Nop {
	return &Nop{log: log}
}

func (n *Nop) Publish(_ context.Context, routingKey string, _ any) error {
	n.log.Debugf("Event %s skipped, no broker configured", routingKey)
	return nil
}

func (n *Nop) Close() {}
