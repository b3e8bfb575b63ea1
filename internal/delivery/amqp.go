// Package delivery hands notification records to the push delivery pipeline.
// Device delivery itself happens outside this service.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fetch/internal/models"
	"fetch/internal/observability"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange receives push messages when none is configured.
const DefaultExchange = "fetch.push"

// Handoff accepts notifications for push delivery.
type Handoff interface {
	Deliver(ctx context.Context, n *models.Notification) error
	Close() error
}

// PushMessage is the body published for each notification.
type PushMessage struct {
	NotificationID string    `json:"notification_id"`
	RecipientID    string    `json:"recipient_id"`
	Kind           string    `json:"kind"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

func encode(n *models.Notification) ([]byte, string, error) {
	body, err := json.Marshal(PushMessage{
		NotificationID: n.ID,
		RecipientID:    n.RecipientID,
		Kind:           string(n.Kind),
		Title:          n.Title,
		Body:           n.Message,
		CreatedAt:      n.CreatedAt,
	})
	if err != nil {
		return nil, "", fmt.Errorf("marshal push message: %w", err)
	}
	return body, "push." + string(n.Kind), nil
}

// AMQPPublisher publishes push messages to a topic exchange. A dropped
// connection is re-dialed on a later delivery; failed dials back off
// exponentially and deliveries inside the backoff window fail fast.
type AMQPPublisher struct {
	url      string
	exchange string
	dial     func(url string) (*amqp.Connection, error)

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	redial  backoff.BackOff
	retryAt time.Time
}

func newPublisher(url, exchange string) *AMQPPublisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return &AMQPPublisher{url: url, exchange: exchange, dial: amqp.Dial, redial: b}
}

// Dial connects to the broker and declares the exchange.
func Dial(url, exchange string) (*AMQPPublisher, error) {
	p := newPublisher(url, exchange)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connectLocked() error {
	conn, err := p.dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		p.exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	p.conn = conn
	p.channel = ch
	observability.Logger.Info("connected to RabbitMQ", slog.String("exchange", p.exchange))
	return nil
}

// Deliver publishes one notification as a persistent message.
func (p *AMQPPublisher) Deliver(ctx context.Context, n *models.Notification) error {
	body, routingKey, err := encode(n)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil || p.channel.IsClosed() {
		if err := p.reconnectLocked(); err != nil {
			return err
		}
	}

	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.ID,
		Timestamp:    n.CreatedAt,
		Body:         body,
	})
}

func (p *AMQPPublisher) reconnectLocked() error {
	now := time.Now()
	if now.Before(p.retryAt) {
		return models.NewUnavailableError(fmt.Errorf("RabbitMQ reconnect backing off until %s", p.retryAt.Format(time.RFC3339Nano)))
	}
	p.closeLocked()
	if err := p.connectLocked(); err != nil {
		wait := p.redial.NextBackOff()
		p.retryAt = now.Add(wait)
		observability.Logger.Warn("RabbitMQ reconnect failed",
			slog.Duration("next_attempt_in", wait),
			slog.String("error", err.Error()),
		)
		return models.NewUnavailableError(err)
	}
	p.redial.Reset()
	p.retryAt = time.Time{}
	return nil
}

func (p *AMQPPublisher) closeLocked() {
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close releases the broker connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

// Noop discards notifications. Used when no broker is configured.
type Noop struct{}

func (Noop) Deliver(context.Context, *models.Notification) error { return nil }
func (Noop) Close() error                                        { return nil }

// New returns an AMQP handoff for url, or Noop when url is empty.
func New(url, exchange string) (Handoff, error) {
	if url == "" {
		return Noop{}, nil
	}
	p, err := Dial(url, exchange)
	if err != nil {
		return nil, models.NewUnavailableError(err)
	}
	return p, nil
}
