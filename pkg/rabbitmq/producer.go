/**
 * @description
 * This package provides the producer used as the service's event bus. Terminal
 * transaction transitions and compound-transfer partial failures are published to a
 * durable topic exchange for downstream balance crediting and operator alerting.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 * - go.uber.org/zap: structured logging.
 */
package rabbitmq

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
	"go.uber.org/zap"

	"github.com/transfa/crypto-ledger-service/internal/domain"
)

const (
	DefaultExchange = "crypto.events"

	RoutingKeyCompleted      = "crypto.transaction.completed"
	RoutingKeyFailed         = "crypto.transaction.failed"
	RoutingKeyPartialFailure = "transfer.compound.partial_failure"
)

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	PublishTransition(ctx context.Context, event domain.TransitionEvent) error
	PublishPartialTransfer(ctx context.Context, alert domain.PartialTransferAlert) error
	Close()
}

// TransitionRoutingKey maps a terminal status to its routing key.
func TransitionRoutingKey(status domain.Status) (string, error) {
	switch status {
	case domain.StatusCompleted:
		return RoutingKeyCompleted, nil
	case domain.StatusFailed:
		return RoutingKeyFailed, nil
	default:
		return "", fmt.Errorf("no routing key for non-terminal status %q", status)
	}
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	logger   *zap.Logger
}

// EventProducerFallback is a minimal no-op publisher used when RabbitMQ is unavailable at startup.
type EventProducerFallback struct {
	Logger *zap.Logger
}

func (p *EventProducerFallback) log() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.log().Warn("publish skipped",
		zap.String("mode", "fallback"),
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey),
	)
	return nil
}

func (p *EventProducerFallback) PublishTransition(ctx context.Context, event domain.TransitionEvent) error {
	p.log().Warn("transition event publish skipped",
		zap.String("mode", "fallback"),
		zap.String("transaction_id", event.TransactionID.String()),
		zap.String("new_status", string(event.NewStatus)),
	)
	return nil
}

func (p *EventProducerFallback) PublishPartialTransfer(ctx context.Context, alert domain.PartialTransferAlert) error {
	p.log().Warn("partial transfer alert publish skipped",
		zap.String("mode", "fallback"),
		zap.String("group_id", alert.GroupID.String()),
	)
	return nil
}

func (p *EventProducerFallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// Stray characters before the scheme come from badly quoted env files.
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer creates and returns a new EventProducer publishing to exchange.
func NewEventProducer(amqpURL, exchange string, logger *zap.Logger) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(exchange) == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger.With(zap.String("component", "rabbitmq_producer")),
	}, nil
}

// Publish sends a message to a specific exchange with a routing key.
// A failed declare or publish reopens the channel once and retries.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		p.logger.Error("json marshal failed",
			zap.String("exchange", exchange),
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.declareAndPublish(ctx, exchange, routingKey, jsonBody)
	if err == nil {
		return nil
	}

	p.logger.Warn("publish failed; reopening channel",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey),
		zap.Error(err),
	)
	if p.conn == nil {
		return err
	}
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return chErr
	}
	p.channel = ch
	return p.declareAndPublish(ctx, exchange, routingKey, jsonBody)
}

func (p *EventProducer) declareAndPublish(ctx context.Context, exchange, routingKey string, body []byte) error {
	if err := p.channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		return err
	}

	return p.channel.PublishWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// PublishTransition publishes a terminal status transition.
func (p *EventProducer) PublishTransition(ctx context.Context, event domain.TransitionEvent) error {
	key, err := TransitionRoutingKey(event.NewStatus)
	if err != nil {
		return err
	}
	return p.Publish(ctx, p.exchange, key, event)
}

// PublishPartialTransfer publishes an operator alert for a diverged compound transfer.
func (p *EventProducer) PublishPartialTransfer(ctx context.Context, alert domain.PartialTransferAlert) error {
	return p.Publish(ctx, p.exchange, RoutingKeyPartialFailure, alert)
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
