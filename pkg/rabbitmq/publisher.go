package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"live-academy/config"
	"live-academy/dto"
)

const (
	NotificationExchange   = "notification_exchange"
	NotificationRoutingKey = "notification.push"
)

type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends JSON messages over one shared AMQP channel.
type Publisher struct {
	mu       sync.Mutex
	ch       channel
	kind     string
	declared map[string]bool
}

func NewPublisher(conn *amqp.Connection, cfg *config.RabbitMQ) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	return newPublisher(ch, cfg.Kind), nil
}

func newPublisher(ch channel, kind string) *Publisher {
	if kind == "" {
		kind = amqp.ExchangeTopic
	}
	return &Publisher{ch: ch, kind: kind, declared: make(map[string]bool)}
}

func (p *Publisher) PublishJSON(ctx context.Context, exchange, routingKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.declared[exchange] {
		if err := p.ch.ExchangeDeclare(exchange, p.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
		p.declared[exchange] = true
	}

	return p.ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

// Notify hands a push notification to the dispatcher. Delivery is not
// confirmed; failures are logged and dropped.
func (p *Publisher) Notify(ctx context.Context, message dto.NotificationMessage) {
	if len(message.UserIds) == 0 {
		return
	}
	if err := p.PublishJSON(ctx, NotificationExchange, NotificationRoutingKey, message); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("title", message.Title).Msg("failed to publish notification")
	}
}

// RequestFinalize queues a finalization retry for a live session.
func (p *Publisher) RequestFinalize(ctx context.Context, message dto.RecordingFinalizeMessage) error {
	return p.PublishJSON(ctx, FinalizeTopology.Exchange, FinalizeTopology.RoutingKey, message)
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}
