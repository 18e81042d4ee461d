package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"live-academy/config"
)

// ErrNonRetryable marks a handler error that retrying cannot fix. Such
// messages are acknowledged and dropped instead of dead-lettered.
var ErrNonRetryable = errors.New("non-retryable error")

type Topology struct {
	Exchange      string
	Queue         string
	RoutingKey    string
	DeadExchange  string
	DeadQueue     string
	DeadRouting   string
	MaxTries      uint
	RetryInterval time.Duration
}

var FinalizeTopology = Topology{
	Exchange:      "recording_exchange",
	Queue:         "recording_finalize_queue",
	RoutingKey:    "recording.finalize.request",
	DeadExchange:  "recording_exchange_dlx",
	DeadQueue:     "recording_finalize_queue_dlq",
	DeadRouting:   "dlq.recording.finalize.request",
	MaxTries:      5,
	RetryInterval: 10 * time.Second,
}

type Consumer[T any] interface {
	Consume(ctx context.Context, dependencies T) error
}

type consumer[T any] struct {
	conn       *amqp.Connection
	cfg        *config.RabbitMQ
	topology   Topology
	handler    func(ctx context.Context, msg amqp.Delivery, dependencies T) error
	numWorkers int
}

func (c consumer[T]) declare(ctx context.Context, ch *amqp.Channel) error {
	t := c.topology
	if err := ch.ExchangeDeclare(t.Exchange, c.cfg.Kind, true, false, false, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("exchange", t.Exchange).Msg("failed to declare exchange")
		return err
	}
	if err := ch.ExchangeDeclare(t.DeadExchange, c.cfg.Kind, true, false, false, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("exchange", t.DeadExchange).Msg("failed to declare dlx")
		return err
	}
	dlq, err := ch.QueueDeclare(t.DeadQueue, true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", t.DeadQueue).Msg("failed to declare dlq")
		return err
	}
	if err := ch.QueueBind(dlq.Name, t.DeadRouting, t.DeadExchange, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", t.DeadQueue).Msg("failed to bind dlq")
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    t.DeadExchange,
		"x-dead-letter-routing-key": t.DeadRouting,
	}
	q, err := ch.QueueDeclare(t.Queue, true, false, false, false, args)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", t.Queue).Msg("failed to declare queue")
		return err
	}
	if err := ch.QueueBind(q.Name, t.RoutingKey, t.Exchange, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", t.Queue).Msg("failed to bind queue")
		return err
	}
	return ch.Qos(c.numWorkers, 0, false)
}

func (c consumer[T]) Consume(ctx context.Context, dependencies T) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := c.declare(ctx, ch); err != nil {
		return err
	}

	deliveries, err := ch.Consume(c.topology.Queue, "", false, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", c.topology.Queue).Msg("failed to consume queue")
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("queue", c.topology.Queue).
		Str("exchange", c.topology.Exchange).
		Str("routing_key", c.topology.RoutingKey).
		Int("workers", c.numWorkers).
		Msg("consumer started")

	jobs := make(chan amqp.Delivery, c.numWorkers)
	var wg sync.WaitGroup
	for i := 1; i <= c.numWorkers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			for msg := range jobs {
				c.handle(ctx, workerId, msg, dependencies)
			}
		}(i)
	}

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				close(jobs)
				wg.Wait()
				return nil
			}

			jobs <- delivery
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
}

// acknowledger is the subset of amqp.Delivery used to settle a message.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c consumer[T]) handle(ctx context.Context, workerId int, msg amqp.Delivery, dependencies T) {
	err := c.process(ctx, func() error {
		return c.handler(ctx, msg, dependencies)
	})
	settle(ctx, workerId, msg, err)
}

func (c consumer[T]) process(ctx context.Context, handle func() error) error {
	operation := func() (struct{}, error) {
		if err := handle(); err != nil {
			if errors.Is(err, ErrNonRetryable) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = c.topology.RetryInterval
	if bo.InitialInterval > bo.MaxInterval {
		bo.InitialInterval = bo.MaxInterval
	}
	tries := c.topology.MaxTries
	if tries == 0 {
		tries = 1
	}
	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(tries))
	return err
}

func settle(ctx context.Context, workerId int, msg acknowledger, err error) {
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			zerolog.Ctx(ctx).Error().Err(ackErr).Msg("failed to acknowledge message")
		}
	case errors.Is(err, ErrNonRetryable):
		zerolog.Ctx(ctx).Warn().Err(err).Int("worker_id", workerId).Msg("dropping non-retryable message")
		if ackErr := msg.Ack(false); ackErr != nil {
			zerolog.Ctx(ctx).Error().Err(ackErr).Msg("failed to acknowledge message")
		}
	default:
		zerolog.Ctx(ctx).Error().Err(err).Int("worker_id", workerId).Msg("failed to handle message after all retries")
		if nackErr := msg.Nack(false, false); nackErr != nil {
			zerolog.Ctx(ctx).Error().Err(nackErr).Msg("failed to nack message to send to DLQ")
		}
	}
}

func NewConsumer[T any](
	conn *amqp.Connection,
	cfg *config.RabbitMQ,
	topology Topology,
	numWorkers int,
	handler func(ctx context.Context, msg amqp.Delivery, dependencies T) error,
) Consumer[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &consumer[T]{
		conn:       conn,
		cfg:        cfg,
		topology:   topology,
		handler:    handler,
		numWorkers: numWorkers,
	}
}
