package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"live-academy/dto"
)

type fakeChannel struct {
	declared  []string
	published []amqp.Publishing
	keys      []string
	err       error
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.declared = append(f.declared, name)
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, exchange+"/"+key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func TestPublisher_NotifyDeclaresOnce(t *testing.T) {
	ch := &fakeChannel{}
	publisher := newPublisher(ch, "topic")
	message := dto.NotificationMessage{UserIds: []uuid.UUID{uuid.New()}, Title: "Class started", Body: "join now"}

	publisher.Notify(context.Background(), message)
	publisher.Notify(context.Background(), message)

	if len(ch.declared) != 1 || ch.declared[0] != NotificationExchange {
		t.Fatalf("expected exchange declared once, got %v", ch.declared)
	}
	if len(ch.published) != 2 || ch.keys[0] != NotificationExchange+"/"+NotificationRoutingKey {
		t.Fatalf("unexpected publishes %v", ch.keys)
	}
	var got dto.NotificationMessage
	if err := json.Unmarshal(ch.published[0].Body, &got); err != nil || got.Title != "Class started" {
		t.Fatalf("unexpected body %s err=%v", ch.published[0].Body, err)
	}
}

func TestPublisher_NotifySkipsEmptyAudience(t *testing.T) {
	ch := &fakeChannel{}
	newPublisher(ch, "topic").Notify(context.Background(), dto.NotificationMessage{Title: "x"})
	if len(ch.published) != 0 {
		t.Fatalf("expected nothing published")
	}
}

func TestPublisher_NotifySwallowsErrors(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	newPublisher(ch, "topic").Notify(context.Background(), dto.NotificationMessage{UserIds: []uuid.UUID{uuid.New()}})
}

type fakeAck struct {
	acked, nacked bool
}

func (f *fakeAck) Ack(bool) error { f.acked = true; return nil }

func (f *fakeAck) Nack(bool, bool) error { f.nacked = true; return nil }

func TestSettle(t *testing.T) {
	ctx := context.Background()

	ok := &fakeAck{}
	settle(ctx, 1, ok, nil)
	if !ok.acked {
		t.Fatalf("expected ack on success")
	}

	dropped := &fakeAck{}
	settle(ctx, 1, dropped, errors.Join(ErrNonRetryable, errors.New("bad payload")))
	if !dropped.acked || dropped.nacked {
		t.Fatalf("expected non-retryable message to be acked")
	}

	dead := &fakeAck{}
	settle(ctx, 1, dead, errors.New("db down"))
	if !dead.nacked {
		t.Fatalf("expected nack to dead-letter")
	}
}

func TestProcess_StopsOnNonRetryable(t *testing.T) {
	c := consumer[struct{}]{topology: Topology{MaxTries: 5, RetryInterval: time.Millisecond}}
	calls := 0
	err := c.process(context.Background(), func() error {
		calls++
		return errors.Join(ErrNonRetryable, errors.New("bad payload"))
	})
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
	if !errors.Is(err, ErrNonRetryable) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestProcess_RetriesTransientErrors(t *testing.T) {
	c := consumer[struct{}]{topology: Topology{MaxTries: 3, RetryInterval: time.Millisecond}}
	calls := 0
	err := c.process(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third attempt, got calls=%d err=%v", calls, err)
	}
}
