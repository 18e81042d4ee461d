package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"live-academy/pkg/rabbitmq"
	"live-academy/service"
)

type stubRecordings struct {
	service.RecordingService
	refinalized []uuid.UUID
	err         error
}

func (s *stubRecordings) Refinalize(_ context.Context, sessionId uuid.UUID) error {
	s.refinalized = append(s.refinalized, sessionId)
	return s.err
}

func TestRecordingFinalizeHandler(t *testing.T) {
	id := uuid.New()
	body := []byte(`{"liveSessionId":"` + id.String() + `","reason":"stuck"}`)

	tests := []struct {
		name         string
		body         []byte
		serviceErr   error
		nonRetryable bool
		wantErr      bool
		wantCalls    int
	}{
		{name: "finalizes session", body: body, wantCalls: 1},
		{name: "malformed body", body: []byte("{"), wantErr: true, nonRetryable: true},
		{name: "unknown session", body: body, serviceErr: service.ErrSessionNotFound, wantErr: true, nonRetryable: true, wantCalls: 1},
		{name: "transient failure", body: body, serviceErr: errors.New("db down"), wantErr: true, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubRecordings{err: tt.serviceErr}
			err := RecordingFinalizeHandler(context.Background(), amqp.Delivery{Body: tt.body}, ServiceDependencies{RecordingService: stub})
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
			if errors.Is(err, rabbitmq.ErrNonRetryable) != tt.nonRetryable {
				t.Fatalf("expected non-retryable=%v, got %v", tt.nonRetryable, err)
			}
			if len(stub.refinalized) != tt.wantCalls {
				t.Fatalf("expected %d refinalize calls, got %d", tt.wantCalls, len(stub.refinalized))
			}
			if tt.wantCalls > 0 && stub.refinalized[0] != id {
				t.Fatalf("expected session %s, got %s", id, stub.refinalized[0])
			}
		})
	}
}
