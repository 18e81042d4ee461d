package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"live-academy/constant"
	"live-academy/dto"
)

type fakeWriter struct {
	messages []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestPublishRecording(t *testing.T) {
	writer := &fakeWriter{}
	publisher := &KafkaPublisher{writer: writer}
	sessionId := uuid.New()

	err := publisher.PublishRecording(context.Background(), dto.RecordingEvent{
		Type:          constant.RecordingEventCompleted,
		LiveSessionId: sessionId,
		Source:        constant.RecordingSourceCloud,
		DurableKey:    "recordings/x/a.mp4",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(writer.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(writer.messages))
	}
	msg := writer.messages[0]
	if string(msg.Key) != sessionId.String() {
		t.Fatalf("unexpected key %q", msg.Key)
	}
	var got dto.RecordingEvent
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Timestamp.IsZero() {
		t.Fatalf("expected timestamp to be filled in")
	}
	if got.Type != constant.RecordingEventCompleted || got.DurableKey != "recordings/x/a.mp4" {
		t.Fatalf("unexpected event %+v", got)
	}
}
