package handler

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"live-academy/dto"
	"live-academy/pkg/rabbitmq"
	"live-academy/service"
)

type ServiceDependencies struct {
	RecordingService service.RecordingService
}

// RecordingFinalizeHandler finalizes the recording named by a finalize
// request. Malformed messages and unknown sessions are not retried.
func RecordingFinalizeHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var request dto.RecordingFinalizeMessage
	if err := json.Unmarshal(msg.Body, &request); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal recording finalize message")
		return errors.Join(rabbitmq.ErrNonRetryable, err)
	}

	zerolog.Ctx(ctx).Info().
		Str("live_session_id", request.LiveSessionId.String()).
		Str("reason", request.Reason).
		Msg("received recording finalize message")

	err := deps.RecordingService.Refinalize(ctx, request.LiveSessionId)
	if errors.Is(err, service.ErrSessionNotFound) {
		return errors.Join(rabbitmq.ErrNonRetryable, err)
	}
	return err
}
