package repository

import (
	"context"
	"github.com/google/uuid"
	"gorm.io/gorm/clause"
	"live-academy/entities"
	"time"
)

func (r *repo) FindParticipant(ctx context.Context, sessionId, userId uuid.UUID) (*entities.Participant, error) {
	participant := &entities.Participant{}
	err := r.conn(ctx).First(participant, "live_session_id = ? AND user_id = ?", sessionId, userId).Error
	if err != nil {
		return nil, notFound(err)
	}
	return participant, nil
}

// UpsertParticipant inserts a participant or, when the user already has an
// entry in the session, refreshes joined_at and clears left_at in place.
func (r *repo) UpsertParticipant(ctx context.Context, participant *entities.Participant) (*entities.Participant, error) {
	if participant.ID == uuid.Nil {
		participant.ID = uuid.New()
	}
	err := r.conn(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "live_session_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"joined_at": participant.JoinedAt,
			"left_at":   nil,
		}),
	}).Create(participant).Error
	if err != nil {
		return nil, err
	}
	return r.FindParticipant(ctx, participant.LiveSessionId, participant.UserId)
}

func (r *repo) UpdateParticipantFields(ctx context.Context, participantId uuid.UUID, updates map[string]interface{}) error {
	result := r.conn(ctx).Model(&entities.Participant{}).Where("id = ?", participantId).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) StampParticipantsLeft(ctx context.Context, sessionId uuid.UUID, at time.Time) (int64, error) {
	result := r.conn(ctx).Model(&entities.Participant{}).
		Where("live_session_id = ? AND left_at IS NULL", sessionId).
		Update("left_at", at)
	return result.RowsAffected, result.Error
}
