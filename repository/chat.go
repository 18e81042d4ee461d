package repository

import (
	"context"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"live-academy/entities"
	"time"
)

const unreadCondition = "NOT EXISTS (SELECT 1 FROM live_session_chat_reads r WHERE r.message_id = live_session_chat_messages.id AND r.user_id = ?)"

// AppendChatMessage assigns the next per-session sequence number and inserts
// the message. Callers serialize appends per session; the unique
// (live_session_id, seq) index rejects any interleaving that slips through.
func (r *repo) AppendChatMessage(ctx context.Context, message *entities.ChatMessage) error {
	return r.Transaction(ctx, func(ctx context.Context) error {
		var maxSeq int64
		err := r.conn(ctx).Model(&entities.ChatMessage{}).
			Where("live_session_id = ?", message.LiveSessionId).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error
		if err != nil {
			return err
		}
		if message.ID == uuid.Nil {
			message.ID = uuid.New()
		}
		message.Seq = maxSeq + 1
		return r.conn(ctx).Omit("ReadBy").Create(message).Error
	})
}

func (r *repo) unread(ctx context.Context, sessionId, userId uuid.UUID) *gorm.DB {
	return r.conn(ctx).Model(&entities.ChatMessage{}).
		Where("live_session_id = ? AND user_id <> ?", sessionId, userId).
		Where(unreadCondition, userId)
}

func (r *repo) CountUnread(ctx context.Context, sessionId, userId uuid.UUID) (int64, error) {
	var count int64
	err := r.unread(ctx, sessionId, userId).Count(&count).Error
	return count, err
}

// MarkChatRead adds userId to the read-by set of every message it has not
// authored or read yet. Existing entries are left untouched.
func (r *repo) MarkChatRead(ctx context.Context, sessionId, userId uuid.UUID, at time.Time) (int64, error) {
	var marked int64
	err := r.Transaction(ctx, func(ctx context.Context) error {
		var messageIds []uuid.UUID
		if err := r.unread(ctx, sessionId, userId).Order("seq ASC").Pluck("id", &messageIds).Error; err != nil {
			return err
		}
		if len(messageIds) == 0 {
			return nil
		}
		reads := make([]entities.ChatRead, 0, len(messageIds))
		for _, id := range messageIds {
			reads = append(reads, entities.ChatRead{
				MessageId:     id,
				UserId:        userId,
				LiveSessionId: sessionId,
				ReadAt:        at,
			})
		}
		result := r.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(reads, 200)
		if result.Error != nil {
			return result.Error
		}
		marked = result.RowsAffected
		return nil
	})
	return marked, err
}
