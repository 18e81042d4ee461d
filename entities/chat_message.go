package entities

import (
	"github.com/google/uuid"
	"live-academy/constant"
	"time"
)

type ChatMessage struct {
	ID            uuid.UUID         `json:"id" gorm:"type:uuid;primary_key"`
	LiveSessionId uuid.UUID         `json:"live_session_id" gorm:"type:uuid;not null;uniqueIndex:unique_chat_session_seq,priority:1"`
	Seq           int64             `json:"seq" gorm:"not null;uniqueIndex:unique_chat_session_seq,priority:2"`
	UserId        uuid.UUID         `json:"user_id" gorm:"type:uuid;not null"`
	UserType      constant.UserType `json:"user_type" gorm:"type:varchar(20);not null"`
	DisplayName   string            `json:"display_name" gorm:"type:varchar(255);not null"`
	Text          string            `json:"text" gorm:"type:text;not null"`
	Timestamp     time.Time         `json:"timestamp" gorm:"not null"`

	ReadBy []ChatRead `json:"read_by" gorm:"foreignKey:MessageId"`
}

func (ChatMessage) TableName() string {
	return "live_session_chat_messages"
}

// IsReadBy reports whether userId authored or has read the message.
func (m *ChatMessage) IsReadBy(userId uuid.UUID) bool {
	if m.UserId == userId {
		return true
	}
	for _, r := range m.ReadBy {
		if r.UserId == userId {
			return true
		}
	}
	return false
}

// ChatRead is one entry of a message's read-by set, keyed by (message, user).
type ChatRead struct {
	MessageId     uuid.UUID `json:"-" gorm:"type:uuid;primaryKey"`
	UserId        uuid.UUID `json:"user_id" gorm:"type:uuid;primaryKey"`
	LiveSessionId uuid.UUID `json:"-" gorm:"type:uuid;not null;index:idx_chat_reads_session"`
	ReadAt        time.Time `json:"read_at" gorm:"not null"`
}

func (ChatRead) TableName() string {
	return "live_session_chat_reads"
}
