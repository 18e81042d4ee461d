package entities

import (
	"github.com/google/uuid"
	"live-academy/constant"
	"time"
)

type Participant struct {
	ID             uuid.UUID         `json:"id" gorm:"type:uuid;primary_key"`
	LiveSessionId  uuid.UUID         `json:"live_session_id" gorm:"type:uuid;not null;uniqueIndex:unique_participant_session_user,priority:1"`
	UserId         uuid.UUID         `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:unique_participant_session_user,priority:2"`
	UserType       constant.UserType `json:"user_type" gorm:"type:varchar(20);not null"`
	JoinedAt       time.Time         `json:"joined_at" gorm:"not null"`
	LeftAt         *time.Time        `json:"left_at"`
	IsMuted        bool              `json:"is_muted" gorm:"not null"`
	IsVideoEnabled bool              `json:"is_video_enabled" gorm:"not null"`
	HasRaisedHand  bool              `json:"has_raised_hand" gorm:"not null"`
	CreatedAt      time.Time         `json:"created_at" gorm:"not null"`
}

func (Participant) TableName() string {
	return "live_session_participants"
}

// IsJoined reports whether the participant is currently in the session.
func (p *Participant) IsJoined() bool {
	return p.LeftAt == nil
}
