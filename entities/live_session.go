package entities

import (
	"github.com/google/uuid"
	"live-academy/constant"
	"time"
)

type LiveSession struct {
	ID                 uuid.UUID              `json:"id" gorm:"type:uuid;primary_key"`
	TeacherId          uuid.UUID              `json:"teacher_id" gorm:"type:uuid;not null;index:idx_live_sessions_teacher_id"`
	ClassId            uuid.UUID              `json:"class_id" gorm:"type:uuid;not null;index:idx_live_sessions_class_id"`
	SubjectId          uuid.UUID              `json:"subject_id" gorm:"type:uuid;not null"`
	ChannelName        string                 `json:"channel_name" gorm:"type:varchar(64);not null;uniqueIndex:unique_channel_name"`
	Title              *string                `json:"title" gorm:"type:varchar(255)"`
	ScheduledStartTime time.Time              `json:"scheduled_start_time" gorm:"not null"`
	ScheduledEndTime   time.Time              `json:"scheduled_end_time" gorm:"not null"`
	ActualStartTime    *time.Time             `json:"actual_start_time"`
	EndTime            *time.Time             `json:"end_time"`
	DurationMinutes    *int                   `json:"duration_minutes" gorm:"type:integer"`
	CancelledAt        *time.Time             `json:"cancelled_at"`
	Status             constant.SessionStatus `json:"status" gorm:"type:varchar(20);not null;default:'scheduled';index:idx_live_sessions_status"`
	CreatedAt          time.Time              `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time              `json:"updated_at" gorm:"not null"`

	Recording RecordingState `json:"recording" gorm:"embedded;embeddedPrefix:recording_"`

	Participants []Participant `json:"participants,omitempty" gorm:"foreignKey:LiveSessionId"`
	ChatMessages []ChatMessage `json:"chat_messages,omitempty" gorm:"foreignKey:LiveSessionId"`
}

func (LiveSession) TableName() string {
	return "live_sessions"
}

// FindParticipant returns the participant entry for userId, or nil.
func (s *LiveSession) FindParticipant(userId uuid.UUID) *Participant {
	for i := range s.Participants {
		if s.Participants[i].UserId == userId {
			return &s.Participants[i]
		}
	}
	return nil
}
