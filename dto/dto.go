package dto

import (
	"github.com/google/uuid"
	"live-academy/constant"
	"live-academy/entities"
	"time"
)

type RecordingFinalizeMessage struct {
	LiveSessionId uuid.UUID `json:"liveSessionId"`
	Reason        string    `json:"reason"`
}

type NotificationMessage struct {
	UserIds []uuid.UUID       `json:"userIds"`
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Payload map[string]string `json:"payload,omitempty"`
}

type RecordingEvent struct {
	Type            string                   `json:"type"`
	LiveSessionId   uuid.UUID                `json:"liveSessionId"`
	ClassId         uuid.UUID                `json:"classId"`
	TeacherId       uuid.UUID                `json:"teacherId"`
	SubjectId       uuid.UUID                `json:"subjectId"`
	Source          constant.RecordingSource `json:"source"`
	DurableKey      string                   `json:"durableKey,omitempty"`
	FileSizeBytes   int64                    `json:"fileSizeBytes,omitempty"`
	DurationSeconds int                      `json:"durationSeconds,omitempty"`
	ErrorMessage    string                   `json:"errorMessage,omitempty"`
	Timestamp       time.Time                `json:"timestamp"`
}

type ChatEvent struct {
	Type    string               `json:"type"`
	Message entities.ChatMessage `json:"message"`
}

type Actor struct {
	UserId      uuid.UUID
	UserType    constant.UserType
	DisplayName string
}

type CreateSessionRequest struct {
	ClassId            uuid.UUID `json:"classId" binding:"required"`
	SubjectId          uuid.UUID `json:"subjectId" binding:"required"`
	Title              string    `json:"title"`
	ScheduledStartTime time.Time `json:"scheduledStartTime" binding:"required"`
	ScheduledEndTime   time.Time `json:"scheduledEndTime" binding:"required"`
}

type PostChatRequest struct {
	Text string `json:"text"`
}

type JoinResponse struct {
	Session         *entities.LiveSession `json:"session"`
	Participant     *entities.Participant `json:"participant"`
	UnreadCount     int64                 `json:"unreadCount"`
	JoinCredential  string                `json:"joinCredential,omitempty"`
	ChannelName     string                `json:"channelName"`
	CredentialUntil *time.Time            `json:"credentialExpiresAt,omitempty"`
}

type SessionDetail struct {
	Session     *entities.LiveSession `json:"session"`
	Participant *entities.Participant `json:"participant,omitempty"`
	UnreadCount int64                 `json:"unreadCount"`
	PlaybackUrl string                `json:"playbackUrl,omitempty"`
}

type MarkReadResponse struct {
	Marked int64 `json:"marked"`
}

type RecordingFilter struct {
	LiveSessionId *uuid.UUID
	ClassId       *uuid.UUID
	TeacherId     *uuid.UUID
	SubjectId     *uuid.UUID
	Page          int
	Limit         int
}

type RecordingList struct {
	Items []entities.RecordingRecord `json:"items"`
	Total int64                      `json:"total"`
	Page  int                        `json:"page"`
	Limit int                        `json:"limit"`
}
