package entities

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"live-academy/constant"
	"time"
)

// RecordingState is the live, mutable recording owned by a LiveSession.
// Its columns are stored on live_sessions with the recording_ prefix.
type RecordingState struct {
	Status             constant.RecordingStatus `json:"status" gorm:"type:varchar(20);not null;default:'';index:idx_live_sessions_recording_status"`
	Source             constant.RecordingSource `json:"source,omitempty" gorm:"type:varchar(20)"`
	ProviderResourceId string                   `json:"provider_resource_id,omitempty" gorm:"type:varchar(512)"`
	ProviderSessionId  string                   `json:"provider_session_id,omitempty" gorm:"type:varchar(255)"`
	RecorderIdentity   string                   `json:"recorder_identity,omitempty" gorm:"type:varchar(64)"`
	StartedAt          *time.Time               `json:"started_at,omitempty"`
	DurableUrl         *string                  `json:"durable_url,omitempty" gorm:"type:varchar(1024)"`
	DurableKey         *string                  `json:"durable_key,omitempty" gorm:"type:varchar(512)"`
	FileSizeBytes      *int64                   `json:"file_size_bytes,omitempty" gorm:"type:bigint"`
	DurationSeconds    *int                     `json:"duration_seconds,omitempty" gorm:"type:integer"`
	ErrorMessage       *string                  `json:"error_message,omitempty" gorm:"type:text"`
	StateChangedAt     *time.Time               `json:"state_changed_at,omitempty"`
}

// RecordingRecord is the append-only history entry written when a recording
// reaches completed or failed.
type RecordingRecord struct {
	ID                 uuid.UUID                `json:"id" gorm:"type:uuid;primary_key"`
	LiveSessionId      uuid.UUID                `json:"live_session_id" gorm:"type:uuid;not null;index:idx_recording_records_session"`
	TeacherId          uuid.UUID                `json:"teacher_id" gorm:"type:uuid;not null;index:idx_recording_records_teacher"`
	ClassId            uuid.UUID                `json:"class_id" gorm:"type:uuid;not null;index:idx_recording_records_class"`
	SubjectId          uuid.UUID                `json:"subject_id" gorm:"type:uuid;not null;index:idx_recording_records_subject"`
	Source             constant.RecordingSource `json:"source" gorm:"type:varchar(20);not null"`
	Status             constant.RecordingStatus `json:"status" gorm:"type:varchar(20);not null;check:status IN ('completed', 'failed')"`
	DurableUrl         *string                  `json:"durable_url" gorm:"type:varchar(1024)"`
	DurableKey         *string                  `json:"durable_key" gorm:"type:varchar(512)"`
	FileSizeBytes      *int64                   `json:"file_size_bytes" gorm:"type:bigint"`
	DurationSeconds    *int                     `json:"duration_seconds" gorm:"type:integer"`
	ErrorMessage       *string                  `json:"error_message" gorm:"type:text"`
	ProviderResourceId string                   `json:"provider_resource_id,omitempty" gorm:"type:varchar(512)"`
	ProviderSessionId  string                   `json:"provider_session_id,omitempty" gorm:"type:varchar(255)"`
	Manifest           datatypes.JSON           `json:"manifest,omitempty"`
	StartedAt          *time.Time               `json:"started_at"`
	FinishedAt         time.Time                `json:"finished_at" gorm:"not null"`
	CreatedAt          time.Time                `json:"created_at" gorm:"not null"`
}

func (RecordingRecord) TableName() string {
	return "recording_records"
}
