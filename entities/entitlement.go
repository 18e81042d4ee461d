package entities

import (
	"github.com/google/uuid"
	"live-academy/constant"
	"time"
)

// ClassSubjectTeacher and StudentSubscription are owned by the academy core
// service; this service only reads them.
type ClassSubjectTeacher struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	TeacherId uuid.UUID `json:"teacher_id" gorm:"type:uuid;not null"`
	ClassId   uuid.UUID `json:"class_id" gorm:"type:uuid;not null"`
	SubjectId uuid.UUID `json:"subject_id" gorm:"type:uuid;not null"`
	IsActive  bool      `json:"is_active" gorm:"not null"`
}

func (ClassSubjectTeacher) TableName() string {
	return "class_subject_teachers"
}

type StudentSubscription struct {
	ID        uuid.UUID                   `json:"id" gorm:"type:uuid;primary_key"`
	StudentId uuid.UUID                   `json:"student_id" gorm:"type:uuid;not null"`
	ClassId   uuid.UUID                   `json:"class_id" gorm:"type:uuid;not null"`
	Status    constant.SubscriptionStatus `json:"status" gorm:"type:varchar(20);not null"`
	ExpiresAt *time.Time                  `json:"expires_at"`
}

func (StudentSubscription) TableName() string {
	return "student_subscriptions"
}
