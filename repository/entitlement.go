package repository

import (
	"context"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"live-academy/constant"
	"live-academy/entities"
	"time"
)

func (r *repo) IsTeacherAssigned(ctx context.Context, teacherId, classId, subjectId uuid.UUID) (bool, error) {
	var count int64
	err := r.conn(ctx).Model(&entities.ClassSubjectTeacher{}).
		Where("teacher_id = ? AND class_id = ? AND subject_id = ? AND is_active = ?", teacherId, classId, subjectId, true).
		Count(&count).Error
	return count > 0, err
}

func (r *repo) activeSubscriptions(ctx context.Context, classId uuid.UUID, at time.Time) *gorm.DB {
	return r.conn(ctx).Model(&entities.StudentSubscription{}).
		Where("class_id = ? AND status = ?", classId, constant.SubscriptionStatusActive).
		Where("expires_at IS NULL OR expires_at > ?", at)
}

func (r *repo) StudentHasActiveAccess(ctx context.Context, studentId, classId uuid.UUID, at time.Time) (bool, error) {
	var count int64
	err := r.activeSubscriptions(ctx, classId, at).
		Where("student_id = ?", studentId).
		Count(&count).Error
	return count > 0, err
}

func (r *repo) ListActiveStudentIds(ctx context.Context, classId uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.activeSubscriptions(ctx, classId, at).
		Distinct().
		Pluck("student_id", &ids).Error
	return ids, err
}
