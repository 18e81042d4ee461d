package repository

import (
	"context"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"live-academy/constant"
	"live-academy/entities"
	"time"
)

type RecordingQuery struct {
	LiveSessionId *uuid.UUID
	ClassId       *uuid.UUID
	TeacherId     *uuid.UUID
	SubjectId     *uuid.UUID
	Offset        int
	Limit         int
}

// UpdateRecording patches recording_* columns only. Other session columns
// are never written, so a background writer cannot revert a status change
// made by the lifecycle manager.
func (r *repo) UpdateRecording(ctx context.Context, sessionId uuid.UUID, updates map[string]interface{}) error {
	result := r.conn(ctx).Model(&entities.LiveSession{}).
		Where("id = ?", sessionId).
		UpdateColumns(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) UpdateRecordingIfStatus(ctx context.Context, sessionId uuid.UUID, from []constant.RecordingStatus, updates map[string]interface{}) (bool, error) {
	statuses := make([]string, 0, len(from))
	for _, s := range from {
		statuses = append(statuses, string(s))
	}
	result := r.conn(ctx).Model(&entities.LiveSession{}).
		Where("id = ? AND recording_status IN ?", sessionId, statuses).
		UpdateColumns(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListStuckRecordings(ctx context.Context, changedBefore time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.conn(ctx).Model(&entities.LiveSession{}).
		Where("recording_status = ?", constant.RecordingStatusProcessing).
		Where("recording_state_changed_at IS NULL OR recording_state_changed_at < ?", changedBefore).
		Order("recording_state_changed_at ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *repo) CreateRecordingRecord(ctx context.Context, record *entities.RecordingRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return r.conn(ctx).Create(record).Error
}

func (r *repo) ListRecordingRecords(ctx context.Context, filter RecordingQuery) ([]entities.RecordingRecord, int64, error) {
	query := r.conn(ctx).Model(&entities.RecordingRecord{})
	if filter.LiveSessionId != nil {
		query = query.Where("live_session_id = ?", *filter.LiveSessionId)
	}
	if filter.ClassId != nil {
		query = query.Where("class_id = ?", *filter.ClassId)
	}
	if filter.TeacherId != nil {
		query = query.Where("teacher_id = ?", *filter.TeacherId)
	}
	if filter.SubjectId != nil {
		query = query.Where("subject_id = ?", *filter.SubjectId)
	}

	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []entities.RecordingRecord
	err := query.Order("created_at DESC").Offset(filter.Offset).Limit(filter.Limit).Find(&records).Error
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}
