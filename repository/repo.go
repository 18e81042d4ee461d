package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"live-academy/constant"
	"live-academy/entities"
	"time"
)

var ErrNotFound = errors.New("record not found")

type SessionRepository interface {
	Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error
	GetDB() *gorm.DB
	CreateSession(ctx context.Context, session *entities.LiveSession) error
	FindSessionById(ctx context.Context, id uuid.UUID) (*entities.LiveSession, error)
	FindSessionDetail(ctx context.Context, id uuid.UUID) (*entities.LiveSession, error)
	UpdateSessionStatus(ctx context.Context, id uuid.UUID, from constant.SessionStatus, updates map[string]interface{}) (bool, error)
	FindParticipant(ctx context.Context, sessionId, userId uuid.UUID) (*entities.Participant, error)
	UpsertParticipant(ctx context.Context, participant *entities.Participant) (*entities.Participant, error)
	UpdateParticipantFields(ctx context.Context, participantId uuid.UUID, updates map[string]interface{}) error
	StampParticipantsLeft(ctx context.Context, sessionId uuid.UUID, at time.Time) (int64, error)
	AppendChatMessage(ctx context.Context, message *entities.ChatMessage) error
	CountUnread(ctx context.Context, sessionId, userId uuid.UUID) (int64, error)
	MarkChatRead(ctx context.Context, sessionId, userId uuid.UUID, at time.Time) (int64, error)
}

type RecordingRepository interface {
	UpdateRecording(ctx context.Context, sessionId uuid.UUID, updates map[string]interface{}) error
	UpdateRecordingIfStatus(ctx context.Context, sessionId uuid.UUID, from []constant.RecordingStatus, updates map[string]interface{}) (bool, error)
	ListStuckRecordings(ctx context.Context, changedBefore time.Time) ([]uuid.UUID, error)
	CreateRecordingRecord(ctx context.Context, record *entities.RecordingRecord) error
	ListRecordingRecords(ctx context.Context, filter RecordingQuery) ([]entities.RecordingRecord, int64, error)
}

type EntitlementRepository interface {
	IsTeacherAssigned(ctx context.Context, teacherId, classId, subjectId uuid.UUID) (bool, error)
	StudentHasActiveAccess(ctx context.Context, studentId, classId uuid.UUID, at time.Time) (bool, error)
	ListActiveStudentIds(ctx context.Context, classId uuid.UUID, at time.Time) ([]uuid.UUID, error)
}

type Repository interface {
	SessionRepository
	RecordingRepository
	EntitlementRepository
	AutoMigrate(ctx context.Context, withReadModels bool) error
}

type repo struct {
	db *gorm.DB
}

type txKey struct{}

func NewRepo(db *sql.DB, driver string) (Repository, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.New(sqlite.Config{DriverName: "sqlite3", Conn: db})
	default:
		dialector = postgres.New(postgres.Config{Conn: db})
	}
	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	return &repo{
		db: gormDB,
	}, nil
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

// conn returns the transaction bound to ctx, if any.
func (r *repo) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *repo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return callback(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return callback(context.WithValue(ctx, txKey{}, tx))
	}, opts...)
}

func (r *repo) AutoMigrate(ctx context.Context, withReadModels bool) error {
	models := []interface{}{
		&entities.LiveSession{},
		&entities.Participant{},
		&entities.ChatMessage{},
		&entities.ChatRead{},
		&entities.RecordingRecord{},
	}
	if withReadModels {
		models = append(models, &entities.ClassSubjectTeacher{}, &entities.StudentSubscription{})
	}
	return r.conn(ctx).AutoMigrate(models...)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (r *repo) CreateSession(ctx context.Context, session *entities.LiveSession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	return r.conn(ctx).Omit("Participants", "ChatMessages").Create(session).Error
}

func (r *repo) FindSessionById(ctx context.Context, id uuid.UUID) (*entities.LiveSession, error) {
	session := &entities.LiveSession{}
	err := r.conn(ctx).First(session, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return session, nil
}

func (r *repo) FindSessionDetail(ctx context.Context, id uuid.UUID) (*entities.LiveSession, error) {
	session := &entities.LiveSession{}
	err := r.conn(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Preload("ChatMessages", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC")
		}).
		Preload("ChatMessages.ReadBy", func(db *gorm.DB) *gorm.DB {
			return db.Order("read_at ASC")
		}).
		First(session, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return session, nil
}

// UpdateSessionStatus applies updates only while the session is still in
// status from, and reports whether the row changed.
func (r *repo) UpdateSessionStatus(ctx context.Context, id uuid.UUID, from constant.SessionStatus, updates map[string]interface{}) (bool, error) {
	result := r.conn(ctx).Model(&entities.LiveSession{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
