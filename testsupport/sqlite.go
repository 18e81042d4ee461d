// Package testsupport opens throwaway SQLite-backed repositories for tests.
package testsupport

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"live-academy/config"
	"live-academy/constant"
	"live-academy/entities"
	"live-academy/repository"
)

func OpenRepo(t *testing.T) repository.Repository {
	t.Helper()

	path := filepath.Join(t.TempDir(), "live-academy.db")
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// one connection keeps writers from tripping over SQLITE_BUSY
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := repository.NewRepo(db, config.DriverSQLite)
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	if err := repo.AutoMigrate(context.Background(), true); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func AssignTeacher(t *testing.T, repo repository.Repository, teacherId, classId, subjectId uuid.UUID) {
	t.Helper()
	row := &entities.ClassSubjectTeacher{
		ID:        uuid.New(),
		TeacherId: teacherId,
		ClassId:   classId,
		SubjectId: subjectId,
		IsActive:  true,
	}
	if err := repo.GetDB().Create(row).Error; err != nil {
		t.Fatalf("assign teacher: %v", err)
	}
}

func Subscribe(t *testing.T, repo repository.Repository, studentId, classId uuid.UUID, expiresAt *time.Time) {
	t.Helper()
	row := &entities.StudentSubscription{
		ID:        uuid.New(),
		StudentId: studentId,
		ClassId:   classId,
		Status:    constant.SubscriptionStatusActive,
		ExpiresAt: expiresAt,
	}
	if err := repo.GetDB().Create(row).Error; err != nil {
		t.Fatalf("subscribe: %v", err)
	}
}

// Session persists a scheduled session owned by teacherId and returns it.
func Session(t *testing.T, repo repository.Repository, teacherId, classId, subjectId uuid.UUID, start time.Time) *entities.LiveSession {
	t.Helper()
	session := &entities.LiveSession{
		ID:                 uuid.New(),
		TeacherId:          teacherId,
		ClassId:            classId,
		SubjectId:          subjectId,
		ChannelName:        "class-" + uuid.NewString(),
		ScheduledStartTime: start,
		ScheduledEndTime:   start.Add(time.Hour),
		Status:             constant.SessionStatusScheduled,
	}
	if err := repo.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}
