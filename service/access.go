package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"live-academy/constant"
	"live-academy/dto"
	"live-academy/entities"
	"live-academy/pkg/lock"
	"live-academy/repository"
)

// guard answers entitlement questions against the academy read models.
type guard struct {
	repo repository.EntitlementRepository
	now  func() time.Time
}

func (g guard) canCreate(ctx context.Context, actor dto.Actor, classId, subjectId uuid.UUID) error {
	if actor.UserType != constant.UserTypeTeacher {
		return ErrNotAuthorized
	}
	ok, err := g.repo.IsTeacherAssigned(ctx, actor.UserId, classId, subjectId)
	if err != nil {
		return err
	}
	if !ok {
		zerolog.Ctx(ctx).Info().
			Str("user_id", actor.UserId.String()).
			Str("class_id", classId.String()).
			Str("subject_id", subjectId.String()).
			Msg("teacher is not assigned to class subject")
		return ErrNotAuthorized
	}
	return nil
}

// canAccess lets the owning teacher and entitled students in.
func (g guard) canAccess(ctx context.Context, actor dto.Actor, session *entities.LiveSession) error {
	switch actor.UserType {
	case constant.UserTypeTeacher:
		return ownedBy(actor, session)
	case constant.UserTypeStudent:
		return g.canAccessClass(ctx, actor, session.ClassId)
	}
	return ErrNotAuthorized
}

func (g guard) canAccessClass(ctx context.Context, actor dto.Actor, classId uuid.UUID) error {
	if actor.UserType != constant.UserTypeStudent {
		return ErrNotAuthorized
	}
	ok, err := g.repo.StudentHasActiveAccess(ctx, actor.UserId, classId, g.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAuthorized
	}
	return nil
}

func ownedBy(actor dto.Actor, session *entities.LiveSession) error {
	if actor.UserType != constant.UserTypeTeacher || session.TeacherId != actor.UserId {
		return ErrNotOwner
	}
	return nil
}

func findSession(ctx context.Context, repo repository.SessionRepository, id uuid.UUID) (*entities.LiveSession, error) {
	session, err := repo.FindSessionById(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	return session, err
}

func findSessionDetail(ctx context.Context, repo repository.SessionRepository, id uuid.UUID) (*entities.LiveSession, error) {
	session, err := repo.FindSessionDetail(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	return session, err
}

// withSessionLock runs fn while holding the per-session lock.
func withSessionLock(ctx context.Context, locker lock.Locker, id uuid.UUID, fn func() error) error {
	unlock, err := locker.Lock(ctx, id.String())
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}
