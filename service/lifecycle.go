package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"live-academy/constant"
	"live-academy/dto"
	"live-academy/entities"
	"live-academy/pkg/rtc"
	"live-academy/repository"
)

const (
	defaultRecordingPageSize = 20
	maxRecordingPageSize     = 100
	defaultPlaybackURLTTL    = time.Hour
)

type LiveSessionService interface {
	Create(ctx context.Context, actor dto.Actor, req dto.CreateSessionRequest) (*entities.LiveSession, error)
	Start(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.LiveSession, error)
	Join(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*dto.JoinResponse, error)
	Leave(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.Participant, error)
	End(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.LiveSession, error)
	Cancel(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.LiveSession, error)
	ToggleMute(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.Participant, error)
	ToggleVideo(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.Participant, error)
	ToggleHandRaise(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.Participant, error)
	PostChatMessage(ctx context.Context, actor dto.Actor, sessionId uuid.UUID, text string) (*entities.ChatMessage, error)
	MarkChatRead(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (int64, error)
	GetSession(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*dto.SessionDetail, error)
	ListRecordings(ctx context.Context, actor dto.Actor, filter dto.RecordingFilter) (*dto.RecordingList, error)
}

type liveSessionService struct {
	opts       Options
	guard      guard
	recordings RecordingService
}

func NewLiveSessionService(opts Options, recordings RecordingService) LiveSessionService {
	opts = opts.withDefaults()
	return &liveSessionService{
		opts:       opts,
		guard:      guard{repo: opts.Repo, now: opts.Now},
		recordings: recordings,
	}
}

func (s *liveSessionService) now() time.Time {
	return s.opts.Now().UTC()
}

func channelName(id uuid.UUID) string {
	return "class-" + strings.ReplaceAll(id.String(), "-", "")
}

// durationMinutes floors the elapsed time to whole minutes.
func durationMinutes(start, end time.Time) int {
	if !end.After(start) {
		return 0
	}
	return int(end.Sub(start) / time.Minute)
}

func (s *liveSessionService) Create(ctx context.Context, actor dto.Actor, req dto.CreateSessionRequest) (*entities.LiveSession, error) {
	if err := s.guard.canCreate(ctx, actor, req.ClassId, req.SubjectId); err != nil {
		return nil, err
	}
	if !req.ScheduledStartTime.Before(req.ScheduledEndTime) {
		return nil, ErrInvalidSchedule
	}

	id := uuid.New()
	session := &entities.LiveSession{
		ID:                 id,
		TeacherId:          actor.UserId,
		ClassId:            req.ClassId,
		SubjectId:          req.SubjectId,
		ChannelName:        channelName(id),
		ScheduledStartTime: req.ScheduledStartTime.UTC(),
		ScheduledEndTime:   req.ScheduledEndTime.UTC(),
		Status:             constant.SessionStatusScheduled,
	}
	if title := strings.TrimSpace(req.Title); title != "" {
		session.Title = &title
	}

	if err := s.opts.Repo.CreateSession(ctx, session); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to create live session")
		return nil, err
	}
	zerolog.Ctx(ctx).Info().
		Str("live_session_id", session.ID.String()).
		Str("channel_name", session.ChannelName).
		Msg("live session scheduled")

	s.notifyClass(ctx, session, "New live class scheduled",
		fmt.Sprintf("A live class starts at %s", session.ScheduledStartTime.Format(time.RFC3339)),
		"live_session.created")
	return session, nil
}

func (s *liveSessionService) Start(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.LiveSession, error) {
	err := withSessionLock(ctx, s.opts.Locker, sessionId, func() error {
		session, err := findSession(ctx, s.opts.Repo, sessionId)
		if err != nil {
			return err
		}
		if err := ownedBy(actor, session); err != nil {
			return err
		}
		switch {
		case session.Status.IsTerminal():
			return ErrTerminalState
		case session.Status == constant.SessionStatusLive:
			return ErrAlreadyLive
		}

		now := s.now()
		return s.opts.Repo.Transaction(ctx, func(ctx context.Context) error {
			changed, err := s.opts.Repo.UpdateSessionStatus(ctx, sessionId, constant.SessionStatusScheduled, map[string]interface{}{
				"status":            constant.SessionStatusLive,
				"actual_start_time": now,
			})
			if err != nil {
				return err
			}
			if !changed {
				return ErrAlreadyLive
			}
			_, err = s.opts.Repo.UpsertParticipant(ctx, &entities.Participant{
				LiveSessionId:  sessionId,
				UserId:         actor.UserId,
				UserType:       constant.UserTypeTeacher,
				JoinedAt:       now,
				IsVideoEnabled: true,
			})
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	session, err := findSessionDetail(ctx, s.opts.Repo, sessionId)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("live_session_id", sessionId.String()).Msg("live session started")
	s.notifyClass(ctx, session, "Live class started", "Your live class has started, join now", "live_session.started")
	return session, nil
}

func (s *liveSessionService) Join(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*dto.JoinResponse, error) {
	var resp *dto.JoinResponse
	err := withSessionLock(ctx, s.opts.Locker, sessionId, func() error {
		session, err := findSession(ctx, s.opts.Repo, sessionId)
		if err != nil {
			return err
		}
		if err := s.guard.canAccess(ctx, actor, session); err != nil {
			return err
		}
		if session.Status != constant.SessionStatusLive {
			return ErrNotLive
		}

		participant, err := s.opts.Repo.UpsertParticipant(ctx, &entities.Participant{
			LiveSessionId:  sessionId,
			UserId:         actor.UserId,
			UserType:       actor.UserType,
			JoinedAt:       s.now(),
			IsVideoEnabled: actor.UserType == constant.UserTypeTeacher,
		})
		if err != nil {
			return err
		}
		unread, err := s.opts.Repo.CountUnread(ctx, sessionId, actor.UserId)
		if err != nil {
			return err
		}
		resp = &dto.JoinResponse{
			Session:     session,
			Participant: participant,
			UnreadCount: unread,
			ChannelName: session.ChannelName,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.opts.Credentials != nil {
		role := rtc.RoleParticipant
		if actor.UserType == constant.UserTypeTeacher {
			role = rtc.RoleHost
		}
		token, expiresAt, err := s.opts.Credentials.Issue(resp.ChannelName, actor.UserId.String(), role)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("live_session_id", sessionId.String()).Msg("failed to issue join credential")
		} else {
			resp.JoinCredential = token
			resp.CredentialUntil = &expiresAt
		}
	}
	return resp, nil
}

func (s *liveSessionService) Leave(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.Participant, error) {
	var participant *entities.Participant
	err := withSessionLock(ctx, s.opts.Locker, sessionId, func() error {
		p, err := s.participant(ctx, actor, sessionId)
		if err != nil {
			return err
		}
		if !p.IsJoined() {
			participant = p
			return nil
		}
		now := s.now()
		if err := s.opts.Repo.UpdateParticipantFields(ctx, p.ID, map[string]interface{}{"left_at": now}); err != nil {
			return err
		}
		p.LeftAt = &now
		participant = p
		return nil
	})
	return participant, err
}

func (s *liveSessionService) End(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.LiveSession, error) {
	var snapshot *entities.LiveSession
	finalize := false
	err := withSessionLock(ctx, s.opts.Locker, sessionId, func() error {
		session, err := findSession(ctx, s.opts.Repo, sessionId)
		if err != nil {
			return err
		}
		if err := ownedBy(actor, session); err != nil {
			return err
		}
		switch {
		case session.Status.IsTerminal():
			return ErrTerminalState
		case session.Status == constant.SessionStatusScheduled:
			return ErrNotLive
		}

		now := s.now()
		startedAt := now
		if session.ActualStartTime != nil {
			startedAt = *session.ActualStartTime
		}
		finalize = session.Recording.Status.IsActive()

		err = s.opts.Repo.Transaction(ctx, func(ctx context.Context) error {
			changed, err := s.opts.Repo.UpdateSessionStatus(ctx, sessionId, constant.SessionStatusLive, map[string]interface{}{
				"status":           constant.SessionStatusEnded,
				"end_time":         now,
				"duration_minutes": durationMinutes(startedAt, now),
			})
			if err != nil {
				return err
			}
			if !changed {
				return ErrTerminalState
			}
			if _, err := s.opts.Repo.StampParticipantsLeft(ctx, sessionId, now); err != nil {
				return err
			}
			if finalize {
				return s.opts.Repo.UpdateRecording(ctx, sessionId, map[string]interface{}{
					"recording_status":           constant.RecordingStatusProcessing,
					"recording_state_changed_at": now,
				})
			}
			if session.Recording.Status == constant.RecordingStatusStarting {
				// the in-flight start sees this and releases its provider session
				_, err := s.opts.Repo.UpdateRecordingIfStatus(ctx, sessionId, []constant.RecordingStatus{constant.RecordingStatusStarting}, map[string]interface{}{
					"recording_status":           constant.RecordingStatusIdle,
					"recording_state_changed_at": now,
				})
				return err
			}
			return nil
		})
		snapshot = session
		return err
	})
	if err != nil {
		return nil, err
	}

	if finalize {
		s.recordings.BeginFinalize(ctx, *snapshot)
	}
	zerolog.Ctx(ctx).Info().
		Str("live_session_id", sessionId.String()).
		Bool("finalize_recording", finalize).
		Msg("live session ended")
	return findSessionDetail(ctx, s.opts.Repo, sessionId)
}

func (s *liveSessionService) Cancel(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.LiveSession, error) {
	var session *entities.LiveSession
	err := withSessionLock(ctx, s.opts.Locker, sessionId, func() error {
		var err error
		session, err = findSession(ctx, s.opts.Repo, sessionId)
		if err != nil {
			return err
		}
		if err := ownedBy(actor, session); err != nil {
			return err
		}
		switch {
		case session.Status.IsTerminal():
			return ErrTerminalState
		case session.Status == constant.SessionStatusLive:
			return ErrAlreadyLive
		}
		now := s.now()
		changed, err := s.opts.Repo.UpdateSessionStatus(ctx, sessionId, constant.SessionStatusScheduled, map[string]interface{}{
			"status":       constant.SessionStatusCancelled,
			"cancelled_at": now,
		})
		if err != nil {
			return err
		}
		if !changed {
			return ErrTerminalState
		}
		session.Status = constant.SessionStatusCancelled
		session.CancelledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifyClass(ctx, session, "Live class cancelled", "A scheduled live class was cancelled", "live_session.cancelled")
	return session, nil
}

func (s *liveSessionService) ToggleMute(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.Participant, error) {
	return s.toggle(ctx, actor, sessionId, "is_muted", func(p *entities.Participant) *bool { return &p.IsMuted })
}

func (s *liveSessionService) ToggleVideo(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.Participant, error) {
	return s.toggle(ctx, actor, sessionId, "is_video_enabled", func(p *entities.Participant) *bool { return &p.IsVideoEnabled })
}

func (s *liveSessionService) ToggleHandRaise(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.Participant, error) {
	return s.toggle(ctx, actor, sessionId, "has_raised_hand", func(p *entities.Participant) *bool { return &p.HasRaisedHand })
}

func (s *liveSessionService) toggle(ctx context.Context, actor dto.Actor, sessionId uuid.UUID, column string, field func(*entities.Participant) *bool) (*entities.Participant, error) {
	var participant *entities.Participant
	err := withSessionLock(ctx, s.opts.Locker, sessionId, func() error {
		p, err := s.participant(ctx, actor, sessionId)
		if err != nil {
			return err
		}
		value := field(p)
		*value = !*value
		if err := s.opts.Repo.UpdateParticipantFields(ctx, p.ID, map[string]interface{}{column: *value}); err != nil {
			return err
		}
		participant = p
		return nil
	})
	return participant, err
}

// participant loads the caller's entry in a live session.
func (s *liveSessionService) participant(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.Participant, error) {
	session, err := findSession(ctx, s.opts.Repo, sessionId)
	if err != nil {
		return nil, err
	}
	if session.Status != constant.SessionStatusLive {
		return nil, ErrNotLive
	}
	p, err := s.opts.Repo.FindParticipant(ctx, sessionId, actor.UserId)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotParticipant
	}
	return p, err
}

func (s *liveSessionService) PostChatMessage(ctx context.Context, actor dto.Actor, sessionId uuid.UUID, text string) (*entities.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyChatText
	}

	var message *entities.ChatMessage
	err := withSessionLock(ctx, s.opts.Locker, sessionId, func() error {
		session, err := findSession(ctx, s.opts.Repo, sessionId)
		if err != nil {
			return err
		}
		if err := s.guard.canAccess(ctx, actor, session); err != nil {
			return err
		}
		if session.Status != constant.SessionStatusLive {
			return ErrNotLive
		}
		displayName := strings.TrimSpace(actor.DisplayName)
		if displayName == "" {
			displayName = string(actor.UserType)
		}
		message = &entities.ChatMessage{
			LiveSessionId: sessionId,
			UserId:        actor.UserId,
			UserType:      actor.UserType,
			DisplayName:   displayName,
			Text:          text,
			Timestamp:     s.now(),
			ReadBy:        []entities.ChatRead{},
		}
		return s.opts.Repo.AppendChatMessage(ctx, message)
	})
	if err != nil {
		return nil, err
	}

	s.opts.Broadcaster.Broadcast(ctx, sessionId, dto.ChatEvent{Type: "chat.message", Message: *message})
	return message, nil
}

func (s *liveSessionService) MarkChatRead(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (int64, error) {
	var marked int64
	err := withSessionLock(ctx, s.opts.Locker, sessionId, func() error {
		session, err := findSession(ctx, s.opts.Repo, sessionId)
		if err != nil {
			return err
		}
		if err := s.guard.canAccess(ctx, actor, session); err != nil {
			return err
		}
		marked, err = s.opts.Repo.MarkChatRead(ctx, sessionId, actor.UserId, s.now())
		return err
	})
	return marked, err
}

func (s *liveSessionService) GetSession(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*dto.SessionDetail, error) {
	session, err := findSessionDetail(ctx, s.opts.Repo, sessionId)
	if err != nil {
		return nil, err
	}
	if err := s.guard.canAccess(ctx, actor, session); err != nil {
		return nil, err
	}
	unread, err := s.opts.Repo.CountUnread(ctx, sessionId, actor.UserId)
	if err != nil {
		return nil, err
	}

	detail := &dto.SessionDetail{
		Session:     session,
		Participant: session.FindParticipant(actor.UserId),
		UnreadCount: unread,
	}
	rec := session.Recording
	if rec.Status == constant.RecordingStatusCompleted && rec.DurableKey != nil && s.opts.Storage != nil {
		ttl := s.opts.Recording.PlaybackURLTTL
		if ttl <= 0 {
			ttl = defaultPlaybackURLTTL
		}
		url, err := s.opts.Storage.Presign(ctx, *rec.DurableKey, ttl)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("live_session_id", sessionId.String()).Msg("failed to presign playback url")
		} else {
			detail.PlaybackUrl = url
		}
	}
	return detail, nil
}

// ListRecordings scopes teachers to their own recordings and students to a
// class they can access.
func (s *liveSessionService) ListRecordings(ctx context.Context, actor dto.Actor, filter dto.RecordingFilter) (*dto.RecordingList, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = defaultRecordingPageSize
	}
	if limit > maxRecordingPageSize {
		limit = maxRecordingPageSize
	}

	query := repository.RecordingQuery{
		LiveSessionId: filter.LiveSessionId,
		ClassId:       filter.ClassId,
		TeacherId:     filter.TeacherId,
		SubjectId:     filter.SubjectId,
		Offset:        (page - 1) * limit,
		Limit:         limit,
	}
	switch actor.UserType {
	case constant.UserTypeTeacher:
		teacherId := actor.UserId
		query.TeacherId = &teacherId
	case constant.UserTypeStudent:
		if filter.ClassId == nil {
			return nil, ErrMissingClass
		}
		if err := s.guard.canAccessClass(ctx, actor, *filter.ClassId); err != nil {
			return nil, err
		}
	default:
		return nil, ErrNotAuthorized
	}

	items, total, err := s.opts.Repo.ListRecordingRecords(ctx, query)
	if err != nil {
		return nil, err
	}
	return &dto.RecordingList{Items: items, Total: total, Page: page, Limit: limit}, nil
}

func (s *liveSessionService) notifyClass(ctx context.Context, session *entities.LiveSession, title, body, kind string) {
	studentIds, err := s.opts.Repo.ListActiveStudentIds(ctx, session.ClassId, s.now())
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("live_session_id", session.ID.String()).Msg("failed to resolve notification audience")
		return
	}
	s.opts.Notifier.Notify(ctx, dto.NotificationMessage{
		UserIds: studentIds,
		Title:   title,
		Body:    body,
		Payload: map[string]string{
			"type":          kind,
			"liveSessionId": session.ID.String(),
			"classId":       session.ClassId.String(),
			"channelName":   session.ChannelName,
		},
	})
}
