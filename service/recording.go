package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"live-academy/constant"
	"live-academy/dto"
	"live-academy/entities"
	"live-academy/pkg/provider"
)

const defaultStartClaimTimeout = 30 * time.Minute

type RecordingService interface {
	StartRecording(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.LiveSession, error)
	PauseRecording(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.LiveSession, error)
	ResumeRecording(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.LiveSession, error)
	StopRecording(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.LiveSession, error)
	UploadClientRecording(ctx context.Context, actor dto.Actor, sessionId uuid.UUID, fileName string, body io.Reader) (*entities.LiveSession, error)
	// BeginFinalize runs finalization in the background for a session whose
	// recording is already marked processing.
	BeginFinalize(ctx context.Context, session entities.LiveSession)
	// Refinalize finalizes a processing recording synchronously. It is a
	// no-op when the recording is not processing or is already being
	// finalized by this process.
	Refinalize(ctx context.Context, sessionId uuid.UUID) error
	RecoverStuck(ctx context.Context, olderThan time.Duration) (int, error)
	// Wait blocks until all background finalizations have returned.
	Wait()
}

type recordingService struct {
	opts  Options
	guard guard

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
	wg       sync.WaitGroup
}

func NewRecordingService(opts Options) RecordingService {
	opts = opts.withDefaults()
	return &recordingService{
		opts:     opts,
		guard:    guard{repo: opts.Repo, now: opts.Now},
		inflight: make(map[uuid.UUID]struct{}),
	}
}

func (s *recordingService) now() time.Time {
	return s.opts.Now().UTC()
}

func (s *recordingService) storagePrefix(sessionId uuid.UUID) string {
	return path.Join(s.opts.Recording.KeyPrefix, sessionId.String()) + "/"
}

func (s *recordingService) artifactKey(sessionId uuid.UUID, fileName string) string {
	return path.Join(s.opts.Recording.KeyPrefix, sessionId.String(), path.Base(fileName))
}

// ownedLive loads a session the caller owns and that is currently live.
func (s *recordingService) ownedLive(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.LiveSession, error) {
	session, err := findSession(ctx, s.opts.Repo, sessionId)
	if err != nil {
		return nil, err
	}
	if err := ownedBy(actor, session); err != nil {
		return nil, err
	}
	if session.Status != constant.SessionStatusLive {
		return nil, ErrNotLive
	}
	return session, nil
}

// StartRecording claims the recording with a starting marker under the
// session lock, then talks to the provider without holding it. The outcome
// is committed with a conditional write from starting, so an End or a stale
// reclaim in between wins and the provider resource is released.
func (s *recordingService) StartRecording(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.LiveSession, error) {
	logger := zerolog.Ctx(ctx).With().Str("live_session_id", sessionId.String()).Logger()
	var claimed *entities.LiveSession
	err := withSessionLock(ctx, s.opts.Locker, sessionId, func() error {
		session, err := s.ownedLive(ctx, actor, sessionId)
		if err != nil {
			return err
		}
		if !s.startable(session.Recording) {
			return ErrInvalidRecordingState
		}
		changed, err := s.opts.Repo.UpdateRecordingIfStatus(ctx, sessionId, []constant.RecordingStatus{session.Recording.Status}, map[string]interface{}{
			"recording_status":           constant.RecordingStatusStarting,
			"recording_state_changed_at": s.now(),
		})
		if err != nil {
			return err
		}
		if !changed {
			return ErrInvalidRecordingState
		}
		claimed = session
		return nil
	})
	if err != nil {
		return nil, err
	}

	resourceId, sid, err := s.startProvider(ctx, claimed)
	if err != nil {
		s.rollbackStart(ctx, claimed)
		return nil, err
	}

	uid := s.opts.Recording.RecorderUid
	now := s.now()
	changed, err := s.opts.Repo.UpdateRecordingIfStatus(ctx, sessionId, []constant.RecordingStatus{constant.RecordingStatusStarting}, map[string]interface{}{
		"recording_status":               constant.RecordingStatusRecording,
		"recording_source":               constant.RecordingSourceCloud,
		"recording_provider_resource_id": resourceId,
		"recording_provider_session_id":  sid,
		"recording_recorder_identity":    uid,
		"recording_started_at":           now,
		"recording_durable_url":          nil,
		"recording_durable_key":          nil,
		"recording_file_size_bytes":      nil,
		"recording_duration_seconds":     nil,
		"recording_error_message":        nil,
		"recording_state_changed_at":     now,
	})
	if err == nil && !changed {
		err = ErrInvalidRecordingState
	}
	if err != nil {
		logger.Warn().Err(err).Str("provider_session_id", sid).Msg("recording start was superseded, releasing provider session")
		if _, stopErr := s.opts.Provider.Stop(context.WithoutCancel(ctx), resourceId, sid, claimed.ChannelName, uid); stopErr != nil {
			logger.Warn().Err(stopErr).Msg("failed to stop superseded cloud recording")
		}
		return nil, err
	}
	logger.Info().Str("provider_session_id", sid).Msg("cloud recording started")
	return findSession(ctx, s.opts.Repo, sessionId)
}

// startable allows absent, idle and failed recordings, plus a starting claim
// older than the stuck threshold left behind by a crashed process.
func (s *recordingService) startable(rec entities.RecordingState) bool {
	if rec.Status.CanStart() {
		return true
	}
	if rec.Status != constant.RecordingStatusStarting || rec.StateChangedAt == nil {
		return false
	}
	stale := s.opts.Recording.StuckAfter
	if stale <= 0 {
		stale = defaultStartClaimTimeout
	}
	return s.now().Sub(*rec.StateChangedAt) > stale
}

func (s *recordingService) startProvider(ctx context.Context, session *entities.LiveSession) (string, string, error) {
	logger := zerolog.Ctx(ctx).With().Str("live_session_id", session.ID.String()).Logger()
	uid := s.opts.Recording.RecorderUid
	resourceId, err := retry(ctx, s.opts.Recording.ProviderAttempts, s.opts.Recording.ProviderDelay, func(attempt int) (string, error) {
		id, err := s.opts.Provider.Acquire(ctx, session.ChannelName, uid)
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("failed to acquire recording resource")
		}
		return id, err
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: acquire: %v", ErrRecordingStartFailed, err)
	}

	target := provider.Storage{Bucket: s.opts.Bucket, Prefix: s.storagePrefix(session.ID)}
	sid, err := retry(ctx, s.opts.Recording.ProviderAttempts, s.opts.Recording.ProviderDelay, func(attempt int) (string, error) {
		sid, err := s.opts.Provider.Start(ctx, resourceId, session.ChannelName, uid, target)
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("failed to start cloud recording")
		}
		return sid, err
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: start: %v", ErrRecordingStartFailed, err)
	}
	return resourceId, sid, nil
}

// rollbackStart restores the recording state seen before the starting claim.
func (s *recordingService) rollbackStart(ctx context.Context, session *entities.LiveSession) {
	_, err := s.opts.Repo.UpdateRecordingIfStatus(context.WithoutCancel(ctx), session.ID, []constant.RecordingStatus{constant.RecordingStatusStarting}, map[string]interface{}{
		"recording_status":           session.Recording.Status,
		"recording_state_changed_at": session.Recording.StateChangedAt,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("live_session_id", session.ID.String()).Msg("failed to roll back recording start")
	}
}

func (s *recordingService) PauseRecording(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.LiveSession, error) {
	return s.setPaused(ctx, actor, sessionId, constant.RecordingStatusRecording, constant.RecordingStatusPaused)
}

func (s *recordingService) ResumeRecording(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.LiveSession, error) {
	return s.setPaused(ctx, actor, sessionId, constant.RecordingStatusPaused, constant.RecordingStatusRecording)
}

// setPaused flips between recording and paused. A call from any other state
// is logged and ignored.
func (s *recordingService) setPaused(ctx context.Context, actor dto.Actor, sessionId uuid.UUID, from, to constant.RecordingStatus) (*entities.LiveSession, error) {
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
		if session.Recording.Status != from {
			zerolog.Ctx(ctx).Warn().
				Str("live_session_id", sessionId.String()).
				Str("recording_status", string(session.Recording.Status)).
				Str("requested", string(to)).
				Msg("ignoring recording transition")
			return nil
		}
		now := s.now()
		err = s.opts.Repo.UpdateRecording(ctx, sessionId, map[string]interface{}{
			"recording_status":           to,
			"recording_state_changed_at": now,
		})
		if err != nil {
			return err
		}
		session.Recording.Status = to
		session.Recording.StateChangedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// StopRecording marks the recording processing and hands it to the
// background finalizer. It returns before the provider is contacted.
func (s *recordingService) StopRecording(ctx context.Context, actor dto.Actor, sessionId uuid.UUID) (*entities.LiveSession, error) {
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
		if session.Recording.Status != constant.RecordingStatusRecording {
			return ErrInvalidRecordingState
		}
		now := s.now()
		err = s.opts.Repo.UpdateRecording(ctx, sessionId, map[string]interface{}{
			"recording_status":           constant.RecordingStatusProcessing,
			"recording_state_changed_at": now,
		})
		if err != nil {
			return err
		}
		session.Recording.Status = constant.RecordingStatusProcessing
		session.Recording.StateChangedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.BeginFinalize(ctx, *session)
	return session, nil
}

func (s *recordingService) claim(sessionId uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[sessionId]; ok {
		return false
	}
	s.inflight[sessionId] = struct{}{}
	return true
}

func (s *recordingService) release(sessionId uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, sessionId)
}

func (s *recordingService) BeginFinalize(ctx context.Context, session entities.LiveSession) {
	if !s.claim(session.ID) {
		zerolog.Ctx(ctx).Info().Str("live_session_id", session.ID.String()).Msg("recording finalization already running")
		return
	}
	job := newFinalization(session)
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(job.SessionId)
		s.finalize(ctx, job)
	}()
}

func (s *recordingService) Refinalize(ctx context.Context, sessionId uuid.UUID) error {
	session, err := findSession(ctx, s.opts.Repo, sessionId)
	if err != nil {
		return err
	}
	logger := zerolog.Ctx(ctx).With().Str("live_session_id", sessionId.String()).Logger()
	if session.Recording.Status != constant.RecordingStatusProcessing {
		logger.Info().Str("recording_status", string(session.Recording.Status)).Msg("recording is not processing, nothing to finalize")
		return nil
	}
	if !s.claim(sessionId) {
		logger.Info().Msg("recording finalization already running")
		return nil
	}
	defer s.release(sessionId)
	s.finalize(ctx, newFinalization(*session))
	return nil
}

// RecoverStuck re-drives recordings left in processing for longer than
// olderThan, typically after a restart interrupted their finalization.
func (s *recordingService) RecoverStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := s.opts.Repo.ListStuckRecordings(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	logger := zerolog.Ctx(ctx)
	recovered := 0
	for _, id := range ids {
		if s.opts.Finalizer != nil {
			err := s.opts.Finalizer.RequestFinalize(ctx, dto.RecordingFinalizeMessage{LiveSessionId: id, Reason: "stuck"})
			if err == nil {
				recovered++
				continue
			}
			logger.Warn().Err(err).Str("live_session_id", id.String()).Msg("failed to enqueue finalization, finalizing locally")
		}
		session, err := findSession(ctx, s.opts.Repo, id)
		if err != nil {
			logger.Warn().Err(err).Str("live_session_id", id.String()).Msg("failed to load stuck recording")
			continue
		}
		s.BeginFinalize(ctx, *session)
		recovered++
	}
	if recovered > 0 {
		logger.Info().Int("count", recovered).Msg("recovering stuck recordings")
	}
	return recovered, nil
}

func (s *recordingService) Wait() {
	s.wg.Wait()
}
