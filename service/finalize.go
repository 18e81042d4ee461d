package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"live-academy/constant"
	"live-academy/dto"
	"live-academy/entities"
	"live-academy/pkg/media"
	"live-academy/pkg/provider"
)

const settleAttempts = 3

var (
	errStillRecording = errors.New("provider is still recording")
	errManifestEmpty  = errors.New("recording manifest has no files yet")
	errNotYetStored   = errors.New("artifact not yet in storage")
)

// finalization is the snapshot of a session a finalizer works from. It is
// taken once so the pipeline never reads session state that the lifecycle
// may be changing concurrently.
type finalization struct {
	SessionId         uuid.UUID
	TeacherId         uuid.UUID
	ClassId           uuid.UUID
	SubjectId         uuid.UUID
	Channel           string
	Source            constant.RecordingSource
	ResourceId        string
	ProviderSessionId string
	RecorderIdentity  string
	StartedAt         *time.Time
}

func newFinalization(session entities.LiveSession) finalization {
	source := session.Recording.Source
	if source == "" {
		source = constant.RecordingSourceCloud
	}
	return finalization{
		SessionId:         session.ID,
		TeacherId:         session.TeacherId,
		ClassId:           session.ClassId,
		SubjectId:         session.SubjectId,
		Channel:           session.ChannelName,
		Source:            source,
		ResourceId:        session.Recording.ProviderResourceId,
		ProviderSessionId: session.Recording.ProviderSessionId,
		RecorderIdentity:  session.Recording.RecorderIdentity,
		StartedAt:         session.Recording.StartedAt,
	}
}

// finalizeFailure ends the pipeline with a failed recording.
type finalizeFailure struct {
	reason   string
	manifest datatypes.JSON
}

func (f *finalizeFailure) Error() string {
	return f.reason
}

func failWith(reason string, manifest []byte) *finalizeFailure {
	return &finalizeFailure{reason: reason, manifest: datatypes.JSON(manifest)}
}

type artifact struct {
	key             string
	url             string
	sizeBytes       *int64
	durationSeconds *int
	manifest        datatypes.JSON
}

// finalize drives a processing recording to completed or failed. It always
// leaves the recording terminal, including when the pipeline panics.
func (s *recordingService) finalize(ctx context.Context, job finalization) {
	logger := zerolog.Ctx(ctx).With().
		Str("live_session_id", job.SessionId.String()).
		Str("provider_session_id", job.ProviderSessionId).
		Logger()
	ctx = logger.WithContext(ctx)
	workDir := filepath.Join(s.opts.Recording.WorkDir, job.SessionId.String(), uuid.NewString())

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recording finalization panicked")
			s.fail(ctx, job, fmt.Sprintf("%s: %v", constant.ReasonFinalizationPanicked, r), nil)
		}
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn().Err(err).Str("work_dir", workDir).Msg("failed to remove recording work dir")
		}
	}()

	logger.Info().Msg("finalizing recording")
	result, err := s.collect(ctx, job, workDir)
	if err != nil {
		var failure *finalizeFailure
		if errors.As(err, &failure) {
			s.fail(ctx, job, failure.reason, failure.manifest)
			return
		}
		s.fail(ctx, job, err.Error(), nil)
		return
	}
	s.complete(ctx, job, result)
}

// collect stops the provider recording, resolves its manifest and makes sure
// the artifact sits in durable storage.
func (s *recordingService) collect(ctx context.Context, job finalization, workDir string) (*artifact, error) {
	logger := zerolog.Ctx(ctx)
	if job.Source == constant.RecordingSourceClient {
		return nil, failWith(constant.ReasonUploadInterrupted, nil)
	}
	if job.ResourceId == "" || job.ProviderSessionId == "" {
		return nil, failWith(constant.ReasonSessionNotFound, nil)
	}

	cfg := s.opts.Recording
	stopped, err := retry(ctx, cfg.ProviderAttempts, cfg.ProviderDelay, func(attempt int) (provider.StopResult, error) {
		res, err := s.opts.Provider.Stop(ctx, job.ResourceId, job.ProviderSessionId, job.Channel, job.RecorderIdentity)
		if errors.Is(err, provider.ErrNotFound) {
			return res, stop(err)
		}
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("failed to stop cloud recording")
		}
		return res, err
	})

	var files []provider.File
	var manifest []byte
	if err != nil {
		logger.Warn().Err(err).Msg("stop did not succeed, polling recording status")
	} else {
		if stopped.NoRecordedData() {
			logger.Info().Msg("provider captured no recorded data")
			return nil, failWith(constant.ReasonNoRecordedData, stopped.Raw)
		}
		files, manifest = stopped.FileList, stopped.Raw
	}

	if len(files) == 0 {
		files, manifest, err = s.pollManifest(ctx, job)
		if err != nil {
			return nil, err
		}
	}

	file := pickArtifact(files)
	key := s.artifactKey(job.SessionId, file.FileName)
	logger.Info().Str("file_name", file.FileName).Str("object_key", key).Msg("resolved recording artifact")

	if err := os.MkdirAll(workDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	localPath := filepath.Join(workDir, path.Base(file.FileName))

	stored := s.awaitStored(ctx, key)
	haveLocal := false
	if stored {
		if err := s.opts.Storage.Get(ctx, key, localPath); err != nil {
			logger.Warn().Err(err).Msg("failed to fetch stored artifact for inspection")
		} else {
			haveLocal = true
		}
	} else {
		if err := s.downloadArtifact(ctx, job, file, localPath); err != nil {
			return nil, failWith(fmt.Sprintf("%s: %v", constant.ReasonArtifactUnavailable, err), manifest)
		}
		haveLocal = true
		if _, err := s.opts.Storage.Put(ctx, localPath, key, media.ContentType(localPath)); err != nil {
			logger.Error().Err(err).Msg("failed to upload recording artifact")
			return nil, failWith(fmt.Sprintf("%v: %v", ErrStorage, err), manifest)
		}
	}

	url := s.opts.Storage.URL(key)
	if url == "" {
		return nil, failWith(constant.ReasonDurableURLMissing, manifest)
	}

	result := &artifact{key: key, url: url, manifest: datatypes.JSON(manifest)}
	if haveLocal {
		result.sizeBytes, result.durationSeconds = s.measure(ctx, localPath)
	}
	if result.durationSeconds == nil && job.StartedAt != nil {
		elapsed := int(s.now().Sub(*job.StartedAt) / time.Second)
		if elapsed < 0 {
			elapsed = 0
		}
		result.durationSeconds = &elapsed
	}
	return result, nil
}

// pollManifest queries the provider until it reports a file list.
func (s *recordingService) pollManifest(ctx context.Context, job finalization) ([]provider.File, []byte, error) {
	logger := zerolog.Ctx(ctx)
	cfg := s.opts.Recording
	attempts := cfg.QueryAttempts
	if attempts < 1 {
		attempts = 1
	}
	res, err := retry(ctx, attempts, cfg.QueryDelay, func(attempt int) (provider.QueryResult, error) {
		q, err := s.opts.Provider.Query(ctx, job.ResourceId, job.ProviderSessionId)
		switch {
		case errors.Is(err, provider.ErrNotFound):
			if attempt >= attempts {
				return q, stop(failWith(constant.ReasonSessionNotFound, nil))
			}
			return q, err
		case err != nil:
			logger.Warn().Err(err).Int("attempt", attempt).Msg("failed to query recording status")
			return q, err
		case q.Failed():
			return q, stop(failWith(strings.TrimSuffix(constant.ReasonProviderError+": "+q.Message, ": "), q.Raw))
		case q.StillRecording():
			logger.Info().Int("attempt", attempt).Int("provider_status", q.Status).Msg("provider still recording")
			if err := sleep(ctx, cfg.StillRecordingDelay); err != nil {
				return q, stop(err)
			}
			return q, errStillRecording
		case len(q.FileList) == 0:
			return q, errManifestEmpty
		}
		return q, nil
	})
	if err != nil {
		var failure *finalizeFailure
		if errors.As(err, &failure) {
			return nil, nil, failure
		}
		logger.Warn().Err(err).Msg("recording manifest never became available")
		return nil, nil, failWith(constant.ReasonManifestUnavailable, nil)
	}
	return res.FileList, res.Raw, nil
}

// awaitStored waits for the provider's own upload to land in the bucket.
func (s *recordingService) awaitStored(ctx context.Context, key string) bool {
	cfg := s.opts.Recording
	if err := sleep(ctx, cfg.SettleDelay); err != nil {
		return false
	}
	_, err := retry(ctx, cfg.StorageCheckAttempts, cfg.StorageCheckDelay, func(int) (struct{}, error) {
		ok, err := s.opts.Storage.Exists(ctx, key)
		if err != nil {
			return struct{}{}, err
		}
		if !ok {
			return struct{}{}, errNotYetStored
		}
		return struct{}{}, nil
	})
	if err != nil && !errors.Is(err, errNotYetStored) {
		zerolog.Ctx(ctx).Warn().Err(err).Str("object_key", key).Msg("failed to check artifact in storage")
	}
	return err == nil
}

// downloadArtifact pulls the file from the provider, first by its direct url
// and then through the authenticated file endpoint.
func (s *recordingService) downloadArtifact(ctx context.Context, job finalization, file provider.File, localPath string) error {
	logger := zerolog.Ctx(ctx)
	cfg := s.opts.Recording
	if file.URL != "" {
		_, err := retry(ctx, cfg.DownloadAttempts, cfg.DownloadDelay, func(int) (int64, error) {
			return s.opts.Provider.Download(ctx, file.URL, localPath)
		})
		if err == nil {
			return nil
		}
		logger.Warn().Err(err).Msg("direct artifact download failed")
	}
	_, err := retry(ctx, cfg.DownloadAttempts, cfg.DownloadDelay, func(attempt int) (int64, error) {
		n, err := s.opts.Provider.FetchArtifact(ctx, job.ResourceId, job.ProviderSessionId, file.FileName, localPath)
		if err != nil && !errors.Is(err, provider.ErrNotFound) {
			return n, stop(err)
		}
		if err != nil {
			logger.Info().Int("attempt", attempt).Msg("artifact not yet available from provider")
		}
		return n, err
	})
	return err
}

func (s *recordingService) measure(ctx context.Context, localPath string) (*int64, *int) {
	var size *int64
	if info, err := os.Stat(localPath); err == nil {
		n := info.Size()
		size = &n
	}
	if s.opts.Media == nil {
		return size, nil
	}
	d, err := s.opts.Media.Duration(ctx, localPath)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to probe recording duration")
		return size, nil
	}
	seconds := int(d.Round(time.Second) / time.Second)
	return size, &seconds
}

// pickArtifact prefers an mp4 file, then an HLS playlist, then the first entry.
func pickArtifact(files []provider.File) provider.File {
	for _, ext := range []string{".mp4", ".m3u8"} {
		for _, f := range files {
			if strings.EqualFold(path.Ext(f.FileName), ext) {
				return f
			}
		}
	}
	return files[0]
}

func (s *recordingService) complete(ctx context.Context, job finalization, result *artifact) {
	ctx = context.WithoutCancel(ctx)
	logger := zerolog.Ctx(ctx)
	now := s.now()
	changed, err := s.settle(ctx, job.SessionId, map[string]interface{}{
		"recording_status":           constant.RecordingStatusCompleted,
		"recording_durable_url":      result.url,
		"recording_durable_key":      result.key,
		"recording_file_size_bytes":  result.sizeBytes,
		"recording_duration_seconds": result.durationSeconds,
		"recording_error_message":    nil,
		"recording_state_changed_at": now,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to store completed recording")
		return
	}
	if !changed {
		logger.Warn().Msg("recording already settled, skipping completion")
		return
	}

	record := s.record(job, constant.RecordingStatusCompleted, now)
	record.DurableUrl = &result.url
	record.DurableKey = &result.key
	record.FileSizeBytes = result.sizeBytes
	record.DurationSeconds = result.durationSeconds
	record.Manifest = result.manifest
	if err := s.opts.Repo.CreateRecordingRecord(ctx, record); err != nil {
		logger.Error().Err(err).Msg("failed to write recording record")
	}

	event := s.event(job, constant.RecordingEventCompleted, now)
	event.DurableKey = result.key
	if result.sizeBytes != nil {
		event.FileSizeBytes = *result.sizeBytes
	}
	if result.durationSeconds != nil {
		event.DurationSeconds = *result.durationSeconds
	}
	s.publish(ctx, event)
	logger.Info().Str("object_key", result.key).Msg("recording completed")
}

func (s *recordingService) fail(ctx context.Context, job finalization, reason string, manifest datatypes.JSON) {
	ctx = context.WithoutCancel(ctx)
	logger := zerolog.Ctx(ctx)
	now := s.now()
	changed, err := s.settle(ctx, job.SessionId, map[string]interface{}{
		"recording_status":           constant.RecordingStatusFailed,
		"recording_error_message":    reason,
		"recording_state_changed_at": now,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to store failed recording")
		return
	}
	if !changed {
		logger.Warn().Msg("recording already settled, skipping failure")
		return
	}

	record := s.record(job, constant.RecordingStatusFailed, now)
	record.ErrorMessage = &reason
	record.Manifest = manifest
	if err := s.opts.Repo.CreateRecordingRecord(ctx, record); err != nil {
		logger.Error().Err(err).Msg("failed to write recording record")
	}

	event := s.event(job, constant.RecordingEventFailed, now)
	event.ErrorMessage = reason
	s.publish(ctx, event)
	logger.Warn().Str("reason", reason).Msg("recording failed")
}

// settle moves the recording out of processing, retrying store errors a few
// times. It reports false when another writer settled it first.
func (s *recordingService) settle(ctx context.Context, sessionId uuid.UUID, updates map[string]interface{}) (bool, error) {
	return retry(ctx, settleAttempts, s.opts.Recording.ProviderDelay, func(attempt int) (bool, error) {
		changed, err := s.opts.Repo.UpdateRecordingIfStatus(ctx, sessionId, []constant.RecordingStatus{constant.RecordingStatusProcessing}, updates)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Msg("failed to settle recording state")
		}
		return changed, err
	})
}

func (s *recordingService) record(job finalization, status constant.RecordingStatus, finishedAt time.Time) *entities.RecordingRecord {
	return &entities.RecordingRecord{
		LiveSessionId:      job.SessionId,
		TeacherId:          job.TeacherId,
		ClassId:            job.ClassId,
		SubjectId:          job.SubjectId,
		Source:             job.Source,
		Status:             status,
		ProviderResourceId: job.ResourceId,
		ProviderSessionId:  job.ProviderSessionId,
		StartedAt:          job.StartedAt,
		FinishedAt:         finishedAt,
	}
}

func (s *recordingService) event(job finalization, kind string, at time.Time) dto.RecordingEvent {
	return dto.RecordingEvent{
		Type:          kind,
		LiveSessionId: job.SessionId,
		ClassId:       job.ClassId,
		TeacherId:     job.TeacherId,
		SubjectId:     job.SubjectId,
		Source:        job.Source,
		Timestamp:     at,
	}
}

func (s *recordingService) publish(ctx context.Context, event dto.RecordingEvent) {
	if err := s.opts.Events.PublishRecording(ctx, event); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("event_type", event.Type).Msg("failed to publish recording event")
	}
}
