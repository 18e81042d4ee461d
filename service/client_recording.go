package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"live-academy/constant"
	"live-academy/dto"
	"live-academy/entities"
)

const defaultClientRecordingExt = ".webm"

// UploadClientRecording stores a recording captured in the teacher's browser.
// The blob is normalized to mp4, uploaded and recorded like a cloud recording.
func (s *recordingService) UploadClientRecording(ctx context.Context, actor dto.Actor, sessionId uuid.UUID, fileName string, body io.Reader) (*entities.LiveSession, error) {
	session, err := findSession(ctx, s.opts.Repo, sessionId)
	if err != nil {
		return nil, err
	}
	if err := ownedBy(actor, session); err != nil {
		return nil, err
	}

	logger := zerolog.Ctx(ctx).With().Str("live_session_id", sessionId.String()).Logger()
	ctx = logger.WithContext(ctx)

	workDir := filepath.Join(s.opts.Recording.WorkDir, sessionId.String(), "client-"+uuid.NewString())
	if err := os.MkdirAll(workDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn().Err(err).Str("work_dir", workDir).Msg("failed to remove client recording work dir")
		}
	}()

	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		ext = defaultClientRecordingExt
	}
	inputPath := filepath.Join(workDir, "input"+ext)
	written, err := writeFile(inputPath, body)
	if err != nil {
		return nil, fmt.Errorf("store uploaded recording: %w", err)
	}
	if written == 0 {
		return nil, ErrEmptyRecording
	}

	var job finalization
	err = withSessionLock(ctx, s.opts.Locker, sessionId, func() error {
		current, err := findSession(ctx, s.opts.Repo, sessionId)
		if err != nil {
			return err
		}
		if current.Recording.Status.IsBusy() {
			return ErrInvalidRecordingState
		}
		now := s.now()
		err = s.opts.Repo.UpdateRecording(ctx, sessionId, map[string]interface{}{
			"recording_status":               constant.RecordingStatusProcessing,
			"recording_source":               constant.RecordingSourceClient,
			"recording_provider_resource_id": "",
			"recording_provider_session_id":  "",
			"recording_recorder_identity":    "",
			"recording_started_at":           now,
			"recording_durable_url":          nil,
			"recording_durable_key":          nil,
			"recording_file_size_bytes":      nil,
			"recording_duration_seconds":     nil,
			"recording_error_message":        nil,
			"recording_state_changed_at":     now,
		})
		if err != nil {
			return err
		}
		job = newFinalization(*current)
		job.Source = constant.RecordingSourceClient
		job.ResourceId, job.ProviderSessionId, job.RecorderIdentity = "", "", ""
		job.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Int64("size", written).Msg("processing client recording upload")

	outputPath := filepath.Join(workDir, "recording.mp4")
	if err := s.opts.Media.Normalize(ctx, inputPath, outputPath); err != nil {
		logger.Error().Err(err).Msg("failed to normalize client recording")
		s.fail(ctx, job, fmt.Sprintf("normalize client recording: %v", err), nil)
		return nil, fmt.Errorf("normalize client recording: %w", err)
	}

	key := path.Join(s.opts.Recording.KeyPrefix, sessionId.String(), fmt.Sprintf("client-%d.mp4", job.StartedAt.Unix()))
	object, err := s.opts.Storage.Put(ctx, outputPath, key, "video/mp4")
	if err != nil {
		logger.Error().Err(err).Msg("failed to upload client recording")
		s.fail(ctx, job, fmt.Sprintf("%v: %v", ErrStorage, err), nil)
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	url := object.URL
	if url == "" {
		url = s.opts.Storage.URL(key)
	}
	result := &artifact{key: key, url: url}
	result.sizeBytes, result.durationSeconds = s.measure(ctx, outputPath)
	s.complete(ctx, job, result)
	return findSession(context.WithoutCancel(ctx), s.opts.Repo, sessionId)
}

func writeFile(localPath string, body io.Reader) (int64, error) {
	file, err := os.Create(localPath)
	if err != nil {
		return 0, err
	}
	written, copyErr := io.Copy(file, body)
	if err := file.Close(); err != nil && copyErr == nil {
		copyErr = err
	}
	return written, copyErr
}
