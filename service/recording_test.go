package service_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"live-academy/constant"
	"live-academy/entities"
	"live-academy/pkg/provider"
	"live-academy/service"
)

func startRecording(t *testing.T, f *fixture) *entities.LiveSession {
	t.Helper()
	session := f.live(t)
	recording, err := f.recordings.StartRecording(context.Background(), f.teacher, session.ID)
	if err != nil {
		t.Fatalf("start recording: %v", err)
	}
	return recording
}

func stopAndWait(t *testing.T, f *fixture, sessionId uuid.UUID) *entities.LiveSession {
	t.Helper()
	stopped, err := f.recordings.StopRecording(context.Background(), f.teacher, sessionId)
	if err != nil {
		t.Fatalf("stop recording: %v", err)
	}
	if stopped.Recording.Status != constant.RecordingStatusProcessing {
		t.Fatalf("expected processing right after stop, got %q", stopped.Recording.Status)
	}
	f.recordings.Wait()
	return f.reload(t, sessionId)
}

func TestStartRecording_RetriesProviderAndStoresIdentifiers(t *testing.T) {
	f := newFixture(t)
	f.provider.acquireErrs = []error{errors.New("temporarily unavailable"), nil}

	session := startRecording(t, f)
	rec := session.Recording
	if rec.Status != constant.RecordingStatusRecording || rec.Source != constant.RecordingSourceCloud {
		t.Fatalf("expected cloud recording, got %+v", rec)
	}
	if rec.ProviderResourceId != "resource-1" || rec.ProviderSessionId != "sid-1" || rec.RecorderIdentity != "900001" {
		t.Fatalf("unexpected provider identifiers %+v", rec)
	}
	if rec.StartedAt == nil || rec.StateChangedAt == nil {
		t.Fatalf("expected timestamps, got %+v", rec)
	}
	if f.provider.acquireCalls != 2 {
		t.Fatalf("expected 2 acquire calls, got %d", f.provider.acquireCalls)
	}
}

func TestStartRecording_FailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.startErr = &provider.APIError{StatusCode: 500, Body: "boom"}
	session := f.live(t)

	_, err := f.recordings.StartRecording(ctx, f.teacher, session.ID)
	if !errors.Is(err, service.ErrRecordingStartFailed) || !errors.Is(err, service.ErrProvider) {
		t.Fatalf("expected ErrRecordingStartFailed, got %v", err)
	}
	if f.provider.startCalls != 3 {
		t.Fatalf("expected 3 start attempts, got %d", f.provider.startCalls)
	}
	rec := f.reload(t, session.ID).Recording
	if rec.Status != constant.RecordingStatusAbsent || rec.StateChangedAt != nil {
		t.Fatalf("expected no recording, got %+v", rec)
	}
}

func TestStartRecording_RequiresLiveOwnerAndStartableState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	scheduled := f.scheduled(t)
	if _, err := f.recordings.StartRecording(ctx, f.teacher, scheduled.ID); !errors.Is(err, service.ErrNotLive) {
		t.Fatalf("expected ErrNotLive, got %v", err)
	}

	session := startRecording(t, f)
	if _, err := f.recordings.StartRecording(ctx, f.student, session.ID); !errors.Is(err, service.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if _, err := f.recordings.StartRecording(ctx, f.teacher, session.ID); !errors.Is(err, service.ErrInvalidRecordingState) {
		t.Fatalf("expected ErrInvalidRecordingState, got %v", err)
	}
}

func TestPauseResume_IgnoresWrongStates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session := f.live(t)

	paused, err := f.recordings.PauseRecording(ctx, f.teacher, session.ID)
	if err != nil {
		t.Fatalf("pause without recording: %v", err)
	}
	if paused.Recording.Status != constant.RecordingStatusAbsent {
		t.Fatalf("expected pause to be ignored, got %q", paused.Recording.Status)
	}

	if _, err := f.recordings.StartRecording(ctx, f.teacher, session.ID); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if _, err := f.recordings.PauseRecording(ctx, f.student, session.ID); !errors.Is(err, service.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	paused, err = f.recordings.PauseRecording(ctx, f.teacher, session.ID)
	if err != nil || paused.Recording.Status != constant.RecordingStatusPaused {
		t.Fatalf("expected paused, got %+v err=%v", paused.Recording, err)
	}
	resumed, err := f.recordings.ResumeRecording(ctx, f.teacher, session.ID)
	if err != nil || resumed.Recording.Status != constant.RecordingStatusRecording {
		t.Fatalf("expected recording, got %+v err=%v", resumed.Recording, err)
	}
	if got := f.reload(t, session.ID).Recording.Status; got != constant.RecordingStatusRecording {
		t.Fatalf("expected stored recording status, got %q", got)
	}
}

func TestStopRecording_PollsUntilManifestThenCompletes(t *testing.T) {
	f := newFixture(t)
	f.provider.stopErr = &provider.APIError{StatusCode: 500, Body: "stop failed"}
	f.provider.queries = []queryStep{
		{result: provider.QueryResult{Status: provider.StatusRecording}},
		{result: provider.QueryResult{Status: provider.StatusRecording}},
		{result: provider.QueryResult{
			Status:   provider.StatusFinished,
			FileList: []provider.File{{FileName: "sid-1_class.m3u8"}, {FileName: "sid-1_class.mp4"}},
			Raw:      []byte(`{"status":3}`),
		}},
	}
	session := startRecording(t, f)

	done := stopAndWait(t, f, session.ID)
	rec := done.Recording
	key := "recordings/" + session.ID.String() + "/sid-1_class.mp4"
	if rec.Status != constant.RecordingStatusCompleted {
		t.Fatalf("expected completed, got %q (%v)", rec.Status, rec.ErrorMessage)
	}
	if rec.DurableKey == nil || *rec.DurableKey != key {
		t.Fatalf("expected durable key %q, got %v", key, rec.DurableKey)
	}
	if rec.DurableUrl == nil || !strings.HasSuffix(*rec.DurableUrl, key) {
		t.Fatalf("unexpected durable url %v", rec.DurableUrl)
	}
	if rec.FileSizeBytes == nil || *rec.FileSizeBytes != int64(len("mp4-bytes")) {
		t.Fatalf("unexpected size %v", rec.FileSizeBytes)
	}
	if rec.DurationSeconds == nil || *rec.DurationSeconds != 90 {
		t.Fatalf("unexpected duration %v", rec.DurationSeconds)
	}
	if !f.storage.has(key) {
		t.Fatalf("expected artifact uploaded to %s", key)
	}

	_, queries, _ := f.provider.calls()
	if queries != 3 {
		t.Fatalf("expected 3 queries, got %d", queries)
	}
	records := f.records(t, session.ID)
	if len(records) != 1 || records[0].Status != constant.RecordingStatusCompleted {
		t.Fatalf("expected one completed record, got %+v", records)
	}
	if string(records[0].Manifest) != `{"status":3}` {
		t.Fatalf("expected manifest stored, got %s", records[0].Manifest)
	}
	if types := f.events.types(); len(types) != 1 || types[0] != constant.RecordingEventCompleted {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestStopRecording_NoRecordedDataFailsWithoutQuery(t *testing.T) {
	f := newFixture(t)
	f.provider.stopResult = provider.StopResult{Code: provider.CodeNoRecordedData, Message: "no data"}
	session := startRecording(t, f)

	done := stopAndWait(t, f, session.ID)
	rec := done.Recording
	if rec.Status != constant.RecordingStatusFailed {
		t.Fatalf("expected failed, got %q", rec.Status)
	}
	if rec.ErrorMessage == nil || *rec.ErrorMessage != constant.ReasonNoRecordedData {
		t.Fatalf("unexpected error message %v", rec.ErrorMessage)
	}
	if _, queries, _ := f.provider.calls(); queries != 0 {
		t.Fatalf("expected no query calls, got %d", queries)
	}
	records := f.records(t, session.ID)
	if len(records) != 1 || records[0].Status != constant.RecordingStatusFailed {
		t.Fatalf("expected one failed record, got %+v", records)
	}
	if types := f.events.types(); len(types) != 1 || types[0] != constant.RecordingEventFailed {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestStopRecording_RequiresActiveRecording(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session := f.live(t)
	if _, err := f.recordings.StopRecording(ctx, f.teacher, session.ID); !errors.Is(err, service.ErrInvalidRecordingState) {
		t.Fatalf("expected ErrInvalidRecordingState, got %v", err)
	}
}

func TestEnd_FinalizesActiveRecordingFromStorage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.stopResult = provider.StopResult{FileList: []provider.File{{FileName: "sid-1_class.mp4"}}}
	session := startRecording(t, f)
	key := "recordings/" + session.ID.String() + "/sid-1_class.mp4"
	f.storage.objects[key] = []byte("already-uploaded")

	ended, err := f.sessions.End(ctx, f.teacher, session.ID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != constant.SessionStatusEnded {
		t.Fatalf("expected ended, got %s", ended.Status)
	}
	f.recordings.Wait()

	done := f.reload(t, session.ID)
	if done.Status != constant.SessionStatusEnded {
		t.Fatalf("finalizer must not touch session status, got %s", done.Status)
	}
	if done.Recording.Status != constant.RecordingStatusCompleted {
		t.Fatalf("expected completed, got %q", done.Recording.Status)
	}
	if *done.Recording.FileSizeBytes != int64(len("already-uploaded")) {
		t.Fatalf("unexpected size %d", *done.Recording.FileSizeBytes)
	}
	if _, _, fetches := f.provider.calls(); fetches != 0 {
		t.Fatalf("expected no provider download, got %d", fetches)
	}
}

func TestFinalize_FailureReasons(t *testing.T) {
	tests := []struct {
		name      string
		configure func(f *fixture)
		reason    string
	}{
		{
			name: "provider reports error",
			configure: func(f *fixture) {
				f.provider.stopErr = provider.ErrNotFound
				f.provider.queries = []queryStep{{result: provider.QueryResult{Status: provider.StatusError, Message: "encoder crashed"}}}
			},
			reason: constant.ReasonProviderError + ": encoder crashed",
		},
		{
			name: "session unknown to provider",
			configure: func(f *fixture) {
				f.provider.stopErr = provider.ErrNotFound
				f.provider.queries = []queryStep{{err: provider.ErrNotFound}}
			},
			reason: constant.ReasonSessionNotFound,
		},
		{
			name: "manifest never arrives",
			configure: func(f *fixture) {
				f.provider.stopErr = errors.New("timeout")
				f.provider.queries = []queryStep{{result: provider.QueryResult{Status: provider.StatusFinished}}}
			},
			reason: constant.ReasonManifestUnavailable,
		},
		{
			name: "artifact cannot be downloaded",
			configure: func(f *fixture) {
				f.provider.stopResult = provider.StopResult{FileList: []provider.File{{FileName: "sid-1.mp4"}}}
				f.provider.fetchErr = provider.ErrNotFound
			},
			reason: constant.ReasonArtifactUnavailable,
		},
		{
			name: "upload fails",
			configure: func(f *fixture) {
				f.provider.stopResult = provider.StopResult{FileList: []provider.File{{FileName: "sid-1.mp4"}}}
				f.storage.putErr = errors.New("bucket gone")
			},
			reason: service.ErrStorage.Error(),
		},
		{
			name: "pipeline panics",
			configure: func(f *fixture) {
				f.provider.stopHook = func() { panic("provider client bug") }
			},
			reason: constant.ReasonFinalizationPanicked,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.configure(f)
			session := startRecording(t, f)

			done := stopAndWait(t, f, session.ID)
			rec := done.Recording
			if rec.Status != constant.RecordingStatusFailed {
				t.Fatalf("expected failed, got %q", rec.Status)
			}
			if rec.ErrorMessage == nil || !strings.HasPrefix(*rec.ErrorMessage, tt.reason) {
				t.Fatalf("expected reason %q, got %v", tt.reason, rec.ErrorMessage)
			}
			if records := f.records(t, session.ID); len(records) != 1 {
				t.Fatalf("expected one record, got %d", len(records))
			}
		})
	}
}

func TestFinalize_QueryNotFoundRetriesUntilLastAttempt(t *testing.T) {
	f := newFixture(t)
	f.provider.stopErr = provider.ErrNotFound
	f.provider.queries = []queryStep{{err: provider.ErrNotFound}}
	session := startRecording(t, f)

	stopAndWait(t, f, session.ID)
	if _, queries, _ := f.provider.calls(); queries != f.opts.Recording.QueryAttempts {
		t.Fatalf("expected %d queries, got %d", f.opts.Recording.QueryAttempts, queries)
	}
}

func TestRefinalize_OnlyActsOnProcessingRecordings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.stopResult = provider.StopResult{FileList: []provider.File{{FileName: "sid-1.mp4"}}}
	session := startRecording(t, f)

	if err := f.recordings.Refinalize(ctx, session.ID); err != nil {
		t.Fatalf("refinalize recording: %v", err)
	}
	if stops, _, _ := f.provider.calls(); stops != 0 {
		t.Fatalf("expected no stop for an active recording, got %d", stops)
	}

	err := f.repo.UpdateRecording(ctx, session.ID, map[string]interface{}{"recording_status": constant.RecordingStatusProcessing})
	if err != nil {
		t.Fatalf("update recording: %v", err)
	}
	if err := f.recordings.Refinalize(ctx, session.ID); err != nil {
		t.Fatalf("refinalize: %v", err)
	}
	if got := f.reload(t, session.ID).Recording.Status; got != constant.RecordingStatusCompleted {
		t.Fatalf("expected completed, got %q", got)
	}

	if err := f.recordings.Refinalize(ctx, uuid.New()); !errors.Is(err, service.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRecoverStuck_EnqueuesOrFinalizesLocally(t *testing.T) {
	ctx := context.Background()
	finalizer := &fakeFinalizer{}
	queued := newFixture(t, func(o *service.Options) { o.Finalizer = finalizer })
	session := startRecording(t, queued)
	stale := queued.clock.Now().Add(-time.Hour)
	err := queued.repo.UpdateRecording(ctx, session.ID, map[string]interface{}{
		"recording_status":           constant.RecordingStatusProcessing,
		"recording_state_changed_at": stale,
	})
	if err != nil {
		t.Fatalf("update recording: %v", err)
	}

	count, err := queued.recordings.RecoverStuck(ctx, time.Minute)
	if err != nil || count != 1 {
		t.Fatalf("expected 1 recovered, got %d err=%v", count, err)
	}
	if len(finalizer.messages) != 1 || finalizer.messages[0].LiveSessionId != session.ID {
		t.Fatalf("expected finalize request for session, got %+v", finalizer.messages)
	}

	local := newFixture(t)
	local.provider.stopResult = provider.StopResult{FileList: []provider.File{{FileName: "sid-1.mp4"}}}
	session = startRecording(t, local)
	err = local.repo.UpdateRecording(ctx, session.ID, map[string]interface{}{
		"recording_status":           constant.RecordingStatusProcessing,
		"recording_state_changed_at": local.clock.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("update recording: %v", err)
	}
	count, err = local.recordings.RecoverStuck(ctx, time.Minute)
	if err != nil || count != 1 {
		t.Fatalf("expected 1 recovered, got %d err=%v", count, err)
	}
	local.recordings.Wait()
	if got := local.reload(t, session.ID).Recording.Status; got != constant.RecordingStatusCompleted {
		t.Fatalf("expected completed, got %q", got)
	}
}

func TestUploadClientRecording(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session := f.live(t)

	_, err := f.recordings.UploadClientRecording(ctx, f.teacher, session.ID, "capture.webm", bytes.NewReader(nil))
	if !errors.Is(err, service.ErrEmptyRecording) {
		t.Fatalf("expected ErrEmptyRecording, got %v", err)
	}
	if got := f.reload(t, session.ID).Recording.Status; got != constant.RecordingStatusAbsent {
		t.Fatalf("empty upload must not change state, got %q", got)
	}

	if _, err := f.recordings.UploadClientRecording(ctx, f.student, session.ID, "capture.webm", strings.NewReader("x")); !errors.Is(err, service.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	done, err := f.recordings.UploadClientRecording(ctx, f.teacher, session.ID, "capture.webm", strings.NewReader("webm-data"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	rec := done.Recording
	if rec.Status != constant.RecordingStatusCompleted || rec.Source != constant.RecordingSourceClient {
		t.Fatalf("expected completed client recording, got %+v", rec)
	}
	prefix := "recordings/" + session.ID.String() + "/client-"
	if rec.DurableKey == nil || !strings.HasPrefix(*rec.DurableKey, prefix) || !strings.HasSuffix(*rec.DurableKey, ".mp4") {
		t.Fatalf("unexpected durable key %v", rec.DurableKey)
	}
	if !f.storage.has(*rec.DurableKey) {
		t.Fatalf("expected stored artifact")
	}
	if types := f.events.types(); len(types) != 1 || types[0] != constant.RecordingEventCompleted {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestUploadClientRecording_FailuresSettleState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.media.normalizeErr = errors.New("ffmpeg exited 1")
	session := f.live(t)

	if _, err := f.recordings.UploadClientRecording(ctx, f.teacher, session.ID, "capture.webm", strings.NewReader("data")); err == nil {
		t.Fatalf("expected normalize error")
	}
	rec := f.reload(t, session.ID).Recording
	if rec.Status != constant.RecordingStatusFailed || rec.Source != constant.RecordingSourceClient {
		t.Fatalf("expected failed client recording, got %+v", rec)
	}

	f.media.normalizeErr = nil
	if _, err := f.recordings.StartRecording(ctx, f.teacher, session.ID); err != nil {
		t.Fatalf("start after failure: %v", err)
	}
	_, err := f.recordings.UploadClientRecording(ctx, f.teacher, session.ID, "capture.webm", strings.NewReader("data"))
	if !errors.Is(err, service.ErrInvalidRecordingState) {
		t.Fatalf("upload during recording: expected ErrInvalidRecordingState, got %v", err)
	}
}

func TestRefinalize_InterruptedClientUploadFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	session := f.live(t)
	err := f.repo.UpdateRecording(ctx, session.ID, map[string]interface{}{
		"recording_status": constant.RecordingStatusProcessing,
		"recording_source": constant.RecordingSourceClient,
	})
	if err != nil {
		t.Fatalf("update recording: %v", err)
	}

	if err := f.recordings.Refinalize(ctx, session.ID); err != nil {
		t.Fatalf("refinalize: %v", err)
	}
	rec := f.reload(t, session.ID).Recording
	if rec.Status != constant.RecordingStatusFailed || rec.ErrorMessage == nil || *rec.ErrorMessage != constant.ReasonUploadInterrupted {
		t.Fatalf("expected interrupted upload failure, got %+v", rec)
	}
}
