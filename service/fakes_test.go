package service_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"live-academy/config"
	"live-academy/constant"
	"live-academy/dto"
	"live-academy/entities"
	"live-academy/pkg/lock"
	"live-academy/pkg/provider"
	"live-academy/pkg/storage"
	"live-academy/repository"
	"live-academy/service"
	"live-academy/testsupport"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type queryStep struct {
	result provider.QueryResult
	err    error
}

type fakeProvider struct {
	mu sync.Mutex

	acquireErrs []error
	acquireHook func()
	startErr    error
	stopResult  provider.StopResult
	stopErr     error
	stopHook    func()
	queries     []queryStep
	artifact    []byte
	fetchErr    error

	acquireCalls int
	startCalls   int
	stopCalls    int
	queryCalls   int
	fetchCalls   int
}

func (p *fakeProvider) Acquire(_ context.Context, _, _ string) (string, error) {
	p.mu.Lock()
	hook := p.acquireHook
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquireCalls++
	if len(p.acquireErrs) > 0 {
		err := p.acquireErrs[0]
		if len(p.acquireErrs) > 1 {
			p.acquireErrs = p.acquireErrs[1:]
		}
		if err != nil {
			return "", err
		}
	}
	return "resource-1", nil
}

func (p *fakeProvider) Start(_ context.Context, _, _, _ string, _ provider.Storage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startCalls++
	if p.startErr != nil {
		return "", p.startErr
	}
	return "sid-1", nil
}

func (p *fakeProvider) Stop(_ context.Context, _, _, _, _ string) (provider.StopResult, error) {
	p.mu.Lock()
	p.stopCalls++
	hook, result, err := p.stopHook, p.stopResult, p.stopErr
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	return result, err
}

func (p *fakeProvider) Query(_ context.Context, _, _ string) (provider.QueryResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queryCalls++
	if len(p.queries) == 0 {
		return provider.QueryResult{}, provider.ErrNotFound
	}
	step := p.queries[0]
	if len(p.queries) > 1 {
		p.queries = p.queries[1:]
	}
	return step.result, step.err
}

func (p *fakeProvider) FetchArtifact(_ context.Context, _, _, _, localPath string) (int64, error) {
	p.mu.Lock()
	p.fetchCalls++
	data, err := p.artifact, p.fetchErr
	p.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return int64(len(data)), os.WriteFile(localPath, data, 0o644)
}

func (p *fakeProvider) Download(ctx context.Context, _ string, localPath string) (int64, error) {
	return p.FetchArtifact(ctx, "", "", "", localPath)
}

func (p *fakeProvider) calls() (stop, query, fetch int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopCalls, p.queryCalls, p.fetchCalls
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (s *fakeStorage) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeStorage) Put(_ context.Context, localPath, key, _ string) (storage.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return storage.Object{}, s.putErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return storage.Object{}, err
	}
	s.objects[key] = data
	return storage.Object{Key: key, URL: s.URL(key), Size: int64(len(data))}, nil
}

func (s *fakeStorage) Get(_ context.Context, key, localPath string) error {
	s.mu.Lock()
	data := s.objects[key]
	s.mu.Unlock()
	return os.WriteFile(localPath, data, 0o644)
}

func (s *fakeStorage) Presign(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

func (s *fakeStorage) URL(key string) string {
	return "http://minio.local/recordings/" + key
}

func (s *fakeStorage) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

type fakeMedia struct {
	normalizeErr error
	duration     time.Duration
}

func (m *fakeMedia) Normalize(_ context.Context, inputPath, outputPath string) error {
	if m.normalizeErr != nil {
		return m.normalizeErr
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0o644)
}

func (m *fakeMedia) Duration(context.Context, string) (time.Duration, error) {
	return m.duration, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []dto.NotificationMessage
}

func (n *fakeNotifier) Notify(_ context.Context, message dto.NotificationMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []dto.RecordingEvent
}

func (e *fakeEvents) PublishRecording(_ context.Context, event dto.RecordingEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *fakeEvents) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []any
}

func (b *fakeBroadcaster) Broadcast(_ context.Context, _ uuid.UUID, v any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, v)
}

type fakeFinalizer struct {
	mu       sync.Mutex
	messages []dto.RecordingFinalizeMessage
}

func (f *fakeFinalizer) RequestFinalize(_ context.Context, message dto.RecordingFinalizeMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return nil
}

type fixture struct {
	repo        repository.Repository
	clock       *clock
	provider    *fakeProvider
	storage     *fakeStorage
	media       *fakeMedia
	notifier    *fakeNotifier
	events      *fakeEvents
	broadcaster *fakeBroadcaster
	opts        service.Options
	sessions    service.LiveSessionService
	recordings  service.RecordingService

	teacher   dto.Actor
	student   dto.Actor
	classId   uuid.UUID
	subjectId uuid.UUID
}

func recordingConfig(t *testing.T) config.Recording {
	return config.Recording{
		RecorderUid:          "900001",
		KeyPrefix:            "recordings",
		WorkDir:              t.TempDir(),
		ProviderAttempts:     3,
		ProviderDelay:        time.Millisecond,
		QueryAttempts:        5,
		QueryDelay:           time.Millisecond,
		StillRecordingDelay:  time.Millisecond,
		StorageCheckAttempts: 2,
		StorageCheckDelay:    time.Millisecond,
		DownloadAttempts:     2,
		DownloadDelay:        time.Millisecond,
		PlaybackURLTTL:       time.Minute,
		StuckAfter:           time.Minute,
	}
}

func newFixture(t *testing.T, configure ...func(*service.Options)) *fixture {
	t.Helper()
	f := &fixture{
		repo:        testsupport.OpenRepo(t),
		clock:       &clock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)},
		provider:    &fakeProvider{artifact: []byte("mp4-bytes")},
		storage:     newFakeStorage(),
		media:       &fakeMedia{duration: 90 * time.Second},
		notifier:    &fakeNotifier{},
		events:      &fakeEvents{},
		broadcaster: &fakeBroadcaster{},
		teacher:     dto.Actor{UserId: uuid.New(), UserType: constant.UserTypeTeacher, DisplayName: "Ms Teacher"},
		student:     dto.Actor{UserId: uuid.New(), UserType: constant.UserTypeStudent, DisplayName: "Student One"},
		classId:     uuid.New(),
		subjectId:   uuid.New(),
	}
	testsupport.AssignTeacher(t, f.repo, f.teacher.UserId, f.classId, f.subjectId)
	testsupport.Subscribe(t, f.repo, f.student.UserId, f.classId, nil)

	f.opts = service.Options{
		Repo:        f.repo,
		Locker:      lock.NewKeyedMutex(),
		Provider:    f.provider,
		Storage:     f.storage,
		Media:       f.media,
		Notifier:    f.notifier,
		Events:      f.events,
		Broadcaster: f.broadcaster,
		Recording:   recordingConfig(t),
		Bucket:      "recordings",
		Now:         f.clock.Now,
	}
	for _, c := range configure {
		c(&f.opts)
	}
	f.recordings = service.NewRecordingService(f.opts)
	f.sessions = service.NewLiveSessionService(f.opts, f.recordings)
	t.Cleanup(f.recordings.Wait)
	return f
}

func (f *fixture) addStudent(t *testing.T) dto.Actor {
	t.Helper()
	student := dto.Actor{UserId: uuid.New(), UserType: constant.UserTypeStudent, DisplayName: "Student"}
	testsupport.Subscribe(t, f.repo, student.UserId, f.classId, nil)
	return student
}

func (f *fixture) scheduled(t *testing.T) *entities.LiveSession {
	t.Helper()
	return testsupport.Session(t, f.repo, f.teacher.UserId, f.classId, f.subjectId, f.clock.Now())
}

func (f *fixture) live(t *testing.T) *entities.LiveSession {
	t.Helper()
	session := f.scheduled(t)
	started, err := f.sessions.Start(context.Background(), f.teacher, session.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return started
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *entities.LiveSession {
	t.Helper()
	session, err := f.repo.FindSessionDetail(context.Background(), id)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	return session
}

func (f *fixture) records(t *testing.T, sessionId uuid.UUID) []entities.RecordingRecord {
	t.Helper()
	items, _, err := f.repo.ListRecordingRecords(context.Background(), repository.RecordingQuery{LiveSessionId: &sessionId, Limit: 100})
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	return items
}
