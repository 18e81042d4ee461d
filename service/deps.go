package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"live-academy/config"
	"live-academy/dto"
	"live-academy/pkg/lock"
	"live-academy/pkg/provider"
	"live-academy/pkg/rtc"
	"live-academy/pkg/storage"
	"live-academy/repository"
)

type RecordingProvider interface {
	Acquire(ctx context.Context, channel, uid string) (string, error)
	Start(ctx context.Context, resourceId, channel, uid string, target provider.Storage) (string, error)
	Stop(ctx context.Context, resourceId, sid, channel, uid string) (provider.StopResult, error)
	Query(ctx context.Context, resourceId, sid string) (provider.QueryResult, error)
	FetchArtifact(ctx context.Context, resourceId, sid, name, localPath string) (int64, error)
	Download(ctx context.Context, rawURL, localPath string) (int64, error)
}

type ObjectStorage interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, localPath, key, contentType string) (storage.Object, error)
	Get(ctx context.Context, key, localPath string) error
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
	URL(key string) string
}

type MediaTool interface {
	Normalize(ctx context.Context, inputPath, outputPath string) error
	Duration(ctx context.Context, path string) (time.Duration, error)
}

type Notifier interface {
	Notify(ctx context.Context, message dto.NotificationMessage)
}

type EventPublisher interface {
	PublishRecording(ctx context.Context, event dto.RecordingEvent) error
}

type CredentialIssuer interface {
	Issue(channel, identity string, role rtc.Role) (string, time.Time, error)
}

type ChatBroadcaster interface {
	Broadcast(ctx context.Context, sessionId uuid.UUID, v any)
}

type FinalizeRequester interface {
	RequestFinalize(ctx context.Context, message dto.RecordingFinalizeMessage) error
}

// defaultLocker serializes sessions in this process when Options.Locker is
// unset. It is shared so both services built from the same Options lock
// the same keys.
var defaultLocker = lock.NewKeyedMutex()

// Options wires the collaborators shared by the session and recording
// services. Locker, Notifier, Events, Credentials, Broadcaster and Finalizer
// are optional.
type Options struct {
	Repo        repository.Repository
	Locker      lock.Locker
	Provider    RecordingProvider
	Storage     ObjectStorage
	Media       MediaTool
	Notifier    Notifier
	Events      EventPublisher
	Credentials CredentialIssuer
	Broadcaster ChatBroadcaster
	Finalizer   FinalizeRequester
	Recording   config.Recording
	Bucket      string
	Now         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Locker == nil {
		o.Locker = defaultLocker
	}
	if o.Notifier == nil {
		o.Notifier = noopNotifier{}
	}
	if o.Events == nil {
		o.Events = noopEvents{}
	}
	if o.Broadcaster == nil {
		o.Broadcaster = noopBroadcaster{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Recording.WorkDir == "" {
		o.Recording.WorkDir = "temp"
	}
	return o
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, dto.NotificationMessage) {}

type noopEvents struct{}

func (noopEvents) PublishRecording(context.Context, dto.RecordingEvent) error { return nil }

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(context.Context, uuid.UUID, any) {}
