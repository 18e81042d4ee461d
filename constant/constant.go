package constant

type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusLive      SessionStatus = "live"
	SessionStatusEnded     SessionStatus = "ended"
	SessionStatusCancelled SessionStatus = "cancelled"
)

func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusEnded || s == SessionStatusCancelled
}

// RecordingStatus is the sub-state of the recording embedded in a live session.
// The empty value means no recording was ever started.
type RecordingStatus string

const (
	RecordingStatusAbsent     RecordingStatus = ""
	RecordingStatusIdle       RecordingStatus = "idle"
	RecordingStatusStarting   RecordingStatus = "starting"
	RecordingStatusRecording  RecordingStatus = "recording"
	RecordingStatusPaused     RecordingStatus = "paused"
	RecordingStatusProcessing RecordingStatus = "processing"
	RecordingStatusCompleted  RecordingStatus = "completed"
	RecordingStatusFailed     RecordingStatus = "failed"
)

// CanStart reports whether a new cloud recording may be started from this state.
func (s RecordingStatus) CanStart() bool {
	switch s {
	case RecordingStatusAbsent, RecordingStatusIdle, RecordingStatusFailed:
		return true
	}
	return false
}

// IsBusy reports whether the recording is claimed by a start, an open
// provider session or a finalization.
func (s RecordingStatus) IsBusy() bool {
	return s == RecordingStatusStarting || s.IsActive() || s == RecordingStatusProcessing
}

// IsActive reports whether a provider recording session is open.
func (s RecordingStatus) IsActive() bool {
	return s == RecordingStatusRecording || s == RecordingStatusPaused
}

type RecordingSource string

const (
	RecordingSourceCloud  RecordingSource = "cloud"
	RecordingSourceClient RecordingSource = "client"
)

type UserType string

const (
	UserTypeTeacher UserType = "teacher"
	UserTypeStudent UserType = "student"
)

func (u UserType) Valid() bool {
	return u == UserTypeTeacher || u == UserTypeStudent
}

type SubscriptionStatus string

const (
	SubscriptionStatusActive SubscriptionStatus = "active"
)

const (
	RecordingEventCompleted = "recording.completed"
	RecordingEventFailed    = "recording.failed"
)

// Stored failure reasons for the cloud recording pipeline.
const (
	ReasonNoRecordedData       = "no recorded data"
	ReasonSessionNotFound      = "recording session not found"
	ReasonManifestUnavailable  = "recording manifest not available"
	ReasonProviderError        = "provider reported recording error"
	ReasonArtifactUnavailable  = "recording artifact could not be retrieved"
	ReasonDurableURLMissing    = "recording has no durable url"
	ReasonFinalizationPanicked = "recording finalization panicked"
	ReasonUploadInterrupted    = "client recording upload was interrupted"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
