package service

import (
	"errors"
	"fmt"
)

// Error classes. Every variant below wraps exactly one of them, so callers
// can match either the variant or its class with errors.Is.
var (
	ErrNotAuthorized   = errors.New("not authorized")
	ErrNotOwner        = errors.New("caller does not own this live session")
	ErrSessionNotFound = errors.New("live session not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrValidation      = errors.New("validation error")
	ErrProvider        = errors.New("recording provider error")
	ErrStorage         = errors.New("storage error")
)

var (
	ErrAlreadyLive           = fmt.Errorf("%w: live session already started", ErrInvalidState)
	ErrTerminalState         = fmt.Errorf("%w: live session already ended or cancelled", ErrInvalidState)
	ErrNotLive               = fmt.Errorf("%w: live session is not live", ErrInvalidState)
	ErrNotParticipant        = fmt.Errorf("%w: caller has not joined this live session", ErrInvalidState)
	ErrInvalidRecordingState = fmt.Errorf("%w: recording is not in a state that allows this", ErrInvalidState)

	ErrInvalidSchedule = fmt.Errorf("%w: scheduled start must be before scheduled end", ErrValidation)
	ErrEmptyChatText   = fmt.Errorf("%w: chat text must not be empty", ErrValidation)
	ErrEmptyRecording  = fmt.Errorf("%w: recording file is empty", ErrValidation)
	ErrMissingClass    = fmt.Errorf("%w: classId is required", ErrValidation)

	ErrRecordingStartFailed = fmt.Errorf("%w: failed to start recording", ErrProvider)
)
