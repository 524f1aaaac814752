package core

import "errors"

var (
	ErrAcquisitionFailed = errors.New("acquisition failed")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionClosed     = errors.New("session closed")
	ErrStopped           = errors.New("session stopped while starting")
	ErrInvalidState      = errors.New("invalid session state")
	ErrQueueEmpty        = errors.New("queue empty")
	ErrCacheWriteFailed  = errors.New("cache write failed")
)

// Transport failure classes. Engines wrap these so that the recovery
// policy can classify what went wrong with errors.Is.
var (
	ErrSourceNotFound       = errors.New("source not found")
	ErrNoActiveCall         = errors.New("no active call")
	ErrNoAudioSource        = errors.New("no audio source")
	ErrConnection           = errors.New("transport connection error")
	ErrStreamingUnsupported = errors.New("streaming mode unsupported")
)

var ErrSeekOutOfRange = errors.New("seek position out of range")
