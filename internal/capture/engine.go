package capture

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode classifies speech engine failures.
type ErrorCode string

const (
	ErrNoSpeech         ErrorCode = "no-speech"
	ErrAborted          ErrorCode = "aborted"
	ErrNoMatch          ErrorCode = "no-match"
	ErrPermissionDenied ErrorCode = "permission-denied"
	ErrAudioCapture     ErrorCode = "audio-capture"
	ErrNetwork          ErrorCode = "network"
	ErrUnsupported      ErrorCode = "unsupported"
)

// Recoverable codes reflect ordinary silence or ambiguity, not a fault.
func (c ErrorCode) Recoverable() bool {
	switch c {
	case ErrNoSpeech, ErrAborted, ErrNoMatch:
		return true
	}
	return false
}

// Message is the user-facing cause shown for a fatal code.
func (c ErrorCode) Message() string {
	switch c {
	case ErrAudioCapture:
		return "Microphone not accessible. Please check permissions."
	case ErrPermissionDenied:
		return "Microphone permission denied. Please allow access."
	case ErrNetwork:
		return "Network error. Please check your connection."
	case ErrUnsupported:
		return "Speech recognition is not supported on this device."
	}
	return "Speech recognition failed. Please try again."
}

// EngineError is what a SpeechEngine reports through OnError or returns from its methods.
type EngineError struct {
	Code ErrorCode
	Err  error
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return "speech engine: " + string(e.Code)
	}
	return fmt.Sprintf("speech engine: %s: %v", e.Code, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// NewEngineError wraps err with a classification code.
func NewEngineError(code ErrorCode, err error) *EngineError {
	return &EngineError{Code: code, Err: err}
}

// CodeOf extracts the classification from err. Unclassified errors are
// treated as capture faults.
func CodeOf(err error) ErrorCode {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ErrAudioCapture
}

// Result is one recognition hypothesis. Only final results are acted on.
type Result struct {
	Transcript string
	Final      bool
}

// EngineEvents are the callbacks an engine invokes while running. They may
// be called from any goroutine, including after Stop.
type EngineEvents struct {
	OnResult func(Result)
	OnError  func(error)
	OnEnd    func()
}

// Recognition is one running engine session. Stop ends only that session
// and is idempotent.
type Recognition interface {
	Stop()
}

// SpeechEngine is the platform speech-to-text capability. Implementations
// must not call EngineEvents while holding locks that Start or a
// Recognition's Stop acquire.
type SpeechEngine interface {
	// RequestPermission blocks until microphone access is granted or refused.
	RequestPermission(ctx context.Context) error
	// Start begins recognition for locale (a BCP-47 tag such as "hi-IN").
	// Recognition ends when ctx is done or the returned handle is stopped.
	// Start must fail, without disturbing other recognitions, when ctx is
	// already done.
	Start(ctx context.Context, locale string, ev EngineEvents) (Recognition, error)
}
