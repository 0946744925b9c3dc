// Package capture turns a speech recognition engine into finalized
// utterances. A Session runs at most one recognition at a time and walks
// Idle -> Requesting -> Listening -> Finalizing -> Idle, with Errored as a
// transient state on engine failure.
package capture

import (
	"context"
	"errors"
)

var (
	// ErrUnsupportedCapability is returned by Start when no recognition
	// engine is available.
	ErrUnsupportedCapability = errors.New("capture: speech recognition unavailable")

	// ErrCaptureAlreadyActive is returned by Start while a session is live.
	ErrCaptureAlreadyActive = errors.New("capture: session already active")

	// ErrCaptureNotActive is returned by Stop and FeedAudio when no session
	// is live.
	ErrCaptureNotActive = errors.New("capture: no active session")
)

// State of a capture session.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateListening  State = "listening"
	StateFinalizing State = "finalizing"
	StateErrored    State = "errored"
)

// Recognizer opens recognitions on a speech engine.
type Recognizer interface {
	// Available reports whether the engine can be used at all.
	Available() bool

	// Open starts a recognition. It returns once the engine is ready to
	// accept audio.
	Open(ctx context.Context) (Recognition, error)
}

// Recognition is one live recognition.
type Recognition interface {
	// Events is closed when the engine ends the recognition.
	Events() <-chan Event

	// SendAudio forwards a chunk of microphone audio.
	SendAudio(chunk []byte) error

	// Close abandons the recognition.
	Close() error
}

// EventKind distinguishes recognition events.
type EventKind string

const (
	EventInterim EventKind = "interim"
	EventFinal   EventKind = "final"
	EventError   EventKind = "error"
)

// Event is emitted by a Recognition.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Listener receives session notifications. Calls are made outside the
// session lock and may come from any goroutine.
type Listener interface {
	CaptureStateChanged(state State)
	CaptureInterim(text string)
	CaptureFinal(text string)
	CaptureFailed(err error)
}

// Unavailable is a Recognizer for setups without a speech engine.
type Unavailable struct{}

// Available always reports false.
func (Unavailable) Available() bool { return false }

// Open always fails with ErrUnsupportedCapability.
func (Unavailable) Open(context.Context) (Recognition, error) {
	return nil, ErrUnsupportedCapability
}
