package orchestrator

import "errors"

var (
	// ErrEmptyInput is returned by Submit when the text trims to nothing.
	ErrEmptyInput = errors.New("orchestrator: message cannot be empty")

	// ErrSubmissionInFlight is returned while a user turn is still pending.
	// Callers retry once the turn is confirmed or failed.
	ErrSubmissionInFlight = errors.New("orchestrator: previous submission still pending")

	// ErrTurnNotFound is returned for an unknown local id.
	ErrTurnNotFound = errors.New("orchestrator: turn not found")

	// ErrTurnNotFailed is returned when retrying or discarding a turn that
	// has not failed.
	ErrTurnNotFailed = errors.New("orchestrator: turn has not failed")

	// ErrNotAssistantTurn is returned by Speak for user turns.
	ErrNotAssistantTurn = errors.New("orchestrator: not an assistant turn")

	// ErrNoCompleter is returned by New without a completer.
	ErrNoCompleter = errors.New("orchestrator: completer required")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("orchestrator: closed")
)
