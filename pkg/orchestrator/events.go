package orchestrator

import (
	"time"

	"github.com/teslashibe/go-parley/pkg/transcript"
)

// EventKind names a notification.
type EventKind string

const (
	EventTurnAdded        EventKind = "turn.added"
	EventTurnUpdated      EventKind = "turn.updated"
	EventTurnRemoved      EventKind = "turn.removed"
	EventSubmitRejected   EventKind = "submit.rejected"
	EventCaptureState     EventKind = "capture.state"
	EventCaptureInterim   EventKind = "capture.interim"
	EventCaptureEmpty     EventKind = "capture.empty"
	EventCaptureFailed    EventKind = "capture.failed"
	EventStoreAppendFail  EventKind = "store.append_failed"
	EventCompletionFailed EventKind = "completion.failed"
	EventSynthesisFailed  EventKind = "synthesis.failed"
	EventPlaybackStarted  EventKind = "playback.started"
	EventPlaybackFinished EventKind = "playback.finished"
	EventPlaybackStopped  EventKind = "playback.stopped"
	EventPlaybackFailed   EventKind = "playback.failed"
)

// Event is an asynchronous notification. In-flight failures carry the
// LocalID of the turn they concern so clients can render status inline.
type Event struct {
	Kind   EventKind        `json:"kind"`
	TurnID string           `json:"turnId,omitempty"`
	Turn   *transcript.Turn `json:"turn,omitempty"`
	Text   string           `json:"text,omitempty"`
	State  string           `json:"state,omitempty"`
	Reason string           `json:"reason,omitempty"`
	Error  string           `json:"error,omitempty"`
	Time   time.Time        `json:"time"`

	Err error `json:"-"`
}

// Sink receives events. Publish is called from arbitrary goroutines and
// must not block for long.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Publish calls f(ev).
func (f SinkFunc) Publish(ev Event) { f(ev) }

func turnEvent(kind EventKind, turn transcript.Turn) Event {
	return Event{Kind: kind, TurnID: turn.LocalID, Turn: &turn}
}

func failureEvent(kind EventKind, turnID string, err error) Event {
	ev := Event{Kind: kind, TurnID: turnID, Err: err}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
