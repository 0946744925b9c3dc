// Package playback owns the single audio output channel. A Session plays at
// most one clip at a time: starting a new clip stops the previous one, and
// stopping is idempotent.
package playback

import (
	"context"
	"errors"

	"github.com/teslashibe/go-parley/pkg/tts"
)

// ErrNoAudio is returned when a clip has no audio bytes.
var ErrNoAudio = errors.New("playback: empty clip")

// State of the playback session.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StatePlaying State = "playing"
)

// Player renders audio clips on some output.
type Player interface {
	// Play loads clip and starts rendering it. It returns once audio is
	// audible or has failed to start.
	Play(ctx context.Context, clip *tts.AudioResult) (Track, error)
}

// Track is one clip being rendered.
type Track interface {
	// Done is closed when rendering ends, naturally or not.
	Done() <-chan struct{}

	// Err reports why rendering ended. Nil after a natural end or Stop.
	Err() error

	// Stop halts rendering and releases the output. Safe to call twice.
	Stop() error
}

// Listener receives playback notifications, each tagged with the turn whose
// audio is concerned.
type Listener interface {
	PlaybackStarted(turnID string)
	PlaybackFinished(turnID string)
	PlaybackStopped(turnID string)
	PlaybackFailed(turnID string, err error)
}
