package playback

import (
	"context"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-parley/pkg/tts"
)

// Session is the playback state machine.
type Session struct {
	player   Player
	listener Listener
	logger   *slog.Logger

	mu     sync.Mutex
	state  State
	turnID string
	gen    uint64
	track  Track
	cancel context.CancelFunc
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	State        State  `json:"state"`
	SourceTurnID string `json:"sourceTurnId,omitempty"`
}

// NewSession creates an idle session. listener may be nil.
func NewSession(player Player, listener Listener, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		player:   player,
		listener: listener,
		logger:   logger.With("component", "playback.session"),
		state:    StateIdle,
	}
}

// Snapshot returns the current state and source turn.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.state, SourceTurnID: s.turnID}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Play supersedes whatever is playing and starts loading clip. Loading and
// rendering happen in the background.
func (s *Session) Play(ctx context.Context, turnID string, clip *tts.AudioResult) error {
	if clip == nil || len(clip.Audio) == 0 {
		return ErrNoAudio
	}

	s.mu.Lock()
	prevTurn, prevActive := s.turnID, s.state != StateIdle
	track, cancel := s.resetLocked()
	s.gen++
	gen := s.gen
	s.state = StateLoading
	s.turnID = turnID
	runCtx, runCancel := context.WithCancel(ctx)
	s.cancel = runCancel
	s.mu.Unlock()

	s.release(track, cancel)
	if prevActive && s.listener != nil {
		s.listener.PlaybackStopped(prevTurn)
	}

	go s.run(runCtx, gen, turnID, clip)
	return nil
}

// Stop halts playback. It is a no-op when idle.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	turnID := s.turnID
	track, cancel := s.resetLocked()
	s.mu.Unlock()

	s.release(track, cancel)
	s.logger.Debug("playback stopped", "turn", turnID)
	if s.listener != nil {
		s.listener.PlaybackStopped(turnID)
	}
}

func (s *Session) run(ctx context.Context, gen uint64, turnID string, clip *tts.AudioResult) {
	track, err := s.player.Play(ctx, clip)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		if track != nil {
			_ = track.Stop()
		}
		return
	}
	if err != nil {
		_, cancel := s.resetLocked()
		s.mu.Unlock()
		cancel()
		s.logger.Warn("playback failed to start", "turn", turnID, "error", err)
		if s.listener != nil {
			s.listener.PlaybackFailed(turnID, err)
		}
		return
	}
	s.state = StatePlaying
	s.track = track
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.PlaybackStarted(turnID)
	}

	<-track.Done()

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	_, cancel := s.resetLocked()
	s.mu.Unlock()
	cancel()

	if err := track.Err(); err != nil {
		s.logger.Warn("playback failed", "turn", turnID, "error", err)
		if s.listener != nil {
			s.listener.PlaybackFailed(turnID, err)
		}
		return
	}
	if s.listener != nil {
		s.listener.PlaybackFinished(turnID)
	}
}

// resetLocked returns the session to Idle. The caller must hold s.mu.
func (s *Session) resetLocked() (Track, context.CancelFunc) {
	track, cancel := s.track, s.cancel
	s.gen++
	s.state = StateIdle
	s.turnID = ""
	s.track = nil
	s.cancel = nil
	if cancel == nil {
		cancel = func() {}
	}
	return track, cancel
}

func (s *Session) release(track Track, cancel context.CancelFunc) {
	if track != nil {
		if err := track.Stop(); err != nil {
			s.logger.Debug("stop track", "error", err)
		}
	}
	cancel()
}
