package capture

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Session is the capture state machine.
type Session struct {
	recognizer Recognizer
	listener   Listener
	logger     *slog.Logger

	mu        sync.Mutex
	state     State
	partial   string
	startedAt time.Time
	gen       uint64
	active    Recognition
	cancel    context.CancelFunc
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	State     State     `json:"state"`
	Partial   string    `json:"partial,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// NewSession creates an idle session. listener may be nil.
func NewSession(recognizer Recognizer, listener Listener, logger *slog.Logger) *Session {
	if recognizer == nil {
		recognizer = Unavailable{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		recognizer: recognizer,
		listener:   listener,
		logger:     logger.With("component", "capture.session"),
		state:      StateIdle,
	}
}

// Snapshot returns the current state and partial hypothesis.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.state, Partial: s.partial, StartedAt: s.startedAt}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins a recognition. The engine is opened in the background; the
// session is Requesting until it is ready.
func (s *Session) Start(ctx context.Context) error {
	if !s.recognizer.Available() {
		return ErrUnsupportedCapability
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrCaptureAlreadyActive
	}
	s.gen++
	gen := s.gen
	s.state = StateRequesting
	s.partial = ""
	s.startedAt = time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.notifyState(StateRequesting)
	go s.run(runCtx, gen)
	return nil
}

// Stop abandons the live recognition without emitting a final result.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != StateRequesting && s.state != StateListening {
		s.mu.Unlock()
		return ErrCaptureNotActive
	}
	active, cancel := s.resetLocked()
	s.mu.Unlock()

	s.release(active, cancel)
	s.logger.Debug("capture stopped")
	s.notifyState(StateIdle)
	return nil
}

// FeedAudio forwards microphone audio to the live recognition.
func (s *Session) FeedAudio(chunk []byte) error {
	s.mu.Lock()
	active := s.active
	listening := s.state == StateListening
	s.mu.Unlock()

	if !listening || active == nil {
		return ErrCaptureNotActive
	}
	return active.SendAudio(chunk)
}

func (s *Session) run(ctx context.Context, gen uint64) {
	rec, err := s.recognizer.Open(ctx)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		if rec != nil {
			_ = rec.Close()
		}
		return
	}
	if err != nil {
		_, cancel := s.resetLocked()
		s.mu.Unlock()
		cancel()
		s.fail(err)
		return
	}
	s.active = rec
	s.state = StateListening
	s.mu.Unlock()

	s.logger.Debug("capture listening")
	s.notifyState(StateListening)

	for ev := range rec.Events() {
		if !s.handle(gen, ev) {
			return
		}
	}

	// Engine ended without a final result.
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	active, cancel := s.resetLocked()
	s.mu.Unlock()
	s.release(active, cancel)
	s.notifyState(StateIdle)
}

// handle applies one engine event. It returns false once the recognition
// for gen is over.
func (s *Session) handle(gen uint64, ev Event) bool {
	s.mu.Lock()
	if gen != s.gen || s.state != StateListening {
		s.mu.Unlock()
		return false
	}

	switch ev.Kind {
	case EventInterim:
		s.partial = ev.Text
		s.mu.Unlock()
		if s.listener != nil {
			s.listener.CaptureInterim(ev.Text)
		}
		return true

	case EventFinal:
		s.state = StateFinalizing
		s.mu.Unlock()
		s.notifyState(StateFinalizing)

		s.mu.Lock()
		active, cancel := s.resetLocked()
		s.mu.Unlock()
		s.release(active, cancel)

		text := strings.TrimSpace(ev.Text)
		s.logger.Debug("capture finalized", "chars", len(text))
		if s.listener != nil {
			s.listener.CaptureFinal(text)
		}
		s.notifyState(StateIdle)
		return false

	case EventError:
		active, cancel := s.resetLocked()
		s.mu.Unlock()
		s.release(active, cancel)
		err := ev.Err
		if err == nil {
			err = ErrUnsupportedCapability
		}
		s.fail(err)
		return false
	}

	s.mu.Unlock()
	return true
}

// resetLocked returns the session to Idle and invalidates in-flight events.
// The caller must hold s.mu and release the returned resources after
// unlocking.
func (s *Session) resetLocked() (Recognition, context.CancelFunc) {
	active, cancel := s.active, s.cancel
	s.gen++
	s.state = StateIdle
	s.partial = ""
	s.active = nil
	s.cancel = nil
	if cancel == nil {
		cancel = func() {}
	}
	return active, cancel
}

func (s *Session) release(active Recognition, cancel context.CancelFunc) {
	if active != nil {
		if err := active.Close(); err != nil {
			s.logger.Debug("close recognition", "error", err)
		}
	}
	cancel()
}

func (s *Session) fail(err error) {
	s.logger.Warn("capture failed", "error", err)
	s.notifyState(StateErrored)
	if s.listener != nil {
		s.listener.CaptureFailed(err)
	}
	s.notifyState(StateIdle)
}

func (s *Session) notifyState(state State) {
	if s.listener != nil {
		s.listener.CaptureStateChanged(state)
	}
}
