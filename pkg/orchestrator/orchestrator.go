// Package orchestrator coordinates a conversation: it owns the canonical
// transcript, drives capture, completion, synthesis and playback, and merges
// store confirmations into optimistic local turns.
//
// The transcript is only mutated under the orchestrator lock. All I/O runs
// in goroutines outside it, so store callbacks, recognition events and user
// actions interleave safely.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-parley/pkg/capture"
	"github.com/teslashibe/go-parley/pkg/inference"
	"github.com/teslashibe/go-parley/pkg/playback"
	"github.com/teslashibe/go-parley/pkg/store"
	"github.com/teslashibe/go-parley/pkg/transcript"
)

// Orchestrator is the turn orchestration core.
type Orchestrator struct {
	cfg      Config
	store    store.Store
	logger   *slog.Logger
	capture  *capture.Session
	playback *playback.Session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// assistantSlot holds a token while an assistant turn is pending.
	assistantSlot chan struct{}

	mu         sync.Mutex
	transcript *transcript.Transcript
	nextSeq    int64
	speechTurn string
	closed     bool
}

// New creates an orchestrator. Call Run to follow the store and Close to
// release it.
func New(opts ...Option) (*Orchestrator, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recognizer == nil {
		cfg.Recognizer = capture.Unavailable{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:           cfg,
		store:         cfg.Store,
		logger:        cfg.Logger.With("component", "orchestrator"),
		ctx:           ctx,
		cancel:        cancel,
		assistantSlot: make(chan struct{}, 1),
		transcript:    transcript.New(),
	}
	o.capture = capture.NewSession(cfg.Recognizer, captureEvents{o}, cfg.Logger)
	if cfg.Player != nil {
		o.playback = playback.NewSession(cfg.Player, playbackEvents{o}, cfg.Logger)
	}
	return o, nil
}

// Run subscribes to the store and reconciles every batch it pushes until
// ctx is done or the orchestrator is closed.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-o.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	unsubscribe, err := o.store.Subscribe(ctx, o.applyBatch)
	if err != nil {
		return err
	}
	defer unsubscribe()

	o.logger.Info("following transcript store")
	<-ctx.Done()
	return nil
}

// Submit adds a user turn and starts the reply pipeline. It returns the
// optimistic turn as soon as it is in the transcript; persistence,
// completion and speech continue in the background and report through
// events. ctx only gates the call itself.
func (o *Orchestrator) Submit(ctx context.Context, text string, origin transcript.Origin) (transcript.Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return transcript.Turn{}, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return transcript.Turn{}, err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return transcript.Turn{}, ErrClosed
	}
	if _, pending := o.transcript.Pending(transcript.AuthorUser); pending {
		o.mu.Unlock()
		return transcript.Turn{}, ErrSubmissionInFlight
	}
	turn, err := o.addLocked(transcript.AuthorUser, text, origin)
	if err != nil {
		o.mu.Unlock()
		return transcript.Turn{}, err
	}
	history := messages(o.transcript.History())
	o.wg.Add(2)
	o.mu.Unlock()

	o.logger.Debug("user turn submitted", "turn", turn.LocalID, "seq", turn.Seq, "origin", origin)
	o.emit(turnEvent(EventTurnAdded, turn))

	go func() {
		defer o.wg.Done()
		o.appendTurn(turn)
	}()
	go func() {
		defer o.wg.Done()
		o.respond(turn, history)
	}()
	return turn, nil
}

// RetryAppend re-sends a failed turn to the store with its original Seq.
func (o *Orchestrator) RetryAppend(ctx context.Context, localID string) (transcript.Turn, error) {
	if err := ctx.Err(); err != nil {
		return transcript.Turn{}, err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return transcript.Turn{}, ErrClosed
	}
	turn, ok := o.transcript.Get(localID)
	if !ok {
		o.mu.Unlock()
		return transcript.Turn{}, ErrTurnNotFound
	}
	if turn.Confirmation != transcript.Failed {
		o.mu.Unlock()
		return turn, ErrTurnNotFailed
	}
	if _, pending := o.transcript.Pending(turn.Author); pending {
		o.mu.Unlock()
		return turn, ErrSubmissionInFlight
	}
	turn, _, _ = o.transcript.SetPending(localID)
	o.wg.Add(1)
	o.mu.Unlock()

	o.logger.Info("retrying append", "turn", localID, "seq", turn.Seq)
	o.emit(turnEvent(EventTurnUpdated, turn))
	go func() {
		defer o.wg.Done()
		o.appendTurn(turn)
	}()
	return turn, nil
}

// Discard removes a failed turn from the transcript.
func (o *Orchestrator) Discard(localID string) error {
	o.mu.Lock()
	turn, ok := o.transcript.Get(localID)
	if !ok {
		o.mu.Unlock()
		return ErrTurnNotFound
	}
	if turn.Confirmation != transcript.Failed {
		o.mu.Unlock()
		return ErrTurnNotFailed
	}
	turn, err := o.transcript.Remove(localID)
	o.mu.Unlock()
	if err != nil {
		return ErrTurnNotFound
	}

	o.emit(turnEvent(EventTurnRemoved, turn))
	return nil
}

// Speak replays the audio of an assistant turn.
func (o *Orchestrator) Speak(ctx context.Context, localID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	turn, ok := o.transcript.Get(localID)
	if !ok {
		o.mu.Unlock()
		return ErrTurnNotFound
	}
	if turn.Author != transcript.AuthorAssistant {
		o.mu.Unlock()
		return ErrNotAssistantTurn
	}
	o.speechTurn = turn.LocalID
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		o.speak(turn)
	}()
	return nil
}

// StartCapture opens a recognition session. Finalized utterances are
// submitted as spoken turns.
func (o *Orchestrator) StartCapture() error {
	if o.cfg.BargeIn {
		o.StopPlayback()
	}
	return o.capture.Start(o.ctx)
}

// StopCapture abandons the live recognition without submitting.
func (o *Orchestrator) StopCapture() error {
	return o.capture.Stop()
}

// FeedAudio forwards microphone audio to the live recognition.
func (o *Orchestrator) FeedAudio(chunk []byte) error {
	return o.capture.FeedAudio(chunk)
}

// CaptureState returns the capture session state.
func (o *Orchestrator) CaptureState() capture.Snapshot {
	return o.capture.Snapshot()
}

// StopPlayback stops the reply currently being voiced. It is a no-op when
// nothing plays.
func (o *Orchestrator) StopPlayback() {
	if o.playback != nil {
		o.playback.Stop()
	}
}

// PlaybackState returns the playback session state.
func (o *Orchestrator) PlaybackState() playback.Snapshot {
	if o.playback == nil {
		return playback.Snapshot{State: playback.StateIdle}
	}
	return o.playback.Snapshot()
}

// Transcript returns the canonical transcript in order.
func (o *Orchestrator) Transcript() []transcript.Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transcript.Snapshot()
}

// Turn returns one turn by local id.
func (o *Orchestrator) Turn(localID string) (transcript.Turn, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transcript.Get(localID)
}

// Wait blocks until in-flight background work has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close stops capture and playback, cancels background work and waits for
// it to finish. The store is not closed.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	_ = o.capture.Stop()
	o.StopPlayback()
	o.cancel()
	o.wg.Wait()
	return nil
}

// addLocked allocates the next Seq and adds a pending turn.
func (o *Orchestrator) addLocked(author transcript.Author, text string, origin transcript.Origin) (transcript.Turn, error) {
	if max := o.transcript.MaxSeq(); max >= o.nextSeq {
		o.nextSeq = max + 1
	}
	turn := transcript.NewTurn(author, text, o.nextSeq, origin)
	if err := o.transcript.Add(turn); err != nil {
		return transcript.Turn{}, err
	}
	o.nextSeq++
	return turn, nil
}

func (o *Orchestrator) appendTurn(turn transcript.Turn) {
	ctx, cancel := context.WithTimeout(o.ctx, o.cfg.AppendTimeout)
	defer cancel()

	remoteID, err := o.store.Append(ctx, turn.Record())

	o.mu.Lock()
	if err != nil {
		failed, changed, ferr := o.transcript.Fail(turn.LocalID)
		o.mu.Unlock()
		if ferr != nil || !changed {
			o.logger.Debug("append failed for settled turn", "turn", turn.LocalID, "error", err)
			return
		}
		o.logger.Warn("store append failed", "turn", turn.LocalID, "seq", turn.Seq, "error", err)
		o.emit(turnEvent(EventTurnUpdated, failed))
		o.emit(failureEvent(EventStoreAppendFail, turn.LocalID, err))
		return
	}

	prev, ok := o.transcript.Get(turn.LocalID)
	if !ok {
		o.mu.Unlock()
		return
	}
	confirmed, _ := o.transcript.Confirm(turn.LocalID, remoteID)
	o.mu.Unlock()

	if prev.Confirmation != transcript.Confirmed {
		o.emit(turnEvent(EventTurnUpdated, confirmed))
	}
}

func (o *Orchestrator) respond(user transcript.Turn, history []inference.Message) {
	reply, err := o.cfg.Completer.Complete(o.ctx, history)
	if err == nil {
		if reply = Sanitize(reply); reply == "" {
			err = &inference.CompletionError{Reason: inference.ReasonEmpty, Err: inference.ErrEmptyResponse}
		}
	}
	if err != nil {
		if o.ctx.Err() != nil {
			return
		}
		ev := failureEvent(EventCompletionFailed, user.LocalID, err)
		ev.Reason = string(reason(err))
		o.emit(ev)
		return
	}

	select {
	case o.assistantSlot <- struct{}{}:
	case <-o.ctx.Done():
		return
	}

	o.mu.Lock()
	turn, err := o.addLocked(transcript.AuthorAssistant, reply, "")
	if err != nil {
		o.mu.Unlock()
		<-o.assistantSlot
		o.logger.Error("add assistant turn", "error", err)
		return
	}
	o.speechTurn = turn.LocalID
	o.wg.Add(1)
	o.mu.Unlock()

	o.emit(turnEvent(EventTurnAdded, turn))
	go func() {
		defer o.wg.Done()
		defer func() { <-o.assistantSlot }()
		o.appendTurn(turn)
	}()
	o.speak(turn)
}

// speak synthesizes turn and hands it to playback unless a newer turn has
// been routed to speech in the meantime.
func (o *Orchestrator) speak(turn transcript.Turn) {
	if o.cfg.Synthesizer == nil || o.playback == nil {
		return
	}
	text := SpeechText(turn.Text)
	if text == "" {
		return
	}

	ctx, cancel := context.WithTimeout(o.ctx, o.cfg.SynthesisTimeout)
	defer cancel()

	start := time.Now()
	clip, err := o.cfg.Synthesizer.Synthesize(ctx, text)
	if err != nil {
		if o.ctx.Err() != nil {
			return
		}
		o.logger.Warn("synthesis failed", "turn", turn.LocalID, "error", err)
		o.emit(failureEvent(EventSynthesisFailed, turn.LocalID, err))
		return
	}

	o.mu.Lock()
	stale := o.speechTurn != turn.LocalID
	o.mu.Unlock()
	if stale {
		o.logger.Debug("discarding superseded speech", "turn", turn.LocalID)
		return
	}

	o.logger.Debug("speech ready", "turn", turn.LocalID, "latency_ms", time.Since(start).Milliseconds())
	if err := o.playback.Play(o.ctx, turn.LocalID, clip); err != nil {
		o.emit(failureEvent(EventPlaybackFailed, turn.LocalID, err))
	}
}

func (o *Orchestrator) applyBatch(batch []transcript.Record) {
	o.mu.Lock()
	changes := o.transcript.Reconcile(batch)
	if max := o.transcript.MaxSeq(); max >= o.nextSeq {
		o.nextSeq = max + 1
	}
	o.mu.Unlock()

	for _, c := range changes {
		kind := EventTurnUpdated
		if c.Kind == transcript.ChangeAdded {
			kind = EventTurnAdded
		}
		o.emit(turnEvent(kind, c.Turn))
	}
}

func (o *Orchestrator) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if o.cfg.Sink != nil {
		o.cfg.Sink.Publish(ev)
	}
}

func messages(turns []transcript.Turn) []inference.Message {
	out := make([]inference.Message, 0, len(turns))
	for _, t := range turns {
		if t.Author == transcript.AuthorAssistant {
			out = append(out, inference.NewAssistantMessage(t.Text))
		} else {
			out = append(out, inference.NewUserMessage(t.Text))
		}
	}
	return out
}

func reason(err error) inference.FailureReason {
	var ce *inference.CompletionError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return inference.Classify(err)
}

// captureEvents routes capture notifications into the orchestrator.
type captureEvents struct{ o *Orchestrator }

func (c captureEvents) CaptureStateChanged(state capture.State) {
	c.o.emit(Event{Kind: EventCaptureState, State: string(state)})
}

func (c captureEvents) CaptureInterim(text string) {
	c.o.emit(Event{Kind: EventCaptureInterim, Text: text})
}

func (c captureEvents) CaptureFinal(text string) {
	if strings.TrimSpace(text) == "" {
		c.o.emit(Event{Kind: EventCaptureEmpty})
		return
	}
	if _, err := c.o.Submit(c.o.ctx, text, transcript.OriginSpoken); err != nil {
		c.o.logger.Info("spoken turn rejected", "error", err)
		ev := failureEvent(EventSubmitRejected, "", err)
		ev.Text = text
		c.o.emit(ev)
	}
}

func (c captureEvents) CaptureFailed(err error) {
	c.o.emit(failureEvent(EventCaptureFailed, "", err))
}

// playbackEvents routes playback notifications into the orchestrator.
type playbackEvents struct{ o *Orchestrator }

func (p playbackEvents) PlaybackStarted(turnID string) {
	p.o.emit(Event{Kind: EventPlaybackStarted, TurnID: turnID})
}

func (p playbackEvents) PlaybackFinished(turnID string) {
	p.o.emit(Event{Kind: EventPlaybackFinished, TurnID: turnID})
}

func (p playbackEvents) PlaybackStopped(turnID string) {
	p.o.emit(Event{Kind: EventPlaybackStopped, TurnID: turnID})
}

func (p playbackEvents) PlaybackFailed(turnID string, err error) {
	p.o.emit(failureEvent(EventPlaybackFailed, turnID, err))
}

var (
	_ capture.Listener  = captureEvents{}
	_ playback.Listener = playbackEvents{}
	_ Completer         = (*inference.Completer)(nil)
)
