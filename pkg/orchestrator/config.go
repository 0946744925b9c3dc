package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/teslashibe/go-parley/pkg/capture"
	"github.com/teslashibe/go-parley/pkg/inference"
	"github.com/teslashibe/go-parley/pkg/playback"
	"github.com/teslashibe/go-parley/pkg/store"
	"github.com/teslashibe/go-parley/pkg/tts"
)

// Completer produces an assistant reply for a conversation history.
// *inference.Completer satisfies it.
type Completer interface {
	Complete(ctx context.Context, history []inference.Message) (string, error)
}

// Default timeouts for background work.
const (
	DefaultAppendTimeout    = 10 * time.Second
	DefaultSynthesisTimeout = 30 * time.Second
)

// Config holds orchestrator dependencies and settings.
type Config struct {
	// Store persists turns. Defaults to an in-memory store.
	Store store.Store

	// Completer is required.
	Completer Completer

	// Synthesizer voices assistant replies. Nil disables speech.
	Synthesizer tts.Provider

	// Recognizer backs the capture session. Defaults to capture.Unavailable.
	Recognizer capture.Recognizer

	// Player renders synthesized audio. Nil disables speech.
	Player playback.Player

	// Sink receives events. Nil drops them.
	Sink Sink

	// BargeIn stops playback when capture starts.
	BargeIn bool

	AppendTimeout    time.Duration
	SynthesisTimeout time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns a config with an in-memory store and no speech.
func DefaultConfig() Config {
	return Config{
		Store:            store.NewMemory(),
		Recognizer:       capture.Unavailable{},
		BargeIn:          true,
		AppendTimeout:    DefaultAppendTimeout,
		SynthesisTimeout: DefaultSynthesisTimeout,
		Logger:           slog.Default(),
	}
}

// Option configures an Orchestrator.
type Option func(*Config)

// WithStore sets the transcript store.
func WithStore(s store.Store) Option {
	return func(c *Config) { c.Store = s }
}

// WithCompleter sets the completion client.
func WithCompleter(comp Completer) Option {
	return func(c *Config) { c.Completer = comp }
}

// WithSynthesizer sets the speech synthesis provider.
func WithSynthesizer(p tts.Provider) Option {
	return func(c *Config) { c.Synthesizer = p }
}

// WithRecognizer sets the speech recognizer.
func WithRecognizer(r capture.Recognizer) Option {
	return func(c *Config) { c.Recognizer = r }
}

// WithPlayer sets the audio player.
func WithPlayer(p playback.Player) Option {
	return func(c *Config) { c.Player = p }
}

// WithSink sets the event sink.
func WithSink(s Sink) Option {
	return func(c *Config) { c.Sink = s }
}

// WithBargeIn controls whether starting capture stops playback.
func WithBargeIn(enabled bool) Option {
	return func(c *Config) { c.BargeIn = enabled }
}

// WithAppendTimeout bounds each store append.
func WithAppendTimeout(d time.Duration) Option {
	return func(c *Config) { c.AppendTimeout = d }
}

// WithSynthesisTimeout bounds each synthesis call.
func WithSynthesisTimeout(d time.Duration) Option {
	return func(c *Config) { c.SynthesisTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Completer == nil {
		return ErrNoCompleter
	}
	return nil
}
