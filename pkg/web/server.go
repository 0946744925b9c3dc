// Package web exposes a conversation over HTTP and websockets: a JSON API
// for turns, capture and playback, an event stream, a playback audio
// stream and a microphone input stream.
package web

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-parley/pkg/capture"
	"github.com/teslashibe/go-parley/pkg/hub"
	"github.com/teslashibe/go-parley/pkg/identity"
	"github.com/teslashibe/go-parley/pkg/orchestrator"
	"github.com/teslashibe/go-parley/pkg/playback"
	"github.com/teslashibe/go-parley/pkg/transcript"
)

// Conversation is what the server drives. *orchestrator.Orchestrator
// satisfies it.
type Conversation interface {
	Submit(ctx context.Context, text string, origin transcript.Origin) (transcript.Turn, error)
	RetryAppend(ctx context.Context, localID string) (transcript.Turn, error)
	Discard(localID string) error
	Speak(ctx context.Context, localID string) error
	Transcript() []transcript.Turn

	StartCapture() error
	StopCapture() error
	FeedAudio(chunk []byte) error
	CaptureState() capture.Snapshot

	StopPlayback()
	PlaybackState() playback.Snapshot
}

// Server is the HTTP front end.
type Server struct {
	app    *fiber.App
	addr   string
	conv   Conversation
	logger *slog.Logger

	events *hub.Hub
	audio  *hub.Hub
	google *identity.Google
}

// Option configures a Server.
type Option func(*Server)

// WithEventHub sets the hub /ws/events subscribes to.
func WithEventHub(h *hub.Hub) Option {
	return func(s *Server) { s.events = h }
}

// WithAudioHub sets the hub /ws/playback subscribes to.
func WithAudioHub(h *hub.Hub) Option {
	return func(s *Server) { s.audio = h }
}

// WithGoogle enables the Google sign-in routes.
func WithGoogle(g *identity.Google) Option {
	return func(s *Server) { s.google = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a server for conv listening on addr.
func NewServer(addr string, conv Conversation, opts ...Option) *Server {
	s := &Server{
		addr:   addr,
		conv:   conv,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "web.server")
	if s.events == nil {
		s.events = hub.New("events", s.logger)
	}
	if s.audio == nil {
		s.audio = hub.New("audio", s.logger)
	}

	app := fiber.New(fiber.Config{
		AppName:               "parley",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/transcript", s.handleTranscript)
	api.Post("/turns", s.handleSubmit)
	api.Post("/turns/:id/retry", s.handleRetry)
	api.Post("/turns/:id/speak", s.handleSpeak)
	api.Delete("/turns/:id", s.handleDiscard)
	api.Post("/capture/start", s.handleCaptureStart)
	api.Post("/capture/stop", s.handleCaptureStop)
	api.Post("/playback/stop", s.handlePlaybackStop)
	if s.google != nil {
		api.Get("/auth/url", s.handleAuthURL)
		api.Get("/auth/callback", s.handleAuthCallback)
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))
	app.Get("/ws/playback", websocket.New(s.handlePlaybackWS))
	app.Get("/ws/audio", websocket.New(s.handleMicWS))

	s.app = app
	return s
}

// App returns the fiber app. Used by tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// EventHub returns the event hub.
func (s *Server) EventHub() *hub.Hub {
	return s.events
}

// AudioHub returns the playback audio hub.
func (s *Server) AudioHub() *hub.Hub {
	return s.audio
}

// Start runs the hubs and serves until Shutdown. Hubs stop with ctx.
func (s *Server) Start(ctx context.Context) error {
	if !s.events.IsRunning() {
		go s.events.Run(ctx)
	}
	if !s.audio.IsRunning() {
		go s.audio.Run(ctx)
	}
	s.logger.Info("listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// EventSink publishes orchestrator events to a hub.
type EventSink struct {
	hub    *hub.Hub
	logger *slog.Logger
}

// NewEventSink returns a sink broadcasting to h.
func NewEventSink(h *hub.Hub, logger *slog.Logger) *EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventSink{hub: h, logger: logger.With("component", "web.events")}
}

// Publish broadcasts ev as JSON.
func (e *EventSink) Publish(ev orchestrator.Event) {
	if err := e.hub.BroadcastJSON(ev); err != nil {
		e.logger.Warn("encode event", "kind", ev.Kind, "error", err)
	}
}

var (
	_ Conversation         = (*orchestrator.Orchestrator)(nil)
	_ orchestrator.Sink    = (*EventSink)(nil)
	_ playback.Broadcaster = (*hub.Hub)(nil)
)
