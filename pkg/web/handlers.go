package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-parley/pkg/capture"
	"github.com/teslashibe/go-parley/pkg/hub"
	"github.com/teslashibe/go-parley/pkg/orchestrator"
	"github.com/teslashibe/go-parley/pkg/transcript"
)

// TurnView is a turn with its display status.
type TurnView struct {
	transcript.Turn
	Status string `json:"status"`
}

func viewOf(turn transcript.Turn) TurnView {
	return TurnView{Turn: turn, Status: turn.Status()}
}

// SubmitRequest is the body of POST /api/turns.
type SubmitRequest struct {
	Text   string `json:"text"`
	Origin string `json:"origin"`
}

// statusFor maps conversation errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrEmptyInput):
		return fiber.StatusBadRequest
	case errors.Is(err, orchestrator.ErrTurnNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, orchestrator.ErrSubmissionInFlight),
		errors.Is(err, orchestrator.ErrTurnNotFailed),
		errors.Is(err, orchestrator.ErrNotAssistantTurn),
		errors.Is(err, capture.ErrCaptureAlreadyActive),
		errors.Is(err, capture.ErrCaptureNotActive):
		return fiber.StatusConflict
	case errors.Is(err, capture.ErrUnsupportedCapability):
		return fiber.StatusNotImplemented
	case errors.Is(err, orchestrator.ErrClosed):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// handleStatus returns capture and playback state.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"capture":  s.conv.CaptureState(),
		"playback": s.conv.PlaybackState(),
		"clients":  s.events.ClientCount(),
	})
}

func (s *Server) handleTranscript(c *fiber.Ctx) error {
	turns := s.conv.Transcript()
	out := make([]TurnView, 0, len(turns))
	for _, t := range turns {
		out = append(out, viewOf(t))
	}
	return c.JSON(out)
}

func (s *Server) handleSubmit(c *fiber.Ctx) error {
	var req SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	origin := transcript.OriginTyped
	if req.Origin == string(transcript.OriginSpoken) {
		origin = transcript.OriginSpoken
	}

	turn, err := s.conv.Submit(c.UserContext(), req.Text, origin)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(viewOf(turn))
}

func (s *Server) handleRetry(c *fiber.Ctx) error {
	turn, err := s.conv.RetryAppend(c.UserContext(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(viewOf(turn))
}

func (s *Server) handleSpeak(c *fiber.Ctx) error {
	if err := s.conv.Speak(c.UserContext(), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleDiscard(c *fiber.Ctx) error {
	if err := s.conv.Discard(c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleCaptureStart(c *fiber.Ctx) error {
	if err := s.conv.StartCapture(); err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(s.conv.CaptureState())
}

func (s *Server) handleCaptureStop(c *fiber.Ctx) error {
	if err := s.conv.StopCapture(); err != nil {
		return fail(c, err)
	}
	return c.JSON(s.conv.CaptureState())
}

func (s *Server) handlePlaybackStop(c *fiber.Ctx) error {
	s.conv.StopPlayback()
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleAuthURL(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"url": s.google.AuthURL(uuid.NewString()),
	})
}

func (s *Server) handleAuthCallback(c *fiber.Ctx) error {
	code := c.Query("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "missing code",
		})
	}
	if err := s.google.HandleCallback(c.UserContext(), code); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.SendString("Signed in. Restart parley to load your conversation.")
}

// handleEventsWS streams orchestrator events.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	hub.NewClient(s.events, c).Run()
}

// handlePlaybackWS streams reply audio for browser playback.
func (s *Server) handlePlaybackWS(c *websocket.Conn) {
	hub.NewClient(s.audio, c).Run()
}

// handleMicWS feeds binary frames to the live recognition. Frames that
// arrive while no capture is active are dropped.
func (s *Server) handleMicWS(c *websocket.Conn) {
	defer c.Close()
	for {
		mt, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		if err := s.conv.FeedAudio(data); err != nil && !errors.Is(err, capture.ErrCaptureNotActive) {
			s.logger.Debug("feed audio", "error", err)
		}
	}
}
