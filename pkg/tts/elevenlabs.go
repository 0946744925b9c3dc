package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/go-parley/internal/httpc"
)

const (
	elevenLabsBaseURL  = "https://api.elevenlabs.io/v1"
	providerElevenLabs = "elevenlabs"
)

// ElevenLabs model IDs
const (
	ModelTurboV2_5      = "eleven_turbo_v2_5"
	ModelFlashV2_5      = "eleven_flash_v2_5"
	ModelMultilingualV2 = "eleven_multilingual_v2"
)

// ElevenLabs implements Provider for ElevenLabs TTS.
type ElevenLabs struct {
	config  *Config
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewElevenLabs creates a new ElevenLabs TTS provider.
func NewElevenLabs(opts ...Option) (*ElevenLabs, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.ValidateWithVoice(); err != nil {
		return nil, err
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = elevenLabsBaseURL
	}

	return &ElevenLabs{
		config:  cfg,
		client:  httpc.NewClient(cfg.Timeout),
		logger:  cfg.Logger.With("component", "tts.elevenlabs"),
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id,omitempty"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	SpeakerBoost    bool    `json:"use_speaker_boost,omitempty"`
}

// Synthesize converts text to audio in a single request.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, WrapError(providerElevenLabs, ErrEmptyText)
	}
	start := time.Now()

	endpoint := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s",
		e.baseURL, url.PathEscape(e.config.VoiceID), url.QueryEscape(string(e.config.OutputFormat)))

	body, err := json.Marshal(e.buildPayload(text))
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("create request: %w", err))
	}
	e.setHeaders(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, WrapError(providerElevenLabs, err)
	}
	defer resp.Body.Close()

	latency := time.Since(start).Milliseconds()

	if resp.StatusCode != http.StatusOK {
		return nil, e.parseError(resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("read response: %w", err))
	}
	if len(audio) == 0 {
		return nil, WrapError(providerElevenLabs, ErrEmptyAudio)
	}

	e.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"model", e.config.ModelID,
	)

	return &AudioResult{
		Audio:     audio,
		Format:    e.outputFormat(),
		CharCount: len(text),
		LatencyMs: latency,
		Duration:  EstimateDuration(e.config.OutputFormat, len(audio)),
	}, nil
}

// Health checks API connectivity and API key validity.
func (e *ElevenLabs) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/user", nil)
	if err != nil {
		return WrapError(providerElevenLabs, err)
	}
	req.Header.Set("xi-api-key", e.config.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return WrapError(providerElevenLabs, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return e.parseError(resp)
	}
	return nil
}

// Close releases resources held by the provider.
func (e *ElevenLabs) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

// VoiceID returns the configured voice ID.
func (e *ElevenLabs) VoiceID() string {
	return e.config.VoiceID
}

func (e *ElevenLabs) buildPayload(text string) elevenLabsRequest {
	vs := e.config.VoiceSettings
	return elevenLabsRequest{
		Text:    text,
		ModelID: e.config.ModelID,
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       vs.Stability,
			SimilarityBoost: vs.SimilarityBoost,
			Style:           vs.Style,
			SpeakerBoost:    vs.SpeakerBoost,
		},
	}
}

func (e *ElevenLabs) setHeaders(req *http.Request) {
	req.Header.Set("xi-api-key", e.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", e.outputFormat().MIME())
}

// parseError reads an error body of the form {"detail":{"message":...}}.
func (e *ElevenLabs) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Detail struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"detail"`
	}

	message := string(body)
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.Detail.Message != "" {
		message = errResp.Detail.Message
		code = errResp.Detail.Status
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   providerElevenLabs,
	}
}

func (e *ElevenLabs) outputFormat() AudioFormat {
	f := AudioFormat{
		Encoding:   e.config.OutputFormat,
		SampleRate: SampleRateFromEncoding(e.config.OutputFormat),
		Channels:   1,
	}
	if f.Encoding.IsPCM() {
		f.BitDepth = 16
	}
	return f
}

var _ Provider = (*ElevenLabs)(nil)
