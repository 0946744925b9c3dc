package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// DeepgramConfig controls the Deepgram live transcription websocket.
type DeepgramConfig struct {
	APIKey     string
	APIBaseURL string
	Model      string
	Language   string

	// Audio sent through SendAudio. Defaults to 16kHz mono linear16.
	Encoding   string
	SampleRate int
	Channels   int

	// EndpointingMs is the silence that ends an utterance.
	EndpointingMs int

	Logger *slog.Logger
}

// Deepgram is a Recognizer backed by Deepgram streaming transcription.
type Deepgram struct {
	cfg    DeepgramConfig
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewDeepgram fills defaults and returns the recognizer.
func NewDeepgram(cfg DeepgramConfig) *Deepgram {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.EndpointingMs <= 0 {
		cfg.EndpointingMs = 300
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Deepgram{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		logger: logger.With("component", "capture.deepgram"),
	}
}

// Available reports whether an API key is configured.
func (d *Deepgram) Available() bool {
	return strings.TrimSpace(d.cfg.APIKey) != ""
}

// Open dials the listen endpoint.
func (d *Deepgram) Open(ctx context.Context) (Recognition, error) {
	if !d.Available() {
		return nil, ErrUnsupportedCapability
	}
	wsURL, err := d.listenURL()
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.cfg.APIKey)

	conn, _, err := d.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("capture: connect to deepgram: %w", err)
	}

	r := &deepgramRecognition{
		conn:   conn,
		events: make(chan Event, 64),
		audio:  make(chan []byte, 32),
		done:   make(chan struct{}),
		logger: d.logger,
	}
	r.wg.Add(2)
	go r.readLoop()
	go r.writeLoop()
	go func() {
		r.wg.Wait()
		close(r.events)
		_ = conn.Close()
	}()
	return r, nil
}

func (d *Deepgram) listenURL() (string, error) {
	base := strings.TrimSpace(d.cfg.APIBaseURL)
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	u, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("capture: invalid deepgram base url: %w", err)
	}
	q := u.Query()
	q.Set("model", d.cfg.Model)
	q.Set("language", d.cfg.Language)
	q.Set("encoding", d.cfg.Encoding)
	q.Set("sample_rate", strconv.Itoa(d.cfg.SampleRate))
	q.Set("channels", strconv.Itoa(d.cfg.Channels))
	q.Set("interim_results", "true")
	q.Set("smart_format", "true")
	q.Set("endpointing", strconv.Itoa(d.cfg.EndpointingMs))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type deepgramRecognition struct {
	conn   *websocket.Conn
	events chan Event
	audio  chan []byte
	done   chan struct{}
	logger *slog.Logger
	wg     sync.WaitGroup

	sendMu     sync.Mutex
	sendClosed bool
	closeOnce  sync.Once

	// committed holds is_final segments of the current utterance.
	committed []string
}

func (r *deepgramRecognition) Events() <-chan Event {
	return r.events
}

func (r *deepgramRecognition) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	if r.sendClosed {
		return errors.New("capture: recognition closed")
	}
	select {
	case r.audio <- append([]byte(nil), chunk...):
		return nil
	case <-r.done:
		return errors.New("capture: recognition closed")
	}
}

func (r *deepgramRecognition) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		r.sendMu.Lock()
		r.sendClosed = true
		close(r.audio)
		r.sendMu.Unlock()
		_ = r.conn.Close()
	})
	return nil
}

func (r *deepgramRecognition) writeLoop() {
	defer r.wg.Done()
	for chunk := range r.audio {
		if err := r.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			return
		}
	}
	_ = r.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
}

func (r *deepgramRecognition) readLoop() {
	defer r.wg.Done()
	for {
		_, payload, err := r.conn.ReadMessage()
		if err != nil {
			select {
			case <-r.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					r.emit(Event{Kind: EventError, Err: fmt.Errorf("capture: deepgram read: %w", err)})
				}
			}
			return
		}

		var resp deepgramResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			r.logger.Debug("skip undecodable message", "error", err)
			continue
		}
		if ev, ok := r.translate(resp); ok {
			r.emit(ev)
		}
	}
}

// translate folds Deepgram results into interim and final events. Segments
// marked is_final accumulate until speech_final or UtteranceEnd closes the
// utterance.
func (r *deepgramRecognition) translate(resp deepgramResponse) (Event, bool) {
	switch {
	case strings.EqualFold(resp.Type, "Error"):
		msg := strings.TrimSpace(resp.Message)
		if msg == "" {
			msg = "deepgram returned an unknown error"
		}
		return Event{Kind: EventError, Err: errors.New(msg)}, true

	case strings.EqualFold(resp.Type, "UtteranceEnd"):
		if len(r.committed) == 0 {
			return Event{}, false
		}
		return Event{Kind: EventFinal, Text: r.flush()}, true
	}

	text := resp.transcript()
	if resp.IsFinal && text != "" {
		r.committed = append(r.committed, text)
	}
	if resp.SpeechFinal {
		return Event{Kind: EventFinal, Text: r.flush()}, true
	}
	if text == "" {
		return Event{}, false
	}
	if resp.IsFinal {
		return Event{Kind: EventInterim, Text: strings.Join(r.committed, " ")}, true
	}
	parts := append(append([]string(nil), r.committed...), text)
	return Event{Kind: EventInterim, Text: strings.Join(parts, " ")}, true
}

func (r *deepgramRecognition) flush() string {
	text := strings.Join(r.committed, " ")
	r.committed = nil
	return text
}

func (r *deepgramRecognition) emit(ev Event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (r deepgramResponse) transcript() string {
	if len(r.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Channel.Alternatives[0].Transcript)
}

var _ Recognizer = (*Deepgram)(nil)
