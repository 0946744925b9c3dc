package capture

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-parley/internal/log"
)

func TestNewDeepgramDefaults(t *testing.T) {
	d := NewDeepgram(DeepgramConfig{})
	require.False(t, d.Available())
	require.Equal(t, "nova-2", d.cfg.Model)
	require.Equal(t, "en-US", d.cfg.Language)

	u, err := d.listenURL()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(u, "wss://api.deepgram.com/v1/listen?"))
	require.Contains(t, u, "interim_results=true")
	require.Contains(t, u, "sample_rate=16000")
	require.Contains(t, u, "language=en-US")
}

func TestDeepgramOpenWithoutKey(t *testing.T) {
	_, err := NewDeepgram(DeepgramConfig{}).Open(context.Background())
	require.ErrorIs(t, err, ErrUnsupportedCapability)
}

func dgResult(text string, isFinal, speechFinal bool) deepgramResponse {
	var r deepgramResponse
	r.Type = "Results"
	r.IsFinal = isFinal
	r.SpeechFinal = speechFinal
	r.Channel.Alternatives = append(r.Channel.Alternatives, struct {
		Transcript string `json:"transcript"`
	}{Transcript: text})
	return r
}

func TestDeepgramTranslateAccumulatesSegments(t *testing.T) {
	r := &deepgramRecognition{}

	ev, ok := r.translate(dgResult("what is", false, false))
	require.True(t, ok)
	require.Equal(t, Event{Kind: EventInterim, Text: "what is"}, ev)

	ev, ok = r.translate(dgResult("what is the", true, false))
	require.True(t, ok)
	require.Equal(t, "what is the", ev.Text)

	ev, ok = r.translate(dgResult("weather", false, false))
	require.True(t, ok)
	require.Equal(t, "what is the weather", ev.Text)

	ev, ok = r.translate(dgResult("weather today", true, true))
	require.True(t, ok)
	require.Equal(t, Event{Kind: EventFinal, Text: "what is the weather today"}, ev)

	_, ok = r.translate(dgResult("", false, false))
	require.False(t, ok)
}

func TestDeepgramTranslateEmptyFinalAndErrors(t *testing.T) {
	r := &deepgramRecognition{}

	ev, ok := r.translate(dgResult("", true, true))
	require.True(t, ok)
	require.Equal(t, EventFinal, ev.Kind)
	require.Empty(t, ev.Text)

	_, ok = r.translate(deepgramResponse{Type: "UtteranceEnd"})
	require.False(t, ok)

	ev, ok = r.translate(deepgramResponse{Type: "Error", Message: "bad audio"})
	require.True(t, ok)
	require.Equal(t, EventError, ev.Kind)
	require.EqualError(t, ev.Err, "bad audio")
}

func TestDeepgramEndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan []byte, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token dg-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, audio, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- audio
		_ = conn.WriteJSON(dgResult("hello", false, false))
		_ = conn.WriteJSON(dgResult("hello there", true, true))
		// Hold the socket until the client closes it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	d := NewDeepgram(DeepgramConfig{APIKey: "dg-key", APIBaseURL: srv.URL, Logger: log.Discard()})
	l := &recordingListener{}
	s := NewSession(d, l, log.Discard())

	require.NoError(t, s.Start(context.Background()))
	waitState(t, s, StateListening)
	require.NoError(t, s.FeedAudio([]byte{0, 1, 2, 3}))

	select {
	case got := <-received:
		require.Equal(t, []byte{0, 1, 2, 3}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received audio")
	}

	require.Eventually(t, func() bool {
		finals, _, _ := l.snapshot()
		return len(finals) == 1 && finals[0] == "hello there"
	}, 2*time.Second, 10*time.Millisecond)
	waitState(t, s, StateIdle)
}
