package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-parley/internal/log"
	"github.com/teslashibe/go-parley/pkg/inference"
	"github.com/teslashibe/go-parley/pkg/orchestrator"
	"github.com/teslashibe/go-parley/pkg/store"
	"github.com/teslashibe/go-parley/pkg/transcript"
)

func newTestServer(t *testing.T, mem *store.Memory) (*Server, *orchestrator.Orchestrator) {
	t.Helper()
	comp := inference.NewCompleter(inference.NewMockReply("Hi there"), inference.WithLogger(log.Discard()))
	o, err := orchestrator.New(
		orchestrator.WithStore(mem),
		orchestrator.WithCompleter(comp),
		orchestrator.WithLogger(log.Discard()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return NewServer(":0", o, WithLogger(log.Discard())), o
}

func do(t *testing.T, s *Server, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req, 2000)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestSubmitAndTranscript(t *testing.T) {
	s, o := newTestServer(t, store.NewMemory())

	resp, body := do(t, s, http.MethodPost, "/api/turns", `{"text":"Hello"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created TurnView
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "Hello", created.Text)
	assert.Equal(t, transcript.OriginTyped, created.Origin)
	assert.Equal(t, "Sending...", created.Status)

	o.Wait()
	resp, body = do(t, s, http.MethodGet, "/api/transcript", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var turns []TurnView
	require.NoError(t, json.Unmarshal(body, &turns))
	require.Len(t, turns, 2)
	assert.Equal(t, "Hi there", turns[1].Text)
	assert.Equal(t, transcript.Confirmed, turns[1].Confirmation)
}

func TestSubmit_Errors(t *testing.T) {
	s, _ := newTestServer(t, store.NewMemory())

	resp, _ := do(t, s, http.MethodPost, "/api/turns", `{"text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, s, http.MethodPost, "/api/turns", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmit_InFlightConflict(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	mem := store.NewMemory()
	mem.AppendHook = func(ctx context.Context, rec transcript.Record) error {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return nil
	}
	s, _ := newTestServer(t, mem)

	resp, _ := do(t, s, http.MethodPost, "/api/turns", `{"text":"one"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = do(t, s, http.MethodPost, "/api/turns", `{"text":"two"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRetryAndDiscard(t *testing.T) {
	mem := store.NewMemory()
	mem.AppendHook = func(ctx context.Context, rec transcript.Record) error {
		return errors.New("offline")
	}
	s, o := newTestServer(t, mem)

	resp, body := do(t, s, http.MethodPost, "/api/turns", `{"text":"Hello"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created TurnView
	require.NoError(t, json.Unmarshal(body, &created))
	o.Wait()

	resp, _ = do(t, s, http.MethodPost, "/api/turns/missing/retry", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, s, http.MethodPost, "/api/turns/"+created.LocalID+"/retry", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	o.Wait()

	resp, _ = do(t, s, http.MethodDelete, "/api/turns/"+created.LocalID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, ok := o.Turn(created.LocalID)
	assert.False(t, ok)
}

func TestCaptureAndPlayback(t *testing.T) {
	s, _ := newTestServer(t, store.NewMemory())

	resp, _ := do(t, s, http.MethodPost, "/api/capture/start", "")
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp, _ = do(t, s, http.MethodPost, "/api/capture/stop", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, s, http.MethodPost, "/api/playback/stop", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, s, http.MethodPost, "/api/playback/stop", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := do(t, s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"state":"idle"`)
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s, _ := newTestServer(t, store.NewMemory())
	resp, _ := do(t, s, http.MethodGet, "/ws/events", "")
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
