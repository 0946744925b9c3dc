package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-parley/internal/log"
)

func attach(h *Hub, buffer int) *Client {
	c := &Client{hub: h, send: make(chan Message, buffer)}
	h.register <- c
	return c
}

func TestHub_BroadcastJSON(t *testing.T) {
	h := New("events", log.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	c := attach(h, 4)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.BroadcastJSON(map[string]string{"kind": "turn.added"}))
	select {
	case msg := <-c.send:
		assert.Equal(t, JSONMessage, msg.Type)
		assert.JSONEq(t, `{"kind":"turn.added"}`, string(msg.Data))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	h.unregister <- c
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-c.send
	assert.False(t, open)
}

func TestHub_DropsSlowClient(t *testing.T) {
	h := New("events", log.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	attach(h, 0)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	h.BroadcastBinary([]byte{1})
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_RunStopsWithContext(t *testing.T) {
	h := New("events", log.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	c := attach(h, 1)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, h.IsRunning())
	_, open := <-c.send
	assert.False(t, open)
}
