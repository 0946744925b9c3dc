package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-parley/internal/config"
	"github.com/teslashibe/go-parley/internal/log"
	"github.com/teslashibe/go-parley/pkg/capture"
	"github.com/teslashibe/go-parley/pkg/transcript"
)

func TestOpenStore_SQLiteRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "parley.db")

	st, closeStore, err := openStore(cfg, "alice@example.com", log.Discard())
	require.NoError(t, err)
	_, err = st.Append(context.Background(), transcript.Record{Author: transcript.AuthorUser, Text: "Hello", Seq: 0, CreatedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, closeStore())

	var out bytes.Buffer
	require.NoError(t, history(context.Background(), withUser(cfg, "alice@example.com"), &out))
	assert.Contains(t, out.String(), "user: Hello")

	out.Reset()
	require.NoError(t, history(context.Background(), withUser(cfg, "bob"), &out))
	assert.Equal(t, "No messages yet.\n", out.String())
}

func withUser(cfg config.Config, id string) config.Config {
	cfg.UserID = id
	return cfg
}

func TestResolveUser(t *testing.T) {
	id, g, err := resolveUser(context.Background(), config.Default(), log.Discard())
	require.NoError(t, err)
	assert.Equal(t, localUser, id)
	assert.Nil(t, g)

	id, _, err = resolveUser(context.Background(), withUser(config.Default(), "carol"), log.Discard())
	require.NoError(t, err)
	assert.Equal(t, "carol", id)
}

func TestNewRecognizer(t *testing.T) {
	cfg := config.Default()
	assert.IsType(t, capture.Unavailable{}, newRecognizer(cfg, log.Discard()))

	cfg.Recognition.DeepgramAPIKey = "dg"
	assert.True(t, newRecognizer(cfg, log.Discard()).Available())
}

func TestNewSynthesizer_DisabledWithoutKey(t *testing.T) {
	synth, err := newSynthesizer(config.Default(), log.Discard())
	require.NoError(t, err)
	assert.Nil(t, synth)
}

func TestPrintRecords(t *testing.T) {
	var out bytes.Buffer
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.Local)
	printRecords(&out, []transcript.Record{
		{Author: transcript.AuthorUser, Text: "Hi", CreatedAt: at},
		{Author: transcript.AuthorAssistant, Text: "Hello!", CreatedAt: at},
	})
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[2024-03-01 09:30] assistant: Hello!", lines[1])
}
