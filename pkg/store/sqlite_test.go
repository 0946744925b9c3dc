package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-parley/internal/log"
	"github.com/teslashibe/go-parley/pkg/transcript"
)

func newTestSQLite(t *testing.T, path, conv string, opts ...SQLiteOption) *SQLite {
	t.Helper()
	dsn, err := SQLiteDSNForFile(path)
	require.NoError(t, err)
	opts = append([]SQLiteOption{WithLogger(log.Discard())}, opts...)
	s, err := NewSQLite(dsn, conv, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_AppendAndList(t *testing.T) {
	s := newTestSQLite(t, filepath.Join(t.TempDir(), "parley.db"), "u1")
	ctx := context.Background()

	_, err := s.Append(ctx, transcript.Record{Author: transcript.AuthorAssistant, Text: "Hi there", Seq: 1})
	require.NoError(t, err)
	id, err := s.Append(ctx, transcript.Record{Author: transcript.AuthorUser, Text: "Hello", Seq: 0})
	require.NoError(t, err)

	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, id, recs[0].RemoteID)
	require.Equal(t, "Hello", recs[0].Text)
	require.Equal(t, transcript.AuthorAssistant, recs[1].Author)
	require.False(t, recs[1].CreatedAt.IsZero())
}

func TestSQLite_ConversationsAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.db")
	a := newTestSQLite(t, path, "alice")
	b := newTestSQLite(t, path, "bob")
	ctx := context.Background()

	_, err := a.Append(ctx, transcript.Record{Author: transcript.AuthorUser, Text: "from alice", Seq: 0})
	require.NoError(t, err)

	recs, err := b.List(ctx)
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestSQLite_SubscribeSeesOtherWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.db")
	notifier := NewLocalNotifier(log.Discard())
	t.Cleanup(func() { _ = notifier.Close() })

	reader := newTestSQLite(t, path, "u1", WithNotifier(notifier))
	writer := newTestSQLite(t, path, "u1", WithNotifier(notifier))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches := make(chan []transcript.Record, 8)
	unsubscribe, err := reader.Subscribe(ctx, func(b []transcript.Record) { batches <- b })
	require.NoError(t, err)
	defer unsubscribe()

	select {
	case b := <-batches:
		require.Empty(t, b)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial batch")
	}

	_, err = writer.Append(ctx, transcript.Record{Author: transcript.AuthorUser, Text: "Hello", Seq: 0})
	require.NoError(t, err)

	select {
	case b := <-batches:
		require.Len(t, b, 1)
		require.Equal(t, "Hello", b[0].Text)
	case <-time.After(2 * time.Second):
		t.Fatal("no batch after append")
	}
}

func TestSQLite_Validation(t *testing.T) {
	_, err := NewSQLite("", "u1")
	require.Error(t, err)

	_, err = NewSQLite("file::memory:", " ")
	require.Error(t, err)

	_, err = SQLiteDSNForFile("")
	require.Error(t, err)
}
