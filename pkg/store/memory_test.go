package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-parley/pkg/transcript"
)

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]transcript.Record
}

func (b *batchRecorder) record(batch []transcript.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, batch)
}

func (b *batchRecorder) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

func (b *batchRecorder) last() []transcript.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.batches) == 0 {
		return nil
	}
	return b.batches[len(b.batches)-1]
}

func TestMemory_AppendOrdersBySeq(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	id1, err := m.Append(ctx, transcript.Record{Author: transcript.AuthorAssistant, Text: "b", Seq: 1})
	require.NoError(t, err)
	id0, err := m.Append(ctx, transcript.Record{Author: transcript.AuthorUser, Text: "a", Seq: 0})
	require.NoError(t, err)
	require.NotEqual(t, id0, id1)

	recs := m.Records()
	require.Len(t, recs, 2)
	require.Equal(t, id0, recs[0].RemoteID)
	require.Equal(t, id1, recs[1].RemoteID)
}

func TestMemory_SubscribeDeliversSnapshotAndChanges(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rec batchRecorder
	unsubscribe, err := m.Subscribe(ctx, rec.record)
	require.NoError(t, err)
	require.Equal(t, 1, rec.count())
	require.Empty(t, rec.last())

	_, err = m.Append(ctx, transcript.Record{Author: transcript.AuthorUser, Text: "Hello", Seq: 0})
	require.NoError(t, err)
	require.Equal(t, 2, rec.count())
	require.Len(t, rec.last(), 1)

	unsubscribe()
	_, err = m.Append(ctx, transcript.Record{Author: transcript.AuthorAssistant, Text: "Hi", Seq: 1})
	require.NoError(t, err)
	require.Equal(t, 2, rec.count())
}

func TestMemory_AppendHookFailure(t *testing.T) {
	m := NewMemory()
	boom := errors.New("offline")
	m.AppendHook = func(ctx context.Context, rec transcript.Record) error { return boom }

	_, err := m.Append(context.Background(), transcript.Record{Author: transcript.AuthorUser, Text: "x"})
	require.ErrorIs(t, err, boom)
	require.Empty(t, m.Records())
}

func TestMemory_RejectsInvalidRecord(t *testing.T) {
	m := NewMemory()
	_, err := m.Append(context.Background(), transcript.Record{Author: "robot", Text: "x"})
	require.ErrorIs(t, err, ErrInvalidRecord)

	_, err = m.Append(context.Background(), transcript.Record{Author: transcript.AuthorUser, Seq: -1})
	require.ErrorIs(t, err, ErrInvalidRecord)
}

func TestMemory_Closed(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())
	_, err := m.Append(context.Background(), transcript.Record{Author: transcript.AuthorUser})
	require.ErrorIs(t, err, ErrClosed)
}
