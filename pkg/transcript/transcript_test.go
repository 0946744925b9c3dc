package transcript

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func seqs(turns []Turn) []int64 {
	out := make([]int64, len(turns))
	for i, t := range turns {
		out[i] = t.Seq
	}
	return out
}

func TestAddKeepsOrderAndRejectsDuplicateSeq(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Add(NewTurn(AuthorUser, "b", 2, OriginTyped)))
	require.NoError(t, tr.Add(NewTurn(AuthorUser, "a", 0, OriginTyped)))
	require.NoError(t, tr.Add(NewTurn(AuthorAssistant, "c", 1, "")))
	require.ErrorIs(t, tr.Add(NewTurn(AuthorAssistant, "dup", 1, "")), ErrDuplicateSeq)

	require.Equal(t, []int64{0, 1, 2}, seqs(tr.Snapshot()))
	require.Equal(t, int64(2), tr.MaxSeq())
}

func TestReconcileAdoptsRemoteID(t *testing.T) {
	tr := New()
	local := NewTurn(AuthorUser, "Hello", 0, OriginTyped)
	require.NoError(t, tr.Add(local))

	changes := tr.Reconcile([]Record{{RemoteID: "r0", Author: AuthorUser, Text: "Hello", Seq: 0}})
	require.Len(t, changes, 1)
	require.Equal(t, ChangeUpdated, changes[0].Kind)

	got, ok := tr.Get(local.LocalID)
	require.True(t, ok)
	require.Equal(t, "r0", got.RemoteID)
	require.Equal(t, Confirmed, got.Confirmation)
	require.Equal(t, 1, tr.Len())
}

func TestReconcileIsIdempotent(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Add(NewTurn(AuthorUser, "Hello", 0, OriginTyped)))

	batch := []Record{
		{RemoteID: "r0", Author: AuthorUser, Text: "Hello", Seq: 0},
		{RemoteID: "r1", Author: AuthorAssistant, Text: "Hi there", Seq: 1},
	}
	first := tr.Reconcile(batch)
	require.Len(t, first, 2)
	before := tr.Snapshot()

	require.Empty(t, tr.Reconcile(batch))
	require.Equal(t, before, tr.Snapshot())
}

func TestReconcileInsertsRemoteTurnsInOrder(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Add(NewTurn(AuthorUser, "mine", 4, OriginTyped)))

	changes := tr.Reconcile([]Record{
		{RemoteID: "r2", Author: AuthorAssistant, Text: "two", Seq: 2},
		{RemoteID: "r6", Author: AuthorUser, Text: "six", Seq: 6},
		{RemoteID: "r1", Author: AuthorUser, Text: "one", Seq: 1},
	})
	require.Len(t, changes, 3)
	for _, c := range changes {
		require.Equal(t, ChangeAdded, c.Kind)
		require.Equal(t, Confirmed, c.Turn.Confirmation)
	}
	require.Equal(t, []int64{1, 2, 4, 6}, seqs(tr.Snapshot()))
}

func TestReconcileNeverOverwritesRemoteID(t *testing.T) {
	tr := New()
	local := NewTurn(AuthorUser, "Hello", 0, OriginTyped)
	require.NoError(t, tr.Add(local))
	_, err := tr.Confirm(local.LocalID, "first")
	require.NoError(t, err)

	// The same slot written twice, e.g. an append retried after a lost ack.
	tr.Reconcile([]Record{{RemoteID: "second", Author: AuthorUser, Text: "Hello", Seq: 0}})

	got, _ := tr.Get(local.LocalID)
	require.Equal(t, "first", got.RemoteID)
	require.Equal(t, 1, tr.Len())
}

func TestReconcileRemoteTextWins(t *testing.T) {
	tr := New()
	local := NewTurn(AuthorAssistant, "draft", 1, "")
	require.NoError(t, tr.Add(local))

	tr.Reconcile([]Record{{RemoteID: "r1", Author: AuthorAssistant, Text: "final", Seq: 1}})
	got, _ := tr.Get(local.LocalID)
	require.Equal(t, "final", got.Text)
}

func TestConfirmKeepsReconciledRemoteID(t *testing.T) {
	tr := New()
	local := NewTurn(AuthorUser, "Hello", 0, OriginTyped)
	require.NoError(t, tr.Add(local))
	tr.Reconcile([]Record{{RemoteID: "from-batch", Author: AuthorUser, Text: "Hello", Seq: 0}})

	got, err := tr.Confirm(local.LocalID, "from-append")
	require.NoError(t, err)
	require.Equal(t, "from-batch", got.RemoteID)
}

func TestFailOnlyAffectsPending(t *testing.T) {
	tr := New()
	a := NewTurn(AuthorUser, "a", 0, OriginTyped)
	require.NoError(t, tr.Add(a))

	_, changed, err := tr.Fail(a.LocalID)
	require.NoError(t, err)
	require.True(t, changed)
	require.Empty(t, tr.History())

	_, changed, err = tr.SetPending(a.LocalID)
	require.NoError(t, err)
	require.True(t, changed)

	_, err = tr.Confirm(a.LocalID, "r")
	require.NoError(t, err)
	_, changed, err = tr.Fail(a.LocalID)
	require.NoError(t, err)
	require.False(t, changed)

	_, _, err = tr.Fail("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPendingAndRemove(t *testing.T) {
	tr := New()
	u := NewTurn(AuthorUser, "u", 0, OriginSpoken)
	require.NoError(t, tr.Add(u))

	p, ok := tr.Pending(AuthorUser)
	require.True(t, ok)
	require.Equal(t, u.LocalID, p.LocalID)
	_, ok = tr.Pending(AuthorAssistant)
	require.False(t, ok)

	_, err := tr.Remove(u.LocalID)
	require.NoError(t, err)
	require.Equal(t, 0, tr.Len())
	require.Equal(t, int64(-1), tr.MaxSeq())
}

func TestTurnStatus(t *testing.T) {
	turn := NewTurn(AuthorUser, "x", 0, OriginTyped)
	require.Equal(t, "Sending...", turn.Status())

	turn.Confirmation = Confirmed
	turn.CreatedAt = time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	require.Equal(t, "09:30", turn.Status())
}
