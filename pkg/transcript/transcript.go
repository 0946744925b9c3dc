package transcript

import (
	"errors"
	"sort"
)

var (
	// ErrDuplicateSeq is returned when adding a turn whose Seq is taken.
	ErrDuplicateSeq = errors.New("transcript: sequence index already used")

	// ErrNotFound is returned for an unknown local id.
	ErrNotFound = errors.New("transcript: turn not found")
)

// ChangeKind describes what reconciliation did to a turn.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeUpdated ChangeKind = "updated"
)

// Change is one effect of Reconcile.
type Change struct {
	Kind ChangeKind
	Turn Turn
}

// Transcript is the canonical ordered list of turns, sorted by Seq.
// It is not safe for concurrent use; the owner serializes access.
type Transcript struct {
	turns []Turn
}

// New returns an empty transcript.
func New() *Transcript {
	return &Transcript{}
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	return len(t.turns)
}

// Snapshot returns a copy of all turns in order.
func (t *Transcript) Snapshot() []Turn {
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// History returns the non-failed turns in order.
func (t *Transcript) History() []Turn {
	out := make([]Turn, 0, len(t.turns))
	for _, turn := range t.turns {
		if turn.Confirmation != Failed {
			out = append(out, turn)
		}
	}
	return out
}

// MaxSeq returns the highest Seq present, or -1 when empty.
func (t *Transcript) MaxSeq() int64 {
	if len(t.turns) == 0 {
		return -1
	}
	return t.turns[len(t.turns)-1].Seq
}

// Get returns the turn with the given local id.
func (t *Transcript) Get(localID string) (Turn, bool) {
	i := t.index(localID)
	if i < 0 {
		return Turn{}, false
	}
	return t.turns[i], true
}

// Pending returns the pending turn of author, if any.
func (t *Transcript) Pending(author Author) (Turn, bool) {
	for _, turn := range t.turns {
		if turn.Author == author && turn.Confirmation == Pending {
			return turn, true
		}
	}
	return Turn{}, false
}

// Add inserts turn at its Seq position.
func (t *Transcript) Add(turn Turn) error {
	if t.seqTaken(turn.Seq) {
		return ErrDuplicateSeq
	}
	t.insert(turn)
	return nil
}

// Confirm marks a turn confirmed. A remote id adopted earlier through
// reconciliation is kept.
func (t *Transcript) Confirm(localID, remoteID string) (Turn, error) {
	i := t.index(localID)
	if i < 0 {
		return Turn{}, ErrNotFound
	}
	turn := &t.turns[i]
	if turn.RemoteID == "" {
		turn.RemoteID = remoteID
	}
	turn.Confirmation = Confirmed
	return *turn, nil
}

// Fail marks a pending turn failed. It reports false when the turn was
// already confirmed, for example by a store batch that arrived first.
func (t *Transcript) Fail(localID string) (Turn, bool, error) {
	i := t.index(localID)
	if i < 0 {
		return Turn{}, false, ErrNotFound
	}
	turn := &t.turns[i]
	if turn.Confirmation != Pending {
		return *turn, false, nil
	}
	turn.Confirmation = Failed
	return *turn, true, nil
}

// SetPending moves a failed turn back to pending.
func (t *Transcript) SetPending(localID string) (Turn, bool, error) {
	i := t.index(localID)
	if i < 0 {
		return Turn{}, false, ErrNotFound
	}
	turn := &t.turns[i]
	if turn.Confirmation != Failed {
		return *turn, false, nil
	}
	turn.Confirmation = Pending
	return *turn, true, nil
}

// Remove deletes a turn.
func (t *Transcript) Remove(localID string) (Turn, error) {
	i := t.index(localID)
	if i < 0 {
		return Turn{}, ErrNotFound
	}
	turn := t.turns[i]
	t.turns = append(t.turns[:i], t.turns[i+1:]...)
	return turn, nil
}

// Reconcile merges a batch of store records. A record matches a local turn
// by remote id, or failing that by (Author, Seq). Matched turns adopt the
// remote id when they have none and take the remote text; a turn that
// already holds a different remote id keeps it, so a record written twice
// for the same slot never shows up twice. Unmatched records are inserted in
// Seq order. Applying the same batch twice changes nothing.
func (t *Transcript) Reconcile(batch []Record) []Change {
	var changes []Change
	for _, rec := range batch {
		if rec.RemoteID == "" {
			continue
		}
		i := t.match(rec)
		if i < 0 {
			turn := Turn{
				LocalID:      rec.RemoteID,
				RemoteID:     rec.RemoteID,
				Author:       rec.Author,
				Text:         rec.Text,
				Seq:          rec.Seq,
				Confirmation: Confirmed,
				CreatedAt:    rec.CreatedAt,
			}
			t.insert(turn)
			changes = append(changes, Change{Kind: ChangeAdded, Turn: turn})
			continue
		}

		turn := &t.turns[i]
		changed := false
		if turn.RemoteID == "" {
			turn.RemoteID = rec.RemoteID
			changed = true
		}
		if turn.Confirmation != Confirmed {
			turn.Confirmation = Confirmed
			changed = true
		}
		if rec.Text != "" && turn.Text != rec.Text {
			turn.Text = rec.Text
			changed = true
		}
		if changed {
			changes = append(changes, Change{Kind: ChangeUpdated, Turn: *turn})
		}
	}
	return changes
}

func (t *Transcript) match(rec Record) int {
	for i, turn := range t.turns {
		if turn.RemoteID == rec.RemoteID {
			return i
		}
	}
	for i, turn := range t.turns {
		if turn.Seq == rec.Seq && turn.Author == rec.Author {
			return i
		}
	}
	return -1
}

func (t *Transcript) index(localID string) int {
	for i, turn := range t.turns {
		if turn.LocalID == localID {
			return i
		}
	}
	return -1
}

func (t *Transcript) seqTaken(seq int64) bool {
	i := sort.Search(len(t.turns), func(i int) bool { return t.turns[i].Seq >= seq })
	return i < len(t.turns) && t.turns[i].Seq == seq
}

// insert places turn after every turn with Seq <= turn.Seq.
func (t *Transcript) insert(turn Turn) {
	i := sort.Search(len(t.turns), func(i int) bool { return t.turns[i].Seq > turn.Seq })
	t.turns = append(t.turns, Turn{})
	copy(t.turns[i+1:], t.turns[i:])
	t.turns[i] = turn
}
