// Package transcript holds the conversation data model: turns, the records a
// store persists, and the canonical ordered transcript that reconciles local
// optimistic turns with store confirmations.
package transcript

import (
	"time"

	"github.com/google/uuid"
)

// Author identifies who produced a turn.
type Author string

const (
	AuthorUser      Author = "user"
	AuthorAssistant Author = "assistant"
)

// Valid reports whether a is a known author.
func (a Author) Valid() bool {
	return a == AuthorUser || a == AuthorAssistant
}

// Confirmation tracks whether the store has acknowledged a turn.
type Confirmation string

const (
	Pending   Confirmation = "pending"
	Confirmed Confirmation = "confirmed"
	Failed    Confirmation = "failed"
)

// Origin records how a user turn was entered.
type Origin string

const (
	OriginTyped  Origin = "typed"
	OriginSpoken Origin = "spoken"
)

// Turn is one message in the conversation.
type Turn struct {
	LocalID      string       `json:"localId"`
	RemoteID     string       `json:"remoteId,omitempty"`
	Author       Author       `json:"author"`
	Text         string       `json:"text"`
	Seq          int64        `json:"seq"`
	Confirmation Confirmation `json:"confirmation"`
	Origin       Origin       `json:"origin,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// NewTurn creates a pending turn with a fresh local id.
func NewTurn(author Author, text string, seq int64, origin Origin) Turn {
	return Turn{
		LocalID:      uuid.NewString(),
		Author:       author,
		Text:         text,
		Seq:          seq,
		Confirmation: Pending,
		Origin:       origin,
		CreatedAt:    time.Now(),
	}
}

// Record returns the persisted shape of the turn.
func (t Turn) Record() Record {
	return Record{
		RemoteID:  t.RemoteID,
		Author:    t.Author,
		Text:      t.Text,
		Seq:       t.Seq,
		CreatedAt: t.CreatedAt,
	}
}

// Status is the short label a client shows next to the turn.
func (t Turn) Status() string {
	switch t.Confirmation {
	case Pending:
		return "Sending..."
	case Failed:
		return "Not saved"
	default:
		return t.CreatedAt.Format("15:04")
	}
}

// Record is a turn as the store persists it.
type Record struct {
	RemoteID  string    `json:"remoteId"`
	Author    Author    `json:"author"`
	Text      string    `json:"text"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"createdAt"`
}
