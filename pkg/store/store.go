// Package store persists transcript records and pushes ordered batches to
// subscribers. Delivery is at-least-once: a subscriber may see the same
// record many times and must reconcile idempotently.
package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/teslashibe/go-parley/pkg/transcript"
)

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")

	// ErrInvalidRecord is returned when a record cannot be appended.
	ErrInvalidRecord = errors.New("store: invalid record")
)

// Store is an append-only, Seq-ordered transcript log.
type Store interface {
	// Append persists rec and returns the id the store assigned to it.
	Append(ctx context.Context, rec transcript.Record) (string, error)

	// Subscribe calls onBatch with the full ordered log, once right away and
	// again after every change, until ctx is done or unsubscribe is called.
	// Calls for one subscription never overlap.
	Subscribe(ctx context.Context, onBatch func([]transcript.Record)) (unsubscribe func(), err error)

	// Close releases the store.
	Close() error
}

func validate(rec transcript.Record) error {
	if !rec.Author.Valid() {
		return errors.Wrapf(ErrInvalidRecord, "unknown author %q", rec.Author)
	}
	if rec.Seq < 0 {
		return errors.Wrapf(ErrInvalidRecord, "negative sequence index %d", rec.Seq)
	}
	return nil
}
