package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/teslashibe/go-parley/pkg/transcript"
)

// Memory is an in-process Store. It is used by the chat command when no
// database is configured and by tests.
type Memory struct {
	mu      sync.Mutex
	records []transcript.Record
	subs    map[int]*memorySub
	nextSub int
	closed  bool

	// AppendHook, when set, runs before a record is stored. A non-nil error
	// fails the append.
	AppendHook func(ctx context.Context, rec transcript.Record) error
}

type memorySub struct {
	mu      sync.Mutex
	onBatch func([]transcript.Record)
	done    bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{subs: make(map[int]*memorySub)}
}

// Append stores rec under a new uuid.
func (m *Memory) Append(ctx context.Context, rec transcript.Record) (string, error) {
	if err := validate(rec); err != nil {
		return "", err
	}
	if hook := m.hook(); hook != nil {
		if err := hook(ctx, rec); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	rec.RemoteID = uuid.NewString()
	i := sort.Search(len(m.records), func(i int) bool { return m.records[i].Seq > rec.Seq })
	m.records = append(m.records, transcript.Record{})
	copy(m.records[i+1:], m.records[i:])
	m.records[i] = rec
	snapshot, subs := m.snapshotLocked()
	m.mu.Unlock()

	for _, s := range subs {
		s.deliver(snapshot)
	}
	return rec.RemoteID, nil
}

// Subscribe registers onBatch and delivers the current log synchronously.
func (m *Memory) Subscribe(ctx context.Context, onBatch func([]transcript.Record)) (func(), error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	id := m.nextSub
	m.nextSub++
	sub := &memorySub{onBatch: onBatch}
	m.subs[id] = sub
	snapshot, _ := m.snapshotLocked()
	m.mu.Unlock()

	sub.deliver(snapshot)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			sub.stop()
		})
	}
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
	return unsubscribe, nil
}

// Records returns a copy of the stored log.
func (m *Memory) Records() []transcript.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]transcript.Record, len(m.records))
	copy(out, m.records)
	return out
}

// Close drops all subscribers.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, s := range m.subs {
		s.stop()
		delete(m.subs, id)
	}
	return nil
}

func (m *Memory) hook() func(context.Context, transcript.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.AppendHook
}

func (m *Memory) snapshotLocked() ([]transcript.Record, []*memorySub) {
	snapshot := make([]transcript.Record, len(m.records))
	copy(snapshot, m.records)
	subs := make([]*memorySub, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	return snapshot, subs
}

func (s *memorySub) deliver(batch []transcript.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.onBatch(batch)
}

func (s *memorySub) stop() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
}

var _ Store = (*Memory)(nil)
