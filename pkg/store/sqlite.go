package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/teslashibe/go-parley/pkg/transcript"
)

// SQLite is a Store backed by a SQLite table. One store instance serves one
// conversation; several conversations may share the same database file.
// Change signals travel through a Notifier so that other store instances,
// possibly in other processes, refresh their subscribers.
type SQLite struct {
	db             *sql.DB
	conversationID string
	notifier       *Notifier
	ownsNotifier   bool
	logger         *slog.Logger

	mu     sync.Mutex
	closed bool
}

// SQLiteOption configures a SQLite store.
type SQLiteOption func(*SQLite)

// WithNotifier shares n between stores. The store does not close it.
func WithNotifier(n *Notifier) SQLiteOption {
	return func(s *SQLite) {
		s.notifier = n
		s.ownsNotifier = false
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) SQLiteOption {
	return func(s *SQLite) { s.logger = l }
}

var _ Store = &SQLite{}

// NewSQLite opens dsn, creates the schema if needed and scopes the store to
// conversationID. Without WithNotifier a private in-process notifier is used.
func NewSQLite(dsn, conversationID string, opts ...SQLiteOption) (*SQLite, error) {
	if dsn == "" {
		return nil, errors.New("sqlite store: empty dsn")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, errors.New("sqlite store: empty conversation id")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: open")
	}
	s := &SQLite{
		db:             db,
		conversationID: conversationID,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "store.sqlite", "conversation", conversationID)
	if s.notifier == nil {
		s.notifier = NewLocalNotifier(s.logger)
		s.ownsNotifier = true
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteDSNForFile builds a DSN for a database file with WAL enabled.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_records (
		  remote_id TEXT PRIMARY KEY,
		  conv_id TEXT NOT NULL,
		  author TEXT NOT NULL,
		  text TEXT NOT NULL,
		  seq INTEGER NOT NULL,
		  created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS transcript_records_by_seq
		  ON transcript_records(conv_id, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(err, "sqlite store: migrate")
		}
	}
	return nil
}

// Append inserts rec and announces it on the notifier. A failed
// announcement is logged; the record is stored regardless.
func (s *SQLite) Append(ctx context.Context, rec transcript.Record) (string, error) {
	if err := validate(rec); err != nil {
		return "", err
	}
	if s.isClosed() {
		return "", ErrClosed
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	remoteID := uuid.NewString()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript_records (remote_id, conv_id, author, text, seq, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, remoteID, s.conversationID, string(rec.Author), rec.Text, rec.Seq, rec.CreatedAt.UnixMilli())
	if err != nil {
		return "", errors.Wrap(err, "sqlite store: insert record")
	}

	if err := s.notifier.publish(Topic(s.conversationID), remoteID); err != nil {
		s.logger.Warn("change notification failed", "remote_id", remoteID, "error", err)
	}
	return remoteID, nil
}

// List returns the conversation's records ordered by Seq.
func (s *SQLite) List(ctx context.Context) ([]transcript.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT remote_id, author, text, seq, created_at_ms
		FROM transcript_records
		WHERE conv_id = ?
		ORDER BY seq ASC, created_at_ms ASC, remote_id ASC
	`, s.conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: query records")
	}
	defer func() { _ = rows.Close() }()

	var out []transcript.Record
	for rows.Next() {
		var (
			rec       transcript.Record
			author    string
			createdMs int64
		)
		if err := rows.Scan(&rec.RemoteID, &author, &rec.Text, &rec.Seq, &createdMs); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan record")
		}
		rec.Author = transcript.Author(author)
		rec.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite store: iterate records")
	}
	return out, nil
}

// Subscribe listens on the notifier topic, then delivers the current log and
// a fresh copy after each notification.
func (s *SQLite) Subscribe(ctx context.Context, onBatch func([]transcript.Record)) (func(), error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	msgs, err := s.notifier.Subscriber.Subscribe(ctx, Topic(s.conversationID))
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "sqlite store: subscribe")
	}

	go func() {
		s.deliver(ctx, onBatch)
		for msg := range msgs {
			msg.Ack()
			s.deliver(ctx, onBatch)
		}
	}()
	return cancel, nil
}

func (s *SQLite) deliver(ctx context.Context, onBatch func([]transcript.Record)) {
	if ctx.Err() != nil {
		return
	}
	records, err := s.List(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("reload after change failed", "error", err)
		}
		return
	}
	onBatch(records)
}

// Close closes the database and, when owned, the notifier.
func (s *SQLite) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var first error
	if s.ownsNotifier {
		first = s.notifier.Close()
	}
	if err := s.db.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

func (s *SQLite) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
