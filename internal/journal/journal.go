// Package journal records peer connection events in SQLite.
//
// Events are queued on the reactor goroutine and written by background
// work started with reactor.Go, one batch at a time, so the reactor never
// waits on the database and events keep their order.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-bridged/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-bridged/internal/link"
	"github.com/nerrad567/gray-logic-bridged/internal/reactor"
)

// Event kinds.
const (
	KindConnected    = "connected"
	KindDisconnected = "disconnected"
	KindOpenFailed   = "open_failed"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 1000
	writeTimeout       = 5 * time.Second
)

// ErrClosed is reported for events recorded after Close.
var ErrClosed = errors.New("journal: closed")

// Event is one row of link_events.
type Event struct {
	ID     int64
	Peer   string
	Kind   string
	Detail string
	At     time.Time
}

// Logger defines the logging interface used by the journal.
type Logger interface {
	Warn(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Journal writes link events to the database.
//
// Thread Safety:
//   - Record, Attach, Flush and Close run on the reactor goroutine.
//   - Recent and Prune block on the database and are safe from any goroutine.
type Journal struct {
	r      *reactor.Reactor
	db     *database.DB
	logger Logger
	now    func() time.Time

	queue   []Event
	writing bool
	closed  bool
	idle    []func()

	// connected tells open failures apart from dropped connections.
	connected map[string]bool

	written uint64
	failed  uint64
}

// New creates a journal writing to db. The link_events migration must have
// been applied.
func New(r *reactor.Reactor, db *database.DB, logger Logger) *Journal {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Journal{
		r:         r,
		db:        db,
		logger:    logger,
		now:       time.Now,
		connected: make(map[string]bool),
	}
}

// Attach journals every status change of l.
func (j *Journal) Attach(l *link.Link) {
	l.OnStatus(j.recordStatus)
}

func (j *Journal) recordStatus(s link.Status) {
	detail := ""
	if s.Err != nil {
		detail = s.Err.Error()
	}

	switch {
	case s.Connected:
		j.connected[s.Peer] = true
		j.Record(s.Peer, KindConnected, detail)
	case j.connected[s.Peer]:
		j.connected[s.Peer] = false
		j.Record(s.Peer, KindDisconnected, detail)
	default:
		j.Record(s.Peer, KindOpenFailed, detail)
	}
}

// Record queues an event. The write happens in the background.
func (j *Journal) Record(peer, kind, detail string) {
	if j.closed {
		j.failed++
		j.logger.Warn("journal event dropped", "peer", peer, "kind", kind, "error", ErrClosed)
		return
	}
	j.queue = append(j.queue, Event{Peer: peer, Kind: kind, Detail: detail, At: j.now()})
	j.writeNext()
}

// Written returns the number of events stored.
func (j *Journal) Written() uint64 {
	return j.written
}

// Failed returns the number of events that could not be stored.
func (j *Journal) Failed() uint64 {
	return j.failed
}

// Flush calls fn on the reactor goroutine once every queued event has been
// written or has failed.
func (j *Journal) Flush(fn func()) {
	if !j.writing && len(j.queue) == 0 {
		fn()
		return
	}
	j.idle = append(j.idle, fn)
}

// Close rejects further events. Queued events are still written.
func (j *Journal) Close() {
	j.closed = true
}

func (j *Journal) writeNext() {
	if j.writing {
		return
	}
	if len(j.queue) == 0 {
		idle := j.idle
		j.idle = nil
		for _, fn := range idle {
			fn()
		}
		return
	}

	batch := j.queue
	j.queue = nil
	j.writing = true

	j.r.Go(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		return j.insert(ctx, batch)
	}, func(err error) {
		j.writing = false
		if err != nil {
			j.failed += uint64(len(batch))
			j.logger.Warn("writing journal events failed", "events", len(batch), "error", err)
		} else {
			j.written += uint64(len(batch))
		}
		j.writeNext()
	})
}

func (j *Journal) insert(ctx context.Context, batch []Event) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO link_events (peer, kind, detail, occurred_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.ExecContext(ctx, e.Peer, e.Kind, e.Detail, e.At.UnixMilli()); err != nil {
			return fmt.Errorf("inserting event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing events: %w", err)
	}
	return nil
}

// Recent returns the newest events, newest first. An empty peer matches
// every peer. limit <= 0 selects a default; it is capped at 1000.
func (j *Journal) Recent(ctx context.Context, peer string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, peer, kind, detail, occurred_at
		FROM link_events
		WHERE ? = '' OR peer = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?`,
		peer, peer, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying link events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var at int64
		if err := rows.Scan(&e.ID, &e.Peer, &e.Kind, &e.Detail, &at); err != nil {
			return nil, fmt.Errorf("scanning link event: %w", err)
		}
		e.At = time.UnixMilli(at)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating link events: %w", err)
	}
	return events, nil
}

// Prune deletes events older than before and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, "DELETE FROM link_events WHERE occurred_at < ?", before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning link events: %w", err)
	}
	return res.RowsAffected()
}
