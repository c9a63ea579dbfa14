// Package projector materializes a catch-up subscription's output
// into a local SQLite table, resuming from a checkpoint across
// restarts. Adapted from the teacher's internal/storage/sqlite store,
// which kept a partition_meta key/value table for resumable snapshot
// offsets; this package keeps the same WAL-pragma dial-up and
// key/value checkpoint idiom but projects one stream's events instead
// of the teacher's multi-tenant chronicle catalog.
package projector

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/fkabongo/eventlogclient/client"
)

const schema = `
CREATE TABLE IF NOT EXISTS projected_events (
	stream_id TEXT NOT NULL,
	event_number INTEGER NOT NULL,
	event_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	data BLOB NOT NULL,
	created_at_utc_ns INTEGER NOT NULL,
	PRIMARY KEY (stream_id, event_number)
);

CREATE TABLE IF NOT EXISTS projector_checkpoint (
	stream_id TEXT PRIMARY KEY,
	last_event_number INTEGER NOT NULL
);
`

// Projector is a client.Observer that writes every observed event into
// a SQLite table and advances a per-stream checkpoint in the same
// transaction, so a crash between events never double-applies or
// loses one.
type Projector struct {
	db       *sql.DB
	streamID string

	// OnError receives any storage error; when nil, errors are dropped
	// (the underlying catch-up subscription has no way to be told "redo
	// this event", so there is nothing else useful to do with it here).
	OnError func(error)
}

// Open opens (creating if necessary) a SQLite database at path and
// prepares its schema.
func Open(path string, streamID client.StreamID) (*Projector, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("projector: open %s: %w", path, err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("projector: pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("projector: create schema: %w", err)
	}
	return &Projector{db: db, streamID: string(streamID)}, nil
}

func (p *Projector) Close() error { return p.db.Close() }

// Checkpoint returns the last committed event number for this
// projector's stream, or -1 if nothing has been projected yet. Pass
// the result directly as the fromEventNumberExclusive argument to
// client.Client.SubscribeCatchUpStream to resume.
func (p *Projector) Checkpoint(ctx context.Context) (int64, error) {
	row := p.db.QueryRowContext(ctx, `SELECT last_event_number FROM projector_checkpoint WHERE stream_id = ?`, p.streamID)
	var n int64
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("projector: read checkpoint: %w", err)
	}
	return n, nil
}

// OnEvent implements client.Observer: it inserts the event and
// advances the checkpoint in one transaction. An event number already
// stored is not inserted again, and the checkpoint never moves back;
// an earlier, not yet stored event number is still inserted.
func (p *Projector) OnEvent(ev client.ResolvedEvent) {
	if err := p.apply(context.Background(), ev); err != nil && p.OnError != nil {
		p.OnError(err)
	}
}

func (p *Projector) apply(ctx context.Context, ev client.ResolvedEvent) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("projector: begin tx: %w", err)
	}
	defer tx.Rollback()

	rec := ev.Inner
	if _, err := tx.ExecContext(ctx, `
INSERT INTO projected_events(stream_id, event_number, event_id, event_type, data, created_at_utc_ns)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(stream_id, event_number) DO NOTHING`,
		p.streamID, rec.EventNumber, rec.EventID.String(), rec.EventType, rec.Data, rec.CreatedAt.UTC().UnixNano()); err != nil {
		return fmt.Errorf("projector: insert event: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO projector_checkpoint(stream_id, last_event_number) VALUES (?, ?)
ON CONFLICT(stream_id) DO UPDATE SET last_event_number = excluded.last_event_number
WHERE excluded.last_event_number > projector_checkpoint.last_event_number`,
		p.streamID, rec.EventNumber); err != nil {
		return fmt.Errorf("projector: advance checkpoint: %w", err)
	}
	return tx.Commit()
}

// OnLiveProcessingStart implements client.Observer; the projector has
// no distinct behavior at the catch-up/live boundary.
func (p *Projector) OnLiveProcessingStart() {}

// OnDropped implements client.Observer; it passes the drop error to
// OnError when both are set.
func (p *Projector) OnDropped(err *client.SubscriptionDroppedError) {
	if err != nil && p.OnError != nil {
		p.OnError(err)
	}
}
