package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agoramesh/agora/pkg/chain"
	"github.com/agoramesh/agora/pkg/escrow"
)

// SQLiteChainStore persists per-job event chains. The (job_id, sequence)
// primary key backs the compare-and-append guarantee: even if two writers
// pass the tail check concurrently, only one insert of the next sequence can
// commit.
type SQLiteChainStore struct {
	db *sql.DB
}

var _ chain.Store = (*SQLiteChainStore)(nil)

func NewSQLiteChainStore(db *sql.DB) (*SQLiteChainStore, error) {
	s := &SQLiteChainStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteChainStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS events (
		job_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		actor TEXT NOT NULL,
		canonical_payload TEXT NOT NULL,
		prev_hash TEXT NOT NULL,
		event_hash TEXT NOT NULL,
		signature TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		PRIMARY KEY (job_id, sequence)
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteChainStore) AppendEvent(ctx context.Context, expectedTail string, e *chain.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tail, seq, err := tailOf(ctx, tx, e.JobID)
	if err != nil {
		return err
	}
	if tail != expectedTail || e.Sequence != seq+1 {
		return chain.ErrTailMoved
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (job_id, sequence, event_type, actor, canonical_payload, prev_hash, event_hash, signature, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.JobID, e.Sequence, string(e.Kind), e.Actor, string(e.CanonicalPayload),
		e.PrevHash, e.EventHash, e.Signature, e.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if isUniqueViolation(err) {
		return chain.ErrTailMoved
	}
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteChainStore) Tail(ctx context.Context, jobID string) (string, uint64, error) {
	return tailOf(ctx, s.db, jobID)
}

func (s *SQLiteChainStore) ListEvents(ctx context.Context, jobID string) ([]chain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, event_type, actor, canonical_payload, prev_hash, event_hash, signature, timestamp
		FROM events WHERE job_id = ? ORDER BY sequence ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []chain.Event
	for rows.Next() {
		var (
			e       chain.Event
			kind    string
			payload string
			ts      string
		)
		if err := rows.Scan(&e.Sequence, &kind, &e.Actor, &payload, &e.PrevHash, &e.EventHash, &e.Signature, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.JobID = jobID
		e.Kind = escrow.EventKind(kind)
		e.CanonicalPayload = json.RawMessage(payload)
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse event timestamp %q: %w", ts, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func tailOf(ctx context.Context, q querier, jobID string) (string, uint64, error) {
	row := q.QueryRowContext(ctx,
		`SELECT event_hash, sequence FROM events WHERE job_id = ? ORDER BY sequence DESC LIMIT 1`, jobID)

	var hash string
	var seq uint64
	err := row.Scan(&hash, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return chain.GenesisHash, 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("read tail: %w", err)
	}
	return hash, seq, nil
}
