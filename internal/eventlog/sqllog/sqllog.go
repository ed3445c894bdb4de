// Package sqllog implements the event log over SQLite. Conflict detection is
// structural: a UNIQUE(case_id, seq) constraint makes the losing writer's
// insert fail even if its version check raced, so a duplicate (case, seq)
// pair can never be committed.
package sqllog

import (
	"context"
	"database/sql"
	"strings"

	"claimline/internal/eventlog"
	"claimline/internal/events"
)

type Store struct {
	DB *sql.DB
}

// New wraps an open database. Schema setup belongs to the migrate package.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) Append(ctx context.Context, ev events.Event, expected int64) (int64, error) {
	return s.AppendBatch(ctx, []events.Event{ev}, expected)
}

func (s *Store) AppendBatch(ctx context.Context, evs []events.Event, expected int64) (int64, error) {
	if err := eventlog.ValidateBatch(evs, expected); err != nil {
		return 0, err
	}
	caseID := evs[0].CaseID
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, &eventlog.StorageError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	current, err := currentVersion(ctx, tx, caseID)
	if err != nil {
		return 0, err
	}
	if current != expected {
		return 0, &eventlog.ConflictError{Expected: expected, Actual: current}
	}
	for i := range evs {
		evs[i].Seq = current + int64(i) + 1
		if err := insertEvent(ctx, tx, evs[i]); err != nil {
			return 0, s.writeFailure(ctx, tx, caseID, expected, "insert", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, s.writeFailure(ctx, tx, caseID, expected, "commit", err)
	}
	return current + int64(len(evs)), nil
}

// writeFailure turns a failed insert or commit into the caller-facing error.
// The transaction must be rolled back before the stored-version read: it
// still holds the write lock, and a pool query under it would block on our
// own lock. A (case_id, seq) violation means we lost a race the version
// check did not see, so report the committed version, not our stale read.
// Any other failure, including a duplicate event id, is a storage error.
func (s *Store) writeFailure(ctx context.Context, tx *sql.Tx, caseID string, expected int64, op string, err error) error {
	_ = tx.Rollback()
	if !isSeqConflict(err) {
		return &eventlog.StorageError{Op: op, Err: err}
	}
	actual, verr := s.storedVersion(ctx, caseID)
	if verr != nil {
		return verr
	}
	return &eventlog.ConflictError{Expected: expected, Actual: actual}
}

func (s *Store) GetEvents(ctx context.Context, caseID string) ([]events.Event, int64, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,case_id,kind,seq,ts,actor,role,comment,reply_to,payload_json
		FROM case_events WHERE case_id=? ORDER BY seq`, caseID)
	if err != nil {
		return nil, 0, &eventlog.StorageError{Op: "query", Err: err}
	}
	defer rows.Close()
	var (
		out     []events.Event
		version int64
	)
	for rows.Next() {
		var (
			ev               events.Event
			comment, replyTo sql.NullString
			payload          string
		)
		if err := rows.Scan(&ev.ID, &ev.CaseID, &ev.Kind, &ev.Seq, &ev.TS, &ev.Actor, &ev.Role, &comment, &replyTo, &payload); err != nil {
			return nil, 0, &eventlog.StorageError{Op: "scan", Err: err}
		}
		ev.Comment = comment.String
		ev.InReplyTo = replyTo.String
		ev.Payload = []byte(payload)
		out = append(out, ev)
		if ev.Seq > version {
			version = ev.Seq
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, &eventlog.StorageError{Op: "scan", Err: err}
	}
	return out, version, nil
}

func (s *Store) ListCases(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT case_id FROM case_events ORDER BY case_id`)
	if err != nil {
		return nil, &eventlog.StorageError{Op: "list", Err: err}
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &eventlog.StorageError{Op: "scan", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &eventlog.StorageError{Op: "scan", Err: err}
	}
	return ids, nil
}

func (s *Store) storedVersion(ctx context.Context, caseID string) (int64, error) {
	var v int64
	if err := s.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM case_events WHERE case_id=?`, caseID).Scan(&v); err != nil {
		return 0, &eventlog.StorageError{Op: "version", Err: err}
	}
	return v, nil
}

func currentVersion(ctx context.Context, tx *sql.Tx, caseID string) (int64, error) {
	var v int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM case_events WHERE case_id=?`, caseID).Scan(&v); err != nil {
		return 0, &eventlog.StorageError{Op: "version", Err: err}
	}
	return v, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev events.Event) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO case_events(id,case_id,kind,seq,ts,actor,role,comment,reply_to,payload_json)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		ev.ID, ev.CaseID, string(ev.Kind), ev.Seq, ev.TS, ev.Actor, string(ev.Role),
		nullable(ev.Comment), nullable(ev.InReplyTo), string(ev.Payload))
	return err
}

// isSeqConflict reports whether err is the PRIMARY KEY (case_id, seq)
// violation. The event-id index raises the same SQLite error class but names
// different columns; retrying that one with a fresher version can never
// succeed, so it must not be mistaken for a conflict.
func isSeqConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, "case_events.seq")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
