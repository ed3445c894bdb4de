// Package eventlog defines the append-only per-case event store contract and
// its conflict model. Backends differ only in how they detect a lost race:
// the file backend holds an exclusive lease across the read-check-write
// cycle, the SQLite backend relies on a uniqueness constraint over
// (case id, seq).
package eventlog

import (
	"context"
	"errors"
	"fmt"

	"claimline/internal/events"
)

// Store is the per-case append-only event log.
//
// Versions start at 0 for a case with no events and increase by exactly the
// number of events committed in a batch. GetEvents returns events in
// store-assigned order together with the current version; a non-existent
// case yields an empty slice and version 0, not an error.
type Store interface {
	// Append commits a single event if expected matches the stored
	// version, returning the new version.
	Append(ctx context.Context, ev events.Event, expected int64) (int64, error)
	// AppendBatch commits all events or none. Every event must carry the
	// same case id.
	AppendBatch(ctx context.Context, evs []events.Event, expected int64) (int64, error)
	// GetEvents returns the ordered log and current version for a case.
	GetEvents(ctx context.Context, caseID string) ([]events.Event, int64, error)
	// ListCases returns every case id known to the store.
	ListCases(ctx context.Context) ([]string, error)
	Close() error
}

// ConflictError signals that another writer committed first. It is normal
// control flow: the caller re-fetches and reapplies its intent.
type ConflictError struct {
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %d, stored %d", e.Expected, e.Actual)
}

// IsConflict reports whether err is a version conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// StorageError wraps backend I/O failures. The store never retries; any
// retry policy belongs to the caller.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ValidateBatch checks the structural preconditions shared by all backends.
func ValidateBatch(evs []events.Event, expected int64) error {
	if len(evs) == 0 {
		return errors.New("empty batch")
	}
	if expected < 0 {
		return fmt.Errorf("expected version %d must not be negative", expected)
	}
	caseID := evs[0].CaseID
	if caseID == "" {
		return errors.New("event missing case id")
	}
	for _, ev := range evs {
		if ev.CaseID != caseID {
			return fmt.Errorf("batch spans cases %s and %s", caseID, ev.CaseID)
		}
		if ev.ID == "" {
			return errors.New("event missing id")
		}
		if _, err := events.Decode(ev); err != nil {
			return err
		}
	}
	return nil
}
