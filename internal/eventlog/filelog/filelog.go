// Package filelog stores one JSON log document per case, guarded by advisory
// flock leases: shared for reads, exclusive for the whole read-check-write
// cycle. New content is staged to a temp file, flushed, then atomically
// renamed over the committed document, so a crash mid-write never corrupts
// previously committed data.
package filelog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"claimline/internal/eventlog"
	"claimline/internal/events"
)

type Store struct {
	dir string
}

// caseFile is the persisted layout: the committed version plus the ordered
// event list. New optional payload fields stay backward-readable because the
// envelope carries raw JSON payloads.
type caseFile struct {
	Version int64          `json:"version"`
	Events  []events.Event `json:"events"`
}

// Open prepares a file store rooted at dir, creating it if missing.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &eventlog.StorageError{Op: "open", Err: err}
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) Append(ctx context.Context, ev events.Event, expected int64) (int64, error) {
	return s.AppendBatch(ctx, []events.Event{ev}, expected)
}

func (s *Store) AppendBatch(ctx context.Context, evs []events.Event, expected int64) (int64, error) {
	if err := eventlog.ValidateBatch(evs, expected); err != nil {
		return 0, err
	}
	caseID := evs[0].CaseID
	if err := checkCaseID(caseID); err != nil {
		return 0, err
	}
	lock, err := s.acquire(caseID, unix.LOCK_EX)
	if err != nil {
		return 0, err
	}
	defer lock.release()

	cf, err := s.load(caseID)
	if err != nil {
		return 0, err
	}
	if cf.Version != expected {
		return 0, &eventlog.ConflictError{Expected: expected, Actual: cf.Version}
	}
	for i := range evs {
		evs[i].Seq = cf.Version + int64(i) + 1
	}
	cf.Events = append(cf.Events, evs...)
	cf.Version += int64(len(evs))
	if err := s.commit(caseID, cf); err != nil {
		return 0, err
	}
	return cf.Version, nil
}

func (s *Store) GetEvents(ctx context.Context, caseID string) ([]events.Event, int64, error) {
	if err := checkCaseID(caseID); err != nil {
		return nil, 0, err
	}
	lock, err := s.acquire(caseID, unix.LOCK_SH)
	if err != nil {
		return nil, 0, err
	}
	defer lock.release()

	cf, err := s.load(caseID)
	if err != nil {
		return nil, 0, err
	}
	return cf.Events, cf.Version, nil
}

func (s *Store) ListCases(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &eventlog.StorageError{Op: "list", Err: err}
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

func (s *Store) casePath(caseID string) string {
	return filepath.Join(s.dir, caseID+".json")
}

// load reads the committed document. Callers hold at least a shared lease.
func (s *Store) load(caseID string) (caseFile, error) {
	var cf caseFile
	data, err := os.ReadFile(s.casePath(caseID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cf, nil
		}
		return cf, &eventlog.StorageError{Op: "read", Err: err}
	}
	if err := json.Unmarshal(data, &cf); err != nil {
		return cf, &eventlog.StorageError{Op: "decode", Err: err}
	}
	return cf, nil
}

// commit stages the full document then atomically replaces the committed
// one. Callers hold the exclusive lease.
func (s *Store) commit(caseID string, cf caseFile) error {
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return &eventlog.StorageError{Op: "encode", Err: err}
	}
	target := s.casePath(caseID)
	tmp, err := os.CreateTemp(s.dir, caseID+".*.tmp")
	if err != nil {
		return &eventlog.StorageError{Op: "stage", Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &eventlog.StorageError{Op: "stage", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &eventlog.StorageError{Op: "flush", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &eventlog.StorageError{Op: "stage", Err: err}
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return &eventlog.StorageError{Op: "commit", Err: err}
	}
	if d, err := os.Open(s.dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

// lease is a held advisory lock on a case's lock file. The lock file is
// separate from the data file so the atomic rename never replaces the inode
// the lock lives on.
type lease struct {
	f *os.File
}

func (l lease) release() {
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	_ = l.f.Close()
}

func (s *Store) acquire(caseID string, how int) (lease, error) {
	path := filepath.Join(s.dir, caseID+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return lease{}, &eventlog.StorageError{Op: "lease", Err: err}
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return lease{}, &eventlog.StorageError{Op: "lease", Err: err}
	}
	return lease{f: f}, nil
}

func checkCaseID(caseID string) error {
	if caseID == "" {
		return errors.New("case id required")
	}
	for _, r := range caseID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return fmt.Errorf("case id %q contains unsupported character %q", caseID, r)
		}
	}
	if strings.HasPrefix(caseID, ".") {
		return fmt.Errorf("case id %q must not start with a dot", caseID)
	}
	return nil
}
