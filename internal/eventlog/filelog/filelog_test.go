package filelog

import (
	"context"
	"errors"
	"sync"
	"testing"

	"claimline/internal/eventlog"
	"claimline/internal/events"
)

func testEvent(t *testing.T, caseID string) events.Event {
	t.Helper()
	ev, err := events.New(caseID, events.KindCaseCreated, "alice", events.RoleClaimant,
		&events.CaseCreated{Title: "t", Category: events.CategoryStandard})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	return ev
}

func basisEvent(t *testing.T, caseID string) events.Event {
	t.Helper()
	ev, err := events.New(caseID, events.KindBasisSubmitted, "alice", events.RoleClaimant,
		&events.BasisClaim{Ground: "delay"})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	return ev
}

func TestUnknownCaseIsEmptyAtVersionZero(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	evs, version, err := s.GetEvents(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if version != 0 || len(evs) != 0 {
		t.Fatalf("want empty log at version 0, got %d events at version %d", len(evs), version)
	}
}

func TestAppendAssignsSequentialSeqs(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	v, err := s.Append(ctx, testEvent(t, "case-1"), 0)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if v != 1 {
		t.Fatalf("want version 1, got %d", v)
	}
	v, err = s.AppendBatch(ctx, []events.Event{basisEvent(t, "case-1"), basisEvent(t, "case-1")}, 1)
	if err != nil {
		t.Fatalf("append batch: %v", err)
	}
	if v != 3 {
		t.Fatalf("want version 3, got %d", v)
	}

	evs, version, err := s.GetEvents(ctx, "case-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if version != 3 {
		t.Fatalf("want version 3, got %d", version)
	}
	for i, ev := range evs {
		if ev.Seq != int64(i)+1 {
			t.Fatalf("event %d has seq %d", i, ev.Seq)
		}
	}
}

func TestStaleExpectedVersionConflicts(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := s.Append(ctx, testEvent(t, "case-1"), 0); err != nil {
		t.Fatalf("append: %v", err)
	}

	_, err = s.Append(ctx, basisEvent(t, "case-1"), 0)
	var ce *eventlog.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("want conflict, got %v", err)
	}
	if ce.Expected != 0 || ce.Actual != 1 {
		t.Fatalf("want conflict(0,1), got (%d,%d)", ce.Expected, ce.Actual)
	}
}

func TestConcurrentAppendersOneWins(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := s.Append(ctx, testEvent(t, "case-1"), 0); err != nil {
		t.Fatalf("append: %v", err)
	}

	const writers = 8
	results := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Append(ctx, basisEvent(t, "case-1"), 1)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case eventlog.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != writers-1 {
		t.Fatalf("want exactly one winner, got %d wins and %d conflicts", wins, conflicts)
	}

	_, version, err := s.GetEvents(ctx, "case-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if version != 2 {
		t.Fatalf("want version 2 after the race, got %d", version)
	}
}

func TestConcurrentCreationOneWins(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Append(ctx, testEvent(t, "case-1"), 0)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case eventlog.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("want one creation to win, got %d wins and %d conflicts", wins, conflicts)
	}
}

func TestBatchCommitsAllOrNothing(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := s.Append(ctx, testEvent(t, "case-1"), 0); err != nil {
		t.Fatalf("append: %v", err)
	}

	// A batch containing an invalid event is rejected before any write.
	bad := basisEvent(t, "case-1")
	bad.Payload = []byte(`{"ground":""}`)
	if _, err := s.AppendBatch(ctx, []events.Event{basisEvent(t, "case-1"), bad}, 1); err == nil {
		t.Fatal("want validation error")
	}
	_, version, err := s.GetEvents(ctx, "case-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if version != 1 {
		t.Fatalf("rejected batch must not advance the version, got %d", version)
	}
}

func TestBatchSpanningCasesRejected(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	batch := []events.Event{testEvent(t, "case-1"), testEvent(t, "case-2")}
	if _, err := s.AppendBatch(context.Background(), batch, 0); err == nil {
		t.Fatal("want error for batch spanning cases")
	}
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(ctx, testEvent(t, "case-1"), 0); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	evs, version, err := s.GetEvents(ctx, "case-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if version != 1 || len(evs) != 1 {
		t.Fatalf("want 1 event at version 1 after reopen, got %d at %d", len(evs), version)
	}
}

func TestListCasesIgnoresLockFiles(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := s.Append(ctx, testEvent(t, "case-b"), 0); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Append(ctx, testEvent(t, "case-a"), 0); err != nil {
		t.Fatalf("append: %v", err)
	}
	ids, err := s.ListCases(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("want 2 cases, got %v", ids)
	}
}

func TestCaseIDValidation(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"../escape", "a/b", ".hidden", "sp ace"} {
		if _, _, err := s.GetEvents(context.Background(), id); err == nil {
			t.Fatalf("case id %q should be rejected", id)
		}
	}
}
