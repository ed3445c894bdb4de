package cache

import (
	"context"
	"errors"
	"testing"

	"claimline/internal/db"
	"claimline/internal/eventlog/filelog"
	"claimline/internal/events"
	"claimline/internal/migrate"
)

func openCache(t *testing.T) Cache {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return Cache{DB: conn}
}

func entry(caseID string) Entry {
	return Entry{
		CaseID:             caseID,
		Title:              "Pile 14 rock",
		Category:           "standard",
		Version:            3,
		BasisStatus:        "submitted",
		CompensationStatus: "draft",
		DeadlineStatus:     "draft",
		UpdatedAt:          "2026-02-10T10:00:00Z",
	}
}

func TestUpdateAndGet(t *testing.T) {
	c := openCache(t)
	ctx := context.Background()

	e := entry("case-1")
	e.ExternalRef = "K-2026-031"
	e.NetAmount = 45000
	if err := c.Update(ctx, e); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := c.Get(ctx, "case-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != e {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, e)
	}
}

func TestGetMissingCase(t *testing.T) {
	c := openCache(t)
	_, err := c.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestUpdateUpserts(t *testing.T) {
	c := openCache(t)
	ctx := context.Background()

	e := entry("case-1")
	if err := c.Update(ctx, e); err != nil {
		t.Fatalf("update: %v", err)
	}
	e.Version = 5
	e.BasisStatus = "locked"
	if err := c.Update(ctx, e); err != nil {
		t.Fatalf("second update: %v", err)
	}

	got, err := c.Get(ctx, "case-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 5 || got.BasisStatus != "locked" {
		t.Fatalf("row not replaced: %+v", got)
	}
}

func TestGetByExternalRef(t *testing.T) {
	c := openCache(t)
	ctx := context.Background()

	e := entry("case-1")
	e.ExternalRef = "K-2026-031"
	if err := c.Update(ctx, e); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := c.GetByExternalRef(ctx, "K-2026-031")
	if err != nil {
		t.Fatalf("get by ref: %v", err)
	}
	if got.CaseID != "case-1" {
		t.Fatalf("want case-1, got %s", got.CaseID)
	}
	if _, err := c.GetByExternalRef(ctx, "K-0000-000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestListOrdersByActivity(t *testing.T) {
	c := openCache(t)
	ctx := context.Background()

	old := entry("case-old")
	old.UpdatedAt = "2026-01-01T00:00:00Z"
	fresh := entry("case-fresh")
	fresh.UpdatedAt = "2026-02-01T00:00:00Z"
	for _, e := range []Entry{old, fresh} {
		if err := c.Update(ctx, e); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	items, err := c.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].CaseID != "case-fresh" {
		t.Fatalf("want newest first, got %+v", items)
	}
}

func TestRebuildReplaysEveryCase(t *testing.T) {
	c := openCache(t)
	ctx := context.Background()

	store, err := filelog.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	created, err := events.New("case-1", events.KindCaseCreated, "alice", events.RoleClaimant,
		&events.CaseCreated{Title: "t", Category: events.CategoryStandard, ExternalRef: "K-1"})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	basis, err := events.New("case-1", events.KindBasisSubmitted, "alice", events.RoleClaimant,
		&events.BasisClaim{Ground: "delay"})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	if _, err := store.AppendBatch(ctx, []events.Event{created, basis}, 0); err != nil {
		t.Fatalf("append: %v", err)
	}

	// A stale row for a case the store no longer knows must disappear.
	if err := c.Update(ctx, entry("case-ghost")); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := c.Rebuild(ctx, store); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	items, err := c.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("want exactly the replayed case, got %+v", items)
	}
	got := items[0]
	if got.CaseID != "case-1" || got.Version != 2 || got.BasisStatus != "submitted" || got.ExternalRef != "K-1" {
		t.Fatalf("rebuilt row wrong: %+v", got)
	}
}
