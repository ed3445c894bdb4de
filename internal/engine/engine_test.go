package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"claimline/internal/cache"
	"claimline/internal/config"
	"claimline/internal/db"
	"claimline/internal/engine"
	"claimline/internal/engine/auth"
	"claimline/internal/eventlog"
	"claimline/internal/eventlog/filelog"
	"claimline/internal/events"
	"claimline/internal/migrate"
	"claimline/internal/reduce"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := filelog.Open(db.CasesDir(dir))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(store, &cache.Cache{DB: conn}, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func createCase(t *testing.T, env testEnv) reduce.CaseState {
	t.Helper()
	st, err := env.Engine.CreateCase(env.Ctx, engine.CaseCreateOptions{
		ID:    "case-1",
		Title: "Unforeseen rock at pile 14",
		Actor: "alice",
	})
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	return st
}

func submitBasis(t *testing.T, env testEnv) reduce.CaseState {
	t.Helper()
	st, err := env.Engine.SubmitBasis(env.Ctx, "case-1", events.BasisClaim{Ground: "differing site conditions"}, "alice")
	if err != nil {
		t.Fatalf("submit basis: %v", err)
	}
	return st
}

func TestCreateCase(t *testing.T) {
	env := newTestEnv(t)
	st := createCase(t, env)

	if st.Version != 1 {
		t.Fatalf("want version 1, got %d", st.Version)
	}
	if st.Basis.Status != reduce.StatusDraft {
		t.Fatalf("want basis draft, got %s", st.Basis.Status)
	}
	if st.Category != events.CategoryStandard {
		t.Fatalf("want default category, got %s", st.Category)
	}

	// The cache row appears immediately.
	items, err := env.Engine.ListCases(env.Ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].CaseID != "case-1" {
		t.Fatalf("want cached case, got %+v", items)
	}
}

func TestCreateCaseIDCollision(t *testing.T) {
	env := newTestEnv(t)
	createCase(t, env)
	_, err := env.Engine.CreateCase(env.Ctx, engine.CaseCreateOptions{ID: "case-1", Title: "again", Actor: "bob"})
	if !eventlog.IsConflict(err) {
		t.Fatalf("want conflict on id reuse, got %v", err)
	}
}

func TestGetCaseMissing(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.Engine.GetCase(env.Ctx, "nope")
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestClaimFlowThroughApproval(t *testing.T) {
	env := newTestEnv(t)
	createCase(t, env)
	submitBasis(t, env)

	st, err := env.Engine.SubmitCompensation(env.Ctx, "case-1", events.CompensationClaim{
		Method: events.MethodCostEstimate, Estimate: 150000,
	}, "alice")
	if err != nil {
		t.Fatalf("submit compensation: %v", err)
	}
	if st.Compensation.Status != reduce.StatusSubmitted || st.Compensation.EstimatedAmount != 150000 {
		t.Fatalf("compensation state wrong: %+v", st.Compensation)
	}

	st, err = env.Engine.SubmitDeadline(env.Ctx, "case-1", events.DeadlineClaim{Days: 21}, "alice")
	if err != nil {
		t.Fatalf("submit deadline: %v", err)
	}
	if st.Deadline.Days != 21 {
		t.Fatalf("want 21 days, got %d", st.Deadline.Days)
	}

	st, err = env.Engine.RespondBasis(env.Ctx, "case-1", events.BasisResponse{Result: events.ResultApproved}, "owner-rep")
	if err != nil {
		t.Fatalf("respond basis: %v", err)
	}
	if st.Basis.Status != reduce.StatusLocked || !st.Basis.Locked {
		t.Fatalf("want locked basis, got %+v", st.Basis.TrackState)
	}
	if st.Compensation.Status != reduce.StatusSubmitted {
		t.Fatalf("compensation must stay submitted, got %s", st.Compensation.Status)
	}
	if st.Version != 5 {
		t.Fatalf("want version 5, got %d", st.Version)
	}
}

func TestCompensationRequiresBasis(t *testing.T) {
	env := newTestEnv(t)
	createCase(t, env)
	_, err := env.Engine.SubmitCompensation(env.Ctx, "case-1", events.CompensationClaim{
		Method: events.MethodCostEstimate, Estimate: 1000,
	}, "alice")
	if err == nil {
		t.Fatal("want error before basis submission")
	}
}

func TestResponseUsesAmendedKindSecondTime(t *testing.T) {
	env := newTestEnv(t)
	createCase(t, env)
	submitBasis(t, env)

	if _, err := env.Engine.RespondBasis(env.Ctx, "case-1", events.BasisResponse{Result: events.ResultRejected}, "owner-rep"); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if _, err := env.Engine.RespondBasis(env.Ctx, "case-1", events.BasisResponse{Result: events.ResultApproved}, "owner-rep"); err != nil {
		t.Fatalf("amend: %v", err)
	}

	_, evs, err := env.Engine.GetCase(env.Ctx, "case-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	last := evs[len(evs)-1]
	if last.Kind != events.KindBasisResponseAmended {
		t.Fatalf("want amended response kind, got %s", last.Kind)
	}
	prev := evs[len(evs)-2]
	if last.InReplyTo != prev.ID {
		t.Fatalf("amendment must reply to the prior response")
	}
}

func TestSpecifyDeadlineDays(t *testing.T) {
	env := newTestEnv(t)
	createCase(t, env)
	submitBasis(t, env)
	if _, err := env.Engine.SubmitDeadline(env.Ctx, "case-1", events.DeadlineClaim{Interim: true}, "alice"); err != nil {
		t.Fatalf("submit deadline: %v", err)
	}

	st, err := env.Engine.SpecifyDeadlineDays(env.Ctx, "case-1", 30, "alice")
	if err != nil {
		t.Fatalf("specify: %v", err)
	}
	if st.Deadline.Days != 30 || st.Deadline.Revision != 1 {
		t.Fatalf("deadline state wrong: %+v", st.Deadline)
	}
}

func TestWithdrawTrack(t *testing.T) {
	env := newTestEnv(t)
	createCase(t, env)
	submitBasis(t, env)

	st, err := env.Engine.Withdraw(env.Ctx, "case-1", events.TrackBasis, "settled bilaterally", "alice")
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if st.Basis.Status != reduce.StatusWithdrawn {
		t.Fatalf("want withdrawn, got %s", st.Basis.Status)
	}
	if _, err := env.Engine.Withdraw(env.Ctx, "case-1", "sideways", "", "alice"); err == nil {
		t.Fatal("want error for unknown track")
	}
}

func TestRolePolicyEnforced(t *testing.T) {
	env := newTestEnv(t)
	createCase(t, env)
	submitBasis(t, env)

	// Responses go through newEvent with the owner role; a raw append
	// with the claimant role must be refused.
	payload, _ := json.Marshal(events.BasisResponse{Result: events.ResultApproved})
	_, err := env.Engine.AppendEvents(env.Ctx, "case-1", "alice", events.RoleClaimant, []engine.EventInput{
		{Kind: events.KindBasisResponse, Payload: payload},
	}, 2)
	var ferr auth.ForbiddenError
	if !errors.As(err, &ferr) {
		t.Fatalf("want ForbiddenError, got %v", err)
	}
}

func TestAppendEventsBatch(t *testing.T) {
	env := newTestEnv(t)
	createCase(t, env)

	basis, _ := json.Marshal(events.BasisClaim{Ground: "delay"})
	deadline, _ := json.Marshal(events.DeadlineClaim{Days: 14})
	st, err := env.Engine.AppendEvents(env.Ctx, "case-1", "alice", events.RoleClaimant, []engine.EventInput{
		{Kind: events.KindBasisSubmitted, Payload: basis},
		{Kind: events.KindDeadlineSubmitted, Payload: deadline, Comment: "per site diary"},
	}, 1)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if st.Version != 3 {
		t.Fatalf("want version 3, got %d", st.Version)
	}
	if st.Deadline.Days != 14 {
		t.Fatalf("batch not applied in order: %+v", st.Deadline)
	}
}

func TestAppendEventsStaleVersion(t *testing.T) {
	env := newTestEnv(t)
	createCase(t, env)

	basis, _ := json.Marshal(events.BasisClaim{Ground: "delay"})
	_, err := env.Engine.AppendEvents(env.Ctx, "case-1", "alice", events.RoleClaimant, []engine.EventInput{
		{Kind: events.KindBasisSubmitted, Payload: basis},
	}, 0)
	if !eventlog.IsConflict(err) {
		t.Fatalf("want conflict, got %v", err)
	}
}

func TestAppendEventsRejectsUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	createCase(t, env)

	_, err := env.Engine.AppendEvents(env.Ctx, "case-1", "alice", events.RoleClaimant, []engine.EventInput{
		{Kind: "basis.frobnicated", Payload: []byte(`{}`)},
	}, 1)
	var uerr *events.UnknownKindError
	if !errors.As(err, &uerr) {
		t.Fatalf("want UnknownKindError, got %v", err)
	}
}

func TestAccelerationSubflow(t *testing.T) {
	env := newTestEnv(t)
	createCase(t, env)
	submitBasis(t, env)

	st, err := env.Engine.RequestAcceleration(env.Ctx, "case-1", events.AccelerationRequest{Days: 10, Amount: 25000}, "owner-rep")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if st.Acceleration == nil || st.Acceleration.Status != reduce.AccelRequested {
		t.Fatalf("acceleration not recorded: %+v", st.Acceleration)
	}

	st, err = env.Engine.DecideAcceleration(env.Ctx, "case-1", true, events.AccelerationDecision{}, "alice")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if st.Acceleration.Status != reduce.AccelAccepted || st.Acceleration.AgreedAmount != 25000 {
		t.Fatalf("acceptance wrong: %+v", st.Acceleration)
	}

	if _, err := env.Engine.DecideAcceleration(env.Ctx, "case-1", false, events.AccelerationDecision{}, "alice"); err == nil {
		t.Fatal("want error once the request is decided")
	}
}

func TestChangeOrderSubflow(t *testing.T) {
	env := newTestEnv(t)
	createCase(t, env)

	st, err := env.Engine.IssueChangeOrder(env.Ctx, "case-1", events.ChangeOrder{Reference: "CO-7", Amount: 12000}, "owner-rep")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if st.ChangeOrder == nil || st.ChangeOrder.Status != reduce.ChangeOrderIssued {
		t.Fatalf("change order not recorded: %+v", st.ChangeOrder)
	}

	st, err = env.Engine.DecideChangeOrder(env.Ctx, "case-1", false, "scope already included", "alice")
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if st.ChangeOrder.Status != reduce.ChangeOrderDisputed {
		t.Fatalf("want disputed, got %s", st.ChangeOrder.Status)
	}
}

func TestFindByExternalRef(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateCase(env.Ctx, engine.CaseCreateOptions{
		ID: "case-1", Title: "t", ExternalRef: "K-2026-031", Actor: "alice",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	e, err := env.Engine.FindByExternalRef(env.Ctx, "K-2026-031")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if e.CaseID != "case-1" {
		t.Fatalf("want case-1, got %s", e.CaseID)
	}
	if _, err := env.Engine.FindByExternalRef(env.Ctx, "K-0"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestRebuildIndexRecoversFromStaleCache(t *testing.T) {
	env := newTestEnv(t)
	createCase(t, env)
	submitBasis(t, env)

	// Poison the cache row, then rebuild from the log.
	if err := env.Engine.Cache.Update(env.Ctx, cache.Entry{
		CaseID: "case-1", Title: "wrong", Category: "standard", Version: 99,
		BasisStatus: "withdrawn", CompensationStatus: "draft", DeadlineStatus: "draft",
	}); err != nil {
		t.Fatalf("poison: %v", err)
	}
	if err := env.Engine.RebuildIndex(env.Ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	e, err := env.Engine.Cache.Get(env.Ctx, "case-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.Version != 2 || e.BasisStatus != string(reduce.StatusSubmitted) {
		t.Fatalf("rebuild did not restore truth: %+v", e)
	}
}

func TestActorRequired(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateCase(env.Ctx, engine.CaseCreateOptions{Title: "t"})
	if err == nil {
		t.Fatal("want error without actor")
	}
}
