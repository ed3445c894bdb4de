// Package engine orchestrates the core: it builds typed events, appends them
// with optimistic concurrency, folds the case through the reducer and pushes
// the display projection into the metadata cache. It holds no business state
// of its own; everything is re-derived from the event log.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"claimline/internal/cache"
	"claimline/internal/config"
	"claimline/internal/engine/auth"
	"claimline/internal/eventlog"
	"claimline/internal/events"
	"claimline/internal/reduce"
)

var ErrNotFound = errors.New("case not found")

type Engine struct {
	Store  eventlog.Store
	Cache  *cache.Cache
	Config *config.Config
	Now    func() time.Time
}

func New(store eventlog.Store, c *cache.Cache, cfg *config.Config) Engine {
	return Engine{
		Store:  store,
		Cache:  c,
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// CaseCreateOptions are parameters for opening a case.
type CaseCreateOptions struct {
	ID          string
	Title       string
	Category    events.CaseCategory
	ExternalRef string
	Actor       string
	Role        events.Role
}

// CreateCase appends the creation event at version 0. When two callers race
// on the same id, exactly one wins; the other sees ConflictError(0, actual).
func (e Engine) CreateCase(ctx context.Context, opts CaseCreateOptions) (reduce.CaseState, error) {
	if opts.Title == "" {
		return reduce.CaseState{}, errors.New("title is required")
	}
	if opts.Category == "" {
		opts.Category = events.CategoryStandard
	}
	if opts.Role == "" {
		opts.Role = events.RoleClaimant
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	ev, err := e.newEvent(id, events.KindCaseCreated, opts.Actor, opts.Role, &events.CaseCreated{
		Title:       opts.Title,
		Category:    opts.Category,
		ExternalRef: opts.ExternalRef,
	})
	if err != nil {
		return reduce.CaseState{}, err
	}
	return e.commit(ctx, id, []events.Event{ev}, 0)
}

// EventInput is one uncommitted event as supplied by a transport client.
type EventInput struct {
	Kind      events.Kind `json:"kind"`
	Comment   string      `json:"comment,omitempty"`
	InReplyTo string      `json:"in_reply_to,omitempty"`
	Payload   []byte      `json:"payload"`
}

// AppendEvents validates and commits a raw batch against an expected
// version. Validation failures and version conflicts surface unchanged; the
// caller decides how to re-fetch and retry.
func (e Engine) AppendEvents(ctx context.Context, caseID string, actor string, role events.Role, inputs []EventInput, expected int64) (reduce.CaseState, error) {
	if len(inputs) == 0 {
		return reduce.CaseState{}, errors.New("at least one event required")
	}
	batch := make([]events.Event, 0, len(inputs))
	ts := e.now().UTC().Format(time.RFC3339)
	for _, in := range inputs {
		ev := events.Event{
			ID:        uuid.New().String(),
			CaseID:    caseID,
			Kind:      in.Kind,
			TS:        ts,
			Actor:     actor,
			Role:      role,
			Comment:   in.Comment,
			InReplyTo: in.InReplyTo,
			Payload:   in.Payload,
		}
		if _, err := events.Decode(ev); err != nil {
			return reduce.CaseState{}, err
		}
		if err := auth.CheckRole(ev.Kind, role); err != nil {
			return reduce.CaseState{}, err
		}
		batch = append(batch, ev)
	}
	return e.commit(ctx, caseID, batch, expected)
}

// SubmitBasis records the liability claim, as a first submission or a
// revision depending on current state.
func (e Engine) SubmitBasis(ctx context.Context, caseID string, claim events.BasisClaim, actor string) (reduce.CaseState, error) {
	st, _, err := e.GetCase(ctx, caseID)
	if err != nil {
		return reduce.CaseState{}, err
	}
	kind := events.KindBasisSubmitted
	if st.Basis.Claim != nil {
		kind = events.KindBasisUpdated
	}
	ev, err := e.newEvent(caseID, kind, actor, events.RoleClaimant, &claim)
	if err != nil {
		return reduce.CaseState{}, err
	}
	return e.commit(ctx, caseID, []events.Event{ev}, st.Version)
}

// SubmitCompensation records the monetary claim. The track opens only after
// the first basis submission.
func (e Engine) SubmitCompensation(ctx context.Context, caseID string, claim events.CompensationClaim, actor string) (reduce.CaseState, error) {
	st, _, err := e.GetCase(ctx, caseID)
	if err != nil {
		return reduce.CaseState{}, err
	}
	if st.Compensation.Status == reduce.StatusNotApplicable {
		return reduce.CaseState{}, errors.New("compensation requires a submitted basis claim")
	}
	kind := events.KindCompensationSubmitted
	if st.Compensation.Claim != nil {
		kind = events.KindCompensationUpdated
	}
	ev, err := e.newEvent(caseID, kind, actor, events.RoleClaimant, &claim)
	if err != nil {
		return reduce.CaseState{}, err
	}
	return e.commit(ctx, caseID, []events.Event{ev}, st.Version)
}

// SubmitDeadline records the schedule extension claim.
func (e Engine) SubmitDeadline(ctx context.Context, caseID string, claim events.DeadlineClaim, actor string) (reduce.CaseState, error) {
	st, _, err := e.GetCase(ctx, caseID)
	if err != nil {
		return reduce.CaseState{}, err
	}
	if st.Deadline.Status == reduce.StatusNotApplicable {
		return reduce.CaseState{}, errors.New("deadline extension requires a submitted basis claim")
	}
	kind := events.KindDeadlineSubmitted
	if st.Deadline.Claim != nil {
		kind = events.KindDeadlineUpdated
	}
	ev, err := e.newEvent(caseID, kind, actor, events.RoleClaimant, &claim)
	if err != nil {
		return reduce.CaseState{}, err
	}
	return e.commit(ctx, caseID, []events.Event{ev}, st.Version)
}

// SpecifyDeadlineDays quantifies a previously noticed extension.
func (e Engine) SpecifyDeadlineDays(ctx context.Context, caseID string, days int, actor string) (reduce.CaseState, error) {
	st, _, err := e.GetCase(ctx, caseID)
	if err != nil {
		return reduce.CaseState{}, err
	}
	if st.Deadline.Claim == nil {
		return reduce.CaseState{}, errors.New("no deadline claim to specify")
	}
	ev, err := e.newEvent(caseID, events.KindDeadlineSpecified, actor, events.RoleClaimant, &events.DeadlineSpecified{Days: days})
	if err != nil {
		return reduce.CaseState{}, err
	}
	ev.InReplyTo = st.Deadline.ClaimEventID
	return e.commit(ctx, caseID, []events.Event{ev}, st.Version)
}

// RespondBasis records the owner's decision on the basis track. The event
// answers the latest claim, or the prior response when amending.
func (e Engine) RespondBasis(ctx context.Context, caseID string, resp events.BasisResponse, actor string) (reduce.CaseState, error) {
	st, _, err := e.GetCase(ctx, caseID)
	if err != nil {
		return reduce.CaseState{}, err
	}
	if st.Basis.Claim == nil {
		return reduce.CaseState{}, errors.New("no basis claim to respond to")
	}
	kind := events.KindBasisResponse
	replyTo := st.Basis.ClaimEventID
	if st.Basis.Decision != nil {
		kind = events.KindBasisResponseAmended
		replyTo = st.Basis.ResponseEventID
	}
	ev, err := e.newEvent(caseID, kind, actor, events.RoleOwner, &resp)
	if err != nil {
		return reduce.CaseState{}, err
	}
	ev.InReplyTo = replyTo
	return e.commit(ctx, caseID, []events.Event{ev}, st.Version)
}

// RespondCompensation records the owner's gated decision on the
// compensation track.
func (e Engine) RespondCompensation(ctx context.Context, caseID string, resp events.CompensationResponse, actor string) (reduce.CaseState, error) {
	st, _, err := e.GetCase(ctx, caseID)
	if err != nil {
		return reduce.CaseState{}, err
	}
	if st.Compensation.Claim == nil {
		return reduce.CaseState{}, errors.New("no compensation claim to respond to")
	}
	kind := events.KindCompensationResponse
	replyTo := st.Compensation.ClaimEventID
	if st.Compensation.Decision != nil {
		kind = events.KindCompensationResponseAmended
		replyTo = st.Compensation.ResponseEventID
	}
	ev, err := e.newEvent(caseID, kind, actor, events.RoleOwner, &resp)
	if err != nil {
		return reduce.CaseState{}, err
	}
	ev.InReplyTo = replyTo
	return e.commit(ctx, caseID, []events.Event{ev}, st.Version)
}

// RespondDeadline records the owner's gated decision on the deadline track.
func (e Engine) RespondDeadline(ctx context.Context, caseID string, resp events.DeadlineResponse, actor string) (reduce.CaseState, error) {
	st, _, err := e.GetCase(ctx, caseID)
	if err != nil {
		return reduce.CaseState{}, err
	}
	if st.Deadline.Claim == nil {
		return reduce.CaseState{}, errors.New("no deadline claim to respond to")
	}
	kind := events.KindDeadlineResponse
	replyTo := st.Deadline.ClaimEventID
	if st.Deadline.Decision != nil {
		kind = events.KindDeadlineResponseAmended
		replyTo = st.Deadline.ResponseEventID
	}
	ev, err := e.newEvent(caseID, kind, actor, events.RoleOwner, &resp)
	if err != nil {
		return reduce.CaseState{}, err
	}
	ev.InReplyTo = replyTo
	return e.commit(ctx, caseID, []events.Event{ev}, st.Version)
}

// Withdraw retracts a track explicitly.
func (e Engine) Withdraw(ctx context.Context, caseID string, track events.Track, reason, actor string) (reduce.CaseState, error) {
	st, _, err := e.GetCase(ctx, caseID)
	if err != nil {
		return reduce.CaseState{}, err
	}
	var kind events.Kind
	switch track {
	case events.TrackBasis:
		kind = events.KindBasisWithdrawn
	case events.TrackCompensation:
		kind = events.KindCompensationWithdrawn
	case events.TrackDeadline:
		kind = events.KindDeadlineWithdrawn
	default:
		return reduce.CaseState{}, fmt.Errorf("unknown track %q", track)
	}
	ev, err := e.newEvent(caseID, kind, actor, events.RoleClaimant, &events.Withdrawal{Reason: reason})
	if err != nil {
		return reduce.CaseState{}, err
	}
	return e.commit(ctx, caseID, []events.Event{ev}, st.Version)
}

// RequestAcceleration starts the acceleration sub-flow.
func (e Engine) RequestAcceleration(ctx context.Context, caseID string, req events.AccelerationRequest, actor string) (reduce.CaseState, error) {
	st, _, err := e.GetCase(ctx, caseID)
	if err != nil {
		return reduce.CaseState{}, err
	}
	ev, err := e.newEvent(caseID, events.KindAccelerationRequested, actor, events.RoleOwner, &req)
	if err != nil {
		return reduce.CaseState{}, err
	}
	return e.commit(ctx, caseID, []events.Event{ev}, st.Version)
}

// DecideAcceleration concludes a pending acceleration request.
func (e Engine) DecideAcceleration(ctx context.Context, caseID string, accept bool, dec events.AccelerationDecision, actor string) (reduce.CaseState, error) {
	st, _, err := e.GetCase(ctx, caseID)
	if err != nil {
		return reduce.CaseState{}, err
	}
	if st.Acceleration == nil || st.Acceleration.Status != reduce.AccelRequested {
		return reduce.CaseState{}, errors.New("no pending acceleration request")
	}
	kind := events.KindAccelerationRejected
	if accept {
		kind = events.KindAccelerationAccepted
	}
	ev, err := e.newEvent(caseID, kind, actor, events.RoleClaimant, &dec)
	if err != nil {
		return reduce.CaseState{}, err
	}
	ev.InReplyTo = st.Acceleration.RequestEventID
	return e.commit(ctx, caseID, []events.Event{ev}, st.Version)
}

// IssueChangeOrder starts the change-order sub-flow.
func (e Engine) IssueChangeOrder(ctx context.Context, caseID string, co events.ChangeOrder, actor string) (reduce.CaseState, error) {
	st, _, err := e.GetCase(ctx, caseID)
	if err != nil {
		return reduce.CaseState{}, err
	}
	ev, err := e.newEvent(caseID, events.KindChangeOrderIssued, actor, events.RoleOwner, &co)
	if err != nil {
		return reduce.CaseState{}, err
	}
	return e.commit(ctx, caseID, []events.Event{ev}, st.Version)
}

// DecideChangeOrder accepts or disputes an issued change order.
func (e Engine) DecideChangeOrder(ctx context.Context, caseID string, accept bool, reason, actor string) (reduce.CaseState, error) {
	st, _, err := e.GetCase(ctx, caseID)
	if err != nil {
		return reduce.CaseState{}, err
	}
	if st.ChangeOrder == nil || st.ChangeOrder.Status != reduce.ChangeOrderIssued {
		return reduce.CaseState{}, errors.New("no issued change order")
	}
	kind := events.KindChangeOrderDisputed
	if accept {
		kind = events.KindChangeOrderAccepted
	}
	ev, err := e.newEvent(caseID, kind, actor, events.RoleClaimant, &events.ChangeOrderDecision{Reason: reason})
	if err != nil {
		return reduce.CaseState{}, err
	}
	return e.commit(ctx, caseID, []events.Event{ev}, st.Version)
}

// GetCase returns the computed state and the ordered event history.
func (e Engine) GetCase(ctx context.Context, caseID string) (reduce.CaseState, []events.Event, error) {
	evs, version, err := e.Store.GetEvents(ctx, caseID)
	if err != nil {
		return reduce.CaseState{}, nil, err
	}
	if version == 0 {
		return reduce.CaseState{}, nil, ErrNotFound
	}
	return reduce.ComputeState(evs), evs, nil
}

// ListCases serves list views from the metadata cache. Without a cache it
// falls back to replaying every case, which stays correct but is slower.
func (e Engine) ListCases(ctx context.Context) ([]cache.Entry, error) {
	if e.Cache != nil {
		return e.Cache.List(ctx)
	}
	ids, err := e.Store.ListCases(ctx)
	if err != nil {
		return nil, err
	}
	var out []cache.Entry
	for _, id := range ids {
		evs, _, err := e.Store.GetEvents(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, cache.FromState(reduce.ComputeState(evs)))
	}
	return out, nil
}

// FindByExternalRef resolves the external correlation id through the cache.
func (e Engine) FindByExternalRef(ctx context.Context, ref string) (cache.Entry, error) {
	if e.Cache == nil {
		return cache.Entry{}, errors.New("no metadata cache configured")
	}
	return e.Cache.GetByExternalRef(ctx, ref)
}

// RebuildIndex re-derives the whole metadata cache from the event log.
func (e Engine) RebuildIndex(ctx context.Context) error {
	if e.Cache == nil {
		return errors.New("no metadata cache configured")
	}
	return e.Cache.Rebuild(ctx, e.Store)
}

// commit appends a batch, re-reads the log and refreshes the cache row. The
// conflict error from a lost race passes through untouched.
func (e Engine) commit(ctx context.Context, caseID string, batch []events.Event, expected int64) (reduce.CaseState, error) {
	if _, err := e.Store.AppendBatch(ctx, batch, expected); err != nil {
		return reduce.CaseState{}, err
	}
	evs, _, err := e.Store.GetEvents(ctx, caseID)
	if err != nil {
		return reduce.CaseState{}, err
	}
	st := reduce.ComputeState(evs)
	if e.Cache != nil {
		if err := e.Cache.Update(ctx, cache.FromState(st)); err != nil {
			return st, err
		}
	}
	return st, nil
}

func (e Engine) newEvent(caseID string, kind events.Kind, actor string, role events.Role, p events.Payload) (events.Event, error) {
	if actor == "" {
		return events.Event{}, errors.New("actor is required")
	}
	if err := auth.CheckRole(kind, role); err != nil {
		return events.Event{}, err
	}
	ev, err := events.New(caseID, kind, actor, role, p)
	if err != nil {
		return events.Event{}, err
	}
	ev.TS = e.now().UTC().Format(time.RFC3339)
	return ev, nil
}
