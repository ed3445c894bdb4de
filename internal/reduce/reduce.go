// Package reduce projects an ordered event history into current case state.
// ComputeState is a pure function: it holds no cross-call state, sorts its
// input by store-assigned sequence before folding, and is total over the
// catalog — well-formed histories never fail to project.
package reduce

import (
	"sort"

	"claimline/internal/events"
)

// Status is the per-track lifecycle state.
type Status string

const (
	StatusNotApplicable     Status = "not-applicable"
	StatusDraft             Status = "draft"
	StatusSubmitted         Status = "submitted"
	StatusUnderReview       Status = "under-review"
	StatusApproved          Status = "approved"
	StatusPartiallyApproved Status = "partially-approved"
	StatusRejected          Status = "rejected"
	StatusNegotiation       Status = "under-negotiation"
	StatusWithdrawn         Status = "withdrawn"
	StatusLocked            Status = "locked"
)

// Transitions is the fixed edge set for track status changes. The reducer
// never moves a track along an edge that is not listed here; events implying
// an illegal move still record their facts but leave the status untouched.
var Transitions = map[Status][]Status{
	StatusNotApplicable:     {StatusDraft},
	StatusDraft:             {StatusSubmitted, StatusWithdrawn},
	StatusSubmitted:         {StatusUnderReview, StatusApproved, StatusPartiallyApproved, StatusRejected, StatusNegotiation, StatusLocked, StatusWithdrawn},
	StatusUnderReview:       {StatusApproved, StatusPartiallyApproved, StatusRejected, StatusNegotiation, StatusLocked, StatusWithdrawn},
	StatusApproved:          {StatusSubmitted},
	StatusPartiallyApproved: {StatusSubmitted, StatusApproved, StatusRejected, StatusNegotiation, StatusLocked, StatusWithdrawn},
	StatusRejected:          {StatusSubmitted, StatusApproved, StatusPartiallyApproved, StatusNegotiation, StatusLocked, StatusWithdrawn},
	StatusNegotiation:       {StatusSubmitted, StatusApproved, StatusPartiallyApproved, StatusRejected, StatusLocked, StatusWithdrawn},
	StatusLocked:            {StatusSubmitted},
	StatusWithdrawn:         {},
}

// CanTransition reports whether the fixed edge set allows from -> to.
func CanTransition(from, to Status) bool {
	for _, s := range Transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TrackState is the lifecycle bookkeeping shared by all three tracks.
// Revision counts claimant updates. Locked stays true once a terminal
// approval has been recorded, even if a later claimant revision reopens the
// status; the approval is never discarded silently.
type TrackState struct {
	Status          Status `json:"status"`
	Revision        int    `json:"revision"`
	Locked          bool   `json:"locked"`
	ClaimEventID    string `json:"claim_event_id,omitempty"`
	ResponseEventID string `json:"response_event_id,omitempty"`
}

// BasisDecision is the folded owner response on the basis track.
type BasisDecision struct {
	Principal     events.ResponseResult `json:"principal"`
	Waived        bool                  `json:"waived,omitempty"`
	Recategorized events.CaseCategory   `json:"recategorized,omitempty"`
}

// BasisState is the liability/grounds track.
type BasisState struct {
	TrackState
	Claim    *events.BasisClaim `json:"claim,omitempty"`
	Decision *BasisDecision     `json:"decision,omitempty"`
}

// CompensationGates snapshots the independent sub-decisions of a
// compensation response.
type CompensationGates struct {
	MainNotice         events.GateOutcome `json:"main_notice,omitempty"`
	SiteCostNotice     events.GateOutcome `json:"site_cost_notice,omitempty"`
	ProductivityNotice events.GateOutcome `json:"productivity_notice,omitempty"`
	MethodAccepted     events.GateOutcome `json:"method_accepted,omitempty"`
}

// CompensationDecision is the folded owner response on the compensation
// track. Principal is computed from the gates; Subsidiary is carried exactly
// as supplied and never merged with the principal fields.
type CompensationDecision struct {
	Principal      events.ResponseResult      `json:"principal"`
	Gates          CompensationGates          `json:"gates"`
	Lines          []events.LineAssessment    `json:"lines,omitempty"`
	ApprovedAmount float64                    `json:"approved_amount"`
	Deduction      float64                    `json:"deduction,omitempty"`
	NetAmount      float64                    `json:"net_amount"`
	Subsidiary     *events.SubsidiaryPosition `json:"subsidiary,omitempty"`
}

// CompensationState is the monetary track. Amounts derive from the latest
// claim: gross is the direct sum or the cost estimate depending on method,
// net is gross minus the recorded deduction and is never clamped.
type CompensationState struct {
	TrackState
	Claim           *events.CompensationClaim `json:"claim,omitempty"`
	GrossAmount     float64                   `json:"gross_amount"`
	NetAmount       float64                   `json:"net_amount"`
	EstimatedAmount float64                   `json:"estimated_amount,omitempty"`
	Decision        *CompensationDecision     `json:"decision,omitempty"`
}

// DeadlineDecision is the folded owner response on the deadline track.
type DeadlineDecision struct {
	Principal  events.ResponseResult      `json:"principal"`
	NoticeGate events.GateOutcome         `json:"notice_gate,omitempty"`
	Condition  events.GateOutcome         `json:"condition,omitempty"`
	Days       int                        `json:"days"`
	Subsidiary *events.SubsidiaryPosition `json:"subsidiary,omitempty"`
}

// DeadlineState is the schedule extension track.
type DeadlineState struct {
	TrackState
	Claim    *events.DeadlineClaim `json:"claim,omitempty"`
	Days     int                   `json:"days"`
	Decision *DeadlineDecision     `json:"decision,omitempty"`
}

// CaseState is the full projection of one case. It exists only as the fold
// of the case's event history.
type CaseState struct {
	CaseID       string              `json:"case_id"`
	Title        string              `json:"title"`
	Category     events.CaseCategory `json:"category"`
	ExternalRef  string              `json:"external_ref,omitempty"`
	Version      int64               `json:"version"`
	CreatedAt    string              `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt    string              `json:"updated_at,omitempty" format:"date-time"`
	Basis        BasisState          `json:"basis"`
	Compensation CompensationState   `json:"compensation"`
	Deadline     DeadlineState       `json:"deadline"`
	Acceleration *AccelerationState  `json:"acceleration,omitempty"`
	ChangeOrder  *ChangeOrderState   `json:"change_order,omitempty"`
}

// ComputeState folds an event history into case state. Input order does not
// matter: events are sorted by their store-assigned sequence first, never by
// wall-clock timestamps. Events that do not decode against the catalog are
// skipped; the append path rejects them before they can be stored, so this
// only arises for logs written by something other than the store. A skipped
// event still advances Version, which tracks the store's sequence counter so
// that it can be handed back as an expected version.
func ComputeState(evs []events.Event) CaseState {
	sorted := sortedBySeq(evs)
	st := CaseState{
		Basis:        BasisState{TrackState: TrackState{Status: StatusNotApplicable}},
		Compensation: CompensationState{TrackState: TrackState{Status: StatusNotApplicable}},
		Deadline:     DeadlineState{TrackState: TrackState{Status: StatusNotApplicable}},
	}
	for _, ev := range sorted {
		if ev.Seq > st.Version {
			st.Version = ev.Seq
		}
		p, err := events.Decode(ev)
		if err != nil {
			continue
		}
		h, ok := handlers[ev.Kind]
		if !ok {
			continue
		}
		h(&st, ev, p)
		st.UpdatedAt = ev.TS
	}
	return st
}

// handler applies one event kind to state. Payloads arrive already decoded
// and validated.
type handler func(*CaseState, events.Event, events.Payload)

var handlers = map[events.Kind]handler{
	events.KindCaseCreated: applyCaseCreated,

	events.KindBasisSubmitted: applyBasisClaim,
	events.KindBasisUpdated:   applyBasisClaim,
	events.KindBasisWithdrawn: applyWithdrawal,

	events.KindCompensationSubmitted: applyCompensationClaim,
	events.KindCompensationUpdated:   applyCompensationClaim,
	events.KindCompensationWithdrawn: applyWithdrawal,

	events.KindDeadlineSubmitted: applyDeadlineClaim,
	events.KindDeadlineUpdated:   applyDeadlineClaim,
	events.KindDeadlineSpecified: applyDeadlineSpecified,
	events.KindDeadlineWithdrawn: applyWithdrawal,

	events.KindBasisResponse:               applyBasisResponse,
	events.KindBasisResponseAmended:        applyBasisResponse,
	events.KindCompensationResponse:        applyCompensationResponse,
	events.KindCompensationResponseAmended: applyCompensationResponse,
	events.KindDeadlineResponse:            applyDeadlineResponse,
	events.KindDeadlineResponseAmended:     applyDeadlineResponse,

	events.KindAccelerationRequested: applyAcceleration,
	events.KindAccelerationAccepted:  applyAcceleration,
	events.KindAccelerationRejected:  applyAcceleration,

	events.KindChangeOrderIssued:   applyChangeOrder,
	events.KindChangeOrderAccepted: applyChangeOrder,
	events.KindChangeOrderDisputed: applyChangeOrder,
}

// HandledKinds lists every kind the reducer dispatches on; the completeness
// test checks it against the catalog.
func HandledKinds() []events.Kind {
	out := make([]events.Kind, 0, len(handlers))
	for k := range handlers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func applyCaseCreated(st *CaseState, ev events.Event, p events.Payload) {
	c, ok := p.(*events.CaseCreated)
	if !ok || st.CaseID != "" {
		return
	}
	st.CaseID = ev.CaseID
	st.Title = c.Title
	st.Category = c.Category
	st.ExternalRef = c.ExternalRef
	st.CreatedAt = ev.TS
	move(&st.Basis.TrackState, StatusDraft)
}

func applyBasisClaim(st *CaseState, ev events.Event, p events.Payload) {
	c, ok := p.(*events.BasisClaim)
	if !ok {
		return
	}
	first := st.Basis.Claim == nil
	st.Basis.Claim = c
	st.Basis.ClaimEventID = ev.ID
	if first {
		move(&st.Basis.TrackState, StatusSubmitted)
		// First basis submission activates the other tracks.
		move(&st.Compensation.TrackState, StatusDraft)
		move(&st.Deadline.TrackState, StatusDraft)
		return
	}
	st.Basis.Revision++
	reopen(&st.Basis.TrackState)
}

func applyCompensationClaim(st *CaseState, ev events.Event, p events.Payload) {
	c, ok := p.(*events.CompensationClaim)
	if !ok || st.Compensation.Status == StatusNotApplicable {
		return
	}
	first := st.Compensation.Claim == nil
	st.Compensation.Claim = c
	st.Compensation.ClaimEventID = ev.ID
	st.Compensation.GrossAmount = c.Gross()
	st.Compensation.NetAmount = c.Gross() - c.Deduction
	st.Compensation.EstimatedAmount = c.Estimate
	if first {
		move(&st.Compensation.TrackState, StatusSubmitted)
		return
	}
	st.Compensation.Revision++
	reopen(&st.Compensation.TrackState)
}

func applyDeadlineClaim(st *CaseState, ev events.Event, p events.Payload) {
	c, ok := p.(*events.DeadlineClaim)
	if !ok || st.Deadline.Status == StatusNotApplicable {
		return
	}
	first := st.Deadline.Claim == nil
	st.Deadline.Claim = c
	st.Deadline.ClaimEventID = ev.ID
	st.Deadline.Days = c.Days
	if first {
		move(&st.Deadline.TrackState, StatusSubmitted)
		return
	}
	st.Deadline.Revision++
	reopen(&st.Deadline.TrackState)
}

func applyDeadlineSpecified(st *CaseState, ev events.Event, p events.Payload) {
	c, ok := p.(*events.DeadlineSpecified)
	if !ok || st.Deadline.Claim == nil {
		return
	}
	claim := *st.Deadline.Claim
	claim.Days = c.Days
	st.Deadline.Claim = &claim
	st.Deadline.Days = c.Days
	st.Deadline.ClaimEventID = ev.ID
	st.Deadline.Revision++
	reopen(&st.Deadline.TrackState)
}

func applyWithdrawal(st *CaseState, ev events.Event, p events.Payload) {
	w, ok := p.(*events.Withdrawal)
	if !ok {
		return
	}
	switch w.Track {
	case events.TrackBasis:
		move(&st.Basis.TrackState, StatusWithdrawn)
	case events.TrackCompensation:
		move(&st.Compensation.TrackState, StatusWithdrawn)
	case events.TrackDeadline:
		move(&st.Deadline.TrackState, StatusWithdrawn)
	}
}

func applyBasisResponse(st *CaseState, ev events.Event, p events.Payload) {
	r, ok := p.(*events.BasisResponse)
	if !ok {
		return
	}
	principal := r.Result
	if principal == "" && r.Waived {
		principal = events.ResultApproved
	}
	st.Basis.Decision = &BasisDecision{
		Principal:     principal,
		Waived:        r.Waived,
		Recategorized: r.Recategorized,
	}
	st.Basis.ResponseEventID = ev.ID
	if r.Recategorized != "" {
		st.Category = r.Recategorized
	}
	// An approved basis locks the track terminally.
	respond(&st.Basis.TrackState, principal, StatusLocked)
}

func applyCompensationResponse(st *CaseState, ev events.Event, p events.Payload) {
	r, ok := p.(*events.CompensationResponse)
	if !ok {
		return
	}
	principal := compensationPrincipal(r)
	st.Compensation.Decision = &CompensationDecision{
		Principal: principal,
		Gates: CompensationGates{
			MainNotice:         r.MainNotice,
			SiteCostNotice:     r.SiteCostNotice,
			ProductivityNotice: r.ProductivityNotice,
			MethodAccepted:     r.MethodAccepted,
		},
		Lines:          r.Lines,
		ApprovedAmount: r.ApprovedAmount,
		Deduction:      r.Deduction,
		NetAmount:      r.ApprovedAmount - r.Deduction,
		Subsidiary:     r.Subsidiary,
	}
	st.Compensation.ResponseEventID = ev.ID
	respond(&st.Compensation.TrackState, principal, StatusApproved)
}

func applyDeadlineResponse(st *CaseState, ev events.Event, p events.Payload) {
	r, ok := p.(*events.DeadlineResponse)
	if !ok {
		return
	}
	principal := deadlinePrincipal(r)
	st.Deadline.Decision = &DeadlineDecision{
		Principal:  principal,
		NoticeGate: r.NoticeGate,
		Condition:  r.Condition,
		Days:       r.Days,
		Subsidiary: r.Subsidiary,
	}
	st.Deadline.ResponseEventID = ev.ID
	respond(&st.Deadline.TrackState, principal, StatusApproved)
}

// move applies a transition only if the fixed edge set allows it.
func move(ts *TrackState, to Status) {
	if CanTransition(ts.Status, to) {
		ts.Status = to
	}
}

// reopen returns a responded track to submitted after a claimant revision.
// The Locked flag is deliberately left untouched.
func reopen(ts *TrackState) {
	move(ts, StatusSubmitted)
}

// respond maps a principal result onto the track status. approvedStatus is
// StatusLocked for the basis track and StatusApproved elsewhere; either way
// the Locked flag records the terminal approval.
func respond(ts *TrackState, principal events.ResponseResult, approvedStatus Status) {
	var to Status
	switch principal {
	case events.ResultApproved:
		to = approvedStatus
	case events.ResultPartiallyApproved:
		to = StatusPartiallyApproved
	case events.ResultRejected:
		to = StatusRejected
	case events.ResultNegotiation:
		to = StatusNegotiation
	default:
		to = StatusUnderReview
	}
	if !CanTransition(ts.Status, to) {
		return
	}
	ts.Status = to
	if principal == events.ResultApproved {
		ts.Locked = true
	}
}
