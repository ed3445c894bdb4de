package reduce

import "claimline/internal/events"

// compensationPrincipal combines the independent gates into the principal
// result. An untimely main-claim notice drives the result to rejection
// regardless of every other gate; the subsidiary block, if any, is untouched
// by this and folded into state as supplied. When the response states no
// aggregate result, a rejected head-specific notice degrades the outcome to
// partial approval; otherwise the response is treated as still under review.
func compensationPrincipal(r *events.CompensationResponse) events.ResponseResult {
	if r.MainNotice == events.GateRejected {
		return events.ResultRejected
	}
	if r.Result != "" {
		return r.Result
	}
	if r.SiteCostNotice == events.GateRejected || r.ProductivityNotice == events.GateRejected {
		return events.ResultPartiallyApproved
	}
	return ""
}

// deadlinePrincipal combines the deadline gates: a failed notice gate or a
// failed condition/causation gate each force rejection; otherwise the stated
// result stands.
func deadlinePrincipal(r *events.DeadlineResponse) events.ResponseResult {
	if r.NoticeGate == events.GateRejected {
		return events.ResultRejected
	}
	if r.Condition == events.GateRejected {
		return events.ResultRejected
	}
	return r.Result
}
