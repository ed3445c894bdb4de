package reduce

import (
	"sort"

	"claimline/internal/events"
)

// AccelStatus is the lifecycle of an acceleration request.
type AccelStatus string

const (
	AccelRequested AccelStatus = "requested"
	AccelAccepted  AccelStatus = "accepted"
	AccelRejected  AccelStatus = "rejected"
)

// AccelerationState is the projection of the acceleration sub-flow: the
// owner offers compensation in place of a time extension.
type AccelerationState struct {
	Status         AccelStatus `json:"status"`
	Days           int         `json:"days"`
	OfferedAmount  float64     `json:"offered_amount"`
	AgreedAmount   float64     `json:"agreed_amount,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	RequestEventID string      `json:"request_event_id,omitempty"`
}

// ChangeOrderStatus is the lifecycle of an issued change order.
type ChangeOrderStatus string

const (
	ChangeOrderIssued   ChangeOrderStatus = "issued"
	ChangeOrderAccepted ChangeOrderStatus = "accepted"
	ChangeOrderDisputed ChangeOrderStatus = "disputed"
)

// ChangeOrderState is the projection of the change-order sub-flow.
type ChangeOrderState struct {
	Status      ChangeOrderStatus `json:"status"`
	Reference   string            `json:"reference"`
	Description string            `json:"description,omitempty"`
	Amount      float64           `json:"amount,omitempty"`
	Days        int               `json:"days,omitempty"`
	Reason      string            `json:"reason,omitempty"`
}

// ComputeAcceleration is the narrow reducer for the acceleration sub-flow.
// It folds only acceleration events from the same envelope stream and
// returns nil when the case carries none.
func ComputeAcceleration(evs []events.Event) *AccelerationState {
	sorted := sortedBySeq(evs)
	var st *AccelerationState
	for _, ev := range sorted {
		p, err := events.Decode(ev)
		if err != nil {
			continue
		}
		st = foldAcceleration(st, ev, p)
	}
	return st
}

// ComputeChangeOrder is the narrow reducer for the change-order sub-flow.
func ComputeChangeOrder(evs []events.Event) *ChangeOrderState {
	sorted := sortedBySeq(evs)
	var st *ChangeOrderState
	for _, ev := range sorted {
		p, err := events.Decode(ev)
		if err != nil {
			continue
		}
		st = foldChangeOrder(st, ev, p)
	}
	return st
}

func applyAcceleration(st *CaseState, ev events.Event, p events.Payload) {
	st.Acceleration = foldAcceleration(st.Acceleration, ev, p)
}

func applyChangeOrder(st *CaseState, ev events.Event, p events.Payload) {
	st.ChangeOrder = foldChangeOrder(st.ChangeOrder, ev, p)
}

func foldAcceleration(st *AccelerationState, ev events.Event, p events.Payload) *AccelerationState {
	switch ev.Kind {
	case events.KindAccelerationRequested:
		req, ok := p.(*events.AccelerationRequest)
		if !ok {
			return st
		}
		return &AccelerationState{
			Status:         AccelRequested,
			Days:           req.Days,
			OfferedAmount:  req.Amount,
			RequestEventID: ev.ID,
		}
	case events.KindAccelerationAccepted:
		dec, ok := p.(*events.AccelerationDecision)
		if !ok || st == nil || st.Status != AccelRequested {
			return st
		}
		next := *st
		next.Status = AccelAccepted
		next.AgreedAmount = dec.Amount
		if next.AgreedAmount == 0 {
			next.AgreedAmount = st.OfferedAmount
		}
		return &next
	case events.KindAccelerationRejected:
		dec, ok := p.(*events.AccelerationDecision)
		if !ok || st == nil || st.Status != AccelRequested {
			return st
		}
		next := *st
		next.Status = AccelRejected
		next.Reason = dec.Reason
		return &next
	}
	return st
}

func foldChangeOrder(st *ChangeOrderState, ev events.Event, p events.Payload) *ChangeOrderState {
	switch ev.Kind {
	case events.KindChangeOrderIssued:
		co, ok := p.(*events.ChangeOrder)
		if !ok {
			return st
		}
		return &ChangeOrderState{
			Status:      ChangeOrderIssued,
			Reference:   co.Reference,
			Description: co.Description,
			Amount:      co.Amount,
			Days:        co.Days,
		}
	case events.KindChangeOrderAccepted:
		if st == nil || st.Status != ChangeOrderIssued {
			return st
		}
		next := *st
		next.Status = ChangeOrderAccepted
		return &next
	case events.KindChangeOrderDisputed:
		dec, ok := p.(*events.ChangeOrderDecision)
		if !ok || st == nil || st.Status != ChangeOrderIssued {
			return st
		}
		next := *st
		next.Status = ChangeOrderDisputed
		next.Reason = dec.Reason
		return &next
	}
	return st
}

func sortedBySeq(evs []events.Event) []events.Event {
	out := make([]events.Event, len(evs))
	copy(out, evs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
