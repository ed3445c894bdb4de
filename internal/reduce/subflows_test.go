package reduce

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claimline/internal/events"
)

func TestAccelerationFlow(t *testing.T) {
	b := newCase(t, "t").
		claimant(events.KindBasisSubmitted, &events.BasisClaim{Ground: "delay"}).
		claimant(events.KindDeadlineSubmitted, &events.DeadlineClaim{Days: 30}).
		owner(events.KindAccelerationRequested, &events.AccelerationRequest{Days: 30, Amount: 60000})

	st := ComputeState(b.evs)
	require.NotNil(t, st.Acceleration)
	assert.Equal(t, AccelRequested, st.Acceleration.Status)
	assert.Equal(t, 30, st.Acceleration.Days)
	assert.Equal(t, 60000.0, st.Acceleration.OfferedAmount)

	b.claimant(events.KindAccelerationAccepted, &events.AccelerationDecision{Amount: 65000})
	st = ComputeState(b.evs)
	assert.Equal(t, AccelAccepted, st.Acceleration.Status)
	assert.Equal(t, 65000.0, st.Acceleration.AgreedAmount)
}

func TestAccelerationAcceptDefaultsToOffer(t *testing.T) {
	b := newCase(t, "t").
		owner(events.KindAccelerationRequested, &events.AccelerationRequest{Days: 10, Amount: 25000}).
		claimant(events.KindAccelerationAccepted, &events.AccelerationDecision{})
	st := ComputeState(b.evs)

	require.NotNil(t, st.Acceleration)
	assert.Equal(t, AccelAccepted, st.Acceleration.Status)
	assert.Equal(t, 25000.0, st.Acceleration.AgreedAmount)
}

func TestAccelerationRejection(t *testing.T) {
	b := newCase(t, "t").
		owner(events.KindAccelerationRequested, &events.AccelerationRequest{Days: 10, Amount: 25000}).
		claimant(events.KindAccelerationRejected, &events.AccelerationDecision{Reason: "resources unavailable"})
	st := ComputeState(b.evs)

	assert.Equal(t, AccelRejected, st.Acceleration.Status)
	assert.Equal(t, "resources unavailable", st.Acceleration.Reason)
}

func TestAccelerationDecisionWithoutRequestIsInert(t *testing.T) {
	b := newCase(t, "t").
		claimant(events.KindAccelerationAccepted, &events.AccelerationDecision{Amount: 1000})
	st := ComputeState(b.evs)
	assert.Nil(t, st.Acceleration)
}

func TestAccelerationDecisionIsFinal(t *testing.T) {
	b := newCase(t, "t").
		owner(events.KindAccelerationRequested, &events.AccelerationRequest{Days: 10, Amount: 25000}).
		claimant(events.KindAccelerationRejected, &events.AccelerationDecision{}).
		claimant(events.KindAccelerationAccepted, &events.AccelerationDecision{})
	st := ComputeState(b.evs)
	assert.Equal(t, AccelRejected, st.Acceleration.Status)
}

func TestChangeOrderFlow(t *testing.T) {
	b := newCase(t, "t").
		owner(events.KindChangeOrderIssued, &events.ChangeOrder{Reference: "CO-7", Amount: 12000, Days: 5})
	st := ComputeState(b.evs)
	require.NotNil(t, st.ChangeOrder)
	assert.Equal(t, ChangeOrderIssued, st.ChangeOrder.Status)
	assert.Equal(t, "CO-7", st.ChangeOrder.Reference)

	b.claimant(events.KindChangeOrderAccepted, &events.ChangeOrderDecision{})
	st = ComputeState(b.evs)
	assert.Equal(t, ChangeOrderAccepted, st.ChangeOrder.Status)
}

func TestChangeOrderDispute(t *testing.T) {
	b := newCase(t, "t").
		owner(events.KindChangeOrderIssued, &events.ChangeOrder{Reference: "CO-7"}).
		claimant(events.KindChangeOrderDisputed, &events.ChangeOrderDecision{Reason: "scope already included"})
	st := ComputeState(b.evs)

	assert.Equal(t, ChangeOrderDisputed, st.ChangeOrder.Status)
	assert.Equal(t, "scope already included", st.ChangeOrder.Reason)
}

func TestNarrowReducersMatchFullProjection(t *testing.T) {
	b := newCase(t, "t").
		claimant(events.KindBasisSubmitted, &events.BasisClaim{Ground: "delay"}).
		owner(events.KindAccelerationRequested, &events.AccelerationRequest{Days: 10, Amount: 25000}).
		owner(events.KindChangeOrderIssued, &events.ChangeOrder{Reference: "CO-1"}).
		claimant(events.KindChangeOrderAccepted, &events.ChangeOrderDecision{})
	full := ComputeState(b.evs)

	assert.Equal(t, full.Acceleration, ComputeAcceleration(b.evs))
	assert.Equal(t, full.ChangeOrder, ComputeChangeOrder(b.evs))
}

func TestNarrowReducersReturnNilWithoutSubflowEvents(t *testing.T) {
	b := newCase(t, "t").
		claimant(events.KindBasisSubmitted, &events.BasisClaim{Ground: "delay"})
	assert.Nil(t, ComputeAcceleration(b.evs))
	assert.Nil(t, ComputeChangeOrder(b.evs))
}
