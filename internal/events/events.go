package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies which side of the contract recorded an event.
type Role string

const (
	RoleClaimant Role = "claimant"
	RoleOwner    Role = "owner"
)

// Track identifies one of the three sub-claims a case carries.
type Track string

const (
	TrackBasis        Track = "basis"
	TrackCompensation Track = "compensation"
	TrackDeadline     Track = "deadline"
)

// Kind is the closed set of event types the catalog understands.
type Kind string

const (
	KindCaseCreated Kind = "case.created"

	KindBasisSubmitted Kind = "basis.submitted"
	KindBasisUpdated   Kind = "basis.updated"
	KindBasisWithdrawn Kind = "basis.withdrawn"

	KindCompensationSubmitted Kind = "compensation.submitted"
	KindCompensationUpdated   Kind = "compensation.updated"
	KindCompensationWithdrawn Kind = "compensation.withdrawn"

	KindDeadlineSubmitted Kind = "deadline.submitted"
	KindDeadlineUpdated   Kind = "deadline.updated"
	KindDeadlineSpecified Kind = "deadline.specified"
	KindDeadlineWithdrawn Kind = "deadline.withdrawn"

	KindBasisResponse               Kind = "response.basis"
	KindBasisResponseAmended        Kind = "response.basis.amended"
	KindCompensationResponse        Kind = "response.compensation"
	KindCompensationResponseAmended Kind = "response.compensation.amended"
	KindDeadlineResponse            Kind = "response.deadline"
	KindDeadlineResponseAmended     Kind = "response.deadline.amended"

	KindAccelerationRequested Kind = "acceleration.requested"
	KindAccelerationAccepted  Kind = "acceleration.accepted"
	KindAccelerationRejected  Kind = "acceleration.rejected"

	KindChangeOrderIssued   Kind = "changeorder.issued"
	KindChangeOrderAccepted Kind = "changeorder.accepted"
	KindChangeOrderDisputed Kind = "changeorder.disputed"
)

// Kinds lists every kind in the catalog. Order is stable so callers can
// iterate deterministically.
func Kinds() []Kind {
	return []Kind{
		KindCaseCreated,
		KindBasisSubmitted,
		KindBasisUpdated,
		KindBasisWithdrawn,
		KindCompensationSubmitted,
		KindCompensationUpdated,
		KindCompensationWithdrawn,
		KindDeadlineSubmitted,
		KindDeadlineUpdated,
		KindDeadlineSpecified,
		KindDeadlineWithdrawn,
		KindBasisResponse,
		KindBasisResponseAmended,
		KindCompensationResponse,
		KindCompensationResponseAmended,
		KindDeadlineResponse,
		KindDeadlineResponseAmended,
		KindAccelerationRequested,
		KindAccelerationAccepted,
		KindAccelerationRejected,
		KindChangeOrderIssued,
		KindChangeOrderAccepted,
		KindChangeOrderDisputed,
	}
}

// Event is the immutable envelope persisted in the per-case log. Seq is
// assigned by the store at commit time and defines replay order; TS is
// advisory wall-clock time and must never be used for ordering.
type Event struct {
	ID        string          `json:"id"`
	CaseID    string          `json:"case_id"`
	Kind      Kind            `json:"kind"`
	Seq       int64           `json:"seq,omitempty"`
	TS        string          `json:"ts" format:"date-time"`
	Actor     string          `json:"actor"`
	Role      Role            `json:"role" enum:"claimant,owner"`
	Comment   string          `json:"comment,omitempty"`
	InReplyTo string          `json:"in_reply_to,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// New builds an envelope around a validated payload. The payload shape must
// match the kind; mismatches surface as ValidationError.
func New(caseID string, kind Kind, actor string, role Role, p Payload) (Event, error) {
	ev := Event{
		ID:     uuid.New().String(),
		CaseID: caseID,
		Kind:   kind,
		TS:     time.Now().UTC().Format(time.RFC3339),
		Actor:  actor,
		Role:   role,
	}
	if err := checkShape(kind, p); err != nil {
		return Event{}, err
	}
	if err := p.Validate(); err != nil {
		return Event{}, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return Event{}, &ValidationError{Kind: kind, Reason: "marshal payload: " + err.Error()}
	}
	ev.Payload = data
	return ev, nil
}

// TrackForKind derives the track a kind applies to. Older stored responses
// omitted the track from the payload, so derivation from the kind has to stay
// deterministic.
func TrackForKind(kind Kind) (Track, bool) {
	switch kind {
	case KindBasisSubmitted, KindBasisUpdated, KindBasisWithdrawn, KindBasisResponse, KindBasisResponseAmended:
		return TrackBasis, true
	case KindCompensationSubmitted, KindCompensationUpdated, KindCompensationWithdrawn,
		KindCompensationResponse, KindCompensationResponseAmended:
		return TrackCompensation, true
	case KindDeadlineSubmitted, KindDeadlineUpdated, KindDeadlineSpecified, KindDeadlineWithdrawn,
		KindDeadlineResponse, KindDeadlineResponseAmended:
		return TrackDeadline, true
	}
	return "", false
}

// IsResponse reports whether the kind is an owner response.
func IsResponse(kind Kind) bool {
	switch kind {
	case KindBasisResponse, KindBasisResponseAmended,
		KindCompensationResponse, KindCompensationResponseAmended,
		KindDeadlineResponse, KindDeadlineResponseAmended:
		return true
	}
	return false
}
