package events

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// ValidationError reports a payload that does not match its declared kind.
type ValidationError struct {
	Kind   Kind
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s event: %s", e.Kind, e.Reason)
}

// UnknownKindError reports a kind outside the catalog, typically schema
// drift between writers and readers.
type UnknownKindError struct {
	Kind Kind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown event kind %q", e.Kind)
}

// Decode parses an envelope's payload into its typed shape and validates it.
// Unknown kinds and shape mismatches are rejected explicitly, never coerced.
// For track-scoped kinds a missing track in the payload is filled in from
// the kind, keeping older stored records readable. The returned payload is a
// pointer to one of the catalog shapes.
func Decode(ev Event) (Payload, error) {
	p, err := emptyPayload(ev.Kind)
	if err != nil {
		return nil, err
	}
	if len(ev.Payload) > 0 {
		if err := json.Unmarshal(ev.Payload, p); err != nil {
			return nil, &ValidationError{Kind: ev.Kind, Reason: err.Error()}
		}
	}
	fillTrack(ev.Kind, p)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// emptyPayload returns the zero payload for a kind. This table is the
// catalog's single source of kind-to-shape truth; the reducer's completeness
// test iterates Kinds() against it.
func emptyPayload(kind Kind) (Payload, error) {
	switch kind {
	case KindCaseCreated:
		return &CaseCreated{}, nil
	case KindBasisSubmitted, KindBasisUpdated:
		return &BasisClaim{}, nil
	case KindCompensationSubmitted, KindCompensationUpdated:
		return &CompensationClaim{}, nil
	case KindDeadlineSubmitted, KindDeadlineUpdated:
		return &DeadlineClaim{}, nil
	case KindDeadlineSpecified:
		return &DeadlineSpecified{}, nil
	case KindBasisWithdrawn, KindCompensationWithdrawn, KindDeadlineWithdrawn:
		return &Withdrawal{}, nil
	case KindBasisResponse, KindBasisResponseAmended:
		return &BasisResponse{}, nil
	case KindCompensationResponse, KindCompensationResponseAmended:
		return &CompensationResponse{}, nil
	case KindDeadlineResponse, KindDeadlineResponseAmended:
		return &DeadlineResponse{}, nil
	case KindAccelerationRequested:
		return &AccelerationRequest{}, nil
	case KindAccelerationAccepted, KindAccelerationRejected:
		return &AccelerationDecision{}, nil
	case KindChangeOrderIssued:
		return &ChangeOrder{}, nil
	case KindChangeOrderAccepted, KindChangeOrderDisputed:
		return &ChangeOrderDecision{}, nil
	}
	return nil, &UnknownKindError{Kind: kind}
}

// checkShape verifies that a payload's Go type belongs to the kind it is
// being recorded under.
func checkShape(kind Kind, p Payload) error {
	want, err := emptyPayload(kind)
	if err != nil {
		return err
	}
	got := reflect.TypeOf(p)
	if got.Kind() != reflect.Pointer {
		got = reflect.PointerTo(got)
	}
	if got != reflect.TypeOf(want) {
		return &ValidationError{Kind: kind, Reason: fmt.Sprintf("payload type %T does not match kind", p)}
	}
	return nil
}

func fillTrack(kind Kind, p Payload) {
	track, ok := TrackForKind(kind)
	if !ok {
		return
	}
	switch v := p.(type) {
	case *BasisClaim:
		if v.Track == "" {
			v.Track = track
		}
	case *CompensationClaim:
		if v.Track == "" {
			v.Track = track
		}
	case *DeadlineClaim:
		if v.Track == "" {
			v.Track = track
		}
	case *DeadlineSpecified:
		if v.Track == "" {
			v.Track = track
		}
	case *Withdrawal:
		if v.Track == "" {
			v.Track = track
		}
	case *BasisResponse:
		if v.Track == "" {
			v.Track = track
		}
	case *CompensationResponse:
		if v.Track == "" {
			v.Track = track
		}
	case *DeadlineResponse:
		if v.Track == "" {
			v.Track = track
		}
	}
}
