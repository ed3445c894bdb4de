// Package auth enforces which party may record which event kinds: claims
// and withdrawals belong to the claimant, responses and change orders to the
// owner. Acceleration requests come from the owner, their decisions from the
// claimant.
package auth

import (
	"fmt"

	"claimline/internal/events"
)

// ForbiddenError indicates an event kind recorded by the wrong party.
type ForbiddenError struct {
	Kind events.Kind
	Role events.Role
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s may not record %s events", e.Role, e.Kind)
}

// CheckRole verifies the recording party against the kind's policy.
func CheckRole(kind events.Kind, role events.Role) error {
	want, ok := kindRoles[kind]
	if !ok {
		return &events.UnknownKindError{Kind: kind}
	}
	if want == "" || want == role {
		return nil
	}
	return ForbiddenError{Kind: kind, Role: role}
}

// kindRoles maps each kind to the role allowed to record it. Empty means
// either party; case creation is deliberately open so an owner can register
// a claim received on paper.
var kindRoles = map[events.Kind]events.Role{
	events.KindCaseCreated: "",

	events.KindBasisSubmitted: events.RoleClaimant,
	events.KindBasisUpdated:   events.RoleClaimant,
	events.KindBasisWithdrawn: events.RoleClaimant,

	events.KindCompensationSubmitted: events.RoleClaimant,
	events.KindCompensationUpdated:   events.RoleClaimant,
	events.KindCompensationWithdrawn: events.RoleClaimant,

	events.KindDeadlineSubmitted: events.RoleClaimant,
	events.KindDeadlineUpdated:   events.RoleClaimant,
	events.KindDeadlineSpecified: events.RoleClaimant,
	events.KindDeadlineWithdrawn: events.RoleClaimant,

	events.KindBasisResponse:               events.RoleOwner,
	events.KindBasisResponseAmended:        events.RoleOwner,
	events.KindCompensationResponse:        events.RoleOwner,
	events.KindCompensationResponseAmended: events.RoleOwner,
	events.KindDeadlineResponse:            events.RoleOwner,
	events.KindDeadlineResponseAmended:     events.RoleOwner,

	events.KindAccelerationRequested: events.RoleOwner,
	events.KindAccelerationAccepted:  events.RoleClaimant,
	events.KindAccelerationRejected:  events.RoleClaimant,

	events.KindChangeOrderIssued:   events.RoleOwner,
	events.KindChangeOrderAccepted: events.RoleClaimant,
	events.KindChangeOrderDisputed: events.RoleClaimant,
}
