package auth

import (
	"errors"
	"testing"

	"claimline/internal/events"
)

func TestCheckRole(t *testing.T) {
	cases := []struct {
		kind events.Kind
		role events.Role
		ok   bool
	}{
		{events.KindCaseCreated, events.RoleClaimant, true},
		{events.KindCaseCreated, events.RoleOwner, true},
		{events.KindBasisSubmitted, events.RoleClaimant, true},
		{events.KindBasisSubmitted, events.RoleOwner, false},
		{events.KindBasisResponse, events.RoleOwner, true},
		{events.KindBasisResponse, events.RoleClaimant, false},
		{events.KindAccelerationRequested, events.RoleOwner, true},
		{events.KindAccelerationAccepted, events.RoleClaimant, true},
		{events.KindAccelerationAccepted, events.RoleOwner, false},
		{events.KindChangeOrderIssued, events.RoleOwner, true},
		{events.KindChangeOrderDisputed, events.RoleClaimant, true},
	}
	for _, tc := range cases {
		err := CheckRole(tc.kind, tc.role)
		if tc.ok && err != nil {
			t.Errorf("%s as %s: unexpected error %v", tc.kind, tc.role, err)
		}
		if !tc.ok {
			var ferr ForbiddenError
			if !errors.As(err, &ferr) {
				t.Errorf("%s as %s: want ForbiddenError, got %v", tc.kind, tc.role, err)
			}
		}
	}
}

func TestCheckRoleUnknownKind(t *testing.T) {
	err := CheckRole("basis.frobnicated", events.RoleClaimant)
	var uerr *events.UnknownKindError
	if !errors.As(err, &uerr) {
		t.Fatalf("want UnknownKindError, got %v", err)
	}
}

func TestEveryCatalogKindHasAPolicy(t *testing.T) {
	for _, k := range events.Kinds() {
		if _, ok := kindRoles[k]; !ok {
			t.Errorf("kind %s has no role policy", k)
		}
	}
}
