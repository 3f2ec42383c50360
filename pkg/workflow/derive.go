package workflow

import (
	"errors"

	"github.com/nimbus-lab/nimbus/dao/model"
)

// State is the derived processing state of a registration. It is never
// stored: it is computed from the registration and its child rows inside the
// same transaction that reads them, so it cannot drift from the rows.
type State string

const (
	// StateNeedsPrecheck: at least one registration request awaits pre-check.
	StateNeedsPrecheck State = "NeedsPrecheck"
	// StateNeedsProjectDecision: pre-check done, project requests still open.
	StateNeedsProjectDecision State = "NeedsProjectDecision"
	// StateReadyToProvision: all requests resolved, provisioning can run.
	StateReadyToProvision State = "ReadyToProvision"
	// StateProvisioned: backend user exists and nothing is pending.
	StateProvisioned State = "Provisioned"
)

// DeriveState computes the registration's processing state from its children.
// A provisioned registration with newly opened project requests derives back
// to NeedsProjectDecision so the next approval pass can grant them.
func DeriveState(reg *model.Registration, regReqs []model.RegistrationRequest, prjReqs []model.ProjectRequest) State {
	for i := range regReqs {
		if regReqs[i].Status == model.RequestPending {
			return StateNeedsPrecheck
		}
	}
	for i := range prjReqs {
		switch prjReqs[i].Status {
		case model.ProjectRequestReg, model.ProjectRequestPending:
			return StateNeedsProjectDecision
		}
	}
	if reg.BackendUserID != nil && !hasOpenChildren(regReqs, prjReqs) {
		return StateProvisioned
	}
	return StateReadyToProvision
}

func hasOpenChildren(regReqs []model.RegistrationRequest, prjReqs []model.ProjectRequest) bool {
	for i := range regReqs {
		switch regReqs[i].Status {
		case model.RequestPrechecked, model.RequestChecked, model.RequestNoFlow:
			return true
		}
	}
	for i := range prjReqs {
		if prjReqs[i].Status == model.ProjectRequestApproved {
			return true
		}
	}
	return false
}

func isInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

func invalidState(have State, want ...State) error {
	return &stateError{have: have, want: want}
}

type stateError struct {
	have State
	want []State
}

func (e *stateError) Error() string {
	return "registration is " + string(e.have) + ", operation not allowed"
}

func (e *stateError) Unwrap() error { return ErrInvalidState }
