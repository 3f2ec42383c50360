package model

// Role is the role of a console user, either platform-wide or inside a project.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
	RoleGuest Role = "guest"
)

// Status is the status of a console user.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// RequestStatus is the flow status of a RegistrationRequest.
type RequestStatus string

const (
	RequestPending    RequestStatus = "Pending"    // submitted, awaiting pre-check
	RequestPrechecked RequestStatus = "Prechecked" // operator looked at it, username not assigned yet
	RequestChecked    RequestStatus = "Checked"    // pre-check done, consumed on provisioning
	RequestNoFlow     RequestStatus = "NoFlow"     // fast path when no project gating applies
	RequestDisabling  RequestStatus = "Disabling"  // orphan marker, gate script not yet run
	RequestDisabled   RequestStatus = "Disabled"   // gate script confirmed the account is off
)

// ProjectStatus is the visibility of a project in the console.
type ProjectStatus string

const (
	ProjectPrivate ProjectStatus = "Private"
	ProjectPublic  ProjectStatus = "Public"
	ProjectGuest   ProjectStatus = "Guest"
)

// ProjectRequestStatus is the flow status of a ProjectRequest.
type ProjectRequestStatus string

const (
	ProjectRequestReg            ProjectRequestStatus = "Reg"            // just registered, before pre-check
	ProjectRequestPending        ProjectRequestStatus = "Pending"        // awaiting project-admin decision
	ProjectRequestApproved       ProjectRequestStatus = "Approved"       // consumed by the next provisioning pass
	ProjectRequestRejected       ProjectRequestStatus = "Rejected"       // terminal; the request row is deleted when the decision lands
	ProjectRequestRenewAdmin     ProjectRequestStatus = "RenewAdmin"     // renewal issued for a project manager
	ProjectRequestRenewMember    ProjectRequestStatus = "RenewMember"    // renewal issued for a plain member
	ProjectRequestRenewAttempt   ProjectRequestStatus = "RenewAttempt"   // member asked to be renewed
	ProjectRequestRenewDiscarded ProjectRequestStatus = "RenewDiscarded" // renewal lapsed without a decision
	ProjectRequestAdminElect     ProjectRequestStatus = "AdminElect"     // promotion proposal
)

// Active reports whether the status still needs an admin or scheduler
// decision. Discarded renewals are inert markers, not open requests.
func (s ProjectRequestStatus) Active() bool {
	switch s {
	case ProjectRequestApproved, ProjectRequestRejected, ProjectRequestRenewDiscarded:
		return false
	default:
		return true
	}
}

// Renewal reports whether the status belongs to the renewal sub-machine.
func (s ProjectRequestStatus) Renewal() bool {
	switch s {
	case ProjectRequestRenewAdmin, ProjectRequestRenewMember,
		ProjectRequestRenewAttempt, ProjectRequestRenewDiscarded:
		return true
	default:
		return false
	}
}
