package workflow

import (
	"context"
	"time"
)

// Notifier is the engine's view of the notification dispatcher. Every method
// is best effort: implementations log and swallow delivery failures, and the
// engine only calls them after the triggering transaction has committed.
type Notifier interface {
	RegistrationSubmitted(ctx context.Context, fullName string, projects []string)
	ProjectDecisionPending(ctx context.Context, managers []string, applicant, project string)
	RegistrationOutcome(ctx context.Context, email string, approved, rejected, created []string)
	RegistrationRejected(ctx context.Context, email string, projects []string, reason string)
	SubscriptionDecided(ctx context.Context, managers []string, applicant, project string, approved bool)
	ExpirationChanged(ctx context.Context, recipients []string, member, project string, until time.Time)
	RoleChanged(ctx context.Context, email, project string, manager bool)
	AdminProposed(ctx context.Context, managers []string, candidate, project string)
	RenewalIssued(ctx context.Context, email, project string, until time.Time)
	MembershipExpired(ctx context.Context, email, project string)
	PendingDigest(ctx context.Context, managers []string, project string, applicants []string)
}
