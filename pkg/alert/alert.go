// Package alert is the best-effort notification dispatcher for workflow
// transitions. Delivery failure is logged and counted, never propagated: a
// committed workflow transition must not be rolled back because a message
// could not be sent.
package alert

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/nimbus-lab/nimbus/pkg/config"
	"github.com/nimbus-lab/nimbus/pkg/metrics"
)

type Manager struct {
	handler     alertHandlerInterface
	adminEmails []string
}

var (
	once    sync.Once
	alerter *Manager
)

func GetAlertMgr() *Manager {
	once.Do(func() {
		alerter = initAlertMgr()
	})
	return alerter
}

func initAlertMgr() *Manager {
	conf := config.GetConfig()
	var handler alertHandlerInterface
	if conf.NotifyWebhook != "" {
		handler = newWebhookAlerter(conf.NotifyWebhook)
	} else {
		handler = newSMTPAlerter()
	}
	return &Manager{
		handler:     handler,
		adminEmails: conf.Registry.AdminEmails,
	}
}

// send is the single funnel for all dispatches.
func (a *Manager) send(ctx context.Context, recipients []string, subject, body string) {
	if len(recipients) == 0 {
		klog.V(2).Infof("alert: no recipients for %q, dropping", subject)
		return
	}
	if err := a.handler.SendMessageTo(ctx, recipients, subject, body); err != nil {
		metrics.NotificationFailures.Inc()
		klog.Errorf("alert: failed to send %q to %v: %v", subject, recipients, err)
		return
	}
	klog.V(2).Infof("alert: sent %q to %v", subject, recipients)
}

func (a *Manager) RegistrationSubmitted(ctx context.Context, fullName string, projects []string) {
	subject := "New registration request"
	body := fmt.Sprintf("%s submitted a registration request for project(s): %s.\nPlease run the pre-check.",
		fullName, strings.Join(projects, ", "))
	a.send(ctx, a.adminEmails, subject, body)
}

func (a *Manager) ProjectDecisionPending(ctx context.Context, managers []string, applicant, project string) {
	subject := fmt.Sprintf("Membership request for %s", project)
	body := fmt.Sprintf("%s asked to join project %s.\nThe request is waiting for your decision.",
		applicant, project)
	a.send(ctx, managers, subject, body)
}

func (a *Manager) RegistrationOutcome(ctx context.Context, email string, approved, rejected, created []string) {
	subject := "Your registration has been processed"
	var b strings.Builder
	if len(created) > 0 {
		fmt.Fprintf(&b, "Created project(s): %s.\n", strings.Join(created, ", "))
	}
	if len(approved) > 0 {
		fmt.Fprintf(&b, "Approved membership(s): %s.\n", strings.Join(approved, ", "))
	}
	if len(rejected) > 0 {
		fmt.Fprintf(&b, "Rejected membership(s): %s.\n", strings.Join(rejected, ", "))
	}
	a.send(ctx, []string{email}, subject, b.String())
}

func (a *Manager) RegistrationRejected(ctx context.Context, email string, projects []string, reason string) {
	subject := "Your registration has been rejected"
	body := fmt.Sprintf("Your request for project(s) %s was rejected.\nReason: %s",
		strings.Join(projects, ", "), reason)
	a.send(ctx, []string{email}, subject, body)
}

func (a *Manager) SubscriptionDecided(ctx context.Context, managers []string, applicant, project string, approved bool) {
	decision := "rejected"
	if approved {
		decision = "approved"
	}
	subject := fmt.Sprintf("Membership request for %s %s", project, decision)
	body := fmt.Sprintf("The request of %s to join project %s has been %s.", applicant, project, decision)
	a.send(ctx, managers, subject, body)
}

func (a *Manager) ExpirationChanged(ctx context.Context, recipients []string, member, project string, until time.Time) {
	subject := fmt.Sprintf("Membership expiration updated for %s", project)
	body := fmt.Sprintf("The membership of %s in project %s now expires on %s.",
		member, project, until.Format("2006-01-02"))
	a.send(ctx, recipients, subject, body)
}

func (a *Manager) RoleChanged(ctx context.Context, email, project string, manager bool) {
	subject := fmt.Sprintf("Your role in %s changed", project)
	role := "member"
	if manager {
		role = "project manager"
	}
	body := fmt.Sprintf("You are now a %s of project %s.", role, project)
	a.send(ctx, []string{email}, subject, body)
}

func (a *Manager) AdminProposed(ctx context.Context, managers []string, candidate, project string) {
	subject := fmt.Sprintf("Promotion proposed in %s", project)
	body := fmt.Sprintf("%s has been proposed as a project manager of %s.\nThe proposal is waiting for your decision.",
		candidate, project)
	a.send(ctx, managers, subject, body)
}

func (a *Manager) RenewalIssued(ctx context.Context, email, project string, until time.Time) {
	subject := fmt.Sprintf("Membership renewal for %s", project)
	body := fmt.Sprintf("Your membership in project %s expires on %s.\nA renewal request has been opened on your behalf.",
		project, until.Format("2006-01-02"))
	a.send(ctx, []string{email}, subject, body)
}

func (a *Manager) MembershipExpired(ctx context.Context, email, project string) {
	subject := fmt.Sprintf("Membership in %s expired", project)
	body := fmt.Sprintf("Your membership in project %s has expired and access has been revoked.", project)
	a.send(ctx, []string{email}, subject, body)
}

func (a *Manager) PendingDigest(ctx context.Context, managers []string, project string, applicants []string) {
	subject := fmt.Sprintf("Pending membership requests for %s", project)
	body := fmt.Sprintf("The following requests for project %s are still waiting for a decision: %s.",
		project, strings.Join(applicants, ", "))
	a.send(ctx, managers, subject, body)
}
