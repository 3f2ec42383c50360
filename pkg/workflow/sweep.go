package workflow

import (
	"context"
	"time"

	"k8s.io/klog/v2"

	"github.com/nimbus-lab/nimbus/dao"
	"github.com/nimbus-lab/nimbus/dao/model"
)

// ScriptRunner executes an operator-supplied account maintenance script for
// one username. Implementations live with the scheduler, not here.
type ScriptRunner interface {
	Run(ctx context.Context, script, username string) error
}

// ScheduleRenewals opens renewal requests for memberships expiring within the
// given window; a non-positive window falls back to the configured one. Pairs
// that already carry an active request are skipped, so repeated runs never
// stack renewals. Items are isolated: one failure is logged and the sweep
// moves on.
func (e *Engine) ScheduleRenewals(ctx context.Context, withinDays int) (err error) {
	defer func() { observe("schedule_renewals", err) }()

	if withinDays <= 0 {
		withinDays = e.cfg.RenewalWindowDays
	}
	deadline := time.Now().AddDate(0, 0, withinDays)
	expirations, err := e.store.ExpirationsUntil(ctx, deadline)
	if err != nil {
		return err
	}

	type issued struct {
		email, project string
		until          time.Time
	}
	var sent []issued
	for i := range expirations {
		exp := &expirations[i]
		txErr := e.store.Transaction(ctx, func(tx dao.Store) error {
			active, txErr := tx.ActiveProjectRequest(ctx, exp.RegistrationID, exp.ProjectID)
			if txErr != nil {
				return txErr
			}
			if active != nil {
				return nil
			}
			status := model.ProjectRequestRenewMember
			if exp.Registration.BackendUserID != nil && exp.Project.BackendProjectID != nil {
				// Managers renew through a different branch of the machine.
				// An unreachable backend defaults the member branch.
				isManager, checkErr := e.gw.CheckRoleAssignment(ctx, e.cfg.ManagerRoleID, *exp.Registration.BackendUserID, *exp.Project.BackendProjectID)
				if checkErr == nil && isManager {
					status = model.ProjectRequestRenewAdmin
				}
			}
			if err := tx.CreateProjectRequest(ctx, &model.ProjectRequest{
				RegistrationID: exp.RegistrationID,
				ProjectID:      exp.ProjectID,
				Status:         status,
			}); err != nil {
				return err
			}
			if email := e.registrantEmail(ctx, exp.Registration.Username); email != "" {
				sent = append(sent, issued{email: email, project: exp.Project.Name, until: exp.ExpiresAt})
			}
			return nil
		})
		if txErr != nil {
			klog.Errorf("workflow: renewal issuance for registration %d project %d failed: %v", exp.RegistrationID, exp.ProjectID, txErr)
		}
	}

	for _, s := range sent {
		e.notify.RenewalIssued(ctx, s.email, s.project, s.until)
	}
	return nil
}

// ExpirationScan tears down memberships whose expiration has passed: backend
// roles revoked, the expiration row removed, open renewals discarded. Each
// membership is handled in its own transaction so one broken item does not
// stall the rest.
func (e *Engine) ExpirationScan(ctx context.Context) (err error) {
	defer func() { observe("expiration_scan", err) }()

	expirations, err := e.store.ExpirationsUntil(ctx, time.Now())
	if err != nil {
		return err
	}

	type expired struct{ email, project string }
	var gone []expired
	for i := range expirations {
		exp := &expirations[i]
		txErr := e.store.Transaction(ctx, func(tx dao.Store) error {
			if exp.Registration.BackendUserID != nil && exp.Project.BackendProjectID != nil {
				uid, pid := *exp.Registration.BackendUserID, *exp.Project.BackendProjectID
				if gwErr := e.gw.RevokeRole(ctx, e.cfg.MemberRoleID, pid, uid); gwErr != nil {
					return gwErr
				}
				if gwErr := e.gw.RevokeRole(ctx, e.cfg.ManagerRoleID, pid, uid); gwErr != nil {
					return gwErr
				}
			}
			active, txErr := tx.ActiveProjectRequest(ctx, exp.RegistrationID, exp.ProjectID)
			if txErr != nil {
				return txErr
			}
			if active != nil && active.Status.Renewal() {
				active.Status = model.ProjectRequestRenewDiscarded
				if err := tx.SaveProjectRequest(ctx, active); err != nil {
					return err
				}
			}
			if err := tx.DeleteExpiration(ctx, exp.RegistrationID, exp.ProjectID); err != nil {
				return err
			}
			if email := e.registrantEmail(ctx, exp.Registration.Username); email != "" {
				gone = append(gone, expired{email: email, project: exp.Project.Name})
			}
			return nil
		})
		if txErr != nil {
			klog.Errorf("workflow: expiration teardown for registration %d project %d failed: %v", exp.RegistrationID, exp.ProjectID, txErr)
		}
	}

	for _, g := range gone {
		e.notify.MembershipExpired(ctx, g.email, g.project)
	}
	return nil
}

// ScheduleBan marks registrations that lost their last membership for account
// disabling, by planting a Disabling request on each orphan. The marker itself
// removes the registration from the orphan set, so the sweep is idempotent.
func (e *Engine) ScheduleBan(ctx context.Context) (err error) {
	defer func() { observe("schedule_ban", err) }()

	return e.store.Transaction(ctx, func(tx dao.Store) error {
		orphans, txErr := tx.OrphanRegistrations(ctx)
		if txErr != nil {
			return txErr
		}
		for i := range orphans {
			reg := &orphans[i]
			if reg.Username == nil {
				continue
			}
			if err := tx.CreateRegRequest(ctx, &model.RegistrationRequest{
				RegistrationID: reg.ID,
				Email:          e.registrantEmail(ctx, reg.Username),
				Status:         model.RequestDisabling,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// BanUsers runs the disable script for every registration marked Disabling.
// The marker moves to Disabled only after the script succeeds; a script
// failure leaves the marker untouched for the next run.
func (e *Engine) BanUsers(ctx context.Context, runner ScriptRunner, script string) (err error) {
	defer func() { observe("ban_users", err) }()

	marked, err := e.store.RegRequestsByStatus(ctx, model.RequestDisabling)
	if err != nil {
		return err
	}
	for i := range marked {
		req := &marked[i]
		if req.Registration.Username == nil {
			continue
		}
		if runErr := runner.Run(ctx, script, *req.Registration.Username); runErr != nil {
			klog.Errorf("workflow: disable script failed for %s: %v", *req.Registration.Username, runErr)
			continue
		}
		req.Status = model.RequestDisabled
		if saveErr := e.store.SaveRegRequest(ctx, req); saveErr != nil {
			klog.Errorf("workflow: recording disabled state for %s failed: %v", *req.Registration.Username, saveErr)
		}
	}
	return nil
}

// AllowUsers re-enables accounts that were disabled and have since regained a
// membership. The Disabled marker is deleted only after the enable script
// succeeds.
func (e *Engine) AllowUsers(ctx context.Context, runner ScriptRunner, script string) (err error) {
	defer func() { observe("allow_users", err) }()

	marked, err := e.store.RegRequestsByStatus(ctx, model.RequestDisabled)
	if err != nil {
		return err
	}
	for i := range marked {
		req := &marked[i]
		if req.Registration.Username == nil {
			continue
		}
		expirations, lookupErr := e.store.ExpirationsFor(ctx, req.RegistrationID)
		if lookupErr != nil {
			klog.Errorf("workflow: membership lookup for %s failed: %v", *req.Registration.Username, lookupErr)
			continue
		}
		if len(expirations) == 0 {
			continue
		}
		if runErr := runner.Run(ctx, script, *req.Registration.Username); runErr != nil {
			klog.Errorf("workflow: enable script failed for %s: %v", *req.Registration.Username, runErr)
			continue
		}
		if delErr := e.store.DeleteRegRequest(ctx, req.ID); delErr != nil {
			klog.Errorf("workflow: clearing disabled marker for %s failed: %v", *req.Registration.Username, delErr)
		}
	}
	return nil
}

// PendingReminder mails each project's managers a digest of membership
// requests that have been waiting longer than the configured age.
func (e *Engine) PendingReminder(ctx context.Context) (err error) {
	defer func() { observe("pending_reminder", err) }()

	stale, err := e.store.PendingRequestsOlderThan(ctx, e.cfg.ReminderAge)
	if err != nil {
		return err
	}

	byProject := make(map[uint][]string)
	names := make(map[uint]string)
	for i := range stale {
		req := &stale[i]
		byProject[req.ProjectID] = append(byProject[req.ProjectID], req.Registration.FullName)
		names[req.ProjectID] = req.Project.Name
	}
	for projectID, applicants := range byProject {
		managers, mgrErr := e.store.ProjectManagerEmails(ctx, projectID)
		if mgrErr != nil {
			klog.Errorf("workflow: manager lookup for project %d failed: %v", projectID, mgrErr)
			continue
		}
		e.notify.PendingDigest(ctx, managers, names[projectID], applicants)
	}
	return nil
}
