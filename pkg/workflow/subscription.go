package workflow

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/nimbus-lab/nimbus/dao"
	"github.com/nimbus-lab/nimbus/dao/model"
)

// SubscriptionRequest asks to join an existing project or to create a new
// one, on behalf of an already-provisioned registration.
type SubscriptionRequest struct {
	RegistrationID uint
	ProjectName    string
	New            bool
	Description    string
	Visibility     model.ProjectStatus // new projects only
	Notes          string
}

// RequestSubscription opens a project request in Pending directly: the
// registration already passed its pre-check, so the Reg stage is skipped.
func (e *Engine) RequestSubscription(ctx context.Context, req SubscriptionRequest) (err error) {
	defer func() { observe("request_subscription", err) }()

	var applicant string
	var projectID uint
	err = e.store.Transaction(ctx, func(tx dao.Store) error {
		reg, txErr := tx.RegistrationByID(ctx, req.RegistrationID)
		if txErr != nil {
			return txErr
		}
		if reg.BackendUserID == nil {
			return validationf("registration is not provisioned yet")
		}
		applicant = reg.FullName

		var prj *model.Project
		if req.New {
			_, lookupErr := tx.ProjectByName(ctx, req.ProjectName)
			if lookupErr == nil {
				return validationf("project %s already exists", req.ProjectName)
			}
			if !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
				return lookupErr
			}
			visibility := req.Visibility
			if visibility == "" {
				visibility = model.ProjectPrivate
			}
			prj = &model.Project{Name: req.ProjectName, Status: visibility}
			if req.Description != "" {
				prj.Description = &req.Description
			}
			if err := tx.CreateProject(ctx, prj); err != nil {
				return err
			}
		} else {
			var lookupErr error
			prj, lookupErr = tx.ProjectByName(ctx, req.ProjectName)
			if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
				return validationf("project %s does not exist", req.ProjectName)
			}
			if lookupErr != nil {
				return lookupErr
			}
			active, txErr := tx.ActiveProjectRequest(ctx, reg.ID, prj.ID)
			if txErr != nil {
				return txErr
			}
			if active != nil {
				return validationf("a request for project %s is already open", prj.Name)
			}
		}
		projectID = prj.ID
		return tx.CreateProjectRequest(ctx, &model.ProjectRequest{
			RegistrationID: reg.ID,
			ProjectID:      prj.ID,
			Status:         model.ProjectRequestPending,
			Notes:          req.Notes,
		})
	})
	if err != nil {
		return err
	}

	managers, mgrErr := e.store.ProjectManagerEmails(ctx, projectID)
	if mgrErr == nil {
		e.notify.ProjectDecisionPending(ctx, managers, applicant, req.ProjectName)
	}
	return nil
}

// DecideSubscription records a project manager's decision on a pending
// request. An approval does not grant backend roles itself; the grant happens
// on the next approval pass or on direct admin action in member management.
// A rejection consumes the request on the spot, and a project that was only
// requested, never provisioned, disappears with it.
func (e *Engine) DecideSubscription(ctx context.Context, actor Actor, projectRequestID uint, approve bool) (err error) {
	defer func() { observe("decide_subscription", err) }()

	var applicant, projectName string
	var projectID uint
	err = e.store.Transaction(ctx, func(tx dao.Store) error {
		req, txErr := tx.ProjectRequestByID(ctx, projectRequestID)
		if txErr != nil {
			return txErr
		}
		if err := e.requireManager(ctx, tx, actor, req.ProjectID); err != nil {
			return err
		}
		switch req.Status {
		case model.ProjectRequestPending,
			model.ProjectRequestRenewAdmin, model.ProjectRequestRenewMember, model.ProjectRequestRenewAttempt:
		default:
			return validationf("request is not waiting for a decision")
		}
		applicant = req.Registration.FullName
		projectName = req.Project.Name
		projectID = req.ProjectID
		if approve {
			req.Status = model.ProjectRequestApproved
			return tx.SaveProjectRequest(ctx, req)
		}
		if err := tx.DeleteProjectRequest(ctx, req.ID); err != nil {
			return err
		}
		if req.Project.BackendProjectID == nil {
			return tx.DeleteProject(ctx, req.ProjectID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	managers, mgrErr := e.store.ProjectManagerEmails(ctx, projectID)
	if mgrErr == nil {
		e.notify.SubscriptionDecided(ctx, managers, applicant, projectName, approve)
	}
	return nil
}

// AttemptRenewal is the member's answer to an issued renewal: the request
// moves to RenewAttempt and waits for a manager decision. No user-initiated
// transition skips that decision.
func (e *Engine) AttemptRenewal(ctx context.Context, actor Actor, projectID uint) (err error) {
	defer func() { observe("attempt_renewal", err) }()

	var applicant, projectName string
	err = e.store.Transaction(ctx, func(tx dao.Store) error {
		reg, txErr := tx.RegistrationByUsername(ctx, actor.Username)
		if txErr != nil {
			return txErr
		}
		active, txErr := tx.ActiveProjectRequest(ctx, reg.ID, projectID)
		if txErr != nil {
			return txErr
		}
		if active == nil {
			return validationf("no renewal has been issued for this membership")
		}
		switch active.Status {
		case model.ProjectRequestRenewMember, model.ProjectRequestRenewAdmin:
		case model.ProjectRequestRenewAttempt:
			return validationf("the renewal has already been requested")
		default:
			return validationf("no renewal has been issued for this membership")
		}
		prj, txErr := tx.ProjectByID(ctx, projectID)
		if txErr != nil {
			return txErr
		}
		applicant = reg.FullName
		projectName = prj.Name
		active.Status = model.ProjectRequestRenewAttempt
		return tx.SaveProjectRequest(ctx, active)
	})
	if err != nil {
		return err
	}

	managers, mgrErr := e.store.ProjectManagerEmails(ctx, projectID)
	if mgrErr == nil {
		e.notify.ProjectDecisionPending(ctx, managers, applicant, projectName)
	}
	return nil
}

// ModifyExpiration upserts the membership expiration of a provisioned user in
// the caller's project. Self-service, past dates and editing a fellow project
// manager are all refused.
func (e *Engine) ModifyExpiration(ctx context.Context, actor Actor, registrationID, projectID uint, expiresAt time.Time) (err error) {
	defer func() { observe("modify_expiration", err) }()

	if expiresAt.Before(time.Now()) {
		return validationf("expiration date is in the past")
	}

	var memberName, projectName, memberEmail string
	err = e.store.Transaction(ctx, func(tx dao.Store) error {
		if err := e.requireManager(ctx, tx, actor, projectID); err != nil {
			return err
		}
		reg, txErr := tx.RegistrationByID(ctx, registrationID)
		if txErr != nil {
			return txErr
		}
		prj, txErr := tx.ProjectByID(ctx, projectID)
		if txErr != nil {
			return txErr
		}
		if reg.Username != nil && *reg.Username == actor.Username {
			return validationf("cannot change your own expiration")
		}
		if reg.BackendUserID == nil {
			return validationf("registration is not provisioned yet")
		}
		// A fellow manager's expiration is off limits. Best effort: if the
		// backend cannot answer, the target is treated as a plain member.
		if prj.BackendProjectID != nil {
			isManager, checkErr := e.gw.CheckRoleAssignment(ctx, e.cfg.ManagerRoleID, *reg.BackendUserID, *prj.BackendProjectID)
			if checkErr == nil && isManager {
				return validationf("cannot change the expiration of a project administrator")
			}
		}

		active, txErr := tx.ActiveProjectRequest(ctx, registrationID, projectID)
		if txErr != nil {
			return txErr
		}
		if active != nil {
			if err := tx.DeleteProjectRequest(ctx, active.ID); err != nil {
				return err
			}
		}
		memberName = reg.FullName
		projectName = prj.Name
		memberEmail = e.registrantEmail(ctx, reg.Username)
		return tx.UpsertExpiration(ctx, registrationID, projectID, expiresAt)
	})
	if err != nil {
		return err
	}

	recipients, mgrErr := e.store.ProjectManagerEmails(ctx, projectID)
	if mgrErr != nil {
		recipients = nil
	}
	if memberEmail != "" {
		recipients = append(recipients, memberEmail)
	}
	e.notify.ExpirationChanged(ctx, recipients, memberName, projectName, expiresAt)
	return nil
}

// Demote strips the project-manager role from a member, making sure the plain
// member role is still granted afterwards.
func (e *Engine) Demote(ctx context.Context, actor Actor, registrationID, projectID uint) (err error) {
	defer func() { observe("demote", err) }()

	var projectName, memberEmail string
	err = e.store.Transaction(ctx, func(tx dao.Store) error {
		if err := e.requireManager(ctx, tx, actor, projectID); err != nil {
			return err
		}
		reg, txErr := tx.RegistrationByID(ctx, registrationID)
		if txErr != nil {
			return txErr
		}
		prj, txErr := tx.ProjectByID(ctx, projectID)
		if txErr != nil {
			return txErr
		}
		if reg.BackendUserID == nil || prj.BackendProjectID == nil {
			return validationf("membership is not provisioned")
		}
		if gwErr := e.gw.RevokeRole(ctx, e.cfg.ManagerRoleID, *prj.BackendProjectID, *reg.BackendUserID); gwErr != nil {
			return gwErr
		}
		hasMember, checkErr := e.gw.CheckRoleAssignment(ctx, e.cfg.MemberRoleID, *reg.BackendUserID, *prj.BackendProjectID)
		if checkErr != nil || !hasMember {
			if gwErr := e.gw.GrantRole(ctx, e.cfg.MemberRoleID, *prj.BackendProjectID, *reg.BackendUserID); gwErr != nil {
				return gwErr
			}
		}
		projectName = prj.Name
		memberEmail = e.registrantEmail(ctx, reg.Username)
		if reg.Username != nil {
			if u, lookupErr := tx.UserByName(ctx, *reg.Username); lookupErr == nil {
				if err := tx.UpsertUserProject(ctx, u.ID, projectID, model.RoleUser); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if memberEmail != "" {
		e.notify.RoleChanged(ctx, memberEmail, projectName, false)
	}
	return nil
}

// ProposeAdmin opens a promotion proposal for a member. An open proposal or a
// membership stuck in the renewal machine blocks the proposal with a
// user-visible error instead of failing silently.
func (e *Engine) ProposeAdmin(ctx context.Context, actor Actor, registrationID, projectID uint) (err error) {
	defer func() { observe("propose_admin", err) }()

	var candidate, projectName string
	err = e.store.Transaction(ctx, func(tx dao.Store) error {
		if err := e.requireManager(ctx, tx, actor, projectID); err != nil {
			return err
		}
		reg, txErr := tx.RegistrationByID(ctx, registrationID)
		if txErr != nil {
			return txErr
		}
		prj, txErr := tx.ProjectByID(ctx, projectID)
		if txErr != nil {
			return txErr
		}
		active, txErr := tx.ActiveProjectRequest(ctx, registrationID, projectID)
		if txErr != nil {
			return txErr
		}
		if active != nil {
			switch {
			case active.Status == model.ProjectRequestAdminElect:
				return validationf("a promotion proposal has already been sent")
			case active.Status.Renewal():
				return validationf("the membership is being renewed; retry once the renewal is settled")
			default:
				return validationf("another request for this membership is already open")
			}
		}
		candidate = reg.FullName
		projectName = prj.Name
		return tx.CreateProjectRequest(ctx, &model.ProjectRequest{
			RegistrationID: registrationID,
			ProjectID:      projectID,
			Status:         model.ProjectRequestAdminElect,
		})
	})
	if err != nil {
		return err
	}

	managers, mgrErr := e.store.ProjectManagerEmails(ctx, projectID)
	if mgrErr == nil {
		e.notify.AdminProposed(ctx, managers, candidate, projectName)
	}
	return nil
}

// requireManager checks that the actor is a platform admin or holds the
// manager role in the project.
func (e *Engine) requireManager(ctx context.Context, tx dao.Store, actor Actor, projectID uint) error {
	if actor.Admin {
		return nil
	}
	role, err := tx.UserProjectRole(ctx, actor.UserID, projectID)
	if err != nil {
		return err
	}
	if role != model.RoleAdmin {
		return validationf("only project managers may perform this operation")
	}
	return nil
}
