package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nimbus-lab/nimbus/dao"
	"github.com/nimbus-lab/nimbus/dao/model"
)

// ProjectChoice is one project named in a registration submission: either an
// existing project to join or a new one to create on approval.
type ProjectChoice struct {
	Name        string
	New         bool
	Description string
	Visibility  model.ProjectStatus // new projects only; defaults to Private
}

type SubmitRequest struct {
	ExternalID   *string // federated identity (localname@issuer), nil for local-credential flow
	Password     string  // local-credential flow; forwarded to the backend on provisioning
	FullName     string
	Organization string
	Phone        string
	Domain       string
	Region       string
	Email        string
	Projects     []ProjectChoice
	Notes        string
}

// Submit records a registration request together with one project request per
// requested project. With no project named it falls back to the guest
// project, skipping the pre-check gate entirely (the NoFlow fast path).
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (reg *model.Registration, err error) {
	defer func() { observe("submit", err) }()

	if req.FullName == "" {
		return nil, validationf("full name is required")
	}
	if req.Email == "" {
		return nil, validationf("contact email is required")
	}

	var projectNames []string
	err = e.store.Transaction(ctx, func(tx dao.Store) error {
		if req.ExternalID != nil {
			_, lookupErr := tx.IdentityMappingByExternalID(ctx, *req.ExternalID)
			if lookupErr == nil {
				return validationf("identity %s is already registered", *req.ExternalID)
			}
			if !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
				return lookupErr
			}
		}

		choices := req.Projects
		noFlow := false
		if len(choices) == 0 {
			guest, guestErr := tx.GuestProject(ctx)
			if guestErr != nil {
				return guestErr
			}
			if guest == nil {
				return validationf("at least one project must be requested")
			}
			choices = []ProjectChoice{{Name: guest.Name}}
			noFlow = true
		}

		reg = &model.Registration{
			FullName:     req.FullName,
			Organization: req.Organization,
			Phone:        req.Phone,
			Domain:       req.Domain,
			Region:       req.Region,
		}
		if err := tx.CreateRegistration(ctx, reg); err != nil {
			return err
		}

		status := model.RequestPending
		if noFlow {
			status = model.RequestNoFlow
		}
		var password *string
		if req.Password != "" {
			password = &req.Password
		}
		projectNames = lo.Map(choices, func(c ProjectChoice, _ int) string { return c.Name })
		regReq := &model.RegistrationRequest{
			RegistrationID: reg.ID,
			ExternalID:     req.ExternalID,
			Password:       password,
			Email:          req.Email,
			Status:         status,
			Content: datatypes.NewJSONType(model.RequestContent{
				Comment:           req.Notes,
				RequestedProjects: projectNames,
			}),
		}
		if err := tx.CreateRegRequest(ctx, regReq); err != nil {
			return err
		}

		for _, choice := range choices {
			var prj *model.Project
			if choice.New {
				_, lookupErr := tx.ProjectByName(ctx, choice.Name)
				if lookupErr == nil {
					return validationf("project %s already exists", choice.Name)
				}
				if !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
					return lookupErr
				}
				visibility := choice.Visibility
				if visibility == "" {
					visibility = model.ProjectPrivate
				}
				prj = &model.Project{Name: choice.Name, Status: visibility}
				if choice.Description != "" {
					prj.Description = &choice.Description
				}
				if err := tx.CreateProject(ctx, prj); err != nil {
					return err
				}
			} else {
				var lookupErr error
				prj, lookupErr = tx.ProjectByName(ctx, choice.Name)
				if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
					return validationf("project %s does not exist", choice.Name)
				}
				if lookupErr != nil {
					return lookupErr
				}
			}
			prjStatus := model.ProjectRequestReg
			if noFlow {
				prjStatus = model.ProjectRequestPending
			}
			prjReq := &model.ProjectRequest{
				RegistrationID: reg.ID,
				ProjectID:      prj.ID,
				Status:         prjStatus,
				Notes:          req.Notes,
			}
			if err := tx.CreateProjectRequest(ctx, prjReq); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.notify.RegistrationSubmitted(ctx, req.FullName, projectNames)
	return reg, nil
}

// PreCheck assigns the local username and account expiration, marks the
// registration requests checked and promotes the project requests to the
// project administrators' queues. Only valid while the registration still
// needs its pre-check.
func (e *Engine) PreCheck(ctx context.Context, registrationID uint, username string, expiresAt *time.Time) (err error) {
	defer func() { observe("precheck", err) }()

	if username == "" {
		return validationf("a username must be assigned")
	}

	var fullName string
	var pendingProjects []model.Project
	err = e.store.Transaction(ctx, func(tx dao.Store) error {
		reg, txErr := tx.RegistrationByID(ctx, registrationID)
		if txErr != nil {
			return txErr
		}
		regReqs, txErr := tx.RegRequestsFor(ctx, registrationID)
		if txErr != nil {
			return txErr
		}
		prjReqs, txErr := tx.ProjectRequestsFor(ctx, registrationID)
		if txErr != nil {
			return txErr
		}
		if state := DeriveState(reg, regReqs, prjReqs); state != StateNeedsPrecheck {
			return invalidState(state, StateNeedsPrecheck)
		}

		other, lookupErr := tx.RegistrationByUsername(ctx, username)
		if lookupErr == nil && other.ID != reg.ID {
			return validationf("username %s is already assigned", username)
		}
		if lookupErr != nil && !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			return lookupErr
		}

		reg.Username = &username
		reg.ExpiresAt = expiresAt
		if err := tx.SaveRegistration(ctx, reg); err != nil {
			return err
		}
		fullName = reg.FullName

		for i := range regReqs {
			switch regReqs[i].Status {
			case model.RequestPending, model.RequestPrechecked:
				regReqs[i].Status = model.RequestChecked
				if err := tx.SaveRegRequest(ctx, &regReqs[i]); err != nil {
					return err
				}
			}
		}
		for i := range prjReqs {
			if prjReqs[i].Status != model.ProjectRequestReg {
				continue
			}
			prjReqs[i].Status = model.ProjectRequestPending
			if err := tx.SaveProjectRequest(ctx, &prjReqs[i]); err != nil {
				return err
			}
			pendingProjects = append(pendingProjects, prjReqs[i].Project)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i := range pendingProjects {
		managers, mgrErr := e.store.ProjectManagerEmails(ctx, pendingProjects[i].ID)
		if mgrErr != nil {
			continue
		}
		e.notify.ProjectDecisionPending(ctx, managers, fullName, pendingProjects[i].Name)
	}
	return nil
}

type ApproveRequest struct {
	RegistrationID uint
	// ExternalIDs lists the approved external identities; each becomes an
	// identity mapping and consumes its registration request.
	ExternalIDs []string
	// Projects lists the approved project names. Open project requests for
	// any other project are rejected and discarded.
	Projects []string
	// RoleID overrides the default member role for the grants.
	RoleID string
	// Username optionally (re)assigns the local username.
	Username *string
}

// Approve drives the provisioning step: it creates missing backend tenants,
// creates the backend user on first approval, grants roles and upserts the
// membership expirations. Everything runs in one transaction; a gateway
// failure rolls the whole command back and leaves only the reconciliation
// log for remote resources that were already confirmed created.
func (e *Engine) Approve(ctx context.Context, req ApproveRequest) (err error) {
	defer func() { observe("approve", err) }()

	var createdRemote []string
	var email string
	var approved, rejected, createdNames []string
	var promotions []string

	err = e.store.Transaction(ctx, func(tx dao.Store) error {
		reg, txErr := tx.RegistrationByID(ctx, req.RegistrationID)
		if txErr != nil {
			return txErr
		}
		regReqs, txErr := tx.RegRequestsFor(ctx, req.RegistrationID)
		if txErr != nil {
			return txErr
		}
		prjReqs, txErr := tx.ProjectRequestsFor(ctx, req.RegistrationID)
		if txErr != nil {
			return txErr
		}
		state := DeriveState(reg, regReqs, prjReqs)
		if state != StateNeedsProjectDecision && state != StateReadyToProvision {
			return invalidState(state, StateNeedsProjectDecision, StateReadyToProvision)
		}

		if req.Username != nil {
			reg.Username = req.Username
		}
		roleID := req.RoleID
		if roleID == "" {
			roleID = e.cfg.MemberRoleID
		}

		// Consume the approved external identities; remember the contact
		// email and the submitted password for the backend account.
		var password string
		approvedExt := lo.SliceToMap(req.ExternalIDs, func(id string) (string, bool) { return id, true })
		for i := range regReqs {
			rr := &regReqs[i]
			if email == "" && rr.Email != "" {
				email = rr.Email
			}
			if rr.Password != nil {
				password = *rr.Password
			}
			if rr.ExternalID != nil && approvedExt[*rr.ExternalID] {
				mapping := &model.IdentityMapping{ExternalID: *rr.ExternalID, RegistrationID: reg.ID}
				if err := tx.CreateIdentityMapping(ctx, mapping); err != nil {
					return err
				}
				if err := tx.DeleteRegRequest(ctx, rr.ID); err != nil {
					return err
				}
			}
		}

		approvedSet := lo.SliceToMap(req.Projects, func(name string) (string, bool) { return name, true })
		newlyCreated := map[uint]bool{}
		var toGrant []*model.Project
		var mainTenant *model.Project

		for i := range prjReqs {
			pr := &prjReqs[i]
			switch pr.Status {
			case model.ProjectRequestReg, model.ProjectRequestPending, model.ProjectRequestApproved:
			case model.ProjectRequestAdminElect:
				// Promotion proposals are consumed by the approval pass.
				promotions = append(promotions, pr.Project.Name)
				continue
			default:
				// Renewal statuses belong to the subscription machine.
				continue
			}
			prj, txErr := tx.ProjectByID(ctx, pr.ProjectID)
			if txErr != nil {
				return txErr
			}
			granted := pr.Status == model.ProjectRequestApproved || approvedSet[prj.Name]
			if !granted {
				rejected = append(rejected, prj.Name)
				if err := tx.DeleteProjectRequest(ctx, pr.ID); err != nil {
					return err
				}
				// A tenant that was only requested, never provisioned,
				// disappears with its request.
				if prj.BackendProjectID == nil {
					if err := tx.DeleteProject(ctx, prj.ID); err != nil {
						return err
					}
				}
				continue
			}
			if prj.BackendProjectID == nil {
				if mainTenant == nil {
					mainTenant = prj
				}
				description := ""
				if prj.Description != nil {
					description = *prj.Description
				}
				pid, gwErr := e.gw.CreateProject(ctx, prj.Name, description)
				if gwErr != nil {
					return provisioningFailed(gwErr)
				}
				createdRemote = append(createdRemote, "project/"+pid)
				prj.BackendProjectID = &pid
				if err := tx.SaveProject(ctx, prj); err != nil {
					return err
				}
				newlyCreated[prj.ID] = true
				createdNames = append(createdNames, prj.Name)
			}
			approved = append(approved, prj.Name)
			toGrant = append(toGrant, prj)
			if err := tx.DeleteProjectRequest(ctx, pr.ID); err != nil {
				return err
			}
		}
		if mainTenant == nil && len(toGrant) > 0 {
			mainTenant = toGrant[0]
		}

		// First approval provisions the backend user and the console account.
		var consoleUser *model.User
		if reg.BackendUserID == nil {
			if len(toGrant) == 0 {
				return validationf("no approved project to scope the new account")
			}
			if email == "" {
				return validationf("no contact email on record")
			}
			if reg.Username == nil {
				return validationf("no username assigned; run the pre-check first")
			}
			if password == "" {
				password = uuid.NewString()
			}
			uid, gwErr := e.gw.CreateUser(ctx, *reg.Username, password, email, *mainTenant.BackendProjectID)
			if gwErr != nil {
				return provisioningFailed(gwErr)
			}
			createdRemote = append(createdRemote, "user/"+uid)
			reg.BackendUserID = &uid
			consoleUser = &model.User{
				Name:   *reg.Username,
				Email:  &email,
				Role:   model.RoleUser,
				Status: model.StatusActive,
			}
			if err := tx.CreateUser(ctx, consoleUser); err != nil {
				return err
			}
		} else if reg.Username != nil {
			if u, lookupErr := tx.UserByName(ctx, *reg.Username); lookupErr == nil {
				consoleUser = u
				if email == "" && u.Email != nil {
					email = *u.Email
				}
			}
		}
		if err := tx.SaveRegistration(ctx, reg); err != nil {
			return err
		}

		expiry := e.defaultExpiration(time.Now())
		if reg.ExpiresAt != nil {
			expiry = *reg.ExpiresAt
		}
		for _, prj := range toGrant {
			if gwErr := e.gw.GrantRole(ctx, roleID, *prj.BackendProjectID, *reg.BackendUserID); gwErr != nil {
				return provisioningFailed(gwErr)
			}
			projectRole := model.RoleUser
			if newlyCreated[prj.ID] {
				// The requester manages the tenant they asked for.
				projectRole = model.RoleAdmin
				if e.cfg.ManagerRoleID != "" && e.cfg.ManagerRoleID != roleID {
					if gwErr := e.gw.GrantRole(ctx, e.cfg.ManagerRoleID, *prj.BackendProjectID, *reg.BackendUserID); gwErr != nil {
						return provisioningFailed(gwErr)
					}
				}
			}
			if err := tx.UpsertExpiration(ctx, reg.ID, prj.ID, expiry); err != nil {
				return err
			}
			if consoleUser != nil {
				if err := tx.UpsertUserProject(ctx, consoleUser.ID, prj.ID, projectRole); err != nil {
					return err
				}
			}
		}

		// Consumed promotion proposals: grant the manager role.
		for i := range prjReqs {
			pr := &prjReqs[i]
			if pr.Status != model.ProjectRequestAdminElect {
				continue
			}
			prj, txErr := tx.ProjectByID(ctx, pr.ProjectID)
			if txErr != nil {
				return txErr
			}
			if prj.BackendProjectID == nil || reg.BackendUserID == nil {
				continue
			}
			if gwErr := e.gw.GrantRole(ctx, e.cfg.ManagerRoleID, *prj.BackendProjectID, *reg.BackendUserID); gwErr != nil {
				return provisioningFailed(gwErr)
			}
			if consoleUser != nil {
				if err := tx.UpsertUserProject(ctx, consoleUser.ID, prj.ID, model.RoleAdmin); err != nil {
					return err
				}
			}
			if err := tx.DeleteProjectRequest(ctx, pr.ID); err != nil {
				return err
			}
		}

		// Provisioning consumes every remaining registration request.
		return tx.DeleteRegRequestsFor(ctx, reg.ID)
	})
	if err != nil {
		reportOrphans(createdRemote)
		return err
	}

	if email != "" {
		e.notify.RegistrationOutcome(ctx, email, approved, rejected, createdNames)
	}
	for _, name := range promotions {
		e.notify.RoleChanged(ctx, email, name, true)
	}
	return nil
}

// Reject discards a registration: its requests, its never-provisioned
// projects and, when the backend account was never created, the registration
// itself. A provisioned registration survives; only the open requests die.
func (e *Engine) Reject(ctx context.Context, registrationID uint, reason string) (err error) {
	defer func() { observe("reject", err) }()

	var email string
	var projectNames []string
	err = e.store.Transaction(ctx, func(tx dao.Store) error {
		reg, txErr := tx.RegistrationByID(ctx, registrationID)
		if txErr != nil {
			return txErr
		}
		regReqs, txErr := tx.RegRequestsFor(ctx, registrationID)
		if txErr != nil {
			return txErr
		}
		prjReqs, txErr := tx.ProjectRequestsFor(ctx, registrationID)
		if txErr != nil {
			return txErr
		}
		for i := range regReqs {
			if email == "" && regReqs[i].Email != "" {
				email = regReqs[i].Email
			}
		}
		if email == "" {
			email = e.registrantEmail(ctx, reg.Username)
		}

		for i := range prjReqs {
			prj, txErr := tx.ProjectByID(ctx, prjReqs[i].ProjectID)
			if txErr != nil {
				return txErr
			}
			projectNames = append(projectNames, prj.Name)
			if err := tx.DeleteProjectRequest(ctx, prjReqs[i].ID); err != nil {
				return err
			}
			if prj.BackendProjectID == nil {
				if err := tx.DeleteProject(ctx, prj.ID); err != nil {
					return err
				}
			}
		}
		if err := tx.DeleteRegRequestsFor(ctx, registrationID); err != nil {
			return err
		}
		if reg.BackendUserID == nil {
			if err := tx.DeleteIdentityMappingsFor(ctx, registrationID); err != nil {
				return err
			}
			return tx.DeleteRegistration(ctx, registrationID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if email != "" {
		e.notify.RegistrationRejected(ctx, email, projectNames, reason)
	}
	return nil
}
