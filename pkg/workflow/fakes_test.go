package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/nimbus-lab/nimbus/dao"
	"github.com/nimbus-lab/nimbus/dao/model"
	"github.com/nimbus-lab/nimbus/pkg/gateway"
)

// fakeStore is an in-memory Store. Transaction snapshots the tables and
// restores them when fn fails, so rollback behavior is observable in tests.
type fakeStore struct {
	nextID uint

	regs         map[uint]model.Registration
	regReqs      map[uint]model.RegistrationRequest
	mappings     map[uint]model.IdentityMapping
	projects     map[uint]model.Project
	prjReqs      map[uint]model.ProjectRequest
	exps         map[uint]model.Expiration
	users        map[uint]model.User
	userProjects map[uint]model.UserProject
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		regs:         map[uint]model.Registration{},
		regReqs:      map[uint]model.RegistrationRequest{},
		mappings:     map[uint]model.IdentityMapping{},
		projects:     map[uint]model.Project{},
		prjReqs:      map[uint]model.ProjectRequest{},
		exps:         map[uint]model.Expiration{},
		users:        map[uint]model.User{},
		userProjects: map[uint]model.UserProject{},
	}
}

func (s *fakeStore) id() uint {
	s.nextID++
	return s.nextID
}

func copyMap[V any](m map[uint]V) map[uint]V {
	out := make(map[uint]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedIDs[V any](m map[uint]V) []uint {
	ids := make([]uint, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *fakeStore) Transaction(_ context.Context, fn func(tx dao.Store) error) error {
	snapRegs := copyMap(s.regs)
	snapRegReqs := copyMap(s.regReqs)
	snapMappings := copyMap(s.mappings)
	snapProjects := copyMap(s.projects)
	snapPrjReqs := copyMap(s.prjReqs)
	snapExps := copyMap(s.exps)
	snapUsers := copyMap(s.users)
	snapUserProjects := copyMap(s.userProjects)
	snapNext := s.nextID

	if err := fn(s); err != nil {
		s.regs = snapRegs
		s.regReqs = snapRegReqs
		s.mappings = snapMappings
		s.projects = snapProjects
		s.prjReqs = snapPrjReqs
		s.exps = snapExps
		s.users = snapUsers
		s.userProjects = snapUserProjects
		s.nextID = snapNext
		return err
	}
	return nil
}

// Registrations

func (s *fakeStore) CreateRegistration(_ context.Context, reg *model.Registration) error {
	reg.ID = s.id()
	reg.CreatedAt = time.Now()
	s.regs[reg.ID] = *reg
	return nil
}

func (s *fakeStore) SaveRegistration(_ context.Context, reg *model.Registration) error {
	if _, ok := s.regs[reg.ID]; !ok {
		return fmt.Errorf("save of unknown registration %d", reg.ID)
	}
	s.regs[reg.ID] = *reg
	return nil
}

func (s *fakeStore) DeleteRegistration(_ context.Context, id uint) error {
	delete(s.regs, id)
	return nil
}

func (s *fakeStore) RegistrationByID(_ context.Context, id uint) (*model.Registration, error) {
	reg, ok := s.regs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &reg, nil
}

func (s *fakeStore) Registrations(_ context.Context) ([]model.Registration, error) {
	var out []model.Registration
	for _, id := range sortedIDs(s.regs) {
		out = append(out, s.regs[id])
	}
	return out, nil
}

func (s *fakeStore) RegistrationByUsername(_ context.Context, name string) (*model.Registration, error) {
	for _, id := range sortedIDs(s.regs) {
		reg := s.regs[id]
		if reg.Username != nil && *reg.Username == name {
			return &reg, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeStore) OrphanRegistrations(_ context.Context) ([]model.Registration, error) {
	var out []model.Registration
	for _, id := range sortedIDs(s.regs) {
		reg := s.regs[id]
		orphan := true
		for _, rr := range s.regReqs {
			if rr.RegistrationID == reg.ID {
				orphan = false
			}
		}
		for _, exp := range s.exps {
			if exp.RegistrationID == reg.ID {
				orphan = false
			}
		}
		for _, pr := range s.prjReqs {
			if pr.RegistrationID == reg.ID && pr.Status != model.ProjectRequestRenewDiscarded {
				orphan = false
			}
		}
		if orphan {
			out = append(out, reg)
		}
	}
	return out, nil
}

// Registration requests

func (s *fakeStore) CreateRegRequest(_ context.Context, req *model.RegistrationRequest) error {
	req.ID = s.id()
	req.CreatedAt = time.Now()
	s.regReqs[req.ID] = *req
	return nil
}

func (s *fakeStore) SaveRegRequest(_ context.Context, req *model.RegistrationRequest) error {
	s.regReqs[req.ID] = *req
	return nil
}

func (s *fakeStore) DeleteRegRequest(_ context.Context, id uint) error {
	delete(s.regReqs, id)
	return nil
}

func (s *fakeStore) DeleteRegRequestsFor(_ context.Context, registrationID uint) error {
	for id, rr := range s.regReqs {
		if rr.RegistrationID == registrationID {
			delete(s.regReqs, id)
		}
	}
	return nil
}

func (s *fakeStore) RegRequestsFor(_ context.Context, registrationID uint) ([]model.RegistrationRequest, error) {
	var out []model.RegistrationRequest
	for _, id := range sortedIDs(s.regReqs) {
		if s.regReqs[id].RegistrationID == registrationID {
			out = append(out, s.regReqs[id])
		}
	}
	return out, nil
}

func (s *fakeStore) RegRequestsByStatus(_ context.Context, status model.RequestStatus) ([]model.RegistrationRequest, error) {
	var out []model.RegistrationRequest
	for _, id := range sortedIDs(s.regReqs) {
		rr := s.regReqs[id]
		if rr.Status == status {
			rr.Registration = s.regs[rr.RegistrationID]
			out = append(out, rr)
		}
	}
	return out, nil
}

// Identity mappings

func (s *fakeStore) CreateIdentityMapping(_ context.Context, m *model.IdentityMapping) error {
	for _, existing := range s.mappings {
		if existing.ExternalID == m.ExternalID {
			return fmt.Errorf("duplicate external id %s", m.ExternalID)
		}
	}
	m.ID = s.id()
	s.mappings[m.ID] = *m
	return nil
}

func (s *fakeStore) IdentityMappingByExternalID(_ context.Context, externalID string) (*model.IdentityMapping, error) {
	for _, id := range sortedIDs(s.mappings) {
		m := s.mappings[id]
		if m.ExternalID == externalID {
			return &m, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeStore) DeleteIdentityMappingsFor(_ context.Context, registrationID uint) error {
	for id, m := range s.mappings {
		if m.RegistrationID == registrationID {
			delete(s.mappings, id)
		}
	}
	return nil
}

// Projects

func (s *fakeStore) CreateProject(_ context.Context, prj *model.Project) error {
	prj.ID = s.id()
	prj.CreatedAt = time.Now()
	s.projects[prj.ID] = *prj
	return nil
}

func (s *fakeStore) SaveProject(_ context.Context, prj *model.Project) error {
	s.projects[prj.ID] = *prj
	return nil
}

func (s *fakeStore) DeleteProject(_ context.Context, id uint) error {
	delete(s.projects, id)
	return nil
}

func (s *fakeStore) ProjectByID(_ context.Context, id uint) (*model.Project, error) {
	prj, ok := s.projects[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &prj, nil
}

func (s *fakeStore) ProjectByName(_ context.Context, name string) (*model.Project, error) {
	for _, id := range sortedIDs(s.projects) {
		prj := s.projects[id]
		if prj.Name == name {
			return &prj, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeStore) GuestProject(_ context.Context) (*model.Project, error) {
	for _, id := range sortedIDs(s.projects) {
		prj := s.projects[id]
		if prj.Status == model.ProjectGuest {
			return &prj, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) Projects(_ context.Context) ([]model.Project, error) {
	var out []model.Project
	for _, id := range sortedIDs(s.projects) {
		out = append(out, s.projects[id])
	}
	return out, nil
}

// Project requests

func (s *fakeStore) CreateProjectRequest(_ context.Context, req *model.ProjectRequest) error {
	req.ID = s.id()
	req.CreatedAt = time.Now()
	s.prjReqs[req.ID] = *req
	return nil
}

func (s *fakeStore) SaveProjectRequest(_ context.Context, req *model.ProjectRequest) error {
	s.prjReqs[req.ID] = *req
	return nil
}

func (s *fakeStore) DeleteProjectRequest(_ context.Context, id uint) error {
	delete(s.prjReqs, id)
	return nil
}

func (s *fakeStore) DeleteProjectRequestsFor(_ context.Context, registrationID uint) error {
	for id, pr := range s.prjReqs {
		if pr.RegistrationID == registrationID {
			delete(s.prjReqs, id)
		}
	}
	return nil
}

func (s *fakeStore) ProjectRequestByID(_ context.Context, id uint) (*model.ProjectRequest, error) {
	pr, ok := s.prjReqs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	pr.Registration = s.regs[pr.RegistrationID]
	pr.Project = s.projects[pr.ProjectID]
	return &pr, nil
}

func (s *fakeStore) ProjectRequestsFor(_ context.Context, registrationID uint) ([]model.ProjectRequest, error) {
	var out []model.ProjectRequest
	for _, id := range sortedIDs(s.prjReqs) {
		pr := s.prjReqs[id]
		if pr.RegistrationID == registrationID {
			pr.Project = s.projects[pr.ProjectID]
			out = append(out, pr)
		}
	}
	return out, nil
}

func (s *fakeStore) ActiveProjectRequest(_ context.Context, registrationID, projectID uint) (*model.ProjectRequest, error) {
	for _, id := range sortedIDs(s.prjReqs) {
		pr := s.prjReqs[id]
		if pr.RegistrationID == registrationID && pr.ProjectID == projectID && pr.Status.Active() {
			return &pr, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) PendingRequestsOlderThan(_ context.Context, age time.Duration) ([]model.ProjectRequest, error) {
	cutoff := time.Now().Add(-age)
	var out []model.ProjectRequest
	for _, id := range sortedIDs(s.prjReqs) {
		pr := s.prjReqs[id]
		if pr.Status == model.ProjectRequestPending && pr.CreatedAt.Before(cutoff) {
			pr.Registration = s.regs[pr.RegistrationID]
			pr.Project = s.projects[pr.ProjectID]
			out = append(out, pr)
		}
	}
	return out, nil
}

// Expirations

func (s *fakeStore) UpsertExpiration(_ context.Context, registrationID, projectID uint, expiresAt time.Time) error {
	for id, exp := range s.exps {
		if exp.RegistrationID == registrationID && exp.ProjectID == projectID {
			exp.ExpiresAt = expiresAt
			s.exps[id] = exp
			return nil
		}
	}
	s.exps[s.id()] = model.Expiration{
		Model:          gorm.Model{ID: s.nextID, CreatedAt: time.Now()},
		RegistrationID: registrationID,
		ProjectID:      projectID,
		ExpiresAt:      expiresAt,
	}
	return nil
}

func (s *fakeStore) DeleteExpiration(_ context.Context, registrationID, projectID uint) error {
	for id, exp := range s.exps {
		if exp.RegistrationID == registrationID && exp.ProjectID == projectID {
			delete(s.exps, id)
		}
	}
	return nil
}

func (s *fakeStore) ExpirationsFor(_ context.Context, registrationID uint) ([]model.Expiration, error) {
	var out []model.Expiration
	for _, id := range sortedIDs(s.exps) {
		exp := s.exps[id]
		if exp.RegistrationID == registrationID {
			exp.Project = s.projects[exp.ProjectID]
			out = append(out, exp)
		}
	}
	return out, nil
}

func (s *fakeStore) ExpirationByPair(_ context.Context, registrationID, projectID uint) (*model.Expiration, error) {
	for _, id := range sortedIDs(s.exps) {
		exp := s.exps[id]
		if exp.RegistrationID == registrationID && exp.ProjectID == projectID {
			return &exp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeStore) ExpirationsUntil(_ context.Context, deadline time.Time) ([]model.Expiration, error) {
	var out []model.Expiration
	for _, id := range sortedIDs(s.exps) {
		exp := s.exps[id]
		if !exp.ExpiresAt.After(deadline) {
			exp.Registration = s.regs[exp.RegistrationID]
			exp.Project = s.projects[exp.ProjectID]
			out = append(out, exp)
		}
	}
	return out, nil
}

// Console users

func (s *fakeStore) CreateUser(_ context.Context, user *model.User) error {
	user.ID = s.id()
	s.users[user.ID] = *user
	return nil
}

func (s *fakeStore) SaveUser(_ context.Context, user *model.User) error {
	s.users[user.ID] = *user
	return nil
}

func (s *fakeStore) UserByID(_ context.Context, id uint) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &u, nil
}

func (s *fakeStore) UserByName(_ context.Context, name string) (*model.User, error) {
	for _, id := range sortedIDs(s.users) {
		u := s.users[id]
		if u.Name == name {
			return &u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeStore) UserProjectRole(_ context.Context, userID, projectID uint) (model.Role, error) {
	for _, up := range s.userProjects {
		if up.UserID == userID && up.ProjectID == projectID {
			return up.Role, nil
		}
	}
	return model.RoleGuest, nil
}

func (s *fakeStore) UpsertUserProject(_ context.Context, userID, projectID uint, role model.Role) error {
	for id, up := range s.userProjects {
		if up.UserID == userID && up.ProjectID == projectID {
			up.Role = role
			s.userProjects[id] = up
			return nil
		}
	}
	s.userProjects[s.id()] = model.UserProject{
		Model:     gorm.Model{ID: s.nextID},
		UserID:    userID,
		ProjectID: projectID,
		Role:      role,
	}
	return nil
}

func (s *fakeStore) ProjectManagerEmails(_ context.Context, projectID uint) ([]string, error) {
	var out []string
	for _, id := range sortedIDs(s.userProjects) {
		up := s.userProjects[id]
		if up.ProjectID != projectID || up.Role != model.RoleAdmin {
			continue
		}
		if u, ok := s.users[up.UserID]; ok && u.Email != nil {
			out = append(out, *u.Email)
		}
	}
	return out, nil
}

// fakeGateway records backend mutations and supports failure injection.
type fakeGateway struct {
	nextUser    int
	nextProject int

	users    map[string]string // userID -> name
	projects map[string]string // projectID -> name
	grants   map[string]bool   // roleID|projectID|userID

	createdProjects []string
	createdUsers    []string

	failCreateUser    error
	failCreateProject error
	failGrant         error
	failCheck         error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		users:    map[string]string{},
		projects: map[string]string{},
		grants:   map[string]bool{},
	}
}

func grantKey(roleID, projectID, userID string) string {
	return roleID + "|" + projectID + "|" + userID
}

func (g *fakeGateway) CreateUser(_ context.Context, name, _, _, _ string) (string, error) {
	if g.failCreateUser != nil {
		return "", g.failCreateUser
	}
	g.nextUser++
	id := fmt.Sprintf("uid-%d", g.nextUser)
	g.users[id] = name
	g.createdUsers = append(g.createdUsers, id)
	return id, nil
}

func (g *fakeGateway) CreateProject(_ context.Context, name, _ string) (string, error) {
	if g.failCreateProject != nil {
		return "", g.failCreateProject
	}
	g.nextProject++
	id := fmt.Sprintf("pid-%d", g.nextProject)
	g.projects[id] = name
	g.createdProjects = append(g.createdProjects, id)
	return id, nil
}

func (g *fakeGateway) GrantRole(_ context.Context, roleID, projectID, userID string) error {
	if g.failGrant != nil {
		return g.failGrant
	}
	g.grants[grantKey(roleID, projectID, userID)] = true
	return nil
}

func (g *fakeGateway) RevokeRole(_ context.Context, roleID, projectID, userID string) error {
	delete(g.grants, grantKey(roleID, projectID, userID))
	return nil
}

func (g *fakeGateway) ListRoles(_ context.Context) ([]gateway.Role, error) {
	return []gateway.Role{{ID: "role-member", Name: "member"}, {ID: "role-manager", Name: "manager"}}, nil
}

func (g *fakeGateway) ListRoleAssignments(_ context.Context, projectID, userID string) ([]gateway.RoleAssignment, error) {
	var out []gateway.RoleAssignment
	for key := range g.grants {
		parts := strings.SplitN(key, "|", 3)
		if projectID != "" && parts[1] != projectID {
			continue
		}
		if userID != "" && parts[2] != userID {
			continue
		}
		out = append(out, gateway.RoleAssignment{RoleID: parts[0], ProjectID: parts[1], UserID: parts[2]})
	}
	return out, nil
}

func (g *fakeGateway) CheckRoleAssignment(_ context.Context, roleID, userID, projectID string) (bool, error) {
	if g.failCheck != nil {
		return false, g.failCheck
	}
	return g.grants[grantKey(roleID, projectID, userID)], nil
}

// fakeNotifier records every dispatch as "method:detail".
type fakeNotifier struct {
	calls []string
}

func (n *fakeNotifier) record(format string, args ...any) {
	n.calls = append(n.calls, fmt.Sprintf(format, args...))
}

func (n *fakeNotifier) RegistrationSubmitted(_ context.Context, fullName string, projects []string) {
	n.record("submitted:%s:%v", fullName, projects)
}

func (n *fakeNotifier) ProjectDecisionPending(_ context.Context, _ []string, applicant, project string) {
	n.record("decision-pending:%s:%s", applicant, project)
}

func (n *fakeNotifier) RegistrationOutcome(_ context.Context, email string, approved, rejected, created []string) {
	n.record("outcome:%s:%v:%v:%v", email, approved, rejected, created)
}

func (n *fakeNotifier) RegistrationRejected(_ context.Context, email string, projects []string, reason string) {
	n.record("rejected:%s:%v:%s", email, projects, reason)
}

func (n *fakeNotifier) SubscriptionDecided(_ context.Context, _ []string, applicant, project string, approved bool) {
	n.record("decided:%s:%s:%t", applicant, project, approved)
}

func (n *fakeNotifier) ExpirationChanged(_ context.Context, _ []string, member, project string, _ time.Time) {
	n.record("expiration-changed:%s:%s", member, project)
}

func (n *fakeNotifier) RoleChanged(_ context.Context, email, project string, manager bool) {
	n.record("role-changed:%s:%s:%t", email, project, manager)
}

func (n *fakeNotifier) AdminProposed(_ context.Context, _ []string, candidate, project string) {
	n.record("admin-proposed:%s:%s", candidate, project)
}

func (n *fakeNotifier) RenewalIssued(_ context.Context, email, project string, _ time.Time) {
	n.record("renewal-issued:%s:%s", email, project)
}

func (n *fakeNotifier) MembershipExpired(_ context.Context, email, project string) {
	n.record("membership-expired:%s:%s", email, project)
}

func (n *fakeNotifier) PendingDigest(_ context.Context, _ []string, project string, applicants []string) {
	n.record("pending-digest:%s:%v", project, applicants)
}
