package dao

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nimbus-lab/nimbus/dao/model"
)

// gormStore implements Store on top of a *gorm.DB handle. Transaction hands
// out a gormStore bound to the transactional handle, so nested calls reuse
// the same transaction.
//
// Deletes are hard deletes (Unscoped): completed requests and torn-down
// memberships are removed, not archived, so the unique indexes on project
// name, username, external identity and the expiration pair stay reusable.
type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

// Registrations

func (s *gormStore) CreateRegistration(ctx context.Context, reg *model.Registration) error {
	return s.db.WithContext(ctx).Create(reg).Error
}

func (s *gormStore) SaveRegistration(ctx context.Context, reg *model.Registration) error {
	return s.db.WithContext(ctx).Save(reg).Error
}

func (s *gormStore) DeleteRegistration(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Unscoped().Delete(&model.Registration{}, id).Error
}

func (s *gormStore) RegistrationByID(ctx context.Context, id uint) (*model.Registration, error) {
	var reg model.Registration
	if err := s.db.WithContext(ctx).First(&reg, id).Error; err != nil {
		return nil, err
	}
	return &reg, nil
}

func (s *gormStore) Registrations(ctx context.Context) ([]model.Registration, error) {
	var regs []model.Registration
	err := s.db.WithContext(ctx).Order("id").Find(&regs).Error
	return regs, err
}

func (s *gormStore) RegistrationByUsername(ctx context.Context, name string) (*model.Registration, error) {
	var reg model.Registration
	if err := s.db.WithContext(ctx).Where("username = ?", name).First(&reg).Error; err != nil {
		return nil, err
	}
	return &reg, nil
}

func (s *gormStore) OrphanRegistrations(ctx context.Context) ([]model.Registration, error) {
	var regs []model.Registration
	err := s.db.WithContext(ctx).
		Where(`NOT EXISTS (SELECT 1 FROM registration_requests q
			WHERE q.registration_id = registrations.id AND q.deleted_at IS NULL)`).
		Where(`NOT EXISTS (SELECT 1 FROM expirations e
			WHERE e.registration_id = registrations.id AND e.deleted_at IS NULL)`).
		Where(`NOT EXISTS (SELECT 1 FROM project_requests p
			WHERE p.registration_id = registrations.id AND p.status <> ? AND p.deleted_at IS NULL)`,
			model.ProjectRequestRenewDiscarded).
		Find(&regs).Error
	return regs, err
}

// Registration requests

func (s *gormStore) CreateRegRequest(ctx context.Context, req *model.RegistrationRequest) error {
	return s.db.WithContext(ctx).Create(req).Error
}

func (s *gormStore) SaveRegRequest(ctx context.Context, req *model.RegistrationRequest) error {
	return s.db.WithContext(ctx).Save(req).Error
}

func (s *gormStore) DeleteRegRequest(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Unscoped().Delete(&model.RegistrationRequest{}, id).Error
}

func (s *gormStore) DeleteRegRequestsFor(ctx context.Context, registrationID uint) error {
	return s.db.WithContext(ctx).Unscoped().
		Where("registration_id = ?", registrationID).
		Delete(&model.RegistrationRequest{}).Error
}

func (s *gormStore) RegRequestsFor(ctx context.Context, registrationID uint) ([]model.RegistrationRequest, error) {
	var reqs []model.RegistrationRequest
	err := s.db.WithContext(ctx).
		Where("registration_id = ?", registrationID).
		Order("id").Find(&reqs).Error
	return reqs, err
}

func (s *gormStore) RegRequestsByStatus(ctx context.Context, status model.RequestStatus) ([]model.RegistrationRequest, error) {
	var reqs []model.RegistrationRequest
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Preload("Registration").
		Order("id").Find(&reqs).Error
	return reqs, err
}

// Identity mappings

func (s *gormStore) CreateIdentityMapping(ctx context.Context, m *model.IdentityMapping) error {
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *gormStore) IdentityMappingByExternalID(ctx context.Context, externalID string) (*model.IdentityMapping, error) {
	var mapping model.IdentityMapping
	if err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&mapping).Error; err != nil {
		return nil, err
	}
	return &mapping, nil
}

func (s *gormStore) DeleteIdentityMappingsFor(ctx context.Context, registrationID uint) error {
	return s.db.WithContext(ctx).Unscoped().
		Where("registration_id = ?", registrationID).
		Delete(&model.IdentityMapping{}).Error
}

// Projects

func (s *gormStore) CreateProject(ctx context.Context, prj *model.Project) error {
	return s.db.WithContext(ctx).Create(prj).Error
}

func (s *gormStore) SaveProject(ctx context.Context, prj *model.Project) error {
	return s.db.WithContext(ctx).Save(prj).Error
}

func (s *gormStore) DeleteProject(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Unscoped().Delete(&model.Project{}, id).Error
}

func (s *gormStore) ProjectByID(ctx context.Context, id uint) (*model.Project, error) {
	var prj model.Project
	if err := s.db.WithContext(ctx).First(&prj, id).Error; err != nil {
		return nil, err
	}
	return &prj, nil
}

func (s *gormStore) ProjectByName(ctx context.Context, name string) (*model.Project, error) {
	var prj model.Project
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&prj).Error; err != nil {
		return nil, err
	}
	return &prj, nil
}

func (s *gormStore) GuestProject(ctx context.Context) (*model.Project, error) {
	var prj model.Project
	err := s.db.WithContext(ctx).Where("status = ?", model.ProjectGuest).First(&prj).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &prj, nil
}

func (s *gormStore) Projects(ctx context.Context) ([]model.Project, error) {
	var prjs []model.Project
	err := s.db.WithContext(ctx).Order("id").Find(&prjs).Error
	return prjs, err
}

// Project requests

func (s *gormStore) CreateProjectRequest(ctx context.Context, req *model.ProjectRequest) error {
	return s.db.WithContext(ctx).Create(req).Error
}

func (s *gormStore) SaveProjectRequest(ctx context.Context, req *model.ProjectRequest) error {
	return s.db.WithContext(ctx).Save(req).Error
}

func (s *gormStore) DeleteProjectRequest(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Unscoped().Delete(&model.ProjectRequest{}, id).Error
}

func (s *gormStore) DeleteProjectRequestsFor(ctx context.Context, registrationID uint) error {
	return s.db.WithContext(ctx).Unscoped().
		Where("registration_id = ?", registrationID).
		Delete(&model.ProjectRequest{}).Error
}

func (s *gormStore) ProjectRequestByID(ctx context.Context, id uint) (*model.ProjectRequest, error) {
	var req model.ProjectRequest
	err := s.db.WithContext(ctx).
		Preload("Registration").Preload("Project").
		First(&req, id).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *gormStore) ProjectRequestsFor(ctx context.Context, registrationID uint) ([]model.ProjectRequest, error) {
	var reqs []model.ProjectRequest
	err := s.db.WithContext(ctx).
		Where("registration_id = ?", registrationID).
		Preload("Project").
		Order("id").Find(&reqs).Error
	return reqs, err
}

func (s *gormStore) ActiveProjectRequest(ctx context.Context, registrationID, projectID uint) (*model.ProjectRequest, error) {
	var req model.ProjectRequest
	err := s.db.WithContext(ctx).
		Where("registration_id = ? AND project_id = ?", registrationID, projectID).
		Where("status NOT IN ?", []model.ProjectRequestStatus{
			model.ProjectRequestApproved, model.ProjectRequestRejected,
			model.ProjectRequestRenewDiscarded,
		}).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *gormStore) PendingRequestsOlderThan(ctx context.Context, age time.Duration) ([]model.ProjectRequest, error) {
	var reqs []model.ProjectRequest
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.ProjectRequestPending, time.Now().Add(-age)).
		Preload("Registration").Preload("Project").
		Order("project_id").Find(&reqs).Error
	return reqs, err
}

// Expirations

func (s *gormStore) UpsertExpiration(ctx context.Context, registrationID, projectID uint, expiresAt time.Time) error {
	exp := model.Expiration{
		RegistrationID: registrationID,
		ProjectID:      projectID,
		ExpiresAt:      expiresAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "registration_id"}, {Name: "project_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"expires_at", "updated_at"}),
	}).Create(&exp).Error
}

func (s *gormStore) DeleteExpiration(ctx context.Context, registrationID, projectID uint) error {
	return s.db.WithContext(ctx).Unscoped().
		Where("registration_id = ? AND project_id = ?", registrationID, projectID).
		Delete(&model.Expiration{}).Error
}

func (s *gormStore) ExpirationsFor(ctx context.Context, registrationID uint) ([]model.Expiration, error) {
	var exps []model.Expiration
	err := s.db.WithContext(ctx).
		Where("registration_id = ?", registrationID).
		Preload("Project").
		Order("id").Find(&exps).Error
	return exps, err
}

func (s *gormStore) ExpirationByPair(ctx context.Context, registrationID, projectID uint) (*model.Expiration, error) {
	var exp model.Expiration
	err := s.db.WithContext(ctx).
		Where("registration_id = ? AND project_id = ?", registrationID, projectID).
		First(&exp).Error
	if err != nil {
		return nil, err
	}
	return &exp, nil
}

func (s *gormStore) ExpirationsUntil(ctx context.Context, deadline time.Time) ([]model.Expiration, error) {
	var exps []model.Expiration
	err := s.db.WithContext(ctx).
		Where("expires_at <= ?", deadline).
		Preload("Registration").Preload("Project").
		Order("expires_at").Find(&exps).Error
	return exps, err
}

// Console users

func (s *gormStore) CreateUser(ctx context.Context, user *model.User) error {
	return s.db.WithContext(ctx).Create(user).Error
}

func (s *gormStore) SaveUser(ctx context.Context, user *model.User) error {
	return s.db.WithContext(ctx).Save(user).Error
}

func (s *gormStore) UserByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *gormStore) UserByName(ctx context.Context, name string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *gormStore) UserProjectRole(ctx context.Context, userID, projectID uint) (model.Role, error) {
	var up model.UserProject
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND project_id = ?", userID, projectID).
		First(&up).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.RoleGuest, nil
	}
	if err != nil {
		return model.RoleGuest, err
	}
	return up.Role, nil
}

func (s *gormStore) UpsertUserProject(ctx context.Context, userID, projectID uint, role model.Role) error {
	up := model.UserProject{UserID: userID, ProjectID: projectID, Role: role}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "project_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "updated_at"}),
	}).Create(&up).Error
}

func (s *gormStore) ProjectManagerEmails(ctx context.Context, projectID uint) ([]string, error) {
	var emails []string
	err := s.db.WithContext(ctx).
		Model(&model.UserProject{}).
		Select("users.email").
		Joins("JOIN users ON users.id = user_projects.user_id AND users.deleted_at IS NULL").
		Where("user_projects.project_id = ? AND user_projects.role = ?", projectID, model.RoleAdmin).
		Where("users.email IS NOT NULL").
		Scan(&emails).Error
	return emails, err
}
