package dao

import (
	"context"
	"time"

	"github.com/nimbus-lab/nimbus/dao/model"
)

// Store is the entity store the workflows mutate. The store never initiates
// action on its own; every state-changing operation runs inside Transaction so
// two concurrent approvals of the same registration cannot both observe the
// same pre-commit state.
//
// Lookups return gorm.ErrRecordNotFound when the row does not exist, except
// where noted (nil, nil).
type Store interface {
	// Transaction runs fn against a transactional view of the store and
	// commits iff fn returns nil.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	// Registrations
	CreateRegistration(ctx context.Context, reg *model.Registration) error
	SaveRegistration(ctx context.Context, reg *model.Registration) error
	DeleteRegistration(ctx context.Context, id uint) error
	RegistrationByID(ctx context.Context, id uint) (*model.Registration, error)
	Registrations(ctx context.Context) ([]model.Registration, error)
	RegistrationByUsername(ctx context.Context, name string) (*model.Registration, error)
	// OrphanRegistrations lists registrations with no registration request,
	// no active expiration and no non-discarded project request.
	OrphanRegistrations(ctx context.Context) ([]model.Registration, error)

	// Registration requests
	CreateRegRequest(ctx context.Context, req *model.RegistrationRequest) error
	SaveRegRequest(ctx context.Context, req *model.RegistrationRequest) error
	DeleteRegRequest(ctx context.Context, id uint) error
	DeleteRegRequestsFor(ctx context.Context, registrationID uint) error
	RegRequestsFor(ctx context.Context, registrationID uint) ([]model.RegistrationRequest, error)
	RegRequestsByStatus(ctx context.Context, status model.RequestStatus) ([]model.RegistrationRequest, error)

	// Identity mappings
	CreateIdentityMapping(ctx context.Context, m *model.IdentityMapping) error
	IdentityMappingByExternalID(ctx context.Context, externalID string) (*model.IdentityMapping, error)
	DeleteIdentityMappingsFor(ctx context.Context, registrationID uint) error

	// Projects
	CreateProject(ctx context.Context, prj *model.Project) error
	SaveProject(ctx context.Context, prj *model.Project) error
	DeleteProject(ctx context.Context, id uint) error
	ProjectByID(ctx context.Context, id uint) (*model.Project, error)
	ProjectByName(ctx context.Context, name string) (*model.Project, error)
	// GuestProject returns (nil, nil) when no project holds the Guest status.
	GuestProject(ctx context.Context) (*model.Project, error)
	Projects(ctx context.Context) ([]model.Project, error)

	// Project requests
	CreateProjectRequest(ctx context.Context, req *model.ProjectRequest) error
	SaveProjectRequest(ctx context.Context, req *model.ProjectRequest) error
	DeleteProjectRequest(ctx context.Context, id uint) error
	DeleteProjectRequestsFor(ctx context.Context, registrationID uint) error
	ProjectRequestByID(ctx context.Context, id uint) (*model.ProjectRequest, error)
	ProjectRequestsFor(ctx context.Context, registrationID uint) ([]model.ProjectRequest, error)
	// ActiveProjectRequest returns (nil, nil) when the pair has no request in
	// a non-terminal status.
	ActiveProjectRequest(ctx context.Context, registrationID, projectID uint) (*model.ProjectRequest, error)
	PendingRequestsOlderThan(ctx context.Context, age time.Duration) ([]model.ProjectRequest, error)

	// Expirations
	UpsertExpiration(ctx context.Context, registrationID, projectID uint, expiresAt time.Time) error
	DeleteExpiration(ctx context.Context, registrationID, projectID uint) error
	ExpirationsFor(ctx context.Context, registrationID uint) ([]model.Expiration, error)
	ExpirationByPair(ctx context.Context, registrationID, projectID uint) (*model.Expiration, error)
	// ExpirationsUntil lists memberships expiring at or before the deadline.
	ExpirationsUntil(ctx context.Context, deadline time.Time) ([]model.Expiration, error)

	// Console users
	CreateUser(ctx context.Context, user *model.User) error
	SaveUser(ctx context.Context, user *model.User) error
	UserByID(ctx context.Context, id uint) (*model.User, error)
	UserByName(ctx context.Context, name string) (*model.User, error)
	// UserProjectRole returns RoleGuest when the user has no row for the project.
	UserProjectRole(ctx context.Context, userID, projectID uint) (model.Role, error)
	UpsertUserProject(ctx context.Context, userID, projectID uint, role model.Role) error
	ProjectManagerEmails(ctx context.Context, projectID uint) ([]string, error)
}
