// Package gateway abstracts the external multi-tenant identity and resource
// service the workflows provision against. The core never interprets
// backend-specific error codes; failures are classified as unavailable or
// rejected only (see errors.go).
package gateway

import "context"

type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type RoleAssignment struct {
	UserID    string `json:"userID"`
	RoleID    string `json:"roleID"`
	ProjectID string `json:"projectID"`
}

type Interface interface {
	// CreateUser creates a backend user scoped to the given default project
	// and returns the backend user id.
	CreateUser(ctx context.Context, name, password, email, projectID string) (string, error)
	// CreateProject creates a backend tenant and returns the backend project id.
	CreateProject(ctx context.Context, name, description string) (string, error)
	GrantRole(ctx context.Context, roleID, projectID, userID string) error
	RevokeRole(ctx context.Context, roleID, projectID, userID string) error
	ListRoles(ctx context.Context) ([]Role, error)
	// ListRoleAssignments filters by project and/or user; empty strings match all.
	ListRoleAssignments(ctx context.Context, projectID, userID string) ([]RoleAssignment, error)
	// CheckRoleAssignment is best effort: callers treat an error as false.
	CheckRoleAssignment(ctx context.Context, roleID, userID, projectID string) (bool, error)
}
