package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/samber/lo"
)

// KeystoneClient talks to a Keystone-style identity v3 API. All requests
// carry the service token from the configuration.
type KeystoneClient struct {
	client   *req.Client
	domainID string
}

func NewKeystoneClient(baseURL, token, domainID string, timeout time.Duration) *KeystoneClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := req.C().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetCommonHeader("X-Auth-Token", token).
		SetTimeout(timeout)
	return &KeystoneClient{client: client, domainID: domainID}
}

type keystoneUser struct {
	ID               string `json:"id,omitempty"`
	Name             string `json:"name"`
	Password         string `json:"password,omitempty"`
	Email            string `json:"email,omitempty"`
	DomainID         string `json:"domain_id,omitempty"`
	DefaultProjectID string `json:"default_project_id,omitempty"`
	Enabled          bool   `json:"enabled"`
}

type keystoneProject struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	DomainID    string `json:"domain_id,omitempty"`
	Enabled     bool   `json:"enabled"`
}

type keystoneAssignment struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Role struct {
		ID string `json:"id"`
	} `json:"role"`
	Scope struct {
		Project struct {
			ID string `json:"id"`
		} `json:"project"`
	} `json:"scope"`
}

func (c *KeystoneClient) CreateUser(ctx context.Context, name, password, email, projectID string) (string, error) {
	const op = "createUser"
	body := map[string]keystoneUser{"user": {
		Name:             name,
		Password:         password,
		Email:            email,
		DomainID:         c.domainID,
		DefaultProjectID: projectID,
		Enabled:          true,
	}}
	var result struct {
		User keystoneUser `json:"user"`
	}
	resp, err := c.client.R().SetContext(ctx).
		SetBody(body).SetSuccessResult(&result).
		Post("/v3/users")
	if err != nil {
		return "", Unavailable(op, err)
	}
	if err := classify(op, resp); err != nil {
		return "", err
	}
	return result.User.ID, nil
}

func (c *KeystoneClient) CreateProject(ctx context.Context, name, description string) (string, error) {
	const op = "createProject"
	body := map[string]keystoneProject{"project": {
		Name:        name,
		Description: description,
		DomainID:    c.domainID,
		Enabled:     true,
	}}
	var result struct {
		Project keystoneProject `json:"project"`
	}
	resp, err := c.client.R().SetContext(ctx).
		SetBody(body).SetSuccessResult(&result).
		Post("/v3/projects")
	if err != nil {
		return "", Unavailable(op, err)
	}
	if err := classify(op, resp); err != nil {
		return "", err
	}
	return result.Project.ID, nil
}

func (c *KeystoneClient) GrantRole(ctx context.Context, roleID, projectID, userID string) error {
	const op = "grantRole"
	resp, err := c.client.R().SetContext(ctx).
		Put(fmt.Sprintf("/v3/projects/%s/users/%s/roles/%s", projectID, userID, roleID))
	if err != nil {
		return Unavailable(op, err)
	}
	return classify(op, resp)
}

func (c *KeystoneClient) RevokeRole(ctx context.Context, roleID, projectID, userID string) error {
	const op = "revokeRole"
	resp, err := c.client.R().SetContext(ctx).
		Delete(fmt.Sprintf("/v3/projects/%s/users/%s/roles/%s", projectID, userID, roleID))
	if err != nil {
		return Unavailable(op, err)
	}
	return classify(op, resp)
}

func (c *KeystoneClient) ListRoles(ctx context.Context) ([]Role, error) {
	const op = "listRoles"
	var result struct {
		Roles []Role `json:"roles"`
	}
	resp, err := c.client.R().SetContext(ctx).
		SetSuccessResult(&result).
		Get("/v3/roles")
	if err != nil {
		return nil, Unavailable(op, err)
	}
	if err := classify(op, resp); err != nil {
		return nil, err
	}
	return result.Roles, nil
}

func (c *KeystoneClient) ListRoleAssignments(ctx context.Context, projectID, userID string) ([]RoleAssignment, error) {
	const op = "listRoleAssignments"
	var result struct {
		Assignments []keystoneAssignment `json:"role_assignments"`
	}
	r := c.client.R().SetContext(ctx).SetSuccessResult(&result)
	if projectID != "" {
		r.SetQueryParam("scope.project.id", projectID)
	}
	if userID != "" {
		r.SetQueryParam("user.id", userID)
	}
	resp, err := r.Get("/v3/role_assignments")
	if err != nil {
		return nil, Unavailable(op, err)
	}
	if err := classify(op, resp); err != nil {
		return nil, err
	}
	return lo.Map(result.Assignments, func(a keystoneAssignment, _ int) RoleAssignment {
		return RoleAssignment{
			UserID:    a.User.ID,
			RoleID:    a.Role.ID,
			ProjectID: a.Scope.Project.ID,
		}
	}), nil
}

func (c *KeystoneClient) CheckRoleAssignment(ctx context.Context, roleID, userID, projectID string) (bool, error) {
	const op = "checkRoleAssignment"
	resp, err := c.client.R().SetContext(ctx).
		Head(fmt.Sprintf("/v3/projects/%s/users/%s/roles/%s", projectID, userID, roleID))
	if err != nil {
		return false, Unavailable(op, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err := classify(op, resp); err != nil {
		return false, err
	}
	return true, nil
}

// classify maps a completed HTTP exchange to the two-kind error taxonomy.
func classify(op string, resp *req.Response) error {
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return Unavailable(op, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		reason := strings.TrimSpace(resp.String())
		if reason == "" {
			reason = resp.Status
		}
		return Rejected(op, reason)
	default:
		return nil
	}
}
