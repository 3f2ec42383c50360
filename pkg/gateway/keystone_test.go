package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *KeystoneClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewKeystoneClient(srv.URL, "test-token", "domain-1", 5*time.Second)
}

func TestCreateUser(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v3/users", r.URL.Path)
		require.Equal(t, "test-token", r.Header.Get("X-Auth-Token"))

		var body struct {
			User keystoneUser `json:"user"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice", body.User.Name)
		assert.Equal(t, "domain-1", body.User.DomainID)
		assert.Equal(t, "pid-1", body.User.DefaultProjectID)
		assert.True(t, body.User.Enabled)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]keystoneUser{"user": {ID: "uid-1", Name: "alice"}})
	})

	id, err := client.CreateUser(context.Background(), "alice", "secret", "alice@example.org", "pid-1")
	require.NoError(t, err)
	assert.Equal(t, "uid-1", id)
}

func TestCreateProjectRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("project name in use"))
	})

	_, err := client.CreateProject(context.Background(), "alpha", "")
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	assert.Contains(t, err.Error(), "project name in use")
}

func TestGrantRoleServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := client.GrantRole(context.Background(), "role-1", "pid-1", "uid-1")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

func TestGrantRoleURL(t *testing.T) {
	var gotPath, gotMethod string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.GrantRole(context.Background(), "role-1", "pid-1", "uid-1"))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/v3/projects/pid-1/users/uid-1/roles/role-1", gotPath)
}

func TestListRoles(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v3/roles", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string][]Role{"roles": {
			{ID: "r1", Name: "member"},
			{ID: "r2", Name: "manager"},
		}})
	})

	roles, err := client.ListRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "member", roles[0].Name)
}

func TestListRoleAssignmentsFilters(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v3/role_assignments", r.URL.Path)
		assert.Equal(t, "pid-1", r.URL.Query().Get("scope.project.id"))
		assert.Equal(t, "uid-1", r.URL.Query().Get("user.id"))
		_, _ = w.Write([]byte(`{"role_assignments":[
			{"user":{"id":"uid-1"},"role":{"id":"r1"},"scope":{"project":{"id":"pid-1"}}}
		]}`))
	})

	assignments, err := client.ListRoleAssignments(context.Background(), "pid-1", "uid-1")
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, RoleAssignment{UserID: "uid-1", RoleID: "r1", ProjectID: "pid-1"}, assignments[0])
}

func TestCheckRoleAssignment(t *testing.T) {
	status := http.StatusNoContent
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(status)
	})

	ok, err := client.CheckRoleAssignment(context.Background(), "role-1", "uid-1", "pid-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// 404 means "no assignment", not an error.
	status = http.StatusNotFound
	ok, err = client.CheckRoleAssignment(context.Background(), "role-1", "uid-1", "pid-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnavailableOnConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	client := NewKeystoneClient(srv.URL, "t", "d", time.Second)

	_, err := client.ListRoles(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}
