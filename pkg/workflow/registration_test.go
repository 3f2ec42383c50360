package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbus-lab/nimbus/dao/model"
	"github.com/nimbus-lab/nimbus/pkg/gateway"
)

func newTestEngine(t *testing.T) (*Engine, *fakeStore, *fakeGateway, *fakeNotifier) {
	t.Helper()
	store := newFakeStore()
	gw := newFakeGateway()
	notify := &fakeNotifier{}
	engine := NewEngine(store, gw, notify, Config{
		MemberRoleID:          "role-member",
		ManagerRoleID:         "role-manager",
		DefaultMembershipDays: 365,
		RenewalWindowDays:     30,
		ReminderAge:           7 * 24 * time.Hour,
	})
	return engine, store, gw, notify
}

func strptr(s string) *string { return &s }

func TestSubmitValidation(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Submit(ctx, SubmitRequest{Email: "a@b.c"})
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	_, err = engine.Submit(ctx, SubmitRequest{FullName: "Alice"})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestSubmitDuplicateIdentity(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.CreateProject(ctx, &model.Project{Name: "alpha", Status: model.ProjectPrivate}))

	first := SubmitRequest{
		ExternalID: strptr("alice@idp"),
		FullName:   "Alice",
		Email:      "alice@example.org",
		Projects:   []ProjectChoice{{Name: "alpha"}},
	}
	reg, err := engine.Submit(ctx, first)
	require.NoError(t, err)

	// Submission alone does not reserve the identity; provisioning does.
	_, err = engine.Submit(ctx, first)
	require.NoError(t, err)

	require.NoError(t, engine.PreCheck(ctx, reg.ID, "alice", nil))
	require.NoError(t, engine.Approve(ctx, ApproveRequest{
		RegistrationID: reg.ID,
		ExternalIDs:    []string{"alice@idp"},
		Projects:       []string{"alpha"},
	}))

	_, err = engine.Submit(ctx, first)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestSubmitGuestFastPath(t *testing.T) {
	engine, store, _, notify := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.CreateProject(ctx, &model.Project{Name: "sandbox", Status: model.ProjectGuest}))

	reg, err := engine.Submit(ctx, SubmitRequest{FullName: "Bob", Email: "bob@example.org"})
	require.NoError(t, err)

	regReqs, err := store.RegRequestsFor(ctx, reg.ID)
	require.NoError(t, err)
	require.Len(t, regReqs, 1)
	assert.Equal(t, model.RequestNoFlow, regReqs[0].Status)

	prjReqs, err := store.ProjectRequestsFor(ctx, reg.ID)
	require.NoError(t, err)
	require.Len(t, prjReqs, 1)
	// The fast path skips the pre-check gate and goes straight to the
	// pending decision.
	assert.Equal(t, model.ProjectRequestPending, prjReqs[0].Status)

	assert.Contains(t, notify.calls, "submitted:Bob:[sandbox]")
}

func TestSubmitWithoutGuestProjectFails(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	_, err := engine.Submit(context.Background(), SubmitRequest{FullName: "Bob", Email: "bob@example.org"})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestRegistrationRoundTrip(t *testing.T) {
	engine, store, gw, notify := newTestEngine(t)
	ctx := context.Background()

	reg, err := engine.Submit(ctx, SubmitRequest{
		ExternalID:   strptr("alice@idp"),
		FullName:     "Alice",
		Organization: "Example Org",
		Email:        "alice@example.org",
		Projects:     []ProjectChoice{{Name: "alpha", New: true, Description: "alpha tenant"}},
	})
	require.NoError(t, err)

	regReqs, _ := store.RegRequestsFor(ctx, reg.ID)
	prjReqs, _ := store.ProjectRequestsFor(ctx, reg.ID)
	assert.Equal(t, StateNeedsPrecheck, DeriveState(reg, regReqs, prjReqs))

	// Approving before the pre-check is an invalid-state error.
	err = engine.Approve(ctx, ApproveRequest{RegistrationID: reg.ID, Projects: []string{"alpha"}})
	require.Error(t, err)
	assert.True(t, isInvalidState(err))

	require.NoError(t, engine.PreCheck(ctx, reg.ID, "alice", nil))

	reg, err = store.RegistrationByID(ctx, reg.ID)
	require.NoError(t, err)
	require.NotNil(t, reg.Username)
	assert.Equal(t, "alice", *reg.Username)

	regReqs, _ = store.RegRequestsFor(ctx, reg.ID)
	prjReqs, _ = store.ProjectRequestsFor(ctx, reg.ID)
	assert.Equal(t, StateNeedsProjectDecision, DeriveState(reg, regReqs, prjReqs))
	require.Len(t, regReqs, 1)
	assert.Equal(t, model.RequestChecked, regReqs[0].Status)
	require.Len(t, prjReqs, 1)
	assert.Equal(t, model.ProjectRequestPending, prjReqs[0].Status)

	require.NoError(t, engine.Approve(ctx, ApproveRequest{
		RegistrationID: reg.ID,
		ExternalIDs:    []string{"alice@idp"},
		Projects:       []string{"alpha"},
	}))

	reg, err = store.RegistrationByID(ctx, reg.ID)
	require.NoError(t, err)
	require.NotNil(t, reg.BackendUserID)
	assert.Equal(t, "uid-1", *reg.BackendUserID)

	prj, err := store.ProjectByName(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, prj.BackendProjectID)
	assert.Equal(t, "pid-1", *prj.BackendProjectID)

	// Member and manager role on the freshly created tenant.
	assert.True(t, gw.grants[grantKey("role-member", "pid-1", "uid-1")])
	assert.True(t, gw.grants[grantKey("role-manager", "pid-1", "uid-1")])

	exp, err := store.ExpirationByPair(ctx, reg.ID, prj.ID)
	require.NoError(t, err)
	assert.True(t, exp.ExpiresAt.After(time.Now()))

	mapping, err := store.IdentityMappingByExternalID(ctx, "alice@idp")
	require.NoError(t, err)
	assert.Equal(t, reg.ID, mapping.RegistrationID)

	regReqs, _ = store.RegRequestsFor(ctx, reg.ID)
	assert.Empty(t, regReqs)

	prjReqs, _ = store.ProjectRequestsFor(ctx, reg.ID)
	assert.Equal(t, StateProvisioned, DeriveState(reg, regReqs, prjReqs))

	// The requester manages the tenant they asked for.
	user, err := store.UserByName(ctx, "alice")
	require.NoError(t, err)
	role, err := store.UserProjectRole(ctx, user.ID, prj.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, role)

	assert.Contains(t, notify.calls, "outcome:alice@example.org:[alpha]:[]:[alpha]")
}

func TestApproveRejectsUnlistedProjects(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.CreateProject(ctx, &model.Project{
		Name:             "existing",
		Status:           model.ProjectPrivate,
		BackendProjectID: strptr("pid-existing"),
	}))

	reg, err := engine.Submit(ctx, SubmitRequest{
		FullName: "Carol",
		Email:    "carol@example.org",
		Projects: []ProjectChoice{
			{Name: "existing"},
			{Name: "newone", New: true},
		},
	})
	require.NoError(t, err)
	require.NoError(t, engine.PreCheck(ctx, reg.ID, "carol", nil))

	require.NoError(t, engine.Approve(ctx, ApproveRequest{
		RegistrationID: reg.ID,
		Projects:       []string{"existing"},
	}))

	// The unapproved, never-provisioned tenant disappears with its request.
	_, err = store.ProjectByName(ctx, "newone")
	require.Error(t, err)

	prjReqs, err := store.ProjectRequestsFor(ctx, reg.ID)
	require.NoError(t, err)
	assert.Empty(t, prjReqs)
}

func TestApproveRollbackReportsOrphans(t *testing.T) {
	engine, store, gw, _ := newTestEngine(t)
	ctx := context.Background()

	reg, err := engine.Submit(ctx, SubmitRequest{
		FullName: "Dave",
		Email:    "dave@example.org",
		Projects: []ProjectChoice{{Name: "beta", New: true}},
	})
	require.NoError(t, err)
	require.NoError(t, engine.PreCheck(ctx, reg.ID, "dave", nil))

	gw.failCreateUser = gateway.Unavailable("create user", nil)

	err = engine.Approve(ctx, ApproveRequest{RegistrationID: reg.ID, Projects: []string{"beta"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvisioningFailed)
	assert.True(t, gateway.IsUnavailable(err))

	// Local state rolled back: the tenant is unprovisioned again and the
	// requests are still open, so the command can be retried.
	prj, err := store.ProjectByName(ctx, "beta")
	require.NoError(t, err)
	assert.Nil(t, prj.BackendProjectID)

	reg, err = store.RegistrationByID(ctx, reg.ID)
	require.NoError(t, err)
	assert.Nil(t, reg.BackendUserID)

	prjReqs, err := store.ProjectRequestsFor(ctx, reg.ID)
	require.NoError(t, err)
	require.Len(t, prjReqs, 1)

	// The confirmed remote tenant is left behind for reconciliation.
	assert.Len(t, gw.createdProjects, 1)

	// Retry succeeds once the backend recovers.
	gw.failCreateUser = nil
	require.NoError(t, engine.Approve(ctx, ApproveRequest{RegistrationID: reg.ID, Projects: []string{"beta"}}))
}

func TestPreCheckUsernameCollision(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.CreateProject(ctx, &model.Project{Name: "alpha", Status: model.ProjectPrivate}))

	first, err := engine.Submit(ctx, SubmitRequest{
		FullName: "Eve", Email: "eve@example.org",
		Projects: []ProjectChoice{{Name: "alpha"}},
	})
	require.NoError(t, err)
	require.NoError(t, engine.PreCheck(ctx, first.ID, "eve", nil))

	second, err := engine.Submit(ctx, SubmitRequest{
		FullName: "Eve Again", Email: "eve2@example.org",
		Projects: []ProjectChoice{{Name: "alpha"}},
	})
	require.NoError(t, err)

	err = engine.PreCheck(ctx, second.ID, "eve", nil)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestRejectNeverProvisioned(t *testing.T) {
	engine, store, _, notify := newTestEngine(t)
	ctx := context.Background()

	reg, err := engine.Submit(ctx, SubmitRequest{
		FullName: "Frank",
		Email:    "frank@example.org",
		Projects: []ProjectChoice{{Name: "gamma", New: true}},
	})
	require.NoError(t, err)

	require.NoError(t, engine.Reject(ctx, reg.ID, "incomplete application"))

	_, err = store.RegistrationByID(ctx, reg.ID)
	require.Error(t, err)
	_, err = store.ProjectByName(ctx, "gamma")
	require.Error(t, err)

	assert.Contains(t, notify.calls, "rejected:frank@example.org:[gamma]:incomplete application")
}

func TestRejectProvisionedKeepsRegistration(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	reg, err := engine.Submit(ctx, SubmitRequest{
		FullName: "Grace", Email: "grace@example.org",
		Projects: []ProjectChoice{{Name: "delta", New: true}},
	})
	require.NoError(t, err)
	require.NoError(t, engine.PreCheck(ctx, reg.ID, "grace", nil))
	require.NoError(t, engine.Approve(ctx, ApproveRequest{RegistrationID: reg.ID, Projects: []string{"delta"}}))

	// A later subscription request gets rejected; the provisioned
	// registration itself survives.
	require.NoError(t, store.CreateProject(ctx, &model.Project{Name: "epsilon", Status: model.ProjectPublic}))
	require.NoError(t, engine.RequestSubscription(ctx, SubscriptionRequest{
		RegistrationID: reg.ID,
		ProjectName:    "epsilon",
	}))
	require.NoError(t, engine.Reject(ctx, reg.ID, "not this one"))

	reg, err = store.RegistrationByID(ctx, reg.ID)
	require.NoError(t, err)
	assert.NotNil(t, reg.BackendUserID)
}
