package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nimbus-lab/nimbus/dao"
	"github.com/nimbus-lab/nimbus/internal/resputil"
	"github.com/nimbus-lab/nimbus/pkg/gateway"
	"github.com/nimbus-lab/nimbus/pkg/workflow"
)

//nolint:gochecknoinits // This is the standard way to register a gin handler.
func init() {
	Registers = append(Registers, NewMemberMgr)
}

// MemberMgr is the project managers' view of a project's memberships:
// expirations, demotion, promotion proposals. Authorization happens in the
// workflow engine, which accepts platform admins and project managers.
type MemberMgr struct {
	name   string
	store  dao.Store
	engine *workflow.Engine
	gw     gateway.Interface
}

func NewMemberMgr(conf *RegisterConfig) Manager {
	return &MemberMgr{
		name:   "members",
		store:  conf.Store,
		engine: conf.Engine,
		gw:     conf.Gateway,
	}
}

func (mgr *MemberMgr) GetName() string { return mgr.name }

func (mgr *MemberMgr) RegisterPublic(_ *gin.RouterGroup) {}

func (mgr *MemberMgr) RegisterProtected(g *gin.RouterGroup) {
	g.GET("/:projectID/assignments", mgr.Assignments)
	g.PUT("/:projectID/:registrationID/expiration", mgr.ModifyExpiration)
	g.POST("/:projectID/:registrationID/demote", mgr.Demote)
	g.POST("/:projectID/:registrationID/propose-admin", mgr.ProposeAdmin)
}

func (mgr *MemberMgr) RegisterAdmin(_ *gin.RouterGroup) {}

type memberURI struct {
	ProjectID      uint `uri:"projectID" binding:"required"`
	RegistrationID uint `uri:"registrationID" binding:"required"`
}

// Assignments lists the backend role assignments of the project, straight
// from the gateway. The console never caches them.
func (mgr *MemberMgr) Assignments(c *gin.Context) {
	var uri struct {
		ProjectID uint `uri:"projectID" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	prj, err := mgr.store.ProjectByID(c, uri.ProjectID)
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	if prj.BackendProjectID == nil {
		resputil.Error(c, "project is not provisioned", resputil.InvalidRequest)
		return
	}
	assignments, err := mgr.gw.ListRoleAssignments(c, *prj.BackendProjectID, "")
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	resputil.Success(c, assignments)
}

type ModifyExpirationReq struct {
	ExpiresAt time.Time `json:"expiresAt" binding:"required"`
}

func (mgr *MemberMgr) ModifyExpiration(c *gin.Context) {
	var uri memberURI
	if err := c.ShouldBindUri(&uri); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	var req ModifyExpirationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.engine.ModifyExpiration(c, actorFrom(c), uri.RegistrationID, uri.ProjectID, req.ExpiresAt); err != nil {
		respondWorkflowError(c, err)
		return
	}
	resputil.Success(c, "")
}

func (mgr *MemberMgr) Demote(c *gin.Context) {
	var uri memberURI
	if err := c.ShouldBindUri(&uri); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.engine.Demote(c, actorFrom(c), uri.RegistrationID, uri.ProjectID); err != nil {
		respondWorkflowError(c, err)
		return
	}
	resputil.Success(c, "")
}

func (mgr *MemberMgr) ProposeAdmin(c *gin.Context) {
	var uri memberURI
	if err := c.ShouldBindUri(&uri); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.engine.ProposeAdmin(c, actorFrom(c), uri.RegistrationID, uri.ProjectID); err != nil {
		respondWorkflowError(c, err)
		return
	}
	resputil.Success(c, "")
}
