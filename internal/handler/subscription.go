package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/nimbus-lab/nimbus/dao"
	"github.com/nimbus-lab/nimbus/dao/model"
	"github.com/nimbus-lab/nimbus/internal/resputil"
	"github.com/nimbus-lab/nimbus/internal/util"
	"github.com/nimbus-lab/nimbus/pkg/workflow"
)

//nolint:gochecknoinits // This is the standard way to register a gin handler.
func init() {
	Registers = append(Registers, NewSubscriptionMgr)
}

type SubscriptionMgr struct {
	name   string
	store  dao.Store
	engine *workflow.Engine
}

func NewSubscriptionMgr(conf *RegisterConfig) Manager {
	return &SubscriptionMgr{
		name:   "subscriptions",
		store:  conf.Store,
		engine: conf.Engine,
	}
}

func (mgr *SubscriptionMgr) GetName() string { return mgr.name }

func (mgr *SubscriptionMgr) RegisterPublic(_ *gin.RouterGroup) {}

func (mgr *SubscriptionMgr) RegisterProtected(g *gin.RouterGroup) {
	g.POST("", mgr.Request)
	g.GET("/memberships", mgr.MyMemberships)
	g.POST("/renewals/:projectID", mgr.AttemptRenewal)
	g.POST("/:id/decision", mgr.Decide)
}

func (mgr *SubscriptionMgr) RegisterAdmin(_ *gin.RouterGroup) {}

func actorFrom(c *gin.Context) workflow.Actor {
	token := util.GetToken(c)
	return workflow.Actor{
		UserID:   token.UserID,
		Username: token.Username,
		Admin:    token.RolePlatform == model.RoleAdmin,
	}
}

// registrationOf resolves the caller's registration through the shared
// username. Operators without a registration cannot act as subjects.
func (mgr *SubscriptionMgr) registrationOf(c *gin.Context) (*model.Registration, bool) {
	token := util.GetToken(c)
	reg, err := mgr.store.RegistrationByUsername(c, token.Username)
	if err != nil {
		resputil.Error(c, "no registration for this account", resputil.InvalidRequest)
		return nil, false
	}
	return reg, true
}

type SubscriptionReq struct {
	ProjectName string              `json:"projectName" binding:"required"`
	New         bool                `json:"new"`
	Description string              `json:"description"`
	Visibility  model.ProjectStatus `json:"visibility"`
	Notes       string              `json:"notes"`
}

func (mgr *SubscriptionMgr) Request(c *gin.Context) {
	var req SubscriptionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	reg, ok := mgr.registrationOf(c)
	if !ok {
		return
	}
	err := mgr.engine.RequestSubscription(c, workflow.SubscriptionRequest{
		RegistrationID: reg.ID,
		ProjectName:    req.ProjectName,
		New:            req.New,
		Description:    req.Description,
		Visibility:     req.Visibility,
		Notes:          req.Notes,
	})
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	resputil.Success(c, "")
}

type MembershipResp struct {
	ProjectID uint      `json:"projectID"`
	Project   string    `json:"project"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (mgr *SubscriptionMgr) MyMemberships(c *gin.Context) {
	reg, ok := mgr.registrationOf(c)
	if !ok {
		return
	}
	exps, err := mgr.store.ExpirationsFor(c, reg.ID)
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	resputil.Success(c, lo.Map(exps, func(e model.Expiration, _ int) MembershipResp {
		return MembershipResp{
			ProjectID: e.ProjectID,
			Project:   e.Project.Name,
			ExpiresAt: e.ExpiresAt,
		}
	}))
}

func (mgr *SubscriptionMgr) AttemptRenewal(c *gin.Context) {
	var uri struct {
		ProjectID uint `uri:"projectID" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.engine.AttemptRenewal(c, actorFrom(c), uri.ProjectID); err != nil {
		respondWorkflowError(c, err)
		return
	}
	resputil.Success(c, "")
}

type DecideReq struct {
	Approve bool `json:"approve"`
}

func (mgr *SubscriptionMgr) Decide(c *gin.Context) {
	var uri struct {
		ID uint `uri:"id" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	var req DecideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.engine.DecideSubscription(c, actorFrom(c), uri.ID, req.Approve); err != nil {
		respondWorkflowError(c, err)
		return
	}
	resputil.Success(c, "")
}
