package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nimbus-lab/nimbus/dao"
	"github.com/nimbus-lab/nimbus/dao/model"
	"github.com/nimbus-lab/nimbus/internal/resputil"
	"github.com/nimbus-lab/nimbus/pkg/workflow"
)

//nolint:gochecknoinits // This is the standard way to register a gin handler.
func init() {
	Registers = append(Registers, NewRegistrationMgr)
}

type RegistrationMgr struct {
	name   string
	store  dao.Store
	engine *workflow.Engine
}

func NewRegistrationMgr(conf *RegisterConfig) Manager {
	return &RegistrationMgr{
		name:   "registrations",
		store:  conf.Store,
		engine: conf.Engine,
	}
}

func (mgr *RegistrationMgr) GetName() string { return mgr.name }

func (mgr *RegistrationMgr) RegisterPublic(g *gin.RouterGroup) {
	g.POST("", mgr.Submit)
}

func (mgr *RegistrationMgr) RegisterProtected(_ *gin.RouterGroup) {}

func (mgr *RegistrationMgr) RegisterAdmin(g *gin.RouterGroup) {
	g.GET("", mgr.List)
	g.GET("/:id", mgr.Get)
	g.POST("/:id/precheck", mgr.PreCheck)
	g.POST("/:id/approve", mgr.Approve)
	g.POST("/:id/reject", mgr.Reject)
}

type (
	ProjectChoiceReq struct {
		Name        string              `json:"name" binding:"required"`
		New         bool                `json:"new"`
		Description string              `json:"description"`
		Visibility  model.ProjectStatus `json:"visibility"`
	}
	SubmitReq struct {
		ExternalID   *string            `json:"externalID"`
		Password     string             `json:"password"`
		FullName     string             `json:"fullName" binding:"required"`
		Organization string             `json:"organization"`
		Phone        string             `json:"phone"`
		Domain       string             `json:"domain"`
		Region       string             `json:"region"`
		Email        string             `json:"email" binding:"required,email"`
		Projects     []ProjectChoiceReq `json:"projects"`
		Notes        string             `json:"notes"`
	}
	SubmitResp struct {
		RegistrationID uint `json:"registrationID"`
	}
)

func (mgr *RegistrationMgr) Submit(c *gin.Context) {
	var req SubmitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	choices := make([]workflow.ProjectChoice, len(req.Projects))
	for i, p := range req.Projects {
		choices[i] = workflow.ProjectChoice{
			Name:        p.Name,
			New:         p.New,
			Description: p.Description,
			Visibility:  p.Visibility,
		}
	}
	reg, err := mgr.engine.Submit(c, workflow.SubmitRequest{
		ExternalID:   req.ExternalID,
		Password:     req.Password,
		FullName:     req.FullName,
		Organization: req.Organization,
		Phone:        req.Phone,
		Domain:       req.Domain,
		Region:       req.Region,
		Email:        req.Email,
		Projects:     choices,
		Notes:        req.Notes,
	})
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	resputil.Success(c, SubmitResp{RegistrationID: reg.ID})
}

type RegistrationResp struct {
	ID           uint           `json:"id"`
	Username     *string        `json:"username"`
	FullName     string         `json:"fullName"`
	Organization string         `json:"organization"`
	State        workflow.State `json:"state"`
	Provisioned  bool           `json:"provisioned"`
	ExpiresAt    *time.Time     `json:"expiresAt"`
	CreatedAt    time.Time      `json:"createdAt"`
}

func (mgr *RegistrationMgr) toResp(c *gin.Context, reg *model.Registration) (RegistrationResp, error) {
	regReqs, err := mgr.store.RegRequestsFor(c, reg.ID)
	if err != nil {
		return RegistrationResp{}, err
	}
	prjReqs, err := mgr.store.ProjectRequestsFor(c, reg.ID)
	if err != nil {
		return RegistrationResp{}, err
	}
	return RegistrationResp{
		ID:           reg.ID,
		Username:     reg.Username,
		FullName:     reg.FullName,
		Organization: reg.Organization,
		State:        workflow.DeriveState(reg, regReqs, prjReqs),
		Provisioned:  reg.BackendUserID != nil,
		ExpiresAt:    reg.ExpiresAt,
		CreatedAt:    reg.CreatedAt,
	}, nil
}

func (mgr *RegistrationMgr) List(c *gin.Context) {
	regs, err := mgr.store.Registrations(c)
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	resp := make([]RegistrationResp, 0, len(regs))
	for i := range regs {
		r, err := mgr.toResp(c, &regs[i])
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		resp = append(resp, r)
	}
	resputil.Success(c, resp)
}

type RegistrationDetailResp struct {
	RegistrationResp
	Requests        []RegRequestResp     `json:"requests"`
	ProjectRequests []ProjectRequestResp `json:"projectRequests"`
}

type RegRequestResp struct {
	ID         uint                `json:"id"`
	ExternalID *string             `json:"externalID"`
	Email      string              `json:"email"`
	Status     model.RequestStatus `json:"status"`
	Content    model.RequestContent `json:"content"`
}

type ProjectRequestResp struct {
	ID      uint                       `json:"id"`
	Project string                     `json:"project"`
	Status  model.ProjectRequestStatus `json:"status"`
	Notes   string                     `json:"notes"`
}

func (mgr *RegistrationMgr) Get(c *gin.Context) {
	var uri struct {
		ID uint `uri:"id" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	reg, err := mgr.store.RegistrationByID(c, uri.ID)
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	base, err := mgr.toResp(c, reg)
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	regReqs, err := mgr.store.RegRequestsFor(c, reg.ID)
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	prjReqs, err := mgr.store.ProjectRequestsFor(c, reg.ID)
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	detail := RegistrationDetailResp{RegistrationResp: base}
	for i := range regReqs {
		detail.Requests = append(detail.Requests, RegRequestResp{
			ID:         regReqs[i].ID,
			ExternalID: regReqs[i].ExternalID,
			Email:      regReqs[i].Email,
			Status:     regReqs[i].Status,
			Content:    regReqs[i].Content.Data(),
		})
	}
	for i := range prjReqs {
		detail.ProjectRequests = append(detail.ProjectRequests, ProjectRequestResp{
			ID:      prjReqs[i].ID,
			Project: prjReqs[i].Project.Name,
			Status:  prjReqs[i].Status,
			Notes:   prjReqs[i].Notes,
		})
	}
	resputil.Success(c, detail)
}

type PreCheckReq struct {
	Username  string     `json:"username" binding:"required"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

func (mgr *RegistrationMgr) PreCheck(c *gin.Context) {
	var uri struct {
		ID uint `uri:"id" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	var req PreCheckReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.engine.PreCheck(c, uri.ID, req.Username, req.ExpiresAt); err != nil {
		respondWorkflowError(c, err)
		return
	}
	resputil.Success(c, "")
}

type ApproveReq struct {
	ExternalIDs []string `json:"externalIDs"`
	Projects    []string `json:"projects"`
	RoleID      string   `json:"roleID"`
	Username    *string  `json:"username"`
}

func (mgr *RegistrationMgr) Approve(c *gin.Context) {
	var uri struct {
		ID uint `uri:"id" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	var req ApproveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	err := mgr.engine.Approve(c, workflow.ApproveRequest{
		RegistrationID: uri.ID,
		ExternalIDs:    req.ExternalIDs,
		Projects:       req.Projects,
		RoleID:         req.RoleID,
		Username:       req.Username,
	})
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	resputil.Success(c, "")
}

type RejectReq struct {
	Reason string `json:"reason"`
}

func (mgr *RegistrationMgr) Reject(c *gin.Context) {
	var uri struct {
		ID uint `uri:"id" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	var req RejectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.engine.Reject(c, uri.ID, req.Reason); err != nil {
		respondWorkflowError(c, err)
		return
	}
	resputil.Success(c, "")
}
