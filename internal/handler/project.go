package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/nimbus-lab/nimbus/dao"
	"github.com/nimbus-lab/nimbus/dao/model"
	"github.com/nimbus-lab/nimbus/internal/resputil"
	"github.com/nimbus-lab/nimbus/pkg/workflow"
)

//nolint:gochecknoinits // This is the standard way to register a gin handler.
func init() {
	Registers = append(Registers, NewProjectMgr)
}

type ProjectMgr struct {
	name  string
	store dao.Store
}

func NewProjectMgr(conf *RegisterConfig) Manager {
	return &ProjectMgr{
		name:  "projects",
		store: conf.Store,
	}
}

func (mgr *ProjectMgr) GetName() string { return mgr.name }

func (mgr *ProjectMgr) RegisterPublic(_ *gin.RouterGroup) {}

func (mgr *ProjectMgr) RegisterProtected(g *gin.RouterGroup) {
	g.GET("", mgr.List)
}

func (mgr *ProjectMgr) RegisterAdmin(g *gin.RouterGroup) {
	g.POST("", mgr.Create)
	g.PUT("/:id/visibility", mgr.SetVisibility)
}

type ProjectResp struct {
	ID          uint                `json:"id"`
	Name        string              `json:"name"`
	Description *string             `json:"description"`
	Status      model.ProjectStatus `json:"status"`
	Provisioned bool                `json:"provisioned"`
}

func (mgr *ProjectMgr) List(c *gin.Context) {
	prjs, err := mgr.store.Projects(c)
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	resputil.Success(c, lo.Map(prjs, func(p model.Project, _ int) ProjectResp {
		return ProjectResp{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Status:      p.Status,
			Provisioned: p.BackendProjectID != nil,
		}
	}))
}

type CreateProjectReq struct {
	Name        string              `json:"name" binding:"required"`
	Description string              `json:"description"`
	Status      model.ProjectStatus `json:"status"`
}

func (mgr *ProjectMgr) Create(c *gin.Context) {
	var req CreateProjectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	status := req.Status
	if status == "" {
		status = model.ProjectPrivate
	}
	prj := &model.Project{Name: req.Name, Status: status}
	if req.Description != "" {
		prj.Description = &req.Description
	}
	err := mgr.store.Transaction(c, func(tx dao.Store) error {
		if status == model.ProjectGuest {
			if err := mgr.requireNoGuest(c, tx, 0); err != nil {
				return err
			}
		}
		return tx.CreateProject(c, prj)
	})
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	resputil.Success(c, ProjectResp{ID: prj.ID, Name: prj.Name, Description: prj.Description, Status: prj.Status})
}

type VisibilityReq struct {
	Status model.ProjectStatus `json:"status" binding:"required"`
}

func (mgr *ProjectMgr) SetVisibility(c *gin.Context) {
	var uri struct {
		ID uint `uri:"id" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	var req VisibilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	err := mgr.store.Transaction(c, func(tx dao.Store) error {
		prj, txErr := tx.ProjectByID(c, uri.ID)
		if txErr != nil {
			return txErr
		}
		if prj.Status == model.ProjectGuest {
			return workflow.Validationf("the guest project cannot change visibility")
		}
		if req.Status == model.ProjectGuest {
			if err := mgr.requireNoGuest(c, tx, prj.ID); err != nil {
				return err
			}
		}
		prj.Status = req.Status
		return tx.SaveProject(c, prj)
	})
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	resputil.Success(c, "")
}

// requireNoGuest enforces the single guest project invariant inside the
// caller's transaction.
func (mgr *ProjectMgr) requireNoGuest(c *gin.Context, tx dao.Store, exceptID uint) error {
	guest, err := tx.GuestProject(c)
	if err != nil {
		return err
	}
	if guest != nil && guest.ID != exceptID {
		return workflow.Validationf("project %s is already the guest project", guest.Name)
	}
	return nil
}
