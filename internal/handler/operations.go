package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/nimbus-lab/nimbus/internal/resputil"
	"github.com/nimbus-lab/nimbus/pkg/config"
	"github.com/nimbus-lab/nimbus/pkg/cronjob"
	"github.com/nimbus-lab/nimbus/pkg/workflow"
)

//nolint:gochecknoinits // This is the standard way to register a gin handler.
func init() {
	Registers = append(Registers, NewOperationsMgr)
}

// OperationsMgr exposes the housekeeping sweeps as admin endpoints, mirroring
// the cron entry points for out-of-schedule runs.
type OperationsMgr struct {
	name   string
	engine *workflow.Engine
	runner workflow.ScriptRunner
}

func NewOperationsMgr(conf *RegisterConfig) Manager {
	return &OperationsMgr{
		name:   "operations",
		engine: conf.Engine,
		runner: cronjob.NewScriptRunner(),
	}
}

func (mgr *OperationsMgr) GetName() string { return mgr.name }

func (mgr *OperationsMgr) RegisterPublic(_ *gin.RouterGroup) {}

func (mgr *OperationsMgr) RegisterProtected(_ *gin.RouterGroup) {}

func (mgr *OperationsMgr) RegisterAdmin(g *gin.RouterGroup) {
	g.POST("/sweeps/:name", mgr.RunSweep)
}

func (mgr *OperationsMgr) RunSweep(c *gin.Context) {
	var uri struct {
		Name string `uri:"name" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}

	conf := config.GetConfig()
	var err error
	switch uri.Name {
	case "expiration-scan":
		err = mgr.engine.ExpirationScan(c)
	case "renewal-issuance":
		err = mgr.engine.ScheduleRenewals(c, 0)
	case "orphan-sweep":
		err = mgr.engine.ScheduleBan(c)
	case "ban":
		if conf.Registry.DisableScript == "" {
			resputil.Error(c, "no disable script configured", resputil.InvalidRequest)
			return
		}
		err = mgr.engine.BanUsers(c, mgr.runner, conf.Registry.DisableScript)
	case "unban":
		if conf.Registry.EnableScript == "" {
			resputil.Error(c, "no enable script configured", resputil.InvalidRequest)
			return
		}
		err = mgr.engine.AllowUsers(c, mgr.runner, conf.Registry.EnableScript)
	case "pending-reminder":
		err = mgr.engine.PendingReminder(c)
	default:
		resputil.Error(c, "unknown sweep "+uri.Name, resputil.InvalidRequest)
		return
	}
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	resputil.Success(c, "")
}
