package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/nimbus-lab/nimbus/dao"
	"github.com/nimbus-lab/nimbus/pkg/gateway"
	"github.com/nimbus-lab/nimbus/pkg/workflow"
)

type Manager interface {
	GetName() string
	RegisterPublic(group *gin.RouterGroup)
	RegisterProtected(group *gin.RouterGroup)
	RegisterAdmin(group *gin.RouterGroup)
}

// RegisterConfig carries the shared dependencies handed to every manager
// constructor.
type RegisterConfig struct {
	Store   dao.Store
	Engine  *workflow.Engine
	Gateway gateway.Interface
}

type Register func(conf *RegisterConfig) Manager

// Registers collects manager constructors; each handler file appends its own
// in init().
var Registers []Register
