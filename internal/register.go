package internal

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/nimbus-lab/nimbus/internal/handler"
	"github.com/nimbus-lab/nimbus/internal/middleware"
)

// Register assembles the gin engine: health probe and the three route tiers
// every manager hangs its endpoints on.
func Register(conf *handler.RegisterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	managers := registerManagers(conf)

	publicRouter := r.Group("/v1")

	protectedRouter := r.Group("/v1")
	protectedRouter.Use(middleware.AuthProtected(conf.Store))

	adminRouter := r.Group("/v1/admin")
	adminRouter.Use(middleware.AuthProtected(conf.Store), middleware.AuthAdmin())

	for _, mgr := range managers {
		name := mgr.GetName()
		mgr.RegisterPublic(publicRouter.Group(name))
		mgr.RegisterProtected(protectedRouter.Group(name))
		mgr.RegisterAdmin(adminRouter.Group(name))
	}

	return r
}

// registerManagers registers all the managers.
func registerManagers(conf *handler.RegisterConfig) []handler.Manager {
	var managers []handler.Manager
	for _, register := range handler.Registers {
		manager := register(conf)
		managers = append(managers, manager)
		klog.Infof("Registered manager: %s", manager.GetName())
	}
	return managers
}
