package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nimbus-lab/nimbus/internal/resputil"
	"github.com/nimbus-lab/nimbus/pkg/gateway"
	"github.com/nimbus-lab/nimbus/pkg/workflow"
)

// respondWorkflowError maps the workflow error taxonomy onto response codes.
func respondWorkflowError(c *gin.Context, err error) {
	switch {
	case workflow.IsValidation(err):
		resputil.Error(c, err.Error(), resputil.InvalidRequest)
	case errors.Is(err, workflow.ErrInvalidState):
		resputil.Error(c, err.Error(), resputil.InvalidState)
	case gateway.IsUnavailable(err):
		resputil.Error(c, err.Error(), resputil.BackendUnavailable)
	case gateway.IsRejected(err):
		resputil.Error(c, err.Error(), resputil.BackendRejected)
	case errors.Is(err, gorm.ErrRecordNotFound):
		resputil.Error(c, "not found", resputil.InvalidRequest)
	default:
		resputil.Error(c, err.Error(), resputil.NotSpecified)
	}
}
