package resputil

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"
)

type Response[T any] struct {
	Code ErrorCode `json:"code"`
	Data T         `json:"data"`
	Msg  string    `json:"msg"`
}

// Success responds 200 with the envelope all endpoints share.
func Success[T any](c *gin.Context, data T) {
	c.JSON(http.StatusOK, Response[T]{
		Code: OK,
		Data: data,
		Msg:  "",
	})
}

// Error responds 200 with a business error code; transport-level failures use
// HTTPError instead.
func Error(c *gin.Context, msg string, code ErrorCode) {
	klog.Infof("response error: %s (%d)", msg, code)
	c.JSON(http.StatusOK, Response[any]{
		Code: code,
		Data: nil,
		Msg:  msg,
	})
}

func HTTPError(c *gin.Context, statusCode int, msg string, code ErrorCode) {
	klog.Infof("response error: %s (%d)", msg, code)
	c.JSON(statusCode, Response[any]{
		Code: code,
		Data: nil,
		Msg:  msg,
	})
}

func BadRequestError(c *gin.Context, msg string) {
	HTTPError(c, http.StatusBadRequest, msg, InvalidRequest)
}

func Errorf(c *gin.Context, format string, args ...any) {
	Error(c, fmt.Sprintf(format, args...), NotSpecified)
}
