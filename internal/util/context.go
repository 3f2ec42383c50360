package util

import (
	"github.com/gin-gonic/gin"

	"github.com/nimbus-lab/nimbus/dao/model"
)

const jwtContextKey = "nimbus-jwt"

func SetJWTContext(c *gin.Context, msg JWTMessage) {
	c.Set(jwtContextKey, msg)
}

// GetToken returns the JWT message stored by the auth middleware. Calling it
// on an unauthenticated route yields the zero message (guest).
func GetToken(c *gin.Context) JWTMessage {
	if v, ok := c.Get(jwtContextKey); ok {
		if msg, ok := v.(JWTMessage); ok {
			return msg
		}
	}
	return JWTMessage{RolePlatform: model.RoleGuest}
}
