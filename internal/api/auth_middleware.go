// internal/api/auth_middleware.go
package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/PickupDesk/internal/auth"
	"github.com/Corphon/PickupDesk/internal/services"
	"github.com/Corphon/PickupDesk/internal/utils"
)

const operatorIDKey = "operator_id"

// OperatorAuth requires an operator JWT, from the Authorization header or, for
// browser websockets that cannot set headers, the access_token query parameter.
func OperatorAuth(tokenConfig *auth.TokenConfig, rh *ResponseHelper, logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			rh.Unauthorized(c, "operator credentials required")
			c.Abort()
			return
		}

		token, err := auth.ParseToken(raw, tokenConfig)
		if err != nil {
			logger.Warn("operator token rejected", map[string]interface{}{
				"error":      err.Error(),
				"path":       c.Request.URL.Path,
				"request_id": c.GetString(requestIDKey),
			})
			rh.Unauthorized(c, "invalid operator credentials")
			c.Abort()
			return
		}

		c.Set(operatorIDKey, token.OperatorID)
		c.Request = c.Request.WithContext(services.WithOperator(c.Request.Context(), token.OperatorID))
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
			return strings.TrimSpace(header[7:])
		}
		return ""
	}
	return strings.TrimSpace(c.Query("access_token"))
}

// GetOperatorFromContext returns the operator the request was authenticated as
func GetOperatorFromContext(c *gin.Context) (string, bool) {
	id := c.GetString(operatorIDKey)
	return id, id != ""
}
