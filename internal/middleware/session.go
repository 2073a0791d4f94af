package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/examify/examify-backend/internal/response"
	"github.com/examify/examify-backend/internal/service"
)

// CheckSingleDeviceSession rejects student tokens whose JTI no longer
// matches the active session in Redis. A second login replaces the first
// device; this is what invalidates the old token. Teacher tokens pass
// through untouched.
func CheckSingleDeviceSession(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if claims.TokenType != service.TokenTypeStudent {
			c.Next()
			return
		}

		err := authService.ValidateStudentSession(c.Request.Context(), claims.UserID, claims.ID)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}
		c.Next()
	}
}
