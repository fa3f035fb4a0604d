package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/odyssey-auth/internal/models"
	"github.com/noah-isme/odyssey-auth/internal/service"
	appErrors "github.com/noah-isme/odyssey-auth/pkg/errors"
	"github.com/noah-isme/odyssey-auth/pkg/response"
)

// ContextUserKey is the gin context key storing the authenticated user.
const ContextUserKey = "currentUser"

// BearerToken extracts the bearer credential from the Authorization header,
// distinguishing a missing header from a malformed one.
func BearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", appErrors.ErrMissingAuthHeader
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", appErrors.ErrMissingToken
	}

	return parts[1], nil
}

// Authenticate protects routes by requiring a valid access token. The token
// is decoded and the account is re-resolved against the user directory on
// every request, so a deactivated account is rejected even while its access
// token is still within expiry.
func Authenticate(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := BearerToken(c)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		user, err := authService.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// UserFromContext returns the authenticated user attached by Authenticate.
func UserFromContext(c *gin.Context) *models.User {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}
