package middleware

import (
	"strings"

	"callmesh/internal/core/services"
	apperrors "callmesh/pkg/errors"

	"github.com/gin-gonic/gin"
)

// PeerIDKey is the gin context key holding the authenticated peer id.
const PeerIDKey = "peer_id"

// AuthMiddleware requires a peer token. Browsers cannot set headers on a
// websocket upgrade, so the token may also come as the "token" query value.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			_ = c.Error(apperrors.Wrap(err, apperrors.CodeUnauthorized, err.Error()))
			c.Abort()
			return
		}

		c.Set(PeerIDKey, claims.PeerID())
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, error) {
	if token := c.Query("token"); token != "" {
		return token, nil
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", apperrors.Unauthorized("authorization token required")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", apperrors.Unauthorized("invalid authorization header format")
	}
	return parts[1], nil
}
