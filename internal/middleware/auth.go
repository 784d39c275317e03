package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourorg/chart-datafeed/internal/model"
	"github.com/yourorg/chart-datafeed/internal/service"
	"github.com/yourorg/chart-datafeed/internal/utils"
)

// AccessTokenQueryParam carries a token for clients that cannot set headers,
// such as browser WebSocket connections
const AccessTokenQueryParam = "access_token"

// AuthMiddleware authenticates requests with an API key or a Bearer token.
// When the route has a :chartId parameter the principal must be scoped to it.
// It is a no-op when authentication is disabled.
func AuthMiddleware(tokenService *service.TokenService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !tokenService.Enabled() {
			c.Next()
			return
		}

		principal, ok := authenticate(c, tokenService, logger)
		if !ok {
			return
		}

		if chartID := c.Param("chartId"); chartID != "" && !principal.CanAccessChart(chartID) {
			utils.SendErrorResponse(c, http.StatusForbidden, "Token is not valid for this chart")
			c.Abort()
			return
		}

		// Set principal in context
		c.Set(ContextKeyPrincipal, principal)
		c.Next()
	}
}

func authenticate(c *gin.Context, tokenService *service.TokenService, logger *zap.Logger) (model.Principal, bool) {
	if apiKey := c.GetHeader(tokenService.APIKeyHeader()); apiKey != "" {
		principal, err := tokenService.VerifyAPIKey(apiKey)
		if err != nil {
			logger.Debug("API key verification failed", zap.String("client_ip", c.ClientIP()))
			utils.SendErrorResponse(c, http.StatusUnauthorized, "Invalid API key")
			c.Abort()
			return model.Principal{}, false
		}
		return principal, true
	}

	tokenString := c.Query(AccessTokenQueryParam)
	if tokenString == "" {
		// Get the Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.SendErrorResponse(c, http.StatusUnauthorized, "Authorization header required")
			c.Abort()
			return model.Principal{}, false
		}

		// Check if it's a Bearer token
		headerParts := strings.Split(authHeader, " ")
		if len(headerParts) != 2 || headerParts[0] != "Bearer" {
			utils.SendErrorResponse(c, http.StatusUnauthorized, "Invalid authorization format")
			c.Abort()
			return model.Principal{}, false
		}
		tokenString = headerParts[1]
	}

	principal, err := tokenService.ValidateToken(tokenString)
	if err != nil {
		logger.Debug("token validation failed", zap.Error(err))
		utils.SendErrorResponse(c, http.StatusUnauthorized, "Invalid or expired token")
		c.Abort()
		return model.Principal{}, false
	}

	return principal, true
}
