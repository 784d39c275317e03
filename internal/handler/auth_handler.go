package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourorg/chart-datafeed/internal/model"
	"github.com/yourorg/chart-datafeed/internal/service"
	"github.com/yourorg/chart-datafeed/internal/utils"
	"github.com/yourorg/chart-datafeed/internal/validator"
)

// AuthHandler handles token requests
type AuthHandler struct {
	tokenService *service.TokenService
	logger       *zap.Logger
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(tokenService *service.TokenService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		tokenService: tokenService,
		logger:       logger,
	}
}

// IssueToken exchanges a valid API key for an access token, optionally
// scoped to a list of charts
// POST /api/v1/auth/token
func (h *AuthHandler) IssueToken(c *gin.Context) {
	principal, err := h.tokenService.VerifyAPIKey(c.GetHeader(h.tokenService.APIKeyHeader()))
	if err != nil {
		h.logger.Debug("token request rejected", zap.String("client_ip", c.ClientIP()))
		utils.SendErrorResponse(c, http.StatusUnauthorized, "Invalid API key")
		return
	}

	var request model.TokenRequest
	if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		utils.SendDatafeedError(c, model.NewValidationError(err.Error(), "body"))
		return
	}

	for _, id := range request.ChartIDs {
		if _, err := validator.ValidateIdentifier(id, "chartIds"); err != nil {
			utils.SendDatafeedError(c, err)
			return
		}
	}

	response, err := h.tokenService.GenerateToken(principal.Subject, request.ChartIDs)
	if err != nil {
		utils.SendErrorResponse(c, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	h.logger.Info("access token issued",
		zap.String("subject", principal.Subject),
		zap.Strings("chartIds", request.ChartIDs))

	c.JSON(http.StatusOK, response)
}
