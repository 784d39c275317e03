package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourorg/chart-datafeed/internal/config"
	"github.com/yourorg/chart-datafeed/internal/model"
)

// ErrInvalidAPIKey is returned when an API key matches none of the configured hashes
var ErrInvalidAPIKey = errors.New("invalid API key")

// TokenService issues and verifies access tokens for the datafeed API
type TokenService struct {
	cfg    config.AuthConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewTokenService creates a new token service
func NewTokenService(cfg config.AuthConfig, logger *zap.Logger) *TokenService {
	return &TokenService{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Enabled reports whether requests must be authenticated
func (s *TokenService) Enabled() bool {
	return s.cfg.Enabled
}

// APIKeyHeader returns the header carrying API keys
func (s *TokenService) APIKeyHeader() string {
	return s.cfg.APIKeyHeader
}

// VerifyAPIKey checks a key against the configured bcrypt hashes and returns
// the principal it identifies
func (s *TokenService) VerifyAPIKey(apiKey string) (model.Principal, error) {
	if apiKey == "" {
		return model.Principal{}, ErrInvalidAPIKey
	}

	for i, hash := range s.cfg.APIKeyHashes {
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(apiKey)); err == nil {
			return model.Principal{Subject: fmt.Sprintf("api-key-%d", i)}, nil
		}
	}

	return model.Principal{}, ErrInvalidAPIKey
}

// GenerateToken creates a signed access token for the subject, optionally
// limited to a set of charts
func (s *TokenService) GenerateToken(subject string, chartIDs []string) (*model.TokenResponse, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTokenDuration)

	claims := jwt.MapClaims{
		"sub":  subject,
		"exp":  expiresAt.Unix(),
		"iat":  now.Unix(),
		"type": model.TokenType,
	}
	if len(chartIDs) > 0 {
		claims["chart_ids"] = chartIDs
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		s.logger.Error("failed to sign access token", zap.Error(err))
		return nil, err
	}

	return &model.TokenResponse{
		AccessToken: signed,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
	}, nil
}

// ValidateToken validates a JWT token and returns its principal
func (s *TokenService) ValidateToken(tokenString string) (model.Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return model.Principal{}, err
	}

	if !token.Valid {
		return model.Principal{}, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return model.Principal{}, errors.New("invalid claims")
	}

	// Check token type
	tokenType, ok := claims["type"].(string)
	if !ok || tokenType != model.TokenType {
		return model.Principal{}, errors.New("invalid token type")
	}

	subject, ok := claims["sub"].(string)
	if !ok || subject == "" {
		return model.Principal{}, errors.New("invalid subject in token")
	}

	principal := model.Principal{Subject: subject}
	if raw, ok := claims["chart_ids"].([]interface{}); ok {
		for _, v := range raw {
			id, ok := v.(string)
			if !ok {
				return model.Principal{}, errors.New("invalid chart scope in token")
			}
			principal.ChartIDs = append(principal.ChartIDs, id)
		}
	}

	return principal, nil
}
