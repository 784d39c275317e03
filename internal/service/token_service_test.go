package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourorg/chart-datafeed/internal/config"
)

const testSecret = "test-secret-0123456789"

func newTestTokenService(t *testing.T, keys ...string) *TokenService {
	t.Helper()
	hashes := make([]string, 0, len(keys))
	for _, k := range keys {
		h, err := bcrypt.GenerateFromPassword([]byte(k), bcrypt.MinCost)
		require.NoError(t, err)
		hashes = append(hashes, string(h))
	}
	return NewTokenService(config.AuthConfig{
		Enabled:             true,
		JWTSecret:           testSecret,
		AccessTokenDuration: time.Minute,
		APIKeyHeader:        "X-API-Key",
		APIKeyHashes:        hashes,
	}, zap.NewNop())
}

func TestTokenService_VerifyAPIKey(t *testing.T) {
	s := newTestTokenService(t, "first-key", "second-key")

	p, err := s.VerifyAPIKey("second-key")
	require.NoError(t, err)
	assert.Equal(t, "api-key-1", p.Subject)

	_, err = s.VerifyAPIKey("wrong")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	_, err = s.VerifyAPIKey("")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestTokenService_RoundTrip(t *testing.T) {
	s := newTestTokenService(t)

	resp, err := s.GenerateToken("api-key-0", []string{"btc", "eth"})
	require.NoError(t, err)
	assert.Equal(t, "bearer", resp.TokenType)
	assert.NotEmpty(t, resp.AccessToken)

	p, err := s.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "api-key-0", p.Subject)
	assert.Equal(t, []string{"btc", "eth"}, p.ChartIDs)
	assert.True(t, p.CanAccessChart("eth"))
	assert.False(t, p.CanAccessChart("sol"))
}

func TestTokenService_UnscopedTokenAllowsAnyChart(t *testing.T) {
	s := newTestTokenService(t)

	resp, err := s.GenerateToken("api-key-0", nil)
	require.NoError(t, err)

	p, err := s.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Empty(t, p.ChartIDs)
	assert.True(t, p.CanAccessChart("anything"))
}

func TestTokenService_RejectsBadTokens(t *testing.T) {
	s := newTestTokenService(t)

	expired := newTestTokenService(t)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := expired.GenerateToken("api-key-0", nil)
	require.NoError(t, err)

	wrongType, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "api-key-0",
		"exp":  time.Now().Add(time.Minute).Unix(),
		"type": "refresh",
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	otherSecret, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "api-key-0",
		"exp":  time.Now().Add(time.Minute).Unix(),
		"type": "access",
	}).SignedString([]byte("another-secret-0123456789"))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub":  "api-key-0",
		"type": "access",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", old.AccessToken},
		{"wrong type", wrongType},
		{"wrong secret", otherSecret},
		{"none algorithm", unsigned},
		{"garbage", "not-a-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ValidateToken(tt.token)
			assert.Error(t, err)
		})
	}
}
