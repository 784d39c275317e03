package model

import "time"

// TokenType is the only token type issued by the datafeed
const TokenType = "access"

// TokenRequest is the optional body of POST /api/v1/auth/token. An empty
// chart list grants access to every chart.
type TokenRequest struct {
	ChartIDs []string `json:"chartIds"`
}

// TokenResponse is sent after a successful API key exchange
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Principal is the authenticated caller of a request
type Principal struct {
	Subject  string
	ChartIDs []string
}

// CanAccessChart reports whether the principal is scoped to the chart
func (p Principal) CanAccessChart(chartID string) bool {
	if len(p.ChartIDs) == 0 {
		return true
	}
	for _, id := range p.ChartIDs {
		if id == chartID {
			return true
		}
	}
	return false
}
