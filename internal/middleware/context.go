package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/yourorg/chart-datafeed/internal/model"
)

// Context keys set by the middleware chain
const (
	ContextKeyRequestID = "requestID"
	ContextKeyPrincipal = "principal"
)

// RequestIDFrom returns the request id assigned by RequestID
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(ContextKeyRequestID)
}

// PrincipalFrom returns the authenticated caller, if any
func PrincipalFrom(c *gin.Context) (model.Principal, bool) {
	v, ok := c.Get(ContextKeyPrincipal)
	if !ok {
		return model.Principal{}, false
	}
	p, ok := v.(model.Principal)
	return p, ok
}
