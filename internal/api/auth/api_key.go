package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderAPIKey carries the api key of every admin request.
const HeaderAPIKey = "X-API-Key"

// APIKeyProvider protects routes with a static api key.
type APIKeyProvider struct {
	apiKey string
}

// NewAPIKeyProvider creates a new API key authentication provider.
func NewAPIKeyProvider(apiKey string) *APIKeyProvider {
	return &APIKeyProvider{
		apiKey: apiKey,
	}
}

// RequireAuth returns a middleware that rejects requests without the configured api key.
func (ap *APIKeyProvider) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderAPIKey)
		if ap.apiKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(ap.apiKey)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			c.Abort()
			return
		}
		c.Next()
	}
}
