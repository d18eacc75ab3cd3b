package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClientTokenMiddleware accepts a request carrying one of tokens as a Bearer
// token or in the x-api-key header. An empty token list lets every request
// through.
func ClientTokenMiddleware(tokens []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(tokens) == 0 {
			c.Next()
			return
		}

		var token string
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				token = strings.TrimSpace(parts[1])
			}
		}
		if token == "" {
			token = c.GetHeader("x-api-key")
		}

		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "API token is required"})
			return
		}
		if !anyEqual(token, tokens) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "Invalid API token"})
			return
		}
		c.Next()
	}
}

// AdminAuthMiddleware requires basic auth as user "admin". With no password
// configured the admin surface is closed.
func AdminAuthMiddleware(adminPassword string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, password, hasAuth := c.Request.BasicAuth()
		if adminPassword == "" || !hasAuth || user != "admin" ||
			subtle.ConstantTimeCompare([]byte(password), []byte(adminPassword)) != 1 {
			c.Header("WWW-Authenticate", `Basic realm="Restricted"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

func anyEqual(token string, tokens []string) bool {
	found := 0
	for _, t := range tokens {
		found |= subtle.ConstantTimeCompare([]byte(token), []byte(t))
	}
	return found == 1
}
