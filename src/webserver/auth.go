package webserver

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenHeader = "X-Authorization-Token"
	subjectKey  = "subject"
)

// BackendAuth accepts either the shared secret in X-Authorization-Token or an
// HS256 bearer token signed with it.
func BackendAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tok := c.GetHeader(tokenHeader); tok != "" {
			if subtle.ConstantTimeCompare([]byte(tok), secret) != 1 {
				abortUnauthorized(c)
				return
			}
			c.Set(subjectKey, "token:"+c.ClientIP())
			c.Next()
			return
		}

		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			abortUnauthorized(c)
			return
		}
		tok, err := jwt.Parse(h[7:], func(t *jwt.Token) (interface{}, error) { return secret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !tok.Valid {
			abortUnauthorized(c)
			return
		}
		if sub, err := tok.Claims.GetSubject(); err == nil && sub != "" {
			c.Set(subjectKey, "jwt:"+sub)
		}
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}
