package middleware

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"lukechampine.com/blake3"

	"github.com/use-agent/lnfetch/models"
)

// CallerKey is the gin context key holding the authenticated caller id.
const CallerKey = "caller"

// Auth returns API-key authentication middleware. A key is accepted from
// X-API-Key or Authorization: Bearer. Keys are compared by digest in constant
// time, and only a short digest prefix is exposed downstream as the caller id.
//
// If apiKeys is empty, the middleware is a no-op (open access).
func Auth(apiKeys []string) gin.HandlerFunc {
	var digests [][32]byte
	for _, k := range apiKeys {
		if k != "" {
			digests = append(digests, blake3.Sum256([]byte(k)))
		}
	}
	if len(digests) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		key := extractAPIKey(c)
		if key == "" {
			abort(c, http.StatusUnauthorized, models.ErrCodeUnauthorized,
				"missing API key: provide X-API-Key header or Authorization: Bearer <key>")
			return
		}

		sum := blake3.Sum256([]byte(key))
		match := 0
		for i := range digests {
			match |= subtle.ConstantTimeCompare(sum[:], digests[i][:])
		}
		if match != 1 {
			abort(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "invalid API key")
			return
		}

		c.Set(CallerKey, "key:"+hex.EncodeToString(sum[:6]))
		c.Next()
	}
}

// caller identifies the requester for rate limiting: the authenticated key
// digest when present, the client IP otherwise.
func caller(c *gin.Context) string {
	if id := c.GetString(CallerKey); id != "" {
		return id
	}
	return "ip:" + c.ClientIP()
}

// extractAPIKey tries X-API-Key first, then Authorization: Bearer.
func extractAPIKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// abort stops the chain with the same error envelope the handlers use.
func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   models.ErrorDetail{Code: code, Message: msg},
	})
}
