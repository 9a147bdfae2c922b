package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// NoStore marks responses that change while a session progresses.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// PrivateCache lets the browser keep immutable per-candidate documents.
func PrivateCache(maxAgeSeconds int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", fmt.Sprintf("private, max-age=%d", maxAgeSeconds))
		c.Next()
	}
}
