package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
)

type CorsHandler struct {
	allowedOrigins []string
}

// NewCorsHandler allows every origin when none are given.
func NewCorsHandler(allowedOrigins ...string) *CorsHandler {
	return &CorsHandler{allowedOrigins: allowedOrigins}
}

func (h *CorsHandler) allowOrigin(origin string) string {
	if len(h.allowedOrigins) == 0 {
		return "*"
	}
	for _, o := range h.allowedOrigins {
		if strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}

func (h *CorsHandler) CorsMiddleware(c *gin.Context) {
	if origin := h.allowOrigin(c.GetHeader("Origin")); origin != "" {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
	}
	c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if c.Request.Method == "OPTIONS" {
		c.AbortWithStatus(200)
		return
	}
	c.Next()
}
