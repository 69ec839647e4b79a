package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tos-network/kale-analytics/internal/auth"
)

// corsMiddleware allows the configured origins, or any origin when none are set
func (s *Server) corsMiddleware() gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(s.cfg.CORSOrigins))
	for _, o := range s.cfg.CORSOrigins {
		allowed[o] = struct{}{}
	}

	return func(c *gin.Context) {
		if len(allowed) == 0 {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// policyMiddleware rejects banned clients and charges every request
func (s *Server) policyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if s.deps.Policy.IsBanned(ip) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}

		write := c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead
		if !s.deps.Policy.ApplyRequest(ip, write) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}

		c.Next()
	}
}

// bearerAuthMiddleware verifies the bearer token and puts its subject on the
// request context as the authenticated caller
func (s *Server) bearerAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			s.authFailure(c, "Authorization required")
			return
		}

		raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		address, err := s.deps.Tokens.Verify(raw)
		if err != nil {
			s.authFailure(c, "Invalid token")
			return
		}

		c.Request = c.Request.WithContext(auth.WithCaller(c.Request.Context(), address))
		c.Next()
	}
}

func (s *Server) authFailure(c *gin.Context, msg string) {
	if s.deps.Policy != nil {
		s.deps.Policy.ApplyAuthFailure(c.ClientIP())
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

// apmMiddleware wraps each request in a New Relic web transaction
func (s *Server) apmMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.FullPath()
		if name == "" {
			name = "NotFound"
		}
		txn := s.deps.Agent.StartTransaction(c.Request.Method + " " + name)
		if txn == nil {
			c.Next()
			return
		}
		defer txn.End()

		txn.SetWebRequestHTTP(c.Request)
		c.Request = c.Request.WithContext(s.deps.Agent.NewContext(c.Request.Context(), txn))
		c.Next()
		txn.SetWebResponse(nil).WriteHeader(c.Writer.Status())
	}
}
