package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/upturn/pkg/types"
	"github.com/lgulliver/upturn/pkg/utils"
	"github.com/rs/zerolog/log"
)

// apiKeyMiddleware accepts "Authorization: ApiKey <key>" or an X-API-Key header
func apiKeyMiddleware(hashes []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			if !strings.HasPrefix(authHeader, "ApiKey ") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, types.APIResponse{
					Success: false,
					Error:   "Invalid authorization format",
				})
				return
			}
			key = strings.TrimPrefix(authHeader, "ApiKey ")
		}

		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.APIResponse{
				Success: false,
				Error:   "Missing API key",
			})
			return
		}

		if !utils.MatchAPIKey(key, hashes) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.APIResponse{
				Success: false,
				Error:   "Invalid credentials",
			})
			return
		}

		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Int("size", c.Writer.Size()).
			Str("client_ip", c.ClientIP()).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
