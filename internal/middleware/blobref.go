package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/upturn/internal/storage"
	"github.com/rs/zerolog/log"
)

// BlobRefValidation rejects requests whose blob reference parameter is not a
// plain file name before any handler touches storage
func BlobRefValidation(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref := c.Param(param)
		if ref == "" {
			// Route has no blob parameter
			c.Next()
			return
		}

		if err := storage.ValidateName(ref); err != nil {
			log.Warn().
				Str("ref", ref).
				Str("path", c.Request.URL.Path).
				Msg("rejected invalid blob reference")
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Invalid blob reference",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
