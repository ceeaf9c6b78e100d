package middleware

import (
	"net/http"
	"time"

	"loyalty-engine/models"
	"loyalty-engine/utils"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const APIKeyHeader = "X-Api-Key"

// APIKeyMiddleware authenticates integration calls. The merchant is taken
// from the key, never from the request body.
func APIKeyMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(APIKeyHeader)
		if raw == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "API key required"})
			c.Abort()
			return
		}

		prefix, err := utils.APIKeyPrefix(raw)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		var key models.IntegrationKey
		if err := db.WithContext(ctx).Where("prefix = ? AND is_active = ?", prefix, true).Take(&key).Error; err != nil {
			if err != gorm.ErrRecordNotFound {
				zerolog.Ctx(ctx).Error().Err(err).Msg("api key lookup failed")
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			c.Abort()
			return
		}
		if !utils.VerifyAPIKey(key.KeyHash, raw) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			c.Abort()
			return
		}

		now := time.Now().UTC()
		if err := db.WithContext(ctx).Model(&models.IntegrationKey{}).
			Where("id = ?", key.ID).
			UpdateColumn("last_used_at", now).Error; err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("api key touch failed")
		}

		c.Set(KeyMerchantID, key.MerchantID)
		c.Set(KeyAPIKeyID, key.ID.String())
		withLogFields(c, func(l zerolog.Context) zerolog.Context {
			return l.Str("merchant_id", key.MerchantID.String())
		})
		c.Next()
	}
}
