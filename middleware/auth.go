package middleware

import (
	"net/http"
	"strings"

	"loyalty-engine/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Context keys set by the auth middlewares.
const (
	KeyUserID     = "user_id"
	KeyUserRole   = "user_role"
	KeyMerchantID = "merchant_id"
	KeyAPIKeyID   = "api_key_id"
)

func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := utils.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(KeyUserID, claims.UserID)
		c.Set(KeyUserRole, claims.Role)
		if claims.MerchantID != nil {
			c.Set(KeyMerchantID, *claims.MerchantID)
		}
		c.Next()
	}
}

func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(KeyUserRole)
		if !exists || role != utils.RoleAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// MerchantScopeMiddleware lets admins through and restricts merchant users to
// the merchant named by the :merchantId route parameter.
func MerchantScopeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		target, err := uuid.Parse(c.Param("merchantId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid merchant ID"})
			c.Abort()
			return
		}

		role, _ := c.Get(KeyUserRole)
		switch role {
		case utils.RoleAdmin:
		case utils.RoleMerchant:
			own, ok := MerchantID(c)
			if !ok || own != target {
				c.JSON(http.StatusForbidden, gin.H{"error": "Access to this merchant is not allowed"})
				c.Abort()
				return
			}
		default:
			c.JSON(http.StatusForbidden, gin.H{"error": "Merchant access required"})
			c.Abort()
			return
		}

		c.Set(KeyMerchantID, target)
		withLogFields(c, func(l zerolog.Context) zerolog.Context {
			return l.Str("merchant_id", target.String())
		})
		c.Next()
	}
}

// MerchantID returns the merchant the request is acting for.
func MerchantID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(KeyMerchantID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
