package handlers

import (
	"net/http"
	"strconv"

	"loyalty-engine/loyalty"
	"loyalty-engine/middleware"
	"loyalty-engine/models"
	"loyalty-engine/staffmotivation"
	"loyalty-engine/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// AdminHandler serves the JWT guarded back-office surface. Routes are scoped
// by :merchantId through middleware.MerchantScopeMiddleware.
type AdminHandler struct {
	DB      *gorm.DB
	Service *loyalty.Service
}

const maxLeaderboardLimit = 100

func (h *AdminHandler) Leaderboard(c *gin.Context) {
	merchantID, ok := merchantFrom(c)
	if !ok {
		return
	}

	opts := staffmotivation.LeaderboardOptions{Limit: 20}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive number"})
			return
		}
		if limit > maxLeaderboardLimit {
			limit = maxLeaderboardLimit
		}
		opts.Limit = limit
	}
	if raw := c.Query("outlet_id"); raw != "" {
		outletID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid outlet ID"})
			return
		}
		opts.OutletID = &outletID
	}

	board, err := h.Service.StaffEngine().Leaderboard(c.Request.Context(), merchantID, opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, board)
}

func (h *AdminHandler) UpdateCustomerBlocks(c *gin.Context) {
	merchantID, ok := merchantFrom(c)
	if !ok {
		return
	}
	customerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid customer ID"})
		return
	}
	var req struct {
		AccrualsBlocked    *bool `json:"accruals_blocked"`
		RedemptionsBlocked *bool `json:"redemptions_blocked"`
	}
	if !bindJSON(c, &req) {
		return
	}

	customer, err := h.Service.SetCustomerBlocks(c.Request.Context(), loyalty.BlockUpdate{
		MerchantID:         merchantID,
		CustomerID:         customerID,
		AccrualsBlocked:    req.AccrualsBlocked,
		RedemptionsBlocked: req.RedemptionsBlocked,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

func (h *AdminHandler) UpdateSettings(c *gin.Context) {
	merchantID, ok := merchantFrom(c)
	if !ok {
		return
	}
	var row models.MerchantSettings
	if !bindJSON(c, &row) {
		return
	}
	row.MerchantID = merchantID

	settings, err := h.Service.SaveSettings(c.Request.Context(), row)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// CreateIntegrationKey issues a new API key. The plain key is returned once.
func (h *AdminHandler) CreateIntegrationKey(c *gin.Context) {
	merchantID, ok := merchantFrom(c)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name" binding:"required,max=100"`
	}
	if !bindJSON(c, &req) {
		return
	}

	key, prefix, hash, err := utils.GenerateAPIKey()
	if err != nil {
		respondError(c, err)
		return
	}
	row := models.IntegrationKey{
		MerchantID: merchantID,
		Name:       req.Name,
		Prefix:     prefix,
		KeyHash:    hash,
		IsActive:   true,
	}
	if err := h.DB.WithContext(c.Request.Context()).Create(&row).Error; err != nil {
		respondError(c, err)
		return
	}

	userID, _ := c.Get(middleware.KeyUserID)
	zerolog.Ctx(c.Request.Context()).Info().
		Str("key_id", row.ID.String()).
		Interface("issued_by", userID).
		Msg("integration key issued")
	c.JSON(http.StatusCreated, gin.H{
		"id":     row.ID,
		"name":   row.Name,
		"prefix": row.Prefix,
		"key":    key,
	})
}

func (h *AdminHandler) RevokeIntegrationKey(c *gin.Context) {
	merchantID, ok := merchantFrom(c)
	if !ok {
		return
	}
	keyID, err := uuid.Parse(c.Param("keyId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid key ID"})
		return
	}

	res := h.DB.WithContext(c.Request.Context()).Model(&models.IntegrationKey{}).
		Where("id = ? AND merchant_id = ?", keyID, merchantID).
		Update("is_active", false)
	if res.Error != nil {
		respondError(c, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Integration key not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
