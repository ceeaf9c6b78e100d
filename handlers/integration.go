package handlers

import (
	"net/http"
	"strings"
	"time"

	"loyalty-engine/loyalty"
	"loyalty-engine/middleware"
	"loyalty-engine/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// IntegrationHandler serves the API-key guarded POS/e-commerce surface. The
// merchant always comes from the key.
type IntegrationHandler struct {
	Service *loyalty.Service
}

type customerRef struct {
	CustomerID *uuid.UUID `json:"customer_id"`
	Phone      string     `json:"phone"`
}

type calculateRequest struct {
	customerRef
	OutletID      *uuid.UUID              `json:"outlet_id"`
	Items         []loyalty.PositionInput `json:"items" binding:"omitempty,dive"`
	Total         int64                   `json:"total" binding:"gte=0"`
	PaidBonus     *int64                  `json:"paid_bonus" binding:"omitempty,gte=0"`
	OperationDate *time.Time              `json:"operationDate"`
}

type actionRequest struct {
	CustomerID *uuid.UUID              `json:"customer_id"`
	Items      []loyalty.PositionInput `json:"items" binding:"required"`
}

type bonusRequest struct {
	customerRef
	IdempotencyKey string                  `json:"idempotency_key"`
	InvoiceNum     string                  `json:"invoice_num"`
	Items          []loyalty.PositionInput `json:"items"`
	Total          float64                 `json:"total" binding:"gte=0"`
	PaidBonus      *float64                `json:"paid_bonus" binding:"omitempty,gte=0"`
	BonusValue     *float64                `json:"bonus_value" binding:"omitempty,gte=0"`
	OutletID       *uuid.UUID              `json:"outlet_id"`
	StaffID        *uuid.UUID              `json:"staff_id"`
	DeviceID       *uuid.UUID              `json:"device_id"`
	OperationDate  *time.Time              `json:"operationDate"`
}

type quoteRequest struct {
	customerRef
	Mode     string                  `json:"mode" binding:"required"`
	Items    []loyalty.PositionInput `json:"items"`
	Total    int64                   `json:"total" binding:"gte=0"`
	OrderID  string                  `json:"order_id"`
	OutletID *uuid.UUID              `json:"outlet_id"`
	StaffID  *uuid.UUID              `json:"staff_id"`
	DeviceID *uuid.UUID              `json:"device_id"`
	DryRun   bool                    `json:"dry_run"`
}

type commitRequest struct {
	HoldID         uuid.UUID  `json:"hold_id" binding:"required"`
	IdempotencyKey string     `json:"idempotency_key"`
	OrderID        string     `json:"order_id"`
	ReceiptNumber  string     `json:"receipt_number"`
	DeviceID       *uuid.UUID `json:"device_id"`
	RedeemAmount   *int64     `json:"redeem_amount" binding:"omitempty,gte=0"`
	EarnAmount     *int64     `json:"earn_amount" binding:"omitempty,gte=0"`
	OperationDate  *time.Time `json:"operationDate"`
}

type refundRequest struct {
	ReceiptID *uuid.UUID `json:"receipt_id"`
	OrderID   string     `json:"order_id"`
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.SanitizeValidationError(err)})
		return false
	}
	return true
}

func merchantFrom(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.MerchantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Merchant context missing"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *IntegrationHandler) Calculate(c *gin.Context) {
	merchantID, ok := merchantFrom(c)
	if !ok {
		return
	}
	var req calculateRequest
	if !bindJSON(c, &req) {
		return
	}

	preview := loyalty.PreviewRequest{
		MerchantID: merchantID,
		CustomerID: req.CustomerID,
		Phone:      req.Phone,
		OutletID:   req.OutletID,
		Items:      req.Items,
		Total:      req.Total,
		PaidBonus:  req.PaidBonus,
	}
	if req.OperationDate != nil {
		preview.OperationDate = req.OperationDate.UTC()
	}
	res, err := h.Service.CalculateBonusPreview(c.Request.Context(), preview)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *IntegrationHandler) CalculateAction(c *gin.Context) {
	merchantID, ok := merchantFrom(c)
	if !ok {
		return
	}
	var req actionRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.Service.CalculateAction(c.Request.Context(), loyalty.ActionRequest{
		MerchantID: merchantID,
		CustomerID: req.CustomerID,
		Items:      req.Items,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *IntegrationHandler) Bonus(c *gin.Context) {
	merchantID, ok := merchantFrom(c)
	if !ok {
		return
	}
	var req bonusRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.Service.ProcessIntegrationBonus(c.Request.Context(), loyalty.ProcessRequest{
		MerchantID:     merchantID,
		CustomerID:     req.CustomerID,
		Phone:          req.Phone,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
		InvoiceNum:     strings.TrimSpace(req.InvoiceNum),
		Items:          req.Items,
		Total:          req.Total,
		PaidBonus:      req.PaidBonus,
		BonusValue:     req.BonusValue,
		OutletID:       req.OutletID,
		StaffID:        req.StaffID,
		DeviceID:       req.DeviceID,
		OperationDate:  req.OperationDate,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *IntegrationHandler) Quote(c *gin.Context) {
	merchantID, ok := merchantFrom(c)
	if !ok {
		return
	}
	var req quoteRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.Service.Quote(c.Request.Context(), loyalty.QuoteRequest{
		Mode:       loyalty.QuoteMode(strings.ToUpper(strings.TrimSpace(req.Mode))),
		MerchantID: merchantID,
		CustomerID: req.CustomerID,
		Phone:      req.Phone,
		Items:      req.Items,
		Total:      req.Total,
		OrderID:    strings.TrimSpace(req.OrderID),
		OutletID:   req.OutletID,
		StaffID:    req.StaffID,
		DeviceID:   req.DeviceID,
		DryRun:     req.DryRun,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *IntegrationHandler) Commit(c *gin.Context) {
	merchantID, ok := merchantFrom(c)
	if !ok {
		return
	}
	var req commitRequest
	if !bindJSON(c, &req) {
		return
	}

	commit := loyalty.CommitRequest{
		HoldID:             req.HoldID,
		IdempotencyKey:     strings.TrimSpace(req.IdempotencyKey),
		OrderID:            strings.TrimSpace(req.OrderID),
		ReceiptNumber:      strings.TrimSpace(req.ReceiptNumber),
		DeviceID:           req.DeviceID,
		ExpectedMerchantID: &merchantID,
		OperationDate:      req.OperationDate,
	}
	if req.RedeemAmount != nil || req.EarnAmount != nil {
		commit.Overrides = &loyalty.CommitOverrides{RedeemAmount: req.RedeemAmount, EarnAmount: req.EarnAmount}
	}
	res, err := h.Service.Commit(c.Request.Context(), commit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *IntegrationHandler) Refund(c *gin.Context) {
	merchantID, ok := merchantFrom(c)
	if !ok {
		return
	}
	var req refundRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.Service.Refund(c.Request.Context(), loyalty.RefundRequest{
		MerchantID: merchantID,
		ReceiptID:  req.ReceiptID,
		OrderID:    strings.TrimSpace(req.OrderID),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *IntegrationHandler) CancelHold(c *gin.Context) {
	merchantID, ok := merchantFrom(c)
	if !ok {
		return
	}
	holdID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid hold ID"})
		return
	}

	if err := h.Service.Cancel(c.Request.Context(), merchantID, holdID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *IntegrationHandler) Balance(c *gin.Context) {
	merchantID, ok := merchantFrom(c)
	if !ok {
		return
	}
	customerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid customer ID"})
		return
	}

	res, err := h.Service.Balance(c.Request.Context(), merchantID, customerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
