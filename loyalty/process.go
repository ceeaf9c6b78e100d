package loyalty

import (
	"context"
	"math"
	"time"

	"loyalty-engine/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type ProcessRequest struct {
	MerchantID     uuid.UUID
	CustomerID     *uuid.UUID
	Phone          string
	IdempotencyKey string
	InvoiceNum     string
	Items          []PositionInput
	Total          float64
	PaidBonus      *float64
	BonusValue     *float64
	OutletID       *uuid.UUID
	StaffID        *uuid.UUID
	DeviceID       *uuid.UUID
	OperationDate  *time.Time
}

type ProcessResult struct {
	ReceiptID        uuid.UUID `json:"receipt_id"`
	OrderID          string    `json:"order_id"`
	InvoiceNum       *string   `json:"invoice_num"`
	RedeemApplied    int64     `json:"redeem_applied"`
	EarnApplied      int64     `json:"earn_applied"`
	BalanceBefore    *int64    `json:"balance_before"`
	BalanceAfter     int64     `json:"balance_after"`
	AlreadyProcessed bool      `json:"already_processed"`
}

// sanitizeManualAmount floors a caller-supplied amount. Negative and
// non-finite values become zero.
func sanitizeManualAmount(v *float64) *int64 {
	if v == nil {
		return nil
	}
	var out int64
	if !math.IsNaN(*v) && !math.IsInf(*v, 0) && *v > 0 {
		out = int64(math.Floor(*v))
	}
	return &out
}

// ProcessIntegrationBonus handles a purchase from an integration in one call:
// it computes or accepts the redeem and earn amounts, reserves them and
// commits. The idempotency key is the order id.
func (s *Service) ProcessIntegrationBonus(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	ctx, span := tracer.Start(ctx, "loyalty.ProcessIntegrationBonus")
	defer span.End()

	if req.IdempotencyKey == "" {
		return nil, validationError(msgIdempotencyRequired)
	}
	orderID := req.IdempotencyKey
	var invoiceNum *string
	if req.InvoiceNum != "" {
		n := req.InvoiceNum
		invoiceNum = &n
	}

	cctx, err := s.ResolveContext(ctx, ContextRequest{
		MerchantID: req.MerchantID,
		CustomerID: req.CustomerID,
		Phone:      req.Phone,
		OutletID:   req.OutletID,
		StaffID:    req.StaffID,
		DeviceID:   req.DeviceID,
	})
	if err != nil {
		return nil, err
	}
	merchantID := req.MerchantID
	customer := cctx.Customer

	existing, err := findReceipt(ctx, s.db, merchantID, orderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.CustomerID != customer.ID {
			return nil, conflictError(msgOtherCustomerDone)
		}
		after, err := walletBalance(ctx, s.db, merchantID, customer.ID)
		if err != nil {
			return nil, err
		}
		if existing.ReceiptNumber != nil {
			invoiceNum = existing.ReceiptNumber
		}
		return &ProcessResult{
			ReceiptID:        existing.ID,
			OrderID:          orderID,
			InvoiceNum:       invoiceNum,
			RedeemApplied:    existing.RedeemApplied,
			EarnApplied:      existing.EarnApplied,
			BalanceAfter:     after,
			AlreadyProcessed: true,
		}, nil
	}

	var pending models.Hold
	err = s.db.WithContext(ctx).
		Where("merchant_id = ? AND order_id = ? AND status = ?", merchantID, orderID, models.HoldStatusPending).
		Order("created_at DESC").Limit(1).Find(&pending).Error
	if err != nil {
		return nil, errors.Wrap(err, "load pending hold")
	}
	hasHold := pending.ID != uuid.Nil
	if hasHold && pending.CustomerID != customer.ID {
		return nil, conflictError(msgOtherCustomerRunning)
	}

	wallet, err := ensureWallet(ctx, s.db, merchantID, customer.ID)
	if err != nil {
		return nil, err
	}
	balanceBefore := wallet.Balance

	paidBonus := sanitizeManualAmount(req.PaidBonus)
	bonusValue := sanitizeManualAmount(req.BonusValue)
	manualRedeem, manualEarn := paidBonus != nil, bonusValue != nil
	opDate := s.now()
	if req.OperationDate != nil && !req.OperationDate.IsZero() {
		opDate = req.OperationDate.UTC()
	}
	if manualRedeem || manualEarn {
		if err := s.checkManualAmounts(ctx, cctx, paidBonus, bonusValue, balanceBefore, opDate); err != nil {
			return nil, err
		}
	}

	calc, err := s.computeCalc(ctx, calcParams{
		Context:       cctx,
		Items:         req.Items,
		Total:         int64(math.Max(0, math.Floor(req.Total))),
		PaidBonus:     paidBonus,
		Mode:          redeemExact,
		OperationDate: opDate,
	})
	if err != nil {
		return nil, err
	}
	if manualRedeem && calc.AppliedRedeem < *paidBonus {
		return nil, policyError(msgRedeemAboveMax)
	}

	redeem, earn := calc.AppliedRedeem, calc.EarnedTotal
	if manualEarn {
		if calc.AppliedRedeem > 0 && !calc.Rates.AllowSameReceipt && *bonusValue > 0 {
			return nil, policyError(msgSameReceipt)
		}
		earn = manualEarnShares(calc.Positions, *bonusValue, calc.HasItems)
	}
	if manualRedeem && redeem > balanceBefore {
		return nil, policyError(msgNotEnoughBonus)
	}

	mode := models.HoldModeEarn
	if redeem > 0 {
		mode = models.HoldModeRedeem
	}
	var positions []Position
	if calc.HasItems {
		positions = calc.Positions
	}

	var overrides *CommitOverrides
	if manualRedeem || manualEarn {
		overrides = &CommitOverrides{}
		if manualRedeem {
			overrides.RedeemAmount = &redeem
		}
		if manualEarn {
			overrides.EarnAmount = &earn
		}
	}

	var holdID uuid.UUID
	if !hasHold {
		hold := &models.Hold{
			MerchantID:    merchantID,
			CustomerID:    customer.ID,
			Mode:          mode,
			Status:        models.HoldStatusPending,
			RedeemAmount:  redeem,
			EarnPoints:    earn,
			Total:         calc.Total,
			EligibleTotal: calc.Eligible,
			OrderID:       &orderID,
			OutletID:      cctx.OutletID,
			StaffID:       cctx.StaffID,
			DeviceID:      cctx.DeviceID,
			CreatedAt:     opDate,
		}
		if err := s.persistHold(ctx, hold, positions); err != nil {
			return nil, err
		}
		holdID = hold.ID
	} else {
		holdID = pending.ID
		if manualRedeem || manualEarn {
			if err := s.refreshHold(ctx, &pending, cctx, calc, positions, overrides); err != nil {
				return nil, err
			}
		}
	}

	commit, err := s.Commit(ctx, CommitRequest{
		HoldID:             holdID,
		IdempotencyKey:     req.IdempotencyKey,
		OrderID:            orderID,
		ReceiptNumber:      req.InvoiceNum,
		DeviceID:           cctx.DeviceID,
		ExpectedMerchantID: &merchantID,
		Overrides:          overrides,
		OperationDate:      &opDate,
	})
	if err != nil {
		return nil, err
	}
	after, err := walletBalance(ctx, s.db, merchantID, customer.ID)
	if err != nil {
		return nil, err
	}
	return &ProcessResult{
		ReceiptID:        commit.ReceiptID,
		OrderID:          orderID,
		InvoiceNum:       invoiceNum,
		RedeemApplied:    commit.RedeemApplied,
		EarnApplied:      commit.EarnApplied,
		BalanceBefore:    &balanceBefore,
		BalanceAfter:     after,
		AlreadyProcessed: commit.AlreadyCommitted,
	}, nil
}

// checkManualAmounts rejects caller-supplied amounts that the balance, the
// blocks or the daily caps do not allow.
func (s *Service) checkManualAmounts(ctx context.Context, cctx *Context, paid, bonus *int64, balance int64, opDate time.Time) error {
	merchantID := cctx.Settings.MerchantID
	customer := cctx.Customer
	var redeem, earn int64
	if paid != nil {
		redeem = *paid
	}
	if bonus != nil {
		earn = *bonus
	}
	if redeem > balance {
		return policyError(msgNotEnoughBonus)
	}
	if redeem > 0 && customer.RedemptionsBlocked {
		return policyError(msgRedemptionsBlocked)
	}
	if earn > 0 && customer.AccrualsBlocked {
		return policyError(msgAccrualsBlocked)
	}
	if redeem > 0 {
		left, capped, err := dailyLeft(ctx, s.db, merchantID, customer.ID, models.TxnRedeem, cctx.Settings.RedeemDailyCap, opDate)
		if err != nil {
			return err
		}
		if capped && redeem > left {
			return policyError(msgRedeemDailyCapExceeded)
		}
	}
	if earn > 0 {
		left, capped, err := dailyLeft(ctx, s.db, merchantID, customer.ID, models.TxnEarn, cctx.Settings.EarnDailyCap, opDate)
		if err != nil {
			return err
		}
		if capped && earn > left {
			return policyError(msgEarnDailyCapExceeded)
		}
	}
	return nil
}

// manualEarnShares spreads a caller-supplied earn over the lines by what is
// left to pay on each, weighted by its promotion multiplier.
func manualEarnShares(positions []Position, target int64, hasItems bool) int64 {
	if !hasItems || len(positions) == 0 {
		return target
	}
	weights := make([]int64, len(positions))
	for i, p := range positions {
		payable := float64(nonNegative(p.Amount - p.RedeemAmount))
		weights[i] = max(1, int64(math.Floor(payable*math.Max(1, p.PromotionMultiplier))))
	}
	var total int64
	for i, share := range AllocateByWeight(weights, target) {
		positions[i].EarnPoints = share
		total += share
	}
	return total
}

// refreshHold rewrites a pending hold with freshly computed manual amounts.
func (s *Service) refreshHold(ctx context.Context, hold *models.Hold, cctx *Context, calc *calcResult, positions []Position, o *CommitOverrides) error {
	updates := map[string]interface{}{
		"total":          calc.Total,
		"eligible_total": calc.Eligible,
		"outlet_id":      cctx.OutletID,
		"staff_id":       cctx.StaffID,
		"device_id":      cctx.DeviceID,
		"updated_at":     s.now(),
	}
	if o.RedeemAmount != nil {
		updates["redeem_amount"] = *o.RedeemAmount
		if *o.RedeemAmount > 0 {
			updates["mode"] = models.HoldModeRedeem
		}
	}
	if o.EarnAmount != nil {
		updates["earn_points"] = *o.EarnAmount
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Hold{}).
			Where("id = ? AND status = ?", hold.ID, models.HoldStatusPending).
			Updates(updates).Error; err != nil {
			return errors.Wrap(err, "update hold")
		}
		if len(positions) == 0 {
			return nil
		}
		if err := tx.Where("hold_id = ?", hold.ID).Delete(&models.HoldItem{}).Error; err != nil {
			return errors.Wrap(err, "replace hold items")
		}
		items := holdItems(hold.ID, hold.MerchantID, positions)
		return errors.Wrap(tx.Create(&items).Error, "create hold items")
	})
}
