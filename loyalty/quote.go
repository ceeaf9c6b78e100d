package loyalty

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"loyalty-engine/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type QuoteMode string

const (
	QuoteRedeem QuoteMode = "REDEEM"
	QuoteEarn   QuoteMode = "EARN"
)

type QuoteRequest struct {
	Mode       QuoteMode
	MerchantID uuid.UUID
	CustomerID *uuid.UUID
	Phone      string
	Items      []PositionInput
	Total      int64
	OrderID    string
	OutletID   *uuid.UUID
	StaffID    *uuid.UUID
	DeviceID   *uuid.UUID
	DryRun     bool
}

type QuoteResult struct {
	Mode            QuoteMode  `json:"mode"`
	CanRedeem       bool       `json:"can_redeem"`
	DiscountToApply int64      `json:"discount_to_apply"`
	CanEarn         bool       `json:"can_earn"`
	PointsToEarn    int64      `json:"points_to_earn"`
	FinalPayable    int64      `json:"final_payable"`
	HoldID          *uuid.UUID `json:"hold_id,omitempty"`
	Message         string     `json:"message"`
}

// quoteInput is the resolved purchase a quote is computed over.
type quoteInput struct {
	ctx       *Context
	rates     Rates
	positions []Position
	total     int64
	eligible  int64
	balance   int64
}

// Quote computes what a REDEEM or EARN purchase would yield and, unless
// DryRun is set, reserves it as a PENDING hold.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (*QuoteResult, error) {
	ctx, span := tracer.Start(ctx, "loyalty.Quote")
	defer span.End()

	if req.Mode != QuoteRedeem && req.Mode != QuoteEarn {
		return nil, validationError("mode must be REDEEM or EARN")
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
	in, err := s.quoteInput(ctx, cctx, req)
	if err != nil {
		return nil, err
	}

	var (
		res  *QuoteResult
		hold *models.Hold
	)
	if req.Mode == QuoteRedeem {
		res, hold, err = s.quoteRedeem(ctx, in, req.OrderID)
	} else {
		res, hold, err = s.quoteEarn(ctx, in, req.OrderID)
	}
	if err != nil || hold == nil || req.DryRun {
		return res, err
	}

	if req.OrderID != "" {
		orderID := req.OrderID
		hold.OrderID = &orderID
	}
	hold.MerchantID = req.MerchantID
	hold.CustomerID = cctx.Customer.ID
	hold.Total = in.total
	hold.EligibleTotal = in.eligible
	hold.OutletID = cctx.OutletID
	hold.StaffID = cctx.StaffID
	hold.DeviceID = cctx.DeviceID
	hold.Status = models.HoldStatusPending
	if err := s.persistHold(ctx, hold, in.positions); err != nil {
		return nil, err
	}
	res.HoldID = &hold.ID
	zerolog.Ctx(ctx).Info().
		Str("hold_id", hold.ID.String()).
		Str("mode", string(hold.Mode)).
		Int64("redeem", hold.RedeemAmount).
		Int64("earn", hold.EarnPoints).
		Msg("hold created")
	return res, nil
}

func (s *Service) quoteInput(ctx context.Context, cctx *Context, req QuoteRequest) (*quoteInput, error) {
	merchantID := cctx.Settings.MerchantID
	customerID := cctx.Customer.ID
	in := &quoteInput{ctx: cctx}

	if items := SanitizePositions(req.Items); len(items) > 0 {
		positions, err := s.ResolvePositions(ctx, merchantID, &customerID, items, true)
		if err != nil {
			return nil, err
		}
		in.positions = positions
	}
	in.total, in.eligible = ComputeTotals(in.positions, req.Total)
	if in.total <= 0 {
		return nil, validationError(msgItemsOrTotalRequired)
	}

	rates, err := s.ResolveRates(ctx, merchantID, customerID, cctx.Settings)
	if err != nil {
		return nil, err
	}
	in.rates = rates
	balance, err := walletBalance(ctx, s.db, merchantID, customerID)
	if err != nil {
		return nil, err
	}
	in.balance = balance
	return in, nil
}

func (s *Service) quoteRedeem(ctx context.Context, in *quoteInput, orderID string) (*QuoteResult, *models.Hold, error) {
	db := s.db.WithContext(ctx)
	merchantID := in.ctx.Settings.MerchantID
	customer := in.ctx.Customer
	settings := in.ctx.Settings
	now := s.now()
	deny := func(msg string) (*QuoteResult, *models.Hold, error) {
		return &QuoteResult{Mode: QuoteRedeem, FinalPayable: in.total, Message: msg}, nil, nil
	}

	if customer.RedemptionsBlocked {
		return deny(msgRedemptionsBlocked)
	}
	if !in.rates.AllowSameReceipt && orderID != "" {
		mixed, err := s.orderHasOpposite(ctx, merchantID, orderID, models.HoldModeEarn)
		if err != nil {
			return nil, nil, err
		}
		if mixed {
			return deny(msgSameReceipt)
		}
	}
	wait, err := cooldownWait(ctx, db, merchantID, customer.ID, models.TxnRedeem, settings.RedeemCooldownSec, now)
	if err != nil {
		return nil, nil, err
	}
	if wait > 0 {
		return deny(fmt.Sprintf("Кулдаун на списание: подождите %d сек.", wait))
	}
	capLeft, capped, err := dailyLeft(ctx, db, merchantID, customer.ID, models.TxnRedeem, settings.RedeemDailyCap, now)
	if err != nil {
		return nil, nil, err
	}
	if capped && capLeft <= 0 {
		return deny("Дневной лимит списаний исчерпан.")
	}

	var prior int64
	if orderID != "" {
		var receipt models.Receipt
		err := db.Where("merchant_id = ? AND order_id = ?", merchantID, orderID).Take(&receipt).Error
		switch {
		case err == nil:
			prior = receipt.RedeemApplied
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, nil, errors.Wrap(err, "load receipt")
		}
	}
	limit := in.eligible * int64(in.rates.RedeemLimitBps) / 10000
	remaining := nonNegative(limit - prior)
	if orderID != "" && prior > 0 && remaining <= 0 {
		return deny("По этому заказу уже списаны максимальные баллы.")
	}

	discount := min(in.balance, remaining)
	if capped {
		discount = min(discount, capLeft)
	}
	if in.rates.TierMinPayment != nil {
		discount = min(discount, in.total-*in.rates.TierMinPayment-prior)
	}
	discount = nonNegative(discount)

	allowEarn := in.rates.AllowSameReceipt && !customer.AccrualsBlocked
	earnBps := 0
	if allowEarn {
		earnBps = in.rates.EarnBps
	}
	applied, postEarn := discount, int64(0)
	if len(in.positions) > 0 {
		postEarn = ApplyEarnAndRedeemToItems(in.positions, earnBps, discount, allowEarn)
		applied = 0
		for _, p := range in.positions {
			applied += p.RedeemAmount
		}
	} else if allowEarn {
		base := min(in.total-applied, in.eligible)
		postEarn = int64(math.Floor(float64(nonNegative(base)) * float64(earnBps) / 10000))
	}
	if applied <= 0 {
		return deny("Недостаточно баллов для списания.")
	}
	finalPayable := nonNegative(in.total - applied)
	if in.rates.TierMinPayment != nil && finalPayable < *in.rates.TierMinPayment {
		postEarn = zeroEarn(in.positions)
	}
	if postEarn > 0 {
		postEarn, err = s.capPlannedEarn(ctx, in, postEarn, now)
		if err != nil {
			return nil, nil, err
		}
	}

	res := &QuoteResult{
		Mode:            QuoteRedeem,
		CanRedeem:       true,
		DiscountToApply: applied,
		PointsToEarn:    postEarn,
		CanEarn:         postEarn > 0,
		FinalPayable:    finalPayable,
		Message:         fmt.Sprintf("Списываем %d ₽, к оплате %d ₽", applied, finalPayable),
	}
	return res, &models.Hold{Mode: models.HoldModeRedeem, RedeemAmount: applied, EarnPoints: postEarn}, nil
}

func (s *Service) quoteEarn(ctx context.Context, in *quoteInput, orderID string) (*QuoteResult, *models.Hold, error) {
	db := s.db.WithContext(ctx)
	merchantID := in.ctx.Settings.MerchantID
	customer := in.ctx.Customer
	settings := in.ctx.Settings
	now := s.now()
	deny := func(msg string) (*QuoteResult, *models.Hold, error) {
		return &QuoteResult{Mode: QuoteEarn, FinalPayable: in.total, Message: msg}, nil, nil
	}

	if customer.AccrualsBlocked {
		return deny(msgAccrualsBlocked)
	}
	if !in.rates.AllowSameReceipt && orderID != "" {
		mixed, err := s.orderHasOpposite(ctx, merchantID, orderID, models.HoldModeRedeem)
		if err != nil {
			return nil, nil, err
		}
		if mixed {
			return deny(msgSameReceipt)
		}
	}
	wait, err := cooldownWait(ctx, db, merchantID, customer.ID, models.TxnEarn, settings.EarnCooldownSec, now)
	if err != nil {
		return nil, nil, err
	}
	if wait > 0 {
		return deny(fmt.Sprintf("Кулдаун на начисление: подождите %d сек.", wait))
	}
	left, capped, err := dailyLeft(ctx, db, merchantID, customer.ID, models.TxnEarn, settings.EarnDailyCap, now)
	if err != nil {
		return nil, nil, err
	}
	if capped && left <= 0 {
		return deny("Дневной лимит начислений исчерпан.")
	}

	var points int64
	if len(in.positions) > 0 {
		points = ApplyEarnAndRedeemToItems(in.positions, in.rates.EarnBps, 0, true)
	} else {
		points = in.eligible * int64(in.rates.EarnBps) / 10000
	}
	if in.rates.TierMinPayment != nil && in.total < *in.rates.TierMinPayment {
		points = zeroEarn(in.positions)
	}
	if points > 0 {
		points, err = s.capPlannedEarn(ctx, in, points, now)
		if err != nil {
			return nil, nil, err
		}
	}
	if points <= 0 {
		return deny("Сумма слишком мала для начисления.")
	}
	res := &QuoteResult{
		Mode:         QuoteEarn,
		CanEarn:      true,
		PointsToEarn: points,
		FinalPayable: in.total,
		Message:      fmt.Sprintf("Начислим %d баллов после оплаты.", points),
	}
	return res, &models.Hold{Mode: models.HoldModeEarn, EarnPoints: points}, nil
}

// capPlannedEarn clamps earn to what is left of the daily earn cap.
func (s *Service) capPlannedEarn(ctx context.Context, in *quoteInput, earn int64, now time.Time) (int64, error) {
	left, capped, err := dailyLeft(ctx, s.db.WithContext(ctx), in.ctx.Settings.MerchantID, in.ctx.Customer.ID,
		models.TxnEarn, in.ctx.Settings.EarnDailyCap, now)
	if err != nil || !capped {
		return earn, err
	}
	if len(in.positions) == 0 {
		return min(earn, left), nil
	}
	return capEarn(in.positions, earn, left), nil
}

func zeroEarn(positions []Position) int64 {
	for i := range positions {
		positions[i].EarnPoints = 0
		positions[i].PromotionPointsBonus = 0
	}
	return 0
}

// orderHasOpposite reports whether the order already carries a pending hold
// of mode, or a receipt with that leg applied.
func (s *Service) orderHasOpposite(ctx context.Context, merchantID uuid.UUID, orderID string, mode models.HoldMode) (bool, error) {
	db := s.db.WithContext(ctx)
	var holds int64
	if err := db.Model(&models.Hold{}).
		Where("merchant_id = ? AND order_id = ? AND mode = ? AND status = ?", merchantID, orderID, mode, models.HoldStatusPending).
		Count(&holds).Error; err != nil {
		return false, errors.Wrap(err, "check pending holds")
	}
	if holds > 0 {
		return true, nil
	}
	column := "earn_applied"
	if mode == models.HoldModeRedeem {
		column = "redeem_applied"
	}
	var receipts int64
	if err := db.Model(&models.Receipt{}).
		Where("merchant_id = ? AND order_id = ? AND "+column+" > 0", merchantID, orderID).
		Count(&receipts).Error; err != nil {
		return false, errors.Wrap(err, "check receipts")
	}
	return receipts > 0, nil
}

// persistHold creates the hold with its lines after making sure the customer
// has a wallet.
func (s *Service) persistHold(ctx context.Context, hold *models.Hold, positions []Position) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := ensureWallet(ctx, tx, hold.MerchantID, hold.CustomerID); err != nil {
			return err
		}
		if err := tx.Create(hold).Error; err != nil {
			return errors.Wrap(err, "create hold")
		}
		items := holdItems(hold.ID, hold.MerchantID, positions)
		if len(items) == 0 {
			return nil
		}
		return errors.Wrap(tx.Create(&items).Error, "create hold items")
	})
}

func holdItems(holdID, merchantID uuid.UUID, positions []Position) []models.HoldItem {
	items := make([]models.HoldItem, 0, len(positions))
	for _, p := range positions {
		item := models.HoldItem{
			HoldID:              holdID,
			MerchantID:          merchantID,
			ProductID:           p.ProductID,
			CategoryID:          p.CategoryID,
			Name:                p.label(),
			Qty:                 p.Qty,
			Price:               p.Price,
			Amount:              p.Amount,
			AccruePoints:        p.AccruePoints,
			EarnPoints:          p.EarnPoints,
			RedeemAmount:        p.RedeemAmount,
			PromotionID:         p.PromotionID,
			PromotionMultiplier: p.PromotionMultiplier,
			AppliedPromotionIDs: joinIDs(p.AppliedPromotionIDs),
		}
		if p.Input.ExternalID != "" {
			ext := p.Input.ExternalID
			item.ExternalID = &ext
		}
		items = append(items, item)
	}
	return items
}

func joinIDs(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}

func splitIDs(raw string) []uuid.UUID {
	var out []uuid.UUID
	for _, part := range strings.Split(raw, ",") {
		if id, err := uuid.Parse(strings.TrimSpace(part)); err == nil {
			out = append(out, id)
		}
	}
	return out
}
