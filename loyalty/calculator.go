package loyalty

import (
	"context"
	"math"
	"time"

	"loyalty-engine/models"

	"github.com/google/uuid"
)

type redeemMode int

const (
	// redeemMax computes the largest possible redeem.
	redeemMax redeemMode = iota
	// redeemExact redeems only what the caller asked for.
	redeemExact
)

type calcParams struct {
	Context        *Context
	Items          []PositionInput
	Total          int64
	PaidBonus      *int64
	Mode           redeemMode
	OperationDate  time.Time
	AutoPromotions bool
}

type calcResult struct {
	Positions        []Position
	PerItemMaxRedeem []int64
	AppliedRedeem    int64
	EarnedTotal      int64
	FinalPayable     int64
	Total            int64
	Eligible         int64
	HasItems         bool
	Balance          int64
	Rates            Rates
}

// computeCalc is the shared redeem/earn calculation behind preview and
// integration processing. It never writes.
func (s *Service) computeCalc(ctx context.Context, p calcParams) (*calcResult, error) {
	merchantID := p.Context.Settings.MerchantID
	customer := p.Context.Customer
	settings := p.Context.Settings
	opDate := p.OperationDate
	if opDate.IsZero() {
		opDate = s.now()
	}

	res := &calcResult{}
	items := SanitizePositions(p.Items)
	switch {
	case len(items) > 0:
		positions, err := s.ResolvePositions(ctx, merchantID, &customer.ID, items, p.AutoPromotions)
		if err != nil {
			return nil, err
		}
		res.Positions = positions
		res.HasItems = true
		res.Total, res.Eligible = ComputeTotals(positions, 0)
	case p.Total > 0:
		res.Positions = []Position{{
			Qty:                 1,
			Price:               float64(p.Total),
			Amount:              p.Total,
			AccruePoints:        true,
			AllowEarnAndPay:     true,
			RedeemPercent:       100,
			PromotionMultiplier: 1,
		}}
		res.Total, res.Eligible = p.Total, p.Total
	default:
		return nil, validationError(msgItemsOrTotalRequired)
	}

	db := s.db.WithContext(ctx)
	balance, err := walletBalance(ctx, db, merchantID, customer.ID)
	if err != nil {
		return nil, err
	}
	res.Balance = balance
	rates, err := s.ResolveRates(ctx, merchantID, customer.ID, settings)
	if err != nil {
		return nil, err
	}
	res.Rates = rates

	var redeemTarget *int64
	switch {
	case p.PaidBonus != nil:
		t := nonNegative(*p.PaidBonus)
		redeemTarget = &t
	case p.Mode == redeemExact:
		var zero int64
		redeemTarget = &zero
	}

	amounts := make([]int64, len(res.Positions))
	for i, pos := range res.Positions {
		amounts[i] = nonNegative(pos.Amount)
	}
	caps := ComputeRedeemCaps(res.Positions)
	capsTotal := sum64(caps)

	redeemAllowed := !customer.RedemptionsBlocked
	if redeemAllowed {
		wait, err := cooldownWait(ctx, db, merchantID, customer.ID, models.TxnRedeem, settings.RedeemCooldownSec, s.now())
		if err != nil {
			return nil, err
		}
		redeemAllowed = wait == 0
	}
	var redeemLeft int64 = math.MaxInt64
	if redeemAllowed {
		left, capped, err := dailyLeft(ctx, db, merchantID, customer.ID, models.TxnRedeem, settings.RedeemDailyCap, opDate)
		if err != nil {
			return nil, err
		}
		if capped {
			redeemLeft = left
			redeemAllowed = left > 0
		}
	}

	var maxRedeem int64
	if redeemAllowed {
		maxRedeem = min(
			balance,
			res.Eligible*int64(rates.RedeemLimitBps)/10000,
			res.Total,
			capsTotal,
			redeemLeft,
		)
		if rates.TierMinPayment != nil {
			maxRedeem = min(maxRedeem, nonNegative(res.Total-*rates.TierMinPayment))
		}
		if redeemTarget != nil {
			maxRedeem = min(maxRedeem, *redeemTarget)
		}
		maxRedeem = nonNegative(maxRedeem)
	}

	shares := AllocateProRataWithCaps(amounts, caps, maxRedeem)
	res.AppliedRedeem = sum64(shares)
	switch {
	case !redeemAllowed:
		res.PerItemMaxRedeem = make([]int64, len(caps))
	case redeemTarget != nil:
		res.PerItemMaxRedeem = shares
	case maxRedeem < capsTotal:
		// The aggregate cap binds: scale each line's cap down to it.
		res.PerItemMaxRedeem = AllocateProRata(caps, maxRedeem)
	default:
		res.PerItemMaxRedeem = caps
	}
	res.FinalPayable = nonNegative(res.Total - res.AppliedRedeem)

	earnAllowed := !customer.AccrualsBlocked
	if earnAllowed {
		wait, err := cooldownWait(ctx, db, merchantID, customer.ID, models.TxnEarn, settings.EarnCooldownSec, s.now())
		if err != nil {
			return nil, err
		}
		earnAllowed = wait == 0
	}
	if rates.TierMinPayment != nil {
		baseForMin := res.Total
		if res.AppliedRedeem > 0 {
			baseForMin = res.FinalPayable
		}
		if baseForMin < *rates.TierMinPayment {
			earnAllowed = false
		}
	}
	if res.AppliedRedeem > 0 && !rates.AllowSameReceipt {
		earnAllowed = false
	}

	earnBps := 0
	if earnAllowed {
		earnBps = rates.EarnBps
	}
	res.EarnedTotal = ApplyEarnAndRedeemToItems(res.Positions, earnBps, res.AppliedRedeem, earnAllowed)

	if earnAllowed {
		left, capped, err := dailyLeft(ctx, db, merchantID, customer.ID, models.TxnEarn, settings.EarnDailyCap, opDate)
		if err != nil {
			return nil, err
		}
		if capped {
			res.EarnedTotal = capEarn(res.Positions, res.EarnedTotal, left)
		}
	}
	return res, nil
}

// capEarn clamps the positions' earn to left, redistributing by weight.
func capEarn(positions []Position, earned, left int64) int64 {
	if left <= 0 {
		for i := range positions {
			positions[i].EarnPoints = 0
		}
		return 0
	}
	if earned <= left {
		return earned
	}
	weights := make([]int64, len(positions))
	for i, p := range positions {
		weights[i] = max(1, p.EarnPoints)
	}
	for i, v := range AllocateByWeight(weights, left) {
		positions[i].EarnPoints = v
	}
	return left
}

type PreviewRequest struct {
	MerchantID    uuid.UUID
	CustomerID    *uuid.UUID
	Phone         string
	OutletID      *uuid.UUID
	Items         []PositionInput
	Total         int64
	PaidBonus     *int64
	OperationDate time.Time
}

type PreviewItem struct {
	IDProduct   *string `json:"id_product"`
	Name        *string `json:"name"`
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	MaxPayBonus int64   `json:"max_pay_bonus"`
	EarnBonus   int64   `json:"earn_bonus"`
}

type PreviewResult struct {
	Items        []PreviewItem `json:"items,omitempty"`
	MaxPayBonus  int64         `json:"max_pay_bonus"`
	BonusValue   int64         `json:"bonus_value"`
	FinalPayable int64         `json:"final_payable"`
}

// CalculateBonusPreview returns the maximum redeem and the earn for a
// prospective purchase without writing anything.
func (s *Service) CalculateBonusPreview(ctx context.Context, req PreviewRequest) (*PreviewResult, error) {
	ctx, span := tracer.Start(ctx, "loyalty.CalculateBonusPreview")
	defer span.End()

	cctx, err := s.ResolveContext(ctx, ContextRequest{
		MerchantID: req.MerchantID,
		CustomerID: req.CustomerID,
		Phone:      req.Phone,
		OutletID:   req.OutletID,
	})
	if err != nil {
		return nil, err
	}
	var paid *int64
	if req.PaidBonus != nil {
		v := nonNegative(*req.PaidBonus)
		paid = &v
	}
	calc, err := s.computeCalc(ctx, calcParams{
		Context:       cctx,
		Items:         req.Items,
		Total:         nonNegative(req.Total),
		PaidBonus:     paid,
		Mode:          redeemMax,
		OperationDate: req.OperationDate,
	})
	if err != nil {
		return nil, err
	}
	out := &PreviewResult{
		MaxPayBonus:  calc.AppliedRedeem,
		BonusValue:   calc.EarnedTotal,
		FinalPayable: calc.FinalPayable,
	}
	if calc.HasItems {
		out.Items = make([]PreviewItem, 0, len(calc.Positions))
		for i, pos := range calc.Positions {
			item := PreviewItem{
				Price:       math.Max(0, pos.Price),
				Quantity:    math.Max(0, pos.Qty),
				MaxPayBonus: calc.PerItemMaxRedeem[i],
				EarnBonus:   pos.EarnPoints,
			}
			if id := pos.IDProduct(); id != "" {
				item.IDProduct = &id
			}
			if pos.Name != "" {
				name := pos.Name
				item.Name = &name
			}
			out.Items = append(out.Items, item)
		}
	}
	return out, nil
}
