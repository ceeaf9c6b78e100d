package loyalty

import (
	"context"
	"math"
	"time"

	"loyalty-engine/models"
	"loyalty-engine/staffmotivation"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CommitOverrides replace the legs planned on the hold.
type CommitOverrides struct {
	RedeemAmount *int64
	EarnAmount   *int64
}

type CommitRequest struct {
	HoldID             uuid.UUID
	IdempotencyKey     string
	OrderID            string
	ReceiptNumber      string
	DeviceID           *uuid.UUID
	ExpectedMerchantID *uuid.UUID
	Overrides          *CommitOverrides
	// OperationDate backdates the receipt and its transactions.
	OperationDate *time.Time
}

type CommitResult struct {
	OK               bool      `json:"ok"`
	AlreadyCommitted bool      `json:"alreadyCommitted"`
	ReceiptID        uuid.UUID `json:"receiptId"`
	RedeemApplied    int64     `json:"redeemApplied"`
	EarnApplied      int64     `json:"earnApplied"`
	CustomerID       uuid.UUID `json:"customerId"`
}

// errHoldClaimed rolls back a commit whose hold was finished concurrently.
var errHoldClaimed = errors.New("hold claimed by another commit")

func committedResult(r *models.Receipt) *CommitResult {
	return &CommitResult{
		OK:               true,
		AlreadyCommitted: true,
		ReceiptID:        r.ID,
		RedeemApplied:    r.RedeemApplied,
		EarnApplied:      r.EarnApplied,
		CustomerID:       r.CustomerID,
	}
}

// findReceipt returns the receipt for the order, or nil.
func findReceipt(ctx context.Context, db *gorm.DB, merchantID uuid.UUID, orderID string) (*models.Receipt, error) {
	var receipt models.Receipt
	err := db.WithContext(ctx).Where("merchant_id = ? AND order_id = ?", merchantID, orderID).Take(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load receipt")
	}
	return &receipt, nil
}

// Commit turns a PENDING hold into a receipt with its wallet movements,
// exactly once per (merchant, order). Retries and concurrent commits for the
// same order converge on one receipt and report AlreadyCommitted.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	ctx, span := tracer.Start(ctx, "loyalty.Commit")
	defer span.End()
	log := zerolog.Ctx(ctx)

	var hold models.Hold
	err := s.db.WithContext(ctx).Preload("Items").Where("id = ?", req.HoldID).Take(&hold).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError(msgHoldNotFound)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load hold")
	}
	if req.ExpectedMerchantID != nil && *req.ExpectedMerchantID != hold.MerchantID {
		return nil, forbiddenError(msgHoldOtherMerchant)
	}

	orderID := req.OrderID
	if orderID == "" && hold.OrderID != nil {
		orderID = *hold.OrderID
	}
	if orderID == "" {
		orderID = req.IdempotencyKey
	}
	if orderID == "" {
		return nil, validationError("orderId required")
	}

	if hold.Status != models.HoldStatusPending {
		existing, err := findReceipt(ctx, s.db, hold.MerchantID, orderID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, conflictError(msgHoldFinished)
		}
		s.metrics.ObserveCommit(true)
		return committedResult(existing), nil
	}
	if hold.OrderID != nil && *hold.OrderID != orderID {
		return nil, conflictError(msgHoldOtherOrder)
	}

	var customer models.Customer
	err = s.db.WithContext(ctx).Where("id = ? AND merchant_id = ?", hold.CustomerID, hold.MerchantID).Take(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, validationError(msgCustomerNotFound)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load customer")
	}
	settings, err := s.LoadSettings(ctx, hold.MerchantID)
	if err != nil {
		return nil, err
	}

	redeem, earn, err := s.commitLegs(ctx, &hold, &customer, settings, req.Overrides)
	if err != nil {
		return nil, err
	}

	deviceID := hold.DeviceID
	if req.DeviceID != nil {
		deviceID = req.DeviceID
	}
	now := s.now()
	at := now
	if req.OperationDate != nil && !req.OperationDate.IsZero() {
		at = req.OperationDate.UTC()
	}
	receipt := models.Receipt{
		MerchantID:    hold.MerchantID,
		CustomerID:    hold.CustomerID,
		OrderID:       orderID,
		Total:         hold.Total,
		EligibleTotal: hold.EligibleTotal,
		RedeemApplied: redeem,
		EarnApplied:   earn,
		OutletID:      hold.OutletID,
		StaffID:       hold.StaffID,
		DeviceID:      deviceID,
		CreatedAt:     at,
		UpdatedAt:     now,
	}
	if req.ReceiptNumber != "" {
		number := req.ReceiptNumber
		receipt.ReceiptNumber = &number
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&receipt).Error; err != nil {
			return asAlreadyExists(err, "create receipt")
		}
		claim := tx.Model(&models.Hold{}).
			Where("id = ? AND status = ?", hold.ID, models.HoldStatusPending).
			Updates(map[string]interface{}{
				"status":     models.HoldStatusCommitted,
				"order_id":   orderID,
				"receipt_id": receipt.ID,
				"updated_at": now,
			})
		if claim.Error != nil {
			return errors.Wrap(claim.Error, "claim hold")
		}
		if claim.RowsAffected == 0 {
			return errHoldClaimed
		}

		wallet, err := ensureWallet(ctx, tx, hold.MerchantID, hold.CustomerID)
		if err != nil {
			return err
		}
		base := models.Transaction{
			MerchantID: hold.MerchantID,
			CustomerID: hold.CustomerID,
			OrderID:    &orderID,
			ReceiptID:  &receipt.ID,
			OutletID:   hold.OutletID,
			StaffID:    hold.StaffID,
			DeviceID:   deviceID,
			CreatedAt:  at,
		}
		if redeem > 0 {
			if err := adjustBalance(ctx, tx, wallet.ID, -redeem); err != nil {
				return err
			}
			txn := base
			txn.Type, txn.Amount = models.TxnRedeem, -redeem
			if err := postMovement(ctx, tx, &txn); err != nil {
				return err
			}
		}
		if earn > 0 {
			if err := adjustBalance(ctx, tx, wallet.ID, earn); err != nil {
				return err
			}
			txn := base
			txn.Type, txn.Amount = models.TxnEarn, earn
			if err := postMovement(ctx, tx, &txn); err != nil {
				return err
			}
		}

		items := receiptItems(&receipt, hold.Items)
		if len(items) > 0 {
			if err := tx.Create(&items).Error; err != nil {
				return errors.Wrap(err, "create receipt items")
			}
		}
		if err := s.trackParticipants(ctx, tx, &receipt, items, hold.Items, now); err != nil {
			return err
		}
		if err := enqueueEvent(ctx, tx, hold.MerchantID, EventCommit, commitEvent{
			SchemaVersion: eventSchemaVersion,
			HoldID:        hold.ID,
			OrderID:       orderID,
			ReceiptID:     receipt.ID,
			CustomerID:    hold.CustomerID,
			RedeemApplied: redeem,
			EarnApplied:   earn,
			OutletID:      hold.OutletID,
			StaffID:       hold.StaffID,
			CreatedAt:     at.Format(time.RFC3339),
		}); err != nil {
			return err
		}
		return enqueueEvent(ctx, tx, hold.MerchantID, EventStaffNotify, staffOrderEvent{
			MerchantID:    hold.MerchantID,
			OrderID:       orderID,
			ReceiptID:     receipt.ID,
			CustomerID:    hold.CustomerID,
			OutletID:      hold.OutletID,
			StaffID:       hold.StaffID,
			Total:         hold.Total,
			RedeemApplied: redeem,
			EarnApplied:   earn,
		})
	})
	if errors.Is(err, ErrAlreadyExists) || errors.Is(err, errHoldClaimed) {
		existing, rerr := findReceipt(ctx, s.db, hold.MerchantID, orderID)
		if rerr != nil {
			return nil, rerr
		}
		if existing == nil {
			return nil, conflictError(msgHoldFinished)
		}
		log.Info().Str("hold_id", hold.ID.String()).Str("order_id", orderID).Msg("commit raced, returning existing receipt")
		s.metrics.ObserveCommit(true)
		return committedResult(existing), nil
	}
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveCommit(false)
	s.metrics.AddPoints("redeem", redeem)
	s.metrics.AddPoints("earn", earn)
	log.Info().
		Str("hold_id", hold.ID.String()).
		Str("receipt_id", receipt.ID.String()).
		Str("order_id", orderID).
		Int64("redeem", redeem).
		Int64("earn", earn).
		Msg("hold committed")

	s.afterCommit(ctx, &receipt, settings)
	return &CommitResult{
		OK:            true,
		ReceiptID:     receipt.ID,
		RedeemApplied: redeem,
		EarnApplied:   earn,
		CustomerID:    hold.CustomerID,
	}, nil
}

// commitLegs decides the redeem and earn amounts to apply. Single-leg holds
// fail on a blocked direction; mixed holds drop the blocked leg.
func (s *Service) commitLegs(ctx context.Context, hold *models.Hold, customer *models.Customer, settings Settings, o *CommitOverrides) (redeem, earn int64, err error) {
	redeem = nonNegative(hold.RedeemAmount)
	earn = nonNegative(hold.EarnPoints)
	if o != nil && o.RedeemAmount != nil {
		redeem = nonNegative(*o.RedeemAmount)
		if redeem > 0 && customer.RedemptionsBlocked {
			return 0, 0, policyError(msgRedemptionsBlocked)
		}
	}
	if o != nil && o.EarnAmount != nil {
		earn = nonNegative(*o.EarnAmount)
		if earn > 0 && customer.AccrualsBlocked {
			return 0, 0, policyError(msgAccrualsBlocked)
		}
	}

	mixed := redeem > 0 && earn > 0
	if customer.RedemptionsBlocked && redeem > 0 {
		if !mixed {
			return 0, 0, policyError(msgRedemptionsBlocked)
		}
		redeem = 0
	}
	if customer.AccrualsBlocked && earn > 0 {
		if !mixed {
			return 0, 0, policyError(msgAccrualsBlocked)
		}
		earn = 0
	}
	if hold.Mode == models.HoldModeEarn && redeem == 0 && earn == 0 && customer.AccrualsBlocked {
		return 0, 0, policyError(msgAccrualsBlocked)
	}

	plannedEarn := o != nil && o.EarnAmount != nil
	if hold.Mode == models.HoldModeRedeem && earn == 0 && !plannedEarn && !customer.AccrualsBlocked {
		extra, err := s.extraEarn(ctx, hold, settings, redeem)
		if err != nil {
			return 0, 0, err
		}
		earn = extra
	}
	return redeem, earn, nil
}

// extraEarn is the earn a REDEEM hold picks up on commit when the merchant
// allows earning on a receipt paid with points.
func (s *Service) extraEarn(ctx context.Context, hold *models.Hold, settings Settings, redeem int64) (int64, error) {
	rates, err := s.ResolveRates(ctx, hold.MerchantID, hold.CustomerID, settings)
	if err != nil {
		return 0, err
	}
	if !rates.AllowSameReceipt || rates.EarnBps <= 0 {
		return 0, nil
	}
	payable := nonNegative(hold.Total - redeem)
	if rates.TierMinPayment != nil && payable < *rates.TierMinPayment {
		return 0, nil
	}
	base := min(payable, hold.EligibleTotal)
	earn := int64(math.Floor(float64(base) * float64(rates.EarnBps) / 10000))
	if earn <= 0 {
		return 0, nil
	}
	left, capped, err := dailyLeft(ctx, s.db, hold.MerchantID, hold.CustomerID, models.TxnEarn, settings.EarnDailyCap, s.now())
	if err != nil {
		return 0, err
	}
	if capped {
		earn = min(earn, left)
	}
	return earn, nil
}

// receiptItems spreads the receipt's applied legs over the hold lines.
func receiptItems(receipt *models.Receipt, lines []models.HoldItem) []models.ReceiptItem {
	if len(lines) == 0 {
		return nil
	}
	amounts := make([]int64, len(lines))
	earnWeights := make([]int64, len(lines))
	var planned int64
	for i, l := range lines {
		amounts[i] = nonNegative(l.Amount)
		planned += nonNegative(l.EarnPoints)
	}
	for i, l := range lines {
		switch {
		case planned > 0:
			earnWeights[i] = nonNegative(l.EarnPoints)
		case l.AccruePoints:
			earnWeights[i] = amounts[i]
		}
	}
	redeemShares := AllocateProRata(amounts, receipt.RedeemApplied)
	earnShares := AllocateByWeight(earnWeights, receipt.EarnApplied)

	items := make([]models.ReceiptItem, len(lines))
	for i, l := range lines {
		items[i] = models.ReceiptItem{
			ReceiptID:           receipt.ID,
			MerchantID:          receipt.MerchantID,
			ProductID:           l.ProductID,
			CategoryID:          l.CategoryID,
			ExternalID:          l.ExternalID,
			Name:                l.Name,
			Qty:                 l.Qty,
			Price:               l.Price,
			Amount:              l.Amount,
			EarnApplied:         earnShares[i],
			RedeemApplied:       redeemShares[i],
			PromotionID:         l.PromotionID,
			PromotionMultiplier: l.PromotionMultiplier,
		}
	}
	return items
}

type participation struct {
	spent  int64
	points int64
}

// trackParticipants bumps the usage stats of every promotion applied on the
// receipt.
func (s *Service) trackParticipants(ctx context.Context, tx *gorm.DB, receipt *models.Receipt, items []models.ReceiptItem, lines []models.HoldItem, now time.Time) error {
	usage := make(map[uuid.UUID]*participation)
	var order []uuid.UUID
	touch := func(id uuid.UUID) *participation {
		p, ok := usage[id]
		if !ok {
			p = &participation{}
			usage[id] = p
			order = append(order, id)
		}
		return p
	}
	for i, l := range lines {
		seen := make(map[uuid.UUID]bool)
		ids := splitIDs(l.AppliedPromotionIDs)
		if l.PromotionID != nil {
			ids = append(ids, *l.PromotionID)
		}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			p := touch(id)
			p.spent += nonNegative(l.Amount)
			if l.PromotionID != nil && *l.PromotionID == id {
				p.points += items[i].EarnApplied
			}
		}
	}

	for _, id := range order {
		p := usage[id]
		row := models.PromotionParticipant{
			MerchantID:     receipt.MerchantID,
			PromotionID:    id,
			CustomerID:     receipt.CustomerID,
			PurchasesCount: 1,
			TotalSpent:     p.spent,
			PointsIssued:   p.points,
			LastPurchaseAt: &now,
			JoinedAt:       now,
			UpdatedAt:      now,
		}
		err := tx.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "promotion_id"}, {Name: "customer_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"purchases_count":  gorm.Expr("promotion_participants.purchases_count + 1"),
				"total_spent":      gorm.Expr("promotion_participants.total_spent + ?", p.spent),
				"points_issued":    gorm.Expr("promotion_participants.points_issued + ?", p.points),
				"last_purchase_at": now,
				"updated_at":       now,
			}),
		}).Create(&row).Error
		if err != nil {
			return errors.Wrap(err, "upsert promotion participant")
		}
	}
	return nil
}

// afterCommit runs the side effects of a commit. Failures are logged and
// never reach the caller.
func (s *Service) afterCommit(ctx context.Context, receipt *models.Receipt, settings Settings) {
	log := zerolog.Ctx(ctx)
	db := s.db.WithContext(ctx)
	now := s.now()

	if receipt.OutletID != nil {
		if err := db.Model(&models.Outlet{}).
			Where("id = ? AND merchant_id = ?", *receipt.OutletID, receipt.MerchantID).
			UpdateColumn("last_activity_at", now).Error; err != nil {
			log.Warn().Err(err).Msg("touch outlet failed")
		}
	}

	if receipt.StaffID != nil {
		var prior int64
		err := db.Model(&models.Receipt{}).
			Where("merchant_id = ? AND customer_id = ? AND canceled_at IS NULL AND id <> ?",
				receipt.MerchantID, receipt.CustomerID, receipt.ID).
			Count(&prior).Error
		if err != nil {
			log.Warn().Err(err).Msg("count prior receipts failed")
		} else {
			staffSettings := settings.StaffMotivation
			_, err = s.staff.RecordPurchase(ctx, db, staffmotivation.PurchaseParams{
				MerchantID:      receipt.MerchantID,
				StaffID:         receipt.StaffID,
				OutletID:        receipt.OutletID,
				CustomerID:      receipt.CustomerID,
				OrderID:         receipt.OrderID,
				ReceiptID:       &receipt.ID,
				EventAt:         receipt.CreatedAt,
				IsFirstPurchase: prior == 0,
				Settings:        &staffSettings,
			})
			if err != nil {
				log.Warn().Err(err).Str("order_id", receipt.OrderID).Msg("staff motivation award failed")
			}
		}
	}

	if _, err := s.ApplyReferralRewards(ctx, ReferralParams{
		MerchantID:     receipt.MerchantID,
		BuyerID:        receipt.CustomerID,
		ReceiptID:      receipt.ID,
		PurchaseAmount: receipt.EligibleTotal,
	}); err != nil {
		log.Warn().Err(err).Str("order_id", receipt.OrderID).Msg("referral rewards failed")
	}
	if err := s.RecomputeTier(ctx, receipt.MerchantID, receipt.CustomerID, settings); err != nil {
		log.Warn().Err(err).Msg("tier recompute failed")
	}
	if err := s.refreshCustomerStats(ctx, receipt.MerchantID, receipt.CustomerID); err != nil {
		log.Warn().Err(err).Msg("customer stats refresh failed")
	}
}

// refreshCustomerStats recomputes visits, spend and last purchase from the
// customer's live receipts.
func (s *Service) refreshCustomerStats(ctx context.Context, merchantID, customerID uuid.UUID) error {
	db := s.db.WithContext(ctx)
	live := db.Model(&models.Receipt{}).
		Where("merchant_id = ? AND customer_id = ? AND canceled_at IS NULL", merchantID, customerID).
		Session(&gorm.Session{})

	var stats struct {
		Visits int
		Spent  int64
	}
	if err := live.Select("COUNT(*) AS visits, COALESCE(SUM(total), 0) AS spent").
		Scan(&stats).Error; err != nil {
		return errors.Wrap(err, "aggregate receipts")
	}
	updates := map[string]interface{}{
		"visits":           stats.Visits,
		"total_spent":      stats.Spent,
		"last_purchase_at": nil,
		"updated_at":       s.now(),
	}
	var last models.Receipt
	err := live.Order("created_at DESC").Limit(1).Find(&last).Error
	if err != nil {
		return errors.Wrap(err, "load last receipt")
	}
	if last.ID != uuid.Nil {
		updates["last_purchase_at"] = last.CreatedAt
	}
	return errors.Wrap(db.Model(&models.Customer{}).
		Where("id = ? AND merchant_id = ?", customerID, merchantID).
		UpdateColumns(updates).Error, "update customer stats")
}
