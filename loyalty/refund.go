package loyalty

import (
	"context"
	"time"

	"loyalty-engine/models"
	"loyalty-engine/staffmotivation"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type RefundRequest struct {
	MerchantID uuid.UUID
	ReceiptID  *uuid.UUID
	OrderID    string
}

type RefundResult struct {
	ReceiptID       uuid.UUID `json:"receiptId"`
	OrderID         string    `json:"orderId"`
	CustomerID      uuid.UUID `json:"customerId"`
	PointsRestored  int64     `json:"pointsRestored"`
	PointsRevoked   int64     `json:"pointsRevoked"`
	AlreadyRefunded bool      `json:"alreadyRefunded"`
}

var errAlreadyRefunded = errors.New("receipt already refunded")

// Refund cancels a committed receipt in full: redeemed points go back to the
// customer and earned points are taken back. Repeated calls are no-ops.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	ctx, span := tracer.Start(ctx, "loyalty.Refund")
	defer span.End()

	if req.ReceiptID == nil && req.OrderID == "" {
		return nil, validationError("receiptId or orderId required")
	}
	q := s.db.WithContext(ctx).Where("merchant_id = ?", req.MerchantID)
	if req.ReceiptID != nil {
		q = q.Where("id = ?", *req.ReceiptID)
	} else {
		q = q.Where("order_id = ?", req.OrderID)
	}
	var receipt models.Receipt
	err := q.Take(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, validationError(msgReceiptNotFound)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load receipt")
	}
	res := &RefundResult{ReceiptID: receipt.ID, OrderID: receipt.OrderID, CustomerID: receipt.CustomerID}
	if receipt.CanceledAt != nil {
		res.AlreadyRefunded = true
		return res, nil
	}

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cancel := tx.Model(&models.Receipt{}).
			Where("id = ? AND canceled_at IS NULL", receipt.ID).
			Updates(map[string]interface{}{"canceled_at": now, "updated_at": now})
		if cancel.Error != nil {
			return errors.Wrap(cancel.Error, "cancel receipt")
		}
		if cancel.RowsAffected == 0 {
			return errAlreadyRefunded
		}

		wallet, err := ensureWallet(ctx, tx, receipt.MerchantID, receipt.CustomerID)
		if err != nil {
			return err
		}
		base := models.Transaction{
			MerchantID: receipt.MerchantID,
			CustomerID: receipt.CustomerID,
			Type:       models.TxnRefund,
			OrderID:    &receipt.OrderID,
			ReceiptID:  &receipt.ID,
			OutletID:   receipt.OutletID,
			StaffID:    receipt.StaffID,
			DeviceID:   receipt.DeviceID,
			CreatedAt:  now,
		}
		balance := wallet.Balance
		if receipt.RedeemApplied > 0 {
			if err := adjustBalance(ctx, tx, wallet.ID, receipt.RedeemApplied); err != nil {
				return err
			}
			txn := base
			txn.Amount = receipt.RedeemApplied
			if err := postMovement(ctx, tx, &txn); err != nil {
				return err
			}
			balance += receipt.RedeemApplied
			res.PointsRestored = receipt.RedeemApplied
		}
		// Earned points the customer already spent cannot be taken back.
		if revoke := min(receipt.EarnApplied, balance); revoke > 0 {
			if err := adjustBalance(ctx, tx, wallet.ID, -revoke); err != nil {
				return err
			}
			txn := base
			txn.Amount = -revoke
			if err := postMovement(ctx, tx, &txn); err != nil {
				return err
			}
			res.PointsRevoked = revoke
		}
		return enqueueEvent(ctx, tx, receipt.MerchantID, EventRefund, refundEvent{
			SchemaVersion:  eventSchemaVersion,
			OrderID:        receipt.OrderID,
			ReceiptID:      receipt.ID,
			CustomerID:     receipt.CustomerID,
			PointsRestored: res.PointsRestored,
			PointsRevoked:  res.PointsRevoked,
			CreatedAt:      now.Format(time.RFC3339),
		})
	})
	if errors.Is(err, errAlreadyRefunded) {
		res.AlreadyRefunded = true
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	s.metrics.AddPoints("refund", res.PointsRestored+res.PointsRevoked)
	zerolog.Ctx(ctx).Info().
		Str("receipt_id", receipt.ID.String()).
		Str("order_id", receipt.OrderID).
		Int64("restored", res.PointsRestored).
		Int64("revoked", res.PointsRevoked).
		Msg("receipt refunded")
	s.afterRefund(ctx, &receipt, now)
	return res, nil
}

func (s *Service) afterRefund(ctx context.Context, receipt *models.Receipt, now time.Time) {
	log := zerolog.Ctx(ctx)
	db := s.db.WithContext(ctx)

	if _, err := s.staff.RecordRefund(ctx, db, staffmotivation.RefundParams{
		MerchantID: receipt.MerchantID,
		OrderID:    receipt.OrderID,
		EventAt:    now,
		Share:      1,
	}); err != nil {
		log.Warn().Err(err).Str("order_id", receipt.OrderID).Msg("staff motivation clawback failed")
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := s.RollbackReferralRewards(ctx, tx, receipt)
		return err
	})
	if err != nil {
		log.Warn().Err(err).Str("order_id", receipt.OrderID).Msg("referral rollback failed")
	}
	settings, err := s.LoadSettings(ctx, receipt.MerchantID)
	if err != nil {
		log.Warn().Err(err).Msg("load settings failed")
		return
	}
	if err := s.RecomputeTier(ctx, receipt.MerchantID, receipt.CustomerID, settings); err != nil {
		log.Warn().Err(err).Msg("tier recompute failed")
	}
	if err := s.refreshCustomerStats(ctx, receipt.MerchantID, receipt.CustomerID); err != nil {
		log.Warn().Err(err).Msg("customer stats refresh failed")
	}
}

// Cancel releases a PENDING hold.
func (s *Service) Cancel(ctx context.Context, merchantID, holdID uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "loyalty.Cancel")
	defer span.End()

	db := s.db.WithContext(ctx)
	res := db.Model(&models.Hold{}).
		Where("id = ? AND merchant_id = ? AND status = ?", holdID, merchantID, models.HoldStatusPending).
		Updates(map[string]interface{}{"status": models.HoldStatusCanceled, "updated_at": s.now()})
	if res.Error != nil {
		return errors.Wrap(res.Error, "cancel hold")
	}
	if res.RowsAffected > 0 {
		zerolog.Ctx(ctx).Info().Str("hold_id", holdID.String()).Msg("hold canceled")
		return nil
	}
	var n int64
	if err := db.Model(&models.Hold{}).Where("id = ? AND merchant_id = ?", holdID, merchantID).Count(&n).Error; err != nil {
		return errors.Wrap(err, "load hold")
	}
	if n == 0 {
		return notFoundError(msgHoldNotFound)
	}
	return conflictError(msgHoldFinished)
}
