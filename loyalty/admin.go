package loyalty

import (
	"context"

	"loyalty-engine/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BlockUpdate changes a customer's accrual/redemption flags. Nil fields are
// left as they are.
type BlockUpdate struct {
	MerchantID         uuid.UUID
	CustomerID         uuid.UUID
	AccrualsBlocked    *bool
	RedemptionsBlocked *bool
}

func (s *Service) SetCustomerBlocks(ctx context.Context, u BlockUpdate) (*models.Customer, error) {
	ctx, span := tracer.Start(ctx, "loyalty.SetCustomerBlocks")
	defer span.End()

	db := s.db.WithContext(ctx)
	var customer models.Customer
	err := db.Where("id = ? AND merchant_id = ?", u.CustomerID, u.MerchantID).Take(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError(msgCustomerNotFound)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load customer")
	}

	updates := map[string]interface{}{}
	if u.AccrualsBlocked != nil {
		updates["accruals_blocked"] = *u.AccrualsBlocked
		customer.AccrualsBlocked = *u.AccrualsBlocked
	}
	if u.RedemptionsBlocked != nil {
		updates["redemptions_blocked"] = *u.RedemptionsBlocked
		customer.RedemptionsBlocked = *u.RedemptionsBlocked
	}
	if len(updates) == 0 {
		return &customer, nil
	}
	updates["updated_at"] = s.now()
	if err := db.Model(&models.Customer{}).Where("id = ?", customer.ID).Updates(updates).Error; err != nil {
		return nil, errors.Wrap(err, "update customer blocks")
	}
	zerolog.Ctx(ctx).Info().
		Str("customer_id", customer.ID.String()).
		Bool("accruals_blocked", customer.AccrualsBlocked).
		Bool("redemptions_blocked", customer.RedemptionsBlocked).
		Msg("customer blocks updated")
	return &customer, nil
}

// SaveSettings upserts the merchant's settings row and drops the cached
// snapshot so the next operation reads the new values.
func (s *Service) SaveSettings(ctx context.Context, row models.MerchantSettings) (Settings, error) {
	ctx, span := tracer.Start(ctx, "loyalty.SaveSettings")
	defer span.End()

	if row.EarnBps < 0 || row.EarnBps > 10000 || row.RedeemLimitBps < 0 || row.RedeemLimitBps > 10000 {
		return Settings{}, validationError("bps values must be between 0 and 10000")
	}
	if row.EarnCooldownSec < 0 || row.RedeemCooldownSec < 0 {
		return Settings{}, validationError("cooldowns must not be negative")
	}

	db := s.db.WithContext(ctx)
	var n int64
	if err := db.Model(&models.Merchant{}).Where("id = ?", row.MerchantID).Count(&n).Error; err != nil {
		return Settings{}, errors.Wrap(err, "load merchant")
	}
	if n == 0 {
		return Settings{}, notFoundError("Merchant not found")
	}

	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "merchant_id"}},
		UpdateAll: true,
	}).Create(&row).Error; err != nil {
		return Settings{}, errors.Wrap(err, "save merchant settings")
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, row.MerchantID)
	}
	return s.LoadSettings(ctx, row.MerchantID)
}
